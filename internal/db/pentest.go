package db

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rsclarke/gatehouse/internal/models"
)

const (
	TargetListLimit        = 100
	ScanListLimit          = 200
	VulnerabilityListLimit = 200
)

// ScanStatusCompleted stamps completed_at when a scan moves into it.
const ScanStatusCompleted = "completed"

func scanTarget(row rowScanner) (*models.Target, error) {
	var t models.Target
	var createdAt int64
	if err := row.Scan(&t.ID, &t.Host, &t.Description, &t.Ports, &t.Status, &createdAt); err != nil {
		return nil, err
	}
	t.CreatedAt = fromMillis(createdAt)
	return &t, nil
}

func CreateTarget(db *sql.DB, t *models.Target) error {
	_, err := db.Exec("INSERT INTO targets (id, host, description, ports, status, created_at) VALUES (?, ?, ?, ?, ?, ?)",
		t.ID, t.Host, t.Description, t.Ports, t.Status, toMillis(t.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert target: %w", err)
	}
	return nil
}

func GetTarget(db *sql.DB, id string) (*models.Target, error) {
	t, err := scanTarget(db.QueryRow("SELECT id, host, description, ports, status, created_at FROM targets WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get target: %w", err)
	}
	return t, nil
}

func ListTargets(db *sql.DB, limit int) ([]models.Target, error) {
	rows, err := db.Query(`SELECT id, host, description, ports, status, created_at
		FROM targets ORDER BY created_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list targets: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []models.Target
	for rows.Next() {
		t, err := scanTarget(rows)
		if err != nil {
			return nil, fmt.Errorf("scan target: %w", err)
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

// UpdateTarget replaces the mutable fields of a target.
func UpdateTarget(db *sql.DB, t *models.Target) (bool, error) {
	res, err := db.Exec("UPDATE targets SET host = ?, description = ?, ports = ?, status = ? WHERE id = ?",
		t.Host, t.Description, t.Ports, t.Status, t.ID)
	if err != nil {
		return false, fmt.Errorf("update target: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n > 0, nil
}

// DeleteTarget removes a target; its scans and vulnerabilities cascade.
func DeleteTarget(db *sql.DB, id string) (bool, error) {
	return deleteByID(db, "targets", id)
}

func scanScan(row rowScanner) (*models.Scan, error) {
	var s models.Scan
	var startedAt int64
	var completedAt sql.NullInt64
	if err := row.Scan(&s.ID, &s.TargetID, &s.ScanType, &s.Status, &s.Results, &s.Notes, &startedAt, &completedAt); err != nil {
		return nil, err
	}
	s.StartedAt = fromMillis(startedAt)
	if completedAt.Valid {
		t := fromMillis(completedAt.Int64)
		s.CompletedAt = &t
	}
	return &s, nil
}

const scanColumns = "id, target_id, scan_type, status, results, notes, started_at, completed_at"

func CreateScan(db *sql.DB, s *models.Scan) error {
	var completedAt any
	if s.CompletedAt != nil {
		completedAt = toMillis(*s.CompletedAt)
	}
	_, err := db.Exec("INSERT INTO scans ("+scanColumns+") VALUES (?, ?, ?, ?, ?, ?, ?, ?)",
		s.ID, s.TargetID, s.ScanType, s.Status, s.Results, s.Notes, toMillis(s.StartedAt), completedAt)
	if err != nil {
		return fmt.Errorf("insert scan: %w", err)
	}
	return nil
}

func GetScan(db *sql.DB, id string) (*models.Scan, error) {
	s, err := scanScan(db.QueryRow("SELECT "+scanColumns+" FROM scans WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get scan: %w", err)
	}
	return s, nil
}

// ListScans returns scans newest first, optionally restricted to one target.
func ListScans(db *sql.DB, targetID string, limit int) ([]models.Scan, error) {
	query := "SELECT " + scanColumns + " FROM scans"
	args := []any{}
	if targetID != "" {
		query += " WHERE target_id = ?"
		args = append(args, targetID)
	}
	query += " ORDER BY started_at DESC, rowid DESC LIMIT ?"
	args = append(args, limit)

	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list scans: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []models.Scan
	for rows.Next() {
		s, err := scanScan(rows)
		if err != nil {
			return nil, fmt.Errorf("scan scan row: %w", err)
		}
		out = append(out, *s)
	}
	return out, rows.Err()
}

// ScanUpdate holds the scan fields to change; nil fields are left as they are.
type ScanUpdate struct {
	ScanType *string
	Status   *string
	Results  *string
	Notes    *string
}

// UpdateScan applies u. Moving a scan to completed stamps completed_at with at.
func UpdateScan(db *sql.DB, id string, u ScanUpdate, at time.Time) (*models.Scan, error) {
	s, err := GetScan(db, id)
	if err != nil || s == nil {
		return nil, err
	}

	if u.ScanType != nil {
		s.ScanType = *u.ScanType
	}
	if u.Results != nil {
		s.Results = *u.Results
	}
	if u.Notes != nil {
		s.Notes = *u.Notes
	}
	if u.Status != nil {
		s.Status = *u.Status
		if s.Status == ScanStatusCompleted {
			t := at.UTC()
			s.CompletedAt = &t
		}
	}

	var completedAt any
	if s.CompletedAt != nil {
		completedAt = toMillis(*s.CompletedAt)
	}
	_, err = db.Exec("UPDATE scans SET scan_type = ?, status = ?, results = ?, notes = ?, completed_at = ? WHERE id = ?",
		s.ScanType, s.Status, s.Results, s.Notes, completedAt, s.ID)
	if err != nil {
		return nil, fmt.Errorf("update scan: %w", err)
	}
	return s, nil
}

func DeleteScan(db *sql.DB, id string) (bool, error) {
	return deleteByID(db, "scans", id)
}

const vulnColumns = "id, target_id, title, severity, description, cvss, status, created_at"

func scanVulnerability(row rowScanner) (*models.Vulnerability, error) {
	var v models.Vulnerability
	var createdAt int64
	if err := row.Scan(&v.ID, &v.TargetID, &v.Title, &v.Severity, &v.Description, &v.CVSS, &v.Status, &createdAt); err != nil {
		return nil, err
	}
	v.CreatedAt = fromMillis(createdAt)
	return &v, nil
}

func CreateVulnerability(db *sql.DB, v *models.Vulnerability) error {
	_, err := db.Exec("INSERT INTO vulnerabilities ("+vulnColumns+") VALUES (?, ?, ?, ?, ?, ?, ?, ?)",
		v.ID, v.TargetID, v.Title, v.Severity, v.Description, v.CVSS, v.Status, toMillis(v.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert vulnerability: %w", err)
	}
	return nil
}

func GetVulnerability(db *sql.DB, id string) (*models.Vulnerability, error) {
	v, err := scanVulnerability(db.QueryRow("SELECT "+vulnColumns+" FROM vulnerabilities WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get vulnerability: %w", err)
	}
	return v, nil
}

// ListVulnerabilities returns findings newest first, optionally for one target.
func ListVulnerabilities(db *sql.DB, targetID string, limit int) ([]models.Vulnerability, error) {
	query := "SELECT " + vulnColumns + " FROM vulnerabilities"
	args := []any{}
	if targetID != "" {
		query += " WHERE target_id = ?"
		args = append(args, targetID)
	}
	query += " ORDER BY created_at DESC, rowid DESC LIMIT ?"
	args = append(args, limit)

	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list vulnerabilities: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []models.Vulnerability
	for rows.Next() {
		v, err := scanVulnerability(rows)
		if err != nil {
			return nil, fmt.Errorf("scan vulnerability: %w", err)
		}
		out = append(out, *v)
	}
	return out, rows.Err()
}

func UpdateVulnerability(db *sql.DB, v *models.Vulnerability) (bool, error) {
	res, err := db.Exec(`UPDATE vulnerabilities SET target_id = ?, title = ?, severity = ?, description = ?,
		cvss = ?, status = ? WHERE id = ?`,
		v.TargetID, v.Title, v.Severity, v.Description, v.CVSS, v.Status, v.ID)
	if err != nil {
		return false, fmt.Errorf("update vulnerability: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n > 0, nil
}

func DeleteVulnerability(db *sql.DB, id string) (bool, error) {
	return deleteByID(db, "vulnerabilities", id)
}

// deleteByID is only called with fixed table names.
func deleteByID(db *sql.DB, table, id string) (bool, error) {
	res, err := db.Exec("DELETE FROM "+table+" WHERE id = ?", id)
	if err != nil {
		return false, fmt.Errorf("delete from %s: %w", table, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n > 0, nil
}
