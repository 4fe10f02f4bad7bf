package db

import (
	"database/sql"
	"fmt"

	"github.com/rsclarke/gatehouse/internal/models"
)

// AlertListLimit caps alert listings.
const AlertListLimit = 200

func CreateAlert(db *sql.DB, a *models.Alert) error {
	_, err := db.Exec("INSERT INTO alerts (id, type, message, severity, read, created_at) VALUES (?, ?, ?, ?, ?, ?)",
		a.ID, a.Type, a.Message, string(a.Severity), boolInt(a.Read), toMillis(a.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert alert: %w", err)
	}
	return nil
}

// ListAlerts returns alerts newest first.
func ListAlerts(db *sql.DB, limit int) ([]models.Alert, error) {
	rows, err := db.Query(`SELECT id, type, message, severity, read, created_at
		FROM alerts ORDER BY created_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list alerts: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []models.Alert
	for rows.Next() {
		var a models.Alert
		var severity string
		var read int
		var createdAt int64
		if err := rows.Scan(&a.ID, &a.Type, &a.Message, &severity, &read, &createdAt); err != nil {
			return nil, fmt.Errorf("scan alert: %w", err)
		}
		a.Severity = models.Severity(severity)
		a.Read = read != 0
		a.CreatedAt = fromMillis(createdAt)
		out = append(out, a)
	}
	return out, rows.Err()
}

// MarkAlertRead flags one alert as read and reports whether it existed.
func MarkAlertRead(db *sql.DB, id string) (bool, error) {
	res, err := db.Exec("UPDATE alerts SET read = 1 WHERE id = ?", id)
	if err != nil {
		return false, fmt.Errorf("mark alert read: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n > 0, nil
}

func MarkAllAlertsRead(db *sql.DB) (int64, error) {
	res, err := db.Exec("UPDATE alerts SET read = 1 WHERE read = 0")
	if err != nil {
		return 0, fmt.Errorf("mark all alerts read: %w", err)
	}
	return res.RowsAffected()
}

func DeleteAlert(db *sql.DB, id string) (bool, error) {
	res, err := db.Exec("DELETE FROM alerts WHERE id = ?", id)
	if err != nil {
		return false, fmt.Errorf("delete alert: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n > 0, nil
}
