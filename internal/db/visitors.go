package db

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rsclarke/gatehouse/internal/models"
)

const visitorColumns = `id, session_id, ip, country, city, lat, lng, isp, user_agent, screen,
	timezone, languages, status, page_id, is_bot, bot_score, created_at, last_seen`

func scanVisitor(row rowScanner) (*models.Visitor, error) {
	var v models.Visitor
	var status string
	var pageID sql.NullString
	var isBot int
	var createdAt, lastSeen int64

	err := row.Scan(&v.ID, &v.SessionID, &v.IP, &v.Country, &v.City, &v.Lat, &v.Lng, &v.ISP,
		&v.UserAgent, &v.Screen, &v.Timezone, &v.Languages, &status, &pageID, &isBot,
		&v.BotScore, &createdAt, &lastSeen)
	if err != nil {
		return nil, err
	}

	v.Status = models.Status(status)
	if pageID.Valid {
		id := pageID.String
		v.PageID = &id
	}
	v.IsBot = isBot != 0
	v.CreatedAt = fromMillis(createdAt)
	v.LastSeen = fromMillis(lastSeen)
	return &v, nil
}

func getVisitor(db *sql.DB, where string, arg any) (*models.Visitor, error) {
	row := db.QueryRow("SELECT "+visitorColumns+" FROM visitors WHERE "+where+" = ?", arg)
	v, err := scanVisitor(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get visitor: %w", err)
	}
	return v, nil
}

// GetVisitorByID returns the visitor with the given record id, or nil.
func GetVisitorByID(db *sql.DB, id string) (*models.Visitor, error) {
	return getVisitor(db, "id", id)
}

// GetVisitorBySession returns the visitor registered under sessionID, or nil.
func GetVisitorBySession(db *sql.DB, sessionID string) (*models.Visitor, error) {
	return getVisitor(db, "session_id", sessionID)
}

// CreateVisitor inserts v unless its session id is already registered. It
// reports whether a row was inserted.
func CreateVisitor(db *sql.DB, v *models.Visitor) (bool, error) {
	var pageID any
	if v.PageID != nil {
		pageID = *v.PageID
	}
	res, err := db.Exec(`INSERT INTO visitors (`+visitorColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_id) DO NOTHING`,
		v.ID, v.SessionID, v.IP, v.Country, v.City, v.Lat, v.Lng, v.ISP, v.UserAgent, v.Screen,
		v.Timezone, v.Languages, string(v.Status), pageID, boolInt(v.IsBot), v.BotScore,
		toMillis(v.CreatedAt), toMillis(v.LastSeen))
	if err != nil {
		return false, fmt.Errorf("insert visitor: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert visitor: %w", err)
	}
	return n > 0, nil
}

// TouchVisitor updates last_seen for the visitor with the given record id.
func TouchVisitor(db *sql.DB, id string, at time.Time) error {
	if _, err := db.Exec("UPDATE visitors SET last_seen = ? WHERE id = ?", toMillis(at), id); err != nil {
		return fmt.Errorf("touch visitor: %w", err)
	}
	return nil
}

// UpdateVisitorStatus sets status, page assignment and last_seen in one statement.
// A nil pageID leaves the current assignment untouched.
func UpdateVisitorStatus(db *sql.DB, id string, status models.Status, pageID *string, at time.Time) (bool, error) {
	var res sql.Result
	var err error
	if pageID != nil {
		res, err = db.Exec("UPDATE visitors SET status = ?, page_id = ?, last_seen = ? WHERE id = ?",
			string(status), *pageID, toMillis(at), id)
	} else {
		res, err = db.Exec("UPDATE visitors SET status = ?, last_seen = ? WHERE id = ?",
			string(status), toMillis(at), id)
	}
	if err != nil {
		return false, fmt.Errorf("update visitor status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n > 0, nil
}

func DeleteVisitor(db *sql.DB, id string) (bool, error) {
	res, err := db.Exec("DELETE FROM visitors WHERE id = ?", id)
	if err != nil {
		return false, fmt.Errorf("delete visitor: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n > 0, nil
}

// ListVisitors returns visitors newest first.
func ListVisitors(db *sql.DB, limit int) ([]models.Visitor, error) {
	rows, err := db.Query("SELECT "+visitorColumns+" FROM visitors ORDER BY created_at DESC, rowid DESC LIMIT ?", limit)
	if err != nil {
		return nil, fmt.Errorf("list visitors: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []models.Visitor
	for rows.Next() {
		v, err := scanVisitor(rows)
		if err != nil {
			return nil, fmt.Errorf("scan visitor: %w", err)
		}
		out = append(out, *v)
	}
	return out, rows.Err()
}
