package db

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rsclarke/gatehouse/internal/models"
)

const pageColumns = "id, name, content, is_default, created_at, updated_at"

// PageListLimit caps page listings.
const PageListLimit = 100

func scanPage(row rowScanner) (*models.Page, error) {
	var p models.Page
	var isDefault int
	var createdAt, updatedAt int64
	if err := row.Scan(&p.ID, &p.Name, &p.Content, &isDefault, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	p.IsDefault = isDefault != 0
	p.CreatedAt = fromMillis(createdAt)
	p.UpdatedAt = fromMillis(updatedAt)
	return &p, nil
}

func GetPage(db *sql.DB, id string) (*models.Page, error) {
	p, err := scanPage(db.QueryRow("SELECT "+pageColumns+" FROM pages WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get page: %w", err)
	}
	return p, nil
}

// GetDefaultPage returns the page flagged as default, or nil when none is.
func GetDefaultPage(db *sql.DB) (*models.Page, error) {
	p, err := scanPage(db.QueryRow("SELECT " + pageColumns + " FROM pages WHERE is_default = 1 LIMIT 1"))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get default page: %w", err)
	}
	return p, nil
}

// CreatePage inserts p. When p is the default, any other default is cleared
// in the same transaction.
func CreatePage(db *sql.DB, p *models.Page) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if p.IsDefault {
		if err := clearDefault(tx); err != nil {
			return err
		}
	}

	_, err = tx.Exec("INSERT INTO pages ("+pageColumns+") VALUES (?, ?, ?, ?, ?, ?)",
		p.ID, p.Name, p.Content, boolInt(p.IsDefault), toMillis(p.CreatedAt), toMillis(p.UpdatedAt))
	if err != nil {
		return fmt.Errorf("insert page: %w", err)
	}

	return tx.Commit()
}

// PageUpdate holds the fields to change; nil fields are left as they are.
type PageUpdate struct {
	Name      *string
	Content   *string
	IsDefault *bool
}

// UpdatePage applies u to the page with the given id and returns the result,
// or nil if no such page exists.
func UpdatePage(db *sql.DB, id string, u PageUpdate, at time.Time) (*models.Page, error) {
	tx, err := db.Begin()
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	p, err := scanPage(tx.QueryRow("SELECT "+pageColumns+" FROM pages WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get page: %w", err)
	}

	if u.Name != nil {
		p.Name = *u.Name
	}
	if u.Content != nil {
		p.Content = *u.Content
	}
	if u.IsDefault != nil {
		if *u.IsDefault && !p.IsDefault {
			if err := clearDefault(tx); err != nil {
				return nil, err
			}
		}
		p.IsDefault = *u.IsDefault
	}
	p.UpdatedAt = at

	_, err = tx.Exec("UPDATE pages SET name = ?, content = ?, is_default = ?, updated_at = ? WHERE id = ?",
		p.Name, p.Content, boolInt(p.IsDefault), toMillis(p.UpdatedAt), p.ID)
	if err != nil {
		return nil, fmt.Errorf("update page: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return p, nil
}

func clearDefault(tx *sql.Tx) error {
	if _, err := tx.Exec("UPDATE pages SET is_default = 0 WHERE is_default = 1"); err != nil {
		return fmt.Errorf("clear default page: %w", err)
	}
	return nil
}

// ListPages returns pages newest first.
func ListPages(db *sql.DB, limit int) ([]models.Page, error) {
	rows, err := db.Query("SELECT "+pageColumns+" FROM pages ORDER BY created_at DESC, rowid DESC LIMIT ?", limit)
	if err != nil {
		return nil, fmt.Errorf("list pages: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []models.Page
	for rows.Next() {
		p, err := scanPage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan page: %w", err)
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

func DeletePage(db *sql.DB, id string) (bool, error) {
	res, err := db.Exec("DELETE FROM pages WHERE id = ?", id)
	if err != nil {
		return false, fmt.Errorf("delete page: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n > 0, nil
}

func CountPages(db *sql.DB) (int, error) {
	var n int
	if err := db.QueryRow("SELECT COUNT(*) FROM pages").Scan(&n); err != nil {
		return 0, fmt.Errorf("count pages: %w", err)
	}
	return n, nil
}
