package db

import (
	"database/sql"
	_ "embed"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/rsclarke/gatehouse/internal/models"
)

// DefaultPageName names the page seeded into an empty database.
const DefaultPageName = "Default Visitor Page"

//go:embed default_page.html
var defaultPageHTML string

// SeedDefaultPage inserts the built-in page as default when no pages exist.
// It reports whether a page was created.
func SeedDefaultPage(db *sql.DB, now time.Time) (bool, error) {
	n, err := CountPages(db)
	if err != nil {
		return false, err
	}
	if n > 0 {
		return false, nil
	}

	p := &models.Page{
		ID:        uuid.NewString(),
		Name:      DefaultPageName,
		Content:   defaultPageHTML,
		IsDefault: true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := CreatePage(db, p); err != nil {
		return false, fmt.Errorf("seed default page: %w", err)
	}
	return true, nil
}
