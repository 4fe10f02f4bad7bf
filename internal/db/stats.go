package db

import (
	"database/sql"
	"fmt"

	"github.com/rsclarke/gatehouse/internal/models"
)

// GetStats counts records for the dashboard. Online visitors are not stored
// and are left to the caller.
func GetStats(db *sql.DB) (*models.Stats, error) {
	var s models.Stats
	err := db.QueryRow(`SELECT
		(SELECT COUNT(*) FROM visitors),
		(SELECT COUNT(*) FROM visitors WHERE status = 'pending'),
		(SELECT COUNT(*) FROM visitors WHERE status = 'approved'),
		(SELECT COUNT(*) FROM visitors WHERE status = 'blocked'),
		(SELECT COUNT(*) FROM visitors WHERE is_bot = 1),
		(SELECT COUNT(*) FROM targets),
		(SELECT COUNT(*) FROM targets WHERE status = 'active'),
		(SELECT COUNT(*) FROM scans),
		(SELECT COUNT(*) FROM vulnerabilities),
		(SELECT COUNT(*) FROM vulnerabilities WHERE severity = 'critical'),
		(SELECT COUNT(*) FROM alerts WHERE read = 0)`).Scan(
		&s.Visitors, &s.Pending, &s.Approved, &s.Blocked, &s.Bots,
		&s.Targets, &s.ActiveTargets, &s.Scans, &s.Vulnerabilities, &s.Critical,
		&s.UnreadAlerts)
	if err != nil {
		return nil, fmt.Errorf("get stats: %w", err)
	}
	return &s, nil
}
