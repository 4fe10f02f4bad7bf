package db

import (
	"context"
	"database/sql"
	"time"

	"github.com/rsclarke/gatehouse/internal/models"
)

// Store exposes the visitor, page and alert functions with the context-aware
// method set the decision pipeline consumes.
type Store struct {
	DB *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{DB: db}
}

func (s *Store) VisitorByID(ctx context.Context, id string) (*models.Visitor, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return GetVisitorByID(s.DB, id)
}

func (s *Store) VisitorBySession(ctx context.Context, sessionID string) (*models.Visitor, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return GetVisitorBySession(s.DB, sessionID)
}

func (s *Store) CreateVisitor(ctx context.Context, v *models.Visitor) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	return CreateVisitor(s.DB, v)
}

func (s *Store) TouchVisitor(ctx context.Context, id string, at time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return TouchVisitor(s.DB, id, at)
}

func (s *Store) SetVisitorStatus(ctx context.Context, id string, status models.Status, pageID *string, at time.Time) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	return UpdateVisitorStatus(s.DB, id, status, pageID, at)
}

func (s *Store) DeleteVisitor(ctx context.Context, id string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	return DeleteVisitor(s.DB, id)
}

func (s *Store) ListVisitors(ctx context.Context, limit int) ([]models.Visitor, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return ListVisitors(s.DB, limit)
}

func (s *Store) Page(ctx context.Context, id string) (*models.Page, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return GetPage(s.DB, id)
}

func (s *Store) DefaultPage(ctx context.Context) (*models.Page, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return GetDefaultPage(s.DB)
}

func (s *Store) CreateAlert(ctx context.Context, a *models.Alert) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return CreateAlert(s.DB, a)
}
