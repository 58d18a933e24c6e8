package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/lib/pq"
	"github.com/uptrace/bun"

	"ms-pickup/internal/lifecycle"
	"ms-pickup/internal/models"
)

// DB is the relational side of the data store: tickets, users and
// per-restaurant settings over bun. Postgres in production, in-memory
// SQLite in tests; driver-specific failures are normalized to the
// lifecycle error taxonomy here so nothing above this layer sees them.
type DB struct {
	Bun *bun.DB
}

func (d *DB) CreateTicket(ctx context.Context, ticket models.Ticket) error {
	_, err := d.Bun.NewInsert().Model(&ticket).Exec(ctx)
	if err != nil {
		return mapWriteError(err)
	}
	return nil
}

func (d *DB) GetTicketByID(ctx context.Context, id string) (*models.Ticket, error) {
	var ticket models.Ticket
	err := d.Bun.NewSelect().
		Model(&ticket).
		Where("id = ?", id).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, lifecycle.ErrNotFound
		}
		return nil, err
	}
	return &ticket, nil
}

func (d *DB) UpdateTicket(ctx context.Context, ticket models.Ticket) error {
	res, err := d.Bun.NewUpdate().
		Model(&ticket).
		Column("status", "acknowledged_at", "acknowledged_by",
			"soft_deleted", "deleted_at", "deleted_by").
		Where("id = ?", ticket.ID).
		Exec(ctx)
	if err != nil {
		return mapWriteError(err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return lifecycle.ErrNotFound
	}
	return nil
}

// ListTickets returns every ticket in scope ordered by creation time,
// newest first. Empty restaurantID means all restaurants (admin view).
// Visibility windowing is applied by the caller, never here.
func (d *DB) ListTickets(ctx context.Context, restaurantID string) ([]models.Ticket, error) {
	tickets := make([]models.Ticket, 0)
	q := d.Bun.NewSelect().Model(&tickets).Order("created_at DESC")
	if restaurantID != "" {
		q = q.Where("restaurant_id = ?", restaurantID)
	}
	if err := q.Scan(ctx); err != nil {
		return nil, err
	}
	return tickets, nil
}

// ListHistory returns soft-deleted tickets unconditionally, most recently
// deleted first. This is the non-windowed view.
func (d *DB) ListHistory(ctx context.Context, restaurantID string) ([]models.Ticket, error) {
	tickets := make([]models.Ticket, 0)
	q := d.Bun.NewSelect().
		Model(&tickets).
		Where("soft_deleted = ?", true).
		Order("deleted_at DESC")
	if restaurantID != "" {
		q = q.Where("restaurant_id = ?", restaurantID)
	}
	if err := q.Scan(ctx); err != nil {
		return nil, err
	}
	return tickets, nil
}

func (d *DB) GetSettings(ctx context.Context, restaurantID string) (*models.RestaurantSettings, error) {
	var settings models.RestaurantSettings
	err := d.Bun.NewSelect().
		Model(&settings).
		Where("restaurant_id = ?", restaurantID).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &settings, nil
}

func (d *DB) UpsertSettings(ctx context.Context, settings models.RestaurantSettings) error {
	_, err := d.Bun.NewInsert().
		Model(&settings).
		On("CONFLICT (restaurant_id) DO UPDATE").
		Set("pending_limit_enabled = EXCLUDED.pending_limit_enabled").
		Set("pending_limit = EXCLUDED.pending_limit").
		Exec(ctx)
	return err
}

func (d *DB) GetUserByID(ctx context.Context, id string) (*models.User, error) {
	var user models.User
	err := d.Bun.NewSelect().
		Model(&user).
		Where("id = ?", id).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, lifecycle.ErrNotFound
		}
		return nil, err
	}
	return &user, nil
}

func (d *DB) ListUsers(ctx context.Context) ([]models.User, error) {
	users := make([]models.User, 0)
	err := d.Bun.NewSelect().
		Model(&users).
		Order("created_at DESC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return users, nil
}

// UpdateUser writes the admin-managed fields: role, approval status and
// restaurant assignment.
func (d *DB) UpdateUser(ctx context.Context, user models.User) error {
	res, err := d.Bun.NewUpdate().
		Model(&user).
		Column("role", "status", "restaurant_id").
		Where("id = ?", user.ID).
		Exec(ctx)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return lifecycle.ErrNotFound
	}
	return nil
}

// mapWriteError folds driver-specific failures into the typed taxonomy:
// unique violations become duplicate-code conflicts, connection exhaustion
// becomes a rate-limit signal.
func mapWriteError(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "23505":
			return fmt.Errorf("%w: %s", lifecycle.ErrDuplicateCode, pqErr.Constraint)
		case "53300", "57014":
			return fmt.Errorf("%w: %s", lifecycle.ErrRateLimited, pqErr.Code)
		}
		return err
	}
	// SQLite (tests) reports uniqueness as a plain error string.
	if strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return fmt.Errorf("%w: %v", lifecycle.ErrDuplicateCode, err)
	}
	return err
}
