package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"railbook/backend/services/booking-service/internal/models"
)

// DBTX is the subset of pgxpool.Pool the journal uses.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// BookingJournal stores booking outcomes in postgres.
type BookingJournal struct {
	db DBTX
}

// NewBookingJournal returns repository.
func NewBookingJournal(db DBTX) *BookingJournal {
	return &BookingJournal{db: db}
}

// EnsureSchema creates the journal table if missing.
func (r *BookingJournal) EnsureSchema(ctx context.Context) error {
	const query = `
		CREATE TABLE IF NOT EXISTS booking_journal (
			id              BIGSERIAL PRIMARY KEY,
			session_id      TEXT        NOT NULL,
			train_code      TEXT        NOT NULL,
			train_date      TEXT        NOT NULL,
			from_station    TEXT        NOT NULL,
			to_station      TEXT        NOT NULL,
			seat_type       TEXT        NOT NULL,
			passenger_count INTEGER     NOT NULL,
			attempts        INTEGER     NOT NULL,
			outcome         TEXT        NOT NULL,
			reason          TEXT        NOT NULL DEFAULT '',
			created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS booking_journal_session_idx ON booking_journal (session_id, created_at DESC);
	`
	_, err := r.db.Exec(ctx, query)
	return err
}

// RecordBooking inserts rec and fills its id.
func (r *BookingJournal) RecordBooking(ctx context.Context, rec models.BookingRecord) error {
	if rec.SessionID == "" || rec.TrainCode == "" {
		return errors.New("repository: booking record needs session and train")
	}
	const query = `
		INSERT INTO booking_journal (session_id, train_code, train_date, from_station, to_station, seat_type, passenger_count, attempts, outcome, reason, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id
	`
	return r.db.QueryRow(ctx, query,
		rec.SessionID,
		rec.TrainCode,
		rec.TrainDate,
		rec.FromStation,
		rec.ToStation,
		rec.SeatType,
		rec.PassengerCount,
		rec.Attempts,
		rec.Outcome,
		rec.Reason,
		rec.CreatedAt,
	).Scan(&rec.ID)
}

// RecentBookings returns the last N records for a session, newest first.
func (r *BookingJournal) RecentBookings(ctx context.Context, sessionID string, limit int) ([]models.BookingRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	const query = `
		SELECT id, session_id, train_code, train_date, from_station, to_station, seat_type, passenger_count, attempts, outcome, reason, created_at
		FROM booking_journal
		WHERE session_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`
	rows, err := r.db.Query(ctx, query, sessionID, limit)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowToStructByName[models.BookingRecord])
}
