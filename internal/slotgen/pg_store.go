package slotgen

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/seturahealth/vaccine-slot-booking/internal/booking"
)

type PgStore struct {
	pool *pgxpool.Pool
}

func NewPgStore(pool *pgxpool.Pool) *PgStore {
	return &PgStore{pool: pool}
}

func (s *PgStore) InsertRun(ctx context.Context, name string, at time.Time) (int64, error) {
	var id int64
	err := s.pool.QueryRow(ctx, `
		INSERT INTO generator_runs (name, execution_time, status)
		VALUES ($1, $2, $3)
		RETURNING id
	`, name, at, RunStart).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert generator run: %w", err)
	}
	return id, nil
}

func (s *PgStore) FinishRun(ctx context.Context, id int64, status RunStatus, detail string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE generator_runs
		SET status = $2,
		    detail = NULLIF($3, '')
		WHERE id = $1
	`, id, status, detail)
	if err != nil {
		return fmt.Errorf("update generator run: %w", err)
	}
	return nil
}

func (s *PgStore) ListActiveCenters(ctx context.Context, limit, offset int) ([]booking.Center, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, name, pincode, address, city, state, vaccine, is_active,
		       slot_duration_minutes, slot_max_appointments, open_time, close_time,
		       created_at, updated_at
		FROM centers
		WHERE is_active = true
		ORDER BY created_at, id
		LIMIT $1 OFFSET $2
	`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var centers []booking.Center
	for rows.Next() {
		var c booking.Center
		err := rows.Scan(
			&c.ID, &c.Name, &c.Pincode, &c.Address, &c.City, &c.State, &c.Vaccine,
			&c.IsActive, &c.SlotDurationMinutes, &c.SlotMaxAppointments,
			&c.OpenTime, &c.CloseTime, &c.CreatedAt, &c.UpdatedAt,
		)
		if err != nil {
			return nil, err
		}
		centers = append(centers, c)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return centers, nil
}

func (s *PgStore) SheetExists(ctx context.Context, centerID uuid.UUID, date time.Time) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM slot_sheets WHERE center_id = $1 AND sheet_date = $2
		)
	`, centerID, date).Scan(&exists)
	if err != nil {
		return false, err
	}
	return exists, nil
}

func (s *PgStore) CreateSheet(ctx context.Context, sheet *booking.SlotSheet, slots []booking.Slot) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	_, err = tx.Exec(ctx, `
		INSERT INTO slot_sheets (id, center_id, sheet_date, created_at)
		VALUES ($1, $2, $3, now())
	`, sheet.ID, sheet.CenterID, sheet.Date)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrSheetExists
		}
		return fmt.Errorf("insert sheet: %w", err)
	}

	batch := &pgx.Batch{}
	for _, slot := range slots {
		batch.Queue(`
			INSERT INTO sheet_slots (id, sheet_id, time_label, total_capacity,
			                         remaining_capacity, total_vaccinated, status)
			VALUES ($1, $2, $3, $4, $5, 0, $6)
		`, slot.ID, slot.SheetID, slot.TimeLabel, slot.TotalCapacity, slot.RemainCapacity, slot.Status)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("insert slots: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
