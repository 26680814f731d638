package booking

import (
	"context"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const txMaxAttempts = 3

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

// InTx runs fn in a transaction and retries bounded times on transient
// conflicts. Row locks taken via GetSlotForUpdate serialize concurrent
// bookings of the same slice, so two bookers can never both see the last seat.
func (r *PgRepository) InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	var lastErr error

	for attempt := 0; attempt < txMaxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(attempt) * 25 * time.Millisecond):
			}
		}

		err := r.runTx(ctx, fn)
		if err == nil {
			return nil
		}
		if !isRetryable(err) {
			return err
		}
		lastErr = err
	}

	return fmt.Errorf("transaction retries exhausted: %w", lastErr)
}

func (r *PgRepository) runTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if err := fn(ctx, &pgTx{tx: tx}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func isRetryable(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// serialization_failure, deadlock_detected
		return pgErr.Code == "40001" || pgErr.Code == "40P01"
	}
	return false
}

// Helpers

const appointmentColumns = `id, national_id, sheet_id, time_label, appointment_date, dose, vaccine,
		       citizen_id, remark, action_by, vaccinated_at, canceled_at, created_at, updated_at`

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment

	err := row.Scan(
		&a.ID,
		&a.NationalID,
		&a.SheetID,
		&a.TimeLabel,
		&a.Date,
		&a.Dose,
		&a.Vaccine,
		&a.CitizenID,
		&a.Remark,
		&a.ActionBy,
		&a.VaccinatedAt,
		&a.CanceledAt,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}

	return &a, nil
}

func scanSlot(row pgx.Row) (*Slot, error) {
	var s Slot

	err := row.Scan(
		&s.ID,
		&s.SheetID,
		&s.TimeLabel,
		&s.TotalCapacity,
		&s.RemainCapacity,
		&s.TotalVaccinated,
		&s.Status,
		&s.CanceledAt,
		&s.ActionBy,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSlotNotFound
		}
		return nil, err
	}

	return &s, nil
}

func scanCenter(row pgx.Row) (*Center, error) {
	var c Center

	err := row.Scan(
		&c.ID,
		&c.Name,
		&c.Pincode,
		&c.Address,
		&c.City,
		&c.State,
		&c.Vaccine,
		&c.IsActive,
		&c.SlotDurationMinutes,
		&c.SlotMaxAppointments,
		&c.OpenTime,
		&c.CloseTime,
		&c.CreatedAt,
		&c.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSheetNotFound
		}
		return nil, err
	}

	return &c, nil
}

// Transaction-scoped methods

type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) CountActiveAppointments(ctx context.Context, nationalID string) (int, error) {
	var n int
	err := t.tx.QueryRow(ctx, `
		SELECT COUNT(*)
		FROM appointments
		WHERE national_id = $1 AND vaccinated_at IS NULL AND canceled_at IS NULL
	`, nationalID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count active appointments: %w", err)
	}
	return n, nil
}

func (t *pgTx) CountVaccinatedDoses(ctx context.Context, nationalID string) (int, error) {
	var n int
	err := t.tx.QueryRow(ctx, `
		SELECT COUNT(*)
		FROM appointments
		WHERE national_id = $1 AND vaccinated_at IS NOT NULL
	`, nationalID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count vaccinated doses: %w", err)
	}
	return n, nil
}

func (t *pgTx) LatestVaccinatedAppointment(ctx context.Context, nationalID string) (*Appointment, error) {
	row := t.tx.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE national_id = $1 AND vaccinated_at IS NOT NULL
		ORDER BY vaccinated_at DESC
		LIMIT 1
	`, nationalID)

	a, err := scanAppointment(row)
	if errors.Is(err, ErrAppointmentNotFound) {
		return nil, nil
	}
	return a, err
}

func (t *pgTx) GetSheet(ctx context.Context, sheetID uuid.UUID) (*SlotSheet, error) {
	var s SlotSheet
	err := t.tx.QueryRow(ctx, `
		SELECT id, center_id, sheet_date, created_at
		FROM slot_sheets
		WHERE id = $1
	`, sheetID).Scan(&s.ID, &s.CenterID, &s.Date, &s.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSheetNotFound
		}
		return nil, err
	}
	return &s, nil
}

func (t *pgTx) GetCenter(ctx context.Context, centerID uuid.UUID) (*Center, error) {
	row := t.tx.QueryRow(ctx, `
		SELECT id, name, pincode, address, city, state, vaccine, is_active,
		       slot_duration_minutes, slot_max_appointments, open_time, close_time,
		       created_at, updated_at
		FROM centers
		WHERE id = $1
	`, centerID)
	return scanCenter(row)
}

func (t *pgTx) GetSlotForUpdate(ctx context.Context, sheetID uuid.UUID, timeLabel string) (*Slot, error) {
	row := t.tx.QueryRow(ctx, `
		SELECT id, sheet_id, time_label, total_capacity, remaining_capacity,
		       total_vaccinated, status, canceled_at, action_by
		FROM sheet_slots
		WHERE sheet_id = $1 AND time_label = $2
		FOR UPDATE
	`, sheetID, timeLabel)
	return scanSlot(row)
}

func (t *pgTx) UpdateSlotCapacity(ctx context.Context, slotID uuid.UUID, remain int, status SlotStatus) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE sheet_slots
		SET remaining_capacity = $2,
		    status = $3
		WHERE id = $1
	`, slotID, remain, status)
	if err != nil {
		return fmt.Errorf("update slot capacity: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrSlotNotFound
	}
	return nil
}

func (t *pgTx) InsertAppointment(ctx context.Context, a *Appointment) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}

	err := t.tx.QueryRow(ctx, `
		INSERT INTO appointments (id, national_id, sheet_id, time_label, appointment_date,
		                          dose, vaccine, citizen_id, remark, action_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, now(), now())
		RETURNING created_at, updated_at
	`, a.ID, a.NationalID, a.SheetID, a.TimeLabel, a.Date, a.Dose, a.Vaccine,
		a.CitizenID, a.Remark, a.ActionBy).Scan(&a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert appointment: %w", err)
	}
	return nil
}

func (t *pgTx) InsertReservation(ctx context.Context, r *Reservation) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}

	_, err := t.tx.Exec(ctx, `
		INSERT INTO slot_reservations (id, slot_id, citizen_id, appointment_id, vaccinated_at)
		VALUES ($1, $2, $3, $4, $5)
	`, r.ID, r.SlotID, r.CitizenID, r.AppointmentID, r.VaccinatedAt)
	if err != nil {
		return fmt.Errorf("insert reservation: %w", err)
	}
	return nil
}

func (t *pgTx) ActiveAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := t.tx.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id = $1 AND vaccinated_at IS NULL AND canceled_at IS NULL
		FOR UPDATE
	`, id)
	return scanAppointment(row)
}

func (t *pgTx) ActiveAppointmentByNationalID(ctx context.Context, nationalID string) (*Appointment, error) {
	row := t.tx.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE national_id = $1 AND vaccinated_at IS NULL AND canceled_at IS NULL
		FOR UPDATE
	`, nationalID)
	return scanAppointment(row)
}

func (t *pgTx) CitizenByPhone(ctx context.Context, phone string) (*CitizenAccount, error) {
	var c CitizenAccount
	err := t.tx.QueryRow(ctx, `
		SELECT id, national_id, name, phone, pincode, vaccination_status, vaccine, created_at, updated_at
		FROM citizens
		WHERE phone = $1
		LIMIT 1
	`, phone).Scan(&c.ID, &c.NationalID, &c.Name, &c.Phone, &c.Pincode,
		&c.VaccinationStatus, &c.Vaccine, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrCitizenNotFound
		}
		return nil, err
	}
	return &c, nil
}

func (t *pgTx) MarkAppointmentVaccinated(ctx context.Context, id uuid.UUID, at time.Time, actionBy uuid.UUID) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE appointments
		SET vaccinated_at = $2,
		    action_by = $3,
		    updated_at = now()
		WHERE id = $1 AND vaccinated_at IS NULL AND canceled_at IS NULL
	`, id, at, actionBy)
	if err != nil {
		return fmt.Errorf("mark appointment vaccinated: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAppointmentNotFound
	}
	return nil
}

func (t *pgTx) SetCitizenVaccinationStatus(ctx context.Context, nationalID string, status int, vaccine string) error {
	_, err := t.tx.Exec(ctx, `
		UPDATE citizens
		SET vaccination_status = $2,
		    vaccine = $3,
		    updated_at = now()
		WHERE national_id = $1
	`, nationalID, status, vaccine)
	if err != nil {
		return fmt.Errorf("set citizen vaccination status: %w", err)
	}
	return nil
}

func (t *pgTx) RecordSlotVaccination(ctx context.Context, sheetID uuid.UUID, timeLabel string, appointmentID uuid.UUID, at time.Time) (int64, error) {
	tag, err := t.tx.Exec(ctx, `
		UPDATE slot_reservations r
		SET vaccinated_at = $4
		FROM sheet_slots sl
		WHERE r.slot_id = sl.id
		  AND sl.sheet_id = $1
		  AND sl.time_label = $2
		  AND r.appointment_id = $3
		  AND r.vaccinated_at IS NULL
	`, sheetID, timeLabel, appointmentID, at)
	if err != nil {
		return 0, fmt.Errorf("stamp reservation vaccinated: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return 0, nil
	}

	_, err = t.tx.Exec(ctx, `
		UPDATE sheet_slots
		SET total_vaccinated = total_vaccinated + 1
		WHERE sheet_id = $1 AND time_label = $2
	`, sheetID, timeLabel)
	if err != nil {
		return 0, fmt.Errorf("increment slot vaccinated counter: %w", err)
	}

	return tag.RowsAffected(), nil
}

func (t *pgTx) AppointmentForCitizen(ctx context.Context, id uuid.UUID, nationalID string) (*Appointment, error) {
	row := t.tx.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id = $1 AND national_id = $2
		FOR UPDATE
	`, id, nationalID)
	return scanAppointment(row)
}

func (t *pgTx) MarkAppointmentCanceled(ctx context.Context, id uuid.UUID, at time.Time) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE appointments
		SET canceled_at = $2,
		    updated_at = now()
		WHERE id = $1 AND vaccinated_at IS NULL AND canceled_at IS NULL
	`, id, at)
	if err != nil {
		return fmt.Errorf("mark appointment canceled: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAppointmentNotFound
	}
	return nil
}

func (t *pgTx) RemoveReservation(ctx context.Context, slotID, appointmentID uuid.UUID) (bool, error) {
	tag, err := t.tx.Exec(ctx, `
		DELETE FROM slot_reservations
		WHERE slot_id = $1 AND appointment_id = $2
	`, slotID, appointmentID)
	if err != nil {
		return false, fmt.Errorf("remove reservation: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// Read paths

// ListCenterSlots pages over active centers that still have sheets in range,
// then hydrates each center's upcoming slices. A slice on today's sheet is
// included only while its start label is still ahead of the wall clock.
func (r *PgRepository) ListCenterSlots(ctx context.Context, f SlotFilter, today time.Time, nowLabel string, page, limit int) (*Page[CenterSlots], error) {
	dateFrom := today
	if f.DateFrom != nil {
		dateFrom = *f.DateFrom
	}

	existsSQL := "EXISTS (SELECT 1 FROM slot_sheets sh WHERE sh.center_id = c.id AND sh.sheet_date >= ?"
	existsArgs := []any{dateFrom}
	if f.DateTo != nil {
		existsSQL += " AND sh.sheet_date <= ?"
		existsArgs = append(existsArgs, *f.DateTo)
	}
	existsSQL += ")"

	q := psql.Select(
		"c.id", "c.name", "c.pincode", "c.address", "c.city", "c.state", "c.vaccine",
		"c.is_active", "c.slot_duration_minutes", "c.slot_max_appointments",
		"c.open_time", "c.close_time", "c.created_at", "c.updated_at",
		"COUNT(*) OVER () AS total_count",
	).
		From("centers c").
		Where(sq.Eq{"c.is_active": true}).
		Where(sq.Expr(existsSQL, existsArgs...))

	if f.Pincode != "" {
		q = q.Where(sq.Eq{"c.pincode": f.Pincode})
	}
	if f.City != "" {
		q = q.Where(sq.Eq{"c.city": f.City})
	}
	if f.State != "" {
		q = q.Where(sq.Eq{"c.state": f.State})
	}
	if f.Vaccine != "" {
		q = q.Where(sq.Eq{"c.vaccine": f.Vaccine})
	}

	q = q.OrderBy("c.name ASC", "c.id ASC").
		Limit(uint64(limit)).
		Offset(uint64((page - 1) * limit))

	sqlStr, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build center query: %w", err)
	}

	rows, err := r.pool.Query(ctx, sqlStr, args...)
	if err != nil {
		return nil, fmt.Errorf("query centers: %w", err)
	}
	defer rows.Close()

	var (
		total   int64
		ordered []uuid.UUID
		byID    = make(map[uuid.UUID]*CenterSlots)
	)
	for rows.Next() {
		var c Center
		err := rows.Scan(
			&c.ID, &c.Name, &c.Pincode, &c.Address, &c.City, &c.State, &c.Vaccine,
			&c.IsActive, &c.SlotDurationMinutes, &c.SlotMaxAppointments,
			&c.OpenTime, &c.CloseTime, &c.CreatedAt, &c.UpdatedAt,
			&total,
		)
		if err != nil {
			return nil, fmt.Errorf("scan center: %w", err)
		}
		ordered = append(ordered, c.ID)
		byID[c.ID] = &CenterSlots{Center: c}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate centers: %w", err)
	}

	result := &Page[CenterSlots]{Page: page, Limit: limit, TotalItems: total}
	if len(ordered) == 0 {
		return result, nil
	}

	if err := r.loadCenterSheets(ctx, byID, ordered, f, dateFrom, today, nowLabel); err != nil {
		return nil, err
	}

	for _, id := range ordered {
		result.Items = append(result.Items, *byID[id])
	}
	return result, nil
}

func (r *PgRepository) loadCenterSheets(ctx context.Context, byID map[uuid.UUID]*CenterSlots, centerIDs []uuid.UUID, f SlotFilter, dateFrom, today time.Time, nowLabel string) error {
	q := psql.Select(
		"sh.id", "sh.center_id", "sh.sheet_date", "sh.created_at",
		"sl.id", "sl.time_label", "sl.total_capacity", "sl.remaining_capacity",
		"sl.total_vaccinated", "sl.status", "sl.canceled_at", "sl.action_by",
	).
		From("slot_sheets sh").
		Join("sheet_slots sl ON sl.sheet_id = sh.id").
		Where(sq.Eq{"sh.center_id": centerIDs}).
		Where(sq.GtOrEq{"sh.sheet_date": dateFrom}).
		Where(sq.Or{
			sq.Gt{"sh.sheet_date": today},
			sq.Gt{"sl.time_label": nowLabel},
		}).
		OrderBy("sh.sheet_date ASC", "sl.time_label ASC")

	if f.DateTo != nil {
		q = q.Where(sq.LtOrEq{"sh.sheet_date": *f.DateTo})
	}

	sqlStr, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build sheet query: %w", err)
	}

	rows, err := r.pool.Query(ctx, sqlStr, args...)
	if err != nil {
		return fmt.Errorf("query sheets: %w", err)
	}
	defer rows.Close()

	sheetIdx := make(map[uuid.UUID]int)
	for rows.Next() {
		var (
			sheet SlotSheet
			slot  Slot
		)
		err := rows.Scan(
			&sheet.ID, &sheet.CenterID, &sheet.Date, &sheet.CreatedAt,
			&slot.ID, &slot.TimeLabel, &slot.TotalCapacity, &slot.RemainCapacity,
			&slot.TotalVaccinated, &slot.Status, &slot.CanceledAt, &slot.ActionBy,
		)
		if err != nil {
			return fmt.Errorf("scan sheet slot: %w", err)
		}
		slot.SheetID = sheet.ID

		cs, ok := byID[sheet.CenterID]
		if !ok {
			continue
		}
		idx, ok := sheetIdx[sheet.ID]
		if !ok {
			cs.Sheets = append(cs.Sheets, SheetSlots{SheetID: sheet.ID, Date: sheet.Date})
			idx = len(cs.Sheets) - 1
			sheetIdx[sheet.ID] = idx
		}
		cs.Sheets[idx].Slots = append(cs.Sheets[idx].Slots, slot)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate sheet slots: %w", err)
	}
	return nil
}

func (r *PgRepository) ListAppointments(ctx context.Context, nationalID string, f AppointmentFilter, page, limit int) (*Page[Appointment], error) {
	conds := []sq.Sqlizer{sq.Eq{"national_id": nationalID}}
	if f.DateFrom != nil {
		conds = append(conds, sq.GtOrEq{"created_at": *f.DateFrom})
	}
	if f.DateTo != nil {
		conds = append(conds, sq.LtOrEq{"created_at": *f.DateTo})
	}
	if f.Vaccinated != nil {
		if *f.Vaccinated {
			conds = append(conds, sq.NotEq{"vaccinated_at": nil})
		} else {
			conds = append(conds, sq.Eq{"vaccinated_at": nil})
		}
	}
	if f.Canceled != nil {
		if *f.Canceled {
			conds = append(conds, sq.NotEq{"canceled_at": nil})
		} else {
			conds = append(conds, sq.Eq{"canceled_at": nil})
		}
	}

	countQ := psql.Select("COUNT(*)").From("appointments")
	pageQ := psql.Select(
		"id", "national_id", "sheet_id", "time_label", "appointment_date", "dose", "vaccine",
		"citizen_id", "remark", "action_by", "vaccinated_at", "canceled_at", "created_at", "updated_at",
	).From("appointments")
	for _, c := range conds {
		countQ = countQ.Where(c)
		pageQ = pageQ.Where(c)
	}

	sqlStr, args, err := countQ.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build appointment count query: %w", err)
	}
	var total int64
	if err := r.pool.QueryRow(ctx, sqlStr, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("count appointments: %w", err)
	}

	pageQ = pageQ.OrderBy("created_at DESC").
		Limit(uint64(limit)).
		Offset(uint64((page - 1) * limit))

	sqlStr, args, err = pageQ.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build appointment page query: %w", err)
	}

	rows, err := r.pool.Query(ctx, sqlStr, args...)
	if err != nil {
		return nil, fmt.Errorf("query appointments: %w", err)
	}
	defer rows.Close()

	result := &Page[Appointment]{Page: page, Limit: limit, TotalItems: total}
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		result.Items = append(result.Items, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate appointments: %w", err)
	}

	return result, nil
}
