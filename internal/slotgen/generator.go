package slotgen

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/seturahealth/vaccine-slot-booking/internal/booking"
	"github.com/seturahealth/vaccine-slot-booking/internal/timeslot"
)

// RunName identifies the recurring slot-creation job in generator_runs.
const RunName = "CREATE_SLOTS"

type RunStatus string

const (
	RunStart   RunStatus = "START"
	RunSuccess RunStatus = "SUCCESS"
	RunFailed  RunStatus = "FAILED"
	RunPartial RunStatus = "PARTIAL"
)

// ErrSheetExists signals that another run already wrote the (center, day)
// sheet; the generator treats it as a no-op.
var ErrSheetExists = errors.New("slot sheet already exists")

// Store contains the DB interactions the generator needs.
type Store interface {
	InsertRun(ctx context.Context, name string, at time.Time) (int64, error)
	FinishRun(ctx context.Context, id int64, status RunStatus, detail string) error

	ListActiveCenters(ctx context.Context, limit, offset int) ([]booking.Center, error)
	SheetExists(ctx context.Context, centerID uuid.UUID, date time.Time) (bool, error)
	// CreateSheet inserts the sheet and its slots atomically, returning
	// ErrSheetExists when the (center, day) uniqueness guard fires.
	CreateSheet(ctx context.Context, sheet *booking.SlotSheet, slots []booking.Slot) error
}

// Generator pre-creates slot sheets for every active center over the
// configured horizon. Runs are idempotent per (center, day), so overlapping
// invocations are harmless.
type Generator struct {
	store       Store
	horizonDays int
	batchSize   int
	loc         *time.Location
	now         func() time.Time
}

func NewGenerator(store Store, horizonDays, batchSize int, loc *time.Location) *Generator {
	return &Generator{
		store:       store,
		horizonDays: horizonDays,
		batchSize:   batchSize,
		loc:         loc,
		now:         time.Now,
	}
}

// Run executes one generation pass and records its outcome in generator_runs.
// A failure on one center/day is logged and counted but never aborts the rest
// of the pass; the run finishes PARTIAL instead of SUCCESS.
func (g *Generator) Run(ctx context.Context) error {
	runID, err := g.store.InsertRun(ctx, RunName, g.now())
	if err != nil {
		return fmt.Errorf("record generator run: %w", err)
	}

	failures, runErr := g.generate(ctx)

	status := RunSuccess
	detail := ""
	switch {
	case runErr != nil:
		status = RunFailed
		detail = runErr.Error()
	case failures > 0:
		status = RunPartial
		detail = fmt.Sprintf("%d center-days failed", failures)
	}

	if err := g.store.FinishRun(ctx, runID, status, detail); err != nil {
		log.Printf("finish generator run %d: %v", runID, err)
	}

	return runErr
}

func (g *Generator) generate(ctx context.Context) (failures int, err error) {
	now := g.now().In(g.loc)
	y, m, d := now.Date()
	today := time.Date(y, m, d, 0, 0, 0, 0, g.loc)

	for offset := 0; ; offset += g.batchSize {
		centers, err := g.store.ListActiveCenters(ctx, g.batchSize, offset)
		if err != nil {
			return failures, fmt.Errorf("list active centers: %w", err)
		}
		if len(centers) == 0 {
			break
		}

		for _, center := range centers {
			for i := 0; i < g.horizonDays; i++ {
				day := today.AddDate(0, 0, i)
				if err := g.generateDay(ctx, center, day, now); err != nil {
					log.Printf("generate slots center=%s day=%s: %v",
						center.ID, day.Format("2006-01-02"), err)
					failures++
				}
			}
		}

		if len(centers) < g.batchSize {
			break
		}
	}

	return failures, nil
}

func (g *Generator) generateDay(ctx context.Context, center booking.Center, day, now time.Time) error {
	exists, err := g.store.SheetExists(ctx, center.ID, day)
	if err != nil {
		return fmt.Errorf("check existing sheet: %w", err)
	}
	if exists {
		return nil
	}

	labels, err := timeslot.Grid(day, center.OpenTime, center.CloseTime, center.SlotDurationMinutes, now, g.loc)
	if err != nil {
		return fmt.Errorf("compute slices: %w", err)
	}
	// Nothing bookable left today (center already closed, or the window is
	// shorter than one slice) - no sheet row is written.
	if len(labels) == 0 {
		return nil
	}

	sheet := &booking.SlotSheet{
		ID:       uuid.New(),
		CenterID: center.ID,
		Date:     day,
	}
	slots := make([]booking.Slot, 0, len(labels))
	for _, label := range labels {
		slots = append(slots, booking.Slot{
			ID:             uuid.New(),
			SheetID:        sheet.ID,
			TimeLabel:      label,
			TotalCapacity:  center.SlotMaxAppointments,
			RemainCapacity: center.SlotMaxAppointments,
			Status:         booking.SlotAvailable,
		})
	}

	if err := g.store.CreateSheet(ctx, sheet, slots); err != nil {
		if errors.Is(err, ErrSheetExists) {
			// Lost the race against a concurrent run.
			return nil
		}
		return fmt.Errorf("create sheet: %w", err)
	}

	return nil
}
