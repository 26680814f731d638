package booking

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	redisclient "github.com/seturahealth/vaccine-slot-booking/internal/redis"
	"github.com/seturahealth/vaccine-slot-booking/internal/timeslot"
	"github.com/seturahealth/vaccine-slot-booking/internal/vaccine"
)

const cancelNotice = 24 * time.Hour

type Service struct {
	repo    Repository
	locker  redisclient.Locker
	catalog vaccine.Catalog
	loc     *time.Location
	now     func() time.Time
}

func NewService(repo Repository, locker redisclient.Locker, catalog vaccine.Catalog, loc *time.Location) *Service {
	return &Service{
		repo:    repo,
		locker:  locker,
		catalog: catalog,
		loc:     loc,
		now:     time.Now,
	}
}

// BookSlot reserves one seat in the named slice for the citizen. Eligibility
// checks and the capacity decrement happen inside a single transaction; the
// Redis slice lock in front lets a second booker of the same slice fail fast
// instead of piling up on the row lock.
func (s *Service) BookSlot(ctx context.Context, citizen Citizen, sheetID uuid.UUID, timeLabel string) (*BookingConfirmation, error) {
	if sheetID == uuid.Nil || timeLabel == "" || citizen.NationalID == "" {
		return nil, ErrMissingBookingParams
	}

	var confirmed *BookingConfirmation

	err := s.locker.WithSliceLock(ctx, sheetID, timeLabel, func(lockCtx context.Context) error {
		return s.repo.InTx(lockCtx, func(txCtx context.Context, tx Tx) error {
			conf, err := s.bookInTx(txCtx, tx, citizen, sheetID, timeLabel)
			if err != nil {
				return err
			}
			confirmed = conf
			return nil
		})
	})
	if err != nil {
		if errors.Is(err, redisclient.ErrLockNotAcquired) {
			return nil, ErrSlotBeingBooked
		}
		return nil, err
	}

	return confirmed, nil
}

func (s *Service) bookInTx(ctx context.Context, tx Tx, citizen Citizen, sheetID uuid.UUID, timeLabel string) (*BookingConfirmation, error) {
	active, err := tx.CountActiveAppointments(ctx, citizen.NationalID)
	if err != nil {
		return nil, fmt.Errorf("check active appointment: %w", err)
	}
	if active > 0 {
		return nil, ErrActiveAppointmentExists
	}

	last, err := tx.LatestVaccinatedAppointment(ctx, citizen.NationalID)
	if err != nil {
		return nil, fmt.Errorf("load last vaccination: %w", err)
	}

	doses, err := tx.CountVaccinatedDoses(ctx, citizen.NationalID)
	if err != nil {
		return nil, fmt.Errorf("count vaccinated doses: %w", err)
	}
	nextDose := doses + 1

	sheet, err := tx.GetSheet(ctx, sheetID)
	if err != nil {
		return nil, err
	}
	center, err := tx.GetCenter(ctx, sheet.CenterID)
	if err != nil {
		return nil, err
	}

	info, ok := s.catalog.Lookup(center.Vaccine)
	if !ok {
		return nil, ErrUnknownVaccine
	}

	if nextDose > info.Doses {
		return nil, ErrFullyVaccinated
	}
	// Unreachable unless the dose count and the latest-vaccination lookup
	// disagree; kept as a guard against inconsistent history.
	if nextDose > 1 && last == nil {
		return nil, ErrDoseOrder
	}

	now := s.now().In(s.loc)

	if last != nil {
		nextEligible := last.VaccinatedAt.In(s.loc).AddDate(0, 0, info.GapDays)
		if now.Before(nextEligible) {
			return nil, &GapError{NextEligible: nextEligible}
		}
	}

	// Same-day bookings must target a slice that has not started yet,
	// mirroring the generator's first-slice rule.
	if timeslot.SameDate(sheet.Date, now, s.loc) {
		start, err := timeslot.LabelStart(sheet.Date, timeLabel, s.loc)
		if err != nil {
			return nil, ErrSlotNotFound
		}
		if start.Before(timeslot.NextBoundary(now, center.SlotDurationMinutes)) {
			return nil, ErrPastSlot
		}
	}

	slot, err := tx.GetSlotForUpdate(ctx, sheetID, timeLabel)
	if err != nil {
		return nil, err
	}
	if slot.RemainCapacity <= 0 || slot.Status == SlotCancelled {
		return nil, ErrSlotFull
	}

	appt := &Appointment{
		NationalID: citizen.NationalID,
		SheetID:    sheetID,
		TimeLabel:  timeLabel,
		Date:       sheet.Date,
		Dose:       nextDose,
		Vaccine:    center.Vaccine,
		CitizenID:  citizen.ID,
	}
	if err := tx.InsertAppointment(ctx, appt); err != nil {
		return nil, err
	}

	res := &Reservation{
		SlotID:        slot.ID,
		CitizenID:     citizen.ID,
		AppointmentID: appt.ID,
	}
	if err := tx.InsertReservation(ctx, res); err != nil {
		return nil, err
	}

	remain := slot.RemainCapacity - 1
	status := slot.Status
	if remain == 0 {
		status = SlotFull
	}
	if err := tx.UpdateSlotCapacity(ctx, slot.ID, remain, status); err != nil {
		return nil, err
	}

	return &BookingConfirmation{
		AppointmentID: appt.ID,
		Dose:          nextDose,
		Vaccine:       center.Vaccine,
		SheetID:       sheetID,
		TimeLabel:     timeLabel,
	}, nil
}

// MarkVaccinated stamps the citizen's active appointment, recomputes the
// denormalized vaccination status on every linked account, and records the
// dose on the owning slice. A missing reservation entry aborts the whole
// transaction so the appointment stays unmarked.
func (s *Service) MarkVaccinated(ctx context.Context, actionBy uuid.UUID, lookup VaccinationLookup) (*VaccinationRecord, error) {
	var record *VaccinationRecord

	err := s.repo.InTx(ctx, func(txCtx context.Context, tx Tx) error {
		appt, err := s.resolveActiveAppointment(txCtx, tx, lookup)
		if err != nil {
			return err
		}

		info, ok := s.catalog.Lookup(appt.Vaccine)
		if !ok {
			return ErrUnknownVaccine
		}

		at := s.now()
		if err := tx.MarkAppointmentVaccinated(txCtx, appt.ID, at, actionBy); err != nil {
			return err
		}

		status := appt.Dose
		if appt.Dose >= info.Doses {
			status = vaccine.FullyVaccinatedStatus
		}
		if err := tx.SetCitizenVaccinationStatus(txCtx, appt.NationalID, status, appt.Vaccine); err != nil {
			return err
		}

		stamped, err := tx.RecordSlotVaccination(txCtx, appt.SheetID, appt.TimeLabel, appt.ID, at)
		if err != nil {
			return err
		}
		if stamped == 0 {
			return ErrReservationMissing
		}

		record = &VaccinationRecord{AppointmentID: appt.ID, VaccinatedAt: at}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return record, nil
}

func (s *Service) resolveActiveAppointment(ctx context.Context, tx Tx, lookup VaccinationLookup) (*Appointment, error) {
	switch {
	case lookup.AppointmentID != nil:
		appt, err := tx.ActiveAppointmentByID(ctx, *lookup.AppointmentID)
		if errors.Is(err, ErrAppointmentNotFound) {
			return nil, ErrNoActiveAppointment
		}
		return appt, err
	case lookup.NationalID != "":
		appt, err := tx.ActiveAppointmentByNationalID(ctx, lookup.NationalID)
		if errors.Is(err, ErrAppointmentNotFound) {
			return nil, ErrNoActiveAppointment
		}
		return appt, err
	case lookup.Phone != "":
		citizen, err := tx.CitizenByPhone(ctx, lookup.Phone)
		if err != nil {
			return nil, err
		}
		appt, err := tx.ActiveAppointmentByNationalID(ctx, citizen.NationalID)
		if errors.Is(err, ErrAppointmentNotFound) {
			return nil, ErrNoActiveAppointment
		}
		return appt, err
	default:
		return nil, ErrMissingLookupParams
	}
}

// CancelAppointment voids the citizen's booking and releases the seat. The
// reservation is matched by appointment id so a booking made under a linked
// account of the same national id still cancels cleanly.
func (s *Service) CancelAppointment(ctx context.Context, citizen Citizen, appointmentID uuid.UUID) error {
	if appointmentID == uuid.Nil {
		return ErrMissingAppointmentID
	}

	return s.repo.InTx(ctx, func(txCtx context.Context, tx Tx) error {
		appt, err := tx.AppointmentForCitizen(txCtx, appointmentID, citizen.NationalID)
		if err != nil {
			return err
		}
		if !appt.IsActive() {
			return ErrNotCancelable
		}

		start, err := timeslot.LabelStart(appt.Date, appt.TimeLabel, s.loc)
		if err != nil {
			return ErrSlotNotFound
		}
		if s.now().After(start.Add(-cancelNotice)) {
			return ErrCancelWindowClosed
		}

		slot, err := tx.GetSlotForUpdate(txCtx, appt.SheetID, appt.TimeLabel)
		if err != nil {
			return err
		}

		if err := tx.MarkAppointmentCanceled(txCtx, appt.ID, s.now()); err != nil {
			return err
		}

		removed, err := tx.RemoveReservation(txCtx, slot.ID, appt.ID)
		if err != nil {
			return err
		}
		if !removed {
			return ErrReservationMissing
		}

		remain := slot.RemainCapacity + 1
		status := slot.Status
		if status == SlotFull {
			status = SlotAvailable
		}
		return tx.UpdateSlotCapacity(txCtx, slot.ID, remain, status)
	})
}

// ListSlots returns centers matching the filter with their upcoming bookable
// slices nested per sheet.
func (s *Service) ListSlots(ctx context.Context, f SlotFilter, page, limit int) (*Page[CenterSlots], error) {
	page, limit = clampPage(page, limit)

	f.City = strings.ToLower(f.City)
	f.State = strings.ToLower(f.State)
	f.Vaccine = strings.ToLower(f.Vaccine)

	now := s.now().In(s.loc)
	today := midnight(now, s.loc)
	nowLabel := now.Format("15:04")

	result, err := s.repo.ListCenterSlots(ctx, f, today, nowLabel, page, limit)
	if err != nil {
		return nil, fmt.Errorf("list center slots: %w", err)
	}
	return result, nil
}

// ListAppointments returns the citizen's booking history, newest first.
func (s *Service) ListAppointments(ctx context.Context, citizen Citizen, f AppointmentFilter, page, limit int) (*Page[Appointment], error) {
	page, limit = clampPage(page, limit)

	result, err := s.repo.ListAppointments(ctx, citizen.NationalID, f, page, limit)
	if err != nil {
		return nil, fmt.Errorf("list appointments: %w", err)
	}
	return result, nil
}

func clampPage(page, limit int) (int, int) {
	if page < 1 {
		page = 1
	}
	if limit <= 0 {
		limit = 10 // default
	}
	if limit > 100 {
		limit = 100 // max
	}
	return page, limit
}

func midnight(t time.Time, loc *time.Location) time.Time {
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}
