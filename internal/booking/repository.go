package booking

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Repository contains all DB interactions needed by the service. Mutations run
// through InTx so capacity counters and appointment rows never disagree.
type Repository interface {
	// InTx runs fn inside one atomic transaction. A transient conflict
	// (deadlock, serialization failure) is retried a bounded number of
	// times before surfacing.
	InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error

	// Read paths, outside any transaction.
	ListCenterSlots(ctx context.Context, f SlotFilter, today time.Time, nowLabel string, page, limit int) (*Page[CenterSlots], error)
	ListAppointments(ctx context.Context, nationalID string, f AppointmentFilter, page, limit int) (*Page[Appointment], error)
}

// Tx is the transaction-scoped slice of the repository.
type Tx interface {
	// Dose history
	CountActiveAppointments(ctx context.Context, nationalID string) (int, error)
	CountVaccinatedDoses(ctx context.Context, nationalID string) (int, error)
	// LatestVaccinatedAppointment returns nil when the citizen has no
	// vaccinated appointment yet.
	LatestVaccinatedAppointment(ctx context.Context, nationalID string) (*Appointment, error)

	// Capacity store
	GetSheet(ctx context.Context, sheetID uuid.UUID) (*SlotSheet, error)
	GetCenter(ctx context.Context, centerID uuid.UUID) (*Center, error)
	// GetSlotForUpdate locks the slice row for the rest of the transaction.
	GetSlotForUpdate(ctx context.Context, sheetID uuid.UUID, timeLabel string) (*Slot, error)
	UpdateSlotCapacity(ctx context.Context, slotID uuid.UUID, remain int, status SlotStatus) error

	// Booking
	InsertAppointment(ctx context.Context, a *Appointment) error
	InsertReservation(ctx context.Context, r *Reservation) error

	// Vaccination
	ActiveAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	ActiveAppointmentByNationalID(ctx context.Context, nationalID string) (*Appointment, error)
	CitizenByPhone(ctx context.Context, phone string) (*CitizenAccount, error)
	MarkAppointmentVaccinated(ctx context.Context, id uuid.UUID, at time.Time, actionBy uuid.UUID) error
	// SetCitizenVaccinationStatus updates every account sharing the
	// national id.
	SetCitizenVaccinationStatus(ctx context.Context, nationalID string, status int, vaccine string) error
	// RecordSlotVaccination bumps the slice's vaccinated counter and stamps
	// the matching reservation; it reports how many reservation entries
	// were stamped so the caller can detect a missing reservation.
	RecordSlotVaccination(ctx context.Context, sheetID uuid.UUID, timeLabel string, appointmentID uuid.UUID, at time.Time) (int64, error)

	// Cancellation
	AppointmentForCitizen(ctx context.Context, id uuid.UUID, nationalID string) (*Appointment, error)
	MarkAppointmentCanceled(ctx context.Context, id uuid.UUID, at time.Time) error
	RemoveReservation(ctx context.Context, slotID, appointmentID uuid.UUID) (bool, error)
}
