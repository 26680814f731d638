package booking

import (
	"time"

	"github.com/google/uuid"
)

type SlotStatus string

const (
	SlotAvailable SlotStatus = "available"
	SlotFull      SlotStatus = "full"
	SlotCancelled SlotStatus = "cancelled"
)

// Center is a vaccination site offering one vaccine type with fixed operating
// hours. Owned by the admin surface; this core only reads it.
type Center struct {
	ID                  uuid.UUID
	Name                string
	Pincode             string
	Address             string
	City                string
	State               string
	Vaccine             string
	IsActive            bool
	SlotDurationMinutes int
	SlotMaxAppointments int
	OpenTime            string // "HH:MM"
	CloseTime           string // "HH:MM"
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// SlotSheet is the per-center per-day container of bookable slices.
type SlotSheet struct {
	ID        uuid.UUID
	CenterID  uuid.UUID
	Date      time.Time // midnight in the deployment zone
	CreatedAt time.Time
}

// Slot is one bookable time window within a sheet, with its own capacity
// counters. remaining_capacity never goes negative; hitting zero flips the
// status to full.
type Slot struct {
	ID              uuid.UUID
	SheetID         uuid.UUID
	TimeLabel       string // "10:00-10:30"
	TotalCapacity   int
	RemainCapacity  int
	TotalVaccinated int
	Status          SlotStatus
	CanceledAt      *time.Time
	ActionBy        *uuid.UUID
}

// Reservation is one seat held in a slot. Its appointment id refers to exactly
// one appointment row.
type Reservation struct {
	ID            uuid.UUID
	SlotID        uuid.UUID
	CitizenID     uuid.UUID
	AppointmentID uuid.UUID
	VaccinatedAt  *time.Time
}

// Appointment is a citizen's booking of one dose at one slice. vaccinated_at
// and canceled_at are mutually exclusive; once either is set the record is
// terminal.
type Appointment struct {
	ID           uuid.UUID
	NationalID   string
	SheetID      uuid.UUID
	TimeLabel    string
	Date         time.Time
	Dose         int
	Vaccine      string
	CitizenID    uuid.UUID
	Remark       *string
	ActionBy     *uuid.UUID
	VaccinatedAt *time.Time
	CanceledAt   *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// IsActive reports whether the appointment is neither vaccinated nor canceled.
func (a *Appointment) IsActive() bool {
	return a.VaccinatedAt == nil && a.CanceledAt == nil
}

// Citizen identifies the booking party: the session account plus the stable
// national id that dose history keys on. Several linked accounts may share one
// national id.
type Citizen struct {
	ID         uuid.UUID
	NationalID string
}

// CitizenAccount is the stored account row. vaccination_status is denormalized
// here and written only by the vaccination recorder.
type CitizenAccount struct {
	ID                uuid.UUID
	NationalID        string
	Name              string
	Phone             string
	Pincode           string
	VaccinationStatus int
	Vaccine           *string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// BookingConfirmation is returned on a successful reservation.
type BookingConfirmation struct {
	AppointmentID uuid.UUID
	Dose          int
	Vaccine       string
	SheetID       uuid.UUID
	TimeLabel     string
}

// VaccinationRecord is returned after marking a patient vaccinated.
type VaccinationRecord struct {
	AppointmentID uuid.UUID
	VaccinatedAt  time.Time
}

// VaccinationLookup resolves the target appointment, tried in field order.
type VaccinationLookup struct {
	AppointmentID *uuid.UUID
	NationalID    string
	Phone         string
}

// SlotFilter narrows the listSlots read.
type SlotFilter struct {
	Pincode  string
	City     string
	State    string
	Vaccine  string
	DateFrom *time.Time
	DateTo   *time.Time
}

// AppointmentFilter narrows a citizen's appointment history.
type AppointmentFilter struct {
	DateFrom   *time.Time
	DateTo     *time.Time
	Vaccinated *bool
	Canceled   *bool
}

// SheetSlots is one sheet's still-bookable slices, nested under its center.
type SheetSlots struct {
	SheetID uuid.UUID
	Date    time.Time
	Slots   []Slot
}

// CenterSlots groups a center's upcoming sheets for the listSlots response.
type CenterSlots struct {
	Center Center
	Sheets []SheetSlots
}

// Page carries offset pagination results.
type Page[T any] struct {
	Items      []T
	Page       int
	Limit      int
	TotalItems int64
}
