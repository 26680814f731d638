package booking

import (
	"errors"
	"fmt"
	"time"
)

// Rejections follow a fixed taxonomy so the HTTP layer can map them without
// parsing messages: validation, conflict, eligibility, not found. Everything
// else surfaces as an internal error with no partial state.
var (
	// Validation
	ErrMissingBookingParams = errors.New("slot sheet id and time label are required")
	ErrMissingLookupParams  = errors.New("provide either an appointment id, a national id, or a phone number")
	ErrMissingAppointmentID = errors.New("appointment id is required")

	// Conflict
	ErrActiveAppointmentExists = errors.New("already has an active appointment, complete or cancel it before booking another")
	ErrSlotFull                = errors.New("selected slot is fully booked")
	ErrSlotBeingBooked         = errors.New("slot is currently being booked, please retry")

	// Eligibility
	ErrFullyVaccinated    = errors.New("citizen is fully vaccinated")
	ErrDoseOrder          = errors.New("previous dose must be taken first")
	ErrPastSlot           = errors.New("cannot book a past or ongoing slot, choose a future time slot")
	ErrUnknownVaccine     = errors.New("invalid vaccine type")
	ErrCancelWindowClosed = errors.New("cannot cancel within 24 hours of the slot start time")
	ErrNotCancelable      = errors.New("cannot cancel this appointment")

	// Not found
	ErrSheetNotFound       = errors.New("slot sheet not found")
	ErrSlotNotFound        = errors.New("slot not found")
	ErrAppointmentNotFound = errors.New("appointment not found")
	ErrCitizenNotFound     = errors.New("citizen not found")
	ErrNoActiveAppointment = errors.New("no active appointment found")
	ErrReservationMissing  = errors.New("slot not found or patient missing")
)

// GapError rejects a booking attempted before the inter-dose gap has elapsed.
// It carries the first eligible date so the caller can surface it.
type GapError struct {
	NextEligible time.Time
}

func (e *GapError) Error() string {
	return fmt.Sprintf("next dose available after %s", e.NextEligible.Format("02-01-2006"))
}
