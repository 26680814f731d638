package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/seturahealth/vaccine-slot-booking/internal/booking"
)

type BookSlotRequest struct {
	SheetID   uuid.UUID `json:"sheet_id"`
	TimeLabel string    `json:"time_label"`
}

type BookSlotResponse struct {
	AppointmentID uuid.UUID `json:"appointment_id"`
	Dose          int       `json:"dose"`
	Vaccine       string    `json:"vaccine"`
	SheetID       uuid.UUID `json:"sheet_id"`
	TimeLabel     string    `json:"time_label"`
}

type MarkVaccinatedRequest struct {
	AppointmentID *uuid.UUID `json:"appointment_id,omitempty"`
	NationalID    string     `json:"national_id,omitempty"`
	Phone         string     `json:"phone,omitempty"`
}

type MarkVaccinatedResponse struct {
	AppointmentID uuid.UUID `json:"appointment_id"`
	VaccinatedAt  time.Time `json:"vaccinated_at"`
}

type SlotResponse struct {
	ID                uuid.UUID `json:"id"`
	TimeLabel         string    `json:"time_label"`
	TotalCapacity     int       `json:"total_capacity"`
	RemainingCapacity int       `json:"remaining_capacity"`
	TotalVaccinated   int       `json:"total_vaccinated"`
	Status            string    `json:"status"`
}

type SheetSlotsResponse struct {
	SheetID uuid.UUID      `json:"sheet_id"`
	Date    string         `json:"date"`
	Slots   []SlotResponse `json:"slots"`
}

type CenterSlotsResponse struct {
	CenterID uuid.UUID            `json:"center_id"`
	Name     string               `json:"name"`
	Pincode  string               `json:"pincode"`
	Address  string               `json:"address"`
	City     string               `json:"city"`
	State    string               `json:"state"`
	Vaccine  string               `json:"vaccine"`
	Sheets   []SheetSlotsResponse `json:"sheets"`
}

type AppointmentResponse struct {
	ID           uuid.UUID  `json:"id"`
	SheetID      uuid.UUID  `json:"sheet_id"`
	TimeLabel    string     `json:"time_label"`
	Date         string     `json:"date"`
	Dose         int        `json:"dose"`
	Vaccine      string     `json:"vaccine"`
	VaccinatedAt *time.Time `json:"vaccinated_at,omitempty"`
	CanceledAt   *time.Time `json:"canceled_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

type PaginatedResponse[T any] struct {
	Items      []T   `json:"items"`
	Page       int   `json:"page"`
	Limit      int   `json:"limit"`
	TotalItems int64 `json:"total_items"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

type MessageResponse struct {
	Message string `json:"message"`
}

const dateLayout = "2006-01-02"

func toCenterSlotsResponse(c booking.CenterSlots) CenterSlotsResponse {
	sheets := make([]SheetSlotsResponse, 0, len(c.Sheets))
	for _, sh := range c.Sheets {
		slots := make([]SlotResponse, 0, len(sh.Slots))
		for _, s := range sh.Slots {
			slots = append(slots, SlotResponse{
				ID:                s.ID,
				TimeLabel:         s.TimeLabel,
				TotalCapacity:     s.TotalCapacity,
				RemainingCapacity: s.RemainCapacity,
				TotalVaccinated:   s.TotalVaccinated,
				Status:            string(s.Status),
			})
		}
		sheets = append(sheets, SheetSlotsResponse{
			SheetID: sh.SheetID,
			Date:    sh.Date.Format(dateLayout),
			Slots:   slots,
		})
	}
	return CenterSlotsResponse{
		CenterID: c.Center.ID,
		Name:     c.Center.Name,
		Pincode:  c.Center.Pincode,
		Address:  c.Center.Address,
		City:     c.Center.City,
		State:    c.Center.State,
		Vaccine:  c.Center.Vaccine,
		Sheets:   sheets,
	}
}

func toAppointmentResponse(a booking.Appointment) AppointmentResponse {
	return AppointmentResponse{
		ID:           a.ID,
		SheetID:      a.SheetID,
		TimeLabel:    a.TimeLabel,
		Date:         a.Date.Format(dateLayout),
		Dose:         a.Dose,
		Vaccine:      a.Vaccine,
		VaccinatedAt: a.VaccinatedAt,
		CanceledAt:   a.CanceledAt,
		CreatedAt:    a.CreatedAt,
	}
}
