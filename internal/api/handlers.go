package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/seturahealth/vaccine-slot-booking/internal/booking"
)

type Handlers struct {
	svc     *booking.Service
	metrics *Metrics
}

func NewHandlers(svc *booking.Service, metrics *Metrics) *Handlers {
	return &Handlers{svc: svc, metrics: metrics}
}

// BookSlot handles POST /appointments.
func (h *Handlers) BookSlot(w http.ResponseWriter, r *http.Request) {
	citizen, ok := citizenFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "citizen identity headers are required")
		return
	}

	var req BookSlotRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	conf, err := h.svc.BookSlot(r.Context(), citizen, req.SheetID, req.TimeLabel)
	if err != nil {
		h.metrics.ObserveBooking(bookingOutcome(err))
		h.writeBookingError(w, r, err)
		return
	}
	h.metrics.ObserveBooking("confirmed")

	writeJSON(w, http.StatusCreated, BookSlotResponse{
		AppointmentID: conf.AppointmentID,
		Dose:          conf.Dose,
		Vaccine:       conf.Vaccine,
		SheetID:       conf.SheetID,
		TimeLabel:     conf.TimeLabel,
	})
}

// CancelAppointment handles POST /appointments/{id}/cancel.
func (h *Handlers) CancelAppointment(w http.ResponseWriter, r *http.Request) {
	citizen, ok := citizenFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "citizen identity headers are required")
		return
	}

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid appointment id")
		return
	}

	if err := h.svc.CancelAppointment(r.Context(), citizen, id); err != nil {
		h.writeBookingError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, MessageResponse{Message: "appointment canceled"})
}

// ListAppointments handles GET /appointments.
func (h *Handlers) ListAppointments(w http.ResponseWriter, r *http.Request) {
	citizen, ok := citizenFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "citizen identity headers are required")
		return
	}

	f, err := parseAppointmentFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	page, limit := parsePagination(r)

	result, err := h.svc.ListAppointments(r.Context(), citizen, f, page, limit)
	if err != nil {
		h.writeBookingError(w, r, err)
		return
	}

	items := make([]AppointmentResponse, 0, len(result.Items))
	for _, a := range result.Items {
		items = append(items, toAppointmentResponse(a))
	}
	writeJSON(w, http.StatusOK, PaginatedResponse[AppointmentResponse]{
		Items:      items,
		Page:       result.Page,
		Limit:      result.Limit,
		TotalItems: result.TotalItems,
	})
}

// MarkVaccinated handles POST /vaccinations.
func (h *Handlers) MarkVaccinated(w http.ResponseWriter, r *http.Request) {
	adminID, ok := adminFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "admin identity header is required")
		return
	}

	var req MarkVaccinatedRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	record, err := h.svc.MarkVaccinated(r.Context(), adminID, booking.VaccinationLookup{
		AppointmentID: req.AppointmentID,
		NationalID:    req.NationalID,
		Phone:         req.Phone,
	})
	if err != nil {
		h.writeBookingError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, MarkVaccinatedResponse{
		AppointmentID: record.AppointmentID,
		VaccinatedAt:  record.VaccinatedAt,
	})
}

// ListSlots handles GET /slots.
func (h *Handlers) ListSlots(w http.ResponseWriter, r *http.Request) {
	f, err := parseSlotFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	page, limit := parsePagination(r)

	result, err := h.svc.ListSlots(r.Context(), f, page, limit)
	if err != nil {
		h.writeBookingError(w, r, err)
		return
	}

	items := make([]CenterSlotsResponse, 0, len(result.Items))
	for _, c := range result.Items {
		items = append(items, toCenterSlotsResponse(c))
	}
	writeJSON(w, http.StatusOK, PaginatedResponse[CenterSlotsResponse]{
		Items:      items,
		Page:       result.Page,
		Limit:      result.Limit,
		TotalItems: result.TotalItems,
	})
}

// writeBookingError maps service errors onto HTTP statuses. The taxonomy in
// the booking package keeps this a flat switch instead of message matching.
func (h *Handlers) writeBookingError(w http.ResponseWriter, r *http.Request, err error) {
	var gapErr *booking.GapError
	if errors.As(err, &gapErr) {
		writeError(w, http.StatusUnprocessableEntity, gapErr.Error())
		return
	}

	switch {
	case errors.Is(err, booking.ErrMissingBookingParams),
		errors.Is(err, booking.ErrMissingLookupParams),
		errors.Is(err, booking.ErrMissingAppointmentID):
		writeError(w, http.StatusBadRequest, err.Error())

	case errors.Is(err, booking.ErrActiveAppointmentExists),
		errors.Is(err, booking.ErrSlotFull),
		errors.Is(err, booking.ErrSlotBeingBooked):
		writeError(w, http.StatusConflict, err.Error())

	case errors.Is(err, booking.ErrFullyVaccinated),
		errors.Is(err, booking.ErrDoseOrder),
		errors.Is(err, booking.ErrPastSlot),
		errors.Is(err, booking.ErrUnknownVaccine),
		errors.Is(err, booking.ErrCancelWindowClosed),
		errors.Is(err, booking.ErrNotCancelable):
		writeError(w, http.StatusUnprocessableEntity, err.Error())

	case errors.Is(err, booking.ErrSheetNotFound),
		errors.Is(err, booking.ErrSlotNotFound),
		errors.Is(err, booking.ErrAppointmentNotFound),
		errors.Is(err, booking.ErrCitizenNotFound),
		errors.Is(err, booking.ErrNoActiveAppointment),
		errors.Is(err, booking.ErrReservationMissing):
		writeError(w, http.StatusNotFound, err.Error())

	default:
		log.Printf("internal error request_id=%s: %v", GetRequestID(r.Context()), err)
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

func bookingOutcome(err error) string {
	var gapErr *booking.GapError
	switch {
	case errors.As(err, &gapErr),
		errors.Is(err, booking.ErrMissingBookingParams),
		errors.Is(err, booking.ErrActiveAppointmentExists),
		errors.Is(err, booking.ErrSlotFull),
		errors.Is(err, booking.ErrSlotBeingBooked),
		errors.Is(err, booking.ErrFullyVaccinated),
		errors.Is(err, booking.ErrDoseOrder),
		errors.Is(err, booking.ErrPastSlot),
		errors.Is(err, booking.ErrUnknownVaccine),
		errors.Is(err, booking.ErrSheetNotFound),
		errors.Is(err, booking.ErrSlotNotFound):
		return "rejected"
	default:
		return "error"
	}
}

func parsePagination(r *http.Request) (page, limit int) {
	page, _ = strconv.Atoi(r.URL.Query().Get("page"))
	limit, _ = strconv.Atoi(r.URL.Query().Get("limit"))
	return page, limit
}

func parseSlotFilter(r *http.Request) (booking.SlotFilter, error) {
	q := r.URL.Query()
	f := booking.SlotFilter{
		Pincode: q.Get("pincode"),
		City:    q.Get("city"),
		State:   q.Get("state"),
		Vaccine: q.Get("vaccine"),
	}
	var err error
	if f.DateFrom, err = parseDate(q.Get("date_from")); err != nil {
		return f, err
	}
	if f.DateTo, err = parseDate(q.Get("date_to")); err != nil {
		return f, err
	}
	return f, nil
}

func parseAppointmentFilter(r *http.Request) (booking.AppointmentFilter, error) {
	q := r.URL.Query()
	var f booking.AppointmentFilter
	var err error
	if f.DateFrom, err = parseDate(q.Get("date_from")); err != nil {
		return f, err
	}
	if f.DateTo, err = parseDate(q.Get("date_to")); err != nil {
		return f, err
	}
	if f.Vaccinated, err = parseBool(q.Get("vaccinated")); err != nil {
		return f, err
	}
	if f.Canceled, err = parseBool(q.Get("canceled")); err != nil {
		return f, err
	}
	return f, nil
}

func parseDate(v string) (*time.Time, error) {
	if v == "" {
		return nil, nil
	}
	t, err := time.Parse(dateLayout, v)
	if err != nil {
		return nil, errors.New("dates must use the YYYY-MM-DD format")
	}
	return &t, nil
}

func parseBool(v string) (*bool, error) {
	if v == "" {
		return nil, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return nil, errors.New("boolean filters accept true or false")
	}
	return &b, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}
