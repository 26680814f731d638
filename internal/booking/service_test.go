package booking

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	redisclient "github.com/seturahealth/vaccine-slot-booking/internal/redis"
	"github.com/seturahealth/vaccine-slot-booking/internal/vaccine"
)

var testLoc = time.FixedZone("IST", 5*3600+1800)

// fakeStore is an in-memory Repository. InTx snapshots the maps up front and
// restores them on error, matching the all-or-nothing behavior of the real
// transaction.
type fakeStore struct {
	centers      map[uuid.UUID]Center
	sheets       map[uuid.UUID]SlotSheet
	slots        map[uuid.UUID]Slot
	appointments map[uuid.UUID]Appointment
	reservations map[uuid.UUID]Reservation
	accounts     map[uuid.UUID]CitizenAccount
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		centers:      make(map[uuid.UUID]Center),
		sheets:       make(map[uuid.UUID]SlotSheet),
		slots:        make(map[uuid.UUID]Slot),
		appointments: make(map[uuid.UUID]Appointment),
		reservations: make(map[uuid.UUID]Reservation),
		accounts:     make(map[uuid.UUID]CitizenAccount),
	}
}

func cloneMap[K comparable, V any](m map[K]V) map[K]V {
	out := make(map[K]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func (s *fakeStore) InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	centers, sheets, slots := cloneMap(s.centers), cloneMap(s.sheets), cloneMap(s.slots)
	appts, res, accounts := cloneMap(s.appointments), cloneMap(s.reservations), cloneMap(s.accounts)

	if err := fn(ctx, (*fakeTx)(s)); err != nil {
		s.centers, s.sheets, s.slots = centers, sheets, slots
		s.appointments, s.reservations, s.accounts = appts, res, accounts
		return err
	}
	return nil
}

func (s *fakeStore) ListCenterSlots(ctx context.Context, f SlotFilter, today time.Time, nowLabel string, page, limit int) (*Page[CenterSlots], error) {
	return &Page[CenterSlots]{Page: page, Limit: limit}, nil
}

func (s *fakeStore) ListAppointments(ctx context.Context, nationalID string, f AppointmentFilter, page, limit int) (*Page[Appointment], error) {
	var items []Appointment
	for _, a := range s.appointments {
		if a.NationalID == nationalID {
			items = append(items, a)
		}
	}
	return &Page[Appointment]{Items: items, Page: page, Limit: limit, TotalItems: int64(len(items))}, nil
}

type fakeTx fakeStore

func (t *fakeTx) CountActiveAppointments(ctx context.Context, nationalID string) (int, error) {
	n := 0
	for _, a := range t.appointments {
		if a.NationalID == nationalID && a.IsActive() {
			n++
		}
	}
	return n, nil
}

func (t *fakeTx) CountVaccinatedDoses(ctx context.Context, nationalID string) (int, error) {
	n := 0
	for _, a := range t.appointments {
		if a.NationalID == nationalID && a.VaccinatedAt != nil {
			n++
		}
	}
	return n, nil
}

func (t *fakeTx) LatestVaccinatedAppointment(ctx context.Context, nationalID string) (*Appointment, error) {
	var latest *Appointment
	for _, a := range t.appointments {
		a := a
		if a.NationalID != nationalID || a.VaccinatedAt == nil {
			continue
		}
		if latest == nil || a.VaccinatedAt.After(*latest.VaccinatedAt) {
			latest = &a
		}
	}
	return latest, nil
}

func (t *fakeTx) GetSheet(ctx context.Context, sheetID uuid.UUID) (*SlotSheet, error) {
	sh, ok := t.sheets[sheetID]
	if !ok {
		return nil, ErrSheetNotFound
	}
	return &sh, nil
}

func (t *fakeTx) GetCenter(ctx context.Context, centerID uuid.UUID) (*Center, error) {
	c, ok := t.centers[centerID]
	if !ok {
		return nil, ErrSlotNotFound
	}
	return &c, nil
}

func (t *fakeTx) GetSlotForUpdate(ctx context.Context, sheetID uuid.UUID, timeLabel string) (*Slot, error) {
	for _, s := range t.slots {
		if s.SheetID == sheetID && s.TimeLabel == timeLabel {
			s := s
			return &s, nil
		}
	}
	return nil, ErrSlotNotFound
}

func (t *fakeTx) UpdateSlotCapacity(ctx context.Context, slotID uuid.UUID, remain int, status SlotStatus) error {
	s := t.slots[slotID]
	s.RemainCapacity = remain
	s.Status = status
	t.slots[slotID] = s
	return nil
}

func (t *fakeTx) InsertAppointment(ctx context.Context, a *Appointment) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	a.CreatedAt = time.Now()
	a.UpdatedAt = a.CreatedAt
	t.appointments[a.ID] = *a
	return nil
}

func (t *fakeTx) InsertReservation(ctx context.Context, r *Reservation) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	t.reservations[r.ID] = *r
	return nil
}

func (t *fakeTx) ActiveAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	a, ok := t.appointments[id]
	if !ok || !a.IsActive() {
		return nil, ErrAppointmentNotFound
	}
	return &a, nil
}

func (t *fakeTx) ActiveAppointmentByNationalID(ctx context.Context, nationalID string) (*Appointment, error) {
	for _, a := range t.appointments {
		if a.NationalID == nationalID && a.IsActive() {
			a := a
			return &a, nil
		}
	}
	return nil, ErrAppointmentNotFound
}

func (t *fakeTx) CitizenByPhone(ctx context.Context, phone string) (*CitizenAccount, error) {
	for _, acc := range t.accounts {
		if acc.Phone == phone {
			acc := acc
			return &acc, nil
		}
	}
	return nil, ErrCitizenNotFound
}

func (t *fakeTx) MarkAppointmentVaccinated(ctx context.Context, id uuid.UUID, at time.Time, actionBy uuid.UUID) error {
	a := t.appointments[id]
	a.VaccinatedAt = &at
	a.ActionBy = &actionBy
	t.appointments[id] = a
	return nil
}

func (t *fakeTx) SetCitizenVaccinationStatus(ctx context.Context, nationalID string, status int, vaccineName string) error {
	for id, acc := range t.accounts {
		if acc.NationalID == nationalID {
			acc.VaccinationStatus = status
			acc.Vaccine = &vaccineName
			t.accounts[id] = acc
		}
	}
	return nil
}

func (t *fakeTx) RecordSlotVaccination(ctx context.Context, sheetID uuid.UUID, timeLabel string, appointmentID uuid.UUID, at time.Time) (int64, error) {
	for id, r := range t.reservations {
		slot := t.slots[r.SlotID]
		if r.AppointmentID != appointmentID || r.VaccinatedAt != nil {
			continue
		}
		if slot.SheetID != sheetID || slot.TimeLabel != timeLabel {
			continue
		}
		r.VaccinatedAt = &at
		t.reservations[id] = r
		slot.TotalVaccinated++
		t.slots[r.SlotID] = slot
		return 1, nil
	}
	return 0, nil
}

func (t *fakeTx) AppointmentForCitizen(ctx context.Context, id uuid.UUID, nationalID string) (*Appointment, error) {
	a, ok := t.appointments[id]
	if !ok || a.NationalID != nationalID {
		return nil, ErrAppointmentNotFound
	}
	return &a, nil
}

func (t *fakeTx) MarkAppointmentCanceled(ctx context.Context, id uuid.UUID, at time.Time) error {
	a := t.appointments[id]
	a.CanceledAt = &at
	t.appointments[id] = a
	return nil
}

func (t *fakeTx) RemoveReservation(ctx context.Context, slotID, appointmentID uuid.UUID) (bool, error) {
	for id, r := range t.reservations {
		if r.SlotID == slotID && r.AppointmentID == appointmentID {
			delete(t.reservations, id)
			return true, nil
		}
	}
	return false, nil
}

type passLocker struct{}

func (passLocker) WithSliceLock(ctx context.Context, sheetID uuid.UUID, timeLabel string, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

type busyLocker struct{}

func (busyLocker) WithSliceLock(ctx context.Context, sheetID uuid.UUID, timeLabel string, fn func(ctx context.Context) error) error {
	return redisclient.ErrLockNotAcquired
}

type fixture struct {
	store   *fakeStore
	svc     *Service
	center  Center
	sheet   SlotSheet
	slot    Slot
	citizen Citizen
	now     time.Time
}

// newFixture seeds one center with a sheet two days out, so neither the
// same-day cutoff nor the cancellation notice interferes unless a test
// moves the clock.
func newFixture(t *testing.T) *fixture {
	t.Helper()

	store := newFakeStore()
	now := time.Date(2026, 3, 10, 9, 0, 0, 0, testLoc)

	center := Center{
		ID:                  uuid.New(),
		Name:                "Jayanagar General Hospital",
		City:                "bengaluru",
		State:               "karnataka",
		Vaccine:             vaccine.Covishield,
		IsActive:            true,
		SlotDurationMinutes: 30,
		SlotMaxAppointments: 5,
		OpenTime:            "09:00",
		CloseTime:           "17:00",
	}
	sheet := SlotSheet{
		ID:       uuid.New(),
		CenterID: center.ID,
		Date:     time.Date(2026, 3, 12, 0, 0, 0, 0, testLoc),
	}
	slot := Slot{
		ID:             uuid.New(),
		SheetID:        sheet.ID,
		TimeLabel:      "10:00-10:30",
		TotalCapacity:  5,
		RemainCapacity: 5,
		Status:         SlotAvailable,
	}

	store.centers[center.ID] = center
	store.sheets[sheet.ID] = sheet
	store.slots[slot.ID] = slot

	citizen := Citizen{ID: uuid.New(), NationalID: "111122223333"}
	store.accounts[citizen.ID] = CitizenAccount{
		ID:         citizen.ID,
		NationalID: citizen.NationalID,
		Phone:      "9876543210",
	}

	svc := NewService(store, passLocker{}, vaccine.DefaultCatalog(), testLoc)
	svc.now = func() time.Time { return now }

	return &fixture{
		store:   store,
		svc:     svc,
		center:  center,
		sheet:   sheet,
		slot:    slot,
		citizen: citizen,
		now:     now,
	}
}

func (f *fixture) setNow(at time.Time) {
	f.svc.now = func() time.Time { return at }
}

func (f *fixture) slotState(t *testing.T) Slot {
	t.Helper()
	s, ok := f.store.slots[f.slot.ID]
	require.True(t, ok)
	return s
}

func TestBookSlotFirstDose(t *testing.T) {
	f := newFixture(t)

	conf, err := f.svc.BookSlot(context.Background(), f.citizen, f.sheet.ID, "10:00-10:30")
	require.NoError(t, err)

	assert.Equal(t, 1, conf.Dose)
	assert.Equal(t, vaccine.Covishield, conf.Vaccine)
	assert.Equal(t, "10:00-10:30", conf.TimeLabel)

	assert.Equal(t, 4, f.slotState(t).RemainCapacity)
	assert.Len(t, f.store.reservations, 1)

	appt := f.store.appointments[conf.AppointmentID]
	assert.True(t, appt.IsActive())
	assert.Equal(t, f.citizen.NationalID, appt.NationalID)
}

func TestBookSlotRejectsMissingParams(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.BookSlot(context.Background(), f.citizen, f.sheet.ID, "")
	assert.ErrorIs(t, err, ErrMissingBookingParams)

	_, err = f.svc.BookSlot(context.Background(), Citizen{ID: f.citizen.ID}, f.sheet.ID, "10:00-10:30")
	assert.ErrorIs(t, err, ErrMissingBookingParams)
}

func TestBookSlotRejectsSecondActiveBooking(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.BookSlot(context.Background(), f.citizen, f.sheet.ID, "10:00-10:30")
	require.NoError(t, err)

	_, err = f.svc.BookSlot(context.Background(), f.citizen, f.sheet.ID, "10:00-10:30")
	assert.ErrorIs(t, err, ErrActiveAppointmentExists)

	assert.Equal(t, 4, f.slotState(t).RemainCapacity)
}

func TestBookSlotExhaustsCapacity(t *testing.T) {
	f := newFixture(t)

	slot := f.store.slots[f.slot.ID]
	slot.TotalCapacity = 1
	slot.RemainCapacity = 1
	f.store.slots[f.slot.ID] = slot

	_, err := f.svc.BookSlot(context.Background(), f.citizen, f.sheet.ID, "10:00-10:30")
	require.NoError(t, err)

	assert.Equal(t, 0, f.slotState(t).RemainCapacity)
	assert.Equal(t, SlotFull, f.slotState(t).Status)

	other := Citizen{ID: uuid.New(), NationalID: "444455556666"}
	_, err = f.svc.BookSlot(context.Background(), other, f.sheet.ID, "10:00-10:30")
	assert.ErrorIs(t, err, ErrSlotFull)
}

func TestBookSlotWhileLocked(t *testing.T) {
	f := newFixture(t)
	f.svc.locker = busyLocker{}

	_, err := f.svc.BookSlot(context.Background(), f.citizen, f.sheet.ID, "10:00-10:30")
	assert.ErrorIs(t, err, ErrSlotBeingBooked)
}

func TestBookSlotDoseGap(t *testing.T) {
	f := newFixture(t)

	vaccinatedAt := f.now.AddDate(0, 0, -10)
	f.seedVaccinatedDose(vaccinatedAt)

	_, err := f.svc.BookSlot(context.Background(), f.citizen, f.sheet.ID, "10:00-10:30")

	var gapErr *GapError
	require.ErrorAs(t, err, &gapErr)
	assert.True(t, gapErr.NextEligible.Equal(vaccinatedAt.AddDate(0, 0, 60)))
}

func TestBookSlotSecondDoseAfterGap(t *testing.T) {
	f := newFixture(t)

	f.seedVaccinatedDose(f.now.AddDate(0, 0, -61))

	conf, err := f.svc.BookSlot(context.Background(), f.citizen, f.sheet.ID, "10:00-10:30")
	require.NoError(t, err)
	assert.Equal(t, 2, conf.Dose)
}

func TestBookSlotFullyVaccinated(t *testing.T) {
	f := newFixture(t)

	f.seedVaccinatedDose(f.now.AddDate(0, 0, -130))
	f.seedVaccinatedDose(f.now.AddDate(0, 0, -65))

	_, err := f.svc.BookSlot(context.Background(), f.citizen, f.sheet.ID, "10:00-10:30")
	assert.ErrorIs(t, err, ErrFullyVaccinated)
}

func TestBookSlotUnknownVaccine(t *testing.T) {
	f := newFixture(t)

	center := f.store.centers[f.center.ID]
	center.Vaccine = "sputnik"
	f.store.centers[f.center.ID] = center

	_, err := f.svc.BookSlot(context.Background(), f.citizen, f.sheet.ID, "10:00-10:30")
	assert.ErrorIs(t, err, ErrUnknownVaccine)
}

func TestBookSlotSameDayCutoff(t *testing.T) {
	f := newFixture(t)

	// Move the sheet to today and the clock inside the 10:00 slice.
	sheet := f.store.sheets[f.sheet.ID]
	sheet.Date = time.Date(2026, 3, 10, 0, 0, 0, 0, testLoc)
	f.store.sheets[f.sheet.ID] = sheet
	f.setNow(time.Date(2026, 3, 10, 10, 5, 0, 0, testLoc))

	_, err := f.svc.BookSlot(context.Background(), f.citizen, f.sheet.ID, "10:00-10:30")
	assert.ErrorIs(t, err, ErrPastSlot)

	later := Slot{
		ID:             uuid.New(),
		SheetID:        f.sheet.ID,
		TimeLabel:      "10:30-11:00",
		TotalCapacity:  5,
		RemainCapacity: 5,
		Status:         SlotAvailable,
	}
	f.store.slots[later.ID] = later

	conf, err := f.svc.BookSlot(context.Background(), f.citizen, f.sheet.ID, "10:30-11:00")
	require.NoError(t, err)
	assert.Equal(t, "10:30-11:00", conf.TimeLabel)
}

func TestBookSlotUnknownSheet(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.BookSlot(context.Background(), f.citizen, uuid.New(), "10:00-10:30")
	assert.ErrorIs(t, err, ErrSheetNotFound)
}

func TestCancelAppointmentRestoresCapacity(t *testing.T) {
	f := newFixture(t)

	conf, err := f.svc.BookSlot(context.Background(), f.citizen, f.sheet.ID, "10:00-10:30")
	require.NoError(t, err)
	require.Equal(t, 4, f.slotState(t).RemainCapacity)

	// Slot starts 2026-03-12 10:00; 09:00 the day before is outside the
	// 24-hour notice window.
	f.setNow(time.Date(2026, 3, 11, 9, 0, 0, 0, testLoc))

	err = f.svc.CancelAppointment(context.Background(), f.citizen, conf.AppointmentID)
	require.NoError(t, err)

	assert.Equal(t, 5, f.slotState(t).RemainCapacity)
	assert.Empty(t, f.store.reservations)
	canceledAppt := f.store.appointments[conf.AppointmentID]
	assert.False(t, canceledAppt.IsActive())
}

func TestCancelAppointmentReopensFullSlot(t *testing.T) {
	f := newFixture(t)

	slot := f.store.slots[f.slot.ID]
	slot.TotalCapacity = 1
	slot.RemainCapacity = 1
	f.store.slots[f.slot.ID] = slot

	conf, err := f.svc.BookSlot(context.Background(), f.citizen, f.sheet.ID, "10:00-10:30")
	require.NoError(t, err)
	require.Equal(t, SlotFull, f.slotState(t).Status)

	err = f.svc.CancelAppointment(context.Background(), f.citizen, conf.AppointmentID)
	require.NoError(t, err)

	assert.Equal(t, SlotAvailable, f.slotState(t).Status)
	assert.Equal(t, 1, f.slotState(t).RemainCapacity)
}

func TestCancelAppointmentInsideNoticeWindow(t *testing.T) {
	f := newFixture(t)

	conf, err := f.svc.BookSlot(context.Background(), f.citizen, f.sheet.ID, "10:00-10:30")
	require.NoError(t, err)

	f.setNow(time.Date(2026, 3, 11, 11, 0, 0, 0, testLoc))

	err = f.svc.CancelAppointment(context.Background(), f.citizen, conf.AppointmentID)
	assert.ErrorIs(t, err, ErrCancelWindowClosed)
	assert.Equal(t, 4, f.slotState(t).RemainCapacity)
}

func TestCancelAppointmentTwice(t *testing.T) {
	f := newFixture(t)

	conf, err := f.svc.BookSlot(context.Background(), f.citizen, f.sheet.ID, "10:00-10:30")
	require.NoError(t, err)

	require.NoError(t, f.svc.CancelAppointment(context.Background(), f.citizen, conf.AppointmentID))

	err = f.svc.CancelAppointment(context.Background(), f.citizen, conf.AppointmentID)
	assert.ErrorIs(t, err, ErrNotCancelable)
	assert.Equal(t, 5, f.slotState(t).RemainCapacity)
}

func TestCancelAppointmentOfAnotherCitizen(t *testing.T) {
	f := newFixture(t)

	conf, err := f.svc.BookSlot(context.Background(), f.citizen, f.sheet.ID, "10:00-10:30")
	require.NoError(t, err)

	other := Citizen{ID: uuid.New(), NationalID: "999900001111"}
	err = f.svc.CancelAppointment(context.Background(), other, conf.AppointmentID)
	assert.ErrorIs(t, err, ErrAppointmentNotFound)
}

func TestMarkVaccinatedByAppointmentID(t *testing.T) {
	f := newFixture(t)

	conf, err := f.svc.BookSlot(context.Background(), f.citizen, f.sheet.ID, "10:00-10:30")
	require.NoError(t, err)

	admin := uuid.New()
	record, err := f.svc.MarkVaccinated(context.Background(), admin, VaccinationLookup{
		AppointmentID: &conf.AppointmentID,
	})
	require.NoError(t, err)
	assert.Equal(t, conf.AppointmentID, record.AppointmentID)

	appt := f.store.appointments[conf.AppointmentID]
	require.NotNil(t, appt.VaccinatedAt)
	assert.Equal(t, admin, *appt.ActionBy)

	acc := f.store.accounts[f.citizen.ID]
	assert.Equal(t, 1, acc.VaccinationStatus)

	assert.Equal(t, 1, f.slotState(t).TotalVaccinated)

	// The appointment is terminal now, marking again finds nothing active.
	_, err = f.svc.MarkVaccinated(context.Background(), admin, VaccinationLookup{
		AppointmentID: &conf.AppointmentID,
	})
	assert.ErrorIs(t, err, ErrNoActiveAppointment)
}

func TestMarkVaccinatedFinalDoseSetsFullStatus(t *testing.T) {
	f := newFixture(t)

	f.seedVaccinatedDose(f.now.AddDate(0, 0, -61))

	conf, err := f.svc.BookSlot(context.Background(), f.citizen, f.sheet.ID, "10:00-10:30")
	require.NoError(t, err)
	require.Equal(t, 2, conf.Dose)

	_, err = f.svc.MarkVaccinated(context.Background(), uuid.New(), VaccinationLookup{
		AppointmentID: &conf.AppointmentID,
	})
	require.NoError(t, err)

	acc := f.store.accounts[f.citizen.ID]
	assert.Equal(t, vaccine.FullyVaccinatedStatus, acc.VaccinationStatus)
}

func TestMarkVaccinatedByNationalIDAndPhone(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.BookSlot(context.Background(), f.citizen, f.sheet.ID, "10:00-10:30")
	require.NoError(t, err)

	record, err := f.svc.MarkVaccinated(context.Background(), uuid.New(), VaccinationLookup{
		NationalID: f.citizen.NationalID,
	})
	require.NoError(t, err)
	require.NotNil(t, record)

	f2 := newFixture(t)
	_, err = f2.svc.BookSlot(context.Background(), f2.citizen, f2.sheet.ID, "10:00-10:30")
	require.NoError(t, err)

	record, err = f2.svc.MarkVaccinated(context.Background(), uuid.New(), VaccinationLookup{
		Phone: "9876543210",
	})
	require.NoError(t, err)
	require.NotNil(t, record)
}

func TestMarkVaccinatedWithoutLookup(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.MarkVaccinated(context.Background(), uuid.New(), VaccinationLookup{})
	assert.ErrorIs(t, err, ErrMissingLookupParams)
}

func TestMarkVaccinatedMissingReservationRollsBack(t *testing.T) {
	f := newFixture(t)

	conf, err := f.svc.BookSlot(context.Background(), f.citizen, f.sheet.ID, "10:00-10:30")
	require.NoError(t, err)

	// Drop the reservation behind the service's back.
	for id := range f.store.reservations {
		delete(f.store.reservations, id)
	}

	_, err = f.svc.MarkVaccinated(context.Background(), uuid.New(), VaccinationLookup{
		AppointmentID: &conf.AppointmentID,
	})
	assert.ErrorIs(t, err, ErrReservationMissing)

	// The whole transaction rolled back: the appointment is still active and
	// no status was written.
	activeAppt := f.store.appointments[conf.AppointmentID]
	assert.True(t, activeAppt.IsActive())
	assert.Equal(t, 0, f.store.accounts[f.citizen.ID].VaccinationStatus)
	assert.Equal(t, 0, f.slotState(t).TotalVaccinated)
}

// seedVaccinatedDose plants a completed appointment directly in the store so
// gap and dose-count rules see prior history.
func (f *fixture) seedVaccinatedDose(at time.Time) {
	id := uuid.New()
	f.store.appointments[id] = Appointment{
		ID:           id,
		NationalID:   f.citizen.NationalID,
		SheetID:      f.sheet.ID,
		TimeLabel:    "09:00-09:30",
		Date:         at,
		Dose:         1,
		Vaccine:      vaccine.Covishield,
		CitizenID:    f.citizen.ID,
		VaccinatedAt: &at,
	}
}
