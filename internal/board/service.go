package board

import (
	"context"
	"fmt"
	"strings"

	"github.com/clinic-tablo/backend/internal/event"
	"github.com/rs/zerolog"
)

// Notifier receives one event per committed mutation. Implementations must
// not block the caller on slow recipients and have no way to fail the
// mutation.
type Notifier interface {
	Notify(ev event.Event)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ev event.Event)

func (f NotifierFunc) Notify(ev event.Event) { f(ev) }

// Defaults fill in display fields the store has no value for.
type Defaults struct {
	Ticker           string
	UnassignedDoctor string
}

// Service is the write path in front of a Store. Every mutation validates
// its input, commits, and only then emits exactly one event.
type Service struct {
	store    Store
	notifier Notifier
	defaults Defaults
	log      zerolog.Logger
}

func NewService(store Store, notifier Notifier, defaults Defaults, logger zerolog.Logger) *Service {
	return &Service{
		store:    store,
		notifier: notifier,
		defaults: defaults,
		log:      logger.With().Str("component", "board").Logger(),
	}
}

// FullState builds the canonical display snapshot from the store.
func (s *Service) FullState(ctx context.Context) (FullState, error) {
	rooms, err := s.store.Rooms(ctx)
	if err != nil {
		return FullState{}, fmt.Errorf("load rooms: %w", err)
	}
	ticker, ok, err := s.store.Ticker(ctx)
	if err != nil {
		return FullState{}, fmt.Errorf("load ticker: %w", err)
	}
	if !ok {
		ticker = s.defaults.Ticker
	}

	state := FullState{Rooms: make([]RoomView, 0, len(rooms)), Ticker: ticker}
	for _, r := range rooms {
		view := RoomView{
			ID:         r.ID,
			Number:     r.Number,
			Status:     r.Status,
			StatusNote: r.StatusNote,
			DoctorName: s.defaults.UnassignedDoctor,
		}
		if view.Status == "" {
			view.Status = StatusActive
		}
		if r.Doctor != nil {
			view.DoctorName = r.Doctor.FullName
			view.Specialization = r.Doctor.Specialization
		}
		state.Rooms = append(state.Rooms, view)
	}
	return state, nil
}

func (s *Service) Doctors(ctx context.Context) ([]Doctor, error) {
	doctors, err := s.store.Doctors(ctx)
	if err != nil {
		return nil, fmt.Errorf("load doctors: %w", err)
	}
	return doctors, nil
}

// UpdateStatus sets a room's status and note. A DoctorID of 0 is treated
// as absent and leaves the assignment unchanged.
func (s *Service) UpdateStatus(ctx context.Context, change StatusChange) (Room, error) {
	if change.RoomID <= 0 {
		return Room{}, &ValidationError{Field: "room_id", Reason: "must be positive"}
	}
	change.Status = strings.TrimSpace(change.Status)
	if change.Status == "" {
		return Room{}, &ValidationError{Field: "status", Reason: "must not be empty"}
	}
	if change.DoctorID != nil {
		switch {
		case *change.DoctorID == 0:
			change.DoctorID = nil
		case *change.DoctorID < 0:
			return Room{}, &ValidationError{Field: "doctor_id", Reason: "must not be negative"}
		}
	}

	room, err := s.store.UpdateStatus(ctx, change)
	if err != nil {
		return Room{}, fmt.Errorf("update status of room %d: %w", change.RoomID, err)
	}
	s.emit(event.StatusUpdate(room.ID, room.Status, room.StatusNote, room.Number))
	return room, nil
}

func (s *Service) CreateRoom(ctx context.Context, number string, doctorID *int64) (Room, error) {
	number = strings.TrimSpace(number)
	if number == "" {
		return Room{}, &ValidationError{Field: "number", Reason: "must not be empty"}
	}
	if doctorID != nil && *doctorID <= 0 {
		doctorID = nil
	}

	room, err := s.store.CreateRoom(ctx, number, doctorID)
	if err != nil {
		return Room{}, fmt.Errorf("create room %q: %w", number, err)
	}
	s.emit(event.RoomChange(room.ID))
	return room, nil
}

func (s *Service) DeleteRoom(ctx context.Context, id int64) error {
	if id <= 0 {
		return &ValidationError{Field: "room_id", Reason: "must be positive"}
	}
	if err := s.store.DeleteRoom(ctx, id); err != nil {
		return fmt.Errorf("delete room %d: %w", id, err)
	}
	s.emit(event.RoomChange(id))
	return nil
}

// UpdateRoomDetails renames a room or changes its doctor. A DoctorID of 0
// unassigns the doctor.
func (s *Service) UpdateRoomDetails(ctx context.Context, id int64, details RoomDetails) (Room, error) {
	if id <= 0 {
		return Room{}, &ValidationError{Field: "room_id", Reason: "must be positive"}
	}
	if details.Number != nil {
		number := strings.TrimSpace(*details.Number)
		if number == "" {
			details.Number = nil
		} else {
			details.Number = &number
		}
	}
	if details.DoctorID != nil && *details.DoctorID < 0 {
		return Room{}, &ValidationError{Field: "doctor_id", Reason: "must not be negative"}
	}

	room, err := s.store.UpdateRoomDetails(ctx, id, details)
	if err != nil {
		return Room{}, fmt.Errorf("update room %d: %w", id, err)
	}
	s.emit(event.RoomChange(room.ID))
	return room, nil
}

func (s *Service) CreateDoctor(ctx context.Context, fullName, specialization string) (Doctor, error) {
	fullName = strings.TrimSpace(fullName)
	if fullName == "" {
		return Doctor{}, &ValidationError{Field: "full_name", Reason: "must not be empty"}
	}

	doctor, err := s.store.CreateDoctor(ctx, fullName, strings.TrimSpace(specialization))
	if err != nil {
		return Doctor{}, fmt.Errorf("create doctor: %w", err)
	}
	s.emit(event.DoctorCreated(doctor.ID))
	return doctor, nil
}

func (s *Service) SetTicker(ctx context.Context, text string) error {
	if err := s.store.SetTicker(ctx, text); err != nil {
		return fmt.Errorf("set ticker: %w", err)
	}
	s.emit(event.TickerUpdate(text))
	return nil
}

func (s *Service) emit(ev event.Event) {
	s.log.Debug().Str("kind", string(ev.Kind())).Msg("mutation committed")
	if s.notifier != nil {
		s.notifier.Notify(ev)
	}
}
