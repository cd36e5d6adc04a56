package board

import (
	"cmp"
	"context"
	"slices"
	"sync"
)

// MemoryStore is a Store kept in process memory. Reads return copies so
// callers can never mutate stored state.
type MemoryStore struct {
	mu           sync.RWMutex
	rooms        map[int64]*Room
	doctors      map[int64]*Doctor
	ticker       *string
	nextRoomID   int64
	nextDoctorID int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		rooms:        make(map[int64]*Room),
		doctors:      make(map[int64]*Doctor),
		nextRoomID:   1,
		nextDoctorID: 1,
	}
}

func (s *MemoryStore) Rooms(_ context.Context) ([]RoomWithDoctor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]RoomWithDoctor, 0, len(s.rooms))
	for _, r := range s.rooms {
		row := RoomWithDoctor{Room: r.Clone()}
		if r.DoctorID != nil {
			if d, ok := s.doctors[*r.DoctorID]; ok {
				copy := *d
				row.Doctor = &copy
			}
		}
		result = append(result, row)
	}
	slices.SortFunc(result, func(a, b RoomWithDoctor) int {
		return cmp.Compare(a.ID, b.ID)
	})
	return result, nil
}

func (s *MemoryStore) Ticker(_ context.Context) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.ticker == nil {
		return "", false, nil
	}
	return *s.ticker, true, nil
}

func (s *MemoryStore) Doctors(_ context.Context) ([]Doctor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]Doctor, 0, len(s.doctors))
	for _, d := range s.doctors {
		result = append(result, *d)
	}
	slices.SortFunc(result, func(a, b Doctor) int {
		return cmp.Compare(a.ID, b.ID)
	})
	return result, nil
}

func (s *MemoryStore) CreateDoctor(_ context.Context, fullName, specialization string) (Doctor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d := &Doctor{ID: s.nextDoctorID, FullName: fullName, Specialization: specialization}
	s.nextDoctorID++
	s.doctors[d.ID] = d
	return *d, nil
}

func (s *MemoryStore) CreateRoom(_ context.Context, number string, doctorID *int64) (Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.numberTaken(number, 0) {
		return Room{}, ErrDuplicateRoomNumber
	}
	if err := s.checkDoctor(doctorID); err != nil {
		return Room{}, err
	}
	r := &Room{ID: s.nextRoomID, Number: number, DoctorID: doctorID, Status: StatusBreak}
	*r = r.Clone()
	s.nextRoomID++
	s.rooms[r.ID] = r
	return r.Clone(), nil
}

func (s *MemoryStore) DeleteRoom(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rooms[id]; !ok {
		return ErrRoomNotFound
	}
	delete(s.rooms, id)
	return nil
}

func (s *MemoryStore) UpdateRoomDetails(_ context.Context, id int64, details RoomDetails) (Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rooms[id]
	if !ok {
		return Room{}, ErrRoomNotFound
	}
	if details.Number != nil && s.numberTaken(*details.Number, id) {
		return Room{}, ErrDuplicateRoomNumber
	}
	if details.DoctorID != nil && *details.DoctorID != 0 {
		if err := s.checkDoctor(details.DoctorID); err != nil {
			return Room{}, err
		}
	}

	if details.Number != nil {
		r.Number = *details.Number
	}
	if details.DoctorID != nil {
		if *details.DoctorID == 0 {
			r.DoctorID = nil
		} else {
			id := *details.DoctorID
			r.DoctorID = &id
		}
	}
	return r.Clone(), nil
}

func (s *MemoryStore) UpdateStatus(_ context.Context, change StatusChange) (Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rooms[change.RoomID]
	if !ok {
		return Room{}, ErrRoomNotFound
	}
	if err := s.checkDoctor(change.DoctorID); err != nil {
		return Room{}, err
	}
	r.Status = change.Status
	r.StatusNote = change.Note
	if change.DoctorID != nil {
		id := *change.DoctorID
		r.DoctorID = &id
	}
	return r.Clone(), nil
}

func (s *MemoryStore) SetTicker(_ context.Context, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ticker = &text
	return nil
}

// numberTaken must be called with the lock held.
func (s *MemoryStore) numberTaken(number string, except int64) bool {
	for id, r := range s.rooms {
		if id != except && r.Number == number {
			return true
		}
	}
	return false
}

// checkDoctor must be called with the lock held.
func (s *MemoryStore) checkDoctor(id *int64) error {
	if id == nil {
		return nil
	}
	if _, ok := s.doctors[*id]; !ok {
		return ErrDoctorNotFound
	}
	return nil
}
