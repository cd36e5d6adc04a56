// Package board holds the clinic board domain: rooms, doctors and the
// ticker, the Store interface the persistence layer implements, and the
// Service that couples every committed mutation to exactly one broadcast.
package board

import (
	"context"
	"errors"
	"fmt"
)

const (
	StatusActive = "active"
	StatusBreak  = "break"
)

var (
	ErrRoomNotFound        = errors.New("room not found")
	ErrDoctorNotFound      = errors.New("doctor not found")
	ErrDuplicateRoomNumber = errors.New("room number already exists")
)

// ValidationError reports malformed input to a write operation.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

type Doctor struct {
	ID             int64  `json:"id"`
	FullName       string `json:"full_name"`
	Specialization string `json:"specialization"`
}

type Room struct {
	ID         int64  `json:"id"`
	Number     string `json:"number"`
	DoctorID   *int64 `json:"doctor_id"`
	Status     string `json:"status"`
	StatusNote string `json:"status_note"`
}

// Clone returns a copy of the room whose DoctorID can be mutated
// independently of the original.
func (r Room) Clone() Room {
	if r.DoctorID != nil {
		id := *r.DoctorID
		r.DoctorID = &id
	}
	return r
}

// RoomWithDoctor is a room joined with its assigned doctor, if any.
type RoomWithDoctor struct {
	Room
	Doctor *Doctor
}

// RoomView is one row on the display board.
type RoomView struct {
	ID             int64  `json:"id"`
	Number         string `json:"number"`
	Status         string `json:"status"`
	StatusNote     string `json:"status_note"`
	DoctorName     string `json:"doctor_name"`
	Specialization string `json:"specialization"`
}

// FullState is the canonical snapshot a display needs to redraw the board.
type FullState struct {
	Rooms  []RoomView `json:"rooms"`
	Ticker string     `json:"ticker"`
}

// Room returns the row for a room id.
func (s FullState) Room(id int64) (RoomView, bool) {
	for _, r := range s.Rooms {
		if r.ID == id {
			return r, true
		}
	}
	return RoomView{}, false
}

// StatusChange is the input to Store.UpdateStatus. A nil DoctorID leaves
// the assignment untouched.
type StatusChange struct {
	RoomID   int64
	Status   string
	Note     string
	DoctorID *int64
}

// RoomDetails is the input to Store.UpdateRoomDetails. Nil fields are left
// untouched; a DoctorID pointing at 0 clears the assignment.
type RoomDetails struct {
	Number   *string
	DoctorID *int64
}

// Store is the persistence layer. Every method commits atomically or not
// at all; a returned error means nothing changed.
type Store interface {
	Rooms(ctx context.Context) ([]RoomWithDoctor, error)
	Ticker(ctx context.Context) (text string, ok bool, err error)
	Doctors(ctx context.Context) ([]Doctor, error)

	CreateDoctor(ctx context.Context, fullName, specialization string) (Doctor, error)
	CreateRoom(ctx context.Context, number string, doctorID *int64) (Room, error)
	DeleteRoom(ctx context.Context, id int64) error
	UpdateRoomDetails(ctx context.Context, id int64, details RoomDetails) (Room, error)
	UpdateStatus(ctx context.Context, change StatusChange) (Room, error)
	SetTicker(ctx context.Context, text string) error
}
