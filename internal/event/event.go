// Package event defines the notifications pushed to display terminals.
//
// An Event names the class of change that was committed and carries a
// minimal, kind-dependent set of fields. Fields are a hint: some mutations
// include the new values, others only an identifier. Receivers must treat
// every event as a signal to re-fetch the full board rather than as a
// self-sufficient delta.
package event

import (
	"encoding/json"
	"errors"
	"fmt"
	"maps"
)

type Kind string

const (
	StatusChanged Kind = "STATUS_CHANGED"
	TickerChanged Kind = "TICKER_CHANGED"
	DoctorAdded   Kind = "DOCTOR_ADDED"
)

// Field names used on the wire.
const (
	FieldType       = "type"
	FieldRoomID     = "room_id"
	FieldStatus     = "status"
	FieldNote       = "note"
	FieldRoomNumber = "room_number"
	FieldText       = "text"
	FieldDoctorID   = "doctor_id"
)

var knownKinds = map[Kind]bool{
	StatusChanged: true,
	TickerChanged: true,
	DoctorAdded:   true,
}

// Known reports whether k is one of the kinds this build emits. Receivers
// should still resync on unknown kinds.
func (k Kind) Known() bool {
	return knownKinds[k]
}

var errMissingType = errors.New("event: missing type")

// Event is an immutable kind-tagged notification. The zero value is not a
// valid event.
type Event struct {
	kind   Kind
	fields map[string]any
}

// New builds an event of the given kind. The fields map is copied; a
// "type" key in fields is ignored.
func New(kind Kind, fields map[string]any) Event {
	e := Event{kind: kind, fields: make(map[string]any, len(fields))}
	for k, v := range fields {
		if k == FieldType {
			continue
		}
		e.fields[k] = v
	}
	return e
}

// StatusUpdate is emitted when a room's status is edited. It carries the
// new status fields.
func StatusUpdate(roomID int64, status, note, roomNumber string) Event {
	return New(StatusChanged, map[string]any{
		FieldRoomID:     roomID,
		FieldStatus:     status,
		FieldNote:       note,
		FieldRoomNumber: roomNumber,
	})
}

// RoomChange is emitted when a room is created, deleted or has its details
// edited. Only the room id is carried.
func RoomChange(roomID int64) Event {
	return New(StatusChanged, map[string]any{FieldRoomID: roomID})
}

func TickerUpdate(text string) Event {
	return New(TickerChanged, map[string]any{FieldText: text})
}

func DoctorCreated(doctorID int64) Event {
	return New(DoctorAdded, map[string]any{FieldDoctorID: doctorID})
}

func (e Event) Kind() Kind {
	return e.kind
}

// Field returns the raw value of a field and whether it was present.
func (e Event) Field(name string) (any, bool) {
	v, ok := e.fields[name]
	return v, ok
}

// Fields returns a copy of the event's fields, excluding the type.
func (e Event) Fields() map[string]any {
	return maps.Clone(e.fields)
}

// Int64Field returns an integer field. Values decoded from JSON arrive as
// float64 and are converted when they hold a whole number.
func (e Event) Int64Field(name string) (int64, bool) {
	switch v := e.fields[name].(type) {
	case int:
		return int64(v), true
	case int32:
		return int64(v), true
	case int64:
		return v, true
	case float64:
		if v != float64(int64(v)) {
			return 0, false
		}
		return int64(v), true
	case json.Number:
		n, err := v.Int64()
		return n, err == nil
	}
	return 0, false
}

// StringField returns a string field.
func (e Event) StringField(name string) (string, bool) {
	s, ok := e.fields[name].(string)
	return s, ok
}

func (e Event) MarshalJSON() ([]byte, error) {
	if e.kind == "" {
		return nil, errMissingType
	}
	out := make(map[string]any, len(e.fields)+1)
	maps.Copy(out, e.fields)
	out[FieldType] = e.kind
	return json.Marshal(out)
}

func (e *Event) UnmarshalJSON(data []byte) error {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	kind, ok := raw[FieldType].(string)
	if !ok || kind == "" {
		return errMissingType
	}
	delete(raw, FieldType)
	e.kind = Kind(kind)
	e.fields = raw
	return nil
}

func (e Event) String() string {
	return fmt.Sprintf("%s%v", e.kind, e.fields)
}
