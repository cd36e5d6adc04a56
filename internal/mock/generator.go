// Package mock drives a demo board: it seeds doctors and rooms and then
// changes statuses and the ticker on a timer, through the same Service the
// admin API uses, so every change is broadcast like a real edit.
package mock

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/clinic-tablo/backend/internal/board"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
)

type mockRoom struct {
	number  string
	pattern string
	notes   []string
	id      int64
}

type mockDoctor struct {
	name           string
	specialization string
	id             int64
}

var demoDoctors = []mockDoctor{
	{name: "Dr. Anna Ivanova", specialization: "Therapist"},
	{name: "Dr. Sergey Petrov", specialization: "Cardiologist"},
	{name: "Dr. Maria Sokolova", specialization: "Pediatrician"},
	{name: "Dr. Timur Aliev", specialization: "Surgeon"},
	{name: "Dr. Elena Kuznetsova", specialization: "Ophthalmologist"},
}

var demoTickers = []string{
	"Welcome! Please have your insurance card ready.",
	"Flu vaccinations are available at the front desk.",
	"Laboratory opens at 7:30 on weekdays.",
	"Please keep your phone on silent in waiting areas.",
}

func demoRooms() []*mockRoom {
	return []*mockRoom{
		{number: "101", pattern: "consult", notes: []string{"Patient in session", "Examination", "Consultation"}},
		{number: "102", pattern: "consult", notes: []string{"Patient in session", "Ultrasound"}},
		{number: "103", pattern: "break", notes: []string{"Back in 15 minutes", "Lunch break"}},
		{number: "104", pattern: "shift"},
		{number: "105", pattern: "steady", notes: []string{"Walk-in welcome", "Appointments only"}},
	}
}

type Generator struct {
	svc      *board.Service
	clock    clockwork.Clock
	interval time.Duration
	rng      *rand.Rand
	rooms    []*mockRoom
	doctors  []*mockDoctor
	log      zerolog.Logger
}

func NewGenerator(svc *board.Service, clock clockwork.Clock, interval time.Duration, logger zerolog.Logger) *Generator {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if interval <= 0 {
		interval = 2 * time.Second
	}
	return &Generator{
		svc:      svc,
		clock:    clock,
		interval: interval,
		rng:      rand.New(rand.NewSource(clock.Now().UnixNano())),
		rooms:    demoRooms(),
		log:      logger.With().Str("component", "mock").Logger(),
	}
}

// Start seeds the board and keeps mutating it until ctx is done.
func (g *Generator) Start(ctx context.Context) error {
	if err := g.Seed(ctx); err != nil {
		return err
	}
	go g.run(ctx)
	return nil
}

// Seed creates the demo doctors and rooms. Rooms whose number already
// exists are adopted instead of recreated, so a persisted board can be
// reseeded.
func (g *Generator) Seed(ctx context.Context) error {
	existing, err := g.svc.Doctors(ctx)
	if err != nil {
		return err
	}
	byName := make(map[string]int64, len(existing))
	for _, d := range existing {
		byName[d.FullName] = d.ID
	}

	g.doctors = g.doctors[:0]
	for _, d := range demoDoctors {
		d := d
		if id, ok := byName[d.name]; ok {
			d.id = id
		} else {
			created, err := g.svc.CreateDoctor(ctx, d.name, d.specialization)
			if err != nil {
				return fmt.Errorf("seed doctor %q: %w", d.name, err)
			}
			d.id = created.ID
		}
		g.doctors = append(g.doctors, &d)
	}

	state, err := g.svc.FullState(ctx)
	if err != nil {
		return err
	}
	byNumber := make(map[string]int64, len(state.Rooms))
	for _, r := range state.Rooms {
		byNumber[r.Number] = r.ID
	}

	for i, r := range g.rooms {
		if id, ok := byNumber[r.number]; ok {
			r.id = id
			continue
		}
		doctorID := g.doctors[i%len(g.doctors)].id
		created, err := g.svc.CreateRoom(ctx, r.number, &doctorID)
		if err != nil {
			return fmt.Errorf("seed room %s: %w", r.number, err)
		}
		r.id = created.ID
	}

	g.log.Info().Int("rooms", len(g.rooms)).Int("doctors", len(g.doctors)).Msg("demo board seeded")
	return nil
}

func (g *Generator) run(ctx context.Context) {
	ticker := g.clock.NewTicker(g.interval)
	defer ticker.Stop()

	tick := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			tick++
			g.Step(ctx, tick)
		}
	}
}

// Step applies the changes scheduled for one tick. Errors are logged; a
// room deleted by an admin simply stops changing.
func (g *Generator) Step(ctx context.Context, tick int) {
	for _, r := range g.rooms {
		change, ok := g.advance(r, tick)
		if !ok {
			continue
		}
		if _, err := g.svc.UpdateStatus(ctx, change); err != nil {
			g.log.Debug().Err(err).Str("room", r.number).Msg("mock update skipped")
		}
	}

	if tick%15 == 0 {
		text := demoTickers[(tick/15)%len(demoTickers)]
		if err := g.svc.SetTicker(ctx, text); err != nil {
			g.log.Debug().Err(err).Msg("mock ticker skipped")
		}
	}
}

func (g *Generator) advance(r *mockRoom, tick int) (board.StatusChange, bool) {
	change := board.StatusChange{RoomID: r.id}
	switch r.pattern {
	case "consult":
		// Alternate busy and free every few ticks, with jitter.
		if (tick+g.rng.Intn(2))%3 != 0 {
			return change, false
		}
		if (tick/3)%2 == 0 {
			change.Status, change.Note = "busy", g.pick(r.notes)
		} else {
			change.Status = board.StatusActive
		}
	case "break":
		switch tick % 10 {
		case 5:
			change.Status, change.Note = board.StatusBreak, g.pick(r.notes)
		case 0:
			change.Status = board.StatusActive
		default:
			return change, false
		}
	case "shift":
		if tick%12 != 0 || len(g.doctors) == 0 {
			return change, false
		}
		doc := g.doctors[(tick/12)%len(g.doctors)]
		change.Status, change.Note, change.DoctorID = board.StatusActive, "Shift change", &doc.id
	case "steady":
		if tick%8 != 0 {
			return change, false
		}
		change.Status, change.Note = board.StatusActive, g.pick(r.notes)
	default:
		return change, false
	}
	return change, true
}

func (g *Generator) pick(notes []string) string {
	if len(notes) == 0 {
		return ""
	}
	return notes[g.rng.Intn(len(notes))]
}
