// Package sqlstore implements board.Store on an SQLite database file.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/clinic-tablo/backend/internal/board"
	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS doctors (
	id             INTEGER PRIMARY KEY AUTOINCREMENT,
	full_name      TEXT NOT NULL,
	specialization TEXT NOT NULL DEFAULT ''
);
CREATE TABLE IF NOT EXISTS rooms (
	id                INTEGER PRIMARY KEY AUTOINCREMENT,
	number            TEXT NOT NULL UNIQUE,
	current_doctor_id INTEGER REFERENCES doctors(id),
	status            TEXT NOT NULL DEFAULT 'active',
	status_note       TEXT NOT NULL DEFAULT ''
);
CREATE TABLE IF NOT EXISTS content (
	id        INTEGER PRIMARY KEY AUTOINCREMENT,
	type      TEXT NOT NULL,
	text      TEXT NOT NULL DEFAULT '',
	image_url TEXT,
	is_active INTEGER NOT NULL DEFAULT 1
);
`

const contentTicker = "ticker"

// Store is a board.Store backed by database/sql.
type Store struct {
	db  *sql.DB
	log zerolog.Logger
}

// Open opens (creating if needed) the database at path and ensures the
// schema exists.
func Open(ctx context.Context, path string, logger zerolog.Logger) (*Store, error) {
	dsn := path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// A single connection serialises writers; the board sees a handful of
	// admin writes per minute.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	logger = logger.With().Str("component", "sqlstore").Logger()
	logger.Info().Str("path", path).Msg("database ready")
	return &Store{db: db, log: logger}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Rooms(ctx context.Context) ([]board.RoomWithDoctor, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT r.id, r.number, r.current_doctor_id, r.status, r.status_note,
		       d.id, d.full_name, d.specialization
		FROM rooms r
		LEFT JOIN doctors d ON d.id = r.current_doctor_id
		ORDER BY r.id`)
	if err != nil {
		return nil, fmt.Errorf("query rooms: %w", err)
	}
	defer rows.Close()

	var result []board.RoomWithDoctor
	for rows.Next() {
		var (
			row      board.RoomWithDoctor
			doctorFK sql.NullInt64
			docID    sql.NullInt64
			docName  sql.NullString
			docSpec  sql.NullString
		)
		if err := rows.Scan(&row.ID, &row.Number, &doctorFK, &row.Status, &row.StatusNote,
			&docID, &docName, &docSpec); err != nil {
			return nil, fmt.Errorf("scan room: %w", err)
		}
		if doctorFK.Valid {
			id := doctorFK.Int64
			row.DoctorID = &id
		}
		if docID.Valid {
			row.Doctor = &board.Doctor{ID: docID.Int64, FullName: docName.String, Specialization: docSpec.String}
		}
		result = append(result, row)
	}
	return result, rows.Err()
}

func (s *Store) Ticker(ctx context.Context) (string, bool, error) {
	var text string
	err := s.db.QueryRowContext(ctx,
		`SELECT text FROM content WHERE type = ? ORDER BY id LIMIT 1`, contentTicker).Scan(&text)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("query ticker: %w", err)
	}
	return text, true, nil
}

func (s *Store) Doctors(ctx context.Context) ([]board.Doctor, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, full_name, specialization FROM doctors ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query doctors: %w", err)
	}
	defer rows.Close()

	result := []board.Doctor{}
	for rows.Next() {
		var d board.Doctor
		if err := rows.Scan(&d.ID, &d.FullName, &d.Specialization); err != nil {
			return nil, fmt.Errorf("scan doctor: %w", err)
		}
		result = append(result, d)
	}
	return result, rows.Err()
}

func (s *Store) CreateDoctor(ctx context.Context, fullName, specialization string) (board.Doctor, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO doctors (full_name, specialization) VALUES (?, ?)`, fullName, specialization)
	if err != nil {
		return board.Doctor{}, fmt.Errorf("insert doctor: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return board.Doctor{}, fmt.Errorf("doctor id: %w", err)
	}
	return board.Doctor{ID: id, FullName: fullName, Specialization: specialization}, nil
}

func (s *Store) CreateRoom(ctx context.Context, number string, doctorID *int64) (board.Room, error) {
	var room board.Room
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if err := numberFree(ctx, tx, number, 0); err != nil {
			return err
		}
		if err := doctorExists(ctx, tx, doctorID); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx,
			`INSERT INTO rooms (number, current_doctor_id, status) VALUES (?, ?, ?)`,
			number, nullableID(doctorID), board.StatusBreak)
		if err != nil {
			return mapConstraint(err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return err
		}
		room, err = loadRoom(ctx, tx, id)
		return err
	})
	return room, err
}

func (s *Store) DeleteRoom(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM rooms WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete room: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete room: %w", err)
	}
	if n == 0 {
		return board.ErrRoomNotFound
	}
	return nil
}

func (s *Store) UpdateRoomDetails(ctx context.Context, id int64, details board.RoomDetails) (board.Room, error) {
	var room board.Room
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := loadRoom(ctx, tx, id); err != nil {
			return err
		}
		if details.Number != nil {
			if err := numberFree(ctx, tx, *details.Number, id); err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx, `UPDATE rooms SET number = ? WHERE id = ?`, *details.Number, id); err != nil {
				return mapConstraint(err)
			}
		}
		if details.DoctorID != nil {
			var doctor any
			if *details.DoctorID != 0 {
				if err := doctorExists(ctx, tx, details.DoctorID); err != nil {
					return err
				}
				doctor = *details.DoctorID
			}
			if _, err := tx.ExecContext(ctx, `UPDATE rooms SET current_doctor_id = ? WHERE id = ?`, doctor, id); err != nil {
				return err
			}
		}
		var err error
		room, err = loadRoom(ctx, tx, id)
		return err
	})
	return room, err
}

func (s *Store) UpdateStatus(ctx context.Context, change board.StatusChange) (board.Room, error) {
	var room board.Room
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := loadRoom(ctx, tx, change.RoomID); err != nil {
			return err
		}
		if err := doctorExists(ctx, tx, change.DoctorID); err != nil {
			return err
		}
		if change.DoctorID != nil {
			_, err := tx.ExecContext(ctx,
				`UPDATE rooms SET status = ?, status_note = ?, current_doctor_id = ? WHERE id = ?`,
				change.Status, change.Note, *change.DoctorID, change.RoomID)
			if err != nil {
				return err
			}
		} else {
			_, err := tx.ExecContext(ctx,
				`UPDATE rooms SET status = ?, status_note = ? WHERE id = ?`,
				change.Status, change.Note, change.RoomID)
			if err != nil {
				return err
			}
		}
		var err error
		room, err = loadRoom(ctx, tx, change.RoomID)
		return err
	})
	return room, err
}

func (s *Store) SetTicker(ctx context.Context, text string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `UPDATE content SET text = ? WHERE type = ?`, text, contentTicker)
		if err != nil {
			return err
		}
		if n, err := res.RowsAffected(); err != nil {
			return err
		} else if n > 0 {
			return nil
		}
		_, err = tx.ExecContext(ctx, `INSERT INTO content (type, text) VALUES (?, ?)`, contentTicker, text)
		return err
	})
}

// withTx runs fn in a transaction, committing only if fn succeeds. Domain
// errors from fn are returned unwrapped so callers can match them.
func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			s.log.Warn().Err(rbErr).Msg("rollback failed")
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func loadRoom(ctx context.Context, tx *sql.Tx, id int64) (board.Room, error) {
	var (
		room     board.Room
		doctorFK sql.NullInt64
	)
	err := tx.QueryRowContext(ctx,
		`SELECT id, number, current_doctor_id, status, status_note FROM rooms WHERE id = ?`, id).
		Scan(&room.ID, &room.Number, &doctorFK, &room.Status, &room.StatusNote)
	if errors.Is(err, sql.ErrNoRows) {
		return board.Room{}, board.ErrRoomNotFound
	}
	if err != nil {
		return board.Room{}, fmt.Errorf("load room %d: %w", id, err)
	}
	if doctorFK.Valid {
		v := doctorFK.Int64
		room.DoctorID = &v
	}
	return room, nil
}

func numberFree(ctx context.Context, tx *sql.Tx, number string, except int64) error {
	var one int
	err := tx.QueryRowContext(ctx,
		`SELECT 1 FROM rooms WHERE number = ? AND id <> ?`, number, except).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("check room number: %w", err)
	}
	return board.ErrDuplicateRoomNumber
}

func doctorExists(ctx context.Context, tx *sql.Tx, id *int64) error {
	if id == nil {
		return nil
	}
	var one int
	err := tx.QueryRowContext(ctx, `SELECT 1 FROM doctors WHERE id = ?`, *id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return board.ErrDoctorNotFound
	}
	if err != nil {
		return fmt.Errorf("check doctor: %w", err)
	}
	return nil
}

func nullableID(id *int64) any {
	if id == nil {
		return nil
	}
	return *id
}

// mapConstraint turns a unique violation on rooms.number into the domain
// error; the pre-check makes this a fallback only.
func mapConstraint(err error) error {
	if strings.Contains(err.Error(), "UNIQUE constraint failed: rooms.number") {
		return board.ErrDuplicateRoomNumber
	}
	return err
}
