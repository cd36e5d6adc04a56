package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/clinic-tablo/backend/internal/board"
	"github.com/gorilla/mux"
)

const maxBodyBytes = 64 << 10

type updateStatusRequest struct {
	RoomID     int64  `json:"room_id"`
	Status     string `json:"status"`
	StatusNote string `json:"status_note"`
	DoctorID   *int64 `json:"doctor_id"`
}

type createDoctorRequest struct {
	FullName       string `json:"full_name"`
	Specialization string `json:"specialization"`
}

type createRoomRequest struct {
	Number   string `json:"number"`
	DoctorID *int64 `json:"doctor_id"`
}

type roomDetailsRequest struct {
	Number   *string `json:"number"`
	DoctorID *int64  `json:"doctor_id"`
}

type tickerRequest struct {
	Text string `json:"text"`
}

func (s *Server) getDisplay(w http.ResponseWriter, r *http.Request) {
	state, err := s.svc.FullState(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func (s *Server) updateStatus(w http.ResponseWriter, r *http.Request) {
	var req updateStatusRequest
	if !s.decode(w, r, &req) {
		return
	}
	_, err := s.svc.UpdateStatus(r.Context(), board.StatusChange{
		RoomID:   req.RoomID,
		Status:   req.Status,
		Note:     req.StatusNote,
		DoctorID: req.DoctorID,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) listDoctors(w http.ResponseWriter, r *http.Request) {
	doctors, err := s.svc.Doctors(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, doctors)
}

func (s *Server) createDoctor(w http.ResponseWriter, r *http.Request) {
	var req createDoctorRequest
	if !s.decode(w, r, &req) {
		return
	}
	doc, err := s.svc.CreateDoctor(r.Context(), req.FullName, req.Specialization)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "success", "id": doc.ID})
}

func (s *Server) createRoom(w http.ResponseWriter, r *http.Request) {
	var req createRoomRequest
	if !s.decode(w, r, &req) {
		return
	}
	room, err := s.svc.CreateRoom(r.Context(), req.Number, req.DoctorID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "success", "id": room.ID})
}

func (s *Server) deleteRoom(w http.ResponseWriter, r *http.Request) {
	id, ok := roomID(w, r)
	if !ok {
		return
	}
	if err := s.svc.DeleteRoom(r.Context(), id); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) updateRoomDetails(w http.ResponseWriter, r *http.Request) {
	id, ok := roomID(w, r)
	if !ok {
		return
	}
	var req roomDetailsRequest
	if !s.decode(w, r, &req) {
		return
	}
	_, err := s.svc.UpdateRoomDetails(r.Context(), id, board.RoomDetails{
		Number:   req.Number,
		DoctorID: req.DoctorID,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

func (s *Server) updateTicker(w http.ResponseWriter, r *http.Request) {
	var req tickerRequest
	if !s.decode(w, r, &req) {
		return
	}
	if err := s.svc.SetTicker(r.Context(), req.Text); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "success"})
}

func roomID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	raw := mux.Vars(r)["room_id"]
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid room id %q", raw))
		return 0, false
	}
	return id, true
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		msg := "invalid JSON body"
		if errors.Is(err, io.EOF) {
			msg = "request body is empty"
		}
		writeError(w, http.StatusBadRequest, msg)
		return false
	}
	return true
}

// fail maps a service error to its HTTP status. Store failures are logged
// and reported without detail.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	var verr *board.ValidationError
	switch {
	case errors.As(err, &verr):
		writeError(w, http.StatusBadRequest, verr.Error())
	case errors.Is(err, board.ErrRoomNotFound), errors.Is(err, board.ErrDoctorNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, board.ErrDuplicateRoomNumber):
		writeError(w, http.StatusConflict, err.Error())
	default:
		s.log.Error().Err(err).Str("method", r.Method).Str("path", r.URL.Path).Msg("request failed")
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
