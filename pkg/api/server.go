package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ericogr/smarthomepi/pkg/monitor"
	"github.com/ericogr/smarthomepi/pkg/sensor"
	"github.com/ericogr/smarthomepi/pkg/store"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// Monitor is the part of monitor.Manager the API drives.
type Monitor interface {
	Start(ctx context.Context, target string, interval time.Duration) (monitor.Session, error)
	Stop(ctx context.Context) error
	Status() (monitor.Session, error)
	DeleteRoom(ctx context.Context, id int64) error
}

// RoomForgetter drops derived state kept for a deleted room.
type RoomForgetter interface {
	Forget(ctx context.Context, roomID int64) error
}

type Server struct {
	store      store.Gateway
	monitor    Monitor
	metrics    http.Handler
	forgetters []RoomForgetter
	logger     *zap.Logger
}

func NewServer(gw store.Gateway, mon Monitor, metrics http.Handler, logger *zap.Logger, forgetters ...RoomForgetter) *Server {
	return &Server{store: gw, monitor: mon, metrics: metrics, forgetters: forgetters, logger: logger}
}

// Router registers every route on a gorilla/mux router.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/health", s.health).Methods(http.MethodGet)
	r.HandleFunc("/rooms", s.listRooms).Methods(http.MethodGet)
	r.HandleFunc("/rooms", s.createRoom).Methods(http.MethodPost)
	r.HandleFunc("/rooms/{id:[0-9]+}", s.deleteRoom).Methods(http.MethodDelete)
	r.HandleFunc("/rooms/{id:[0-9]+}/readings", s.latestAll).Methods(http.MethodGet)
	r.HandleFunc("/rooms/{id:[0-9]+}/readings/{kind}/latest", s.latest).Methods(http.MethodGet)
	r.HandleFunc("/rooms/{id:[0-9]+}/readings/{kind}", s.history).Methods(http.MethodGet)
	r.HandleFunc("/monitor", s.status).Methods(http.MethodGet)
	r.HandleFunc("/monitor/start", s.start).Methods(http.MethodPost)
	r.HandleFunc("/monitor/stop", s.stop).Methods(http.MethodPost)
	if s.metrics != nil {
		r.Handle("/metrics", s.metrics).Methods(http.MethodGet)
	}
	return r
}

// Handler wraps the router with access logging and panic recovery.
func (s *Server) Handler() http.Handler {
	std := zap.NewStdLog(s.logger.Named("http"))
	logged := handlers.LoggingHandler(std.Writer(), s.Router())
	return handlers.RecoveryHandler(handlers.RecoveryLogger(std), handlers.PrintRecoveryStack(false))(logged)
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) listRooms(w http.ResponseWriter, r *http.Request) {
	rooms, err := s.store.Rooms(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rooms)
}

func (s *Server) createRoom(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeMessage(w, http.StatusBadRequest, "invalid json")
		return
	}
	room, err := s.store.InsertRoom(r.Context(), req.Name)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, room)
}

func (s *Server) deleteRoom(w http.ResponseWriter, r *http.Request) {
	id, ok := roomID(w, r)
	if !ok {
		return
	}
	if err := s.monitor.DeleteRoom(r.Context(), id); err != nil {
		s.writeError(w, err)
		return
	}
	for _, f := range s.forgetters {
		if err := f.Forget(r.Context(), id); err != nil {
			s.logger.Warn("Failed to drop cached readings", zap.Int64("room_id", id), zap.Error(err))
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

// latestAll returns the newest reading of every kind, null where none exist.
func (s *Server) latestAll(w http.ResponseWriter, r *http.Request) {
	id, ok := roomID(w, r)
	if !ok {
		return
	}
	if _, err := s.store.Room(r.Context(), id); err != nil {
		s.writeError(w, err)
		return
	}
	out := make(map[sensor.Kind]sensor.Reading, len(sensor.Kinds))
	for _, kind := range sensor.Kinds {
		reading, err := s.store.Latest(r.Context(), kind, id)
		if err != nil && !errors.Is(err, store.ErrNoReadings) {
			s.writeError(w, err)
			return
		}
		out[kind] = reading
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) latest(w http.ResponseWriter, r *http.Request) {
	id, ok := roomID(w, r)
	if !ok {
		return
	}
	kind, err := sensor.ParseKind(mux.Vars(r)["kind"])
	if err != nil {
		writeMessage(w, http.StatusBadRequest, err.Error())
		return
	}
	reading, err := s.store.Latest(r.Context(), kind, id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, reading)
}

func (s *Server) history(w http.ResponseWriter, r *http.Request) {
	id, ok := roomID(w, r)
	if !ok {
		return
	}
	kind, err := sensor.ParseKind(mux.Vars(r)["kind"])
	if err != nil {
		writeMessage(w, http.StatusBadRequest, err.Error())
		return
	}
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		if limit, err = strconv.Atoi(v); err != nil {
			writeMessage(w, http.StatusBadRequest, "limit must be an integer")
			return
		}
	}
	readings, err := s.store.Range(r.Context(), kind, id, limit)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, readings)
}

type sessionResponse struct {
	Active    bool      `json:"active"`
	ID        string    `json:"id,omitempty"`
	RoomID    int64     `json:"room_id,omitempty"`
	RoomName  string    `json:"room_name,omitempty"`
	Interval  string    `json:"interval,omitempty"`
	StartedAt time.Time `json:"started_at,omitzero"`
}

func toResponse(sess monitor.Session) sessionResponse {
	return sessionResponse{
		Active:    true,
		ID:        sess.ID.String(),
		RoomID:    sess.RoomID,
		RoomName:  sess.RoomName,
		Interval:  sess.Interval.String(),
		StartedAt: sess.StartedAt,
	}
}

func (s *Server) status(w http.ResponseWriter, _ *http.Request) {
	sess, err := s.monitor.Status()
	if errors.Is(err, monitor.ErrNotRunning) {
		writeJSON(w, http.StatusOK, sessionResponse{})
		return
	}
	writeJSON(w, http.StatusOK, toResponse(sess))
}

func (s *Server) start(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Room     string `json:"room"`
		Interval string `json:"interval"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeMessage(w, http.StatusBadRequest, "invalid json")
		return
	}
	if strings.TrimSpace(req.Room) == "" {
		writeMessage(w, http.StatusBadRequest, "room is required")
		return
	}
	var interval time.Duration
	if req.Interval != "" {
		d, err := time.ParseDuration(req.Interval)
		if err != nil || d <= 0 {
			writeMessage(w, http.StatusBadRequest, "interval must be a positive duration such as 10s")
			return
		}
		interval = d
	}
	sess, err := s.monitor.Start(r.Context(), req.Room, interval)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toResponse(sess))
}

func (s *Server) stop(w http.ResponseWriter, r *http.Request) {
	if err := s.monitor.Stop(r.Context()); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sessionResponse{})
}

func roomID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		writeMessage(w, http.StatusBadRequest, "invalid room id")
		return 0, false
	}
	return id, true
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, store.ErrRoomNotFound), errors.Is(err, store.ErrNoReadings):
		return http.StatusNotFound
	case errors.Is(err, store.ErrRoomExists), errors.Is(err, monitor.ErrAlreadyRunning), errors.Is(err, monitor.ErrRigBusy),
		errors.Is(err, monitor.ErrRoomMonitored):
		return http.StatusConflict
	case errors.Is(err, store.ErrInvalidName):
		return http.StatusBadRequest
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	code := statusFor(err)
	if code == http.StatusInternalServerError {
		s.logger.Error("Request failed", zap.Error(err))
		writeMessage(w, code, fmt.Sprintf("internal error: %v", err))
		return
	}
	writeMessage(w, code, err.Error())
}

func writeMessage(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
