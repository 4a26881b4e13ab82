// Package httpapi is the client-facing JSON API served next to the coordinator.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"replicadb/internal/coordinator"
	"replicadb/internal/ports"
	"replicadb/internal/replica"
	"replicadb/internal/storage"
	"replicadb/internal/types"
)

// Cluster is the coordinator surface the API drives.
type Cluster interface {
	SendData(ctx context.Context, rec types.Record) error
	Status() coordinator.Status
	Leader() (types.ReplicaID, bool)
	Peer(id types.ReplicaID) (ports.Peer, bool)
	Lag(id types.ReplicaID) (uint64, bool)
	HandleNetworkPartition(ctx context.Context) (types.ReplicaID, error)
	RemoveReplica(ctx context.Context, id types.ReplicaID) error
}

type Server struct {
	cluster      Cluster
	writeTimeout time.Duration
}

func New(cluster Cluster, writeTimeout time.Duration) *Server {
	if writeTimeout <= 0 {
		writeTimeout = 5 * time.Second
	}
	return &Server{cluster: cluster, writeTimeout: writeTimeout}
}

// Handler returns the router with all routes mounted.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)

	r.Get("/healthz", s.Healthz)
	r.Post("/records", s.PutRecord)
	r.Get("/records/{id}", s.GetRecord)
	r.Get("/cluster", s.ClusterStatus)
	r.Post("/cluster/partition", s.CheckPartition)
	r.Delete("/replicas/{id}", s.RemoveReplica)
	return r
}

type recordBody struct {
	ID      uint64 `json:"id"`
	Payload string `json:"payload"`
}

type memberStatus struct {
	ID  uint64 `json:"id"`
	Lag uint64 `json:"lag"`
}

type clusterStatus struct {
	State   string         `json:"state"`
	Leader  uint64         `json:"leader"`
	Members []memberStatus `json:"members"`
	Pending int            `json:"pending"`
}

func (s *Server) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) PutRecord(w http.ResponseWriter, r *http.Request) {
	var body recordBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid JSON")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.writeTimeout)
	defer cancel()

	rec := types.Record{ID: types.RecordID(body.ID), Payload: []byte(body.Payload)}
	if err := s.cluster.SendData(ctx, rec); err != nil {
		status, code := classify(err)
		slog.Warn("write rejected", "record_id", body.ID, "status", status, "error", err)
		writeError(w, status, code, err.Error())
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{"ok": true, "id": body.ID})
}

func (s *Server) GetRecord(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "id must be an unsigned integer")
		return
	}

	leaderID, ok := s.cluster.Leader()
	if !ok {
		writeError(w, http.StatusConflict, "no_leader", coordinator.ErrNoLeader.Error())
		return
	}
	leader, ok := s.cluster.Peer(leaderID)
	if !ok {
		writeError(w, http.StatusConflict, "no_leader", coordinator.ErrNoLeader.Error())
		return
	}

	rec, found, err := leader.GetData(r.Context(), types.RecordID(id))
	if err != nil {
		status, code := classify(err)
		writeError(w, status, code, err.Error())
		return
	}
	if !found {
		writeError(w, http.StatusNotFound, "not_found", "record not found")
		return
	}

	writeJSON(w, http.StatusOK, recordBody{ID: uint64(rec.ID), Payload: string(rec.Payload)})
}

func (s *Server) ClusterStatus(w http.ResponseWriter, _ *http.Request) {
	st := s.cluster.Status()

	members := make([]memberStatus, 0, len(st.Members))
	for _, id := range st.Members {
		lag, _ := s.cluster.Lag(id)
		members = append(members, memberStatus{ID: uint64(id), Lag: lag})
	}

	writeJSON(w, http.StatusOK, clusterStatus{
		State:   st.State.String(),
		Leader:  uint64(st.Leader),
		Members: members,
		Pending: st.PendingDepth,
	})
}

func (s *Server) CheckPartition(w http.ResponseWriter, r *http.Request) {
	leader, err := s.cluster.HandleNetworkPartition(r.Context())
	if err != nil {
		status, code := classify(err)
		writeError(w, status, code, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "leader": uint64(leader)})
}

func (s *Server) RemoveReplica(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "id must be an unsigned integer")
		return
	}

	if err := s.cluster.RemoveReplica(r.Context(), types.ReplicaID(id)); err != nil {
		status, code := classify(err)
		writeError(w, status, code, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		slog.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

func classify(err error) (int, string) {
	switch {
	case errors.Is(err, coordinator.ErrNoLeader), errors.Is(err, coordinator.ErrNoAvailableLeader):
		return http.StatusConflict, "no_leader"
	case errors.Is(err, replica.ErrRecordExists):
		return http.StatusConflict, "record_exists"
	case errors.Is(err, coordinator.ErrShuttingDown):
		return http.StatusServiceUnavailable, "shutting_down"
	case errors.Is(err, ports.ErrProbeFailure), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable, "unavailable"
	case errors.Is(err, storage.ErrPersistenceFailure):
		return http.StatusInternalServerError, "persistence_failure"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

type errorBody struct {
	OK      bool   `json:"ok"`
	Code    string `json:"error"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, errorBody{OK: false, Code: code, Message: msg})
}
