// Package server implements the HTTP control plane for the etcd node.
package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/dantte-lp/etcmesh/internal/mesh"
)

// Sentinel errors for the server package.
var (
	// ErrInvalidCommand indicates an unrecognized command name in the request body.
	ErrInvalidCommand = errors.New("invalid command: must be RESET or THRESHOLD")
	// ErrInvalidReceiver indicates a malformed receiver address literal.
	ErrInvalidReceiver = errors.New("invalid receiver address")
)

// Node is the subset of *mesh.Node the control plane drives. Declaring it
// as an interface keeps this package testable without a running actor
// loop.
type Node interface {
	Trigger(value, threshold uint32) mesh.TriggerResult
	Command(receiver mesh.Addr, cmd mesh.Command, threshold uint32) mesh.CommandResult
	Status() mesh.Snapshot
}

// ControlServer implements the control-plane HTTP API.
//
// Each endpoint delegates to the node's actor for actual protocol
// operations. The server is a thin adapter between the HTTP API and the
// internal domain.
type ControlServer struct {
	node   Node
	logger *slog.Logger
}

// New creates a ControlServer and returns its HTTP handler.
func New(node Node, logger *slog.Logger) http.Handler {
	s := &ControlServer{node: node, logger: logger.With(slog.String("component", "server"))}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(LoggingMiddleware(s.logger))

	r.Post("/trigger", s.handleTrigger)
	r.Post("/command", s.handleCommand)
	r.Get("/status", s.handleStatus)
	r.Get("/forward-table", s.handleForwardTable)
	r.Get("/parents", s.handleParents)

	return r
}

// -------------------------------------------------------------------------
// POST /trigger
// -------------------------------------------------------------------------

type triggerRequest struct {
	Value     uint32 `json:"value"`
	Threshold uint32 `json:"threshold"`
}

type triggerResponse struct {
	Result string `json:"result"`
}

func (s *ControlServer) handleTrigger(w http.ResponseWriter, r *http.Request) {
	var req triggerRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, s.logger, http.StatusBadRequest, err)
		return
	}
	result := s.node.Trigger(req.Value, req.Threshold)
	writeJSON(w, http.StatusOK, triggerResponse{Result: result.String()})
}

// -------------------------------------------------------------------------
// POST /command
// -------------------------------------------------------------------------

type commandRequest struct {
	Receiver  string `json:"receiver"`
	Command   string `json:"command"`
	Threshold uint32 `json:"threshold"`
}

type commandResponse struct {
	Result string `json:"result"`
}

func (s *ControlServer) handleCommand(w http.ResponseWriter, r *http.Request) {
	var req commandRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, s.logger, http.StatusBadRequest, err)
		return
	}

	receiver, err := parseAddr(req.Receiver)
	if err != nil {
		writeError(w, s.logger, http.StatusBadRequest, fmt.Errorf("%w: %w", ErrInvalidReceiver, err))
		return
	}
	cmd, err := parseCommand(req.Command)
	if err != nil {
		writeError(w, s.logger, http.StatusBadRequest, err)
		return
	}

	result := s.node.Command(receiver, cmd, req.Threshold)
	writeJSON(w, http.StatusOK, commandResponse{Result: result.String()})
}

func parseCommand(s string) (mesh.Command, error) {
	switch s {
	case "RESET":
		return mesh.CommandReset, nil
	case "THRESHOLD":
		return mesh.CommandThreshold, nil
	default:
		return mesh.CommandNone, fmt.Errorf("%w: %q", ErrInvalidCommand, s)
	}
}

// -------------------------------------------------------------------------
// GET /status
// -------------------------------------------------------------------------

type statusResponse struct {
	Self          string `json:"self"`
	Role          string `json:"role"`
	Disconnected  bool   `json:"disconnected"`
	CurrentParent string `json:"current_parent"`
	BufferLen     int    `json:"buffer_len"`
	BeaconSeqn    uint16 `json:"beacon_seqn"`
}

func (s *ControlServer) handleStatus(w http.ResponseWriter, _ *http.Request) {
	snap := s.node.Status()
	writeJSON(w, http.StatusOK, statusResponse{
		Self:          snap.Self.String(),
		Role:          snap.Role.String(),
		Disconnected:  snap.Disconnected,
		CurrentParent: snap.CurrentParent.String(),
		BufferLen:     snap.BufferLen,
		BeaconSeqn:    snap.BeaconSeqn,
	})
}

// -------------------------------------------------------------------------
// GET /forward-table
// -------------------------------------------------------------------------

type forwardHopJSON struct {
	Hop      string `json:"hop"`
	Distance uint8  `json:"distance"`
}

func (s *ControlServer) handleForwardTable(w http.ResponseWriter, _ *http.Request) {
	snap := s.node.Status()
	out := make(map[string][]forwardHopJSON, len(snap.ForwardTable))
	for sensor, hops := range snap.ForwardTable {
		list := make([]forwardHopJSON, 0, len(hops))
		for _, h := range hops {
			if h.HopAddr.IsNull() {
				continue
			}
			list = append(list, forwardHopJSON{Hop: h.HopAddr.String(), Distance: h.Distance})
		}
		out[sensor.String()] = list
	}
	writeJSON(w, http.StatusOK, out)
}

// -------------------------------------------------------------------------
// GET /parents
// -------------------------------------------------------------------------

type parentEntryJSON struct {
	ParentAddr string `json:"parent_addr"`
	Seqn       uint16 `json:"seqn"`
	Hopn       uint16 `json:"hopn"`
	RSSI       int8   `json:"rssi"`
}

func (s *ControlServer) handleParents(w http.ResponseWriter, _ *http.Request) {
	snap := s.node.Status()
	out := make([]parentEntryJSON, 0, len(snap.Parents))
	for _, p := range snap.Parents {
		if p.ParentAddr.IsNull() {
			continue
		}
		out = append(out, parentEntryJSON{
			ParentAddr: p.ParentAddr.String(), Seqn: p.Seqn, Hopn: p.Hopn, RSSI: p.RSSI,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

// -------------------------------------------------------------------------
// JSON helpers
// -------------------------------------------------------------------------

func decodeJSON(r *http.Request, v any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, logger *slog.Logger, status int, err error) {
	logger.Warn("request failed", "status", status, "err", err)
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func parseAddr(s string) (mesh.Addr, error) {
	var a mesh.Addr
	if _, err := fmt.Sscanf(s, "%02x:%02x", &a[0], &a[1]); err != nil {
		return mesh.Addr{}, err
	}
	return a, nil
}
