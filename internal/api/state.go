package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/MostafaZare/Water-Treatment-Monitoring/internal/gateway"
	"github.com/MostafaZare/Water-Treatment-Monitoring/internal/state"
)

func (s *Server) handleListState(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.state.Snapshot())
}

func (s *Server) handleGetState(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	if !s.state.Has(key) {
		writeNotFound(w, "state key not found: "+key)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"key": key, "value": s.state.Get(key, nil)})
}

// handleSetState stores the JSON request body as the key's value and
// reports it to the platform as a client attribute. A failed publish does
// not fail the request; the next attribute sync carries the value.
func (s *Server) handleSetState(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")

	var value any
	if err := json.NewDecoder(r.Body).Decode(&value); err != nil {
		writeBadRequest(w, "request body must be a JSON value")
		return
	}

	if err := s.state.Set(key, value); err != nil {
		if errors.Is(err, state.ErrInvalidKey) || errors.Is(err, state.ErrInvalidValue) {
			writeBadRequest(w, err.Error())
			return
		}
		s.logger.Error("state write failed", "key", key, "error", err)
		writeInternalError(w, "failed to persist state")
		return
	}
	s.logger.Info("state set via API", "key", key, "subject", subject(r))

	published := true
	if err := s.gateway.PublishAttributes(map[string]any{key: value}); err != nil {
		published = false
		if !errors.Is(err, gateway.ErrNotConnected) {
			s.logger.Warn("attribute publish after state write failed", "key", key, "error", err)
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{"key": key, "value": value, "published": published})
}

func (s *Server) handleDeleteState(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	if !s.state.Has(key) {
		writeNotFound(w, "state key not found: "+key)
		return
	}
	if err := s.state.Delete(key); err != nil {
		s.logger.Error("state delete failed", "key", key, "error", err)
		writeInternalError(w, "failed to persist state")
		return
	}
	s.logger.Info("state deleted via API", "key", key, "subject", subject(r))
	w.WriteHeader(http.StatusNoContent)
}
