package apihttp

import (
	"context"
	"net/http"
	"time"

	"charasync/internal/domain"
)

func (s *Server) handlePeers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if s.pairs == nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "pairs not configured")
		return
	}
	items := s.pairs.Statuses()
	writeJSON(w, http.StatusOK, map[string]interface{}{"items": items, "count": len(items)})
}

func (s *Server) handlePeerByID(w http.ResponseWriter, r *http.Request) {
	if s.pairs == nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "pairs not configured")
		return
	}
	id, action, ok := peerPath(r.URL.Path)
	if !ok {
		writeError(w, http.StatusNotFound, "not_found", "not found")
		return
	}

	switch action {
	case "":
		switch r.Method {
		case http.MethodPost:
			h := s.pairs.Add(id)
			writeJSON(w, http.StatusCreated, h.Status())
		case http.MethodDelete:
			s.handleTeardown(w, r, id)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	case "data":
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		s.handleIncomingData(w, r, id)
	case "visibility":
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		s.handleVisibility(w, r, id)
	case "redraw":
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if err := s.pairs.RequestRedraw(id); err != nil {
			writeDomainError(w, err)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	default:
		writeError(w, http.StatusNotFound, "not_found", "not found")
	}
}

func (s *Server) handleTeardown(w http.ResponseWriter, r *http.Request, id string) {
	ctx, cancel := context.WithTimeout(r.Context(), 90*time.Second)
	defer cancel()
	if err := s.pairs.Teardown(ctx, id); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type incomingDataRequest struct {
	Snapshot     domain.Snapshot `json:"snapshot"`
	ForceScalars bool            `json:"forceScalars"`
}

func (s *Server) handleIncomingData(w http.ResponseWriter, r *http.Request, id string) {
	var body incomingDataRequest
	if !decodeJSON(w, r, &body) {
		return
	}
	if body.Snapshot.Hash == "" || body.Snapshot.ComputeHash() != body.Snapshot.Hash {
		writeError(w, http.StatusBadRequest, "invalid_request", "snapshot hash does not match content")
		return
	}
	if err := s.pairs.ApplyIncoming(id, body.Snapshot, body.ForceScalars); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

type visibilityRequest struct {
	Visible bool `json:"visible"`
}

func (s *Server) handleVisibility(w http.ResponseWriter, r *http.Request, id string) {
	var body visibilityRequest
	if !decodeJSON(w, r, &body) {
		return
	}
	var err error
	if body.Visible {
		ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
		defer cancel()
		err = s.pairs.SetVisible(ctx, id)
	} else {
		err = s.pairs.SetInvisible(id)
	}
	if err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}
