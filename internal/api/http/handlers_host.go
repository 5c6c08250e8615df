package apihttp

import (
	"log/slog"
	"net/http"

	"charasync/internal/domain"
)

func (s *Server) handleHostConditions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var body domain.Conditions
	if !decodeJSON(w, r, &body) {
		return
	}
	if s.host != nil {
		s.host.SetConditions(body)
	}
	if s.pairs != nil {
		s.pairs.UpdateConditions(body)
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleHostProviders takes a provider -> ready map. Only rising edges are
// forwarded to the pairs.
func (s *Server) handleHostProviders(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if s.host == nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "host state not configured")
		return
	}
	var body map[string]bool
	if !decodeJSON(w, r, &body) {
		return
	}
	for provider, ready := range body {
		if !s.host.SetReady(provider, ready) {
			continue
		}
		s.logger.Info("host: provider ready", slog.String("provider", provider))
		if s.pairs != nil {
			s.pairs.ProviderReady(provider)
		}
	}
	writeJSON(w, http.StatusOK, s.host.Readiness())
}

type connectionRequest struct {
	Connected bool `json:"connected"`
}

func (s *Server) handleHostConnection(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if s.distributor == nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "distributor not configured")
		return
	}
	var body connectionRequest
	if !decodeJSON(w, r, &body) {
		return
	}
	if body.Connected {
		var peers []string
		if s.pairs != nil {
			peers = s.pairs.VisiblePeers()
		}
		s.distributor.OnConnected(peers)
	} else {
		s.distributor.OnDisconnected()
	}
	w.WriteHeader(http.StatusNoContent)
}
