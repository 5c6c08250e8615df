package apihttp

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

const catalogPingTimeout = 2 * time.Second

type healthResponse struct {
	Status     string          `json:"status"`
	Swarm      bool            `json:"swarm"`
	Connected  bool            `json:"connected"`
	Catalog    string          `json:"catalog,omitempty"`
	Providers  map[string]bool `json:"providers,omitempty"`
	WSClients  int             `json:"wsClients"`
	ServerTime time.Time       `json:"serverTime"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	resp := healthResponse{Status: "ok", ServerTime: time.Now().UTC()}
	if s.swarm != nil {
		resp.Swarm = s.swarm.Available()
		if !resp.Swarm {
			resp.Status = "degraded"
		}
	}
	if s.distributor != nil {
		resp.Connected = s.distributor.Connected()
	}
	if s.catalog != nil {
		ctx, cancel := context.WithTimeout(r.Context(), catalogPingTimeout)
		err := s.catalog.Ping(ctx)
		cancel()
		resp.Catalog = "ok"
		if err != nil {
			resp.Catalog = "unreachable"
			resp.Status = "degraded"
			s.logger.Warn("health: catalog ping failed", slog.String("error", err.Error()))
		}
	}
	if s.host != nil {
		resp.Providers = s.host.Readiness()
	}
	if s.wsHub != nil {
		resp.WSClients = s.wsHub.clientCount()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if s.listSessions == nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "session listing not configured")
		return
	}
	sessions, err := s.listSessions.Execute(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"items": sessions, "count": len(sessions)})
}

func (s *Server) handleStorage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if s.storage == nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "storage not configured")
		return
	}
	usage := s.storage.Usage()
	writeJSON(w, http.StatusOK, map[string]interface{}{"usage": usage, "totalBytes": usage.TotalBytes()})
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if s.events == nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "event feed not configured")
		return
	}
	limit, err := parsePositiveInt(r.URL.Query().Get("limit"), true)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid limit")
		return
	}
	if limit < 0 {
		limit = 100
	}
	items := s.events.Recent(limit)
	writeJSON(w, http.StatusOK, map[string]interface{}{"items": items, "count": len(items)})
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if s.distributor == nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "distributor not configured")
		return
	}
	snap, ok := s.distributor.Last()
	if !ok {
		writeError(w, http.StatusNotFound, "not_found", "no snapshot distributed yet")
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleBuildSnapshot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if s.buildSnapshot == nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "snapshot builder not configured")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Minute)
	defer cancel()

	result, err := s.buildSnapshot.Execute(ctx)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type publishRequest struct {
	Path string `json:"path"`
}

func (s *Server) handlePublish(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if s.publisher == nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "publisher not configured")
		return
	}
	var body publishRequest
	if !decodeJSON(w, r, &body) {
		return
	}
	path := strings.TrimSpace(body.Path)
	if path == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "path is required")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()

	ref, err := s.publisher.Publish(ctx, path)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ref)
}
