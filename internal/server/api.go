package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	gateway "github.com/nextpulse/streamgate/internal"
)

// maxCopyAttempts bounds flood-wait retries on copy-to-archive.
const maxCopyAttempts = 3

type statusResponse struct {
	Status           string           `json:"server_status"`
	Uptime           string           `json:"uptime"`
	Version          string           `json:"version"`
	ConnectedClients int              `json:"connected_clients"`
	Loads            map[string]int64 `json:"loads"`
}

type linkResponse struct {
	StreamURL    string `json:"stream_url"`
	FileName     string `json:"file_name"`
	ThumbnailURL string `json:"thumbnail_url,omitempty"`
}

type apiError struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

func errorResponse(msg string) apiError {
	return apiError{Success: false, Error: msg}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("write response", "error", err)
	}
}

// errorStatus maps domain errors to HTTP status codes.
func errorStatus(err error) int {
	switch {
	case errors.Is(err, gateway.ErrNotFound), errors.Is(err, gateway.ErrFileNotFound):
		return http.StatusNotFound
	case errors.Is(err, gateway.ErrInvalidHash):
		return http.StatusForbidden
	case errors.Is(err, gateway.ErrBadRange):
		return http.StatusRequestedRangeNotSatisfiable
	case errors.Is(err, gateway.ErrRateLimited):
		return http.StatusTooManyRequests
	default:
		if _, ok := gateway.AsFloodWait(err); ok {
			return http.StatusTooManyRequests
		}
		return http.StatusInternalServerError
	}
}

// handleRoot reports liveness, uptime, and per-identity load.
func (s *server) handleRoot(w http.ResponseWriter, r *http.Request) {
	loads := s.deps.Pool.Loads()
	byClient := make(map[string]int64, len(loads))
	for i, n := range loads {
		byClient["client"+strconv.Itoa(i)] = n
	}
	writeJSON(w, http.StatusOK, statusResponse{
		Status:           "running",
		Uptime:           gateway.HumanDuration(time.Since(s.deps.StartTime)),
		Version:          s.deps.Version,
		ConnectedClients: s.deps.Pool.Size(),
		Loads:            byClient,
	})
}

func (s *server) handleRobots(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write([]byte("User-agent: *\nDisallow: /\n"))
}

func (s *server) handleFavicon(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusNoContent)
}

// handleGenerate resolves a token to a fresh stream URL, copying the
// source object into the archive channel first so the public link stays
// valid if the source disappears.
func (s *server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	s.resolveLink(w, r, false)
}

// handleDownload is handleGenerate behind the per-IP limiter, and the
// returned URL forces attachment disposition.
func (s *server) handleDownload(w http.ResponseWriter, r *http.Request) {
	if s.deps.Limiter != nil {
		ip := clientIP(r)
		if ok, msg := s.deps.Limiter.Allow(ip); !ok {
			if s.deps.Metrics != nil {
				s.deps.Metrics.RateLimitRejects.Inc()
			}
			writeJSON(w, http.StatusTooManyRequests, errorResponse(msg))
			return
		}
	}
	s.resolveLink(w, r, true)
}

func (s *server) resolveLink(w http.ResponseWriter, r *http.Request, download bool) {
	token := chi.URLParam(r, "token")
	rec, err := s.deps.Links.Get(r.Context(), token, s.deps.Domains.ServeDomain)
	if err != nil {
		writeJSON(w, errorStatus(err), errorResponse("Link expired or not found"))
		return
	}

	desc, err := s.copyToArchive(r.Context(), rec)
	if err != nil {
		status := errorStatus(err)
		msg := "upstream busy, try again later"
		if status >= http.StatusInternalServerError {
			slog.Error("copy to archive failed",
				"token", token,
				"error", err,
				"request_id", gateway.RequestIDFromContext(r.Context()),
			)
			msg = "internal server error"
		}
		writeJSON(w, status, errorResponse(msg))
		return
	}

	name := rec.Display.FileName
	if name == "" {
		name = fileName(desc)
	}
	writeJSON(w, http.StatusOK, linkResponse{
		StreamURL:    s.streamURL(r, desc.ObjectID, name, desc.Hash(), download),
		FileName:     name,
		ThumbnailURL: rec.ThumbnailURL,
	})
}

// copyToArchive copies the linked source message into the archive
// channel through the least-busy identity, retrying in place on flood
// waits. After maxCopyAttempts the flood error surfaces as 429.
func (s *server) copyToArchive(ctx context.Context, rec *gateway.LinkRecord) (*gateway.ObjectDescriptor, error) {
	client := s.deps.Pool.Client(s.deps.Pool.Least())
	var err error
	for attempt := 1; attempt <= maxCopyAttempts; attempt++ {
		var desc *gateway.ObjectDescriptor
		desc, err = client.CopyToArchive(ctx, rec.SourceChatID, rec.ObjectID, rec.Display.Caption)
		if err == nil {
			return desc, nil
		}
		wait, ok := gateway.AsFloodWait(err)
		if !ok || attempt == maxCopyAttempts {
			return nil, err
		}
		if s.deps.Metrics != nil {
			s.deps.Metrics.FloodWaits.Inc()
		}
		slog.Warn("archive copy flood, retrying", "wait", wait, "attempt", attempt)
		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil, ctx.Err()
		case <-t.C:
		}
	}
	return nil, err
}

// clientIP extracts the originating address, preferring the first
// X-Forwarded-For hop set by the reverse proxy.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		ip, _, _ := strings.Cut(fwd, ",")
		return strings.TrimSpace(ip)
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
