package server

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"path"
	"regexp"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	gateway "github.com/nextpulse/streamgate/internal"
	"github.com/nextpulse/streamgate/internal/stream"
	"github.com/nextpulse/streamgate/internal/telemetry"
)

// compactPath matches the single-segment link form: six hash characters
// followed by the object ID.
var compactPath = regexp.MustCompile(`^([A-Za-z0-9_-]{6})(\d+)$`)

// parseStreamPath extracts the object ID and the provided hash from a
// request in either link form. The hash must appear in exactly one
// place: the path prefix (compact form) or the hash query parameter
// (split form).
func parseStreamPath(r *http.Request) (objectID int64, hash string, err error) {
	seg := chi.URLParam(r, "path")
	queryHash := r.URL.Query().Get("hash")

	if m := compactPath.FindStringSubmatch(seg); m != nil {
		if queryHash != "" {
			return 0, "", fmt.Errorf("hash in both path and query: %w", gateway.ErrInvalidHash)
		}
		id, perr := strconv.ParseInt(m[2], 10, 64)
		if perr != nil {
			return 0, "", fmt.Errorf("object id %q: %w", m[2], gateway.ErrInvalidHash)
		}
		return id, m[1], nil
	}

	id, perr := strconv.ParseInt(seg, 10, 64)
	if perr != nil || id < 0 {
		return 0, "", fmt.Errorf("path %q: %w", seg, gateway.ErrInvalidHash)
	}
	if len(queryHash) != gateway.HashLength {
		return 0, "", fmt.Errorf("missing or malformed hash: %w", gateway.ErrInvalidHash)
	}
	return id, queryHash, nil
}

// parseRange interprets the Range header against the object size.
// Accepted forms are bytes=a-b, bytes=a- and no header at all. hasRange
// reports whether the client sent a Range header; the response is 206
// exactly when it did.
func parseRange(header string, size int64) (from, to int64, hasRange bool, err error) {
	if header == "" {
		return 0, size - 1, false, nil
	}
	rangeSet, ok := strings.CutPrefix(header, "bytes=")
	if !ok {
		return 0, 0, true, fmt.Errorf("unit in %q: %w", header, gateway.ErrBadRange)
	}
	a, b, ok := strings.Cut(rangeSet, "-")
	if !ok || a == "" {
		// Suffix ranges (bytes=-n) are not supported.
		return 0, 0, true, fmt.Errorf("form %q: %w", header, gateway.ErrBadRange)
	}
	from, err = strconv.ParseInt(a, 10, 64)
	if err != nil || from < 0 {
		return 0, 0, true, fmt.Errorf("start %q: %w", a, gateway.ErrBadRange)
	}
	if b == "" {
		to = size - 1
	} else {
		to, err = strconv.ParseInt(b, 10, 64)
		if err != nil {
			return 0, 0, true, fmt.Errorf("end %q: %w", b, gateway.ErrBadRange)
		}
	}
	if from > to || to >= size {
		return 0, 0, true, fmt.Errorf("bytes %d-%d of %d: %w", from, to, size, gateway.ErrBadRange)
	}
	return from, to, true, nil
}

// handleStream serves the raw byte stream for both link forms.
func (s *server) handleStream(w http.ResponseWriter, r *http.Request) {
	objectID, hash, err := parseStreamPath(r)
	if err != nil {
		s.streamError(w, r, err)
		return
	}

	desc, err := s.deps.Descriptors.Locate(r.Context(), objectID)
	if err != nil {
		s.streamError(w, r, err)
		return
	}
	if hash != desc.Hash() {
		s.streamError(w, r, gateway.ErrInvalidHash)
		return
	}
	if desc.FileSize > gateway.MaxStreamSize {
		s.streamError(w, r, fmt.Errorf("%d bytes: %w", desc.FileSize, gateway.ErrTooLarge))
		return
	}

	from, to, hasRange, err := parseRange(r.Header.Get("Range"), desc.FileSize)
	if err != nil {
		w.Header().Set("Content-Range", fmt.Sprintf("bytes */%d", desc.FileSize))
		http.Error(w, "416: Range Not Satisfiable", http.StatusRequestedRangeNotSatisfiable)
		return
	}

	name := fileName(desc)
	mimeType := contentType(desc, name)
	forceDownload := r.URL.Query().Get("download") == "1"

	h := w.Header()
	h.Set("Content-Type", mimeType)
	h.Set("Content-Length", strconv.FormatInt(to-from+1, 10))
	h.Set("Content-Disposition", fmt.Sprintf("%s; filename=%q", disposition(mimeType, forceDownload), name))
	h.Set("Accept-Ranges", "bytes")
	h.Set("Cache-Control", "no-cache")

	status := http.StatusOK
	if hasRange {
		h.Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", from, to, desc.FileSize))
		status = http.StatusPartialContent
	}
	w.WriteHeader(status)

	if r.Method == http.MethodHead {
		return
	}

	ctx, span := telemetry.Tracer("streamgate/server").Start(r.Context(), "stream",
		trace.WithAttributes(
			attribute.Int64("stream.object_id", objectID),
			attribute.Int64("stream.from", from),
			attribute.Int64("stream.to", to),
		))
	defer span.End()

	identity := s.deps.Pool.Least()
	st := stream.New(s.deps.Pool, identity, desc, from, to, s.deps.Metrics)
	if _, err := st.Copy(ctx, w); err != nil {
		// Headers are sent; the body is truncated at whatever was
		// written. Client disconnects land here too.
		slog.Info("stream aborted",
			"object_id", objectID,
			"error", err,
			"request_id", gateway.RequestIDFromContext(r.Context()),
		)
	}
}

// handleWatch renders the player page that embeds the stream URL.
func (s *server) handleWatch(w http.ResponseWriter, r *http.Request) {
	objectID, hash, err := parseStreamPath(r)
	if err != nil {
		s.streamError(w, r, err)
		return
	}
	desc, err := s.deps.Descriptors.Locate(r.Context(), objectID)
	if err != nil {
		s.streamError(w, r, err)
		return
	}
	if hash != desc.Hash() {
		s.streamError(w, r, gateway.ErrInvalidHash)
		return
	}

	name := fileName(desc)
	mimeType := contentType(desc, name)
	s.renderWatch(w, r, watchPage{
		FileName:  name,
		MediaURL:  s.streamURL(r, objectID, name, desc.Hash(), false),
		Tag:       mediaTag(mimeType),
		HumanSize: gateway.HumanBytes(desc.FileSize),
	})
}

// streamError writes the error response for the stream and watch
// routes. Range errors never reach here; they need the */size header.
func (s *server) streamError(w http.ResponseWriter, r *http.Request, err error) {
	status := errorStatus(err)
	if status >= http.StatusInternalServerError {
		slog.Error("stream request failed",
			"path", r.URL.Path,
			"error", err,
			"request_id", gateway.RequestIDFromContext(r.Context()),
		)
	}
	writeJSON(w, status, errorResponse(publicMessage(err, status)))
}

// streamURL builds the public byte-stream URL for an object, split
// form, with the hash in the query string.
func (s *server) streamURL(r *http.Request, objectID int64, name, hash string, download bool) string {
	q := url.Values{"hash": {hash}}
	if download {
		q.Set("download", "1")
	}
	return fmt.Sprintf("%s://%s/%d/%s?%s",
		s.scheme(r), s.host(r), objectID, url.PathEscape(name), q.Encode())
}

// scheme resolves the public scheme behind a reverse proxy.
func (s *server) scheme(r *http.Request) string {
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		return proto
	}
	if s.deps.Domains.HasSSL || r.TLS != nil {
		return "https"
	}
	return "http"
}

// host returns the advertised host, falling back to the request host
// when no domain is configured.
func (s *server) host(r *http.Request) string {
	if h := s.deps.Domains.Host(); h != "" {
		return h
	}
	return r.Host
}

// fileName returns the descriptor's file name, synthesizing a short
// random one when the upstream stored none.
func fileName(desc *gateway.ObjectDescriptor) string {
	if desc.FileName != "" {
		return desc.FileName
	}
	var b [2]byte
	rand.Read(b[:])
	return hex.EncodeToString(b[:]) + extensionFor(desc.MimeType)
}

// extensionFor picks a file extension for a MIME type, ".bin" when
// nothing better is known.
func extensionFor(mimeType string) string {
	if exts, err := mime.ExtensionsByType(mimeType); err == nil && len(exts) > 0 {
		return exts[0]
	}
	return ".bin"
}

// contentType resolves the served MIME type: descriptor, then the file
// name's extension, then octet-stream.
func contentType(desc *gateway.ObjectDescriptor, name string) string {
	if desc.MimeType != "" {
		return desc.MimeType
	}
	if ext := path.Ext(name); ext != "" {
		if t := mime.TypeByExtension(ext); t != "" {
			return t
		}
	}
	return "application/octet-stream"
}

// disposition picks inline for playable media unless the client asked
// for a download.
func disposition(mimeType string, forceDownload bool) string {
	if forceDownload {
		return "attachment"
	}
	if strings.HasPrefix(mimeType, "video/") || strings.HasPrefix(mimeType, "audio/") {
		return "inline"
	}
	return "attachment"
}

// mediaTag maps a MIME type to the player element the watch page uses.
func mediaTag(mimeType string) string {
	switch {
	case strings.HasPrefix(mimeType, "video/"):
		return "video"
	case strings.HasPrefix(mimeType, "audio/"):
		return "audio"
	default:
		return "file"
	}
}

// publicMessage returns the body text for an error response without
// leaking internals on 5xx.
func publicMessage(err error, status int) string {
	if status >= http.StatusInternalServerError {
		if errors.Is(err, gateway.ErrTooLarge) {
			return gateway.ErrTooLarge.Error()
		}
		return "internal server error"
	}
	return err.Error()
}
