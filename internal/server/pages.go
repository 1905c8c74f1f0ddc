package server

import (
	"embed"
	"html/template"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	gateway "github.com/nextpulse/streamgate/internal"
)

//go:embed templates/*.html
var templateFS embed.FS

var pageTemplates = template.Must(template.ParseFS(templateFS, "templates/*.html"))

type watchPage struct {
	FileName  string
	MediaURL  string
	Tag       string // "video", "audio" or "file"
	HumanSize string
}

type preparePage struct {
	Token     string
	FileName  string
	HumanSize string
	Caption   string
	Tag       string
}

// handlePrepare renders the intermediate page for a link token: file
// details plus a generate button wired to the JSON API.
func (s *server) handlePrepare(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")
	rec, err := s.deps.Links.Get(r.Context(), token, s.deps.Domains.ServeDomain)
	if err != nil {
		s.renderPage(w, http.StatusNotFound, "notfound.html", nil)
		return
	}
	s.renderPage(w, http.StatusOK, "prepare.html", preparePage{
		Token:     rec.Token,
		FileName:  rec.Display.FileName,
		HumanSize: gateway.HumanBytes(rec.Display.FileSize),
		Caption:   rec.Display.Caption,
		Tag:       mediaTag(rec.Display.MimeType),
	})
}

func (s *server) renderWatch(w http.ResponseWriter, r *http.Request, page watchPage) {
	if r.Method == http.MethodHead {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		return
	}
	s.renderPage(w, http.StatusOK, "watch.html", page)
}

// renderPage buffers template execution so a render failure can still
// become a clean 500 instead of a half-written page.
func (s *server) renderPage(w http.ResponseWriter, status int, name string, data any) {
	var buf strings.Builder
	if err := pageTemplates.ExecuteTemplate(&buf, name, data); err != nil {
		slog.Error("render page", "template", name, "error", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse("internal server error"))
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	w.Write([]byte(buf.String()))
}
