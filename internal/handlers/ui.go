package handlers

import (
	"bytes"
	"embed"
	"html/template"
	"net/http"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
)

//go:embed templates/index.html
var templateFS embed.FS

var indexTemplate = template.Must(template.ParseFS(templateFS, "templates/index.html"))

type UIHandler struct {
	staticDir   string
	attribution string
	ownerTag    string
}

func NewUIHandler(staticDir, attribution, ownerTag string) *UIHandler {
	return &UIHandler{staticDir: staticDir, attribution: attribution, ownerTag: ownerTag}
}

func (h *UIHandler) HandleIndex(w http.ResponseWriter, r *http.Request) {
	var buf bytes.Buffer
	err := indexTemplate.Execute(&buf, struct {
		Attribution string
		OwnerTag    string
	}{h.attribution, h.ownerTag})
	if err != nil {
		logrus.WithError(err).Error("Failed to render index")
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(buf.Bytes())
}

// HandleFavicon serves icons/favicon.ico from the static directory.
func (h *UIHandler) HandleFavicon(w http.ResponseWriter, r *http.Request) {
	path := filepath.Join(h.staticDir, "icons", "favicon.ico")
	if _, err := os.Stat(path); err != nil {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "image/vnd.microsoft.icon")
	http.ServeFile(w, r, path)
}

// Static serves the static directory under /static/.
func (h *UIHandler) Static() http.Handler {
	return http.StripPrefix("/static/", http.FileServer(http.Dir(h.staticDir)))
}
