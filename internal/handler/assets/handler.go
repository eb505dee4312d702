// Package assets serves the script hosts embed to load the widget.
package assets

import (
	"bytes"
	_ "embed"
	"fmt"
	"net/http"
	"strings"
	"text/template"

	"github.com/go-chi/chi/v5"
)

// TabKey is the sessionStorage key the loader keeps its tab id under.
const TabKey = "optinbot_tab_id"

//go:embed loader.js.tmpl
var loaderSource string

var loaderTmpl = template.Must(template.New("loader").Parse(loaderSource))

// Handler serves loader.js rendered once at startup.
type Handler struct {
	script []byte
}

// New renders the loader against the public API base, e.g. https://widget.example.com/api.
func New(apiBase string) (*Handler, error) {
	var buf bytes.Buffer
	err := loaderTmpl.Execute(&buf, map[string]string{
		"APIBase": strings.TrimRight(apiBase, "/"),
		"TabKey":  TabKey,
	})
	if err != nil {
		return nil, fmt.Errorf("render loader: %w", err)
	}
	return &Handler{script: buf.Bytes()}, nil
}

// RegisterRoutes 注册静态脚本路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/loader.js", h.handleLoader)
}

func (h *Handler) handleLoader(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/javascript; charset=utf-8")
	w.Header().Set("Cache-Control", "public, max-age=300")
	w.Write(h.script)
}
