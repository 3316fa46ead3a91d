// Package handlers implements the HTTP API surface.
package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"adforge/internal/infra"
	"adforge/internal/pipeline"
	"adforge/internal/storage"
)

// App carries the dependencies shared by all handlers.
type App struct {
	Pipeline       *pipeline.Coordinator
	Files          *storage.FileStore
	Logger         infra.Logger
	StorageBaseURL string

	// Ready reports backing-store health for the readiness probe. Nil means
	// always ready.
	Ready func() error
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *App) error(w http.ResponseWriter, code int, kind, message string) {
	a.json(w, code, map[string]string{"error": kind, "message": message})
}

// artifactURL resolves a storage key to a client-fetchable URL.
func (a *App) artifactURL(storageKey string) string {
	if storageKey == "" {
		return ""
	}
	return strings.TrimRight(a.StorageBaseURL, "/") + "/" + strings.TrimLeft(storageKey, "/")
}
