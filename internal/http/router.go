package httpx

import (
	"context"
	"log/slog"
	"net/http"

	"canvas-sync/internal/app"
	"canvas-sync/internal/blob"
	"canvas-sync/internal/broadcast"
	"canvas-sync/internal/notes"
	"canvas-sync/internal/ws"
	"canvas-sync/pkg/metrics"
)

// Deps are the collaborators the routes are served from.
type Deps struct {
	Hub   *ws.Hub
	Notes *notes.Service
	Blobs blob.Store
	Sync  *broadcast.Broadcaster
	// Ready reports backend health for /readyz; nil means always ready.
	Ready func(ctx context.Context) error
}

// NewRouter wires up all HTTP routes, middleware, and handlers
func NewRouter(cfg app.Config, logger *slog.Logger, d Deps) http.Handler {
	mw := NewMiddleware(cfg)
	notesAPI := &NotesAPI{Notes: d.Notes, Hub: d.Hub, Sync: d.Sync, Log: logger}
	blobsAPI := &BlobsAPI{Blobs: d.Blobs, MaxBytes: int64(cfg.MaxUploadMiB) << 20, Log: logger}

	mux := http.NewServeMux()

	// Health / readiness / metrics
	mux.Handle("GET /healthz", http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(200) }))
	mux.Handle("GET /readyz", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if d.Ready != nil {
			if err := d.Ready(r.Context()); err != nil {
				logger.Warn("readyz", "err", err)
				w.WriteHeader(http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(200)
	}))
	mux.Handle("GET /metrics", metrics.Handler())

	// WebSocket endpoint
	mux.Handle("GET /ws", http.HandlerFunc(d.Hub.ServeWS))

	// Session + notes
	mux.Handle("POST /api/{project}/register-user", mw.Auth(http.HandlerFunc(notesAPI.Register)))
	mux.Handle("GET /api/{project}/notes", mw.Auth(http.HandlerFunc(notesAPI.List)))
	mux.Handle("POST /api/{project}/notes", mw.Auth(http.HandlerFunc(notesAPI.Upsert)))
	mux.Handle("DELETE /api/{project}/notes/{noteId}", mw.Auth(http.HandlerFunc(notesAPI.Delete)))

	// Blobs
	mux.Handle("GET /api/{project}/blobs", mw.Auth(http.HandlerFunc(blobsAPI.List)))
	mux.Handle("PUT /api/{project}/blobs/{fileId}", mw.Auth(http.HandlerFunc(blobsAPI.Upload)))
	mux.Handle("GET /api/{project}/blobs/{fileId}", mw.Auth(http.HandlerFunc(blobsAPI.Download)))

	// CORS + rate limit applied globally
	return mw.Wrap(mux)
}
