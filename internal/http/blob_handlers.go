package httpx

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"canvas-sync/internal/blob"
)

type BlobsAPI struct {
	Blobs    blob.Store
	MaxBytes int64
	Log      *slog.Logger
}

// Upload stores the raw request body under {fileId}.
func (a *BlobsAPI) Upload(w http.ResponseWriter, r *http.Request) {
	sc, err := scope(r)
	if err != nil {
		writeError(w, a.Log, err)
		return
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, a.MaxBytes))
	if err != nil {
		writeError(w, a.Log, err)
		return
	}
	rec, err := a.Blobs.Upload(r.Context(), sc, r.PathValue("fileId"), body)
	if err != nil {
		writeError(w, a.Log, err)
		return
	}
	writeOK(w, http.StatusCreated, "File uploaded successfully", rec)
}

// List returns every file id of a project across both tiers
func (a *BlobsAPI) List(w http.ResponseWriter, r *http.Request) {
	sc, err := scope(r)
	if err != nil {
		writeError(w, a.Log, err)
		return
	}
	ids, err := a.Blobs.List(r.Context(), sc)
	if err != nil {
		writeError(w, a.Log, err)
		return
	}
	if ids == nil {
		ids = []string{}
	}
	writeOK(w, http.StatusOK, "", ids)
}

// Download streams a file's bytes with size and tier headers.
func (a *BlobsAPI) Download(w http.ResponseWriter, r *http.Request) {
	sc, err := scope(r)
	if err != nil {
		writeError(w, a.Log, err)
		return
	}
	rc, rec, err := a.Blobs.Download(r.Context(), sc, r.PathValue("fileId"))
	if err != nil {
		writeError(w, a.Log, err)
		return
	}
	defer rc.Close()

	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Length", fmt.Sprintf("%d", rec.Size))
	w.Header().Set("X-Blob-Tier", string(rec.Tier))
	if _, err := io.Copy(w, rc); err != nil {
		// headers are gone; all we can do is log
		a.Log.Warn("blob.download", "scope", sc, "id", rec.ID, "err", err)
	}
}
