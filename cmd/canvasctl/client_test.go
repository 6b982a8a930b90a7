package main

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"canvas-sync/internal/app"
	"canvas-sync/internal/blob"
	"canvas-sync/internal/broadcast"
	httpx "canvas-sync/internal/http"
	"canvas-sync/internal/notes"
	"canvas-sync/internal/ws"
)

func TestURLs(t *testing.T) {
	c := &client{BaseURL: "https://canvas.example/", Project: "a b"}
	assert.Equal(t, "wss://canvas.example/ws?project=a+b", c.wsURL())
	assert.Equal(t, "https://canvas.example/api/a%20b/notes", c.api("/notes"))

	c.BaseURL = "http://localhost:8080"
	assert.Equal(t, "ws://localhost:8080/ws?project=a+b", c.wsURL())
}

func TestMutateUsesLiveSession(t *testing.T) {
	log := app.NopLogger()
	hub := ws.NewHub(log, nil)
	svc := notes.NewService(notes.NewMemoryStore(), time.Minute, log)
	bc := broadcast.New(hub, svc, log)
	bc.Attach()
	srv := httptest.NewServer(httpx.NewRouter(app.Config{MaxUploadMiB: 1}, log, httpx.Deps{
		Hub: hub, Notes: svc, Sync: bc,
		Blobs: blob.NewRouter(blob.NewMemoryInline(), blob.NewMemoryChunked(), log),
	}))
	defer srv.Close()

	cl := &client{BaseURL: srv.URL, Project: "proj", HTTP: srv.Client()}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var out bytes.Buffer
	err := cl.mutate(ctx, func(ctx context.Context, clientID string) ([]byte, error) {
		return cl.call(ctx, http.MethodPost, "/notes", map[string]any{"clientId": clientID, "noteId": "n1", "noteText": "hi"})
	}, &out)
	require.NoError(t, err)
	assert.Contains(t, out.String(), `"noteText": "hi"`)

	ns, err := svc.Snapshot(ctx, "proj")
	require.NoError(t, err)
	require.Len(t, ns, 1)
	assert.Equal(t, "n1", ns[0].NoteID)

	_, err = cl.call(ctx, http.MethodPost, "/notes", map[string]any{"clientId": "gone", "noteId": "n2"})
	assert.ErrorContains(t, err, "status=404")
}
