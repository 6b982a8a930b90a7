package httpx

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"canvas-sync/internal/broadcast"
	"canvas-sync/internal/notes"
	"canvas-sync/internal/ws"
	"canvas-sync/pkg/auth"
)

var errBadPayload = errors.New("invalid payload")

type NotesAPI struct {
	Notes *notes.Service
	Hub   *ws.Hub
	Sync  *broadcast.Broadcaster
	Log   *slog.Logger
}

type registerReq struct {
	ClientID string `json:"clientId"`
}

type upsertNoteReq struct {
	ClientID string         `json:"clientId"`
	NoteID   string         `json:"noteId"`
	NoteText string         `json:"noteText"`
	NotePos  notes.Position `json:"notePos"`
}

// scope reads and validates the {project} path segment
func scope(r *http.Request) (string, error) {
	s := r.PathValue("project")
	if err := notes.ValidID(s); err != nil {
		return "", fmt.Errorf("project: %w", err)
	}
	return s, nil
}

// liveRoom returns the room in which clientID holds a connection.
func (a *NotesAPI) liveRoom(scope, clientID string) (*ws.Room, error) {
	rm, ok := a.Hub.Lookup(scope)
	if !ok {
		return nil, ws.ErrUnknownClient
	}
	if err := rm.Known(clientID); err != nil {
		return nil, err
	}
	return rm, nil
}

// logMutation records who changed what; user is the token subject.
func (a *NotesAPI) logMutation(r *http.Request, res notes.Result) {
	a.Log.Info("note."+res.Op, "scope", res.Scope, "note", res.NoteID,
		"client", res.ClientID, "user", auth.UserID(r.Context()))
}

// Register confirms a connection's identity and pushes it the full state.
func (a *NotesAPI) Register(w http.ResponseWriter, r *http.Request) {
	sc, err := scope(r)
	if err != nil {
		writeError(w, a.Log, err)
		return
	}
	var req registerReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ClientID == "" {
		writeError(w, a.Log, errBadPayload)
		return
	}

	rm, err := a.liveRoom(sc, req.ClientID)
	if err != nil {
		writeError(w, a.Log, err)
		return
	}
	if err := rm.Claim(req.ClientID); err != nil {
		writeError(w, a.Log, err)
		return
	}
	if err := a.Sync.Welcome(r.Context(), rm, req.ClientID); err != nil {
		// the claim stands; the client still gets pushes on the next mutation
		a.Log.Warn("register.refresh", "scope", sc, "client", req.ClientID, "err", err)
	}
	writeOK(w, http.StatusOK, "Register success!", nil)
}

// List returns the current notes of a project
func (a *NotesAPI) List(w http.ResponseWriter, r *http.Request) {
	sc, err := scope(r)
	if err != nil {
		writeError(w, a.Log, err)
		return
	}
	ns, err := a.Notes.Snapshot(r.Context(), sc)
	if err != nil {
		writeError(w, a.Log, err)
		return
	}
	writeOK(w, http.StatusOK, "", ns)
}

// Upsert adds or replaces a note, then refreshes every stale client.
func (a *NotesAPI) Upsert(w http.ResponseWriter, r *http.Request) {
	sc, err := scope(r)
	if err != nil {
		writeError(w, a.Log, err)
		return
	}
	var req upsertNoteReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, a.Log, errBadPayload)
		return
	}
	if _, err := a.liveRoom(sc, req.ClientID); err != nil {
		writeError(w, a.Log, err)
		return
	}

	res, err := a.Notes.Upsert(r.Context(), notes.Mutation{
		Scope:    sc,
		ClientID: req.ClientID,
		Note:     notes.Note{NoteID: req.NoteID, NoteText: req.NoteText, NotePos: req.NotePos},
	})
	if err != nil {
		writeError(w, a.Log, err)
		return
	}
	a.Sync.OnMutation(r.Context(), res)
	a.logMutation(r, res)

	msg := "New note modified successfully"
	if res.Op == notes.OpCreated {
		msg = "New note added successfully, and all has been updated"
	}
	writeOK(w, http.StatusOK, msg, res.Notes)
}

// Delete removes a note, then refreshes every stale client.
func (a *NotesAPI) Delete(w http.ResponseWriter, r *http.Request) {
	sc, err := scope(r)
	if err != nil {
		writeError(w, a.Log, err)
		return
	}
	clientID := r.URL.Query().Get("clientId")
	if _, err := a.liveRoom(sc, clientID); err != nil {
		writeError(w, a.Log, err)
		return
	}

	res, err := a.Notes.Delete(r.Context(), sc, clientID, r.PathValue("noteId"))
	if err != nil {
		writeError(w, a.Log, err)
		return
	}
	a.Sync.OnMutation(r.Context(), res)
	a.logMutation(r, res)
	writeOK(w, http.StatusOK, "Note deleted", res.Notes)
}
