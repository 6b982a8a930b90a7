// Package notes owns the sticky-note document of each project scope.
// Writes are last-writer-wins: a note is replaced whole, never merged.
package notes

import (
	"context"
	"errors"
	"strings"
	"unicode"
)

var (
	ErrNotFound  = errors.New("note not found")
	ErrInvalidID = errors.New("invalid note id")
)

type Position struct {
	X float64 `json:"x" bson:"x"`
	Y float64 `json:"y" bson:"y"`
	Z float64 `json:"z" bson:"z"`
}

type Note struct {
	NoteID   string   `json:"noteId" bson:"noteId"`
	NoteText string   `json:"noteText" bson:"noteText"`
	NotePos  Position `json:"notePos" bson:"notePos"`
}

// Mutation is one write request against a scope.
type Mutation struct {
	Scope    string
	ClientID string
	Note     Note
}

// Ops reported in a Result.
const (
	OpCreated  = "created"
	OpModified = "modified"
	OpDeleted  = "deleted"
)

// Result describes a committed mutation and the document after it.
type Result struct {
	Scope    string
	ClientID string
	Op       string
	NoteID   string
	Notes    []Note
}

// Store persists the whole note array of a scope.
type Store interface {
	// LoadNotes returns an empty slice for a scope that has never been written.
	LoadNotes(ctx context.Context, scope string) ([]Note, error)
	SaveNotes(ctx context.Context, scope string, notes []Note) error
}

const maxIDLen = 128

// ValidID reports ErrInvalidID for empty, oversized, or path-like ids.
func ValidID(id string) error {
	if id == "" || len(id) > maxIDLen || strings.ContainsAny(id, "/\\") {
		return ErrInvalidID
	}
	for _, r := range id {
		if unicode.IsControl(r) || unicode.IsSpace(r) {
			return ErrInvalidID
		}
	}
	return nil
}

func clone(in []Note) []Note {
	out := make([]Note, len(in))
	copy(out, in)
	return out
}
