// Package presence tracks which clients have seen the latest document state.
package presence

import (
	"sort"
	"sync"

	"github.com/google/uuid"
)

// sentinel is the entry holding the authoritative version. It is never a
// valid client identity because client identities are UUIDs.
const sentinel = "@stored"

// Tracker maps client identities to the last version token they were sent.
type Tracker struct {
	mu       sync.Mutex
	versions map[string]string
	newToken func() string
}

// NewTracker returns a tracker whose sentinel starts at a fresh version.
func NewTracker() *Tracker {
	t := &Tracker{
		versions: map[string]string{},
		newToken: func() string { return uuid.NewString() },
	}
	t.versions[sentinel] = t.newToken()
	return t
}

// RecordMutation moves the sentinel to a fresh version and returns it.
// Every other entry is left untouched, so all of them are now stale.
func (t *Tracker) RecordMutation() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	v := t.newToken()
	t.versions[sentinel] = v
	return v
}

// StaleClients returns every client whose version differs from version,
// sorted for stable delivery order.
func (t *Tracker) StaleClients(version string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []string
	for id, v := range t.versions {
		if id == sentinel || v == version {
			continue
		}
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// MarkSeen records that id has been sent the state at version. Unknown
// identities are ignored so a client dropped mid-push stays dropped.
func (t *Tracker) MarkSeen(id, version string) {
	if id == sentinel {
		return
	}
	t.mu.Lock()
	if _, ok := t.versions[id]; ok {
		t.versions[id] = version
	}
	t.mu.Unlock()
}

// Join starts tracking id at the current version.
func (t *Tracker) Join(id string) {
	if id == sentinel {
		return
	}
	t.mu.Lock()
	t.versions[id] = t.versions[sentinel]
	t.mu.Unlock()
}

// DropClient forgets id.
func (t *Tracker) DropClient(id string) {
	if id == sentinel {
		return
	}
	t.mu.Lock()
	delete(t.versions, id)
	t.mu.Unlock()
}

// Current returns the sentinel version.
func (t *Tracker) Current() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.versions[sentinel]
}

// Version returns the version last recorded for id.
func (t *Tracker) Version(id string) (string, bool) {
	if id == sentinel {
		return "", false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	v, ok := t.versions[id]
	return v, ok
}

// Len returns the number of tracked clients, excluding the sentinel.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.versions) - 1
}
