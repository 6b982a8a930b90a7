package presence

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJoinStartsAtCurrentVersion(t *testing.T) {
	tr := NewTracker()
	tr.Join("a")

	v, ok := tr.Version("a")
	require.True(t, ok)
	assert.Equal(t, tr.Current(), v)
	assert.Empty(t, tr.StaleClients(tr.Current()))
}

func TestRecordMutationMarksEveryoneStale(t *testing.T) {
	tr := NewTracker()
	tr.Join("a")
	tr.Join("b")
	before := tr.Current()

	v := tr.RecordMutation()
	require.NotEqual(t, before, v)
	assert.Equal(t, v, tr.Current())
	assert.Equal(t, []string{"a", "b"}, tr.StaleClients(v))

	got, _ := tr.Version("a")
	assert.Equal(t, before, got, "mutation must not touch client entries")
}

func TestMarkSeenRemovesFromStaleSet(t *testing.T) {
	tr := NewTracker()
	tr.Join("a")
	tr.Join("b")
	v := tr.RecordMutation()

	tr.MarkSeen("a", v)
	assert.Equal(t, []string{"b"}, tr.StaleClients(v))
	tr.MarkSeen("b", v)
	assert.Empty(t, tr.StaleClients(v))
}

func TestDropClientExcludesFromStaleSet(t *testing.T) {
	tr := NewTracker()
	tr.Join("a")
	tr.Join("b")
	tr.DropClient("a")

	v := tr.RecordMutation()
	assert.Equal(t, []string{"b"}, tr.StaleClients(v))
	_, ok := tr.Version("a")
	assert.False(t, ok)
	assert.Equal(t, 1, tr.Len())
}

func TestMarkSeenIgnoresDroppedClient(t *testing.T) {
	tr := NewTracker()
	tr.Join("a")
	v := tr.RecordMutation()
	tr.DropClient("a")

	tr.MarkSeen("a", v)
	_, ok := tr.Version("a")
	assert.False(t, ok)
}

func TestSentinelIsNotAClient(t *testing.T) {
	tr := NewTracker()
	tr.MarkSeen(sentinel, "bogus")
	tr.DropClient(sentinel)
	tr.Join(sentinel)

	assert.NotEqual(t, "bogus", tr.Current())
	assert.Equal(t, 0, tr.Len())
	assert.Empty(t, tr.StaleClients("anything"))
}

func TestConvergesAfterEveryMutation(t *testing.T) {
	tr := NewTracker()
	for i := 0; i < 5; i++ {
		tr.Join(fmt.Sprintf("c%d", i))
	}
	for round := 0; round < 10; round++ {
		v := tr.RecordMutation()
		for _, id := range tr.StaleClients(v) {
			tr.MarkSeen(id, v)
		}
		for i := 0; i < 5; i++ {
			got, _ := tr.Version(fmt.Sprintf("c%d", i))
			require.Equal(t, tr.Current(), got)
		}
	}
}

func TestConcurrentAccess(t *testing.T) {
	tr := NewTracker()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("c%d", i)
			tr.Join(id)
			v := tr.RecordMutation()
			tr.StaleClients(v)
			tr.MarkSeen(id, v)
			if i%2 == 0 {
				tr.DropClient(id)
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 25, tr.Len())
}
