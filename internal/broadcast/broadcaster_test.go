package broadcast

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"canvas-sync/internal/app"
	"canvas-sync/internal/notes"
	"canvas-sync/internal/ws"
)

type fakeChan struct {
	mu     sync.Mutex
	frames [][]byte
	closed bool
	fail   error
}

func (f *fakeChan) Send(b []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return f.fail
	}
	f.frames = append(f.frames, b)
	return nil
}

func (f *fakeChan) Open() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return !f.closed
}

func (f *fakeChan) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

type decoded struct {
	ClientID string       `json:"clientId"`
	Type     string       `json:"type"`
	Data     []notes.Note `json:"data"`
}

func (f *fakeChan) decoded(t *testing.T) []decoded {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]decoded, len(f.frames))
	for i, b := range f.frames {
		require.NoError(t, json.Unmarshal(b, &out[i]))
	}
	return out
}

func (f *fakeChan) refreshes(t *testing.T) []decoded {
	var out []decoded
	for _, d := range f.decoded(t) {
		if d.Type == ws.TypeRefreshed {
			out = append(out, d)
		}
	}
	return out
}

type fixture struct {
	hub *ws.Hub
	svc *notes.Service
	bc  *Broadcaster
	rm  *ws.Room
}

func newFixture() fixture {
	log := app.NopLogger()
	hub := ws.NewHub(log, nil)
	svc := notes.NewService(notes.NewMemoryStore(), time.Minute, log)
	bc := New(hub, svc, log)
	bc.Attach()
	return fixture{hub: hub, svc: svc, bc: bc, rm: hub.Room("p")}
}

func (fx fixture) join(t *testing.T) (string, *fakeChan) {
	t.Helper()
	ch := &fakeChan{}
	id, err := fx.rm.Join(ch)
	require.NoError(t, err)
	return id, ch
}

func (fx fixture) mutate(t *testing.T, author, noteID, text string) notes.Result {
	t.Helper()
	res, err := fx.svc.Upsert(context.Background(), notes.Mutation{
		Scope: "p", ClientID: author, Note: notes.Note{NoteID: noteID, NoteText: text},
	})
	require.NoError(t, err)
	fx.bc.OnMutation(context.Background(), res)
	return res
}

func TestStaleClientGetsOnePushPerMutation(t *testing.T) {
	fx := newFixture()
	author, _ := fx.join(t)
	x, xc := fx.join(t)

	fx.mutate(t, author, "n1", "first")
	got := xc.refreshes(t)
	require.Len(t, got, 1)
	assert.Equal(t, x, got[0].ClientID)
	assert.Equal(t, []notes.Note{{NoteID: "n1", NoteText: "first"}}, got[0].Data)
	v, _ := fx.rm.Tracker.Version(x)
	assert.Equal(t, fx.rm.Tracker.Current(), v)

	fx.mutate(t, author, "n1", "second")
	got = xc.refreshes(t)
	require.Len(t, got, 2)
	assert.Equal(t, "second", got[1].Data[0].NoteText)
	v, _ = fx.rm.Tracker.Version(x)
	assert.Equal(t, fx.rm.Tracker.Current(), v)
}

func TestAuthorIsNotPushed(t *testing.T) {
	fx := newFixture()
	author, ac := fx.join(t)

	res, err := fx.svc.Upsert(context.Background(), notes.Mutation{
		Scope: "p", ClientID: author, Note: notes.Note{NoteID: "n1"},
	})
	require.NoError(t, err)
	assert.Zero(t, fx.bc.OnMutation(context.Background(), res))
	assert.Empty(t, ac.refreshes(t))
	v, _ := fx.rm.Tracker.Version(author)
	assert.Equal(t, fx.rm.Tracker.Current(), v)
}

func TestFailedTargetDoesNotStopOthers(t *testing.T) {
	fx := newFixture()
	bad, badc := fx.join(t)
	_, good1 := fx.join(t)
	closedID, closed := fx.join(t)
	_, good2 := fx.join(t)
	badc.fail = errors.New("socket gone")
	_ = closed.Close()

	res, err := fx.svc.Upsert(context.Background(), notes.Mutation{Scope: "p", Note: notes.Note{NoteID: "n"}})
	require.NoError(t, err)
	sent := fx.bc.OnMutation(context.Background(), res)

	assert.Equal(t, 2, sent)
	assert.Len(t, good1.refreshes(t), 1)
	assert.Len(t, good2.refreshes(t), 1)

	// failed and closed targets stay stale for the next mutation
	stale := fx.rm.Tracker.StaleClients(fx.rm.Tracker.Current())
	assert.ElementsMatch(t, []string{bad, closedID}, stale)
}

func TestDisconnectedClientLeavesStaleSet(t *testing.T) {
	fx := newFixture()
	gone, _ := fx.join(t)
	stay, _ := fx.join(t)
	fx.rm.Leave(gone)

	_, ok := fx.rm.Registry.Get(gone)
	assert.False(t, ok)
	_, ok = fx.rm.Tracker.Version(gone)
	assert.False(t, ok)

	v := fx.rm.Tracker.RecordMutation()
	assert.Equal(t, []string{stay}, fx.rm.Tracker.StaleClients(v))
}

func TestWelcomeSendsFullState(t *testing.T) {
	fx := newFixture()
	fx.mutate(t, "", "n1", "existing")

	id, ch := fx.join(t)
	require.NoError(t, fx.bc.Welcome(context.Background(), fx.rm, id))

	frames := ch.decoded(t)
	require.Len(t, frames, 2)
	assert.Equal(t, ws.TypeRegisterUser, frames[0].Type)
	assert.Equal(t, ws.TypeRefreshed, frames[1].Type)
	assert.Equal(t, "existing", frames[1].Data[0].NoteText)

	fx.rm.Leave(id)
	assert.ErrorIs(t, fx.bc.Welcome(context.Background(), fx.rm, id), ws.ErrUnknownClient)
}

func TestEmptyStatePushesEmptyArray(t *testing.T) {
	fx := newFixture()
	id, ch := fx.join(t)
	require.NoError(t, fx.bc.Welcome(context.Background(), fx.rm, id))

	ch.mu.Lock()
	raw := string(ch.frames[1])
	ch.mu.Unlock()
	assert.Contains(t, raw, `"data":[]`)
}

type countingState struct {
	*notes.Service
	invalidated []string
}

func (c *countingState) Invalidate(scope string) {
	c.invalidated = append(c.invalidated, scope)
	c.Service.Invalidate(scope)
}

func TestRefreshInvalidatesAndPushesEveryone(t *testing.T) {
	log := app.NopLogger()
	hub := ws.NewHub(log, nil)
	st := &countingState{Service: notes.NewService(notes.NewMemoryStore(), time.Minute, log)}
	bc := New(hub, st, log)
	rm := hub.Room("p")

	_, err := rm.Join(&fakeChan{})
	require.NoError(t, err)
	ch := &fakeChan{}
	_, err = rm.Join(ch)
	require.NoError(t, err)

	assert.Equal(t, 2, bc.Refresh(context.Background(), "p"))
	assert.Equal(t, []string{"p"}, st.invalidated)
	assert.Len(t, ch.refreshes(t), 1)

	assert.Zero(t, bc.Refresh(context.Background(), "unknown-scope"))
}

func TestMutationWithoutRoomIsANoop(t *testing.T) {
	fx := newFixture()
	res := notes.Result{Scope: "nobody-here", Op: notes.OpCreated}
	assert.Zero(t, fx.bc.OnMutation(context.Background(), res))
	_, ok := fx.hub.Lookup("nobody-here")
	assert.False(t, ok)
}

// loopBus delivers every message synchronously to all subscribers.
type loopBus struct {
	mu   sync.Mutex
	subs []func(ws.BusMessage)
}

func (b *loopBus) Publish(_ context.Context, msg ws.BusMessage) error {
	b.mu.Lock()
	subs := append([]func(ws.BusMessage){}, b.subs...)
	b.mu.Unlock()
	for _, fn := range subs {
		fn(msg)
	}
	return nil
}

func (b *loopBus) Subscribe(ctx context.Context, fn func(ws.BusMessage)) {
	b.mu.Lock()
	b.subs = append(b.subs, fn)
	b.mu.Unlock()
	<-ctx.Done()
}

func (b *loopBus) Close() {}

func (b *loopBus) subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

func TestRemoteMutationInvalidatesInstanceWithoutClients(t *testing.T) {
	log := app.NopLogger()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	bus := &loopBus{}
	shared := notes.NewMemoryStore()

	h1, h2 := ws.NewHub(log, bus), ws.NewHub(log, bus)
	svc1 := notes.NewService(shared, time.Minute, log)
	svc2 := notes.NewService(shared, time.Minute, log)
	bc1 := New(h1, svc1, log)
	bc1.Attach()
	New(h2, svc2, log).Attach()
	go h1.Run(ctx)
	go h2.Run(ctx)
	require.Eventually(t, func() bool { return bus.subscribers() == 2 }, time.Second, 5*time.Millisecond)

	cached, err := svc2.Snapshot(ctx, "p")
	require.NoError(t, err)
	require.Empty(t, cached)

	res, err := svc1.Upsert(ctx, notes.Mutation{Scope: "p", ClientID: "c", Note: notes.Note{NoteID: "n1"}})
	require.NoError(t, err)
	bc1.OnMutation(ctx, res)

	_, hasRoom := h2.Lookup("p")
	require.False(t, hasRoom)
	got, err := svc2.Snapshot(ctx, "p")
	require.NoError(t, err)
	assert.Equal(t, res.Notes, got)
}
