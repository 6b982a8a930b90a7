package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"

	"canvas-sync/internal/app"
)

func dial(t *testing.T, srv *httptest.Server, project string) (*websocket.Conn, string) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?project=" + project
	c, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)

	_, b, err := c.Read(ctx)
	require.NoError(t, err)
	var f Frame
	require.NoError(t, json.Unmarshal(b, &f))
	require.Equal(t, TypeRegisterUser, f.Type)
	require.NotEmpty(t, f.ClientID)
	return c, f.ClientID
}

func readWithin(c *websocket.Conn, d time.Duration) ([]byte, error) {
	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()
	_, b, err := c.Read(ctx)
	return b, err
}

func newTestHub(t *testing.T, bus Bus) (*Hub, *httptest.Server) {
	t.Helper()
	hub := NewHub(app.NopLogger(), bus)
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", hub.ServeWS)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return hub, srv
}

func TestRelayReachesEveryoneButSender(t *testing.T) {
	hub, srv := newTestHub(t, nil)
	a, _ := dial(t, srv, "p")
	b, _ := dial(t, srv, "p")
	c, _ := dial(t, srv, "p")
	other, _ := dial(t, srv, "elsewhere")
	defer b.Close(websocket.StatusNormalClosure, "")
	defer c.Close(websocket.StatusNormalClosure, "")
	defer other.Close(websocket.StatusNormalClosure, "")

	rm, ok := hub.Lookup("p")
	require.True(t, ok)
	require.Equal(t, 3, rm.Registry.Len())

	msg := []byte(`{"cursor":[1,2]}`)
	require.NoError(t, a.Write(context.Background(), websocket.MessageText, msg))

	for _, peer := range []*websocket.Conn{b, c} {
		got, err := readWithin(peer, 2*time.Second)
		require.NoError(t, err)
		assert.Equal(t, msg, got)
	}

	// reading with a deadline closes the conn, so these checks go last
	_, err := readWithin(other, 200*time.Millisecond)
	assert.Error(t, err, "relay must stay within the project")
	_, err = readWithin(a, 200*time.Millisecond)
	assert.Error(t, err, "sender must not get its own frame")
}

func TestDisconnectClearsRegistryAndTracker(t *testing.T) {
	hub, srv := newTestHub(t, nil)
	a, aID := dial(t, srv, "p")
	b, bID := dial(t, srv, "p")
	defer b.Close(websocket.StatusNormalClosure, "")
	rm, _ := hub.Lookup("p")

	require.NoError(t, a.Close(websocket.StatusNormalClosure, "bye"))
	require.Eventually(t, func() bool { return rm.Registry.Len() == 1 }, 2*time.Second, 10*time.Millisecond)

	_, tracked := rm.Tracker.Version(aID)
	assert.False(t, tracked)
	v := rm.Tracker.RecordMutation()
	assert.Equal(t, []string{bID}, rm.Tracker.StaleClients(v))
}

func TestOnRegisterRunsAfterRegisterUser(t *testing.T) {
	hub, srv := newTestHub(t, nil)
	hub.OnRegister = func(_ context.Context, rm *Room, id string) {
		b, _ := EncodeFrame(id, TypeRefreshed, []string{"hello"})
		ch, _ := rm.Registry.Get(id)
		_ = ch.Send(b)
	}
	a, id := dial(t, srv, "")
	defer a.Close(websocket.StatusNormalClosure, "")

	got, err := readWithin(a, 2*time.Second)
	require.NoError(t, err)
	var f Frame
	require.NoError(t, json.Unmarshal(got, &f))
	assert.Equal(t, TypeRefreshed, f.Type)
	assert.Equal(t, id, f.ClientID)

	_, ok := hub.Lookup(DefaultScope)
	assert.True(t, ok)
}

type memBus struct {
	mu   sync.Mutex
	subs []func(BusMessage)
	pub  []BusMessage
}

func (m *memBus) Publish(_ context.Context, msg BusMessage) error {
	m.mu.Lock()
	m.pub = append(m.pub, msg)
	subs := append([]func(BusMessage){}, m.subs...)
	m.mu.Unlock()
	for _, fn := range subs {
		fn(msg)
	}
	return nil
}

func (m *memBus) Subscribe(ctx context.Context, fn func(BusMessage)) {
	m.mu.Lock()
	m.subs = append(m.subs, fn)
	m.mu.Unlock()
	<-ctx.Done()
}

func (m *memBus) Close() {}

func (m *memBus) subscribers() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.subs)
}

func TestBusRelaysAcrossHubs(t *testing.T) {
	bus := &memBus{}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h1 := NewHub(app.NopLogger(), bus)
	h2 := NewHub(app.NopLogger(), bus)
	go h1.Run(ctx)
	go h2.Run(ctx)
	require.Eventually(t, func() bool { return bus.subscribers() == 2 }, time.Second, 5*time.Millisecond)

	local := &stubChan{}
	remote := &stubChan{}
	sender := &stubChan{}
	senderID, err := h1.Room("p").Join(sender)
	require.NoError(t, err)
	_, err = h1.Room("p").Join(local)
	require.NoError(t, err)
	_, err = h2.Room("p").Join(remote)
	require.NoError(t, err)

	var mutated []string
	h2.OnRemoteMutation = func(_ context.Context, scope string) { mutated = append(mutated, scope) }

	h1.Relay(ctx, "p", senderID, []byte("x"))
	assert.Equal(t, 2, local.count())
	assert.Equal(t, 2, remote.count())
	assert.Equal(t, 1, sender.count(), "origin hub must ignore its own bus echo")

	h1.PublishMutation(ctx, "p")
	assert.Equal(t, []string{"p"}, mutated)
}

func TestRelayCarriesLargeFrames(t *testing.T) {
	_, srv := newTestHub(t, nil)
	a, _ := dial(t, srv, "p")
	b, _ := dial(t, srv, "p")
	defer a.Close(websocket.StatusNormalClosure, "")
	b.SetReadLimit(1 << 20)

	msg := []byte(strings.Repeat("x", 40<<10))
	require.NoError(t, a.Write(context.Background(), websocket.MessageText, msg))

	got, err := readWithin(b, 2*time.Second)
	require.NoError(t, err)
	assert.Equal(t, len(msg), len(got))
}

func TestFrameOverReadLimitDropsSender(t *testing.T) {
	hub := NewHub(app.NopLogger(), nil)
	hub.ReadLimit = 1 << 10
	srv := httptest.NewServer(http.HandlerFunc(hub.ServeWS))
	defer srv.Close()
	a, _ := dial(t, srv, "p")
	b, _ := dial(t, srv, "p")

	rm, ok := hub.Lookup("p")
	require.True(t, ok)
	require.Equal(t, 2, rm.Registry.Len())

	_ = a.Write(context.Background(), websocket.MessageText, []byte(strings.Repeat("x", 2<<10)))
	require.Eventually(t, func() bool { return rm.Registry.Len() == 1 }, 2*time.Second, 10*time.Millisecond)

	_, err := readWithin(b, 200*time.Millisecond)
	assert.Error(t, err, "oversized frame must not be relayed")
}

func TestRemoteMutationReachesHubWithoutRoom(t *testing.T) {
	bus := &memBus{}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h1 := NewHub(app.NopLogger(), bus)
	h2 := NewHub(app.NopLogger(), bus)
	var mu sync.Mutex
	var mutated []string
	h2.OnRemoteMutation = func(_ context.Context, scope string) {
		mu.Lock()
		mutated = append(mutated, scope)
		mu.Unlock()
	}
	go h2.Run(ctx)
	require.Eventually(t, func() bool { return bus.subscribers() == 1 }, time.Second, 5*time.Millisecond)

	h1.PublishMutation(ctx, "quiet")

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"quiet"}, mutated)
	_, ok := h2.Lookup("quiet")
	assert.False(t, ok, "remote mutations must not create rooms")
}
