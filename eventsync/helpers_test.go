package eventsync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// fakeConn is a scripted in-memory connection. Tests push inbound frames
// with deliver and inspect outbound frames with sentFrames.
type fakeConn struct {
	mu        sync.Mutex
	sent      [][]byte
	inbox     chan []byte
	done      chan struct{}
	closeOnce sync.Once
	sendErr   error
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		inbox: make(chan []byte, 64),
		done:  make(chan struct{}),
	}
}

func (c *fakeConn) Send(frame []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sendErr != nil {
		return c.sendErr
	}
	cp := append([]byte(nil), frame...)
	c.sent = append(c.sent, cp)
	return nil
}

func (c *fakeConn) Receive() ([]byte, error) {
	select {
	case frame := <-c.inbox:
		return frame, nil
	case <-c.done:
		return nil, errors.New("connection closed")
	}
}

func (c *fakeConn) Close() error {
	c.closeOnce.Do(func() { close(c.done) })
	return nil
}

// deliver queues an inbound frame for the engine's read loop.
func (c *fakeConn) deliver(t *testing.T, env *Envelope) {
	t.Helper()
	frame, err := env.Encode()
	require.NoError(t, err)
	c.inbox <- frame
}

// dropConnection simulates the server side going away.
func (c *fakeConn) dropConnection() { _ = c.Close() }

func (c *fakeConn) sentFrames() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]byte(nil), c.sent...)
}

// sentTypes decodes the type tag of every sent frame, in order.
func (c *fakeConn) sentTypes(t *testing.T) []MessageType {
	t.Helper()
	var types []MessageType
	for _, frame := range c.sentFrames() {
		env, err := DecodeEnvelope(frame)
		require.NoError(t, err)
		types = append(types, env.Type)
	}
	return types
}

// fakeTransport hands out fakeConns. failDials > 0 makes that many leading
// Connect calls fail, to exercise the reconnect path.
type fakeTransport struct {
	mu        sync.Mutex
	conns     []*fakeConn
	failDials int
	dials     int
}

func (ft *fakeTransport) Connect(ctx context.Context, url string) (Conn, error) {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	ft.dials++
	if ft.failDials > 0 {
		ft.failDials--
		return nil, errors.New("dial refused")
	}
	conn := newFakeConn()
	ft.conns = append(ft.conns, conn)
	return conn, nil
}

func (ft *fakeTransport) dialCount() int {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	return ft.dials
}

func (ft *fakeTransport) lastConn() *fakeConn {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	if len(ft.conns) == 0 {
		return nil
	}
	return ft.conns[len(ft.conns)-1]
}

// failingStorage always fails writes; reads behave like empty storage.
type failingStorage struct {
	mu       sync.Mutex
	setErr   error
	values   map[string]string
	setCalls int
}

func newFailingStorage() *failingStorage {
	return &failingStorage{
		setErr: errors.New("disk full"),
		values: make(map[string]string),
	}
}

func (f *failingStorage) Get(key string) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.values[key]
	return v, ok, nil
}

func (f *failingStorage) Set(key, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.setCalls++
	if f.setErr != nil {
		return f.setErr
	}
	f.values[key] = value
	return nil
}

func (f *failingStorage) heal() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.setErr = nil
}

// recorder collects bus payloads for one event name.
type recorder struct {
	mu       sync.Mutex
	payloads []any
}

func record(bus *Bus, event string) *recorder {
	r := &recorder{}
	bus.On(event, func(payload any) {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.payloads = append(r.payloads, payload)
	})
	return r
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.payloads)
}

func (r *recorder) last() any {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.payloads) == 0 {
		return nil
	}
	return r.payloads[len(r.payloads)-1]
}

func testConfig() *Config {
	cfg := DefaultConfig("ws://localhost/sync", "user-1", "Alice")
	cfg.HeartbeatInterval = time.Hour // keep heartbeats out of frame assertions
	cfg.ReconnectBaseDelay = 5 * time.Millisecond
	return cfg
}

func newTestService(t *testing.T, storage Storage, transport Transport) *Service {
	t.Helper()
	if storage == nil {
		storage = NewMemoryStorage()
	}
	if transport == nil {
		transport = &fakeTransport{}
	}
	svc, err := NewService(testConfig(), storage, transport)
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.Close() })
	return svc
}

// connect establishes the fake connection and waits for the drain trigger.
func connect(t *testing.T, svc *Service, ft *fakeTransport) *fakeConn {
	t.Helper()
	require.NoError(t, svc.Connect(context.Background()))
	require.Eventually(t, svc.Connection().IsConnected, time.Second, 2*time.Millisecond)
	conn := ft.lastConn()
	require.NotNil(t, conn)
	return conn
}

// remoteRecord builds a server-side event record payload.
func remoteRecord(id string, version int64) *EventRecord {
	return &EventRecord{
		ID:                  id,
		Title:               fmt.Sprintf("Remote title v%d", version),
		Participants:        []string{"host-9"},
		CurrentParticipants: 1,
		HostID:              "host-9",
		HostName:            "Remote Host",
		LastUpdated:         time.Now(),
		Version:             version,
		SyncStatus:          StatusSynced,
	}
}

func mustEnvelope(t *testing.T, msgType MessageType, payload any) *Envelope {
	t.Helper()
	env, err := NewEnvelope(msgType, payload)
	require.NoError(t, err)
	return env
}

// handleFrame routes a payload through the service as if it had arrived
// from the server, without requiring a live connection.
func handleFrame(t *testing.T, svc *Service, msgType MessageType, payload any) {
	t.Helper()
	frame, err := mustEnvelope(t, msgType, payload).Encode()
	require.NoError(t, err)
	svc.HandleFrame(frame)
}

func decodeData[T any](t *testing.T, frame []byte) (*Envelope, T) {
	t.Helper()
	env, err := DecodeEnvelope(frame)
	require.NoError(t, err)
	var out T
	require.NoError(t, json.Unmarshal(env.Data, &out))
	return env, out
}
