package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/dkeye/Logotopia/internal/core"
	"github.com/dkeye/Logotopia/internal/domain"
	"github.com/dkeye/Logotopia/internal/metrics"
	"github.com/dkeye/Logotopia/internal/protocol"
)

type fakeConn struct {
	mu       sync.Mutex
	frames   [][]byte
	closed   bool
	failWith error
}

func (c *fakeConn) TrySend(f core.Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return core.ErrConnClosed
	}
	if c.failWith != nil {
		return c.failWith
	}
	c.frames = append(c.frames, append([]byte(nil), f...))
	return nil
}

func (c *fakeConn) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakeConn) messages(t *testing.T) []protocol.Message {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]protocol.Message, 0, len(c.frames))
	for _, f := range c.frames {
		m, err := protocol.Decode(f)
		if err != nil {
			t.Fatalf("registry sent undecodable frame %s: %v", f, err)
		}
		out = append(out, m)
	}
	return out
}

func (c *fakeConn) reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames = nil
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func seqIDs() func() domain.PlayerID {
	n := 0
	return func() domain.PlayerID {
		n++
		return domain.PlayerID(fmt.Sprintf("p%d", n))
	}
}

func newTestRegistry(t *testing.T, opts RegistryOptions) (*Registry, *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	if opts.Clock == nil {
		opts.Clock = clock.Now
	}
	if opts.NewID == nil {
		opts.NewID = seqIDs()
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.New(metrics.WithRegistry(prometheus.NewRegistry()))
	}
	return NewRegistry(opts), clock
}

func mustConnect(t *testing.T, r *Registry, c *fakeConn) domain.PlayerID {
	t.Helper()
	id, err := r.OnConnect(c)
	if err != nil {
		t.Fatalf("OnConnect: %v", err)
	}
	return id
}

const flyingState = `{"mode":"flying","px":0,"py":100,"pz":0,"qx":0,"qy":0,"qz":0,"qw":1,"speed":2,"throttle":0.5,"boost":0,"cheer":0}`

func TestOnConnectSendsWelcomeAndAnnouncesJoin(t *testing.T) {
	r, _ := newTestRegistry(t, RegistryOptions{})
	a, b := &fakeConn{}, &fakeConn{}

	idA := mustConnect(t, r, a)
	msgs := a.messages(t)
	if len(msgs) != 1 {
		t.Fatalf("A got %d messages, want 1", len(msgs))
	}
	w, ok := msgs[0].(protocol.Welcome)
	if !ok || w.ID != idA || len(w.Players) != 0 {
		t.Fatalf("unexpected welcome for A: %#v", msgs[0])
	}
	a.reset()

	idB := mustConnect(t, r, b)
	if idB == idA {
		t.Fatal("ids must be unique")
	}
	if got := b.messages(t); len(got) != 1 || got[0].(protocol.Welcome).ID != idB {
		t.Fatalf("unexpected messages for B: %#v", got)
	}
	got := a.messages(t)
	if len(got) != 1 {
		t.Fatalf("A got %d messages, want 1 join", len(got))
	}
	if j, ok := got[0].(protocol.Join); !ok || j.ID != idB {
		t.Fatalf("A expected join for %s, got %#v", idB, got[0])
	}
	if r.Count() != 2 {
		t.Fatalf("Count=%d, want 2", r.Count())
	}
}

func TestWelcomeListsPlayersWithKnownState(t *testing.T) {
	r, _ := newTestRegistry(t, RegistryOptions{})
	a, b, c := &fakeConn{}, &fakeConn{}, &fakeConn{}
	idA := mustConnect(t, r, a)
	mustConnect(t, r, b)
	r.OnMessage(idA, []byte(`{"type":"state","data":`+flyingState+`}`))

	idC := mustConnect(t, r, c)
	w := c.messages(t)[0].(protocol.Welcome)
	if w.ID != idC {
		t.Fatalf("welcome id=%s, want %s", w.ID, idC)
	}
	if len(w.Players) != 1 {
		t.Fatalf("players=%d, want 1 (B has no state yet)", len(w.Players))
	}
	if w.Players[0].ID != idA || string(w.Players[0].Data) != flyingState {
		t.Fatalf("unexpected player entry: %s %s", w.Players[0].ID, w.Players[0].Data)
	}
}

func TestNinthConnectionGetsFullAndNoSession(t *testing.T) {
	r, _ := newTestRegistry(t, RegistryOptions{MaxPlayers: 8})
	conns := make([]*fakeConn, 8)
	for i := range conns {
		conns[i] = &fakeConn{}
		mustConnect(t, r, conns[i])
	}
	for _, c := range conns {
		c.reset()
	}

	ninth := &fakeConn{}
	id, err := r.OnConnect(ninth)
	if !errors.Is(err, ErrServerFull) {
		t.Fatalf("err=%v, want ErrServerFull", err)
	}
	if id != "" {
		t.Fatalf("rejected connection got id %q", id)
	}
	msgs := ninth.messages(t)
	if len(msgs) != 1 {
		t.Fatalf("ninth got %d messages, want exactly 1", len(msgs))
	}
	if _, ok := msgs[0].(protocol.Full); !ok {
		t.Fatalf("ninth got %#v, want full", msgs[0])
	}
	if !ninth.isClosed() {
		t.Fatal("rejected transport must be closed")
	}
	if r.Count() != 8 {
		t.Fatalf("Count=%d, want 8", r.Count())
	}
	for i, c := range conns {
		if n := len(c.messages(t)); n != 0 {
			t.Fatalf("existing session %d saw %d messages for a rejected connect", i, n)
		}
	}
}

func TestStateIsStampedWithSenderIdentity(t *testing.T) {
	r, _ := newTestRegistry(t, RegistryOptions{})
	a, b := &fakeConn{}, &fakeConn{}
	idA := mustConnect(t, r, a)
	mustConnect(t, r, b)
	a.reset()
	b.reset()

	r.OnMessage(idA, []byte(`{"type":"state","id":"spoofed","data":`+flyingState+`}`))

	got := b.messages(t)
	if len(got) != 1 {
		t.Fatalf("B got %d messages, want 1", len(got))
	}
	st, ok := got[0].(protocol.State)
	if !ok {
		t.Fatalf("B got %#v, want state", got[0])
	}
	if st.ID != idA {
		t.Fatalf("state id=%q, want server-assigned %q", st.ID, idA)
	}
	if string(st.Data) != flyingState {
		t.Fatalf("data=%s\nwant %s", st.Data, flyingState)
	}
	if n := len(a.messages(t)); n != 0 {
		t.Fatalf("sender got %d echoed messages", n)
	}
	if p := r.Players(); !p[0].HasState {
		t.Fatal("LastState not recorded")
	}
}

func TestServerRelaysPayloadWithoutInterpretingIt(t *testing.T) {
	r, _ := newTestRegistry(t, RegistryOptions{})
	a, b := &fakeConn{}, &fakeConn{}
	idA := mustConnect(t, r, a)
	mustConnect(t, r, b)
	b.reset()

	opaque := `{"mode":"teleporting","anything":[1,2,3]}`
	r.OnMessage(idA, []byte(`{"type":"state","data":`+opaque+`}`))
	got := b.messages(t)
	if len(got) != 1 || string(got[0].(protocol.State).Data) != opaque {
		t.Fatalf("opaque payload not forwarded verbatim: %#v", got)
	}
}

func TestMalformedMessageIsDroppedSilently(t *testing.T) {
	r, _ := newTestRegistry(t, RegistryOptions{})
	a, b := &fakeConn{}, &fakeConn{}
	idA := mustConnect(t, r, a)
	mustConnect(t, r, b)
	a.reset()
	b.reset()

	for _, raw := range []string{`{not json`, `{"type":"bogus"}`, `{"type":"state"}`, `42`} {
		r.OnMessage(idA, []byte(raw))
	}
	if n := len(b.messages(t)); n != 0 {
		t.Fatalf("malformed input was relayed (%d messages)", n)
	}
	if a.isClosed() || r.Count() != 2 {
		t.Fatal("sender must stay connected after a bad message")
	}
}

func TestMessageFromUnknownSessionIgnored(t *testing.T) {
	r, _ := newTestRegistry(t, RegistryOptions{})
	a := &fakeConn{}
	mustConnect(t, r, a)
	a.reset()

	r.OnMessage("ghost", []byte(`{"type":"state","data":{}}`))
	if n := len(a.messages(t)); n != 0 {
		t.Fatalf("state from unknown id relayed (%d messages)", n)
	}
}

func TestPingIsAnsweredWithPong(t *testing.T) {
	r, _ := newTestRegistry(t, RegistryOptions{})
	a := &fakeConn{}
	id := mustConnect(t, r, a)
	a.reset()

	r.OnMessage(id, []byte(`{"type":"ping"}`))
	got := a.messages(t)
	if len(got) != 1 {
		t.Fatalf("got %d messages, want pong", len(got))
	}
	if _, ok := got[0].(protocol.Pong); !ok {
		t.Fatalf("got %#v, want pong", got[0])
	}
}

func TestDisconnectBroadcastsLeaveOnce(t *testing.T) {
	r, _ := newTestRegistry(t, RegistryOptions{})
	a, b := &fakeConn{}, &fakeConn{}
	idA := mustConnect(t, r, a)
	mustConnect(t, r, b)
	b.reset()

	r.OnDisconnect(idA)
	r.OnDisconnect(idA)

	got := b.messages(t)
	if len(got) != 1 {
		t.Fatalf("B got %d messages, want one leave", len(got))
	}
	if l, ok := got[0].(protocol.Leave); !ok || l.ID != idA {
		t.Fatalf("B got %#v, want leave for %s", got[0], idA)
	}
	if !a.isClosed() {
		t.Fatal("removed session's transport must be closed")
	}
	if r.Count() != 1 {
		t.Fatalf("Count=%d, want 1", r.Count())
	}
}

func TestSweepEvictsStaleSessions(t *testing.T) {
	r, clock := newTestRegistry(t, RegistryOptions{StaleTimeout: 15 * time.Second})
	a, b := &fakeConn{}, &fakeConn{}
	idA := mustConnect(t, r, a)
	idB := mustConnect(t, r, b)

	clock.Advance(10 * time.Second)
	r.OnMessage(idB, []byte(`{"type":"state","data":{}}`))
	b.reset()

	clock.Advance(5 * time.Second)
	if got := r.Sweep(); len(got) != 0 {
		t.Fatalf("exactly-at-timeout session evicted: %v", got)
	}

	clock.Advance(time.Millisecond)
	evicted := r.Sweep()
	if len(evicted) != 1 || evicted[0] != idA {
		t.Fatalf("evicted=%v, want [%s]", evicted, idA)
	}
	if !a.isClosed() {
		t.Fatal("stale transport must be closed")
	}
	got := b.messages(t)
	if len(got) != 1 {
		t.Fatalf("B got %d messages, want one leave", len(got))
	}
	if l, ok := got[0].(protocol.Leave); !ok || l.ID != idA {
		t.Fatalf("B got %#v, want leave for %s", got[0], idA)
	}
	if r.Count() != 1 {
		t.Fatalf("Count=%d, want 1", r.Count())
	}
}

func TestPingDoesNotCountAsActivity(t *testing.T) {
	r, clock := newTestRegistry(t, RegistryOptions{StaleTimeout: 15 * time.Second})
	a := &fakeConn{}
	id := mustConnect(t, r, a)

	clock.Advance(14 * time.Second)
	r.OnMessage(id, []byte(`{"type":"ping"}`))
	clock.Advance(2 * time.Second)
	if got := r.Sweep(); len(got) != 1 {
		t.Fatalf("evicted=%v, want the silent session", got)
	}
}

func TestKickPolicyRemovesSlowRecipient(t *testing.T) {
	r, _ := newTestRegistry(t, RegistryOptions{Policy: KickPolicy{}})
	a, slow, c := &fakeConn{}, &fakeConn{}, &fakeConn{}
	idA := mustConnect(t, r, a)
	idSlow := mustConnect(t, r, slow)
	mustConnect(t, r, c)
	c.reset()

	slow.failWith = core.ErrBackpressure
	r.OnMessage(idA, []byte(`{"type":"state","data":{}}`))

	if r.Count() != 2 {
		t.Fatalf("Count=%d, want 2 after kick", r.Count())
	}
	got := c.messages(t)
	if len(got) != 2 {
		t.Fatalf("C got %d messages, want state + leave", len(got))
	}
	if l, ok := got[1].(protocol.Leave); !ok || l.ID != idSlow {
		t.Fatalf("C got %#v, want leave for %s", got[1], idSlow)
	}
}

func TestDropPolicyKeepsSlowRecipient(t *testing.T) {
	r, _ := newTestRegistry(t, RegistryOptions{})
	a, slow, c := &fakeConn{}, &fakeConn{}, &fakeConn{}
	idA := mustConnect(t, r, a)
	mustConnect(t, r, slow)
	mustConnect(t, r, c)
	c.reset()

	slow.failWith = core.ErrBackpressure
	r.OnMessage(idA, []byte(`{"type":"state","data":{}}`))

	if r.Count() != 3 {
		t.Fatalf("Count=%d, want 3", r.Count())
	}
	if n := len(c.messages(t)); n != 1 {
		t.Fatalf("C got %d messages, want 1 state", n)
	}
}

func TestOnConnectRetriesIDCollision(t *testing.T) {
	ids := []domain.PlayerID{"dup", "dup", "fresh"}
	r, _ := newTestRegistry(t, RegistryOptions{NewID: func() domain.PlayerID {
		id := ids[0]
		ids = ids[1:]
		return id
	}})
	first := mustConnect(t, r, &fakeConn{})
	second := mustConnect(t, r, &fakeConn{})
	if first != "dup" || second != "fresh" {
		t.Fatalf("ids=%s,%s want dup,fresh", first, second)
	}
}

func TestCloseAllClosesTransports(t *testing.T) {
	r, _ := newTestRegistry(t, RegistryOptions{})
	a, b := &fakeConn{}, &fakeConn{}
	mustConnect(t, r, a)
	mustConnect(t, r, b)
	r.CloseAll()
	if !a.isClosed() || !b.isClosed() || r.Count() != 0 {
		t.Fatal("CloseAll must close every session")
	}
}

func TestSweeperRunsOnInterval(t *testing.T) {
	r, clock := newTestRegistry(t, RegistryOptions{StaleTimeout: time.Second})
	mustConnect(t, r, &fakeConn{})
	clock.Advance(2 * time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- (&Sweeper{Registry: r, Interval: 5 * time.Millisecond}).Run(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for r.Count() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("sweeper did not evict the stale session")
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run returned %v", err)
	}
}

func TestPolicyFromName(t *testing.T) {
	if p, err := PolicyFromName("kick"); err != nil || p.OnBackPressure(core.Target{}) != KickMember {
		t.Fatalf("kick policy: %v %v", p, err)
	}
	if p, err := PolicyFromName(""); err != nil || p.OnBackPressure(core.Target{}) != DropFrame {
		t.Fatalf("default policy: %v %v", p, err)
	}
	if _, err := PolicyFromName("explode"); err == nil {
		t.Fatal("unknown policy must fail")
	}
}
