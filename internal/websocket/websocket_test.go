package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"

	"github.com/abrezinsky/cragboard/internal/logger"
	"github.com/abrezinsky/cragboard/internal/models"
	"github.com/abrezinsky/cragboard/internal/services"
	"github.com/abrezinsky/cragboard/internal/syncclient"
	"github.com/abrezinsky/cragboard/internal/testutil"
)

type fixture struct {
	hub     *Hub
	contest *services.ContestService
	clock   *clockwork.FakeClock
	server  *httptest.Server
	cancel  context.CancelFunc
}

func newFixture(t *testing.T, boxes ...int) *fixture {
	t.Helper()
	clock := testutil.NewFakeClock()
	log := logger.Discard()
	contest := services.NewContestService(log, services.WithClock(clock))
	for _, id := range boxes {
		if _, err := contest.CreateBox(context.Background(), testutil.BoxConfig(id)); err != nil {
			t.Fatalf("CreateBox failed: %v", err)
		}
	}

	hub := New(log, contest, WithClock(clock), WithHeartbeat(10*time.Second))
	contest.SetBroadcaster(hub)

	ctx, cancel := context.WithCancel(context.Background())
	hub.Start(ctx)

	waitCtx, waitCancel := context.WithTimeout(ctx, 2*time.Second)
	defer waitCancel()
	if err := clock.BlockUntilContext(waitCtx, 1); err != nil {
		t.Fatalf("hub never started: %v", err)
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, _ := strconv.Atoi(r.URL.Query().Get("box"))
		hub.ServeBox(w, r, id, r.URL.Query().Get("trusted") == "1")
	}))

	f := &fixture{hub: hub, contest: contest, clock: clock, server: server, cancel: cancel}
	t.Cleanup(func() {
		server.Close()
		cancel()
	})
	return f
}

func (f *fixture) dial(t *testing.T, boxID int, trusted bool) *websocket.Conn {
	t.Helper()
	before := f.hub.Subscribers(boxID)
	url := "ws" + strings.TrimPrefix(f.server.URL, "http") + "/?box=" + strconv.Itoa(boxID)
	if trusted {
		url += "&trusted=1"
	}
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	t.Cleanup(func() { ws.Close() })
	waitUntil(t, func() bool { return f.hub.Subscribers(boxID) == before+1 })
	return ws
}

func waitUntil(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func readRaw(t *testing.T, ws *websocket.Conn) map[string]any {
	t.Helper()
	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := ws.ReadMessage()
	if err != nil {
		t.Fatalf("failed to read message: %v", err)
	}
	var msg map[string]any
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	return msg
}

func readEvent(t *testing.T, ws *websocket.Conn) models.Event {
	t.Helper()
	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	var ev models.Event
	if err := ws.ReadJSON(&ev); err != nil {
		t.Fatalf("failed to read event: %v", err)
	}
	return ev
}

func expectSilence(t *testing.T, ws *websocket.Conn) {
	t.Helper()
	ws.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
	if _, data, err := ws.ReadMessage(); err == nil {
		t.Errorf("expected no message, got %s", data)
	}
}

func send(t *testing.T, ws *websocket.Conn, cmd models.Command) {
	t.Helper()
	if err := ws.WriteJSON(cmd); err != nil {
		t.Fatalf("failed to send: %v", err)
	}
}

func TestNew_CreatesHubWithDependencies(t *testing.T) {
	hub := New(logger.Discard(), services.NewContestService(logger.Discard()))

	if hub.boxes == nil {
		t.Error("expected boxes map to be initialized")
	}
	if hub.outbox == nil || hub.register == nil || hub.unregister == nil {
		t.Error("expected channels to be initialized")
	}
	if hub.heartbeat != 30*time.Second {
		t.Errorf("expected 30s default heartbeat, got %v", hub.heartbeat)
	}
}

func TestHub_BroadcastWithoutClients(t *testing.T) {
	f := newFixture(t, 1)

	done := make(chan bool)
	go func() {
		f.hub.Broadcast(models.Event{BoxID: 1, Type: models.EventTimerSync})
		done <- true
	}()

	select {
	case <-done:
	case <-time.After(100 * time.Millisecond):
		t.Error("Broadcast blocked with no clients")
	}
}

func TestServeBox_UnknownBox(t *testing.T) {
	f := newFixture(t, 1)

	url := "ws" + strings.TrimPrefix(f.server.URL, "http") + "/?box=9"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		t.Fatal("expected dial to fail for unknown box")
	}
	if resp == nil || resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404, got %v", resp)
	}
}

func TestServeBox_BroadcastIsolatedPerBox(t *testing.T) {
	f := newFixture(t, 1, 2)
	judge := f.dial(t, 1, true)
	display := f.dial(t, 1, false)
	other := f.dial(t, 2, false)

	send(t, judge, models.Command{Type: models.CmdInitRoute, RouteIndex: 1})

	msg := readRaw(t, judge)
	if msg["type"] != string(models.EventInitRoute) {
		t.Fatalf("expected INIT_ROUTE, got %v", msg["type"])
	}
	if _, ok := msg["sessionId"]; !ok {
		t.Error("trusted subscriber should receive the session token")
	}

	msg = readRaw(t, display)
	if msg["type"] != string(models.EventInitRoute) {
		t.Fatalf("expected INIT_ROUTE, got %v", msg["type"])
	}
	if _, ok := msg["sessionId"]; ok {
		t.Error("untrusted subscriber must not receive the session token")
	}
	if msg["boxId"] != float64(1) {
		t.Errorf("expected boxId 1, got %v", msg["boxId"])
	}

	expectSilence(t, other)
}

func TestServeBox_EventsArriveInApplyOrder(t *testing.T) {
	f := newFixture(t, 1)
	judge := f.dial(t, 1, true)
	display := f.dial(t, 1, false)

	send(t, judge, models.Command{Type: models.CmdInitRoute, RouteIndex: 1})
	send(t, judge, models.Command{Type: models.CmdStartTimer})
	for i := 0; i < 3; i++ {
		send(t, judge, models.Command{Type: models.CmdProgressUpdate})
	}

	want := []models.EventType{
		models.EventInitRoute, models.EventStartTimer,
		models.EventProgressUpdate, models.EventProgressUpdate, models.EventProgressUpdate,
	}
	for _, ws := range []*websocket.Conn{judge, display} {
		for i, typ := range want {
			ev := readEvent(t, ws)
			if ev.Type != typ {
				t.Fatalf("event %d: expected %s, got %s", i, typ, ev.Type)
			}
		}
	}
}

func TestServeBox_RequestStateRepliesToRequester(t *testing.T) {
	f := newFixture(t, 1)
	requester := f.dial(t, 1, false)
	bystander := f.dial(t, 1, false)

	send(t, requester, models.Command{Type: models.CmdRequestState})

	ev := readEvent(t, requester)
	if ev.Type != models.EventStateSnapshot {
		t.Fatalf("expected STATE_SNAPSHOT, got %s", ev.Type)
	}
	if ev.Snapshot == nil || ev.Snapshot.Category != "U16 Female" {
		t.Errorf("unexpected snapshot: %+v", ev.Snapshot)
	}
	if ev.Snapshot.SessionID != nil {
		t.Error("untrusted snapshot must not carry the session token")
	}
	expectSilence(t, bystander)
}

func TestHub_SnapshotQueuesBehindEarlierEvents(t *testing.T) {
	clock := testutil.NewFakeClock()
	contest := services.NewContestService(logger.Discard(), services.WithClock(clock))
	if _, err := contest.CreateBox(context.Background(), testutil.BoxConfig(1)); err != nil {
		t.Fatalf("CreateBox failed: %v", err)
	}
	hub := New(logger.Discard(), contest, WithClock(clock))
	contest.SetBroadcaster(hub)

	client := &Client{hub: hub, boxID: 1, send: make(chan []byte, sendBuffer)}
	hub.boxes[1] = map[*Client]bool{client: true}

	// The state request is answered before INIT_ROUTE is applied, but the
	// loop only starts draining once both are queued.
	hub.handle(client, models.Command{Type: models.CmdRequestState})
	if _, err := contest.Apply(context.Background(), models.Command{BoxID: 1, Type: models.CmdInitRoute, RouteIndex: 1}); err != nil {
		t.Fatalf("Apply failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	hub.Start(ctx)

	proj := syncclient.NewProjection(1, clock)
	want := []models.EventType{models.EventStateSnapshot, models.EventInitRoute}
	for i, typ := range want {
		var data []byte
		select {
		case data = <-client.send:
		case <-time.After(2 * time.Second):
			t.Fatalf("event %d never delivered", i)
		}
		var ev models.Event
		if err := json.Unmarshal(data, &ev); err != nil {
			t.Fatalf("invalid JSON: %v", err)
		}
		if ev.Type != typ {
			t.Fatalf("event %d: expected %s, got %s", i, typ, ev.Type)
		}
		proj.Fold(ev)
	}

	if !proj.Confirmed().Initiated {
		t.Error("expected the projection to end initiated")
	}
}

func TestServeBox_RejectionGoesToSenderOnly(t *testing.T) {
	f := newFixture(t, 1)
	sender := f.dial(t, 1, true)
	bystander := f.dial(t, 1, false)

	// The box is not initiated yet.
	send(t, sender, models.Command{Type: models.CmdStartTimer})

	ev := readEvent(t, sender)
	if ev.Type != models.EventCommandRejected {
		t.Fatalf("expected COMMAND_REJECTED, got %s", ev.Type)
	}
	if ev.Command != models.CmdStartTimer || ev.Reason == "" {
		t.Errorf("unexpected rejection: %+v", ev)
	}
	expectSilence(t, bystander)

	send(t, sender, models.Command{Type: "LAUNCH_ROCKET"})
	ev = readEvent(t, sender)
	if ev.Type != models.EventCommandRejected {
		t.Errorf("expected unknown command to be rejected, got %s", ev.Type)
	}
}

func TestServeBox_CommandCannotTargetAnotherBox(t *testing.T) {
	f := newFixture(t, 1, 2)
	judge := f.dial(t, 1, true)

	send(t, judge, models.Command{BoxID: 2, Type: models.CmdInitRoute, RouteIndex: 1})
	ev := readEvent(t, judge)
	if ev.BoxID != 1 {
		t.Errorf("expected the command to apply to box 1, got box %d", ev.BoxID)
	}

	snap, err := f.contest.Snapshot(context.Background(), 2)
	if err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}
	if snap.Snapshot.Initiated {
		t.Error("box 2 must be untouched")
	}
}

func (f *fixture) client(boxID int) *Client {
	f.hub.mutex.RLock()
	defer f.hub.mutex.RUnlock()
	for c := range f.hub.boxes[boxID] {
		return c
	}
	return nil
}

func TestHub_HeartbeatDropsSilentSubscribers(t *testing.T) {
	f := newFixture(t, 1, 2)
	silent := f.dial(t, 1, false)
	alive := f.dial(t, 2, false)
	start := f.clock.Now()

	f.clock.Advance(10 * time.Second)

	for _, ws := range []*websocket.Conn{silent, alive} {
		ev := readEvent(t, ws)
		if ev.Type != models.EventPing {
			t.Fatalf("expected PING, got %s", ev.Type)
		}
		if ev.Timestamp != start.Add(10*time.Second).UnixMilli() {
			t.Errorf("unexpected ping timestamp %d", ev.Timestamp)
		}
	}

	send(t, alive, models.Command{Type: models.CmdPong})
	waitUntil(t, func() bool {
		c := f.client(2)
		return c != nil && c.lastSeen.Load() > start.UnixNano()
	})

	f.clock.Advance(10 * time.Second)

	waitUntil(t, func() bool { return f.hub.Subscribers(1) == 0 })
	silent.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := silent.ReadMessage(); err == nil {
		t.Error("expected the silent connection to be closed")
	}

	if ev := readEvent(t, alive); ev.Type != models.EventPing {
		t.Errorf("expected the live subscriber to keep receiving PING, got %s", ev.Type)
	}
	if f.hub.Subscribers(2) != 1 {
		t.Error("expected the live subscriber to stay connected")
	}
}

func TestHub_CloseBoxDisconnectsSubscribers(t *testing.T) {
	f := newFixture(t, 1)
	ws := f.dial(t, 1, false)

	if err := f.contest.DeleteBox(context.Background(), 1); err != nil {
		t.Fatalf("DeleteBox failed: %v", err)
	}

	waitUntil(t, func() bool { return f.hub.Subscribers(1) == 0 })
	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := ws.ReadMessage()
	if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
		t.Errorf("expected a normal close, got %v", err)
	}
}

func TestHub_TimerSyncReachesSubscribers(t *testing.T) {
	f := newFixture(t, 1)
	judge := f.dial(t, 1, true)

	send(t, judge, models.Command{Type: models.CmdInitRoute, RouteIndex: 1})
	send(t, judge, models.Command{Type: models.CmdStartTimer})
	readEvent(t, judge)
	readEvent(t, judge)

	if n := f.contest.SyncTimers(); n != 1 {
		t.Fatalf("expected 1 timer sync, got %d", n)
	}
	ev := readEvent(t, judge)
	if ev.Type != models.EventTimerSync || ev.TimerEndEpoch == nil {
		t.Errorf("unexpected event: %+v", ev)
	}
}
