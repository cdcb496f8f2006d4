package syncclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abrezinsky/cragboard/internal/logger"
	"github.com/abrezinsky/cragboard/internal/models"
	"github.com/abrezinsky/cragboard/internal/testutil"
)

// scriptedServer accepts connections and hands each one to script.
type scriptedServer struct {
	*httptest.Server
	conns atomic.Int32
}

func newScriptedServer(t *testing.T, script func(conn *websocket.Conn)) *scriptedServer {
	t.Helper()
	s := &scriptedServer{}
	upgrader := websocket.Upgrader{}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		s.conns.Add(1)
		defer conn.Close()
		script(conn)
	}))
	t.Cleanup(s.Close)
	return s
}

func (s *scriptedServer) wsURL() string {
	return "ws" + strings.TrimPrefix(s.URL, "http")
}

// readCommand runs on the server goroutine, so failures surface as a zero
// command rather than a test abort.
func readCommand(conn *websocket.Conn) models.Command {
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var cmd models.Command
	conn.ReadJSON(&cmd)
	return cmd
}

func snapshotEvent(boxID int) models.Event {
	snap := models.Snapshot{
		BoxID:          boxID,
		Category:       "U16 Female",
		Initiated:      true,
		RouteIndex:     1,
		RoutesCount:    1,
		HoldsCount:     10,
		CurrentClimber: "Ana",
		Preparing:      "Bea",
		Competitors:    []models.Competitor{{Name: "Ana"}, {Name: "Bea"}},
		TimerState:     models.TimerRunning,
		TimerEndEpoch:  models.Int64(testutil.NewFakeClock().Now().Add(5 * time.Minute).UnixMilli()),
		Remaining:      300,
		TimerPreset:    300,
		SessionID:      models.Int64(77),
	}
	return models.Event{BoxID: boxID, Type: models.EventStateSnapshot, Snapshot: &snap}
}

func eventually(t *testing.T, cond func() bool) {
	t.Helper()
	require.Eventually(t, cond, 2*time.Second, 5*time.Millisecond)
}

func TestClient_SyncsOnConnect(t *testing.T) {
	got := make(chan models.Command, 8)
	srv := newScriptedServer(t, func(conn *websocket.Conn) {
		got <- readCommand(conn)
		conn.WriteJSON(snapshotEvent(3))
		// Events for another box are ignored by the client.
		conn.WriteJSON(models.Event{BoxID: 4, Type: models.EventProgressUpdate, HoldCount: models.Float(9)})
		conn.WriteJSON(models.Event{BoxID: 3, Type: models.EventProgressUpdate, HoldCount: models.Float(2), HalfHoldUsed: models.Bool(false)})
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		conn.ReadMessage()
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c := New(Config{URL: srv.wsURL(), BoxID: 3}, logger.Discard(), WithClock(testutil.NewFakeClock()))
	go c.Run(ctx)

	first := <-got
	assert.Equal(t, models.CmdRequestState, first.Type)
	assert.Equal(t, 3, first.BoxID)

	eventually(t, func() bool { return c.Projection().View().HoldCount == 2 })
	view := c.Projection().View()
	assert.Equal(t, "Ana", view.CurrentClimber)
	assert.True(t, c.Connected())
}

func TestClient_AnswersPingAndSendsCommands(t *testing.T) {
	got := make(chan models.Command, 8)
	srv := newScriptedServer(t, func(conn *websocket.Conn) {
		readCommand(conn)
		conn.WriteJSON(snapshotEvent(3))
		conn.WriteJSON(models.Event{BoxID: 3, Type: models.EventPing, Timestamp: 1234})
		for i := 0; i < 2; i++ {
			got <- readCommand(conn)
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c := New(Config{URL: srv.wsURL(), BoxID: 3}, logger.Discard(), WithClock(testutil.NewFakeClock()))
	go c.Run(ctx)

	pong := <-got
	assert.Equal(t, models.CmdPong, pong.Type)
	assert.Equal(t, int64(1234), pong.Timestamp)

	eventually(t, c.Projection().Synced)
	require.True(t, c.Send(models.Command{Type: models.CmdProgressUpdate}))
	assert.Equal(t, 1.0, c.Projection().View().HoldCount, "prediction is visible immediately")

	cmd := <-got
	assert.Equal(t, models.CmdProgressUpdate, cmd.Type)
	assert.Equal(t, 3, cmd.BoxID)
	require.NotNil(t, cmd.SessionToken)
	assert.Equal(t, int64(77), *cmd.SessionToken)
}

func TestClient_RejectionRollsBackPrediction(t *testing.T) {
	srv := newScriptedServer(t, func(conn *websocket.Conn) {
		readCommand(conn)
		conn.WriteJSON(snapshotEvent(3))
		cmd := readCommand(conn)
		conn.WriteJSON(models.Event{BoxID: 3, Type: models.EventCommandRejected, Command: cmd.Type, Reason: "guard"})
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		conn.ReadMessage()
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c := New(Config{URL: srv.wsURL(), BoxID: 3}, logger.Discard(), WithClock(testutil.NewFakeClock()))
	go c.Run(ctx)

	eventually(t, c.Projection().Synced)
	c.Send(models.Command{Type: models.CmdProgressUpdate})
	eventually(t, func() bool { return c.Projection().Pending() == 0 })
	assert.Zero(t, c.Projection().View().HoldCount)
}

func TestClient_ReconnectsAfterMissedHeartbeats(t *testing.T) {
	clock := testutil.NewFakeClock()
	srv := newScriptedServer(t, func(conn *websocket.Conn) {
		readCommand(conn)
		conn.WriteJSON(snapshotEvent(3))
		// Never ping; hold the connection until the client gives up.
		conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c := New(Config{URL: srv.wsURL(), BoxID: 3, Heartbeat: 10 * time.Second}, logger.Discard(), WithClock(clock))
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	eventually(t, c.Projection().Synced)
	blockCtx, blockCancel := context.WithTimeout(ctx, 2*time.Second)
	defer blockCancel()
	require.NoError(t, clock.BlockUntilContext(blockCtx, 1))

	clock.Advance(10 * time.Second)
	clock.Advance(10 * time.Second)
	eventually(t, func() bool { return !c.Connected() })

	// Step through the backoff delay until the client dials again.
	eventually(t, func() bool {
		clock.Advance(time.Second)
		return srv.conns.Load() >= 2
	})
	eventually(t, c.Projection().Synced)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
