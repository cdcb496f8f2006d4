package syncclient

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"

	"github.com/abrezinsky/cragboard/internal/logger"
	"github.com/abrezinsky/cragboard/internal/models"
)

// ErrHeartbeatTimeout is returned when the authority stays silent for two
// heartbeat intervals.
var ErrHeartbeatTimeout = stderrors.New("no heartbeat from server")

const writeWait = 10 * time.Second

// Config describes the box a client follows
type Config struct {
	URL       string
	BoxID     int
	Heartbeat time.Duration
	Header    http.Header
}

// Client keeps a Projection of one box in sync over a websocket, reconnecting
// with backoff and resynchronizing from a snapshot after every connect.
type Client struct {
	cfg     Config
	log     logger.Logger
	clock   clockwork.Clock
	dialer  *websocket.Dialer
	proj    *Projection
	backoff *backoff.ExponentialBackOff
	out     chan models.Command
	onEvent func(models.Event)

	lastHeard atomic.Int64
	connected atomic.Bool
}

// Option configures a Client
type Option func(*Client)

// WithClock sets the clock driving the watchdog and backoff
func WithClock(clock clockwork.Clock) Option {
	return func(c *Client) { c.clock = clock }
}

// WithDialer overrides the websocket dialer
func WithDialer(d *websocket.Dialer) Option {
	return func(c *Client) { c.dialer = d }
}

// OnEvent registers a callback run after every event is folded
func OnEvent(fn func(models.Event)) Option {
	return func(c *Client) { c.onEvent = fn }
}

// New creates a client for cfg.BoxID. Call Run to connect.
func New(cfg Config, log logger.Logger, opts ...Option) *Client {
	if cfg.Heartbeat <= 0 {
		cfg.Heartbeat = 30 * time.Second
	}
	c := &Client{
		cfg:    cfg,
		log:    log,
		clock:  clockwork.NewRealClock(),
		dialer: websocket.DefaultDialer,
		out:    make(chan models.Command, 64),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.backoff = NewBackoff(c.clock)
	c.proj = NewProjection(cfg.BoxID, c.clock)
	return c
}

// Projection returns the client's view of the box
func (c *Client) Projection() *Projection {
	return c.proj
}

// Connected reports whether a connection is currently open
func (c *Client) Connected() bool {
	return c.connected.Load()
}

// Send predicts cmd locally and queues it for the authority. It never
// blocks; when the queue is full the command is dropped.
func (c *Client) Send(cmd models.Command) bool {
	cmd.BoxID = c.cfg.BoxID
	if cmd.SessionToken == nil {
		if tok := c.proj.Confirmed().SessionID; tok != nil {
			cmd.SessionToken = tok
		}
	}
	select {
	case c.out <- cmd:
		c.proj.Predict(cmd)
		return true
	default:
		c.log.Warn("Command queue full, dropping command", "box_id", c.cfg.BoxID, "type", cmd.Type)
		return false
	}
}

// Run connects and keeps reconnecting until ctx is done
func (c *Client) Run(ctx context.Context) error {
	for {
		err := c.session(ctx)
		c.connected.Store(false)
		c.proj.Unsync()
		if ctx.Err() != nil {
			return ctx.Err()
		}

		delay := c.backoff.NextBackOff()
		c.log.Warn("Connection lost, reconnecting", "box_id", c.cfg.BoxID, "delay", delay, "error", err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.clock.After(delay):
		}
	}
}

func (c *Client) session(ctx context.Context) error {
	conn, _, err := c.dialer.DialContext(ctx, c.cfg.URL, c.cfg.Header)
	if err != nil {
		return err
	}
	defer conn.Close()

	c.backoff.Reset()
	epoch := c.proj.Epoch()
	c.connected.Store(true)
	c.lastHeard.Store(c.clock.Now().UnixNano())
	c.log.Info("Connected", "box_id", c.cfg.BoxID, "url", c.cfg.URL)

	sctx, cancel := context.WithCancel(ctx)
	defer cancel()

	control := make(chan models.Command, 8)
	errc := make(chan error, 2)
	control <- models.Command{BoxID: c.cfg.BoxID, Type: models.CmdRequestState}

	go c.writeLoop(sctx, conn, control, errc)
	go c.readLoop(conn, epoch, control, errc)

	watchdog := c.clock.NewTicker(c.cfg.Heartbeat)
	defer watchdog.Stop()

	for {
		select {
		case <-ctx.Done():
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			return ctx.Err()
		case err := <-errc:
			return err
		case <-watchdog.Chan():
			silent := c.clock.Now().UnixNano() - c.lastHeard.Load()
			if time.Duration(silent) >= 2*c.cfg.Heartbeat {
				return ErrHeartbeatTimeout
			}
		}
	}
}

func (c *Client) writeLoop(ctx context.Context, conn *websocket.Conn, control <-chan models.Command, errc chan<- error) {
	write := func(cmd models.Command) error {
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		return conn.WriteJSON(cmd)
	}
	for {
		var cmd models.Command
		select {
		case <-ctx.Done():
			return
		case cmd = <-control:
		case cmd = <-c.out:
		}
		if err := write(cmd); err != nil {
			errc <- err
			return
		}
	}
}

// readLoop folds events read in the projection epoch of its session. Once
// Run unsyncs the projection, anything still in flight is discarded.
func (c *Client) readLoop(conn *websocket.Conn, epoch uint64, control chan<- models.Command, errc chan<- error) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			errc <- err
			return
		}

		var ev models.Event
		if err := json.Unmarshal(data, &ev); err != nil {
			c.log.Debug("Malformed event", "box_id", c.cfg.BoxID, "error", err)
			continue
		}
		if ev.BoxID != c.cfg.BoxID {
			continue
		}

		switch ev.Type {
		case models.EventPing:
			c.lastHeard.Store(c.clock.Now().UnixNano())
			select {
			case control <- models.Command{BoxID: c.cfg.BoxID, Type: models.CmdPong, Timestamp: ev.Timestamp}:
			default:
			}
			continue
		case models.EventResetBox:
			// The reset event does not carry the ingested route layout.
			select {
			case control <- models.Command{BoxID: c.cfg.BoxID, Type: models.CmdRequestState}:
			default:
			}
		}

		c.proj.FoldAt(epoch, ev)
		if c.proj.Epoch() != epoch {
			return
		}
		if c.onEvent != nil {
			c.onEvent(ev)
		}
	}
}
