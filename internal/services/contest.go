package services

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/abrezinsky/cragboard/internal/errors"
	"github.com/abrezinsky/cragboard/internal/logger"
	"github.com/abrezinsky/cragboard/internal/models"
	"github.com/abrezinsky/cragboard/internal/ranking"
	"github.com/abrezinsky/cragboard/internal/session"
)

// Broadcaster delivers events to the subscribers of one box
type Broadcaster interface {
	Broadcast(ev models.Event)
	CloseBox(boxID int)
}

// Finalizer receives a box's results once it is finalized or rescored
type Finalizer interface {
	Finalize(ctx context.Context, boxID int, in ranking.Input, payload models.ResultsPayload) (*FinalizeResult, error)
}

// BoxSummary is the list view of a box
type BoxSummary struct {
	BoxID          int               `json:"boxId"`
	Category       string            `json:"category"`
	Initiated      bool              `json:"initiated"`
	RouteIndex     int               `json:"routeIndex"`
	RoutesCount    int               `json:"routesCount"`
	TimerState     models.TimerState `json:"timerState"`
	CurrentClimber string            `json:"currentClimber"`
	Finalized      bool              `json:"finalized"`
}

type box struct {
	mu   sync.Mutex
	sess *session.Session

	// finalizing serializes deliveries of the box's results. latest is the
	// sequence of the newest payload; older ones still waiting are dropped.
	finalizing sync.Mutex
	latest     atomic.Uint64
}

// ContestService is the single authority over every box. Commands for one
// box are applied and broadcast under that box's lock, so all subscribers
// observe the same order. Different boxes never share a lock.
type ContestService struct {
	log   logger.Logger
	clock clockwork.Clock

	mu    sync.RWMutex
	boxes map[int]*box

	broadcaster     Broadcaster
	publisher       Publisher
	finalizer       Finalizer
	syncInterval    time.Duration
	finalizeTimeout time.Duration

	wg sync.WaitGroup
}

// ContestOption configures a ContestService
type ContestOption func(*ContestService)

// WithClock sets the clock used by every session
func WithClock(clock clockwork.Clock) ContestOption {
	return func(s *ContestService) { s.clock = clock }
}

// WithPublisher mirrors applied events to p
func WithPublisher(p Publisher) ContestOption {
	return func(s *ContestService) { s.publisher = p }
}

// WithFinalizer sets who receives finalized results
func WithFinalizer(f Finalizer) ContestOption {
	return func(s *ContestService) { s.finalizer = f }
}

// WithTimerSyncInterval sets how often running timers are re-broadcast
func WithTimerSyncInterval(d time.Duration) ContestOption {
	return func(s *ContestService) { s.syncInterval = d }
}

// NewContestService creates an empty box registry
func NewContestService(log logger.Logger, opts ...ContestOption) *ContestService {
	s := &ContestService{
		log:             log,
		clock:           clockwork.NewRealClock(),
		boxes:           make(map[int]*box),
		publisher:       NoopPublisher{},
		syncInterval:    10 * time.Second,
		finalizeTimeout: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SetBroadcaster sets the broadcaster for sending events to clients
func (s *ContestService) SetBroadcaster(b Broadcaster) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.broadcaster = b
}

func (s *ContestService) lookup(boxID int) (*box, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.boxes[boxID]
	if !ok {
		return nil, errors.NotFoundf("box %d not found", boxID)
	}
	return b, nil
}

// HasBox reports whether boxID exists
func (s *ContestService) HasBox(boxID int) bool {
	_, err := s.lookup(boxID)
	return err == nil
}

// CreateBox registers a box from an ingested roster
func (s *ContestService) CreateBox(ctx context.Context, cfg session.Config) (models.Snapshot, error) {
	sess, err := session.New(cfg, s.clock)
	if err != nil {
		return models.Snapshot{}, err
	}

	s.mu.Lock()
	if _, exists := s.boxes[cfg.BoxID]; exists {
		s.mu.Unlock()
		return models.Snapshot{}, errors.Conflict("box already exists")
	}
	s.boxes[cfg.BoxID] = &box{sess: sess}
	s.mu.Unlock()

	s.log.Info("Box created",
		"box_id", cfg.BoxID,
		"category", sess.Category(),
		"competitors", len(cfg.Competitors),
		"routes", cfg.RoutesCount)
	return sess.Snapshot(), nil
}

// DeleteBox removes a box and disconnects its subscribers
func (s *ContestService) DeleteBox(ctx context.Context, boxID int) error {
	s.mu.Lock()
	_, ok := s.boxes[boxID]
	delete(s.boxes, boxID)
	b := s.broadcaster
	s.mu.Unlock()

	if !ok {
		return errors.NotFoundf("box %d not found", boxID)
	}
	if b != nil {
		b.CloseBox(boxID)
	}
	s.log.Info("Box deleted", "box_id", boxID)
	return nil
}

// ListBoxes returns a summary of every box ordered by id
func (s *ContestService) ListBoxes(ctx context.Context) []BoxSummary {
	s.mu.RLock()
	list := make([]*box, 0, len(s.boxes))
	for _, b := range s.boxes {
		list = append(list, b)
	}
	s.mu.RUnlock()

	out := make([]BoxSummary, 0, len(list))
	for _, b := range list {
		b.mu.Lock()
		out = append(out, BoxSummary{
			BoxID:          b.sess.BoxID(),
			Category:       b.sess.Category(),
			Initiated:      b.sess.Initiated(),
			RouteIndex:     b.sess.RouteIndex(),
			RoutesCount:    b.sess.RoutesCount(),
			TimerState:     b.sess.TimerState(),
			CurrentClimber: b.sess.Climbing(),
			Finalized:      b.sess.Finalized(),
		})
		b.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].BoxID < out[j].BoxID })
	return out
}

// Apply runs cmd through the box's state machine. Accepted commands are
// broadcast to the box; rejected ones change nothing and broadcast nothing.
func (s *ContestService) Apply(ctx context.Context, cmd models.Command) (models.Event, error) {
	b, err := s.lookup(cmd.BoxID)
	if err != nil {
		s.log.Debug("Command dropped", "box_id", cmd.BoxID, "type", cmd.Type, "reason", "unknown box")
		return models.Event{}, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	ev, err := b.sess.Apply(cmd)
	if err != nil {
		s.logDropped(cmd, err)
		return models.Event{}, err
	}

	s.emit(ev, true)

	if ev.Finalized || ev.Rescored {
		s.finalize(b)
	}
	return ev, nil
}

func (s *ContestService) logDropped(cmd models.Command, err error) {
	kind := errors.KindOf(err)
	if kind == errors.ErrStaleToken {
		s.log.Warn("Command dropped", "box_id", cmd.BoxID, "type", cmd.Type, "reason", kind.String(), "error", err)
		return
	}
	s.log.Debug("Command dropped", "box_id", cmd.BoxID, "type", cmd.Type, "reason", kind.String(), "error", err)
}

// emit must be called with the box lock held.
func (s *ContestService) emit(ev models.Event, mirror bool) {
	s.mu.RLock()
	b := s.broadcaster
	s.mu.RUnlock()

	if b != nil {
		b.Broadcast(ev)
	}
	if mirror {
		if err := s.publisher.PublishBoxEvent(ev); err != nil {
			s.log.Warn("Failed to mirror box event", "box_id", ev.BoxID, "type", ev.Type, "error", err)
		}
	}
}

// finalize hands the box's results to the finalizer in the background.
// Deliveries of one box run one at a time in apply order, and a payload
// superseded before its turn is skipped, so the newest results always land
// last. It must be called with the box lock held.
func (s *ContestService) finalize(b *box) {
	if s.finalizer == nil {
		return
	}
	boxID := b.sess.BoxID()
	in := b.sess.RankingInput()
	payload := b.sess.ResultsPayload()
	seq := b.latest.Add(1)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		b.finalizing.Lock()
		defer b.finalizing.Unlock()
		if seq != b.latest.Load() {
			s.log.Debug("Superseded finalization skipped", "box_id", boxID, "seq", seq)
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), s.finalizeTimeout)
		defer cancel()
		if _, err := s.finalizer.Finalize(ctx, boxID, in, payload); err != nil {
			s.log.Warn("Finalization side effects incomplete", "box_id", boxID, "error", err)
		}
	}()
}

// Wait blocks until background finalizations have finished
func (s *ContestService) Wait() {
	s.wg.Wait()
}

// Snapshot returns a STATE_SNAPSHOT event without broadcasting it
func (s *ContestService) Snapshot(ctx context.Context, boxID int) (models.Event, error) {
	var ev models.Event
	err := s.SnapshotTo(ctx, boxID, func(snap models.Event) { ev = snap })
	return ev, err
}

// SnapshotTo builds a STATE_SNAPSHOT and passes it to deliver while the box
// lock is held. No event of the box can be broadcast between the two, so a
// deliver that queues behind broadcasts keeps the snapshot in apply order.
func (s *ContestService) SnapshotTo(ctx context.Context, boxID int, deliver func(models.Event)) error {
	b, err := s.lookup(boxID)
	if err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	deliver(b.sess.SnapshotEvent())
	return nil
}

func (s *ContestService) rankingInput(boxID int) (ranking.Input, error) {
	b, err := s.lookup(boxID)
	if err != nil {
		return ranking.Input{}, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.sess.RankingInput(), nil
}

// Ranking computes the live ranking of a box
func (s *ContestService) Ranking(ctx context.Context, boxID int) (*ranking.Result, error) {
	in, err := s.rankingInput(boxID)
	if err != nil {
		return nil, err
	}
	res := ranking.Compute(in)
	return &res, nil
}

// Podium returns the top n rows of the live ranking
func (s *ContestService) Podium(ctx context.Context, boxID int, n int) ([]ranking.Row, error) {
	res, err := s.Ranking(ctx, boxID)
	if err != nil {
		return nil, err
	}
	return ranking.Podium(res.Rows, n), nil
}

// RouteStandings returns the standings of one route (1-based)
func (s *ContestService) RouteStandings(ctx context.Context, boxID int, route int) ([]ranking.RouteRow, error) {
	in, err := s.rankingInput(boxID)
	if err != nil {
		return nil, err
	}
	if route < 1 || route > in.RouteCount {
		return nil, errors.InvalidInputf("route %d is out of range", route)
	}
	return ranking.RouteStandings(in, route-1), nil
}

// SyncTimers broadcasts TIMER_SYNC for every box whose timer is running and
// returns how many were sent.
func (s *ContestService) SyncTimers() int {
	s.mu.RLock()
	list := make([]*box, 0, len(s.boxes))
	for _, b := range s.boxes {
		list = append(list, b)
	}
	s.mu.RUnlock()

	sent := 0
	for _, b := range list {
		b.mu.Lock()
		if b.sess.TimerState() == models.TimerRunning {
			s.emit(b.sess.TimerSyncEvent(), false)
			sent++
		}
		b.mu.Unlock()
	}
	return sent
}

// Run re-broadcasts running timers every sync interval until ctx is done
func (s *ContestService) Run(ctx context.Context) {
	if s.syncInterval <= 0 {
		return
	}
	ticker := s.clock.NewTicker(s.syncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			if n := s.SyncTimers(); n > 0 {
				s.log.Debug("Timer sync broadcast", "boxes", n)
			}
		}
	}
}
