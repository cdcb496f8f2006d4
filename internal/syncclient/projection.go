package syncclient

import (
	"math"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/abrezinsky/cragboard/internal/models"
	"github.com/abrezinsky/cragboard/internal/ranking"
)

// Projection is a client's read-only copy of one box. Authoritative events
// are folded into the confirmed state; local predictions live in an overlay
// that the next authoritative event or an explicit rejection discards.
type Projection struct {
	mu        sync.Mutex
	boxID     int
	clock     clockwork.Clock
	epoch     uint64
	synced    bool
	confirmed models.Snapshot
	pending   []models.Command
	overlay   *models.Snapshot
}

// NewProjection creates an unsynced projection of boxID
func NewProjection(boxID int, clock clockwork.Clock) *Projection {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Projection{boxID: boxID, clock: clock, confirmed: models.Snapshot{BoxID: boxID}}
}

// Synced reports whether a snapshot has been received since the last Unsync
func (p *Projection) Synced() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.synced
}

// Unsync drops the projection out of sync and starts a new epoch. Events
// are ignored until the next snapshot.
func (p *Projection) Unsync() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.epoch++
	p.synced = false
	p.pending, p.overlay = nil, nil
}

// Epoch counts how many times the projection has been unsynced
func (p *Projection) Epoch() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.epoch
}

// Replace swaps in a full snapshot
func (p *Projection) Replace(snap models.Snapshot) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.replace(snap)
}

func (p *Projection) replace(snap models.Snapshot) {
	if snap.BoxID != p.boxID {
		return
	}
	p.confirmed = cloneSnapshot(snap)
	p.synced = true
	p.pending, p.overlay = nil, nil
}

// Fold applies an authoritative event and reports whether it changed the
// projection. Events for other boxes, and events received before the first
// snapshot, are ignored.
func (p *Projection) Fold(ev models.Event) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.fold(ev)
}

// FoldAt is Fold for an event read during epoch. It is ignored once the
// projection has moved to a later epoch.
func (p *Projection) FoldAt(epoch uint64, ev models.Event) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if epoch != p.epoch {
		return false
	}
	return p.fold(ev)
}

func (p *Projection) fold(ev models.Event) bool {
	if ev.BoxID != p.boxID {
		return false
	}
	switch ev.Type {
	case models.EventStateSnapshot:
		if ev.Snapshot == nil {
			return false
		}
		p.replace(*ev.Snapshot)
		return true
	case models.EventCommandRejected:
		return p.reject(models.Command{Type: ev.Command})
	case models.EventPing, models.EventPong:
		return false
	}

	if !p.synced {
		return false
	}
	foldEvent(&p.confirmed, ev)
	p.pending, p.overlay = nil, nil
	return true
}

// Predict applies the local effect of cmd on top of the confirmed state
// until the authority answers.
func (p *Projection) Predict(cmd models.Command) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.synced {
		return
	}
	base := p.view()
	if !predict(&base, cmd, p.clock.Now()) {
		return
	}
	p.pending = append(p.pending, cmd)
	p.overlay = &base
}

// Reject rolls back the oldest pending prediction of cmd's type and replays
// the rest. It reports whether anything was rolled back.
func (p *Projection) Reject(cmd models.Command) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.reject(cmd)
}

func (p *Projection) reject(cmd models.Command) bool {
	idx := -1
	for i, c := range p.pending {
		if c.Type == cmd.Type {
			idx = i
			break
		}
	}
	if idx < 0 {
		return false
	}
	p.pending = append(p.pending[:idx:idx], p.pending[idx+1:]...)
	p.overlay = nil
	if len(p.pending) == 0 {
		return true
	}
	view := cloneSnapshot(p.confirmed)
	now := p.clock.Now()
	for _, c := range p.pending {
		predict(&view, c, now)
	}
	p.overlay = &view
	return true
}

// Pending returns how many predictions await confirmation
func (p *Projection) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.pending)
}

// View returns the confirmed state with any prediction on top
func (p *Projection) View() models.Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.view()
}

func (p *Projection) view() models.Snapshot {
	if p.overlay != nil {
		return cloneSnapshot(*p.overlay)
	}
	return cloneSnapshot(p.confirmed)
}

// Confirmed returns the authoritative state without predictions
func (p *Projection) Confirmed() models.Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return cloneSnapshot(p.confirmed)
}

// Remaining derives the countdown locally from the timer end epoch
func (p *Projection) Remaining() float64 {
	return remaining(p.View(), p.clock.Now())
}

func remaining(s models.Snapshot, now time.Time) float64 {
	if s.TimerState == models.TimerRunning && s.TimerEndEpoch != nil {
		left := float64(*s.TimerEndEpoch-now.UnixMilli()) / 1000
		return math.Max(0, left)
	}
	return s.Remaining
}

func foldEvent(s *models.Snapshot, ev models.Event) {
	if ev.SessionID != nil {
		s.SessionID = ev.SessionID
	}
	prevClimber := s.CurrentClimber

	if ev.HoldsCount != nil {
		s.HoldsCount = *ev.HoldsCount
	}
	if ev.Competitors != nil {
		s.Competitors = append([]models.Competitor(nil), ev.Competitors...)
	}
	if ev.HoldCount != nil {
		s.HoldCount = *ev.HoldCount
	}
	if ev.HalfHoldUsed != nil {
		s.HalfHoldUsed = *ev.HalfHoldUsed
	}
	if ev.TimerState != "" {
		s.TimerState = ev.TimerState
		s.TimerEndEpoch = ev.TimerEndEpoch
		if ev.Remaining != nil {
			s.Remaining = *ev.Remaining
		}
	}
	if ev.TimerPreset != nil {
		s.TimerPreset = *ev.TimerPreset
	}
	if ev.TimeCriterionEnabled != nil {
		s.TimeCriterionEnabled = *ev.TimeCriterionEnabled
	}
	if ev.CurrentClimber != nil {
		s.CurrentClimber = *ev.CurrentClimber
		s.RemainingClimbers = append([]string{}, ev.RemainingClimbers...)
	}
	if ev.Preparing != nil {
		s.Preparing = *ev.Preparing
	}
	if ev.Finalized {
		s.Finalized = true
	}

	switch ev.Type {
	case models.EventInitRoute:
		s.Initiated = true
		s.Finalized = false
		s.RouteIndex = ev.RouteIndex
		if s.RouteIndex > s.RoutesCount {
			s.RoutesCount = s.RouteIndex
		}
		for len(s.HoldsCounts) < s.RoutesCount {
			s.HoldsCounts = append(s.HoldsCounts, 0)
		}
		if s.RouteIndex >= 1 {
			s.HoldsCounts[s.RouteIndex-1] = s.HoldsCount
		}
		s.HoldCount = 0
		s.HalfHoldUsed = false
		s.RegisteredTime = nil

	case models.EventStartTimer, models.EventResumeTimer:
		s.RegisteredTime = nil

	case models.EventRegisterTime, models.EventTimeCriterion:
		s.RegisteredTime = ev.RegisteredTime

	case models.EventSubmitScore:
		setScore(s, ev.Competitor, s.RouteIndex, ev.Score, ev.RegisteredTime)
		if s.CurrentClimber != prevClimber {
			s.RegisteredTime = nil
		}

	case models.EventModifyScore:
		setScore(s, ev.Competitor, ev.RouteIndex, ev.Score, ev.RegisteredTime)

	case models.EventResetBox:
		s.Initiated = false
		s.Finalized = false
		s.RouteIndex = 0
		s.HoldCount = 0
		s.HalfHoldUsed = false
		s.RegisteredTime = nil
		s.Scores = map[string][]*float64{}
		s.Times = nil
	}
}

func setScore(s *models.Snapshot, name string, route int, score, regTime *float64) {
	if score == nil || route < 1 {
		return
	}
	if s.Scores == nil {
		s.Scores = map[string][]*float64{}
	}
	ranking.Table(s.Scores).Set(name, route-1, *score)
	if regTime != nil {
		if s.Times == nil {
			s.Times = map[string][]*float64{}
		}
		ranking.Table(s.Times).Set(name, route-1, *regTime)
	}
}

// predict applies the optimistic effect of cmd and reports whether it had one.
// It mirrors the authority's guards so a prediction the authority would
// refuse is never shown.
func predict(s *models.Snapshot, cmd models.Command, now time.Time) bool {
	switch cmd.Type {
	case models.CmdProgressUpdate:
		holds := float64(s.HoldsCount)
		if s.TimerState != models.TimerRunning || s.HoldCount >= holds {
			return false
		}
		delta := 1.0
		if cmd.Delta != nil {
			delta = *cmd.Delta
		}
		switch {
		case delta == 1:
			s.HoldCount = math.Min(math.Floor(s.HoldCount)+1, holds)
			s.HalfHoldUsed = false
		case math.Abs(delta-0.1) < 1e-9 && !s.HalfHoldUsed:
			s.HoldCount = math.Min(math.Round((s.HoldCount+0.1)*10)/10, holds)
			s.HalfHoldUsed = true
		default:
			return false
		}
		return true

	case models.CmdStartTimer:
		if !s.Initiated {
			return false
		}
		end := now.Add(time.Duration(s.TimerPreset) * time.Second).UnixMilli()
		s.TimerState = models.TimerRunning
		s.TimerEndEpoch = &end
		s.Remaining = float64(s.TimerPreset)
		s.RegisteredTime = nil
		return true

	case models.CmdStopTimer:
		if s.TimerState != models.TimerRunning {
			return false
		}
		s.Remaining = remaining(*s, now)
		s.TimerState = models.TimerPaused
		s.TimerEndEpoch = nil
		return true

	case models.CmdResumeTimer:
		if s.TimerState != models.TimerPaused {
			return false
		}
		end := now.Add(time.Duration(s.Remaining * float64(time.Second))).UnixMilli()
		s.TimerState = models.TimerRunning
		s.TimerEndEpoch = &end
		s.RegisteredTime = nil
		return true

	case models.CmdSubmitScore:
		if !s.Initiated || cmd.Competitor == "" || cmd.Competitor != s.CurrentClimber {
			return false
		}
		s.CurrentClimber = s.Preparing
		s.Preparing = ""
		if len(s.RemainingClimbers) > 0 {
			s.Preparing = s.RemainingClimbers[0]
			s.RemainingClimbers = append([]string{}, s.RemainingClimbers[1:]...)
		}
		for i := range s.Competitors {
			if s.Competitors[i].Name == cmd.Competitor {
				s.Competitors[i].Marked = true
			}
		}
		s.HoldCount = 0
		s.HalfHoldUsed = false
		s.TimerState = models.TimerIdle
		s.TimerEndEpoch = nil
		s.Remaining = float64(s.TimerPreset)
		s.RegisteredTime = nil
		return true
	}
	return false
}

func cloneSnapshot(s models.Snapshot) models.Snapshot {
	out := s
	out.HoldsCounts = append([]int(nil), s.HoldsCounts...)
	out.RemainingClimbers = append([]string(nil), s.RemainingClimbers...)
	out.Competitors = append([]models.Competitor(nil), s.Competitors...)
	out.Scores = ranking.Table(s.Scores).Clone()
	if s.Times != nil {
		out.Times = ranking.Table(s.Times).Clone()
	}
	if s.TimerEndEpoch != nil {
		end := *s.TimerEndEpoch
		out.TimerEndEpoch = &end
	}
	if s.RegisteredTime != nil {
		rt := *s.RegisteredTime
		out.RegisteredTime = &rt
	}
	return out
}
