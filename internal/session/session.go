// Package session holds the authoritative state of one competition box and
// the transition rules that mutate it.
//
// A Session is not safe for concurrent use; the contest service serializes
// every Apply call for a box.
package session

import (
	"math"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/abrezinsky/cragboard/internal/errors"
	"github.com/abrezinsky/cragboard/internal/models"
	"github.com/abrezinsky/cragboard/internal/ranking"
)

const halfHold = 0.1

// Config describes a box as delivered by roster ingestion.
type Config struct {
	BoxID         int
	Category      string
	Competitors   []models.Competitor
	RoutesCount   int
	HoldsCounts   []int
	TimerPreset   int
	TimeCriterion bool
}

// Validate rejects malformed rosters before they reach a Session.
func (c Config) Validate() error {
	if c.BoxID < 0 {
		return errors.Validationf("invalid box id %d", c.BoxID)
	}
	if strings.TrimSpace(c.Category) == "" {
		return errors.Validation("category is required")
	}
	if c.RoutesCount < 1 {
		return errors.Validationf("routesCount must be at least 1, got %d", c.RoutesCount)
	}
	if len(c.HoldsCounts) > 0 && len(c.HoldsCounts) != c.RoutesCount {
		return errors.Validationf("expected %d holds counts, got %d", c.RoutesCount, len(c.HoldsCounts))
	}
	for i, h := range c.HoldsCounts {
		if h < 0 {
			return errors.Validationf("holds count for route %d is negative", i+1)
		}
	}
	if c.TimerPreset < 0 {
		return errors.Validation("timer preset must not be negative")
	}
	return validateRoster(c.Competitors)
}

func validateRoster(competitors []models.Competitor) error {
	seen := make(map[string]bool, len(competitors))
	for i, c := range competitors {
		name := strings.TrimSpace(c.Name)
		if name == "" {
			return errors.Validationf("competitor %d has no name", i+1)
		}
		if seen[name] {
			return errors.Validationf("duplicate competitor %q", name)
		}
		seen[name] = true
	}
	return nil
}

// Session is the state of one box.
type Session struct {
	boxID    int
	category string
	clock    clockwork.Clock
	ingested Config

	initiated     bool
	competitors   []models.Competitor
	clubs         map[string]string
	climbing      string
	preparing     string
	remaining     []string
	routeIndex    int
	routesCount   int
	holdsCounts   []int
	holdProgress  float64
	halfHoldUsed  bool
	timer         models.TimerState
	presetSeconds int
	timerEnd      time.Time
	timerLeft     float64
	registered    *float64
	timeCriterion bool
	scores        ranking.Table
	times         ranking.Table
	token         int64
	finalized     bool
}

// New creates a box in its not-initiated state. The first session token is
// derived from the clock so tokens from a previous process never match.
func New(cfg Config, clock clockwork.Clock) (*Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	cfg.Competitors = cloneRoster(cfg.Competitors, false)
	cfg.HoldsCounts = append([]int(nil), cfg.HoldsCounts...)

	s := &Session{
		boxID:    cfg.BoxID,
		category: strings.TrimSpace(cfg.Category),
		clock:    clock,
		ingested: cfg,
		token:    clock.Now().UnixMilli(),
	}
	s.clear()
	return s, nil
}

// clear returns every mutable field to the ingested, not-initiated state.
func (s *Session) clear() {
	s.initiated = false
	s.competitors = cloneRoster(s.ingested.Competitors, false)
	s.clubs = make(map[string]string, len(s.competitors))
	for _, c := range s.competitors {
		if c.Club != "" {
			s.clubs[c.Name] = c.Club
		}
	}
	s.climbing, s.preparing, s.remaining = "", "", nil
	s.routeIndex = 0
	s.routesCount = s.ingested.RoutesCount
	s.holdsCounts = append([]int(nil), s.ingested.HoldsCounts...)
	s.holdProgress = 0
	s.halfHoldUsed = false
	s.timer = models.TimerIdle
	s.presetSeconds = s.ingested.TimerPreset
	s.timerEnd = time.Time{}
	s.timerLeft = float64(s.presetSeconds)
	s.registered = nil
	s.timeCriterion = s.ingested.TimeCriterion
	s.scores = ranking.Table{}
	s.times = ranking.Table{}
	s.finalized = false
}

// BoxID returns the box this session drives.
func (s *Session) BoxID() int { return s.boxID }

// Category returns the category name of the box.
func (s *Session) Category() string { return s.category }

// Token returns the current session token.
func (s *Session) Token() int64 { return s.token }

// Finalized reports whether every competitor has a score on the last route.
func (s *Session) Finalized() bool { return s.finalized }

// Initiated reports whether a route has been opened.
func (s *Session) Initiated() bool { return s.initiated }

// RouteIndex returns the current route, 1-based. Zero before INIT_ROUTE.
func (s *Session) RouteIndex() int { return s.routeIndex }

// RoutesCount returns how many routes the box has.
func (s *Session) RoutesCount() int { return s.routesCount }

// HoldProgress returns the holds reached by the climber on the wall.
func (s *Session) HoldProgress() float64 { return s.holdProgress }

// HalfHoldUsed reports whether the current climb already took a half hold.
func (s *Session) HalfHoldUsed() bool { return s.halfHoldUsed }

// TimerState returns the state of the countdown.
func (s *Session) TimerState() models.TimerState { return s.timer }

// Climbing returns the competitor on the wall.
func (s *Session) Climbing() string { return s.climbing }

// Preparing returns the competitor next in line.
func (s *Session) Preparing() string { return s.preparing }

// Remaining returns a copy of the queue behind the preparing climber.
func (s *Session) Remaining() []string {
	return append([]string(nil), s.remaining...)
}

// RegisteredTime returns the registered elapsed seconds, if any.
func (s *Session) RegisteredTime() *float64 {
	if s.registered == nil {
		return nil
	}
	v := *s.registered
	return &v
}

// HoldsCount returns the hold count of the current route.
func (s *Session) HoldsCount() int {
	if s.routeIndex < 1 || s.routeIndex > len(s.holdsCounts) {
		return 0
	}
	return s.holdsCounts[s.routeIndex-1]
}

// TimeLeft returns the countdown in seconds as of now.
func (s *Session) TimeLeft() float64 {
	if s.timer == models.TimerRunning {
		left := s.timerEnd.Sub(s.clock.Now()).Seconds()
		return math.Max(0, left)
	}
	return s.timerLeft
}

// Scores returns a copy of the score table.
func (s *Session) Scores() ranking.Table { return s.scores.Clone() }

// Marked reports whether name has a score on the current route.
func (s *Session) Marked(name string) bool {
	for _, c := range s.competitors {
		if c.Name == name {
			return c.Marked
		}
	}
	return false
}

// Apply validates cmd against the current state and applies it. It returns
// exactly one event when the command is accepted, and an error (with the
// state untouched) when it is not.
func (s *Session) Apply(cmd models.Command) (models.Event, error) {
	if cmd.SessionToken != nil && *cmd.SessionToken != s.token {
		return models.Event{}, errors.StaleToken(*cmd.SessionToken, s.token)
	}

	switch cmd.Type {
	case models.CmdInitRoute:
		return s.initRoute(cmd)
	case models.CmdStartTimer:
		return s.startTimer()
	case models.CmdStopTimer:
		return s.stopTimer()
	case models.CmdResumeTimer:
		return s.resumeTimer()
	case models.CmdProgressUpdate:
		return s.progressUpdate(cmd)
	case models.CmdRegisterTime:
		return s.registerTime()
	case models.CmdSubmitScore:
		return s.submitScore(cmd)
	case models.CmdModifyScore:
		return s.modifyScore(cmd)
	case models.CmdSetTimeCriterion:
		return s.setTimeCriterion(cmd)
	case models.CmdRequestActiveCompetitor:
		return s.activeClimber(), nil
	case models.CmdRequestState:
		return s.SnapshotEvent(), nil
	case models.CmdResetBox:
		return s.reset(), nil
	default:
		return models.Event{}, errors.InvalidInputf("unsupported command %q", cmd.Type)
	}
}

func (s *Session) event(t models.EventType) models.Event {
	return models.Event{BoxID: s.boxID, Type: t, SessionID: models.Int64(s.token)}
}

func (s *Session) initRoute(cmd models.Command) (models.Event, error) {
	if cmd.RouteIndex < 1 {
		return models.Event{}, errors.InvalidInputf("routeIndex must be at least 1, got %d", cmd.RouteIndex)
	}
	if cmd.HoldsCount != nil && *cmd.HoldsCount < 0 {
		return models.Event{}, errors.InvalidInputf("holdsCount must not be negative, got %d", *cmd.HoldsCount)
	}
	roster := cmd.Competitors
	if len(roster) == 0 {
		roster = s.ingested.Competitors
	}
	if err := validateRoster(roster); err != nil {
		return models.Event{}, err
	}
	preset := s.presetSeconds
	if cmd.TimerPreset != nil {
		if *cmd.TimerPreset < 0 {
			return models.Event{}, errors.InvalidInput("timerPreset must not be negative")
		}
		preset = int(*cmd.TimerPreset)
	}

	// Without an explicit count the route keeps the configured one.
	holds := 0
	switch {
	case cmd.HoldsCount != nil:
		holds = *cmd.HoldsCount
	case cmd.RouteIndex <= len(s.holdsCounts):
		holds = s.holdsCounts[cmd.RouteIndex-1]
	}
	if cmd.RouteIndex > s.routesCount {
		s.routesCount = cmd.RouteIndex
	}
	for len(s.holdsCounts) < s.routesCount {
		s.holdsCounts = append(s.holdsCounts, 0)
	}
	s.holdsCounts[cmd.RouteIndex-1] = holds
	s.routeIndex = cmd.RouteIndex
	s.presetSeconds = preset

	// A competitor is marked exactly when it already holds a score for this route.
	s.competitors = cloneRoster(roster, false)
	for i := range s.competitors {
		c := &s.competitors[i]
		c.Name = strings.TrimSpace(c.Name)
		c.Marked = s.scores.At(c.Name, s.routeIndex-1) != nil
		if c.Club != "" {
			s.clubs[c.Name] = c.Club
		}
	}

	names := make([]string, len(s.competitors))
	for i, c := range s.competitors {
		names[i] = c.Name
	}
	s.climbing, s.preparing, s.remaining = "", "", nil
	if len(names) > 0 {
		s.climbing = names[0]
	}
	if len(names) > 1 {
		s.preparing = names[1]
	}
	if len(names) > 2 {
		s.remaining = append([]string(nil), names[2:]...)
	}

	s.initiated = true
	s.finalized = false
	s.resetClimb()

	ev := s.event(models.EventInitRoute)
	ev.RouteIndex = s.routeIndex
	ev.HoldsCount = &holds
	ev.Competitors = cloneRoster(s.competitors, true)
	ev.TimerPreset = &preset
	s.fillQueue(&ev)
	s.fillClimb(&ev)
	return ev, nil
}

// resetClimb clears everything tied to the climber on the wall.
func (s *Session) resetClimb() {
	s.holdProgress = 0
	s.halfHoldUsed = false
	s.timer = models.TimerIdle
	s.timerEnd = time.Time{}
	s.timerLeft = float64(s.presetSeconds)
	s.registered = nil
}

func (s *Session) startTimer() (models.Event, error) {
	if !s.initiated {
		return models.Event{}, errors.Guardf("box %d is not initiated", s.boxID)
	}
	s.timer = models.TimerRunning
	s.timerEnd = s.clock.Now().Add(time.Duration(s.presetSeconds) * time.Second)
	s.timerLeft = float64(s.presetSeconds)
	s.registered = nil

	ev := s.event(models.EventStartTimer)
	s.fillTimer(&ev)
	return ev, nil
}

func (s *Session) stopTimer() (models.Event, error) {
	if s.timer != models.TimerRunning {
		return models.Event{}, errors.Guardf("timer is %s, not running", s.timer)
	}
	s.timerLeft = math.Max(0, s.timerEnd.Sub(s.clock.Now()).Seconds())
	s.timer = models.TimerPaused
	s.timerEnd = time.Time{}

	ev := s.event(models.EventStopTimer)
	s.fillTimer(&ev)
	return ev, nil
}

func (s *Session) resumeTimer() (models.Event, error) {
	if s.timer != models.TimerPaused {
		return models.Event{}, errors.Guardf("timer is %s, not paused", s.timer)
	}
	s.timer = models.TimerRunning
	s.timerEnd = s.clock.Now().Add(time.Duration(s.timerLeft * float64(time.Second)))
	s.registered = nil

	ev := s.event(models.EventResumeTimer)
	s.fillTimer(&ev)
	return ev, nil
}

func (s *Session) registerTime() (models.Event, error) {
	if s.timer != models.TimerPaused {
		return models.Event{}, errors.Guardf("timer is %s, not paused", s.timer)
	}
	if !s.timeCriterion {
		return models.Event{}, errors.Guardf("time criterion is disabled on box %d", s.boxID)
	}
	elapsed := math.Max(0, float64(s.presetSeconds)-s.timerLeft)
	s.registered = &elapsed

	ev := s.event(models.EventRegisterTime)
	ev.RegisteredTime = models.Float(elapsed)
	return ev, nil
}

func (s *Session) progressUpdate(cmd models.Command) (models.Event, error) {
	if s.timer != models.TimerRunning {
		return models.Event{}, errors.Guardf("timer is %s, not running", s.timer)
	}
	holds := float64(s.HoldsCount())
	if s.holdProgress >= holds {
		return models.Event{}, errors.Guardf("hold progress already at %v of %v", s.holdProgress, holds)
	}

	delta := 1.0
	if cmd.Delta != nil {
		delta = *cmd.Delta
	}

	switch {
	case delta == 1:
		// A full hold drops any fractional progress.
		s.holdProgress = math.Min(math.Floor(s.holdProgress)+1, holds)
		s.halfHoldUsed = false
	case math.Abs(delta-halfHold) < 1e-9:
		if s.halfHoldUsed {
			return models.Event{}, errors.Guardf("half hold already used for %s", s.climbing)
		}
		s.holdProgress = math.Min(round1(s.holdProgress+halfHold), holds)
		s.halfHoldUsed = true
	default:
		return models.Event{}, errors.InvalidInputf("unsupported progress delta %v", delta)
	}

	ev := s.event(models.EventProgressUpdate)
	ev.Delta = models.Float(delta)
	s.fillClimb(&ev)
	return ev, nil
}

func (s *Session) submitScore(cmd models.Command) (models.Event, error) {
	name := strings.TrimSpace(cmd.Competitor)
	if name == "" {
		return models.Event{}, errors.InvalidInput("competitor is required")
	}
	if !s.initiated {
		return models.Event{}, errors.Guardf("box %d is not initiated", s.boxID)
	}
	idx := s.rosterIndex(name)
	if idx < 0 {
		return models.Event{}, errors.Validationf("competitor %q is not on the current route", name)
	}
	if err := validScore(cmd.Score); err != nil {
		return models.Event{}, err
	}

	route := s.routeIndex - 1
	s.scores.Set(name, route, *cmd.Score)
	regTime := cmd.RegisteredTime
	if regTime == nil && s.registered != nil {
		regTime = s.registered
	}
	if regTime != nil {
		s.times.Set(name, route, *regTime)
	}
	s.competitors[idx].Marked = true

	if name == s.climbing {
		s.advance()
		s.resetClimb()
	}

	ev := s.event(models.EventSubmitScore)
	ev.Competitor = name
	ev.Score = models.Float(*cmd.Score)
	if regTime != nil {
		ev.RegisteredTime = models.Float(*regTime)
	}
	ev.Competitors = cloneRoster(s.competitors, true)
	s.fillQueue(&ev)
	s.fillClimb(&ev)

	switch {
	case s.finalized:
		ev.Rescored = true
	case s.routeIndex == s.routesCount && s.allMarked():
		s.finalized = true
		ev.Finalized = true
	}
	return ev, nil
}

// advance moves the queue forward by one climber.
func (s *Session) advance() {
	s.climbing = s.preparing
	s.preparing = ""
	if len(s.remaining) > 0 {
		s.preparing = s.remaining[0]
		s.remaining = s.remaining[1:]
	}
}

func (s *Session) modifyScore(cmd models.Command) (models.Event, error) {
	name := strings.TrimSpace(cmd.Competitor)
	if name == "" {
		return models.Event{}, errors.InvalidInput("competitor is required")
	}
	route := cmd.RouteIndex
	if route == 0 {
		route = s.routeIndex
	}
	if route < 1 || route > s.routesCount {
		return models.Event{}, errors.InvalidInputf("route %d is out of range", route)
	}
	if s.scores.At(name, route-1) == nil {
		return models.Event{}, errors.Validationf("competitor %q has no score on route %d", name, route)
	}
	if err := validScore(cmd.Score); err != nil {
		return models.Event{}, err
	}

	s.scores.Set(name, route-1, *cmd.Score)
	if cmd.RegisteredTime != nil {
		s.times.Set(name, route-1, *cmd.RegisteredTime)
	}

	ev := s.event(models.EventModifyScore)
	ev.Competitor = name
	ev.RouteIndex = route
	ev.Score = models.Float(*cmd.Score)
	ev.RegisteredTime = cmd.RegisteredTime
	ev.Rescored = s.finalized
	return ev, nil
}

func (s *Session) setTimeCriterion(cmd models.Command) (models.Event, error) {
	if cmd.TimeCriterionEnabled == nil {
		return models.Event{}, errors.InvalidInput("timeCriterionEnabled is required")
	}
	s.timeCriterion = *cmd.TimeCriterionEnabled
	if !s.timeCriterion {
		s.registered = nil
	}

	ev := s.event(models.EventTimeCriterion)
	ev.TimeCriterionEnabled = models.Bool(s.timeCriterion)
	ev.RegisteredTime = s.RegisteredTime()
	return ev, nil
}

func (s *Session) activeClimber() models.Event {
	ev := s.event(models.EventActiveClimber)
	s.fillQueue(&ev)
	return ev
}

func (s *Session) reset() models.Event {
	s.token++
	s.clear()

	ev := s.event(models.EventResetBox)
	ev.Competitors = cloneRoster(s.competitors, true)
	preset := s.presetSeconds
	ev.TimerPreset = &preset
	ev.TimeCriterionEnabled = models.Bool(s.timeCriterion)
	s.fillQueue(&ev)
	s.fillClimb(&ev)
	return ev
}

// TimerSyncEvent reports the countdown of a running timer.
func (s *Session) TimerSyncEvent() models.Event {
	ev := s.event(models.EventTimerSync)
	s.fillTimer(&ev)
	return ev
}

// Snapshot returns the full state of the box.
func (s *Session) Snapshot() models.Snapshot {
	now := s.clock.Now()
	snap := models.Snapshot{
		BoxID:                s.boxID,
		Category:             s.category,
		Initiated:            s.initiated,
		RouteIndex:           s.routeIndex,
		RoutesCount:          s.routesCount,
		HoldsCount:           s.HoldsCount(),
		HoldsCounts:          append([]int{}, s.holdsCounts...),
		CurrentClimber:       s.climbing,
		Preparing:            s.preparing,
		RemainingClimbers:    append([]string{}, s.remaining...),
		Competitors:          cloneRoster(s.competitors, true),
		TimerState:           s.timer,
		HoldCount:            s.holdProgress,
		HalfHoldUsed:         s.halfHoldUsed,
		RegisteredTime:       s.RegisteredTime(),
		Remaining:            s.TimeLeft(),
		TimerPreset:          s.presetSeconds,
		TimeCriterionEnabled: s.timeCriterion,
		SessionID:            models.Int64(s.token),
		Finalized:            s.finalized,
		Scores:               s.scores.Clone(),
		ServerTime:           now.UnixMilli(),
	}
	if s.timer == models.TimerRunning {
		snap.TimerEndEpoch = models.Int64(s.timerEnd.UnixMilli())
	}
	if len(s.times) > 0 {
		snap.Times = s.times.Clone()
	}
	return snap
}

// SnapshotEvent wraps Snapshot in a STATE_SNAPSHOT event.
func (s *Session) SnapshotEvent() models.Event {
	snap := s.Snapshot()
	ev := s.event(models.EventStateSnapshot)
	ev.Snapshot = &snap
	return ev
}

// RankingInput returns the engine input for this box. Every roster member
// appears in the table, scored or not.
func (s *Session) RankingInput() ranking.Input {
	table := s.scores.Clone()
	for _, c := range s.competitors {
		if _, ok := table[c.Name]; !ok {
			table[c.Name] = nil
		}
	}
	in := ranking.Input{
		Scores:     table,
		RouteCount: s.routesCount,
		Clubs:      make(map[string]string, len(s.clubs)),
	}
	for k, v := range s.clubs {
		in.Clubs[k] = v
	}
	if s.timeCriterion {
		in.Times = s.times.Clone()
	}
	return in
}

// ResultsPayload builds what the results collaborator receives on finalization.
func (s *Session) ResultsPayload() models.ResultsPayload {
	in := s.RankingInput()
	return models.ResultsPayload{
		Category:        s.category,
		RouteCount:      in.RouteCount,
		Scores:          in.Scores,
		Clubs:           in.Clubs,
		Times:           in.Times,
		UseTimeTiebreak: s.timeCriterion,
	}
}

func (s *Session) fillQueue(ev *models.Event) {
	climbing, preparing := s.climbing, s.preparing
	ev.CurrentClimber = &climbing
	ev.Preparing = &preparing
	ev.RemainingClimbers = append([]string{}, s.remaining...)
}

func (s *Session) fillClimb(ev *models.Event) {
	ev.HoldCount = models.Float(s.holdProgress)
	ev.HalfHoldUsed = models.Bool(s.halfHoldUsed)
	s.fillTimer(ev)
}

func (s *Session) fillTimer(ev *models.Event) {
	ev.TimerState = s.timer
	ev.Remaining = models.Float(s.TimeLeft())
	if s.timer == models.TimerRunning {
		ev.TimerEndEpoch = models.Int64(s.timerEnd.UnixMilli())
	}
}

func (s *Session) rosterIndex(name string) int {
	for i, c := range s.competitors {
		if c.Name == name {
			return i
		}
	}
	return -1
}

func (s *Session) allMarked() bool {
	if len(s.competitors) == 0 {
		return false
	}
	for _, c := range s.competitors {
		if !c.Marked {
			return false
		}
	}
	return true
}

func validScore(score *float64) error {
	if score == nil {
		return errors.InvalidInput("score is required")
	}
	if *score < 0 || math.IsNaN(*score) || math.IsInf(*score, 0) {
		return errors.InvalidInputf("invalid score %v", *score)
	}
	return nil
}

func cloneRoster(in []models.Competitor, keepMarks bool) []models.Competitor {
	out := make([]models.Competitor, len(in))
	copy(out, in)
	if !keepMarks {
		for i := range out {
			out[i].Marked = false
		}
	}
	return out
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
