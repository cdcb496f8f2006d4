package models

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// CommandType identifies a client → authority command
type CommandType string

const (
	CmdInitRoute               CommandType = "INIT_ROUTE"
	CmdStartTimer              CommandType = "START_TIMER"
	CmdStopTimer               CommandType = "STOP_TIMER"
	CmdResumeTimer             CommandType = "RESUME_TIMER"
	CmdProgressUpdate          CommandType = "PROGRESS_UPDATE"
	CmdRegisterTime            CommandType = "REGISTER_TIME"
	CmdSubmitScore             CommandType = "SUBMIT_SCORE"
	CmdModifyScore             CommandType = "MODIFY_SCORE"
	CmdRequestActiveCompetitor CommandType = "REQUEST_ACTIVE_COMPETITOR"
	CmdRequestState            CommandType = "REQUEST_STATE"
	CmdResetBox                CommandType = "RESET_BOX"
	CmdSetTimeCriterion        CommandType = "SET_TIME_CRITERION"
	// CmdPong is the heartbeat reply; it never reaches the state machine.
	CmdPong CommandType = "PONG"
)

// Known reports whether t is a command the authority understands.
func (t CommandType) Known() bool {
	switch t {
	case CmdInitRoute, CmdStartTimer, CmdStopTimer, CmdResumeTimer, CmdProgressUpdate,
		CmdRegisterTime, CmdSubmitScore, CmdModifyScore, CmdRequestActiveCompetitor,
		CmdRequestState, CmdResetBox, CmdSetTimeCriterion, CmdPong:
		return true
	}
	return false
}

// EventType identifies an authority → subscriber message
type EventType string

const (
	EventInitRoute       EventType = "INIT_ROUTE"
	EventStartTimer      EventType = "START_TIMER"
	EventStopTimer       EventType = "STOP_TIMER"
	EventResumeTimer     EventType = "RESUME_TIMER"
	EventProgressUpdate  EventType = "PROGRESS_UPDATE"
	EventRegisterTime    EventType = "REGISTER_TIME"
	EventSubmitScore     EventType = "SUBMIT_SCORE"
	EventModifyScore     EventType = "MODIFY_SCORE"
	EventResetBox        EventType = "RESET_BOX"
	EventTimeCriterion   EventType = "SET_TIME_CRITERION"
	EventStateSnapshot   EventType = "STATE_SNAPSHOT"
	EventTimerSync       EventType = "TIMER_SYNC"
	EventActiveClimber   EventType = "ACTIVE_CLIMBER"
	EventCommandRejected EventType = "COMMAND_REJECTED"
	EventPing            EventType = "PING"
	EventPong            EventType = "PONG"
)

// TimerState is the explicit three-state timer enum
type TimerState string

const (
	TimerIdle    TimerState = "idle"
	TimerRunning TimerState = "running"
	TimerPaused  TimerState = "paused"
)

func (s TimerState) IsRunning() bool { return s == TimerRunning }
func (s TimerState) IsPaused() bool  { return s == TimerPaused }

// Competitor is one roster entry. Identity is the name.
type Competitor struct {
	Name   string `json:"name"`
	Club   string `json:"club,omitempty"`
	Marked bool   `json:"marked"`
}

// UnmarshalJSON accepts the roster service's "nume" key as an alias for "name".
func (c *Competitor) UnmarshalJSON(data []byte) error {
	var raw struct {
		Name   string `json:"name"`
		Nume   string `json:"nume"`
		Club   string `json:"club"`
		Marked bool   `json:"marked"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	c.Name = raw.Name
	if c.Name == "" {
		c.Name = raw.Nume
	}
	c.Club = raw.Club
	c.Marked = raw.Marked
	return nil
}

// PresetSeconds is a timer duration that can be unmarshaled from a number of
// seconds or from an "MM:SS" string.
type PresetSeconds int

// UnmarshalJSON implements json.Unmarshaler for PresetSeconds
func (p *PresetSeconds) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*p = 0
		return nil
	}

	var n json.Number
	if err := json.Unmarshal(data, &n); err == nil {
		f, err := n.Float64()
		if err != nil {
			return fmt.Errorf("PresetSeconds: %w", err)
		}
		*p = PresetSeconds(int(f))
		return nil
	}

	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("PresetSeconds: cannot unmarshal %s", string(data))
	}
	secs, err := ParsePreset(s)
	if err != nil {
		return err
	}
	*p = PresetSeconds(secs)
	return nil
}

// ParsePreset parses "MM:SS" or a plain number of seconds.
func ParsePreset(s string) (int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	if m, sec, ok := strings.Cut(s, ":"); ok {
		mins, err1 := strconv.Atoi(m)
		secs, err2 := strconv.Atoi(sec)
		if err1 != nil || err2 != nil || mins < 0 || secs < 0 || secs >= 60 {
			return 0, fmt.Errorf("invalid timer preset %q", s)
		}
		return mins*60 + secs, nil
	}
	secs, err := strconv.Atoi(s)
	if err != nil || secs < 0 {
		return 0, fmt.Errorf("invalid timer preset %q", s)
	}
	return secs, nil
}

// Command is the client → authority envelope
type Command struct {
	BoxID        int         `json:"boxId"`
	Type         CommandType `json:"type"`
	SessionToken *int64      `json:"sessionToken,omitempty"`

	// INIT_ROUTE
	RouteIndex  int            `json:"routeIndex,omitempty"`
	HoldsCount  *int           `json:"holdsCount,omitempty"`
	Competitors []Competitor   `json:"competitors,omitempty"`
	TimerPreset *PresetSeconds `json:"timerPreset,omitempty"`

	// PROGRESS_UPDATE
	Delta *float64 `json:"delta,omitempty"`

	// SUBMIT_SCORE / MODIFY_SCORE / REGISTER_TIME
	Competitor     string   `json:"competitor,omitempty"`
	Score          *float64 `json:"score,omitempty"`
	RegisteredTime *float64 `json:"registeredTime,omitempty"`

	// SET_TIME_CRITERION
	TimeCriterionEnabled *bool `json:"timeCriterionEnabled,omitempty"`

	// PONG
	Timestamp int64 `json:"timestamp,omitempty"`
}

// Snapshot is the full authoritative state of one box
type Snapshot struct {
	BoxID                int                   `json:"boxId"`
	Category             string                `json:"category"`
	Initiated            bool                  `json:"initiated"`
	RouteIndex           int                   `json:"routeIndex"`
	RoutesCount          int                   `json:"routesCount"`
	HoldsCount           int                   `json:"holdsCount"`
	HoldsCounts          []int                 `json:"holdsCounts"`
	CurrentClimber       string                `json:"currentClimber"`
	Preparing            string                `json:"preparing"`
	RemainingClimbers    []string              `json:"remainingClimbers"`
	Competitors          []Competitor          `json:"competitors"`
	TimerState           TimerState            `json:"timerState"`
	HoldCount            float64               `json:"holdCount"`
	HalfHoldUsed         bool                  `json:"halfHoldUsed"`
	RegisteredTime       *float64              `json:"registeredTime"`
	Remaining            float64               `json:"remaining"`
	TimerEndEpoch        *int64                `json:"timerEndEpoch,omitempty"`
	TimerPreset          int                   `json:"timerPreset"`
	TimeCriterionEnabled bool                  `json:"timeCriterionEnabled"`
	SessionID            *int64                `json:"sessionId,omitempty"`
	Finalized            bool                  `json:"finalized"`
	Scores               map[string][]*float64 `json:"scores"`
	Times                map[string][]*float64 `json:"times,omitempty"`
	ServerTime           int64                 `json:"serverTime"`
}

// Event is the authority → subscriber envelope. Fields describe the state
// after the transition so a projection can fold it by assignment.
// STATE_SNAPSHOT events are serialized flat: the snapshot fields sit next to type.
type Event struct {
	BoxID     int       `json:"boxId"`
	Type      EventType `json:"type"`
	SessionID *int64    `json:"sessionId,omitempty"`
	Snapshot  *Snapshot `json:"-"`

	RouteIndex           int          `json:"routeIndex,omitempty"`
	HoldsCount           *int         `json:"holdsCount,omitempty"`
	Competitors          []Competitor `json:"competitors,omitempty"`
	Competitor           string       `json:"competitor,omitempty"`
	Score                *float64     `json:"score,omitempty"`
	RegisteredTime       *float64     `json:"registeredTime,omitempty"`
	Delta                *float64     `json:"delta,omitempty"`
	HoldCount            *float64     `json:"holdCount,omitempty"`
	HalfHoldUsed         *bool        `json:"halfHoldUsed,omitempty"`
	TimerState           TimerState   `json:"timerState,omitempty"`
	TimerEndEpoch        *int64       `json:"timerEndEpoch,omitempty"`
	Remaining            *float64     `json:"remaining,omitempty"`
	TimerPreset          *int         `json:"timerPreset,omitempty"`
	TimeCriterionEnabled *bool        `json:"timeCriterionEnabled,omitempty"`
	CurrentClimber       *string      `json:"currentClimber,omitempty"`
	Preparing            *string      `json:"preparing,omitempty"`
	RemainingClimbers    []string     `json:"remainingClimbers,omitempty"`
	Finalized            bool         `json:"finalized,omitempty"`
	Rescored             bool         `json:"rescored,omitempty"`
	Command              CommandType  `json:"command,omitempty"`
	Reason               string       `json:"reason,omitempty"`
	Timestamp            int64        `json:"timestamp,omitempty"`
}

// MarshalJSON flattens snapshot events.
func (e Event) MarshalJSON() ([]byte, error) {
	if e.Type == EventStateSnapshot && e.Snapshot != nil {
		return json.Marshal(struct {
			Type EventType `json:"type"`
			Snapshot
		}{Type: e.Type, Snapshot: *e.Snapshot})
	}
	type plain Event
	return json.Marshal(plain(e))
}

// UnmarshalJSON restores the Snapshot of a flat STATE_SNAPSHOT event.
func (e *Event) UnmarshalJSON(data []byte) error {
	type plain Event
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*e = Event(p)
	if e.Type == EventStateSnapshot {
		var s Snapshot
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		e.Snapshot = &s
		e.SessionID = s.SessionID
	}
	return nil
}

// Redacted returns a copy of e without the session token, for untrusted subscribers.
func (e Event) Redacted() Event {
	e.SessionID = nil
	if e.Snapshot != nil {
		s := *e.Snapshot
		s.SessionID = nil
		e.Snapshot = &s
	}
	return e
}

// ResultsPayload is what the results persistence collaborator receives once a box is finalized.
type ResultsPayload struct {
	Category        string                `json:"categorie"`
	RouteCount      int                   `json:"route_count"`
	Scores          map[string][]*float64 `json:"scores"`
	Clubs           map[string]string     `json:"clubs"`
	Times           map[string][]*float64 `json:"times,omitempty"`
	UseTimeTiebreak bool                  `json:"use_time_tiebreak"`
}

// RosterUpload is the parsed roster delivered by the ingestion service.
type RosterUpload struct {
	BoxID         *int           `json:"boxId"`
	Category      string         `json:"categorie"`
	Competitors   []Competitor   `json:"concurenti"`
	RoutesCount   int            `json:"routesCount"`
	HoldsCounts   []int          `json:"holdsCounts"`
	TimerPreset   *PresetSeconds `json:"timerPreset,omitempty"`
	TimeCriterion bool           `json:"timeCriterion,omitempty"`
}

// Float returns a pointer to v.
func Float(v float64) *float64 { return &v }

// Int returns a pointer to v.
func Int(v int) *int { return &v }

// Int64 returns a pointer to v.
func Int64(v int64) *int64 { return &v }

// Bool returns a pointer to v.
func Bool(v bool) *bool { return &v }
