package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/abrezinsky/cragboard/internal/models"
)

// EventFile lists the boxes created at startup
type EventFile struct {
	Name  string    `yaml:"name"`
	Boxes []BoxSpec `yaml:"boxes"`
}

// BoxSpec is one box of an event file. A box without an id takes the
// lowest free one.
type BoxSpec struct {
	ID            *int             `yaml:"id"`
	Category      string           `yaml:"category"`
	RoutesCount   int              `yaml:"routes_count"`
	HoldsCounts   []int            `yaml:"holds_counts"`
	TimerPreset   string           `yaml:"timer_preset"`
	TimeCriterion bool             `yaml:"time_criterion"`
	Competitors   []CompetitorSpec `yaml:"competitors"`
}

// CompetitorSpec is one roster entry
type CompetitorSpec struct {
	Name string `yaml:"name"`
	Club string `yaml:"club"`
}

// LoadEventFile reads and validates a YAML event file
func LoadEventFile(path string) (*EventFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read event file: %w", err)
	}
	return ParseEventFile(data)
}

// ParseEventFile decodes YAML event data
func ParseEventFile(data []byte) (*EventFile, error) {
	var ef EventFile
	if err := yaml.Unmarshal(data, &ef); err != nil {
		return nil, fmt.Errorf("parse event file: %w", err)
	}

	seen := make(map[int]bool)
	for i, b := range ef.Boxes {
		if b.ID != nil {
			if *b.ID < 0 {
				return nil, fmt.Errorf("boxes[%d]: negative id %d", i, *b.ID)
			}
			if seen[*b.ID] {
				return nil, fmt.Errorf("boxes[%d]: duplicate id %d", i, *b.ID)
			}
			seen[*b.ID] = true
		}
		if b.Category == "" {
			return nil, fmt.Errorf("boxes[%d]: category is required", i)
		}
		if _, err := models.ParsePreset(b.TimerPreset); err != nil {
			return nil, fmt.Errorf("boxes[%d]: %w", i, err)
		}
	}
	return &ef, nil
}

// Roster converts the box entry into the upload the contest service ingests
func (b BoxSpec) Roster() models.RosterUpload {
	r := models.RosterUpload{
		Category:      b.Category,
		RoutesCount:   b.RoutesCount,
		HoldsCounts:   append([]int(nil), b.HoldsCounts...),
		TimeCriterion: b.TimeCriterion,
	}
	if b.ID != nil {
		id := *b.ID
		r.BoxID = &id
	}
	if secs, err := models.ParsePreset(b.TimerPreset); err == nil && secs > 0 {
		p := models.PresetSeconds(secs)
		r.TimerPreset = &p
	}
	for _, c := range b.Competitors {
		r.Competitors = append(r.Competitors, models.Competitor{Name: c.Name, Club: c.Club})
	}
	return r
}
