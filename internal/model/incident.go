// Package model defines the application-level record types that ride the
// lww.Envelope: Incident and Scratchpad.
package model

// Outcome is the severity classification of a rule-violation incident.
type Outcome string

const (
	OutcomeGeneral  Outcome = "General"
	OutcomeMinor    Outcome = "Minor"
	OutcomeMajor    Outcome = "Major"
	OutcomeDisabled Outcome = "Disabled"
)

// LeagueMatchRef identifies a league match.
type LeagueMatchRef struct {
	Division uint32 `json:"division"`
	Name     string `json:"name"`
	ID       uint64 `json:"id"`
}

// SkillsAttemptRef identifies a skills-mission attempt.
type SkillsAttemptRef struct {
	SkillsType string `json:"skillsType"` // "programming" | "driver"
	Attempt    uint32 `json:"attempt"`
}

// MatchReference is a value-type reference to either a league match or a
// skills attempt; at most one of its fields is set. This is deliberately
// a flat value, never a back-pointer into fat match data.
type MatchReference struct {
	League *LeagueMatchRef   `json:"league,omitempty"`
	Skills *SkillsAttemptRef `json:"skills,omitempty"`
}

// Incident is the core record type of a collaborative incident log.
type Incident struct {
	ID       string `json:"id"`
	EventSKU string `json:"event_sku"` // immutable

	Team      string          `json:"team"`
	Match     *MatchReference `json:"match,omitempty"`
	Outcome   Outcome         `json:"outcome"`
	Rules     []string        `json:"rules"`
	Notes     string          `json:"notes"`
	Timestamp string          `json:"timestamp"` // RFC3339
	Assets    []string        `json:"assets"`
}

// IncidentImmutableKeys are the keys of Incident that never participate in
// LWW merges: identity fields.
var IncidentImmutableKeys = []string{"id", "event_sku"}
