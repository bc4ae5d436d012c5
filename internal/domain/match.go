package domain

import "time"

// MatchState represents the lifecycle state of a match
type MatchState string

const (
	MatchStateScheduled  MatchState = "scheduled"
	MatchStateInProgress MatchState = "in-progress"
	MatchStateFinished   MatchState = "finished"
)

// Valid reports whether s is one of the known lifecycle states
func (s MatchState) Valid() bool {
	switch s {
	case MatchStateScheduled, MatchStateInProgress, MatchStateFinished:
		return true
	}
	return false
}

// Match represents a fixture between two teams
type Match struct {
	ID                int64      `json:"id_partido"`
	CategoryEditionID int64      `json:"id_categoria_edicion"`
	ZoneID            int64      `json:"id_zona,omitempty"`
	Round             int        `json:"jornada"`
	Venue             string     `json:"cancha,omitempty"`
	ScheduledAt       time.Time  `json:"dia"`
	HomeTeamID        int64      `json:"id_equipo_local"`
	AwayTeamID        int64      `json:"id_equipo_visita"`
	HomeGoals         *int       `json:"goles_local"`
	AwayGoals         *int       `json:"goles_visita"`
	State             MatchState `json:"estado"`
}

// Involves reports whether the team played in the match
func (m *Match) Involves(teamID int64) bool {
	return m.HomeTeamID == teamID || m.AwayTeamID == teamID
}

// IncidentKind distinguishes goals from cards in a match's incident list
type IncidentKind string

const (
	IncidentGoal IncidentKind = "goal"
	IncidentCard IncidentKind = "card"
)

// Incident is one row of a match's event list (a goal or a card)
type Incident struct {
	ID       int64        `json:"id"`
	MatchID  int64        `json:"id_partido"`
	Kind     IncidentKind `json:"tipo"`
	PlayerID int64        `json:"id_jugador"`
	TeamID   int64        `json:"id_equipo"`
	Minute   int          `json:"minuto"`
	CardType CardType     `json:"tarjeta,omitempty"`
	OwnGoal  bool         `json:"en_contra,omitempty"`
	Penalty  bool         `json:"penal,omitempty"`
}
