package domain

import "time"

// PlayerMatchesKind selects the player-facing match list
type PlayerMatchesKind string

const (
	PlayerMatchesUpcoming PlayerMatchesKind = "upcoming"
	PlayerMatchesRecent   PlayerMatchesKind = "recent"
)

// Valid reports whether k names a known list
func (k PlayerMatchesKind) Valid() bool {
	return k == PlayerMatchesUpcoming || k == PlayerMatchesRecent
}

// RedCardSuspension is the number of matches a sending-off suspends a player for
const RedCardSuspension = 1

// SanctionAccrual tracks a player's suspension within a category edition.
// Served only grows; the suspension is lifted once nothing remains.
type SanctionAccrual struct {
	ID                int64     `json:"id_expulsion"`
	PlayerID          int64     `json:"id_jugador"`
	TeamID            int64     `json:"id_equipo"`
	CategoryEditionID int64     `json:"id_categoria_edicion"`
	Total             int       `json:"fechas"`
	Served            int       `json:"fechas_cumplidas"`
	IssuedAt          time.Time `json:"fecha_sancion"`
}

// Remaining returns the number of matches still to be served
func (s SanctionAccrual) Remaining() int {
	if r := s.Total - s.Served; r > 0 {
		return r
	}
	return 0
}

// Lifted reports whether the suspension has been fully served
func (s SanctionAccrual) Lifted() bool {
	return s.Remaining() == 0
}

// MatchFinished is the trigger passed to the sanction recompute contract
type MatchFinished struct {
	MatchID           int64 `json:"id_partido"`
	CategoryEditionID int64 `json:"id_categoria_edicion,omitempty"`
	HomeTeamID        int64 `json:"id_equipo_local,omitempty"`
	AwayTeamID        int64 `json:"id_equipo_visita,omitempty"`
}
