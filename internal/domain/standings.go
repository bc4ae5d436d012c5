package domain

import (
	"fmt"
	"sort"
)

// GroupKind identifies the aggregation unit of a points table
type GroupKind string

const (
	GroupZone            GroupKind = "zone"
	GroupCategoryEdition GroupKind = "category-edition"
)

// StandingsGroup is the zone or category edition a points table is computed over
type StandingsGroup struct {
	Kind GroupKind `json:"kind"`
	ID   int64     `json:"id"`
}

// ZoneGroup returns the standings group of a zone
func ZoneGroup(zoneID int64) StandingsGroup {
	return StandingsGroup{Kind: GroupZone, ID: zoneID}
}

// CategoryEditionGroup returns the standings group of a category edition
func CategoryEditionGroup(categoryEditionID int64) StandingsGroup {
	return StandingsGroup{Kind: GroupCategoryEdition, ID: categoryEditionID}
}

// ParseGroupKind converts a path segment to a GroupKind
func ParseGroupKind(s string) (GroupKind, error) {
	switch GroupKind(s) {
	case GroupZone, GroupCategoryEdition:
		return GroupKind(s), nil
	}
	return "", fmt.Errorf("%w: unknown standings group kind %q", ErrInvalidRequest, s)
}

// Room returns the room that carries events for this group
func (g StandingsGroup) Room() RoomKey {
	if g.Kind == GroupZone {
		return ZoneRoom(g.ID)
	}
	return CategoryEditionRoom(g.ID)
}

// StandingsEntry is one team's row in a points table
type StandingsEntry struct {
	Position       int   `json:"posicion"`
	TeamID         int64 `json:"id_equipo"`
	Played         int   `json:"pj"`
	Won            int   `json:"pg"`
	Drawn          int   `json:"pe"`
	Lost           int   `json:"pp"`
	GoalsFor       int   `json:"gf"`
	GoalsAgainst   int   `json:"gc"`
	GoalDifference int   `json:"dg"`
	Points         int   `json:"puntos"`
}

// Points awarded per result
const (
	PointsWin  = 3
	PointsDraw = 1
	PointsLoss = 0
)

// RankStandings fills points and goal difference from the raw tallies, orders
// the table by points, goal difference and goals for, and assigns positions.
func RankStandings(entries []StandingsEntry) []StandingsEntry {
	for i := range entries {
		e := &entries[i]
		e.Points = e.Won*PointsWin + e.Drawn*PointsDraw + e.Lost*PointsLoss
		e.GoalDifference = e.GoalsFor - e.GoalsAgainst
	}
	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if a.Points != b.Points {
			return a.Points > b.Points
		}
		if a.GoalDifference != b.GoalDifference {
			return a.GoalDifference > b.GoalDifference
		}
		if a.GoalsFor != b.GoalsFor {
			return a.GoalsFor > b.GoalsFor
		}
		return a.TeamID < b.TeamID
	})
	for i := range entries {
		entries[i].Position = i + 1
	}
	return entries
}
