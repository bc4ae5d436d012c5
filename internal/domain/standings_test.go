package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRankStandings(t *testing.T) {
	t.Parallel()

	table := RankStandings([]StandingsEntry{
		{TeamID: 1, Played: 2, Won: 1, Drawn: 1, GoalsFor: 3, GoalsAgainst: 2},
		{TeamID: 2, Played: 2, Won: 1, Drawn: 1, GoalsFor: 4, GoalsAgainst: 2},
		{TeamID: 3, Played: 2, Lost: 2, GoalsFor: 0, GoalsAgainst: 4},
		{TeamID: 4, Played: 2, Won: 1, Drawn: 1, GoalsFor: 3, GoalsAgainst: 1},
	})

	require.Len(t, table, 4)
	var order []int64
	for i, e := range table {
		assert.Equal(t, i+1, e.Position)
		order = append(order, e.TeamID)
	}
	assert.Equal(t, []int64{2, 4, 1, 3}, order)
	assert.Equal(t, 4, table[0].Points)
	assert.Equal(t, 2, table[0].GoalDifference)
	assert.Equal(t, 0, table[3].Points)
	assert.Equal(t, -4, table[3].GoalDifference)
}

func TestParseGroupKind(t *testing.T) {
	t.Parallel()

	kind, err := ParseGroupKind("zone")
	require.NoError(t, err)
	assert.Equal(t, GroupZone, kind)

	_, err = ParseGroupKind("league")
	assert.ErrorIs(t, err, ErrInvalidRequest)

	assert.Equal(t, CategoryEditionRoom(3), CategoryEditionGroup(3).Room())
}
