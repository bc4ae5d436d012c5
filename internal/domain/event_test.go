package domain

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeEnvelope_Variants(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		frame string
		want  MatchEvent
	}{
		{
			name:  "goal added",
			frame: `{"type":"goal:added","id_partido":7,"id_categoria_edicion":3,"payload":{"id_gol":11,"id_jugador":40,"id_equipo":2,"minuto":63}}`,
			want: GoalAdded{
				Scope: Scope{MatchID: 7, CategoryEditionID: 3},
				Goal:  GoalPayload{ID: 11, PlayerID: 40, TeamID: 2, Minute: 63},
			},
		},
		{
			name:  "goal removed only needs the goal id",
			frame: `{"type":"goal:removed","id_partido":7,"payload":{"id_gol":11}}`,
			want:  GoalRemoved{Scope: Scope{MatchID: 7}, Goal: GoalPayload{ID: 11}},
		},
		{
			name:  "double yellow card",
			frame: `{"type":"card:added","id_partido":9,"id_zona":4,"payload":{"id_jugador":5,"id_equipo":1,"minuto":80,"tipo":"double-yellow"}}`,
			want: CardAdded{
				Scope: Scope{MatchID: 9, ZoneID: 4},
				Card:  CardPayload{PlayerID: 5, TeamID: 1, Minute: 80, Type: CardDoubleYellow},
			},
		},
		{
			name:  "state changed",
			frame: `{"type":"match:state-changed","id_partido":7,"payload":{"estado":"finished","id_equipo_local":1,"id_equipo_visita":2}}`,
			want: MatchStateChanged{
				Scope:        Scope{MatchID: 7},
				StatePayload: StatePayload{State: MatchStateFinished, HomeTeamID: 1, AwayTeamID: 2},
			},
		},
		{
			name:  "score changed",
			frame: `{"type":"match:score-changed","id_partido":7,"payload":{"goles_local":2,"goles_visita":0}}`,
			want:  MatchScoreChanged{Scope: Scope{MatchID: 7}, ScorePayload: ScorePayload{HomeGoals: 2}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, err := DecodeEnvelope([]byte(tt.frame))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDecodeEnvelope_Rejects(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		frame  string
		target error
	}{
		{"not json", `{"type":`, ErrMalformedEvent},
		{"unknown type", `{"type":"goal:exploded","id_partido":1,"payload":{}}`, ErrUnknownEventType},
		{"missing match id", `{"type":"goal:added","payload":{"id_jugador":1,"id_equipo":1}}`, ErrMalformedEvent},
		{"missing payload", `{"type":"goal:added","id_partido":1}`, ErrMalformedEvent},
		{"payload shape", `{"type":"goal:added","id_partido":1,"payload":{"minuto":"late"}}`, ErrMalformedEvent},
		{"bad card type", `{"type":"card:added","id_partido":1,"payload":{"id_jugador":1,"id_equipo":1,"tipo":"blue"}}`, ErrMalformedEvent},
		{"edit without id", `{"type":"card:edited","id_partido":1,"payload":{"id_jugador":1,"id_equipo":1,"tipo":"red"}}`, ErrMalformedEvent},
		{"bad state", `{"type":"match:state-changed","id_partido":1,"payload":{"estado":"paused"}}`, ErrMalformedEvent},
		{"negative score", `{"type":"match:score-changed","id_partido":1,"payload":{"goles_local":-1,"goles_visita":0}}`, ErrMalformedEvent},
		{"control reply", `{"type":"joined","id_partido":1}`, ErrControlReply},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := DecodeEnvelope([]byte(tt.frame))
			require.Error(t, err)
			if !errors.Is(err, tt.target) {
				t.Fatalf("expected %v, got %v", tt.target, err)
			}
		})
	}
}

func TestEncodeEvent_RoundTripsThroughEnvelope(t *testing.T) {
	t.Parallel()

	ev := CardEdited{
		Scope: Scope{MatchID: 12, ZoneID: 3, CategoryEditionID: 8},
		Card:  CardPayload{ID: 4, PlayerID: 9, TeamID: 2, Minute: 10, Type: CardRed},
	}

	raw, err := EncodeEvent(ev)
	require.NoError(t, err)

	got, err := DecodeEnvelope(raw)
	require.NoError(t, err)
	assert.Equal(t, MatchEvent(ev), got)
}

func TestWithScope_FillsGroupIDs(t *testing.T) {
	t.Parallel()

	ev := GoalAdded{Scope: Scope{MatchID: 7}, Goal: GoalPayload{PlayerID: 1, TeamID: 1}}
	scoped := WithScope(ev, Scope{MatchID: 7, ZoneID: 2, CategoryEditionID: 3})

	assert.Equal(t, Scope{MatchID: 7, ZoneID: 2, CategoryEditionID: 3}, scoped.EventScope())
	assert.Equal(t, Scope{MatchID: 7}, ev.EventScope())
	assert.Equal(t, []RoomKey{MatchRoom(7), ZoneRoom(2), CategoryEditionRoom(3)}, scoped.EventScope().Rooms())
}
