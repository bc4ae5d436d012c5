package domain

import (
	"encoding/json"
	"fmt"

	"github.com/bytedance/sonic"
)

// EventType is the routing discriminant of an inbound envelope
type EventType string

const (
	EventGoalAdded         EventType = "goal:added"
	EventGoalEdited        EventType = "goal:edited"
	EventGoalRemoved       EventType = "goal:removed"
	EventCardAdded         EventType = "card:added"
	EventCardEdited        EventType = "card:edited"
	EventCardRemoved       EventType = "card:removed"
	EventMatchStateChanged EventType = "match:state-changed"
	EventMatchScoreChanged EventType = "match:score-changed"
)

// EventTypes lists every match event discriminant
var EventTypes = []EventType{
	EventGoalAdded, EventGoalEdited, EventGoalRemoved,
	EventCardAdded, EventCardEdited, EventCardRemoved,
	EventMatchStateChanged, EventMatchScoreChanged,
}

// Valid reports whether t is a known match event discriminant
func (t EventType) Valid() bool {
	for _, known := range EventTypes {
		if t == known {
			return true
		}
	}
	return false
}

// CardType is the colour of a disciplinary card
type CardType string

const (
	CardYellow       CardType = "yellow"
	CardRed          CardType = "red"
	CardDoubleYellow CardType = "double-yellow"
)

// Valid reports whether c is a known card type
func (c CardType) Valid() bool {
	return c == CardYellow || c == CardRed || c == CardDoubleYellow
}

// Scope carries the ids an event is routed by
type Scope struct {
	MatchID           int64 `json:"id_partido"`
	ZoneID            int64 `json:"id_zona,omitempty"`
	CategoryEditionID int64 `json:"id_categoria_edicion,omitempty"`
}

// EventScope returns the scope itself so variants embedding it satisfy MatchEvent
func (s Scope) EventScope() Scope { return s }

// Rooms returns every room an event with this scope is relevant to
func (s Scope) Rooms() []RoomKey {
	rooms := make([]RoomKey, 0, 3)
	if s.MatchID > 0 {
		rooms = append(rooms, MatchRoom(s.MatchID))
	}
	if s.ZoneID > 0 {
		rooms = append(rooms, ZoneRoom(s.ZoneID))
	}
	if s.CategoryEditionID > 0 {
		rooms = append(rooms, CategoryEditionRoom(s.CategoryEditionID))
	}
	return rooms
}

// MatchEvent is the closed set of events propagated for a match.
// Only the variants declared in this package implement it.
type MatchEvent interface {
	Type() EventType
	EventScope() Scope
	payload() any
	withScope(Scope) MatchEvent
}

// GoalPayload describes a goal
type GoalPayload struct {
	ID       int64 `json:"id_gol"`
	PlayerID int64 `json:"id_jugador"`
	TeamID   int64 `json:"id_equipo"`
	Minute   int   `json:"minuto"`
	OwnGoal  bool  `json:"en_contra,omitempty"`
	Penalty  bool  `json:"penal,omitempty"`
}

// CardPayload describes a card. PreviousPlayerID is set on applied edits that
// moved the card to another player.
type CardPayload struct {
	ID               int64    `json:"id_tarjeta"`
	PlayerID         int64    `json:"id_jugador"`
	TeamID           int64    `json:"id_equipo"`
	Minute           int      `json:"minuto"`
	Type             CardType `json:"tipo"`
	PreviousPlayerID int64    `json:"id_jugador_anterior,omitempty"`
}

// StatePayload describes a lifecycle transition
type StatePayload struct {
	State      MatchState `json:"estado"`
	HomeTeamID int64      `json:"id_equipo_local,omitempty"`
	AwayTeamID int64      `json:"id_equipo_visita,omitempty"`
}

// ScorePayload carries the new score pair
type ScorePayload struct {
	HomeGoals int `json:"goles_local"`
	AwayGoals int `json:"goles_visita"`
}

type GoalAdded struct {
	Scope
	Goal GoalPayload
}

type GoalEdited struct {
	Scope
	Goal GoalPayload
}

type GoalRemoved struct {
	Scope
	Goal GoalPayload
}

type CardAdded struct {
	Scope
	Card CardPayload
}

type CardEdited struct {
	Scope
	Card CardPayload
}

type CardRemoved struct {
	Scope
	Card CardPayload
}

type MatchStateChanged struct {
	Scope
	StatePayload
}

type MatchScoreChanged struct {
	Scope
	ScorePayload
}

func (GoalAdded) Type() EventType         { return EventGoalAdded }
func (GoalEdited) Type() EventType        { return EventGoalEdited }
func (GoalRemoved) Type() EventType       { return EventGoalRemoved }
func (CardAdded) Type() EventType         { return EventCardAdded }
func (CardEdited) Type() EventType        { return EventCardEdited }
func (CardRemoved) Type() EventType       { return EventCardRemoved }
func (MatchStateChanged) Type() EventType { return EventMatchStateChanged }
func (MatchScoreChanged) Type() EventType { return EventMatchScoreChanged }

func (e GoalAdded) payload() any         { return e.Goal }
func (e GoalEdited) payload() any        { return e.Goal }
func (e GoalRemoved) payload() any       { return e.Goal }
func (e CardAdded) payload() any         { return e.Card }
func (e CardEdited) payload() any        { return e.Card }
func (e CardRemoved) payload() any       { return e.Card }
func (e MatchStateChanged) payload() any { return e.StatePayload }
func (e MatchScoreChanged) payload() any { return e.ScorePayload }

func (e GoalAdded) withScope(s Scope) MatchEvent         { e.Scope = s; return e }
func (e GoalEdited) withScope(s Scope) MatchEvent        { e.Scope = s; return e }
func (e GoalRemoved) withScope(s Scope) MatchEvent       { e.Scope = s; return e }
func (e CardAdded) withScope(s Scope) MatchEvent         { e.Scope = s; return e }
func (e CardEdited) withScope(s Scope) MatchEvent        { e.Scope = s; return e }
func (e CardRemoved) withScope(s Scope) MatchEvent       { e.Scope = s; return e }
func (e MatchStateChanged) withScope(s Scope) MatchEvent { e.Scope = s; return e }
func (e MatchScoreChanged) withScope(s Scope) MatchEvent { e.Scope = s; return e }

// WithScope returns a copy of ev routed by s
func WithScope(ev MatchEvent, s Scope) MatchEvent {
	return ev.withScope(s)
}

// Envelope is the wire form of a match event
type Envelope struct {
	Type              EventType       `json:"type"`
	MatchID           int64           `json:"id_partido,omitempty"`
	ZoneID            int64           `json:"id_zona,omitempty"`
	CategoryEditionID int64           `json:"id_categoria_edicion,omitempty"`
	Payload           json.RawMessage `json:"payload,omitempty"`
	Message           string          `json:"message,omitempty"`
}

// EncodeEvent serializes an event into its envelope form
func EncodeEvent(ev MatchEvent) ([]byte, error) {
	payload, err := sonic.Marshal(ev.payload())
	if err != nil {
		return nil, fmt.Errorf("encoding %s payload: %w", ev.Type(), err)
	}
	scope := ev.EventScope()
	return sonic.Marshal(Envelope{
		Type:              ev.Type(),
		MatchID:           scope.MatchID,
		ZoneID:            scope.ZoneID,
		CategoryEditionID: scope.CategoryEditionID,
		Payload:           payload,
	})
}

// DecodeEnvelope parses and validates an inbound frame.
// Control replies yield ErrControlReply; everything else that fails is ErrMalformedEvent
// or ErrUnknownEventType.
func DecodeEnvelope(data []byte) (MatchEvent, error) {
	var env Envelope
	if err := sonic.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	if IsControlReply(string(env.Type)) {
		return nil, ErrControlReply
	}
	if !env.Type.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownEventType, env.Type)
	}
	if env.MatchID <= 0 {
		return nil, fmt.Errorf("%w: %s without id_partido", ErrMalformedEvent, env.Type)
	}
	if env.ZoneID < 0 || env.CategoryEditionID < 0 {
		return nil, fmt.Errorf("%w: negative group id", ErrMalformedEvent)
	}
	if len(env.Payload) == 0 {
		return nil, fmt.Errorf("%w: %s without payload", ErrMalformedEvent, env.Type)
	}
	scope := Scope{MatchID: env.MatchID, ZoneID: env.ZoneID, CategoryEditionID: env.CategoryEditionID}

	switch env.Type {
	case EventGoalAdded, EventGoalEdited, EventGoalRemoved:
		var goal GoalPayload
		if err := decodePayload(env, &goal); err != nil {
			return nil, err
		}
		if err := validateGoal(env.Type, goal); err != nil {
			return nil, err
		}
		switch env.Type {
		case EventGoalAdded:
			return GoalAdded{Scope: scope, Goal: goal}, nil
		case EventGoalEdited:
			return GoalEdited{Scope: scope, Goal: goal}, nil
		default:
			return GoalRemoved{Scope: scope, Goal: goal}, nil
		}

	case EventCardAdded, EventCardEdited, EventCardRemoved:
		var card CardPayload
		if err := decodePayload(env, &card); err != nil {
			return nil, err
		}
		if err := validateCard(env.Type, card); err != nil {
			return nil, err
		}
		switch env.Type {
		case EventCardAdded:
			return CardAdded{Scope: scope, Card: card}, nil
		case EventCardEdited:
			return CardEdited{Scope: scope, Card: card}, nil
		default:
			return CardRemoved{Scope: scope, Card: card}, nil
		}

	case EventMatchStateChanged:
		var state StatePayload
		if err := decodePayload(env, &state); err != nil {
			return nil, err
		}
		if !state.State.Valid() {
			return nil, fmt.Errorf("%w: unknown state %q", ErrMalformedEvent, state.State)
		}
		return MatchStateChanged{Scope: scope, StatePayload: state}, nil

	default:
		var score ScorePayload
		if err := decodePayload(env, &score); err != nil {
			return nil, err
		}
		if score.HomeGoals < 0 || score.AwayGoals < 0 {
			return nil, fmt.Errorf("%w: negative score", ErrMalformedEvent)
		}
		return MatchScoreChanged{Scope: scope, ScorePayload: score}, nil
	}
}

func decodePayload(env Envelope, v any) error {
	if err := sonic.Unmarshal(env.Payload, v); err != nil {
		return fmt.Errorf("%w: %s payload: %v", ErrMalformedEvent, env.Type, err)
	}
	return nil
}

func validateGoal(t EventType, g GoalPayload) error {
	if t != EventGoalAdded && g.ID <= 0 {
		return fmt.Errorf("%w: %s without id_gol", ErrMalformedEvent, t)
	}
	if t != EventGoalRemoved && (g.PlayerID <= 0 || g.TeamID <= 0) {
		return fmt.Errorf("%w: %s without player or team", ErrMalformedEvent, t)
	}
	if g.Minute < 0 {
		return fmt.Errorf("%w: negative minute", ErrMalformedEvent)
	}
	return nil
}

func validateCard(t EventType, c CardPayload) error {
	if t != EventCardAdded && c.ID <= 0 {
		return fmt.Errorf("%w: %s without id_tarjeta", ErrMalformedEvent, t)
	}
	if t != EventCardRemoved {
		if c.PlayerID <= 0 || c.TeamID <= 0 {
			return fmt.Errorf("%w: %s without player or team", ErrMalformedEvent, t)
		}
		if !c.Type.Valid() {
			return fmt.Errorf("%w: unknown card type %q", ErrMalformedEvent, c.Type)
		}
	}
	if c.Minute < 0 {
		return fmt.Errorf("%w: negative minute", ErrMalformedEvent)
	}
	return nil
}
