package domain

import (
	"fmt"
	"strconv"
	"strings"
)

// RoomKind distinguishes the broadcast scopes a client can join
type RoomKind string

const (
	RoomMatch           RoomKind = "partido"
	RoomZone            RoomKind = "zona"
	RoomCategoryEdition RoomKind = "categoria_edicion"
)

// RoomKey identifies a room. The kind keeps equal ids of different kinds apart.
type RoomKey struct {
	Kind RoomKind
	ID   int64
}

func MatchRoom(matchID int64) RoomKey { return RoomKey{Kind: RoomMatch, ID: matchID} }
func ZoneRoom(zoneID int64) RoomKey   { return RoomKey{Kind: RoomZone, ID: zoneID} }

func CategoryEditionRoom(categoryEditionID int64) RoomKey {
	return RoomKey{Kind: RoomCategoryEdition, ID: categoryEditionID}
}

func (r RoomKey) String() string {
	return string(r.Kind) + ":" + strconv.FormatInt(r.ID, 10)
}

// Valid reports whether r names a known kind and a positive id
func (r RoomKey) Valid() bool {
	switch r.Kind {
	case RoomMatch, RoomZone, RoomCategoryEdition:
		return r.ID > 0
	}
	return false
}

// ParseRoomKey parses the String form of a room key
func ParseRoomKey(s string) (RoomKey, error) {
	kind, id, ok := strings.Cut(s, ":")
	if !ok {
		return RoomKey{}, fmt.Errorf("%w: %q", ErrInvalidRoom, s)
	}
	n, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		return RoomKey{}, fmt.Errorf("%w: %q", ErrInvalidRoom, s)
	}
	r := RoomKey{Kind: RoomKind(kind), ID: n}
	if !r.Valid() {
		return RoomKey{}, fmt.Errorf("%w: %q", ErrInvalidRoom, s)
	}
	return r, nil
}

// ControlType is the type of a client-to-server control frame
type ControlType string

const (
	ControlJoinMatch      ControlType = "join:partido"
	ControlLeaveMatch     ControlType = "leave:partido"
	ControlJoinStandings  ControlType = "join:posiciones"
	ControlLeaveStandings ControlType = "leave:posiciones"
	ControlPing           ControlType = "ping"
)

// Server replies to control frames. They share the envelope shape but carry no event.
const (
	ReplyJoined = "joined"
	ReplyLeft   = "left"
	ReplyPong   = "pong"
	ReplyError  = "error"
)

// IsControlReply reports whether an envelope type is a reply to a control frame
func IsControlReply(t string) bool {
	switch t {
	case ReplyJoined, ReplyLeft, ReplyPong, ReplyError:
		return true
	}
	return false
}

// CloseAuthExpired is the websocket close code sent when a connection's credential
// is no longer valid.
const CloseAuthExpired = 4401

// ControlFrame is the wire form of a join/leave request
type ControlFrame struct {
	Type              ControlType `json:"type"`
	MatchID           int64       `json:"id_partido,omitempty"`
	ZoneID            int64       `json:"id_zona,omitempty"`
	CategoryEditionID int64       `json:"id_categoria_edicion,omitempty"`
}

// JoinFrame builds the frame that subscribes to room
func JoinFrame(room RoomKey) ControlFrame {
	if room.Kind == RoomMatch {
		return ControlFrame{Type: ControlJoinMatch, MatchID: room.ID}
	}
	return standingsFrame(ControlJoinStandings, room)
}

// LeaveFrame builds the frame that unsubscribes from room
func LeaveFrame(room RoomKey) ControlFrame {
	if room.Kind == RoomMatch {
		return ControlFrame{Type: ControlLeaveMatch, MatchID: room.ID}
	}
	return standingsFrame(ControlLeaveStandings, room)
}

func standingsFrame(t ControlType, room RoomKey) ControlFrame {
	f := ControlFrame{Type: t}
	if room.Kind == RoomZone {
		f.ZoneID = room.ID
	} else {
		f.CategoryEditionID = room.ID
	}
	return f
}

// IsJoin reports whether the frame subscribes to a room
func (f ControlFrame) IsJoin() bool {
	return f.Type == ControlJoinMatch || f.Type == ControlJoinStandings
}

// Room resolves the room a join or leave frame refers to
func (f ControlFrame) Room() (RoomKey, error) {
	var room RoomKey
	switch f.Type {
	case ControlJoinMatch, ControlLeaveMatch:
		room = MatchRoom(f.MatchID)
	case ControlJoinStandings, ControlLeaveStandings:
		switch {
		case f.ZoneID > 0 && f.CategoryEditionID > 0:
			return RoomKey{}, fmt.Errorf("%w: %s names both id_zona and id_categoria_edicion", ErrInvalidRoom, f.Type)
		case f.ZoneID > 0:
			room = ZoneRoom(f.ZoneID)
		default:
			room = CategoryEditionRoom(f.CategoryEditionID)
		}
	default:
		return RoomKey{}, fmt.Errorf("%w: control type %q", ErrInvalidRoom, f.Type)
	}
	if !room.Valid() {
		return RoomKey{}, fmt.Errorf("%w: %s without id", ErrInvalidRoom, f.Type)
	}
	return room, nil
}
