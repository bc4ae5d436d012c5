package domain

import (
	"strconv"
	"strings"
)

// Key is a hierarchical cache key. Every key is a descendant of its prefixes,
// so invalidating {"matches"} covers {"matches","detail","7"}.
type Key []string

// NewKey builds a key from segments
func NewKey(segments ...string) Key {
	return Key(segments)
}

// ParseKey splits the String form of a key
func ParseKey(s string) Key {
	if s == "" {
		return Key{}
	}
	return Key(strings.Split(s, ":"))
}

func (k Key) String() string {
	return strings.Join(k, ":")
}

// HasPrefix reports whether k equals prefix or descends from it.
// Comparison is per segment: {"matches","detail","70"} does not descend from
// {"matches","detail","7"}.
func (k Key) HasPrefix(prefix Key) bool {
	if len(prefix) > len(k) {
		return false
	}
	for i := range prefix {
		if k[i] != prefix[i] {
			return false
		}
	}
	return true
}

// Equal reports whether both keys have the same segments
func (k Key) Equal(other Key) bool {
	return len(k) == len(other) && k.HasPrefix(other)
}

func idSegment(v int64) string { return strconv.FormatInt(v, 10) }

const (
	segMatches           = "matches"
	segStandings         = "standings"
	segSanctions         = "sanctions"
	segDetail            = "detail"
	segEvents            = "events"
	segForPlayer         = "for-player"
	segByCategoryEdition = "by-category-edition"
	segPlayer            = "player"
)

// Families

func MatchesFamily() Key                { return Key{segMatches} }
func PlayerMatchesFamily() Key          { return Key{segMatches, segForPlayer} }
func CategoryEditionMatchesFamily() Key { return Key{segMatches, segByCategoryEdition} }
func StandingsFamily() Key              { return Key{segStandings} }
func SanctionsFamily() Key              { return Key{segSanctions} }

// Exact keys

func MatchDetailKey(matchID int64) Key { return Key{segMatches, segDetail, idSegment(matchID)} }
func MatchEventsKey(matchID int64) Key { return Key{segMatches, segEvents, idSegment(matchID)} }

func PlayerMatchesKey(kind PlayerMatchesKind, playerID int64) Key {
	return Key{segMatches, segForPlayer, string(kind), idSegment(playerID)}
}

func CategoryEditionMatchesKey(categoryEditionID int64) Key {
	return Key{segMatches, segByCategoryEdition, idSegment(categoryEditionID)}
}

func StandingsKey(group StandingsGroup) Key {
	return Key{segStandings, string(group.Kind), idSegment(group.ID)}
}

func SanctionsKey(playerID int64) Key {
	return Key{segSanctions, segPlayer, idSegment(playerID)}
}
