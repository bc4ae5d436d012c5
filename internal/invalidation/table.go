package invalidation

import "github.com/liga-sync/internal/domain"

// TargetFunc resolves the cache keys an event makes stale
type TargetFunc func(ev domain.MatchEvent) []domain.Key

// Table maps each event discriminant to the families it touches
type Table map[domain.EventType]TargetFunc

// DefaultTable returns the mapping used by both the live client and the server cache
func DefaultTable() Table {
	return Table{
		domain.EventGoalAdded:         goalTargets,
		domain.EventGoalEdited:        goalTargets,
		domain.EventGoalRemoved:       goalTargets,
		domain.EventCardAdded:         cardTargets,
		domain.EventCardEdited:        cardTargets,
		domain.EventCardRemoved:       cardTargets,
		domain.EventMatchStateChanged: resultTargets,
		domain.EventMatchScoreChanged: resultTargets,
	}
}

// Targets returns the normalized targets for ev, or nil for an unmapped type
func (t Table) Targets(ev domain.MatchEvent) []domain.Key {
	fn, ok := t[ev.Type()]
	if !ok {
		return nil
	}
	return Normalize(fn(ev))
}

func goalTargets(ev domain.MatchEvent) []domain.Key {
	s := ev.EventScope()
	keys := []domain.Key{
		domain.MatchDetailKey(s.MatchID),
		domain.MatchEventsKey(s.MatchID),
		domain.PlayerMatchesFamily(),
	}
	return append(keys, standingsTargets(s)...)
}

func cardTargets(ev domain.MatchEvent) []domain.Key {
	s := ev.EventScope()
	return []domain.Key{
		domain.MatchDetailKey(s.MatchID),
		domain.MatchEventsKey(s.MatchID),
	}
}

// resultTargets covers state and score changes: every list a match appears in
// plus its points tables.
func resultTargets(ev domain.MatchEvent) []domain.Key {
	s := ev.EventScope()
	keys := []domain.Key{
		domain.MatchDetailKey(s.MatchID),
		domain.PlayerMatchesFamily(),
	}
	if s.CategoryEditionID > 0 {
		keys = append(keys, domain.CategoryEditionMatchesKey(s.CategoryEditionID))
	} else {
		keys = append(keys, domain.CategoryEditionMatchesFamily())
	}
	return append(keys, standingsTargets(s)...)
}

// standingsTargets falls back to the whole standings family when the event
// does not say which group the match belongs to.
func standingsTargets(s domain.Scope) []domain.Key {
	var keys []domain.Key
	if s.ZoneID > 0 {
		keys = append(keys, domain.StandingsKey(domain.ZoneGroup(s.ZoneID)))
	}
	if s.CategoryEditionID > 0 {
		keys = append(keys, domain.StandingsKey(domain.CategoryEditionGroup(s.CategoryEditionID)))
	}
	if len(keys) == 0 {
		keys = append(keys, domain.StandingsFamily())
	}
	return keys
}

// Normalize removes duplicates and keys already covered by a broader target,
// preserving the order of first appearance.
func Normalize(keys []domain.Key) []domain.Key {
	out := make([]domain.Key, 0, len(keys))
	for i, k := range keys {
		covered := false
		for j, other := range keys {
			if i == j {
				continue
			}
			if k.HasPrefix(other) && (len(other) < len(k) || j < i) {
				covered = true
				break
			}
		}
		if !covered {
			out = append(out, k)
		}
	}
	return out
}
