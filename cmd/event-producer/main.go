package main

import (
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/liga-sync/internal/domain"
	"github.com/liga-sync/internal/kafka"
)

// fixture is one simulated match
type fixture struct {
	scope domain.Scope
	home  int64
	away  int64
}

// playerOf returns a stable player id for a team slot
func playerOf(teamID int64, slot int) int64 {
	return teamID*100 + int64(slot)
}

// scenario builds the full event stream of one match: kick-off, incidents in
// minute order, the final whistle.
func scenario(f fixture, rng *rand.Rand) []domain.MatchEvent {
	type timed struct {
		minute int
		ev     domain.MatchEvent
	}
	var incidents []timed

	goals, cards := rng.Intn(6), rng.Intn(5)
	for i := 0; i < goals; i++ {
		team := f.home
		if rng.Intn(2) == 1 {
			team = f.away
		}
		minute := rng.Intn(90) + 1
		incidents = append(incidents, timed{minute, domain.GoalAdded{
			Scope: f.scope,
			Goal: domain.GoalPayload{
				PlayerID: playerOf(team, rng.Intn(11)+1),
				TeamID:   team,
				Minute:   minute,
				Penalty:  rng.Intn(10) == 0,
			},
		}})
	}

	for i := 0; i < cards; i++ {
		team := f.home
		if rng.Intn(2) == 1 {
			team = f.away
		}
		card := domain.CardYellow
		switch rng.Intn(12) {
		case 0:
			card = domain.CardRed
		case 1:
			card = domain.CardDoubleYellow
		}
		minute := rng.Intn(90) + 1
		incidents = append(incidents, timed{minute, domain.CardAdded{
			Scope: f.scope,
			Card: domain.CardPayload{
				PlayerID: playerOf(team, rng.Intn(11)+1),
				TeamID:   team,
				Minute:   minute,
				Type:     card,
			},
		}})
	}

	sort.SliceStable(incidents, func(i, j int) bool { return incidents[i].minute < incidents[j].minute })

	events := make([]domain.MatchEvent, 0, len(incidents)+2)
	events = append(events, domain.MatchStateChanged{
		Scope:        f.scope,
		StatePayload: domain.StatePayload{State: domain.MatchStateInProgress, HomeTeamID: f.home, AwayTeamID: f.away},
	})
	for _, inc := range incidents {
		events = append(events, inc.ev)
	}
	events = append(events, domain.MatchStateChanged{
		Scope:        f.scope,
		StatePayload: domain.StatePayload{State: domain.MatchStateFinished, HomeTeamID: f.home, AwayTeamID: f.away},
	})
	return events
}

func main() {
	brokers := flag.String("brokers", "localhost:9094", "Kafka brokers (comma-separated)")
	topic := flag.String("topic", "match-events", "Kafka topic")
	firstMatch := flag.Int64("match", 1, "First match id of the round")
	matches := flag.Int("matches", 4, "Number of matches in the round")
	zoneID := flag.Int64("zone", 1, "Zone id of the round")
	categoryEditionID := flag.Int64("category-edition", 1, "Category edition id of the round")
	interval := flag.Duration("interval", 500*time.Millisecond, "Delay between events")
	seed := flag.Int64("seed", time.Now().UnixNano(), "Random seed for the scenario")
	flag.Parse()

	fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Println("  Match event producer")
	fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Printf("  Brokers:          %s\n", *brokers)
	fmt.Printf("  Topic:            %s\n", *topic)
	fmt.Printf("  Matches:          %d (from id %d)\n", *matches, *firstMatch)
	fmt.Printf("  Zone / edition:   %d / %d\n", *zoneID, *categoryEditionID)
	fmt.Printf("  Seed:             %d\n", *seed)
	fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")

	publisher, err := kafka.NewPublisher(strings.Split(*brokers, ","), *topic)
	if err != nil {
		log.Fatalf("Failed to create producer: %v", err)
	}
	defer publisher.Close()

	rng := rand.New(rand.NewSource(*seed))

	// Matches run concurrently, so their streams are interleaved round-robin
	var streams [][]domain.MatchEvent
	for i := 0; i < *matches; i++ {
		home := int64(2*i + 1)
		streams = append(streams, scenario(fixture{
			scope: domain.Scope{MatchID: *firstMatch + int64(i), ZoneID: *zoneID, CategoryEditionID: *categoryEditionID},
			home:  home,
			away:  home + 1,
		}, rng))
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	ticker := time.NewTicker(*interval)
	defer ticker.Stop()

	var sent, failed int
	for next := 0; ; next++ {
		var ev domain.MatchEvent
		for i := range streams {
			s := streams[(next+i)%len(streams)]
			if len(s) > 0 {
				ev = s[0]
				streams[(next+i)%len(streams)] = s[1:]
				break
			}
		}
		if ev == nil {
			break
		}

		select {
		case <-sigChan:
			fmt.Printf("\nInterrupted. Sent: %d, Errors: %d\n", sent, failed)
			return
		case <-ticker.C:
		}

		if err := publisher.Publish(ev); err != nil {
			failed++
			log.Printf("Producer error: %v", err)
			continue
		}
		sent++
		fmt.Printf("[%s] match %d  %s\n", time.Now().Format("15:04:05"), ev.EventScope().MatchID, ev.Type())
	}

	fmt.Printf("\nRound complete. Sent: %d, Errors: %d\n", sent, failed)
}
