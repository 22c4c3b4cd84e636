package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"time"

	"github.com/google/uuid"
)

type event struct {
	ID                  string    `json:"id"`
	Timestamp           time.Time `json:"timestamp"`
	SubstationID        string    `json:"substationId"`
	CircuitID           string    `json:"circuitId"`
	MeterID             string    `json:"meterId"`
	EventType           string    `json:"eventType"`
	Severity            string    `json:"severity"`
	DurationMs          float64   `json:"durationMs"`
	Magnitude           float64   `json:"magnitude"`
	RemainingVoltagePct float64   `json:"remainingVoltagePct"`
	AffectedPhases      []string  `json:"affectedPhases"`
	FalseEvent          bool      `json:"falseEvent"`
}

var (
	substations = []string{"SS-NORTH", "SS-EAST", "SS-HARBOUR"}
	eventTypes  = []string{"voltage_sag", "voltage_swell", "interruption", "transient"}
	phases      = [][]string{{"A"}, {"B"}, {"C"}, {"A", "B"}, {"A", "B", "C"}}
)

func main() {
	target := flag.String("target", "http://localhost:8080", "Engine base URL")
	bursts := flag.Int("bursts", 5, "Disturbance bursts to send")
	group := flag.Bool("group", true, "Run automatic grouping after the feed")
	flag.Parse()

	logger := log.New(log.Writer(), "meter-feed ", log.LstdFlags|log.Lmicroseconds)
	client := &http.Client{Timeout: 10 * time.Second}
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))

	start := time.Now().UTC().Add(-time.Hour)
	var events []event
	for i := 0; i < *bursts; i++ {
		events = append(events, burst(rng, start.Add(time.Duration(i)*10*time.Minute))...)
	}

	if err := post(client, *target+"/api/v1/events", map[string]any{"events": events}); err != nil {
		logger.Fatalf("import failed: %v", err)
	}
	logger.Printf("sent %d events in %d bursts", len(events), *bursts)

	if !*group {
		return
	}
	if err := post(client, *target+"/api/v1/groups/automatic", map[string]any{}); err != nil {
		logger.Fatalf("automatic grouping failed: %v", err)
	}
	logger.Println("automatic grouping requested")
}

// burst simulates one fault seen by several meters on the same substation within
// a few seconds, plus the odd short glitch that operators later mark false.
func burst(rng *rand.Rand, at time.Time) []event {
	substation := substations[rng.Intn(len(substations))]
	eventType := eventTypes[rng.Intn(len(eventTypes))]
	count := 2 + rng.Intn(4)

	out := make([]event, 0, count)
	for i := 0; i < count; i++ {
		duration := 20 + rng.Float64()*400
		glitch := rng.Intn(5) == 0
		if glitch {
			duration = 2 + rng.Float64()*8
		}
		out = append(out, event{
			ID:                  uuid.NewString(),
			Timestamp:           at.Add(time.Duration(rng.Intn(4000)) * time.Millisecond),
			SubstationID:        substation,
			CircuitID:           fmt.Sprintf("CIR-%02d", 1+rng.Intn(6)),
			MeterID:             fmt.Sprintf("MTR-%04d", rng.Intn(10000)),
			EventType:           eventType,
			Severity:            severity(duration),
			DurationMs:          duration,
			Magnitude:           0.4 + rng.Float64()*0.8,
			RemainingVoltagePct: 40 + rng.Float64()*55,
			AffectedPhases:      phases[rng.Intn(len(phases))],
			FalseEvent:          glitch,
		})
	}
	return out
}

func severity(durationMs float64) string {
	switch {
	case durationMs >= 300:
		return "high"
	case durationMs >= 50:
		return "medium"
	default:
		return "low"
	}
}

func post(client *http.Client, url string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	resp, err := client.Post(url, "application/json", bytes.NewReader(body))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("%s returned %s", url, resp.Status)
	}
	return nil
}
