// Package loadgen drives a running bot through its HTTP API: it posts a
// synthetic chat stream to /events, tallies the admission decisions and
// reads back entity state and stats.
package loadgen

import (
	"time"

	"github.com/okian/parley/internal/domain/model"
)

// Config holds configuration for a load run.
type Config struct {
	BaseURL  string        // Base URL of the service
	Events   int           // Number of events to generate
	Users    int           // Distinct nicks in the stream
	Targets  int           // Distinct channels in the stream
	Workers  int           // Concurrent submitters
	Timeout  time.Duration // HTTP request timeout
	Commands float64       // Share of messages that are commands
	Replays  float64       // Share of events re-posted with a used id
	Lookups  int           // Entities read back after the run
	Seed     uint64        // Generator seed; equal seeds give equal streams
	Prefix   string        // Command prefix of the bot
	Wait     time.Duration // Pause before reading back state
	Verbose  bool          // Log every failure
}

// Event is the wire shape posted to /events.
type Event = model.Event

// Stats holds run statistics.
type Stats struct {
	Generated int
	Submitted int
	Admitted  int
	Deferred  int
	Dropped   int
	Duplicate int
	Failed    int
	Scheduled int
	Found     int
	Missing   int
	Service   map[string]any
	StartTime time.Time
	EndTime   time.Time
	Duration  time.Duration
}
