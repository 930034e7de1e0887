package loadgen

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/okian/parley/pkg/logger"
)

// PercentageMultiplier converts ratios to percentages.
const PercentageMultiplier = 100

// Run executes a complete load run and returns its statistics.
func Run(ctx context.Context, cfg *Config) (*Stats, error) {
	stats := &Stats{StartTime: time.Now()}
	log := logger.Get()

	log.Info(ctx, "starting load run",
		logger.String("baseURL", cfg.BaseURL),
		logger.Int("events", cfg.Events),
		logger.Int("workers", cfg.Workers),
		logger.Duration("timeout", cfg.Timeout))

	client := newHTTPClient(cfg.BaseURL, cfg.Timeout)

	// Step 1: Check service health
	if err := checkServiceHealth(ctx, client); err != nil {
		return nil, fmt.Errorf("service health check failed: %w", err)
	}

	// Step 2: Generate events
	events := Generate(ctx, cfg)
	stats.Generated = len(events)

	// Step 3: Submit events concurrently
	submitEvents(ctx, cfg, client, events, stats)

	// Step 4: Let queued invocations finish
	if cfg.Wait > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(cfg.Wait):
		}
	}

	// Step 5: Read back state
	lookupEntities(ctx, cfg, client, stats)
	if _, err := client.get(ctx, "/stats", &stats.Service); err != nil {
		log.Warn(ctx, "failed to read stats", logger.Error(err))
	}

	stats.EndTime = time.Now()
	stats.Duration = stats.EndTime.Sub(stats.StartTime)
	displayFinalStats(ctx, stats)
	return stats, nil
}

// checkServiceHealth verifies the service is running.
func checkServiceHealth(ctx context.Context, client *HTTPClient) error {
	status, err := client.get(ctx, "/healthz", nil)
	if err != nil {
		return fmt.Errorf("failed to connect to service: %w", err)
	}
	if status != http.StatusOK {
		return fmt.Errorf("service health check failed with status: %d", status)
	}
	return nil
}

// displayFinalStats logs the final run statistics.
func displayFinalStats(ctx context.Context, stats *Stats) {
	var admitRate, eventsPerSecond float64
	if stats.Submitted > 0 {
		admitRate = float64(stats.Admitted) / float64(stats.Submitted) * PercentageMultiplier
	}
	if stats.Duration > 0 {
		eventsPerSecond = float64(stats.Submitted) / stats.Duration.Seconds()
	}

	logger.Get().Info(ctx, "final statistics",
		logger.Int("generated", stats.Generated),
		logger.Int("submitted", stats.Submitted),
		logger.Int("admitted", stats.Admitted),
		logger.Int("deferred", stats.Deferred),
		logger.Int("dropped", stats.Dropped),
		logger.Int("duplicate", stats.Duplicate),
		logger.Int("failed", stats.Failed),
		logger.Int("scheduled", stats.Scheduled),
		logger.Int("entitiesFound", stats.Found),
		logger.Int("entitiesMissing", stats.Missing),
		logger.Duration("duration", stats.Duration),
		logger.Float64("admitRate", admitRate),
		logger.Float64("eventsPerSecond", eventsPerSecond),
		logger.Any("service", stats.Service))
}
