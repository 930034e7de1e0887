package loadgen

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/okian/parley/pkg/logger"
)

// HTTPClient wraps http.Client with the base URL of the bot.
type HTTPClient struct {
	client *http.Client
	base   string
}

func newHTTPClient(base string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{client: &http.Client{Timeout: timeout}, base: base}
}

func (c *HTTPClient) get(ctx context.Context, path string, v any) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+path, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to create request: %w", err)
	}
	return c.do(req, v)
}

func (c *HTTPClient) post(ctx context.Context, path string, body, v any) (int, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal request body: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+path, bytes.NewReader(data))
	if err != nil {
		return 0, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, v)
}

// do sends req and decodes the body into v when v is not nil.
func (c *HTTPClient) do(req *http.Request, v any) (int, error) {
	resp, err := c.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer func() { _ = resp.Body.Close() }()
	if v == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return resp.StatusCode, nil
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return resp.StatusCode, fmt.Errorf("failed to decode response: %w", err)
	}
	return resp.StatusCode, nil
}

// ack is the subset of the /events response the tally needs.
type ack struct {
	Decision  string `json:"decision"`
	Duplicate bool   `json:"duplicate"`
	Scheduled int    `json:"scheduled"`
}

type outcome uint8

const (
	outcomeFailed outcome = iota
	outcomeAdmitted
	outcomeDeferred
	outcomeDropped
	outcomeDuplicate
)

// submitEvents posts events in order from cfg.Workers goroutines.
func submitEvents(ctx context.Context, cfg *Config, client *HTTPClient, events []Event, stats *Stats) {
	log := logger.Get()
	log.Info(ctx, "submitting events", logger.Int("events", len(events)), logger.Int("workers", cfg.Workers))

	var counts [outcomeDuplicate + 1]atomic.Int64
	var scheduled, submitted atomic.Int64

	work := make(chan Event, cfg.Workers*2)
	var wg sync.WaitGroup
	for i := 0; i < max(cfg.Workers, 1); i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for ev := range work {
				var a ack
				status, err := client.post(ctx, "/events", ev, &a)
				submitted.Add(1)
				o := classify(status, a, err)
				counts[o].Add(1)
				scheduled.Add(int64(a.Scheduled))
				if o == outcomeFailed && cfg.Verbose {
					log.Warn(ctx, "event failed", logger.String("id", ev.ID), logger.Int("status", status), logger.Error(err))
				}
			}
		}()
	}

feed:
	for _, ev := range events {
		select {
		case <-ctx.Done():
			break feed
		case work <- ev:
		}
	}
	close(work)
	wg.Wait()

	stats.Submitted = int(submitted.Load())
	stats.Admitted = int(counts[outcomeAdmitted].Load())
	stats.Deferred = int(counts[outcomeDeferred].Load())
	stats.Dropped = int(counts[outcomeDropped].Load())
	stats.Duplicate = int(counts[outcomeDuplicate].Load())
	stats.Failed = int(counts[outcomeFailed].Load())
	stats.Scheduled = int(scheduled.Load())
}

func classify(status int, a ack, err error) outcome {
	switch {
	case err != nil:
		return outcomeFailed
	case status == http.StatusOK && a.Duplicate:
		return outcomeDuplicate
	case status == http.StatusAccepted && a.Decision == "admit":
		return outcomeAdmitted
	case status == http.StatusAccepted && a.Decision == "defer":
		return outcomeDeferred
	case status == http.StatusTooManyRequests:
		return outcomeDropped
	default:
		return outcomeFailed
	}
}

// lookupEntities reads back the first n users of the stream.
func lookupEntities(ctx context.Context, cfg *Config, client *HTTPClient, stats *Stats) {
	for i := 0; i < min(cfg.Lookups, cfg.Users); i++ {
		status, err := client.get(ctx, "/entities/"+url.PathEscape(Nick(i)), nil)
		switch {
		case err == nil && status == http.StatusOK:
			stats.Found++
		default:
			stats.Missing++
		}
	}
}
