package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// warningEvery sends one warning event per this many info events.
const warningEvery = 10

type target struct {
	url    string
	apiKey string
	client *http.Client
}

type counters struct {
	accepted atomic.Int64
	rejected atomic.Int64
	failed   atomic.Int64
}

func main() {
	targetURL := flag.String("url", "http://localhost:8080/events", "Events endpoint of the audit service")
	apiKey := flag.String("api-key", "", "API key sent in X-API-Key; empty sends anonymous requests")
	concurrency := flag.Int("c", 10, "Number of concurrent workers")
	duration := flag.Duration("d", 30*time.Second, "Duration of the load test")
	rps := flag.Int("rps", 1000, "Requests per second limit")
	burst := flag.Int("burst", 100, "Rate limiter burst size")
	flag.Parse()

	log.Printf("Driving %s with %d workers for %s at up to %d req/s", *targetURL, *concurrency, *duration, *rps)

	ctx, cancel := context.WithTimeout(context.Background(), *duration)
	defer cancel()

	limiter := rate.NewLimiter(rate.Limit(*rps), *burst)
	t := target{url: *targetURL, apiKey: *apiKey, client: &http.Client{Timeout: 5 * time.Second}}

	var c counters
	var wg sync.WaitGroup
	for i := 0; i < *concurrency; i++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			runWorker(ctx, worker, t, limiter, &c)
		}(i)
	}
	wg.Wait()

	total := c.accepted.Load() + c.rejected.Load() + c.failed.Load()
	log.Println("Load test finished.")
	log.Printf("Total requests:  %d (%.2f req/s)", total, float64(total)/duration.Seconds())
	log.Printf("202 Accepted:    %d", c.accepted.Load())
	log.Printf("Other statuses:  %d", c.rejected.Load())
	log.Printf("Transport errors: %d", c.failed.Load())
}

func runWorker(ctx context.Context, worker int, t target, limiter *rate.Limiter, c *counters) {
	for seq := 0; ; seq++ {
		if err := limiter.Wait(ctx); err != nil {
			return
		}

		status, err := t.send(ctx, eventBody(worker, seq))
		switch {
		case ctx.Err() != nil:
			return
		case err != nil:
			c.failed.Add(1)
		case status == http.StatusAccepted:
			c.accepted.Add(1)
		default:
			c.rejected.Add(1)
		}
	}
}

func eventBody(worker, seq int) string {
	level := "info"
	if seq%warningEvery == 0 {
		level = "warning"
	}
	return fmt.Sprintf(`{"level":%q,"message":"load test event %d from worker %d","detail":"sent at %s"}`,
		level, seq, worker, time.Now().Format(time.RFC3339Nano))
}

func (t target) send(ctx context.Context, body string) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.url, strings.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Correlation-ID", uuid.NewString())
	if t.apiKey != "" {
		req.Header.Set("X-API-Key", t.apiKey)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	return resp.StatusCode, nil
}
