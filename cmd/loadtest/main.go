// cmd/loadtest/main.go
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/pflag"
	"golang.org/x/time/rate"

	"github.com/cmatc13/lumenpay/pkg/errors"
)

// Command line flags
var (
	duration    = pflag.Duration("duration", 30*time.Second, "Test duration")
	concurrency = pflag.Int("concurrency", 10, "Number of concurrent clients")
	targetRate  = pflag.Float64("rate", 5, "Target submissions per second")
	baseURL     = pflag.String("url", "http://localhost:5000", "Base URL of the payment API")
	destination = pflag.String("destination", "", "Destination account for the test payments")
	token       = pflag.String("token", "", "Bearer token when the API requires authentication")
)

// Stats collects outcome counters across workers
type Stats struct {
	successCount  uint64
	conflictCount uint64
	failureCount  uint64
	latencySum    uint64
	latencyCount  uint64
}

type sendResponse struct {
	Success bool   `json:"success"`
	Hash    string `json:"hash"`
	Error   string `json:"error"`
	Code    string `json:"code"`
}

func main() {
	pflag.Parse()

	if *destination == "" {
		fmt.Fprintln(os.Stderr, "--destination is required")
		os.Exit(2)
	}

	fmt.Printf("Load Test Configuration:\n")
	fmt.Printf("  Duration: %s\n", *duration)
	fmt.Printf("  Concurrency: %d\n", *concurrency)
	fmt.Printf("  Target rate: %.2f/s\n", *targetRate)
	fmt.Printf("  API: %s\n", *baseURL)
	fmt.Printf("  Destination: %s\n", *destination)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-signals
		fmt.Println("\nShutting down...")
		cancel()
	}()

	testCtx, testCancel := context.WithTimeout(ctx, *duration)
	defer testCancel()

	limiter := rate.NewLimiter(rate.Limit(*targetRate), *concurrency)
	client := &http.Client{Timeout: 60 * time.Second}
	stats := &Stats{}

	fmt.Printf("Starting load test for %s...\n", *duration)
	startTime := time.Now()

	var wg sync.WaitGroup
	for i := 0; i < *concurrency; i++ {
		wg.Add(1)
		go worker(testCtx, i, client, limiter, stats, &wg)
	}

	go report(testCtx, stats, startTime)

	<-testCtx.Done()
	wg.Wait()

	successCount := atomic.LoadUint64(&stats.successCount)
	conflictCount := atomic.LoadUint64(&stats.conflictCount)
	failureCount := atomic.LoadUint64(&stats.failureCount)
	totalCount := successCount + conflictCount + failureCount

	var avgLatency time.Duration
	if n := atomic.LoadUint64(&stats.latencyCount); n > 0 {
		avgLatency = time.Duration(atomic.LoadUint64(&stats.latencySum)/n) * time.Microsecond
	}
	elapsedSeconds := time.Since(startTime).Seconds()

	fmt.Printf("\n\nLoad Test Results:\n")
	fmt.Printf("  Test Duration: %.2f seconds\n", elapsedSeconds)
	fmt.Printf("  Total Submissions: %d\n", totalCount)
	fmt.Printf("  Accepted: %d (%.2f%%)\n", successCount, percent(successCount, totalCount))
	fmt.Printf("  Sequence Conflicts: %d (%.2f%%)\n", conflictCount, percent(conflictCount, totalCount))
	fmt.Printf("  Other Failures: %d (%.2f%%)\n", failureCount, percent(failureCount, totalCount))
	fmt.Printf("  Average Rate: %.2f/s\n", float64(totalCount)/elapsedSeconds)
	fmt.Printf("  Average Latency (accepted): %s\n", avgLatency)
}

func percent(n, total uint64) float64 {
	if total == 0 {
		return 0
	}
	return float64(n) / float64(total) * 100
}

func report(ctx context.Context, stats *Stats, startTime time.Time) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			successCount := atomic.LoadUint64(&stats.successCount)
			fmt.Printf("\rRate: %.2f/s, Accepted: %d, Conflicts: %d, Failures: %d",
				float64(successCount)/time.Since(startTime).Seconds(),
				successCount,
				atomic.LoadUint64(&stats.conflictCount),
				atomic.LoadUint64(&stats.failureCount))
		}
	}
}

// worker submits payments at the limiter's pace until ctx is done
func worker(ctx context.Context, id int, client *http.Client, limiter *rate.Limiter, stats *Stats, wg *sync.WaitGroup) {
	defer wg.Done()

	r := rand.New(rand.NewSource(time.Now().UnixNano() + int64(id)))

	for {
		if err := limiter.Wait(ctx); err != nil {
			return
		}

		amount := decimal.NewFromFloat(0.0000001 + 0.01*r.Float64()).Round(7).String()
		start := time.Now()
		resp, err := send(ctx, client, amount)
		if ctx.Err() != nil {
			return
		}

		switch {
		case err == nil && resp.Success:
			atomic.AddUint64(&stats.successCount, 1)
			atomic.AddUint64(&stats.latencySum, uint64(time.Since(start).Microseconds()))
			atomic.AddUint64(&stats.latencyCount, 1)
		case err == nil && resp.Code == errors.PaymentErrSubmissionRejected &&
			strings.Contains(resp.Error, errors.SequenceConflictCode):
			atomic.AddUint64(&stats.conflictCount, 1)
		default:
			atomic.AddUint64(&stats.failureCount, 1)
		}
	}
}

func send(ctx context.Context, client *http.Client, amount string) (*sendResponse, error) {
	body, err := json.Marshal(map[string]string{
		"destinationAccount": *destination,
		"amount":             amount,
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		strings.TrimRight(*baseURL, "/")+"/api/transaction/send", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if *token != "" {
		req.Header.Set("Authorization", "Bearer "+*token)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}
	var out sendResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("unexpected response (%d): %s", resp.StatusCode, raw)
	}
	return &out, nil
}
