// Loadtest sends concurrent requests through the router and reports how
// they were spread over the pool, using the X-Instance-Name header each
// blackjack instance sets.
//
// Usage:
//
//	go run ./scripts/loadtest --url http://localhost:8080/game/state/room-1 --requests 300
//	go run ./scripts/loadtest --url http://localhost:8080/game/start/room-1 --method POST --out summary.json
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const unknownInstance = "(unknown)"

type sample struct {
	instance string
	status   int
	duration time.Duration
	err      error
}

type InstanceSummary struct {
	Count int     `json:"count"`
	Share float64 `json:"share"`
	P50   float64 `json:"p50_ms"`
	P95   float64 `json:"p95_ms"`
	P99   float64 `json:"p99_ms"`
}

type Summary struct {
	Target      string                     `json:"target"`
	Requests    int                        `json:"requests"`
	Concurrency int                        `json:"concurrency"`
	Success     int                        `json:"success"`
	Failure     int                        `json:"failure"`
	DurationMS  int64                      `json:"duration_ms"`
	Throughput  float64                    `json:"throughput_rps"`
	StatusCodes map[int]int                `json:"status_codes"`
	Instances   map[string]InstanceSummary `json:"instances"`
	// MaxSkew is the largest distance of any instance's share from an even
	// split, as a fraction of all answered requests.
	MaxSkew     float64                    `json:"max_skew"`
}

type options struct {
	url         string
	method      string
	body        string
	contentType string
	concurrency int
	requests    int
	timeout     time.Duration
	out         string
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var opts options

	cmd := &cobra.Command{
		Use:          "loadtest",
		Short:        "Measure request distribution across pool instances",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			summary, err := run(cmd.Context(), opts)
			if err != nil {
				return err
			}

			printSummary(cmd.OutOrStdout(), summary)

			if opts.out != "" {
				if err := writeJSON(opts.out, summary); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "\nWrote JSON summary to %s\n", opts.out)
			}

			if summary.Failure > 0 {
				return fmt.Errorf("%d of %d requests failed", summary.Failure, summary.Requests)
			}
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.url, "url", "http://localhost:8080/game", "target URL")
	f.StringVar(&opts.method, "method", http.MethodGet, "HTTP method")
	f.StringVar(&opts.body, "body", "", "request body")
	f.StringVar(&opts.contentType, "content-type", "application/json", "Content-Type header when a body is sent")
	f.IntVar(&opts.concurrency, "concurrency", 10, "number of concurrent workers")
	f.IntVar(&opts.requests, "requests", 100, "total number of requests to send")
	f.DurationVar(&opts.timeout, "timeout", 10*time.Second, "per-request timeout")
	f.StringVar(&opts.out, "out", "", "write JSON summary to this file")
	cmd.SetContext(context.Background())

	return cmd
}

func run(ctx context.Context, opts options) (Summary, error) {
	if opts.concurrency < 1 || opts.requests < 1 {
		return Summary{}, fmt.Errorf("concurrency and requests must be positive")
	}

	client := &http.Client{Timeout: opts.timeout}

	var (
		mutex   sync.Mutex
		samples = make([]sample, 0, opts.requests)
	)

	group, gctx := errgroup.WithContext(ctx)
	group.SetLimit(opts.concurrency)

	start := time.Now()
	for range opts.requests {
		group.Go(func() error {
			s := send(gctx, client, opts)
			mutex.Lock()
			samples = append(samples, s)
			mutex.Unlock()
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return Summary{}, err
	}

	summary := summarize(samples, time.Since(start))
	summary.Target = opts.url
	summary.Concurrency = opts.concurrency
	return summary, nil
}

func send(ctx context.Context, client *http.Client, opts options) sample {
	var body io.Reader
	if opts.body != "" {
		body = strings.NewReader(opts.body)
	}

	req, err := http.NewRequestWithContext(ctx, opts.method, opts.url, body)
	if err != nil {
		return sample{err: err}
	}
	if body != nil {
		req.Header.Set("Content-Type", opts.contentType)
	}

	start := time.Now()
	resp, err := client.Do(req)
	if err != nil {
		return sample{err: err, duration: time.Since(start)}
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	name := resp.Header.Get("X-Instance-Name")
	if name == "" {
		name = unknownInstance
	}

	return sample{instance: name, status: resp.StatusCode, duration: time.Since(start)}
}

func summarize(samples []sample, elapsed time.Duration) Summary {
	s := Summary{
		Requests:    len(samples),
		DurationMS:  elapsed.Milliseconds(),
		StatusCodes: make(map[int]int),
		Instances:   make(map[string]InstanceSummary),
	}
	if elapsed > 0 {
		s.Throughput = float64(len(samples)) / elapsed.Seconds()
	}

	latencies := make(map[string][]time.Duration)
	answered := 0
	for _, smp := range samples {
		if smp.err != nil {
			s.Failure++
			continue
		}

		s.StatusCodes[smp.status]++
		if smp.status >= 200 && smp.status <= 299 {
			s.Success++
		} else {
			s.Failure++
		}

		answered++
		latencies[smp.instance] = append(latencies[smp.instance], smp.duration)
	}

	if answered == 0 {
		return s
	}

	even := 1 / float64(len(latencies))
	for name, lat := range latencies {
		sort.Slice(lat, func(i, j int) bool { return lat[i] < lat[j] })

		share := float64(len(lat)) / float64(answered)
		s.Instances[name] = InstanceSummary{
			Count: len(lat),
			Share: share,
			P50:   percentileMS(lat, 0.50),
			P95:   percentileMS(lat, 0.95),
			P99:   percentileMS(lat, 0.99),
		}

		skew := share - even
		if skew < 0 {
			skew = -skew
		}
		s.MaxSkew = max(s.MaxSkew, skew)
	}

	return s
}

func percentileMS(sorted []time.Duration, p float64) float64 {
	idx := int(float64(len(sorted)-1) * p)
	return float64(sorted[idx].Microseconds()) / 1000
}

func printSummary(w io.Writer, s Summary) {
	fmt.Fprintln(w, "--- Load Test Summary ---")
	fmt.Fprintf(w, "Target: %s\n", s.Target)
	fmt.Fprintf(w, "Requests: %d  Concurrency: %d\n", s.Requests, s.Concurrency)
	fmt.Fprintf(w, "Success: %d  Failure: %d\n", s.Success, s.Failure)
	fmt.Fprintf(w, "Duration: %dms  Throughput: %.2f req/s\n", s.DurationMS, s.Throughput)

	fmt.Fprintln(w, "\nStatus codes:")
	codes := make([]int, 0, len(s.StatusCodes))
	for code := range s.StatusCodes {
		codes = append(codes, code)
	}
	sort.Ints(codes)
	for _, code := range codes {
		fmt.Fprintf(w, "  %d -> %d\n", code, s.StatusCodes[code])
	}

	fmt.Fprintln(w, "\nInstance distribution:")
	names := make([]string, 0, len(s.Instances))
	for name := range s.Instances {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		in := s.Instances[name]
		fmt.Fprintf(w, "  %s -> %d (%.1f%%) p50=%.2fms p95=%.2fms p99=%.2fms\n",
			name, in.Count, in.Share*100, in.P50, in.P95, in.P99)
	}
	fmt.Fprintf(w, "\nMax skew from an even split: %.1f%%\n", s.MaxSkew*100)
}

func writeJSON(path string, s Summary) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(s)
}
