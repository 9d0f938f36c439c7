package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

// Config holds the benchmark settings
var (
	targetURL   string
	concurrency int
	duration    time.Duration
	workload    string
	settle      bool
)

// Metrics
var (
	totalRequests uint64
	success200    uint64 // Idempotent replays
	success201    uint64 // Created
	settled       uint64 // Reached POSTED
	fail4xx       uint64
	failOther     uint64
)

func init() {
	flag.StringVar(&targetURL, "url", "http://localhost:8080", "API Base URL")
	flag.IntVar(&concurrency, "workers", 10, "Number of concurrent workers")
	flag.DurationVar(&duration, "duration", 30*time.Second, "Test duration")
	flag.StringVar(&workload, "workload", "uniform", "Workload type: uniform | hotspot")
	flag.BoolVar(&settle, "settle", false, "Drive each transfer through authorize and post")
}

func main() {
	flag.Parse()
	log.Printf("Starting Benchmark: %s | Workers: %d | Duration: %s | Settle: %v",
		workload, concurrency, duration, settle)

	start := time.Now()
	var wg sync.WaitGroup
	wg.Add(concurrency)

	for i := 0; i < concurrency; i++ {
		go worker(&wg, start)
	}

	wg.Wait()
	printResults(time.Since(start))
}

func worker(wg *sync.WaitGroup, start time.Time) {
	defer wg.Done()
	client := &http.Client{Timeout: 5 * time.Second}

	for time.Since(start) < duration {
		source, destination := generateAccounts()

		key := fmt.Sprintf("bench-%d-%d-%d", source, destination, time.Now().UnixNano())
		payload := map[string]interface{}{
			"source_account_id":      source,
			"destination_account_id": destination,
			"amount":                 "1.00",
			"description":            "benchmark",
		}
		body, _ := json.Marshal(payload)

		req, _ := http.NewRequest("POST", targetURL+"/api/v1/transfers", bytes.NewBuffer(body))
		setHeaders(req)
		req.Header.Set("Idempotency-Key", key)

		resp, err := client.Do(req)
		if err != nil {
			atomic.AddUint64(&failOther, 1)
			continue
		}

		atomic.AddUint64(&totalRequests, 1)
		var transferID int64
		switch resp.StatusCode {
		case 201:
			atomic.AddUint64(&success201, 1)
			var result struct {
				TransferID int64 `json:"transfer_id"`
			}
			json.NewDecoder(resp.Body).Decode(&result)
			transferID = result.TransferID
		case 200:
			atomic.AddUint64(&success200, 1)
		case 403, 404, 409, 422:
			atomic.AddUint64(&fail4xx, 1)
		default:
			atomic.AddUint64(&failOther, 1)
		}
		resp.Body.Close()

		if settle && transferID > 0 {
			if transition(client, transferID, "authorize") && transition(client, transferID, "post") {
				atomic.AddUint64(&settled, 1)
			}
		}
	}
}

func transition(client *http.Client, transferID int64, step string) bool {
	url := fmt.Sprintf("%s/api/v1/transfers/%d/%s", targetURL, transferID, step)
	req, _ := http.NewRequest("POST", url, nil)
	setHeaders(req)

	resp, err := client.Do(req)
	if err != nil {
		atomic.AddUint64(&failOther, 1)
		return false
	}
	defer resp.Body.Close()
	atomic.AddUint64(&totalRequests, 1)
	if resp.StatusCode != 200 {
		atomic.AddUint64(&fail4xx, 1)
		return false
	}
	return true
}

// The benchmark runs as an admin user so the authorization gate never
// skews the latency numbers.
func setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-User-ID", "1")
	req.Header.Set("X-User-Roles", "ADMIN")
}

func generateAccounts() (int64, int64) {
	// Assumes the seeder ran: treasury is account 1, customer accounts
	// follow (IDs 2-1001)
	totalAccounts := 1000

	if workload == "hotspot" {
		// Hotspot: 90% of traffic goes to accounts 2 & 3
		if rand.Float32() < 0.90 {
			if rand.Float32() < 0.5 {
				return 2, 3
			}
			return 3, 2
		}
	}

	// Uniform Random
	a := rand.Intn(totalAccounts) + 2
	b := rand.Intn(totalAccounts) + 2
	for a == b {
		b = rand.Intn(totalAccounts) + 2
	}
	return int64(a), int64(b)
}

func printResults(d time.Duration) {
	total := atomic.LoadUint64(&totalRequests)
	s201 := atomic.LoadUint64(&success201)
	s200 := atomic.LoadUint64(&success200)
	posted := atomic.LoadUint64(&settled)
	f4xx := atomic.LoadUint64(&fail4xx)
	fErr := atomic.LoadUint64(&failOther)

	tps := float64(total) / d.Seconds()
	rejectRate := float64(f4xx) / float64(total) * 100

	results := map[string]interface{}{
		"workload":        workload,
		"duration_sec":    d.Seconds(),
		"total_requests":  total,
		"throughput_tps":  tps,
		"success_created": s201,
		"success_replay":  s200,
		"settled":         posted,
		"rejections":      f4xx,
		"reject_rate_pct": rejectRate,
		"errors":          fErr,
	}

	// Print JSON for the python plotter to consume
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.Encode(results)

	// Also save to file
	filename := fmt.Sprintf("results_%s.json", workload)
	file, _ := os.Create(filename)
	defer file.Close()
	json.NewEncoder(file).Encode(results)
}
