// Benchmark tool for measuring Kestrel's detection quality on
// synthetic ledgers.
//
// Usage:
//   go run cmd/benchmark/main.go -url http://localhost:8080 -tenants 20
//
// This tool:
//   1. Generates synthetic ledgers with months of routine spending
//   2. Injects labeled anomalies (oversized amounts, double charges,
//      purchase bursts, late-night spending)
//   3. Ingests each ledger and runs a full analysis
//   4. Reports per-detector hit rates, false alarms, and latency
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// TransactionRequest matches the Kestrel ingest format.
type TransactionRequest struct {
	ID          string  `json:"id,omitempty"`
	Amount      float64 `json:"amount"`
	Category    string  `json:"category"`
	Date        string  `json:"date"`
	Time        string  `json:"time,omitempty"`
	Description string  `json:"description,omitempty"`
}

// BatchRequest is the body for POST /transactions/batch.
type BatchRequest struct {
	Transactions []TransactionRequest `json:"transactions"`
}

// Anomaly is the subset of the report anomaly we score against.
type Anomaly struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	// Transaction carries the triggering record.
	Transaction struct {
		ID string `json:"id"`
	} `json:"transaction"`
	Score         int  `json:"score"`
	PossibleFraud bool `json:"possibleFraud"`
}

// AnalyzeResponse is the subset of POST /analyze we score against.
type AnalyzeResponse struct {
	Report struct {
		ID        string    `json:"id"`
		RiskScore int       `json:"riskScore"`
		Anomalies []Anomaly `json:"anomalies"`
	} `json:"report"`
}

// injection labels one planted anomaly and the detector expected to
// catch it.
type injection struct {
	txID     string
	wantType string
}

// ledger is one synthetic tenant's worth of data.
type ledger struct {
	tenantID   string
	txs        []TransactionRequest
	injections []injection
}

// Metrics tracks benchmark results across all tenants.
type Metrics struct {
	TenantsProcessed int64
	TotalErrors      int64

	InjectedByType  map[string]*int64
	DetectedByType  map[string]*int64
	ExtraDetections int64 // anomalies not matching any injected transaction

	IngestTimeMs  int64
	AnalyzeTimeMs int64
}

var detectorTypes = []string{"amount", "time", "frequency", "duplicate", "behavioral"}

func main() {
	baseURL := flag.String("url", "http://localhost:8080", "Kestrel base URL")
	tenants := flag.Int("tenants", 10, "Number of synthetic tenants")
	months := flag.Int("months", 6, "Months of routine history per ledger")
	seed := flag.Int64("seed", 42, "Random seed for ledger generation")
	workers := flag.Int("workers", 5, "Number of concurrent workers")
	verbose := flag.Bool("verbose", false, "Print each tenant's result")
	flag.Parse()

	fmt.Println("╔═══════════════════════════════════════════════════════════════╗")
	fmt.Println("║        KESTREL BENCHMARK - Synthetic Ledger Detection         ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════════╝")
	fmt.Printf("\nKestrel URL: %s\n", *baseURL)
	fmt.Printf("Tenants:     %d\n", *tenants)
	fmt.Printf("History:     %d months\n", *months)
	fmt.Printf("Seed:        %d\n", *seed)
	fmt.Printf("Workers:     %d\n", *workers)
	fmt.Println()

	if err := checkHealth(*baseURL); err != nil {
		fmt.Printf("ERROR: Kestrel not reachable at %s: %v\n", *baseURL, err)
		fmt.Println("\nMake sure Kestrel is running:")
		fmt.Println("  go run cmd/kestrel/main.go")
		os.Exit(1)
	}
	fmt.Println("✓ Kestrel is healthy")

	fmt.Printf("\nGenerating %d synthetic ledgers...\n", *tenants)
	rng := rand.New(rand.NewSource(*seed))
	ledgers := make([]ledger, 0, *tenants)
	for i := 0; i < *tenants; i++ {
		ledgers = append(ledgers, generateLedger(rng, i, *months))
	}
	fmt.Printf("✓ Generated %d ledgers, %d transactions each (approx)\n",
		len(ledgers), len(ledgers[0].txs))

	fmt.Printf("\nRunning benchmark with %d workers...\n", *workers)
	startTime := time.Now()
	metrics := runBenchmark(ledgers, *baseURL, *workers, *verbose)
	duration := time.Since(startTime)

	printResults(metrics, duration)
}

func checkHealth(baseURL string) error {
	resp, err := http.Get(baseURL + "/health")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}
	return nil
}

// generateLedger builds months of routine spending for one tenant and
// plants one anomaly per detector.
func generateLedger(rng *rand.Rand, index, months int) ledger {
	tenantID := fmt.Sprintf("bench-%03d", index)
	today := time.Now().UTC().Truncate(24 * time.Hour)

	var txs []TransactionRequest
	txCounter := 0
	nextID := func(prefix string) string {
		txCounter++
		return fmt.Sprintf("%s-%s-%04d", tenantID, prefix, txCounter)
	}

	// Routine history: salary on the 25th, rent on the 1st, steady
	// daytime food and transport spending.
	for m := months; m >= 1; m-- {
		monthStart := today.AddDate(0, -m, 0)

		txs = append(txs, TransactionRequest{
			ID:       nextID("salary"),
			Amount:   250000,
			Category: "salary",
			Date:     monthStart.AddDate(0, 0, 24).Format("2006-01-02"),
		})
		txs = append(txs, TransactionRequest{
			ID:       nextID("rent"),
			Amount:   -80000,
			Category: "rent",
			Date:     monthStart.Format("2006-01-02"),
		})

		for d := 0; d < 28; d += 2 {
			day := monthStart.AddDate(0, 0, d)
			txs = append(txs, TransactionRequest{
				ID:       nextID("food"),
				Amount:   -(4000 + float64(rng.Intn(1000))),
				Category: "food",
				Date:     day.Format("2006-01-02"),
				Time:     fmt.Sprintf("%02d:%02d", 11+rng.Intn(8), rng.Intn(60)),
			})
		}
		for d := 1; d < 28; d += 4 {
			day := monthStart.AddDate(0, 0, d)
			txs = append(txs, TransactionRequest{
				ID:       nextID("transport"),
				Amount:   -(1500 + float64(rng.Intn(500))),
				Category: "transport",
				Date:     day.Format("2006-01-02"),
				Time:     fmt.Sprintf("%02d:%02d", 8+rng.Intn(10), rng.Intn(60)),
			})
		}
	}

	var injections []injection

	// Oversized amount: an order of magnitude above the food baseline.
	amountID := nextID("inject-amount")
	txs = append(txs, TransactionRequest{
		ID:       amountID,
		Amount:   -90000,
		Category: "food",
		Date:     today.Format("2006-01-02"),
		Time:     "13:00",
	})
	injections = append(injections, injection{txID: amountID, wantType: "amount"})

	// Late-night purchase at triple the typical size.
	timeID := nextID("inject-time")
	txs = append(txs, TransactionRequest{
		ID:       timeID,
		Amount:   -13500,
		Category: "food",
		Date:     today.AddDate(0, 0, -1).Format("2006-01-02"),
		Time:     "03:15",
	})
	injections = append(injections, injection{txID: timeID, wantType: "time"})

	// Purchase burst: eight shopping charges in one day against a
	// near-zero baseline rate.
	var burstIDs []string
	for i := 0; i < 8; i++ {
		id := nextID("inject-burst")
		burstIDs = append(burstIDs, id)
		txs = append(txs, TransactionRequest{
			ID:       id,
			Amount:   -(3000 + float64(rng.Intn(800))),
			Category: "shopping",
			Date:     today.Format("2006-01-02"),
			Time:     fmt.Sprintf("%02d:%02d", 10+i, rng.Intn(60)),
		})
	}
	injections = append(injections, injection{txID: burstIDs[len(burstIDs)-1], wantType: "frequency"})

	// Double charge: identical taxi fares three minutes apart.
	dupA := nextID("inject-dup")
	dupB := nextID("inject-dup")
	txs = append(txs, TransactionRequest{
		ID:       dupA,
		Amount:   -20000,
		Category: "taxi",
		Date:     today.Format("2006-01-02"),
		Time:     "14:00",
	})
	txs = append(txs, TransactionRequest{
		ID:       dupB,
		Amount:   -20000,
		Category: "taxi",
		Date:     today.Format("2006-01-02"),
		Time:     "14:03",
	})
	injections = append(injections, injection{txID: dupB, wantType: "duplicate"})

	return ledger{tenantID: tenantID, txs: txs, injections: injections}
}

func runBenchmark(ledgers []ledger, baseURL string, numWorkers int, verbose bool) *Metrics {
	metrics := &Metrics{
		InjectedByType: make(map[string]*int64),
		DetectedByType: make(map[string]*int64),
	}
	for _, typ := range detectorTypes {
		metrics.InjectedByType[typ] = new(int64)
		metrics.DetectedByType[typ] = new(int64)
	}

	work := make(chan ledger, len(ledgers))
	var wg sync.WaitGroup

	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			client := &http.Client{Timeout: 30 * time.Second}

			for l := range work {
				if err := scoreLedger(client, baseURL, l, metrics, verbose); err != nil {
					atomic.AddInt64(&metrics.TotalErrors, 1)
					if verbose {
						fmt.Printf("ERROR: %s -> %v\n", l.tenantID, err)
					}
					continue
				}
				atomic.AddInt64(&metrics.TenantsProcessed, 1)
			}
		}()
	}

	for _, l := range ledgers {
		work <- l
	}
	close(work)
	wg.Wait()

	return metrics
}

func scoreLedger(client *http.Client, baseURL string, l ledger, metrics *Metrics, verbose bool) error {
	// Ingest
	ingestStart := time.Now()
	if err := postJSON(client, baseURL+"/transactions/batch", l.tenantID, BatchRequest{Transactions: l.txs}, nil); err != nil {
		return fmt.Errorf("ingest: %w", err)
	}
	atomic.AddInt64(&metrics.IngestTimeMs, time.Since(ingestStart).Milliseconds())

	// Analyze
	analyzeStart := time.Now()
	var resp AnalyzeResponse
	if err := postJSON(client, baseURL+"/analyze", l.tenantID, nil, &resp); err != nil {
		return fmt.Errorf("analyze: %w", err)
	}
	atomic.AddInt64(&metrics.AnalyzeTimeMs, time.Since(analyzeStart).Milliseconds())

	// Score: an injection counts as detected when the report contains
	// an anomaly of the expected type referencing the planted
	// transaction (composite anomaly IDs carry both transaction IDs).
	injectedIDs := make(map[string]bool)
	for _, inj := range l.injections {
		injectedIDs[inj.txID] = true
		atomic.AddInt64(metrics.InjectedByType[inj.wantType], 1)
	}

	var hits, misses []string
	for _, inj := range l.injections {
		found := false
		for _, anomaly := range resp.Report.Anomalies {
			if anomaly.Type != inj.wantType {
				continue
			}
			if anomaly.Transaction.ID == inj.txID || strings.Contains(anomaly.ID, inj.txID) {
				found = true
				break
			}
		}
		if found {
			atomic.AddInt64(metrics.DetectedByType[inj.wantType], 1)
			hits = append(hits, inj.wantType)
		} else {
			misses = append(misses, inj.wantType)
		}
	}

	for _, anomaly := range resp.Report.Anomalies {
		if !injectedIDs[anomaly.Transaction.ID] && !strings.HasPrefix(anomaly.Transaction.ID, l.tenantID+"-inject") {
			atomic.AddInt64(&metrics.ExtraDetections, 1)
		}
	}

	if verbose {
		fmt.Printf("%-10s | risk %3d | anomalies %2d | hit %v | miss %v\n",
			l.tenantID, resp.Report.RiskScore, len(resp.Report.Anomalies), hits, misses)
	}

	return nil
}

func postJSON(client *http.Client, url, tenantID string, body, out interface{}) error {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}

	req, err := http.NewRequest(http.MethodPost, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Tenant-ID", tenantID)

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return fmt.Errorf("status %d", resp.StatusCode)
	}

	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func printResults(m *Metrics, duration time.Duration) {
	fmt.Println("\n╔═══════════════════════════════════════════════════════════════╗")
	fmt.Println("║                      BENCHMARK RESULTS                        ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════════╝")

	fmt.Printf("\n📊 RUN STATISTICS\n")
	fmt.Printf("   Tenants Processed:  %d\n", m.TenantsProcessed)
	fmt.Printf("   Errors:             %d\n", m.TotalErrors)

	fmt.Printf("\n🎯 DETECTION HIT RATES\n")
	var totalInjected, totalDetected int64
	for _, typ := range detectorTypes {
		injected := atomic.LoadInt64(m.InjectedByType[typ])
		detected := atomic.LoadInt64(m.DetectedByType[typ])
		totalInjected += injected
		totalDetected += detected

		if injected == 0 {
			continue
		}
		rate := 100 * float64(detected) / float64(injected)
		marker := "✅"
		if rate < 90 {
			marker = "⚠️ "
		}
		if rate < 50 {
			marker = "❌"
		}
		fmt.Printf("   %s %-10s  %d / %d (%.1f%%)\n", marker, typ, detected, injected, rate)
	}
	if totalInjected > 0 {
		fmt.Printf("   Overall:        %d / %d (%.1f%%)\n",
			totalDetected, totalInjected, 100*float64(totalDetected)/float64(totalInjected))
	}
	fmt.Printf("   Extra Flags:    %d (anomalies outside the planted set)\n", m.ExtraDetections)

	fmt.Printf("\n⏱️  PERFORMANCE\n")
	fmt.Printf("   Total Duration:   %v\n", duration.Round(time.Millisecond))
	if m.TenantsProcessed > 0 {
		fmt.Printf("   Avg Ingest:       %.2f ms/tenant\n", float64(m.IngestTimeMs)/float64(m.TenantsProcessed))
		fmt.Printf("   Avg Analyze:      %.2f ms/tenant\n", float64(m.AnalyzeTimeMs)/float64(m.TenantsProcessed))
	}

	fmt.Println()
}
