// Benchmark tool for replaying labeled transaction data through Kestrel.
//
// Usage:
//   go run cmd/benchmark/main.go -csv /path/to/labeled.csv -url http://localhost:8080
//
// This tool:
//   1. Reads labeled transaction data (with fraud labels) and sorts it by time
//   2. Replays each transaction as an alert investigation
//   3. Compares Kestrel's disposition (ESCALATE/DISMISS) with the actual label
//   4. Reports throughput, latency percentiles, and precision/recall
//
// Investigating a transaction also stores it, so each customer's history
// accumulates as the replay progresses, the same way it does in production.
// Customers are sharded across workers to keep every customer's transactions
// in timestamp order; the history checks are meaningless without that.
//
// Expected CSV columns (header required, order free):
//   customer_id, merchant_id, amount, currency, category, mcc, location,
//   country, payment_method, payment_sub_type, pin_verified, device_id,
//   ip_address, timestamp (RFC3339), is_fraud (1/0)
package main

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"flag"
	"fmt"
	"hash/fnv"
	"io"
	"net/http"
	"os"
	"slices"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

// LabeledTransaction is one row of the replay dataset.
type LabeledTransaction struct {
	CustomerID     string
	MerchantID     string
	Amount         float64
	Currency       string
	Category       string
	MCC            string
	Location       string
	Country        string
	PaymentMethod  string
	PaymentSubType string
	PinVerified    bool
	DeviceID       string
	IPAddress      string
	Timestamp      time.Time
	IsFraud        bool
}

// InvestigateRequest is the Kestrel API request format.
type InvestigateRequest struct {
	TriggeredBy string      `json:"triggeredBy,omitempty"`
	Transaction Transaction `json:"transaction"`
}

type Transaction struct {
	CustomerID     string    `json:"customerId"`
	MerchantID     string    `json:"merchantId"`
	Amount         float64   `json:"amount"`
	Currency       string    `json:"currency,omitempty"`
	Category       string    `json:"category"`
	MCC            string    `json:"mcc,omitempty"`
	Location       string    `json:"location,omitempty"`
	Country        string    `json:"country,omitempty"`
	PaymentMethod  string    `json:"paymentMethod"`
	PaymentSubType string    `json:"paymentSubType,omitempty"`
	PinVerified    bool      `json:"pinVerified"`
	DeviceID       string    `json:"deviceId,omitempty"`
	IPAddress      string    `json:"ipAddress,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
}

// InvestigateResponse is the Kestrel API response format.
type InvestigateResponse struct {
	InvestigationID string   `json:"investigationId"`
	Disposition     string   `json:"disposition"` // "ESCALATE" or "DISMISS"
	Score           float64  `json:"score"`
	Reasons         []string `json:"reasons"`
}

// tally is one worker's running counts. Workers never share a tally, so
// no locking; shards are merged after the replay finishes.
type tally struct {
	processed int
	errors    int
	fraud     int
	legit     int

	tp, fp, tn, fn int

	latencies []time.Duration
}

func (t *tally) merge(o *tally) {
	t.processed += o.processed
	t.errors += o.errors
	t.fraud += o.fraud
	t.legit += o.legit
	t.tp += o.tp
	t.fp += o.fp
	t.tn += o.tn
	t.fn += o.fn
	t.latencies = append(t.latencies, o.latencies...)
}

func main() {
	csvPath := flag.String("csv", "", "Path to labeled transaction CSV file")
	baseURL := flag.String("url", "http://localhost:8080", "Kestrel base URL")
	tenantID := flag.String("tenant", "benchmark-test", "Tenant ID for requests")
	limit := flag.Int("limit", 10000, "Maximum transactions to process (0 = all)")
	workers := flag.Int("workers", 10, "Number of concurrent workers")
	fraudOnly := flag.Bool("fraud-only", false, "Only replay fraud transactions")
	sampleRate := flag.Float64("sample", 1.0, "Sample rate for non-fraud (0.0-1.0)")
	verbose := flag.Bool("verbose", false, "Print each transaction result")
	flag.Parse()

	if *csvPath == "" {
		fmt.Println("Usage: benchmark -csv /path/to/labeled.csv [-url http://localhost:8080]")
		fmt.Println("\nFlags:")
		flag.PrintDefaults()
		os.Exit(1)
	}

	fmt.Println("╔═══════════════════════════════════════════════════════════════╗")
	fmt.Println("║          KESTREL BENCHMARK - Labeled Alert Replay             ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════════╝")
	fmt.Printf("\nCSV File:    %s\n", *csvPath)
	fmt.Printf("Kestrel URL: %s\n", *baseURL)
	fmt.Printf("Tenant ID:   %s\n", *tenantID)
	fmt.Printf("Workers:     %d\n", *workers)
	fmt.Printf("Limit:       %d\n", *limit)
	fmt.Printf("Fraud Only:  %v\n", *fraudOnly)
	fmt.Printf("Sample Rate: %.2f\n", *sampleRate)
	fmt.Println()

	if err := checkHealth(*baseURL); err != nil {
		fmt.Printf("ERROR: Kestrel not reachable at %s: %v\n", *baseURL, err)
		fmt.Println("\nMake sure Kestrel is running:")
		fmt.Println("  go run cmd/kestrel/main.go")
		os.Exit(1)
	}
	fmt.Println("✓ Kestrel is healthy")

	fmt.Printf("\nReading labeled data from %s...\n", *csvPath)
	transactions, err := readLabeledCSV(*csvPath, *limit, *fraudOnly, *sampleRate)
	if err != nil {
		fmt.Printf("ERROR: Failed to read CSV: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("✓ Loaded %d transactions\n", len(transactions))

	// Replay order matters: the history checks judge each transaction
	// against what came before it.
	sort.SliceStable(transactions, func(i, j int) bool {
		return transactions[i].Timestamp.Before(transactions[j].Timestamp)
	})

	fraudCount := 0
	for _, tx := range transactions {
		if tx.IsFraud {
			fraudCount++
		}
	}
	fmt.Printf("  - Fraud:     %d (%.2f%%)\n", fraudCount, 100*float64(fraudCount)/float64(len(transactions)))
	fmt.Printf("  - Non-fraud: %d (%.2f%%)\n", len(transactions)-fraudCount, 100*float64(len(transactions)-fraudCount)/float64(len(transactions)))

	fmt.Printf("\nReplaying with %d workers (customers sharded per worker)...\n", *workers)
	started := time.Now()
	result := runBenchmark(transactions, *baseURL, *tenantID, *workers, *verbose)
	report(result, time.Since(started))
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

func readLabeledCSV(path string, limit int, fraudOnly bool, sampleRate float64) ([]LabeledTransaction, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	reader := csv.NewReader(file)

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}

	colIndex := make(map[string]int)
	for i, col := range header {
		colIndex[strings.ToLower(strings.TrimSpace(col))] = i
	}
	for _, required := range []string{"customer_id", "merchant_id", "amount", "payment_method", "timestamp", "is_fraud"} {
		if _, ok := colIndex[required]; !ok {
			return nil, fmt.Errorf("missing required column %q", required)
		}
	}

	field := func(record []string, name string) string {
		idx, ok := colIndex[name]
		if !ok || idx >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[idx])
	}

	var transactions []LabeledTransaction
	carry := 0.0 // error-diffusion accumulator for sampling

	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			continue // Skip malformed rows
		}

		isFraud := field(record, "is_fraud") == "1" || strings.EqualFold(field(record, "is_fraud"), "true")

		if fraudOnly && !isFraud {
			continue
		}

		// Thin legitimate rows to the sample rate; fraud always replays.
		if !isFraud && sampleRate < 1.0 {
			carry += sampleRate
			if carry < 1.0 {
				continue
			}
			carry--
		}

		amount, _ := strconv.ParseFloat(field(record, "amount"), 64)
		timestamp, err := time.Parse(time.RFC3339, field(record, "timestamp"))
		if err != nil {
			continue // Unparseable timestamp breaks replay ordering, skip
		}
		pinVerified := field(record, "pin_verified") == "1" || strings.EqualFold(field(record, "pin_verified"), "true")

		transactions = append(transactions, LabeledTransaction{
			CustomerID:     field(record, "customer_id"),
			MerchantID:     field(record, "merchant_id"),
			Amount:         amount,
			Currency:       field(record, "currency"),
			Category:       field(record, "category"),
			MCC:            field(record, "mcc"),
			Location:       field(record, "location"),
			Country:        field(record, "country"),
			PaymentMethod:  field(record, "payment_method"),
			PaymentSubType: field(record, "payment_sub_type"),
			PinVerified:    pinVerified,
			DeviceID:       field(record, "device_id"),
			IPAddress:      field(record, "ip_address"),
			Timestamp:      timestamp,
			IsFraud:        isFraud,
		})

		if limit > 0 && len(transactions) >= limit {
			break
		}
	}

	return transactions, nil
}

// shardByCustomer assigns every transaction of a customer to the same worker,
// preserving the per-customer timestamp order of the sorted input.
func shardByCustomer(transactions []LabeledTransaction, numWorkers int) [][]LabeledTransaction {
	shards := make([][]LabeledTransaction, numWorkers)
	for _, tx := range transactions {
		h := fnv.New32a()
		h.Write([]byte(tx.CustomerID))
		idx := int(h.Sum32()) % numWorkers
		if idx < 0 {
			idx += numWorkers
		}
		shards[idx] = append(shards[idx], tx)
	}
	return shards
}

func runBenchmark(transactions []LabeledTransaction, baseURL, tenantID string, numWorkers int, verbose bool) *tally {
	if numWorkers < 1 {
		numWorkers = 1
	}
	shards := shardByCustomer(transactions, numWorkers)
	tallies := make([]tally, len(shards))

	var wg sync.WaitGroup
	for i, shard := range shards {
		if len(shard) == 0 {
			continue
		}
		wg.Add(1)
		go func(shard []LabeledTransaction, t *tally) {
			defer wg.Done()
			client := &http.Client{Timeout: 10 * time.Second}
			t.latencies = make([]time.Duration, 0, len(shard))

			for _, tx := range shard {
				start := time.Now()
				result, err := replayOne(client, baseURL, tenantID, tx)
				t.latencies = append(t.latencies, time.Since(start))
				t.processed++

				if err != nil {
					t.errors++
					if verbose {
						fmt.Printf("ERROR: %s -> %v\n", tx.CustomerID, err)
					}
					continue
				}

				if tx.IsFraud {
					t.fraud++
				} else {
					t.legit++
				}

				escalated := result.Disposition == "ESCALATE"
				switch {
				case escalated && tx.IsFraud:
					t.tp++
				case escalated && !tx.IsFraud:
					t.fp++
				case !escalated && !tx.IsFraud:
					t.tn++
				default:
					t.fn++
				}

				if verbose {
					mark := "✓"
					if escalated != tx.IsFraud {
						mark = "✗"
					}
					name := tx.CustomerID
					if len(name) > 12 {
						name = name[:12]
					}
					fmt.Printf("%s %-12s | %-12s | Amount: %12.2f | Fraud: %-5v | Kestrel: %-8s (%.2f)\n",
						mark, name, tx.Category, tx.Amount, tx.IsFraud, result.Disposition, result.Score)
				}
			}
		}(shard, &tallies[i])
	}
	wg.Wait()

	total := &tally{}
	for i := range tallies {
		total.merge(&tallies[i])
	}
	return total
}

func replayOne(client *http.Client, baseURL, tenantID string, tx LabeledTransaction) (*InvestigateResponse, error) {
	body, err := json.Marshal(InvestigateRequest{
		TriggeredBy: "benchmark-replay",
		Transaction: Transaction{
			CustomerID:     tx.CustomerID,
			MerchantID:     tx.MerchantID,
			Amount:         tx.Amount,
			Currency:       tx.Currency,
			Category:       tx.Category,
			MCC:            tx.MCC,
			Location:       tx.Location,
			Country:        tx.Country,
			PaymentMethod:  tx.PaymentMethod,
			PaymentSubType: tx.PaymentSubType,
			PinVerified:    tx.PinVerified,
			DeviceID:       tx.DeviceID,
			IPAddress:      tx.IPAddress,
			Timestamp:      tx.Timestamp,
		},
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequest(http.MethodPost, baseURL+"/investigate", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Tenant-ID", tenantID)

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(detail)))
	}

	var result InvestigateResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}
	return &result, nil
}

// percentile reads from an ascending-sorted slice.
func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(p * float64(len(sorted)-1))
	return sorted[idx]
}

func ratio(num, den int) float64 {
	if den == 0 {
		return 0
	}
	return float64(num) / float64(den)
}

func report(t *tally, elapsed time.Duration) {
	fmt.Println("\n╔═══════════════════════════════════════════════════════════════╗")
	fmt.Println("║                      BENCHMARK RESULTS                        ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════════╝")

	fmt.Printf("\n📊 REPLAY\n")
	fmt.Printf("   Processed:   %d (%d fraud, %d legitimate)\n", t.processed, t.fraud, t.legit)
	fmt.Printf("   Errors:      %d\n", t.errors)

	fmt.Printf("\n🎯 DETECTION\n")
	fmt.Printf("   Actual fraud:        escalated %-6d dismissed %-6d (TP / FN)\n", t.tp, t.fn)
	fmt.Printf("   Actual legitimate:   escalated %-6d dismissed %-6d (FP / TN)\n", t.fp, t.tn)

	precision := ratio(t.tp, t.tp+t.fp)
	recall := ratio(t.tp, t.tp+t.fn)
	f1 := 0.0
	if precision+recall > 0 {
		f1 = 2 * precision * recall / (precision + recall)
	}
	accuracy := ratio(t.tp+t.tn, t.tp+t.tn+t.fp+t.fn)

	fmt.Printf("\n   Precision:  %.4f   (escalations that were actual fraud)\n", precision)
	fmt.Printf("   Recall:     %.4f   (actual fraud that was escalated)\n", recall)
	fmt.Printf("   F1:         %.4f\n", f1)
	fmt.Printf("   Accuracy:   %.4f\n", accuracy)
	if t.legit > 0 {
		fmt.Printf("   False alarm rate: %.2f%% of legitimate traffic\n", 100*ratio(t.fp, t.legit))
	}

	fmt.Printf("\n⏱️  LATENCY\n")
	slices.Sort(t.latencies)
	fmt.Printf("   p50:  %v\n", percentile(t.latencies, 0.50).Round(time.Microsecond))
	fmt.Printf("   p90:  %v\n", percentile(t.latencies, 0.90).Round(time.Microsecond))
	fmt.Printf("   p99:  %v\n", percentile(t.latencies, 0.99).Round(time.Microsecond))
	if n := len(t.latencies); n > 0 {
		fmt.Printf("   max:  %v\n", t.latencies[n-1].Round(time.Microsecond))
	}

	fmt.Printf("\n   Wall time:   %v\n", elapsed.Round(time.Millisecond))
	if t.processed > 0 && elapsed > 0 {
		fmt.Printf("   Throughput:  %.2f tx/sec\n", float64(t.processed)/elapsed.Seconds())
	}
	fmt.Println()
}
