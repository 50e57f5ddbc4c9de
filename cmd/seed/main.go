// Seed tool for loading realistic card-transaction histories into Kestrel.
//
// Usage:
//   go run cmd/seed/main.go -url http://localhost:8080 -tenant demo -customers 25 -days 30
//
// This tool:
//  1. Generates per-customer spending profiles (home area, preferred
//     categories, repeat merchants, usual payment methods)
//  2. Posts each transaction to Kestrel so the history checks have
//     something to compare against
//  3. Optionally fires a handful of anomalous alerts at the seeded
//     customers and prints Kestrel's verdicts
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

// TransactionPayload matches Kestrel's POST /transactions request format.
type TransactionPayload struct {
	CustomerID     string    `json:"customerId"`
	MerchantID     string    `json:"merchantId"`
	Amount         float64   `json:"amount"`
	Currency       string    `json:"currency"`
	Category       string    `json:"category"`
	MCC            string    `json:"mcc"`
	Location       string    `json:"location"`
	Country        string    `json:"country"`
	PaymentMethod  string    `json:"paymentMethod"`
	PaymentSubType string    `json:"paymentSubType"`
	PinVerified    bool      `json:"pinVerified"`
	DeviceID       string    `json:"deviceId,omitempty"`
	IPAddress      string    `json:"ipAddress,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
}

// AlertPayload matches Kestrel's POST /investigate request format.
type AlertPayload struct {
	TriggeredBy string             `json:"triggeredBy"`
	Transaction TransactionPayload `json:"transaction"`
}

// InvestigationResult is the subset of the response the tool reports.
type InvestigationResult struct {
	InvestigationID string   `json:"investigationId"`
	Disposition     string   `json:"disposition"`
	Score           float64  `json:"score"`
	Reasons         []string `json:"reasons"`
}

type category struct {
	Name      string
	MCC       string
	MinAmount float64
	MaxAmount float64
}

var categories = []category{
	{"groceries", "5411", 200, 4000},
	{"dining", "5812", 300, 3500},
	{"fuel", "5541", 500, 3000},
	{"electronics", "5732", 2000, 60000},
	{"apparel", "5651", 800, 12000},
	{"entertainment", "7832", 300, 2500},
	{"utilities", "4900", 500, 8000},
	{"travel", "4722", 3000, 45000},
	{"jewelry", "5944", 10000, 150000},
}

var areas = []string{
	"Mumbai Central", "Andheri West", "Bandra", "Colaba", "Dadar",
	"Juhu", "Powai", "Worli", "Malad", "Thane",
}

// profile pins down a customer's habits so the generated history looks
// like one person shopping, not noise.
type profile struct {
	CustomerID string
	HomeArea   string
	Preferred  []int          // indices into categories
	Merchants  map[int]string // repeat merchant per category
	DeviceID   string
	IPAddress  string
}

func main() {
	baseURL := flag.String("url", "http://localhost:8080", "Kestrel base URL")
	tenantID := flag.String("tenant", "demo", "Tenant ID for requests")
	customers := flag.Int("customers", 25, "Number of customers to seed")
	days := flag.Int("days", 30, "Days of history per customer")
	perDay := flag.Float64("per-day", 1.5, "Average transactions per customer per day")
	alerts := flag.Int("alerts", 5, "Anomalous alerts to investigate after seeding (0 = none)")
	workers := flag.Int("workers", 4, "Number of concurrent workers")
	seed := flag.Int64("seed", 42, "Random seed (fixed for reproducible histories)")
	verbose := flag.Bool("verbose", false, "Print each posted transaction")
	flag.Parse()

	fmt.Println("╔═══════════════════════════════════════════════════════════════╗")
	fmt.Println("║              KESTREL SEED - Customer History Loader           ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════════╝")
	fmt.Printf("\nKestrel URL: %s\n", *baseURL)
	fmt.Printf("Tenant ID:   %s\n", *tenantID)
	fmt.Printf("Customers:   %d\n", *customers)
	fmt.Printf("Days:        %d\n", *days)
	fmt.Printf("Workers:     %d\n", *workers)
	fmt.Printf("Seed:        %d\n", *seed)
	fmt.Println()

	if err := checkHealth(*baseURL); err != nil {
		fmt.Printf("ERROR: Kestrel not reachable at %s: %v\n", *baseURL, err)
		fmt.Println("\nMake sure Kestrel is running:")
		fmt.Println("  go run cmd/kestrel/main.go")
		os.Exit(1)
	}
	fmt.Println("✓ Kestrel is healthy")

	rng := rand.New(rand.NewSource(*seed))
	profiles := buildProfiles(rng, *customers)
	txs := generateHistory(rng, profiles, *days, *perDay)
	fmt.Printf("✓ Generated %d transactions for %d customers\n", len(txs), len(profiles))

	fmt.Printf("\nSeeding with %d workers...\n", *workers)
	start := time.Now()
	posted, errors := postTransactions(txs, *baseURL, *tenantID, *workers, *verbose)
	elapsed := time.Since(start)

	fmt.Printf("\n📊 SEED RESULTS\n")
	fmt.Printf("   Posted:     %d\n", posted)
	fmt.Printf("   Errors:     %d\n", errors)
	fmt.Printf("   Duration:   %v\n", elapsed.Round(time.Millisecond))
	if elapsed.Seconds() > 0 {
		fmt.Printf("   Throughput: %.1f tx/sec\n", float64(posted)/elapsed.Seconds())
	}

	if *alerts > 0 {
		fmt.Printf("\nFiring %d anomalous alerts...\n\n", *alerts)
		fireAlerts(rng, profiles, *alerts, *baseURL, *tenantID)
	}

	fmt.Println()
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

func buildProfiles(rng *rand.Rand, count int) []profile {
	profiles := make([]profile, 0, count)
	for i := 1; i <= count; i++ {
		customerID := fmt.Sprintf("cust-%03d", i)

		// Two to four categories cover most of a real card's spend.
		n := 2 + rng.Intn(3)
		preferred := rng.Perm(len(categories))[:n]

		merchants := make(map[int]string, n)
		for _, ci := range preferred {
			merchants[ci] = fmt.Sprintf("merchant_%s_%s_%d", customerID, categories[ci].Name, 1+rng.Intn(3))
		}

		profiles = append(profiles, profile{
			CustomerID: customerID,
			HomeArea:   areas[rng.Intn(len(areas))],
			Preferred:  preferred,
			Merchants:  merchants,
			DeviceID:   fmt.Sprintf("device-%03d", i),
			IPAddress:  fmt.Sprintf("103.54.%d.%d", rng.Intn(256), 1+rng.Intn(254)),
		})
	}
	return profiles
}

func generateHistory(rng *rand.Rand, profiles []profile, days int, perDay float64) []TransactionPayload {
	var txs []TransactionPayload
	end := time.Now().UTC().Truncate(24 * time.Hour)

	for _, p := range profiles {
		for d := days; d > 0; d-- {
			day := end.AddDate(0, 0, -d)

			count := int(perDay)
			if rng.Float64() < perDay-float64(count) {
				count++
			}
			for i := 0; i < count; i++ {
				txs = append(txs, makeTransaction(rng, p, day, false))
			}

			// Occasional same-merchant burst so the velocity and pattern
			// checks have real repetition to measure.
			if rng.Float64() < 0.05 {
				burst := makeTransaction(rng, p, day, false)
				for j := 0; j < 2; j++ {
					b := burst
					b.Timestamp = burst.Timestamp.Add(time.Duration(5+j*7) * time.Minute)
					txs = append(txs, b)
				}
			}
		}
	}
	return txs
}

func makeTransaction(rng *rand.Rand, p profile, day time.Time, anomalous bool) TransactionPayload {
	ci := p.Preferred[rng.Intn(len(p.Preferred))]
	cat := categories[ci]

	// 70% of spend returns to the customer's usual merchant.
	merchantID := p.Merchants[ci]
	if rng.Float64() > 0.7 {
		merchantID = fmt.Sprintf("merchant_%s_%s_%d", p.CustomerID, cat.Name, 1+rng.Intn(3))
	}

	amount := cat.MinAmount + rng.Float64()*(cat.MaxAmount-cat.MinAmount)

	// Daytime spend between 09:00 and 22:00.
	hour := 9 + rng.Intn(13)
	ts := day.Add(time.Duration(hour)*time.Hour + time.Duration(rng.Intn(60))*time.Minute)

	tx := TransactionPayload{
		CustomerID: p.CustomerID,
		MerchantID: merchantID,
		Amount:     float64(int(amount*100)) / 100,
		Currency:   "INR",
		Category:   cat.Name,
		MCC:        cat.MCC,
		Location:   p.HomeArea,
		Country:    "IN",
		Timestamp:  ts,
	}

	switch {
	case amount < 2000 && rng.Float64() < 0.5:
		tx.PaymentMethod = "Contactless"
		tx.PaymentSubType = "Tap to Pay"
	case rng.Float64() < 0.25:
		tx.PaymentMethod = "CNP"
		tx.PaymentSubType = "Online"
		tx.DeviceID = p.DeviceID
		tx.IPAddress = p.IPAddress
	default:
		tx.PaymentMethod = "Card Present"
		tx.PaymentSubType = "EMV Chip"
		tx.PinVerified = true
	}

	if anomalous {
		// Late night, high value, unknown merchant, no PIN.
		tx.Amount = 80000 + rng.Float64()*120000
		tx.Category = "jewelry"
		tx.MCC = "5944"
		tx.MerchantID = fmt.Sprintf("merchant_unknown_%d", rng.Intn(1000))
		tx.Timestamp = day.Add(time.Duration(2+rng.Intn(2)) * time.Hour)
		tx.PaymentMethod = "CNP"
		tx.PaymentSubType = "Online"
		tx.PinVerified = false
		tx.DeviceID = fmt.Sprintf("device-unseen-%d", rng.Intn(1000))
		tx.IPAddress = fmt.Sprintf("91.199.%d.%d", rng.Intn(256), 1+rng.Intn(254))
		tx.Country = "RU"
		tx.Location = "Moscow"
	}

	return tx
}

func postTransactions(txs []TransactionPayload, baseURL, tenantID string, numWorkers int, verbose bool) (int64, int64) {
	var posted, errors int64

	work := make(chan TransactionPayload, 100)
	var wg sync.WaitGroup

	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			client := &http.Client{Timeout: 10 * time.Second}

			for tx := range work {
				if err := postJSON(client, baseURL+"/transactions", tenantID, tx, nil); err != nil {
					atomic.AddInt64(&errors, 1)
					if verbose {
						fmt.Printf("ERROR: %s -> %v\n", tx.CustomerID, err)
					}
					continue
				}
				atomic.AddInt64(&posted, 1)
				if verbose {
					fmt.Printf("✓ %s | %-13s | ₹%10.2f | %s\n", tx.CustomerID, tx.Category, tx.Amount, tx.MerchantID)
				}
			}
		}()
	}

	for _, tx := range txs {
		work <- tx
	}
	close(work)
	wg.Wait()

	return posted, errors
}

func fireAlerts(rng *rand.Rand, profiles []profile, count int, baseURL, tenantID string) {
	client := &http.Client{Timeout: 30 * time.Second}
	day := time.Now().UTC().Truncate(24 * time.Hour)

	for i := 0; i < count && i < len(profiles); i++ {
		p := profiles[rng.Intn(len(profiles))]
		alert := AlertPayload{
			TriggeredBy: "seed-tool",
			Transaction: makeTransaction(rng, p, day, true),
		}

		var result InvestigationResult
		if err := postJSON(client, baseURL+"/investigate", tenantID, alert, &result); err != nil {
			fmt.Printf("✗ %s -> %v\n", p.CustomerID, err)
			continue
		}

		fmt.Printf("  %s | %-8s | score %.2f | %s\n",
			p.CustomerID, result.Disposition, result.Score, result.InvestigationID)
		for _, reason := range result.Reasons {
			fmt.Printf("      - %s\n", reason)
		}
	}
}

func postJSON(client *http.Client, url, tenantID string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(body))
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
