package checks

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/history"
)

const testCustomer = "cust-8801"

// Saturday afternoon anchor. Slot and day-type assertions key off it.
var refSaturday = time.Date(2025, 6, 14, 14, 30, 0, 0, time.UTC)

// fakeSource serves a fixed transaction set, filtering the way the real
// repository queries do. Every call returns a fresh slice.
type fakeSource struct {
	txs []*domain.Transaction
}

func (f *fakeSource) TransactionsByCustomer(_ context.Context, _ string, customerID string) ([]*domain.Transaction, error) {
	var out []*domain.Transaction
	for _, tx := range f.txs {
		if tx.CustomerID == customerID {
			out = append(out, tx)
		}
	}
	return out, nil
}

func (f *fakeSource) TransactionsByCustomerSince(_ context.Context, _ string, customerID string, since time.Time) ([]*domain.Transaction, error) {
	var out []*domain.Transaction
	for _, tx := range f.txs {
		if tx.CustomerID == customerID && !tx.Timestamp.Before(since) {
			out = append(out, tx)
		}
	}
	return out, nil
}

func (f *fakeSource) TransactionsByCustomerAndMerchant(_ context.Context, _ string, customerID string, merchantID string) ([]*domain.Transaction, error) {
	var out []*domain.Transaction
	for _, tx := range f.txs {
		if tx.CustomerID == customerID && tx.MerchantID == merchantID {
			out = append(out, tx)
		}
	}
	return out, nil
}

// errSource fails every read.
type errSource struct {
	err error
}

func (e *errSource) TransactionsByCustomer(context.Context, string, string) ([]*domain.Transaction, error) {
	return nil, e.err
}

func (e *errSource) TransactionsByCustomerSince(context.Context, string, string, time.Time) ([]*domain.Transaction, error) {
	return nil, e.err
}

func (e *errSource) TransactionsByCustomerAndMerchant(context.Context, string, string, string) ([]*domain.Transaction, error) {
	return nil, e.err
}

func newTestProvider(txs ...*domain.Transaction) *history.Provider {
	return history.NewProvider(&fakeSource{txs: txs}, nil, nil)
}

func testCtx() context.Context {
	return domain.WithTenant(context.Background(), "tenant-test")
}

// seedTx is a typical in-person grocery purchase for the test customer.
func seedTx(id string, ts time.Time, amount float64) *domain.Transaction {
	return &domain.Transaction{
		ID:             id,
		TenantID:       "tenant-test",
		CustomerID:     testCustomer,
		MerchantID:     "merchant-grocery",
		Amount:         amount,
		Currency:       "INR",
		Category:       "Grocery",
		MCC:            "5411",
		Location:       "Mumbai Dadar West",
		Country:        "IN",
		PaymentMethod:  domain.MethodCardPresent,
		PaymentSubType: domain.SubTypeEMVChip,
		PinVerified:    true,
		Timestamp:      ts,
	}
}

// weeklyHistory seeds weeks of Saturday-afternoon grocery runs with amounts
// stepping from 1420 up by 20 per week.
func weeklyHistory(weeks int) []*domain.Transaction {
	var txs []*domain.Transaction
	for week := 1; week <= weeks; week++ {
		ts := refSaturday.AddDate(0, 0, -7*week)
		txs = append(txs, seedTx(fmt.Sprintf("tx-%d", week), ts, 1400+float64(week)*20))
	}
	return txs
}

// checkParams is the full parameter map an alert for the habitual purchase
// would produce.
func checkParams(ref time.Time, amount float64) domain.Params {
	return domain.Params{
		"customer_id":           testCustomer,
		"transaction_id":        "tx-current",
		"merchant_id":           "merchant-grocery",
		"amount":                amount,
		"merchant_category":     "Grocery",
		"mcc":                   "5411",
		"location":              "Mumbai Dadar West",
		"country":               "IN",
		"currency":              "INR",
		"payment_method":        domain.MethodCardPresent,
		"payment_sub_type":      domain.SubTypeEMVChip,
		"pin_verified":          true,
		"alert_history":         false,
		"previous_alerts":       0,
		"transaction_timestamp": ref.Format(time.RFC3339),
	}
}

// stubCheck is the minimal Check used by registry tests.
type stubCheck struct {
	info CheckInfo
}

func (s *stubCheck) Info() CheckInfo              { return s.info }
func (s *stubCheck) Schema() Schema               { return Schema{ReturnKeys: []string{"stub_key"}} }
func (s *stubCheck) Validate(domain.Params) error { return nil }

func (s *stubCheck) Execute(context.Context, domain.Params) *domain.CheckResult {
	return &domain.CheckResult{CheckType: s.info.Name, Success: true}
}

func TestValidateParams(t *testing.T) {
	schema := Schema{Params: []ParamSpec{
		{Name: "customer_id", Type: TypeString, Required: true},
		{Name: "amount", Type: TypeNumber, Required: true},
		{Name: "merchant_id", Type: TypeString, Required: false},
	}}

	err := ValidateParams(domain.Params{"customer_id": "c-1", "amount": 10.0}, schema)
	if err != nil {
		t.Errorf("expected valid params, got %v", err)
	}

	err = ValidateParams(domain.Params{"merchant_id": "m-1"}, schema)
	if !errors.Is(err, ErrMissingParams) {
		t.Fatalf("expected ErrMissingParams, got %v", err)
	}
	if !strings.Contains(err.Error(), "customer_id") || !strings.Contains(err.Error(), "amount") {
		t.Errorf("error should name both missing params: %v", err)
	}

	// A key present with a nil value does not count as provided.
	err = ValidateParams(domain.Params{"customer_id": nil, "amount": 10.0}, schema)
	if !errors.Is(err, ErrMissingParams) {
		t.Errorf("nil value should fail validation, got %v", err)
	}
}

func TestRegistry(t *testing.T) {
	t.Run("RegisterAndGet", func(t *testing.T) {
		r := NewRegistry()
		c := &stubCheck{info: CheckInfo{Name: "stub", Category: domain.CategoryStatistical}}
		if err := r.Register(c); err != nil {
			t.Fatalf("register failed: %v", err)
		}

		got, err := r.Get("stub")
		if err != nil {
			t.Fatalf("get failed: %v", err)
		}
		if got.Info().Name != "stub" {
			t.Errorf("expected stub, got %s", got.Info().Name)
		}

		if _, err := r.Get("missing"); !errors.Is(err, ErrUnknownCheck) {
			t.Errorf("expected ErrUnknownCheck, got %v", err)
		}
	})

	t.Run("RejectsDuplicateName", func(t *testing.T) {
		r := NewRegistry()
		c := &stubCheck{info: CheckInfo{Name: "dup"}}
		if err := r.Register(c); err != nil {
			t.Fatalf("first register failed: %v", err)
		}
		if err := r.Register(c); !errors.Is(err, ErrDuplicateName) {
			t.Errorf("expected ErrDuplicateName, got %v", err)
		}
	})

	t.Run("RejectsEmptyName", func(t *testing.T) {
		r := NewRegistry()
		if err := r.Register(&stubCheck{}); err == nil {
			t.Error("expected error for empty check name")
		}
	})

	t.Run("AllPreservesRegistrationOrder", func(t *testing.T) {
		r := NewRegistry()
		for _, name := range []string{"charlie", "alpha", "bravo"} {
			if err := r.Register(&stubCheck{info: CheckInfo{Name: name}}); err != nil {
				t.Fatalf("register %s: %v", name, err)
			}
		}

		want := []string{"charlie", "alpha", "bravo"}
		names := r.Names()
		for i, name := range want {
			if names[i] != name {
				t.Fatalf("names[%d]: expected %s, got %s", i, name, names[i])
			}
		}
		all := r.All()
		for i, name := range want {
			if all[i].Info().Name != name {
				t.Errorf("all[%d]: expected %s, got %s", i, name, all[i].Info().Name)
			}
		}
	})

	t.Run("ByCategory", func(t *testing.T) {
		r := NewRegistry()
		r.Register(&stubCheck{info: CheckInfo{Name: "a", Category: domain.CategoryTemporal}})
		r.Register(&stubCheck{info: CheckInfo{Name: "b", Category: domain.CategoryVelocity}})
		r.Register(&stubCheck{info: CheckInfo{Name: "c", Category: domain.CategoryTemporal}})

		temporal := r.ByCategory(domain.CategoryTemporal)
		if len(temporal) != 2 {
			t.Fatalf("expected 2 temporal checks, got %d", len(temporal))
		}
		if temporal[0].Info().Name != "a" || temporal[1].Info().Name != "c" {
			t.Errorf("unexpected category order: %s, %s", temporal[0].Info().Name, temporal[1].Info().Name)
		}
	})

	t.Run("Descriptors", func(t *testing.T) {
		r := NewRegistry()
		r.Register(&stubCheck{info: CheckInfo{Name: "described", Description: "a stub"}})

		descs := r.Descriptors()
		if len(descs) != 1 {
			t.Fatalf("expected 1 descriptor, got %d", len(descs))
		}
		if descs[0].Name != "described" || descs[0].Description != "a stub" {
			t.Errorf("descriptor lost identity: %+v", descs[0])
		}
		if len(descs[0].Schema.ReturnKeys) == 0 {
			t.Error("descriptor should carry the schema")
		}
	})
}

func TestNewDefaultRegistry(t *testing.T) {
	r, err := NewDefaultRegistry(newTestProvider(), domain.DefaultChecksConfig(), nil)
	if err != nil {
		t.Fatalf("failed to build default registry: %v", err)
	}

	want := []string{
		"amount_analysis", "average_ticket_size", "time_day", "velocity",
		"geo_location", "card_present", "contactless", "token_nfc",
		"pin_verified", "mag_stripe", "card_not_present",
		"previous_history_check", "first_time_alert",
		"risky_country_currency", "risky_merchant", "spending_patterns",
	}
	names := r.Names()
	if len(names) != len(want) {
		t.Fatalf("expected %d checks, got %d: %v", len(want), len(names), names)
	}
	for i, name := range want {
		if names[i] != name {
			t.Errorf("battery[%d]: expected %s, got %s", i, name, names[i])
		}
	}

	for _, d := range r.Descriptors() {
		if d.Description == "" {
			t.Errorf("%s: empty description", d.Name)
		}
		if d.Category == "" {
			t.Errorf("%s: empty category", d.Name)
		}
		if len(d.Schema.ReturnKeys) == 0 {
			t.Errorf("%s: schema declares no return keys", d.Name)
		}
		// Every history-bound check declares its data source; the
		// parameter-only first_time_alert is the exception.
		if d.Name == "first_time_alert" {
			if len(d.Dependencies) != 0 {
				t.Errorf("first_time_alert should declare no dependencies, got %v", d.Dependencies)
			}
		} else if len(d.Dependencies) != 1 || d.Dependencies[0] != "transaction_history" {
			t.Errorf("%s: expected transaction_history dependency, got %v", d.Name, d.Dependencies)
		}
	}
}

func TestRunFaultBoundary(t *testing.T) {
	info := CheckInfo{Name: "boundary_test", Category: domain.CategoryStatistical}

	t.Run("PanicBecomesFailedResult", func(t *testing.T) {
		res := Run(info, func() (*domain.CheckResult, error) {
			panic("slice index out of range")
		})
		if res == nil {
			t.Fatal("expected a result, got nil")
		}
		if res.Success {
			t.Error("panicked check should not report success")
		}
		if !strings.Contains(res.Error, "check panicked") {
			t.Errorf("expected panic message, got %q", res.Error)
		}
		if res.CheckType != "boundary_test" || res.Category != domain.CategoryStatistical {
			t.Errorf("failed result lost identity: %s/%s", res.CheckType, res.Category)
		}
	})

	t.Run("ErrorBecomesFailedResult", func(t *testing.T) {
		res := Run(info, func() (*domain.CheckResult, error) {
			return nil, errors.New("history unavailable")
		})
		if res.Success {
			t.Error("errored check should not report success")
		}
		if res.Error != "history unavailable" {
			t.Errorf("expected error text carried, got %q", res.Error)
		}
		if res.Overall != nil {
			t.Error("failed result should carry no assessment")
		}
	})

	t.Run("SuccessStampsIdentity", func(t *testing.T) {
		res := Run(info, func() (*domain.CheckResult, error) {
			return Finalize(&GeoOutcome{MinFeasibility: 1.0, Level: domain.RiskLow}), nil
		})
		if !res.Success {
			t.Fatalf("expected success, got error %q", res.Error)
		}
		if res.CheckType != "boundary_test" || res.Category != domain.CategoryStatistical {
			t.Errorf("result identity not stamped: %s/%s", res.CheckType, res.Category)
		}
		if res.Overall == nil || res.Overall.Result != domain.VerdictNotFraud {
			t.Errorf("unexpected assessment: %+v", res.Overall)
		}
	})

	t.Run("SourceErrorFailsCheck", func(t *testing.T) {
		provider := history.NewProvider(&errSource{err: errors.New("connection refused")}, nil, nil)
		c := NewAmountCheck(provider, domain.DefaultChecksConfig(), nil)

		res := c.Execute(testCtx(), checkParams(refSaturday, 1480))
		if res.Success {
			t.Fatal("expected failure when history cannot be read")
		}
		if !strings.Contains(res.Error, "connection refused") {
			t.Errorf("expected source error carried, got %q", res.Error)
		}
	})
}

// TestBatteryContracts runs the full default battery and verifies the uniform
// result contract every check must honor.
func TestBatteryContracts(t *testing.T) {
	verdicts := map[string]bool{
		domain.VerdictNotFraud:          true,
		domain.VerdictNoFraud:           true,
		domain.VerdictNoMatch:           true,
		domain.VerdictProbableFraud:     true,
		domain.VerdictProbableFraudHigh: true,
		domain.VerdictProbableFraudLess: true,
	}

	runBattery := func(t *testing.T, r *Registry, params domain.Params) map[string]*domain.CheckResult {
		t.Helper()
		results := make(map[string]*domain.CheckResult)
		for _, c := range r.All() {
			name := c.Info().Name
			if err := c.Validate(params); err != nil {
				t.Fatalf("%s: validation failed: %v", name, err)
			}

			res := c.Execute(testCtx(), params)
			if res == nil {
				t.Fatalf("%s: nil result", name)
			}
			if !res.Success {
				t.Fatalf("%s: check failed: %s", name, res.Error)
			}
			if res.CheckType != name {
				t.Errorf("%s: result reports check type %q", name, res.CheckType)
			}
			if res.Category != c.Info().Category {
				t.Errorf("%s: result reports category %q", name, res.Category)
			}
			if res.Overall == nil {
				t.Fatalf("%s: no overall assessment", name)
			}
			if !verdicts[res.Overall.Result] {
				t.Errorf("%s: verdict %q outside the vocabulary", name, res.Overall.Result)
			}

			allowed := make(map[string]bool)
			for _, k := range c.Schema().ReturnKeys {
				allowed[k] = true
			}
			for k := range res.Metrics {
				if !allowed[k] {
					t.Errorf("%s: metric %q not declared in schema", name, k)
				}
			}

			// Same inputs, same verdict.
			again := c.Execute(testCtx(), params)
			if again.Verdict() != res.Verdict() {
				t.Errorf("%s: verdict changed between runs: %q then %q", name, res.Verdict(), again.Verdict())
			}

			results[name] = res
		}
		return results
	}

	fraudLeaning := func(results map[string]*domain.CheckResult) []string {
		var names []string
		for name, res := range results {
			if res.FraudLeaning() {
				names = append(names, name)
			}
		}
		sort.Strings(names)
		return names
	}

	t.Run("HabitualCustomerAllClean", func(t *testing.T) {
		r, err := NewDefaultRegistry(newTestProvider(weeklyHistory(8)...), domain.DefaultChecksConfig(), nil)
		if err != nil {
			t.Fatalf("registry: %v", err)
		}

		// 1480 repeats the week-4 grocery run exactly.
		results := runBattery(t, r, checkParams(refSaturday, 1480))
		if len(results) != 16 {
			t.Fatalf("expected 16 results, got %d", len(results))
		}
		if flagged := fraudLeaning(results); len(flagged) != 0 {
			t.Errorf("no check should flag an in-pattern transaction, got %v", flagged)
		}
		if got := results["risky_merchant"].Verdict(); got != domain.VerdictNoFraud {
			t.Errorf("risky_merchant: expected amount match to clear, got %q", got)
		}
		if got := results["time_day"].Verdict(); got != domain.VerdictNotFraud {
			t.Errorf("time_day: expected slot match to clear, got %q", got)
		}
	})

	t.Run("FreshCustomerFlagsNovelty", func(t *testing.T) {
		r, err := NewDefaultRegistry(newTestProvider(), domain.DefaultChecksConfig(), nil)
		if err != nil {
			t.Fatalf("registry: %v", err)
		}

		params := checkParams(refSaturday, 1480)
		params["customer_id"] = "cust-unseen"
		results := runBattery(t, r, params)

		// With zero history the relationship, behavioral and in-person
		// consistency checks flag; the statistical checks stay quiet.
		want := []string{"card_present", "pin_verified", "previous_history_check", "spending_patterns"}
		if got := fraudLeaning(results); !equalStrings(got, want) {
			t.Errorf("fraud-leaning set mismatch:\n got %v\nwant %v", got, want)
		}
		if got := results["previous_history_check"].Verdict(); got != domain.VerdictProbableFraudHigh {
			t.Errorf("previous_history_check: expected first interaction to grade high, got %q", got)
		}
		if got := results["risky_merchant"].Verdict(); got != domain.VerdictNoMatch {
			t.Errorf("risky_merchant: expected no-match verdict, got %q", got)
		}
	})
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestFirstTimeAlert(t *testing.T) {
	c := NewFirstTimeAlertCheck(nil, domain.DefaultChecksConfig(), nil)

	t.Run("NoPriorAlerts", func(t *testing.T) {
		res := c.Execute(testCtx(), domain.Params{
			"customer_id":   testCustomer,
			"alert_history": false,
		})
		if !res.Success {
			t.Fatalf("check failed: %s", res.Error)
		}
		if res.Verdict() != domain.VerdictNotFraud {
			t.Errorf("expected clean verdict, got %q", res.Verdict())
		}
		if res.Metrics["has_previous_alerts"] != false {
			t.Error("expected has_previous_alerts false")
		}
	})

	t.Run("AlertHistoryFlag", func(t *testing.T) {
		res := c.Execute(testCtx(), domain.Params{
			"customer_id":   testCustomer,
			"alert_history": true,
		})
		if res.Verdict() != domain.VerdictProbableFraudHigh {
			t.Errorf("expected high grade for flagged customer, got %q", res.Verdict())
		}
		if len(res.Overall.Rationale) == 0 || !strings.Contains(res.Overall.Rationale[0], "Previous alert history") {
			t.Errorf("unexpected rationale: %v", res.Overall.Rationale)
		}
	})

	t.Run("CountWithoutFlag", func(t *testing.T) {
		res := c.Execute(testCtx(), domain.Params{
			"customer_id":     testCustomer,
			"alert_history":   false,
			"previous_alerts": 3,
		})
		if res.Verdict() != domain.VerdictProbableFraudHigh {
			t.Errorf("expected count alone to flag, got %q", res.Verdict())
		}
		if res.Metrics["previous_alert_count"] != 3 {
			t.Errorf("expected count 3, got %v", res.Metrics["previous_alert_count"])
		}
	})
}

func TestConsistencyFamily(t *testing.T) {
	cfg := domain.DefaultChecksConfig()
	provider := newTestProvider(weeklyHistory(8)...)

	t.Run("CardPresentNotApplicableForCNP", func(t *testing.T) {
		c := NewCardPresentCheck(provider, cfg, nil)
		params := checkParams(refSaturday, 1480)
		params["payment_method"] = domain.MethodCNP

		res := c.Execute(testCtx(), params)
		if !res.Success {
			t.Fatalf("check failed: %s", res.Error)
		}
		if res.Verdict() != domain.VerdictNotFraud {
			t.Errorf("not-applicable should read clean, got %q", res.Verdict())
		}
		if res.Metrics["applicable"] != false {
			t.Error("expected applicable=false metric")
		}
	})

	t.Run("CardPresentNewLocationAndMerchant", func(t *testing.T) {
		c := NewCardPresentCheck(provider, cfg, nil)
		params := checkParams(refSaturday, 1480)
		params["location"] = "Pune Station Road"
		params["merchant_id"] = "merchant-unseen"

		// Two adverse factors (location and merchant) grade HIGH.
		res := c.Execute(testCtx(), params)
		if res.Verdict() != domain.VerdictProbableFraudHigh {
			t.Errorf("expected high grade, got %q", res.Verdict())
		}
		if res.Metrics["location_consistent"] != false || res.Metrics["merchant_consistent"] != false {
			t.Errorf("consistency flags wrong: %v", res.Metrics)
		}
	})

	t.Run("FirstOnlinePurchase", func(t *testing.T) {
		c := NewCardNotPresentCheck(provider, cfg, nil)
		params := checkParams(refSaturday, 1480)
		params["payment_method"] = domain.MethodCNP
		params["payment_sub_type"] = domain.SubTypeOnline

		// The customer has never paid online, so CNP history is empty.
		res := c.Execute(testCtx(), params)
		if res.Verdict() != domain.VerdictProbableFraudHigh {
			t.Errorf("expected high grade for first CNP use, got %q", res.Verdict())
		}
		if res.Metrics["cnp_transaction_count"] != 0 {
			t.Errorf("expected zero CNP history, got %v", res.Metrics["cnp_transaction_count"])
		}
	})

	t.Run("PinNotVerifiedNotApplicable", func(t *testing.T) {
		c := NewPinVerifiedCheck(provider, cfg, nil)
		params := checkParams(refSaturday, 1480)
		params["pin_verified"] = false

		res := c.Execute(testCtx(), params)
		if res.Verdict() != domain.VerdictNotFraud {
			t.Errorf("expected clean verdict, got %q", res.Verdict())
		}
		if res.Metrics["is_pin_verified"] != false {
			t.Error("expected is_pin_verified=false metric")
		}
	})

	t.Run("PinEverythingUnfamiliar", func(t *testing.T) {
		pinHistory := []*domain.Transaction{}
		for i := 1; i <= 4; i++ {
			tx := seedTx(fmt.Sprintf("pin-%d", i), refSaturday.AddDate(0, 0, -i*7), 100)
			tx.MerchantID = "merchant-kirana"
			tx.Location = "Pune Station Road"
			pinHistory = append(pinHistory, tx)
		}
		c := NewPinVerifiedCheck(newTestProvider(pinHistory...), cfg, nil)

		// Location, amount and merchant all depart from the PIN history:
		// three factors, graded HIGH.
		res := c.Execute(testCtx(), checkParams(refSaturday, 5000))
		if res.Verdict() != domain.VerdictProbableFraudHigh {
			t.Errorf("expected high grade, got %q", res.Verdict())
		}
		if len(res.Overall.Rationale) != 3 {
			t.Errorf("expected 3 factors, got %v", res.Overall.Rationale)
		}
	})
}

func TestRiskGrading(t *testing.T) {
	cases := []struct {
		level domain.RiskLevel
		want  string
	}{
		{domain.RiskHigh, domain.VerdictProbableFraudHigh},
		{domain.RiskMedium, domain.VerdictProbableFraud},
		{domain.RiskLow, domain.VerdictNotFraud},
		{domain.RiskNone, domain.VerdictNotFraud},
	}
	for _, tc := range cases {
		if got := verdictForRisk(tc.level); got != tc.want {
			t.Errorf("verdictForRisk(%s): expected %q, got %q", tc.level, tc.want, got)
		}
	}

	if got := riskFromFactorCount(nil); got != domain.RiskLow {
		t.Errorf("no factors: expected LOW, got %s", got)
	}
	if got := riskFromFactorCount([]string{"a"}); got != domain.RiskMedium {
		t.Errorf("one factor: expected MEDIUM, got %s", got)
	}
	if got := riskFromFactorCount([]string{"a", "b"}); got != domain.RiskHigh {
		t.Errorf("two factors: expected HIGH, got %s", got)
	}
}

func TestStats(t *testing.T) {
	almost := func(got, want, tol float64) bool {
		return math.Abs(got-want) <= tol
	}

	t.Run("MeanAndMedian", func(t *testing.T) {
		if got := mean([]float64{100, 200, 300, 400}); got != 250 {
			t.Errorf("mean: expected 250, got %v", got)
		}
		if got := mean(nil); got != 0 {
			t.Errorf("empty mean: expected 0, got %v", got)
		}
		if got := median([]float64{30, 10, 20}); got != 20 {
			t.Errorf("odd median: expected 20, got %v", got)
		}
		if got := median([]float64{40, 10, 30, 20}); got != 25 {
			t.Errorf("even median: expected 25, got %v", got)
		}
		if got := median(nil); got != 0 {
			t.Errorf("empty median: expected 0, got %v", got)
		}
	})

	t.Run("SampleStdDev", func(t *testing.T) {
		// Squared deviations from mean 5 sum to 32; 32/7 under the sample
		// correction gives stdev ~2.138.
		got := sampleStdDev([]float64{2, 4, 4, 4, 5, 5, 7, 9})
		if !almost(got, 2.138, 0.001) {
			t.Errorf("expected ~2.138, got %v", got)
		}
		if got := sampleStdDev([]float64{42}); got != 0 {
			t.Errorf("single point: expected 0, got %v", got)
		}
		if got := sampleStdDev(nil); got != 0 {
			t.Errorf("empty: expected 0, got %v", got)
		}
	})

	t.Run("Percentiles", func(t *testing.T) {
		sorted := []float64{10, 20, 30, 40}
		if got := percentile(sorted, 0.25); got != 20 {
			t.Errorf("p25: expected 20, got %v", got)
		}
		if got := percentile(sorted, 1.0); got != 40 {
			t.Errorf("p100 clamps to max: expected 40, got %v", got)
		}
		if got := percentile(nil, 0.5); got != 0 {
			t.Errorf("empty: expected 0, got %v", got)
		}

		if got := percentileRank([]float64{10, 20, 30, 40}, 25); got != 50 {
			t.Errorf("rank of 25: expected 50, got %v", got)
		}
		if got := percentileRank([]float64{10, 20, 30, 40}, 40); got != 100 {
			t.Errorf("rank of max: expected 100, got %v", got)
		}
		if got := percentileRank(nil, 10); got != 0 {
			t.Errorf("empty rank: expected 0, got %v", got)
		}
	})

	t.Run("ZScoreAndDeviation", func(t *testing.T) {
		if got := zScore(130, 100, 15); got != 2 {
			t.Errorf("z: expected 2, got %v", got)
		}
		if got := zScore(130, 100, 0); got != 0 {
			t.Errorf("zero spread: expected 0, got %v", got)
		}
		if got := deviationPercent(150, 100); got != 50 {
			t.Errorf("deviation: expected 50, got %v", got)
		}
		if got := deviationPercent(150, 0); got != 0 {
			t.Errorf("zero mean: expected 0, got %v", got)
		}
	})

	t.Run("NormalizedEntropy", func(t *testing.T) {
		if got := normalizedEntropy([]float64{0.5, 0.5}); !almost(got, 1, 1e-9) {
			t.Errorf("uniform: expected 1, got %v", got)
		}
		if got := normalizedEntropy([]float64{1}); got != 0 {
			t.Errorf("single outcome: expected 0, got %v", got)
		}
		// H(0.9, 0.1) = 0.469 bits over a 1-bit maximum.
		if got := normalizedEntropy([]float64{0.9, 0.1}); !almost(got, 0.469, 0.001) {
			t.Errorf("skewed: expected ~0.469, got %v", got)
		}
	})

	t.Run("Haversine", func(t *testing.T) {
		if got := haversineKm(19.0760, 72.8777, 19.0760, 72.8777); got != 0 {
			t.Errorf("same point: expected 0, got %v", got)
		}
		// One degree of latitude is ~111.2 km.
		got := haversineKm(0, 0, 1, 0)
		if got < 111 || got > 112 {
			t.Errorf("one degree latitude: expected ~111.2, got %v", got)
		}
	})

	t.Run("Rounding", func(t *testing.T) {
		if got := round2(2.718); got != 2.72 {
			t.Errorf("round2: expected 2.72, got %v", got)
		}
		if got := round3(0.9166666); got != 0.917 {
			t.Errorf("round3: expected 0.917, got %v", got)
		}
	})
}
