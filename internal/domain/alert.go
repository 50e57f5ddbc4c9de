package domain

import (
	"time"
)

// Alert is a candidate transaction flagged for investigation. It carries the
// transaction under suspicion plus intake metadata; the engine turns it into
// the parameter map the checks consume.
type Alert struct {
	ID       string `json:"id"`
	TenantID string `json:"tenantId"`

	// TriggeredBy names the upstream detector that raised the alert.
	TriggeredBy string `json:"triggeredBy,omitempty"`

	Transaction Transaction `json:"transaction"`

	ReceivedAt time.Time `json:"receivedAt"`
}

// Params builds the named-parameter map checks evaluate against. Timestamps
// travel as RFC 3339 strings so the map stays JSON-safe across the bus.
func (a *Alert) Params() Params {
	t := a.Transaction
	p := Params{
		"customer_id":           t.CustomerID,
		"transaction_id":        t.ID,
		"merchant_id":           t.MerchantID,
		"amount":                t.Amount,
		"merchant_category":     t.Category,
		"mcc":                   t.MCC,
		"location":              t.Location,
		"country":               t.Country,
		"currency":              t.Currency,
		"payment_method":        t.PaymentMethod,
		"payment_sub_type":      t.PaymentSubType,
		"pin_verified":          t.PinVerified,
		"alert_history":         t.AlertHistory,
		"previous_alerts":       t.PreviousAlerts,
		"transaction_timestamp": t.Timestamp.UTC().Format(time.RFC3339),
	}
	if t.DeviceID != "" {
		p["device_id"] = t.DeviceID
	}
	if t.IPAddress != "" {
		p["ip_address"] = t.IPAddress
	}
	if t.HasGeo() {
		p["latitude"] = *t.Latitude
		p["longitude"] = *t.Longitude
	}
	return p
}

// Params is the named-parameter mapping passed to checks. Values are strings,
// numbers, booleans, RFC 3339 timestamp strings, or lists of strings.
type Params map[string]any

// Has reports whether key is present with a non-nil value.
func (p Params) Has(key string) bool {
	v, ok := p[key]
	return ok && v != nil
}

// String returns the string value for key, or "" when absent.
func (p Params) String(key string) string {
	if s, ok := p[key].(string); ok {
		return s
	}
	return ""
}

// Float returns the numeric value for key. JSON decoding yields float64;
// integer literals from Go callers are accepted too.
func (p Params) Float(key string) (float64, bool) {
	switch v := p[key].(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	}
	return 0, false
}

// Bool returns the boolean value for key, false when absent.
func (p Params) Bool(key string) bool {
	b, _ := p[key].(bool)
	return b
}

// Time parses the RFC 3339 timestamp at key. Accepts time.Time passthrough
// for in-process callers.
func (p Params) Time(key string) (time.Time, bool) {
	switch v := p[key].(type) {
	case time.Time:
		return v, true
	case string:
		if ts, err := time.Parse(time.RFC3339, v); err == nil {
			return ts, true
		}
	}
	return time.Time{}, false
}

// Strings returns the string-list value for key. JSON decoding yields
// []any, native callers pass []string; both are accepted.
func (p Params) Strings(key string) []string {
	switch v := p[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
