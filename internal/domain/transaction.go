package domain

import (
	"time"
)

// Payment methods as they appear on card network records.
const (
	MethodCardPresent = "Card Present"
	MethodContactless = "Contactless"
	MethodCNP         = "CNP"
)

// Payment sub-types, keyed under their parent method.
const (
	SubTypeMagStripe    = "Mag Stripe"
	SubTypeEMVChip      = "EMV Chip"
	SubTypeTokenNFC     = "Token NFC"
	SubTypeTapToPay     = "Tap to Pay"
	SubTypeMobileWallet = "Mobile Wallet"
	SubTypeOnline       = "Online"
)

// Transaction channels derived from the payment method.
const (
	ChannelOnline   = "online"
	ChannelPhysical = "physical"
	ChannelOther    = "other"
)

// Transaction is a historical card transaction. Checks treat transactions as
// immutable facts; anything that analyzes them works on a snapshot copy.
type Transaction struct {
	// Core identifiers
	ID         string `json:"id"`
	TenantID   string `json:"tenantId"`
	CustomerID string `json:"customerId"`
	MerchantID string `json:"merchantId"`

	// Financial details
	Amount   float64 `json:"amount"`
	Currency string  `json:"currency"`

	// Merchant classification
	Category string `json:"category"`
	MCC      string `json:"mcc"`

	// Where the transaction happened
	Location  string   `json:"location,omitempty"`
	Country   string   `json:"country,omitempty"`
	Latitude  *float64 `json:"latitude,omitempty"`
	Longitude *float64 `json:"longitude,omitempty"`

	// How the card was used
	PaymentMethod  string `json:"paymentMethod"`
	PaymentSubType string `json:"paymentSubType"`
	PinVerified    bool   `json:"pinVerified"`

	// Device and network fingerprints (present on some channels only)
	DeviceID  string `json:"deviceId,omitempty"`
	IPAddress string `json:"ipAddress,omitempty"`

	// Alert markers from upstream monitoring
	AlertHistory   bool `json:"alertHistory,omitempty"`
	PreviousAlerts int  `json:"previousAlerts,omitempty"`

	// Temporal
	Timestamp time.Time `json:"timestamp"`
	CreatedAt time.Time `json:"createdAt"`
}

// Channel buckets the payment method into online/physical/other.
func (t *Transaction) Channel() string {
	switch t.PaymentMethod {
	case MethodCNP:
		return ChannelOnline
	case MethodCardPresent, MethodContactless:
		return ChannelPhysical
	default:
		return ChannelOther
	}
}

// HasGeo reports whether the transaction carries usable coordinates.
func (t *Transaction) HasGeo() bool {
	return t.Latitude != nil && t.Longitude != nil
}
