package domain

import (
	"time"
)

// Investigation is the complete triage outcome for one alert: every check
// result plus the aggregated disposition.
type Investigation struct {
	ID         string    `json:"id"`
	TenantID   string    `json:"tenantId"`
	AlertID    string    `json:"alertId"`
	CustomerID string    `json:"customerId"`
	TxID       string    `json:"txId"`
	Status     string    `json:"status"` // "ALRT" or "NALT"
	Score      float64   `json:"score"`
	Timestamp  time.Time `json:"timestamp"`

	// Per-check outcomes, in registry order
	CheckResults []CheckResult `json:"checkResults"`

	// Verdict string -> count across successful checks
	VerdictCounts map[string]int `json:"verdictCounts,omitempty"`

	// Flattened rationale lines from fraud-leaning checks
	Reasons []string `json:"reasons,omitempty"`

	// Processing metadata
	Metadata InvestigationMetadata `json:"metadata"`
}

// InvestigationMetadata contains processing information.
type InvestigationMetadata struct {
	TraceID       string `json:"traceId"`
	HistoryMs     int64  `json:"historyMs"`
	ChecksMs      int64  `json:"checksMs"`
	TriageMs      int64  `json:"triageMs"`
	TotalMs       int64  `json:"totalMs"`
	ChecksRun     int    `json:"checksRun"`
	ChecksFailed  int    `json:"checksFailed"`
	EngineVersion string `json:"engineVersion"`
}

// InvestigationResponse is the API response for a triaged alert.
type InvestigationResponse struct {
	InvestigationID string                `json:"investigationId"`
	AlertID         string                `json:"alertId"`
	CustomerID      string                `json:"customerId"`
	TenantID        string                `json:"tenantId"`
	Disposition     string                `json:"disposition"` // "ESCALATE" or "DISMISS"
	Score           float64               `json:"score"`
	Reasons         []string              `json:"reasons,omitempty"`
	CheckResults    []CheckResult         `json:"checkResults"`
	Metadata        InvestigationMetadata `json:"metadata"`
}

// Triage status constants
const (
	StatusAlert   = "ALRT" // alert stands - escalate to an analyst
	StatusNoAlert = "NALT" // alert dismissed - no supporting evidence
)

// API-friendly disposition
const (
	DispositionEscalate = "ESCALATE"
	DispositionDismiss  = "DISMISS"
)

// ToResponse converts an Investigation to an API response.
func (inv *Investigation) ToResponse() *InvestigationResponse {
	disposition := DispositionDismiss
	if inv.Status == StatusAlert {
		disposition = DispositionEscalate
	}

	return &InvestigationResponse{
		InvestigationID: inv.ID,
		AlertID:         inv.AlertID,
		CustomerID:      inv.CustomerID,
		TenantID:        inv.TenantID,
		Disposition:     disposition,
		Score:           inv.Score,
		Reasons:         inv.Reasons,
		CheckResults:    inv.CheckResults,
		Metadata:        inv.Metadata,
	}
}
