package domain

// RiskLevel grades the suspicion a single check attaches to an alert.
type RiskLevel string

const (
	RiskNone   RiskLevel = "NONE"
	RiskLow    RiskLevel = "LOW"
	RiskMedium RiskLevel = "MEDIUM"
	RiskHigh   RiskLevel = "HIGH"
)

// Rank orders risk levels by severity. Higher is worse.
func (r RiskLevel) Rank() int {
	switch r {
	case RiskHigh:
		return 3
	case RiskMedium:
		return 2
	case RiskLow:
		return 1
	default:
		return 0
	}
}

// WorstRisk returns the most severe of the given levels.
func WorstRisk(levels ...RiskLevel) RiskLevel {
	worst := RiskNone
	for _, l := range levels {
		if l.Rank() > worst.Rank() {
			worst = l
		}
	}
	return worst
}

// Check verdict strings. The two negative forms exist because merchant
// scenarios historically report "No Fraud" while temporal scenarios report
// "Not Fraud"; triage treats both as clean.
const (
	VerdictNotFraud          = "Not Fraud"
	VerdictNoFraud           = "No Fraud"
	VerdictNoMatch           = "No Match Found"
	VerdictProbableFraud     = "Probable Fraud"
	VerdictProbableFraudHigh = "Probable Fraud (High)"
	VerdictProbableFraudLess = "Probable Fraud (Less)"
)

// CheckCategory groups checks for registry lookups and API filtering.
type CheckCategory string

const (
	CategoryStatistical  CheckCategory = "statistical"
	CategoryTemporal     CheckCategory = "temporal"
	CategoryVelocity     CheckCategory = "velocity"
	CategoryGeographic   CheckCategory = "geographic"
	CategoryConsistency  CheckCategory = "consistency"
	CategoryRelationship CheckCategory = "relationship"
	CategoryExposure     CheckCategory = "exposure"
	CategoryBehavioral   CheckCategory = "behavioral"
	CategoryScreening    CheckCategory = "screening"
)

// ScenarioOutcome is one evaluated fraud scenario within a check. Order in
// the scenario list is part of the contract consumers rely on.
type ScenarioOutcome struct {
	ScenarioID          string `json:"scenario_id"`
	ScenarioDescription string `json:"scenario_description"`
	ScenarioResult      string `json:"scenario_result"`
	Rationale           string `json:"rationale"`
}

// OverallAssessment is the check's aggregated verdict.
type OverallAssessment struct {
	Result    string   `json:"result"`
	Rationale []string `json:"rationale"`
}

// CheckResult is the uniform output of every check. A failed check reports
// Success=false with Error set and no assessment; it never aborts siblings.
type CheckResult struct {
	CheckType string        `json:"check_type"`
	Category  CheckCategory `json:"category,omitempty"`
	Success   bool          `json:"success"`

	Scenarios []ScenarioOutcome  `json:"scenario_analysis,omitempty"`
	Overall   *OverallAssessment `json:"overall_assessment,omitempty"`
	Metrics   map[string]any     `json:"analysis_metrics,omitempty"`

	Error     string `json:"error,omitempty"`
	ProcessMs int64  `json:"process_ms,omitempty"`
}

// Verdict returns the overall result string, or "" for failed checks.
func (r *CheckResult) Verdict() string {
	if r == nil || r.Overall == nil {
		return ""
	}
	return r.Overall.Result
}

// FraudLeaning reports whether the verdict carries any fraud suspicion.
func (r *CheckResult) FraudLeaning() bool {
	switch r.Verdict() {
	case VerdictProbableFraud, VerdictProbableFraudHigh, VerdictProbableFraudLess:
		return true
	}
	return false
}
