// Package checks implements the fraud analysis battery Kestrel runs against
// an alert. Every check is stateless: it prepares an immutable history
// snapshot for the alert's customer, computes over it, and reports a uniform
// CheckResult. Checks never share mutable state, so the engine may run any
// number of them concurrently.
package checks

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Sentinel errors surfaced by the registry and parameter validation.
var (
	ErrUnknownCheck  = errors.New("unknown check")
	ErrDuplicateName = errors.New("check name already registered")
	ErrMissingParams = errors.New("missing required parameters")
)

// Check is one fraud analysis over an alert's parameter map.
type Check interface {
	// Info identifies the check.
	Info() CheckInfo

	// Schema declares accepted parameters and the metric keys the check
	// can emit. Serves registry introspection, not business logic.
	Schema() Schema

	// Validate confirms required parameters are present. Structural only;
	// value errors surface through Execute's fault boundary.
	Validate(params domain.Params) error

	// Execute runs the analysis. It always returns a CheckResult: internal
	// errors and panics become Success=false results, never a nil return.
	Execute(ctx context.Context, params domain.Params) *domain.CheckResult
}

// CheckInfo identifies a check in the registry and on results.
// Dependencies names the data sources the check reads (informational,
// surfaced through introspection; not enforced).
type CheckInfo struct {
	Name         string               `json:"name"`
	Description  string               `json:"description"`
	Category     domain.CheckCategory `json:"category"`
	Dependencies []string             `json:"dependencies,omitempty"`
}

// Schema describes a check's parameter surface.
type Schema struct {
	Params     []ParamSpec `json:"params"`
	ReturnKeys []string    `json:"returnKeys"`
}

// Parameter types used in schemas.
const (
	TypeString     = "string"
	TypeNumber     = "number"
	TypeBoolean    = "boolean"
	TypeTimestamp  = "timestamp"
	TypeStringList = "string_list"
)

// ParamSpec declares one accepted parameter.
type ParamSpec struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Required    bool   `json:"required"`
	Description string `json:"description,omitempty"`
}

// errMissing reports one missing or malformed required parameter.
func errMissing(name string) error {
	return fmt.Errorf("%w: %s", ErrMissingParams, name)
}

// ValidateParams checks presence of every required parameter in the schema.
func ValidateParams(params domain.Params, schema Schema) error {
	var missing []string
	for _, spec := range schema.Params {
		if spec.Required && !params.Has(spec.Name) {
			missing = append(missing, spec.Name)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrMissingParams, strings.Join(missing, ", "))
	}
	return nil
}
