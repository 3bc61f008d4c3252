// Package collector gathers environment signals from the cloud provider.
// Each signal category is collected independently; any subset may fail
// without aborting the others.
package collector

import (
	"encoding/json"
	"fmt"
	"time"
)

// Category names one environment signal source.
type Category string

const (
	CategoryCost       Category = "cost"
	CategoryIdentity   Category = "identity"
	CategoryCompute    Category = "compute"
	CategoryAdvisor    Category = "advisor"
	CategoryMetrics    Category = "metrics"
	CategoryCompliance Category = "compliance"
)

// Kind classifies a category failure.
type Kind string

const (
	// KindSubscriptionRequired marks a feature the tenant is not
	// entitled to. Recorded as a finding, never escalated.
	KindSubscriptionRequired Kind = "subscription_required"
	// KindError is any other collection failure, timeouts included.
	KindError Kind = "error"
)

// CategoryError is the machine-readable failure of one sub-collector.
type CategoryError struct {
	Kind    Kind
	Message string
}

func (e *CategoryError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Result is the per-category outcome of a collection run.
type Result struct {
	Category Category        `json:"category"`
	OK       bool            `json:"ok"`
	Kind     Kind            `json:"error_category,omitempty"`
	Message  string          `json:"message,omitempty"`
	Data     json.RawMessage `json:"data,omitempty"`
}

// Snapshot is the aggregated, partially-available result of one
// comprehensive collection.
type Snapshot struct {
	CollectedAt time.Time           `json:"collected_at"`
	Results     map[Category]Result `json:"results"`
}

// Warnings lists human-readable findings for every failed category.
func (s *Snapshot) Warnings() []string {
	var warnings []string
	for _, cat := range orderedCategories {
		r, ok := s.Results[cat]
		if !ok || r.OK {
			continue
		}
		warnings = append(warnings, fmt.Sprintf("%s unavailable (%s): %s", cat, r.Kind, r.Message))
	}
	return warnings
}

// Available counts categories that collected successfully.
func (s *Snapshot) Available() int {
	n := 0
	for _, r := range s.Results {
		if r.OK {
			n++
		}
	}
	return n
}

var orderedCategories = []Category{
	CategoryCost, CategoryIdentity, CategoryCompute,
	CategoryAdvisor, CategoryMetrics, CategoryCompliance,
}
