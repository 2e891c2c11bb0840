package model

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Status is the lifecycle state of a scenario's backend job. The numeric
// values are ranks: a higher rank is further along the lifecycle.
type Status int

// Scenario status constants, in rank order.
const (
	StatusUnspecified Status = iota
	StatusQueued
	StatusScheduled
	StatusRunning
	StatusSucceeded
	StatusFailed
	StatusDeletionInProgress
)

var statusNames = [...]string{
	StatusUnspecified:        "UNSPECIFIED",
	StatusQueued:             "QUEUED",
	StatusScheduled:          "SCHEDULED",
	StatusRunning:            "RUNNING",
	StatusSucceeded:          "SUCCEEDED",
	StatusFailed:             "FAILED",
	StatusDeletionInProgress: "DELETION_IN_PROGRESS",
}

// AllStatuses lists every status in rank order.
var AllStatuses = []Status{
	StatusUnspecified,
	StatusQueued,
	StatusScheduled,
	StatusRunning,
	StatusSucceeded,
	StatusFailed,
	StatusDeletionInProgress,
}

// IsTerminal reports whether no further polling should happen for s.
func (s Status) IsTerminal() bool {
	return s >= StatusSucceeded
}

// Valid reports whether s is one of the declared statuses.
func (s Status) Valid() bool {
	return s >= StatusUnspecified && s <= StatusDeletionInProgress
}

func (s Status) String() string {
	if !s.Valid() {
		return fmt.Sprintf("Status(%d)", int(s))
	}
	return statusNames[s]
}

// ParseStatus converts a status name (case-insensitive) into a Status.
func ParseStatus(name string) (Status, error) {
	upper := strings.ToUpper(strings.TrimSpace(name))
	for _, s := range AllStatuses {
		if statusNames[s] == upper {
			return s, nil
		}
	}
	return StatusUnspecified, fmt.Errorf("unknown status %q", name)
}

// MarshalJSON encodes the status by name.
func (s Status) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON accepts either a status name or its numeric rank.
func (s *Status) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err == nil {
		parsed, err := ParseStatus(name)
		if err != nil {
			return err
		}
		*s = parsed
		return nil
	}

	var rank int
	if err := json.Unmarshal(data, &rank); err != nil {
		return fmt.Errorf("decode status: %w", err)
	}
	if !Status(rank).Valid() {
		return fmt.Errorf("status rank %d out of range", rank)
	}
	*s = Status(rank)
	return nil
}

// AggregationPolicy decides how scenario statuses fold into one experiment
// status.
type AggregationPolicy string

const (
	// PolicyMinimum reports the lowest rank across scenarios. A FAILED
	// scenario next to a SUCCEEDED one therefore reports SUCCEEDED.
	PolicyMinimum AggregationPolicy = "minimum"

	// PolicyFailureFirst reports FAILED if any scenario failed, then
	// DELETION_IN_PROGRESS if any is being deleted, and otherwise the lowest
	// rank of the remaining scenarios.
	PolicyFailureFirst AggregationPolicy = "failure-first"
)

// ParseAggregationPolicy returns the policy named by s, defaulting to
// PolicyMinimum for an empty string.
func ParseAggregationPolicy(s string) (AggregationPolicy, error) {
	switch AggregationPolicy(strings.ToLower(strings.TrimSpace(s))) {
	case "", PolicyMinimum:
		return PolicyMinimum, nil
	case PolicyFailureFirst:
		return PolicyFailureFirst, nil
	default:
		return "", fmt.Errorf("unknown aggregation policy %q", s)
	}
}

// Aggregate folds statuses into one experiment status. The second return
// value is false when statuses is empty, in which case callers keep the
// previous experiment status.
func Aggregate(policy AggregationPolicy, statuses []Status) (Status, bool) {
	if len(statuses) == 0 {
		return StatusUnspecified, false
	}

	if policy == PolicyFailureFirst {
		var deleting bool
		for _, s := range statuses {
			if s == StatusFailed {
				return StatusFailed, true
			}
			if s == StatusDeletionInProgress {
				deleting = true
			}
		}
		if deleting {
			return StatusDeletionInProgress, true
		}
	}

	lowest := statuses[0]
	for _, s := range statuses[1:] {
		if s < lowest {
			lowest = s
		}
	}
	return lowest, true
}
