// Package validation checks encoded packet streams and output files.
package validation

import "fmt"

// Result contains the overall validation result.
type Result struct {
	IsDTSMonotonic   bool
	IsDTSNotAfterPTS bool
	IsPTSComplete    bool
	IsFirstKeyframe  bool
	HasHeader        bool
	IsFileCorrect    bool

	// Details
	Packets    int
	Keyframes  int
	Missing    []int64
	Duplicates []int64
	Unexpected []int64

	DTSMessage      string
	OrderMessage    string
	PTSMessage      string
	KeyframeMessage string
	HeaderMessage   string
	FileMessage     string
}

// ValidationStep represents a single validation check.
type ValidationStep struct {
	Name    string
	Passed  bool
	Details string
}

// IsValid returns true if all validation checks passed.
func (r *Result) IsValid() bool {
	return r.IsDTSMonotonic &&
		r.IsDTSNotAfterPTS &&
		r.IsPTSComplete &&
		r.IsFirstKeyframe &&
		r.HasHeader &&
		r.IsFileCorrect
}

// GetValidationSteps returns all validation steps with results.
func (r *Result) GetValidationSteps() []ValidationStep {
	return []ValidationStep{
		{Name: "Decode order", Passed: r.IsDTSMonotonic, Details: r.DTSMessage},
		{Name: "DTS before PTS", Passed: r.IsDTSNotAfterPTS, Details: r.OrderMessage},
		{Name: "Timestamps", Passed: r.IsPTSComplete, Details: r.PTSMessage},
		{Name: "First keyframe", Passed: r.IsFirstKeyframe, Details: r.KeyframeMessage},
		{Name: "Stream header", Passed: r.HasHeader, Details: r.HeaderMessage},
		{Name: "Output file", Passed: r.IsFileCorrect, Details: r.FileMessage},
	}
}

// GetFailures returns descriptions of failed validation checks.
func (r *Result) GetFailures() []string {
	var failures []string
	for _, step := range r.GetValidationSteps() {
		if !step.Passed {
			failures = append(failures, step.Name+": "+step.Details)
		}
	}
	return failures
}

// formatTimestamps lists at most a handful of timestamps.
func formatTimestamps(ts []int64) string {
	const limit = 5
	if len(ts) <= limit {
		return fmt.Sprint(ts)
	}
	return fmt.Sprintf("%v and %d more", ts[:limit], len(ts)-limit)
}
