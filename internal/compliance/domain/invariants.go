package domain

import (
	"fmt"
	"math"
)

// AmountTolerance is the absolute tolerance used for all monetary comparisons.
const AmountTolerance = 0.01

// WithinTolerance reports whether a and b differ by at most AmountTolerance.
func WithinTolerance(a, b float64) bool {
	return math.Abs(a-b) <= AmountTolerance+1e-9
}

// LinesMutable reports whether lines may still change in the given status.
func LinesMutable(status ComplianceStatus) bool {
	return status == StatusDraft || status == StatusCancelled
}

// AssertSubmissionIncrement fails unless next == previous+1.
func AssertSubmissionIncrement(previous, next int) error {
	if next != previous+1 {
		return fmt.Errorf("%w: submissionAttempts must increase by exactly 1 (was %d, now %d)",
			ErrInvariantViolation, previous, next)
	}
	return nil
}

// AssertLinesUnchanged fails when a document outside DRAFT/CANCELLED has lines
// whose commercial content differs from before. Snapshot fields are excluded
// here because prepare may fill blank ones; AssertSnapshotsPreserved covers them.
func AssertLinesUnchanged(status ComplianceStatus, before, after []ComplianceLine) error {
	if LinesMutable(status) {
		return nil
	}
	if len(before) != len(after) {
		return fmt.Errorf("%w: lines added or removed in status %s", ErrInvariantViolation, status)
	}
	for i := range before {
		b, a := before[i], after[i]
		if b.ID != a.ID || b.ItemID != a.ItemID || b.Quantity != a.Quantity ||
			b.UnitPrice != a.UnitPrice || b.TaxAmount != a.TaxAmount ||
			b.TaxCategory != a.TaxCategory || b.Description != a.Description {
			return fmt.Errorf("%w: line %d modified in status %s", ErrInvariantViolation, i, status)
		}
	}
	return nil
}

// AssertSnapshotsPreserved fails when a populated snapshot value was replaced.
func AssertSnapshotsPreserved(before, after []ComplianceLine) error {
	if len(before) != len(after) {
		return fmt.Errorf("%w: line count changed during enrichment", ErrInvariantViolation)
	}
	for i := range before {
		pairs := [][2]*string{
			{before[i].ClassificationCodeSnapshot, after[i].ClassificationCodeSnapshot},
			{before[i].UnitCodeSnapshot, after[i].UnitCodeSnapshot},
			{before[i].PackagingUnitCodeSnapshot, after[i].PackagingUnitCodeSnapshot},
			{before[i].TaxTyCdSnapshot, after[i].TaxTyCdSnapshot},
			{before[i].ProductTypeCodeSnapshot, after[i].ProductTypeCodeSnapshot},
		}
		for _, p := range pairs {
			if IsBlank(p[0]) {
				continue
			}
			if StringValue(p[0]) != StringValue(p[1]) {
				return fmt.Errorf("%w: snapshot on line %d overwritten", ErrInvariantViolation, i)
			}
		}
	}
	return nil
}
