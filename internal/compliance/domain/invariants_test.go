package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAssertSubmissionIncrement(t *testing.T) {
	assert.NoError(t, AssertSubmissionIncrement(0, 1))
	assert.NoError(t, AssertSubmissionIncrement(4, 5))
	assert.ErrorIs(t, AssertSubmissionIncrement(1, 1), ErrInvariantViolation)
	assert.ErrorIs(t, AssertSubmissionIncrement(1, 3), ErrInvariantViolation)
}

func TestAssertLinesUnchanged(t *testing.T) {
	before := []ComplianceLine{{ID: 1, ItemID: "item-1", Quantity: 1, UnitPrice: 100, TaxAmount: 16}}

	changed := []ComplianceLine{before[0].Clone()}
	changed[0].Quantity = 2

	assert.NoError(t, AssertLinesUnchanged(StatusDraft, before, changed))
	assert.NoError(t, AssertLinesUnchanged(StatusCancelled, before, changed))
	assert.ErrorIs(t, AssertLinesUnchanged(StatusValidated, before, changed), ErrInvariantViolation)
	assert.ErrorIs(t, AssertLinesUnchanged(StatusReadyForSubmission, before, nil), ErrInvariantViolation)

	enriched := []ComplianceLine{before[0].Clone()}
	enriched[0].UnitCodeSnapshot = StringPtr("U")
	assert.NoError(t, AssertLinesUnchanged(StatusValidated, before, enriched))
}

func TestFillMissingSnapshots_OnlyBlankFields(t *testing.T) {
	line := ComplianceLine{
		ClassificationCodeSnapshot: StringPtr("ORIGINAL"),
		UnitCodeSnapshot:           StringPtr("  "),
	}
	item := ComplianceItem{
		ClassificationCode: StringPtr("CHANGED"),
		UnitCode:           StringPtr("U"),
		TaxTyCd:            StringPtr("B"),
	}
	before := []ComplianceLine{line.Clone()}

	changed := line.FillMissingSnapshots(item)

	assert.True(t, changed)
	assert.Equal(t, "ORIGINAL", StringValue(line.ClassificationCodeSnapshot))
	assert.Equal(t, "U", StringValue(line.UnitCodeSnapshot))
	assert.Equal(t, "B", StringValue(line.TaxTyCdSnapshot))
	assert.Nil(t, line.PackagingUnitCodeSnapshot)
	assert.NoError(t, AssertSnapshotsPreserved(before, []ComplianceLine{line}))

	assert.False(t, line.FillMissingSnapshots(item))
}

func TestAssertSnapshotsPreserved_DetectsOverwrite(t *testing.T) {
	before := []ComplianceLine{{TaxTyCdSnapshot: StringPtr("B")}}
	after := []ComplianceLine{{TaxTyCdSnapshot: StringPtr("D")}}
	assert.ErrorIs(t, AssertSnapshotsPreserved(before, after), ErrInvariantViolation)
}

func TestIdempotencyKey(t *testing.T) {
	key := IdempotencyKey("merchant-1", "INV-123", DocumentTypeSale)
	assert.Equal(t, "merchant-1:INV-123:SALE", key)
	assert.Equal(t, key, IdempotencyKey("merchant-1", "INV-123", DocumentTypeSale))
	assert.NotEqual(t, key, IdempotencyKey("merchant-1", "INV-123", DocumentTypeCreditNote))
}

func TestSubmissionResult_Retryable(t *testing.T) {
	assert.True(t, SubmissionResult{Error: "retryable: timeout"}.Retryable())
	assert.True(t, SubmissionResult{Error: "Retryable: HTTP 503"}.Retryable())
	assert.True(t, SubmissionResult{Error: "gateway busy", Transient: true}.Retryable())
	assert.False(t, SubmissionResult{Error: "invalid pin"}.Retryable())
	assert.False(t, SubmissionResult{Success: true, Transient: true}.Retryable())

	failure := RetryableFailure("timeout", nil)
	assert.Equal(t, "retryable: timeout", failure.Error)
	assert.True(t, failure.Retryable())
}
