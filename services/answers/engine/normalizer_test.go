// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/AleutianAI/AleutianTrust/services/answers/datatypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Mock Claim Checker
// =============================================================================

// MockClaimChecker implements ClaimChecker for testing. When Rewrite is
// empty the request passes through unchanged.
type MockClaimChecker struct {
	Rewrite     string
	ForceReview bool
	Err         error

	CallCount int
	LastReq   ClaimCheckRequest
}

func (m *MockClaimChecker) Check(_ context.Context, req ClaimCheckRequest) (ClaimCheckResult, error) {
	m.CallCount++
	m.LastReq = req
	if m.Err != nil {
		return ClaimCheckResult{}, m.Err
	}
	answer := req.Answer
	if m.Rewrite != "" {
		answer = m.Rewrite
	}
	return ClaimCheckResult{
		Answer:      answer,
		Confidence:  req.Confidence,
		NeedsReview: req.NeedsReview || m.ForceReview,
	}, nil
}

func foundVerdict() datatypes.SufficiencyVerdict {
	value := "AES-256"
	return datatypes.SufficiencyVerdict{
		Requirements: []string{"encryption algorithm"},
		Extracted: []datatypes.ExtractedItem{
			{Requirement: "encryption algorithm", Value: &value, SupportingChunkIDs: []string{"c1"}},
		},
		Overall: datatypes.OverallFound,
	}
}

func citation(id, snippet string) datatypes.Citation {
	return datatypes.Citation{ChunkID: id, DocName: "policy.pdf", QuotedSnippet: snippet}
}

// =============================================================================
// Terminal Invariants
// =============================================================================

// TestNormalize_NoCitationsIsNotFound verifies the core invariant: zero
// citations can never produce a substantive answer.
func TestNormalize_NoCitationsIsNotFound(t *testing.T) {
	n := NewNormalizer(&MockClaimChecker{})

	result, err := n.Normalize(context.Background(), NormalizeInput{
		Question: "How is data encrypted?",
		Draft:    "Data is encrypted with AES-256.",
		Verdict:  foundVerdict(),
	})

	require.NoError(t, err)
	assert.Equal(t, datatypes.NotFoundText, result.Answer)
	assert.Empty(t, result.Citations)
	assert.True(t, result.NeedsReview)
	assert.Equal(t, datatypes.ConfidenceLow, result.Confidence)
	assert.Equal(t, datatypes.ReasonNoRelevantEvidence, result.NotFoundReason)
}

// TestNormalize_SentinelDraftShortCircuits verifies a NOT_FOUND draft exits
// before the guardrail is even consulted.
func TestNormalize_SentinelDraftShortCircuits(t *testing.T) {
	checker := &MockClaimChecker{}
	n := NewNormalizer(checker)

	result, err := n.Normalize(context.Background(), NormalizeInput{
		Question:  "How is data encrypted?",
		Draft:     "not found in provided documents",
		Citations: []datatypes.Citation{citation("c1", "irrelevant")},
		Verdict:   foundVerdict(),
	})

	require.NoError(t, err)
	assert.Equal(t, datatypes.NotFoundText, result.Answer)
	assert.Empty(t, result.Citations)
	assert.Equal(t, 0, checker.CallCount, "sentinel drafts skip the guardrail")
}

// TestNormalize_HappyPathHighConfidence verifies a fully-covered clean
// answer keeps high confidence with no review flag.
func TestNormalize_HappyPathHighConfidence(t *testing.T) {
	n := NewNormalizer(&MockClaimChecker{})

	result, err := n.Normalize(context.Background(), NormalizeInput{
		Question:  "What encryption algorithm protects data at rest?",
		Draft:     "Data at rest is encrypted with AES-256.",
		Citations: []datatypes.Citation{citation("c1", "All data at rest is encrypted with AES-256.")},
		Verdict:   foundVerdict(),
	})

	require.NoError(t, err)
	assert.Equal(t, "Data at rest is encrypted with AES-256.", result.Answer)
	assert.Equal(t, datatypes.ConfidenceHigh, result.Confidence)
	assert.False(t, result.NeedsReview)
	require.Len(t, result.Citations, 1)
}

// =============================================================================
// Guardrail Integration
// =============================================================================

// TestNormalize_ClobberPreventionRestoresDraft verifies that a guardrail
// rewrite to the sentinel is rejected when the extractor certified full
// coverage, at the price of low confidence and forced review.
func TestNormalize_ClobberPreventionRestoresDraft(t *testing.T) {
	checker := &MockClaimChecker{Rewrite: datatypes.NotFoundText}
	n := NewNormalizer(checker)

	draft := "Data at rest is encrypted with AES-256."
	result, err := n.Normalize(context.Background(), NormalizeInput{
		Question:  "What encryption algorithm protects data at rest?",
		Draft:     draft,
		Citations: []datatypes.Citation{citation("c1", "All data at rest is encrypted with AES-256.")},
		Verdict:   foundVerdict(),
	})

	require.NoError(t, err)
	assert.Equal(t, draft, result.Answer, "verified draft must survive an over-aggressive rewrite")
	assert.Equal(t, datatypes.ConfidenceLow, result.Confidence)
	assert.True(t, result.NeedsReview)
	require.Len(t, result.Citations, 1)
}

// TestNormalize_GuardrailRewriteHonoredWithoutFullCoverage verifies that a
// sentinel rewrite stands when the extractor verdict was only PARTIAL.
func TestNormalize_GuardrailRewriteHonoredWithoutFullCoverage(t *testing.T) {
	checker := &MockClaimChecker{Rewrite: datatypes.NotFoundText}
	n := NewNormalizer(checker)

	verdict := foundVerdict()
	verdict.Overall = datatypes.OverallPartial
	result, err := n.Normalize(context.Background(), NormalizeInput{
		Question:  "What encryption algorithm protects data at rest?",
		Draft:     "Data at rest is encrypted with AES-256.",
		Citations: []datatypes.Citation{citation("c1", "All data at rest is encrypted with AES-256.")},
		Verdict:   verdict,
	})

	require.NoError(t, err)
	assert.Equal(t, datatypes.NotFoundText, result.Answer)
	assert.Empty(t, result.Citations)
}

// TestNormalize_GuardrailErrorPropagates verifies a guardrail outage fails
// the question rather than silently skipping verification.
func TestNormalize_GuardrailErrorPropagates(t *testing.T) {
	checker := &MockClaimChecker{Err: errors.New("guardrail unreachable")}
	n := NewNormalizer(checker)

	_, err := n.Normalize(context.Background(), NormalizeInput{
		Question:  "What encryption algorithm protects data at rest?",
		Draft:     "Data at rest is encrypted with AES-256.",
		Citations: []datatypes.Citation{citation("c1", "AES-256 encryption")},
		Verdict:   foundVerdict(),
	})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "guardrail unreachable")
}

// =============================================================================
// Partial Coverage
// =============================================================================

// TestNormalize_PartialVerdictForcesPartialSentinel verifies PARTIAL
// coverage reports the partial sentinel at low confidence with review.
func TestNormalize_PartialVerdictForcesPartialSentinel(t *testing.T) {
	n := NewNormalizer(&MockClaimChecker{})

	verdict := foundVerdict()
	verdict.Overall = datatypes.OverallPartial
	result, err := n.Normalize(context.Background(), NormalizeInput{
		Question:  "What encryption algorithm protects data at rest?",
		Draft:     "Data at rest is encrypted with AES-256.",
		Citations: []datatypes.Citation{citation("c1", "All data at rest is encrypted with AES-256.")},
		Verdict:   verdict,
	})

	require.NoError(t, err)
	assert.Equal(t, datatypes.PartialText, result.Answer)
	assert.True(t, result.NeedsReview)
	assert.Equal(t, datatypes.ConfidenceLow, result.Confidence)
	require.NotEmpty(t, result.Citations, "partial answers keep their citations")
}

// =============================================================================
// Coverage Evaluator
// =============================================================================

// TestNormalize_CoverageMissAppendsNotSpecified verifies an unanswered ask
// is surfaced explicitly and confidence is capped.
func TestNormalize_CoverageMissAppendsNotSpecified(t *testing.T) {
	n := NewNormalizer(&MockClaimChecker{})

	result, err := n.Normalize(context.Background(), NormalizeInput{
		Question:  "How often are access reviews performed?",
		Draft:     "Access reviews are performed for production systems.",
		Citations: []datatypes.Citation{citation("c1", "Access reviews are performed for production systems.")},
		Verdict:   foundVerdict(),
	})

	require.NoError(t, err)
	assert.Contains(t, result.Answer, "Not specified in the cited evidence: frequency")
	assert.True(t, result.NeedsReview)
	assert.Equal(t, datatypes.ConfidenceLow, result.Confidence,
		"capped to med by the miss, then one step down for review")
}

// TestNormalize_CoverageSatisfiedKeepsConfidence verifies the frequency ask
// passes when the evidence states a cadence.
func TestNormalize_CoverageSatisfiedKeepsConfidence(t *testing.T) {
	n := NewNormalizer(&MockClaimChecker{})

	result, err := n.Normalize(context.Background(), NormalizeInput{
		Question:  "How often are access reviews performed?",
		Draft:     "Access reviews are performed quarterly.",
		Citations: []datatypes.Citation{citation("c1", "Access reviews are performed quarterly by the security team.")},
		Verdict:   foundVerdict(),
	})

	require.NoError(t, err)
	assert.NotContains(t, result.Answer, "Not specified")
	assert.Equal(t, datatypes.ConfidenceHigh, result.Confidence)
	assert.False(t, result.NeedsReview)
}

// =============================================================================
// MFA Requirement Rule
// =============================================================================

// TestNormalize_UnsupportedMFARequirementDowngraded verifies a "required"
// claim about MFA is replaced when the evidence only shows "enabled".
func TestNormalize_UnsupportedMFARequirementDowngraded(t *testing.T) {
	n := NewNormalizer(&MockClaimChecker{})

	result, err := n.Normalize(context.Background(), NormalizeInput{
		Question:  "Is multi-factor authentication mandatory for all employees?",
		Draft:     "Multi-factor authentication is required for all employees.",
		Citations: []datatypes.Citation{citation("c1", "Multi-factor authentication is enabled for all employees.")},
		Verdict:   foundVerdict(),
	})

	require.NoError(t, err)
	assert.Equal(t, mfaFallbackText, result.Answer)
	assert.True(t, result.NeedsReview)
	require.NotEmpty(t, result.Citations)
}

// TestNormalize_SupportedMFARequirementStands verifies requirement language
// near the MFA mention lets the claim through.
func TestNormalize_SupportedMFARequirementStands(t *testing.T) {
	n := NewNormalizer(&MockClaimChecker{})

	draft := "Multi-factor authentication is required for all employees."
	result, err := n.Normalize(context.Background(), NormalizeInput{
		Question:  "Is multi-factor authentication mandatory for all employees?",
		Draft:     draft,
		Citations: []datatypes.Citation{citation("c1", "Multi-factor authentication is required for every employee account.")},
		Verdict:   foundVerdict(),
	})

	require.NoError(t, err)
	assert.Equal(t, draft, result.Answer)
	assert.False(t, result.NeedsReview)
}

// =============================================================================
// Citation Relevance
// =============================================================================

// TestNormalize_IrrelevantCitationsBecomeNotFound verifies an answer whose
// cited snippets share no strong keyword with the question is rejected
// entirely.
func TestNormalize_IrrelevantCitationsBecomeNotFound(t *testing.T) {
	n := NewNormalizer(&MockClaimChecker{})

	result, err := n.Normalize(context.Background(), NormalizeInput{
		Question:  "What is your password rotation schedule?",
		Draft:     "Passwords are rotated every 90 days.",
		Citations: []datatypes.Citation{citation("c1", "The office is located in Denver.")},
		Verdict:   foundVerdict(),
	})

	require.NoError(t, err)
	assert.Equal(t, datatypes.NotFoundText, result.Answer)
	assert.Empty(t, result.Citations)
	assert.Equal(t, datatypes.ReasonNoRelevantEvidence, result.NotFoundReason)
}

// TestNormalize_FormatViolationFlagForcesReview verifies a retried draft
// arrives with review set and confidence stepped down.
func TestNormalize_FormatViolationFlagForcesReview(t *testing.T) {
	n := NewNormalizer(&MockClaimChecker{})

	result, err := n.Normalize(context.Background(), NormalizeInput{
		Question:           "What encryption algorithm protects data at rest?",
		Draft:              "Data at rest is encrypted with AES-256.",
		Citations:          []datatypes.Citation{citation("c1", "All data at rest is encrypted with AES-256.")},
		Verdict:            foundVerdict(),
		HadFormatViolation: true,
	})

	require.NoError(t, err)
	assert.True(t, result.NeedsReview)
	assert.Equal(t, datatypes.ConfidenceMed, result.Confidence)
}
