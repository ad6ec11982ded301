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
	"testing"
	"time"

	"github.com/AleutianAI/AleutianTrust/services/answers/datatypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Mocks
// =============================================================================

// MockChunkStore implements ChunkStore for testing.
type MockChunkStore struct {
	Chunks map[string]datatypes.Chunk

	TopKResult      []datatypes.Chunk
	TopKErr         error
	OwnedCallCount  int
	LastOwnedOrgID  string
	LastOwnedChunks []string
}

func (m *MockChunkStore) TopK(_ context.Context, _ string, _ []float32, _ int) ([]datatypes.Chunk, error) {
	return m.TopKResult, m.TopKErr
}

func (m *MockChunkStore) OwnedChunks(_ context.Context, orgID string, chunkIDs []string) (map[string]datatypes.Chunk, error) {
	m.OwnedCallCount++
	m.LastOwnedOrgID = orgID
	m.LastOwnedChunks = chunkIDs
	owned := make(map[string]datatypes.Chunk)
	for _, id := range chunkIDs {
		if chunk, ok := m.Chunks[id]; ok {
			owned[id] = chunk
		}
	}
	return owned, nil
}

// MockApprovedSource implements ApprovedAnswerSource for testing.
type MockApprovedSource struct {
	Candidates []datatypes.ApprovedAnswerCandidate
	Matches    []datatypes.ApprovedMatch
	ListErr    error
	SearchErr  error

	SearchCallCount int
}

func (m *MockApprovedSource) ListApproved(_ context.Context, _ string) ([]datatypes.ApprovedAnswerCandidate, error) {
	return m.Candidates, m.ListErr
}

func (m *MockApprovedSource) SearchApprovedByVector(_ context.Context, _ string, _ []float32, _ int) ([]datatypes.ApprovedMatch, error) {
	m.SearchCallCount++
	return m.Matches, m.SearchErr
}

// MockEmbedder implements Embedder for testing.
type MockEmbedder struct {
	Vector    []float32
	Err       error
	CallCount int
}

func (m *MockEmbedder) Embed(_ context.Context, _ string) ([]float32, error) {
	m.CallCount++
	return m.Vector, m.Err
}

func approvedCandidate(id, question string, chunkIDs ...string) datatypes.ApprovedAnswerCandidate {
	normalized := datatypes.NormalizeQuestion(question)
	return datatypes.ApprovedAnswerCandidate{
		ID:                     id,
		AnswerText:             "Approved answer for " + id,
		CitationChunkIDs:       chunkIDs,
		NormalizedQuestionText: normalized,
		QuestionTextHash:       datatypes.QuestionHash(normalized),
	}
}

func approvedCandidateAt(id, question string, updated time.Time, chunkIDs ...string) datatypes.ApprovedAnswerCandidate {
	c := approvedCandidate(id, question, chunkIDs...)
	c.UpdatedAt = updated
	return c
}

func storeWithChunks(ids ...string) *MockChunkStore {
	chunks := make(map[string]datatypes.Chunk)
	for _, id := range ids {
		chunks[id] = datatypes.Chunk{ChunkID: id, DocName: "policy.pdf", QuotedSnippet: "snippet " + id}
	}
	return &MockChunkStore{Chunks: chunks}
}

// =============================================================================
// Tier Ordering
// =============================================================================

// TestReuseMatcher_ExactMatchWins verifies the exact tier runs before the
// semantic tier: identical question text wins without touching embeddings.
func TestReuseMatcher_ExactMatchWins(t *testing.T) {
	question := "Is data encrypted at rest?"
	approved := &MockApprovedSource{
		Candidates: []datatypes.ApprovedAnswerCandidate{
			approvedCandidate("ans-exact", question, "c1"),
		},
	}
	embedder := &MockEmbedder{Vector: []float32{0.1}}
	m := NewReuseMatcher(approved, storeWithChunks("c1"), embedder)

	reused, err := m.Match(context.Background(), "org-1", question)

	require.NoError(t, err)
	require.NotNil(t, reused)
	assert.Equal(t, "ans-exact", reused.ApprovedAnswerID)
	assert.Equal(t, datatypes.MatchExact, reused.MatchType)
	require.Len(t, reused.Citations, 1)
	assert.Equal(t, "c1", reused.Citations[0].ChunkID)
	assert.Equal(t, 0, embedder.CallCount, "exact matches must not reach the semantic tier")
}

// TestReuseMatcher_ExactIgnoresPunctuationAndCase verifies the normalized
// comparison.
func TestReuseMatcher_ExactIgnoresPunctuationAndCase(t *testing.T) {
	approved := &MockApprovedSource{
		Candidates: []datatypes.ApprovedAnswerCandidate{
			approvedCandidate("ans-1", "Is data encrypted at rest?", "c1"),
		},
	}
	m := NewReuseMatcher(approved, storeWithChunks("c1"), &MockEmbedder{})

	reused, err := m.Match(context.Background(), "org-1", "  IS DATA ENCRYPTED AT REST  ")

	require.NoError(t, err)
	require.NotNil(t, reused)
	assert.Equal(t, datatypes.MatchExact, reused.MatchType)
}

// TestReuseMatcher_NearExactMatch verifies the Dice tier catches minor
// rewording above the threshold.
func TestReuseMatcher_NearExactMatch(t *testing.T) {
	approved := &MockApprovedSource{
		Candidates: []datatypes.ApprovedAnswerCandidate{
			approvedCandidate("ans-near",
				"Is all customer data encrypted at rest using strong industry standard encryption algorithms today", "c1"),
		},
	}
	m := NewReuseMatcher(approved, storeWithChunks("c1"), &MockEmbedder{})

	// Same token set minus one word out of 14: Dice = 2*13/27 ~ 0.963.
	reused, err := m.Match(context.Background(), "org-1",
		"Is all customer data encrypted at rest using strong industry standard encryption algorithms")

	require.NoError(t, err)
	require.NotNil(t, reused)
	assert.Equal(t, "ans-near", reused.ApprovedAnswerID)
	assert.Equal(t, datatypes.MatchNearExact, reused.MatchType)
}

// TestReuseMatcher_SemanticMatchAboveThreshold verifies the vector tier.
func TestReuseMatcher_SemanticMatchAboveThreshold(t *testing.T) {
	semantic := approvedCandidate("ans-sem", "How do you protect stored information?", "c2")
	approved := &MockApprovedSource{
		Matches: []datatypes.ApprovedMatch{
			{Candidate: semantic, Similarity: 0.91},
		},
	}
	m := NewReuseMatcher(approved, storeWithChunks("c2"), &MockEmbedder{Vector: []float32{0.5}})

	reused, err := m.Match(context.Background(), "org-1", "Is data encrypted at rest?")

	require.NoError(t, err)
	require.NotNil(t, reused)
	assert.Equal(t, "ans-sem", reused.ApprovedAnswerID)
	assert.Equal(t, datatypes.MatchSemantic, reused.MatchType)
}

// TestReuseMatcher_SemanticBelowThresholdIsMiss verifies similarity under
// the floor produces no reuse.
func TestReuseMatcher_SemanticBelowThresholdIsMiss(t *testing.T) {
	approved := &MockApprovedSource{
		Matches: []datatypes.ApprovedMatch{
			{Candidate: approvedCandidate("ans-weak", "Different question entirely", "c2"), Similarity: 0.70},
		},
	}
	m := NewReuseMatcher(approved, storeWithChunks("c2"), &MockEmbedder{Vector: []float32{0.5}})

	reused, err := m.Match(context.Background(), "org-1", "Is data encrypted at rest?")

	require.NoError(t, err)
	assert.Nil(t, reused)
}

// =============================================================================
// Recency Ordering
// =============================================================================

// TestReuseMatcher_ExactTierPrefersMostRecent verifies the exact tier tries
// candidates most-recently-updated first, regardless of list order.
func TestReuseMatcher_ExactTierPrefersMostRecent(t *testing.T) {
	question := "Is data encrypted at rest?"
	older := approvedCandidateAt("ans-old", question,
		time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC), "c1")
	newer := approvedCandidateAt("ans-new", question,
		time.Date(2026, 3, 5, 0, 0, 0, 0, time.UTC), "c1")

	approved := &MockApprovedSource{
		Candidates: []datatypes.ApprovedAnswerCandidate{older, newer},
	}
	m := NewReuseMatcher(approved, storeWithChunks("c1"), &MockEmbedder{})

	reused, err := m.Match(context.Background(), "org-1", question)

	require.NoError(t, err)
	require.NotNil(t, reused)
	assert.Equal(t, "ans-new", reused.ApprovedAnswerID,
		"the most-recently-updated candidate wins the exact tier")
}

// TestReuseMatcher_NearExactTieBreaksByRecency verifies equal Dice scores
// are broken by update time, not list position.
func TestReuseMatcher_NearExactTieBreaksByRecency(t *testing.T) {
	stored := "Is all customer data encrypted at rest using strong industry standard encryption algorithms today"
	older := approvedCandidateAt("ans-old", stored,
		time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC), "c1")
	newer := approvedCandidateAt("ans-new", stored,
		time.Date(2026, 3, 5, 0, 0, 0, 0, time.UTC), "c1")

	approved := &MockApprovedSource{
		Candidates: []datatypes.ApprovedAnswerCandidate{older, newer},
	}
	m := NewReuseMatcher(approved, storeWithChunks("c1"), &MockEmbedder{})

	reused, err := m.Match(context.Background(), "org-1",
		"Is all customer data encrypted at rest using strong industry standard encryption algorithms")

	require.NoError(t, err)
	require.NotNil(t, reused)
	assert.Equal(t, datatypes.MatchNearExact, reused.MatchType)
	assert.Equal(t, "ans-new", reused.ApprovedAnswerID,
		"score ties fall to the most-recently-updated candidate")
}

// =============================================================================
// Answer-Text Usability
// =============================================================================

// TestReuseMatcher_NotFoundAnswerTextRejected verifies an approved answer
// whose text is the NOT_FOUND sentinel is never reused, even with
// resolvable citations.
func TestReuseMatcher_NotFoundAnswerTextRejected(t *testing.T) {
	question := "Is data encrypted at rest?"
	candidate := approvedCandidate("ans-notfound", question, "c1")
	candidate.AnswerText = datatypes.NotFoundText

	store := storeWithChunks("c1")
	approved := &MockApprovedSource{
		Candidates: []datatypes.ApprovedAnswerCandidate{candidate},
	}
	m := NewReuseMatcher(approved, store, &MockEmbedder{Vector: []float32{0.5}})

	reused, err := m.Match(context.Background(), "org-1", question)

	require.NoError(t, err)
	assert.Nil(t, reused)
	assert.Equal(t, 0, store.OwnedCallCount,
		"unusable answer text is rejected before citations are resolved")
}

// TestReuseMatcher_EmptyAnswerTextRejected verifies an approved answer with
// blank text is never reused.
func TestReuseMatcher_EmptyAnswerTextRejected(t *testing.T) {
	question := "Is data encrypted at rest?"
	candidate := approvedCandidate("ans-blank", question, "c1")
	candidate.AnswerText = "   "

	approved := &MockApprovedSource{
		Candidates: []datatypes.ApprovedAnswerCandidate{candidate},
	}
	m := NewReuseMatcher(approved, storeWithChunks("c1"), &MockEmbedder{Vector: []float32{0.5}})

	reused, err := m.Match(context.Background(), "org-1", question)

	require.NoError(t, err)
	assert.Nil(t, reused)
}

// TestReuseMatcher_UnusableNewestFallsBackToOlder verifies an unusable
// most-recent candidate is skipped in favor of the next usable one within
// the same tier.
func TestReuseMatcher_UnusableNewestFallsBackToOlder(t *testing.T) {
	question := "Is data encrypted at rest?"
	older := approvedCandidateAt("ans-old", question,
		time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC), "c1")
	newer := approvedCandidateAt("ans-new", question,
		time.Date(2026, 3, 5, 0, 0, 0, 0, time.UTC), "c1")
	newer.AnswerText = datatypes.NotFoundText

	approved := &MockApprovedSource{
		Candidates: []datatypes.ApprovedAnswerCandidate{older, newer},
	}
	m := NewReuseMatcher(approved, storeWithChunks("c1"), &MockEmbedder{})

	reused, err := m.Match(context.Background(), "org-1", question)

	require.NoError(t, err)
	require.NotNil(t, reused)
	assert.Equal(t, "ans-old", reused.ApprovedAnswerID)
	assert.Equal(t, datatypes.MatchExact, reused.MatchType)
}

// =============================================================================
// Stale Candidates
// =============================================================================

// TestReuseMatcher_StaleCandidateSkippedNotRetried verifies a candidate
// whose citations no longer resolve is rejected once and never looked up
// again, and the next tier can still produce a match.
func TestReuseMatcher_StaleCandidateSkippedNotRetried(t *testing.T) {
	question := "Is data encrypted at rest?"
	stale := approvedCandidate("ans-stale", question, "gone-1")
	fresh := approvedCandidate("ans-fresh", "How do you protect stored data?", "c2")

	store := storeWithChunks("c2")
	approved := &MockApprovedSource{
		Candidates: []datatypes.ApprovedAnswerCandidate{stale},
		Matches: []datatypes.ApprovedMatch{
			{Candidate: stale, Similarity: 0.95},
			{Candidate: fresh, Similarity: 0.90},
		},
	}
	m := NewReuseMatcher(approved, store, &MockEmbedder{Vector: []float32{0.5}})

	reused, err := m.Match(context.Background(), "org-1", question)

	require.NoError(t, err)
	require.NotNil(t, reused)
	assert.Equal(t, "ans-fresh", reused.ApprovedAnswerID,
		"the stale exact match must fall through to the next resolvable candidate")
	assert.Equal(t, 2, store.OwnedCallCount,
		"the stale candidate is resolved once, then skipped from the rejected set")
}

// TestReuseMatcher_MemoizedResolutionWithinInstance verifies a candidate's
// citations are resolved at most once per matcher instance.
func TestReuseMatcher_MemoizedResolutionWithinInstance(t *testing.T) {
	question := "Is data encrypted at rest?"
	candidate := approvedCandidate("ans-1", question, "c1")

	store := storeWithChunks("c1")
	approved := &MockApprovedSource{
		Candidates: []datatypes.ApprovedAnswerCandidate{candidate},
	}
	m := NewReuseMatcher(approved, store, &MockEmbedder{})

	first, err := m.Match(context.Background(), "org-1", question)
	require.NoError(t, err)
	require.NotNil(t, first)

	second, err := m.Match(context.Background(), "org-1", question)
	require.NoError(t, err)
	require.NotNil(t, second)

	assert.Equal(t, 1, store.OwnedCallCount,
		"repeated matches within one instance reuse the memoized citations")
}

// TestReuseMatcher_CandidateWithoutCitationsRejected verifies an approved
// answer with no citation ids is never reused.
func TestReuseMatcher_CandidateWithoutCitationsRejected(t *testing.T) {
	question := "Is data encrypted at rest?"
	approved := &MockApprovedSource{
		Candidates: []datatypes.ApprovedAnswerCandidate{
			approvedCandidate("ans-bare", question),
		},
	}
	m := NewReuseMatcher(approved, storeWithChunks(), &MockEmbedder{Vector: []float32{0.5}})

	reused, err := m.Match(context.Background(), "org-1", question)

	require.NoError(t, err)
	assert.Nil(t, reused)
}

// =============================================================================
// Dice Similarity
// =============================================================================

// TestDiceSimilarity covers the coefficient arithmetic.
func TestDiceSimilarity(t *testing.T) {
	a := tokenSet("is data encrypted at rest")
	b := tokenSet("is data encrypted at rest")
	assert.InDelta(t, 1.0, diceSimilarity(a, b), 1e-9)

	c := tokenSet("completely different words entirely here")
	assert.InDelta(t, 0.0, diceSimilarity(a, c), 1e-9)

	assert.Equal(t, 0.0, diceSimilarity(a, tokenSet("")))
}
