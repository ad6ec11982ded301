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
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/AleutianAI/AleutianTrust/services/answers/datatypes"
	"go.opentelemetry.io/otel/attribute"
)

// Reuse thresholds. Near-exact uses the Dice coefficient over token sets,
// semantic uses embedding similarity from the vector store.
const (
	nearExactThreshold     = 0.93
	semanticThreshold      = 0.88
	semanticCandidateLimit = 12
)

// ReuseMatcher finds an approved answer that can be reused verbatim for a
// new question, in three tiers:
//
//  1. exact: identical normalized question text (sha256 hash match)
//  2. near-exact: Dice token-set similarity >= 0.93
//  3. semantic: embedding similarity >= 0.88 over the top candidates
//
// Within a tier, candidates are tried most-recently-updated first (near-exact
// orders by score first, recency second). A candidate is reusable only if its
// answer text is non-empty and not the NOT_FOUND sentinel AND every citation
// chunk id still resolves within the organization.
//
// A matcher instance may serve one question or a whole batch. Candidate
// usability checks are memoized per instance, and a candidate that fails
// one is marked rejected and never retried, even if a later tier or a later
// question surfaces it again.
type ReuseMatcher struct {
	approved ApprovedAnswerSource
	store    ChunkStore
	embedder Embedder

	resolved map[string][]datatypes.Citation
	rejected map[string]struct{}
}

// NewReuseMatcher creates a matcher for one question's reuse lookup.
func NewReuseMatcher(approved ApprovedAnswerSource, store ChunkStore, embedder Embedder) *ReuseMatcher {
	return &ReuseMatcher{
		approved: approved,
		store:    store,
		embedder: embedder,
		resolved: make(map[string][]datatypes.Citation),
		rejected: make(map[string]struct{}),
	}
}

// Match runs the tiers in order and returns the first reusable answer, or
// nil if nothing matches. Tier order is a correctness property: an exact
// match must win over a semantically-similar different question.
func (m *ReuseMatcher) Match(ctx context.Context, orgID, questionText string) (*datatypes.ReusedApprovedAnswer, error) {
	ctx, span := tracer.Start(ctx, "ReuseMatcher.Match")
	defer span.End()

	normalized := datatypes.NormalizeQuestion(questionText)
	if normalized == "" {
		return nil, nil
	}

	candidates, err := m.approved.ListApproved(ctx, orgID)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to list approved answers: %w", err)
	}

	if reused := m.matchExact(ctx, orgID, normalized, candidates); reused != nil {
		span.SetAttributes(attribute.String("reuse.match_type", string(reused.MatchType)))
		return reused, nil
	}
	if reused := m.matchNearExact(ctx, orgID, normalized, candidates); reused != nil {
		span.SetAttributes(attribute.String("reuse.match_type", string(reused.MatchType)))
		return reused, nil
	}

	reused, err := m.matchSemantic(ctx, orgID, questionText)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if reused != nil {
		span.SetAttributes(attribute.String("reuse.match_type", string(reused.MatchType)))
	}
	return reused, nil
}

// matchExact tries candidates with identical normalized question text,
// most-recently-updated first.
func (m *ReuseMatcher) matchExact(ctx context.Context, orgID, normalized string, candidates []datatypes.ApprovedAnswerCandidate) *datatypes.ReusedApprovedAnswer {
	hash := datatypes.QuestionHash(normalized)
	var matched []datatypes.ApprovedAnswerCandidate
	for _, c := range candidates {
		if c.QuestionTextHash == hash || c.NormalizedQuestionText == normalized {
			matched = append(matched, c)
		}
	}
	sortByRecency(matched)

	for _, c := range matched {
		if citations, ok := m.resolveCitations(ctx, orgID, c); ok {
			return &datatypes.ReusedApprovedAnswer{
				ApprovedAnswerID: c.ID,
				AnswerText:       c.AnswerText,
				Citations:        citations,
				MatchType:        datatypes.MatchExact,
			}
		}
	}
	return nil
}

// matchNearExact tries candidates at or above the Dice threshold, ordered
// by score descending with recency breaking ties, falling through past
// unusable candidates.
func (m *ReuseMatcher) matchNearExact(ctx context.Context, orgID, normalized string, candidates []datatypes.ApprovedAnswerCandidate) *datatypes.ReusedApprovedAnswer {
	questionTokens := tokenSet(normalized)
	if len(questionTokens) == 0 {
		return nil
	}

	type scoredCandidate struct {
		candidate datatypes.ApprovedAnswerCandidate
		score     float64
	}
	var scored []scoredCandidate
	for _, c := range candidates {
		score := diceSimilarity(questionTokens, tokenSet(c.NormalizedQuestionText))
		if score >= nearExactThreshold {
			scored = append(scored, scoredCandidate{candidate: c, score: score})
		}
	}
	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].score != scored[j].score {
			return scored[i].score > scored[j].score
		}
		a, b := scored[i].candidate, scored[j].candidate
		if !a.UpdatedAt.Equal(b.UpdatedAt) {
			return a.UpdatedAt.After(b.UpdatedAt)
		}
		return a.ID < b.ID
	})

	for _, sc := range scored {
		if citations, ok := m.resolveCitations(ctx, orgID, sc.candidate); ok {
			return &datatypes.ReusedApprovedAnswer{
				ApprovedAnswerID: sc.candidate.ID,
				AnswerText:       sc.candidate.AnswerText,
				Citations:        citations,
				MatchType:        datatypes.MatchNearExact,
			}
		}
	}
	return nil
}

// sortByRecency orders candidates most-recently-updated first, ties broken
// by id for determinism.
func sortByRecency(candidates []datatypes.ApprovedAnswerCandidate) {
	sort.SliceStable(candidates, func(i, j int) bool {
		if !candidates[i].UpdatedAt.Equal(candidates[j].UpdatedAt) {
			return candidates[i].UpdatedAt.After(candidates[j].UpdatedAt)
		}
		return candidates[i].ID < candidates[j].ID
	})
}

func (m *ReuseMatcher) matchSemantic(ctx context.Context, orgID, questionText string) (*datatypes.ReusedApprovedAnswer, error) {
	vector, err := m.embedder.Embed(ctx, questionText)
	if err != nil {
		return nil, fmt.Errorf("failed to embed question for reuse lookup: %w", err)
	}

	matches, err := m.approved.SearchApprovedByVector(ctx, orgID, vector, semanticCandidateLimit)
	if err != nil {
		return nil, fmt.Errorf("approved-answer vector search failed: %w", err)
	}

	// Matches arrive ordered by similarity descending; the first candidate
	// above threshold with resolvable citations wins.
	for _, match := range matches {
		if match.Similarity < semanticThreshold {
			break
		}
		if citations, ok := m.resolveCitations(ctx, orgID, match.Candidate); ok {
			return &datatypes.ReusedApprovedAnswer{
				ApprovedAnswerID: match.Candidate.ID,
				AnswerText:       match.Candidate.AnswerText,
				Citations:        citations,
				MatchType:        datatypes.MatchSemantic,
			}, nil
		}
	}
	return nil, nil
}

// resolveCitations decides whether a candidate is reusable and resolves its
// citations: the answer text must be non-empty and not the NOT_FOUND
// sentinel, and every citation chunk id must resolve within the
// organization. Results and rejections are memoized per matcher instance:
// a candidate is looked up at most once, and an unusable one is skipped
// everywhere.
func (m *ReuseMatcher) resolveCitations(ctx context.Context, orgID string, c datatypes.ApprovedAnswerCandidate) ([]datatypes.Citation, bool) {
	if _, bad := m.rejected[c.ID]; bad {
		return nil, false
	}
	if citations, ok := m.resolved[c.ID]; ok {
		return citations, true
	}

	if strings.TrimSpace(c.AnswerText) == "" || datatypes.IsNotFoundText(c.AnswerText) {
		slog.Info("approved answer has no reusable text, rejecting",
			"approved_answer_id", c.ID)
		m.rejected[c.ID] = struct{}{}
		return nil, false
	}
	if len(c.CitationChunkIDs) == 0 {
		m.rejected[c.ID] = struct{}{}
		return nil, false
	}

	owned, err := m.store.OwnedChunks(ctx, orgID, c.CitationChunkIDs)
	if err != nil {
		slog.Warn("citation resolution failed, rejecting candidate",
			"approved_answer_id", c.ID, "error", err)
		m.rejected[c.ID] = struct{}{}
		return nil, false
	}

	citations := make([]datatypes.Citation, 0, len(c.CitationChunkIDs))
	for _, id := range c.CitationChunkIDs {
		chunk, ok := owned[id]
		if !ok {
			slog.Info("approved answer cites a missing chunk, rejecting",
				"approved_answer_id", c.ID, "chunk_id", id)
			m.rejected[c.ID] = struct{}{}
			return nil, false
		}
		citations = append(citations, datatypes.Citation{
			ChunkID:       chunk.ChunkID,
			DocName:       chunk.DocName,
			QuotedSnippet: chunk.QuotedSnippet,
		})
	}

	m.resolved[c.ID] = citations
	return citations, true
}

// tokenSet splits normalized question text into its unique tokens.
func tokenSet(normalized string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, token := range strings.Fields(normalized) {
		set[token] = struct{}{}
	}
	return set
}

// diceSimilarity is the Sørensen–Dice coefficient over two token sets.
func diceSimilarity(a, b map[string]struct{}) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	shared := 0
	for token := range a {
		if _, ok := b[token]; ok {
			shared++
		}
	}
	return 2.0 * float64(shared) / float64(len(a)+len(b))
}
