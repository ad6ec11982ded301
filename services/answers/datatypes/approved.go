// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datatypes

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
	"unicode"
)

// ApprovedAnswerCandidate is a previously human-approved answer owned by an
// organization. Candidates are created and edited by approval actions
// outside this service; the reuse matcher only reads them.
type ApprovedAnswerCandidate struct {
	ID                     string    `json:"id"`
	AnswerText             string    `json:"answer_text"`
	CitationChunkIDs       []string  `json:"citation_chunk_ids"`
	NormalizedQuestionText string    `json:"normalized_question_text"`
	QuestionTextHash       string    `json:"question_text_hash"`
	UpdatedAt              time.Time `json:"updated_at"`
}

// MatchType identifies which reuse tier matched a candidate.
type MatchType string

const (
	MatchExact     MatchType = "exact"
	MatchNearExact MatchType = "near_exact"
	MatchSemantic  MatchType = "semantic"
)

// ReusedApprovedAnswer is the derived result of a successful reuse match.
// The matcher never persists it; the caller decides whether to record reuse.
type ReusedApprovedAnswer struct {
	ApprovedAnswerID string     `json:"approved_answer_id"`
	AnswerText       string     `json:"answer_text"`
	Citations        []Citation `json:"citations"`
	MatchType        MatchType  `json:"match_type"`
}

// ApprovedMatch pairs a candidate with the vector similarity the store
// reported for it. Used by the semantic reuse tier.
type ApprovedMatch struct {
	Candidate  ApprovedAnswerCandidate `json:"candidate"`
	Similarity float64                 `json:"similarity"`
}

// NormalizeQuestion canonicalizes question text for exact and near-exact
// matching: lowercase, punctuation stripped, whitespace collapsed.
func NormalizeQuestion(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	for _, r := range strings.ToLower(text) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		} else {
			b.WriteRune(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// QuestionHash returns the deterministic hash of normalized question text
// used by the exact reuse tier.
func QuestionHash(normalized string) string {
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])
}
