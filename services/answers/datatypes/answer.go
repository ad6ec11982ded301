// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package datatypes defines the data model shared by the answer engine,
// its Weaviate store, and the HTTP surface.
package datatypes

import "strings"

// Sentinel answer texts. These are fixed strings: the generator is
// instructed to emit NotFoundText verbatim when the evidence does not
// support an answer, and the normalizer compares against both sentinels
// (exactly and whitespace-normalized).
const (
	// NotFoundText is the canonical answer when no grounded answer exists.
	NotFoundText = "Not found in provided documents."

	// PartialText is the canonical answer when only part of the question's
	// requirements are covered by the evidence.
	PartialText = "Not specified in provided documents."
)

// Confidence expresses how strongly an answer is supported by evidence.
type Confidence string

const (
	ConfidenceLow  Confidence = "low"
	ConfidenceMed  Confidence = "med"
	ConfidenceHigh Confidence = "high"
)

// Downgrade returns the confidence one step lower. Low stays low.
func (c Confidence) Downgrade() Confidence {
	switch c {
	case ConfidenceHigh:
		return ConfidenceMed
	case ConfidenceMed:
		return ConfidenceLow
	default:
		return ConfidenceLow
	}
}

// CapAtMed returns the confidence, reduced to med if it was high.
func (c Confidence) CapAtMed() Confidence {
	if c == ConfidenceHigh {
		return ConfidenceMed
	}
	return c
}

// NotFoundReason explains why the engine returned the NOT_FOUND sentinel.
type NotFoundReason string

const (
	// ReasonNoRelevantEvidence: retrieval succeeded but the sufficiency
	// extractor (or a downstream guard) found no usable evidence.
	ReasonNoRelevantEvidence NotFoundReason = "NO_RELEVANT_EVIDENCE"

	// ReasonRetrievalBelowThreshold: the best raw vector similarity was
	// below the relevance floor, or retrieval returned nothing at all.
	ReasonRetrievalBelowThreshold NotFoundReason = "RETRIEVAL_BELOW_THRESHOLD"

	// ReasonFilteredAsIrrelevant: chunks were retrieved with acceptable
	// similarity but none survived the lexical relevance filter.
	ReasonFilteredAsIrrelevant NotFoundReason = "FILTERED_AS_IRRELEVANT"
)

// Chunk is a retrievable unit of document text as returned by the chunk
// store. Chunks are owned by the document collection and are never mutated
// by the answer engine.
type Chunk struct {
	ChunkID       string  `json:"chunk_id"`
	DocName       string  `json:"doc_name"`
	FullContent   string  `json:"full_content"`
	QuotedSnippet string  `json:"quoted_snippet"`
	Similarity    float64 `json:"similarity"`
}

// ScoredChunk is a Chunk plus the reranker's transient scoring artifacts.
// Its lifetime is a single answer request.
type ScoredChunk struct {
	Chunk

	LexicalOverlapCount int     `json:"lexical_overlap_count"`
	LexicalScore        float64 `json:"lexical_score"`
	FinalScore          float64 `json:"final_score"`
}

// Citation references a chunk as support for part of an answer. Final
// citations are always a subset of the chunks shown to the generator.
type Citation struct {
	ChunkID       string `json:"chunk_id"`
	DocName       string `json:"doc_name"`
	QuotedSnippet string `json:"quoted_snippet"`
}

// EvidenceAnswer is the terminal artifact of one answer invocation.
//
// Invariant: Citations is empty if and only if Answer equals NotFoundText.
// An empty-citation result is always downgraded to the NOT_FOUND sentinel
// before it leaves the engine.
type EvidenceAnswer struct {
	Answer         string         `json:"answer"`
	Citations      []Citation     `json:"citations"`
	Confidence     Confidence     `json:"confidence"`
	NeedsReview    bool           `json:"needs_review"`
	NotFoundReason NotFoundReason `json:"not_found_reason,omitempty"`
}

// NotFoundAnswer builds the canonical NOT_FOUND sentinel answer.
// It is the single value returned whenever any pipeline invariant fails.
func NotFoundAnswer(reason NotFoundReason) EvidenceAnswer {
	return EvidenceAnswer{
		Answer:         NotFoundText,
		Citations:      nil,
		Confidence:     ConfidenceLow,
		NeedsReview:    true,
		NotFoundReason: reason,
	}
}

// IsNotFoundText reports whether s is the NOT_FOUND sentinel, either
// exactly or after whitespace/case normalization. Trailing punctuation is
// ignored so "not found in provided documents" still matches.
func IsNotFoundText(s string) bool {
	return fuzzyEquals(s, NotFoundText)
}

// IsPartialText reports whether s is the partial-answer sentinel.
func IsPartialText(s string) bool {
	return fuzzyEquals(s, PartialText)
}

func fuzzyEquals(s, sentinel string) bool {
	if s == sentinel {
		return true
	}
	return normalizeSentence(s) == normalizeSentence(sentinel)
}

func normalizeSentence(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.TrimRight(s, ".!")
	return strings.Join(strings.Fields(s), " ")
}
