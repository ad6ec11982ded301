// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package store

import (
	"testing"
	"time"

	"github.com/AleutianAI/AleutianTrust/services/answers/datatypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/weaviate/weaviate/entities/models"
)

// =============================================================================
// Response Parsing Tests
// =============================================================================

// TestParseGraphQLResponse_EvidenceChunks verifies a raw Weaviate response
// round-trips into typed chunks with certainty mapped to cosine similarity.
func TestParseGraphQLResponse_EvidenceChunks(t *testing.T) {
	resp := &models.GraphQLResponse{
		Data: map[string]models.JSONObject{
			"Get": map[string]any{
				"EvidenceChunk": []any{
					map[string]any{
						"chunk_id": "c1",
						"doc_name": "security-policy.pdf",
						"content":  "All data is encrypted at rest with AES-256.",
						"snippet":  "encrypted at rest with AES-256",
						"org_id":   "org-1",
						"_additional": map[string]any{
							"id":        "weaviate-uuid-1",
							"certainty": 0.9,
						},
					},
				},
			},
		},
	}

	parsed, err := datatypes.ParseGraphQLResponse[datatypes.EvidenceChunkQueryResponse](resp)

	require.NoError(t, err)
	require.Len(t, parsed.Get.EvidenceChunk, 1)

	chunk := parsed.Get.EvidenceChunk[0].ToChunk()
	assert.Equal(t, "c1", chunk.ChunkID)
	assert.Equal(t, "security-policy.pdf", chunk.DocName)
	assert.Equal(t, "All data is encrypted at rest with AES-256.", chunk.FullContent)
	assert.Equal(t, "encrypted at rest with AES-256", chunk.QuotedSnippet)
	assert.InDelta(t, 0.8, chunk.Similarity, 1e-6, "certainty 0.9 maps to 2*0.9-1")
}

// TestParseGraphQLResponse_MissingCertainty verifies a chunk without a
// certainty field reports zero similarity rather than failing.
func TestParseGraphQLResponse_MissingCertainty(t *testing.T) {
	resp := &models.GraphQLResponse{
		Data: map[string]models.JSONObject{
			"Get": map[string]any{
				"EvidenceChunk": []any{
					map[string]any{
						"chunk_id": "c1",
						"doc_name": "doc.pdf",
						"content":  "content",
						"snippet":  "snippet",
						"org_id":   "org-1",
					},
				},
			},
		},
	}

	parsed, err := datatypes.ParseGraphQLResponse[datatypes.EvidenceChunkQueryResponse](resp)

	require.NoError(t, err)
	require.Len(t, parsed.Get.EvidenceChunk, 1)
	assert.Equal(t, 0.0, parsed.Get.EvidenceChunk[0].ToChunk().Similarity)
}

// TestParseGraphQLResponse_NilResponse verifies a nil response is an error,
// not a panic.
func TestParseGraphQLResponse_NilResponse(t *testing.T) {
	_, err := datatypes.ParseGraphQLResponse[datatypes.EvidenceChunkQueryResponse](nil)
	assert.Error(t, err)
}

// TestParseGraphQLResponse_ApprovedAnswers verifies the approved-answer
// response shape parses field by field.
func TestParseGraphQLResponse_ApprovedAnswers(t *testing.T) {
	resp := &models.GraphQLResponse{
		Data: map[string]models.JSONObject{
			"Get": map[string]any{
				"ApprovedAnswer": []any{
					map[string]any{
						"answer_id":           "ans-1",
						"answer_text":         "Yes, data is encrypted at rest.",
						"citation_chunk_ids":  []any{"c1", "c2"},
						"normalized_question": "is data encrypted at rest",
						"question_hash":       "abc123",
						"updated_at":          1756000000,
						"_additional": map[string]any{
							"id":        "weaviate-uuid-2",
							"certainty": 0.95,
						},
					},
				},
			},
		},
	}

	parsed, err := datatypes.ParseGraphQLResponse[datatypes.ApprovedAnswerQueryResponse](resp)

	require.NoError(t, err)
	require.Len(t, parsed.Get.ApprovedAnswer, 1)

	r := parsed.Get.ApprovedAnswer[0]
	assert.Equal(t, "ans-1", r.AnswerID)
	assert.Equal(t, "Yes, data is encrypted at rest.", r.AnswerText)
	assert.Equal(t, []string{"c1", "c2"}, r.CitationChunkIDs)
	assert.Equal(t, "is data encrypted at rest", r.NormalizedQuestion)
	assert.Equal(t, "abc123", r.QuestionHash)
	assert.Equal(t, int64(1756000000), r.UpdatedAt)
	require.NotNil(t, r.Additional.Certainty)
	assert.InDelta(t, 0.95, float64(*r.Additional.Certainty), 1e-6)
}

// =============================================================================
// Candidate Mapping Tests
// =============================================================================

// TestToCandidate verifies the query-result to candidate mapping, including
// the epoch-seconds to UTC time conversion.
func TestToCandidate(t *testing.T) {
	result := datatypes.ApprovedAnswerResult{
		AnswerID:           "ans-1",
		AnswerText:         "Yes, data is encrypted at rest.",
		CitationChunkIDs:   []string{"c1"},
		NormalizedQuestion: "is data encrypted at rest",
		QuestionHash:       "abc123",
		UpdatedAt:          1756000000,
	}

	candidate := toCandidate(result)

	assert.Equal(t, "ans-1", candidate.ID)
	assert.Equal(t, "Yes, data is encrypted at rest.", candidate.AnswerText)
	assert.Equal(t, []string{"c1"}, candidate.CitationChunkIDs)
	assert.Equal(t, "is data encrypted at rest", candidate.NormalizedQuestionText)
	assert.Equal(t, "abc123", candidate.QuestionTextHash)
	assert.Equal(t, time.Unix(1756000000, 0).UTC(), candidate.UpdatedAt)
	assert.Equal(t, time.UTC, candidate.UpdatedAt.Location())
}
