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
	"encoding/json"
	"fmt"

	"github.com/weaviate/weaviate/entities/models"
)

// ParseGraphQLResponse parses a Weaviate GraphQL response into the target
// type. The target type T must have json tags matching the response shape.
//
// This encapsulates the marshal/unmarshal round trip needed to turn
// Weaviate's dynamic response (map[string]models.JSONObject) into a typed
// struct. Type mismatches produce zero values, not errors.
func ParseGraphQLResponse[T any](resp *models.GraphQLResponse) (*T, error) {
	if resp == nil {
		return nil, fmt.Errorf("nil GraphQL response")
	}

	respBytes, err := json.Marshal(resp.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal GraphQL response data: %w", err)
	}

	var result T
	if err := json.Unmarshal(respBytes, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal into target type: %w", err)
	}

	return &result, nil
}

// EvidenceChunkQueryResponse represents the response from querying the
// EvidenceChunk class.
type EvidenceChunkQueryResponse struct {
	Get struct {
		EvidenceChunk []EvidenceChunkResult `json:"EvidenceChunk"`
	} `json:"Get"`
}

// EvidenceChunkResult is a single evidence chunk from a query.
type EvidenceChunkResult struct {
	ChunkID    string `json:"chunk_id"`
	DocName    string `json:"doc_name"`
	Content    string `json:"content"`
	Snippet    string `json:"snippet"`
	OrgID      string `json:"org_id"`
	Additional struct {
		ID        string   `json:"id"`
		Certainty *float32 `json:"certainty"`
	} `json:"_additional"`
}

// ToChunk converts a query result into the engine's Chunk type.
// Weaviate reports certainty in [0,1]; cosine similarity is 2*certainty-1.
func (r EvidenceChunkResult) ToChunk() Chunk {
	similarity := 0.0
	if r.Additional.Certainty != nil {
		similarity = 2*float64(*r.Additional.Certainty) - 1
	}
	return Chunk{
		ChunkID:       r.ChunkID,
		DocName:       r.DocName,
		FullContent:   r.Content,
		QuotedSnippet: r.Snippet,
		Similarity:    similarity,
	}
}

// ApprovedAnswerQueryResponse represents the response from querying the
// ApprovedAnswer class.
type ApprovedAnswerQueryResponse struct {
	Get struct {
		ApprovedAnswer []ApprovedAnswerResult `json:"ApprovedAnswer"`
	} `json:"Get"`
}

// ApprovedAnswerResult is a single approved answer from a query.
type ApprovedAnswerResult struct {
	AnswerID           string   `json:"answer_id"`
	AnswerText         string   `json:"answer_text"`
	CitationChunkIDs   []string `json:"citation_chunk_ids"`
	NormalizedQuestion string   `json:"normalized_question"`
	QuestionHash       string   `json:"question_hash"`
	UpdatedAt          int64    `json:"updated_at"`
	Additional         struct {
		ID        string   `json:"id"`
		Certainty *float32 `json:"certainty"`
	} `json:"_additional"`
}
