// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package store provides Weaviate-backed persistence for evidence chunks
// and approved answers.
package store

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/AleutianAI/AleutianTrust/services/answers/datatypes"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/filters"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("aleutian.answers.store")

// Class names in Weaviate.
const (
	ClassEvidenceChunk  = "EvidenceChunk"
	ClassApprovedAnswer = "ApprovedAnswer"
)

// WeaviateStore implements evidence-chunk retrieval and approved-answer
// lookup over a Weaviate instance. Every query is scoped to an org_id
// filter; nothing crosses organization boundaries.
//
// # Thread Safety
//
// Safe for concurrent use. The underlying Weaviate client handles
// connection pooling.
type WeaviateStore struct {
	client *weaviate.Client
}

// NewWeaviateStore creates a store over the given client.
func NewWeaviateStore(client *weaviate.Client) *WeaviateStore {
	return &WeaviateStore{client: client}
}

var evidenceChunkFields = []graphql.Field{
	{Name: "chunk_id"},
	{Name: "doc_name"},
	{Name: "content"},
	{Name: "snippet"},
	{Name: "org_id"},
	{Name: "_additional", Fields: []graphql.Field{
		{Name: "id"},
		{Name: "certainty"},
	}},
}

var approvedAnswerFields = []graphql.Field{
	{Name: "answer_id"},
	{Name: "answer_text"},
	{Name: "citation_chunk_ids"},
	{Name: "normalized_question"},
	{Name: "question_hash"},
	{Name: "updated_at"},
	{Name: "_additional", Fields: []graphql.Field{
		{Name: "id"},
		{Name: "certainty"},
	}},
}

// TopK returns the organization's chunks nearest the vector, ordered by
// similarity descending.
func (s *WeaviateStore) TopK(ctx context.Context, orgID string, vector []float32, k int) ([]datatypes.Chunk, error) {
	ctx, span := tracer.Start(ctx, "WeaviateStore.TopK")
	defer span.End()

	orgFilter := filters.Where().
		WithPath([]string{"org_id"}).
		WithOperator(filters.Equal).
		WithValueString(orgID)

	nearVector := s.client.GraphQL().NearVectorArgBuilder().
		WithVector(vector)

	result, err := s.client.GraphQL().Get().
		WithClassName(ClassEvidenceChunk).
		WithFields(evidenceChunkFields...).
		WithWhere(orgFilter).
		WithNearVector(nearVector).
		WithLimit(k).
		Do(ctx)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("weaviate chunk search failed: %w", err)
	}

	parsed, err := datatypes.ParseGraphQLResponse[datatypes.EvidenceChunkQueryResponse](result)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to parse chunk search results: %w", err)
	}

	chunks := make([]datatypes.Chunk, 0, len(parsed.Get.EvidenceChunk))
	for _, r := range parsed.Get.EvidenceChunk {
		chunks = append(chunks, r.ToChunk())
	}
	slog.Debug("retrieved evidence chunks", "org_id", orgID, "count", len(chunks))
	return chunks, nil
}

// OwnedChunks resolves chunk ids to chunks owned by the organization. Ids
// that do not resolve are absent from the returned map, not errors.
func (s *WeaviateStore) OwnedChunks(ctx context.Context, orgID string, chunkIDs []string) (map[string]datatypes.Chunk, error) {
	ctx, span := tracer.Start(ctx, "WeaviateStore.OwnedChunks")
	defer span.End()

	if len(chunkIDs) == 0 {
		return map[string]datatypes.Chunk{}, nil
	}

	orgFilter := filters.Where().
		WithPath([]string{"org_id"}).
		WithOperator(filters.Equal).
		WithValueString(orgID)

	idFilter := filters.Where().
		WithPath([]string{"chunk_id"}).
		WithOperator(filters.ContainsAny).
		WithValueString(chunkIDs...)

	combined := filters.Where().
		WithOperator(filters.And).
		WithOperands([]*filters.WhereBuilder{orgFilter, idFilter})

	result, err := s.client.GraphQL().Get().
		WithClassName(ClassEvidenceChunk).
		WithFields(evidenceChunkFields...).
		WithWhere(combined).
		WithLimit(len(chunkIDs)).
		Do(ctx)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("weaviate chunk lookup failed: %w", err)
	}

	parsed, err := datatypes.ParseGraphQLResponse[datatypes.EvidenceChunkQueryResponse](result)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to parse chunk lookup results: %w", err)
	}

	owned := make(map[string]datatypes.Chunk, len(parsed.Get.EvidenceChunk))
	for _, r := range parsed.Get.EvidenceChunk {
		owned[r.ChunkID] = r.ToChunk()
	}
	return owned, nil
}

// ListApproved returns all approved-answer candidates for the organization.
func (s *WeaviateStore) ListApproved(ctx context.Context, orgID string) ([]datatypes.ApprovedAnswerCandidate, error) {
	ctx, span := tracer.Start(ctx, "WeaviateStore.ListApproved")
	defer span.End()

	orgFilter := filters.Where().
		WithPath([]string{"org_id"}).
		WithOperator(filters.Equal).
		WithValueString(orgID)

	result, err := s.client.GraphQL().Get().
		WithClassName(ClassApprovedAnswer).
		WithFields(approvedAnswerFields...).
		WithWhere(orgFilter).
		Do(ctx)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("weaviate approved-answer list failed: %w", err)
	}

	parsed, err := datatypes.ParseGraphQLResponse[datatypes.ApprovedAnswerQueryResponse](result)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to parse approved-answer list: %w", err)
	}

	candidates := make([]datatypes.ApprovedAnswerCandidate, 0, len(parsed.Get.ApprovedAnswer))
	for _, r := range parsed.Get.ApprovedAnswer {
		candidates = append(candidates, toCandidate(r))
	}
	return candidates, nil
}

// SearchApprovedByVector returns approved answers nearest the vector,
// ordered by similarity descending.
func (s *WeaviateStore) SearchApprovedByVector(ctx context.Context, orgID string, vector []float32, limit int) ([]datatypes.ApprovedMatch, error) {
	ctx, span := tracer.Start(ctx, "WeaviateStore.SearchApprovedByVector")
	defer span.End()

	orgFilter := filters.Where().
		WithPath([]string{"org_id"}).
		WithOperator(filters.Equal).
		WithValueString(orgID)

	nearVector := s.client.GraphQL().NearVectorArgBuilder().
		WithVector(vector)

	result, err := s.client.GraphQL().Get().
		WithClassName(ClassApprovedAnswer).
		WithFields(approvedAnswerFields...).
		WithWhere(orgFilter).
		WithNearVector(nearVector).
		WithLimit(limit).
		Do(ctx)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("weaviate approved-answer search failed: %w", err)
	}

	parsed, err := datatypes.ParseGraphQLResponse[datatypes.ApprovedAnswerQueryResponse](result)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to parse approved-answer search: %w", err)
	}

	matches := make([]datatypes.ApprovedMatch, 0, len(parsed.Get.ApprovedAnswer))
	for _, r := range parsed.Get.ApprovedAnswer {
		similarity := 0.0
		if r.Additional.Certainty != nil {
			similarity = 2*float64(*r.Additional.Certainty) - 1
		}
		matches = append(matches, datatypes.ApprovedMatch{
			Candidate:  toCandidate(r),
			Similarity: similarity,
		})
	}
	return matches, nil
}

func toCandidate(r datatypes.ApprovedAnswerResult) datatypes.ApprovedAnswerCandidate {
	return datatypes.ApprovedAnswerCandidate{
		ID:                     r.AnswerID,
		AnswerText:             r.AnswerText,
		CitationChunkIDs:       r.CitationChunkIDs,
		NormalizedQuestionText: r.NormalizedQuestion,
		QuestionTextHash:       r.QuestionHash,
		UpdatedAt:              time.Unix(r.UpdatedAt, 0).UTC(),
	}
}
