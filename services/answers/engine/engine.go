// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package engine implements the evidence-grounded answering pipeline:
// retrieval and reranking, evidence-sufficiency extraction, grounded
// generation, and the normalizer that decides the final answer.
package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/AleutianAI/AleutianTrust/services/answers/datatypes"
	"github.com/AleutianAI/AleutianTrust/services/answers/observability"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

var tracer = otel.Tracer("aleutian.answers.engine")

// Embedder produces an embedding vector for a piece of text.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Completer produces a text completion for a system/user prompt pair.
type Completer interface {
	Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// ChunkStore is the evidence-chunk retrieval contract.
type ChunkStore interface {
	// TopK returns the organization's chunks nearest the vector, ordered
	// by similarity descending.
	TopK(ctx context.Context, orgID string, vector []float32, k int) ([]datatypes.Chunk, error)
	// OwnedChunks resolves chunk ids to chunks owned by the organization.
	// Ids that do not resolve are simply absent from the returned map.
	OwnedChunks(ctx context.Context, orgID string, chunkIDs []string) (map[string]datatypes.Chunk, error)
}

// ApprovedAnswerSource is the approved-answer lookup contract used by the
// reuse matcher.
type ApprovedAnswerSource interface {
	ListApproved(ctx context.Context, orgID string) ([]datatypes.ApprovedAnswerCandidate, error)
	// SearchApprovedByVector returns approved answers nearest the vector,
	// ordered by similarity descending.
	SearchApprovedByVector(ctx context.Context, orgID string, vector []float32, limit int) ([]datatypes.ApprovedMatch, error)
}

// Engine orchestrates the answering pipeline over pluggable dependencies.
type Engine struct {
	store      ChunkStore
	approved   ApprovedAnswerSource
	embedder   Embedder
	completer  Completer
	normalizer *Normalizer
}

// New creates an Engine. A nil checker disables external claim checking.
func New(store ChunkStore, approved ApprovedAnswerSource, embedder Embedder, completer Completer, checker ClaimChecker) *Engine {
	return &Engine{
		store:      store,
		approved:   approved,
		embedder:   embedder,
		completer:  completer,
		normalizer: NewNormalizer(checker),
	}
}

// AnswerRequest is one question to answer for one organization.
type AnswerRequest struct {
	OrgID        string
	QuestionText string
	Debug        bool
}

// DebugTrace exposes intermediate pipeline state when debug is requested.
type DebugTrace struct {
	RetrievedCount int                          `json:"retrieved_count"`
	Reranked       []datatypes.ScoredChunk      `json:"reranked"`
	Verdict        datatypes.SufficiencyVerdict `json:"verdict"`
	ChosenChunkIDs []string                     `json:"chosen_chunk_ids"`
	DraftAnswer    string                       `json:"draft_answer"`
}

// AnswerResult is the pipeline's terminal output.
type AnswerResult struct {
	Answer datatypes.EvidenceAnswer `json:"answer"`
	Debug  *DebugTrace              `json:"debug,omitempty"`
}

// AnswerQuestion runs the full pipeline for one question.
//
// Early exits produce a NOT_FOUND answer with a reason distinguishing why:
// empty retrieval or weak similarity map to RETRIEVAL_BELOW_THRESHOLD,
// reranker rejection of plausible-similarity chunks maps to
// FILTERED_AS_IRRELEVANT, and an extractor NOT_FOUND verdict maps to
// NO_RELEVANT_EVIDENCE. Only infrastructure failures return errors.
func (e *Engine) AnswerQuestion(ctx context.Context, req AnswerRequest) (AnswerResult, error) {
	ctx, span := tracer.Start(ctx, "Engine.AnswerQuestion")
	defer span.End()
	span.SetAttributes(attribute.String("answers.org_id", req.OrgID))

	var debug *DebugTrace
	if req.Debug {
		debug = &DebugTrace{}
	}

	vector, err := e.embedder.Embed(ctx, req.QuestionText)
	if err != nil {
		span.RecordError(err)
		return AnswerResult{}, fmt.Errorf("failed to embed question: %w", err)
	}

	retrieved, err := e.store.TopK(ctx, req.OrgID, vector, topKCandidates)
	if err != nil {
		span.RecordError(err)
		return AnswerResult{}, fmt.Errorf("evidence retrieval failed: %w", err)
	}
	span.SetAttributes(attribute.Int("answers.retrieved", len(retrieved)))
	if debug != nil {
		debug.RetrievedCount = len(retrieved)
	}
	if len(retrieved) == 0 {
		return e.notFoundResult(datatypes.ReasonRetrievalBelowThreshold, debug), nil
	}

	reranked := Rerank(req.QuestionText, retrieved)
	if debug != nil {
		debug.Reranked = reranked
	}
	if len(reranked) == 0 {
		// Distinguish weak retrieval from chunks the reranker rejected as
		// off-topic despite plausible vector similarity.
		reason := datatypes.ReasonFilteredAsIrrelevant
		if bestSimilarity(retrieved) < minSimilarity {
			reason = datatypes.ReasonRetrievalBelowThreshold
		}
		return e.notFoundResult(reason, debug), nil
	}

	verdict, err := e.ExtractSufficiency(ctx, req.QuestionText, reranked)
	if err != nil {
		span.RecordError(err)
		return AnswerResult{}, err
	}
	if debug != nil {
		debug.Verdict = verdict
	}
	if verdict.Overall == datatypes.OverallNotFound {
		return e.notFoundResult(datatypes.ReasonNoRelevantEvidence, debug), nil
	}

	chosen := ChooseChunks(verdict, reranked)
	if debug != nil {
		for _, chunk := range chosen {
			debug.ChosenChunkIDs = append(debug.ChosenChunkIDs, chunk.ChunkID)
		}
	}

	draftAnswer, citations, hadViolation, err := e.GenerateGroundedAnswer(ctx, req.QuestionText, chosen)
	if err != nil {
		span.RecordError(err)
		return AnswerResult{}, err
	}
	if debug != nil {
		debug.DraftAnswer = draftAnswer
	}

	final, err := e.normalizer.Normalize(ctx, NormalizeInput{
		Question:           req.QuestionText,
		Draft:              draftAnswer,
		Citations:          citations,
		Verdict:            verdict,
		HadFormatViolation: hadViolation,
	})
	if err != nil {
		span.RecordError(err)
		return AnswerResult{}, err
	}

	observability.DefaultMetrics().RecordAnswer(string(final.Confidence), final.NeedsReview, string(final.NotFoundReason))
	slog.Info("answered question",
		"org_id", req.OrgID,
		"confidence", final.Confidence,
		"needs_review", final.NeedsReview,
		"citations", len(final.Citations))

	return AnswerResult{Answer: final, Debug: debug}, nil
}

// FindReusableAnswer looks up an approved answer reusable for a single
// question, using a matcher scoped to that one call. Returns nil when
// nothing matches.
func (e *Engine) FindReusableAnswer(ctx context.Context, orgID, questionText string) (*datatypes.ReusedApprovedAnswer, error) {
	ctx, span := tracer.Start(ctx, "Engine.FindReusableAnswer")
	defer span.End()

	matcher := NewReuseMatcher(e.approved, e.store, e.embedder)
	reused, err := matcher.Match(ctx, orgID, questionText)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if reused != nil {
		observability.DefaultMetrics().RecordReuse(string(reused.MatchType))
	}
	return reused, nil
}

// FindReusableAnswers runs the reuse lookup for a whole questionnaire batch
// through one shared matcher, so candidate usability checks and citation
// resolution are performed at most once per candidate across the batch.
// The result slice is index-aligned with questions; misses are nil.
func (e *Engine) FindReusableAnswers(ctx context.Context, orgID string, questions []string) ([]*datatypes.ReusedApprovedAnswer, error) {
	ctx, span := tracer.Start(ctx, "Engine.FindReusableAnswers")
	defer span.End()
	span.SetAttributes(attribute.Int("reuse.batch_size", len(questions)))

	matcher := NewReuseMatcher(e.approved, e.store, e.embedder)
	results := make([]*datatypes.ReusedApprovedAnswer, len(questions))
	for i, question := range questions {
		reused, err := matcher.Match(ctx, orgID, question)
		if err != nil {
			span.RecordError(err)
			return nil, fmt.Errorf("reuse lookup failed for question %d: %w", i, err)
		}
		if reused != nil {
			observability.DefaultMetrics().RecordReuse(string(reused.MatchType))
		}
		results[i] = reused
	}
	return results, nil
}

func (e *Engine) notFoundResult(reason datatypes.NotFoundReason, debug *DebugTrace) AnswerResult {
	answer := datatypes.NotFoundAnswer(reason)
	observability.DefaultMetrics().RecordAnswer(string(answer.Confidence), answer.NeedsReview, string(answer.NotFoundReason))
	return AnswerResult{Answer: answer, Debug: debug}
}
