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
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/AleutianAI/AleutianTrust/services/answers/datatypes"
	"go.opentelemetry.io/otel/attribute"
)

// maxChosenChunks caps how many chunks are handed to the answer generator.
const maxChosenChunks = 3

const sufficiencySystemPrompt = `You are an evidence auditor for security questionnaires.
Given a question and a set of document chunks, respond with a single JSON object:
{
  "requirements": ["<each atomic fact the question demands>"],
  "extracted": [
    {
      "requirement": "<one requirement>",
      "value": "<the value found in the chunks, or null if not present>",
      "supporting_chunk_ids": ["<ids of chunks that state the value>"]
    }
  ],
  "overall": "FOUND" | "PARTIAL" | "NOT_FOUND"
}
Rules:
- Only use chunk ids from the provided list.
- A value requires at least one supporting chunk id.
- If a requirement is not answered by the chunks, set its value to null.
Respond with JSON only, no prose.`

// ExtractSufficiency asks the completion service to break the question into
// atomic requirements and extract per-requirement values with supporting
// chunk ids, then repairs the raw output into a trustworthy verdict.
//
// Upstream completion failures propagate as errors. Unparseable output is
// treated as insufficient evidence: the returned verdict is NOT_FOUND with
// ExtractorInvalid set, never an error.
func (e *Engine) ExtractSufficiency(ctx context.Context, question string, chunks []datatypes.ScoredChunk) (datatypes.SufficiencyVerdict, error) {
	ctx, span := tracer.Start(ctx, "Engine.ExtractSufficiency")
	defer span.End()

	allowedIDs := make([]string, 0, len(chunks))
	var sb strings.Builder
	sb.WriteString("Question: ")
	sb.WriteString(question)
	sb.WriteString("\n\nChunks:\n")
	for _, chunk := range chunks {
		allowedIDs = append(allowedIDs, chunk.ChunkID)
		fmt.Fprintf(&sb, "chunkId: %s\ndocument: %s\ncontent: %s\n---\n",
			chunk.ChunkID, chunk.DocName, chunk.FullContent)
	}

	output, err := e.completer.Complete(ctx, sufficiencySystemPrompt, sb.String())
	if err != nil {
		span.RecordError(err)
		return datatypes.SufficiencyVerdict{}, fmt.Errorf("sufficiency extraction failed: %w", err)
	}

	raw, ok := decodeJSONObject(output)
	if !ok {
		slog.Warn("extractor output was not parseable JSON, treating as insufficient",
			"output_len", len(output))
		return datatypes.SufficiencyVerdict{
			Overall:          datatypes.OverallNotFound,
			HadShapeRepair:   true,
			ExtractorInvalid: true,
			InvalidReason:    "extractor output was not a JSON object",
		}, nil
	}

	verdict := RepairVerdict(raw, allowedIDs)
	span.SetAttributes(
		attribute.String("sufficiency.overall", string(verdict.Overall)),
		attribute.Bool("sufficiency.had_shape_repair", verdict.HadShapeRepair),
		attribute.Bool("sufficiency.extractor_invalid", verdict.ExtractorInvalid),
		attribute.Int("sufficiency.requirements", len(verdict.Requirements)),
	)
	if verdict.HadShapeRepair {
		slog.Info("extractor output needed shape repair", "overall", verdict.Overall)
	}
	return verdict, nil
}

// decodeJSONObject parses s as a JSON object, tolerating prose around the
// object by falling back to the outermost brace pair.
func decodeJSONObject(s string) (map[string]any, bool) {
	var raw map[string]any
	if err := json.Unmarshal([]byte(s), &raw); err == nil {
		return raw, true
	}

	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return nil, false
	}
	if err := json.Unmarshal([]byte(s[start:end+1]), &raw); err != nil {
		return nil, false
	}
	return raw, true
}

// ChooseChunks selects the chunks handed to the answer generator: ids the
// extractor explicitly proposed first (in extraction order), then the
// remaining reranked chunks, capped at maxChosenChunks.
func ChooseChunks(verdict datatypes.SufficiencyVerdict, reranked []datatypes.ScoredChunk) []datatypes.ScoredChunk {
	byID := make(map[string]datatypes.ScoredChunk, len(reranked))
	for _, chunk := range reranked {
		byID[chunk.ChunkID] = chunk
	}

	seen := make(map[string]struct{})
	var chosen []datatypes.ScoredChunk

	appendID := func(id string) {
		if len(chosen) >= maxChosenChunks {
			return
		}
		if _, dup := seen[id]; dup {
			return
		}
		chunk, ok := byID[id]
		if !ok {
			return
		}
		seen[id] = struct{}{}
		chosen = append(chosen, chunk)
	}

	for _, item := range verdict.ValidItems() {
		for _, id := range item.SupportingChunkIDs {
			appendID(id)
		}
	}
	for _, chunk := range reranked {
		appendID(chunk.ChunkID)
	}
	return chosen
}
