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
	"regexp"
	"strings"

	"github.com/AleutianAI/AleutianTrust/services/answers/datatypes"
	"go.opentelemetry.io/otel/attribute"
)

const generatorSystemPrompt = `You answer security-questionnaire items strictly from the provided document chunks.
Respond with a single JSON object: {"answer": "<text>", "citations": ["<chunk ids used>"]}
Rules:
- Answer in one to three plain sentences. No lists, no headings, no markdown.
- Use only facts stated in the chunks. Cite only the provided chunk ids.
- If the chunks do not answer the question, the answer must be exactly:
  "` + datatypes.NotFoundText + `"`

const generatorStrictSuffix = `
STRICT FORMAT RETRY: your previous answer violated the format rules.
Write plain prose sentences only. Do not start with a list marker, do not
use "--", "#", code fences, or paste chunk text verbatim.`

// draft is the raw output of one generation attempt.
type draft struct {
	Answer    string   `json:"answer"`
	Citations []string `json:"citations"`
}

// GenerateGroundedAnswer drafts an answer grounded in the chosen chunks,
// with format-violation detection and exactly one retry.
//
// The retry is modeled as an explicit two-attempt sequence, not a retry
// loop: the trigger is semantic (format violation), only one retry is ever
// permitted, and the terminal fallback is the NOT_FOUND sentinel with zero
// citations. Malformed text is never passed through.
//
// Citation ids returned by the service are filtered to the chosen-chunk set
// and deduplicated; ids outside it are dropped, never trusted. The returned
// hadViolation flag is true if the first attempt violated format, even when
// the retry produced a clean answer.
func (e *Engine) GenerateGroundedAnswer(ctx context.Context, question string, chosen []datatypes.ScoredChunk) (answer string, citations []datatypes.Citation, hadViolation bool, err error) {
	ctx, span := tracer.Start(ctx, "Engine.GenerateGroundedAnswer")
	defer span.End()

	userPrompt := buildGeneratorPrompt(question, chosen)

	first, err := e.generateOnce(ctx, generatorSystemPrompt, userPrompt)
	if err != nil {
		span.RecordError(err)
		return "", nil, false, err
	}
	if !violatesAnswerFormat(first.Answer, chosen) {
		return first.Answer, filterCitations(first.Citations, chosen), false, nil
	}

	slog.Warn("draft answer violated format, retrying once",
		"answer_prefix", truncateForLog(first.Answer, 80))
	span.SetAttributes(attribute.Bool("generator.format_retry", true))

	second, err := e.generateOnce(ctx, generatorSystemPrompt+generatorStrictSuffix, userPrompt)
	if err != nil {
		span.RecordError(err)
		return "", nil, true, err
	}
	if violatesAnswerFormat(second.Answer, chosen) {
		slog.Warn("retry also violated format, forcing NOT_FOUND")
		span.SetAttributes(attribute.Bool("generator.forced_not_found", true))
		return datatypes.NotFoundText, nil, true, nil
	}

	return second.Answer, filterCitations(second.Citations, chosen), true, nil
}

// generateOnce performs a single completion call and parses the JSON draft.
// Output that is not a JSON object is kept as raw answer text so the format
// validator can judge it.
func (e *Engine) generateOnce(ctx context.Context, systemPrompt, userPrompt string) (draft, error) {
	output, err := e.completer.Complete(ctx, systemPrompt, userPrompt)
	if err != nil {
		return draft{}, fmt.Errorf("answer generation failed: %w", err)
	}

	var d draft
	if err := json.Unmarshal([]byte(output), &d); err == nil && strings.TrimSpace(d.Answer) != "" {
		return d, nil
	}
	if raw, ok := decodeJSONObject(output); ok {
		if s, sok := raw["answer"].(string); sok {
			d.Answer = s
			if ids, iok := raw["citations"].([]any); iok {
				for _, id := range ids {
					if sid, k := id.(string); k {
						d.Citations = append(d.Citations, sid)
					}
				}
			}
			return d, nil
		}
	}
	return draft{Answer: output}, nil
}

func buildGeneratorPrompt(question string, chosen []datatypes.ScoredChunk) string {
	var sb strings.Builder
	sb.WriteString("Question: ")
	sb.WriteString(question)
	sb.WriteString("\n\nChunks:\n")
	for _, chunk := range chosen {
		fmt.Fprintf(&sb, "chunkId: %s\ndocument: %s\ncontent: %s\n---\n",
			chunk.ChunkID, chunk.DocName, chunk.FullContent)
	}
	return sb.String()
}

var (
	listMarkerRe  = regexp.MustCompile(`^\s*([-*•]|\d+[.)])\s`)
	headingLineRe = regexp.MustCompile(`(?m)^\s*#`)
)

// Answer-length bounds for the dump heuristic. Grounded questionnaire
// answers are one to three sentences; anything resembling a pasted
// document is rejected.
const (
	maxAnswerLines = 8
	maxAnswerBytes = 1500
)

// violatesAnswerFormat detects the failure modes seen from completion
// services: empty output, list fragments, markdown, leaked chunk ids or
// snippet text, and multi-line document dumps.
func violatesAnswerFormat(answer string, chosen []datatypes.ScoredChunk) bool {
	trimmed := strings.TrimSpace(answer)
	if trimmed == "" {
		return true
	}
	if listMarkerRe.MatchString(answer) {
		return true
	}
	if strings.Contains(answer, "--") {
		return true
	}
	if headingLineRe.MatchString(answer) || strings.Contains(answer, "```") {
		return true
	}
	if strings.Contains(answer, "chunkId:") || strings.Contains(answer, "chunk_id:") {
		return true
	}
	for _, chunk := range chosen {
		snippet := strings.TrimSpace(chunk.QuotedSnippet)
		if len(snippet) > 40 && strings.Contains(answer, snippet) {
			return true
		}
	}
	if strings.Count(trimmed, "\n") >= maxAnswerLines {
		return true
	}
	if len(trimmed) > maxAnswerBytes && strings.Contains(trimmed, "\n") {
		return true
	}
	return false
}

// filterCitations keeps only citation ids that belong to the chosen-chunk
// set, deduplicated by chunk id, and resolves them to full citations.
func filterCitations(ids []string, chosen []datatypes.ScoredChunk) []datatypes.Citation {
	byID := make(map[string]datatypes.ScoredChunk, len(chosen))
	for _, chunk := range chosen {
		byID[chunk.ChunkID] = chunk
	}

	seen := make(map[string]struct{})
	var citations []datatypes.Citation
	for _, id := range ids {
		chunk, ok := byID[id]
		if !ok {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		citations = append(citations, datatypes.Citation{
			ChunkID:       chunk.ChunkID,
			DocName:       chunk.DocName,
			QuotedSnippet: chunk.QuotedSnippet,
		})
	}
	return citations
}

func truncateForLog(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
