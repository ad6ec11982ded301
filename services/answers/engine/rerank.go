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
	"sort"
	"strings"
	"unicode"

	"github.com/AleutianAI/AleutianTrust/services/answers/datatypes"
)

// Reranking configuration constants.
const (
	// topKCandidates is how many chunks are fetched from the store by
	// vector similarity before reranking.
	topKCandidates = 12

	// maxRerankedChunks is how many chunks survive reranking.
	maxRerankedChunks = 5

	// minSimilarity is the relevance floor: a chunk with no lexical
	// overlap must reach this cosine similarity to survive.
	minSimilarity = 0.2

	// vectorWeight and lexicalWeight blend the two scores.
	vectorWeight  = 0.7
	lexicalWeight = 0.3

	// minTokenLength filters out short question tokens that carry little
	// lexical signal.
	minTokenLength = 4
)

var questionStopwords = map[string]struct{}{
	"about": {}, "all": {}, "also": {}, "any": {}, "are": {}, "can": {},
	"describe": {}, "does": {}, "do": {}, "for": {}, "from": {}, "has": {},
	"have": {}, "how": {}, "into": {}, "list": {}, "our": {}, "please": {},
	"provide": {}, "that": {}, "the": {}, "their": {}, "there": {},
	"this": {}, "used": {}, "uses": {}, "what": {}, "when": {}, "where": {},
	"which": {}, "with": {}, "within": {}, "will": {}, "would": {},
	"you": {}, "your": {},
}

// tokenizeQuestion produces the lowercase, punctuation-normalized tokens
// used for lexical overlap scoring. Hyphens and dots inside a token are
// preserved (e.g. "multi-factor", "tls1.2"); everything else becomes a
// separator. Tokens shorter than minTokenLength and stopwords are dropped.
func tokenizeQuestion(question string) []string {
	var b strings.Builder
	b.Grow(len(question))
	for _, r := range strings.ToLower(question) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
		case r == '-' || r == '.':
			b.WriteRune(r)
		default:
			b.WriteRune(' ')
		}
	}

	seen := make(map[string]struct{})
	var tokens []string
	for _, raw := range strings.Fields(b.String()) {
		token := strings.Trim(raw, "-.")
		if len(token) < minTokenLength {
			continue
		}
		if _, stop := questionStopwords[token]; stop {
			continue
		}
		if _, dup := seen[token]; dup {
			continue
		}
		seen[token] = struct{}{}
		tokens = append(tokens, token)
	}
	return tokens
}

// chunkWords builds the set of simple lowercase words in a chunk's text.
func chunkWords(text string) map[string]struct{} {
	words := make(map[string]struct{})
	var b strings.Builder
	b.Grow(len(text))
	for _, r := range strings.ToLower(text) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		} else {
			b.WriteRune(' ')
		}
	}
	for _, w := range strings.Fields(b.String()) {
		words[w] = struct{}{}
	}
	return words
}

// countLexicalOverlap counts how many question tokens occur in the chunk
// text. Plain tokens must match a whole word; hyphenated or dotted tokens
// are matched as substrings so "multi-factor" finds "multi-factor auth".
func countLexicalOverlap(tokens []string, haystack string, words map[string]struct{}) int {
	count := 0
	for _, token := range tokens {
		if strings.ContainsAny(token, "-.") {
			if strings.Contains(haystack, token) {
				count++
			}
			continue
		}
		if _, ok := words[token]; ok {
			count++
		}
	}
	return count
}

// Rerank combines vector similarity with lexical term overlap into a single
// ranking, filters out irrelevant chunks, and truncates to the top
// maxRerankedChunks.
//
// A chunk survives only if it has lexical overlap with the question or its
// raw similarity is at least minSimilarity. Survivors are ordered by
// (finalScore desc, similarity desc, overlap desc, chunkId asc) so the
// ranking is fully deterministic.
func Rerank(question string, chunks []datatypes.Chunk) []datatypes.ScoredChunk {
	tokens := tokenizeQuestion(question)

	var scored []datatypes.ScoredChunk
	for _, chunk := range chunks {
		haystack := strings.ToLower(chunk.QuotedSnippet + " " + chunk.FullContent)
		words := chunkWords(haystack)

		overlap := countLexicalOverlap(tokens, haystack, words)
		lexScore := 0.0
		if len(tokens) > 0 {
			lexScore = float64(overlap) / float64(len(tokens))
		}

		if overlap == 0 && chunk.Similarity < minSimilarity {
			continue
		}

		scored = append(scored, datatypes.ScoredChunk{
			Chunk:               chunk,
			LexicalOverlapCount: overlap,
			LexicalScore:        lexScore,
			FinalScore:          vectorWeight*chunk.Similarity + lexicalWeight*lexScore,
		})
	}

	sort.SliceStable(scored, func(i, j int) bool {
		a, b := scored[i], scored[j]
		if a.FinalScore != b.FinalScore {
			return a.FinalScore > b.FinalScore
		}
		if a.Similarity != b.Similarity {
			return a.Similarity > b.Similarity
		}
		if a.LexicalOverlapCount != b.LexicalOverlapCount {
			return a.LexicalOverlapCount > b.LexicalOverlapCount
		}
		return a.ChunkID < b.ChunkID
	})

	if len(scored) > maxRerankedChunks {
		scored = scored[:maxRerankedChunks]
	}
	return scored
}

// bestSimilarity returns the highest raw similarity among the retrieved
// chunks, used to pick the NOT_FOUND reason when nothing survives.
func bestSimilarity(chunks []datatypes.Chunk) float64 {
	best := -1.0
	for _, c := range chunks {
		if c.Similarity > best {
			best = c.Similarity
		}
	}
	return best
}
