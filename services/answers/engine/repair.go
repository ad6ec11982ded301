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
	"fmt"
	"sort"
	"strings"

	"github.com/AleutianAI/AleutianTrust/services/answers/datatypes"
)

// maxSupportingIDs caps how many supporting chunk ids one extracted item
// may carry after repair.
const maxSupportingIDs = 5

// RepairVerdict normalizes arbitrary extractor output into a
// SufficiencyVerdict. Structured output from a generative service is
// unreliable, so the raw completion JSON is treated as an untyped document
// and repaired with explicit fallback branches rather than trusted field
// by field.
//
// The function is pure and idempotent: repairing the JSON form of an
// already-normalized verdict yields the same verdict with no repair flags.
//
// Repair branches, in order:
//   - requirements: array of strings, else map values, else the extracted
//     items' own requirement strings, else deep string leaves of whatever
//     the requirements field holds. Every fallback sets HadShapeRepair.
//   - a top-level supportingChunkIds/chunkIds object keyed by requirement
//     is folded into extracted items lacking their own support.
//   - every supplied chunk id is filtered against the allowed set,
//     deduplicated, and capped at maxSupportingIDs.
//   - items without both a value and allowed support are coerced to
//     {value: nil, supportingChunkIds: []} rather than dropped.
//
// ExtractorInvalid is true iff no item survives as valid; that forces
// Overall to NOT_FOUND regardless of the raw model claim. Otherwise the
// verdict is recomputed from requirement coverage, ignoring the claim.
func RepairVerdict(raw map[string]any, allowedIDs []string) datatypes.SufficiencyVerdict {
	allowed := make(map[string]struct{}, len(allowedIDs))
	for _, id := range allowedIDs {
		allowed[id] = struct{}{}
	}

	verdict := datatypes.SufficiencyVerdict{}

	extracted, extractedRepaired := repairExtracted(raw, allowed)
	verdict.Extracted = extracted
	verdict.HadShapeRepair = extractedRepaired

	requirements, reqRepaired := repairRequirements(raw, extracted)
	verdict.Requirements = requirements
	verdict.HadShapeRepair = verdict.HadShapeRepair || reqRepaired

	if !anyValid(verdict.Extracted) {
		verdict.ExtractorInvalid = true
		verdict.InvalidReason = "no extracted item carries both a value and supporting evidence"
		verdict.Overall = datatypes.OverallNotFound
		return verdict
	}

	verdict.Overall = computeOverall(verdict.Requirements, verdict.Extracted)
	return verdict
}

// repairRequirements resolves the requirements list via the fallback chain.
func repairRequirements(raw map[string]any, extracted []datatypes.ExtractedItem) ([]string, bool) {
	if v, ok := raw["requirements"]; ok {
		if arr, ok := v.([]any); ok {
			var reqs []string
			for _, e := range arr {
				if s, ok := e.(string); ok && strings.TrimSpace(s) != "" {
					reqs = append(reqs, s)
				}
			}
			if len(reqs) > 0 {
				return reqs, false
			}
		}
		if m, ok := v.(map[string]any); ok {
			if reqs := sortedStringValues(m); len(reqs) > 0 {
				return reqs, true
			}
		}
	}

	var fromItems []string
	for _, item := range extracted {
		if strings.TrimSpace(item.Requirement) != "" {
			fromItems = append(fromItems, item.Requirement)
		}
	}
	if len(fromItems) > 0 {
		return fromItems, true
	}

	return deepStringLeaves(raw["requirements"]), true
}

// repairExtracted normalizes the extracted item list, filtering chunk ids
// to the allowed set and coercing invalid items rather than dropping them.
func repairExtracted(raw map[string]any, allowed map[string]struct{}) ([]datatypes.ExtractedItem, bool) {
	repaired := false

	var items []datatypes.ExtractedItem
	if arr, ok := raw["extracted"].([]any); ok {
		for _, e := range arr {
			m, ok := e.(map[string]any)
			if !ok {
				repaired = true
				continue
			}
			item, itemRepaired := repairItem(m, allowed)
			items = append(items, item)
			repaired = repaired || itemRepaired
		}
	} else if _, present := raw["extracted"]; present {
		repaired = true
	}

	// Fold a top-level requirement -> chunk-id map into items that lack
	// their own support.
	if folded := foldTopLevelSupport(raw, allowed, items); folded {
		repaired = true
	}

	// Invariant enforcement: value without support (or support without
	// value) collapses to an explicitly-unanswered item.
	for i := range items {
		if !items[i].Valid() {
			items[i].Value = nil
			items[i].SupportingChunkIDs = []string{}
		}
	}

	return items, repaired
}

// repairItem normalizes one extracted item object.
func repairItem(m map[string]any, allowed map[string]struct{}) (datatypes.ExtractedItem, bool) {
	repaired := false

	item := datatypes.ExtractedItem{}
	if s, ok := m["requirement"].(string); ok {
		item.Requirement = s
	} else if s, ok := m["name"].(string); ok {
		item.Requirement = s
		repaired = true
	}

	switch v := m["value"].(type) {
	case nil:
		item.Value = nil
	case string:
		if strings.TrimSpace(v) != "" {
			value := v
			item.Value = &value
		}
	case float64, bool:
		value := fmt.Sprint(v)
		item.Value = &value
		repaired = true
	default:
		repaired = true
	}

	rawIDs, ok := anySupportField(m)
	if !ok {
		item.SupportingChunkIDs = []string{}
		return item, repaired
	}
	ids, idsRepaired := filterChunkIDs(rawIDs, allowed)
	item.SupportingChunkIDs = ids
	return item, repaired || idsRepaired
}

// anySupportField finds the item's supporting-id list under any of the
// spellings the extractor has been observed to use.
func anySupportField(m map[string]any) (any, bool) {
	for _, key := range []string{"supportingChunkIds", "supporting_chunk_ids", "chunkIds", "chunk_ids"} {
		if v, ok := m[key]; ok {
			return v, true
		}
	}
	return nil, false
}

// filterChunkIDs extracts string ids, filters them to the allowed set,
// deduplicates, and caps at maxSupportingIDs. The repaired flag is set only
// when the input was not already a clean string array: ids outside the
// allowed set are an expected model error, not a shape problem.
func filterChunkIDs(v any, allowed map[string]struct{}) ([]string, bool) {
	repaired := false

	var rawList []any
	switch t := v.(type) {
	case []any:
		rawList = t
	case string:
		rawList = []any{t}
		repaired = true
	default:
		return []string{}, true
	}

	seen := make(map[string]struct{})
	ids := make([]string, 0, len(rawList))
	for _, e := range rawList {
		s, ok := e.(string)
		if !ok {
			repaired = true
			continue
		}
		if _, allowedID := allowed[s]; !allowedID {
			continue
		}
		if _, dup := seen[s]; dup {
			continue
		}
		seen[s] = struct{}{}
		ids = append(ids, s)
		if len(ids) == maxSupportingIDs {
			break
		}
	}
	return ids, repaired
}

// foldTopLevelSupport merges a top-level supportingChunkIds/chunkIds object
// (requirement-like keys mapping to chunk-id lists) into extracted items
// that have no support of their own. Returns true if anything was folded.
func foldTopLevelSupport(raw map[string]any, allowed map[string]struct{}, items []datatypes.ExtractedItem) bool {
	var support map[string]any
	for _, key := range []string{"supportingChunkIds", "chunkIds"} {
		if m, ok := raw[key].(map[string]any); ok {
			support = m
			break
		}
	}
	if support == nil {
		return false
	}

	folded := false
	for key, v := range support {
		for i := range items {
			if len(items[i].SupportingChunkIDs) > 0 {
				continue
			}
			if requirementKey(items[i].Requirement) != requirementKey(key) {
				continue
			}
			ids, _ := filterChunkIDs(v, allowed)
			if len(ids) > 0 {
				items[i].SupportingChunkIDs = ids
				folded = true
			}
		}
	}
	return folded
}

// computeOverall derives the verdict from requirement coverage:
// FOUND iff every requirement has a matching valid item, PARTIAL if at
// least one does, NOT_FOUND otherwise.
func computeOverall(requirements []string, items []datatypes.ExtractedItem) datatypes.Overall {
	if len(requirements) == 0 {
		return datatypes.OverallFound
	}

	satisfied := 0
	for _, req := range requirements {
		for _, item := range items {
			if item.Valid() && requirementKey(item.Requirement) == requirementKey(req) {
				satisfied++
				break
			}
		}
	}

	switch {
	case satisfied == len(requirements):
		return datatypes.OverallFound
	case satisfied > 0:
		return datatypes.OverallPartial
	default:
		return datatypes.OverallNotFound
	}
}

// requirementKey canonicalizes a requirement string for matching:
// case, whitespace, and underscores are ignored.
func requirementKey(s string) string {
	s = strings.ToLower(s)
	s = strings.ReplaceAll(s, "_", "")
	return strings.Join(strings.Fields(s), "")
}

func anyValid(items []datatypes.ExtractedItem) bool {
	for _, item := range items {
		if item.Valid() {
			return true
		}
	}
	return false
}

// sortedStringValues returns the string values of a map ordered by key, so
// map-shaped requirements repair deterministically.
func sortedStringValues(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var values []string
	for _, k := range keys {
		if s, ok := m[k].(string); ok && strings.TrimSpace(s) != "" {
			values = append(values, s)
		}
	}
	return values
}

// deepStringLeaves collects string leaves from an arbitrary JSON value,
// maps walked in sorted key order. Last-resort requirements recovery.
func deepStringLeaves(v any) []string {
	var leaves []string
	var walk func(any)
	walk = func(node any) {
		switch t := node.(type) {
		case string:
			if strings.TrimSpace(t) != "" {
				leaves = append(leaves, t)
			}
		case []any:
			for _, e := range t {
				walk(e)
			}
		case map[string]any:
			keys := make([]string, 0, len(t))
			for k := range t {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				walk(t[k])
			}
		}
	}
	walk(v)
	return leaves
}
