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

// Overall is the sufficiency extractor's verdict on whether the evidence
// covers the question's requirements.
type Overall string

const (
	OverallFound    Overall = "FOUND"
	OverallPartial  Overall = "PARTIAL"
	OverallNotFound Overall = "NOT_FOUND"
)

// ExtractedItem is one atomic requirement with the value the extractor
// pulled from the evidence and the chunk ids that support it.
//
// Invariant: a non-nil Value requires a non-empty SupportingChunkIDs.
// Violating combinations are repaired to {Value: nil, SupportingChunkIDs: []}.
type ExtractedItem struct {
	Requirement        string   `json:"requirement"`
	Value              *string  `json:"value"`
	SupportingChunkIDs []string `json:"supporting_chunk_ids"`
}

// Valid reports whether the item carries both a value and at least one
// supporting chunk id.
func (i ExtractedItem) Valid() bool {
	return i.Value != nil && *i.Value != "" && len(i.SupportingChunkIDs) > 0
}

// SufficiencyVerdict is the normalized output of the extraction stage.
//
// ExtractorInvalid is true iff no extracted item is valid; in that case
// Overall is forced to NOT_FOUND regardless of what the raw model output
// claimed. HadShapeRepair records that the raw structured output needed a
// structural fallback, so callers can monitor upstream drift.
type SufficiencyVerdict struct {
	Requirements     []string        `json:"requirements"`
	Extracted        []ExtractedItem `json:"extracted"`
	Overall          Overall         `json:"overall"`
	HadShapeRepair   bool            `json:"had_shape_repair"`
	ExtractorInvalid bool            `json:"extractor_invalid"`
	InvalidReason    string          `json:"invalid_reason,omitempty"`
}

// ValidItems returns the extracted items that carry both a value and
// supporting evidence, in extraction order.
func (v SufficiencyVerdict) ValidItems() []ExtractedItem {
	var valid []ExtractedItem
	for _, item := range v.Extracted {
		if item.Valid() {
			valid = append(valid, item)
		}
	}
	return valid
}
