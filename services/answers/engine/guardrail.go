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
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/AleutianAI/AleutianTrust/services/answers/datatypes"
)

// ClaimCheckRequest is the payload sent to the claim-check guardrail.
type ClaimCheckRequest struct {
	Answer         string               `json:"answer"`
	QuotedSnippets []string             `json:"quoted_snippets"`
	Confidence     datatypes.Confidence `json:"confidence"`
	NeedsReview    bool                 `json:"needs_review"`
}

// ClaimCheckResult is the guardrail's possibly-rewritten verdict. Clauses
// unsupported by the snippets come back replaced with the partial-answer
// sentinel.
type ClaimCheckResult struct {
	Answer      string               `json:"answer"`
	Confidence  datatypes.Confidence `json:"confidence"`
	NeedsReview bool                 `json:"needs_review"`
}

// ClaimChecker is the external claim-verification contract. This service
// consumes it; it does not own the implementation. The normalizer is built
// to tolerate over-aggressive rewriting (see Normalizer).
type ClaimChecker interface {
	Check(ctx context.Context, req ClaimCheckRequest) (ClaimCheckResult, error)
}

// HTTPClaimChecker calls an external guardrail service over HTTP.
type HTTPClaimChecker struct {
	baseURL    string
	httpClient *http.Client
}

// NewHTTPClaimChecker creates a checker for the guardrail at baseURL.
func NewHTTPClaimChecker(baseURL string) *HTTPClaimChecker {
	return &HTTPClaimChecker{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// Check posts the answer and its supporting snippets to the guardrail's
// claim endpoint. Failures propagate to the caller as hard errors: a
// guardrail outage fails the single question, it does not silently skip
// verification.
func (c *HTTPClaimChecker) Check(ctx context.Context, req ClaimCheckRequest) (ClaimCheckResult, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return ClaimCheckResult{}, fmt.Errorf("failed to marshal claim-check request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/guardrail/claims", bytes.NewBuffer(payload))
	if err != nil {
		return ClaimCheckResult{}, fmt.Errorf("failed to create claim-check request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return ClaimCheckResult{}, fmt.Errorf("claim-check request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return ClaimCheckResult{}, fmt.Errorf("failed to read claim-check response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return ClaimCheckResult{}, fmt.Errorf("claim-check returned status %d: %s", resp.StatusCode, string(body))
	}

	var result ClaimCheckResult
	if err := json.Unmarshal(body, &result); err != nil {
		return ClaimCheckResult{}, fmt.Errorf("failed to parse claim-check response: %w", err)
	}
	return result, nil
}

// PassthroughChecker returns every answer unchanged. Used when no guardrail
// service is configured.
type PassthroughChecker struct{}

func (PassthroughChecker) Check(_ context.Context, req ClaimCheckRequest) (ClaimCheckResult, error) {
	return ClaimCheckResult{
		Answer:      req.Answer,
		Confidence:  req.Confidence,
		NeedsReview: req.NeedsReview,
	}, nil
}

var (
	_ ClaimChecker = (*HTTPClaimChecker)(nil)
	_ ClaimChecker = PassthroughChecker{}
)
