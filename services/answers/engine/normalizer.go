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
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/AleutianAI/AleutianTrust/services/answers/datatypes"
	"go.opentelemetry.io/otel/attribute"
)

// mfaFallbackText replaces an unsupported "MFA is required" claim.
const mfaFallbackText = "MFA is enabled, but whether it is required is not specified in the provided documents."

// NormalizeInput carries everything the decision core needs: the draft, its
// citations, the extractor verdict, and whether the generator had to retry.
type NormalizeInput struct {
	Question           string
	Draft              string
	Citations          []datatypes.Citation
	Verdict            datatypes.SufficiencyVerdict
	HadFormatViolation bool
}

// Normalizer merges the extractor verdict, guardrail output, and citation
// relevance into the final EvidenceAnswer. It is the only component that
// constructs a terminal answer; every other stage hands it raw material.
type Normalizer struct {
	checker ClaimChecker
}

// NewNormalizer creates a Normalizer using the given claim checker.
func NewNormalizer(checker ClaimChecker) *Normalizer {
	if checker == nil {
		checker = PassthroughChecker{}
	}
	return &Normalizer{checker: checker}
}

// Normalize applies the decision rules in order:
//
//  1. Zero citations: NOT_FOUND, terminal.
//  2. Draft equals the NOT_FOUND sentinel (exact or fuzzy): NOT_FOUND.
//  3. Draft fails format validation: NOT_FOUND.
//  4. Claim-check guardrail, with clobber prevention: if the extractor
//     certified full coverage and the draft was affirmative but the
//     guardrail rewrote it into a sentinel anyway, the original draft is
//     restored with confidence forced low and review forced on.
//  5. Empty or NOT_FOUND answer post-guardrail: NOT_FOUND.
//  6. needsReview aggregates the guardrail flag, format violations,
//     partial-sentinel answers, and prevented clobbers.
//  7. Confidence starts at the guardrail's value, is forced low on clobber
//     prevention or partial answers, and drops one step when review fires.
//
// Then the coverage evaluator appends "not specified" asks, the MFA rule
// downgrades unsupported "required" claims, and citation relevance is
// verified. Upstream guardrail errors propagate; everything else is
// neutralized by rewriting, never by throwing.
func (n *Normalizer) Normalize(ctx context.Context, in NormalizeInput) (datatypes.EvidenceAnswer, error) {
	ctx, span := tracer.Start(ctx, "Normalizer.Normalize")
	defer span.End()

	if len(in.Citations) == 0 {
		return datatypes.NotFoundAnswer(datatypes.ReasonNoRelevantEvidence), nil
	}
	if datatypes.IsNotFoundText(in.Draft) {
		return datatypes.NotFoundAnswer(datatypes.ReasonNoRelevantEvidence), nil
	}
	if violatesAnswerFormat(in.Draft, nil) {
		return datatypes.NotFoundAnswer(datatypes.ReasonNoRelevantEvidence), nil
	}

	baseConfidence := datatypes.ConfidenceHigh
	if in.Verdict.Overall == datatypes.OverallPartial {
		baseConfidence = datatypes.ConfidenceMed
	}

	snippets := make([]string, 0, len(in.Citations))
	for _, c := range in.Citations {
		snippets = append(snippets, c.QuotedSnippet)
	}

	checked, err := n.checker.Check(ctx, ClaimCheckRequest{
		Answer:         in.Draft,
		QuotedSnippets: snippets,
		Confidence:     baseConfidence,
		NeedsReview:    in.HadFormatViolation,
	})
	if err != nil {
		span.RecordError(err)
		return datatypes.EvidenceAnswer{}, fmt.Errorf("claim check failed: %w", err)
	}

	answer := checked.Answer
	confidence := checked.Confidence
	clobberPrevented := false

	// Guardrail false positives must not destroy a verified answer: the
	// extractor certified full coverage for this exact draft.
	if in.Verdict.Overall == datatypes.OverallFound &&
		!datatypes.IsNotFoundText(in.Draft) && !datatypes.IsPartialText(in.Draft) &&
		(datatypes.IsNotFoundText(answer) || datatypes.IsPartialText(answer)) {
		slog.Warn("guardrail rewrote a fully-covered draft, restoring original",
			"rewritten_prefix", truncateForLog(answer, 60))
		answer = in.Draft
		confidence = datatypes.ConfidenceLow
		clobberPrevented = true
	}

	if strings.TrimSpace(answer) == "" || datatypes.IsNotFoundText(answer) {
		return datatypes.NotFoundAnswer(datatypes.ReasonNoRelevantEvidence), nil
	}

	// Partial extractor coverage reports the partial sentinel rather than
	// an answer that silently omits the missing requirement.
	if in.Verdict.Overall == datatypes.OverallPartial {
		answer = datatypes.PartialText
	}

	citations := in.Citations
	needsReview := checked.NeedsReview || in.HadFormatViolation ||
		datatypes.IsPartialText(answer) || clobberPrevented

	if clobberPrevented || datatypes.IsPartialText(answer) {
		confidence = datatypes.ConfidenceLow
	}

	evidenceText := citedEvidenceText(citations)

	// Coverage evaluator: asks the question makes that the cited evidence
	// never addresses are surfaced explicitly.
	if missing := missingCoverageAsks(in.Question, evidenceText); len(missing) > 0 && !datatypes.IsPartialText(answer) {
		answer = answer + "\n\nNot specified in the cited evidence: " + strings.Join(missing, ", ") + "."
		needsReview = true
		confidence = confidence.CapAtMed()
		span.SetAttributes(attribute.StringSlice("normalizer.missing_asks", missing))
	}

	// MFA requirement rule: "required" claims about MFA need requirement
	// language near an MFA mention in the evidence.
	if answerClaimsMFARequired(answer) && !evidenceSupportsMFARequirement(evidenceText) {
		slog.Info("downgrading unsupported MFA requirement claim")
		answer = mfaFallbackText
		needsReview = true
		confidence = confidence.CapAtMed()
	}

	// Citation relevance: an answer whose cited snippets share no strong
	// keyword with the question is not trusted at all.
	if !citationsRelevant(in.Question, citations) {
		slog.Warn("cited evidence shares no strong keywords with question, clearing citations")
		return datatypes.NotFoundAnswer(datatypes.ReasonNoRelevantEvidence), nil
	}

	if needsReview {
		confidence = confidence.Downgrade()
	}

	result := datatypes.EvidenceAnswer{
		Answer:      answer,
		Citations:   citations,
		Confidence:  confidence,
		NeedsReview: needsReview,
	}

	// Terminal invariant: no non-sentinel answer leaves with zero
	// citations, and the sentinel always leaves with none.
	if len(result.Citations) == 0 {
		return datatypes.NotFoundAnswer(datatypes.ReasonNoRelevantEvidence), nil
	}

	span.SetAttributes(
		attribute.String("normalizer.confidence", string(result.Confidence)),
		attribute.Bool("normalizer.needs_review", result.NeedsReview),
		attribute.Int("normalizer.citations", len(result.Citations)),
	)
	return result, nil
}

// =============================================================================
// Coverage rules
// =============================================================================

// coverageRule pairs a question pattern with the evidence pattern that must
// accompany it. Declarative table instead of nested conditionals so asks
// can be added without touching the evaluator.
type coverageRule struct {
	Ask      string
	Question *regexp.Regexp
	Evidence *regexp.Regexp
}

var coverageRules = []coverageRule{
	{
		Ask:      "algorithm or cipher",
		Question: regexp.MustCompile(`(?i)\b(algorithm|cipher|encryption standard)\b`),
		Evidence: regexp.MustCompile(`(?i)\b(aes(-\d+)?|rsa|chacha20|3des|sha-?\d+|tls\s*1\.[0-9]|cipher|algorithm)\b`),
	},
	{
		Ask:      "scope",
		Question: regexp.MustCompile(`(?i)\b(in scope|scope of|which systems|all systems|all employees)\b`),
		Evidence: regexp.MustCompile(`(?i)\b(scope|(all|every|each) (systems?|endpoints?|employees?|users?|environments?)|per[- ](user|employee|device)|production|company-?wide|organization-?wide)\b`),
	},
	{
		Ask:      "key management",
		Question: regexp.MustCompile(`(?i)\bkey (management|rotation|storage)\b|\bkms\b`),
		Evidence: regexp.MustCompile(`(?i)\b(kms|key management|key rotation|rotated|hsm|key vault)\b`),
	},
	{
		Ask:      "frequency",
		Question: regexp.MustCompile(`(?i)\b(how often|how frequently|frequency|cadence)\b`),
		Evidence: regexp.MustCompile(`(?i)\b(daily|weekly|monthly|quarterly|annually|bi-?annually|every \d+|continuous(ly)?)\b`),
	},
	{
		Ask:      "retention period",
		Question: regexp.MustCompile(`(?i)\b(retention|retained|how long)\b`),
		Evidence: regexp.MustCompile(`(?i)\b(\d+\s*(days?|months?|years?)|retention period|indefinitely)\b`),
	},
	{
		Ask:      "ownership",
		Question: regexp.MustCompile(`(?i)\bwho (owns|is responsible|is accountable)\b|\bresponsible party\b`),
		Evidence: regexp.MustCompile(`(?i)\b(owned by|responsib(le|ility)|accountable|ciso|security team|dpo)\b`),
	},
	{
		Ask:      "compliance report",
		Question: regexp.MustCompile(`(?i)\b(soc\s*2|sig\b|iso\s*27001|attestation|audit report)\b`),
		Evidence: regexp.MustCompile(`(?i)\b(soc\s*2|sig\b|iso\s*27001|type\s*(i{1,2}|1|2)|audited|attestation)\b`),
	},
	{
		Ask:      "whether it is required",
		Question: regexp.MustCompile(`(?i)\b(required|mandatory|enforced)\b`),
		Evidence: regexp.MustCompile(`(?i)\b(require[sd]?|mandat(ory|ed)|must|enforce[sd]?)\b`),
	},
}

// missingCoverageAsks returns the asks whose question pattern matches but
// whose evidence counterpart is absent from the cited evidence text.
func missingCoverageAsks(question, evidenceText string) []string {
	var missing []string
	for _, rule := range coverageRules {
		if rule.Question.MatchString(question) && !rule.Evidence.MatchString(evidenceText) {
			missing = append(missing, rule.Ask)
		}
	}
	return missing
}

// =============================================================================
// MFA requirement rule
// =============================================================================

var (
	mfaMentionRe     = regexp.MustCompile(`(?i)\b(mfa|2fa|multi-?factor|two-?factor)\b`)
	mfaRequiredRe    = regexp.MustCompile(`(?i)\b(required|mandatory|must|enforced)\b`)
	requirementWords = regexp.MustCompile(`(?i)\b(require[sd]?|mandat(ory|ed)|must|enforce[sd]?)\b`)
)

// mfaProximityWindow is how many characters around an MFA mention are
// scanned for requirement language in the evidence.
const mfaProximityWindow = 80

// answerClaimsMFARequired reports whether the answer asserts "required"
// style language about MFA/2FA.
func answerClaimsMFARequired(answer string) bool {
	return mfaMentionRe.MatchString(answer) && mfaRequiredRe.MatchString(answer)
}

// evidenceSupportsMFARequirement reports whether any MFA mention in the
// evidence has requirement language within the proximity window.
func evidenceSupportsMFARequirement(evidenceText string) bool {
	for _, loc := range mfaMentionRe.FindAllStringIndex(evidenceText, -1) {
		start := loc[0] - mfaProximityWindow
		if start < 0 {
			start = 0
		}
		end := loc[1] + mfaProximityWindow
		if end > len(evidenceText) {
			end = len(evidenceText)
		}
		if requirementWords.MatchString(evidenceText[start:end]) {
			return true
		}
	}
	return false
}

// =============================================================================
// Citation relevance
// =============================================================================

// genericQuestionWords are tokens too common in questionnaire text to count
// as evidence of relevance.
var genericQuestionWords = map[string]struct{}{
	"company": {}, "controls": {}, "data": {}, "describe": {}, "detail": {},
	"details": {}, "information": {}, "organization": {}, "policy": {},
	"process": {}, "security": {}, "system": {}, "systems": {},
}

// citationsRelevant reports whether any strong (non-generic) question
// keyword appears in the cited snippet text. Questions with no strong
// keywords cannot be judged and pass.
func citationsRelevant(question string, citations []datatypes.Citation) bool {
	var strong []string
	for _, token := range tokenizeQuestion(question) {
		if _, generic := genericQuestionWords[token]; generic {
			continue
		}
		strong = append(strong, token)
	}
	if len(strong) == 0 {
		return true
	}

	var sb strings.Builder
	for _, c := range citations {
		sb.WriteString(strings.ToLower(c.QuotedSnippet))
		sb.WriteString(" ")
	}
	snippetText := sb.String()

	for _, token := range strong {
		if strings.Contains(snippetText, token) {
			return true
		}
	}
	return false
}

func citedEvidenceText(citations []datatypes.Citation) string {
	var sb strings.Builder
	for _, c := range citations {
		sb.WriteString(c.QuotedSnippet)
		sb.WriteString("\n")
	}
	return sb.String()
}
