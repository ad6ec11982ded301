// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package handlers implements the HTTP handlers for the answer service.
package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"github.com/AleutianAI/AleutianTrust/services/answers/datatypes"
	"github.com/AleutianAI/AleutianTrust/services/answers/engine"
	"github.com/AleutianAI/AleutianTrust/services/answers/observability"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("aleutian.answers.handlers")

// AnswerService is the slice of the engine the handlers depend on.
type AnswerService interface {
	AnswerQuestion(ctx context.Context, req engine.AnswerRequest) (engine.AnswerResult, error)
	FindReusableAnswer(ctx context.Context, orgID, questionText string) (*datatypes.ReusedApprovedAnswer, error)
}

// AnswerRequest is the POST /v1/answers request body.
type AnswerRequest struct {
	OrgID        string `json:"org_id" binding:"required"`
	QuestionText string `json:"question_text" binding:"required"`
	Debug        bool   `json:"debug"`
}

// ReuseRequest is the POST /v1/answers/reuse request body.
type ReuseRequest struct {
	OrgID        string `json:"org_id" binding:"required"`
	QuestionText string `json:"question_text" binding:"required"`
}

// ReuseResponse wraps the reuse lookup result. Reused is nil when no
// approved answer matched.
type ReuseResponse struct {
	Reused *datatypes.ReusedApprovedAnswer `json:"reused"`
}

// debugEnabled gates the debug trace behind an operator switch so request
// bodies cannot expose pipeline internals in production.
func debugEnabled() bool {
	v := strings.ToLower(os.Getenv("ANSWERD_DEBUG_ENABLED"))
	return v == "true" || v == "1"
}

// HealthCheck reports service liveness.
func HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// HandleAnswerQuestion answers one questionnaire item from the
// organization's evidence.
func HandleAnswerQuestion(svc AnswerService) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := tracer.Start(c.Request.Context(), "HandleAnswerQuestion")
		defer span.End()

		var request AnswerRequest
		if err := c.BindJSON(&request); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			slog.Error("Failed to bind answer request JSON", "error", err)
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
			return
		}

		requestID := uuid.New().String()
		span.SetAttributes(
			attribute.String("request_id", requestID),
			attribute.String("org_id", request.OrgID),
		)
		slog.Info("Received answer request", "request_id", requestID, "org_id", request.OrgID)

		result, err := svc.AnswerQuestion(ctx, engine.AnswerRequest{
			OrgID:        request.OrgID,
			QuestionText: request.QuestionText,
			Debug:        request.Debug && debugEnabled(),
		})
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			slog.Error("Answer pipeline failed", "request_id", requestID, "error", err)
			observability.DefaultMetrics().RecordRequest("answers", false)
			c.JSON(http.StatusBadGateway, gin.H{"error": "Failed to answer question"})
			return
		}

		observability.DefaultMetrics().RecordRequest("answers", true)
		c.JSON(http.StatusOK, result)
	}
}

// HandleFindReusableAnswer looks up an approved answer reusable for the
// question. A miss is a 200 with a null reused field, not an error.
func HandleFindReusableAnswer(svc AnswerService) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := tracer.Start(c.Request.Context(), "HandleFindReusableAnswer")
		defer span.End()

		var request ReuseRequest
		if err := c.BindJSON(&request); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			slog.Error("Failed to bind reuse request JSON", "error", err)
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
			return
		}

		span.SetAttributes(attribute.String("org_id", request.OrgID))

		reused, err := svc.FindReusableAnswer(ctx, request.OrgID, request.QuestionText)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			slog.Error("Reuse lookup failed", "org_id", request.OrgID, "error", err)
			observability.DefaultMetrics().RecordRequest("reuse", false)
			c.JSON(http.StatusBadGateway, gin.H{"error": "Failed to look up approved answers"})
			return
		}

		observability.DefaultMetrics().RecordRequest("reuse", true)
		c.JSON(http.StatusOK, ReuseResponse{Reused: reused})
	}
}
