// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package store

import (
	"context"
	"log"
	"log/slog"

	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate/entities/models"
)

// GetEvidenceChunkSchema returns the schema for the EvidenceChunk class.
//
// # Properties
//
//   - chunk_id: Stable chunk identifier assigned at ingestion.
//   - doc_name: Human-readable source document name.
//   - content: Full chunk text used for extraction and generation.
//   - snippet: Short quoted excerpt used in citations.
//   - org_id: Owning organization; every query filters on it.
func GetEvidenceChunkSchema() *models.Class {
	indexFilterable := new(bool)
	*indexFilterable = true

	return &models.Class{
		Class:       ClassEvidenceChunk,
		Description: "A chunk of a customer evidence document with its embedding.",
		Vectorizer:  "none",
		Properties: []*models.Property{
			{
				Name:            "chunk_id",
				DataType:        []string{"text"},
				Description:     "Stable chunk identifier assigned at ingestion.",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
			{
				Name:         "doc_name",
				DataType:     []string{"text"},
				Description:  "Human-readable source document name.",
				Tokenization: "field",
			},
			{
				Name:         "content",
				DataType:     []string{"text"},
				Description:  "Full chunk text.",
				Tokenization: "word",
			},
			{
				Name:         "snippet",
				DataType:     []string{"text"},
				Description:  "Short quoted excerpt used in citations.",
				Tokenization: "word",
			},
			{
				Name:            "org_id",
				DataType:        []string{"text"},
				Description:     "Owning organization id.",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
		},
	}
}

// GetApprovedAnswerSchema returns the schema for the ApprovedAnswer class.
func GetApprovedAnswerSchema() *models.Class {
	indexFilterable := new(bool)
	*indexFilterable = true

	return &models.Class{
		Class:       ClassApprovedAnswer,
		Description: "A previously approved questionnaire answer eligible for reuse.",
		Vectorizer:  "none",
		Properties: []*models.Property{
			{
				Name:            "answer_id",
				DataType:        []string{"text"},
				Description:     "Unique identifier of the approved answer.",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
			{
				Name:         "answer_text",
				DataType:     []string{"text"},
				Description:  "The approved answer text, reused verbatim.",
				Tokenization: "word",
			},
			{
				Name:        "citation_chunk_ids",
				DataType:    []string{"text[]"},
				Description: "Evidence chunk ids the approved answer cites.",
			},
			{
				Name:         "normalized_question",
				DataType:     []string{"text"},
				Description:  "Normalized form of the approved question text.",
				Tokenization: "word",
			},
			{
				Name:            "question_hash",
				DataType:        []string{"text"},
				Description:     "SHA-256 hash of the normalized question text.",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
			{
				Name:            "updated_at",
				DataType:        []string{"number"},
				Description:     "Unix seconds when the answer was last approved.",
				IndexFilterable: indexFilterable,
			},
			{
				Name:            "org_id",
				DataType:        []string{"text"},
				Description:     "Owning organization id.",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
		},
	}
}

// EnsureSchema creates the answer-service classes if they do not exist.
// Schema creation failure at startup is fatal.
func EnsureSchema(client *weaviate.Client) {
	schemaGetters := []func() *models.Class{
		GetEvidenceChunkSchema,
		GetApprovedAnswerSchema,
	}

	for _, getSchema := range schemaGetters {
		class := getSchema()
		slog.Info("Checking schema", "class", class.Class)

		_, err := client.Schema().ClassGetter().WithClassName(class.Class).Do(context.Background())
		if err != nil {
			slog.Info("Schema not found, creating it...", "class", class.Class)
			if err := client.Schema().ClassCreator().WithClass(class).Do(context.Background()); err != nil {
				log.Fatalf("Failed to create schema for class %s: %v", class.Class, err)
			}
			slog.Info("Successfully created schema", "class", class.Class)
		} else {
			slog.Info("Schema already exists", "class", class.Class)
		}
	}
}
