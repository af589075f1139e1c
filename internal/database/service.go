/**
 * Copyright 2025-present Coinbase Global, Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *  http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"lookup-billing-go/internal/models"
	"lookup-billing-go/internal/store"

	"github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
)

// Compile-time check: *Service must satisfy store.DocumentStore.
var _ store.DocumentStore = (*Service)(nil)

type Service struct {
	db *sql.DB
}

func NewService(ctx context.Context, cfg models.DatabaseConfig) (*Service, error) {
	// Validate configuration
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path cannot be empty")
	}
	if cfg.MaxOpenConns <= 0 {
		return nil, fmt.Errorf("max open connections must be positive, got %d", cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns < 0 {
		return nil, fmt.Errorf("max idle connections cannot be negative, got %d", cfg.MaxIdleConns)
	}
	if cfg.PingTimeout <= 0 {
		return nil, fmt.Errorf("ping timeout must be positive, got %v", cfg.PingTimeout)
	}

	zap.L().Info("Opening SQLite database", zap.String("file", cfg.Path))
	db, err := sql.Open("sqlite3", cfg.Path+"?_journal_mode=WAL&_synchronous=NORMAL&_cache_size=1000&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("unable to open database: %w", err)
	}

	// Set connection timeouts and limits
	maxOpen := cfg.MaxOpenConns
	if cfg.Path == ":memory:" {
		// every connection to :memory: is a separate database
		maxOpen = 1
	}
	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	// Test connection with timeout
	pingCtx, cancel := context.WithTimeout(ctx, cfg.PingTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			return nil, closeErr
		}
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	service, err := newServiceFromDB(db)
	if err != nil {
		if closeErr := db.Close(); closeErr != nil {
			return nil, closeErr
		}
		return nil, fmt.Errorf("unable to initialize schema: %w", err)
	}

	zap.L().Info("Database service initialized successfully")
	return service, nil
}

func newServiceFromDB(db *sql.DB) (*Service, error) {
	service := &Service{db: db}
	if _, err := db.Exec(schemaDocuments); err != nil {
		return nil, err
	}
	return service, nil
}

func (s *Service) Close() {
	if err := s.db.Close(); err != nil {
		zap.L().Warn("Failed to close database connection", zap.Error(err))
	}
}

func (s *Service) Get(ctx context.Context, collection, id string) (store.Document, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, queryGetDocument, collection, id).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s/%s", store.ErrNotFound, collection, id)
	}
	if err != nil {
		zap.L().Error("Failed to get document",
			zap.String("collection", collection),
			zap.String("id", id),
			zap.Error(err))
		return nil, fmt.Errorf("failed to get document: %w", err)
	}
	return unmarshalDocument(raw)
}

func (s *Service) List(ctx context.Context, collection string, filters store.Filters) ([]store.Document, error) {
	query, args := buildListQuery(collection, filters)

	zap.L().Debug("Listing documents",
		zap.String("collection", collection),
		zap.Int("filters", len(filters)))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		zap.L().Error("Failed to list documents", zap.String("collection", collection), zap.Error(err))
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}
	defer func(rows *sql.Rows) {
		if err := rows.Close(); err != nil {
			zap.L().Warn("Failed to close rows", zap.Error(err))
		}
	}(rows)

	docs := make([]store.Document, 0)
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("failed to scan document: %w", err)
		}
		doc, err := unmarshalDocument(raw)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}

	// Check for errors during iteration
	if err := rows.Err(); err != nil {
		zap.L().Error("Error during document row iteration", zap.Error(err))
		return nil, fmt.Errorf("error iterating document rows: %w", err)
	}

	return docs, nil
}

func (s *Service) Create(ctx context.Context, collection, id string, data store.Document) (store.Document, error) {
	id = store.NewId(id)

	doc, err := store.Encode(data)
	if err != nil {
		return nil, err
	}
	if doc == nil {
		doc = store.Document{}
	}
	doc["id"] = id

	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal document: %w", err)
	}

	now := time.Now().UTC()
	_, err = s.db.ExecContext(ctx, queryInsertDocument, collection, id, string(raw), now, now)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: %s/%s", store.ErrAlreadyExists, collection, id)
		}
		zap.L().Error("Failed to insert document",
			zap.String("collection", collection),
			zap.String("id", id),
			zap.Error(err))
		return nil, fmt.Errorf("failed to insert document: %w", err)
	}

	return doc, nil
}

// Update merges patch into the stored document inside a single database transaction.
func (s *Service) Update(ctx context.Context, collection, id string, patch store.Document) (store.Document, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var raw string
	err = tx.QueryRowContext(ctx, queryGetDocument, collection, id).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s/%s", store.ErrNotFound, collection, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read document: %w", err)
	}

	current, err := unmarshalDocument(raw)
	if err != nil {
		return nil, err
	}
	merged, err := store.Encode(store.Merge(current, patch))
	if err != nil {
		return nil, err
	}

	updated, err := json.Marshal(merged)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal document: %w", err)
	}

	if _, err := tx.ExecContext(ctx, queryUpdateDocument, string(updated), time.Now().UTC(), collection, id); err != nil {
		return nil, fmt.Errorf("failed to update document: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return merged, nil
}

func buildListQuery(collection string, filters store.Filters) (string, []any) {
	fields := make([]string, 0, len(filters))
	for field := range filters {
		fields = append(fields, field)
	}
	sort.Strings(fields)

	var b strings.Builder
	b.WriteString(queryListDocumentsPrefix)
	args := []any{collection}
	for _, field := range fields {
		b.WriteString(queryListFilterClause)
		args = append(args, "$."+field, filters[field])
	}
	b.WriteString(queryListDocumentsOrder)

	return b.String(), args
}

func unmarshalDocument(raw string) (store.Document, error) {
	var doc store.Document
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return nil, fmt.Errorf("failed to parse document: %w", err)
	}
	return doc, nil
}

func isUniqueViolation(err error) bool {
	sqliteErr, ok := err.(sqlite3.Error)
	return ok && (sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey || sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique)
}
