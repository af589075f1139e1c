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

const (
	schemaDocuments = `
	-- Documents Table (one row per document, JSON payload)
	CREATE TABLE IF NOT EXISTS documents (
		collection TEXT NOT NULL,
		id TEXT NOT NULL,
		data TEXT NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (collection, id)
	);

	-- Performance Indexes for the ledger's hot filters
	CREATE INDEX IF NOT EXISTS idx_documents_collection ON documents(collection);
	CREATE INDEX IF NOT EXISTS idx_documents_account
		ON documents(collection, json_extract(data, '$.accountId'));
	CREATE INDEX IF NOT EXISTS idx_documents_tenant
		ON documents(collection, json_extract(data, '$.tenantId'));
	`

	queryGetDocument = `
		SELECT data
		FROM documents
		WHERE collection = ? AND id = ?`

	queryInsertDocument = `
		INSERT INTO documents (collection, id, data, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)`

	queryUpdateDocument = `
		UPDATE documents
		SET data = ?, updated_at = ?
		WHERE collection = ? AND id = ?`

	// List queries are assembled from this prefix plus one clause per filter.
	queryListDocumentsPrefix = `
		SELECT data
		FROM documents
		WHERE collection = ?`

	queryListFilterClause = ` AND CAST(json_extract(data, ?) AS TEXT) = ?`

	queryListDocumentsOrder = ` ORDER BY rowid`
)
