// Package postgres is the pgx-backed implementation of storage.Relational:
// knowledge bases, documents, chunks, chats, API keys and webhooks all live
// in one Postgres database, following the table-per-entity, upsert-via-CTE
// conventions used throughout the reference chat store.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"ragcore/internal/domain"
	"ragcore/internal/ragerr"
)

// Store implements storage.Relational against a Postgres database.
type Store struct {
	pool *pgxpool.Pool
}

// Open connects to dsn and ensures the schema exists.
func Open(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: connect: %w", err)
	}
	s := &Store{pool: pool}
	if err := s.init(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) init(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS knowledge_bases (
			id TEXT PRIMARY KEY,
			tenant_id TEXT NOT NULL,
			name TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL,
			version BIGINT NOT NULL DEFAULT 0,
			error_reason TEXT NOT NULL DEFAULT '',
			processed_docs INT NOT NULL DEFAULT 0,
			total_docs INT NOT NULL DEFAULT 0,
			training_progress DOUBLE PRECISION NOT NULL DEFAULT 0,
			llm_config JSONB NOT NULL DEFAULT '{}'::jsonb,
			example_queries TEXT[] NOT NULL DEFAULT '{}',
			entity_types TEXT[] NOT NULL DEFAULT '{}',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_kb_tenant ON knowledge_bases (tenant_id)`,
		`CREATE TABLE IF NOT EXISTS memberships (
			user_id TEXT NOT NULL,
			kb_id TEXT NOT NULL REFERENCES knowledge_bases(id) ON DELETE CASCADE,
			role TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (user_id, kb_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_memberships_kb ON memberships (kb_id)`,
		`CREATE TABLE IF NOT EXISTS documents (
			id TEXT PRIMARY KEY,
			kb_id TEXT NOT NULL REFERENCES knowledge_bases(id) ON DELETE CASCADE,
			source TEXT NOT NULL DEFAULT '',
			url TEXT NOT NULL DEFAULT '',
			content_hash TEXT NOT NULL,
			status TEXT NOT NULL,
			version INT NOT NULL DEFAULT 1,
			size_bytes BIGINT NOT NULL DEFAULT 0,
			mime_type TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			UNIQUE (kb_id, content_hash)
		)`,
		`CREATE TABLE IF NOT EXISTS chunks (
			id TEXT PRIMARY KEY,
			document_id TEXT NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
			kb_id TEXT NOT NULL,
			idx INT NOT NULL,
			text TEXT NOT NULL,
			token_count INT NOT NULL DEFAULT 0,
			metadata JSONB NOT NULL DEFAULT '{}'::jsonb
		)`,
		`CREATE INDEX IF NOT EXISTS idx_chunks_kb ON chunks (kb_id)`,
		`CREATE TABLE IF NOT EXISTS chats (
			id TEXT PRIMARY KEY,
			tenant_id TEXT NOT NULL,
			kb_ids TEXT[] NOT NULL DEFAULT '{}',
			mode TEXT NOT NULL DEFAULT 'auto',
			title TEXT NOT NULL DEFAULT '',
			deleted_at TIMESTAMPTZ,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS chat_messages (
			id TEXT PRIMARY KEY,
			chat_id TEXT NOT NULL REFERENCES chats(id) ON DELETE CASCADE,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			citations TEXT[] NOT NULL DEFAULT '{}',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_chat_messages_chat ON chat_messages (chat_id, created_at)`,
		`CREATE TABLE IF NOT EXISTS api_keys (
			id TEXT PRIMARY KEY,
			tenant_id TEXT NOT NULL,
			name TEXT NOT NULL DEFAULT '',
			secret_hash TEXT NOT NULL,
			scopes TEXT[] NOT NULL DEFAULT '{}',
			rate_limit INT NOT NULL DEFAULT 60,
			revoked_at TIMESTAMPTZ,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS webhooks (
			id TEXT PRIMARY KEY,
			tenant_id TEXT NOT NULL,
			url TEXT NOT NULL,
			secret TEXT NOT NULL,
			events TEXT[] NOT NULL DEFAULT '{}',
			active BOOLEAN NOT NULL DEFAULT true,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS webhook_deliveries (
			id TEXT PRIMARY KEY,
			webhook_id TEXT NOT NULL REFERENCES webhooks(id) ON DELETE CASCADE,
			event TEXT NOT NULL,
			payload BYTEA NOT NULL,
			metadata JSONB NOT NULL DEFAULT '{}'::jsonb,
			status TEXT NOT NULL,
			attempts INT NOT NULL DEFAULT 0,
			next_attempt TIMESTAMPTZ NOT NULL DEFAULT now(),
			last_error TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_deliveries_due ON webhook_deliveries (status, next_attempt)`,
	}
	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("postgres: init schema: %w", err)
		}
	}
	return nil
}

const kbColumns = `id, tenant_id, name, description, status, version, error_reason,
	processed_docs, total_docs, training_progress, llm_config, example_queries, entity_types,
	created_at, updated_at`

func scanKnowledgeBase(row pgx.Row) (domain.KnowledgeBase, error) {
	var kb domain.KnowledgeBase
	var llmConfig []byte
	err := row.Scan(&kb.ID, &kb.TenantID, &kb.Name, &kb.Description, &kb.Status, &kb.Version, &kb.ErrorReason,
		&kb.ProcessedDocs, &kb.TotalDocs, &kb.TrainingProgress, &llmConfig, &kb.ExampleQueries, &kb.EntityTypes,
		&kb.CreatedAt, &kb.UpdatedAt)
	if err != nil {
		return domain.KnowledgeBase{}, err
	}
	_ = json.Unmarshal(llmConfig, &kb.LLMConfig)
	return kb, nil
}

func (s *Store) CreateKnowledgeBase(ctx context.Context, kb domain.KnowledgeBase) error {
	llmConfig, _ := json.Marshal(kb.LLMConfig)
	_, err := s.pool.Exec(ctx, `
		INSERT INTO knowledge_bases (id, tenant_id, name, description, status, version, error_reason,
			processed_docs, total_docs, training_progress, llm_config, example_queries, entity_types, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`, kb.ID, kb.TenantID, kb.Name, kb.Description, kb.Status, kb.Version, kb.ErrorReason,
		kb.ProcessedDocs, kb.TotalDocs, kb.TrainingProgress, llmConfig, kb.ExampleQueries, kb.EntityTypes, kb.CreatedAt, kb.UpdatedAt)
	if isUniqueViolation(err) {
		return ragerr.New(ragerr.Conflict, "kb_exists", "knowledge base already exists")
	}
	return err
}

func (s *Store) GetKnowledgeBase(ctx context.Context, id string) (domain.KnowledgeBase, error) {
	kb, err := scanKnowledgeBase(s.pool.QueryRow(ctx, `SELECT `+kbColumns+` FROM knowledge_bases WHERE id = $1`, id))
	if err == pgx.ErrNoRows {
		return domain.KnowledgeBase{}, ragerr.New(ragerr.NotFound, "kb_not_found", "knowledge base not found")
	}
	return kb, err
}

func (s *Store) ListKnowledgeBases(ctx context.Context, tenantID string) ([]domain.KnowledgeBase, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+kbColumns+` FROM knowledge_bases WHERE tenant_id = $1 ORDER BY created_at`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.KnowledgeBase
	for rows.Next() {
		kb, err := scanKnowledgeBase(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, kb)
	}
	return out, rows.Err()
}

func (s *Store) UpdateKBProgress(ctx context.Context, id string, processedDocs, totalDocs int, progress float64) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE knowledge_bases SET processed_docs = $1, total_docs = $2, training_progress = $3, updated_at = now()
		WHERE id = $4
	`, processedDocs, totalDocs, progress, id)
	return err
}

func (s *Store) CreateMembership(ctx context.Context, m domain.Membership) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO memberships (user_id, kb_id, role, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id, kb_id) DO UPDATE SET role = EXCLUDED.role
	`, m.UserID, m.KnowledgeBaseID, m.Role, m.CreatedAt)
	return err
}

func (s *Store) GetMembership(ctx context.Context, userID, kbID string) (domain.Membership, bool, error) {
	var m domain.Membership
	err := s.pool.QueryRow(ctx, `
		SELECT user_id, kb_id, role, created_at FROM memberships WHERE user_id = $1 AND kb_id = $2
	`, userID, kbID).Scan(&m.UserID, &m.KnowledgeBaseID, &m.Role, &m.CreatedAt)
	if err == pgx.ErrNoRows {
		return domain.Membership{}, false, nil
	}
	return m, err == nil, err
}

func (s *Store) ListMemberships(ctx context.Context, kbID string) ([]domain.Membership, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT user_id, kb_id, role, created_at FROM memberships WHERE kb_id = $1 ORDER BY created_at
	`, kbID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Membership
	for rows.Next() {
		var m domain.Membership
		if err := rows.Scan(&m.UserID, &m.KnowledgeBaseID, &m.Role, &m.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *Store) DeleteMembership(ctx context.Context, userID, kbID string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM memberships WHERE user_id = $1 AND kb_id = $2`, userID, kbID)
	return err
}

// TransitionKBStatus relies on the WHERE status = expected guard to make the
// update atomic under concurrent training workers: exactly one caller sees
// rowsAffected == 1.
func (s *Store) TransitionKBStatus(ctx context.Context, id string, expected, next domain.KBStatus, errorReason string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE knowledge_bases
		SET status = $1, error_reason = $2, version = version + 1, updated_at = now()
		WHERE id = $3 AND status = $4
	`, next, errorReason, id, expected)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (s *Store) DeleteKnowledgeBase(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM knowledge_bases WHERE id = $1`, id)
	return err
}

func (s *Store) CreateDocument(ctx context.Context, doc domain.Document) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO documents (id, kb_id, source, url, content_hash, status, version, size_bytes, mime_type, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, doc.ID, doc.KnowledgeBaseID, doc.Source, doc.URL, doc.ContentHash, doc.Status, doc.Version, doc.SizeBytes, doc.MimeType, doc.CreatedAt, doc.UpdatedAt)
	if isUniqueViolation(err) {
		return ragerr.New(ragerr.DuplicateContent, "duplicate_content", "document content already exists in this knowledge base")
	}
	return err
}

func (s *Store) GetDocumentByHash(ctx context.Context, kbID, hash string) (domain.Document, bool, error) {
	var d domain.Document
	err := s.pool.QueryRow(ctx, `
		SELECT id, kb_id, source, url, content_hash, status, version, size_bytes, mime_type, created_at, updated_at
		FROM documents WHERE kb_id = $1 AND content_hash = $2
	`, kbID, hash).Scan(&d.ID, &d.KnowledgeBaseID, &d.Source, &d.URL, &d.ContentHash, &d.Status, &d.Version, &d.SizeBytes, &d.MimeType, &d.CreatedAt, &d.UpdatedAt)
	if err == pgx.ErrNoRows {
		return domain.Document{}, false, nil
	}
	return d, err == nil, err
}

func (s *Store) UpdateDocumentStatus(ctx context.Context, id string, status domain.DocumentStatus) error {
	_, err := s.pool.Exec(ctx, `UPDATE documents SET status = $1, updated_at = now() WHERE id = $2`, status, id)
	return err
}

func (s *Store) ListDocuments(ctx context.Context, kbID string) ([]domain.Document, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, kb_id, source, url, content_hash, status, version, size_bytes, mime_type, created_at, updated_at
		FROM documents WHERE kb_id = $1 ORDER BY created_at
	`, kbID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Document
	for rows.Next() {
		var d domain.Document
		if err := rows.Scan(&d.ID, &d.KnowledgeBaseID, &d.Source, &d.URL, &d.ContentHash, &d.Status, &d.Version, &d.SizeBytes, &d.MimeType, &d.CreatedAt, &d.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *Store) DeleteDocument(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM documents WHERE id = $1`, id)
	return err
}

func (s *Store) ReplaceChunks(ctx context.Context, documentID string, chunks []domain.Chunk) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM chunks WHERE document_id = $1`, documentID); err != nil {
		return err
	}
	for _, c := range chunks {
		if _, err := tx.Exec(ctx, `
			INSERT INTO chunks (id, document_id, kb_id, idx, text, token_count, metadata)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`, c.ID, c.DocumentID, c.KnowledgeBaseID, c.Index, c.Text, c.TokenCount, metadataJSON(c.Metadata)); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

func (s *Store) ListChunks(ctx context.Context, kbID string) ([]domain.Chunk, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, document_id, kb_id, idx, text, token_count
		FROM chunks WHERE kb_id = $1 ORDER BY document_id, idx
	`, kbID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Chunk
	for rows.Next() {
		var c domain.Chunk
		if err := rows.Scan(&c.ID, &c.DocumentID, &c.KnowledgeBaseID, &c.Index, &c.Text, &c.TokenCount); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Store) DeleteChunksByDocument(ctx context.Context, documentID string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM chunks WHERE document_id = $1`, documentID)
	return err
}

// EnsureChat upserts via the same insert-or-select CTE pattern the reference
// chat store uses, so concurrent callers racing to create the same chat id
// converge on one row instead of erroring.
const chatColumns = `id, tenant_id, kb_ids, mode, title, deleted_at, created_at, updated_at`

func (s *Store) EnsureChat(ctx context.Context, chat domain.Chat) (domain.Chat, error) {
	var out domain.Chat
	err := s.pool.QueryRow(ctx, `
		WITH ins AS (
			INSERT INTO chats (id, tenant_id, kb_ids, mode, title, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, now(), now())
			ON CONFLICT (id) DO NOTHING
			RETURNING `+chatColumns+`
		)
		SELECT `+chatColumns+` FROM ins
		UNION ALL
		SELECT `+chatColumns+` FROM chats WHERE id = $1 LIMIT 1
	`, chat.ID, chat.TenantID, chat.KnowledgeBaseIDs, chat.Mode, chat.Title).
		Scan(&out.ID, &out.TenantID, &out.KnowledgeBaseIDs, &out.Mode, &out.Title, &out.DeletedAt, &out.CreatedAt, &out.UpdatedAt)
	return out, err
}

func (s *Store) GetChat(ctx context.Context, id string) (domain.Chat, error) {
	var c domain.Chat
	err := s.pool.QueryRow(ctx, `SELECT `+chatColumns+` FROM chats WHERE id = $1`, id).
		Scan(&c.ID, &c.TenantID, &c.KnowledgeBaseIDs, &c.Mode, &c.Title, &c.DeletedAt, &c.CreatedAt, &c.UpdatedAt)
	if err == pgx.ErrNoRows {
		return domain.Chat{}, ragerr.New(ragerr.NotFound, "chat_not_found", "chat not found")
	}
	return c, err
}

func (s *Store) ListChats(ctx context.Context, tenantID string) ([]domain.Chat, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+chatColumns+` FROM chats WHERE tenant_id = $1 ORDER BY created_at`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Chat
	for rows.Next() {
		var c domain.Chat
		if err := rows.Scan(&c.ID, &c.TenantID, &c.KnowledgeBaseIDs, &c.Mode, &c.Title, &c.DeletedAt, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Store) SetChatDeleted(ctx context.Context, id string, deleted bool) (domain.Chat, error) {
	var deletedAt any
	if deleted {
		deletedAt = time.Now().UTC()
	}
	var c domain.Chat
	err := s.pool.QueryRow(ctx, `
		UPDATE chats SET deleted_at = $1, updated_at = now() WHERE id = $2
		RETURNING `+chatColumns, deletedAt, id).
		Scan(&c.ID, &c.TenantID, &c.KnowledgeBaseIDs, &c.Mode, &c.Title, &c.DeletedAt, &c.CreatedAt, &c.UpdatedAt)
	if err == pgx.ErrNoRows {
		return domain.Chat{}, ragerr.New(ragerr.NotFound, "chat_not_found", "chat not found")
	}
	return c, err
}

func (s *Store) AppendMessage(ctx context.Context, msg domain.ChatMessage) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `
		INSERT INTO chat_messages (id, chat_id, role, content, citations, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, msg.ID, msg.ChatID, msg.Role, msg.Content, msg.Citations, msg.CreatedAt); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `UPDATE chats SET updated_at = now() WHERE id = $1`, msg.ChatID); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *Store) ListMessages(ctx context.Context, chatID string, limit int) ([]domain.ChatMessage, error) {
	q := `SELECT id, chat_id, role, content, citations, created_at FROM chat_messages WHERE chat_id = $1 ORDER BY created_at`
	var rows pgx.Rows
	var err error
	if limit > 0 {
		rows, err = s.pool.Query(ctx, `
			SELECT id, chat_id, role, content, citations, created_at FROM (
				SELECT id, chat_id, role, content, citations, created_at FROM chat_messages
				WHERE chat_id = $1 ORDER BY created_at DESC LIMIT $2
			) sub ORDER BY created_at
		`, chatID, limit)
	} else {
		rows, err = s.pool.Query(ctx, q, chatID)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.ChatMessage
	for rows.Next() {
		var m domain.ChatMessage
		if err := rows.Scan(&m.ID, &m.ChatID, &m.Role, &m.Content, &m.Citations, &m.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *Store) CreateAPIKey(ctx context.Context, key domain.ApiKey) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO api_keys (id, tenant_id, name, secret_hash, scopes, rate_limit, revoked_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, key.ID, key.TenantID, key.Name, key.SecretHash, scopesToStrings(key.Scopes), key.RateLimit, key.RevokedAt, key.CreatedAt)
	return err
}

func (s *Store) GetAPIKey(ctx context.Context, id string) (domain.ApiKey, error) {
	var k domain.ApiKey
	var scopes []string
	err := s.pool.QueryRow(ctx, `
		SELECT id, tenant_id, name, secret_hash, scopes, rate_limit, revoked_at, created_at FROM api_keys WHERE id = $1
	`, id).Scan(&k.ID, &k.TenantID, &k.Name, &k.SecretHash, &scopes, &k.RateLimit, &k.RevokedAt, &k.CreatedAt)
	if err == pgx.ErrNoRows {
		return domain.ApiKey{}, ragerr.New(ragerr.NotFound, "api_key_not_found", "api key not found")
	}
	k.Scopes = stringsToScopes(scopes)
	return k, err
}

func (s *Store) ListAPIKeys(ctx context.Context, tenantID string) ([]domain.ApiKey, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, tenant_id, name, secret_hash, scopes, rate_limit, revoked_at, created_at FROM api_keys WHERE tenant_id = $1 ORDER BY created_at
	`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.ApiKey
	for rows.Next() {
		var k domain.ApiKey
		var scopes []string
		if err := rows.Scan(&k.ID, &k.TenantID, &k.Name, &k.SecretHash, &scopes, &k.RateLimit, &k.RevokedAt, &k.CreatedAt); err != nil {
			return nil, err
		}
		k.Scopes = stringsToScopes(scopes)
		out = append(out, k)
	}
	return out, rows.Err()
}

func (s *Store) RevokeAPIKey(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, `UPDATE api_keys SET revoked_at = now() WHERE id = $1`, id)
	return err
}

func (s *Store) CreateWebhook(ctx context.Context, wh domain.Webhook) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO webhooks (id, tenant_id, url, secret, events, active, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, wh.ID, wh.TenantID, wh.URL, wh.Secret, eventsToStrings(wh.Events), wh.Active, wh.CreatedAt)
	return err
}

func (s *Store) GetWebhook(ctx context.Context, id string) (domain.Webhook, error) {
	var wh domain.Webhook
	var events []string
	err := s.pool.QueryRow(ctx, `
		SELECT id, tenant_id, url, secret, events, active, created_at FROM webhooks WHERE id = $1
	`, id).Scan(&wh.ID, &wh.TenantID, &wh.URL, &wh.Secret, &events, &wh.Active, &wh.CreatedAt)
	if err == pgx.ErrNoRows {
		return domain.Webhook{}, ragerr.New(ragerr.NotFound, "webhook_not_found", "webhook not found")
	}
	if err != nil {
		return domain.Webhook{}, err
	}
	wh.Events = stringsToEvents(events)
	return wh, nil
}

func (s *Store) ListWebhooksForEvent(ctx context.Context, tenantID string, event domain.WebhookEvent) ([]domain.Webhook, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, tenant_id, url, secret, events, active, created_at
		FROM webhooks WHERE tenant_id = $1 AND active AND $2 = ANY(events)
	`, tenantID, string(event))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Webhook
	for rows.Next() {
		var wh domain.Webhook
		var events []string
		if err := rows.Scan(&wh.ID, &wh.TenantID, &wh.URL, &wh.Secret, &events, &wh.Active, &wh.CreatedAt); err != nil {
			return nil, err
		}
		wh.Events = stringsToEvents(events)
		out = append(out, wh)
	}
	return out, rows.Err()
}

func (s *Store) CreateDelivery(ctx context.Context, d domain.WebhookDelivery) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO webhook_deliveries (id, webhook_id, event, payload, metadata, status, attempts, next_attempt, last_error, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, d.ID, d.WebhookID, d.Event, d.Payload, metadataJSON(d.Metadata), d.Status, d.Attempts, d.NextAttempt, d.LastError, d.CreatedAt)
	return err
}

func (s *Store) UpdateDelivery(ctx context.Context, d domain.WebhookDelivery) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE webhook_deliveries SET status = $1, attempts = $2, next_attempt = $3, last_error = $4 WHERE id = $5
	`, d.Status, d.Attempts, d.NextAttempt, d.LastError, d.ID)
	return err
}

func (s *Store) ListDueDeliveries(ctx context.Context, before time.Time, limit int) ([]domain.WebhookDelivery, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, webhook_id, event, payload, metadata, status, attempts, next_attempt, last_error, created_at
		FROM webhook_deliveries WHERE status = 'pending' AND next_attempt <= $1
		ORDER BY next_attempt LIMIT $2
	`, before, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.WebhookDelivery
	for rows.Next() {
		var d domain.WebhookDelivery
		var metadata []byte
		if err := rows.Scan(&d.ID, &d.WebhookID, &d.Event, &d.Payload, &metadata, &d.Status, &d.Attempts, &d.NextAttempt, &d.LastError, &d.CreatedAt); err != nil {
			return nil, err
		}
		if len(metadata) > 0 {
			_ = json.Unmarshal(metadata, &d.Metadata)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

func metadataJSON(m map[string]string) []byte {
	if len(m) == 0 {
		return []byte("{}")
	}
	b := []byte("{")
	first := true
	for k, v := range m {
		if !first {
			b = append(b, ',')
		}
		first = false
		b = append(b, fmt.Sprintf("%q:%q", k, v)...)
	}
	b = append(b, '}')
	return b
}

func scopesToStrings(scopes []domain.ApiKeyScope) []string {
	out := make([]string, len(scopes))
	for i, s := range scopes {
		out[i] = string(s)
	}
	return out
}

func stringsToScopes(ss []string) []domain.ApiKeyScope {
	out := make([]domain.ApiKeyScope, len(ss))
	for i, s := range ss {
		out[i] = domain.ApiKeyScope(s)
	}
	return out
}

func eventsToStrings(events []domain.WebhookEvent) []string {
	out := make([]string, len(events))
	for i, e := range events {
		out[i] = string(e)
	}
	return out
}

func stringsToEvents(ss []string) []domain.WebhookEvent {
	out := make([]domain.WebhookEvent, len(ss))
	for i, s := range ss {
		out[i] = domain.WebhookEvent(s)
	}
	return out
}

func isUniqueViolation(err error) bool {
	return err != nil && (strings.Contains(err.Error(), "duplicate key value") || strings.Contains(err.Error(), "unique constraint"))
}
