// Package postgres implements store.Store on top of a pgx connection pool.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	decimal "github.com/shopspring/decimal"

	"github.com/lentmiien/lentmiien-site-sub001/internal/models"
	"github.com/lentmiien/lentmiien-site-sub001/internal/store"
)

const uniqueViolation = "23505"

// DBTX is the subset of pgx used by the store.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type Store struct {
	db   DBTX
	pool *pgxpool.Pool
}

var _ store.Store = (*Store)(nil)

func New(pool *pgxpool.Pool) *Store {
	return &Store{db: pool, pool: pool}
}

func (s *Store) Ping(ctx context.Context) error {
	if s.pool == nil {
		return nil
	}
	return s.pool.Ping(ctx)
}

func mapErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return store.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return fmt.Errorf("%w: %s", store.ErrConflict, pgErr.ConstraintName)
	}
	return err
}

func requireRow(tag pgconn.CommandTag) error {
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func marshalJSON(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	if string(data) == "null" {
		return []byte("[]"), nil
	}
	return data, nil
}

func nonNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}

// Prompts

const promptColumns = `custom_id, conversation_id, request_id, user_id, title, prompt, model, images, created_at`

func scanPrompt(row pgx.Row) (models.Prompt, error) {
	var (
		p      models.Prompt
		images []byte
	)
	if err := row.Scan(&p.CustomID, &p.ConversationID, &p.RequestID, &p.UserID, &p.Title, &p.Prompt, &p.Model, &images, &p.CreatedAt); err != nil {
		return models.Prompt{}, err
	}
	if len(images) > 0 {
		if err := json.Unmarshal(images, &p.Images); err != nil {
			return models.Prompt{}, fmt.Errorf("decode prompt images: %w", err)
		}
	}
	return p, nil
}

func (s *Store) queryPrompts(ctx context.Context, sql string, args ...any) ([]models.Prompt, error) {
	rows, err := s.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.Prompt, error) {
		return scanPrompt(row)
	})
}

func (s *Store) InsertPrompt(ctx context.Context, prompt models.Prompt) error {
	if err := prompt.Validate(); err != nil {
		return err
	}
	images, err := marshalJSON(prompt.Images)
	if err != nil {
		return err
	}
	if prompt.CreatedAt.IsZero() {
		prompt.CreatedAt = time.Now().UTC()
	}
	_, err = s.db.Exec(ctx, `
		INSERT INTO batch_prompts (`+promptColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		prompt.CustomID, prompt.ConversationID, prompt.RequestID, prompt.UserID, prompt.Title,
		prompt.Prompt, prompt.Model, images, prompt.CreatedAt)
	return mapErr(err)
}

func (s *Store) GetPrompt(ctx context.Context, customID string) (models.Prompt, error) {
	p, err := scanPrompt(s.db.QueryRow(ctx, `SELECT `+promptColumns+` FROM batch_prompts WHERE custom_id = $1`, customID))
	return p, mapErr(err)
}

func (s *Store) ListPromptsByRequestID(ctx context.Context, requestID string) ([]models.Prompt, error) {
	return s.queryPrompts(ctx, `SELECT `+promptColumns+` FROM batch_prompts WHERE request_id = $1 ORDER BY seq`, requestID)
}

func (s *Store) ListPrompts(ctx context.Context) ([]models.Prompt, error) {
	return s.queryPrompts(ctx, `SELECT `+promptColumns+` FROM batch_prompts ORDER BY seq DESC`)
}

func (s *Store) PendingSummaryExists(ctx context.Context, conversationID string) (bool, error) {
	var exists bool
	err := s.db.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM batch_prompts
			WHERE conversation_id = $1 AND request_id = $2 AND prompt = $3
		)`, conversationID, models.RequestIDNew, models.SummaryPrompt).Scan(&exists)
	return exists, err
}

func (s *Store) AssignRequestID(ctx context.Context, customIDs []string, requestID string) (int64, error) {
	if len(customIDs) == 0 {
		return 0, nil
	}
	tag, err := s.db.Exec(ctx, `
		UPDATE batch_prompts SET request_id = $1
		WHERE custom_id = ANY($2) AND request_id = $3`,
		requestID, customIDs, models.RequestIDNew)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (s *Store) DeletePrompt(ctx context.Context, customID string) error {
	_, err := s.db.Exec(ctx, `DELETE FROM batch_prompts WHERE custom_id = $1`, customID)
	return err
}

// Batch requests

const batchColumns = `id, input_file_id, provider, model, status, output_file_id, error_file_id,
	request_counts_total, request_counts_completed, request_counts_failed, created_at, completed_at`

func scanBatch(row pgx.Row) (models.BatchRequest, error) {
	var b models.BatchRequest
	err := row.Scan(&b.ID, &b.InputFileID, &b.Provider, &b.Model, &b.Status, &b.OutputFileID, &b.ErrorFileID,
		&b.RequestCountsTotal, &b.RequestCountsCompleted, &b.RequestCountsFailed, &b.CreatedAt, &b.CompletedAt)
	return b, err
}

func (s *Store) queryBatches(ctx context.Context, sql string, args ...any) ([]models.BatchRequest, error) {
	rows, err := s.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.BatchRequest, error) {
		return scanBatch(row)
	})
}

func (s *Store) InsertBatchRequest(ctx context.Context, req models.BatchRequest) error {
	if err := req.Validate(); err != nil {
		return err
	}
	if req.CreatedAt.IsZero() {
		req.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.Exec(ctx, `
		INSERT INTO batch_requests (`+batchColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		req.ID, req.InputFileID, req.Provider, req.Model, req.Status, req.OutputFileID, req.ErrorFileID,
		req.RequestCountsTotal, req.RequestCountsCompleted, req.RequestCountsFailed, req.CreatedAt, req.CompletedAt)
	return mapErr(err)
}

func (s *Store) GetBatchRequest(ctx context.Context, id string) (models.BatchRequest, error) {
	b, err := scanBatch(s.db.QueryRow(ctx, `SELECT `+batchColumns+` FROM batch_requests WHERE id = $1`, id))
	return b, mapErr(err)
}

func (s *Store) UpdateBatchRequest(ctx context.Context, req models.BatchRequest) error {
	if err := req.Validate(); err != nil {
		return err
	}
	tag, err := s.db.Exec(ctx, `
		UPDATE batch_requests SET
			input_file_id = $2, provider = $3, model = $4, status = $5, output_file_id = $6, error_file_id = $7,
			request_counts_total = $8, request_counts_completed = $9, request_counts_failed = $10, completed_at = $11
		WHERE id = $1`,
		req.ID, req.InputFileID, req.Provider, req.Model, req.Status, req.OutputFileID, req.ErrorFileID,
		req.RequestCountsTotal, req.RequestCountsCompleted, req.RequestCountsFailed, req.CompletedAt)
	if err != nil {
		return err
	}
	return requireRow(tag)
}

func (s *Store) ListBatchRequestsByStatus(ctx context.Context, status string) ([]models.BatchRequest, error) {
	return s.queryBatches(ctx, `SELECT `+batchColumns+` FROM batch_requests WHERE status = $1 ORDER BY created_at, id`, status)
}

func (s *Store) ListOpenBatchRequests(ctx context.Context) ([]models.BatchRequest, error) {
	return s.queryBatches(ctx, `
		SELECT `+batchColumns+` FROM batch_requests
		WHERE status <> ALL($1)
		ORDER BY created_at, id`,
		[]string{models.BatchStatusCompleted, models.BatchStatusDone, models.BatchStatusFailed, models.BatchStatusExpired, models.BatchStatusCancelled})
}

func (s *Store) ListBatchRequestsSince(ctx context.Context, since time.Time) ([]models.BatchRequest, error) {
	return s.queryBatches(ctx, `SELECT `+batchColumns+` FROM batch_requests WHERE created_at >= $1 ORDER BY created_at DESC, id`, since)
}

// Conversations

const conversationColumns = `id, user_id, group_id, title, description, category, tags, context_prompt,
	knowledge_injects, messages, summary, default_model, max_messages, members, created_at, updated_at`

func scanConversation(row pgx.Row) (models.Conversation, error) {
	var (
		c         models.Conversation
		knowledge []byte
	)
	err := row.Scan(&c.ID, &c.UserID, &c.GroupID, &c.Title, &c.Description, &c.Category, &c.Tags, &c.ContextPrompt,
		&knowledge, &c.Messages, &c.Summary, &c.DefaultModel, &c.MaxMessages, &c.Members, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return models.Conversation{}, err
	}
	if len(knowledge) > 0 {
		if err := json.Unmarshal(knowledge, &c.KnowledgeInjects); err != nil {
			return models.Conversation{}, fmt.Errorf("decode knowledge injects: %w", err)
		}
	}
	return c, nil
}

func (s *Store) CreateConversation(ctx context.Context, conv models.Conversation) error {
	if err := conv.Validate(); err != nil {
		return err
	}
	knowledge, err := marshalJSON(conv.KnowledgeInjects)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	if conv.CreatedAt.IsZero() {
		conv.CreatedAt = now
	}
	if conv.UpdatedAt.IsZero() {
		conv.UpdatedAt = now
	}
	_, err = s.db.Exec(ctx, `
		INSERT INTO conversations (`+conversationColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
		conv.ID, conv.UserID, conv.GroupID, conv.Title, conv.Description, conv.Category, nonNil(conv.Tags), conv.ContextPrompt,
		knowledge, nonNil(conv.Messages), conv.Summary, conv.DefaultModel, conv.MaxMessages, nonNil(conv.Members), conv.CreatedAt, conv.UpdatedAt)
	return mapErr(err)
}

func (s *Store) GetConversation(ctx context.Context, id string) (models.Conversation, error) {
	c, err := scanConversation(s.db.QueryRow(ctx, `SELECT `+conversationColumns+` FROM conversations WHERE id = $1`, id))
	return c, mapErr(err)
}

func (s *Store) SaveConversation(ctx context.Context, conv models.Conversation) error {
	if err := conv.Validate(); err != nil {
		return err
	}
	knowledge, err := marshalJSON(conv.KnowledgeInjects)
	if err != nil {
		return err
	}
	if conv.UpdatedAt.IsZero() {
		conv.UpdatedAt = time.Now().UTC()
	}
	tag, err := s.db.Exec(ctx, `
		UPDATE conversations SET
			user_id = $2, group_id = $3, title = $4, description = $5, category = $6, tags = $7,
			context_prompt = $8, knowledge_injects = $9, messages = $10, summary = $11,
			default_model = $12, max_messages = $13, members = $14, updated_at = $15
		WHERE id = $1`,
		conv.ID, conv.UserID, conv.GroupID, conv.Title, conv.Description, conv.Category, nonNil(conv.Tags),
		conv.ContextPrompt, knowledge, nonNil(conv.Messages), conv.Summary,
		conv.DefaultModel, conv.MaxMessages, nonNil(conv.Members), conv.UpdatedAt)
	if err != nil {
		return err
	}
	return requireRow(tag)
}

func (s *Store) UpdateConversationMessages(ctx context.Context, id string, remove, add []string, at time.Time) (models.Conversation, error) {
	c, err := scanConversation(s.db.QueryRow(ctx, `
		UPDATE conversations SET
			messages = ARRAY(
				SELECT m FROM unnest(messages) WITH ORDINALITY AS t(m, ord)
				WHERE m <> ALL($2::text[])
				ORDER BY ord
			) || $3::text[],
			updated_at = $4
		WHERE id = $1
		RETURNING `+conversationColumns,
		id, nonNil(remove), nonNil(add), at))
	return c, mapErr(err)
}

func (s *Store) DeleteConversation(ctx context.Context, id string) error {
	_, err := s.db.Exec(ctx, `DELETE FROM conversations WHERE id = $1`, id)
	return err
}

// Messages

const messageColumns = `id, user_id, category, tags, prompt, response, images, sound, created_at`

func scanMessage(row pgx.Row) (models.Message, error) {
	var (
		m      models.Message
		images []byte
	)
	if err := row.Scan(&m.ID, &m.UserID, &m.Category, &m.Tags, &m.Prompt, &m.Response, &images, &m.Sound, &m.CreatedAt); err != nil {
		return models.Message{}, err
	}
	if len(images) > 0 {
		if err := json.Unmarshal(images, &m.Images); err != nil {
			return models.Message{}, fmt.Errorf("decode message images: %w", err)
		}
	}
	return m, nil
}

func (s *Store) CreateMessage(ctx context.Context, msg models.Message) error {
	if err := msg.Validate(); err != nil {
		return err
	}
	images, err := marshalJSON(msg.Images)
	if err != nil {
		return err
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	_, err = s.db.Exec(ctx, `
		INSERT INTO messages (`+messageColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		msg.ID, msg.UserID, msg.Category, nonNil(msg.Tags), msg.Prompt, msg.Response, images, msg.Sound, msg.CreatedAt)
	return mapErr(err)
}

func (s *Store) GetMessage(ctx context.Context, id string) (models.Message, error) {
	m, err := scanMessage(s.db.QueryRow(ctx, `SELECT `+messageColumns+` FROM messages WHERE id = $1`, id))
	return m, mapErr(err)
}

func (s *Store) ListMessagesByIDs(ctx context.Context, ids []string) (map[string]models.Message, error) {
	out := make(map[string]models.Message, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := s.db.Query(ctx, `SELECT `+messageColumns+` FROM messages WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, err
	}
	list, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.Message, error) {
		return scanMessage(row)
	})
	if err != nil {
		return nil, err
	}
	for _, m := range list {
		out[m.ID] = m
	}
	return out, nil
}

func (s *Store) UpdateMessage(ctx context.Context, msg models.Message) error {
	if err := msg.Validate(); err != nil {
		return err
	}
	images, err := marshalJSON(msg.Images)
	if err != nil {
		return err
	}
	tag, err := s.db.Exec(ctx, `
		UPDATE messages SET user_id = $2, category = $3, tags = $4, prompt = $5, response = $6, images = $7, sound = $8
		WHERE id = $1`,
		msg.ID, msg.UserID, msg.Category, nonNil(msg.Tags), msg.Prompt, msg.Response, images, msg.Sound)
	if err != nil {
		return err
	}
	return requireRow(tag)
}

func (s *Store) DeleteMessage(ctx context.Context, id string) error {
	_, err := s.db.Exec(ctx, `DELETE FROM messages WHERE id = $1`, id)
	return err
}

// Pending requests

func (s *Store) CreatePendingRequest(ctx context.Context, req models.PendingRequest) error {
	if err := req.Validate(); err != nil {
		return err
	}
	if req.CreatedAt.IsZero() {
		req.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.Exec(ctx, `
		INSERT INTO pending_requests (response_id, conversation_id, placeholder_id, created_at)
		VALUES ($1, $2, $3, $4)`,
		req.ResponseID, req.ConversationID, req.PlaceholderID, req.CreatedAt)
	return mapErr(err)
}

func (s *Store) GetPendingRequest(ctx context.Context, responseID string) (models.PendingRequest, error) {
	var p models.PendingRequest
	err := s.db.QueryRow(ctx, `
		SELECT response_id, conversation_id, placeholder_id, created_at
		FROM pending_requests WHERE response_id = $1`, responseID).
		Scan(&p.ResponseID, &p.ConversationID, &p.PlaceholderID, &p.CreatedAt)
	return p, mapErr(err)
}

func (s *Store) DeletePendingRequest(ctx context.Context, responseID string) (bool, error) {
	tag, err := s.db.Exec(ctx, `DELETE FROM pending_requests WHERE response_id = $1`, responseID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// Knowledge

func (s *Store) UpsertKnowledge(ctx context.Context, k models.Knowledge) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO knowledge (id, title, content_markdown, category, tags, user_id)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			title = EXCLUDED.title, content_markdown = EXCLUDED.content_markdown,
			category = EXCLUDED.category, tags = EXCLUDED.tags, user_id = EXCLUDED.user_id`,
		k.ID, k.Title, k.ContentMarkdown, k.Category, nonNil(k.Tags), k.UserID)
	return err
}

func (s *Store) ListKnowledgeByIDs(ctx context.Context, ids []string) (map[string]models.Knowledge, error) {
	out := make(map[string]models.Knowledge, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := s.db.Query(ctx, `
		SELECT id, title, content_markdown, category, tags, user_id
		FROM knowledge WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, err
	}
	list, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.Knowledge, error) {
		var k models.Knowledge
		err := row.Scan(&k.ID, &k.Title, &k.ContentMarkdown, &k.Category, &k.Tags, &k.UserID)
		return k, err
	})
	if err != nil {
		return nil, err
	}
	for _, k := range list {
		out[k.ID] = k
	}
	return out, nil
}

// Model cards

func (s *Store) UpsertModelCard(ctx context.Context, card models.ModelCard) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO model_cards (api_model, name, provider, model_type, in_modalities, batch_use,
			context_type, max_out_tokens, input_cost_per_m, output_cost_per_m)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9::numeric, $10::numeric)
		ON CONFLICT (api_model) DO UPDATE SET
			name = EXCLUDED.name, provider = EXCLUDED.provider, model_type = EXCLUDED.model_type,
			in_modalities = EXCLUDED.in_modalities, batch_use = EXCLUDED.batch_use,
			context_type = EXCLUDED.context_type, max_out_tokens = EXCLUDED.max_out_tokens,
			input_cost_per_m = EXCLUDED.input_cost_per_m, output_cost_per_m = EXCLUDED.output_cost_per_m`,
		card.APIModel, card.Name, card.Provider, card.ModelType, nonNil(card.InModalities), card.BatchUse,
		string(card.ContextType), card.MaxOutTokens, card.InputCostPerM.String(), card.OutputCostPerM.String())
	return err
}

func (s *Store) ListModelCards(ctx context.Context) ([]models.ModelCard, error) {
	rows, err := s.db.Query(ctx, `
		SELECT api_model, name, provider, model_type, in_modalities, batch_use, context_type,
			max_out_tokens, input_cost_per_m::text, output_cost_per_m::text
		FROM model_cards ORDER BY api_model`)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.ModelCard, error) {
		var (
			card            models.ModelCard
			contextType     string
			inCost, outCost string
		)
		if err := row.Scan(&card.APIModel, &card.Name, &card.Provider, &card.ModelType, &card.InModalities,
			&card.BatchUse, &contextType, &card.MaxOutTokens, &inCost, &outCost); err != nil {
			return models.ModelCard{}, err
		}
		card.ContextType = models.ContextType(contextType)
		var err error
		if card.InputCostPerM, err = decimal.NewFromString(inCost); err != nil {
			return models.ModelCard{}, fmt.Errorf("parse input cost for %s: %w", card.APIModel, err)
		}
		if card.OutputCostPerM, err = decimal.NewFromString(outCost); err != nil {
			return models.ModelCard{}, fmt.Errorf("parse output cost for %s: %w", card.APIModel, err)
		}
		return card, nil
	})
}
