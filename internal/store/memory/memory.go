// Package memory is an in-process Store used for local runs and tests.
package memory

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/lentmiien/lentmiien-site-sub001/internal/models"
	"github.com/lentmiien/lentmiien-site-sub001/internal/store"
)

type promptRow struct {
	seq    int64
	prompt models.Prompt
}

type Store struct {
	mu            sync.RWMutex
	seq           int64
	prompts       map[string]promptRow
	batches       map[string]models.BatchRequest
	conversations map[string]models.Conversation
	messages      map[string]models.Message
	pending       map[string]models.PendingRequest
	knowledge     map[string]models.Knowledge
	cards         map[string]models.ModelCard
}

var _ store.Store = (*Store)(nil)

func New() *Store {
	return &Store{
		prompts:       make(map[string]promptRow),
		batches:       make(map[string]models.BatchRequest),
		conversations: make(map[string]models.Conversation),
		messages:      make(map[string]models.Message),
		pending:       make(map[string]models.PendingRequest),
		knowledge:     make(map[string]models.Knowledge),
		cards:         make(map[string]models.ModelCard),
	}
}

func (s *Store) Ping(ctx context.Context) error { return ctx.Err() }

func (s *Store) InsertPrompt(ctx context.Context, prompt models.Prompt) error {
	if err := prompt.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.prompts[prompt.CustomID]; ok {
		return store.ErrConflict
	}
	if prompt.IsSummary() && prompt.IsPending() {
		for _, row := range s.prompts {
			if row.prompt.ConversationID == prompt.ConversationID && row.prompt.IsSummary() && row.prompt.IsPending() {
				return store.ErrConflict
			}
		}
	}
	if prompt.CreatedAt.IsZero() {
		prompt.CreatedAt = time.Now().UTC()
	}
	s.seq++
	s.prompts[prompt.CustomID] = promptRow{seq: s.seq, prompt: clonePrompt(prompt)}
	return nil
}

func (s *Store) GetPrompt(ctx context.Context, customID string) (models.Prompt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	row, ok := s.prompts[customID]
	if !ok {
		return models.Prompt{}, store.ErrNotFound
	}
	return clonePrompt(row.prompt), nil
}

func (s *Store) ListPromptsByRequestID(ctx context.Context, requestID string) ([]models.Prompt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows := make([]promptRow, 0)
	for _, row := range s.prompts {
		if row.prompt.RequestID == requestID {
			rows = append(rows, row)
		}
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].seq < rows[j].seq })
	out := make([]models.Prompt, 0, len(rows))
	for _, row := range rows {
		out = append(out, clonePrompt(row.prompt))
	}
	return out, nil
}

func (s *Store) ListPrompts(ctx context.Context) ([]models.Prompt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows := make([]promptRow, 0, len(s.prompts))
	for _, row := range s.prompts {
		rows = append(rows, row)
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].seq > rows[j].seq })
	out := make([]models.Prompt, 0, len(rows))
	for _, row := range rows {
		out = append(out, clonePrompt(row.prompt))
	}
	return out, nil
}

func (s *Store) PendingSummaryExists(ctx context.Context, conversationID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, row := range s.prompts {
		p := row.prompt
		if p.ConversationID == conversationID && p.IsSummary() && p.IsPending() {
			return true, nil
		}
	}
	return false, nil
}

func (s *Store) AssignRequestID(ctx context.Context, customIDs []string, requestID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var changed int64
	for _, id := range customIDs {
		row, ok := s.prompts[id]
		if !ok || !row.prompt.IsPending() {
			continue
		}
		row.prompt.RequestID = requestID
		s.prompts[id] = row
		changed++
	}
	return changed, nil
}

func (s *Store) DeletePrompt(ctx context.Context, customID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.prompts, customID)
	return nil
}

func (s *Store) InsertBatchRequest(ctx context.Context, req models.BatchRequest) error {
	if err := req.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.batches[req.ID]; ok {
		return store.ErrConflict
	}
	if req.CreatedAt.IsZero() {
		req.CreatedAt = time.Now().UTC()
	}
	s.batches[req.ID] = req
	return nil
}

func (s *Store) GetBatchRequest(ctx context.Context, id string) (models.BatchRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	req, ok := s.batches[id]
	if !ok {
		return models.BatchRequest{}, store.ErrNotFound
	}
	return req, nil
}

func (s *Store) UpdateBatchRequest(ctx context.Context, req models.BatchRequest) error {
	if err := req.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.batches[req.ID]; !ok {
		return store.ErrNotFound
	}
	s.batches[req.ID] = req
	return nil
}

func (s *Store) ListBatchRequestsByStatus(ctx context.Context, status string) ([]models.BatchRequest, error) {
	return s.filterBatches(func(b models.BatchRequest) bool { return b.Status == status }, false), nil
}

func (s *Store) ListOpenBatchRequests(ctx context.Context) ([]models.BatchRequest, error) {
	return s.filterBatches(models.BatchRequest.Open, false), nil
}

func (s *Store) ListBatchRequestsSince(ctx context.Context, since time.Time) ([]models.BatchRequest, error) {
	return s.filterBatches(func(b models.BatchRequest) bool { return !b.CreatedAt.Before(since) }, true), nil
}

func (s *Store) filterBatches(keep func(models.BatchRequest) bool, newestFirst bool) []models.BatchRequest {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.BatchRequest, 0)
	for _, b := range s.batches {
		if keep(b) {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		if newestFirst {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

func (s *Store) CreateConversation(ctx context.Context, conv models.Conversation) error {
	if err := conv.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.conversations[conv.ID]; ok {
		return store.ErrConflict
	}
	s.conversations[conv.ID] = cloneConversation(conv)
	return nil
}

func (s *Store) GetConversation(ctx context.Context, id string) (models.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	conv, ok := s.conversations[id]
	if !ok {
		return models.Conversation{}, store.ErrNotFound
	}
	return cloneConversation(conv), nil
}

func (s *Store) SaveConversation(ctx context.Context, conv models.Conversation) error {
	if err := conv.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.conversations[conv.ID]; !ok {
		return store.ErrNotFound
	}
	s.conversations[conv.ID] = cloneConversation(conv)
	return nil
}

func (s *Store) UpdateConversationMessages(ctx context.Context, id string, remove, add []string, at time.Time) (models.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.conversations[id]
	if !ok {
		return models.Conversation{}, store.ErrNotFound
	}
	conv = cloneConversation(conv)
	conv.Messages = slices.DeleteFunc(conv.Messages, func(m string) bool { return slices.Contains(remove, m) })
	conv.Messages = append(conv.Messages, add...)
	conv.UpdatedAt = at
	s.conversations[id] = conv
	return cloneConversation(conv), nil
}

func (s *Store) DeleteConversation(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conversations, id)
	return nil
}

func (s *Store) CreateMessage(ctx context.Context, msg models.Message) error {
	if err := msg.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.messages[msg.ID]; ok {
		return store.ErrConflict
	}
	s.messages[msg.ID] = cloneMessage(msg)
	return nil
}

func (s *Store) GetMessage(ctx context.Context, id string) (models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	msg, ok := s.messages[id]
	if !ok {
		return models.Message{}, store.ErrNotFound
	}
	return cloneMessage(msg), nil
}

func (s *Store) ListMessagesByIDs(ctx context.Context, ids []string) (map[string]models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]models.Message, len(ids))
	for _, id := range ids {
		if msg, ok := s.messages[id]; ok {
			out[id] = cloneMessage(msg)
		}
	}
	return out, nil
}

func (s *Store) UpdateMessage(ctx context.Context, msg models.Message) error {
	if err := msg.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.messages[msg.ID]; !ok {
		return store.ErrNotFound
	}
	s.messages[msg.ID] = cloneMessage(msg)
	return nil
}

func (s *Store) DeleteMessage(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.messages, id)
	return nil
}

func (s *Store) CreatePendingRequest(ctx context.Context, req models.PendingRequest) error {
	if err := req.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.pending[req.ResponseID]; ok {
		return store.ErrConflict
	}
	if req.CreatedAt.IsZero() {
		req.CreatedAt = time.Now().UTC()
	}
	s.pending[req.ResponseID] = req
	return nil
}

func (s *Store) GetPendingRequest(ctx context.Context, responseID string) (models.PendingRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	req, ok := s.pending[responseID]
	if !ok {
		return models.PendingRequest{}, store.ErrNotFound
	}
	return req, nil
}

func (s *Store) DeletePendingRequest(ctx context.Context, responseID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.pending[responseID]; !ok {
		return false, nil
	}
	delete(s.pending, responseID)
	return true, nil
}

func (s *Store) UpsertKnowledge(ctx context.Context, k models.Knowledge) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k.Tags = slices.Clone(k.Tags)
	s.knowledge[k.ID] = k
	return nil
}

func (s *Store) ListKnowledgeByIDs(ctx context.Context, ids []string) (map[string]models.Knowledge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]models.Knowledge, len(ids))
	for _, id := range ids {
		if k, ok := s.knowledge[id]; ok {
			out[id] = k
		}
	}
	return out, nil
}

func (s *Store) UpsertModelCard(ctx context.Context, card models.ModelCard) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	card.InModalities = slices.Clone(card.InModalities)
	s.cards[card.APIModel] = card
	return nil
}

func (s *Store) ListModelCards(ctx context.Context) ([]models.ModelCard, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.ModelCard, 0, len(s.cards))
	for _, card := range s.cards {
		out = append(out, card)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].APIModel < out[j].APIModel })
	return out, nil
}

func clonePrompt(p models.Prompt) models.Prompt {
	p.Images = slices.Clone(p.Images)
	return p
}

func cloneMessage(m models.Message) models.Message {
	m.Tags = slices.Clone(m.Tags)
	m.Images = slices.Clone(m.Images)
	return m
}

func cloneConversation(c models.Conversation) models.Conversation {
	c.Tags = slices.Clone(c.Tags)
	c.KnowledgeInjects = slices.Clone(c.KnowledgeInjects)
	c.Messages = slices.Clone(c.Messages)
	c.Members = slices.Clone(c.Members)
	return c
}
