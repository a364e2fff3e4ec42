package models

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"
)

const (
	// RequestIDNew marks a prompt that has not been submitted to a provider yet.
	RequestIDNew = "new"
	// SummaryPrompt asks for a refreshed conversation summary instead of an answer.
	SummaryPrompt = "@SUMMARY"
)

// Provider names as stored on model cards and batch requests.
const (
	ProviderOpenAI    = "OpenAI"
	ProviderAnthropic = "Anthropic"
)

// Batch statuses. Provider vocabularies are normalized so that a finished
// job reads BatchStatusCompleted; BatchStatusDone is local and terminal.
const (
	BatchStatusValidating = "validating"
	BatchStatusInProgress = "in_progress"
	BatchStatusFinalizing = "finalizing"
	BatchStatusCompleted  = "completed"
	BatchStatusFailed     = "failed"
	BatchStatusExpired    = "expired"
	BatchStatusCancelling = "cancelling"
	BatchStatusCancelled  = "cancelled"
	BatchStatusDone       = "DONE"
)

type ImageUseFlag string

const (
	ImageHighQuality ImageUseFlag = "high quality"
	ImageLowQuality  ImageUseFlag = "low quality"
	ImageDoNotUse    ImageUseFlag = "do not use"
)

func (f ImageUseFlag) Valid() bool {
	switch f {
	case ImageHighQuality, ImageLowQuality, ImageDoNotUse:
		return true
	}
	return false
}

type ImageRef struct {
	Filename string       `json:"filename"`
	UseFlag  ImageUseFlag `json:"use_flag"`
}

type KnowledgeUseType string

const (
	KnowledgeContext   KnowledgeUseType = "context"
	KnowledgeReference KnowledgeUseType = "reference"
	KnowledgeExample   KnowledgeUseType = "example"
)

type KnowledgeInject struct {
	KnowledgeID string           `json:"knowledge_id"`
	UseType     KnowledgeUseType `json:"use_type"`
}

type ContextType string

const (
	ContextNone      ContextType = "none"
	ContextSystem    ContextType = "system"
	ContextDeveloper ContextType = "developer"
)

// Role returns the chat role used for the context message, or "" when the
// model does not accept one.
func (c ContextType) Role() string {
	switch c {
	case ContextSystem, "":
		return RoleSystem
	case ContextDeveloper:
		return RoleDeveloper
	default:
		return ""
	}
}

var ErrInvalidEntity = errors.New("invalid entity")

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidEntity, fmt.Sprintf(format, args...))
}

// Prompt is a queued unit of batch work.
type Prompt struct {
	CustomID       string     `json:"custom_id"`
	ConversationID string     `json:"conversation_id"`
	RequestID      string     `json:"request_id"`
	UserID         string     `json:"user_id"`
	Title          string     `json:"title"`
	Prompt         string     `json:"prompt"`
	Model          string     `json:"model"`
	Images         []ImageRef `json:"images"`
	CreatedAt      time.Time  `json:"created_at"`
}

func (p Prompt) IsSummary() bool { return p.Prompt == SummaryPrompt }

func (p Prompt) IsPending() bool { return p.RequestID == RequestIDNew }

func (p Prompt) Validate() error {
	if strings.TrimSpace(p.CustomID) == "" {
		return invalid("prompt custom_id is required")
	}
	if strings.TrimSpace(p.ConversationID) == "" {
		return invalid("prompt %s: conversation_id is required", p.CustomID)
	}
	if strings.TrimSpace(p.RequestID) == "" {
		return invalid("prompt %s: request_id is required", p.CustomID)
	}
	if strings.TrimSpace(p.Model) == "" {
		return invalid("prompt %s: model is required", p.CustomID)
	}
	for _, img := range p.Images {
		if !img.UseFlag.Valid() {
			return invalid("prompt %s: image %s has use flag %q", p.CustomID, img.Filename, img.UseFlag)
		}
	}
	return nil
}

// BatchRequest is a submitted provider batch job.
type BatchRequest struct {
	ID                     string     `json:"id"`
	InputFileID            string     `json:"input_file_id,omitempty"`
	Provider               string     `json:"provider"`
	Model                  string     `json:"model"`
	Status                 string     `json:"status"`
	OutputFileID           string     `json:"output_file_id,omitempty"`
	ErrorFileID            string     `json:"error_file_id,omitempty"`
	RequestCountsTotal     int        `json:"request_counts_total"`
	RequestCountsCompleted int        `json:"request_counts_completed"`
	RequestCountsFailed    int        `json:"request_counts_failed"`
	CreatedAt              time.Time  `json:"created_at"`
	CompletedAt            *time.Time `json:"completed_at,omitempty"`
}

// Open reports whether the provider may still change the job's status.
func (b BatchRequest) Open() bool {
	switch b.Status {
	case BatchStatusCompleted, BatchStatusDone, BatchStatusFailed, BatchStatusExpired, BatchStatusCancelled:
		return false
	}
	return true
}

func (b BatchRequest) Validate() error {
	if strings.TrimSpace(b.ID) == "" {
		return invalid("batch request id is required")
	}
	switch b.Provider {
	case ProviderOpenAI, ProviderAnthropic:
	default:
		return invalid("batch request %s: unknown provider %q", b.ID, b.Provider)
	}
	if strings.TrimSpace(b.Status) == "" {
		return invalid("batch request %s: status is required", b.ID)
	}
	return nil
}

// Conversation is an ordered list of message ids plus settings.
type Conversation struct {
	ID               string            `json:"id"`
	UserID           string            `json:"user_id"`
	GroupID          string            `json:"group_id"`
	Title            string            `json:"title"`
	Description      string            `json:"description"`
	Category         string            `json:"category"`
	Tags             []string          `json:"tags"`
	ContextPrompt    string            `json:"context_prompt"`
	KnowledgeInjects []KnowledgeInject `json:"knowledge_injects"`
	Messages         []string          `json:"messages"`
	Summary          string            `json:"summary"`
	DefaultModel     string            `json:"default_model"`
	MaxMessages      int               `json:"max_messages"`
	Members          []string          `json:"members"`
	CreatedAt        time.Time         `json:"created_at"`
	UpdatedAt        time.Time         `json:"updated_at"`
}

// Recipients lists the users that should see realtime updates.
func (c Conversation) Recipients() []string {
	out := make([]string, 0, len(c.Members)+1)
	if c.UserID != "" {
		out = append(out, c.UserID)
	}
	for _, m := range c.Members {
		if m != "" && !slices.Contains(out, m) {
			out = append(out, m)
		}
	}
	return out
}

func (c Conversation) Validate() error {
	if strings.TrimSpace(c.ID) == "" {
		return invalid("conversation id is required")
	}
	if c.MaxMessages < 0 {
		return invalid("conversation %s: max_messages must be >= 0", c.ID)
	}
	for _, k := range c.KnowledgeInjects {
		switch k.UseType {
		case KnowledgeContext, KnowledgeReference, KnowledgeExample:
		default:
			return invalid("conversation %s: knowledge %s has use type %q", c.ID, k.KnowledgeID, k.UseType)
		}
	}
	return nil
}

// Message is one prompt/response turn.
type Message struct {
	ID        string     `json:"id"`
	UserID    string     `json:"user_id"`
	Category  string     `json:"category"`
	Tags      []string   `json:"tags"`
	Prompt    string     `json:"prompt"`
	Response  string     `json:"response"`
	Images    []ImageRef `json:"images"`
	Sound     string     `json:"sound,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

func (m Message) Validate() error {
	if strings.TrimSpace(m.ID) == "" {
		return invalid("message id is required")
	}
	for _, img := range m.Images {
		if !img.UseFlag.Valid() {
			return invalid("message %s: image %s has use flag %q", m.ID, img.Filename, img.UseFlag)
		}
	}
	return nil
}

// PendingRequest links an in-flight provider response to its placeholder message.
type PendingRequest struct {
	ResponseID     string    `json:"response_id"`
	ConversationID string    `json:"conversation_id"`
	PlaceholderID  string    `json:"placeholder_id"`
	CreatedAt      time.Time `json:"created_at"`
}

func (p PendingRequest) Validate() error {
	if strings.TrimSpace(p.ResponseID) == "" {
		return invalid("pending request response_id is required")
	}
	if strings.TrimSpace(p.ConversationID) == "" || strings.TrimSpace(p.PlaceholderID) == "" {
		return invalid("pending request %s: conversation_id and placeholder_id are required", p.ResponseID)
	}
	return nil
}

// Knowledge is a reusable markdown block injected into conversation context.
type Knowledge struct {
	ID              string   `json:"id"`
	Title           string   `json:"title"`
	ContentMarkdown string   `json:"content_markdown"`
	Category        string   `json:"category"`
	Tags            []string `json:"tags"`
	UserID          string   `json:"user_id"`
}
