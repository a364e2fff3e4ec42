package models

import "time"

// Chat roles understood by both providers. Developer is mapped to system by
// providers without a developer role.
const (
	RoleSystem    = "system"
	RoleDeveloper = "developer"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ImageDetail values for image inputs.
const (
	ImageDetailHigh = "high"
	ImageDetailLow  = "low"
)

// ImageInput is an inline image attached to a user turn, stored as base64.
type ImageInput struct {
	MediaType string `json:"media_type"`
	Data      string `json:"data"`
	Detail    string `json:"detail,omitempty"`
}

// DataURL renders the image the way OpenAI expects it.
func (i ImageInput) DataURL() string {
	mediaType := i.MediaType
	if mediaType == "" {
		mediaType = "image/jpeg"
	}
	return "data:" + mediaType + ";base64," + i.Data
}

type ChatMessage struct {
	Role   string       `json:"role"`
	Text   string       `json:"text"`
	Images []ImageInput `json:"images,omitempty"`
}

type ChatRequest struct {
	Model     string        `json:"model"`
	Messages  []ChatMessage `json:"messages"`
	MaxTokens *int32        `json:"max_tokens,omitempty"`
}

type Usage struct {
	PromptTokens     int64 `json:"prompt_tokens"`
	CompletionTokens int64 `json:"completion_tokens"`
	TotalTokens      int64 `json:"total_tokens"`
}

type ChatResponse struct {
	ID           string    `json:"id"`
	Created      time.Time `json:"created"`
	Model        string    `json:"model"`
	Content      string    `json:"content"`
	FinishReason string    `json:"finish_reason"`
	Usage        Usage     `json:"usage"`
}
