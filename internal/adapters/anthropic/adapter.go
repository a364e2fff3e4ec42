package anthropic

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/lentmiien/lentmiien-site-sub001/internal/models"
)

const defaultBaseURL = "https://api.anthropic.com"
const defaultVersion = "2023-06-01"

// Options configures the native Anthropic adapter.
type Options struct {
	APIKey           string
	BaseURL          string
	Version          string
	DefaultMaxTokens int32
	HTTPClient       *http.Client
}

type Adapter struct {
	client  *http.Client
	baseURL string
	opts    Options
}

func New(opts Options) (*Adapter, error) {
	if strings.TrimSpace(opts.APIKey) == "" {
		return nil, errors.New("anthropic: api key required")
	}
	if strings.TrimSpace(opts.BaseURL) == "" {
		opts.BaseURL = defaultBaseURL
	}
	if strings.TrimSpace(opts.Version) == "" {
		opts.Version = defaultVersion
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 60 * time.Second}
	}
	return &Adapter{
		client:  opts.HTTPClient,
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		opts:    opts,
	}, nil
}

func (a *Adapter) Name() string { return models.ProviderAnthropic }

func (a *Adapter) Chat(ctx context.Context, req models.ChatRequest) (models.ChatResponse, error) {
	payload := buildMessageRequest(req, a.opts.DefaultMaxTokens)
	var resp messageResponse
	if err := a.do(ctx, http.MethodPost, a.baseURL+"/v1/messages", payload, &resp); err != nil {
		return models.ChatResponse{}, err
	}
	return convertMessageResponse(resp, req.Model), nil
}

// SubmitBatch creates a Message Batch. Anthropic keeps requests inline so
// there is no input file to track.
func (a *Adapter) SubmitBatch(ctx context.Context, model string, items []models.BatchItem) (models.BatchRequest, error) {
	if len(items) == 0 {
		return models.BatchRequest{}, errors.New("anthropic: batch requires at least one item")
	}
	payload := batchCreateBody{Requests: make([]batchCreateEntry, 0, len(items))}
	for _, item := range items {
		payload.Requests = append(payload.Requests, batchCreateEntry{
			CustomID: item.CustomID,
			Params:   buildMessageRequest(item.Request, a.opts.DefaultMaxTokens),
		})
	}

	var resp batchResponse
	if err := a.do(ctx, http.MethodPost, a.baseURL+"/v1/messages/batches", payload, &resp); err != nil {
		return models.BatchRequest{}, err
	}
	req := models.BatchRequest{
		ID:       resp.ID,
		Provider: models.ProviderAnthropic,
		Model:    model,
	}
	return convertBatch(resp).Apply(req), nil
}

func (a *Adapter) CheckStatus(ctx context.Context, batch models.BatchRequest) (models.BatchStatus, error) {
	var resp batchResponse
	if err := a.do(ctx, http.MethodGet, a.batchURL(batch.ID), nil, &resp); err != nil {
		return models.BatchStatus{}, err
	}
	return convertBatch(resp), nil
}

// FetchResults streams the JSONL results of an ended batch.
func (a *Adapter) FetchResults(ctx context.Context, batch models.BatchRequest) ([]models.BatchResult, error) {
	endpoint := batch.OutputFileID
	if !strings.HasPrefix(endpoint, "http") {
		endpoint = a.batchURL(batch.ID) + "/results"
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	a.setHeaders(req)
	resp, err := a.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return nil, decodeAPIError(resp)
	}
	return decodeBatchResults(resp.Body, batch.Model)
}

// DeleteArtifacts is a no-op. Anthropic keeps no uploaded files for a batch
// and its results expire on their own.
func (a *Adapter) DeleteArtifacts(context.Context, models.BatchRequest) error {
	return nil
}

func (a *Adapter) batchURL(id string) string {
	return fmt.Sprintf("%s/v1/messages/batches/%s", a.baseURL, id)
}

func (a *Adapter) setHeaders(req *http.Request) {
	req.Header.Set("Accept", "application/json")
	req.Header.Set("x-api-key", a.opts.APIKey)
	req.Header.Set("anthropic-version", a.opts.Version)
}

func (a *Adapter) do(ctx context.Context, method, endpoint string, payload any, out any) error {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	a.setHeaders(req)

	resp, err := a.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return decodeAPIError(resp)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func buildMessageRequest(req models.ChatRequest, defaultMax int32) messageRequest {
	var systemPrompts []string
	messages := make([]message, 0, len(req.Messages))

	for _, msg := range req.Messages {
		switch strings.ToLower(msg.Role) {
		case models.RoleSystem, models.RoleDeveloper:
			systemPrompts = append(systemPrompts, msg.Text)
		case models.RoleAssistant:
			messages = append(messages, message{
				Role:    "assistant",
				Content: []content{{Type: "text", Text: msg.Text}},
			})
		default:
			parts := make([]content, 0, len(msg.Images)+1)
			for _, img := range msg.Images {
				parts = append(parts, content{
					Type: "image",
					Source: &imageSource{
						Type:      "base64",
						MediaType: img.MediaType,
						Data:      img.Data,
					},
				})
			}
			parts = append(parts, content{Type: "text", Text: msg.Text})
			messages = append(messages, message{Role: "user", Content: parts})
		}
	}

	maxTokens := int32(0)
	if req.MaxTokens != nil {
		maxTokens = *req.MaxTokens
	} else if defaultMax > 0 {
		maxTokens = defaultMax
	}
	if maxTokens == 0 {
		maxTokens = 1024
	}

	body := messageRequest{
		Model:     req.Model,
		Messages:  messages,
		MaxTokens: maxTokens,
	}
	if len(systemPrompts) > 0 {
		body.System = strings.Join(systemPrompts, "\n")
	}
	return body
}

type messageRequest struct {
	Model     string    `json:"model"`
	System    string    `json:"system,omitempty"`
	Messages  []message `json:"messages"`
	MaxTokens int32     `json:"max_tokens"`
}

type message struct {
	Role    string    `json:"role"`
	Content []content `json:"content"`
}

type content struct {
	Type   string       `json:"type"`
	Text   string       `json:"text,omitempty"`
	Source *imageSource `json:"source,omitempty"`
}

type imageSource struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type"`
	Data      string `json:"data"`
}

type messageResponse struct {
	ID         string    `json:"id"`
	Model      string    `json:"model"`
	Role       string    `json:"role"`
	Content    []content `json:"content"`
	StopReason string    `json:"stop_reason"`
	Usage      usage     `json:"usage"`
}

func (m messageResponse) JoinText() string {
	var b strings.Builder
	for _, c := range m.Content {
		if c.Type == "text" {
			b.WriteString(c.Text)
		}
	}
	return b.String()
}

type usage struct {
	InputTokens  int64 `json:"input_tokens"`
	OutputTokens int64 `json:"output_tokens"`
}

type batchCreateBody struct {
	Requests []batchCreateEntry `json:"requests"`
}

type batchCreateEntry struct {
	CustomID string         `json:"custom_id"`
	Params   messageRequest `json:"params"`
}

type batchResponse struct {
	ID               string     `json:"id"`
	ProcessingStatus string     `json:"processing_status"`
	RequestCounts    batchCount `json:"request_counts"`
	CreatedAt        time.Time  `json:"created_at"`
	EndedAt          *time.Time `json:"ended_at"`
	ResultsURL       string     `json:"results_url"`
}

type batchCount struct {
	Processing int `json:"processing"`
	Succeeded  int `json:"succeeded"`
	Errored    int `json:"errored"`
	Canceled   int `json:"canceled"`
	Expired    int `json:"expired"`
}

type batchResultLine struct {
	CustomID string `json:"custom_id"`
	Result   struct {
		Type    string          `json:"type"`
		Message messageResponse `json:"message"`
		Error   *struct {
			Type  string `json:"type"`
			Error struct {
				Type    string `json:"type"`
				Message string `json:"message"`
			} `json:"error"`
		} `json:"error"`
	} `json:"result"`
}

func convertBatch(resp batchResponse) models.BatchStatus {
	c := resp.RequestCounts
	status := models.BatchStatus{
		Status:       mapProcessingStatus(resp.ProcessingStatus),
		OutputFileID: resp.ResultsURL,
		Total:        c.Processing + c.Succeeded + c.Errored + c.Canceled + c.Expired,
		Completed:    c.Succeeded,
		Failed:       c.Errored + c.Canceled + c.Expired,
		CreatedAt:    resp.CreatedAt,
		CompletedAt:  resp.EndedAt,
	}
	return status
}

func mapProcessingStatus(status string) string {
	switch status {
	case "ended":
		return models.BatchStatusCompleted
	case "canceling":
		return models.BatchStatusCancelling
	case "in_progress":
		return models.BatchStatusInProgress
	default:
		return status
	}
}

func decodeBatchResults(r io.Reader, model string) ([]models.BatchResult, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 32*1024*1024)
	var results []models.BatchResult
	for scanner.Scan() {
		raw := bytes.TrimSpace(scanner.Bytes())
		if len(raw) == 0 {
			continue
		}
		var line batchResultLine
		if err := json.Unmarshal(raw, &line); err != nil {
			return nil, fmt.Errorf("anthropic: decode result line: %w", err)
		}
		results = append(results, convertResultLine(line, model))
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return results, nil
}

func convertResultLine(line batchResultLine, model string) models.BatchResult {
	result := models.BatchResult{CustomID: line.CustomID}
	switch line.Result.Type {
	case "succeeded":
		converted := convertMessageResponse(line.Result.Message, model)
		result.Content = converted.Content
		result.Model = converted.Model
		result.Usage = converted.Usage
	case "errored":
		result.Error = "errored"
		if line.Result.Error != nil {
			result.Error = strings.TrimSpace(line.Result.Error.Error.Type + " " + line.Result.Error.Error.Message)
		}
	default:
		result.Error = line.Result.Type
	}
	return result
}

func convertMessageResponse(resp messageResponse, model string) models.ChatResponse {
	if resp.Model != "" {
		model = resp.Model
	}
	return models.ChatResponse{
		ID:           resp.ID,
		Model:        model,
		Created:      time.Now().UTC(),
		Content:      resp.JoinText(),
		FinishReason: mapStopReason(resp.StopReason),
		Usage: models.Usage{
			PromptTokens:     resp.Usage.InputTokens,
			CompletionTokens: resp.Usage.OutputTokens,
			TotalTokens:      resp.Usage.InputTokens + resp.Usage.OutputTokens,
		},
	}
}

func mapStopReason(reason string) string {
	switch reason {
	case "end_turn", "stop_sequence":
		return "stop"
	case "max_tokens":
		return "length"
	default:
		return reason
	}
}

func decodeAPIError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return fmt.Errorf("anthropic api error %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
}
