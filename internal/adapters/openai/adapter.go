package openai

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/packages/param"
	"github.com/openai/openai-go/v3/responses"

	"github.com/lentmiien/lentmiien-site-sub001/internal/models"
)

const chatCompletionsEndpoint = "/v1/chat/completions"

// Options configure the native OpenAI adapter.
type Options struct {
	APIKey       string
	BaseURL      string
	Organization string
	Timeout      time.Duration
	Extra        []option.RequestOption
}

// Adapter wraps the official OpenAI SDK for chat, batch and background response calls.
type Adapter struct {
	client *openai.Client
}

// New creates an OpenAI adapter using the provided API key and optional base URL/organization.
func New(opts Options) (*Adapter, error) {
	if strings.TrimSpace(opts.APIKey) == "" {
		return nil, errors.New("openai: api key required")
	}

	requestOpts := []option.RequestOption{option.WithAPIKey(opts.APIKey)}
	if base := strings.TrimSpace(opts.BaseURL); base != "" {
		if !strings.HasSuffix(base, "/") {
			base += "/"
		}
		requestOpts = append(requestOpts, option.WithBaseURL(base))
	}
	if strings.TrimSpace(opts.Organization) != "" {
		requestOpts = append(requestOpts, option.WithOrganization(strings.TrimSpace(opts.Organization)))
	}
	if opts.Timeout > 0 {
		requestOpts = append(requestOpts, option.WithRequestTimeout(opts.Timeout))
	}
	requestOpts = append(requestOpts, opts.Extra...)

	client := openai.NewClient(requestOpts...)
	return &Adapter{client: &client}, nil
}

func (a *Adapter) Name() string { return models.ProviderOpenAI }

// Chat performs a non-streaming chat completion request.
func (a *Adapter) Chat(ctx context.Context, req models.ChatRequest) (models.ChatResponse, error) {
	resp, err := a.client.Chat.Completions.New(ctx, buildChatParams(req))
	if err != nil {
		return models.ChatResponse{}, err
	}
	return convertChatResponse(*resp), nil
}

// SubmitBatch serializes the items into a JSONL file, uploads it and starts a
// chat-completions batch over it.
func (a *Adapter) SubmitBatch(ctx context.Context, model string, items []models.BatchItem) (models.BatchRequest, error) {
	if len(items) == 0 {
		return models.BatchRequest{}, errors.New("openai: batch requires at least one item")
	}
	payload, err := encodeBatchFile(items)
	if err != nil {
		return models.BatchRequest{}, err
	}

	file, err := a.client.Files.New(ctx, openai.FileNewParams{
		File:    openai.File(bytes.NewReader(payload), "batch.jsonl", "application/jsonl"),
		Purpose: openai.FilePurposeBatch,
	})
	if err != nil {
		return models.BatchRequest{}, fmt.Errorf("openai: upload batch file: %w", err)
	}

	batch, err := a.client.Batches.New(ctx, openai.BatchNewParams{
		CompletionWindow: openai.BatchNewParamsCompletionWindow24h,
		Endpoint:         openai.BatchNewParamsEndpointV1ChatCompletions,
		InputFileID:      file.ID,
	})
	if err != nil {
		return models.BatchRequest{}, fmt.Errorf("openai: start batch: %w", err)
	}

	status := convertBatch(*batch)
	req := models.BatchRequest{
		ID:          batch.ID,
		InputFileID: file.ID,
		Provider:    models.ProviderOpenAI,
		Model:       model,
	}
	return status.Apply(req), nil
}

// CheckStatus retrieves the batch and normalizes its counters and file ids.
func (a *Adapter) CheckStatus(ctx context.Context, batch models.BatchRequest) (models.BatchStatus, error) {
	resp, err := a.client.Batches.Get(ctx, batch.ID)
	if err != nil {
		return models.BatchStatus{}, fmt.Errorf("openai: batch status %s: %w", batch.ID, err)
	}
	return convertBatch(*resp), nil
}

// FetchResults downloads the output and error files of a finished batch.
func (a *Adapter) FetchResults(ctx context.Context, batch models.BatchRequest) ([]models.BatchResult, error) {
	var results []models.BatchResult
	for _, fileID := range []string{batch.OutputFileID, batch.ErrorFileID} {
		if fileID == "" {
			continue
		}
		entries, err := a.downloadResults(ctx, fileID)
		if err != nil {
			return nil, err
		}
		results = append(results, entries...)
	}
	return results, nil
}

func (a *Adapter) downloadResults(ctx context.Context, fileID string) ([]models.BatchResult, error) {
	resp, err := a.client.Files.Content(ctx, fileID)
	if err != nil {
		return nil, fmt.Errorf("openai: download file %s: %w", fileID, err)
	}
	defer resp.Body.Close()
	results, err := decodeBatchOutput(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("openai: decode file %s: %w", fileID, err)
	}
	return results, nil
}

// DeleteArtifacts removes the uploaded input file and the generated result files.
func (a *Adapter) DeleteArtifacts(ctx context.Context, batch models.BatchRequest) error {
	var errs []error
	for _, fileID := range []string{batch.InputFileID, batch.OutputFileID, batch.ErrorFileID} {
		if fileID == "" {
			continue
		}
		if _, err := a.client.Files.Delete(ctx, fileID); err != nil {
			errs = append(errs, fmt.Errorf("openai: delete file %s: %w", fileID, err))
		}
	}
	return errors.Join(errs...)
}

// CreateBackgroundResponse starts an asynchronous Responses API call and
// returns its id. Completion is reported through the response.* webhooks.
func (a *Adapter) CreateBackgroundResponse(ctx context.Context, req models.ChatRequest) (string, error) {
	params := responses.ResponseNewParams{
		Model:      req.Model,
		Background: openai.Bool(true),
		Input: responses.ResponseNewParamsInputUnion{
			OfInputItemList: buildResponseInput(req.Messages),
		},
	}
	if req.MaxTokens != nil {
		params.MaxOutputTokens = openai.Int(int64(*req.MaxTokens))
	}
	resp, err := a.client.Responses.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("openai: create background response: %w", err)
	}
	return resp.ID, nil
}

// GetResponse fetches a finished background response.
func (a *Adapter) GetResponse(ctx context.Context, responseID string) (models.ChatResponse, error) {
	resp, err := a.client.Responses.Get(ctx, responseID, responses.ResponseGetParams{})
	if err != nil {
		return models.ChatResponse{}, fmt.Errorf("openai: get response %s: %w", responseID, err)
	}
	return models.ChatResponse{
		ID:           resp.ID,
		Created:      time.Unix(int64(resp.CreatedAt), 0).UTC(),
		Model:        string(resp.Model),
		Content:      resp.OutputText(),
		FinishReason: string(resp.Status),
		Usage: models.Usage{
			PromptTokens:     resp.Usage.InputTokens,
			CompletionTokens: resp.Usage.OutputTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
	}, nil
}

func buildResponseInput(messages []models.ChatMessage) []responses.ResponseInputItemUnionParam {
	items := make([]responses.ResponseInputItemUnionParam, 0, len(messages))
	for _, msg := range messages {
		role := responses.EasyInputMessageRoleUser
		switch msg.Role {
		case models.RoleSystem:
			role = responses.EasyInputMessageRoleSystem
		case models.RoleDeveloper:
			role = responses.EasyInputMessageRoleDeveloper
		case models.RoleAssistant:
			role = responses.EasyInputMessageRoleAssistant
		}
		if len(msg.Images) == 0 || role != responses.EasyInputMessageRoleUser {
			items = append(items, responses.ResponseInputItemParamOfMessage(msg.Text, role))
			continue
		}
		parts := make(responses.ResponseInputMessageContentListParam, 0, len(msg.Images)+1)
		parts = append(parts, responses.ResponseInputContentParamOfInputText(msg.Text))
		for _, img := range msg.Images {
			parts = append(parts, responses.ResponseInputContentUnionParam{
				OfInputImage: &responses.ResponseInputImageParam{
					Detail:   responses.ResponseInputImageDetail(imageDetail(img.Detail)),
					ImageURL: param.NewOpt(img.DataURL()),
				},
			})
		}
		items = append(items, responses.ResponseInputItemParamOfMessage(parts, role))
	}
	return items
}

type batchLine struct {
	CustomID string                         `json:"custom_id"`
	Method   string                         `json:"method"`
	URL      string                         `json:"url"`
	Body     openai.ChatCompletionNewParams `json:"body"`
}

func encodeBatchFile(items []models.BatchItem) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, item := range items {
		line := batchLine{
			CustomID: item.CustomID,
			Method:   "POST",
			URL:      chatCompletionsEndpoint,
			Body:     buildChatParams(item.Request),
		}
		if err := enc.Encode(line); err != nil {
			return nil, fmt.Errorf("openai: encode batch line %s: %w", item.CustomID, err)
		}
	}
	return buf.Bytes(), nil
}

type batchOutputLine struct {
	ID       string `json:"id"`
	CustomID string `json:"custom_id"`
	Response *struct {
		StatusCode int             `json:"status_code"`
		Body       json.RawMessage `json:"body"`
	} `json:"response"`
	Error *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func decodeBatchOutput(r io.Reader) ([]models.BatchResult, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 32*1024*1024)
	var results []models.BatchResult
	for scanner.Scan() {
		raw := bytes.TrimSpace(scanner.Bytes())
		if len(raw) == 0 {
			continue
		}
		var line batchOutputLine
		if err := json.Unmarshal(raw, &line); err != nil {
			return nil, err
		}
		results = append(results, convertOutputLine(line))
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return results, nil
}

func convertOutputLine(line batchOutputLine) models.BatchResult {
	result := models.BatchResult{CustomID: line.CustomID}
	if line.Error != nil && line.Error.Message != "" {
		result.Error = strings.TrimSpace(line.Error.Code + " " + line.Error.Message)
		return result
	}
	if line.Response == nil {
		result.Error = "missing response"
		return result
	}
	if line.Response.StatusCode >= 400 {
		var apiErr struct {
			Error struct {
				Message string `json:"message"`
			} `json:"error"`
		}
		_ = json.Unmarshal(line.Response.Body, &apiErr)
		result.Error = fmt.Sprintf("status %d: %s", line.Response.StatusCode, apiErr.Error.Message)
		return result
	}
	var completion openai.ChatCompletion
	if err := json.Unmarshal(line.Response.Body, &completion); err != nil {
		result.Error = fmt.Sprintf("decode completion: %v", err)
		return result
	}
	converted := convertChatResponse(completion)
	result.Content = converted.Content
	result.Model = converted.Model
	result.Usage = converted.Usage
	return result
}

func convertBatch(b openai.Batch) models.BatchStatus {
	status := models.BatchStatus{
		Status:       string(b.Status),
		OutputFileID: b.OutputFileID,
		ErrorFileID:  b.ErrorFileID,
		Total:        int(b.RequestCounts.Total),
		Completed:    int(b.RequestCounts.Completed),
		Failed:       int(b.RequestCounts.Failed),
	}
	if b.CreatedAt > 0 {
		status.CreatedAt = time.Unix(b.CreatedAt, 0).UTC()
	}
	if b.CompletedAt > 0 {
		completed := time.Unix(b.CompletedAt, 0).UTC()
		status.CompletedAt = &completed
	}
	return status
}

func buildChatParams(req models.ChatRequest) openai.ChatCompletionNewParams {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Messages))
	for _, msg := range req.Messages {
		switch strings.ToLower(msg.Role) {
		case models.RoleSystem:
			messages = append(messages, openai.SystemMessage(msg.Text))
		case models.RoleDeveloper:
			messages = append(messages, openai.DeveloperMessage(msg.Text))
		case models.RoleAssistant:
			messages = append(messages, openai.ChatCompletionMessageParamOfAssistant(msg.Text))
		default:
			if len(msg.Images) == 0 {
				messages = append(messages, openai.UserMessage(msg.Text))
				continue
			}
			parts := make([]openai.ChatCompletionContentPartUnionParam, 0, len(msg.Images)+1)
			parts = append(parts, openai.TextContentPart(msg.Text))
			for _, img := range msg.Images {
				parts = append(parts, openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{
					URL:    img.DataURL(),
					Detail: imageDetail(img.Detail),
				}))
			}
			messages = append(messages, openai.UserMessage(parts))
		}
	}

	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(req.Model),
		Messages: messages,
	}
	if req.MaxTokens != nil {
		params.MaxCompletionTokens = param.NewOpt(int64(*req.MaxTokens))
	}
	return params
}

func imageDetail(detail string) string {
	if detail == models.ImageDetailLow {
		return "low"
	}
	return "high"
}

func convertChatResponse(resp openai.ChatCompletion) models.ChatResponse {
	out := models.ChatResponse{
		ID:      resp.ID,
		Created: time.Unix(resp.Created, 0).UTC(),
		Model:   resp.Model,
		Usage: models.Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
	}
	if len(resp.Choices) > 0 {
		out.Content = resp.Choices[0].Message.Content
		out.FinishReason = resp.Choices[0].FinishReason
	}
	return out
}
