package models

import "time"

// BatchItem is one request inside a provider batch submission.
type BatchItem struct {
	CustomID string
	Request  ChatRequest
}

// BatchStatus is a provider's view of a batch job, normalized to local vocabulary.
type BatchStatus struct {
	Status       string
	OutputFileID string
	ErrorFileID  string
	Total        int
	Completed    int
	Failed       int
	CreatedAt    time.Time
	CompletedAt  *time.Time
}

// Apply copies the refreshed fields onto the stored request.
func (s BatchStatus) Apply(req BatchRequest) BatchRequest {
	req.Status = s.Status
	if s.OutputFileID != "" {
		req.OutputFileID = s.OutputFileID
	}
	if s.ErrorFileID != "" {
		req.ErrorFileID = s.ErrorFileID
	}
	req.RequestCountsTotal = s.Total
	req.RequestCountsCompleted = s.Completed
	req.RequestCountsFailed = s.Failed
	if !s.CreatedAt.IsZero() {
		req.CreatedAt = s.CreatedAt
	}
	if s.CompletedAt != nil {
		req.CompletedAt = s.CompletedAt
	}
	return req
}

// BatchResult is one demultiplexed entry of a finished batch.
type BatchResult struct {
	CustomID string
	Content  string
	Model    string
	Usage    Usage
	Error    string
}

func (r BatchResult) Failed() bool { return r.Error != "" }
