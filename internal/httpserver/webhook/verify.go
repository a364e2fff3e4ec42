package webhook

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/webhooks"
)

var (
	// ErrInvalidSignature covers missing headers, stale timestamps and
	// signature mismatches.
	ErrInvalidSignature = errors.New("webhook: invalid signature")
	// ErrNoSecret means the endpoint is mounted without a signing secret.
	ErrNoSecret = errors.New("webhook: no signing secret configured")
	// ErrMalformedEvent is returned for a verified body that is not an event.
	ErrMalformedEvent = errors.New("webhook: malformed event")
)

// Event is the envelope OpenAI posts for every webhook.
type Event = webhooks.UnwrapWebhookEventUnion

// Verifier checks Standard Webhooks signatures as sent by OpenAI.
type Verifier struct {
	service    webhooks.WebhookService
	configured bool
	tolerance  time.Duration
	now        func() time.Time
}

// NewVerifier accepts either a whsec_ prefixed base64 secret or raw bytes.
func NewVerifier(secret string, tolerance time.Duration) *Verifier {
	secret = strings.TrimSpace(secret)
	if tolerance <= 0 {
		tolerance = 5 * time.Minute
	}
	return &Verifier{
		service:    webhooks.NewWebhookService(option.WithWebhookSecret(secret)),
		configured: secret != "",
		tolerance:  tolerance,
		now:        time.Now,
	}
}

// Unwrap verifies the delivery and decodes its event.
func (v *Verifier) Unwrap(body []byte, headers http.Header) (Event, error) {
	if v == nil || !v.configured {
		return Event{}, ErrNoSecret
	}
	if err := v.service.VerifySignatureWithToleranceAndTime(body, headers, v.tolerance, v.now()); err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	var event Event
	if err := event.UnmarshalJSON(body); err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	if event.Type == "" {
		return Event{}, fmt.Errorf("%w: no event type", ErrMalformedEvent)
	}
	return event, nil
}
