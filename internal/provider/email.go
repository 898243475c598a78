package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"github.com/notifyhub/birthday-scheduler/internal/domain"
)

// EmailProvider posts messages to an HTTP email service.
// The URL is injected from config so tests can point to an httptest server.
type EmailProvider struct {
	url        string
	httpClient *http.Client
}

func NewEmailProvider(url string, timeout time.Duration) *EmailProvider {
	return &EmailProvider{
		url: url,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

type errorBody struct {
	Message string `json:"message"`
}

// DeliveryError is a non-2xx answer from the email service. Message is the
// service's own explanation, taken from the JSON "message" field when there
// is one.
type DeliveryError struct {
	StatusCode int
	Message    string
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("email service status %d: %s", e.StatusCode, e.Message)
}

// Unwrap reports a 400 as domain.ErrUnrecoverable so retries stop.
func (e *DeliveryError) Unwrap() error {
	if e.StatusCode == http.StatusBadRequest {
		return domain.ErrUnrecoverable
	}
	return nil
}

func upstreamMessage(status int, raw []byte) string {
	var eb errorBody
	if json.Unmarshal(raw, &eb) == nil && eb.Message != "" {
		return eb.Message
	}
	if text := strings.TrimSpace(string(raw)); text != "" {
		return text
	}
	return http.StatusText(status)
}

// Send treats any 2xx as delivered. Any other status comes back as a
// *DeliveryError; a 400 means the request itself is bad and unwraps to
// domain.ErrUnrecoverable. Every other failure, timeouts included, is left
// retryable.
func (p *EmailProvider) Send(ctx context.Context, sr SendRequest) error {
	body, err := json.Marshal(sr)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
	return &DeliveryError{StatusCode: resp.StatusCode, Message: upstreamMessage(resp.StatusCode, raw)}
}

// compile-time check that EmailProvider implements Provider
var _ Provider = (*EmailProvider)(nil)
