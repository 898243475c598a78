package provider

import "context"

// SendRequest is the JSON body posted to the email delivery service.
type SendRequest struct {
	Email   string `json:"email"`
	Message string `json:"message"`
}

// Provider abstracts delivery to an external notification channel.
// Mocking this interface in tests gives full control over provider behaviour
// without making real HTTP calls.
type Provider interface {
	Send(ctx context.Context, req SendRequest) error
}
