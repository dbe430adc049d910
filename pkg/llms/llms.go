// Package llms defines the provider-neutral chat message model and the Model
// interface the orchestrator drives.
package llms

import (
	"context"
)

// ProviderType is the type of provider.
type ProviderType string

const (
	// ProviderAnthropic is the Anthropic messages API.
	ProviderAnthropic ProviderType = "ANTHROPIC"
)

// Model is the interface chat models implement. GenerateContent receives the
// conversation so far plus call options (tools, token limits) and returns the
// model's reply.
type Model interface {
	// GetName returns the configured model name.
	GetName() string
	// GetProviderType returns the type of provider.
	GetProviderType() ProviderType
	// GenerateContent asks the model to generate content from a sequence of
	// messages.
	GenerateContent(ctx context.Context, messages []Message, options ...CallOption) (*ContentResponse, error)
}
