package providers

import (
	"context"
	"errors"
	"fmt"

	"multichat/internal/chat"
)

type Capability string

const (
	CapabilityChat     Capability = "chat"
	CapabilityGenerate Capability = "generate"
	CapabilityEdit     Capability = "edit"
)

var (
	ErrMissingCredential     = errors.New("missing api key")
	ErrUnsupportedCapability = errors.New("unsupported capability")
	ErrCanceled              = errors.New("stream canceled")
	ErrTimeout               = errors.New("image generation timed out")
)

// ChunkFunc receives each decoded delta in transport order.
type ChunkFunc func(delta string)

type ChatRequest struct {
	Model    string
	Messages []chat.Message
}

// ChatResponse holds the aggregated reply. On cancellation it holds the text
// accumulated before the stream stopped.
type ChatResponse struct {
	Text string
}

type ChatProvider interface {
	Stream(ctx context.Context, req ChatRequest, onChunk ChunkFunc) (ChatResponse, error)
}

type ImageGenerator interface {
	GenerateImage(ctx context.Context, prompt string) (string, error)
}

type EditRequest struct {
	Image  string
	Mask   string
	Prompt string
}

type ImageEditor interface {
	EditImage(ctx context.Context, req EditRequest) (string, error)
}

// Canceled wraps the context cause so callers can match ErrCanceled.
func Canceled(ctx context.Context) error {
	return fmt.Errorf("%w: %w", ErrCanceled, context.Cause(ctx))
}

// TransportError is a non-success vendor response.
type TransportError struct {
	Provider   chat.Provider
	StatusCode int
	Message    string
}

func (e *TransportError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Provider, e.Message)
	}
	return fmt.Sprintf("%s API error: %d", e.Provider, e.StatusCode)
}
