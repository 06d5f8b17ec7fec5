package registry

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"multichat/internal/chat"
	"multichat/internal/providers"
	"multichat/internal/providers/taskpoll"
)

// CredentialSource resolves the secret for a provider. A blank secret counts
// as absent.
type CredentialSource interface {
	Credential(p chat.Provider) (string, bool)
}

type Config struct {
	Credentials CredentialSource
	BaseURLs    map[chat.Provider]string
	HTTPClient  *http.Client
	Poller      taskpoll.Poller
	Logger      zerolog.Logger
}

// Dispatcher routes a (provider, capability) call to its adapter. It performs
// no protocol work of its own.
type Dispatcher struct {
	cfg Config
}

func NewDispatcher(cfg Config) *Dispatcher {
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{}
	}
	return &Dispatcher{cfg: cfg}
}

func (d *Dispatcher) Stream(ctx context.Context, p chat.Provider, model string, history []chat.Message, onChunk providers.ChunkFunc) (providers.ChatResponse, error) {
	adapter, err := d.resolve(p, providers.CapabilityChat)
	if err != nil {
		return providers.ChatResponse{}, err
	}
	return adapter.Stream(ctx, providers.ChatRequest{Model: model, Messages: history}, onChunk)
}

func (d *Dispatcher) Generate(ctx context.Context, p chat.Provider, prompt string) (string, error) {
	adapter, err := d.resolve(p, providers.CapabilityGenerate)
	if err != nil {
		return "", err
	}
	return adapter.(providers.ImageGenerator).GenerateImage(ctx, prompt)
}

func (d *Dispatcher) Edit(ctx context.Context, p chat.Provider, req providers.EditRequest) (string, error) {
	adapter, err := d.resolve(p, providers.CapabilityEdit)
	if err != nil {
		return "", err
	}
	return adapter.(providers.ImageEditor).EditImage(ctx, req)
}

func (d *Dispatcher) resolve(p chat.Provider, capability providers.Capability) (providers.ChatProvider, error) {
	if _, ok := builders[p]; !ok {
		return nil, fmt.Errorf("%w %q", ErrUnknownProvider, p)
	}

	key, ok := "", false
	if d.cfg.Credentials != nil {
		key, ok = d.cfg.Credentials.Credential(p)
	}
	if !ok || strings.TrimSpace(key) == "" {
		return nil, fmt.Errorf("%w for %s", providers.ErrMissingCredential, p)
	}

	adapter, err := Build(p, BuildOptions{
		APIKey:     key,
		BaseURL:    d.cfg.BaseURLs[p],
		HTTPClient: d.cfg.HTTPClient,
		Poller:     d.cfg.Poller,
	})
	if err != nil {
		return nil, err
	}

	supported := true
	switch capability {
	case providers.CapabilityGenerate:
		_, supported = adapter.(providers.ImageGenerator)
	case providers.CapabilityEdit:
		_, supported = adapter.(providers.ImageEditor)
	}
	if !supported {
		return nil, fmt.Errorf("%w: %s is not available for %s", providers.ErrUnsupportedCapability, capability, p)
	}

	d.cfg.Logger.Debug().Str("provider", string(p)).Str("capability", string(capability)).Msg("dispatching")
	return adapter, nil
}
