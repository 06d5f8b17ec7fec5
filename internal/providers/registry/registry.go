package registry

import (
	"errors"
	"fmt"
	"net/http"

	"multichat/internal/chat"
	"multichat/internal/providers"
	"multichat/internal/providers/anthropic_messages"
	"multichat/internal/providers/gemini"
	"multichat/internal/providers/openai"
	"multichat/internal/providers/openai_compat"
	"multichat/internal/providers/qwen"
	"multichat/internal/providers/taskpoll"
	"multichat/internal/providers/zhipu"
)

var ErrUnknownProvider = errors.New("unknown provider")

const deepSeekBaseURL = "https://api.deepseek.com"

type BuildOptions struct {
	APIKey     string
	BaseURL    string
	HTTPClient *http.Client
	Poller     taskpoll.Poller
}

type builder func(opts BuildOptions) providers.ChatProvider

// builders holds one adapter per provider. TestBuildersCoverEveryProvider
// keeps it in sync with chat.Providers.
var builders = map[chat.Provider]builder{
	chat.ProviderOpenAI: func(o BuildOptions) providers.ChatProvider {
		return openai.New(openai.Config{APIKey: o.APIKey, BaseURL: o.BaseURL, HTTPClient: o.HTTPClient})
	},
	chat.ProviderAnthropic: func(o BuildOptions) providers.ChatProvider {
		return anthropic_messages.New(anthropic_messages.Config{APIKey: o.APIKey, BaseURL: o.BaseURL, HTTPClient: o.HTTPClient})
	},
	chat.ProviderGoogle: func(o BuildOptions) providers.ChatProvider {
		return gemini.New(gemini.Config{APIKey: o.APIKey, BaseURL: o.BaseURL, HTTPClient: o.HTTPClient})
	},
	chat.ProviderDeepSeek: func(o BuildOptions) providers.ChatProvider {
		base := o.BaseURL
		if base == "" {
			base = deepSeekBaseURL
		}
		return openai_compat.New(openai_compat.Config{
			Provider:   chat.ProviderDeepSeek,
			BaseURL:    base,
			APIKey:     o.APIKey,
			HTTPClient: o.HTTPClient,
		})
	},
	chat.ProviderZhipu: func(o BuildOptions) providers.ChatProvider {
		return zhipu.New(zhipu.Config{APIKey: o.APIKey, BaseURL: o.BaseURL, HTTPClient: o.HTTPClient})
	},
	chat.ProviderQwen: func(o BuildOptions) providers.ChatProvider {
		return qwen.New(qwen.Config{APIKey: o.APIKey, BaseURL: o.BaseURL, HTTPClient: o.HTTPClient, Poller: o.Poller})
	},
}

func Build(p chat.Provider, opts BuildOptions) (providers.ChatProvider, error) {
	b, ok := builders[p]
	if !ok {
		return nil, fmt.Errorf("%w %q", ErrUnknownProvider, p)
	}
	return b(opts), nil
}

// Capabilities reports what the provider's adapter implements.
func Capabilities(p chat.Provider) []providers.Capability {
	adapter, err := Build(p, BuildOptions{})
	if err != nil {
		return nil
	}
	caps := []providers.Capability{providers.CapabilityChat}
	if _, ok := adapter.(providers.ImageGenerator); ok {
		caps = append(caps, providers.CapabilityGenerate)
	}
	if _, ok := adapter.(providers.ImageEditor); ok {
		caps = append(caps, providers.CapabilityEdit)
	}
	return caps
}
