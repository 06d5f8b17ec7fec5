// Package exchange drives one send→respond cycle between the session and a
// provider, and the image generate/edit round trips.
package exchange

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"multichat/internal/chat"
	"multichat/internal/metrics"
	"multichat/internal/providers"
	"multichat/internal/session"
)

var ErrExchangeInFlight = errors.New("an exchange is already in progress")

type Phase string

const (
	PhaseIdle      Phase = "idle"
	PhaseSending   Phase = "sending"
	PhaseStreaming Phase = "streaming"
	PhaseFinalized Phase = "finalized"
	PhaseAborted   Phase = "aborted"
	PhaseFailed    Phase = "failed"
)

// Dispatcher is the subset of registry.Dispatcher the orchestrator needs.
type Dispatcher interface {
	Stream(ctx context.Context, p chat.Provider, model string, history []chat.Message, onChunk providers.ChunkFunc) (providers.ChatResponse, error)
	Generate(ctx context.Context, p chat.Provider, prompt string) (string, error)
	Edit(ctx context.Context, p chat.Provider, req providers.EditRequest) (string, error)
}

// Event is reported to the observer on every phase change and chunk.
type Event struct {
	Phase Phase
	Chunk string
}

type Observer func(Event)

type Config struct {
	Session    *session.Session
	Dispatcher Dispatcher
	Logger     zerolog.Logger
	Metrics    *metrics.Metrics
	Observer   Observer
}

type Orchestrator struct {
	session    *session.Session
	dispatcher Dispatcher
	log        zerolog.Logger
	metrics    *metrics.Metrics
	observer   Observer

	mu     sync.Mutex
	busy   bool
	phase  Phase
	cancel context.CancelFunc
}

func New(cfg Config) *Orchestrator {
	m := cfg.Metrics
	if m == nil {
		m = metrics.Global()
	}
	return &Orchestrator{
		session:    cfg.Session,
		dispatcher: cfg.Dispatcher,
		log:        cfg.Logger,
		metrics:    m,
		observer:   cfg.Observer,
		phase:      PhaseIdle,
	}
}

type Result struct {
	Outcome Phase
	// Message is the persisted assistant message, if any.
	Message chat.Message
}

// Send runs one exchange on the selected chat. Only one exchange may run at a
// time; a second call returns ErrExchangeInFlight.
func (o *Orchestrator) Send(ctx context.Context, text, imageRef string) (Result, error) {
	text = strings.TrimSpace(text)
	if text == "" && imageRef == "" {
		return Result{}, fmt.Errorf("message is empty")
	}
	streamCtx, err := o.begin(ctx)
	if err != nil {
		return Result{}, err
	}
	defer o.end()

	c, err := o.selectedChat()
	if err != nil {
		return Result{}, err
	}
	log := o.log.With().Str("chat_id", c.ID).Str("provider", string(c.Provider)).Str("model", c.Model).Logger()
	started := time.Now()

	o.session.SetError(nil)
	o.setPhase(PhaseSending)
	firstMessage := len(o.session.Messages()) == 0

	if _, err := o.session.AppendMessage(ctx, chat.Message{
		ChatID:   c.ID,
		Role:     chat.RoleUser,
		Content:  text,
		ImageURL: imageRef,
	}); err != nil {
		return o.fail(c, err, log)
	}
	if firstMessage && c.Title == chat.DefaultTitle && text != "" {
		title := chat.DeriveTitle(text)
		if _, err := o.session.UpdateChat(ctx, c.ID, chat.ChatPatch{Title: &title}); err != nil {
			log.Warn().Err(err).Msg("failed to derive chat title")
		}
	}

	history := o.history(c)
	o.session.SetStreaming(true)
	o.setPhase(PhaseStreaming)

	resp, streamErr := o.dispatcher.Stream(streamCtx, c.Provider, c.Model, history, func(delta string) {
		o.session.AppendStreamChunk(delta)
		o.metrics.StreamChunks.WithLabelValues(string(c.Provider)).Inc()
		o.notify(Event{Phase: PhaseStreaming, Chunk: delta})
	})

	// Persistence after an abort must not inherit the cancellation.
	persistCtx := context.WithoutCancel(ctx)

	switch {
	case streamErr == nil:
		msg, err := o.session.FinalizeStream(persistCtx, c.ID, resp.Text)
		if err != nil {
			return o.fail(c, err, log)
		}
		o.finish(c, PhaseFinalized)
		log.Info().Dur("took", time.Since(started)).Int("chars", len(resp.Text)).Msg("exchange finalized")
		return Result{Outcome: PhaseFinalized, Message: msg}, nil

	case errors.Is(streamErr, providers.ErrCanceled):
		draft, ok := o.session.Draft()
		if !ok || draft.Content == "" {
			o.session.AbandonStream()
			o.finish(c, PhaseAborted)
			log.Info().Msg("exchange aborted before any output")
			return Result{Outcome: PhaseAborted}, nil
		}
		msg, err := o.session.FinalizeStream(persistCtx, c.ID, draft.Content)
		if err != nil {
			return o.fail(c, err, log)
		}
		o.finish(c, PhaseAborted)
		log.Info().Int("chars", len(draft.Content)).Msg("exchange aborted, partial reply kept")
		return Result{Outcome: PhaseAborted, Message: msg}, nil

	default:
		return o.fail(c, streamErr, log)
	}
}

// Stop cancels the running exchange. It reports whether one was running.
func (o *Orchestrator) Stop() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.cancel == nil {
		return false
	}
	o.cancel()
	return true
}

func (o *Orchestrator) Busy() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.busy
}

// Phase is the state of the current or most recent exchange.
func (o *Orchestrator) Phase() Phase {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.phase
}

// GenerateImage asks the selected chat's provider for an image, then records
// the prompt and the result as a user/assistant pair.
func (o *Orchestrator) GenerateImage(ctx context.Context, prompt string) (Result, error) {
	return o.image(ctx, prompt, providers.CapabilityGenerate, func(ctx context.Context, c chat.Chat) (string, error) {
		return o.dispatcher.Generate(ctx, c.Provider, prompt)
	})
}

// EditImage edits source (a data URI) with an optional mask.
func (o *Orchestrator) EditImage(ctx context.Context, source, mask, prompt string) (Result, error) {
	return o.image(ctx, prompt, providers.CapabilityEdit, func(ctx context.Context, c chat.Chat) (string, error) {
		return o.dispatcher.Edit(ctx, c.Provider, providers.EditRequest{Image: source, Mask: mask, Prompt: prompt})
	})
}

func (o *Orchestrator) image(ctx context.Context, prompt string, op providers.Capability, call func(context.Context, chat.Chat) (string, error)) (Result, error) {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return Result{}, fmt.Errorf("prompt is empty")
	}
	callCtx, err := o.begin(ctx)
	if err != nil {
		return Result{}, err
	}
	defer o.end()

	c, err := o.selectedChat()
	if err != nil {
		return Result{}, err
	}
	log := o.log.With().Str("chat_id", c.ID).Str("provider", string(c.Provider)).Str("op", string(op)).Logger()

	o.session.SetError(nil)
	o.setPhase(PhaseSending)
	firstMessage := len(o.session.Messages()) == 0

	ref, err := call(callCtx, c)
	if err != nil {
		if errors.Is(err, providers.ErrCanceled) || errors.Is(err, context.Canceled) {
			o.metrics.Images.WithLabelValues(string(c.Provider), string(op), "canceled").Inc()
			o.setPhase(PhaseAborted)
			return Result{Outcome: PhaseAborted}, nil
		}
		o.metrics.Images.WithLabelValues(string(c.Provider), string(op), "error").Inc()
		o.session.SetError(err)
		o.setPhase(PhaseFailed)
		log.Error().Err(err).Msg("image request failed")
		return Result{Outcome: PhaseFailed}, err
	}

	persistCtx := context.WithoutCancel(ctx)
	if _, err := o.session.AppendMessage(persistCtx, chat.Message{ChatID: c.ID, Role: chat.RoleUser, Content: prompt}); err != nil {
		o.session.SetError(err)
		o.setPhase(PhaseFailed)
		return Result{Outcome: PhaseFailed}, err
	}
	content := fmt.Sprintf("Generated: %q", prompt)
	if op == providers.CapabilityEdit {
		content = fmt.Sprintf("Image edited with prompt: %q", prompt)
	}
	msg, err := o.session.AppendMessage(persistCtx, chat.Message{ChatID: c.ID, Role: chat.RoleAssistant, Content: content, ImageURL: ref})
	if err != nil {
		o.session.SetError(err)
		o.setPhase(PhaseFailed)
		return Result{Outcome: PhaseFailed}, err
	}
	if firstMessage && c.Title == chat.DefaultTitle {
		title := chat.DeriveTitle(prompt)
		if _, err := o.session.UpdateChat(persistCtx, c.ID, chat.ChatPatch{Title: &title}); err != nil {
			log.Warn().Err(err).Msg("failed to derive chat title")
		}
	}

	o.metrics.Images.WithLabelValues(string(c.Provider), string(op), "ok").Inc()
	o.setPhase(PhaseFinalized)
	log.Info().Msg("image stored")
	return Result{Outcome: PhaseFinalized, Message: msg}, nil
}

func (o *Orchestrator) begin(ctx context.Context) (context.Context, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.busy {
		return nil, ErrExchangeInFlight
	}
	child, cancel := context.WithCancel(ctx)
	o.busy = true
	o.cancel = cancel
	return child, nil
}

func (o *Orchestrator) end() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.cancel != nil {
		o.cancel()
	}
	o.cancel = nil
	o.busy = false
}

func (o *Orchestrator) selectedChat() (chat.Chat, error) {
	id := o.session.SelectedID()
	if id == "" {
		return chat.Chat{}, session.ErrNoChatSelected
	}
	c, ok := o.session.Chat(id)
	if !ok {
		return chat.Chat{}, fmt.Errorf("selected chat %s is not loaded", id)
	}
	return c, nil
}

// history is the selected chat's persisted messages, led by the system
// prompt when the chat has one.
func (o *Orchestrator) history(c chat.Chat) []chat.Message {
	msgs := o.session.Messages()
	if strings.TrimSpace(c.SystemPrompt) == "" {
		return msgs
	}
	out := make([]chat.Message, 0, len(msgs)+1)
	out = append(out, chat.Message{ChatID: c.ID, Role: chat.RoleSystem, Content: c.SystemPrompt})
	return append(out, msgs...)
}

func (o *Orchestrator) fail(c chat.Chat, err error, log zerolog.Logger) (Result, error) {
	o.session.AbandonStream()
	o.session.SetError(err)
	o.finish(c, PhaseFailed)
	log.Error().Err(err).Msg("exchange failed")
	return Result{Outcome: PhaseFailed}, err
}

func (o *Orchestrator) finish(c chat.Chat, outcome Phase) {
	o.metrics.Exchanges.WithLabelValues(string(c.Provider), string(outcome)).Inc()
	o.setPhase(outcome)
}

func (o *Orchestrator) setPhase(p Phase) {
	o.mu.Lock()
	o.phase = p
	o.mu.Unlock()
	o.notify(Event{Phase: p})
}

func (o *Orchestrator) notify(e Event) {
	if o.observer != nil {
		o.observer(e)
	}
}
