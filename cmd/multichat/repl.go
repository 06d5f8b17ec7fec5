package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"

	"multichat/internal/chat"
	"multichat/internal/credentials"
	"multichat/internal/exchange"
	"multichat/internal/providers"
	"multichat/internal/providers/registry"
	"multichat/internal/session"
)

const helpText = `commands:
  /chats                               list chats
  /new <provider> <model> [text|image] create and select a chat
  /select <n|id>                       select a chat
  /delete <n|id>                       delete a chat
  /title <text>                        rename the selected chat
  /system <text>                       set the system prompt ("-" clears it)
  /model <provider> <model>            switch the selected chat's model
  /models [provider]                   list catalog models
  /key <provider> [secret]             save or clear an API key
  /attach <path|url>                   attach an image to the next message
  /image <prompt>                      generate an image
  /edit <path> <prompt>                edit an image
  /history                             print the selected chat
  /quit                                exit
anything else is sent to the selected chat`

var errQuit = errors.New("quit")

type replConfig struct {
	Session     *session.Session
	Credentials *credentials.Store
	In          io.Reader
	Out         io.Writer
}

// repl is the line-oriented driver over the session and orchestrator.
type repl struct {
	session *session.Session
	creds   *credentials.Store
	orch    *exchange.Orchestrator
	in      io.Reader
	out     io.Writer

	attachment string
}

func newREPL(cfg replConfig) *repl {
	return &repl{
		session: cfg.Session,
		creds:   cfg.Credentials,
		in:      cfg.In,
		out:     cfg.Out,
	}
}

// observe prints streamed chunks as they arrive.
func (r *repl) observe(e exchange.Event) {
	switch e.Phase {
	case exchange.PhaseStreaming:
		if e.Chunk != "" {
			fmt.Fprint(r.out, e.Chunk)
		}
	case exchange.PhaseFinalized, exchange.PhaseAborted, exchange.PhaseFailed:
		fmt.Fprintln(r.out)
	}
}

func (r *repl) Run(ctx context.Context) error {
	fmt.Fprintln(r.out, "multichat, /help for commands")
	scanner := bufio.NewScanner(r.in)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for {
		if ctx.Err() != nil {
			return nil
		}
		fmt.Fprint(r.out, r.prompt())
		if !scanner.Scan() {
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		err := r.handle(ctx, line)
		if errors.Is(err, errQuit) {
			return nil
		}
		if err != nil {
			fmt.Fprintf(r.out, "error: %s\n", r.redact(err))
		}
	}
}

func (r *repl) prompt() string {
	if c, ok := r.session.Chat(r.session.SelectedID()); ok {
		return fmt.Sprintf("[%s %s/%s]> ", c.Title, c.Provider, c.Model)
	}
	return "> "
}

func (r *repl) handle(ctx context.Context, line string) error {
	if !strings.HasPrefix(line, "/") {
		return r.send(ctx, line)
	}
	cmd, rest, _ := strings.Cut(line, " ")
	rest = strings.TrimSpace(rest)
	args := strings.Fields(rest)

	switch cmd {
	case "/help":
		fmt.Fprintln(r.out, helpText)
	case "/quit", "/exit":
		return errQuit
	case "/chats":
		r.printChats()
	case "/new":
		return r.newChat(ctx, args)
	case "/select":
		id, err := r.chatRef(args)
		if err != nil {
			return err
		}
		if err := r.session.SelectChat(ctx, id); err != nil {
			return err
		}
		r.attachment = ""
		r.printHistory()
	case "/delete":
		id, err := r.chatRef(args)
		if err != nil {
			return err
		}
		if err := r.session.DeleteChat(ctx, id); err != nil {
			return err
		}
		fmt.Fprintln(r.out, "deleted")
	case "/title":
		if rest == "" {
			return fmt.Errorf("usage: /title <text>")
		}
		return r.patch(ctx, chat.ChatPatch{Title: &rest})
	case "/system":
		prompt := rest
		if prompt == "-" {
			prompt = ""
		}
		return r.patch(ctx, chat.ChatPatch{SystemPrompt: &prompt})
	case "/model":
		if len(args) != 2 {
			return fmt.Errorf("usage: /model <provider> <model>")
		}
		p := chat.Provider(args[0])
		return r.patch(ctx, chat.ChatPatch{Provider: &p, Model: &args[1]})
	case "/models":
		r.printModels(args)
	case "/key":
		return r.setKey(ctx, args)
	case "/attach":
		if rest == "" {
			r.attachment = ""
			fmt.Fprintln(r.out, "attachment cleared")
			return nil
		}
		ref, err := imageRef(rest)
		if err != nil {
			return err
		}
		r.attachment = ref
		fmt.Fprintln(r.out, "attached")
	case "/image":
		if rest == "" {
			return fmt.Errorf("usage: /image <prompt>")
		}
		return r.generate(ctx, rest)
	case "/edit":
		if len(args) < 2 {
			return fmt.Errorf("usage: /edit <path> <prompt>")
		}
		source, err := imageRef(args[0])
		if err != nil {
			return err
		}
		res, err := r.orch.EditImage(ctx, source, "", strings.TrimSpace(strings.TrimPrefix(rest, args[0])))
		if err != nil {
			return err
		}
		fmt.Fprintln(r.out, res.Message.ImageURL)
	case "/history":
		r.printHistory()
	default:
		return fmt.Errorf("unknown command %s, try /help", cmd)
	}
	return nil
}

func (r *repl) send(ctx context.Context, text string) error {
	c, ok := r.session.Chat(r.session.SelectedID())
	if !ok {
		return session.ErrNoChatSelected
	}
	if c.Type == chat.TypeImage {
		return r.generate(ctx, text)
	}
	if r.attachment != "" && !r.session.Catalog().SupportsImageInput(c.Model) {
		fmt.Fprintf(r.out, "note: %s may ignore image input\n", c.Model)
	}

	res, err := r.orch.Send(ctx, text, r.attachment)
	if err != nil {
		return err
	}
	r.attachment = ""
	if res.Outcome == exchange.PhaseAborted {
		fmt.Fprintln(r.out, "(stopped)")
	}
	return nil
}

func (r *repl) generate(ctx context.Context, prompt string) error {
	res, err := r.orch.GenerateImage(ctx, prompt)
	if err != nil {
		return err
	}
	fmt.Fprintln(r.out, shorten(res.Message.ImageURL, 120))
	return nil
}

func (r *repl) newChat(ctx context.Context, args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: /new <provider> <model> [text|image]")
	}
	in := session.NewChat{Provider: chat.Provider(args[0]), Model: args[1], Type: chat.TypeText}
	if len(args) > 2 {
		in.Type = chat.Type(args[2])
	}
	c, err := r.session.CreateChat(ctx, in)
	if err != nil {
		return err
	}
	r.attachment = ""
	if _, ok := r.creds.Credential(c.Provider); !ok {
		fmt.Fprintf(r.out, "note: no API key for %s, set one with /key\n", c.Provider)
	}
	fmt.Fprintf(r.out, "created %s\n", c.ID)
	return nil
}

func (r *repl) patch(ctx context.Context, p chat.ChatPatch) error {
	id := r.session.SelectedID()
	if id == "" {
		return session.ErrNoChatSelected
	}
	_, err := r.session.UpdateChat(ctx, id, p)
	return err
}

func (r *repl) setKey(ctx context.Context, args []string) error {
	if len(args) == 0 {
		configured := r.creds.Configured()
		names := make([]string, 0, len(configured))
		for _, p := range configured {
			names = append(names, string(p))
		}
		fmt.Fprintf(r.out, "configured: %s\n", strings.Join(names, ", "))
		return nil
	}
	secret := ""
	if len(args) > 1 {
		secret = args[1]
	}
	if err := r.creds.Set(ctx, chat.Provider(args[0]), secret); err != nil {
		return err
	}
	if secret == "" {
		fmt.Fprintf(r.out, "cleared key for %s\n", args[0])
	} else {
		fmt.Fprintf(r.out, "saved key for %s\n", args[0])
	}
	return nil
}

// chatRef resolves a 1-based list position or a chat id.
func (r *repl) chatRef(args []string) (string, error) {
	if len(args) != 1 {
		return "", fmt.Errorf("expected a chat number or id")
	}
	chats := r.session.Chats()
	if n, err := strconv.Atoi(args[0]); err == nil {
		if n < 1 || n > len(chats) {
			return "", fmt.Errorf("no chat #%d", n)
		}
		return chats[n-1].ID, nil
	}
	for _, c := range chats {
		if c.ID == args[0] {
			return c.ID, nil
		}
	}
	return "", fmt.Errorf("no chat %q", args[0])
}

func (r *repl) printChats() {
	chats := r.session.Chats()
	if len(chats) == 0 {
		fmt.Fprintln(r.out, "no chats yet, create one with /new")
		return
	}
	selected := r.session.SelectedID()
	for i, c := range chats {
		mark := " "
		if c.ID == selected {
			mark = "*"
		}
		fmt.Fprintf(r.out, "%s%2d. %s (%s, %s/%s)\n", mark, i+1, c.Title, c.Type, c.Provider, c.Model)
	}
}

func (r *repl) printModels(args []string) {
	cat := r.session.Catalog()
	for _, p := range chat.Providers() {
		if len(args) > 0 && string(p) != args[0] {
			continue
		}
		caps := registry.Capabilities(p)
		names := make([]string, 0, len(caps))
		for _, c := range caps {
			names = append(names, string(c))
		}
		fmt.Fprintf(r.out, "%s (%s)\n", p, strings.Join(names, ", "))
		for _, m := range cat.Models() {
			if m.Provider != p {
				continue
			}
			fmt.Fprintf(r.out, "  %-28s %s\n", m.ID, m.Name)
		}
	}
}

func (r *repl) printHistory() {
	for _, m := range r.session.View() {
		line := m.Content
		if m.ImageURL != "" {
			line += " [image " + shorten(m.ImageURL, 60) + "]"
		}
		fmt.Fprintf(r.out, "%s: %s\n", m.Role, line)
	}
	if err := r.session.Err(); err != nil {
		fmt.Fprintf(r.out, "last error: %s\n", r.redact(err))
	}
}

// redact masks every known API key in err's text.
func (r *repl) redact(err error) string {
	var secrets []string
	for _, p := range chat.Providers() {
		if key, ok := r.creds.Credential(p); ok {
			secrets = append(secrets, key)
		}
	}
	return redactSecrets(err, secrets)
}

func redactSecrets(err error, secrets []string) string {
	if err == nil {
		return ""
	}
	msg := err.Error()
	for _, s := range secrets {
		if len(strings.TrimSpace(s)) < 4 {
			continue
		}
		msg = strings.ReplaceAll(msg, s, "<redacted-key>")
	}
	return msg
}

// imageRef turns a URL or a local file into something a provider accepts.
func imageRef(ref string) (string, error) {
	if strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://") || strings.HasPrefix(ref, "data:") {
		return ref, nil
	}
	data, err := os.ReadFile(ref)
	if err != nil {
		return "", fmt.Errorf("read image: %w", err)
	}
	mime := http.DetectContentType(data)
	if !strings.HasPrefix(mime, "image/") {
		return "", fmt.Errorf("%s is not an image (%s)", ref, mime)
	}
	return providers.EncodeDataURI(mime, data), nil
}

func shorten(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "…"
}
