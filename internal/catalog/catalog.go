// Package catalog is the read-only registry of models each provider serves.
package catalog

import (
	_ "embed"
	"errors"
	"fmt"
	"sync"

	"github.com/goccy/go-yaml"

	"multichat/internal/chat"
)

var (
	ErrUnknownModel  = errors.New("unknown model")
	ErrModelMismatch = errors.New("model does not match provider or chat type")
)

//go:embed models.yaml
var modelsYAML []byte

type Model struct {
	ID         string        `yaml:"id"`
	Name       string        `yaml:"name"`
	Provider   chat.Provider `yaml:"provider"`
	Types      []chat.Type   `yaml:"types"`
	ImageInput bool          `yaml:"image_input"`
}

func (m Model) Supports(t chat.Type) bool {
	for _, have := range m.Types {
		if have == t {
			return true
		}
	}
	return false
}

type Catalog struct {
	models []Model
	byID   map[string]Model
}

var (
	once     sync.Once
	defaults *Catalog
)

// Default returns the catalog compiled into the binary.
func Default() *Catalog {
	once.Do(func() {
		c, err := Parse(modelsYAML)
		if err != nil {
			panic(fmt.Sprintf("embedded model catalog: %v", err))
		}
		defaults = c
	})
	return defaults
}

func Parse(raw []byte) (*Catalog, error) {
	var doc struct {
		Models []Model `yaml:"models"`
	}
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode catalog: %w", err)
	}

	c := &Catalog{byID: make(map[string]Model, len(doc.Models))}
	for _, m := range doc.Models {
		if m.ID == "" {
			return nil, fmt.Errorf("catalog entry without id")
		}
		if !m.Provider.Valid() {
			return nil, fmt.Errorf("model %q: unknown provider %q", m.ID, m.Provider)
		}
		if _, dup := c.byID[m.ID]; dup {
			return nil, fmt.Errorf("duplicate model %q", m.ID)
		}
		c.models = append(c.models, m)
		c.byID[m.ID] = m
	}
	return c, nil
}

func (c *Catalog) Lookup(id string) (Model, bool) {
	m, ok := c.byID[id]
	return m, ok
}

func (c *Catalog) Models() []Model {
	out := make([]Model, len(c.models))
	copy(out, c.models)
	return out
}

// For lists the models of provider p that support chat type t.
func (c *Catalog) For(p chat.Provider, t chat.Type) []Model {
	out := make([]Model, 0)
	for _, m := range c.models {
		if m.Provider == p && m.Supports(t) {
			out = append(out, m)
		}
	}
	return out
}

// Validate checks that model belongs to provider and supports chat type t.
func (c *Catalog) Validate(p chat.Provider, model string, t chat.Type) error {
	m, ok := c.Lookup(model)
	if !ok {
		return fmt.Errorf("%w %q", ErrUnknownModel, model)
	}
	if m.Provider != p || !m.Supports(t) {
		return fmt.Errorf("%w: %s is a %s model, chat wants %s/%s", ErrModelMismatch, model, m.Provider, p, t)
	}
	return nil
}

func (c *Catalog) SupportsImageInput(model string) bool {
	m, ok := c.Lookup(model)
	return ok && m.ImageInput
}
