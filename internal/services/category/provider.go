package category

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"strings"
	"sync"

	"github.com/mcoot/outlier/internal/dependencies/random"
	"github.com/mcoot/outlier/internal/model"
)

// Generator produces a category from an optional guiding prompt
type Generator interface {
	Generate(ctx context.Context, prompt string) (model.Category, error)
}

// Provider supplies round content: a static table of categories plus an
// optional generator for custom ones
type Provider struct {
	random    random.Random
	generator Generator
	logger    *slog.Logger

	mu     sync.RWMutex
	byName map[string]model.Category
	names  []string
}

// New creates a provider loaded with the built-in categories. generator may
// be nil, in which case PickCategory fails with ErrGeneratorUnavailable.
func New(rng random.Random, generator Generator, logger *slog.Logger) *Provider {
	p := &Provider{
		random:    rng,
		generator: generator,
		logger:    logger.With(slog.String("component", "category")),
		byName:    make(map[string]model.Category),
	}
	// The built-in table is known good
	_ = p.LoadCategories(defaultCategories)
	return p
}

// LoadCategories validates and adds categories to the static table,
// replacing any existing category with the same name
func (p *Provider) LoadCategories(categories []model.Category) error {
	valid := make([]model.Category, 0, len(categories))
	for _, c := range categories {
		v, err := Validate(c)
		if err != nil {
			return fmt.Errorf("category %q: %w", c.Name, err)
		}
		valid = append(valid, v)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	for _, c := range valid {
		key := strings.ToLower(c.Name)
		if _, exists := p.byName[key]; !exists {
			p.names = append(p.names, c.Name)
		}
		p.byName[key] = c
	}
	slices.Sort(p.names)
	return nil
}

// LoadFromFile adds categories from a JSON file holding an array of
// {"name": ..., "words": [...]} objects
func (p *Provider) LoadFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	var categories []model.Category
	if err := json.Unmarshal(data, &categories); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	if err := p.LoadCategories(categories); err != nil {
		return err
	}

	p.logger.Info("loaded categories from file",
		slog.String("path", path),
		slog.Int("count", len(categories)))
	return nil
}

// Names returns the static category names, sorted
func (p *Provider) Names() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return slices.Clone(p.names)
}

// Lookup finds a static category by name, ignoring case
func (p *Provider) Lookup(name string) (model.Category, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	c, ok := p.byName[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return model.Category{}, fmt.Errorf("%w: %q", model.ErrCategoryNotFound, name)
	}
	return clone(c), nil
}

// PickRandomDefault returns a uniformly chosen static category
func (p *Provider) PickRandomDefault() model.Category {
	p.mu.RLock()
	defer p.mu.RUnlock()
	name := p.names[p.random.Intn(len(p.names))]
	return clone(p.byName[strings.ToLower(name)])
}

// PickCategory asks the generator for a category related to prompt. The
// result is validated; nothing is substituted on failure.
func (p *Provider) PickCategory(ctx context.Context, prompt string) (model.Category, error) {
	if p.generator == nil {
		return model.Category{}, model.ErrGeneratorUnavailable
	}

	c, err := p.generator.Generate(ctx, strings.TrimSpace(prompt))
	if err != nil {
		p.logger.Warn("category generation failed", slog.String("error", err.Error()))
		return model.Category{}, model.Transient(err)
	}

	valid, err := Validate(c)
	if err != nil {
		p.logger.Warn("generated category rejected",
			slog.String("name", c.Name),
			slog.Int("words", len(c.Words)),
			slog.String("error", err.Error()))
		return model.Category{}, err
	}
	return valid, nil
}

// HasGenerator reports whether custom categories can be generated
func (p *Provider) HasGenerator() bool {
	return p.generator != nil
}

func clone(c model.Category) model.Category {
	return model.Category{Name: c.Name, Words: slices.Clone(c.Words)}
}
