// Package openai generates custom categories with an OpenAI chat model.
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/mcoot/outlier/internal/model"
	"github.com/mcoot/outlier/internal/services/category"
)

const (
	systemPrompt = "You are a creative assistant generating content for a word game."

	basePrompt = "Generate a creative category for a word guessing game called Outlier. " +
		"Return a JSON object with 'category' (the name of the category) and 'words' " +
		"(an array of exactly 30 interesting words or phrases that belong to this category). " +
		"The words should be recognizable by most people, but can be specific to the category. " +
		"Make sure all items are related to the category. " +
		"Return ONLY the JSON object without any explanation or additional text."
)

// Models sometimes wrap the object in prose or code fences
var jsonObject = regexp.MustCompile(`(?s)\{.*\}`)

// Generator implements category.Generator against the chat completions API
type Generator struct {
	client oai.Client
	cfg    Config
}

var _ category.Generator = (*Generator)(nil)

// New creates a generator. The API key is required.
func New(cfg Config) (*Generator, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("openai api key is required")
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(cfg.MaxRetries),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.Timeout > 0 {
		opts = append(opts, option.WithRequestTimeout(cfg.Timeout))
	}

	return &Generator{
		client: oai.NewClient(opts...),
		cfg:    cfg,
	}, nil
}

// UserPrompt builds the request text, steering the topic when prompt is set
func UserPrompt(prompt string) string {
	if prompt == "" {
		return basePrompt
	}
	return basePrompt + " The category should be related to: " + prompt
}

// Generate asks the model for a category. Transport and API failures are
// transient; unusable replies are invalid.
func (g *Generator) Generate(ctx context.Context, prompt string) (model.Category, error) {
	resp, err := g.client.Chat.Completions.New(ctx, oai.ChatCompletionNewParams{
		Model: oai.ChatModel(g.cfg.Model),
		Messages: []oai.ChatCompletionMessageParamUnion{
			oai.SystemMessage(systemPrompt),
			oai.UserMessage(UserPrompt(prompt)),
		},
		Temperature: oai.Float(g.cfg.Temperature),
	})
	if err != nil {
		return model.Category{}, model.Transient(fmt.Errorf("chat completion: %w", err))
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return model.Category{}, fmt.Errorf("%w: empty completion", model.ErrInvalidCategory)
	}

	return ParseCategory(resp.Choices[0].Message.Content)
}

type generated struct {
	Category string   `json:"category"`
	Words    []string `json:"words"`
}

// ParseCategory extracts the first JSON object from a model reply and
// validates it
func ParseCategory(content string) (model.Category, error) {
	raw := jsonObject.FindString(content)
	if raw == "" {
		return model.Category{}, fmt.Errorf("%w: no JSON object in reply", model.ErrInvalidCategory)
	}

	var g generated
	if err := json.Unmarshal([]byte(raw), &g); err != nil {
		return model.Category{}, fmt.Errorf("%w: %v", model.ErrInvalidCategory, err)
	}
	return category.Validate(model.Category{Name: g.Category, Words: g.Words})
}
