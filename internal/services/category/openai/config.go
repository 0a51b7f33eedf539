package openai

import "time"

// Config holds OpenAI client settings for category generation
type Config struct {
	APIKey string

	// BaseURL overrides the API endpoint (e.g. a proxy or a test server)
	BaseURL string

	Model       string
	Temperature float64

	MaxRetries int
	Timeout    time.Duration
}

// DefaultConfig returns sensible defaults for category generation
func DefaultConfig() Config {
	return Config{
		Model:       "gpt-4",
		Temperature: 0.8,
		MaxRetries:  2,
		Timeout:     30 * time.Second,
	}
}
