package category

import (
	"fmt"
	"strings"

	"github.com/mcoot/outlier/internal/model"
)

const (
	// MinWords is the smallest word bank a round can be played with
	MinWords = 8
	// MaxWords is the largest word bank kept; longer lists are truncated
	MaxWords = 30
)

// Validate normalizes a category: names and words are trimmed, blank words
// dropped and the list truncated to MaxWords. Short lists are rejected,
// never padded.
func Validate(c model.Category) (model.Category, error) {
	name := strings.TrimSpace(c.Name)
	if name == "" {
		return model.Category{}, fmt.Errorf("%w: name is required", model.ErrInvalidCategory)
	}

	words := make([]string, 0, len(c.Words))
	for _, w := range c.Words {
		w = strings.TrimSpace(w)
		if w == "" {
			continue
		}
		words = append(words, w)
		if len(words) == MaxWords {
			break
		}
	}
	if len(words) < MinWords {
		return model.Category{}, fmt.Errorf("%w: %d words, need at least %d", model.ErrInvalidCategory, len(words), MinWords)
	}

	return model.Category{Name: name, Words: words}, nil
}
