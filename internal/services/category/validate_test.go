package category

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcoot/outlier/internal/model"
)

func TestValidate(t *testing.T) {
	tests := []struct {
		name      string
		input     model.Category
		wantErr   bool
		wantName  string
		wantWords int
	}{
		{
			name:      "exactly minimum",
			input:     model.Category{Name: "Things", Words: words(MinWords)},
			wantName:  "Things",
			wantWords: MinWords,
		},
		{
			name:      "truncates long lists",
			input:     model.Category{Name: "Things", Words: words(MaxWords + 5)},
			wantName:  "Things",
			wantWords: MaxWords,
		},
		{
			name:      "trims name",
			input:     model.Category{Name: "  Things\n", Words: words(10)},
			wantName:  "Things",
			wantWords: 10,
		},
		{
			name:    "blank words do not count",
			input:   model.Category{Name: "Things", Words: append(words(MinWords-1), " ", "")},
			wantErr: true,
		},
		{
			name:    "too few words",
			input:   model.Category{Name: "Things", Words: words(3)},
			wantErr: true,
		},
		{
			name:    "empty name",
			input:   model.Category{Name: "   ", Words: words(10)},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Validate(tt.input)
			if tt.wantErr {
				assert.ErrorIs(t, err, model.ErrInvalidCategory)
				assert.ErrorIs(t, err, model.ErrInvalid)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantName, got.Name)
			assert.Len(t, got.Words, tt.wantWords)
		})
	}
}

func TestValidateTrimsWords(t *testing.T) {
	input := model.Category{Name: "Things", Words: append([]string{"  Padded  "}, words(MinWords)...)}

	got, err := Validate(input)
	require.NoError(t, err)
	assert.Equal(t, "Padded", got.Words[0])
}
