package request

// CreateSessionRequest is the request body for creating a session
type CreateSessionRequest struct {
	DisplayName string `json:"display_name"`
}

// JoinSessionRequest is the request body for joining a session by code
type JoinSessionRequest struct {
	JoinCode    string `json:"join_code"`
	DisplayName string `json:"display_name"`
}

// Category is a caller-supplied category for a round
type Category struct {
	Name  string   `json:"name"`
	Words []string `json:"words"`
}

// StartRequest is the request body for starting a round. Category takes
// precedence over CategoryName; with neither, a random static category is
// used.
type StartRequest struct {
	CategoryName   string    `json:"category_name,omitempty"`
	Category       *Category `json:"category,omitempty"`
	RevealWordBank bool      `json:"reveal_word_bank"`
}

// SetReadyRequest is the request body for setting the ready flag
type SetReadyRequest struct {
	Ready bool `json:"ready"`
}

// GenerateCategoryRequest is the request body for generating a category
type GenerateCategoryRequest struct {
	Prompt string `json:"prompt,omitempty"`
}
