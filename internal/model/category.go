package model

// Category is the round content: a named list of candidate secret words
type Category struct {
	Name  string   `json:"name"`
	Words []string `json:"words"`
}
