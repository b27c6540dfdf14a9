package model

// Recipe is an illustrative suggestion returned alongside an analysis.
// Steps are in execution order.
type Recipe struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Ingredients []string `json:"ingredients"`
	Steps       []string `json:"steps"`
}
