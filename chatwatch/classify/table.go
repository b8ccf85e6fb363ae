package classify

import "fmt"

// Category names a semantic element group.
type Category string

const (
	Window       Category = "window"
	Container    Category = "container"
	Message      Category = "message"
	Input        Category = "input"
	Interactable Category = "interactable"
	NetworkAsset Category = "networkAsset"
)

// Rule lists the patterns for one category. Pattern order is a priority
// hint only: matches of every pattern are unioned.
type Rule struct {
	Category Category `yaml:"category" json:"category"`
	Patterns []string `yaml:"patterns" json:"patterns"`
}

// Table is the ordered selector table. Categories are evaluated in order.
type Table []Rule

// DefaultTable returns the built-in heuristics for chat front ends.
func DefaultTable() Table {
	return Table{
		{Window, []string{`body`, `[role="dialog"]`, `[class*="window"]`, `[id*="window"]`}},
		{Container, []string{
			`.max-w-3xl`, `.conversation`, `.chat-container`, `.chat-box`, `.chat-thread`,
			`[class*="chat"]`, `[class*="conversation"]`,
		}},
		{Message, []string{
			`.message-row`, `.message`, `.chat-message`, `.msg`, `.chat-entry`,
			`[class*="message"]`,
		}},
		{Input, []string{
			`input`, `textarea`, `[contenteditable]`,
			`[class*="input"]`, `[class*="box"]`, `[id*="input"]`,
		}},
		{Interactable, []string{
			`[class*="user"]`, `[class*="human"]`, `[class*="end"]`, `[id*="user"]`,
			`a`, `button`, `[role="button"]`, `[type="button"]`, `[type="submit"]`,
			`[class*="btn"]`,
		}},
		{NetworkAsset, []string{`script`, `link`, `img`, `iframe`}},
	}
}

// Validate rejects empty or duplicate category names.
func (t Table) Validate() error {
	seen := make(map[Category]bool, len(t))
	for i, r := range t {
		if r.Category == "" {
			return fmt.Errorf("classify: rule %d: empty category", i)
		}
		if seen[r.Category] {
			return fmt.Errorf("classify: duplicate category %q", r.Category)
		}
		seen[r.Category] = true
	}
	return nil
}

// Categories returns the category names in evaluation order.
func (t Table) Categories() []Category {
	out := make([]Category, len(t))
	for i, r := range t {
		out[i] = r.Category
	}
	return out
}

// Merge returns t with rules from over replacing same-named categories in
// place; new categories are appended.
func (t Table) Merge(over Table) Table {
	out := make(Table, len(t))
	copy(out, t)
	for _, r := range over {
		replaced := false
		for i := range out {
			if out[i].Category == r.Category {
				out[i] = r
				replaced = true
				break
			}
		}
		if !replaced {
			out = append(out, r)
		}
	}
	return out
}
