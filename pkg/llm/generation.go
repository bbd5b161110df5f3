package llm

import (
	"fmt"
	"strings"
)

// ConceptCandidate is one atomic knowledge unit proposed by the generation
// service during concept synthesis. Untrusted until Validate passes.
type ConceptCandidate struct {
	Title       string `json:"title"`
	Description string `json:"description"`
}

// MinTitleLength is the shortest normalized title accepted from the
// generation service; shorter candidates are skipped, not failed.
const MinTitleLength = 3

// Validate checks the candidate's shape. Malformed candidates are dropped
// at the boundary rather than propagated into scheduling.
func (c ConceptCandidate) Validate() error {
	if len(strings.TrimSpace(c.Title)) < MinTitleLength {
		return fmt.Errorf("title %q shorter than %d characters", c.Title, MinTitleLength)
	}
	return nil
}

// PhrasingCandidate is one testable rendering proposed by the generation
// service during phrasing generation.
type PhrasingCandidate struct {
	Question      string   `json:"question"`
	Explanation   string   `json:"explanation"`
	Type          string   `json:"type"`
	Options       []string `json:"options"`
	CorrectAnswer string   `json:"correctAnswer"`
}

// Validate checks the candidate against the phrasing schema. Partial
// validation failures are expected: the caller counts generated and saved
// phrasings separately.
func (p PhrasingCandidate) Validate() error {
	if strings.TrimSpace(p.Question) == "" {
		return fmt.Errorf("question is empty")
	}
	if strings.TrimSpace(p.CorrectAnswer) == "" {
		return fmt.Errorf("correct answer is empty")
	}

	switch p.Type {
	case "multiple_choice":
		if len(p.Options) < 2 {
			return fmt.Errorf("multiple_choice needs at least 2 options, got %d", len(p.Options))
		}
		for _, opt := range p.Options {
			if strings.EqualFold(strings.TrimSpace(opt), strings.TrimSpace(p.CorrectAnswer)) {
				return nil
			}
		}
		return fmt.Errorf("correct answer %q not among options", p.CorrectAnswer)
	case "true_false":
		answer := strings.ToLower(strings.TrimSpace(p.CorrectAnswer))
		if answer != "true" && answer != "false" {
			return fmt.Errorf("true_false answer %q must be true or false", p.CorrectAnswer)
		}
		return nil
	default:
		return fmt.Errorf("unknown phrasing type %q", p.Type)
	}
}
