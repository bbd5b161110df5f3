// Package prompts builds the prompts sent to the content-generation
// service during the two generation stages.
package prompts

import (
	"fmt"
	"strings"
)

// ConceptSynthesisSystemMessage frames the concept-synthesis call.
const ConceptSynthesisSystemMessage = `You are a learning-content designer. You break a learner's request down into small, atomic, independently testable knowledge units called concepts. Respond with JSON only.`

// PhrasingGenerationSystemMessage frames the phrasing-generation call.
const PhrasingGenerationSystemMessage = `You are a quiz author. You write clear, unambiguous questions that test exactly one concept. Respond with JSON only.`

// BuildConceptSynthesisPrompt creates the Stage-A prompt: turn the
// learner's free-text request into up to maxConcepts atomic concepts.
func BuildConceptSynthesisPrompt(request string, maxConcepts int) string {
	var prompt strings.Builder

	prompt.WriteString("# Concept Synthesis\n\n")
	prompt.WriteString("A learner wants to study the following:\n\n")
	prompt.WriteString(fmt.Sprintf("> %s\n\n", strings.TrimSpace(request)))
	prompt.WriteString(fmt.Sprintf("Break this down into at most %d atomic concepts.\n\n", maxConcepts))
	prompt.WriteString("Rules:\n")
	prompt.WriteString("- Each concept covers exactly one fact, definition, mechanism, or relationship.\n")
	prompt.WriteString("- Titles are short noun phrases (3-80 characters), no numbering.\n")
	prompt.WriteString("- Descriptions are one or two sentences a learner can study from.\n")
	prompt.WriteString("- Do not repeat concepts or produce overlapping titles.\n\n")
	prompt.WriteString("Respond with a JSON array:\n")
	prompt.WriteString(`[{"title": "...", "description": "..."}]`)
	prompt.WriteString("\n")

	return prompt.String()
}

// BuildPhrasingGenerationPrompt creates the Stage-B prompt: write
// targetCount testable phrasings for one concept.
func BuildPhrasingGenerationPrompt(title, description string, targetCount int) string {
	var prompt strings.Builder

	prompt.WriteString("# Question Writing\n\n")
	prompt.WriteString(fmt.Sprintf("Concept: %s\n", title))
	if strings.TrimSpace(description) != "" {
		prompt.WriteString(fmt.Sprintf("Details: %s\n", description))
	}
	prompt.WriteString(fmt.Sprintf("\nWrite %d different phrasings that each test this concept.\n\n", targetCount))
	prompt.WriteString("Rules:\n")
	prompt.WriteString("- Allowed types: \"multiple_choice\" (3-5 options, exactly one correct) and \"true_false\".\n")
	prompt.WriteString("- For multiple_choice the correctAnswer must appear verbatim in options.\n")
	prompt.WriteString("- For true_false the correctAnswer is \"True\" or \"False\" and options may be empty.\n")
	prompt.WriteString("- Vary the angle of attack across phrasings; do not reword the same question.\n")
	prompt.WriteString("- The explanation states why the correct answer is correct.\n\n")
	prompt.WriteString("Respond with a JSON array:\n")
	prompt.WriteString(`[{"question": "...", "explanation": "...", "type": "multiple_choice", "options": ["..."], "correctAnswer": "..."}]`)
	prompt.WriteString("\n")

	return prompt.String()
}
