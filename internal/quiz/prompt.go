package quiz

import (
	"fmt"
)

const (
	MinCount     = 1
	MaxCount     = 10
	DefaultCount = 5

	// MinTextLength is the shortest extracted text a quiz is generated from.
	MinTextLength = 300
	// PromptWindow is how much of the document is shown to the model.
	PromptWindow = 8000
	// MaxTokens is the output budget of a quiz completion.
	MaxTokens = 1500
)

// ClampCount bounds a requested question count to [MinCount, MaxCount].
func ClampCount(n int) int {
	return min(max(n, MinCount), MaxCount)
}

// BuildPrompt asks for count questions as a bare JSON array over the first
// PromptWindow characters of text.
func BuildPrompt(text string, count int) string {
	return fmt.Sprintf(`Create %d multiple choice questions from this text.

Return as JSON array only:
[{"question":"What is discussed?","options":["A","B","C","D"],"correctAnswer":0,"explanation":"Why"}]

Text:
%s`, count, truncateRunes(text, PromptWindow))
}
