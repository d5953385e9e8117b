package quiz

import (
	"math"
	"unicode/utf8"

	"pdfnotes/internal/models"
)

const (
	OptionCount       = 4
	minQuestionLength = 10
	minOptionLength   = 1
)

// Validate keeps the well-formed candidates, in order, up to limit.
// Malformed entries are dropped, never repaired.
func Validate(candidates []any, limit int) []models.QuizQuestion {
	out := make([]models.QuizQuestion, 0, min(len(candidates), max(limit, 0)))
	for _, c := range candidates {
		if len(out) >= limit {
			break
		}
		if q, ok := validateOne(c); ok {
			out = append(out, q)
		}
	}
	return out
}

func validateOne(c any) (models.QuizQuestion, bool) {
	obj, ok := c.(map[string]any)
	if !ok {
		return models.QuizQuestion{}, false
	}

	question, ok := obj["question"].(string)
	if !ok || utf8.RuneCountInString(question) <= minQuestionLength {
		return models.QuizQuestion{}, false
	}

	rawOptions, ok := obj["options"].([]any)
	if !ok || len(rawOptions) != OptionCount {
		return models.QuizQuestion{}, false
	}
	options := make([]string, 0, OptionCount)
	for _, o := range rawOptions {
		s, ok := o.(string)
		if !ok || utf8.RuneCountInString(s) <= minOptionLength {
			return models.QuizQuestion{}, false
		}
		options = append(options, s)
	}

	answer, ok := obj["correctAnswer"].(float64)
	if !ok || answer != math.Trunc(answer) || answer < 0 || answer >= OptionCount {
		return models.QuizQuestion{}, false
	}

	explanation, _ := obj["explanation"].(string)

	return models.QuizQuestion{
		Question:      question,
		Options:       options,
		CorrectAnswer: int(answer),
		Explanation:   explanation,
	}, true
}
