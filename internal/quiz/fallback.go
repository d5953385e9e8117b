package quiz

import (
	"fmt"
	"log"
	"regexp"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"pdfnotes/internal/models"
)

const (
	minSentenceLength  = 40
	maxSentenceLength  = 300
	minParagraphLength = 100
	minBlankWords      = 8
	maxBlankQuestions  = 2
	minKeywordLength   = 5
	topWordCount       = 20
	minUsableChars     = 40
)

var (
	sentenceSplit  = regexp.MustCompile(`[.!?]+`)
	paragraphSplit = regexp.MustCompile(`\n\n+`)
	nonWord        = regexp.MustCompile(`\W+`)
	whitespace     = regexp.MustCompile(`\s+`)
	digits         = regexp.MustCompile(`\d+`)
	bullets        = regexp.MustCompile(`[•\-\*]`)
)

// GenerateFallback builds up to count multiple-choice questions from the text
// alone. Output is deterministic for a given input and is never padded.
func GenerateFallback(text string, count int) []models.QuizQuestion {
	if count <= 0 || nonSpaceCount(text) < minUsableChars {
		return nil
	}

	sentences := sentencesOf(text)
	paragraphs := paragraphsOf(text)
	common := topWords(text, topWordCount)

	var questions []models.QuizQuestion

	if len(paragraphs) > 0 {
		topic := "main topic"
		if len(common) > 0 {
			topic = common[0]
		}
		questions = append(questions, models.QuizQuestion{
			Question: "What is the primary focus of this document?",
			Options: []string{
				fmt.Sprintf("Discussion about %s and related concepts", topic),
				"Historical events from ancient times",
				"Mathematical equations and formulas",
				"Fictional story and characters",
			},
			CorrectAnswer: 0,
			Explanation:   fmt.Sprintf("The document primarily discusses %s based on content analysis.", topic),
		})
	}

	for i := 0; i < min(maxBlankQuestions, len(sentences)); i++ {
		if q, ok := fillInTheBlank(sentences[i], common); ok {
			questions = append(questions, q)
		}
	}

	if len(sentences) > 0 {
		fact := sentences[0]
		if len(sentences) >= 3 {
			fact = sentences[2]
		}
		questions = append(questions, models.QuizQuestion{
			Question: "Which statement is found in the document?",
			Options: []string{
				truncateRunes(fact, 80) + "...",
				"The opposite of what is stated",
				"Information not mentioned",
				"Unrelated content",
			},
			CorrectAnswer: 0,
			Explanation:   "This statement appears directly in the document.",
		})
	}

	if len(common) > 3 {
		questions = append(questions, models.QuizQuestion{
			Question: "Which of these terms is discussed in the document?",
			Options: []string{
				common[0],
				"quantum entanglement",
				"medieval architecture",
				"abstract expressionism",
			},
			CorrectAnswer: 0,
			Explanation:   fmt.Sprintf(`"%s" is a key term in the document.`, common[0]),
		})
	}

	questions = append(questions, models.QuizQuestion{
		Question: "What format elements are present in this document?",
		Options: []string{
			structureOf(text),
			"Only images and diagrams",
			"Musical notation",
			"Programming code exclusively",
		},
		CorrectAnswer: 0,
		Explanation:   "Based on document structure analysis.",
	})

	log.Printf("quiz: built %d content-based questions", len(questions))
	if len(questions) > count {
		questions = questions[:count]
	}
	return questions
}

func fillInTheBlank(sentence string, common []string) (models.QuizQuestion, bool) {
	words := whitespace.Split(sentence, -1)
	if len(words) <= minBlankWords {
		return models.QuizQuestion{}, false
	}

	// Only the middle word is blanked; punctuation around it stays in place.
	mid := len(words) / 2
	keyword := strings.TrimFunc(words[mid], func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	if utf8.RuneCountInString(keyword) <= 1 {
		return models.QuizQuestion{}, false
	}
	blankedWords := append([]string(nil), words...)
	blankedWords[mid] = strings.Replace(words[mid], keyword, "______", 1)
	blanked := strings.Join(blankedWords, " ")

	distractors := []string{"different", "alternative", "unrelated"}
	lower := strings.ToLower(keyword)
	n := 0
	for _, w := range common {
		if n == len(distractors) {
			break
		}
		if w == lower {
			continue
		}
		distractors[n] = w
		n++
	}

	return models.QuizQuestion{
		Question:      fmt.Sprintf(`Complete the statement from the document: "%s..."`, truncateRunes(blanked, 100)),
		Options:       append([]string{keyword}, distractors...),
		CorrectAnswer: 0,
		Explanation:   fmt.Sprintf(`The correct word from the document is "%s".`, keyword),
	}, true
}

func structureOf(text string) string {
	hasNumbers := digits.MatchString(text)
	hasBullets := bullets.MatchString(text)
	switch {
	case hasNumbers && hasBullets:
		return "Both numbered and bulleted lists"
	case hasNumbers:
		return "Numbered lists or data"
	case hasBullets:
		return "Bulleted lists"
	default:
		return "Continuous text paragraphs"
	}
}

func sentencesOf(text string) []string {
	var out []string
	for _, s := range sentenceSplit.Split(text, -1) {
		s = strings.TrimSpace(s)
		n := utf8.RuneCountInString(s)
		if n > minSentenceLength && n < maxSentenceLength {
			out = append(out, s)
		}
	}
	return out
}

func paragraphsOf(text string) []string {
	var out []string
	for _, p := range paragraphSplit.Split(text, -1) {
		p = strings.TrimSpace(p)
		if utf8.RuneCountInString(p) > minParagraphLength {
			out = append(out, p)
		}
	}
	return out
}

// topWords returns the n most frequent words longer than five characters,
// ties broken by first occurrence.
func topWords(text string, n int) []string {
	type entry struct {
		word  string
		count int
		first int
	}

	index := make(map[string]int)
	var entries []entry
	for _, w := range nonWord.Split(strings.ToLower(text), -1) {
		if utf8.RuneCountInString(w) <= minKeywordLength {
			continue
		}
		if i, ok := index[w]; ok {
			entries[i].count++
			continue
		}
		index[w] = len(entries)
		entries = append(entries, entry{word: w, count: 1, first: len(entries)})
	}

	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].count != entries[j].count {
			return entries[i].count > entries[j].count
		}
		return entries[i].first < entries[j].first
	})

	out := make([]string, 0, min(n, len(entries)))
	for _, e := range entries[:min(n, len(entries))] {
		out = append(out, e.word)
	}
	return out
}

func nonSpaceCount(s string) int {
	n := 0
	for _, r := range s {
		if !unicode.IsSpace(r) {
			n++
		}
	}
	return n
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
