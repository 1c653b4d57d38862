// Package quizbank loads quizzes from YAML.
package quizbank

import (
	"errors"
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"voice-interaction-engine/internal/schema"
	"voice-interaction-engine/internal/voice"
)

// DefaultQuizID names the built-in quiz.
const DefaultQuizID = "default"

var ErrQuizNotFound = errors.New("quiz not found")

// Question is one quiz entry as written in the bank file.
type Question struct {
	Prompt string `yaml:"prompt" json:"prompt" validate:"required"`
	Answer string `yaml:"answer" json:"answer" validate:"required"`
	Match  string `yaml:"match,omitempty" json:"match,omitempty" validate:"omitempty,oneof=substring case_insensitive_substring phonetic"`
}

type Quiz struct {
	ID        string     `yaml:"id" json:"id" validate:"required"`
	Title     string     `yaml:"title" json:"title"`
	Questions []Question `yaml:"questions" json:"questions" validate:"required,min=1,dive"`
}

type file struct {
	Quizzes []Quiz `yaml:"quizzes" validate:"dive"`
}

// Bank is an immutable set of quizzes keyed by id.
type Bank struct {
	quizzes map[string]Quiz
}

// Default returns a bank holding only the built-in quiz.
func Default() *Bank {
	return &Bank{quizzes: map[string]Quiz{DefaultQuizID: defaultQuiz()}}
}

func defaultQuiz() Quiz {
	return Quiz{
		ID:    DefaultQuizID,
		Title: "General knowledge",
		Questions: []Question{
			{Prompt: "What is 2 plus 2?", Answer: "four"},
			{Prompt: "What is the capital of France?", Answer: "paris"},
			{Prompt: "How many legs does a spider have?", Answer: "eight"},
		},
	}
}

// Load reads the bank at path. An empty path returns the built-in bank.
// The built-in quiz is kept unless the file defines its own "default".
func Load(path string) (*Bank, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read quiz bank: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates a YAML quiz bank.
func Parse(data []byte) (*Bank, error) {
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse quiz bank: %w", err)
	}

	v := schema.New()
	b := Default()
	seen := make(map[string]bool, len(f.Quizzes))
	for i, q := range f.Quizzes {
		if err := v.Validate(q); err != nil {
			return nil, fmt.Errorf("quiz %d: %w", i, err)
		}
		if seen[q.ID] {
			return nil, fmt.Errorf("quiz %q: duplicate id", q.ID)
		}
		for j, qq := range q.Questions {
			if _, err := voice.ParseMatchPolicy(qq.Match); err != nil {
				return nil, fmt.Errorf("quiz %q question %d: %w", q.ID, j, err)
			}
		}
		seen[q.ID] = true
		b.quizzes[q.ID] = q
	}
	return b, nil
}

// Get returns the quiz with the given id. An empty id selects the default.
func (b *Bank) Get(id string) (Quiz, error) {
	if id == "" {
		id = DefaultQuizID
	}
	q, ok := b.quizzes[id]
	if !ok {
		return Quiz{}, fmt.Errorf("%w: %q", ErrQuizNotFound, id)
	}
	return q, nil
}

// List returns all quizzes sorted by id.
func (b *Bank) List() []Quiz {
	out := make([]Quiz, 0, len(b.quizzes))
	for _, q := range b.quizzes {
		out = append(out, q)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// VoiceQuestions converts the quiz to controller input.
func (q Quiz) VoiceQuestions() []voice.QuizQuestion {
	out := make([]voice.QuizQuestion, len(q.Questions))
	for i, qq := range q.Questions {
		policy, _ := voice.ParseMatchPolicy(qq.Match)
		out[i] = voice.QuizQuestion{
			Prompt:         qq.Prompt,
			ExpectedAnswer: qq.Answer,
			MatchPolicy:    policy,
		}
	}
	return out
}
