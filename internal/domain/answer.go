package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// AnswerKind tags which field of an Answer is meaningful.
type AnswerKind uint8

const (
	AnswerNone AnswerKind = iota
	AnswerChoice
	AnswerText
)

// Answer is a captured response: an option index for choice questions or
// free text for short_answer and fill_in_blank. On the wire it is a bare
// JSON number or string.
type Answer struct {
	Kind  AnswerKind
	Index int
	Text  string
}

// Choice builds an option-index answer.
func Choice(index int) Answer {
	return Answer{Kind: AnswerChoice, Index: index}
}

// Text builds a free-text answer.
func Text(text string) Answer {
	return Answer{Kind: AnswerText, Text: text}
}

// String renders the answer the way conditions compare it.
func (a Answer) String() string {
	switch a.Kind {
	case AnswerChoice:
		return strconv.Itoa(a.Index)
	case AnswerText:
		return a.Text
	default:
		return ""
	}
}

// Fits reports whether the answer shape matches the question type.
func (a Answer) Fits(q Question) bool {
	if q.Type.IsText() {
		return a.Kind == AnswerText
	}
	return a.Kind == AnswerChoice && a.Index >= 0
}

func (a Answer) MarshalJSON() ([]byte, error) {
	switch a.Kind {
	case AnswerChoice:
		return json.Marshal(a.Index)
	case AnswerText:
		return json.Marshal(a.Text)
	default:
		return []byte("null"), nil
	}
}

func (a *Answer) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case bytes.Equal(data, []byte("null")):
		*a = Answer{}
		return nil
	case len(data) > 0 && data[0] == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*a = Text(s)
		return nil
	default:
		var n int
		if err := json.Unmarshal(data, &n); err != nil {
			return fmt.Errorf("answer must be a number or string: %w", err)
		}
		*a = Choice(n)
		return nil
	}
}
