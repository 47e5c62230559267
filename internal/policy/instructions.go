package policy

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
)

const MaxCustomInstructions = 4000

var ErrInstructionsRejected = errors.New("custom instructions rejected")

type Violation struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type InstructionsError struct {
	Violations []Violation
}

func (e *InstructionsError) Error() string {
	if len(e.Violations) == 0 {
		return ErrInstructionsRejected.Error()
	}
	return "custom instructions rejected: " + e.Violations[0].Message
}

func (e *InstructionsError) Unwrap() error {
	return ErrInstructionsRejected
}

// NormalizeInstructions trims free-form prompt additions, strips control
// characters and enforces the length cap.
func NormalizeInstructions(value string) (string, error) {
	cleaned := strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' {
			return r
		}
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, value)
	cleaned = strings.TrimSpace(cleaned)

	violations := make([]Violation, 0, 1)
	if count := len([]rune(cleaned)); count > MaxCustomInstructions {
		violations = append(violations, Violation{
			Code:    "too_long",
			Message: fmt.Sprintf("must be at most %d characters, got %d", MaxCustomInstructions, count),
		})
	}
	if len(violations) > 0 {
		return "", &InstructionsError{Violations: violations}
	}
	return cleaned, nil
}
