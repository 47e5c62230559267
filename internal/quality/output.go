package quality

import (
	"regexp"
	"strings"
)

var (
	fencePattern   = regexp.MustCompile("(?s)^\\s*```[a-zA-Z]*\\s*\\n.*\\n```\\s*$")
	headingPattern = regexp.MustCompile(`(?m)^#{1,6}\s+\S`)
)

// Report describes generated text. It never carries a rewritten copy.
type Report struct {
	WordCount int
	Headings  int
	Fenced    bool
}

type OutputInspector struct{}

func NewOutputInspector() *OutputInspector {
	return &OutputInspector{}
}

// Inspect measures text as the backend returned it.
func (OutputInspector) Inspect(text string) Report {
	return Report{
		WordCount: len(strings.Fields(text)),
		Headings:  len(headingPattern.FindAllString(text, -1)),
		Fenced:    fencePattern.MatchString(text),
	}
}
