package quality

import "testing"

func TestInspectCountsWordsAndHeadings(t *testing.T) {
	report := NewOutputInspector().Inspect("## Title\r\n\r\nBody text here\n\n### Next\nmore")
	if report.WordCount != 8 {
		t.Fatalf("expected 8 words, got %d", report.WordCount)
	}
	if report.Headings != 2 {
		t.Fatalf("expected 2 headings, got %d", report.Headings)
	}
	if report.Fenced {
		t.Fatalf("expected unfenced text")
	}
}

func TestInspectFlagsWholeResponseFence(t *testing.T) {
	report := NewOutputInspector().Inspect("```markdown\n## Title\n\n\n\nBody text here\n```")
	if !report.Fenced {
		t.Fatalf("expected fenced response to be flagged")
	}
	if report.WordCount != 7 {
		t.Fatalf("expected 7 words, got %d", report.WordCount)
	}
}

func TestInspectShortAnswer(t *testing.T) {
	report := NewOutputInspector().Inspect("Short answer")
	if report.WordCount != 2 || report.Headings != 0 {
		t.Fatalf("unexpected report %+v", report)
	}
}
