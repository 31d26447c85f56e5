package service

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestExtractAssessmentJSON(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantKey string
		wantVal interface{}
		wantErr string
	}{
		{
			name:    "plain json",
			content: `{"overall_score": 85.5, "feedback_summary": "Good work"}`,
			wantKey: "overall_score",
			wantVal: 85.5,
		},
		{
			name:    "json wrapped in prose",
			content: "Here is my assessment:\n{\"overall_score\": 70}\nLet me know if you need more.",
			wantKey: "overall_score",
			wantVal: 70.0,
		},
		{
			name:    "fenced code block with noise braces",
			content: "The candidate {unfortunately} struggled.\n```json\n{\"overall_score\": 60}\n```\nEnd {of report}.",
			wantKey: "overall_score",
			wantVal: 60.0,
		},
		{
			name:    "no json at all",
			content: "I cannot assess this submission.",
			wantErr: "no JSON object found in AI response",
		},
		{
			name:    "braces but unparseable",
			content: "score is {not: valid json here",
			wantErr: "no JSON object found in AI response",
		},
		{
			name:    "broken json inside braces",
			content: `{"overall_score": }`,
			wantErr: "failed to parse JSON from AI response",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := extractAssessmentJSON(tt.content)
			if tt.wantErr != "" {
				if err == nil {
					t.Fatalf("expected error containing %q, got result %v", tt.wantErr, got)
				}
				if !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("error = %q, want containing %q", err.Error(), tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got[tt.wantKey] != tt.wantVal {
				t.Errorf("got[%q] = %v, want %v", tt.wantKey, got[tt.wantKey], tt.wantVal)
			}
		})
	}
}

func TestExtractAssessmentJSONTrimsWhitespace(t *testing.T) {
	content := "{\"overall_score\": 90}"
	got, err := extractAssessmentJSON("\n  " + content + "  \n")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got["overall_score"] != 90.0 {
		t.Errorf("overall_score = %v, want 90", got["overall_score"])
	}
}

func TestExcerptTruncatesLongContent(t *testing.T) {
	long := strings.Repeat("a", 300)
	got := excerpt(long)
	if len(got) != rawExcerptLimit+3 {
		t.Errorf("excerpt length = %d, want %d", len(got), rawExcerptLimit+3)
	}
	if !strings.HasSuffix(got, "...") {
		t.Errorf("excerpt should end with ellipsis, got %q", got[len(got)-10:])
	}

	short := "short content"
	if excerpt(short) != short {
		t.Errorf("short content should pass through unchanged")
	}
}

func TestExcerptKeepsUTF8Valid(t *testing.T) {
	// 截断点正好落在多字节字符中间的输入
	long := strings.Repeat("评", rawExcerptLimit)
	got := excerpt(long)
	if !utf8.ValidString(got) {
		t.Errorf("excerpt produced invalid UTF-8: %q", got)
	}
	if !strings.HasSuffix(got, "...") {
		t.Errorf("excerpt should end with ellipsis, got %q", got)
	}
	if len(got) > rawExcerptLimit+3 {
		t.Errorf("excerpt length = %d, want at most %d", len(got), rawExcerptLimit+3)
	}
}
