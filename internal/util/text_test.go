package util

import "testing"

func TestCountWords(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want int
	}{
		{"empty", "", 0},
		{"whitespace only", "   \n\t ", 0},
		{"single word", "hello", 1},
		{"simple sentence", "The quick brown fox", 4},
		{"irregular spacing", "  one\ttwo \n three  ", 3},
		{"punctuation attached", "Hello, world! How are you?", 5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CountWords(tt.in); got != tt.want {
				t.Errorf("CountWords(%q) = %d, want %d", tt.in, got, tt.want)
			}
		})
	}
}

func TestIsMostlyEnglish(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want bool
	}{
		{"plain english", "This is a normal English essay about daily life.", true},
		{"empty string", "", false},
		{"numbers only", "12345 67890", false},
		{"chinese text", "这是一篇完全用中文写的文章", false},
		{"mostly english with a loanword", "I visited the café and ordered a naïve croissant there.", true},
		{"half and half", "hello world 你好世界欢迎光临谢谢再见", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsMostlyEnglish(tt.in); got != tt.want {
				t.Errorf("IsMostlyEnglish(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}
