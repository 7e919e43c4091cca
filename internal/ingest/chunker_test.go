package ingest

import (
	"fmt"
	"strings"
	"testing"
)

func wordText(n int) string {
	words := make([]string, n)
	for i := range words {
		words[i] = fmt.Sprintf("w%d", i)
	}
	return strings.Join(words, " ")
}

func TestChunkWordsShortText(t *testing.T) {
	chunks := ChunkWords("just a few words", 120, 20)
	if len(chunks) != 1 {
		t.Fatalf("got %d chunks, want 1", len(chunks))
	}
	if chunks[0] != "just a few words" {
		t.Errorf("got %q", chunks[0])
	}
}

func TestChunkWordsEmpty(t *testing.T) {
	if chunks := ChunkWords("   \n\t ", 120, 20); chunks != nil {
		t.Errorf("got %v, want nil", chunks)
	}
}

func TestChunkWordsOverlap(t *testing.T) {
	chunks := ChunkWords(wordText(25), 10, 3)

	if len(chunks) < 3 {
		t.Fatalf("got %d chunks, want at least 3", len(chunks))
	}

	// Every chunk except possibly the last holds exactly chunkWords words.
	for i, c := range chunks[:len(chunks)-1] {
		if n := len(strings.Fields(c)); n != 10 {
			t.Errorf("chunk %d: %d words, want 10", i, n)
		}
	}

	// Consecutive chunks share overlapWords words.
	first := strings.Fields(chunks[0])
	second := strings.Fields(chunks[1])
	for i := 0; i < 3; i++ {
		if first[7+i] != second[i] {
			t.Errorf("overlap word %d: %q vs %q", i, first[7+i], second[i])
		}
	}
}

func TestChunkWordsCoversAllWords(t *testing.T) {
	chunks := ChunkWords(wordText(57), 10, 2)
	last := chunks[len(chunks)-1]
	if !strings.HasSuffix(last, "w56") {
		t.Errorf("last chunk should end with w56, got %q", last)
	}
}

func TestChunkWordsDegenerateOverlap(t *testing.T) {
	// overlap >= chunk size must not loop forever.
	chunks := ChunkWords(wordText(30), 10, 15)
	if len(chunks) == 0 {
		t.Fatal("expected chunks")
	}
}

func TestProfileHeuristics(t *testing.T) {
	tests := []struct {
		text       string
		profile    bool
		preference bool
	}{
		{"My name is Dana and I live in Lisbon", true, false},
		{"I'm a data engineer at a small startup", true, false},
		{"I love sci-fi novels and I prefer paperbacks", false, true},
		{"my favourite publisher is in Berlin", false, true},
		{"What time does the store open?", false, false},
		{"I am allergic to peanuts and I hate cilantro", true, true},
	}

	for _, tc := range tests {
		t.Run(tc.text, func(t *testing.T) {
			if got := IsProfileText(tc.text); got != tc.profile {
				t.Errorf("IsProfileText: got %v, want %v", got, tc.profile)
			}
			if got := IsPreferenceText(tc.text); got != tc.preference {
				t.Errorf("IsPreferenceText: got %v, want %v", got, tc.preference)
			}
		})
	}
}
