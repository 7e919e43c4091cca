package ingest

import "strings"

// ChunkWords splits text into overlapping word windows. chunkWords is
// the window size, overlapWords how many words consecutive windows
// share. Text at or under one window is returned as a single chunk.
func ChunkWords(text string, chunkWords, overlapWords int) []string {
	words := strings.Fields(text)
	if len(words) == 0 {
		return nil
	}
	if chunkWords <= 0 {
		chunkWords = 120
	}
	if overlapWords < 0 {
		overlapWords = 0
	}
	if overlapWords >= chunkWords {
		overlapWords = chunkWords / 2
	}

	if len(words) <= chunkWords {
		return []string{strings.Join(words, " ")}
	}

	stride := chunkWords - overlapWords
	var chunks []string
	for start := 0; start < len(words); start += stride {
		end := start + chunkWords
		if end > len(words) {
			end = len(words)
		}
		chunks = append(chunks, strings.Join(words[start:end], " "))
		if end == len(words) {
			break
		}
	}
	return chunks
}

// Profile and preference phrase heuristics. A chunk matching one of
// these is flagged so the retrieval assembler can prioritize identity
// facts over general conversation.
var (
	profilePhrases = []string{
		"my name is",
		"i am ",
		"i'm ",
		"i live",
		"i work",
		"i was born",
		"my wife",
		"my husband",
		"my partner",
		"my job",
		"my company",
		"my address",
		"my email",
		"my phone",
		"my birthday",
		"call me ",
	}

	preferencePhrases = []string{
		"i like",
		"i love",
		"i enjoy",
		"i prefer",
		"i hate",
		"i dislike",
		"i can't stand",
		"my favorite",
		"my favourite",
		"i always",
		"i never",
		"i usually",
	}
)

// IsProfileText reports whether the text looks like a stable
// identity/ownership statement about the user.
func IsProfileText(text string) bool {
	return matchesAny(text, profilePhrases)
}

// IsPreferenceText reports whether the text looks like a taste or
// habit statement.
func IsPreferenceText(text string) bool {
	return matchesAny(text, preferencePhrases)
}

func matchesAny(text string, phrases []string) bool {
	lower := strings.ToLower(text)
	for _, p := range phrases {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}
