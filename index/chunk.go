package index

import "strings"

// Windows splits text into windows of at most size words. Consecutive
// windows share overlap words. Empty input yields nil; text no longer
// than size yields one window. An overlap of size or more is clamped to size-1.
func Windows(text string, size, overlap int) []string {
	words := strings.Fields(text)
	if len(words) == 0 {
		return nil
	}
	if size <= 0 {
		size = DefaultChunkWords
	}
	if overlap >= size {
		overlap = size - 1
	}
	if overlap < 0 {
		overlap = 0
	}
	if len(words) <= size {
		return []string{strings.Join(words, " ")}
	}

	stride := size - overlap
	var chunks []string
	for start := 0; start < len(words); start += stride {
		end := min(start+size, len(words))
		chunks = append(chunks, strings.Join(words[start:end], " "))
		if end == len(words) {
			break
		}
	}
	return chunks
}
