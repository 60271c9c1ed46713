package synth

// DefaultChunkSize is the number of runes per chunk.
const DefaultChunkSize = 4

// Chunk splits text into consecutive slices of at most size runes. Joining
// the slices yields text again. A non-positive size selects DefaultChunkSize.
func Chunk(text string, size int) []string {
	if text == "" {
		return nil
	}
	if size <= 0 {
		size = DefaultChunkSize
	}

	chunks := make([]string, 0, len(text)/size+1)
	start, count := 0, 0
	for i := range text {
		if count == size {
			chunks = append(chunks, text[start:i])
			start, count = i, 0
		}
		count++
	}
	return append(chunks, text[start:])
}
