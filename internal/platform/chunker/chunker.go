// Package chunker provides fixed-size text chunking for extracted document text.
package chunker

import "maps"

// DefaultChunkSize is the default number of characters per chunk.
const DefaultChunkSize = 5000

// Chunk is one fixed-size slice of a document's text.
type Chunk struct {
	ID          int               `json:"chunk_id"`
	Text        string            `json:"text"`
	TotalChunks int               `json:"total_chunks"`
	Metadata    map[string]string `json:"metadata"`
}

// Splitter cuts text into non-overlapping chunks of a fixed rune count.
type Splitter struct {
	chunkSize int
}

// Option configures the splitter.
type Option func(*Splitter)

// WithChunkSize sets the chunk size in characters. Non-positive values are ignored.
func WithChunkSize(size int) Option {
	return func(s *Splitter) {
		if size > 0 {
			s.chunkSize = size
		}
	}
}

// New creates a splitter with the given options.
func New(opts ...Option) *Splitter {
	s := &Splitter{chunkSize: DefaultChunkSize}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ChunkSize returns the configured chunk size.
func (s *Splitter) ChunkSize() int {
	return s.chunkSize
}

// Split slices text into ceil(len/size) chunks, counted in runes so that a
// multi-byte character is never cut in half. Every chunk receives its own copy
// of metadata. Empty text produces no chunks.
func (s *Splitter) Split(text string, metadata map[string]string) []Chunk {
	if text == "" {
		return nil
	}

	runes := []rune(text)
	total := (len(runes) + s.chunkSize - 1) / s.chunkSize
	chunks := make([]Chunk, 0, total)

	for i := 0; i < total; i++ {
		start := i * s.chunkSize
		end := min(start+s.chunkSize, len(runes))

		md := maps.Clone(metadata)
		if md == nil {
			md = map[string]string{}
		}

		chunks = append(chunks, Chunk{
			ID:          i,
			Text:        string(runes[start:end]),
			TotalChunks: total,
			Metadata:    md,
		})
	}

	return chunks
}
