package chunker

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestNew(t *testing.T) {
	t.Run("default size", func(t *testing.T) {
		if got := New().ChunkSize(); got != DefaultChunkSize {
			t.Errorf("expected chunk size %d, got %d", DefaultChunkSize, got)
		}
	})

	t.Run("custom size", func(t *testing.T) {
		if got := New(WithChunkSize(10)).ChunkSize(); got != 10 {
			t.Errorf("expected chunk size 10, got %d", got)
		}
	})

	t.Run("non-positive size ignored", func(t *testing.T) {
		if got := New(WithChunkSize(0), WithChunkSize(-3)).ChunkSize(); got != DefaultChunkSize {
			t.Errorf("expected default chunk size, got %d", got)
		}
	})
}

func TestSplit_Empty(t *testing.T) {
	if chunks := New().Split("", nil); len(chunks) != 0 {
		t.Errorf("expected no chunks for empty text, got %d", len(chunks))
	}
}

func TestSplit_Properties(t *testing.T) {
	cases := []struct {
		length int
		size   int
	}{
		{1, 1}, {1, 5}, {5, 5}, {6, 5}, {99, 10}, {100, 10}, {101, 10}, {12345, 5000},
	}

	for _, tc := range cases {
		text := strings.Repeat("abcdefghij", tc.length/10+1)[:tc.length]
		chunks := New(WithChunkSize(tc.size)).Split(text, nil)

		want := (tc.length + tc.size - 1) / tc.size
		if len(chunks) != want {
			t.Fatalf("L=%d S=%d: expected %d chunks, got %d", tc.length, tc.size, want, len(chunks))
		}

		var b strings.Builder
		for i, c := range chunks {
			if c.ID != i {
				t.Errorf("L=%d S=%d: chunk %d has id %d", tc.length, tc.size, i, c.ID)
			}
			if c.TotalChunks != want {
				t.Errorf("L=%d S=%d: chunk %d total %d, want %d", tc.length, tc.size, i, c.TotalChunks, want)
			}
			if i < len(chunks)-1 && len(c.Text) != tc.size {
				t.Errorf("L=%d S=%d: chunk %d has length %d", tc.length, tc.size, i, len(c.Text))
			}
			b.WriteString(c.Text)
		}
		if b.String() != text {
			t.Errorf("L=%d S=%d: concatenation does not reproduce text", tc.length, tc.size)
		}
	}
}

func TestSplit_MultiByteRunes(t *testing.T) {
	text := strings.Repeat("é™", 7)
	chunks := New(WithChunkSize(3)).Split(text, nil)

	if len(chunks) != 5 {
		t.Fatalf("expected 5 chunks for 14 runes, got %d", len(chunks))
	}
	var b strings.Builder
	for i, c := range chunks {
		if !utf8.ValidString(c.Text) {
			t.Errorf("chunk %d is not valid UTF-8", i)
		}
		if i < len(chunks)-1 && utf8.RuneCountInString(c.Text) != 3 {
			t.Errorf("chunk %d has %d runes", i, utf8.RuneCountInString(c.Text))
		}
		b.WriteString(c.Text)
	}
	if b.String() != text {
		t.Error("concatenation does not reproduce text")
	}
}

func TestSplit_MetadataCopiedPerChunk(t *testing.T) {
	md := map[string]string{"sender": "clinic@example.org"}
	chunks := New(WithChunkSize(2)).Split("abcd", md)

	chunks[0].Metadata["sender"] = "changed"
	if chunks[1].Metadata["sender"] != "clinic@example.org" {
		t.Error("expected chunk metadata to be independent copies")
	}
	if md["sender"] != "clinic@example.org" {
		t.Error("expected caller metadata to be untouched")
	}
}

func TestSplit_NilMetadata(t *testing.T) {
	chunks := New(WithChunkSize(2)).Split("abc", nil)
	for i, c := range chunks {
		if c.Metadata == nil {
			t.Errorf("chunk %d has nil metadata", i)
		}
	}
}
