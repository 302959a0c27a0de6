package ingest

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChunkText_Short(t *testing.T) {
	got := ChunkText("short text", 100, 10)
	want := []Chunk{{Index: 0, Offset: 0, Text: "short text"}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("ChunkText() mismatch (-want +got):\n%s", diff)
	}
}

func TestChunkText_Empty(t *testing.T) {
	assert.Empty(t, ChunkText("", 100, 10))
}

func TestChunkText_ExactFit(t *testing.T) {
	got := ChunkText("abcde", 5, 2)
	require.Len(t, got, 1)
	assert.Equal(t, "abcde", got[0].Text)
}

func TestChunkText_ParagraphBreaks(t *testing.T) {
	got := ChunkText("aaaa\n\nbbbb\n\ncccc", 10, 0)
	want := []Chunk{
		{Index: 0, Offset: 0, Text: "aaaa"},
		{Index: 1, Offset: 4, Text: "\n\nbbbb"},
		{Index: 2, Offset: 10, Text: "\n\ncccc"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("ChunkText() mismatch (-want +got):\n%s", diff)
	}
}

func TestChunkText_SentenceBreaks(t *testing.T) {
	got := ChunkText("One. Two. Three. Four.", 12, 0)
	want := []Chunk{
		{Index: 0, Offset: 0, Text: "One. Two."},
		{Index: 1, Offset: 9, Text: " Three."},
		{Index: 2, Offset: 16, Text: " Four."},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("ChunkText() mismatch (-want +got):\n%s", diff)
	}
}

func TestChunkText_HardCutWithOverlap(t *testing.T) {
	got := ChunkText("abcdefghij", 4, 1)
	want := []Chunk{
		{Index: 0, Offset: 0, Text: "abcd"},
		{Index: 1, Offset: 3, Text: "defg"},
		{Index: 2, Offset: 6, Text: "ghij"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("ChunkText() mismatch (-want +got):\n%s", diff)
	}
}

func TestChunkText_OverlapLargerThanPullback(t *testing.T) {
	// The first window is pulled back to a single rune; overlap would move
	// the next start backwards, so it starts at the break instead.
	got := ChunkText("a\n\nbbbbbbbbbb", 5, 3)
	require.NotEmpty(t, got)
	assert.Equal(t, "a", got[0].Text)
	assert.Equal(t, 1, got[1].Offset)
	assertChunkInvariants(t, "a\n\nbbbbbbbbbb", got, 5)
}

func TestChunkText_Runes(t *testing.T) {
	text := strings.Repeat("é", 5)
	got := ChunkText(text, 5, 0)
	require.Len(t, got, 1)

	text = strings.Repeat("日本語", 10)
	got = ChunkText(text, 7, 2)
	assertChunkInvariants(t, text, got, 7)
	for _, c := range got {
		assert.True(t, utf8.ValidString(c.Text))
	}
}

func TestChunkText_NoOverlapReassembles(t *testing.T) {
	var sb strings.Builder
	for i := 0; i < 200; i++ {
		sb.WriteString("The model is trained with SGD. ")
		if i%7 == 0 {
			sb.WriteString("\n\n")
		}
	}
	text := sb.String()
	got := ChunkText(text, 500, 0)
	require.Greater(t, len(got), 1)

	var rebuilt strings.Builder
	for _, c := range got {
		rebuilt.WriteString(c.Text)
	}
	assert.Equal(t, text, rebuilt.String())
	assertChunkInvariants(t, text, got, 500)
}

func TestChunkText_DefaultsOverlapInvariants(t *testing.T) {
	text := strings.Repeat("word ", 5000)
	got := ChunkText(text, DefaultChunkSize, DefaultChunkOverlap)
	assertChunkInvariants(t, text, got, DefaultChunkSize)
}

func assertChunkInvariants(t *testing.T, text string, chunks []Chunk, maxSize int) {
	t.Helper()
	runes := []rune(text)
	prev := -1
	for i, c := range chunks {
		assert.Equal(t, i, c.Index)
		assert.NotEmpty(t, c.Text, "chunk %d is empty", i)
		n := utf8.RuneCountInString(c.Text)
		assert.LessOrEqual(t, n, maxSize, "chunk %d too long", i)
		assert.Greater(t, c.Offset, prev, "chunk %d does not advance", i)
		assert.Equal(t, string(runes[c.Offset:c.Offset+n]), c.Text, "chunk %d offset mismatch", i)
		prev = c.Offset
	}
	last := chunks[len(chunks)-1]
	assert.Equal(t, len(runes), last.Offset+utf8.RuneCountInString(last.Text))
}
