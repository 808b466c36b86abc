package service

import (
	"context"
	"strings"
	"testing"

	"github.com/connexus-ai/ragcore/internal/ragerr"
)

func TestChunkerService_EmptyContent(t *testing.T) {
	c := NewChunkerService()
	_, err := c.Chunk(context.Background(), "   ", "doc-1", "f.txt", "text/plain", ChunkOptions{})
	if err == nil {
		t.Fatal("expected error for empty content")
	}
	if _, ok := err.(*ragerr.ChunkingError); !ok {
		t.Fatalf("expected *ragerr.ChunkingError, got %T", err)
	}
}

func TestChunkerService_FixedStrategy(t *testing.T) {
	c := NewChunkerService()
	content := strings.Repeat("word ", 400)
	chunks, err := c.Chunk(context.Background(), content, "doc-1", "f.txt", "text/plain", ChunkOptions{
		Strategy: StrategyFixed, MaxChunkSize: 200, Overlap: 20,
	})
	if err != nil {
		t.Fatalf("Chunk() error: %v", err)
	}
	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(chunks))
	}
	for i, ch := range chunks {
		if ch.Index != i {
			t.Errorf("chunk %d has Index %d", i, ch.Index)
		}
		if ch.ContentHash == "" {
			t.Errorf("chunk %d missing ContentHash", i)
		}
		if ch.DocumentID != "doc-1" {
			t.Errorf("chunk %d DocumentID = %q, want doc-1", i, ch.DocumentID)
		}
	}
}

func TestChunkerService_ParagraphStrategy(t *testing.T) {
	c := NewChunkerService()
	content := strings.Repeat("This is a paragraph of reasonable length. It has a few sentences.\n\n", 20)
	chunks, err := c.Chunk(context.Background(), content, "doc-2", "f.txt", "text/plain", ChunkOptions{
		Strategy: StrategyParagraph, MaxChunkSize: 300,
	})
	if err != nil {
		t.Fatalf("Chunk() error: %v", err)
	}
	for _, ch := range chunks {
		if len(ch.Content) > 300+200 {
			t.Errorf("chunk exceeds size bound: %d chars", len(ch.Content))
		}
	}
}

func TestChunkerService_SemanticStrategy_PreservesHeaders(t *testing.T) {
	c := NewChunkerService()
	content := "# Introduction\n\nSome intro text here that explains things.\n\n# Details\n\nMore detailed content follows in this section."
	chunks, err := c.Chunk(context.Background(), content, "doc-3", "f.md", "text/markdown", ChunkOptions{
		Strategy: StrategySemantic, MaxChunkSize: 1000,
	})
	if err != nil {
		t.Fatalf("Chunk() error: %v", err)
	}
	var sawIntro, sawDetails bool
	for _, ch := range chunks {
		if ch.SectionTitle == "Introduction" {
			sawIntro = true
		}
		if ch.SectionTitle == "Details" {
			sawDetails = true
		}
	}
	if !sawIntro || !sawDetails {
		t.Errorf("expected both section titles to be tracked, got chunks: %+v", chunks)
	}
}

func TestSelectAdaptiveStrategy(t *testing.T) {
	tests := []struct {
		name     string
		content  string
		filename string
		mimeType string
		want     Strategy
	}{
		{"short doc", "hello world", "f.txt", "text/plain", StrategyFixed},
		{"code mime", strings.Repeat("func main() {}\n", 100), "main.go", "text/x-go", StrategyFixed},
		{"markdown", strings.Repeat("# H\n\nbody text here.\n\n", 50), "doc.md", "text/markdown", StrategySemantic},
		{"conversational", strings.Repeat("user: hi\nassistant: hello there, how can I help?\n", 50), "chat.txt", "text/plain", StrategySentence},
		{"long prose", strings.Repeat("a reasonably long sentence about nothing in particular. ", 400), "doc.txt", "text/plain", StrategyHierarchical},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := selectAdaptiveStrategy(tt.content, tt.filename, tt.mimeType)
			if got != tt.want {
				t.Errorf("selectAdaptiveStrategy() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestChunkerService_AdaptiveDispatch(t *testing.T) {
	c := NewChunkerService()
	chunks, err := c.Chunk(context.Background(), "tiny doc", "doc-4", "f.txt", "text/plain", ChunkOptions{Strategy: StrategyAdaptive})
	if err != nil {
		t.Fatalf("Chunk() error: %v", err)
	}
	if len(chunks) != 1 {
		t.Fatalf("expected a single chunk for a short document, got %d", len(chunks))
	}
}

func TestEstimateTokens(t *testing.T) {
	if got := EstimateTokens(""); got != 0 {
		t.Errorf("EstimateTokens(\"\") = %d, want 0", got)
	}
	if got := EstimateTokens("abcd"); got != 1 {
		t.Errorf("EstimateTokens(4 chars) = %d, want 1", got)
	}
	if got := EstimateTokens("abcde"); got != 2 {
		t.Errorf("EstimateTokens(5 chars) = %d, want 2 (ceil)", got)
	}
}
