package prompt

import "testing"

func TestBuilderOrdering(t *testing.T) {
	b := NewBuilder()
	b.Add(Block{ID: "low", Priority: 1, Content: "low"})
	b.Add(Block{ID: "high", Priority: 10, Content: "high"})
	b.Add(Block{ID: "mid", Priority: 5, Content: "mid"})

	got := b.Build()
	expected := "high\n\nmid\n\nlow"
	if got != expected {
		t.Fatalf("unexpected build: %q", got)
	}
}

func TestBuilderDropsBlankBlocks(t *testing.T) {
	b := NewBuilder()
	b.Add(Block{ID: "blank", Priority: 10, Content: "   \n"})
	b.Add(Block{ID: "body", Priority: 5, Content: "body"})

	if b.Len() != 1 {
		t.Fatalf("blank block should not be queued, have %d", b.Len())
	}
	if got := b.Build(); got != "body" {
		t.Fatalf("unexpected build: %q", got)
	}
}

func TestBuilderEmpty(t *testing.T) {
	if got := NewBuilder().Build(); got != "" {
		t.Fatalf("empty builder should produce empty string, got %q", got)
	}
}
