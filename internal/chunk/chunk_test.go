package chunk

import "testing"

func TestChunkID(t *testing.T) {
	c := Chunk{FilePath: "src/main.go", StartLine: 10, EndLine: 20}
	if got, want := c.ID(), "src/main.go:10:20"; got != want {
		t.Fatalf("ID() = %q, want %q", got, want)
	}
	if got, want := FormatID("src/main.go", 10, 20), c.ID(); got != want {
		t.Fatalf("FormatID mismatch: %q != %q", got, want)
	}
}

func TestDedupeImportsPreservesFirstSeenOrder(t *testing.T) {
	in := []string{"b", "a", "b", "c", "a"}
	got := DedupeImports(in)
	want := []string{"b", "a", "c"}
	if len(got) != len(want) {
		t.Fatalf("len(got) = %d, want %d (%v)", len(got), len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("index %d: got %q want %q (%v)", i, got[i], want[i], got)
		}
	}
}
