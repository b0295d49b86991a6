package docid

import "testing"

func TestFromPath_Stable(t *testing.T) {
	a := FromPath("/library/books/paper.pdf")
	b := FromPath("/library/books/paper.pdf")
	if a != b {
		t.Errorf("same path produced different ids: %q vs %q", a, b)
	}
}

func TestFromPath_CleansBeforeHashing(t *testing.T) {
	a := FromPath("/library/books/paper.pdf")
	b := FromPath("/library/books/../books/paper.pdf")
	if a != b {
		t.Errorf("equivalent paths produced different ids: %q vs %q", a, b)
	}
}

func TestFromPath_DistinctRoots(t *testing.T) {
	a := FromPath("/library-a/paper.pdf")
	b := FromPath("/library-b/paper.pdf")
	if a == b {
		t.Error("documents under different roots must not collide")
	}
}

func TestFromPath_Format(t *testing.T) {
	id := FromPath("/x/y.pdf")
	if len(id) != 16 {
		t.Errorf("id = %q, want 16 hex chars", id)
	}
}
