package util

import "testing"

func TestRandomIDIsHexAndUnique(t *testing.T) {
	seen := make(map[string]struct{}, 1000)
	for i := 0; i < 1000; i++ {
		id := RandomID()
		if len(id) != 32 {
			t.Fatalf("expected 32 characters, got %d (%s)", len(id), id)
		}
		for _, ch := range id {
			if !((ch >= 'a' && ch <= 'f') || (ch >= '0' && ch <= '9')) {
				t.Fatalf("id contains non-hex character: %c", ch)
			}
		}
		if _, dup := seen[id]; dup {
			t.Fatalf("duplicate id %s", id)
		}
		seen[id] = struct{}{}
	}
}
