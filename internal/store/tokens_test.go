package store

import "testing"

func TestHeuristicCounterEmpty(t *testing.T) {
	if got := (HeuristicCounter{}).Count(""); got != 0 {
		t.Fatalf("empty string: expected 0, got %d", got)
	}
}

func TestHeuristicCounterPlainText(t *testing.T) {
	// "abcd" = 4 runes, no specials, no newlines: ceil(4/4) = 1.
	if got := (HeuristicCounter{}).Count("abcd"); got != 1 {
		t.Fatalf("expected 1, got %d", got)
	}
	// 5 runes round up: ceil(5/4) = 2.
	if got := (HeuristicCounter{}).Count("abcde"); got != 2 {
		t.Fatalf("expected 2, got %d", got)
	}
}

func TestHeuristicCounterSpecialsAndNewlines(t *testing.T) {
	// "a{}\n" = 4 runes -> 1, 2 specials -> 1, 1 newline -> 1. Total 3.
	if got := (HeuristicCounter{}).Count("a{}\n"); got != 3 {
		t.Fatalf("expected 3, got %d", got)
	}
}

func TestHeuristicCounterDeterministic(t *testing.T) {
	s := "func main() {\n\tprintln(42)\n}\n"
	c := HeuristicCounter{}
	first := c.Count(s)
	for i := 0; i < 3; i++ {
		if c.Count(s) != first {
			t.Fatal("counter not deterministic")
		}
	}
}
