package postprocess

import "testing"

func TestNormalizeWhitespaceAndPunctuation(t *testing.T) {
	if got := Normalize("   hello   world   "); got != "Hello world." {
		t.Fatalf("expected %q, got %q", "Hello world.", got)
	}
}

func TestNormalizeKeepsTerminalPunctuation(t *testing.T) {
	cases := map[string]string{
		"what now?": "What now?",
		"stop!":     "Stop!",
		"done.":     "Done.",
		"no ending": "No ending.",
	}
	for input, want := range cases {
		if got := Normalize(input); got != want {
			t.Fatalf("Normalize(%q) = %q, want %q", input, got, want)
		}
	}
}

func TestNormalizeEmptyInput(t *testing.T) {
	if got := Normalize("   \t\n "); got != "" {
		t.Fatalf("expected empty output, got %q", got)
	}
}

func TestDuplicateDetectionIgnoresCase(t *testing.T) {
	if !IsDuplicate("Hello world.", "hello world.") {
		t.Fatal("expected case-insensitive duplicate")
	}
	if IsDuplicate("Hello world.", "different") {
		t.Fatal("expected distinct transcripts to pass")
	}
}

func TestEmptyCurrentIsAlwaysDuplicate(t *testing.T) {
	if !IsDuplicate("", "   ") {
		t.Fatal("expected blank transcript to be treated as duplicate")
	}
}
