package clip

import (
	"testing"
)

func TestFormatPrompt(t *testing.T) {
	tests := []struct {
		template, class, want string
	}{
		{"a photo of a {}.", "golden_retriever", "a photo of a golden retriever."},
		{"{}", "cat", "cat"},
		{"a photo of", "dog", "a photo of dog"},
	}
	for _, tt := range tests {
		if got := FormatPrompt(tt.template, tt.class); got != tt.want {
			t.Errorf("FormatPrompt(%q, %q) = %q, erwartet %q", tt.template, tt.class, got, tt.want)
		}
	}
}

func TestTokenize(t *testing.T) {
	tokens := Tokenize("a photo of a {}.", []string{"Cat", "cat", "dog"})
	if len(tokens) != 3 {
		t.Fatalf("Anzahl Folgen = %d, erwartet 3", len(tokens))
	}

	// SOT a photo of a <name> EOT
	if len(tokens[0]) != 7 {
		t.Errorf("Folgenlaenge = %d, erwartet 7", len(tokens[0]))
	}
	if tokens[0][0] != TokenSOT || tokens[0][len(tokens[0])-1] != TokenEOT {
		t.Error("Folge beginnt nicht mit SOT oder endet nicht mit EOT")
	}

	// Gross-/Kleinschreibung spielt keine Rolle
	for i := range tokens[0] {
		if tokens[0][i] != tokens[1][i] {
			t.Errorf("Token %d: %d != %d", i, tokens[0][i], tokens[1][i])
		}
	}
	if tokens[0][5] == tokens[2][5] {
		t.Error("cat und dog sollten unterschiedliche Token haben")
	}

	for _, seq := range tokens {
		for _, id := range seq {
			if id < 0 || id >= VocabSize {
				t.Errorf("Token %d ausserhalb des Vokabulars", id)
			}
		}
	}
}
