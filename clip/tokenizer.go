// tokenizer.go - Prompt-Tokenisierung fuer den Text-Turm
// Enthaelt: Tokenize (Template + Klassennamen -> Token-IDs), FormatPrompt
//
// Woerter werden per FNV-Hash auf ein festes Vokabular abgebildet; jede Folge
// beginnt mit SOT und endet mit EOT.
package clip

import (
	"hash/fnv"
	"strings"
	"unicode"
)

const (
	// VocabSize ist die Groesse des Token-Embeddings.
	VocabSize = 4096

	TokenSOT = VocabSize - 2
	TokenEOT = VocabSize - 1
)

// FormatPrompt setzt den Klassennamen in das Template ein ("{}" Platzhalter).
// Unterstriche im Namen werden zu Leerzeichen.
func FormatPrompt(template, classname string) string {
	name := strings.ReplaceAll(classname, "_", " ")
	if !strings.Contains(template, "{}") {
		return template + " " + name
	}
	return strings.Replace(template, "{}", name, 1)
}

// Tokenize erzeugt fuer jeden Klassennamen die Token-Folge des Prompts.
func Tokenize(template string, classnames []string) [][]int {
	out := make([][]int, len(classnames))
	for i, c := range classnames {
		out[i] = tokenizePrompt(FormatPrompt(template, c))
	}
	return out
}

func tokenizePrompt(prompt string) []int {
	words := strings.FieldsFunc(strings.ToLower(prompt), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})

	ids := make([]int, 0, len(words)+2)
	ids = append(ids, TokenSOT)
	for _, w := range words {
		ids = append(ids, wordID(w))
	}
	return append(ids, TokenEOT)
}

func wordID(w string) int {
	h := fnv.New32a()
	h.Write([]byte(w))
	return int(h.Sum32() % uint32(TokenSOT))
}
