// dump.go - Dump-Funktionen fuer Matrix-Debugging
// Dieses Modul stellt Hilfsfunktionen zum Ausgeben von Matrix-Inhalten bereit.
package ml

import (
	"math"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/mat"
)

// DumpOptions configures matrix dump output format.
type DumpOptions func(*dumpOptions)

// DumpWithPrecision sets the number of decimal places to print.
func DumpWithPrecision(n int) DumpOptions {
	return func(opts *dumpOptions) {
		opts.Precision = n
	}
}

// DumpWithThreshold sets the threshold for printing the entire matrix. If the number of elements
// is less than or equal to this value, every element is printed. Otherwise, only the
// first and last EdgeItems rows and columns are printed.
func DumpWithThreshold(n int) DumpOptions {
	return func(opts *dumpOptions) {
		opts.Threshold = n
	}
}

// DumpWithEdgeItems sets the number of rows and columns to print at the beginning and end.
func DumpWithEdgeItems(n int) DumpOptions {
	return func(opts *dumpOptions) {
		opts.EdgeItems = n
	}
}

type dumpOptions struct {
	Precision, Threshold, EdgeItems int
}

// Dump converts a matrix to a human-readable string representation.
func Dump(m mat.Matrix, optsFuncs ...DumpOptions) string {
	opts := dumpOptions{Precision: 4, Threshold: 1000, EdgeItems: 3}
	for _, optsFunc := range optsFuncs {
		optsFunc(&opts)
	}

	r, c := m.Dims()
	if r*c <= opts.Threshold {
		opts.EdgeItems = math.MaxInt
	}

	format := func(v float64) string {
		return strconv.FormatFloat(v, 'f', opts.Precision, 64)
	}

	var sb strings.Builder
	sb.WriteString("[")
	for i := 0; i < r; i++ {
		if elided(i, r, opts.EdgeItems) {
			sb.WriteString("...,\n ")
			i = r - opts.EdgeItems - 1
			continue
		}

		sb.WriteString("[")
		pad := true
		for j := 0; j < c; j++ {
			if elided(j, c, opts.EdgeItems) {
				sb.WriteString("..., ")
				j = c - opts.EdgeItems - 1
				pad = false
				continue
			}

			// nach "..." kein Vorzeichen-Platzhalter
			text := format(m.At(i, j))
			if pad && len(text) > 0 && text[0] != '-' {
				sb.WriteString(" ")
			}
			sb.WriteString(text)
			pad = true
			if j < c-1 {
				sb.WriteString(", ")
			}
		}
		sb.WriteString("]")
		if i < r-1 {
			sb.WriteString(",\n ")
		}
	}
	sb.WriteString("]")

	return sb.String()
}

// elided meldet ob Index i zwischen den Randelementen liegt.
func elided(i, n, items int) bool {
	return items < math.MaxInt/2 && i >= items && i < n-items
}
