// result.go - Ergebnis eines Laufs
package fewshot

import (
	"maps"
	"slices"
)

// Metrik-Schluessel des Ergebnisses.
const (
	KeyAccTestBase = "acc_test_base"
	KeyAccTestNew  = "acc_test_new"
	KeyAccTest     = "acc_test"
)

// Result bildet Metrik-Namen auf Genauigkeiten in Prozent ab.
type Result map[string]float64

// Keys gibt die Schluessel sortiert zurueck.
func (r Result) Keys() []string {
	return slices.Sorted(maps.Keys(r))
}
