// Package dataset stellt Few-Shot-Datensaetze und Loader bereit.
//
// MODUL: dataset
// ZWECK: Datensatz-Beschreibung, Samples, Batches und Loader-Schnittstelle
// INPUT: Bild-Vektoren mit Klassen-Labels
// OUTPUT: Dataset-Metadaten, Batches fuer Training und Evaluation
// NEBENEFFEKTE: keine
// ABHAENGIGKEITEN: gonum/mat
// HINWEISE: Labels sind immer relativ zur Klassenliste des jeweiligen Splits.
package dataset

import (
	"errors"
	"iter"
	"sort"

	"gonum.org/v1/gonum/mat"
)

// ============================================================================
// Fehler-Definitionen
// ============================================================================

var (
	ErrNoImages          = errors.New("dataset: no images")
	ErrNotEnoughShots    = errors.New("dataset: class has fewer samples than shots")
	ErrUnsupportedFormat = errors.New("dataset: unsupported image format")
	ErrInvalidBatchSize  = errors.New("dataset: invalid batch size")
)

// ============================================================================
// Dataset
// ============================================================================

// Dataset beschreibt die Klassenlisten eines vorbereiteten Benchmarks.
// Nur Templates[0] wird fuer Prompts verwendet.
type Dataset struct {
	Name              string
	Classnames        []string
	TestClassnames    []string
	TestNewClassnames []string
	Templates         []string
}

// Template gibt das erste Prompt-Template zurueck.
func (d Dataset) Template() string {
	if len(d.Templates) == 0 {
		return DefaultTemplate
	}
	return d.Templates[0]
}

// DefaultTemplate ist das Standard-CLIP-Prompt.
const DefaultTemplate = "a photo of a {}."

// ============================================================================
// Batch und Loader
// ============================================================================

// Batch ist ein Paar aus Bildern (B x d) und Labels.
type Batch struct {
	Images *mat.Dense
	Labels []int
}

// Size gibt die Anzahl der Samples im Batch zurueck.
func (b Batch) Size() int {
	return len(b.Labels)
}

// Loader liefert Batches. Jeder Aufruf von Batches startet einen neuen Durchlauf.
type Loader interface {
	Batches() iter.Seq2[int, Batch]
	Len() int
}

// TestLoaders haelt den Test-Loader fuer all2all (All) oder das Paar Base/New
// fuer base2new.
type TestLoaders struct {
	All  Loader
	Base Loader
	New  Loader
}

// ============================================================================
// Samples
// ============================================================================

// Samples ist eine Liste flacher Bild-Vektoren mit Labels.
type Samples struct {
	Images [][]float64
	Labels []int
}

// Len gibt die Anzahl der Samples zurueck.
func (s Samples) Len() int {
	return len(s.Labels)
}

// Append fuegt ein Sample hinzu.
func (s *Samples) Append(img []float64, label int) {
	s.Images = append(s.Images, img)
	s.Labels = append(s.Labels, label)
}

// indicesByClass gruppiert Sample-Indizes nach Label.
func (s Samples) indicesByClass() map[int][]int {
	out := make(map[int][]int)
	for i, l := range s.Labels {
		out[l] = append(out[l], i)
	}
	return out
}

// Select behaelt nur Samples der angegebenen Klassen. Das neue Label ist die
// Position der Klasse in classes.
func (s Samples) Select(classes []int) Samples {
	pos := make(map[int]int, len(classes))
	for i, c := range classes {
		pos[c] = i
	}
	var out Samples
	for i, l := range s.Labels {
		if p, ok := pos[l]; ok {
			out.Append(s.Images[i], p)
		}
	}
	return out
}

// Classes gibt die vorkommenden Labels aufsteigend sortiert zurueck.
func (s Samples) Classes() []int {
	byClass := s.indicesByClass()
	out := make([]int, 0, len(byClass))
	for c := range byClass {
		out = append(out, c)
	}
	sort.Ints(out)
	return out
}
