// fewshot.go - k-Shot-Auswahl und Base/Novel-Aufteilung
// Enthaelt: FewShot, Source, Prepare (base2new / all2all), Prepared.Loaders
package dataset

import (
	"fmt"
	"math/rand/v2"
)

// FewShot waehlt pro Klasse genau shots Samples (geseedet).
// Klassen mit weniger Samples ergeben ErrNotEnoughShots.
func FewShot(s Samples, shots int, seed uint64) (Samples, error) {
	if shots <= 0 {
		return Samples{}, fmt.Errorf("%w: shots=%d", ErrNotEnoughShots, shots)
	}

	rng := rand.New(rand.NewPCG(seed, 0x5407))
	byClass := s.indicesByClass()

	var out Samples
	for _, c := range s.Classes() {
		idx := byClass[c]
		if len(idx) < shots {
			return Samples{}, fmt.Errorf("%w: class %d has %d, need %d", ErrNotEnoughShots, c, len(idx), shots)
		}
		perm := rng.Perm(len(idx))
		for _, p := range perm[:shots] {
			out.Append(s.Images[idx[p]], c)
		}
	}
	return out, nil
}

// ============================================================================
// Source und Prepare
// ============================================================================

// Source ist ein vollstaendiger Datensatz vor der Few-Shot-Auswahl.
// Labels indizieren Classnames.
type Source struct {
	Name       string
	Classnames []string
	Templates  []string
	Train      Samples
	Test       Samples
}

// PrepareOptions steuert die Aufbereitung eines Source.
type PrepareOptions struct {
	BaseToNew bool
	Shots     int
	Seed      uint64
}

// Prepared ist ein Benchmark, bereit fuer die Loader.
type Prepared struct {
	Dataset  Dataset
	Train    Samples
	TestAll  Samples
	TestBase Samples
	TestNew  Samples
}

// Prepare waehlt k Shots und teilt die Klassen auf. Bei BaseToNew ist die
// erste Haelfte der Klassen "base" (Training und Test-Base), die zweite
// Haelfte "new" (nur Test-New).
func Prepare(src *Source, opts PrepareOptions) (*Prepared, error) {
	n := len(src.Classnames)
	if n == 0 || src.Train.Len() == 0 || src.Test.Len() == 0 {
		return nil, ErrNoImages
	}

	all := make([]int, n)
	for i := range all {
		all[i] = i
	}

	p := &Prepared{Dataset: Dataset{Name: src.Name, Templates: src.Templates}}

	if !opts.BaseToNew {
		train, err := FewShot(src.Train, opts.Shots, opts.Seed)
		if err != nil {
			return nil, err
		}
		p.Train = train
		p.TestAll = src.Test
		p.Dataset.Classnames = src.Classnames
		p.Dataset.TestClassnames = src.Classnames
		return p, nil
	}

	if n < 2 {
		return nil, fmt.Errorf("%w: base2new needs at least two classes", ErrNoImages)
	}
	half := (n + 1) / 2
	base, novel := all[:half], all[half:]

	train, err := FewShot(src.Train.Select(base), opts.Shots, opts.Seed)
	if err != nil {
		return nil, err
	}
	p.Train = train
	p.TestBase = src.Test.Select(base)
	p.TestNew = src.Test.Select(novel)
	p.Dataset.Classnames = src.Classnames[:half]
	p.Dataset.TestClassnames = src.Classnames[:half]
	p.Dataset.TestNewClassnames = src.Classnames[half:]
	return p, nil
}

// Loaders erstellt Train-Loader (gemischt), Val-Loader (Train ohne Mischen)
// und Test-Loader.
func (p *Prepared) Loaders(batchSize int, seed uint64) (train, val Loader, test TestLoaders, err error) {
	tr, err := NewSliceLoader(p.Train, batchSize, true, seed)
	if err != nil {
		return nil, nil, TestLoaders{}, fmt.Errorf("train: %w", err)
	}
	va, err := NewSliceLoader(p.Train, batchSize, false, seed)
	if err != nil {
		return nil, nil, TestLoaders{}, fmt.Errorf("val: %w", err)
	}

	if p.TestAll.Len() > 0 {
		all, err := NewSliceLoader(p.TestAll, batchSize, false, seed)
		if err != nil {
			return nil, nil, TestLoaders{}, fmt.Errorf("test: %w", err)
		}
		return tr, va, TestLoaders{All: all}, nil
	}

	base, err := NewSliceLoader(p.TestBase, batchSize, false, seed)
	if err != nil {
		return nil, nil, TestLoaders{}, fmt.Errorf("test base: %w", err)
	}
	novel, err := NewSliceLoader(p.TestNew, batchSize, false, seed)
	if err != nil {
		return nil, nil, TestLoaders{}, fmt.Errorf("test new: %w", err)
	}
	return tr, va, TestLoaders{Base: base, New: novel}, nil
}
