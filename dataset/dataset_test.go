package dataset

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func smallSamples(classes, perClass int) Samples {
	var s Samples
	for c := 0; c < classes; c++ {
		for i := 0; i < perClass; i++ {
			s.Append([]float64{float64(c), float64(i)}, c)
		}
	}
	return s
}

func TestSliceLoaderBatches(t *testing.T) {
	s := smallSamples(3, 3) // 9 Samples
	l, err := NewSliceLoader(s, 4, false, 0)
	require.NoError(t, err)
	assert.Equal(t, 3, l.Len())

	var sizes []int
	seen := 0
	for i, b := range l.Batches() {
		assert.Equal(t, len(sizes), i)
		r, c := b.Images.Dims()
		assert.Equal(t, b.Size(), r)
		assert.Equal(t, 2, c)
		sizes = append(sizes, b.Size())
		seen += b.Size()
	}
	if diff := cmp.Diff([]int{4, 4, 1}, sizes); diff != "" {
		t.Errorf("Batch-Groessen (-erwartet +erhalten):\n%s", diff)
	}
	assert.Equal(t, 9, seen)
}

func TestSliceLoaderShuffleIsSeeded(t *testing.T) {
	s := smallSamples(4, 5)
	collect := func(seed uint64) []int {
		l, err := NewSliceLoader(s, 3, true, seed)
		require.NoError(t, err)
		var labels []int
		for _, b := range l.Batches() {
			labels = append(labels, b.Labels...)
		}
		return labels
	}

	a, b := collect(7), collect(7)
	if diff := cmp.Diff(a, b); diff != "" {
		t.Errorf("gleicher Seed, unterschiedliche Reihenfolge:\n%s", diff)
	}
	assert.Len(t, a, 20)
}

func TestSliceLoaderEarlyBreak(t *testing.T) {
	l, err := NewSliceLoader(smallSamples(2, 5), 2, false, 0)
	require.NoError(t, err)

	n := 0
	for range l.Batches() {
		n++
		if n == 2 {
			break
		}
	}
	assert.Equal(t, 2, n)
}

func TestNewSliceLoaderErrors(t *testing.T) {
	_, err := NewSliceLoader(Samples{}, 4, false, 0)
	assert.ErrorIs(t, err, ErrNoImages)

	_, err = NewSliceLoader(smallSamples(1, 1), 0, false, 0)
	assert.ErrorIs(t, err, ErrInvalidBatchSize)
}

func TestFewShot(t *testing.T) {
	s := smallSamples(3, 10)
	fs, err := FewShot(s, 4, 1)
	require.NoError(t, err)
	assert.Equal(t, 12, fs.Len())

	counts := map[int]int{}
	for _, l := range fs.Labels {
		counts[l]++
	}
	if diff := cmp.Diff(map[int]int{0: 4, 1: 4, 2: 4}, counts); diff != "" {
		t.Errorf("Shots pro Klasse (-erwartet +erhalten):\n%s", diff)
	}

	_, err = FewShot(s, 11, 1)
	if !errors.Is(err, ErrNotEnoughShots) {
		t.Errorf("FewShot(11) Fehler = %v, erwartet ErrNotEnoughShots", err)
	}
}

func TestSamplesSelectRelabels(t *testing.T) {
	s := smallSamples(4, 2)
	sel := s.Select([]int{2, 3})
	assert.Equal(t, 4, sel.Len())
	if diff := cmp.Diff([]int{0, 0, 1, 1}, sel.Labels); diff != "" {
		t.Errorf("Labels (-erwartet +erhalten):\n%s", diff)
	}
	assert.Equal(t, 2.0, sel.Images[0][0], "Bild der Klasse 2 erwartet")
}

func TestPrepareBaseToNew(t *testing.T) {
	src, err := Synthetic(SyntheticConfig{Name: "syn", NumClasses: 5, InputDim: 4, TrainPerClass: 6, TestPerClass: 3, Noise: 0.1})
	require.NoError(t, err)

	p, err := Prepare(src, PrepareOptions{BaseToNew: true, Shots: 2})
	require.NoError(t, err)

	assert.Equal(t, []string{"class_000", "class_001", "class_002"}, p.Dataset.Classnames)
	assert.Equal(t, p.Dataset.Classnames, p.Dataset.TestClassnames)
	assert.Equal(t, []string{"class_003", "class_004"}, p.Dataset.TestNewClassnames)
	assert.Equal(t, 6, p.Train.Len())
	assert.Equal(t, 9, p.TestBase.Len())
	assert.Equal(t, 6, p.TestNew.Len())
	assert.Zero(t, p.TestAll.Len())

	for _, l := range p.TestNew.Labels {
		assert.Less(t, l, 2, "Novel-Labels sind relativ zum Novel-Split")
	}

	train, val, test, err := p.Loaders(4, 0)
	require.NoError(t, err)
	assert.NotNil(t, train)
	assert.NotNil(t, val)
	assert.Nil(t, test.All)
	assert.NotNil(t, test.Base)
	assert.NotNil(t, test.New)
}

func TestPrepareAllToAll(t *testing.T) {
	src, err := Synthetic(SyntheticConfig{Name: "syn", NumClasses: 4, InputDim: 4, TrainPerClass: 3, TestPerClass: 2, Noise: 0.1})
	require.NoError(t, err)

	p, err := Prepare(src, PrepareOptions{Shots: 3})
	require.NoError(t, err)
	assert.Len(t, p.Dataset.Classnames, 4)
	assert.Empty(t, p.Dataset.TestNewClassnames)
	assert.Equal(t, 12, p.Train.Len())

	_, _, test, err := p.Loaders(5, 0)
	require.NoError(t, err)
	assert.NotNil(t, test.All)
	assert.Nil(t, test.Base)
}

func TestSyntheticDeterministic(t *testing.T) {
	cfg := DefaultSyntheticConfig()
	cfg.InputDim = 8
	a, err := Synthetic(cfg)
	require.NoError(t, err)
	b, err := Synthetic(cfg)
	require.NoError(t, err)

	if diff := cmp.Diff(a.Train.Images, b.Train.Images); diff != "" {
		t.Errorf("gleicher Seed, unterschiedliche Daten:\n%s", diff)
	}
	assert.Equal(t, cfg.NumClasses*cfg.TrainPerClass, a.Train.Len())
	assert.Equal(t, DefaultTemplate, Dataset{Templates: a.Templates}.Template())

	_, err = Synthetic(SyntheticConfig{})
	assert.ErrorIs(t, err, ErrNoImages)
}
