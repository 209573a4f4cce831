package fewshot

import (
	"bytes"
	"io"
	"iter"
	"log/slog"
	"regexp"
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/7blacky7/fewshot-clip/clip"
	"github.com/7blacky7/fewshot-clip/dataset"
)

const testInputDim = 16

type fixture struct {
	model   *clip.Model
	ds      dataset.Dataset
	loaders Loaders
	out     *bytes.Buffer
}

// newFixture baut ein kleines Modell und einen synthetischen Benchmark.
func newFixture(t *testing.T, classes, shots, batch int, setting Setting) *fixture {
	t.Helper()

	src, err := dataset.Synthetic(dataset.SyntheticConfig{
		Name:          "synthetic",
		NumClasses:    classes,
		InputDim:      testInputDim,
		TrainPerClass: shots,
		TestPerClass:  3,
		Noise:         0.3,
		Seed:          7,
	})
	require.NoError(t, err)

	p, err := dataset.Prepare(src, dataset.PrepareOptions{
		BaseToNew: setting == SettingBase2New,
		Shots:     shots,
		Seed:      7,
	})
	require.NoError(t, err)

	train, val, test, err := p.Loaders(batch, 7)
	require.NoError(t, err)

	model, err := clip.New(clip.ArchTiny, clip.WithSeed(3), clip.WithInputDim(testInputDim))
	require.NoError(t, err)

	return &fixture{
		model:   model,
		ds:      p.Dataset,
		loaders: Loaders{Train: train, Val: val, Test: test},
		out:     &bytes.Buffer{},
	}
}

func (f *fixture) options() Options {
	return Options{Out: f.out, Logger: discardLogger()}
}

func testConfig(shots int, setting Setting) Config {
	cfg := DefaultConfig()
	cfg.Shots = shots
	cfg.NIters = 2
	cfg.Setting = setting
	cfg.BatchSize = 8
	return cfg
}

var progressLine = regexp.MustCompile(`\[(\d+)/(\d+)\] LR: ([0-9.]+), Acc: ([0-9.]+), Loss: ([0-9.]+)`)

type progress struct {
	count, total int
	lr, acc      float64
	loss         float64
}

// parseProgress liest alle Fortschrittszeilen aus der Ausgabe.
func parseProgress(t *testing.T, out string) []progress {
	t.Helper()
	var ps []progress
	for _, m := range progressLine.FindAllStringSubmatch(out, -1) {
		count, err := strconv.Atoi(m[1])
		require.NoError(t, err)
		total, err := strconv.Atoi(m[2])
		require.NoError(t, err)
		lr, err := strconv.ParseFloat(m[3], 64)
		require.NoError(t, err)
		acc, err := strconv.ParseFloat(m[4], 64)
		require.NoError(t, err)
		loss, err := strconv.ParseFloat(m[5], 64)
		require.NoError(t, err)
		ps = append(ps, progress{count: count, total: total, lr: lr, acc: acc, loss: loss})
	}
	return ps
}

// countingLoader zaehlt die tatsaechlich gelieferten Batches.
type countingLoader struct {
	inner   dataset.Loader
	yielded int
}

func (c *countingLoader) Len() int { return c.inner.Len() }

func (c *countingLoader) Batches() iter.Seq2[int, dataset.Batch] {
	return func(yield func(int, dataset.Batch) bool) {
		for i, b := range c.inner.Batches() {
			c.yielded++
			if !yield(i, b) {
				return
			}
		}
	}
}

// emptyLoader liefert nie einen Batch.
type emptyLoader struct{}

func (emptyLoader) Len() int { return 0 }

func (emptyLoader) Batches() iter.Seq2[int, dataset.Batch] {
	return func(func(int, dataset.Batch) bool) {}
}

// blankLoader schiebt vor jeden Batch des inneren Loaders einen leeren Batch.
type blankLoader struct {
	inner dataset.Loader
}

func (b blankLoader) Len() int { return 2 * b.inner.Len() }

func (b blankLoader) Batches() iter.Seq2[int, dataset.Batch] {
	return func(yield func(int, dataset.Batch) bool) {
		i := 0
		for _, batch := range b.inner.Batches() {
			if !yield(i, dataset.Batch{Images: &mat.Dense{}}) || !yield(i+1, batch) {
				return
			}
			i += 2
		}
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
