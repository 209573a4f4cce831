// synthetic.go - Synthetischer Few-Shot-Benchmark
// Enthaelt: SyntheticConfig, Synthetic (Klassen-Prototypen plus Rauschen)
package dataset

import (
	"fmt"
	"math/rand/v2"
)

// SyntheticConfig beschreibt einen generierten Benchmark.
type SyntheticConfig struct {
	Name          string  `yaml:"name"`
	NumClasses    int     `yaml:"num_classes"`
	InputDim      int     `yaml:"input_dim"`
	TrainPerClass int     `yaml:"train_per_class"`
	TestPerClass  int     `yaml:"test_per_class"`
	Noise         float64 `yaml:"noise"`
	Seed          uint64  `yaml:"seed"`
}

// DefaultSyntheticConfig: 10 Klassen, 16 Train- und 8 Test-Samples pro Klasse.
func DefaultSyntheticConfig() SyntheticConfig {
	return SyntheticConfig{
		Name:          "synthetic",
		NumClasses:    10,
		InputDim:      3 * 16 * 16,
		TrainPerClass: 16,
		TestPerClass:  8,
		Noise:         0.5,
	}
}

// Synthetic erzeugt einen Datensatz: jede Klasse hat einen zufaelligen
// Prototyp, Samples sind Prototyp plus gaussches Rauschen.
func Synthetic(cfg SyntheticConfig) (*Source, error) {
	if cfg.NumClasses <= 0 || cfg.InputDim <= 0 || cfg.TrainPerClass <= 0 || cfg.TestPerClass <= 0 {
		return nil, fmt.Errorf("%w: synthetic config %+v", ErrNoImages, cfg)
	}

	rng := rand.New(rand.NewPCG(cfg.Seed, 0x5e7))
	src := &Source{
		Name:      cfg.Name,
		Templates: []string{DefaultTemplate},
	}

	for c := 0; c < cfg.NumClasses; c++ {
		src.Classnames = append(src.Classnames, fmt.Sprintf("class_%03d", c))

		proto := make([]float64, cfg.InputDim)
		for i := range proto {
			proto[i] = rng.NormFloat64()
		}
		for i := 0; i < cfg.TrainPerClass; i++ {
			src.Train.Append(noisy(proto, cfg.Noise, rng), c)
		}
		for i := 0; i < cfg.TestPerClass; i++ {
			src.Test.Append(noisy(proto, cfg.Noise, rng), c)
		}
	}
	return src, nil
}

func noisy(proto []float64, noise float64, rng *rand.Rand) []float64 {
	out := make([]float64, len(proto))
	for i, v := range proto {
		out[i] = v + noise*rng.NormFloat64()
	}
	return out
}
