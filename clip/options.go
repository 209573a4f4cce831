// MODUL: options
// ZWECK: Functional Options fuer die Erstellung eines Dual-Encoders
// INPUT: Optionale Parameter (Device, Seed, InputDim, LogitScale)
// OUTPUT: LoadOptions
// NEBENEFFEKTE: Keine
// ABHAENGIGKEITEN: ml
// HINWEISE: Die Referenz-Implementierung rechnet nur auf der CPU.

package clip

import (
	"fmt"

	"github.com/7blacky7/fewshot-clip/ml"
)

// ============================================================================
// LoadOptions
// ============================================================================

// LoadOptions enthaelt die Konfiguration fuer das Erstellen eines Modells.
type LoadOptions struct {
	Device     ml.Device // Compute-Backend, nur "cpu"
	Seed       uint64    // Seed fuer die Gewichts-Initialisierung
	InputDim   int       // Laenge eines flachen Pixel-Vektors
	LogitScale float64   // Initiale Temperatur (linear, nicht log)
}

// Option ist eine funktionale Option fuer LoadOptions.
type Option func(*LoadOptions)

// DefaultInputDim entspricht 3 x 16 x 16 Pixeln.
const DefaultInputDim = 3 * 16 * 16

// DefaultLoadOptions gibt die Standard-Konfiguration zurueck.
// - Device: "cpu"
// - LogitScale: 100 (wie CLIP nach dem Pretraining)
func DefaultLoadOptions() LoadOptions {
	return LoadOptions{
		Device:     ml.DeviceCPU,
		Seed:       0,
		InputDim:   DefaultInputDim,
		LogitScale: 100,
	}
}

// WithDevice setzt das Compute-Backend.
func WithDevice(device ml.Device) Option {
	return func(o *LoadOptions) {
		o.Device = device
	}
}

// WithSeed setzt den Initialisierungs-Seed.
func WithSeed(seed uint64) Option {
	return func(o *LoadOptions) {
		o.Seed = seed
	}
}

// WithInputDim setzt die Pixel-Dimension. Werte <= 0 werden ignoriert.
func WithInputDim(n int) Option {
	return func(o *LoadOptions) {
		if n > 0 {
			o.InputDim = n
		}
	}
}

// WithLogitScale setzt die initiale Temperatur.
func WithLogitScale(s float64) Option {
	return func(o *LoadOptions) {
		o.LogitScale = s
	}
}

// Apply wendet alle Options an.
func (o *LoadOptions) Apply(opts ...Option) {
	for _, opt := range opts {
		opt(o)
	}
}

// Validate prueft die Optionen.
func (o *LoadOptions) Validate() error {
	if o.Device != ml.DeviceCPU {
		return fmt.Errorf("%w: %s", ErrDevice, o.Device)
	}
	if o.InputDim <= 0 {
		return fmt.Errorf("%w: input dim %d", ErrInvalidOptions, o.InputDim)
	}
	if o.LogitScale <= 0 {
		return fmt.Errorf("%w: logit scale %v", ErrInvalidOptions, o.LogitScale)
	}
	return nil
}
