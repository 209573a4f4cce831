// MODUL: amp/scaler
// ZWECK: Dynamisches Loss-Scaling fuer Mixed-Precision-Training
// INPUT: Loss-Gradient, Optimizer mit Parametern
// OUTPUT: Optimizer-Schritt oder verworfener Schritt (skipped)
// NEBENEFFEKTE: Veraendert Gradienten (unscale) und Parameter (via Optimizer)
// ABHAENGIGKEITEN: gonum/mat, ml
// HINWEISE: Zwei-Phasen-Protokoll: ScaleLossGrad vor Backward, StepAndUpdate danach.
//           Ein Schritt gilt als verworfen, wenn der Scale nach Update kleiner ist
//           als vorher.

package amp

import (
	"errors"

	"gonum.org/v1/gonum/mat"

	"github.com/7blacky7/fewshot-clip/ml"
)

// ============================================================================
// Optionen
// ============================================================================

// ErrInvalidScaler wird bei ungueltigen ScalerOptions zurueckgegeben.
var ErrInvalidScaler = errors.New("amp: invalid scaler options")

// ScalerOptions konfiguriert den GradScaler.
type ScalerOptions struct {
	Enabled        bool    `yaml:"enabled"`
	InitScale      float64 `yaml:"init_scale"`
	GrowthFactor   float64 `yaml:"growth_factor"`
	BackoffFactor  float64 `yaml:"backoff_factor"`
	GrowthInterval int     `yaml:"growth_interval"`
}

// DefaultScalerOptions entspricht den ueblichen Defaults: 2^16, x2, x0.5, 2000.
func DefaultScalerOptions() ScalerOptions {
	return ScalerOptions{
		Enabled:        true,
		InitScale:      65536,
		GrowthFactor:   2,
		BackoffFactor:  0.5,
		GrowthInterval: 2000,
	}
}

// Validate prueft die Optionen.
func (o ScalerOptions) Validate() error {
	if !o.Enabled {
		return nil
	}
	switch {
	case o.InitScale <= 0:
		return ErrInvalidScaler
	case o.GrowthFactor <= 1:
		return ErrInvalidScaler
	case o.BackoffFactor <= 0 || o.BackoffFactor >= 1:
		return ErrInvalidScaler
	case o.GrowthInterval <= 0:
		return ErrInvalidScaler
	}
	return nil
}

// ============================================================================
// GradScaler
// ============================================================================

// Stepper ist der Teil eines Optimizers, den der Scaler braucht.
type Stepper interface {
	Step()
	Params() ml.ParamSet
}

// GradScaler skaliert den Loss vor Backward und entscheidet nach Backward,
// ob der Optimizer-Schritt ausgefuehrt oder verworfen wird.
type GradScaler struct {
	opts          ScalerOptions
	scale         float64
	growthTracker int
	foundInf      bool
}

// NewGradScaler erstellt einen Scaler. Bei deaktivierten Optionen ist der
// Scale konstant 1 und kein Schritt wird verworfen.
func NewGradScaler(opts ScalerOptions) *GradScaler {
	scale := opts.InitScale
	if !opts.Enabled {
		scale = 1
	}
	return &GradScaler{opts: opts, scale: scale}
}

// GetScale gibt den aktuellen Loss-Scale zurueck.
func (s *GradScaler) GetScale() float64 {
	return s.scale
}

// ScaleLossGrad multipliziert den Loss-Gradienten mit dem aktuellen Scale.
// Entspricht scaler.scale(loss).backward() am Einstieg in den Backward.
func (s *GradScaler) ScaleLossGrad(grad *mat.Dense) *mat.Dense {
	if !s.opts.Enabled {
		return grad
	}
	r, c := grad.Dims()
	out := mat.NewDense(r, c, nil)
	out.Scale(s.scale, grad)
	return out
}

// Step entfernt den Scale aus den Gradienten und fuehrt den Optimizer-Schritt
// aus, ausser ein Gradient ist nicht endlich.
func (s *GradScaler) Step(opt Stepper) {
	if !s.opts.Enabled {
		opt.Step()
		return
	}

	s.foundInf = false
	params := opt.Params()
	for _, p := range params {
		if p.Grad != nil && !ml.AllFinite(p.Grad) {
			s.foundInf = true
			return
		}
	}

	inv := 1 / s.scale
	for _, p := range params {
		if p.Grad != nil {
			p.Grad.Scale(inv, p.Grad)
		}
	}
	opt.Step()
}

// Update passt den Scale an: Backoff nach Inf, Growth nach GrowthInterval
// erfolgreichen Schritten in Folge.
func (s *GradScaler) Update() {
	if !s.opts.Enabled {
		return
	}
	if s.foundInf {
		s.scale *= s.opts.BackoffFactor
		s.growthTracker = 0
		s.foundInf = false
		return
	}
	s.growthTracker++
	if s.growthTracker == s.opts.GrowthInterval {
		s.scale *= s.opts.GrowthFactor
		s.growthTracker = 0
	}
}

// StepAndUpdate fuehrt Step und Update aus und meldet, ob der Schritt wegen
// Overflow verworfen wurde (Scale nach Update kleiner als vorher).
func (s *GradScaler) StepAndUpdate(opt Stepper) (skipped bool) {
	s.Step(opt)
	before := s.GetScale()
	s.Update()
	return before > s.GetScale()
}
