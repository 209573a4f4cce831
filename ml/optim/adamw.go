// adamw.go - AdamW-Optimizer mit entkoppeltem Weight-Decay
// Enthaelt: AdamW (Step, ZeroGrad, LR/SetLR, Params) und Options
package optim

import (
	"errors"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/7blacky7/fewshot-clip/ml"
)

// ErrNoParams wird zurueckgegeben wenn ein Optimizer ohne Parameter erstellt wird.
var ErrNoParams = errors.New("optim: optimizer got an empty parameter list")

// AdamWOptions enthaelt die Hyperparameter.
type AdamWOptions struct {
	LR          float64
	WeightDecay float64
	Beta1       float64
	Beta2       float64
	Eps         float64
}

// DefaultAdamWOptions: betas=(0.9, 0.999), eps=1e-8.
func DefaultAdamWOptions(lr, wd float64) AdamWOptions {
	return AdamWOptions{LR: lr, WeightDecay: wd, Beta1: 0.9, Beta2: 0.999, Eps: 1e-8}
}

type adamState struct {
	step int
	m    *mat.Dense
	v    *mat.Dense
}

// AdamW implementiert Adam mit entkoppeltem Weight-Decay.
// Parameter ohne Gradient werden im Schritt uebersprungen.
type AdamW struct {
	opts   AdamWOptions
	params ml.ParamSet
	state  map[*ml.Parameter]*adamState
}

// NewAdamW erstellt einen Optimizer ueber params.
func NewAdamW(params ml.ParamSet, opts AdamWOptions) (*AdamW, error) {
	if len(params) == 0 {
		return nil, ErrNoParams
	}
	return &AdamW{
		opts:   opts,
		params: params,
		state:  make(map[*ml.Parameter]*adamState, len(params)),
	}, nil
}

// Params gibt die optimierten Parameter zurueck.
func (o *AdamW) Params() ml.ParamSet {
	return o.params
}

// LR gibt die aktuelle Lernrate zurueck.
func (o *AdamW) LR() float64 {
	return o.opts.LR
}

// SetLR setzt die Lernrate (vom Scheduler verwendet).
func (o *AdamW) SetLR(lr float64) {
	o.opts.LR = lr
}

// Options gibt die Hyperparameter zurueck.
func (o *AdamW) Options() AdamWOptions {
	return o.opts
}

// ZeroGrad verwirft alle Gradienten.
func (o *AdamW) ZeroGrad() {
	o.params.ZeroGrad()
}

// Step fuehrt einen Update-Schritt fuer alle Parameter mit Gradient aus.
func (o *AdamW) Step() {
	lr, wd := o.opts.LR, o.opts.WeightDecay
	b1, b2, eps := o.opts.Beta1, o.opts.Beta2, o.opts.Eps

	for _, p := range o.params {
		if p.Grad == nil || !p.RequiresGrad {
			continue
		}
		st, ok := o.state[p]
		if !ok {
			r, c := p.Dims()
			st = &adamState{m: mat.NewDense(r, c, nil), v: mat.NewDense(r, c, nil)}
			o.state[p] = st
		}
		st.step++

		bc1 := 1 - math.Pow(b1, float64(st.step))
		bc2 := 1 - math.Pow(b2, float64(st.step))
		stepSize := lr / bc1
		bc2Sqrt := math.Sqrt(bc2)

		w := p.Value.RawMatrix().Data
		g := p.Grad.RawMatrix().Data
		m := st.m.RawMatrix().Data
		v := st.v.RawMatrix().Data
		for i := range w {
			w[i] *= 1 - lr*wd
			m[i] = b1*m[i] + (1-b1)*g[i]
			v[i] = b2*v[i] + (1-b2)*g[i]*g[i]
			denom := math.Sqrt(v[i])/bc2Sqrt + eps
			w[i] -= stepSize * m[i] / denom
		}
	}
}
