// MODUL: layers
// ZWECK: Bausteine des Referenz-Dual-Encoders mit manuellem Backward
// INPUT: Aktivierungen (B x in) als gonum-Matrizen
// OUTPUT: Aktivierungen (B x out) und BackwardFunc
// NEBENEFFEKTE: Backward akkumuliert Gradienten in Parameter mit RequiresGrad
// ABHAENGIGKEITEN: gonum/mat, ml
// HINWEISE: Ein nil back beim Forward bedeutet: kein Gradienten-Tracking.
//           Dann liefert auch der Layer nil zurueck.

package clip

import (
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/mat"

	"github.com/7blacky7/fewshot-clip/ml"
)

// noBackward ist der Einstiegspunkt eines Backward-Graphen fuer Eingaben,
// die selbst keinen Gradienten brauchen (Pixel, Token).
func noBackward(*mat.Dense) {}

// ============================================================================
// LayerNorm
// ============================================================================

const layerNormEps = 1e-5

// LayerNorm normalisiert jede Zeile und wendet Gain (Weight) und Shift (Bias) an.
type LayerNorm struct {
	Weight *ml.Parameter // 1 x dim
	Bias   *ml.Parameter // 1 x dim
}

// NewLayerNorm erstellt eine LayerNorm mit Weight=1 und Bias=0.
func NewLayerNorm(name string, dim int) *LayerNorm {
	w := mat.NewDense(1, dim, nil)
	for j := 0; j < dim; j++ {
		w.Set(0, j, 1)
	}
	return &LayerNorm{
		Weight: ml.NewParameter(name+".weight", w),
		Bias:   ml.NewParameter(name+".bias", mat.NewDense(1, dim, nil)),
	}
}

// Parameters gibt Weight und Bias zurueck.
func (ln *LayerNorm) Parameters() ml.ParamSet {
	return ml.ParamSet{ln.Weight, ln.Bias}
}

// Forward berechnet y = (x - mean) / std * weight + bias.
func (ln *LayerNorm) Forward(x *mat.Dense, back ml.BackwardFunc) (*mat.Dense, ml.BackwardFunc) {
	r, c := x.Dims()
	w := ln.Weight.Value.RawRowView(0)
	b := ln.Bias.Value.RawRowView(0)

	y := mat.NewDense(r, c, nil)
	xhat := mat.NewDense(r, c, nil)
	invStd := make([]float64, r)

	for i := 0; i < r; i++ {
		row := x.RawRowView(i)
		mean := 0.0
		for _, v := range row {
			mean += v
		}
		mean /= float64(c)
		variance := 0.0
		for _, v := range row {
			d := v - mean
			variance += d * d
		}
		variance /= float64(c)
		invStd[i] = 1 / math.Sqrt(variance+layerNormEps)

		xh := xhat.RawRowView(i)
		out := y.RawRowView(i)
		for j, v := range row {
			xh[j] = (v - mean) * invStd[i]
			out[j] = xh[j]*w[j] + b[j]
		}
	}

	if back == nil {
		return y, nil
	}

	return y, func(dy *mat.Dense) {
		dw := mat.NewDense(1, c, nil)
		db := mat.NewDense(1, c, nil)
		dwRow, dbRow := dw.RawRowView(0), db.RawRowView(0)
		dx := mat.NewDense(r, c, nil)

		for i := 0; i < r; i++ {
			g := dy.RawRowView(i)
			xh := xhat.RawRowView(i)
			meanG, meanGX := 0.0, 0.0
			for j := range g {
				dwRow[j] += g[j] * xh[j]
				dbRow[j] += g[j]
				gx := g[j] * w[j]
				meanG += gx
				meanGX += gx * xh[j]
			}
			meanG /= float64(c)
			meanGX /= float64(c)

			out := dx.RawRowView(i)
			for j := range g {
				out[j] = invStd[i] * (g[j]*w[j] - meanG - xh[j]*meanGX)
			}
		}

		ln.Weight.AccumulateGrad(dw)
		ln.Bias.AccumulateGrad(db)
		back(dx)
	}
}

// ============================================================================
// Linear (optional mit LoRA-Adapter)
// ============================================================================

// Linear berechnet y = x Wᵀ + b (+ LoRA-Anteil falls injiziert).
type Linear struct {
	Weight *ml.Parameter // out x in
	Bias   *ml.Parameter // 1 x out, nil ohne Bias
	LoRA   *LoRA
}

// NewLinear erstellt einen Linear-Layer mit skalierter Normalverteilung.
func NewLinear(name string, in, out int, bias bool, rng *rand.Rand) *Linear {
	l := &Linear{Weight: ml.NewParameter(name+".weight", randomDense(out, in, 1/math.Sqrt(float64(in)), rng))}
	if bias {
		l.Bias = ml.NewParameter(name+".bias", mat.NewDense(1, out, nil))
	}
	return l
}

// Dims gibt (in, out) zurueck.
func (l *Linear) Dims() (in, out int) {
	out, in = l.Weight.Dims()
	return in, out
}

// Parameters gibt Weight, Bias und ggf. die LoRA-Faktoren zurueck.
func (l *Linear) Parameters() ml.ParamSet {
	ps := ml.ParamSet{l.Weight}
	if l.Bias != nil {
		ps = append(ps, l.Bias)
	}
	if l.LoRA != nil {
		ps = append(ps, l.LoRA.A, l.LoRA.B)
	}
	return ps
}

// Forward berechnet den Layer. back == nil: ohne Gradienten.
func (l *Linear) Forward(x *mat.Dense, back ml.BackwardFunc) (*mat.Dense, ml.BackwardFunc) {
	r, _ := x.Dims()
	_, out := l.Dims()

	y := mat.NewDense(r, out, nil)
	y.Mul(x, l.Weight.Value.T())
	if l.Bias != nil {
		b := l.Bias.Value.RawRowView(0)
		for i := 0; i < r; i++ {
			row := y.RawRowView(i)
			for j := range row {
				row[j] += b[j]
			}
		}
	}

	var h *mat.Dense
	if l.LoRA != nil {
		h = l.LoRA.forward(x, y)
	}

	if back == nil {
		return y, nil
	}

	return y, func(dy *mat.Dense) {
		in, _ := l.Dims()

		if l.Weight.RequiresGrad {
			dw := mat.NewDense(out, in, nil)
			dw.Mul(dy.T(), x)
			l.Weight.AccumulateGrad(dw)
		}
		if l.Bias != nil && l.Bias.RequiresGrad {
			l.Bias.AccumulateGrad(sumRows(dy))
		}

		dx := mat.NewDense(r, in, nil)
		dx.Mul(dy, l.Weight.Value)
		if l.LoRA != nil {
			dx.Add(dx, l.LoRA.backward(x, h, dy))
		}
		back(dx)
	}
}

// ============================================================================
// Residual-Block
// ============================================================================

// Block ist ein Pre-Norm Residual-Block: h + tanh(fc(ln(h))).
type Block struct {
	LN *LayerNorm
	FC *Linear
}

func newBlock(name string, width int, rng *rand.Rand) *Block {
	return &Block{
		LN: NewLayerNorm(name+".ln", width),
		FC: NewLinear(name+".fc", width, width, true, rng),
	}
}

// Parameters gibt die Parameter von LN und FC zurueck.
func (b *Block) Parameters() ml.ParamSet {
	return append(b.LN.Parameters(), b.FC.Parameters()...)
}

// Forward berechnet den Block.
func (b *Block) Forward(x *mat.Dense, back ml.BackwardFunc) (*mat.Dense, ml.BackwardFunc) {
	var inner ml.BackwardFunc
	var dxInner *mat.Dense
	if back != nil {
		// der Zweig sammelt seinen Eingangsgradienten, der Residual-Pfad addiert ihn
		inner = func(dx *mat.Dense) { dxInner = dx }
	}

	n, nb := b.LN.Forward(x, inner)
	z, zb := b.FC.Forward(n, nb)

	r, c := z.Dims()
	t := mat.NewDense(r, c, nil)
	t.Apply(func(_, _ int, v float64) float64 { return math.Tanh(v) }, z)

	y := mat.NewDense(r, c, nil)
	y.Add(x, t)

	if back == nil {
		return y, nil
	}

	return y, func(dy *mat.Dense) {
		dz := mat.NewDense(r, c, nil)
		dz.Apply(func(i, j int, g float64) float64 {
			tv := t.At(i, j)
			return g * (1 - tv*tv)
		}, dy)
		zb(dz)

		dx := mat.NewDense(r, c, nil)
		dx.Add(dy, dxInner)
		back(dx)
	}
}

// ============================================================================
// Projektion ohne Bias
// ============================================================================

// project berechnet y = x P mit P (in x out).
func project(p *ml.Parameter, x *mat.Dense, back ml.BackwardFunc) (*mat.Dense, ml.BackwardFunc) {
	r, _ := x.Dims()
	_, out := p.Dims()
	y := mat.NewDense(r, out, nil)
	y.Mul(x, p.Value)

	if back == nil {
		return y, nil
	}
	return y, func(dy *mat.Dense) {
		if p.RequiresGrad {
			in, _ := p.Dims()
			dp := mat.NewDense(in, out, nil)
			dp.Mul(x.T(), dy)
			p.AccumulateGrad(dp)
		}
		rx, cx := x.Dims()
		dx := mat.NewDense(rx, cx, nil)
		dx.Mul(dy, p.Value.T())
		back(dx)
	}
}

// ============================================================================
// Hilfsfunktionen
// ============================================================================

func sumRows(m *mat.Dense) *mat.Dense {
	r, c := m.Dims()
	out := mat.NewDense(1, c, nil)
	row := out.RawRowView(0)
	for i := 0; i < r; i++ {
		for j, v := range m.RawRowView(i) {
			row[j] += v
		}
	}
	return out
}

func randomDense(r, c int, std float64, rng *rand.Rand) *mat.Dense {
	data := make([]float64, r*c)
	for i := range data {
		data[i] = rng.NormFloat64() * std
	}
	return mat.NewDense(r, c, data)
}
