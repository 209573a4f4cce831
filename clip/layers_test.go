// MODUL: layers_test
// ZWECK: Gradienten-Pruefung der Layer gegen finite Differenzen
// INPUT: Zufaellige Eingaben mit festem Seed
// OUTPUT: Testresultate
// NEBENEFFEKTE: keine
// ABHAENGIGKEITEN: testing, testify, gonum/mat
// HINWEISE: Loss = sum(y * R) mit festem R, damit dy = R

package clip

import (
	"math"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/7blacky7/fewshot-clip/ml"
)

type forwardFn func(x *mat.Dense, back ml.BackwardFunc) (*mat.Dense, ml.BackwardFunc)

// weightedSum berechnet sum(y * r)
func weightedSum(y, r *mat.Dense) float64 {
	s := 0.0
	yr, rr := y.RawMatrix().Data, r.RawMatrix().Data
	for i := range yr {
		s += yr[i] * rr[i]
	}
	return s
}

// checkGradients vergleicht analytische und numerische Gradienten fuer
// alle Parameter und die Eingabe.
func checkGradients(t *testing.T, f forwardFn, x *mat.Dense, params ml.ParamSet, rng *rand.Rand) {
	t.Helper()

	y, _ := f(x, nil)
	rows, cols := y.Dims()
	r := randomDense(rows, cols, 1, rng)

	params.ZeroGrad()
	var dx *mat.Dense
	_, back := f(x, func(g *mat.Dense) { dx = g })
	require.NotNil(t, back, "Backward sollte mit Tracking existieren")
	back(r)
	require.NotNil(t, dx, "Eingangsgradient fehlt")

	loss := func() float64 {
		out, _ := f(x, nil)
		return weightedSum(out, r)
	}

	const h = 1e-6
	numeric := func(v []float64, k int) float64 {
		old := v[k]
		v[k] = old + h
		lp := loss()
		v[k] = old - h
		lm := loss()
		v[k] = old
		return (lp - lm) / (2 * h)
	}

	for _, p := range params {
		data := p.Value.RawMatrix().Data
		for k := range data {
			want := numeric(data, k)
			got := 0.0
			if p.Grad != nil {
				got = p.Grad.RawMatrix().Data[k]
			}
			require.InDelta(t, want, got, 1e-5*math.Max(1, math.Abs(want)), "Gradient %s[%d]", p.Name, k)
		}
	}

	xd := x.RawMatrix().Data
	for k := range xd {
		want := numeric(xd, k)
		require.InDelta(t, want, dx.RawMatrix().Data[k], 1e-5*math.Max(1, math.Abs(want)), "Eingangsgradient [%d]", k)
	}
}

func TestLayerNormGradients(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))
	ln := NewLayerNorm("ln", 5)
	// nicht-triviale Affine-Parameter
	ln.Weight.Value = randomDense(1, 5, 1, rng)
	ln.Bias.Value = randomDense(1, 5, 1, rng)

	x := randomDense(3, 5, 1, rng)
	checkGradients(t, ln.Forward, x, ln.Parameters(), rng)
}

func TestLinearGradients(t *testing.T) {
	rng := rand.New(rand.NewPCG(3, 4))
	l := NewLinear("fc", 4, 3, true, rng)
	x := randomDense(2, 4, 1, rng)
	checkGradients(t, l.Forward, x, l.Parameters(), rng)
}

func TestLinearWithLoRAGradients(t *testing.T) {
	rng := rand.New(rand.NewPCG(5, 6))
	l := NewLinear("fc", 4, 3, true, rng)
	l.LoRA = newLoRA(l, LoRAConfig{Rank: 2, Alpha: 4}, rng)
	// B ungleich Null, damit auch dA geprueft wird
	l.LoRA.B.Value = randomDense(3, 2, 1, rng)

	x := randomDense(2, 4, 1, rng)
	checkGradients(t, l.Forward, x, l.Parameters(), rng)
}

func TestBlockGradients(t *testing.T) {
	rng := rand.New(rand.NewPCG(7, 8))
	b := newBlock("blk", 4, rng)
	b.LN.Weight.Value = randomDense(1, 4, 1, rng)
	b.LN.Bias.Value = randomDense(1, 4, 1, rng)

	x := randomDense(3, 4, 1, rng)
	checkGradients(t, b.Forward, x, b.Parameters(), rng)
}

func TestProjectGradients(t *testing.T) {
	rng := rand.New(rand.NewPCG(9, 10))
	p := ml.NewParameter("proj", randomDense(4, 2, 1, rng))
	x := randomDense(3, 4, 1, rng)

	f := func(x *mat.Dense, back ml.BackwardFunc) (*mat.Dense, ml.BackwardFunc) {
		return project(p, x, back)
	}
	checkGradients(t, f, x, ml.ParamSet{p}, rng)
}

func TestFrozenParametersGetNoGradient(t *testing.T) {
	rng := rand.New(rand.NewPCG(11, 12))
	b := newBlock("blk", 4, rng)
	b.FC.Parameters().Freeze()

	x := randomDense(2, 4, 1, rng)
	y, back := b.Forward(x, noBackward)
	rows, cols := y.Dims()
	back(randomDense(rows, cols, 1, rng))

	for _, p := range b.FC.Parameters() {
		if !p.GradIsZero() {
			t.Errorf("%s hat Gradient, erwartet keinen (eingefroren)", p.Name)
		}
	}
	for _, p := range b.LN.Parameters() {
		if p.GradIsZero() {
			t.Errorf("%s hat keinen Gradienten, erwartet einen", p.Name)
		}
	}
}

func TestForwardWithoutTrackingHasNoBackward(t *testing.T) {
	rng := rand.New(rand.NewPCG(13, 14))
	b := newBlock("blk", 4, rng)
	_, back := b.Forward(randomDense(2, 4, 1, rng), nil)
	if back != nil {
		t.Error("Backward != nil ohne Tracking")
	}
}
