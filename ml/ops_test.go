package ml

import (
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func TestNormalizeRows(t *testing.T) {
	x := mat.NewDense(3, 2, []float64{3, 4, 0, 0, -1, 0})
	y, norms := NormalizeRows(x)

	assert.InDeltaSlice(t, []float64{5, normEps, 1}, norms, 1e-12)
	assert.InDelta(t, 0.6, y.At(0, 0), 1e-12)
	assert.InDelta(t, 0.8, y.At(0, 1), 1e-12)
	assert.Equal(t, 0.0, y.At(1, 0))
	assert.Equal(t, -1.0, y.At(2, 0))
}

func TestNormalizeBackwardFiniteDifference(t *testing.T) {
	x := mat.NewDense(2, 3, []float64{0.5, -1.2, 2.0, 0.1, 0.3, -0.7})
	w := mat.NewDense(2, 3, []float64{1, 2, -1, 0.5, -0.5, 3})

	loss := func(x *mat.Dense) float64 {
		y, _ := NormalizeRows(x)
		var s float64
		for i, v := range y.RawMatrix().Data {
			s += v * w.RawMatrix().Data[i]
		}
		return s
	}

	var got *mat.Dense
	y, back := Normalize(x, func(g *mat.Dense) { got = g })
	require.NotNil(t, y)
	back(w)

	const h = 1e-6
	for i := 0; i < 2; i++ {
		for j := 0; j < 3; j++ {
			xp := mat.DenseCopyOf(x)
			xp.Set(i, j, x.At(i, j)+h)
			xm := mat.DenseCopyOf(x)
			xm.Set(i, j, x.At(i, j)-h)
			want := (loss(xp) - loss(xm)) / (2 * h)
			if math.Abs(got.At(i, j)-want) > 1e-6 {
				t.Errorf("dx[%d][%d] = %v, erwartet %v", i, j, got.At(i, j), want)
			}
		}
	}
}

func TestNormalizeWithoutTracking(t *testing.T) {
	_, back := Normalize(mat.NewDense(1, 2, []float64{1, 1}), nil)
	assert.Nil(t, back)
}

func TestScaledSimilarityBackward(t *testing.T) {
	a := mat.NewDense(2, 2, []float64{1, 0, 0, 1})
	b := mat.NewDense(3, 2, []float64{1, 2, 3, 4, 5, 6})
	logits := ScaledSimilarity(a, b, 2)
	assert.Equal(t, []float64{2, 6, 10, 4, 8, 12}, logits.RawMatrix().Data)

	d := mat.NewDense(2, 3, []float64{1, 0, 0, 0, 0, 1})
	da, db := ScaledSimilarityBackward(a, b, 2, d)
	// da = 2 * d @ b, db = 2 * dᵀ @ a
	assert.Equal(t, []float64{2, 4, 10, 12}, da.RawMatrix().Data)
	assert.Equal(t, []float64{2, 0, 0, 0, 0, 2}, db.RawMatrix().Data)
}

func TestCrossEntropy(t *testing.T) {
	logits := mat.NewDense(2, 3, []float64{0, 0, 0, 10, 0, 0})
	loss, grad := CrossEntropy(logits, []int{1, 0})

	want := (math.Log(3) + (math.Log(math.Exp(10)+2) - 10)) / 2
	assert.InDelta(t, want, loss, 1e-12)

	// jede Gradienten-Zeile summiert zu 0
	for i := 0; i < 2; i++ {
		var s float64
		for _, v := range grad.RawRowView(i) {
			s += v
		}
		assert.InDelta(t, 0, s, 1e-12)
	}
	assert.InDelta(t, (1.0/3-1)/2, grad.At(0, 1), 1e-12)

	// grosse Logits bleiben stabil
	loss, grad = CrossEntropy(mat.NewDense(1, 2, []float64{1000, 0}), []int{0})
	assert.False(t, math.IsNaN(loss))
	assert.True(t, AllFinite(grad))

	loss, grad = CrossEntropy(&mat.Dense{}, nil)
	assert.Equal(t, 0.0, loss)
	assert.Nil(t, grad)
}

func TestAccuracyHelpers(t *testing.T) {
	logits := mat.NewDense(4, 3, []float64{
		1, 2, 3,
		3, 2, 1,
		0, 5, 0,
		1, 1, 1,
	})
	labels := []int{2, 0, 0, 0}

	if diff := cmp.Diff([]int{2, 0, 1, 0}, ArgmaxRows(logits)); diff != "" {
		t.Errorf("ArgmaxRows (-want +got):\n%s", diff)
	}
	assert.Equal(t, 3, Top1Correct(logits, labels))
	assert.Equal(t, 75.0, ClsAcc(logits, labels))
	assert.Equal(t, 0.0, ClsAcc(logits, nil))
}

func TestStackAndCopyRows(t *testing.T) {
	m := StackRows([][]float64{{1, 2}, {3, 4}})
	r, c := m.Dims()
	assert.Equal(t, 2, r)
	assert.Equal(t, 2, c)

	row := RowCopy(m, 1)
	row[0] = 99
	assert.Equal(t, 3.0, m.At(1, 0))

	assert.True(t, StackRows(nil).IsEmpty())
	assert.Panics(t, func() { StackRows([][]float64{{1}, {1, 2}}) })
}

func TestAllFinite(t *testing.T) {
	assert.True(t, AllFinite(mat.NewDense(1, 2, []float64{1, -1})))
	assert.False(t, AllFinite(mat.NewDense(1, 2, []float64{1, math.Inf(1)})))
	assert.False(t, AllFinite(mat.NewDense(1, 2, []float64{math.NaN(), 0})))
}

func TestParamSet(t *testing.T) {
	a := NewParameter("visual.ln.weight", mat.NewDense(1, 4, nil))
	b := NewParameter("text.ln.bias", mat.NewDense(2, 3, nil))
	set := ParamSet{a, b}

	assert.Equal(t, 10, set.Count(false))
	set.Freeze()
	assert.Equal(t, 0, set.Count(true))
	assert.Empty(t, set.Trainable())

	b.RequiresGrad = true
	assert.Equal(t, 6, set.Count(true))
	assert.Equal(t, []string{"text.ln.bias"}, set.Trainable().Names())
	assert.Equal(t, ParamSet{a}, set.WithPrefix("visual."))

	p, ok := set.Lookup("text.ln.bias")
	require.True(t, ok)
	assert.Same(t, b, p)
	_, ok = set.Lookup("missing")
	assert.False(t, ok)
}

func TestAccumulateGrad(t *testing.T) {
	p := NewParameter("w", mat.NewDense(1, 2, nil))
	assert.True(t, p.GradIsZero())

	p.AccumulateGrad(mat.NewDense(1, 2, []float64{1, 2}))
	p.AccumulateGrad(mat.NewDense(1, 2, []float64{1, 2}))
	assert.Equal(t, []float64{2, 4}, p.Grad.RawMatrix().Data)
	assert.False(t, p.GradIsZero())

	p.ZeroGrad()
	assert.Nil(t, p.Grad)

	p.RequiresGrad = false
	p.AccumulateGrad(mat.NewDense(1, 2, []float64{1, 2}))
	assert.True(t, p.GradIsZero())
}

func TestChain(t *testing.T) {
	assert.Nil(t, Chain(nil, func(m *mat.Dense) *mat.Dense { return m }))

	var got float64
	back := Chain(func(g *mat.Dense) { got = g.At(0, 0) }, func(m *mat.Dense) *mat.Dense {
		out := mat.DenseCopyOf(m)
		out.Scale(3, out)
		return out
	})
	back(mat.NewDense(1, 1, []float64{2}))
	assert.Equal(t, 6.0, got)
	assert.Equal(t, "f16", DTypeF16.String())
}
