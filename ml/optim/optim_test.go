package optim

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/7blacky7/fewshot-clip/ml"
)

func TestNewAdamWRequiresParams(t *testing.T) {
	_, err := NewAdamW(nil, DefaultAdamWOptions(1e-3, 0))
	assert.ErrorIs(t, err, ErrNoParams)
}

func TestAdamWFirstStep(t *testing.T) {
	p := ml.NewParameter("w", mat.NewDense(1, 2, []float64{1, -1}))
	opt, err := NewAdamW(ml.ParamSet{p}, DefaultAdamWOptions(0.1, 0.5))
	require.NoError(t, err)

	p.AccumulateGrad(mat.NewDense(1, 2, []float64{2, -0.001}))
	opt.Step()

	// erster Schritt: m/sqrt(v) = sign(g) nach Bias-Korrektur,
	// Decay vorher: w * (1 - lr*wd)
	assert.InDelta(t, 1*0.95-0.1, p.Value.At(0, 0), 1e-6)
	assert.InDelta(t, -1*0.95+0.1, p.Value.At(0, 1), 1e-4)
}

func TestAdamWSkipsFrozenAndGradless(t *testing.T) {
	frozen := ml.NewParameter("frozen", mat.NewDense(1, 1, []float64{1}))
	frozen.AccumulateGrad(mat.NewDense(1, 1, []float64{1}))
	frozen.RequiresGrad = false
	gradless := ml.NewParameter("gradless", mat.NewDense(1, 1, []float64{1}))

	opt, err := NewAdamW(ml.ParamSet{frozen, gradless}, DefaultAdamWOptions(0.1, 0.1))
	require.NoError(t, err)
	opt.Step()

	assert.Equal(t, 1.0, frozen.Value.At(0, 0))
	assert.Equal(t, 1.0, gradless.Value.At(0, 0))

	opt.ZeroGrad()
	assert.Nil(t, frozen.Grad)
}

func TestAdamWMinimizesQuadratic(t *testing.T) {
	p := ml.NewParameter("w", mat.NewDense(1, 1, []float64{5}))
	opt, err := NewAdamW(ml.ParamSet{p}, DefaultAdamWOptions(0.1, 0))
	require.NoError(t, err)

	for i := 0; i < 500; i++ {
		w := p.Value.At(0, 0)
		p.AccumulateGrad(mat.NewDense(1, 1, []float64{2 * (w - 2)}))
		opt.Step()
		opt.ZeroGrad()
	}
	assert.InDelta(t, 2, p.Value.At(0, 0), 0.1)
}

func TestCosineAnnealingLR(t *testing.T) {
	p := ml.NewParameter("w", mat.NewDense(1, 1, nil))
	opt, err := NewAdamW(ml.ParamSet{p}, DefaultAdamWOptions(1e-2, 0))
	require.NoError(t, err)

	s := NewCosineAnnealingLR(opt, 4, 1e-6)
	assert.Equal(t, 1e-2, s.LastLR())

	var lrs []float64
	for i := 0; i < 6; i++ {
		s.Step()
		lrs = append(lrs, opt.LR())
	}

	assert.InDelta(t, 1e-6+(1e-2-1e-6)*(1+math.Cos(math.Pi/4))/2, lrs[0], 1e-12)
	assert.InDelta(t, 1e-6+(1e-2-1e-6)/2, lrs[1], 1e-12)
	for i := 1; i < 4; i++ {
		assert.Less(t, lrs[i], lrs[i-1])
	}
	// ab TMax bleibt die Lernrate auf EtaMin
	assert.Equal(t, 1e-6, lrs[3])
	assert.Equal(t, 1e-6, lrs[5])
	assert.Equal(t, 6, s.LastEpoch())
	assert.Equal(t, opt.LR(), s.LastLR())
}

func TestCosineAnnealingZeroBudget(t *testing.T) {
	p := ml.NewParameter("w", mat.NewDense(1, 1, nil))
	opt, err := NewAdamW(ml.ParamSet{p}, DefaultAdamWOptions(1e-2, 0))
	require.NoError(t, err)

	s := NewCosineAnnealingLR(opt, 0, 1e-6)
	s.Step()
	assert.Equal(t, 1e-6, opt.LR())
}
