package fewshot

import (
	"math/rand/v2"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/7blacky7/fewshot-clip/clip"
	"github.com/7blacky7/fewshot-clip/ml"
	"github.com/7blacky7/fewshot-clip/ml/amp"
)

func newPEFTModel(t *testing.T) *clip.Model {
	t.Helper()
	m, err := clip.New(clip.ArchTiny, clip.WithSeed(11), clip.WithInputDim(testInputDim))
	require.NoError(t, err)
	return m
}

func TestSelectTrainableLN(t *testing.T) {
	m := newPEFTModel(t)
	cfg := DefaultConfig()
	cfg.Modality = ModalityVision
	cfg.VisionStart = 1

	params, err := SelectTrainable(m, cfg)
	require.NoError(t, err)

	want := []string{
		"visual.blocks.1.ln.weight",
		"visual.blocks.1.ln.bias",
		"visual.ln_post.weight",
		"visual.ln_post.bias",
	}
	assert.ElementsMatch(t, want, params.Names())
	assert.ElementsMatch(t, want, m.Parameters().Trainable().Names())
}

func TestSelectTrainableBitFit(t *testing.T) {
	m := newPEFTModel(t)
	cfg := DefaultConfig()
	cfg.PEFT = StrategyBitFit
	cfg.Modality = ModalityText

	params, err := SelectTrainable(m, cfg)
	require.NoError(t, err)

	want := []string{
		"text.blocks.0.fc.bias",
		"text.blocks.0.ln.bias",
		"text.blocks.1.fc.bias",
		"text.blocks.1.ln.bias",
		"text.ln_final.bias",
	}
	assert.ElementsMatch(t, want, params.Names())
	assert.ElementsMatch(t, want, m.Parameters().Trainable().Names())
}

func TestSelectTrainableLoRA(t *testing.T) {
	m := newPEFTModel(t)
	cfg := DefaultConfig()
	cfg.PEFT = StrategyLoRA

	params, err := SelectTrainable(m, cfg)
	require.NoError(t, err)

	// zwei Bloecke je Turm, je A und B
	require.Len(t, params, 8)
	for _, p := range params {
		assert.True(t, clip.IsLoRAParameter(p.Name), "%s ist kein LoRA-Parameter", p.Name)
		assert.True(t, p.RequiresGrad)
	}
	assert.Equal(t, len(params), len(m.Parameters().Trainable()))
}

func TestSelectTrainableRejectsUnknownStrategy(t *testing.T) {
	m := newPEFTModel(t)
	cfg := DefaultConfig()
	cfg.PEFT = "prefix"

	_, err := SelectTrainable(m, cfg)
	assert.ErrorIs(t, err, ErrInvalidStrategy)
}

// Ein einseitiger Lauf darf dem anderen Turm keinen Gradienten geben, selbst
// wenn dessen Parameter trainierbar sind.
func TestSingleBranchLeavesOtherTowerWithoutGrad(t *testing.T) {
	tests := []struct {
		modality       Modality
		active, silent string
	}{
		{ModalityVision, "visual.", "text."},
		{ModalityText, "text.", "visual."},
	}

	for _, tt := range tests {
		t.Run(string(tt.modality), func(t *testing.T) {
			m := newPEFTModel(t)
			m.Parameters().Unfreeze()

			rng := rand.New(rand.NewPCG(5, 5))
			pixels := mat.NewDense(6, testInputDim, nil)
			for i := 0; i < 6; i++ {
				for j := 0; j < testInputDim; j++ {
					pixels.Set(i, j, rng.NormFloat64())
				}
			}
			labels := []int{0, 1, 2, 0, 1, 2}
			tokens := clip.Tokenize("a photo of a {}.", []string{"cat", "dog", "car"})

			l := &loop{autocast: amp.Off()}
			logits, back := l.contrastiveForward(m, tokens, pixels, tt.modality)
			require.NotNil(t, back)
			_, dLogits := ml.CrossEntropy(logits, labels)
			back(dLogits)

			activeGrad := false
			for _, p := range m.Parameters() {
				switch {
				case strings.HasPrefix(p.Name, tt.silent):
					assert.True(t, p.GradIsZero(), "%s hat einen Gradienten", p.Name)
				case strings.HasPrefix(p.Name, tt.active) && !p.GradIsZero():
					activeGrad = true
				}
			}
			assert.True(t, activeGrad, "kein Gradient im aktiven Turm")
		})
	}
}
