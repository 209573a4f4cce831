// tower.go - Bild- und Text-Turm des Referenz-Dual-Encoders
// Enthaelt: VisionTower (Stem -> Bloecke -> ln_post -> proj),
// TextTower (Token-Embedding-Mittelwert -> Bloecke -> ln_final -> proj)
package clip

import (
	"fmt"
	"math/rand/v2"

	"gonum.org/v1/gonum/mat"

	"github.com/7blacky7/fewshot-clip/ml"
)

// ============================================================================
// VisionTower
// ============================================================================

// VisionTower bildet flache Pixel-Vektoren auf Embeddings ab.
type VisionTower struct {
	Stem   *Linear
	Blocks []*Block
	LNPost *LayerNorm
	Proj   *ml.Parameter // width x embed
}

func newVisionTower(arch Arch, inputDim int, rng *rand.Rand) *VisionTower {
	t := &VisionTower{
		Stem:   NewLinear("visual.stem", inputDim, arch.Width, true, rng),
		LNPost: NewLayerNorm("visual.ln_post", arch.Width),
		Proj:   ml.NewParameter("visual.proj", randomDense(arch.Width, arch.EmbedDim, 1/sqrtInt(arch.Width), rng)),
	}
	for i := 0; i < arch.VisionLayers; i++ {
		t.Blocks = append(t.Blocks, newBlock(fmt.Sprintf("visual.blocks.%d", i), arch.Width, rng))
	}
	return t
}

// Forward implementiert Backbone.
func (t *VisionTower) Forward(pixels *mat.Dense, grad bool) (*mat.Dense, ml.BackwardFunc) {
	var back ml.BackwardFunc
	if grad {
		back = noBackward
	}

	h, back := t.Stem.Forward(pixels, back)
	for _, b := range t.Blocks {
		h, back = b.Forward(h, back)
	}
	h, back = t.LNPost.Forward(h, back)
	return project(t.Proj, h, back)
}

// OutputDim gibt die Embedding-Dimension zurueck.
func (t *VisionTower) OutputDim() int {
	_, d := t.Proj.Dims()
	return d
}

// InputDim gibt die erwartete Pixel-Dimension zurueck.
func (t *VisionTower) InputDim() int {
	in, _ := t.Stem.Dims()
	return in
}

// Parameters gibt alle Parameter in Forward-Reihenfolge zurueck.
func (t *VisionTower) Parameters() ml.ParamSet {
	ps := t.Stem.Parameters()
	for _, b := range t.Blocks {
		ps = append(ps, b.Parameters()...)
	}
	ps = append(ps, t.LNPost.Parameters()...)
	return append(ps, t.Proj)
}

// Layers gibt die Bloecke und die finale Norm als Layer-Sicht zurueck.
func (t *VisionTower) Layers() []Layer {
	return towerLayers(t.Blocks, t.LNPost)
}

// ============================================================================
// TextTower
// ============================================================================

// TextTower bildet Token-Folgen auf Embeddings ab. Die Token-Embeddings einer
// Folge werden gemittelt.
type TextTower struct {
	TokenEmbedding *ml.Parameter // vocab x width
	Blocks         []*Block
	LNFinal        *LayerNorm
	Proj           *ml.Parameter // width x embed
}

func newTextTower(arch Arch, rng *rand.Rand) *TextTower {
	t := &TextTower{
		TokenEmbedding: ml.NewParameter("text.token_embedding", randomDense(VocabSize, arch.Width, 1, rng)),
		LNFinal:        NewLayerNorm("text.ln_final", arch.Width),
		Proj:           ml.NewParameter("text.proj", randomDense(arch.Width, arch.EmbedDim, 1/sqrtInt(arch.Width), rng)),
	}
	for i := 0; i < arch.TextLayers; i++ {
		t.Blocks = append(t.Blocks, newBlock(fmt.Sprintf("text.blocks.%d", i), arch.Width, rng))
	}
	return t
}

// Forward kodiert einen Token-Batch. Leere Folgen ergeben eine Null-Zeile.
func (t *TextTower) Forward(tokens [][]int, grad bool) (*mat.Dense, ml.BackwardFunc) {
	_, width := t.TokenEmbedding.Dims()
	x := mat.NewDense(len(tokens), width, nil)
	for i, seq := range tokens {
		row := x.RawRowView(i)
		for _, id := range seq {
			for j, v := range t.TokenEmbedding.Value.RawRowView(id) {
				row[j] += v
			}
		}
		if len(seq) > 0 {
			for j := range row {
				row[j] /= float64(len(seq))
			}
		}
	}

	var back ml.BackwardFunc
	if grad {
		back = func(dx *mat.Dense) {
			if !t.TokenEmbedding.RequiresGrad {
				return
			}
			vocab, _ := t.TokenEmbedding.Dims()
			de := mat.NewDense(vocab, width, nil)
			for i, seq := range tokens {
				if len(seq) == 0 {
					continue
				}
				g := dx.RawRowView(i)
				inv := 1 / float64(len(seq))
				for _, id := range seq {
					row := de.RawRowView(id)
					for j, v := range g {
						row[j] += v * inv
					}
				}
			}
			t.TokenEmbedding.AccumulateGrad(de)
		}
	}

	h := x
	for _, b := range t.Blocks {
		h, back = b.Forward(h, back)
	}
	h, back = t.LNFinal.Forward(h, back)
	return project(t.Proj, h, back)
}

// Parameters gibt alle Parameter in Forward-Reihenfolge zurueck.
func (t *TextTower) Parameters() ml.ParamSet {
	ps := ml.ParamSet{t.TokenEmbedding}
	for _, b := range t.Blocks {
		ps = append(ps, b.Parameters()...)
	}
	ps = append(ps, t.LNFinal.Parameters()...)
	return append(ps, t.Proj)
}

// Layers gibt die Bloecke und die finale Norm als Layer-Sicht zurueck.
func (t *TextTower) Layers() []Layer {
	return towerLayers(t.Blocks, t.LNFinal)
}

func towerLayers(blocks []*Block, final *LayerNorm) []Layer {
	layers := make([]Layer, 0, len(blocks)+1)
	for i, b := range blocks {
		layers = append(layers, Layer{Index: i, Norm: b.LN, Linear: b.FC})
	}
	return append(layers, Layer{Index: len(blocks), Norm: final})
}
