// MODUL: lora
// ZWECK: Low-Rank-Adapter fuer die Linear-Layer der Residual-Bloecke
// INPUT: Dual-Encoder, Ziel-Tuerme mit Start-Layer, Rank und Alpha
// OUTPUT: Anzahl umschlossener Layer, LoRA-Parameter
// NEBENEFFEKTE: Haengt Adapter an bestehende Linear-Layer, aendert RequiresGrad
// ABHAENGIGKEITEN: gonum/mat, ml
// HINWEISE: B wird mit Null initialisiert. Direkt nach der Injektion rechnet das
//           Modell daher exakt wie vorher.

package clip

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"strings"

	"gonum.org/v1/gonum/mat"

	"github.com/7blacky7/fewshot-clip/ml"
)

// ErrInvalidLoRA wird bei Rank <= 0 oder Alpha <= 0 zurueckgegeben.
var ErrInvalidLoRA = errors.New("clip: invalid lora config")

const (
	loraSuffixA = ".lora_A"
	loraSuffixB = ".lora_B"
)

// LoRA haelt die Faktoren A (r x in) und B (out x r) eines Adapters.
// Der Beitrag zum Layer ist Scale * x Aᵀ Bᵀ mit Scale = Alpha / Rank.
type LoRA struct {
	A     *ml.Parameter
	B     *ml.Parameter
	Scale float64
}

// LoRAConfig beschreibt die Injektion.
type LoRAConfig struct {
	Rank  int     `yaml:"rank"`
	Alpha float64 `yaml:"alpha"`
	Seed  uint64  `yaml:"-"`
}

// LoRATarget waehlt einen Turm und den ersten Block, der einen Adapter bekommt.
type LoRATarget struct {
	Tower TowerKind
	Start int
}

// DefaultLoRAConfig: Rank 4, Alpha 8.
func DefaultLoRAConfig() LoRAConfig {
	return LoRAConfig{Rank: 4, Alpha: 8}
}

// Validate prueft Rank und Alpha.
func (c LoRAConfig) Validate() error {
	if c.Rank <= 0 || c.Alpha <= 0 {
		return fmt.Errorf("%w: rank=%d alpha=%v", ErrInvalidLoRA, c.Rank, c.Alpha)
	}
	return nil
}

// ApplyLoRA haengt Adapter an alle Block-Linear-Layer der Ziele ab ihrem
// Start-Index. Bereits umschlossene Layer bleiben unveraendert.
// Gibt die Anzahl neu umschlossener Layer zurueck.
func ApplyLoRA(m DualEncoder, targets []LoRATarget, cfg LoRAConfig) (int, error) {
	if err := cfg.Validate(); err != nil {
		return 0, err
	}
	rng := rand.New(rand.NewPCG(cfg.Seed, 0x10ba))

	n := 0
	for _, t := range targets {
		for _, layer := range m.Layers(t.Tower) {
			if layer.Linear == nil || layer.Index < t.Start || layer.Linear.LoRA != nil {
				continue
			}
			layer.Linear.LoRA = newLoRA(layer.Linear, cfg, rng)
			n++
		}
	}
	return n, nil
}

// MarkOnlyLoRAAsTrainable friert alle Parameter ausser den LoRA-Faktoren ein.
func MarkOnlyLoRAAsTrainable(m DualEncoder) {
	for _, p := range m.Parameters() {
		p.RequiresGrad = IsLoRAParameter(p.Name)
	}
}

// LoRAParameters gibt alle LoRA-Faktoren des Modells zurueck.
func LoRAParameters(m DualEncoder) ml.ParamSet {
	var out ml.ParamSet
	for _, p := range m.Parameters() {
		if IsLoRAParameter(p.Name) {
			out = append(out, p)
		}
	}
	return out
}

// IsLoRAParameter erkennt LoRA-Faktoren am Namen.
func IsLoRAParameter(name string) bool {
	return strings.HasSuffix(name, loraSuffixA) || strings.HasSuffix(name, loraSuffixB)
}

func newLoRA(l *Linear, cfg LoRAConfig, rng *rand.Rand) *LoRA {
	in, out := l.Dims()
	base := strings.TrimSuffix(l.Weight.Name, ".weight")

	// A ~ U(-1/sqrt(in), 1/sqrt(in)), B = 0
	bound := 1 / math.Sqrt(float64(in))
	a := make([]float64, cfg.Rank*in)
	for i := range a {
		a[i] = (2*rng.Float64() - 1) * bound
	}

	return &LoRA{
		A:     ml.NewParameter(base+loraSuffixA, mat.NewDense(cfg.Rank, in, a)),
		B:     ml.NewParameter(base+loraSuffixB, mat.NewDense(out, cfg.Rank, nil)),
		Scale: cfg.Alpha / float64(cfg.Rank),
	}
}

// forward addiert den Adapter-Beitrag auf y und gibt h = x Aᵀ zurueck.
func (a *LoRA) forward(x, y *mat.Dense) *mat.Dense {
	r, _ := x.Dims()
	rank, _ := a.A.Dims()
	_, out := y.Dims()

	h := mat.NewDense(r, rank, nil)
	h.Mul(x, a.A.Value.T())

	delta := mat.NewDense(r, out, nil)
	delta.Mul(h, a.B.Value.T())
	delta.Scale(a.Scale, delta)
	y.Add(y, delta)
	return h
}

// backward akkumuliert dA und dB und gibt den Beitrag zu dx zurueck.
func (a *LoRA) backward(x, h, dy *mat.Dense) *mat.Dense {
	r, in := x.Dims()
	rank, _ := a.A.Dims()
	out, _ := a.B.Dims()

	if a.B.RequiresGrad {
		db := mat.NewDense(out, rank, nil)
		db.Mul(dy.T(), h)
		db.Scale(a.Scale, db)
		a.B.AccumulateGrad(db)
	}

	dh := mat.NewDense(r, rank, nil)
	dh.Mul(dy, a.B.Value)
	dh.Scale(a.Scale, dh)

	if a.A.RequiresGrad {
		da := mat.NewDense(rank, in, nil)
		da.Mul(dh.T(), x)
		a.A.AccumulateGrad(da)
	}

	dx := mat.NewDense(r, in, nil)
	dx.Mul(dh, a.A.Value)
	return dx
}
