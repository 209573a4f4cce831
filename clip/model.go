// MODUL: model
// ZWECK: Referenz-Dual-Encoder (Bild- und Text-Turm plus Temperatur)
// INPUT: Architektur (Arch), LoadOptions
// OUTPUT: *Model, implementiert DualEncoder
// NEBENEFFEKTE: Alloziert alle Gewichte beim Erstellen
// ABHAENGIGKEITEN: gonum/mat, ml, tower.go, layers.go
// HINWEISE: Gewichte werden deterministisch aus LoadOptions.Seed erzeugt.
//           Es werden keine Checkpoints geladen.

package clip

import (
	"fmt"
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/mat"

	"github.com/7blacky7/fewshot-clip/ml"
)

// ============================================================================
// Architektur
// ============================================================================

// Arch beschreibt die Groesse eines Dual-Encoders.
type Arch struct {
	Name         string
	Width        int
	EmbedDim     int
	VisionLayers int
	TextLayers   int
}

// Validate prueft die Architektur.
func (a Arch) Validate() error {
	if a.Width <= 0 || a.EmbedDim <= 0 || a.VisionLayers < 0 || a.TextLayers < 0 {
		return fmt.Errorf("%w: %s", ErrUnknownArch, a.Name)
	}
	return nil
}

// ============================================================================
// Model
// ============================================================================

// Model ist die Referenz-Implementierung von DualEncoder.
type Model struct {
	arch       Arch
	vision     *VisionTower
	text       *TextTower
	logitScale *ml.Parameter
	device     ml.Device
	training   bool
}

// New erstellt einen Dual-Encoder mit der angegebenen Architektur.
func New(arch Arch, opts ...Option) (*Model, error) {
	if err := arch.Validate(); err != nil {
		return nil, err
	}

	o := DefaultLoadOptions()
	o.Apply(opts...)
	if err := o.Validate(); err != nil {
		return nil, err
	}

	rng := rand.New(rand.NewPCG(o.Seed, 0xc11b))
	m := &Model{
		arch:       arch,
		vision:     newVisionTower(arch, o.InputDim, rng),
		text:       newTextTower(arch, rng),
		logitScale: ml.NewParameter("logit_scale", mat.NewDense(1, 1, []float64{math.Log(o.LogitScale)})),
		device:     ml.DeviceCPU,
	}
	return m, nil
}

// Arch gibt die Architektur zurueck.
func (m *Model) Arch() Arch {
	return m.arch
}

// EncodeText kodiert Token-Folgen.
func (m *Model) EncodeText(tokens [][]int, grad bool) (*mat.Dense, ml.BackwardFunc) {
	return m.text.Forward(tokens, grad)
}

// EncodeImage kodiert einen Pixel-Batch.
func (m *Model) EncodeImage(pixels *mat.Dense, grad bool) (*mat.Dense, ml.BackwardFunc) {
	return m.vision.Forward(pixels, grad)
}

// LogitScale gibt die Temperatur im Log-Raum zurueck.
func (m *Model) LogitScale() *ml.Parameter {
	return m.logitScale
}

// Visual gibt den Bild-Turm als Backbone zurueck.
func (m *Model) Visual() Backbone {
	return m.vision
}

// InputDim gibt die erwartete Pixel-Dimension zurueck.
func (m *Model) InputDim() int {
	return m.vision.InputDim()
}

// Parameters gibt alle Parameter zurueck, inklusive injizierter LoRA-Faktoren.
func (m *Model) Parameters() ml.ParamSet {
	ps := m.vision.Parameters()
	ps = append(ps, m.text.Parameters()...)
	return append(ps, m.logitScale)
}

// Layers gibt die Layer-Sicht des angegebenen Turms zurueck.
func (m *Model) Layers(kind TowerKind) []Layer {
	if kind == TowerText {
		return m.text.Layers()
	}
	return m.vision.Layers()
}

// Train schaltet in den Trainingsmodus.
func (m *Model) Train() { m.training = true }

// Eval schaltet in den Inferenzmodus.
func (m *Model) Eval() { m.training = false }

// Training meldet den aktuellen Modus.
func (m *Model) Training() bool { return m.training }

// Device gibt das aktuelle Compute-Backend zurueck.
func (m *Model) Device() ml.Device { return m.device }

// To verschiebt das Modell auf ein Device. Nur "cpu" wird unterstuetzt.
func (m *Model) To(device ml.Device) error {
	if device != ml.DeviceCPU {
		return fmt.Errorf("%w: %s", ErrDevice, device)
	}
	m.device = device
	return nil
}

func sqrtInt(n int) float64 {
	return math.Sqrt(float64(n))
}
