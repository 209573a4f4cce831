// Package clip stellt einen CLIP-artigen Dual-Encoder als Referenz-Backend bereit.
//
// MODUL: encoder
// ZWECK: Schnittstellen zwischen Dual-Encoder und Trainings-Orchestrierung
// INPUT: Token-Batches, Pixel-Batches
// OUTPUT: Embedding-Batches mit optionalem Backward
// NEBENEFFEKTE: Keine
// ABHAENGIGKEITEN: gonum/mat, ml
// HINWEISE: Das Modell wird per Zeiger geteilt und nie kopiert.
package clip

import (
	"errors"

	"gonum.org/v1/gonum/mat"

	"github.com/7blacky7/fewshot-clip/ml"
)

// ============================================================================
// Fehler-Definitionen
// ============================================================================

var (
	ErrUnknownArch    = errors.New("clip: unknown architecture")
	ErrInvalidOptions = errors.New("clip: invalid load options")
	ErrDevice         = errors.New("clip: device not available in reference backend")
)

// ============================================================================
// Turm-Typen
// ============================================================================

// TowerKind unterscheidet Bild- und Text-Turm.
type TowerKind int

const (
	TowerVision TowerKind = iota
	TowerText
)

// String gibt den Parameter-Praefix des Turms zurueck.
func (k TowerKind) String() string {
	if k == TowerText {
		return "text"
	}
	return "visual"
}

// Layer ist eine Sicht auf einen Block eines Turms fuer die Parameterauswahl.
// Die finale Norm des Turms hat Index = Anzahl Bloecke und kein Linear.
type Layer struct {
	Index  int
	Norm   *LayerNorm
	Linear *Linear
}

// ============================================================================
// Schnittstellen
// ============================================================================

// Backbone ist der visuelle Teilpfad, direkt auf Pixel-Batches aufrufbar.
// Mit grad=false ist der zurueckgegebene BackwardFunc nil.
type Backbone interface {
	Forward(pixels *mat.Dense, grad bool) (*mat.Dense, ml.BackwardFunc)
	OutputDim() int
}

// DualEncoder ist das vortrainierte Modell mit Text- und Bildpfad.
type DualEncoder interface {
	EncodeText(tokens [][]int, grad bool) (*mat.Dense, ml.BackwardFunc)
	EncodeImage(pixels *mat.Dense, grad bool) (*mat.Dense, ml.BackwardFunc)

	// LogitScale ist die gelernte Temperatur im Log-Raum (1x1).
	LogitScale() *ml.Parameter

	Visual() Backbone
	Parameters() ml.ParamSet
	Layers(kind TowerKind) []Layer

	Train()
	Eval()
	Training() bool
	To(device ml.Device) error
}
