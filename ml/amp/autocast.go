// MODUL: amp/autocast
// ZWECK: Reduzierte Rechengenauigkeit (float16) fuer Forward- und Backward-Grenzen
// INPUT: float64-Matrizen aus dem Referenz-Backend
// OUTPUT: Auf float16 gerundete Matrizen (Overflow wird zu +-Inf)
// NEBENEFFEKTE: keine
// ABHAENGIGKEITEN: github.com/x448/float16, gonum/mat, ml
// HINWEISE: Gradienten, die in eine Autocast-Region fliessen, werden ebenfalls
//           auf float16 gerundet. Dadurch erzeugt ein zu grosser Loss-Scale Inf
//           und der GradScaler verwirft den Schritt.

package amp

import (
	"github.com/x448/float16"
	"gonum.org/v1/gonum/mat"

	"github.com/7blacky7/fewshot-clip/ml"
)

// Autocast beschreibt eine Region mit reduzierter Genauigkeit.
type Autocast struct {
	Enabled bool
	DType   ml.DType
}

// F16 gibt eine aktive float16-Autocast-Region zurueck.
func F16() Autocast {
	return Autocast{Enabled: true, DType: ml.DTypeF16}
}

// Off gibt eine deaktivierte Region zurueck (volle Genauigkeit).
func Off() Autocast {
	return Autocast{}
}

// Cast rundet alle Werte von m auf float16. Ohne Enabled wird m unveraendert
// zurueckgegeben.
func (a Autocast) Cast(m *mat.Dense) *mat.Dense {
	if !a.Enabled || m == nil {
		return m
	}
	r, c := m.Dims()
	out := mat.NewDense(r, c, nil)
	dst := out.RawMatrix().Data
	for i, v := range m.RawMatrix().Data {
		dst[i] = roundF16(v)
	}
	return out
}

// Boundary markiert den Ausgang einer Autocast-Region: der Forward-Wert wird
// gerundet, und der zurueckfliessende Gradient ebenfalls.
func (a Autocast) Boundary(out *mat.Dense, back ml.BackwardFunc) (*mat.Dense, ml.BackwardFunc) {
	if !a.Enabled {
		return out, back
	}
	return a.Cast(out), ml.Chain(back, a.Cast)
}

// roundF16 rundet einen Wert ueber float32 auf float16 und zurueck.
func roundF16(v float64) float64 {
	return float64(float16.Fromfloat32(float32(v)).Float32())
}
