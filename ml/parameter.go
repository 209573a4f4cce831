// parameter.go - Trainierbare Parameter und Parameter-Mengen
// Enthaelt: Parameter (Wert + Gradient + RequiresGrad), ParamSet mit Freeze/ZeroGrad/Count
package ml

import (
	"strings"

	"gonum.org/v1/gonum/mat"
)

// Parameter ist ein benannter Tensor des Modells.
// Der Besitz bleibt beim Modell; ParamSets halten nur Verweise.
type Parameter struct {
	Name         string
	Value        *mat.Dense
	Grad         *mat.Dense
	RequiresGrad bool
}

// NewParameter erstellt einen Parameter mit RequiresGrad=true.
func NewParameter(name string, value *mat.Dense) *Parameter {
	return &Parameter{Name: name, Value: value, RequiresGrad: true}
}

// Dims gibt die Dimensionen des Wertes zurueck
func (p *Parameter) Dims() (int, int) {
	return p.Value.Dims()
}

// NumElements gibt die Anzahl der Skalare zurueck
func (p *Parameter) NumElements() int {
	r, c := p.Value.Dims()
	return r * c
}

// AccumulateGrad addiert g auf den Gradienten. Parameter ohne RequiresGrad
// ignorieren den Aufruf.
func (p *Parameter) AccumulateGrad(g mat.Matrix) {
	if !p.RequiresGrad {
		return
	}
	if p.Grad == nil {
		r, c := p.Value.Dims()
		p.Grad = mat.NewDense(r, c, nil)
	}
	p.Grad.Add(p.Grad, g)
}

// ZeroGrad verwirft den akkumulierten Gradienten (set_to_none Semantik).
func (p *Parameter) ZeroGrad() {
	p.Grad = nil
}

// GradIsZero meldet ob kein Gradient akkumuliert wurde.
func (p *Parameter) GradIsZero() bool {
	if p.Grad == nil {
		return true
	}
	for _, v := range p.Grad.RawMatrix().Data {
		if v != 0 {
			return false
		}
	}
	return true
}

// ParamSet ist eine geordnete Menge von Parameter-Verweisen.
type ParamSet []*Parameter

// Freeze setzt RequiresGrad=false fuer alle Parameter.
func (s ParamSet) Freeze() {
	for _, p := range s {
		p.RequiresGrad = false
	}
}

// Unfreeze setzt RequiresGrad=true fuer alle Parameter.
func (s ParamSet) Unfreeze() {
	for _, p := range s {
		p.RequiresGrad = true
	}
}

// ZeroGrad verwirft alle Gradienten.
func (s ParamSet) ZeroGrad() {
	for _, p := range s {
		p.ZeroGrad()
	}
}

// Trainable filtert Parameter mit RequiresGrad.
func (s ParamSet) Trainable() ParamSet {
	out := make(ParamSet, 0, len(s))
	for _, p := range s {
		if p.RequiresGrad {
			out = append(out, p)
		}
	}
	return out
}

// Count zaehlt Skalare; bei trainable=true nur die trainierbaren.
func (s ParamSet) Count(trainable bool) int {
	n := 0
	for _, p := range s {
		if trainable && !p.RequiresGrad {
			continue
		}
		n += p.NumElements()
	}
	return n
}

// Names gibt die Parameternamen in Reihenfolge zurueck.
func (s ParamSet) Names() []string {
	names := make([]string, len(s))
	for i, p := range s {
		names[i] = p.Name
	}
	return names
}

// WithPrefix filtert Parameter deren Name mit prefix beginnt.
func (s ParamSet) WithPrefix(prefix string) ParamSet {
	var out ParamSet
	for _, p := range s {
		if strings.HasPrefix(p.Name, prefix) {
			out = append(out, p)
		}
	}
	return out
}

// Lookup sucht einen Parameter per Name.
func (s ParamSet) Lookup(name string) (*Parameter, bool) {
	for _, p := range s {
		if p.Name == name {
			return p, true
		}
	}
	return nil, false
}
