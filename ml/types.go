// types.go - Datentypen und Konstanten fuer ML-Operationen
// Dieses Modul definiert grundlegende Typen wie DType, Device und BackwardFunc.
package ml

import "gonum.org/v1/gonum/mat"

// DType represents the data type a tensor is computed in.
type DType int

const (
	DTypeOther DType = iota
	DTypeF64
	DTypeF32
	DTypeF16
)

// String gibt den Kurznamen des Datentyps zurueck
func (t DType) String() string {
	switch t {
	case DTypeF64:
		return "f64"
	case DTypeF32:
		return "f32"
	case DTypeF16:
		return "f16"
	default:
		return "other"
	}
}

// Device benennt das Compute-Backend. Die Referenz-Implementierung rechnet
// ausschliesslich auf der CPU.
type Device string

const (
	DeviceCPU  Device = "cpu"
	DeviceCUDA Device = "cuda"
)

// BackwardFunc propagiert den Gradienten eines Forward-Ergebnisses zurueck.
// Gradienten werden in die Parameter akkumuliert, die RequiresGrad gesetzt haben.
// Ein nil BackwardFunc bedeutet: Forward lief ohne Gradienten-Tracking.
type BackwardFunc func(grad *mat.Dense)

// Chain formt den Gradienten mit transform um und reicht ihn an back weiter.
// Ist back nil, bleibt auch das Ergebnis nil.
func Chain(back BackwardFunc, transform func(*mat.Dense) *mat.Dense) BackwardFunc {
	if back == nil {
		return nil
	}
	return func(grad *mat.Dense) {
		back(transform(grad))
	}
}
