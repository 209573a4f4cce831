// scheduler.go - Lernraten-Scheduler
// Enthaelt: CosineAnnealingLR (geschlossene Form, schrittbasiert)
package optim

import "math"

// LRSetter ist der Teil eines Optimizers, den ein Scheduler steuert.
type LRSetter interface {
	LR() float64
	SetLR(lr float64)
}

// CosineAnnealingLR senkt die Lernrate entlang einer halben Kosinus-Welle von
// der Basis-Lernrate auf EtaMin ueber TMax Schritte.
type CosineAnnealingLR struct {
	opt       LRSetter
	baseLR    float64
	TMax      int
	EtaMin    float64
	lastEpoch int
	lastLR    float64
}

// NewCosineAnnealingLR erstellt den Scheduler; die Basis-Lernrate ist die
// aktuelle Lernrate des Optimizers.
func NewCosineAnnealingLR(opt LRSetter, tMax int, etaMin float64) *CosineAnnealingLR {
	base := opt.LR()
	return &CosineAnnealingLR{
		opt:    opt,
		baseLR: base,
		TMax:   tMax,
		EtaMin: etaMin,
		lastLR: base,
	}
}

// Step rueckt den Scheduler um einen Schritt vor und setzt die Lernrate.
func (s *CosineAnnealingLR) Step() {
	s.lastEpoch++
	s.lastLR = s.lrAt(s.lastEpoch)
	s.opt.SetLR(s.lastLR)
}

// LastLR gibt die zuletzt gesetzte Lernrate zurueck.
func (s *CosineAnnealingLR) LastLR() float64 {
	return s.lastLR
}

// LastEpoch gibt die Anzahl der bisherigen Schritte zurueck.
func (s *CosineAnnealingLR) LastEpoch() int {
	return s.lastEpoch
}

func (s *CosineAnnealingLR) lrAt(step int) float64 {
	if s.TMax <= 0 || step >= s.TMax {
		return s.EtaMin
	}
	return s.EtaMin + (s.baseLR-s.EtaMin)*(1+math.Cos(math.Pi*float64(step)/float64(s.TMax)))/2
}
