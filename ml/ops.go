// ops.go - Tensor-Operationen mit Backward fuer das Referenz-Backend
// Enthaelt: Zeilen-Normalisierung, skalierte Cosinus-Aehnlichkeit, Cross-Entropy,
// Top-1-Genauigkeit und Hilfsfunktionen auf gonum-Matrizen.
//
// Shape-Fehler sind Programmierfehler und fuehren (wie in gonum) zu panic.
package ml

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// normEps verhindert Division durch Null bei Null-Zeilen.
const normEps = 1e-12

// NormalizeRows teilt jede Zeile durch ihre L2-Norm.
// Gibt die normalisierte Matrix und die Normen (fuer Backward) zurueck.
func NormalizeRows(x *mat.Dense) (*mat.Dense, []float64) {
	r, c := x.Dims()
	y := mat.NewDense(r, c, nil)
	norms := make([]float64, r)
	for i := 0; i < r; i++ {
		row := x.RawRowView(i)
		n := math.Max(floatNorm(row), normEps)
		norms[i] = n
		out := y.RawRowView(i)
		for j, v := range row {
			out[j] = v / n
		}
	}
	return y, norms
}

// NormalizeRowsBackward berechnet dx fuer y = x/||x||:
// dx = (dy - y * <y, dy>) / ||x||
func NormalizeRowsBackward(y *mat.Dense, norms []float64, dy *mat.Dense) *mat.Dense {
	r, c := y.Dims()
	dx := mat.NewDense(r, c, nil)
	for i := 0; i < r; i++ {
		yr := y.RawRowView(i)
		gr := dy.RawRowView(i)
		dot := 0.0
		for j := range yr {
			dot += yr[j] * gr[j]
		}
		out := dx.RawRowView(i)
		for j := range yr {
			out[j] = (gr[j] - yr[j]*dot) / norms[i]
		}
	}
	return dx
}

// Normalize normalisiert x zeilenweise und haengt den Backward an back an.
func Normalize(x *mat.Dense, back BackwardFunc) (*mat.Dense, BackwardFunc) {
	y, norms := NormalizeRows(x)
	return y, Chain(back, func(dy *mat.Dense) *mat.Dense {
		return NormalizeRowsBackward(y, norms, dy)
	})
}

// ScaledSimilarity berechnet scale * a @ bᵀ.
func ScaledSimilarity(a, b *mat.Dense, scale float64) *mat.Dense {
	ra, _ := a.Dims()
	rb, _ := b.Dims()
	out := mat.NewDense(ra, rb, nil)
	out.Mul(a, b.T())
	out.Scale(scale, out)
	return out
}

// ScaledSimilarityBackward gibt (da, db) fuer logits = scale * a @ bᵀ zurueck.
func ScaledSimilarityBackward(a, b *mat.Dense, scale float64, dLogits *mat.Dense) (*mat.Dense, *mat.Dense) {
	ra, ca := a.Dims()
	rb, cb := b.Dims()

	da := mat.NewDense(ra, ca, nil)
	da.Mul(dLogits, b)
	da.Scale(scale, da)

	db := mat.NewDense(rb, cb, nil)
	db.Mul(dLogits.T(), a)
	db.Scale(scale, db)
	return da, db
}

// CrossEntropy berechnet den mittleren Cross-Entropy-Loss ueber den Batch
// und den Gradienten bezueglich der Logits: (softmax - onehot) / B.
func CrossEntropy(logits *mat.Dense, labels []int) (float64, *mat.Dense) {
	r, c := logits.Dims()
	if len(labels) != r {
		panic("ml: label count does not match logits rows")
	}

	if r == 0 {
		return 0, nil
	}
	grad := mat.NewDense(r, c, nil)

	total := 0.0
	for i := 0; i < r; i++ {
		row := logits.RawRowView(i)
		g := grad.RawRowView(i)

		maxV := math.Inf(-1)
		for _, v := range row {
			maxV = math.Max(maxV, v)
		}
		sum := 0.0
		for j, v := range row {
			e := math.Exp(v - maxV)
			g[j] = e
			sum += e
		}
		logSum := math.Log(sum) + maxV
		total += logSum - row[labels[i]]

		for j := range g {
			g[j] /= sum
		}
		g[labels[i]] -= 1
	}

	grad.Scale(1/float64(r), grad)
	return total / float64(r), grad
}

// ArgmaxRows gibt fuer jede Zeile den Index des Maximums zurueck.
func ArgmaxRows(m *mat.Dense) []int {
	r, _ := m.Dims()
	idx := make([]int, r)
	for i := 0; i < r; i++ {
		row := m.RawRowView(i)
		best := 0
		for j := 1; j < len(row); j++ {
			if row[j] > row[best] {
				best = j
			}
		}
		idx[i] = best
	}
	return idx
}

// Top1Correct zaehlt exakte Treffer der Top-1-Vorhersage.
func Top1Correct(logits *mat.Dense, labels []int) int {
	correct := 0
	for i, p := range ArgmaxRows(logits) {
		if p == labels[i] {
			correct++
		}
	}
	return correct
}

// ClsAcc gibt die Top-1-Genauigkeit des Batches in Prozent zurueck.
func ClsAcc(logits *mat.Dense, labels []int) float64 {
	if len(labels) == 0 {
		return 0
	}
	return 100 * float64(Top1Correct(logits, labels)) / float64(len(labels))
}

// StackRows baut eine Matrix aus gleich langen Zeilen.
func StackRows(rows [][]float64) *mat.Dense {
	if len(rows) == 0 {
		return &mat.Dense{}
	}
	c := len(rows[0])
	out := mat.NewDense(len(rows), c, nil)
	for i, row := range rows {
		if len(row) != c {
			panic("ml: ragged rows in StackRows")
		}
		copy(out.RawRowView(i), row)
	}
	return out
}

// RowCopy kopiert Zeile i von m.
func RowCopy(m *mat.Dense, i int) []float64 {
	return append([]float64(nil), m.RawRowView(i)...)
}

// AllFinite prueft ob m weder Inf noch NaN enthaelt.
func AllFinite(m *mat.Dense) bool {
	for _, v := range m.RawMatrix().Data {
		if math.IsInf(v, 0) || math.IsNaN(v) {
			return false
		}
	}
	return true
}

// RowNorms gibt die L2-Norm jeder Zeile zurueck.
func RowNorms(m *mat.Dense) []float64 {
	r, _ := m.Dims()
	out := make([]float64, r)
	for i := range out {
		out[i] = floatNorm(m.RawRowView(i))
	}
	return out
}

func floatNorm(v []float64) float64 {
	return mat.Norm(mat.NewVecDense(len(v), v), 2)
}
