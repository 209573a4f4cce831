// MODUL: classifier
// ZWECK: Linearer Klassifikator auf eingefrorenem Bild-Backbone mit
//        selektiver Inferenz ueber beliebige Kategorielisten
// INPUT: Dual-Encoder, Klassennamen, Prompt-Template
// OUTPUT: Logits (B x C)
// NEBENEFFEKTE: Infer legt einen Klassifikator-Cache an, ClearInferenceCache
//               verwirft ihn
// ABHAENGIGKEITEN: github.com/wk8/go-ordered-map/v2, clip, ml, ml/amp
// HINWEISE: Klassifikator-Zeilen werden vor jeder Aehnlichkeit normalisiert.
//           Der Cache wird nie automatisch invalidiert.

package fewshot

import (
	"math"

	orderedmap "github.com/wk8/go-ordered-map/v2"
	"gonum.org/v1/gonum/mat"

	"github.com/7blacky7/fewshot-clip/clip"
	"github.com/7blacky7/fewshot-clip/ml"
	"github.com/7blacky7/fewshot-clip/ml/amp"
)

// SingleStreamClassifier haelt Verweise auf das Modell und seinen Bildpfad
// sowie eine trainierbare Klassen-Embedding-Matrix.
type SingleStreamClassifier struct {
	model      clip.DualEncoder
	backbone   clip.Backbone
	logitScale *ml.Parameter
	autocast   amp.Autocast

	// Classifier ist C x D, initialisiert aus den Text-Embeddings der Klassen.
	Classifier *ml.Parameter

	// cat2id bildet Klassennamen auf Zeilen ab (Einfuegereihenfolge = Klassenliste).
	cat2id *orderedmap.OrderedMap[string, int]

	// inference ist der zuletzt gebaute Inferenz-Klassifikator, nil wenn leer.
	inference *mat.Dense
	builds    int
}

// NewSingleStreamClassifier initialisiert den Klassifikator aus den
// Text-Embeddings von template mit jedem Klassennamen.
func NewSingleStreamClassifier(model clip.DualEncoder, classnames []string, template string, ac amp.Autocast) (*SingleStreamClassifier, error) {
	if len(classnames) == 0 {
		return nil, ErrNoCategories
	}

	c := &SingleStreamClassifier{
		model:      model,
		backbone:   model.Visual(),
		logitScale: model.LogitScale(),
		autocast:   ac,
		cat2id:     orderedmap.New[string, int](),
	}
	c.initClassifier(template, classnames)
	for i, name := range classnames {
		if _, exists := c.cat2id.Get(name); !exists {
			c.cat2id.Set(name, i)
		}
	}
	return c, nil
}

// initClassifier kodiert die Prompts ohne Gradienten und normalisiert die Zeilen.
func (c *SingleStreamClassifier) initClassifier(template string, classnames []string) {
	emb, _ := c.model.EncodeText(clip.Tokenize(template, classnames), false)
	emb, _ = ml.NormalizeRows(c.autocast.Cast(emb))
	c.Classifier = ml.NewParameter("classifier", emb)
}

// Parameters gibt die trainierbaren Parameter (nur die Klassifikator-Matrix) zurueck.
func (c *SingleStreamClassifier) Parameters() ml.ParamSet {
	return ml.ParamSet{c.Classifier}
}

// Categories gibt die Klassennamen in Zeilenreihenfolge zurueck.
func (c *SingleStreamClassifier) Categories() []string {
	out := make([]string, 0, c.cat2id.Len())
	for pair := c.cat2id.Oldest(); pair != nil; pair = pair.Next() {
		out = append(out, pair.Key)
	}
	return out
}

// Train und Eval schalten den Modus des geteilten Modells.
func (c *SingleStreamClassifier) Train() { c.model.Train() }
func (c *SingleStreamClassifier) Eval()  { c.model.Eval() }

func (c *SingleStreamClassifier) scale() float64 {
	return math.Exp(c.logitScale.Value.At(0, 0))
}

// Forward berechnet die Logits fuer das Training. Mit noGradBackbone laeuft
// der Bildpfad ohne Gradienten; der Klassifikator bekommt immer einen.
func (c *SingleStreamClassifier) Forward(pixels *mat.Dense, noGradBackbone bool) (*mat.Dense, ml.BackwardFunc) {
	feat, featBack := c.backbone.Forward(pixels, !noGradBackbone)
	feat, featBack = c.autocast.Boundary(feat, featBack)
	x, xBack := ml.Normalize(feat, featBack)

	cls, norms := ml.NormalizeRows(c.Classifier.Value)
	clsHalf := c.autocast.Cast(cls)

	scale := c.scale()
	logits := ml.ScaledSimilarity(x, clsHalf, scale)

	back := func(dLogits *mat.Dense) {
		dx, dcls := ml.ScaledSimilarityBackward(x, clsHalf, scale, dLogits)
		if xBack != nil {
			xBack(dx)
		}
		dcls = c.autocast.Cast(dcls)
		c.Classifier.AccumulateGrad(ml.NormalizeRowsBackward(cls, norms, dcls))
	}
	return c.autocast.Boundary(logits, back)
}

// Infer berechnet Logits gegen eine beliebige Kategorieliste. Bekannte
// Kategorien nutzen ihre (trainierten) Klassifikator-Zeilen, fehlende werden
// ueber den Text-Turm kodiert. Mit reuseCached und vorhandenem Cache wird der
// zuletzt gebaute Klassifikator wiederverwendet.
func (c *SingleStreamClassifier) Infer(pixels *mat.Dense, categories []string, template string, reuseCached bool) (*mat.Dense, error) {
	classifier := c.inference
	if !reuseCached || classifier == nil {
		built, err := c.buildInferenceClassifier(categories, template)
		if err != nil {
			return nil, err
		}
		classifier = built
		c.inference = built
	}

	feat, _ := c.backbone.Forward(pixels, false)
	x, _ := ml.NormalizeRows(c.autocast.Cast(feat))
	return c.autocast.Cast(ml.ScaledSimilarity(x, c.autocast.Cast(classifier), c.scale())), nil
}

// ClearInferenceCache verwirft den Inferenz-Klassifikator. Muss vor jedem
// Wechsel der Kategorieliste aufgerufen werden.
func (c *SingleStreamClassifier) ClearInferenceCache() {
	c.inference = nil
}

// HasInferenceCache meldet ob ein Inferenz-Klassifikator existiert.
func (c *SingleStreamClassifier) HasInferenceCache() bool {
	return c.inference != nil
}

// InferenceBuilds zaehlt die bisher gebauten Inferenz-Klassifikatoren.
func (c *SingleStreamClassifier) InferenceBuilds() int {
	return c.builds
}

func (c *SingleStreamClassifier) buildInferenceClassifier(categories []string, template string) (*mat.Dense, error) {
	if len(categories) == 0 {
		return nil, ErrNoCategories
	}

	// nur Kategorien ausserhalb von cat2id werden kodiert
	var missing []string
	missingRow := make(map[string]int)
	for _, cat := range categories {
		if _, known := c.cat2id.Get(cat); known {
			continue
		}
		if _, dup := missingRow[cat]; !dup {
			missingRow[cat] = len(missing)
			missing = append(missing, cat)
		}
	}

	var fresh *mat.Dense
	if len(missing) > 0 {
		emb, _ := c.model.EncodeText(clip.Tokenize(template, missing), false)
		fresh = c.autocast.Cast(emb)
	}

	rows := make([][]float64, len(categories))
	for i, cat := range categories {
		if id, known := c.cat2id.Get(cat); known {
			rows[i] = ml.RowCopy(c.Classifier.Value, id)
		} else {
			rows[i] = ml.RowCopy(fresh, missingRow[cat])
		}
	}

	classifier, _ := ml.NormalizeRows(ml.StackRows(rows))
	c.builds++
	return classifier, nil
}
