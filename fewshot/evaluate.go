// evaluate.go - Top-1-Evaluation ohne Gradienten
// Enthaelt: Evaluate (Dual-Encoder, Zero-Shot-Stil), EvaluateSelectiveInference
package fewshot

import (
	"math"

	"github.com/7blacky7/fewshot-clip/clip"
	"github.com/7blacky7/fewshot-clip/dataset"
	"github.com/7blacky7/fewshot-clip/ml"
	"github.com/7blacky7/fewshot-clip/ml/amp"
)

// Evaluate kodiert die Klassen-Prompts einmal und gibt die Top-1-Genauigkeit
// des Dual-Encoders ueber den Loader in Prozent zurueck.
func Evaluate(model clip.DualEncoder, loader dataset.Loader, template string, classnames []string, ac amp.Autocast) (float64, error) {
	if len(classnames) == 0 {
		return 0, ErrNoCategories
	}
	model.Eval()

	txt, _ := model.EncodeText(clip.Tokenize(template, classnames), false)
	txt, _ = ml.NormalizeRows(ac.Cast(txt))
	scale := math.Exp(model.LogitScale().Value.At(0, 0))

	correct, total := 0, 0
	for _, batch := range loader.Batches() {
		if batch.Size() == 0 {
			continue
		}
		img, _ := model.EncodeImage(batch.Images, false)
		img, _ = ml.NormalizeRows(ac.Cast(img))
		logits := ml.ScaledSimilarity(img, txt, scale)

		correct += ml.Top1Correct(logits, batch.Labels)
		total += batch.Size()
	}
	return percentage(correct, total)
}

// EvaluateSelectiveInference evaluiert den Klassifikator ueber Infer mit
// einmal gebautem Klassifikator. Der Cache wird vorher verworfen.
func EvaluateSelectiveInference(model *SingleStreamClassifier, loader dataset.Loader, template string, classnames []string) (float64, error) {
	model.ClearInferenceCache()
	model.Eval()

	correct, total := 0, 0
	for _, batch := range loader.Batches() {
		if batch.Size() == 0 {
			continue
		}
		logits, err := model.Infer(batch.Images, classnames, template, true)
		if err != nil {
			return 0, err
		}
		correct += ml.Top1Correct(logits, batch.Labels)
		total += batch.Size()
	}
	return percentage(correct, total)
}

func percentage(correct, total int) (float64, error) {
	if total == 0 {
		return 0, ErrEmptyDataset
	}
	return 100 * float64(correct) / float64(total), nil
}
