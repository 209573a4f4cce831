// MODUL: train
// ZWECK: Epochen-Schleifen fuer Stufe 1 (Dual-Encoder) und Stufe 2 (Klassifikator)
// INPUT: Modell bzw. Klassifikator, Optimizer, Scheduler, GradScaler, Loader,
//        Iterationszaehler und Budget
// OUTPUT: Aktualisierter Iterationszaehler
// NEBENEFFEKTE: Aendert Parameter in-place, schreibt eine Fortschrittszeile pro Durchlauf
// ABHAENGIGKEITEN: clip, dataset, ml, ml/amp, ml/optim
// HINWEISE: Der Zaehler steigt nur bei nicht verworfenen Schritten. Ein
//           Durchlauf endet sofort, sobald der Zaehler das Budget erreicht.
//           Batches ohne Zeilen werden uebersprungen.

package fewshot

import (
	"fmt"
	"io"
	"log/slog"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/7blacky7/fewshot-clip/clip"
	"github.com/7blacky7/fewshot-clip/dataset"
	"github.com/7blacky7/fewshot-clip/ml"
	"github.com/7blacky7/fewshot-clip/ml/amp"
	"github.com/7blacky7/fewshot-clip/ml/optim"
)

// loop haelt den Zustand, der ueber Epochen hinweg geteilt wird. Der
// Iterationszaehler gehoert nicht dazu, er wird explizit durchgereicht.
type loop struct {
	out      io.Writer
	logger   *slog.Logger
	autocast amp.Autocast
	skips    int
}

// epochStats akkumuliert Genauigkeit und Loss gewichtet mit der Batch-Groesse.
type epochStats struct {
	acc     float64
	loss    float64
	samples int
}

func (s *epochStats) add(logits *mat.Dense, labels []int, loss float64) {
	n := float64(len(labels))
	s.acc += ml.ClsAcc(logits, labels) * n
	s.loss += loss * n
	s.samples += len(labels)
}

// step fuehrt Backward mit skaliertem Loss und den Optimizer-Schritt ueber
// den Scaler aus. Bei einem nicht verworfenen Schritt rueckt der Scheduler vor.
func (l *loop) step(back ml.BackwardFunc, dLoss *mat.Dense, scaler *amp.GradScaler, opt *optim.AdamW, sched *optim.CosineAnnealingLR) (skipped bool, err error) {
	if back != nil {
		back(scaler.ScaleLossGrad(dLoss))
	}
	skipped = scaler.StepAndUpdate(opt)
	opt.ZeroGrad()

	if skipped {
		l.skips++
		l.logger.Debug("optimizer step skipped", "scale", scaler.GetScale(), "consecutive", l.skips)
		if l.skips > MaxConsecutiveSkips {
			return true, fmt.Errorf("%w: %d consecutive skipped steps", ErrDiverged, l.skips)
		}
		return true, nil
	}

	l.skips = 0
	sched.Step()
	return false, nil
}

// report schreibt die Fortschrittszeile eines Durchlaufs.
func (l *loop) report(count, total int, lr float64, s epochStats) error {
	if s.samples == 0 {
		return ErrEmptyDataset
	}
	acc := s.acc / float64(s.samples)
	loss := s.loss / float64(s.samples)
	fmt.Fprintf(l.out, "[%d/%d] LR: %.6f, Acc: %.4f, Loss: %.4f\n", count, total, lr, acc, loss)
	l.logger.Debug("epoch done", "iters", count, "total", total, "lr", lr, "acc", acc, "loss", loss)
	return nil
}

// trainEpoch ist ein Durchlauf ueber den Loader mit kontrastivem Loss
// zwischen Bild- und Text-Embeddings.
func (l *loop) trainEpoch(
	model clip.DualEncoder,
	opt *optim.AdamW,
	sched *optim.CosineAnnealingLR,
	scaler *amp.GradScaler,
	loader dataset.Loader,
	tokens [][]int,
	count, total int,
	modality Modality,
) (int, error) {
	model.Train()
	var stats epochStats

	for _, batch := range loader.Batches() {
		if batch.Size() == 0 {
			continue
		}
		logits, back := l.contrastiveForward(model, tokens, batch.Images, modality)
		loss, dLogits := ml.CrossEntropy(logits, batch.Labels)

		skipped, err := l.step(back, dLogits, scaler, opt, sched)
		if err != nil {
			return count, err
		}
		if !skipped {
			count++
		}

		stats.add(logits, batch.Labels, loss)
		if count == total {
			break
		}
	}

	return count, l.report(count, total, sched.LastLR(), stats)
}

// trainEpochSecondStage trainiert nur die Klassifikator-Matrix, der
// Bildpfad laeuft ohne Gradienten.
func (l *loop) trainEpochSecondStage(
	model *SingleStreamClassifier,
	opt *optim.AdamW,
	sched *optim.CosineAnnealingLR,
	scaler *amp.GradScaler,
	loader dataset.Loader,
	count, total int,
) (int, error) {
	model.Train()
	var stats epochStats

	for _, batch := range loader.Batches() {
		if batch.Size() == 0 {
			continue
		}
		logits, back := model.Forward(batch.Images, true)
		loss, dLogits := ml.CrossEntropy(logits, batch.Labels)

		skipped, err := l.step(back, dLogits, scaler, opt, sched)
		if err != nil {
			return count, err
		}
		if !skipped {
			count++
		}

		stats.add(logits, batch.Labels, loss)
		if count == total {
			break
		}
	}

	return count, l.report(count, total, sched.LastLR(), stats)
}

// contrastiveForward berechnet die skalierten Cosinus-Logits zwischen Bild-
// und Text-Embeddings. Ein Zweig ohne Gradient (laut Modality) bekommt im
// Backward nichts.
func (l *loop) contrastiveForward(model clip.DualEncoder, tokens [][]int, pixels *mat.Dense, modality Modality) (*mat.Dense, ml.BackwardFunc) {
	txt, txtBack := model.EncodeText(tokens, modality.TextGrad())
	txt, txtBack = l.autocast.Boundary(txt, txtBack)
	img, imgBack := model.EncodeImage(pixels, modality.VisionGrad())
	img, imgBack = l.autocast.Boundary(img, imgBack)

	txtN, txtNBack := ml.Normalize(txt, txtBack)
	imgN, imgNBack := ml.Normalize(img, imgBack)

	scale := math.Exp(model.LogitScale().Value.At(0, 0))
	logits := ml.ScaledSimilarity(imgN, txtN, scale)

	if imgNBack == nil && txtNBack == nil {
		return logits, nil
	}
	return logits, func(d *mat.Dense) {
		dImg, dTxt := ml.ScaledSimilarityBackward(imgN, txtN, scale, d)
		if imgNBack != nil {
			imgNBack(dImg)
		}
		if txtNBack != nil {
			txtNBack(dTxt)
		}
	}
}
