// MODUL: twostage
// ZWECK: Zweistufige Adaption: PEFT des Encoders, dann linearer Klassifikator
//        auf eingefrorenem Bild-Backbone
// INPUT: Context, Config, Dual-Encoder, Dataset, Loader
// OUTPUT: Result
// NEBENEFFEKTE: Trainiert Encoder-Parameter (Stufe 1) und Klassifikator (Stufe 2)
// ABHAENGIGKEITEN: clip, dataset, ml, ml/amp, ml/optim
// HINWEISE: Stufe 2 baut den Klassifikator ueber den bereits adaptierten
//           Text-Turm. Das Budget von Stufe 2 ist der Rest des Gesamtbudgets.

package fewshot

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/7blacky7/fewshot-clip/clip"
	"github.com/7blacky7/fewshot-clip/dataset"
	"github.com/7blacky7/fewshot-clip/ml"
	"github.com/7blacky7/fewshot-clip/ml/amp"
	"github.com/7blacky7/fewshot-clip/ml/optim"
)

// RunTwoStage fuehrt beide Stufen aus und evaluiert ueber selektive Inferenz.
func RunTwoStage(ctx context.Context, cfg Config, model clip.DualEncoder, ds dataset.Dataset, loaders Loaders, opts Options) (Result, error) {
	l, err := prepare(cfg, model, loaders, opts)
	if err != nil {
		return nil, err
	}

	// ========================================================================
	// Stufe 1: PEFT des Encoders
	// ========================================================================

	params, err := SelectTrainable(model, cfg)
	if err != nil {
		return nil, err
	}
	l.printTrainable(model)

	opt, err := l.newAdamW(params, cfg, "")
	if err != nil {
		return nil, err
	}

	total := cfg.TotalIters()
	firstStage := cfg.FirstStageIters()
	sched := optim.NewCosineAnnealingLR(opt, firstStage, etaMin)
	scaler := amp.NewGradScaler(cfg.Scaler)

	template := ds.Template()
	tokens := clip.Tokenize(template, ds.Classnames)

	count := 0
	for count < firstStage {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		count, err = l.trainEpoch(model, opt, sched, scaler, loaders.Train, tokens, count, firstStage, cfg.Modality)
		if err != nil {
			return nil, err
		}
		if cfg.Debug {
			break
		}
	}
	l.logger.Info("first stage finished", "iters", count, "budget", firstStage)

	// ========================================================================
	// Stufe 2: linearer Klassifikator auf eingefrorenem Backbone
	// ========================================================================

	model.Parameters().Freeze()
	clf, err := NewSingleStreamClassifier(model, ds.Classnames, template, l.autocast)
	if err != nil {
		return nil, err
	}
	fmt.Fprintln(l.out, "Initialized single stream classifier")
	if l.logger.Enabled(ctx, slog.LevelDebug) {
		l.logger.Debug("classifier weights", "categories", len(ds.Classnames), "weights", ml.Dump(clf.Classifier.Value, ml.DumpWithEdgeItems(2)))
	}

	opt2, err := l.newAdamW(clf.Parameters(), cfg, "[Second Stage] ")
	if err != nil {
		return nil, err
	}
	scaler2 := amp.NewGradScaler(cfg.Scaler)
	sched2 := optim.NewCosineAnnealingLR(opt2, total-count, etaMin)
	l.skips = 0

	for count < total {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		count, err = l.trainEpochSecondStage(clf, opt2, sched2, scaler2, loaders.Train, count, total)
		if err != nil {
			return nil, err
		}
		if cfg.Debug {
			break
		}
	}
	l.logger.Info("second stage finished", "iters", count, "total", total)

	// ========================================================================
	// Evaluation
	// ========================================================================

	if cfg.Setting == SettingBase2New {
		accBase, err := EvaluateSelectiveInference(clf, loaders.Test.Base, template, ds.TestClassnames)
		if err != nil {
			return nil, err
		}
		l.headline(true, "Final Test-Base accuracy", accBase)

		accNew, err := EvaluateSelectiveInference(clf, loaders.Test.New, template, ds.TestNewClassnames)
		if err != nil {
			return nil, err
		}
		l.headline(false, "Final Test-New accuracy", accNew)
		return Result{KeyAccTestBase: accBase, KeyAccTestNew: accNew}, nil
	}

	acc, err := EvaluateSelectiveInference(clf, loaders.Test.All, template, ds.Classnames)
	if err != nil {
		return nil, err
	}
	l.headline(true, "Final Test Accuracy (all categories)", acc)
	return Result{KeyAccTest: acc}, nil
}
