// lnonly.go - Einstufige Adaption nur der LayerNorm-Parameter
// Enthaelt: RunLNOnly
package fewshot

import (
	"context"

	"github.com/7blacky7/fewshot-clip/clip"
	"github.com/7blacky7/fewshot-clip/dataset"
	"github.com/7blacky7/fewshot-clip/ml/amp"
	"github.com/7blacky7/fewshot-clip/ml/optim"
)

// RunLNOnly trainiert die LayerNorms der gewaehlten Tuerme ueber das volle
// Budget und evaluiert den Dual-Encoder danach direkt.
func RunLNOnly(ctx context.Context, cfg Config, model clip.DualEncoder, ds dataset.Dataset, loaders Loaders, opts Options) (Result, error) {
	l, err := prepare(cfg, model, loaders, opts)
	if err != nil {
		return nil, err
	}

	total := cfg.TotalIters()
	// Validate erzwingt PEFT=ln fuer diese Method
	params, err := SelectTrainable(model, cfg)
	if err != nil {
		return nil, err
	}
	l.printTrainable(model)

	opt, err := l.newAdamW(params, cfg, "")
	if err != nil {
		return nil, err
	}
	sched := optim.NewCosineAnnealingLR(opt, total, etaMin)
	scaler := amp.NewGradScaler(cfg.Scaler)

	template := ds.Template()
	tokens := clip.Tokenize(template, ds.Classnames)

	count := 0
	for count < total {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		count, err = l.trainEpoch(model, opt, sched, scaler, loaders.Train, tokens, count, total, cfg.Modality)
		if err != nil {
			return nil, err
		}
		if cfg.Debug {
			break
		}
	}
	l.logger.Info("ln-only training finished", "iters", count, "total", total)

	if cfg.Setting == SettingBase2New {
		accBase, err := Evaluate(model, loaders.Test.Base, template, ds.TestClassnames, l.autocast)
		if err != nil {
			return nil, err
		}
		l.headline(false, "Test-Base accuracy", accBase)

		accNew, err := Evaluate(model, loaders.Test.New, template, ds.TestNewClassnames, l.autocast)
		if err != nil {
			return nil, err
		}
		l.headline(false, "Test-Novel accuracy", accNew)
		return Result{KeyAccTestBase: accBase, KeyAccTestNew: accNew}, nil
	}

	acc, err := Evaluate(model, loaders.Test.All, template, ds.TestClassnames, l.autocast)
	if err != nil {
		return nil, err
	}
	l.headline(true, "Final test accuracy (all categories)", acc)
	return Result{KeyAccTest: acc}, nil
}
