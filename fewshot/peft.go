// peft.go - Auswahl der trainierbaren Parameter
// Enthaelt: SelectTrainable (ln / bitfit / lora), TrainableNormParams, TrainableBiasParams
package fewshot

import (
	"fmt"

	"github.com/7blacky7/fewshot-clip/clip"
	"github.com/7blacky7/fewshot-clip/ml"
)

// SelectTrainable friert alle Parameter des Modells ein und markiert danach
// die Parameter der konfigurierten Strategie als trainierbar.
func SelectTrainable(model clip.DualEncoder, cfg Config) (ml.ParamSet, error) {
	model.Parameters().Freeze()

	switch cfg.PEFT {
	case StrategyLN:
		return TrainableNormParams(model, cfg.Modality, cfg.VisionStart, cfg.TextStart)
	case StrategyBitFit:
		return TrainableBiasParams(model, cfg.Modality, cfg.VisionStart, cfg.TextStart)
	case StrategyLoRA:
		towers, err := cfg.Modality.towers()
		if err != nil {
			return nil, err
		}
		targets := make([]clip.LoRATarget, 0, len(towers))
		for _, t := range towers {
			targets = append(targets, clip.LoRATarget{Tower: t, Start: startFor(t, cfg.VisionStart, cfg.TextStart)})
		}
		lora := cfg.LoRA
		lora.Seed = cfg.Seed
		if _, err := clip.ApplyLoRA(model, targets, lora); err != nil {
			return nil, err
		}
		clip.MarkOnlyLoRAAsTrainable(model)
		return clip.LoRAParameters(model), nil
	}
	return nil, fmt.Errorf("%w: %q", ErrInvalidStrategy, string(cfg.PEFT))
}

// TrainableNormParams markiert Gain und Shift aller LayerNorms ab dem
// Start-Layer als trainierbar. Die finale Norm eines Turms liegt hinter dem
// letzten Block und ist damit immer enthalten.
func TrainableNormParams(model clip.DualEncoder, modality Modality, visionStart, textStart int) (ml.ParamSet, error) {
	return collect(model, modality, visionStart, textStart, func(l clip.Layer) ml.ParamSet {
		return l.Norm.Parameters()
	})
}

// TrainableBiasParams markiert alle Bias-Terme ab dem Start-Layer als
// trainierbar: Linear-Bias und LayerNorm-Shift.
func TrainableBiasParams(model clip.DualEncoder, modality Modality, visionStart, textStart int) (ml.ParamSet, error) {
	return collect(model, modality, visionStart, textStart, func(l clip.Layer) ml.ParamSet {
		var ps ml.ParamSet
		if l.Linear != nil && l.Linear.Bias != nil {
			ps = append(ps, l.Linear.Bias)
		}
		return append(ps, l.Norm.Bias)
	})
}

func collect(model clip.DualEncoder, modality Modality, visionStart, textStart int, pick func(clip.Layer) ml.ParamSet) (ml.ParamSet, error) {
	towers, err := modality.towers()
	if err != nil {
		return nil, err
	}

	var out ml.ParamSet
	for _, t := range towers {
		start := startFor(t, visionStart, textStart)
		for _, l := range model.Layers(t) {
			if l.Index < start {
				continue
			}
			out = append(out, pick(l)...)
		}
	}
	out.Unfreeze()
	return out, nil
}

func startFor(t clip.TowerKind, visionStart, textStart int) int {
	if t == clip.TowerText {
		return textStart
	}
	return visionStart
}
