// MODUL: runner
// ZWECK: Einstiegspunkt, der je nach Method den passenden Trainer startet
// INPUT: Context, Config, Dual-Encoder, Dataset, Loader
// OUTPUT: Result (Metrik -> Genauigkeit)
// NEBENEFFEKTE: Trainiert das Modell in-place, schreibt Fortschritt nach Options.Out
// ABHAENGIGKEITEN: golang.org/x/text/message, clip, dataset, ml/amp, ml/optim
// HINWEISE: Der Context wird zwischen zwei Durchlaeufen geprueft, nie mitten
//           in einem Durchlauf.

package fewshot

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/7blacky7/fewshot-clip/clip"
	"github.com/7blacky7/fewshot-clip/dataset"
	"github.com/7blacky7/fewshot-clip/ml"
	"github.com/7blacky7/fewshot-clip/ml/amp"
	"github.com/7blacky7/fewshot-clip/ml/optim"
)

// Loaders buendelt Train-, Val- und Test-Loader. Val wird nicht verwendet.
type Loaders struct {
	Train dataset.Loader
	Val   dataset.Loader
	Test  dataset.TestLoaders
}

// Options steuert Ausgabe und Logging eines Laufs.
type Options struct {
	Out    io.Writer
	Logger *slog.Logger
}

func (o Options) withDefaults() Options {
	if o.Out == nil {
		o.Out = os.Stdout
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

// Run validiert die Konfiguration und startet den Trainer der Method.
func Run(ctx context.Context, cfg Config, model clip.DualEncoder, ds dataset.Dataset, loaders Loaders, opts Options) (Result, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	switch cfg.Method {
	case MethodLNOnly:
		return RunLNOnly(ctx, cfg, model, ds, loaders, opts)
	case MethodTwoStage:
		return RunTwoStage(ctx, cfg, model, ds, loaders, opts)
	}
	return nil, fmt.Errorf("%w: %q", ErrInvalidMethod, string(cfg.Method))
}

// checkLoaders prueft, dass die Loader zum Evaluationsprotokoll passen.
func checkLoaders(cfg Config, loaders Loaders) error {
	if loaders.Train == nil {
		return fmt.Errorf("%w: no train loader", ErrEmptyDataset)
	}
	switch cfg.Setting {
	case SettingBase2New:
		if loaders.Test.Base == nil || loaders.Test.New == nil {
			return fmt.Errorf("%w: base2new needs base and new test loaders", ErrInvalidConfig)
		}
	case SettingAll2All:
		if loaders.Test.All == nil {
			return fmt.Errorf("%w: all2all needs a test loader", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: %q", ErrInvalidSetting, string(cfg.Setting))
	}
	return nil
}

// prepare validiert, prueft die Loader und baut den geteilten Schleifenzustand.
func prepare(cfg Config, model clip.DualEncoder, loaders Loaders, opts Options) (*loop, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := checkLoaders(cfg, loaders); err != nil {
		return nil, err
	}
	if err := model.To(ml.DeviceCPU); err != nil {
		return nil, err
	}

	opts = opts.withDefaults()
	ac := amp.Off()
	if cfg.Scaler.Enabled {
		ac = amp.F16()
	}
	return &loop{out: opts.Out, logger: opts.Logger, autocast: ac}, nil
}

// newAdamW erstellt den Optimizer und kuendigt ihn an.
func (l *loop) newAdamW(params ml.ParamSet, cfg Config, prefix string) (*optim.AdamW, error) {
	opt, err := optim.NewAdamW(params, optim.DefaultAdamWOptions(cfg.LR, cfg.WD))
	if err != nil {
		return nil, err
	}
	fmt.Fprintf(l.out, "%sUsing AdamW with lr=%v, wd=%v, betas=(0.9, 0.999).\n", prefix, cfg.LR, cfg.WD)
	return opt, nil
}

// printTrainable schreibt die Anzahl trainierbarer Skalare mit Tausendertrennzeichen.
func (l *loop) printTrainable(model clip.DualEncoder) {
	p := message.NewPrinter(language.English)
	p.Fprintf(l.out, "Trainable parameters: %d\n", model.Parameters().Count(true))
}

// headline schreibt eine hervorgehobene Genauigkeitszeile.
func (l *loop) headline(leading bool, label string, acc float64) {
	prefix := ""
	if leading {
		prefix = "\n"
	}
	fmt.Fprintf(l.out, "%s**** %s: %.2f. ****\n\n", prefix, label, acc)
}
