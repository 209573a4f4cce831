// cmd_config.go - Lauf-Konfiguration aus YAML, Environment und Flags
// Hauptfunktionen: loadRunSpec, ValidateHandler
package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/7blacky7/fewshot-clip/clip"
	"github.com/7blacky7/fewshot-clip/dataset"
	"github.com/7blacky7/fewshot-clip/envconfig"
	"github.com/7blacky7/fewshot-clip/fewshot"
)

// runSpec ist die Datei-Form eines Laufs: die Trainings-Konfiguration plus
// Modell und Datensatz.
type runSpec struct {
	fewshot.Config `yaml:",inline"`

	Arch string   `yaml:"arch"`
	Data dataSpec `yaml:"data"`
}

// dataSpec waehlt den Datensatz. Ohne Folder wird der synthetische
// Benchmark erzeugt.
type dataSpec struct {
	Folder    string                  `yaml:"folder,omitempty"`
	ImageSize int                     `yaml:"image_size"`
	Synthetic dataset.SyntheticConfig `yaml:"synthetic"`
}

func defaultRunSpec() runSpec {
	return runSpec{
		Config: fewshot.DefaultConfig(),
		Arch:   clip.ArchTiny.Name,
		Data: dataSpec{
			ImageSize: 16,
			Synthetic: dataset.DefaultSyntheticConfig(),
		},
	}
}

// inputDim ist die Laenge eines flachen Pixel-Vektors des Datensatzes.
func (s runSpec) inputDim() int {
	if s.Data.Folder != "" {
		return 3 * s.Data.ImageSize * s.Data.ImageSize
	}
	return s.Data.Synthetic.InputDim
}

// readRunSpec liest path ueber die Defaults. Unbekannte Schluessel sind ein
// Fehler, eine leere Datei nicht.
func readRunSpec(path string) (runSpec, error) {
	spec := defaultRunSpec()
	if path == "" {
		return spec, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return spec, err
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(&spec); err != nil && !errors.Is(err, io.EOF) {
		return spec, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return spec, nil
}

// applyEnv uebernimmt gesetzte FEWSHOT_* Overrides.
func applyEnv(spec *runSpec) {
	if envconfig.Var("FEWSHOT_SEED") != "" {
		spec.Seed = envconfig.Seed()
	}
	if envconfig.Var("FEWSHOT_INIT_SCALE") != "" {
		spec.Scaler.InitScale = envconfig.InitScale()
	}
	if spec.Data.Folder == "" {
		spec.Data.Folder = envconfig.DataDir()
	}
}

// applyFlags uebernimmt explizit gesetzte Flags.
func applyFlags(cmd *cobra.Command, spec *runSpec) error {
	flags := cmd.Flags()

	var err error
	str := func(name string, dst *string) {
		if err == nil && flags.Changed(name) {
			*dst, err = flags.GetString(name)
		}
	}
	integer := func(name string, dst *int) {
		if err == nil && flags.Changed(name) {
			*dst, err = flags.GetInt(name)
		}
	}
	float := func(name string, dst *float64) {
		if err == nil && flags.Changed(name) {
			*dst, err = flags.GetFloat64(name)
		}
	}

	var method, peft, modality, setting string
	str("method", &method)
	str("peft", &peft)
	str("modality", &modality)
	str("setting", &setting)
	str("arch", &spec.Arch)
	str("data", &spec.Data.Folder)
	integer("image-size", &spec.Data.ImageSize)
	integer("shots", &spec.Shots)
	integer("n-iters", &spec.NIters)
	integer("batch-size", &spec.BatchSize)
	float("n-iters-frac", &spec.NItersFrac)
	float("lr", &spec.LR)
	float("wd", &spec.WD)
	if err != nil {
		return err
	}

	if method != "" {
		spec.Method = fewshot.Method(strings.ToLower(method))
	}
	if peft != "" {
		spec.PEFT = fewshot.Strategy(strings.ToLower(peft))
	}
	if modality != "" {
		spec.Modality = fewshot.Modality(strings.ToLower(modality))
	}
	if setting != "" {
		spec.Setting = fewshot.Setting(strings.ToLower(setting))
	}

	if flags.Changed("seed") {
		if spec.Seed, err = flags.GetUint64("seed"); err != nil {
			return err
		}
	}
	if flags.Changed("debug") {
		if spec.Debug, err = flags.GetBool("debug"); err != nil {
			return err
		}
	}
	if noAMP, _ := flags.GetBool("no-amp"); noAMP {
		spec.Scaler.Enabled = false
	}
	return nil
}

// loadRunSpec baut die effektive Konfiguration: Datei, dann Environment,
// dann Flags. Das Ergebnis ist validiert.
func loadRunSpec(cmd *cobra.Command) (runSpec, error) {
	path, err := cmd.Flags().GetString("config")
	if err != nil {
		return runSpec{}, err
	}

	spec, err := readRunSpec(path)
	if err != nil {
		return runSpec{}, err
	}
	applyEnv(&spec)
	if err := applyFlags(cmd, &spec); err != nil {
		return runSpec{}, err
	}

	if err := spec.Config.Validate(); err != nil {
		return runSpec{}, err
	}
	if !clip.DefaultRegistry.Has(spec.Arch) {
		return runSpec{}, fmt.Errorf("%w: %q (available: %s)", clip.ErrUnknownArch, spec.Arch, strings.Join(clip.DefaultRegistry.List(), ", "))
	}
	if spec.inputDim() <= 0 {
		return runSpec{}, fmt.Errorf("%w: input dim %d", fewshot.ErrInvalidConfig, spec.inputDim())
	}
	return spec, nil
}

// ValidateHandler - Prueft die Konfiguration und gibt die effektiven Werte aus
func ValidateHandler(cmd *cobra.Command, args []string) error {
	spec, err := loadRunSpec(cmd)
	if err != nil {
		return err
	}

	data, err := yaml.Marshal(spec)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprint(out, string(data))
	fmt.Fprintf(out, "\nconfig ok: %d iterations", spec.TotalIters())
	if spec.Method == fewshot.MethodTwoStage {
		fmt.Fprintf(out, " (first stage %d, second stage %d)", spec.FirstStageIters(), spec.TotalIters()-spec.FirstStageIters())
	}
	fmt.Fprintln(out)
	return nil
}
