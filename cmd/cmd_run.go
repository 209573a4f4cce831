// cmd_run.go - Run Command
// Hauptfunktionen: RunHandler, loadSource, writeRuns
package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/7blacky7/fewshot-clip/clip"
	"github.com/7blacky7/fewshot-clip/dataset"
	"github.com/7blacky7/fewshot-clip/envconfig"
	"github.com/7blacky7/fewshot-clip/fewshot"
	"github.com/7blacky7/fewshot-clip/ml"
	"github.com/7blacky7/fewshot-clip/results"
)

// loadSource laedt den Datensatz: Bild-Ordner oder synthetischer Benchmark.
func loadSource(ctx context.Context, spec runSpec) (*dataset.Source, error) {
	if spec.Data.Folder != "" {
		return dataset.LoadImageFolder(ctx, spec.Data.Folder, dataset.FolderOptions{
			ImageSize: spec.Data.ImageSize,
			Workers:   int(envconfig.Workers()),
		})
	}
	return dataset.Synthetic(spec.Data.Synthetic)
}

// RunHandler - Trainiert und evaluiert einen Lauf
func RunHandler(cmd *cobra.Command, args []string) error {
	format, err := cmd.Flags().GetString("format")
	if err != nil {
		return err
	}
	if err := checkFormat(format); err != nil {
		return err
	}

	spec, err := loadRunSpec(cmd)
	if err != nil {
		return err
	}
	cfg := spec.Config

	src, err := loadSource(cmd.Context(), spec)
	if err != nil {
		return fmt.Errorf("load dataset: %w", err)
	}
	prepared, err := dataset.Prepare(src, dataset.PrepareOptions{
		BaseToNew: cfg.Setting == fewshot.SettingBase2New,
		Shots:     cfg.Shots,
		Seed:      cfg.Seed,
	})
	if err != nil {
		return fmt.Errorf("prepare dataset: %w", err)
	}
	train, val, test, err := prepared.Loaders(cfg.BatchSize, cfg.Seed)
	if err != nil {
		return err
	}

	model, err := clip.DefaultRegistry.Create(spec.Arch,
		clip.WithDevice(ml.Device(envconfig.Device())),
		clip.WithSeed(cfg.Seed),
		clip.WithInputDim(spec.inputDim()),
	)
	if err != nil {
		return err
	}

	// Fortschritt gehoert bei maschinenlesbarer Ausgabe nach stderr
	progress := cmd.OutOrStdout()
	if format != "table" {
		progress = cmd.ErrOrStderr()
	}

	slog.Debug("starting run", "method", cfg.Method, "peft", cfg.PEFT, "setting", cfg.Setting, "arch", spec.Arch, "dataset", prepared.Dataset.Name)

	start := time.Now()
	res, err := fewshot.Run(cmd.Context(), cfg, model, prepared.Dataset, fewshot.Loaders{
		Train: train,
		Val:   val,
		Test:  test,
	}, fewshot.Options{Out: progress, Logger: slog.Default()})
	if err != nil {
		return err
	}

	configYAML, err := yaml.Marshal(spec)
	if err != nil {
		return err
	}
	run := results.Run{
		Method:   string(cfg.Method),
		PEFT:     string(cfg.PEFT),
		Modality: string(cfg.Modality),
		Setting:  string(cfg.Setting),
		Dataset:  prepared.Dataset.Name,
		Arch:     spec.Arch,
		Duration: time.Since(start),
		Config:   string(configYAML),
		Metrics:  res,
	}

	noSave, _ := cmd.Flags().GetBool("no-save")
	if !noSave && !envconfig.NoSave() {
		if err := saveRun(cmd.Context(), &run); err != nil {
			return err
		}
		slog.Info("run saved", "id", run.ID, "db", envconfig.RunsDB())
	}

	out := cmd.OutOrStdout()
	if format == "table" {
		fmt.Fprintln(out)
		results.PrintMetrics(out, res)
		return nil
	}
	return writeRuns(out, format, []results.Run{run})
}

// saveRun speichert run in der Laufhistorie unter FEWSHOT_RUNS_DB.
func saveRun(ctx context.Context, run *results.Run) error {
	store, err := results.Open(envconfig.RunsDB())
	if err != nil {
		return err
	}
	defer store.Close()

	if err := store.Save(ctx, run); err != nil {
		return fmt.Errorf("save run: %w", err)
	}
	return nil
}

func checkFormat(format string) error {
	switch format {
	case "table", "json", "csv":
		return nil
	}
	return fmt.Errorf("unknown format %q (table, json, csv)", format)
}

// writeRuns schreibt Laeufe als JSON oder CSV.
func writeRuns(w io.Writer, format string, runs []results.Run) error {
	switch format {
	case "json":
		return results.WriteJSON(w, runs)
	case "csv":
		return results.WriteCSV(w, runs)
	}
	return checkFormat(format)
}
