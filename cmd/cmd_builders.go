// cmd_builders.go - Command-Builder Funktionen
// Hauptfunktionen: newRunCmd, newValidateCmd, newRunsCmd, newEnvCmd
package cmd

import (
	"github.com/spf13/cobra"
)

// registerConfigFlags - Flags, die Werte der YAML-Konfiguration ueberschreiben
func registerConfigFlags(cmd *cobra.Command) {
	cmd.Flags().StringP("config", "c", "", "YAML config file")
	cmd.Flags().String("method", "", "Adaptation method (ln_only, twostage)")
	cmd.Flags().String("peft", "", "First-stage strategy (ln, lora, bitfit)")
	cmd.Flags().String("modality", "", "Towers to adapt (vision, text, both)")
	cmd.Flags().String("setting", "", "Evaluation protocol (base2new, all2all)")
	cmd.Flags().Int("shots", 0, "Training samples per class")
	cmd.Flags().Int("n-iters", 0, "Iterations per shot")
	cmd.Flags().Float64("n-iters-frac", 0, "Share of the budget for the first stage")
	cmd.Flags().Int("batch-size", 0, "Batch size")
	cmd.Flags().Float64("lr", 0, "Learning rate")
	cmd.Flags().Float64("wd", 0, "Weight decay")
	cmd.Flags().Uint64("seed", 0, "Seed for sampling, shuffling and initialisation")
	cmd.Flags().Bool("debug", false, "Stop every pass after two steps")
	cmd.Flags().Bool("no-amp", false, "Disable mixed precision and loss scaling")
	cmd.Flags().String("arch", "", "Dual-encoder architecture (clip-tiny, clip-small)")
	cmd.Flags().String("data", "", "Image-folder dataset root with train/ and test/ (default: synthetic)")
	cmd.Flags().Int("image-size", 0, "Edge length images are resized to")
}

// newRunCmd - Erstellt den run Command
func newRunCmd() *cobra.Command {
	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Adapt a model on a few-shot benchmark and evaluate it",
		Args:  cobra.NoArgs,
		RunE:  RunHandler,
	}

	registerConfigFlags(runCmd)
	runCmd.Flags().StringP("format", "f", "table", "Output format (table, json, csv)")
	runCmd.Flags().Bool("no-save", false, "Do not store the run in the run history")

	return runCmd
}

// newValidateCmd - Erstellt den validate Command
func newValidateCmd() *cobra.Command {
	validateCmd := &cobra.Command{
		Use:   "validate",
		Short: "Check a run config and print the effective values",
		Args:  cobra.NoArgs,
		RunE:  ValidateHandler,
	}

	registerConfigFlags(validateCmd)

	return validateCmd
}

// newRunsCmd - Erstellt den runs Command mit Unterbefehlen
func newRunsCmd() *cobra.Command {
	runsCmd := &cobra.Command{
		Use:   "runs",
		Short: "Inspect the run history",
	}

	listCmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List stored runs, newest first",
		Args:    cobra.NoArgs,
		RunE:    ListRunsHandler,
	}
	listCmd.Flags().IntP("limit", "n", 20, "Maximum number of runs (0 = all)")
	listCmd.Flags().StringP("format", "f", "table", "Output format (table, json, csv)")

	showCmd := &cobra.Command{
		Use:   "show ID",
		Short: "Show a stored run",
		Args:  cobra.ExactArgs(1),
		RunE:  ShowRunHandler,
	}
	showCmd.Flags().StringP("format", "f", "table", "Output format (table, json, csv)")

	deleteCmd := &cobra.Command{
		Use:     "rm ID [ID...]",
		Aliases: []string{"delete"},
		Short:   "Remove stored runs",
		Args:    cobra.MinimumNArgs(1),
		RunE:    DeleteRunHandler,
	}

	runsCmd.AddCommand(listCmd, showCmd, deleteCmd)
	return runsCmd
}

// newEnvCmd - Erstellt den env Command
func newEnvCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "env",
		Short: "Print the environment configuration",
		Args:  cobra.NoArgs,
		RunE:  EnvHandler,
	}
}
