// cmd.go - Haupt-CLI Setup und Root Command
// Hauptfunktionen: NewCLI, appendEnvDocs
package cmd

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/7blacky7/fewshot-clip/envconfig"
)

// appendEnvDocs - Fuegt Umgebungsvariablen-Dokumentation zum Command hinzu
func appendEnvDocs(cmd *cobra.Command, envs []envconfig.EnvVar) {
	if len(envs) == 0 {
		return
	}

	envUsage := `
Environment Variables:
`
	for _, e := range envs {
		envUsage += fmt.Sprintf("      %-24s   %s\n", e.Name, e.Description)
	}

	cmd.SetUsageTemplate(cmd.UsageTemplate() + envUsage)
}

// setupLogging - Setzt den Default-Logger auf das Level aus FEWSHOT_DEBUG
func setupLogging(cmd *cobra.Command, _ []string) {
	handler := slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: envconfig.LogLevel()})
	slog.SetDefault(slog.New(handler))
}

// NewCLI - Erstellt das Haupt-CLI mit allen Commands
func NewCLI() *cobra.Command {
	cobra.EnableCommandSorting = false

	rootCmd := &cobra.Command{
		Use:           "fewshot",
		Short:         "Few-shot adaptation of CLIP-style dual encoders",
		SilenceUsage:  true,
		SilenceErrors: true,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		PersistentPreRun: setupLogging,
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Print(cmd.UsageString())
		},
	}

	// Commands erstellen
	runCmd := newRunCmd()
	validateCmd := newValidateCmd()
	runsCmd := newRunsCmd()
	envCmd := newEnvCmd()

	// Environment-Dokumentation hinzufuegen
	envVars := envconfig.AsMap()

	appendEnvDocs(runCmd, []envconfig.EnvVar{
		envVars["FEWSHOT_DEBUG"],
		envVars["FEWSHOT_DEVICE"],
		envVars["FEWSHOT_SEED"],
		envVars["FEWSHOT_INIT_SCALE"],
		envVars["FEWSHOT_DATA"],
		envVars["FEWSHOT_WORKERS"],
		envVars["FEWSHOT_RUNS_DB"],
		envVars["FEWSHOT_NOSAVE"],
	})
	appendEnvDocs(validateCmd, []envconfig.EnvVar{envVars["FEWSHOT_SEED"], envVars["FEWSHOT_INIT_SCALE"]})
	for _, c := range runsCmd.Commands() {
		appendEnvDocs(c, []envconfig.EnvVar{envVars["FEWSHOT_RUNS_DB"]})
	}

	rootCmd.AddCommand(
		runCmd,
		validateCmd,
		runsCmd,
		envCmd,
	)

	return rootCmd
}
