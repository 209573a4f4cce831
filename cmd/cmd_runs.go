// cmd_runs.go - Runs Commands (Laufhistorie)
// Hauptfunktionen: ListRunsHandler, ShowRunHandler, DeleteRunHandler
package cmd

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/7blacky7/fewshot-clip/envconfig"
	"github.com/7blacky7/fewshot-clip/results"
)

// openStore oeffnet die Laufhistorie unter FEWSHOT_RUNS_DB.
func openStore() (*results.Store, error) {
	return results.Open(envconfig.RunsDB())
}

// resolveRun findet einen Lauf ueber die volle ID oder ein eindeutiges
// ID-Suffix, wie es runs list anzeigt.
func resolveRun(ctx context.Context, store *results.Store, id string) (results.Run, error) {
	run, err := store.Get(ctx, id)
	if err == nil || !errors.Is(err, results.ErrRunNotFound) {
		return run, err
	}

	runs, lerr := store.List(ctx, 0)
	if lerr != nil {
		return results.Run{}, lerr
	}

	var matches []results.Run
	for _, r := range runs {
		if strings.HasSuffix(r.ID, id) {
			matches = append(matches, r)
		}
	}
	switch len(matches) {
	case 0:
		return results.Run{}, err
	case 1:
		return matches[0], nil
	}
	return results.Run{}, fmt.Errorf("run id %q is ambiguous (%d matches)", id, len(matches))
}

// ListRunsHandler - Listet gespeicherte Laeufe auf
func ListRunsHandler(cmd *cobra.Command, args []string) error {
	format, err := cmd.Flags().GetString("format")
	if err != nil {
		return err
	}
	if err := checkFormat(format); err != nil {
		return err
	}
	limit, err := cmd.Flags().GetInt("limit")
	if err != nil {
		return err
	}

	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	runs, err := store.List(cmd.Context(), limit)
	if err != nil {
		return err
	}

	if format == "table" {
		results.PrintRuns(cmd.OutOrStdout(), runs)
		return nil
	}
	return writeRuns(cmd.OutOrStdout(), format, runs)
}

// ShowRunHandler - Zeigt einen gespeicherten Lauf
func ShowRunHandler(cmd *cobra.Command, args []string) error {
	format, err := cmd.Flags().GetString("format")
	if err != nil {
		return err
	}
	if err := checkFormat(format); err != nil {
		return err
	}

	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	run, err := resolveRun(cmd.Context(), store, args[0])
	if err != nil {
		return err
	}

	if format == "table" {
		results.PrintRun(cmd.OutOrStdout(), run)
		return nil
	}
	return writeRuns(cmd.OutOrStdout(), format, []results.Run{run})
}

// DeleteRunHandler - Entfernt gespeicherte Laeufe
func DeleteRunHandler(cmd *cobra.Command, args []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	for _, id := range args {
		run, err := resolveRun(cmd.Context(), store, id)
		if err != nil {
			return err
		}
		if err := store.Delete(cmd.Context(), run.ID); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "deleted '%s'\n", run.ID)
	}
	return nil
}
