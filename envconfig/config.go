// config.go - Haupt-Konfigurationsfunktionen fuer fewshot
//
// Dieses Modul enthaelt:
// - RunsDB: Pfad der Laufhistorie (FEWSHOT_RUNS_DB)
// - Device: Compute-Backend (FEWSHOT_DEVICE)
// - LogLevel: Gibt Log-Level zurueck (FEWSHOT_DEBUG)
// - Var: Liest eine Environment-Variable
//
// Weitere Konfigurationen sind ausgelagert:
// - config_features.go: Seeds, Worker, Loss-Scale, Feature-Flags
// - config_utils.go: Utility-Funktionen und AsMap/Values
package envconfig

import (
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// RunsDB gibt den Pfad der SQLite-Laufhistorie zurueck
// Konfigurierbar via FEWSHOT_RUNS_DB
// Default: $HOME/.fewshot/runs.sqlite
func RunsDB() string {
	if s := Var("FEWSHOT_RUNS_DB"); s != "" {
		return s
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "fewshot", "runs.sqlite")
	}

	return filepath.Join(home, ".fewshot", "runs.sqlite")
}

// Device gibt das Compute-Backend zurueck
// Konfigurierbar via FEWSHOT_DEVICE
// Default: cpu
func Device() string {
	if s := strings.ToLower(Var("FEWSHOT_DEVICE")); s != "" {
		return s
	}
	return "cpu"
}

// LogLevel gibt das Log-Level zurueck
// Konfigurierbar via FEWSHOT_DEBUG
// Werte: 0/false = INFO (Default), 1/true = DEBUG, 2 = TRACE
func LogLevel() slog.Level {
	level := slog.LevelInfo
	if s := Var("FEWSHOT_DEBUG"); s != "" {
		if b, _ := strconv.ParseBool(s); b {
			level = slog.LevelDebug
		} else if i, _ := strconv.ParseInt(s, 10, 64); i != 0 {
			level = slog.Level(i * -4)
		}
	}

	return level
}

// Var gibt eine Environment-Variable zurueck
// Entfernt fuehrende/trailing Quotes und Leerzeichen
func Var(key string) string {
	return strings.Trim(strings.TrimSpace(os.Getenv(key)), "\"'")
}
