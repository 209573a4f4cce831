// config_features.go - Trainings-Einstellungen und Feature-Flags
//
// Dieses Modul enthaelt:
// - Seed und Loss-Scale Overrides
// - Parallelitaet beim Laden von Bildern
// - Feature-Flags (NoSave)
package envconfig

// =============================================================================
// Trainings-Overrides
// =============================================================================

var (
	// Seed ueberschreibt den Seed der Konfiguration, wenn gesetzt
	// Konfigurierbar via FEWSHOT_SEED
	Seed = Uint64("FEWSHOT_SEED", 0)

	// InitScale ist der initiale Loss-Scale des GradScalers
	// Konfigurierbar via FEWSHOT_INIT_SCALE
	InitScale = Float64("FEWSHOT_INIT_SCALE", 65536)
)

// =============================================================================
// Daten
// =============================================================================

var (
	// DataDir ist das Default-Wurzelverzeichnis fuer Bild-Datensaetze
	// Konfigurierbar via FEWSHOT_DATA
	DataDir = String("FEWSHOT_DATA")
)

// =============================================================================
// Parallelitaets-Einstellungen
// =============================================================================

var (
	// Workers setzt die Anzahl paralleler Bild-Decoder
	// 0 = Anzahl CPUs
	Workers = Uint("FEWSHOT_WORKERS", 0)
)

// =============================================================================
// Feature-Flags
// =============================================================================

var (
	// NoSave deaktiviert das Speichern von Laeufen in der Historie
	NoSave = Bool("FEWSHOT_NOSAVE")
)
