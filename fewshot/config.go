// Package fewshot implementiert Few-Shot-Adaption fuer CLIP-artige Dual-Encoder:
// LN-only (einstufig) und Two-Stage (PEFT, dann linearer Klassifikator).
//
// MODUL: config
// ZWECK: Lauf-Konfiguration mit geschlossenen Enums und Fail-Fast-Validierung
// INPUT: YAML-Datei oder Flags
// OUTPUT: Validierte Config
// NEBENEFFEKTE: keine
// ABHAENGIGKEITEN: github.com/agnivade/levenshtein, clip, ml/amp
// HINWEISE: Ungueltige Enum-Werte liefern einen ConfigError mit Vorschlag.
package fewshot

import (
	"errors"
	"fmt"
	"math"

	"github.com/agnivade/levenshtein"

	"github.com/7blacky7/fewshot-clip/clip"
	"github.com/7blacky7/fewshot-clip/ml/amp"
)

// ============================================================================
// Fehler-Definitionen
// ============================================================================

var (
	ErrInvalidStrategy = errors.New("fewshot: invalid peft strategy")
	ErrInvalidModality = errors.New("fewshot: invalid modality")
	ErrInvalidSetting  = errors.New("fewshot: invalid evaluation setting")
	ErrInvalidMethod   = errors.New("fewshot: invalid method")
	ErrInvalidConfig   = errors.New("fewshot: invalid config")
	ErrEmptyDataset    = errors.New("fewshot: empty dataset")
	ErrNoCategories    = errors.New("fewshot: no categories")
	ErrDiverged        = errors.New("fewshot: training diverged")
)

// MaxConsecutiveSkips begrenzt verworfene Scaler-Schritte in Folge.
// Darueber bricht das Training mit ErrDiverged ab.
const MaxConsecutiveSkips = 64

// etaMin ist die minimale Lernrate des Cosine-Schedulers.
const etaMin = 1e-6

// ============================================================================
// Enums
// ============================================================================

// Method waehlt das Verfahren.
type Method string

const (
	MethodLNOnly   Method = "ln_only"
	MethodTwoStage Method = "twostage"
)

// Strategy waehlt die trainierbaren Parameter der ersten Stufe.
type Strategy string

const (
	StrategyLN     Strategy = "ln"
	StrategyLoRA   Strategy = "lora"
	StrategyBitFit Strategy = "bitfit"
)

// Modality waehlt die Tuerme, deren Parameter trainiert werden.
type Modality string

const (
	ModalityVision Modality = "vision"
	ModalityText   Modality = "text"
	ModalityBoth   Modality = "both"
)

// Setting waehlt das Evaluationsprotokoll.
type Setting string

const (
	SettingBase2New Setting = "base2new"
	SettingAll2All  Setting = "all2all"
)

// towers ist der einzige Dispatch-Punkt fuer Modality.
func (m Modality) towers() ([]clip.TowerKind, error) {
	switch m {
	case ModalityVision:
		return []clip.TowerKind{clip.TowerVision}, nil
	case ModalityText:
		return []clip.TowerKind{clip.TowerText}, nil
	case ModalityBoth:
		return []clip.TowerKind{clip.TowerVision, clip.TowerText}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrInvalidModality, string(m))
}

// TextGrad meldet ob der Text-Zweig mit Gradienten laeuft.
func (m Modality) TextGrad() bool { return m != ModalityVision }

// VisionGrad meldet ob der Bild-Zweig mit Gradienten laeuft.
func (m Modality) VisionGrad() bool { return m != ModalityText }

// ============================================================================
// Config
// ============================================================================

// Config beschreibt einen Lauf. Nach Validate wird sie nicht mehr veraendert.
type Config struct {
	Method      Method   `yaml:"method"`
	PEFT        Strategy `yaml:"peft"`
	Modality    Modality `yaml:"modality"`
	VisionStart int      `yaml:"vision_start"`
	TextStart   int      `yaml:"text_start"`

	LR         float64 `yaml:"lr"`
	WD         float64 `yaml:"wd"`
	Shots      int     `yaml:"shots"`
	NIters     int     `yaml:"n_iters"`
	NItersFrac float64 `yaml:"n_iters_frac"`
	BatchSize  int     `yaml:"batch_size"`
	Seed       uint64  `yaml:"seed"`

	Setting Setting `yaml:"setting"`
	Debug   bool    `yaml:"debug"`

	LoRA   clip.LoRAConfig   `yaml:"lora"`
	Scaler amp.ScalerOptions `yaml:"scaler"`
}

// DefaultConfig gibt eine Two-Stage-Konfiguration mit LN-Adaption zurueck.
func DefaultConfig() Config {
	return Config{
		Method:     MethodTwoStage,
		PEFT:       StrategyLN,
		Modality:   ModalityBoth,
		LR:         1e-3,
		WD:         1e-4,
		Shots:      16,
		NIters:     50,
		NItersFrac: 0.5,
		BatchSize:  32,
		Setting:    SettingBase2New,
		LoRA:       clip.DefaultLoRAConfig(),
		Scaler:     amp.DefaultScalerOptions(),
	}
}

// TotalIters ist das gesamte Iterationsbudget: NIters * Shots.
func (c Config) TotalIters() int {
	return c.NIters * c.Shots
}

// FirstStageIters ist das abgerundete Budget der ersten Stufe.
func (c Config) FirstStageIters() int {
	return int(math.Floor(float64(c.TotalIters()) * c.NItersFrac))
}

// ============================================================================
// Validierung
// ============================================================================

// ConfigError beschreibt ein ungueltiges Feld mit optionalem Vorschlag.
type ConfigError struct {
	Field      string
	Value      string
	Suggestion string
	Err        error
}

// Error implementiert das error Interface.
func (e *ConfigError) Error() string {
	msg := fmt.Sprintf("%s: %s=%q", e.Err, e.Field, e.Value)
	if e.Suggestion != "" {
		msg += fmt.Sprintf(" (did you mean %q?)", e.Suggestion)
	}
	return msg
}

// Unwrap gibt den Sentinel-Fehler zurueck.
func (e *ConfigError) Unwrap() error {
	return e.Err
}

// Validate prueft alle Felder und gibt den ersten Fehler zurueck.
func (c Config) Validate() error {
	if err := checkEnum("method", string(c.Method), ErrInvalidMethod, MethodLNOnly, MethodTwoStage); err != nil {
		return err
	}
	if err := checkEnum("peft", string(c.PEFT), ErrInvalidStrategy, StrategyLN, StrategyLoRA, StrategyBitFit); err != nil {
		return err
	}
	if err := checkEnum("modality", string(c.Modality), ErrInvalidModality, ModalityVision, ModalityText, ModalityBoth); err != nil {
		return err
	}
	if err := checkEnum("setting", string(c.Setting), ErrInvalidSetting, SettingBase2New, SettingAll2All); err != nil {
		return err
	}

	if c.Method == MethodLNOnly && c.PEFT != StrategyLN {
		return &ConfigError{Field: "peft", Value: string(c.PEFT), Suggestion: string(StrategyLN), Err: ErrInvalidConfig}
	}

	switch {
	case c.LR <= 0:
		return invalidNumber("lr", c.LR)
	case c.WD < 0:
		return invalidNumber("wd", c.WD)
	case c.Shots <= 0:
		return invalidNumber("shots", c.Shots)
	case c.NIters <= 0:
		return invalidNumber("n_iters", c.NIters)
	case c.NItersFrac < 0 || c.NItersFrac > 1:
		return invalidNumber("n_iters_frac", c.NItersFrac)
	case c.BatchSize <= 0:
		return invalidNumber("batch_size", c.BatchSize)
	case c.VisionStart < 0:
		return invalidNumber("vision_start", c.VisionStart)
	case c.TextStart < 0:
		return invalidNumber("text_start", c.TextStart)
	}

	if c.PEFT == StrategyLoRA {
		if err := c.LoRA.Validate(); err != nil {
			return &ConfigError{Field: "lora", Value: fmt.Sprintf("%+v", c.LoRA), Err: errors.Join(ErrInvalidConfig, err)}
		}
	}
	if err := c.Scaler.Validate(); err != nil {
		return &ConfigError{Field: "scaler", Value: fmt.Sprintf("%+v", c.Scaler), Err: errors.Join(ErrInvalidConfig, err)}
	}
	return nil
}

func invalidNumber(field string, v any) error {
	return &ConfigError{Field: field, Value: fmt.Sprint(v), Err: ErrInvalidConfig}
}

// checkEnum prueft value gegen die gueltigen Werte und schlaegt bei einem
// Tippfehler den naechsten gueltigen Wert vor.
func checkEnum[T ~string](field, value string, sentinel error, valid ...T) error {
	best, bestDist := "", math.MaxInt
	for _, v := range valid {
		if string(v) == value {
			return nil
		}
		if d := levenshtein.ComputeDistance(value, string(v)); d < bestDist {
			best, bestDist = string(v), d
		}
	}

	e := &ConfigError{Field: field, Value: value, Err: sentinel}
	if bestDist <= 3 {
		e.Suggestion = best
	}
	return e
}
