package strategy

import (
	"errors"
	"fmt"
	"os"
	"strings"
)

// Provider types accepted by FromConfig.
const (
	TypeNeutral  = "neutral"
	TypeScripted = "scripted"
)

// Factory errors
var (
	ErrUnknownProviderType = errors.New("unknown provider type")
	ErrMissingScript       = errors.New("scripted provider requires steps or a script file")
)

// Config selects and parameterizes a Provider.
type Config struct {
	Type string `json:"type"`
	// Steps is an inline schedule for scripted providers.
	Steps []Step `json:"steps,omitempty"`
	// ScriptFile is an alternative to Steps: a timestamp,signal file.
	ScriptFile string `json:"script_file,omitempty"`
}

// FromConfig creates a Provider from config, validating required
// parameters per type.
func FromConfig(cfg Config) (Provider, error) {
	switch cfg.Type {
	case TypeNeutral, "":
		return Neutral{}, nil
	case TypeScripted:
		return fromScriptedConfig(cfg)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownProviderType, cfg.Type)
	}
}

// ParseRef creates a Provider from a compact ref string, the form strategy
// references take in session configs and CLI flags:
//
//	""                               neutral
//	"neutral"                        neutral
//	"scripted:file=signals.csv"      scripted, schedule read from a file
//	"scripted:1000=BUY,2000=SELL"    scripted, inline schedule
func ParseRef(ref string) (Provider, error) {
	kind, arg, _ := strings.Cut(ref, ":")
	switch kind {
	case TypeNeutral, "":
		return Neutral{}, nil
	case TypeScripted:
		if path, ok := strings.CutPrefix(arg, "file="); ok {
			return FromConfig(Config{Type: TypeScripted, ScriptFile: path})
		}
		// Inline refs use `=` between timestamp and signal so the whole
		// schedule fits one comma-separated flag value.
		script := strings.NewReplacer(",", "\n", "=", ",").Replace(arg)
		steps, err := ParseScript(strings.NewReader(script))
		if err != nil {
			return nil, fmt.Errorf("parse scripted ref: %w", err)
		}
		return FromConfig(Config{Type: TypeScripted, Steps: steps})
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownProviderType, kind)
	}
}

func fromScriptedConfig(cfg Config) (*Scripted, error) {
	steps := cfg.Steps
	if len(steps) == 0 && cfg.ScriptFile != "" {
		f, err := os.Open(cfg.ScriptFile)
		if err != nil {
			return nil, fmt.Errorf("open script file: %w", err)
		}
		defer f.Close()
		steps, err = ParseScript(f)
		if err != nil {
			return nil, err
		}
	}
	if len(steps) == 0 {
		return nil, ErrMissingScript
	}
	return NewScripted("", steps), nil
}
