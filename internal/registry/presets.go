package registry

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/alfredjeanlab/kgate/internal/model"
)

// PresetsDir is the directory under the data dir holding custom presets,
// one <name>.toml file each.
const PresetsDir = "presets"

// ErrPresetNotFound is returned for an unknown preset name.
var ErrPresetNotFound = errors.New("preset not found")

// Preset is a named bundle of gate definitions applied in one step.
type Preset struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Builtin     bool                   `json:"builtin"`
	Gates       []model.GateDefinition `json:"gates"`
}

// Keys returns the preset's gate keys in definition order.
func (p *Preset) Keys() []string {
	keys := make([]string, len(p.Gates))
	for i, g := range p.Gates {
		keys[i] = g.Key
	}
	return keys
}

// Validate checks the preset and each of its gates.
func (p *Preset) Validate() error {
	if !model.ValidKey(p.Name) {
		return fmt.Errorf("preset name %q is invalid", p.Name)
	}
	if strings.TrimSpace(p.Description) == "" {
		return fmt.Errorf("preset %s: description is required", p.Name)
	}
	if len(p.Gates) == 0 {
		return fmt.Errorf("preset %s: no gates", p.Name)
	}
	seen := map[string]bool{}
	for i := range p.Gates {
		g := p.Gates[i]
		normalize(&g)
		if err := model.ValidateGate(&g); err != nil {
			return fmt.Errorf("preset %s: gate %q: %w", p.Name, g.Key, err)
		}
		if seen[g.Key] {
			return fmt.Errorf("preset %s: duplicate gate %q", p.Name, g.Key)
		}
		seen[g.Key] = true
	}
	return nil
}

func manual(key, title, description string, stage model.Stage) model.GateDefinition {
	return model.GateDefinition{Key: key, Title: title, Description: description, Stage: stage, Mode: model.ModeManual}
}

func auto(key, title, description, command string, timeoutSec int) model.GateDefinition {
	return model.GateDefinition{
		Key: key, Title: title, Description: description,
		Stage: model.StagePostcheck, Mode: model.ModeAuto,
		Checker: model.NewExecChecker(command, timeoutSec),
	}
}

// BuiltinPresets returns the presets shipped with kg.
func BuiltinPresets() map[string]*Preset {
	review := manual("code-review", "Code review completed", "Another developer reviewed the change", model.StagePostcheck)
	tdd := manual("tdd-reminder", "Write tests first", "Failing tests exist before the implementation", model.StagePrecheck)
	return map[string]*Preset{
		"minimal": {
			Name: "minimal", Description: "Code review only", Builtin: true,
			Gates: []model.GateDefinition{review},
		},
		"go-tdd": {
			Name: "go-tdd", Description: "Test-driven workflow for Go modules", Builtin: true,
			Gates: []model.GateDefinition{
				tdd,
				auto("tests", "All tests pass", "go test must pass", "go test ./...", 300),
				auto("vet", "go vet is clean", "No go vet findings", "go vet ./...", 120),
				auto("fmt", "Code formatted", "gofmt reports no files", `test -z "$(gofmt -l .)"`, 30),
				review,
			},
		},
		"rust-tdd": {
			Name: "rust-tdd", Description: "Test-driven workflow for Rust crates", Builtin: true,
			Gates: []model.GateDefinition{
				tdd,
				auto("tests", "All tests pass", "cargo test must pass", "cargo test", 300),
				auto("clippy", "Clippy lints pass", "No clippy warnings", "cargo clippy --all-targets -- -D warnings", 120),
				auto("fmt", "Code formatted", "cargo fmt reports no changes", "cargo fmt --check", 30),
				review,
			},
		},
	}
}

// presetFile is the TOML shape of a custom preset:
//
//	description = "Lint and review"
//
//	[[gate]]
//	key = "lint"
//	stage = "postcheck"
//	mode = "auto"
//	command = "golangci-lint run"
//	timeout_seconds = 120
type presetFile struct {
	Description string         `toml:"description"`
	Gates       []gateTemplate `toml:"gate"`
}

type gateTemplate struct {
	Key            string            `toml:"key"`
	Title          string            `toml:"title"`
	Description    string            `toml:"description"`
	Stage          model.Stage       `toml:"stage"`
	Mode           model.Mode        `toml:"mode"`
	Command        string            `toml:"command"`
	TimeoutSeconds int               `toml:"timeout_seconds"`
	WorkingDir     string            `toml:"working_dir"`
	Env            map[string]string `toml:"env"`
}

func (t gateTemplate) definition() model.GateDefinition {
	def := model.GateDefinition{Key: t.Key, Title: t.Title, Description: t.Description, Stage: t.Stage, Mode: t.Mode}
	if t.Mode == model.ModeAuto {
		def.Checker = model.NewExecChecker(t.Command, t.TimeoutSeconds)
		def.Checker.Exec.WorkingDir = t.WorkingDir
		def.Checker.Exec.Env = t.Env
	}
	return def
}

// LoadPresets returns the builtin presets merged with the custom presets in
// dir. A custom preset replaces a builtin of the same name. A missing dir
// yields only the builtins.
func LoadPresets(dir string) (map[string]*Preset, error) {
	presets := BuiltinPresets()
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return presets, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading presets: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".toml" {
			continue
		}
		path := filepath.Join(dir, e.Name())
		var f presetFile
		if _, err := toml.DecodeFile(path, &f); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
		p := &Preset{Name: strings.TrimSuffix(e.Name(), ".toml"), Description: f.Description}
		for _, t := range f.Gates {
			p.Gates = append(p.Gates, t.definition())
		}
		if err := p.Validate(); err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		presets[p.Name] = p
	}
	return presets, nil
}

// SortedPresets returns presets ordered by name.
func SortedPresets(presets map[string]*Preset) []*Preset {
	out := make([]*Preset, 0, len(presets))
	for _, p := range presets {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// ApplyPreset defines every gate of p that is not defined yet. Keys that
// already exist keep their current definition and are returned in kept.
func (r *Registry) ApplyPreset(ctx context.Context, p *Preset, actor string) (defined, kept []string, err error) {
	if err := p.Validate(); err != nil {
		return nil, nil, err
	}
	for _, g := range p.Gates {
		if r.Has(g.Key) {
			kept = append(kept, g.Key)
			continue
		}
		_, err := r.Define(ctx, g, actor)
		switch {
		case errors.Is(err, ErrDuplicateKey):
			kept = append(kept, g.Key)
		case err != nil:
			return defined, kept, fmt.Errorf("preset %s: %w", p.Name, err)
		default:
			defined = append(defined, g.Key)
		}
	}
	return defined, kept, nil
}
