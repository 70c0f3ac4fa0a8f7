package main

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/alfredjeanlab/kgate/internal/model"
	"github.com/alfredjeanlab/kgate/internal/registry"
	"github.com/alfredjeanlab/kgate/internal/ui"
)

var presetCmd = &cobra.Command{
	Use:   "preset",
	Short: "Define and attach bundles of gates",
	Long: `Define and attach bundles of gates.

Builtin presets are minimal, go-tdd and rust-tdd. A file
<dir>/presets/<name>.toml adds a custom preset or replaces a builtin
of the same name.`,
}

func loadPresets() (map[string]*registry.Preset, error) {
	return registry.LoadPresets(filepath.Join(kg.store.Dir(), registry.PresetsDir))
}

func findPreset(name string) (*registry.Preset, error) {
	presets, err := loadPresets()
	if err != nil {
		return nil, err
	}
	p, ok := presets[name]
	if !ok {
		return nil, fmt.Errorf("%s: %w", name, registry.ErrPresetNotFound)
	}
	return p, nil
}

var presetListCmd = &cobra.Command{
	Use:   "list",
	Short: "List available presets",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		presets, err := loadPresets()
		if err != nil {
			return err
		}
		sorted := registry.SortedPresets(presets)
		if jsonOutput {
			return printJSON(sorted)
		}
		w := newTable()
		fmt.Fprintln(w, "NAME\tGATES\tSOURCE\tDESCRIPTION")
		for _, p := range sorted {
			source := "custom"
			if p.Builtin {
				source = "builtin"
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", p.Name, strings.Join(p.Keys(), ","), source, p.Description)
		}
		return w.Flush()
	},
}

var presetShowCmd = &cobra.Command{
	Use:   "show <name>",
	Short: "Show the gates a preset defines",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := findPreset(args[0])
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(p)
		}
		fmt.Printf("%s  %s\n\n", ui.RenderAccent(p.Name), p.Description)
		printGateTable(gatePointers(p))
		return nil
	},
}

var presetApplyCmd = &cobra.Command{
	Use:   "apply <name> [issue-id]...",
	Short: "Define a preset's gates and attach them to issues",
	Long: `Define a preset's gates and attach them to issues.

Gates already in the registry keep their current definition. With issue
ids, every gate of the preset is attached to each issue.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := findPreset(args[0])
		if err != nil {
			return err
		}
		defined, kept, err := kg.reg.ApplyPreset(cmd.Context(), p, actor)
		if err != nil {
			return err
		}
		ids := args[1:]
		if jsonOutput && len(ids) == 0 {
			return printJSON(map[string]any{"preset": p.Name, "defined": nonNil(defined), "kept": nonNil(kept)})
		}
		if !jsonOutput {
			for _, k := range defined {
				fmt.Printf("%s defined %s\n", ui.RenderPass("✓"), k)
			}
			for _, k := range kept {
				fmt.Printf("%s kept existing %s\n", ui.RenderMuted("-"), k)
			}
		}
		if len(ids) == 0 {
			return nil
		}
		keys := p.Keys()
		res := kg.machine.BulkAttach(cmd.Context(), attachRequests(ids, keys), actor)
		return reportBulk(res, "attached "+p.Name+" to")
	},
}

func gatePointers(p *registry.Preset) []*model.GateDefinition {
	out := make([]*model.GateDefinition, len(p.Gates))
	for i := range p.Gates {
		out[i] = &p.Gates[i]
	}
	return out
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func init() {
	presetCmd.AddCommand(presetListCmd)
	presetCmd.AddCommand(presetShowCmd)
	presetCmd.AddCommand(presetApplyCmd)
	gateCmd.AddCommand(presetCmd)
}
