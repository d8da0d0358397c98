package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"ael/internal/workflow"
)

var validateCmd = &cobra.Command{
	Use:   "validate <file-or-directory>...",
	Short: "Validate workflow definition files",
	Long: `Parses and validates workflow YAML files without executing anything:
structural checks, dependency graph acyclicity, and static sandbox
analysis of script steps. Exits non-zero when any file is invalid.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var paths []string
		for _, arg := range args {
			expanded, err := expandPath(arg)
			if err != nil {
				return err
			}
			paths = append(paths, expanded...)
		}
		if len(paths) == 0 {
			return fmt.Errorf("no workflow files found")
		}

		t := table.NewWriter()
		t.SetOutputMirror(cmd.OutOrStdout())
		t.SetStyle(table.StyleRounded)
		t.AppendHeader(table.Row{"File", "Workflow", "Steps", "Status"})

		failures := 0
		for _, path := range paths {
			name, steps, err := validateFile(path)
			status := "OK"
			if err != nil {
				failures++
				status = err.Error()
			}
			t.AppendRow(table.Row{filepath.Base(path), name, steps, status})
		}
		t.Render()

		if failures > 0 {
			return fmt.Errorf("%d of %d files invalid", failures, len(paths))
		}
		fmt.Fprintf(cmd.OutOrStdout(), "All %d files valid\n", len(paths))
		return nil
	},
}

func expandPath(arg string) ([]string, error) {
	info, err := os.Stat(arg)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return []string{arg}, nil
	}

	entries, err := os.ReadDir(arg)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if ext == ".yaml" || ext == ".yml" {
			out = append(out, filepath.Join(arg, entry.Name()))
		}
	}
	return out, nil
}

func validateFile(path string) (name string, steps int, err error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", 0, err
	}
	def, err := workflow.Parse(data)
	if err != nil {
		return "", 0, err
	}
	if err := def.Validate(); err != nil {
		return def.Name, len(def.Steps), err
	}
	return def.Name, len(def.Steps), nil
}

func init() {
	rootCmd.AddCommand(validateCmd)
}
