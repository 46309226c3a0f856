package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/wolfman30/medspa-nurture/internal/flow"
	"github.com/wolfman30/medspa-nurture/internal/messaging/templates"
)

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "flowctl",
		Short:         "Manage nurture flow definitions",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.AddCommand(newValidateCommand())
	cmd.AddCommand(newScheduleCommand())
	cmd.AddCommand(newImportCommand())
	cmd.AddCommand(newExportCommand())
	return cmd
}

// loadFlow reads, decodes and fully checks a flow file.
func loadFlow(path string) (*flow.Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	def, err := flow.Parse(path, data)
	if err != nil {
		return nil, err
	}
	if err := def.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if err := templates.CheckFlow(def); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return def, nil
}
