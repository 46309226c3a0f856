package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

func newValidateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <flow-file>...",
		Short: "Check flow files for structural and template errors",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var errs []error
			for _, path := range args {
				def, err := loadFlow(path)
				if err != nil {
					fmt.Fprintf(cmd.ErrOrStderr(), "FAIL %s: %v\n", path, err)
					errs = append(errs, err)
					continue
				}
				fmt.Fprintf(cmd.OutOrStdout(), "ok   %s (%s, %d steps)\n", path, def.ID, len(def.Steps))
			}
			if len(errs) > 0 {
				return fmt.Errorf("%d of %d flows invalid: %w", len(errs), len(args), errors.Join(errs...))
			}
			return nil
		},
	}
}
