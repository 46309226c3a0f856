package main

import (
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/wolfman30/medspa-nurture/internal/businesshours"
	"github.com/wolfman30/medspa-nurture/internal/drip"
	"github.com/wolfman30/medspa-nurture/internal/flow"
)

type scheduleOptions struct {
	step     string
	from     string
	timezone string
	open     string
	close    string
	days     string
	mode     string
}

func newScheduleCommand() *cobra.Command {
	opts := &scheduleOptions{}
	cmd := &cobra.Command{
		Use:   "schedule <flow-file>",
		Short: "Preview when a step's drips would be sent",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			def, err := loadFlow(args[0])
			if err != nil {
				return err
			}
			return runSchedule(cmd, def, opts)
		},
	}
	cmd.Flags().StringVar(&opts.step, "step", "", "step id (defaults to the first step)")
	cmd.Flags().StringVar(&opts.from, "from", "", "anchor time, RFC3339 (defaults to now)")
	cmd.Flags().StringVar(&opts.timezone, "tz", "America/New_York", "business hours timezone")
	cmd.Flags().StringVar(&opts.open, "open", "09:00", "opening time")
	cmd.Flags().StringVar(&opts.close, "close", "17:00", "closing time")
	cmd.Flags().StringVar(&opts.days, "days", "mon,tue,wed,thu,fri", "comma-separated open days")
	cmd.Flags().StringVar(&opts.mode, "mode", "chain", "anchor mode: chain or step_anchor")
	return cmd
}

func runSchedule(cmd *cobra.Command, def *flow.Definition, opts *scheduleOptions) error {
	step, ok := def.FirstStep()
	if opts.step != "" {
		step, ok = def.Step(opts.step)
	}
	if !ok {
		return fmt.Errorf("step %q not found in flow %s", opts.step, def.ID)
	}

	anchor := time.Now().UTC()
	if opts.from != "" {
		t, err := time.Parse(time.RFC3339, opts.from)
		if err != nil {
			return fmt.Errorf("invalid --from: %w", err)
		}
		anchor = t
	}
	cal, err := businesshours.Weekly(opts.timezone, opts.open, opts.close, strings.Split(opts.days, ",")...)
	if err != nil {
		return err
	}
	mode, err := drip.ParseAnchorMode(opts.mode)
	if err != nil {
		return err
	}

	planned, err := drip.Plan(drip.Target{OrgID: def.OrgID, StepID: step.ID}, step.DripSequence, anchor, cal, mode)
	if err != nil {
		return err
	}
	loc, _ := cal.Location()

	out := cmd.OutOrStdout()
	if len(planned) == 0 {
		fmt.Fprintf(out, "step %s has no drips\n", step.ID)
		return nil
	}
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "#\tSEND AT\tMESSAGE")
	for _, d := range planned {
		fmt.Fprintf(w, "%d\t%s\t%s\n", d.SequenceIndex+1, d.ScheduledFor.In(loc).Format(time.RFC3339), d.Message)
	}
	return w.Flush()
}
