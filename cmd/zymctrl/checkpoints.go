package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/born-ml/zymctrl/internal/checkpoint"
	"github.com/born-ml/zymctrl/internal/pipeline"
)

func newCheckpointsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "checkpoints",
		Short: "Inspect saved checkpoints",
	}
	cmd.PersistentFlags().String("checkpoint-dir", "", "Checkpoint directory")
	cmd.AddCommand(newCheckpointsListCmd(a), newCheckpointsShowCmd(a))
	return cmd
}

func (a *app) checkpointManager(cmd *cobra.Command) (*checkpoint.Manager, error) {
	dir := a.cfg.Model.CheckpointDir
	if f := cmd.Flags(); f.Changed("checkpoint-dir") {
		dir, _ = f.GetString("checkpoint-dir")
	}
	return checkpoint.Open(dir, checkpoint.WithLogger(a.logger))
}

func newCheckpointsListCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List checkpoints, oldest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			m, err := a.checkpointManager(cmd)
			if err != nil {
				return err
			}
			infos, err := m.List()
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "HANDLE\tSTEP\tSIZE\tMODIFIED\tLATEST")
			for _, info := range infos {
				latest := ""
				if info.Latest {
					latest = "*"
				}
				fmt.Fprintf(tw, "%s\t%d\t%d\t%s\t%s\n",
					info.Handle, info.Step, info.Size, info.ModTime.Format(time.RFC3339), latest)
			}
			return tw.Flush()
		},
	}
}

func newCheckpointsShowCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "show <handle|latest>",
		Short: "Print checkpoint metadata",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := a.checkpointManager(cmd)
			if err != nil {
				return err
			}
			var (
				c *checkpoint.Checkpoint
				h = checkpoint.Handle(args[0])
			)
			if args[0] == pipeline.LatestCheckpoint {
				c, h, err = m.LoadLatest()
			} else {
				c, err = m.Load(h)
			}
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "handle:     %s\n", h)
			fmt.Fprintf(out, "step:       %d\n", c.Step)
			fmt.Fprintf(out, "epoch:      %d\n", c.Meta.Epoch)
			fmt.Fprintf(out, "run:        %s\n", c.Meta.RunID)
			fmt.Fprintf(out, "created:    %s\n", c.Meta.CreatedAt.Format(time.RFC3339))
			fmt.Fprintf(out, "perplexity: %.4f\n", c.Meta.HeldOutPerplexity)
			fmt.Fprintf(out, "optimizer:  %s %v\n", c.Meta.OptimizerType, c.Meta.OptimizerConfig)
			fmt.Fprintf(out, "tensors:    %d weights, %d optimizer\n", len(c.Weights), len(c.Optimizer))
			return nil
		},
	}
}
