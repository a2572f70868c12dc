package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/born-ml/zymctrl/internal/model"
)

func newFinetuneCmd(a *app) *cobra.Command {
	var export string
	cmd := &cobra.Command{
		Use:     "finetune",
		Short:   "Fine-tune on an EC-labelled dataset and checkpoint the best weights",
		Example: "  zymctrl finetune --dataset family.fasta --default-ec 1.1.1.1 --epochs 3",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a.applyModelFlags(cmd)
			a.applyTrainFlags(cmd)
			a.applyOutputFlags(cmd)

			p, err := a.newPipeline(cmd.Context())
			if err != nil {
				return err
			}
			defer p.Close()

			res, err := p.Train(cmd.Context())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "run %s: %d steps, baseline ppl %.4f, best ppl %.4f\n",
				res.RunID, res.Step, res.BaselinePerplexity, res.BestPerplexity)
			if res.Skipped > 0 {
				fmt.Fprintf(out, "skipped %d of %d records\n", res.Skipped, res.Total)
			}
			if res.Saved {
				fmt.Fprintf(out, "best checkpoint %s\n", res.Handle)
			}
			if res.Incomplete {
				fmt.Fprintln(out, "training canceled, best state so far kept")
			}

			if export != "" {
				cm, ok := p.Store().Current().Model.(*model.ContextModel)
				if !ok {
					return errors.New("export: current weights are not an exportable model")
				}
				if err := model.SaveFile(export, cm); err != nil {
					return err
				}
				fmt.Fprintf(out, "exported %s\n", export)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&export, "export", "", "Write the resulting weights as a model artifact")
	addModelFlags(cmd)
	addTrainFlags(cmd)
	addOutputFlags(cmd)
	return cmd
}
