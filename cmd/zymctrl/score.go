package main

import (
	"github.com/spf13/cobra"

	"github.com/born-ml/zymctrl/internal/dataset"
	"github.com/born-ml/zymctrl/internal/output"
)

func newScoreCmd(a *app) *cobra.Command {
	var (
		ec    string
		input string
	)
	cmd := &cobra.Command{
		Use:     "score",
		Short:   "Rank existing sequences under the current weights",
		Example: "  zymctrl score --ec 1.1.1.1 --input designs.fasta -o ranked.tsv",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a.applyModelFlags(cmd)
			a.applyOutputFlags(cmd)

			records, err := dataset.Load(input, dataset.Options{DefaultEC: ec})
			if err != nil {
				return err
			}

			p, err := a.newPipeline(cmd.Context())
			if err != nil {
				return err
			}
			defer p.Close()

			ranking, err := p.Score(cmd.Context(), ec, records)
			if err != nil {
				return err
			}
			groups := []output.Group{{Code: ranking.Code.String(), Items: ranking.Items}}

			if path := a.cfg.Output.Path; path != "" {
				run := output.Run{ID: p.RunID(), Kind: "score"}
				return output.Write(cmd.Context(), path, run, groups)
			}
			return output.WriteTable(cmd.OutOrStdout(), output.Rows(groups), '\t')
		},
	}
	f := cmd.Flags()
	f.StringVar(&ec, "ec", "", "EC code to score against")
	f.StringVar(&input, "input", "", "Sequences to score (.fasta, .tsv, .csv)")
	_ = cmd.MarkFlagRequired("ec")
	_ = cmd.MarkFlagRequired("input")
	addModelFlags(cmd)
	addOutputFlags(cmd)
	return cmd
}
