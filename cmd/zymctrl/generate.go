package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func newGenerateCmd(a *app) *cobra.Command {
	var (
		ecCodes   []string
		num       int
		temp      float32
		topK      int
		topP      float32
		maxLength int
		seed      int64
		batchSize int
		policy    string
		predictor string
	)
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate and rank sequences for one or more EC codes",
		Example: "  zymctrl generate --ec 1.1.1.1 -n 20 -o out.fasta\n" +
			"  zymctrl generate --ec 3.2.1.1 --dataset family.fasta -o seqs/",
		RunE: func(cmd *cobra.Command, _ []string) error {
			f := cmd.Flags()
			g := &a.cfg.Generate
			if f.Changed("ec") {
				g.ECCodes = ecCodes
			}
			if f.Changed("num-sequences") {
				g.NumSequences = num
			}
			if f.Changed("temperature") {
				g.Temperature = temp
			}
			if f.Changed("top-k") {
				g.TopK = topK
			}
			if f.Changed("top-p") {
				g.TopP = topP
			}
			if f.Changed("max-length") {
				g.MaxLength = maxLength
			}
			if f.Changed("seed") {
				g.Seed = seed
			}
			if f.Changed("batch-size") {
				g.BatchSize = batchSize
			}
			if f.Changed("policy") {
				a.cfg.Filter.Policy = policy
			}
			if f.Changed("predictor") {
				a.cfg.Filter.PredictorCommand = strings.Fields(predictor)
			}
			a.applyModelFlags(cmd)
			a.applyTrainFlags(cmd)
			a.applyOutputFlags(cmd)

			p, err := a.newPipeline(cmd.Context())
			if err != nil {
				return err
			}
			defer p.Close()

			res, err := p.Run(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, grp := range res.Groups {
				fmt.Fprintf(out, "%s\t%d candidates\n", grp.Code, len(grp.Items))
			}
			if res.Incomplete {
				fmt.Fprintln(out, "run canceled, partial results written")
			}
			return nil
		},
	}
	f := cmd.Flags()
	f.StringSliceVar(&ecCodes, "ec", nil, "EC code to condition on (repeatable)")
	f.IntVarP(&num, "num-sequences", "n", 0, "Candidates to sample per EC code")
	f.Float32Var(&temp, "temperature", 0, "Sampling temperature (> 0)")
	f.IntVar(&topK, "top-k", 0, "Sample from the k most likely tokens (0 disables)")
	f.Float32Var(&topP, "top-p", 0, "Nucleus sampling threshold in (0, 1]")
	f.IntVar(&maxLength, "max-length", 0, "Maximum prompt plus generated tokens")
	f.Int64Var(&seed, "seed", 0, "Sampling seed (negative picks one)")
	f.IntVar(&batchSize, "batch-size", 0, "Candidates per batched forward pass")
	f.StringVar(&policy, "policy", "", "Ranking policy: model|weighted|threshold")
	f.StringVar(&predictor, "predictor", "", "External predictor command, sequence on stdin, score on stdout")
	addModelFlags(cmd)
	addTrainFlags(cmd)
	addOutputFlags(cmd)
	return cmd
}
