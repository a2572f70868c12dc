package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/born-ml/zymctrl/internal/model"
	"github.com/born-ml/zymctrl/internal/vocab"
)

func newInitModelCmd(*app) *cobra.Command {
	return &cobra.Command{
		Use:   "init-model <path>",
		Short: "Write an untrained model artifact with the default vocabulary",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			v := vocab.Default()
			if err := model.SaveFile(args[0], model.NewContextModel(v)); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s (%d symbols)\n", args[0], v.Size())
			return nil
		},
	}
}
