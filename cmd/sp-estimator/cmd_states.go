package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/taxwise-partners/sp-estimator/internal/model"
)

var statesCmd = &cobra.Command{
	Use:   "states",
	Short: "List accepted states of residence",
	RunE: func(cmd *cobra.Command, args []string) error {
		for _, s := range model.States {
			fmt.Fprintln(cmd.OutOrStdout(), s)
		}
		return nil
	},
}
