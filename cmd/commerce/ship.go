package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/R3E-Network/commerce_layer/internal/shipping"
)

func newShipCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ship",
		Short: "Offline shipping helpers",
	}
	cmd.AddCommand(newShipQuoteCmd(), newShipTrackingCmd())
	return cmd
}

func newShipQuoteCmd() *cobra.Command {
	var p shipping.Parcel
	cmd := &cobra.Command{
		Use:   "quote",
		Short: "Print the shipping cost of a parcel",
		Example: `  commerce ship quote --weight 2 --length 20 --width 20 --height 20
  300`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cost, err := shipping.NewService(nil).Quote(p)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), cost)
			return err
		},
	}
	cmd.Flags().Float64Var(&p.Weight, "weight", 0, "weight in kilograms")
	cmd.Flags().Float64Var(&p.Dimensions.Length, "length", 0, "length in centimetres")
	cmd.Flags().Float64Var(&p.Dimensions.Width, "width", 0, "width in centimetres")
	cmd.Flags().Float64Var(&p.Dimensions.Height, "height", 0, "height in centimetres")
	_ = cmd.MarkFlagRequired("weight")
	return cmd
}

func newShipTrackingCmd() *cobra.Command {
	var count int
	cmd := &cobra.Command{
		Use:   "tracking-number",
		Short: "Generate tracking numbers (not reserved in the store)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			for i := 0; i < count; i++ {
				fmt.Fprintln(cmd.OutOrStdout(), shipping.GenerateTrackingNumber())
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&count, "count", "n", 1, "how many to generate")
	return cmd
}
