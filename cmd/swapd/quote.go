package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"swapfeed/internal/format"
	"swapfeed/internal/quote"
)

var quoteCmd = &cobra.Command{
	Use:   "quote FROM TO AMOUNT",
	Short: "Quote a swap against freshly fetched prices",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		amount, err := strconv.ParseFloat(args[2], 64)
		if err != nil {
			return fmt.Errorf("amount %q: %w", args[2], err)
		}

		st, err := fetchOnce(cmd)
		if err != nil {
			return err
		}
		res := quote.NewEngine(quote.DeterministicBalance{}).Quote(st, args[0], args[1], quote.SanitizeAmount(amount))

		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			return writeJSON(cmd.OutOrStdout(), res)
		}
		w := cmd.OutOrStdout()
		fmt.Fprintf(w, "1 %s = %s %s\n", res.From, format.Token(res.Rate, 6), res.To)
		fmt.Fprintf(w, "%s %s → %s %s\n", format.Token(res.Amount, 6), res.From, format.Token(res.Output, 6), res.To)
		fmt.Fprintf(w, "balance: %s %s\n", format.Token(res.Balance, 2), res.From)
		if !res.Valid {
			return fmt.Errorf("quote not valid: %s", res.Reason)
		}
		return nil
	},
}
