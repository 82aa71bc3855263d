package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"swapfeed/internal/feed"
	"swapfeed/internal/format"
)

var fetchCmd = &cobra.Command{
	Use:   "fetch",
	Short: "Fetch the price list once and print the token catalog",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := fetchOnce(cmd)
		if err != nil {
			return err
		}
		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			return writeJSON(cmd.OutOrStdout(), st)
		}
		return printCatalog(cmd.OutOrStdout(), st)
	},
}

func init() {
	fetchCmd.Flags().Bool("json", false, "print the feed state as JSON")
	quoteCmd.Flags().Bool("json", false, "print the quote as JSON")
}

// fetchOnce runs a single fetch cycle and returns the resulting state.
func fetchOnce(cmd *cobra.Command) (feed.State, error) {
	ctrl, err := newController(cfg)
	if err != nil {
		return feed.State{}, err
	}
	defer func() { _ = ctrl.Stop(cmd.Context()) }()

	if err := ctrl.Refresh(cmd.Context()); err != nil {
		return feed.State{}, err
	}
	return ctrl.State(), nil
}

func printCatalog(w io.Writer, st feed.State) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SYMBOL\tPRICE (USD)\tOBSERVED")
	for _, tok := range st.Tokens {
		observed := "-"
		if !tok.ObservedAt.IsZero() {
			observed = tok.ObservedAt.Format(time.RFC3339)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", tok.Symbol, format.Token(tok.Price, 6), observed)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	_, err := fmt.Fprintf(w, "%d tokens\n", len(st.Tokens))
	return err
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
