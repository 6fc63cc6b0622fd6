package cli

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"maestro/internal/maintenance"
)

func newUsageCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "usage <session-id>",
		Short: "Show a session's cost records",
		Long: `Print the per-turn cost records of a session in order, with the
running cumulative total. Unpriced turns show a dash; approximate
entries were re-priced at current rates after the fact.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			a, err := buildApp(cmd.Context(), cfg, newLogger(cfg))
			if err != nil {
				return err
			}
			defer a.Close()

			records, err := a.store.ListCostRecords(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if len(records) == 0 {
				fmt.Println("no cost records")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "SEQ\tMODEL\tIN\tOUT\tCOST\tCUMULATIVE\tNOTE")
			for _, rec := range records {
				cost := rec.TurnCost.String()
				note := ""
				if !rec.Priced {
					cost = "-"
					note = "unpriced"
				} else if rec.Approximate {
					note = "approximate"
				}
				fmt.Fprintf(w, "%d\t%s/%s\t%d\t%d\t%s\t%s\t%s\n",
					rec.Seq, rec.Provider, rec.Model, rec.InputTokens, rec.OutputTokens,
					cost, rec.SessionCumulative, note)
			}
			if err := w.Flush(); err != nil {
				return err
			}
			fmt.Printf("\ntotal: %s over %d turns\n",
				records[len(records)-1].SessionCumulative, len(records))
			return nil
		},
	}

	cmd.AddCommand(newUsageRepriceCmd())
	return cmd
}

func newUsageRepriceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reprice",
		Short: "Re-price unpriced turns at current rates",
		Long: `Walk every session and re-price cost records that were stored without
a pricing entry, using the current pricing table. Re-priced records are
marked approximate and each session's cumulative chain is recomputed.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			log := newLogger(cfg)
			a, err := buildApp(cmd.Context(), cfg, log)
			if err != nil {
				return err
			}
			defer a.Close()

			svc := maintenance.New(a.store, a.pricing, maintenance.Config{
				RetentionDays: cfg.Maintenance.RetentionDays,
			}, log)
			n, err := svc.RunReprice(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Printf("re-priced %d records\n", n)
			return nil
		},
	}
}
