package cmd

import (
	"encoding/json"

	"github.com/spf13/cobra"

	"github.com/manydesigns/portofino/internal/server"
)

var resolveSelect string

var resolveCmd = &cobra.Command{
	Use:   "resolve [path]",
	Short: "Resolve a request path into its chain of page instances",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer closeApp(a)

		d, err := a.Dispatcher.Resolve(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		var out any = server.NewDispatchView(d)
		if resolveSelect != "" {
			if out, err = server.Select(out, resolveSelect); err != nil {
				return err
			}
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	},
}

func init() {
	resolveCmd.Flags().StringVar(&resolveSelect, "select", "", "JSONPath applied to the result, e.g. $.pages[*].title")
	rootCmd.AddCommand(resolveCmd)
}
