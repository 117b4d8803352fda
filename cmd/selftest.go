package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/manydesigns/portofino/internal/pageactions/selftest"
)

var selftestSync bool

var selftestCmd = &cobra.Command{
	Use:   "selftest [path]",
	Short: "Compare a self-test page's table model with its database",
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
		action, ok := d.Last().Action().(*selftest.Action)
		if !ok {
			return fmt.Errorf("%s: not a %s page", args[0], selftest.ActionTypeName)
		}
		run := action.Run
		if selftestSync {
			run = action.Sync
		}
		res, err := run(cmd.Context())
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if res.Equal {
			fmt.Fprintln(out, "models are equal")
			return nil
		}
		fmt.Fprint(out, res.Diff)
		return nil
	},
}

func init() {
	selftestCmd.Flags().BoolVar(&selftestSync, "sync", false, "Replace the configured model with the database model")
	rootCmd.AddCommand(selftestCmd)
}
