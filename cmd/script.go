package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/manydesigns/portofino/internal/scripts"
)

var (
	scriptFile    string
	scriptExtends string
)

var scriptCmd = &cobra.Command{
	Use:   "script",
	Short: "Read and write page scripts",
}

var scriptShowCmd = &cobra.Command{
	Use:   "show [dir]",
	Short: "Print the script of a page directory and its declared type",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer closeApp(a)

		dir := a.Store.Locate(args[0])
		src, ok, err := a.Scripts.Read(dir)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%s: no %s", dir.Path(), scripts.File)
		}
		typ, err := a.Scripts.DeclaredType(cmd.Context(), dir)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "# declared type: %s\n", typ)
		_, err = fmt.Fprint(out, src)
		return err
	},
}

var scriptSetCmd = &cobra.Command{
	Use:   "set [dir]",
	Short: "Write the script of a page directory and recompile it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var src string
		switch {
		case scriptFile != "":
			b, err := os.ReadFile(scriptFile)
			if err != nil {
				return err
			}
			src = string(b)
		case scriptExtends != "":
			name, base, ok := strings.Cut(scriptExtends, ":")
			if !ok {
				return fmt.Errorf("--extends: want Name:Base, got %q", scriptExtends)
			}
			src = scripts.Template(name, base)
		default:
			return fmt.Errorf("one of --file or --extends is required")
		}

		a, err := newApp()
		if err != nil {
			return err
		}
		defer closeApp(a)

		decl, err := a.Scripts.Write(cmd.Context(), a.Store.Locate(args[0]), src)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s extends %s\n", decl.Name, decl.Base)
		return nil
	},
}

func init() {
	scriptSetCmd.Flags().StringVarP(&scriptFile, "file", "f", "", "Read the script from this file")
	scriptSetCmd.Flags().StringVar(&scriptExtends, "extends", "", "Generate a script declaring Name:Base")
	scriptCmd.AddCommand(scriptShowCmd, scriptSetCmd)
	rootCmd.AddCommand(scriptCmd)
}
