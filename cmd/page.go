package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/manydesigns/portofino/internal/pageactions"
	"github.com/manydesigns/portofino/internal/pages"
)

var (
	pageTemplate       string
	pageDetailTemplate string
	pageRecursive      bool
	pageTitle          string
)

var pageCmd = &cobra.Command{
	Use:   "page",
	Short: "Inspect and edit page definitions",
}

var pageShowCmd = &cobra.Command{
	Use:   "show [path]",
	Short: "Print the page.xml of the page a path resolves to",
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
		b, err := pages.MarshalPage(d.Last().Page())
		if err != nil {
			return err
		}
		_, err = cmd.OutOrStdout().Write(b)
		return err
	},
}

var pageEditCmd = &cobra.Command{
	Use:   "edit [path]",
	Short: "Change the title or templates of a page",
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
		e, ok := d.Last().Action().(pageactions.Embedder)
		if !ok {
			return fmt.Errorf("%s: action %q cannot be edited", args[0], d.Last().ActionType().Name)
		}
		base := e.BaseAction()
		edit := base.PrepareEdit()
		edit.Script = nil
		if cmd.Flags().Changed("title") {
			edit.Title = pageTitle
		}
		if cmd.Flags().Changed("template") {
			edit.Template = pageTemplate
		}
		if cmd.Flags().Changed("detail-template") {
			edit.DetailTemplate = pageDetailTemplate
		}
		if cmd.Flags().Changed("recursive") {
			edit.ApplyTemplateRecursively = pageRecursive
		}
		report, err := base.UpdatePageConfiguration(cmd.Context(), edit)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "saved %s\n", d.Last().Directory().Path())
		if report != nil {
			for _, p := range report.Updated {
				fmt.Fprintf(out, "updated %s\n", p)
			}
			return report.Err()
		}
		return nil
	},
}

func init() {
	pageEditCmd.Flags().StringVar(&pageTitle, "title", "", "New page title")
	pageEditCmd.Flags().StringVar(&pageTemplate, "template", "", "Layout template, e.g. /templates/wide")
	pageEditCmd.Flags().StringVar(&pageDetailTemplate, "detail-template", "", "Detail layout template")
	pageEditCmd.Flags().BoolVar(&pageRecursive, "recursive", false, "Apply the templates to every descendant page")
	pageCmd.AddCommand(pageShowCmd, pageEditCmd)
	rootCmd.AddCommand(pageCmd)
}
