package cli

import (
	"strings"

	"github.com/spf13/cobra"
)

func newCategoriesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "categories",
		Short: "Category commands",
	}

	cmd.AddCommand(newCategoriesListCmd())
	cmd.AddCommand(newCategoriesShowCmd())
	cmd.AddCommand(newCategoriesGenerateCmd())

	return cmd
}

func newCategoriesListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the built-in categories",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			names, err := client.Categories(cmd.Context())
			if err != nil {
				return err
			}
			out.PrintCategories(names)
			return nil
		},
	}
}

func newCategoriesShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <name>",
		Short: "Show a built-in category's words",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := client.Category(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			out.PrintCategory(c)
			return nil
		},
	}
}

func newCategoriesGenerateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "generate [prompt...]",
		Short: "Generate a category with the server's generator",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := client.GenerateCategory(cmd.Context(), strings.Join(args, " "))
			if err != nil {
				return err
			}
			out.PrintCategory(c)
			return nil
		},
	}
}
