package main

import (
	"context"
	"fmt"

	"shoplist-sync-server/internal/domain"

	"github.com/spf13/cobra"
)

var ownerFlag string

var listsCmd = &cobra.Command{
	Use:     "lists",
	GroupID: "lists",
	Short:   "Show every list you can see",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			fmt.Println(renderSnapshot(a.engine.Snapshot()))
			return nil
		})
	},
}

var addCmd = &cobra.Command{
	Use:     "add <ingredient>...",
	GroupID: "lists",
	Short:   "Add ingredient lines such as \"2 cups flour\"",
	Args:    cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		start, _ := cmd.Flags().GetBool("start")
		pos := domain.PositionEnd
		if start {
			pos = domain.PositionStart
		}
		ingredients := make([]domain.IngredientInput, len(args))
		for i, text := range args {
			ingredients[i] = domain.IngredientInput{Text: text}
		}
		return edit(cmd, func(a *app) bool {
			return a.engine.AddItems(ownerFlag, ingredients, pos)
		})
	},
}

var removeCmd = &cobra.Command{
	Use:     "remove <label>",
	GroupID: "lists",
	Short:   "Remove an item",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return edit(cmd, func(a *app) bool {
			return a.engine.RemoveItem(ownerFlag, args[0])
		})
	},
}

var clearCmd = &cobra.Command{
	Use:     "clear",
	GroupID: "lists",
	Short:   "Remove every item from a list",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return edit(cmd, func(a *app) bool {
			return a.engine.ClearList(ownerFlag)
		})
	},
}

var reorderCmd = &cobra.Command{
	Use:     "reorder <label>...",
	GroupID: "lists",
	Short:   "Move the given items to the top, in the given order",
	Args:    cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return edit(cmd, func(a *app) bool {
			return a.engine.ReorderItems(ownerFlag, args)
		})
	},
}

var crossCmd = &cobra.Command{
	Use:     "cross <label>",
	GroupID: "lists",
	Short:   "Cross an item off, or restore it with --undo",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		undo, _ := cmd.Flags().GetBool("undo")
		return edit(cmd, func(a *app) bool {
			return a.engine.SetCrossedOff(ownerFlag, args[0], !undo)
		})
	},
}

var qtyCmd = &cobra.Command{
	Use:     "qty <label> <quantity>",
	GroupID: "lists",
	Short:   "Replace an item's quantities with one value",
	Args:    cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return edit(cmd, func(a *app) bool {
			return a.engine.UpdateQuantity(ownerFlag, args[0], args[1])
		})
	},
}

var selectCmd = &cobra.Command{
	Use:     "select <owner-id>",
	GroupID: "lists",
	Short:   "Choose the list edits apply to when --owner is not given",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			if err := a.engine.SelectList(ctx, args[0]); err != nil {
				return err
			}
			fmt.Printf("edits now go to %s\n", a.engine.SelectedList())
			return nil
		})
	},
}

var renameCmd = &cobra.Command{
	Use:     "rename <label>",
	GroupID: "lists",
	Short:   "Rename your own list (needs the server)",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			label, err := a.engine.RenameList(ctx, args[0])
			if err != nil {
				return err
			}
			fmt.Printf("your list is now called %q\n", label)
			return nil
		})
	},
}

// edit applies one local change, sends it when possible and prints the
// affected list.
func edit(cmd *cobra.Command, apply func(a *app) bool) error {
	return withApp(cmd, func(ctx context.Context, a *app) error {
		if !apply(a) {
			return errNoChange
		}
		a.commit(ctx)

		snap := a.engine.Snapshot()
		owner := a.engine.SelectedList()
		if ownerFlag != "" && !snap.Guest {
			owner = ownerFlag
		}
		for _, l := range snap.Lists {
			if l.OwnerID == owner {
				fmt.Println(renderList(l, true))
			}
		}
		return nil
	})
}

func init() {
	for _, c := range []*cobra.Command{addCmd, removeCmd, clearCmd, reorderCmd, crossCmd, qtyCmd} {
		c.Flags().StringVar(&ownerFlag, "owner", "", "owner id of the list to edit (default: selected list)")
	}
	addCmd.Flags().Bool("start", false, "insert at the top of the list")
	crossCmd.Flags().Bool("undo", false, "restore a crossed-off item")

	rootCmd.AddCommand(listsCmd, addCmd, removeCmd, clearCmd, reorderCmd, crossCmd, qtyCmd, selectCmd, renameCmd)
}
