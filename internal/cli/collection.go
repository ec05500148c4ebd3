package cli

import (
	"fmt"
	"strconv"

	"github.com/fjod/go_cart/storefront/internal/domain"
	"github.com/fjod/go_cart/storefront/internal/state"
	"github.com/spf13/cobra"
)

func newCollectionCmd(sess *session, kind domain.Kind) *cobra.Command {
	cmd := &cobra.Command{
		Use:   kind.String(),
		Short: fmt.Sprintf("Manage the %s", kind),
	}
	if kind == domain.KindSaved {
		cmd.Aliases = []string{"saved"}
		cmd.Short = "Manage the saved-for-later list"
	}

	cmd.AddCommand(&cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "Show the items",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			p := sess.app.Open(cmd.Context(), kind)
			view, _ := p.Refresh(cmd.Context())
			return RenderView(sess.out, sess.format, view)
		},
	})

	cmd.AddCommand(newAddCmd(sess, kind))

	cmd.AddCommand(&cobra.Command{
		Use:     "remove <product-id>",
		Aliases: []string{"rm"},
		Short:   "Remove an item",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p := sess.app.Open(cmd.Context(), kind)
			return sess.render(p.RemoveItem(cmd.Context(), args[0]))
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "clear",
		Short: "Remove every item",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			p := sess.app.Open(cmd.Context(), kind)
			return sess.render(p.Clear(cmd.Context()))
		},
	})

	if kind == domain.KindCart {
		cmd.AddCommand(&cobra.Command{
			Use:   "qty <product-id> <quantity>",
			Short: "Set the quantity of a cart line (0 removes it)",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				qty, err := strconv.Atoi(args[1])
				if err != nil {
					return fmt.Errorf("invalid quantity %q", args[1])
				}
				p := sess.app.Open(cmd.Context(), kind)
				return sess.render(p.UpdateQuantity(cmd.Context(), args[0], qty))
			},
		})
		cmd.AddCommand(newValidateCmd(sess))
	}

	return cmd
}

func newAddCmd(sess *session, kind domain.Kind) *cobra.Command {
	var item domain.Item
	var price string

	cmd := &cobra.Command{
		Use:   "add <product-id>",
		Short: "Add an item",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			item.ProductID = args[0]
			if price != "" {
				minor, err := domain.ParseAmount(price)
				if err != nil {
					return err
				}
				item.Price = minor
			}
			p := sess.app.Open(cmd.Context(), kind)
			return sess.render(p.AddItem(cmd.Context(), item))
		},
	}

	cmd.Flags().StringVar(&item.Name, "name", "", "product name")
	cmd.Flags().StringVar(&price, "price", "", "unit price, e.g. 19.99")
	cmd.Flags().StringVar(&item.ImagePath, "image", "", "image path")
	cmd.Flags().StringVar(&item.Category, "category", "", "product category")
	if kind == domain.KindCart {
		cmd.Flags().IntVarP(&item.Quantity, "quantity", "q", 1, "quantity to add")
	}
	return cmd
}

func newValidateCmd(sess *session) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Compare the guest cart with current catalog prices and availability",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc := sess.app.Service(domain.KindCart)
			sess.app.Open(cmd.Context(), domain.KindCart)
			changes, err := svc.Validate(cmd.Context())
			if err != nil {
				return err
			}
			return RenderChanges(sess.out, sess.format, changes)
		},
	}
}

// render prints the view and passes the write error on so the exit code
// reflects it. An offline write is not an error: it was queued.
func (sess *session) render(view state.View, err error) error {
	if rerr := RenderView(sess.out, sess.format, view); rerr != nil {
		return rerr
	}
	return err
}
