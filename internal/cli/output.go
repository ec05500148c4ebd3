package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/fjod/go_cart/storefront/internal/domain"
	"github.com/fjod/go_cart/storefront/internal/hybrid"
	"github.com/fjod/go_cart/storefront/internal/state"
	"gopkg.in/yaml.v3"
)

type Format string

const (
	FormatTable Format = "table"
	FormatJSON  Format = "json"
	FormatYAML  Format = "yaml"
)

func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(s)); f {
	case FormatTable, FormatJSON, FormatYAML:
		return f, nil
	case "", "text":
		return FormatTable, nil
	}
	return "", fmt.Errorf("invalid output format %q (valid options: table, json, yaml)", s)
}

type itemOutput struct {
	ProductID string `json:"productId" yaml:"productId"`
	Name      string `json:"name,omitempty" yaml:"name,omitempty"`
	Quantity  int    `json:"quantity,omitempty" yaml:"quantity,omitempty"`
	Price     string `json:"price" yaml:"price"`
	Subtotal  string `json:"subtotal" yaml:"subtotal"`
	AddedAt   string `json:"addedAt" yaml:"addedAt"`
}

type viewOutput struct {
	Kind       string       `json:"kind" yaml:"kind"`
	Mode       string       `json:"mode" yaml:"mode"`
	Owner      string       `json:"owner,omitempty" yaml:"owner,omitempty"`
	SyncStatus string       `json:"syncStatus" yaml:"syncStatus"`
	Online     bool         `json:"online" yaml:"online"`
	Pending    int          `json:"pending" yaml:"pending"`
	ItemCount  int          `json:"itemCount" yaml:"itemCount"`
	Total      string       `json:"total" yaml:"total"`
	Items      []itemOutput `json:"items" yaml:"items"`
	Error      string       `json:"error,omitempty" yaml:"error,omitempty"`
}

type changeOutput struct {
	ProductID   string `json:"productId" yaml:"productId"`
	Change      string `json:"change" yaml:"change"`
	OldPrice    string `json:"oldPrice" yaml:"oldPrice"`
	NewPrice    string `json:"newPrice,omitempty" yaml:"newPrice,omitempty"`
	Description string `json:"description" yaml:"description"`
}

func toViewOutput(v state.View) viewOutput {
	out := viewOutput{
		Kind:       v.Kind.String(),
		Mode:       v.Mode.String(),
		Owner:      v.OwnerID,
		SyncStatus: v.SyncStatus.String(),
		Online:     v.IsOnline,
		Pending:    v.Pending,
		ItemCount:  v.ItemCount,
		Total:      domain.FormatAmount(v.TotalAmount),
		Items:      make([]itemOutput, 0, len(v.Items)),
	}
	if v.Err != nil {
		out.Error = v.Err.Error()
	}
	for _, item := range v.Items {
		out.Items = append(out.Items, itemOutput{
			ProductID: item.ProductID,
			Name:      item.Name,
			Quantity:  item.Quantity,
			Price:     domain.FormatAmount(item.Price),
			Subtotal:  domain.FormatAmount(item.Subtotal(v.Kind)),
			AddedAt:   item.AddedAt.Format("2006-01-02 15:04"),
		})
	}
	return out
}

// RenderView writes a collection view in the requested format.
func RenderView(w io.Writer, f Format, v state.View) error {
	out := toViewOutput(v)
	switch f {
	case FormatJSON:
		return writeJSON(w, out)
	case FormatYAML:
		return yaml.NewEncoder(w).Encode(out)
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	if v.Kind == domain.KindCart {
		fmt.Fprintln(tw, "PRODUCT\tNAME\tQTY\tPRICE\tSUBTOTAL")
		for _, item := range out.Items {
			fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\n", item.ProductID, item.Name, item.Quantity, item.Price, item.Subtotal)
		}
	} else {
		fmt.Fprintln(tw, "PRODUCT\tNAME\tPRICE\tSAVED")
		for _, item := range out.Items {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", item.ProductID, item.Name, item.Price, item.AddedAt)
		}
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	fmt.Fprintf(w, "\n%d item(s), total %s\n", out.ItemCount, out.Total)
	fmt.Fprintf(w, "mode: %s", out.Mode)
	if out.Owner != "" {
		fmt.Fprintf(w, " (%s)", out.Owner)
	}
	fmt.Fprintf(w, ", sync: %s, online: %t, pending: %d\n", out.SyncStatus, out.Online, out.Pending)
	if out.Error != "" {
		fmt.Fprintf(w, "error: %s\n", out.Error)
	}
	return nil
}

// RenderChanges writes the result of a cart validation.
func RenderChanges(w io.Writer, f Format, changes []hybrid.Change) error {
	out := make([]changeOutput, 0, len(changes))
	for _, c := range changes {
		co := changeOutput{
			ProductID:   c.ProductID,
			Change:      c.Type.String(),
			OldPrice:    domain.FormatAmount(c.OldPrice),
			Description: c.String(),
		}
		if c.Type != hybrid.ChangeDiscontinued {
			co.NewPrice = domain.FormatAmount(c.NewPrice)
		}
		out = append(out, co)
	}

	switch f {
	case FormatJSON:
		return writeJSON(w, out)
	case FormatYAML:
		return yaml.NewEncoder(w).Encode(out)
	}

	if len(out) == 0 {
		_, err := fmt.Fprintln(w, "cart is up to date")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "PRODUCT\tCHANGE\tOLD PRICE\tNEW PRICE\tDESCRIPTION")
	for _, c := range out {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", c.ProductID, c.Change, c.OldPrice, c.NewPrice, c.Description)
	}
	return tw.Flush()
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
