package restlet

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/edgeflare/restlet/pkg/rest"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

var routesOutput string

var routesCmd = &cobra.Command{
	Use:   "routes",
	Short: "Print the route table of the configured resources",
	Long:  `Builds the configured resources against the database schema and prints their routes in dispatch order`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		be, err := openBackend(ctx, cfg.DB, zap.NewNop())
		if err != nil {
			return err
		}
		defer be.Close()

		resources, err := buildResources(cfg.Resources, be.catalog)
		if err != nil {
			return err
		}
		var table []rest.RouteInfo
		for _, m := range resources {
			table = append(table, m.desc.RouteTable(strings.TrimSuffix(cfg.REST.BaseURL, "/")+m.path)...)
		}
		return printRoutes(cmd.OutOrStdout(), routesOutput, table)
	},
}

func init() {
	routesCmd.Flags().StringVarP(&routesOutput, "output", "o", "table", "output format (table, json, yaml)")
}

func printRoutes(w io.Writer, format string, routes []rest.RouteInfo) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(routes)
	case "yaml":
		return yaml.NewEncoder(w).Encode(routes)
	case "table", "":
		tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "PATH\tMODEL\tPATTERN\tMETHODS")
		for _, r := range routes {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", r.Path, r.Model, r.Pattern, strings.Join(r.Methods, ","))
		}
		return tw.Flush()
	default:
		return fmt.Errorf("unknown output format %q", format)
	}
}
