package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/choraleia/styletree/pkg/config"
	"github.com/choraleia/styletree/pkg/models"
	"github.com/choraleia/styletree/pkg/store"
	"github.com/choraleia/styletree/pkg/tree"
)

// parseNodeRef splits "connector:locator".
func parseNodeRef(ref string) (connector, locator string, err error) {
	i := strings.Index(ref, ":")
	if i <= 0 || i == len(ref)-1 {
		return "", "", fmt.Errorf("invalid node %q: want connector:locator", ref)
	}
	return ref[:i], ref[i+1:], nil
}

func resolveRefs(ctx context.Context, t *tree.Tree, refs []string) ([]models.NodeInfo, error) {
	out := make([]models.NodeInfo, 0, len(refs))
	for _, ref := range refs {
		connector, locator, err := parseNodeRef(ref)
		if err != nil {
			return nil, err
		}
		n, err := t.Resolve(ctx, connector, locator)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", ref, err)
		}
		out = append(out, n)
	}
	return out, nil
}

func ids(nodes []models.NodeInfo) []string {
	out := make([]string, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, n.ID)
	}
	return out
}

func newTreeCmd(loadCfg func() (*config.AppConfig, error)) *cobra.Command {
	var depth int
	cmd := &cobra.Command{
		Use:   "tree [NODE...]",
		Short: "Print the resource tree",
		Long:  "Print the roots (or the given nodes) and their children down to --depth levels.",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			return withApp(ctx, loadCfg, func(app *App) error {
				var (
					start []models.NodeInfo
					err   error
				)
				if len(args) == 0 {
					start, err = app.Tree.Roots(ctx)
				} else {
					start, err = resolveRefs(ctx, app.Tree, args)
				}
				if err != nil {
					return err
				}
				for _, n := range start {
					if err := printTree(ctx, cmd.OutOrStdout(), app.Tree, n, depth, 0); err != nil {
						return err
					}
				}
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&depth, "depth", 1, "levels to expand below each starting node")
	return cmd
}

func nodeLabel(n models.NodeInfo) string {
	label := n.Name
	if n.Container {
		label += "/"
	}
	switch {
	case n.Unreachable:
		label += " [unreachable]"
	case !n.Container && n.Category != models.CategoryUnknown && n.Category != "":
		label += " (" + string(n.Category) + ")"
	}
	return label
}

func printTree(ctx context.Context, w io.Writer, t *tree.Tree, n models.NodeInfo, depth, indent int) error {
	fmt.Fprintf(w, "%s%s\n", strings.Repeat("  ", indent), nodeLabel(n))
	if depth <= 0 || !n.Expandable || n.Unreachable {
		return nil
	}
	expanded, err := t.Expand(ctx, n.ID)
	if err != nil {
		// Unreachable containers are shown, not fatal.
		fmt.Fprintf(w, "%s! %v\n", strings.Repeat("  ", indent+1), err)
		return nil
	}
	for _, c := range expanded.Children {
		if err := printTree(ctx, w, t, c, depth-1, indent+1); err != nil {
			return err
		}
	}
	return nil
}

func printReport(w io.Writer, report *tree.TransferReport) error {
	for _, it := range report.Succeeded() {
		if it.Target != "" && it.Target != it.Name {
			fmt.Fprintf(w, "%s -> %s\n", it.Name, it.Target)
		} else {
			fmt.Fprintf(w, "%s\n", it.Name)
		}
	}
	return report.Err()
}

func newTransferCmd(use, short string, loadCfg func() (*config.AppConfig, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use + " SRC... DST",
		Short: short,
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			return withApp(ctx, loadCfg, func(app *App) error {
				nodes, err := resolveRefs(ctx, app.Tree, args)
				if err != nil {
					return err
				}
				sources, dest := nodes[:len(nodes)-1], nodes[len(nodes)-1]
				var report *tree.TransferReport
				if use == "mv" {
					report, err = app.Tree.Move(ctx, ids(sources), dest.ID)
				} else {
					report, err = app.Tree.Copy(ctx, ids(sources), dest.ID)
				}
				if err != nil {
					return err
				}
				return printReport(cmd.OutOrStdout(), report)
			})
		},
	}
}

func newRmCmd(loadCfg func() (*config.AppConfig, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "rm NODE...",
		Short: "Delete resources",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			return withApp(ctx, loadCfg, func(app *App) error {
				nodes, err := resolveRefs(ctx, app.Tree, args)
				if err != nil {
					return err
				}
				report, err := app.Tree.Delete(ctx, ids(nodes))
				if err != nil {
					return err
				}
				return printReport(cmd.OutOrStdout(), report)
			})
		},
	}
}

func newCatCmd(loadCfg func() (*config.AppConfig, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "cat NODE",
		Short: "Write a resource's content to stdout",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			return withApp(ctx, loadCfg, func(app *App) error {
				nodes, err := resolveRefs(ctx, app.Tree, args)
				if err != nil {
					return err
				}
				res, err := app.Tree.Open(ctx, nodes[0].ID)
				if err != nil {
					return err
				}
				_, err = cmd.OutOrStdout().Write(res.Data)
				return err
			})
		},
	}
}

func newConnCmd(loadCfg func() (*config.AppConfig, error)) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "conn",
		Short: "Manage saved connections",
	}

	openStore := func() (*store.ConnectionStore, error) {
		cfg, err := loadCfg()
		if err != nil {
			return nil, err
		}
		return store.Open(cfg.StorePath(), nil)
	}

	var (
		kind        string
		description string
		settings    []string
		configJSON  string
	)
	addCmd := &cobra.Command{
		Use:   "add NAME",
		Short: "Save a connection",
		Long: `Save a connection of the given kind. Settings are key=value pairs matching
the kind's config fields, or a JSON object via --config-json.

Examples:
  styletree conn add geo --kind repository --set url=http://localhost:8080/geoserver --set username=admin
  styletree conn add gis --kind database --set driver=postgres --set host=db --set username=gis --set database=gis
  styletree conn add cache --kind redis --set addr=127.0.0.1:6379`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgMap, err := connectionConfig(settings, configJSON)
			if err != nil {
				return err
			}
			s, err := openStore()
			if err != nil {
				return err
			}
			defer s.Close()
			conn, err := s.Create(cmd.Context(), &models.CreateConnectionRequest{
				Name:        args[0],
				Kind:        models.BackendKind(kind),
				Description: description,
				Config:      cfgMap,
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "saved %s (%s)\n", conn.Name, conn.ID)
			return nil
		},
	}
	addCmd.Flags().StringVar(&kind, "kind", "", "repository, database, sftp or redis")
	addCmd.Flags().StringVar(&description, "description", "", "free-form description")
	addCmd.Flags().StringArrayVar(&settings, "set", nil, "config key=value (repeatable)")
	addCmd.Flags().StringVar(&configJSON, "config-json", "", "config as a JSON object")
	_ = addCmd.MarkFlagRequired("kind")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List saved connections",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openStore()
			if err != nil {
				return err
			}
			defer s.Close()
			conns, err := s.List(cmd.Context())
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "NAME\tKIND\tDESCRIPTION")
			for _, c := range conns {
				fmt.Fprintf(tw, "%s\t%s\t%s\n", c.Name, c.Kind, c.Description)
			}
			return tw.Flush()
		},
	}

	rmCmd := &cobra.Command{
		Use:   "rm NAME",
		Short: "Remove a saved connection",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openStore()
			if err != nil {
				return err
			}
			defer s.Close()
			conn, err := s.GetByName(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("%s: %w", args[0], err)
			}
			if _, err := s.Delete(cmd.Context(), conn.ID); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed %s\n", conn.Name)
			return nil
		},
	}

	cmd.AddCommand(addCmd, listCmd, rmCmd)
	return cmd
}

// connectionConfig merges --config-json with --set pairs; pairs win. Integer
// and boolean looking values are typed so they decode into the typed configs.
func connectionConfig(pairs []string, rawJSON string) (map[string]interface{}, error) {
	out := make(map[string]interface{})
	if rawJSON != "" {
		if err := json.Unmarshal([]byte(rawJSON), &out); err != nil {
			return nil, fmt.Errorf("parse --config-json: %w", err)
		}
	}
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok || strings.TrimSpace(k) == "" {
			return nil, fmt.Errorf("invalid --set %q: want key=value", p)
		}
		out[strings.TrimSpace(k)] = typedValue(v)
	}
	return out, nil
}

func typedValue(v string) interface{} {
	if i, err := strconv.Atoi(v); err == nil {
		return i
	}
	switch v {
	case "true":
		return true
	case "false":
		return false
	}
	return v
}
