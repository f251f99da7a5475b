package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/scrypster/schoolintel/internal/intel"
	"github.com/scrypster/schoolintel/internal/notify"
	"github.com/scrypster/schoolintel/internal/server"
	"github.com/scrypster/schoolintel/pkg/types"
)

// cli carries state shared by the command tree.
type cli struct {
	cfgPath string
	app     *app
}

func (c *cli) close() error {
	err := c.app.Close()
	c.app = nil
	return err
}

func newRootCmd() (*cobra.Command, *cli) {
	c := &cli{}

	root := &cobra.Command{
		Use:           "schoolintel",
		Short:         "School prospect lookup and conversation starter generation",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if c.app != nil {
				return nil
			}
			a, err := newApp(cmd.Context(), c.cfgPath)
			if err != nil {
				return err
			}
			c.app = a
			return nil
		},
	}
	root.PersistentFlags().StringVarP(&c.cfgPath, "config", "c", "", "path to YAML config file")

	root.AddCommand(
		c.listCmd(),
		c.showCmd(),
		c.generateCmd(),
		c.batchCmd(),
		c.priorityCmd(),
		c.statsCmd(),
		c.cacheCmd(),
		c.summaryCmd(),
		c.serveCmd(),
	)
	return root, c
}

func (c *cli) listCmd() *cobra.Command {
	var agency bool
	cmd := &cobra.Command{
		Use:   "list [QUERY]",
		Short: "List schools, optionally filtered by name, town, postcode, trust or URN",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if agency {
				if len(args) == 1 {
					return errors.New("--agency does not take a query")
				}
				schools, err := c.app.svc.WithAgencySpend(cmd.Context())
				if err != nil {
					return err
				}
				return writeSchoolTable(cmd.OutOrStdout(), schools)
			}

			query := ""
			if len(args) == 1 {
				query = args[0]
			}
			schools, err := c.app.svc.Schools(cmd.Context(), query)
			if err != nil {
				return err
			}
			return writeSchoolTable(cmd.OutOrStdout(), schools)
		},
	}
	cmd.Flags().BoolVar(&agency, "agency", false, "only schools reporting agency supply spend")
	return cmd
}

func (c *cli) showCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show NAME",
		Short: "Show the full record for a school",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sch, err := c.app.svc.FindSchool(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Priority: %s\n%s", sch.SalesPriority(), sch.LLMContext())
			return nil
		},
	}
}

func (c *cli) generateCmd() *cobra.Command {
	var (
		refresh bool
		count   int
	)
	cmd := &cobra.Command{
		Use:   "generate NAME",
		Short: "Generate conversation starters for a school",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in, found := c.app.svc.GetIntelligence(cmd.Context(), args[0], refresh, count)
			if !found {
				return fmt.Errorf("school %q not found", args[0])
			}
			writeIntelligence(cmd.OutOrStdout(), in)
			return nil
		},
	}
	cmd.Flags().BoolVar(&refresh, "refresh", false, "bypass the cache and regenerate")
	cmd.Flags().IntVarP(&count, "count", "n", 0, "number of starters (0 uses the configured default)")
	return cmd
}

func (c *cli) batchCmd() *cobra.Command {
	var (
		refresh bool
		all     bool
		count   int
	)
	cmd := &cobra.Command{
		Use:   "batch [NAMES...]",
		Short: "Generate conversation starters for several schools",
		RunE: func(cmd *cobra.Command, args []string) error {
			names := args
			if all {
				schools, err := c.app.svc.Schools(cmd.Context(), "")
				if err != nil {
					return err
				}
				names = make([]string, 0, len(schools))
				for _, s := range schools {
					names = append(names, s.Name)
				}
			}
			if len(names) == 0 {
				return errors.New("no schools given; pass names or --all")
			}

			results := c.app.svc.GetIntelligenceBatch(cmd.Context(), names, refresh, count)
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "SCHOOL\tSTATE\tSTARTERS\tPRIORITY")
			var failed int
			for _, r := range results {
				if !r.Found {
					fmt.Fprintf(w, "%s\tnot_found\t-\t-\n", r.Name)
					continue
				}
				n, priority := 0, "-"
				if r.Intelligence.Result != nil {
					n = len(r.Intelligence.Result.Items)
					priority = string(r.Intelligence.Result.Priority)
				}
				if r.Intelligence.GenerationFailed() {
					failed++
				}
				fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", r.Name, r.Intelligence.State, n, priority)
			}
			if err := w.Flush(); err != nil {
				return err
			}
			if failed > 0 {
				c.app.logger.Warn("batch finished with failures", zap.Int("failed", failed), zap.Int("total", len(results)))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&refresh, "refresh", false, "bypass the cache and regenerate")
	cmd.Flags().BoolVar(&all, "all", false, "process every school")
	cmd.Flags().IntVarP(&count, "count", "n", 0, "number of starters (0 uses the configured default)")
	return cmd
}

func (c *cli) priorityCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "priority",
		Short: "List schools ranked by sales priority",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			schools, err := c.app.svc.HighPriority(cmd.Context(), limit)
			if err != nil {
				return err
			}
			return writeSchoolTable(cmd.OutOrStdout(), schools)
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "l", 10, "maximum schools to list (0 lists all)")
	return cmd
}

func (c *cli) statsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Print school and cache statistics as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			st, err := c.app.svc.Stats(cmd.Context())
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(st)
		},
	}
}

func (c *cli) cacheCmd() *cobra.Command {
	cacheCmd := &cobra.Command{
		Use:   "cache",
		Short: "Manage cached conversation starters",
	}
	cacheCmd.AddCommand(&cobra.Command{
		Use:   "clear [NAME]",
		Short: "Remove cached starters for one school, or all of them",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				n   int
				err error
			)
			if len(args) == 1 {
				n, err = c.app.svc.ClearCache(cmd.Context(), args[0])
			} else {
				n, err = c.app.svc.ClearAllCache(cmd.Context())
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed %d cached entries\n", n)
			return nil
		},
	})
	return cacheCmd
}

func (c *cli) summaryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "summary NAME",
		Short: "Write a short briefing for a school",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text, err := c.app.svc.Summary(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), text)
			return nil
		},
	}
}

func (c *cli) serveCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := c.app.cfg.Server
			if addr != "" {
				host, port, err := net.SplitHostPort(addr)
				if err != nil {
					return fmt.Errorf("invalid --addr: %w", err)
				}
				p, err := strconv.Atoi(port)
				if err != nil {
					return fmt.Errorf("invalid --addr port: %w", err)
				}
				cfg.Host, cfg.Port = host, p
			}

			srv := server.New(c.app.svc, cfg, c.app.registry, c.app.logger)
			bound, done, err := srv.Start(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "listening on http://%s\n", bound)

			if c.app.cfg.Data.Watch && c.app.cfg.Data.Source == "csv" {
				fw := notify.NewFileWatcher(c.app.cfg.Data.CSVPath, 0, c.app.svc.RefreshData, c.app.logger)
				if err := fw.Start(cmd.Context()); err != nil {
					c.app.logger.Warn("data file watch disabled", zap.Error(err))
				} else {
					defer fw.Stop()
				}
			}
			return <-done
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address host:port (overrides config)")
	return cmd
}

func writeSchoolTable(out io.Writer, schools []*types.School) error {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "URN\tNAME\tTOWN\tPRIORITY\tAGENCY/PUPIL")
	for _, s := range schools {
		agency := "-"
		if v, ok := s.Financial.AgencySpendPerPupil(); ok {
			agency = fmt.Sprintf("£%.2f", v)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", s.URN, s.Name, s.Town, s.SalesPriority(), agency)
	}
	return w.Flush()
}

func writeIntelligence(out io.Writer, in *intel.Intelligence) {
	fmt.Fprintf(out, "%s (URN %s)\n", in.School.Name, in.School.URN)
	switch in.State {
	case intel.StateFeatureOff:
		fmt.Fprintln(out, "Conversation starters are disabled.")
		return
	case intel.StateDegraded:
		fmt.Fprintf(out, "Conversation starters unavailable: %v\n", in.Cause)
		return
	}

	r := in.Result
	fmt.Fprintf(out, "Priority: %s (%s)\n", r.Priority, in.State)
	if r.Summary != "" {
		fmt.Fprintf(out, "Summary: %s\n", r.Summary)
	}
	for i, item := range r.Items {
		fmt.Fprintf(out, "\n%d. %s [%.2f]\n   %s\n", i+1, item.Topic, item.RelevanceScore, item.Detail)
		if item.Source != "" {
			fmt.Fprintf(out, "   Source: %s\n", item.Source)
		}
	}
}
