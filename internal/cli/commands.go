package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"ledgercache/internal/cache"
	"ledgercache/internal/config"
	"ledgercache/internal/core"
	"ledgercache/internal/log"
	"ledgercache/internal/storage"
)

// session is the state shared by ledgerctl subcommands.
type session struct {
	cfg    *config.Config
	logger *log.Logger
	debug  bool
}

// NewRootCmd creates the ledgerctl command tree. Every subcommand runs a
// one-shot refresh against the configured backend and prints JSON.
func NewRootCmd() *cobra.Command {
	s := &session{}

	cmd := &cobra.Command{
		Use:           "ledgerctl",
		Short:         "Inspect the ledger cache",
		Long:          "ledgerctl loads the configured ledger into a fresh snapshot and reports on it.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			LoadEnvFile()
			s.cfg = config.Load()
			if backend, _ := cmd.Flags().GetString("backend"); backend != "" {
				s.cfg.LedgerBackend = backend
			}
			if fixture, _ := cmd.Flags().GetString("fixture"); fixture != "" {
				s.cfg.MemoryLedgerFile = fixture
			}
			level := slog.LevelWarn
			if s.debug {
				level = slog.LevelDebug
			}
			s.logger = log.New(log.Config{
				Level:     level,
				Component: log.ComponentCLI,
				Format:    s.cfg.LogFormat,
				Output:    cmd.ErrOrStderr(),
			})
			return s.cfg.Validate()
		},
	}

	cmd.PersistentFlags().BoolVar(&s.debug, "debug", false, "enable debug logging")
	cmd.PersistentFlags().String("backend", "", "ledger backend (overrides LEDGER_BACKEND)")
	cmd.PersistentFlags().String("fixture", "", "YAML fixture for the memory backend")

	cmd.AddCommand(
		newRefreshCmd(s),
		newHealthCmd(s),
		newQueryCmd(s),
		newHistoryCmd(s),
	)
	return cmd
}

// withEngine builds an engine, runs one refresh pass and hands both to fn.
func (s *session) withEngine(ctx context.Context, fn func(*cache.Engine, cache.RefreshResult) error) error {
	engine, cleanup, err := BuildEngine(ctx, s.cfg, s.logger)
	if err != nil {
		return err
	}
	defer cleanup()

	if s.cfg.HistoryEnabled {
		history, err := storage.NewHistoryRepository(s.cfg.HistoryDBPath, s.logger)
		if err != nil {
			return fmt.Errorf("open history: %w", err)
		}
		defer history.Close()
		engine.AddObserver(history)
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.RefreshTimeout)
	defer cancel()
	return fn(engine, engine.Refresh(ctx))
}

type refreshOutput struct {
	RunID     string            `json:"run_id"`
	Published bool              `json:"published"`
	Complete  bool              `json:"complete"`
	Version   uint64            `json:"version"`
	Duration  string            `json:"duration"`
	Window    string            `json:"window"`
	Counts    map[string]int    `json:"counts"`
	Failed    map[string]string `json:"failed,omitempty"`
	Error     string            `json:"error,omitempty"`
}

func newRefreshOutput(res cache.RefreshResult) refreshOutput {
	out := refreshOutput{
		RunID:     res.RunID,
		Published: res.Published,
		Complete:  res.Complete,
		Version:   res.Version,
		Duration:  res.Duration().Round(time.Millisecond).String(),
		Window:    res.Window.String(),
		Counts:    map[string]int{},
	}
	for c, n := range res.Counts {
		out.Counts[c.String()] = n
	}
	if len(res.Failed) > 0 {
		out.Failed = map[string]string{}
		for c, err := range res.Failed {
			out.Failed[c.String()] = err.Error()
		}
	}
	if err := res.Err(); err != nil {
		out.Error = err.Error()
	}
	return out
}

func newRefreshCmd(s *session) *cobra.Command {
	return &cobra.Command{
		Use:   "refresh",
		Short: "Run one refresh pass and print its result",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return s.withEngine(cmd.Context(), func(_ *cache.Engine, res cache.RefreshResult) error {
				if err := printJSON(cmd.OutOrStdout(), newRefreshOutput(res)); err != nil {
					return err
				}
				if !res.Published {
					return fmt.Errorf("refresh failed: %w", res.Err())
				}
				return nil
			})
		},
	}
}

func newHealthCmd(s *session) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Print cache health after a refresh pass",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return s.withEngine(cmd.Context(), func(engine *cache.Engine, _ cache.RefreshResult) error {
				return printJSON(cmd.OutOrStdout(), engine.Health(time.Now()))
			})
		},
	}
}

func newQueryCmd(s *session) *cobra.Command {
	var start, end, month string

	cmd := &cobra.Command{
		Use:   "query",
		Short: "Answer a read query from a fresh snapshot",
	}

	rangeOf := func() (core.Date, core.Date, error) {
		if month != "" {
			m, err := core.ParseMonth(month)
			if err != nil {
				return core.Date{}, core.Date{}, err
			}
			return m.First(), m.Last(), nil
		}
		if start == "" && end == "" {
			r := core.MonthOf(time.Now()).Range()
			return r.Start, r.End, nil
		}
		sd, err := core.ParseDate(start)
		if err != nil {
			return core.Date{}, core.Date{}, err
		}
		ed, err := core.ParseDate(end)
		if err != nil {
			return core.Date{}, core.Date{}, err
		}
		return sd, ed, nil
	}

	run := func(q func(context.Context, *cache.Accessor) (any, error)) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, _ []string) error {
			return s.withEngine(cmd.Context(), func(engine *cache.Engine, _ cache.RefreshResult) error {
				v, err := q(cmd.Context(), cache.NewAccessor(engine))
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), v)
			})
		}
	}

	categories := &cobra.Command{
		Use:   "categories",
		Short: "List categories",
		RunE: run(func(ctx context.Context, a *cache.Accessor) (any, error) {
			ans, err := a.Categories(ctx)
			return ans.Value, err
		}),
	}

	category := &cobra.Command{
		Use:   "category NAME",
		Short: "Resolve a category name to its id",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(func(ctx context.Context, a *cache.Accessor) (any, error) {
				ans, err := a.CategoryIDByName(ctx, args[0])
				return map[string]string{"id": ans.Value, "name": args[0]}, err
			})(cmd, args)
		},
	}

	transactions := &cobra.Command{
		Use:   "transactions",
		Short: "List transactions in a date range",
		RunE: func(cmd *cobra.Command, args []string) error {
			uncategorized, _ := cmd.Flags().GetBool("uncategorized")
			return run(func(ctx context.Context, a *cache.Accessor) (any, error) {
				sd, ed, err := rangeOf()
				if err != nil {
					return nil, err
				}
				fetch := a.TransactionsInRange
				if uncategorized {
					fetch = a.UncategorizedTransactions
				}
				ans, err := fetch(ctx, sd, ed)
				return ans.Value, err
			})(cmd, args)
		},
	}
	transactions.Flags().Bool("uncategorized", false, "only transactions without a category")

	spending := &cobra.Command{
		Use:   "spending",
		Short: "Total expenses per category in a date range",
		RunE: run(func(ctx context.Context, a *cache.Accessor) (any, error) {
			sd, ed, err := rangeOf()
			if err != nil {
				return nil, err
			}
			ans, err := a.SpendingByCategory(ctx, sd, ed)
			return ans.Value, err
		}),
	}

	budget := &cobra.Command{
		Use:   "budget CATEGORY_ID",
		Short: "Budget of a category for --month",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(func(ctx context.Context, a *cache.Accessor) (any, error) {
				m := core.MonthOf(time.Now())
				if month != "" {
					var err error
					if m, err = core.ParseMonth(month); err != nil {
						return nil, err
					}
				}
				ans, err := a.BudgetFor(ctx, args[0], m)
				return ans.Value, err
			})(cmd, args)
		},
	}

	for _, c := range []*cobra.Command{transactions, spending, budget} {
		c.Flags().StringVar(&month, "month", "", "month (YYYY-MM)")
	}
	for _, c := range []*cobra.Command{transactions, spending} {
		c.Flags().StringVar(&start, "start", "", "range start (YYYY-MM-DD)")
		c.Flags().StringVar(&end, "end", "", "range end (YYYY-MM-DD)")
	}

	cmd.AddCommand(categories, category, transactions, spending, budget)
	return cmd
}

func newHistoryCmd(s *session) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recorded refresh runs",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !s.cfg.HistoryEnabled {
				return fmt.Errorf("refresh history is disabled")
			}
			history, err := storage.NewHistoryRepository(s.cfg.HistoryDBPath, s.logger)
			if err != nil {
				return err
			}
			defer history.Close()

			runs, err := history.List(cmd.Context(), limit)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), runs)
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of runs to show")
	return cmd
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
