package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"cohortpulse/domain/cohort"
	"cohortpulse/domain/core"
	"cohortpulse/internal/config"
	"cohortpulse/internal/migration"
	"cohortpulse/internal/sqlfix"

	"github.com/jmoiron/sqlx"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/spf13/cobra"
)

func main() {
	_ = godotenv.Load()

	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type rootOptions struct {
	cohortsFile string
	asJSON      bool
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	rootCmd := &cobra.Command{
		Use:           "cohortpulse-cli",
		Short:         "Cohort calendar and SQL denominator tools",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&opts.cohortsFile, "cohorts-file", os.Getenv("COHORTS_FILE"), "YAML cohort registry (default: built-in cohorts)")
	rootCmd.PersistentFlags().BoolVar(&opts.asJSON, "json", false, "Print JSON instead of a table")

	rootCmd.AddCommand(
		newWeeksCmd(opts),
		newCurrentWeekCmd(opts),
		newFixSQLCmd(opts),
		newMigrateCmd(),
	)
	return rootCmd
}

func (o *rootOptions) registry() (*cohort.Registry, error) {
	return cohort.LoadRegistryFile(o.cohortsFile)
}

func newWeeksCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "weeks [cohort]",
		Short: "List the week ranges of a cohort",
		Long: `List the derived 7-day weeks of a cohort.

Example: cohortpulse-cli weeks "September 2025"`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := opts.registry()
			if err != nil {
				return err
			}
			weeks, err := reg.WeekRanges(args[0])
			if err != nil {
				return err
			}
			return printWeeks(cmd.OutOrStdout(), weeks, opts.asJSON)
		},
	}
}

func printWeeks(w io.Writer, weeks []cohort.WeekRange, asJSON bool) error {
	if asJSON {
		return writeJSON(w, weeks)
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "WEEK\tSTART\tEND\tRANGE\tDAYS\tCLASS DAYS")
	for _, wk := range weeks {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%d\t%d\n",
			wk.Week, core.FormatDate(wk.Start), core.FormatDate(wk.End), wk.DateRange,
			wk.Days(), cohort.ClassDaysBetween(wk.Start, wk.End))
	}
	return tw.Flush()
}

func newCurrentWeekCmd(opts *rootOptions) *cobra.Command {
	var date string

	cmd := &cobra.Command{
		Use:   "current-week [cohort]",
		Short: "Show which cohort week a date falls in",
		Long: `Show the cohort week containing a date. Dates before the cohort report
week 1 and dates after it report the last week.

Example: cohortpulse-cli current-week "September 2025" --date 2025-10-01`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			asOf := core.DateOnly(time.Now())
			if date != "" {
				d, err := core.ParseDate(date)
				if err != nil {
					return err
				}
				asOf = d
			}

			reg, err := opts.registry()
			if err != nil {
				return err
			}
			week, err := reg.CurrentWeek(args[0], asOf)
			if err != nil {
				return err
			}
			wr, err := reg.WeekRange(args[0], week)
			if err != nil {
				return err
			}

			if opts.asJSON {
				return writeJSON(cmd.OutOrStdout(), map[string]interface{}{
					"cohort": args[0],
					"date":   core.FormatDate(asOf),
					"week":   week,
					"range":  wr,
				})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %s (%s) on %s\n", args[0], wr.Label, wr.DateRange, core.FormatDate(asOf))
			return nil
		},
	}

	cmd.Flags().StringVar(&date, "date", "", "Date as YYYY-MM-DD (default: today)")
	return cmd
}

func newFixSQLCmd(opts *rootOptions) *cobra.Command {
	var cohortName string

	cmd := &cobra.Command{
		Use:   "fix-sql [sql|-]",
		Short: "Replace hardcoded percentage denominators in a query",
		Long: `Run the denominator corrector over a query and print the result.
Pass - to read the query from stdin. Literal sets honor the SQLFIX_*_LITERALS
environment variables.

Example: echo "SELECT COUNT(*) * 100.0 / 24 AS pct FROM builder_attendance" | cohortpulse-cli fix-sql -`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sql := args[0]
			if sql == "-" {
				raw, err := io.ReadAll(cmd.InOrStdin())
				if err != nil {
					return fmt.Errorf("read stdin: %w", err)
				}
				sql = string(raw)
			}
			sql = strings.TrimSpace(sql)

			corrector, err := correctorFromEnv()
			if err != nil {
				return err
			}
			result := corrector.Fix(sql, cohortName)

			if opts.asJSON {
				return writeJSON(cmd.OutOrStdout(), result)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, result.SQL)
			for _, fix := range result.Fixes {
				fmt.Fprintf(cmd.ErrOrStderr(), "fixed: %s\n", fix)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&cohortName, "cohort", sqlfix.DefaultCohort, "Cohort the query targets")
	return cmd
}

// correctorFromEnv builds a corrector with the literal overrides config
// would load, without requiring the rest of the server configuration.
func correctorFromEnv() (*sqlfix.Corrector, error) {
	lits, err := config.LoadSQLFix()
	if err != nil {
		return nil, err
	}
	return sqlfix.NewCorrector(sqlfix.RulesWithLiterals(
		lits.ClassDayLiterals, lits.ActiveBuilderLiterals, lits.TotalTaskLiterals,
	)...), nil
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the dashboard tables in DATABASE_URL",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			url := os.Getenv("DATABASE_URL")
			if url == "" {
				return fmt.Errorf("DATABASE_URL is required")
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), time.Minute)
			defer cancel()

			db, err := sqlx.ConnectContext(ctx, "postgres", url)
			if err != nil {
				return fmt.Errorf("failed to connect to database: %w", err)
			}
			defer db.Close()

			runner := migration.NewRunner()
			if err := runner.Run(ctx, db); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "applied %d migration steps (version %s)\n", len(runner.Steps()), runner.Version())
			return nil
		},
	}
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
