package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/soyeahso/concierge/internal/latency"
	"github.com/soyeahso/concierge/internal/satisfaction"
	"github.com/soyeahso/concierge/internal/store"
	"github.com/spf13/cobra"
)

var errNoDurableStore = errors.New(`stats read the sqlite store; set store.driver to "sqlite"`)

func newStatsCmd() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Report latency and satisfaction from the durable store",
	}
	cmd.PersistentFlags().BoolVar(&asJSON, "json", false, "print JSON instead of text")

	cmd.AddCommand(newStatsLatencyCmd(&asJSON))
	cmd.AddCommand(newStatsCSATCmd(&asJSON))
	cmd.AddCommand(newStatsTrendCmd(&asJSON))
	return cmd
}

// openStore opens the configured sqlite database for reading reports.
func openStore() (*store.DB, func(), error) {
	if logLevel == "" {
		logLevel = "warn"
	}
	cfg, closer, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	if cfg.Store.Driver != "sqlite" {
		closer.Close()
		return nil, nil, errNoDurableStore
	}
	db, err := store.Open(paths.DatabasePath(cfg.Store), log)
	if err != nil {
		closer.Close()
		return nil, nil, fmt.Errorf("opening database: %w", err)
	}
	return db, func() {
		db.Close()
		closer.Close()
	}, nil
}

func newStatsLatencyCmd(asJSON *bool) *cobra.Command {
	var (
		endpoint string
		minutes  int
		from, to string
		bucket   time.Duration
	)

	cmd := &cobra.Command{
		Use:   "latency",
		Short: "Latency percentiles, optionally with a bucketed trend",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := latencyFilter(endpoint, minutes, from, to)
			if err != nil {
				return err
			}
			db, done, err := openStore()
			if err != nil {
				return err
			}
			defer done()

			ctx := context.Background()
			ls := store.NewLatencyStore(db)
			st, err := ls.Stats(ctx, f)
			if err != nil {
				return err
			}
			var buckets []latency.Bucket
			if bucket > 0 {
				if buckets, err = ls.Trend(ctx, f, bucket); err != nil {
					return err
				}
			}

			out := cmd.OutOrStdout()
			if *asJSON {
				return writeJSONTo(out, map[string]any{"stats": st, "buckets": buckets})
			}
			printLatency(out, st, buckets)
			return nil
		},
	}

	cmd.Flags().StringVar(&endpoint, "endpoint", "", "only this endpoint (e.g. /api/chat/messages)")
	cmd.Flags().IntVar(&minutes, "minutes", 0, "only the trailing N minutes")
	cmd.Flags().StringVar(&from, "from", "", "start date (YYYY-MM-DD or RFC3339)")
	cmd.Flags().StringVar(&to, "to", "", "end date, inclusive (YYYY-MM-DD or RFC3339)")
	cmd.Flags().DurationVar(&bucket, "bucket", 0, "also print a trend with this bucket width (e.g. 5m)")
	return cmd
}

func newStatsCSATCmd(asJSON *bool) *cobra.Command {
	var (
		from, to string
		session  string
	)

	cmd := &cobra.Command{
		Use:   "csat",
		Short: "Customer satisfaction score and rating distribution",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fromT, err := parseDate("from", from, false)
			if err != nil {
				return err
			}
			toT, err := parseDate("to", to, true)
			if err != nil {
				return err
			}
			db, done, err := openStore()
			if err != nil {
				return err
			}
			defer done()

			agg := satisfaction.New(store.NewRatingStore(db), satisfaction.Options{}, log, nil)
			c, err := agg.Stats(context.Background(), satisfaction.StatsFilter{From: fromT, To: toT, SessionID: session})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if *asJSON {
				return writeJSONTo(out, c)
			}
			printCSAT(out, c)
			return nil
		},
	}

	cmd.Flags().StringVar(&from, "from", "", "start date (YYYY-MM-DD or RFC3339)")
	cmd.Flags().StringVar(&to, "to", "", "end date, inclusive (YYYY-MM-DD or RFC3339)")
	cmd.Flags().StringVar(&session, "session", "", "only this session")
	return cmd
}

func newStatsTrendCmd(asJSON *bool) *cobra.Command {
	var days int

	cmd := &cobra.Command{
		Use:   "trend",
		Short: "Daily satisfaction trend",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			db, done, err := openStore()
			if err != nil {
				return err
			}
			defer done()

			agg := satisfaction.New(store.NewRatingStore(db), satisfaction.Options{}, log, nil)
			points, err := agg.Trend(context.Background(), days)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if *asJSON {
				if points == nil {
					points = []satisfaction.TrendPoint{}
				}
				return writeJSONTo(out, points)
			}
			printTrend(out, points)
			return nil
		},
	}

	cmd.Flags().IntVar(&days, "days", satisfaction.DefaultDays, "trailing days, today included")
	return cmd
}

func latencyFilter(endpoint string, minutes int, from, to string) (latency.Filter, error) {
	if minutes < 0 {
		return latency.Filter{}, fmt.Errorf("--minutes must not be negative")
	}
	fromT, err := parseDate("from", from, false)
	if err != nil {
		return latency.Filter{}, err
	}
	toT, err := parseDate("to", to, true)
	if err != nil {
		return latency.Filter{}, err
	}
	if !fromT.IsZero() && !toT.IsZero() && toT.Before(fromT) {
		return latency.Filter{}, fmt.Errorf("--to is before --from")
	}
	return latency.Filter{
		Endpoint:  endpoint,
		TimeRange: time.Duration(minutes) * time.Minute,
		From:      fromT,
		To:        toT,
	}, nil
}

// parseDate accepts YYYY-MM-DD or RFC3339. A bare date used as an upper
// bound covers the whole day.
func parseDate(flag, v string, upper bool) (time.Time, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse(time.DateOnly, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("--%s must be YYYY-MM-DD or RFC3339, got %q", flag, v)
	}
	if upper {
		t = t.Add(24*time.Hour - time.Nanosecond)
	}
	return t, nil
}

func writeJSONTo(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printLatency(w io.Writer, st latency.Stats, buckets []latency.Bucket) {
	if st.Count == 0 {
		fmt.Fprintln(w, "No latency samples in range.")
		return
	}
	fmt.Fprintf(w, "Requests:  %d (%.2f%% success)\n", st.Count, st.SuccessRate)
	fmt.Fprintf(w, "Average:   %.2fms (min %dms, max %dms)\n", st.Avg, st.Min, st.Max)
	fmt.Fprintf(w, "P50/95/99: %dms / %dms / %dms\n", st.P50, st.P95, st.P99)
	if len(buckets) == 0 {
		return
	}
	fmt.Fprintln(w)
	fmt.Fprintf(w, "%-20s %8s %9s %10s\n", "BUCKET", "COUNT", "SUCCESS", "AVG")
	for _, b := range buckets {
		fmt.Fprintf(w, "%-20s %8d %8.2f%% %8.2fms\n",
			b.BucketStart.UTC().Format("2006-01-02 15:04"), b.Count, b.SuccessRate, b.AvgDuration)
	}
}

func printCSAT(w io.Writer, c satisfaction.CSAT) {
	if c.TotalRatings == 0 {
		fmt.Fprintln(w, "No ratings in range.")
		return
	}
	fmt.Fprintf(w, "CSAT:     %.2f%%\n", c.CSATScore)
	fmt.Fprintf(w, "Ratings:  %d (average %.2f)\n", c.TotalRatings, c.AverageRating)
	fmt.Fprintf(w, "Split:    %d satisfied, %d neutral, %d dissatisfied\n", c.Satisfied, c.Neutral, c.Dissatisfied)

	stars := make([]int, 0, len(c.Distribution))
	for s := range c.Distribution {
		stars = append(stars, s)
	}
	sort.Sort(sort.Reverse(sort.IntSlice(stars)))
	for _, s := range stars {
		fmt.Fprintf(w, "  %d: %d\n", s, c.Distribution[s])
	}
}

func printTrend(w io.Writer, points []satisfaction.TrendPoint) {
	if len(points) == 0 {
		fmt.Fprintln(w, "No ratings in range.")
		return
	}
	fmt.Fprintf(w, "%-12s %8s %8s %8s\n", "DATE", "RATINGS", "AVERAGE", "CSAT")
	for _, p := range points {
		fmt.Fprintf(w, "%-12s %8d %8.2f %7.2f%%\n", p.Date, p.TotalRatings, p.AverageRating, p.CSATScore)
	}
}
