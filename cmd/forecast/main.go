package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/EmpoweredVote/EV-Forecast/internal/config"
	"github.com/EmpoweredVote/EV-Forecast/internal/db"
	"github.com/EmpoweredVote/EV-Forecast/internal/electiondata"
	"github.com/EmpoweredVote/EV-Forecast/internal/export"
	"github.com/EmpoweredVote/EV-Forecast/internal/forecast"
	"github.com/EmpoweredVote/EV-Forecast/internal/runs"
	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
)

// postgresOut stores the run in the forecasts schema instead of a file.
const postgresOut = "postgres"

// Exit codes
const (
	exitOK      = 0
	exitFailure = 1
	exitUsage   = 2
)

// cli holds the flag set of one invocation.
type cli struct {
	fs *flag.FlagSet

	year       *int
	position   *string
	model      *string
	samples    *int
	confidence *float64
	seed       *uint64
	timeout    *time.Duration
	workers    *int
	runFile    *string
	dataDir    *string
	namespace  *string
	out        *string
}

func newCLI(stderr io.Writer) *cli {
	fs := flag.NewFlagSet("forecast", flag.ContinueOnError)
	fs.SetOutput(stderr)
	return &cli{
		fs:         fs,
		year:       fs.Int("year", 0, "Election year to forecast (required)"),
		position:   fs.String("position", "president", "Race to forecast"),
		model:      fs.String("model", forecast.ModelDirichlet, "Estimator: dirichlet or hierarchical"),
		samples:    fs.Int("samples", 0, "Monte Carlo draws per region (default: FORECAST_SAMPLES or 2000)"),
		confidence: fs.Float64("confidence", 0, "Central interval mass (default: FORECAST_CONFIDENCE or 0.90)"),
		seed:       fs.Uint64("seed", 42, "Random seed"),
		timeout:    fs.Duration("timeout", 0, "Run deadline (default: FORECAST_TIMEOUT or 10m)"),
		workers:    fs.Int("workers", 0, "Regions estimated concurrently (default: GOMAXPROCS)"),
		runFile:    fs.String("config", "", "YAML file of model parameters"),
		dataDir:    fs.String("data-dir", "", "Read inputs from CSV files in this directory instead of Postgres"),
		namespace:  fs.String("namespace", electiondata.DefaultNamespace.String(), "UUID namespace used for CSV inputs"),
		out:        fs.String("out", "-", "Comma-separated outputs: file.csv, file.json, file.db, s3://bucket/key, postgres, or - for stdout"),
	}
}

func main() {
	_ = godotenv.Load(".env.local")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// run executes one invocation and returns its exit code: 0 when the forecast
// completed, 1 when it failed, 2 on bad usage.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	c := newCLI(stderr)
	if err := c.fs.Parse(args); err != nil {
		return exitUsage
	}
	if *c.year == 0 {
		return c.usagef(stderr, "-year is required")
	}

	cfg, err := config.LoadFromEnv()
	if err != nil {
		return c.usagef(stderr, "environment: %v", err)
	}
	opts, err := c.options(cfg.Forecast)
	if err != nil {
		return c.usagef(stderr, "%v", err)
	}

	var writers []export.Writer
	toPostgres := false
	for _, d := range strings.Split(*c.out, ",") {
		d = strings.TrimSpace(d)
		if d == postgresOut {
			toPostgres = true
			continue
		}
		w, err := export.Open(d, stdout, export.S3Options(cfg.S3))
		if err != nil {
			return c.usagef(stderr, "%v", err)
		}
		writers = append(writers, w)
	}

	// Logs go to stderr so "-out -" stays valid JSON.
	log.SetOutput(stderr)

	repo, err := c.repository(cfg)
	if err != nil {
		return failf(stderr, "%v", err)
	}

	var res *forecast.Result
	if toPostgres {
		gdb, err := db.Open(cfg.DatabaseURL)
		if err != nil {
			return failf(stderr, "connect: %v", err)
		}
		if err := runs.Migrate(gdb); err != nil {
			return failf(stderr, "migrate: %v", err)
		}
		rn := &runs.Runner{Store: runs.NewGormStore(gdb), Repo: repo, Options: opts, Exports: writers}
		res, err = rn.Execute(ctx, runs.Request{ElectionYear: *c.year, Position: *c.position})
		if res == nil {
			return failf(stderr, "%v", err)
		}
	} else {
		res, err = c.forecast(ctx, repo, opts)
		if res == nil {
			return failf(stderr, "%v", err)
		}
		for _, w := range writers {
			if werr := w.Write(ctx, res); werr != nil {
				return failf(stderr, "write %s: %v", w, werr)
			}
		}
	}

	printSummary(stderr, res)
	if res.Status != forecast.StatusCompleted {
		return exitFailure
	}
	return exitOK
}

// options layers the run file and explicitly set flags over env defaults.
func (c *cli) options(o forecast.Options) (forecast.Options, error) {
	if *c.runFile != "" {
		rf, err := config.LoadRunFile(*c.runFile)
		if err != nil {
			return o, err
		}
		rf.Apply(&o)
	}
	c.fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "model":
			o.Model = strings.ToLower(*c.model)
		case "samples":
			o.Samples = *c.samples
		case "confidence":
			o.Confidence = *c.confidence
		case "seed":
			o.Seed = *c.seed
		case "timeout":
			o.Timeout = *c.timeout
		case "workers":
			o.Workers = *c.workers
		}
	})
	return o, o.Validate()
}

func (c *cli) repository(cfg config.Config) (electiondata.Repository, error) {
	if *c.dataDir != "" {
		ns, err := uuid.Parse(*c.namespace)
		if err != nil {
			return nil, fmt.Errorf("--namespace: %w", err)
		}
		return electiondata.NewCSVRepository(*c.dataDir, ns)
	}
	if cfg.DatabaseURL == "" {
		return nil, errors.New("--data-dir not provided and DATABASE_URL not set")
	}
	gdb, err := db.Open(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	return electiondata.NewGormRepository(gdb), nil
}

func (c *cli) forecast(ctx context.Context, repo electiondata.Repository, opts forecast.Options) (*forecast.Result, error) {
	ds, err := electiondata.Load(ctx, repo, *c.year, *c.position, opts.MinAggregateSize)
	if err != nil {
		return nil, err
	}
	return forecast.Run(ctx, ds, opts)
}

func printSummary(w io.Writer, res *forecast.Result) {
	fmt.Fprintf(w, "Run %s: %s %s, %d, %s\n", res.RunID, res.Model, res.ModelVersion, res.ElectionYear, res.Status)
	if res.Reason != "" {
		fmt.Fprintf(w, "  Reason: %s\n", res.Reason)
	}
	if !res.FinishedAt.IsZero() {
		fmt.Fprintf(w, "  Took %s\n", res.FinishedAt.Sub(res.StartedAt).Round(time.Millisecond))
	}
	for i, c := range res.National.Candidates {
		fmt.Fprintf(w, "  %d. %-24s %-8s %12s votes  %6.2f%%\n",
			i+1, c.CandidateName, c.Party, humanize.Comma(c.PredictedVotes), forecast.Round2(c.VoteShare))
	}
	if res.National.Winner != nil {
		fmt.Fprintf(w, "  Projected winner: %s (margin %.2f points, %s total votes)\n",
			res.National.Winner.CandidateName, forecast.Round2(res.National.MarginPercentage), humanize.Comma(res.National.TotalVotes))
	}
	if n := len(res.Skipped); n > 0 {
		fmt.Fprintf(w, "  Skipped %d regions\n", n)
		for _, s := range res.Skipped {
			fmt.Fprintf(w, "    %s: %s\n", s.RegionCode, s.Reason)
		}
	}
	for _, warning := range res.Warnings {
		fmt.Fprintf(w, "  WARNING: %s\n", warning)
	}
	if d := res.Diagnostics; d != nil {
		fmt.Fprintf(w, "  R-hat max %.3f (%s), ESS min %.0f (%s), divergences %d, acceptance %.2f\n",
			d.RHatMax, d.RHatParam, d.ESSMin, d.ESSParam, d.Divergences, d.Acceptance)
	}
}

func (c *cli) usagef(stderr io.Writer, format string, a ...any) int {
	fmt.Fprintf(stderr, format+"\n", a...)
	c.fs.Usage()
	return exitUsage
}

func failf(stderr io.Writer, format string, a ...any) int {
	fmt.Fprintf(stderr, format+"\n", a...)
	return exitFailure
}
