package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/EmpoweredVote/EV-Forecast/internal/db"
	"github.com/EmpoweredVote/EV-Forecast/internal/electiondata"
	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"
)

// CLI flags
var (
	dir         = flag.String("dir", "", "Directory holding regions.csv, candidates.csv, results.csv and optional ethnicity.csv (required)")
	dsn         = flag.String("dsn", os.Getenv("DATABASE_URL"), "Postgres DSN (default: env DATABASE_URL)")
	namespace   = flag.String("namespace", electiondata.DefaultNamespace.String(), "UUID namespace for deterministic IDs")
	dryRun      = flag.Bool("dry-run", false, "Parse + validate only; no DB writes")
	replace     = flag.Bool("replace", false, "Delete all election data before importing (requires --confirm)")
	confirm     = flag.Bool("confirm", false, "Required with --replace")
	minAgg      = flag.Int64("min-aggregate-size", 10, "Reject ethnicity rows below this population count")
	advisoryKey = flag.Int64("advisory-lock", 0, "Optional Postgres advisory lock key (e.g., 424242). 0 = disabled")
)

type Counts struct {
	Regions    int64
	Candidates int64
	Results    int64
	Ethnicity  int64
}

func (c Counts) String() string {
	return fmt.Sprintf("regions=%s candidates=%s results=%s ethnicity=%s",
		humanize.Comma(c.Regions), humanize.Comma(c.Candidates), humanize.Comma(c.Results), humanize.Comma(c.Ethnicity))
}

func main() {
	_ = godotenv.Load(".env.local")
	flag.Parse()
	if *dir == "" {
		fatalf("--dir is required")
	}
	ns, err := uuid.Parse(*namespace)
	if err != nil {
		fatalf("--namespace: %v", err)
	}

	bundle, err := electiondata.ReadDir(*dir, ns)
	if err != nil {
		fatalf("CSV error: %v", err)
	}
	if err := validateAggregates(bundle, *minAgg); err != nil {
		fatalf("CSV validation failed: %v", err)
	}

	printPlan(bundle)
	if *dryRun {
		fmt.Println("Dry run complete. No changes made.")
		return
	}
	if *replace && !*confirm {
		fatalf("Refusing to replace without --confirm. Add --dry-run to preview.")
	}
	if *dsn == "" {
		fatalf("--dsn not provided and DATABASE_URL not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	gdb, err := db.Open(*dsn)
	if err != nil {
		fatalf("connect: %v", err)
	}
	if err := electiondata.Migrate(gdb); err != nil {
		fatalf("migrate: %v", err)
	}

	sqlDB, err := sql.Open("pgx", *dsn)
	if err != nil {
		fatalf("connect: %v", err)
	}
	defer sqlDB.Close()

	if err := sqlDB.PingContext(ctx); err != nil {
		fatalf("ping: %v", err)
	}

	tx, err := sqlDB.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		fatalf("begin tx: %v", err)
	}
	defer func() {
		_ = tx.Rollback() // no-op if already committed
	}()

	// Optional advisory lock to avoid concurrent imports
	if *advisoryKey != 0 {
		if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, *advisoryKey); err != nil {
			fatalf("advisory lock: %v", err)
		}
	}

	before, err := countAll(ctx, tx)
	if err != nil {
		fatalf("pre-count: %v", err)
	}
	fmt.Printf("Before: %s\n", before)

	if *replace {
		if err := wipe(ctx, tx); err != nil {
			fatalf("wipe data: %v", err)
		}
	}

	if err := upsertAll(ctx, tx, bundle); err != nil {
		fatalf("upsert: %v", err)
	}

	after, err := countAll(ctx, tx)
	if err != nil {
		fatalf("post-count: %v", err)
	}
	fmt.Printf("After:  %s\n", after)

	// Deterministic IDs make the import idempotent: rows can only grow.
	if !*replace && (after.Regions < before.Regions || after.Results < before.Results) {
		fatalf("sanity check failed: row counts shrank (%s -> %s)", before, after)
	}

	if err := tx.Commit(); err != nil {
		fatalf("commit: %v", err)
	}
	fmt.Println("Import complete")
}

func validateAggregates(b *electiondata.Bundle, min int64) error {
	for _, a := range b.Ethnicity {
		if a.PopulationCount < min {
			return fmt.Errorf("ethnicity group %q (%d) has population_count %d below %d",
				a.Group, a.Year, a.PopulationCount, min)
		}
	}
	return nil
}

func printPlan(b *electiondata.Bundle) {
	years := map[int]int{}
	for _, c := range b.Candidates {
		years[c.ElectionYear]++
	}
	fmt.Println("Plan preview:")
	fmt.Printf("  Regions to upsert: %s\n", humanize.Comma(int64(len(b.Regions))))
	fmt.Printf("  Candidates to upsert: %s across %d elections\n", humanize.Comma(int64(len(b.Candidates))), len(years))
	fmt.Printf("  Historical results to upsert: %s\n", humanize.Comma(int64(len(b.Results))))
	fmt.Printf("  Ethnicity aggregates to upsert: %s\n", humanize.Comma(int64(len(b.Ethnicity))))
	if *replace {
		fmt.Println("  Tables affected (destructive): elections.ethnicity_aggregates, elections.historical_results, elections.candidates, elections.regions")
	}
}

func countAll(ctx context.Context, tx *sql.Tx) (Counts, error) {
	var c Counts
	for _, q := range []struct {
		table string
		dst   *int64
	}{
		{"elections.regions", &c.Regions},
		{"elections.candidates", &c.Candidates},
		{"elections.historical_results", &c.Results},
		{"elections.ethnicity_aggregates", &c.Ethnicity},
	} {
		if err := tx.QueryRowContext(ctx, `SELECT count(*) FROM `+q.table).Scan(q.dst); err != nil {
			return c, err
		}
	}
	return c, nil
}

// wipe deletes in dependency order; no ON DELETE CASCADE is assumed.
func wipe(ctx context.Context, tx *sql.Tx) error {
	for _, t := range []string{
		"elections.ethnicity_aggregates",
		"elections.historical_results",
		"elections.candidates",
		"elections.regions",
	} {
		if _, err := tx.ExecContext(ctx, `DELETE FROM `+t); err != nil {
			return fmt.Errorf("delete %s: %w", t, err)
		}
	}
	return nil
}

func upsertAll(ctx context.Context, tx *sql.Tx, b *electiondata.Bundle) error {
	now := time.Now().UTC()
	for _, r := range b.Regions {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO elections.regions (id, code, name, registered_voters, urban_fraction, youth_fraction, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
			ON CONFLICT (id) DO UPDATE SET
				name = EXCLUDED.name,
				registered_voters = EXCLUDED.registered_voters,
				urban_fraction = EXCLUDED.urban_fraction,
				youth_fraction = EXCLUDED.youth_fraction,
				updated_at = EXCLUDED.updated_at`,
			r.ID, r.Code, r.Name, r.RegisteredVoters, r.UrbanFraction, r.YouthFraction, now)
		if err != nil {
			return fmt.Errorf("region %s: %w", r.Code, err)
		}
	}
	for _, c := range b.Candidates {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO elections.candidates (id, election_year, position, name, party, region_id, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
			ON CONFLICT (id) DO UPDATE SET
				region_id = EXCLUDED.region_id,
				updated_at = EXCLUDED.updated_at`,
			c.ID, c.ElectionYear, c.Position, c.Name, c.Party, c.RegionID, now)
		if err != nil {
			return fmt.Errorf("candidate %s (%d): %w", c.Name, c.ElectionYear, err)
		}
	}
	for _, h := range b.Results {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO elections.historical_results (id, region_id, candidate_id, year, position, candidate_name, party,
				votes, total_votes_cast, registered_voters, turnout_percentage, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
			ON CONFLICT (id) DO UPDATE SET
				candidate_id = EXCLUDED.candidate_id,
				votes = EXCLUDED.votes,
				total_votes_cast = EXCLUDED.total_votes_cast,
				registered_voters = EXCLUDED.registered_voters,
				turnout_percentage = EXCLUDED.turnout_percentage`,
			h.ID, h.RegionID, h.CandidateID, h.Year, h.Position, h.CandidateName, h.Party,
			h.Votes, h.TotalVotesCast, h.RegisteredVoters, h.TurnoutPercentage, now)
		if err != nil {
			return fmt.Errorf("result %s %d: %w", h.CandidateName, h.Year, err)
		}
	}
	for _, a := range b.Ethnicity {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO elections.ethnicity_aggregates (id, region_id, ethnicity_group, year, population_count, population_share, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (id) DO UPDATE SET
				population_count = EXCLUDED.population_count,
				population_share = EXCLUDED.population_share`,
			a.ID, a.RegionID, a.Group, a.Year, a.PopulationCount, a.PopulationShare, now)
		if err != nil {
			return fmt.Errorf("ethnicity %s %d: %w", a.Group, a.Year, err)
		}
	}
	return nil
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "ERROR: "+format+"\n", args...)
	os.Exit(1)
}
