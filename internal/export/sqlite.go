package export

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/EmpoweredVote/EV-Forecast/internal/forecast"
	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS runs (
	id            TEXT PRIMARY KEY,
	election_year INTEGER NOT NULL,
	model_name    TEXT NOT NULL,
	model_version TEXT NOT NULL,
	status        TEXT NOT NULL,
	reason        TEXT,
	parameters    TEXT NOT NULL,
	diagnostics   TEXT,
	started_at    TEXT NOT NULL,
	finished_at   TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS region_forecasts (
	run_id               TEXT NOT NULL REFERENCES runs(id),
	region_id            TEXT NOT NULL,
	region_code          TEXT NOT NULL,
	region_name          TEXT,
	candidate_id         TEXT NOT NULL,
	candidate_name       TEXT,
	party                TEXT,
	predicted_vote_share REAL NOT NULL,
	lower_bound          REAL NOT NULL,
	upper_bound          REAL NOT NULL,
	predicted_votes      INTEGER NOT NULL,
	predicted_turnout    REAL NOT NULL,
	turnout_lower        REAL NOT NULL,
	turnout_upper        REAL NOT NULL,
	PRIMARY KEY (run_id, region_id, candidate_id)
);
CREATE TABLE IF NOT EXISTS national_results (
	run_id              TEXT NOT NULL REFERENCES runs(id),
	candidate_id        TEXT NOT NULL,
	rank                INTEGER NOT NULL,
	candidate_name      TEXT,
	party               TEXT,
	predicted_votes     INTEGER NOT NULL,
	national_vote_share REAL NOT NULL,
	is_winner           INTEGER NOT NULL,
	PRIMARY KEY (run_id, candidate_id)
);
CREATE TABLE IF NOT EXISTS skipped_regions (
	run_id      TEXT NOT NULL REFERENCES runs(id),
	region_code TEXT NOT NULL,
	reason      TEXT NOT NULL
);
`

// SQLiteWriter appends runs to a local SQLite file for offline analysis.
// Writing the same run twice replaces it.
type SQLiteWriter struct {
	Path string
}

func (s *SQLiteWriter) String() string { return s.Path }

func (s *SQLiteWriter) Write(ctx context.Context, res *forecast.Result) error {
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(10000)&_pragma=foreign_keys(1)", expand(s.Path, res))
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := writeRun(ctx, tx, Rounded(res)); err != nil {
		return err
	}
	return tx.Commit()
}

func writeRun(ctx context.Context, tx *sql.Tx, res *forecast.Result) error {
	id := res.RunID.String()
	for _, table := range []string{"skipped_regions", "national_results", "region_forecasts", "runs"} {
		col := "run_id"
		if table == "runs" {
			col = "id"
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table+" WHERE "+col+" = ?", id); err != nil {
			return fmt.Errorf("clear %s: %w", table, err)
		}
	}

	params, err := json.Marshal(res.Options)
	if err != nil {
		return err
	}
	var diag sql.NullString
	if res.Diagnostics != nil {
		raw, err := json.Marshal(res.Diagnostics)
		if err != nil {
			return err
		}
		diag = sql.NullString{String: string(raw), Valid: true}
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO runs (id, election_year, model_name, model_version, status, reason, parameters, diagnostics, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, res.ElectionYear, res.Model, res.ModelVersion, string(res.Status), res.Reason,
		string(params), diag, res.StartedAt.Format(time.RFC3339Nano), res.FinishedAt.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}

	regionStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO region_forecasts (run_id, region_id, region_code, region_name, candidate_id, candidate_name, party,
			predicted_vote_share, lower_bound, upper_bound, predicted_votes, predicted_turnout, turnout_lower, turnout_upper)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer regionStmt.Close()
	for _, f := range res.Regions {
		_, err := regionStmt.ExecContext(ctx, id, f.RegionID.String(), f.RegionCode, f.RegionName,
			f.CandidateID.String(), f.CandidateName, f.Party,
			f.VoteShare.Mean, f.VoteShare.Lower, f.VoteShare.Upper, f.PredictedVotes,
			f.Turnout.Mean, f.Turnout.Lower, f.Turnout.Upper)
		if err != nil {
			return fmt.Errorf("insert region forecast %s/%s: %w", f.RegionCode, f.CandidateName, err)
		}
	}

	for i, c := range res.National.Candidates {
		winner := res.National.Winner != nil && res.National.Winner.CandidateID == c.CandidateID
		_, err := tx.ExecContext(ctx, `
			INSERT INTO national_results (run_id, candidate_id, rank, candidate_name, party, predicted_votes, national_vote_share, is_winner)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			id, c.CandidateID.String(), i+1, c.CandidateName, c.Party, c.PredictedVotes, c.VoteShare, winner)
		if err != nil {
			return fmt.Errorf("insert national result %s: %w", c.CandidateName, err)
		}
	}

	for _, s := range res.Skipped {
		_, err := tx.ExecContext(ctx, `INSERT INTO skipped_regions (run_id, region_code, reason) VALUES (?, ?, ?)`,
			id, s.RegionCode, s.Reason)
		if err != nil {
			return fmt.Errorf("insert skipped region %s: %w", s.RegionCode, err)
		}
	}
	return nil
}
