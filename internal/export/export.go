// Package export writes finished forecast runs to files, SQLite databases and
// S3-compatible object stores.
package export

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/EmpoweredVote/EV-Forecast/internal/forecast"
)

// Writer publishes one result. String names the destination for logs.
type Writer interface {
	Write(ctx context.Context, res *forecast.Result) error
	String() string
}

// S3Options mirrors the service's S3 settings.
type S3Options struct {
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	UseSSL          bool
	Bucket          string
}

// RunIDPlaceholder in a destination is replaced by each result's run ID.
const RunIDPlaceholder = "{run_id}"

// Open picks a writer from dest:
//
//	out.csv, out.json            local files
//	out.db, out.sqlite           SQLite database
//	s3://bucket/key.json[.gz]    object store (bucket may be empty to use s3.Bucket)
//	-                            JSON on stdout
func Open(dest string, out io.Writer, s3 S3Options) (Writer, error) {
	if dest == "-" {
		return &StreamWriter{W: out, Format: FormatJSON}, nil
	}
	if strings.HasPrefix(dest, "s3://") {
		bucket, key, _ := strings.Cut(strings.TrimPrefix(dest, "s3://"), "/")
		if bucket == "" {
			bucket = s3.Bucket
		}
		if bucket == "" || key == "" {
			return nil, fmt.Errorf("export: %q needs a bucket and an object key", dest)
		}
		format, err := formatOf(strings.TrimSuffix(key, ".gz"))
		if err != nil {
			return nil, err
		}
		return NewS3Writer(s3, bucket, key, format)
	}

	switch strings.ToLower(filepath.Ext(dest)) {
	case ".db", ".sqlite", ".sqlite3":
		return &SQLiteWriter{Path: dest}, nil
	}
	format, err := formatOf(dest)
	if err != nil {
		return nil, err
	}
	return &FileWriter{Path: dest, Format: format}, nil
}

type Format string

const (
	FormatCSV  Format = "csv"
	FormatJSON Format = "json"
)

func formatOf(name string) (Format, error) {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".csv":
		return FormatCSV, nil
	case ".json":
		return FormatJSON, nil
	}
	return "", fmt.Errorf("export: unsupported output %q (want .csv, .json, .db or s3://)", name)
}

func expand(dest string, res *forecast.Result) string {
	return strings.ReplaceAll(dest, RunIDPlaceholder, res.RunID.String())
}

func encode(w io.Writer, format Format, res *forecast.Result) error {
	if format == FormatCSV {
		return encodeCSV(w, res)
	}
	return encodeJSON(w, res)
}

// Rounded returns a copy of res with shares and turnout at two decimals.
func Rounded(res *forecast.Result) *forecast.Result {
	out := *res
	out.Regions = make([]forecast.RegionForecast, len(res.Regions))
	for i, f := range res.Regions {
		f.VoteShare = f.VoteShare.Rounded()
		f.Turnout = f.Turnout.Rounded()
		out.Regions[i] = f
	}
	out.National.Candidates = make([]forecast.CandidateTotal, len(res.National.Candidates))
	for i, c := range res.National.Candidates {
		c.VoteShare = forecast.Round2(c.VoteShare)
		out.National.Candidates[i] = c
	}
	if res.National.Winner != nil {
		w := *res.National.Winner
		w.VoteShare = forecast.Round2(w.VoteShare)
		out.National.Winner = &w
	}
	out.National.MarginPercentage = forecast.Round2(res.National.MarginPercentage)
	return &out
}

func encodeJSON(w io.Writer, res *forecast.Result) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(Rounded(res))
}

// CSVHeader is the column layout of CSV exports, one row per region and
// candidate.
var CSVHeader = []string{
	"run_id", "election_year", "model_name", "region_code", "region_name",
	"candidate_id", "candidate_name", "party",
	"predicted_vote_share", "lower_bound", "upper_bound", "predicted_votes",
	"predicted_turnout", "turnout_lower", "turnout_upper",
}

func encodeCSV(w io.Writer, res *forecast.Result) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(CSVHeader); err != nil {
		return err
	}
	num := func(f float64) string { return strconv.FormatFloat(forecast.Round2(f), 'f', 2, 64) }
	for _, f := range res.Regions {
		err := cw.Write([]string{
			res.RunID.String(),
			strconv.Itoa(res.ElectionYear),
			res.Model,
			f.RegionCode,
			f.RegionName,
			f.CandidateID.String(),
			f.CandidateName,
			f.Party,
			num(f.VoteShare.Mean),
			num(f.VoteShare.Lower),
			num(f.VoteShare.Upper),
			strconv.FormatInt(f.PredictedVotes, 10),
			num(f.Turnout.Mean),
			num(f.Turnout.Lower),
			num(f.Turnout.Upper),
		})
		if err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
