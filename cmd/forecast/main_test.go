package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/EmpoweredVote/EV-Forecast/internal/electiondata"
	"github.com/EmpoweredVote/EV-Forecast/internal/forecast"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const runFileYAML = `model: hierarchical
samples: 800
seed: 7
turnout:
  clip: [35, 90]
`

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestOptionsLayering(t *testing.T) {
	runFile := writeFile(t, t.TempDir(), "run.yaml", runFileYAML)

	// env stands in for FORECAST_SAMPLES=500 and FORECAST_TIMEOUT=2m.
	env := forecast.DefaultOptions()
	env.Samples = 500
	env.Timeout = 2 * time.Minute

	cases := map[string]struct {
		args    []string
		model   string
		samples int
		seed    uint64
		clip    [2]float64
		timeout time.Duration
	}{
		"env only": {
			args: nil, model: forecast.ModelDirichlet, samples: 500, seed: 42, clip: [2]float64{40, 95}, timeout: 2 * time.Minute,
		},
		"run file over env": {
			args: []string{"-config", runFile}, model: forecast.ModelHierarchical, samples: 800, seed: 7, clip: [2]float64{35, 90}, timeout: 2 * time.Minute,
		},
		"flags over run file": {
			args:  []string{"-config", runFile, "-samples", "300", "-seed", "0", "-timeout", "30s"},
			model: forecast.ModelHierarchical, samples: 300, seed: 0, clip: [2]float64{35, 90}, timeout: 30 * time.Second,
		},
		"flag defaults do not override": {
			args: []string{"-config", runFile, "-year", "2027"}, model: forecast.ModelHierarchical, samples: 800, seed: 7, clip: [2]float64{35, 90}, timeout: 2 * time.Minute,
		},
		"model flag is case-insensitive": {
			args: []string{"-model", "Hierarchical"}, model: forecast.ModelHierarchical, samples: 500, seed: 42, clip: [2]float64{40, 95}, timeout: 2 * time.Minute,
		},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			c := newCLI(io.Discard)
			require.NoError(t, c.fs.Parse(tc.args))

			got, err := c.options(env)
			require.NoError(t, err)
			assert.Equal(t, tc.model, got.Model)
			assert.Equal(t, tc.samples, got.Samples)
			assert.Equal(t, tc.seed, got.Seed)
			assert.Equal(t, tc.clip, [2]float64{got.TurnoutMin, got.TurnoutMax})
			assert.Equal(t, tc.timeout, got.Timeout)
		})
	}
}

func TestOptionsLayering_Invalid(t *testing.T) {
	dir := t.TempDir()
	cases := map[string][]string{
		"confidence out of range": {"-confidence", "1.5"},
		"unknown model":           {"-model", "neural"},
		"missing run file":        {"-config", filepath.Join(dir, "absent.yaml")},
		"unknown run file key":    {"-config", writeFile(t, dir, "bad.yaml", "sample: 10\n")},
	}
	for name, args := range cases {
		t.Run(name, func(t *testing.T) {
			c := newCLI(io.Discard)
			require.NoError(t, c.fs.Parse(args))
			_, err := c.options(forecast.DefaultOptions())
			assert.Error(t, err)
		})
	}
}

// dataDir writes a two-region presidential race with 2022 history.
func dataDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	writeFile(t, dir, electiondata.RegionsFile, "code,name,registered_voters\n"+
		"45,Kisii,776109\n"+
		"47,Nairobi,2415310\n")
	writeFile(t, dir, electiondata.CandidatesFile, "election_year,name,party,position\n"+
		"2027,Amina,ODM,president\n"+
		"2027,Baraka,UDA,president\n")
	writeFile(t, dir, electiondata.ResultsFile, "region_code,year,position,candidate_name,party,votes,total_votes_cast,registered_voters,turnout_percentage\n"+
		"45,2022,president,Amina,ODM,14000,100000,776109,78\n"+
		"45,2022,president,Baraka,UDA,56000,100000,776109,78\n"+
		"47,2022,president,Amina,ODM,900000,1500000,2415310,62\n"+
		"47,2022,president,Baraka,UDA,600000,1500000,2415310,62\n")
	return dir
}

func TestRun_ExitCodes(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	data := dataDir(t)

	cases := map[string]struct {
		args []string
		want int
	}{
		"completed":          {[]string{"-year", "2027", "-data-dir", data, "-samples", "200"}, exitOK},
		"missing year":       {[]string{"-data-dir", data}, exitUsage},
		"unknown flag":       {[]string{"-year", "2027", "-bogus"}, exitUsage},
		"invalid confidence": {[]string{"-year", "2027", "-data-dir", data, "-confidence", "2"}, exitUsage},
		"unknown output":     {[]string{"-year", "2027", "-data-dir", data, "-out", "forecast.txt"}, exitUsage},
		"no history":         {[]string{"-year", "2020", "-data-dir", data}, exitFailure},
		"no input source":    {[]string{"-year", "2027"}, exitFailure},
		"unreadable inputs":  {[]string{"-year", "2027", "-data-dir", filepath.Join(data, "absent")}, exitFailure},
		"bad namespace":      {[]string{"-year", "2027", "-data-dir", data, "-namespace", "nope"}, exitFailure},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			var stdout, stderr bytes.Buffer
			got := run(context.Background(), tc.args, &stdout, &stderr)
			assert.Equal(t, tc.want, got, "stderr: %s", stderr.String())
		})
	}
}

func TestRun_WritesOutputs(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	data := dataDir(t)
	csvPath := filepath.Join(t.TempDir(), "forecast.csv")

	var stdout, stderr bytes.Buffer
	code := run(context.Background(),
		[]string{"-year", "2027", "-data-dir", data, "-samples", "200", "-out", "-," + csvPath},
		&stdout, &stderr)
	require.Equal(t, exitOK, code, "stderr: %s", stderr.String())

	var res forecast.Result
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &res))
	assert.Equal(t, forecast.StatusCompleted, res.Status)
	assert.Len(t, res.Regions, 4)

	_, err := os.Stat(csvPath)
	assert.NoError(t, err)
	assert.Contains(t, stderr.String(), "Projected winner")
}
