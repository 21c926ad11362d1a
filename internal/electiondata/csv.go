package electiondata

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// File names read by ReadDir. ethnicity.csv is optional.
const (
	RegionsFile    = "regions.csv"
	CandidatesFile = "candidates.csv"
	ResultsFile    = "results.csv"
	EthnicityFile  = "ethnicity.csv"
)

const defaultPosition = "president"

type table struct {
	col     map[string]int
	rows    [][]string
	percent map[string]bool
}

func readTable(r io.Reader, required ...string) (*table, error) {
	cr := csv.NewReader(bufio.NewReader(r))
	cr.FieldsPerRecord = -1

	records, err := cr.ReadAll()
	if err != nil {
		return nil, err
	}
	if len(records) < 2 {
		return nil, errors.New("csv has no data rows")
	}

	header := records[0]
	// Handle BOM on first header cell
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], "\ufeff")
	}
	col := map[string]int{}
	for i, h := range header {
		col[strings.ToLower(strings.TrimSpace(h))] = i
	}
	for _, k := range required {
		if _, ok := col[k]; !ok {
			return nil, fmt.Errorf("missing required column: %s", k)
		}
	}
	return &table{col: col, rows: records[1:]}, nil
}

// row wraps one record; line is its 1-based line number in the file.
type row struct {
	t    *table
	rec  []string
	line int
	err  error
}

func (t *table) each(fn func(r *row) error) error {
	for i, rec := range t.rows {
		r := &row{t: t, rec: rec, line: i + 2}
		if err := fn(r); err != nil {
			return err
		}
		if r.err != nil {
			return r.err
		}
	}
	return nil
}

func (r *row) str(name string) string {
	i, ok := r.t.col[name]
	if !ok || i >= len(r.rec) {
		return ""
	}
	return strings.TrimSpace(r.rec[i])
}

func (r *row) required(name string) string {
	v := r.str(name)
	if v == "" && r.err == nil {
		r.err = fmt.Errorf("row %d: %s is required", r.line, name)
	}
	return v
}

func (r *row) count(name string) int64 {
	v := strings.ReplaceAll(r.str(name), ",", "")
	if v == "" {
		return 0
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil && r.err == nil {
		r.err = fmt.Errorf("row %d: %s must be an integer (got %q)", r.line, name, v)
	}
	if n < 0 && r.err == nil {
		r.err = fmt.Errorf("row %d: %s must not be negative (got %d)", r.line, name, n)
	}
	return n
}

func (r *row) integer(name string) int {
	return int(r.count(name))
}

func (r *row) number(name string) float64 {
	v := strings.TrimSuffix(r.str(name), "%")
	if v == "" {
		return 0
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil && r.err == nil {
		r.err = fmt.Errorf("row %d: %s must be a number (got %q)", r.line, name, v)
	}
	return f
}

// ParseRegions reads code,name,registered_voters[,urban_fraction,youth_fraction].
func ParseRegions(in io.Reader, ns uuid.UUID) ([]Region, error) {
	t, err := readTable(in, "code", "name", "registered_voters")
	if err != nil {
		return nil, err
	}
	seen := map[string]bool{}
	var out []Region
	err = t.each(func(r *row) error {
		code := r.required("code")
		if seen[canon(code)] {
			return fmt.Errorf("row %d: duplicate region code %q", r.line, code)
		}
		seen[canon(code)] = true
		out = append(out, Region{
			ID:               RegionID(ns, code),
			Code:             code,
			Name:             r.required("name"),
			RegisteredVoters: r.count("registered_voters"),
			UrbanFraction:    r.fraction("urban_fraction"),
			YouthFraction:    r.fraction("youth_fraction"),
		})
		return nil
	})
	return out, err
}

// ParseCandidates reads election_year,name,party,position[,region_code].
func ParseCandidates(in io.Reader, ns uuid.UUID, regions map[string]uuid.UUID) ([]Candidate, error) {
	t, err := readTable(in, "election_year", "name", "party", "position")
	if err != nil {
		return nil, err
	}
	seen := map[uuid.UUID]bool{}
	var out []Candidate
	err = t.each(func(r *row) error {
		c := Candidate{
			ElectionYear: r.integer("election_year"),
			Name:         r.required("name"),
			Party:        r.str("party"),
			Position:     strings.ToLower(r.required("position")),
		}
		if code := r.str("region_code"); code != "" {
			id, ok := regions[canon(code)]
			if !ok {
				return fmt.Errorf("row %d: unknown region_code %q", r.line, code)
			}
			c.RegionID = &id
		}
		c.ID = CandidateID(ns, c.ElectionYear, c.Position, c.Name, c.Party)
		if seen[c.ID] {
			return fmt.Errorf("row %d: duplicate candidate %q (%s) for %d", r.line, c.Name, c.Party, c.ElectionYear)
		}
		seen[c.ID] = true
		out = append(out, c)
		return nil
	})
	return out, err
}

// ParseResults reads region_code,year,candidate_name,party,votes,total_votes_cast
// with optional position, registered_voters and turnout_percentage. Rows that
// name a known candidate of that election are linked by ID.
func ParseResults(in io.Reader, ns uuid.UUID, regions map[string]uuid.UUID, candidates map[uuid.UUID]bool) ([]HistoricalResult, error) {
	t, err := readTable(in, "region_code", "year", "candidate_name", "party", "votes", "total_votes_cast")
	if err != nil {
		return nil, err
	}
	var out []HistoricalResult
	err = t.each(func(r *row) error {
		code := r.required("region_code")
		regionID, ok := regions[canon(code)]
		if !ok && r.err == nil {
			return fmt.Errorf("row %d: unknown region_code %q", r.line, code)
		}
		h := HistoricalResult{
			RegionID:          regionID,
			Year:              r.integer("year"),
			Position:          strings.ToLower(r.str("position")),
			CandidateName:     r.required("candidate_name"),
			Party:             r.str("party"),
			Votes:             r.count("votes"),
			TotalVotesCast:    r.count("total_votes_cast"),
			RegisteredVoters:  r.count("registered_voters"),
			TurnoutPercentage: r.number("turnout_percentage"),
		}
		if h.Position == "" {
			h.Position = defaultPosition
		}
		if h.Votes > h.TotalVotesCast && r.err == nil {
			return fmt.Errorf("row %d: votes %d exceed total_votes_cast %d", r.line, h.Votes, h.TotalVotesCast)
		}
		h.ID = ResultID(ns, code, h.Year, h.Position, h.CandidateName, h.Party)
		if cid := CandidateID(ns, h.Year, h.Position, h.CandidateName, h.Party); candidates[cid] {
			h.CandidateID = &cid
		}
		out = append(out, h)
		return nil
	})
	return out, err
}

// ParseEthnicity reads region_code,ethnicity_group,year,population_count,population_share.
func ParseEthnicity(in io.Reader, ns uuid.UUID, regions map[string]uuid.UUID) ([]EthnicityAggregate, error) {
	t, err := readTable(in, "region_code", "ethnicity_group", "year", "population_count", "population_share")
	if err != nil {
		return nil, err
	}
	var out []EthnicityAggregate
	err = t.each(func(r *row) error {
		code := r.required("region_code")
		regionID, ok := regions[canon(code)]
		if !ok && r.err == nil {
			return fmt.Errorf("row %d: unknown region_code %q", r.line, code)
		}
		a := EthnicityAggregate{
			RegionID:        regionID,
			Group:           r.required("ethnicity_group"),
			Year:            r.integer("year"),
			PopulationCount: r.count("population_count"),
			PopulationShare: r.fraction("population_share"),
		}
		a.ID = EthnicityID(ns, code, a.Group, a.Year)
		out = append(out, a)
		return nil
	})
	return out, err
}

// ReadDir parses the four input files from dir.
func ReadDir(dir string, ns uuid.UUID) (*Bundle, error) {
	b := &Bundle{}

	err := withFile(filepath.Join(dir, RegionsFile), false, func(f io.Reader) (err error) {
		b.Regions, err = ParseRegions(f, ns)
		return err
	})
	if err != nil {
		return nil, err
	}
	regions := map[string]uuid.UUID{}
	for _, r := range b.Regions {
		regions[canon(r.Code)] = r.ID
	}

	err = withFile(filepath.Join(dir, CandidatesFile), false, func(f io.Reader) (err error) {
		b.Candidates, err = ParseCandidates(f, ns, regions)
		return err
	})
	if err != nil {
		return nil, err
	}
	candidates := map[uuid.UUID]bool{}
	for _, c := range b.Candidates {
		candidates[c.ID] = true
	}

	err = withFile(filepath.Join(dir, ResultsFile), false, func(f io.Reader) (err error) {
		b.Results, err = ParseResults(f, ns, regions, candidates)
		return err
	})
	if err != nil {
		return nil, err
	}

	err = withFile(filepath.Join(dir, EthnicityFile), true, func(f io.Reader) (err error) {
		b.Ethnicity, err = ParseEthnicity(f, ns, regions)
		return err
	})
	if err != nil {
		return nil, err
	}
	return b, nil
}

func withFile(path string, optional bool, fn func(io.Reader) error) error {
	f, err := os.Open(path)
	if err != nil {
		if optional && errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	defer f.Close()
	if err := fn(f); err != nil {
		return fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	return nil
}

// percentColumn reports whether a share column is written as 0-100. The unit
// holds for the whole column: a % suffix or any value above 1 marks it.
func (t *table) percentColumn(name string) bool {
	if pct, ok := t.percent[name]; ok {
		return pct
	}
	pct := false
	if i, ok := t.col[name]; ok {
		for _, rec := range t.rows {
			if i >= len(rec) {
				continue
			}
			v := strings.TrimSpace(rec[i])
			if strings.HasSuffix(v, "%") {
				pct = true
				break
			}
			if f, err := strconv.ParseFloat(v, 64); err == nil && f > 1 {
				pct = true
				break
			}
		}
	}
	if t.percent == nil {
		t.percent = map[string]bool{}
	}
	t.percent[name] = pct
	return pct
}

// fraction reads a share column as a 0-1 fraction.
func (r *row) fraction(name string) float64 {
	v := r.number(name)
	if r.t.percentColumn(name) {
		v /= 100
	}
	if v > 1 && r.err == nil {
		r.err = fmt.Errorf("row %d: %s must be at most 100%% (got %q)", r.line, name, r.str(name))
	}
	return v
}
