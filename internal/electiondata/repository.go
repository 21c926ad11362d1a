package electiondata

import (
	"context"
	"sort"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Repository is the read side of the election tables. It is the only way
// forecast inputs are fetched.
type Repository interface {
	Regions(ctx context.Context) ([]Region, error)
	Candidates(ctx context.Context, year int, position string) ([]Candidate, error)
	HistoricalResults(ctx context.Context, beforeYear int, position string) ([]HistoricalResult, error)
	EthnicityAggregates(ctx context.Context, upToYear int) ([]EthnicityAggregate, error)
}

// GormRepository reads from Postgres.
type GormRepository struct {
	DB *gorm.DB
}

func NewGormRepository(d *gorm.DB) *GormRepository {
	return &GormRepository{DB: d}
}

func (g *GormRepository) Regions(ctx context.Context) ([]Region, error) {
	var out []Region
	err := g.DB.WithContext(ctx).Order("code ASC").Find(&out).Error
	return out, err
}

func (g *GormRepository) Candidates(ctx context.Context, year int, position string) ([]Candidate, error) {
	var out []Candidate
	q := g.DB.WithContext(ctx).Where("election_year = ?", year)
	if position != "" {
		q = q.Where("LOWER(position) = ?", strings.ToLower(position))
	}
	err := q.Order("id ASC").Find(&out).Error
	return out, err
}

func (g *GormRepository) HistoricalResults(ctx context.Context, beforeYear int, position string) ([]HistoricalResult, error) {
	var out []HistoricalResult
	q := g.DB.WithContext(ctx).Where("year < ?", beforeYear)
	if position != "" {
		q = q.Where("LOWER(position) = ?", strings.ToLower(position))
	}
	err := q.Order("region_id ASC, year ASC, candidate_name ASC").Find(&out).Error
	return out, err
}

func (g *GormRepository) EthnicityAggregates(ctx context.Context, upToYear int) ([]EthnicityAggregate, error) {
	var out []EthnicityAggregate
	err := g.DB.WithContext(ctx).
		Where("year <= ?", upToYear).
		Order("region_id ASC, ethnicity_group ASC, year ASC").
		Find(&out).Error
	return out, err
}

// BundleRepository serves an in-memory Bundle, typically read from CSV files.
type BundleRepository struct {
	Bundle *Bundle
}

// NewCSVRepository reads dir with ReadDir.
func NewCSVRepository(dir string, ns uuid.UUID) (*BundleRepository, error) {
	b, err := ReadDir(dir, ns)
	if err != nil {
		return nil, err
	}
	return &BundleRepository{Bundle: b}, nil
}

func (b *BundleRepository) Regions(ctx context.Context) ([]Region, error) {
	out := append([]Region(nil), b.Bundle.Regions...)
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, ctx.Err()
}

func (b *BundleRepository) Candidates(ctx context.Context, year int, position string) ([]Candidate, error) {
	var out []Candidate
	for _, c := range b.Bundle.Candidates {
		if c.ElectionYear == year && samePosition(c.Position, position) {
			out = append(out, c)
		}
	}
	return out, ctx.Err()
}

func (b *BundleRepository) HistoricalResults(ctx context.Context, beforeYear int, position string) ([]HistoricalResult, error) {
	var out []HistoricalResult
	for _, h := range b.Bundle.Results {
		if h.Year < beforeYear && samePosition(h.Position, position) {
			out = append(out, h)
		}
	}
	return out, ctx.Err()
}

func (b *BundleRepository) EthnicityAggregates(ctx context.Context, upToYear int) ([]EthnicityAggregate, error) {
	var out []EthnicityAggregate
	for _, a := range b.Bundle.Ethnicity {
		if a.Year <= upToYear {
			out = append(out, a)
		}
	}
	return out, ctx.Err()
}

func samePosition(have, want string) bool {
	return want == "" || strings.EqualFold(have, want)
}
