package analysis

import (
	"errors"
	"fmt"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/kiranshivaraju/fleetsignal/pkg/models"
)

// Policy holds every threshold and weight the scorer and candidate generator use.
type Policy struct {
	MaxLagSeconds int64 `yaml:"max_lag_seconds"`
	MaxLagSteps   int   `yaml:"max_lag_steps"`
	MinOverlap    int   `yaml:"min_overlap"`
	MinSamples    int   `yaml:"min_samples"`
	MaxBuckets    int64 `yaml:"max_buckets"`

	CoverageFloor      float64 `yaml:"coverage_floor"`
	ExcludeLowCoverage bool    `yaml:"exclude_low_coverage"`

	EpisodeZThreshold float64 `yaml:"episode_z_threshold"`

	DiurnalAutocorrThreshold float64 `yaml:"diurnal_autocorr_threshold"`
	DiurnalMargin            float64 `yaml:"diurnal_margin"`
	DiurnalPenalty           float64 `yaml:"diurnal_penalty"`

	WeightCorrelation float64 `yaml:"weight_correlation"`
	WeightEvents      float64 `yaml:"weight_events"`
	WeightCoverage    float64 `yaml:"weight_coverage"`

	TierHigh   float64 `yaml:"tier_high"`
	TierMedium float64 `yaml:"tier_medium"`

	NarrowingThreshold int `yaml:"narrowing_threshold"`
	MinPool            int `yaml:"min_pool"`
	ShortlistK         int `yaml:"shortlist_k"`

	PreviewMinPoints     int `yaml:"preview_min_points"`
	PreviewMaxCandidates int `yaml:"preview_max_candidates"`

	ComputeBudget time.Duration `yaml:"compute_budget"`
}

// DefaultPolicy returns the thresholds used when no policy file is configured.
func DefaultPolicy() Policy {
	return Policy{
		MaxLagSeconds: 6 * 3600,
		MaxLagSteps:   240,
		MinOverlap:    12,
		MinSamples:    3,
		MaxBuckets:    50000,

		CoverageFloor:      0.3,
		ExcludeLowCoverage: false,

		EpisodeZThreshold: 3.5,

		DiurnalAutocorrThreshold: 0.6,
		DiurnalMargin:            0.1,
		DiurnalPenalty:           0.5,

		WeightCorrelation: 0.6,
		WeightEvents:      0.25,
		WeightCoverage:    0.15,

		TierHigh:   0.8,
		TierMedium: 0.5,

		NarrowingThreshold: 500,
		MinPool:            50,
		ShortlistK:         200,

		PreviewMinPoints:     3,
		PreviewMaxCandidates: 25,

		ComputeBudget: 10 * time.Minute,
	}
}

// Validate checks that the policy is internally consistent.
func (p Policy) Validate() error {
	var result *multierror.Error
	if p.MaxLagSeconds < 0 {
		result = multierror.Append(result, errors.New("max_lag_seconds must be >= 0"))
	}
	if p.MaxLagSteps <= 0 {
		result = multierror.Append(result, errors.New("max_lag_steps must be > 0"))
	}
	if p.MinOverlap < 2 {
		result = multierror.Append(result, errors.New("min_overlap must be >= 2"))
	}
	if p.MinSamples < 1 {
		result = multierror.Append(result, errors.New("min_samples must be >= 1"))
	}
	if p.MaxBuckets <= 0 {
		result = multierror.Append(result, errors.New("max_buckets must be > 0"))
	}
	if p.CoverageFloor < 0 || p.CoverageFloor > 1 {
		result = multierror.Append(result, fmt.Errorf("coverage_floor must be within [0, 1], got %v", p.CoverageFloor))
	}
	if p.EpisodeZThreshold <= 0 {
		result = multierror.Append(result, errors.New("episode_z_threshold must be > 0"))
	}
	if p.DiurnalPenalty < 0 || p.DiurnalPenalty > 1 {
		result = multierror.Append(result, fmt.Errorf("diurnal_penalty must be within [0, 1], got %v", p.DiurnalPenalty))
	}
	sum := p.WeightCorrelation + p.WeightEvents + p.WeightCoverage
	if p.WeightCorrelation < 0 || p.WeightEvents < 0 || p.WeightCoverage < 0 || sum < 0.999 || sum > 1.001 {
		result = multierror.Append(result, fmt.Errorf("weights must be non-negative and sum to 1, got %v", sum))
	}
	if !(0 < p.TierMedium && p.TierMedium < p.TierHigh && p.TierHigh <= 1) {
		result = multierror.Append(result, fmt.Errorf("tiers must satisfy 0 < medium < high <= 1, got medium=%v high=%v", p.TierMedium, p.TierHigh))
	}
	if p.MinPool < 0 || p.ShortlistK < 0 || p.NarrowingThreshold < 0 {
		result = multierror.Append(result, errors.New("narrowing settings must be >= 0"))
	}
	if p.PreviewMinPoints < 1 || p.PreviewMaxCandidates < 1 {
		result = multierror.Append(result, errors.New("preview limits must be >= 1"))
	}
	if p.ComputeBudget <= 0 {
		result = multierror.Append(result, errors.New("compute_budget must be > 0"))
	}
	return result.ErrorOrNil()
}

// Tier maps a blended score onto a confidence tier.
func (p Policy) Tier(score float64) string {
	switch {
	case score >= p.TierHigh:
		return models.TierHigh
	case score >= p.TierMedium:
		return models.TierMedium
	default:
		return models.TierLow
	}
}
