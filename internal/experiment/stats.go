package experiment

import (
	"math"
	"sort"

	"github.com/google/uuid"
	"github.com/popforge/popup-service/internal/domain"
)

// VariantResult is the per-variant slice of an experiment readout.
type VariantResult struct {
	Key        domain.VariantKey `json:"variant_key"`
	CampaignID uuid.UUID         `json:"campaign_id"`
	IsControl  bool              `json:"is_control"`

	Impressions int64   `json:"impressions"`
	Conversions int64   `json:"conversions"`
	Rate        float64 `json:"rate"`
	CILower     float64 `json:"ci_lower"`
	CIUpper     float64 `json:"ci_upper"`

	// ConfidenceVsControl is P(this variant beats the control); the
	// control itself reports 0.5.
	ConfidenceVsControl float64 `json:"confidence_vs_control"`
}

// Summarize turns raw per-campaign counters into conversion rates, Wilson
// 95% intervals, and a two-proportion z-test of each variant against the
// control. Output is ordered by variant key.
func Summarize(variants []domain.Campaign, stats map[uuid.UUID]domain.CampaignStats) []VariantResult {
	var control *domain.CampaignStats
	for _, v := range variants {
		if v.IsControl {
			s := stats[v.ID]
			control = &s
			break
		}
	}

	out := make([]VariantResult, 0, len(variants))
	for _, v := range variants {
		s := stats[v.ID]
		r := VariantResult{
			Key:                 v.VariantKey,
			CampaignID:          v.ID,
			IsControl:           v.IsControl,
			Impressions:         s.Impressions,
			Conversions:         s.Conversions,
			ConfidenceVsControl: 0.5,
		}
		if s.Impressions > 0 {
			r.Rate = float64(s.Conversions) / float64(s.Impressions)
		}
		r.CILower, r.CIUpper = WilsonInterval(s.Conversions, s.Impressions, 0.95)
		if !v.IsControl && control != nil {
			r.ConfidenceVsControl = SignificanceTest(s.Conversions, s.Impressions, control.Conversions, control.Impressions)
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// WilsonInterval is the Wilson score confidence interval for a binomial
// proportion. More accurate than the normal approximation on the small
// samples a fresh experiment has.
func WilsonInterval(successes, trials int64, confidence float64) (lower, upper float64) {
	if trials == 0 {
		return 0, 0
	}

	z := zScore(confidence)
	p := float64(successes) / float64(trials)
	n := float64(trials)

	denominator := 1 + z*z/n
	center := (p + z*z/(2*n)) / denominator
	spread := (z / denominator) * math.Sqrt(p*(1-p)/n+z*z/(4*n*n))

	lower = center - spread
	upper = center + spread
	if lower < 0 {
		lower = 0
	}
	if upper > 1 {
		upper = 1
	}
	return lower, upper
}

// SignificanceTest is a two-proportion z-test. Returns the confidence
// (0-1) that variant A converts better than variant B.
func SignificanceTest(aConv, aViews, bConv, bViews int64) float64 {
	if aViews == 0 || bViews == 0 {
		return 0.5
	}

	pA := float64(aConv) / float64(aViews)
	pB := float64(bConv) / float64(bViews)
	pooled := float64(aConv+bConv) / float64(aViews+bViews)

	se := math.Sqrt(pooled * (1 - pooled) * (1/float64(aViews) + 1/float64(bViews)))
	if se == 0 {
		switch {
		case pA > pB:
			return 1.0
		case pA < pB:
			return 0.0
		}
		return 0.5
	}

	return normalCDF((pA - pB) / se)
}

func zScore(confidence float64) float64 {
	switch {
	case confidence >= 0.99:
		return 2.576
	case confidence >= 0.95:
		return 1.96
	case confidence >= 0.90:
		return 1.645
	default:
		return 1.28
	}
}

// normalCDF approximates the standard normal CDF using Abramowitz and
// Stegun formula 7.1.26.
func normalCDF(x float64) float64 {
	a1 := 0.254829592
	a2 := -0.284496736
	a3 := 1.421413741
	a4 := -1.453152027
	a5 := 1.061405429
	p := 0.3275911

	sign := 1.0
	if x < 0 {
		sign = -1.0
	}
	x = math.Abs(x) / math.Sqrt2

	t := 1.0 / (1.0 + p*x)
	y := 1.0 - (((((a5*t+a4)*t)+a3)*t+a2)*t+a1)*t*math.Exp(-x*x)

	return 0.5 * (1.0 + sign*y)
}
