package ml

import (
	"fmt"
	"math"
	"sync"
	"time"
)

// CleaningRule checks one training sample. A rule may return a corrected
// copy; an error rejects the sample.
type CleaningRule interface {
	Apply(s Sample) (Sample, error)
	Name() string
}

// Sample is one dataset row with its target. Row is the 0-based data row.
type Sample struct {
	Row      int
	Features []float64
	Target   float64
}

// QualityIssue 质量问题
type QualityIssue struct {
	Rule    string `json:"rule"`
	Row     int    `json:"row"`
	Message string `json:"message"`
}

// CleaningStats 清洗统计
type CleaningStats struct {
	TotalProcessed int64            `json:"total_processed"`
	Passed         int64            `json:"passed"`
	Rejected       int64            `json:"rejected"`
	Corrected      int64            `json:"corrected"`
	Issues         map[string]int64 `json:"issues"`
	LastClean      time.Time        `json:"last_clean"`
}

// DataCleaner 数据清洗器
type DataCleaner struct {
	rules []CleaningRule

	mu    sync.Mutex
	stats CleaningStats
}

// NewDataCleaner returns a cleaner with the default housing rules.
func NewDataCleaner() *DataCleaner {
	dc := &DataCleaner{stats: CleaningStats{Issues: make(map[string]int64)}}
	dc.AddRule(FiniteValueRule{})
	dc.AddRule(NonNegativeRule{})
	dc.AddRule(NewGeoBoundsRule())
	dc.AddRule(BedroomRule{})
	dc.AddRule(NewTargetCapRule())
	return dc
}

// AddRule 添加清洗规则
func (dc *DataCleaner) AddRule(rule CleaningRule) {
	dc.rules = append(dc.rules, rule)
}

// Clean returns the samples of ds that pass every rule, with corrections
// applied, plus the issues of the rejected rows.
func (dc *DataCleaner) Clean(ds *Dataset) (*Dataset, []QualityIssue) {
	dc.mu.Lock()
	defer dc.mu.Unlock()

	cleaned := &Dataset{}
	var issues []QualityIssue

	for i := range ds.Features {
		dc.stats.TotalProcessed++

		sample := Sample{Row: i, Features: append([]float64(nil), ds.Features[i]...), Target: ds.Targets[i]}
		corrected := false
		rejected := false

		for _, rule := range dc.rules {
			out, err := rule.Apply(sample)
			if err != nil {
				issues = append(issues, QualityIssue{Rule: rule.Name(), Row: i, Message: err.Error()})
				dc.stats.Issues[rule.Name()]++
				rejected = true
				break
			}
			if !sameSample(sample, out) {
				corrected = true
			}
			sample = out
		}

		if rejected {
			dc.stats.Rejected++
			continue
		}
		if corrected {
			dc.stats.Corrected++
		}
		dc.stats.Passed++
		cleaned.Features = append(cleaned.Features, sample.Features)
		cleaned.Targets = append(cleaned.Targets, sample.Target)
	}

	dc.stats.LastClean = time.Now()
	return cleaned, issues
}

// GetStats 获取统计信息
func (dc *DataCleaner) GetStats() CleaningStats {
	dc.mu.Lock()
	defer dc.mu.Unlock()

	stats := dc.stats
	stats.Issues = make(map[string]int64, len(dc.stats.Issues))
	for k, v := range dc.stats.Issues {
		stats.Issues[k] = v
	}
	return stats
}

func sameSample(a, b Sample) bool {
	if a.Target != b.Target || len(a.Features) != len(b.Features) {
		return false
	}
	for i := range a.Features {
		if a.Features[i] != b.Features[i] {
			return false
		}
	}
	return true
}

// ============ 清洗规则实现 ============

// FiniteValueRule rejects rows with NaN or infinite values.
type FiniteValueRule struct{}

func (FiniteValueRule) Name() string { return "finite_value" }

func (FiniteValueRule) Apply(s Sample) (Sample, error) {
	if len(s.Features) != NumFeatures {
		return s, fmt.Errorf("expected %d features, got %d", NumFeatures, len(s.Features))
	}
	for i, v := range s.Features {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return s, fmt.Errorf("%s is not finite", FeatureNames()[i])
		}
	}
	if math.IsNaN(s.Target) || math.IsInf(s.Target, 0) {
		return s, fmt.Errorf("target is not finite")
	}
	return s, nil
}

// NonNegativeRule rejects negative counts, averages and incomes.
type NonNegativeRule struct{}

func (NonNegativeRule) Name() string { return "non_negative" }

func (NonNegativeRule) Apply(s Sample) (Sample, error) {
	names := FeatureNames()
	// latitude and longitude are signed
	for i := 0; i < 6; i++ {
		if s.Features[i] < 0 {
			return s, fmt.Errorf("%s is negative: %v", names[i], s.Features[i])
		}
	}
	if s.Target < 0 {
		return s, fmt.Errorf("target is negative: %v", s.Target)
	}
	return s, nil
}

// GeoBoundsRule 地理范围规则
type GeoBoundsRule struct {
	MinLatitude  float64
	MaxLatitude  float64
	MinLongitude float64
	MaxLongitude float64
}

// NewGeoBoundsRule bounds rows to California.
func NewGeoBoundsRule() GeoBoundsRule {
	return GeoBoundsRule{MinLatitude: 32, MaxLatitude: 42.5, MinLongitude: -124.6, MaxLongitude: -114}
}

func (GeoBoundsRule) Name() string { return "geo_bounds" }

func (r GeoBoundsRule) Apply(s Sample) (Sample, error) {
	lat, lon := s.Features[6], s.Features[7]
	if lat < r.MinLatitude || lat > r.MaxLatitude || lon < r.MinLongitude || lon > r.MaxLongitude {
		return s, fmt.Errorf("location (%v, %v) outside California", lat, lon)
	}
	return s, nil
}

// BedroomRule rejects rows reporting more bedrooms than rooms.
type BedroomRule struct{}

func (BedroomRule) Name() string { return "bedroom_consistency" }

func (BedroomRule) Apply(s Sample) (Sample, error) {
	if s.Features[3] > s.Features[2] {
		return s, fmt.Errorf("average_bedrooms %v exceeds average_rooms %v", s.Features[3], s.Features[2])
	}
	return s, nil
}

// TargetCapRule clips targets to the census cap. The published dataset
// stores capped values as 5.00001.
type TargetCapRule struct {
	Cap float64
}

func NewTargetCapRule() TargetCapRule {
	return TargetCapRule{Cap: 5.00001}
}

func (TargetCapRule) Name() string { return "target_cap" }

func (r TargetCapRule) Apply(s Sample) (Sample, error) {
	if s.Target > r.Cap {
		s.Target = r.Cap
	}
	return s, nil
}
