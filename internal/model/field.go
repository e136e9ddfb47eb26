package model

import "sort"

// FieldSpec declares one Record field.
type FieldSpec struct {
	Key      string `json:"key"`
	Kind     Kind   `json:"kind"`
	Required bool   `json:"required"`
	// Volatile fields are stored but excluded from fingerprints and diffs.
	Volatile bool `json:"volatile"`
	// Min and Max bound plausible numeric values when HasRange is set.
	HasRange bool    `json:"has_range"`
	Min      float64 `json:"min,omitempty"`
	Max      float64 `json:"max,omitempty"`
}

// InRange reports whether n is plausible for the field.
func (f FieldSpec) InRange(n float64) bool {
	if !f.HasRange {
		return true
	}
	return n >= f.Min && n <= f.Max
}

// Schema is an indexed collection of field specs.
type Schema struct {
	Fields   []FieldSpec
	byKey    map[string]*FieldSpec
	required []string
	compared []string
}

// NewSchema creates a Schema with indexed lookups.
func NewSchema(fields []FieldSpec) *Schema {
	s := &Schema{
		Fields: fields,
		byKey:  make(map[string]*FieldSpec, len(fields)),
	}
	for i := range s.Fields {
		f := &s.Fields[i]
		s.byKey[f.Key] = f
		if f.Required {
			s.required = append(s.required, f.Key)
		}
		if !f.Volatile {
			s.compared = append(s.compared, f.Key)
		}
	}
	sort.Strings(s.compared)
	return s
}

// ByKey returns the spec for key, or nil if not declared.
func (s *Schema) ByKey(key string) *FieldSpec {
	return s.byKey[key]
}

// Required returns the keys of required fields in declaration order.
func (s *Schema) Required() []string {
	return s.required
}

// Compared returns the non-volatile field keys sorted lexicographically.
func (s *Schema) Compared() []string {
	return s.compared
}

// IsVolatile reports whether key is volatile. Undeclared keys are volatile:
// they never take part in comparison.
func (s *Schema) IsVolatile(key string) bool {
	f := s.byKey[key]
	return f == nil || f.Volatile
}

// Market report field keys.
const (
	FieldTitle                  = "title"
	FieldURL                    = "url"
	FieldDescription            = "description"
	FieldMarketSizeCurrent      = "market_size_current_usd_bn"
	FieldMarketSizeCurrentYear  = "market_size_current_year"
	FieldMarketSizeForecast     = "market_size_forecast_usd_bn"
	FieldMarketSizeForecastYear = "market_size_forecast_year"
	FieldCAGR                   = "cagr_percent"
	FieldStudyPeriodStart       = "study_period_start"
	FieldStudyPeriodEnd         = "study_period_end"
	FieldTemporalCoverage       = "temporal_coverage"
	FieldSpatialCoverage        = "spatial_coverage"
	FieldRegion                 = "region"
	FieldFastestGrowingRegion   = "fastest_growing_region"
	FieldFastestGrowingCAGR     = "fastest_growing_region_cagr"
	FieldLeadingSegment         = "leading_segment_name"
	FieldLeadingSegmentShare    = "leading_segment_share_percent"
	FieldCloudShare             = "cloud_share_percent"
	FieldMarketConcentration    = "market_concentration"
	FieldMajorPlayers           = "major_players"
	FieldKeywords               = "keywords"
	FieldImageURLs              = "image_urls"
	FieldDatePublished          = "page_date_published"
	FieldDateModified           = "page_date_modified"
	FieldFAQCount               = "faq_count"
)

func percentField(key string, min, max float64) FieldSpec {
	return FieldSpec{Key: key, Kind: KindNumber, HasRange: true, Min: min, Max: max}
}

func yearField(key string) FieldSpec {
	return FieldSpec{Key: key, Kind: KindNumber, HasRange: true, Min: 1900, Max: 2200}
}

// ReportSchema returns the field declarations for market reports.
func ReportSchema() *Schema {
	return NewSchema([]FieldSpec{
		{Key: FieldTitle, Kind: KindString, Required: true},
		{Key: FieldURL, Kind: KindString, Required: true},
		{Key: FieldDescription, Kind: KindString},
		{Key: FieldMarketSizeCurrent, Kind: KindNumber, HasRange: true, Min: 0, Max: 1e6},
		yearField(FieldMarketSizeCurrentYear),
		{Key: FieldMarketSizeForecast, Kind: KindNumber, HasRange: true, Min: 0, Max: 1e6},
		yearField(FieldMarketSizeForecastYear),
		percentField(FieldCAGR, -100, 1000),
		yearField(FieldStudyPeriodStart),
		yearField(FieldStudyPeriodEnd),
		{Key: FieldTemporalCoverage, Kind: KindString},
		{Key: FieldSpatialCoverage, Kind: KindString},
		{Key: FieldRegion, Kind: KindString},
		{Key: FieldFastestGrowingRegion, Kind: KindString},
		percentField(FieldFastestGrowingCAGR, -100, 1000),
		{Key: FieldLeadingSegment, Kind: KindString},
		percentField(FieldLeadingSegmentShare, 0, 100),
		percentField(FieldCloudShare, 0, 100),
		{Key: FieldMarketConcentration, Kind: KindString},
		{Key: FieldMajorPlayers, Kind: KindList},
		{Key: FieldKeywords, Kind: KindList},
		{Key: FieldImageURLs, Kind: KindList},
		{Key: FieldDatePublished, Kind: KindString},
		{Key: FieldDateModified, Kind: KindString},
		{Key: FieldFAQCount, Kind: KindNumber, Volatile: true},
	})
}
