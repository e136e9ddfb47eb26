package extract

import (
	"fmt"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/sells-group/report-tracker/internal/model"
)

// MaxPlayers is the player count above which a record is flagged.
const MaxPlayers = 20

// Source identifies where a raw document came from.
type Source struct {
	// Key overrides identity resolution when set.
	Key       string
	URL       string
	FetchedAt time.Time
}

// Failure is returned when a document cannot yield a usable Record.
type Failure struct {
	// Key is the identity resolved before the failure, if any.
	Key             string   `json:"key,omitempty"`
	Reason          string   `json:"reason,omitempty"`
	MissingRequired []string `json:"missing_required,omitempty"`
	Warnings        []string `json:"warnings,omitempty"`
}

func (f *Failure) Error() string {
	if len(f.MissingRequired) > 0 {
		return "extract: missing required fields: " + strings.Join(f.MissingRequired, ", ")
	}
	return "extract: " + f.Reason
}

// Extractor applies per-field precedence chains to parsed documents.
type Extractor struct {
	schema *model.Schema
	rules  []Rule
}

// New returns an Extractor for market report pages.
func New() *Extractor {
	return NewWithRules(model.ReportSchema(), ReportRules())
}

// NewWithRules returns an Extractor with a custom schema and rule set.
func NewWithRules(schema *model.Schema, rules []Rule) *Extractor {
	return &Extractor{schema: schema, rules: rules}
}

// Schema returns the field declarations records are produced against.
func (e *Extractor) Schema() *model.Schema {
	return e.schema
}

// Extract parses raw into a Record. Every declared field is present in the
// result, null when no strategy produced a valid value.
func (e *Extractor) Extract(raw []byte, src Source) (*model.Record, error) {
	if len(strings.TrimSpace(string(raw))) == 0 {
		return nil, &Failure{Reason: "empty document"}
	}
	doc, err := ParseDocument(raw)
	if err != nil {
		return nil, &Failure{Reason: err.Error()}
	}

	rec := &model.Record{
		Key:       ResolveKey(doc, src),
		FetchedAt: src.FetchedAt.UTC(),
		Fields:    make(map[string]model.Value, len(e.schema.Fields)),
	}
	for _, f := range e.schema.Fields {
		rec.Fields[f.Key] = model.Null()
	}

	for _, rule := range e.rules {
		spec := e.schema.ByKey(rule.Field)
		if spec == nil {
			continue
		}
		v, warns := apply(rule, spec, doc)
		rec.Warnings = append(rec.Warnings, warns...)
		if v.IsNull() && !spec.Required && !spec.Volatile {
			rec.Warnings = append(rec.Warnings, rule.Field+": not found")
		}
		rec.Fields[rule.Field] = v
	}

	if rec.Get(model.FieldURL).IsNull() && src.URL != "" {
		rec.Fields[model.FieldURL] = model.String(src.URL)
	}

	validate(rec)

	var missing []string
	if rec.Key == "" {
		missing = append(missing, "key")
	}
	for _, k := range e.schema.Required() {
		if rec.Get(k).IsNull() {
			missing = append(missing, k)
		}
	}
	if len(missing) > 0 {
		return nil, &Failure{Key: rec.Key, MissingRequired: missing, Warnings: rec.Warnings}
	}
	return rec, nil
}

// apply runs one rule's chain. A value of the wrong kind or outside the
// field's range is skipped with a warning.
func apply(rule Rule, spec *model.FieldSpec, doc *Document) (model.Value, []string) {
	var warns []string
	for _, s := range rule.Strategies {
		v, ok := s.Fn(doc)
		if !ok || v.IsNull() {
			continue
		}
		if spec.Kind != v.Kind() {
			warns = append(warns, fmt.Sprintf("%s: %s produced %s, want %s", rule.Field, s.Name, v.Kind(), spec.Kind))
			continue
		}
		if n, isNum := v.Num(); isNum && !spec.InRange(n) {
			warns = append(warns, fmt.Sprintf("%s: %s value %v outside [%v, %v]", rule.Field, s.Name, n, spec.Min, spec.Max))
			continue
		}
		return v, warns
	}
	return model.Null(), warns
}

func validate(rec *model.Record) {
	start, okStart := rec.Get(model.FieldStudyPeriodStart).Num()
	end, okEnd := rec.Get(model.FieldStudyPeriodEnd).Num()
	if okStart && okEnd && end < start {
		rec.Warnings = append(rec.Warnings, fmt.Sprintf("study period end %v before start %v", end, start))
		rec.Fields[model.FieldStudyPeriodStart] = model.Null()
		rec.Fields[model.FieldStudyPeriodEnd] = model.Null()
	}
	if n := len(rec.Get(model.FieldMajorPlayers).Items()); n > MaxPlayers {
		rec.Warnings = append(rec.Warnings, fmt.Sprintf("%d major players listed", n))
	}
}

// ResolveKey picks the identity key: the explicit Source key, then the slug
// of og:url or the canonical link, then the slug of the source URL.
func ResolveKey(doc *Document, src Source) string {
	if k := strings.TrimSpace(src.Key); k != "" {
		return k
	}
	for _, u := range []string{doc.MetaContent("og:url"), doc.Canonical, src.URL} {
		if s := Slug(u); s != "" {
			return s
		}
	}
	return ""
}

// Slug returns the last path segment of a URL, lowercased.
func Slug(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	p := strings.Trim(u.Path, "/")
	if p == "" {
		return ""
	}
	return strings.ToLower(path.Base(p))
}

// ReportRules returns the precedence chains for market report fields.
func ReportRules() []Rule {
	return []Rule{
		{Field: model.FieldTitle, Strategies: []Strategy{
			MetaContent("og:title", AsString),
			PageTitle(),
			Heading(),
			BlockField("Dataset", "name", AsString),
		}},
		{Field: model.FieldURL, Strategies: []Strategy{
			CanonicalLink(),
			MetaContent("og:url", AsString),
		}},
		{Field: model.FieldDescription, Strategies: []Strategy{
			MetaContent("description", AsString),
			MetaContent("og:description", AsString),
			BlockField("Dataset", "description", AsString),
		}},
		{Field: model.FieldMarketSizeCurrent, Strategies: []Strategy{
			DatasetProperty(AsAmount(Billion), "market size", "current market size", "market value"),
			SizeMatch(0, false),
		}},
		{Field: model.FieldMarketSizeCurrentYear, Strategies: []Strategy{
			DatasetPropertyYear("market size", "current market size", "market value"),
			SizeMatch(0, true),
		}},
		{Field: model.FieldMarketSizeForecast, Strategies: []Strategy{
			DatasetProperty(AsAmount(Billion), "forecast market size", "market size forecast", "projected market size"),
			SizeMatch(1, false),
		}},
		{Field: model.FieldMarketSizeForecastYear, Strategies: []Strategy{
			DatasetPropertyYear("forecast market size", "market size forecast", "projected market size"),
			SizeMatch(1, true),
		}},
		{Field: model.FieldCAGR, Strategies: append([]Strategy{
			DatasetProperty(AsNumber, "cagr", "compound annual growth rate"),
		}, CAGR()...)},
		{Field: model.FieldStudyPeriodStart, Strategies: StudyPeriod(false)},
		{Field: model.FieldStudyPeriodEnd, Strategies: StudyPeriod(true)},
		{Field: model.FieldTemporalCoverage, Strategies: []Strategy{
			BlockField("Dataset", "temporalCoverage", AsString),
		}},
		{Field: model.FieldSpatialCoverage, Strategies: []Strategy{
			BlockField("Dataset", "spatialCoverage", AsString),
		}},
		{Field: model.FieldRegion, Strategies: Region()},
		{Field: model.FieldFastestGrowingRegion, Strategies: []Strategy{
			FAQPattern(fastestRe, 1, AsString),
		}},
		{Field: model.FieldFastestGrowingCAGR, Strategies: []Strategy{
			FAQPattern(fastestRe, 2, AsNumber),
		}},
		{Field: model.FieldLeadingSegment, Strategies: []Strategy{
			FAQPattern(segmentRe, 1, AsTitle),
			BodyPattern(segmentRe, 1, AsTitle),
		}},
		{Field: model.FieldLeadingSegmentShare, Strategies: []Strategy{
			FAQPattern(segmentRe, 2, AsNumber),
			BodyPattern(segmentRe, 2, AsNumber),
		}},
		{Field: model.FieldCloudShare, Strategies: []Strategy{
			DatasetProperty(AsNumber, "cloud share", "cloud deployment share"),
			FAQPattern(cloudRe, 1, AsNumber),
		}},
		{Field: model.FieldMarketConcentration, Strategies: []Strategy{
			MarketConcentration(),
		}},
		{Field: model.FieldMajorPlayers, Strategies: []Strategy{
			PlayersFromDataset(),
			PlayersFromFAQ(),
			PlayersFromText(),
		}},
		{Field: model.FieldKeywords, Strategies: []Strategy{
			BlockList("Dataset", "keywords"),
			BlockList("WebPage", "keywords"),
			keywordsMeta(),
		}},
		{Field: model.FieldImageURLs, Strategies: []Strategy{Images()}},
		{Field: model.FieldDatePublished, Strategies: []Strategy{
			BlockField("WebPage", "datePublished", AsTimestamp),
			MetaContent("article:published_time", AsTimestamp),
		}},
		{Field: model.FieldDateModified, Strategies: []Strategy{
			BlockField("WebPage", "dateModified", AsTimestamp),
			MetaContent("article:modified_time", AsTimestamp),
		}},
		{Field: model.FieldFAQCount, Strategies: []Strategy{FAQCount()}},
	}
}

func keywordsMeta() Strategy {
	return MetaContent("keywords", func(s string) (model.Value, bool) {
		v := model.List(dedupe(listOf(s)))
		return v, !v.IsNull()
	})
}
