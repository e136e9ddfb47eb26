package extract

import (
	"regexp"
	"strings"

	"github.com/sells-group/report-tracker/internal/model"
)

// Text patterns for phrasing common to market report FAQs and summaries.
var (
	// sizeRe requires a magnitude word so bare numbers are never read as sizes.
	sizeRe = regexp.MustCompile(`(?i)(?:USD|US\$|\$)\s*(\d[\d,]*(?:\.\d+)?)\s*(thousand|million|billion|trillion|bn|mn|tn)\b(?:\s+(?:in|by|for|during)\s+((?:19|20|21)\d{2}))?`)

	cagrRe       = regexp.MustCompile(`(?i)(?:CAGR|compound annual growth rate)(?:\s*\(CAGR\))?\s*(?:of|at|is|:)?\s*(?:about|around|approximately|over)?\s*(-?\d+(?:\.\d+)?)\s*%`)
	cagrSuffixRe = regexp.MustCompile(`(?i)(-?\d+(?:\.\d+)?)\s*%\s*CAGR`)

	fastestRe = regexp.MustCompile(`(?i:(?:fastest[- ]growing|highest\s+(?:CAGR|growth))(?:\s+(?:region|country|market))?)\s*(?i:is|was|:)?\s*(?:the\s+)?([A-Z][A-Za-z]*(?:\s+[A-Z][A-Za-z]*)*)(?:[^%.\d]{0,40}?(-?\d+(?:\.\d+)?)\s*%)?`)

	largestRe = regexp.MustCompile(`(?i:(?:largest|biggest|dominant)\s+(?:region|market))\s*(?i:is|was|:|in\s+\d{4}\s+is)?\s*(?:the\s+)?([A-Z][A-Za-z]*(?:\s+[A-Z][A-Za-z]*)*)`)
	leadsRe   = regexp.MustCompile(`\b([A-Z][A-Za-z]*(?:\s+[A-Z][A-Za-z]*)*)\s+(?i:holds|held|accounts\s+for|accounted\s+for|commands|dominates)\s+(?i:the\s+)?(?i:largest|biggest|major)\s+(?i:market\s+)?share`)

	segmentRe = regexp.MustCompile(`(?i:(?:leading|largest|dominant)\s+segment)\s*(?i:is|was|:)?\s*(?:the\s+)?([A-Z][\w&\- ]*?)\s*[(,][^%\d]{0,40}(\d+(?:\.\d+)?)\s*%`)

	cloudRe = regexp.MustCompile(`(?i)cloud(?:[- ]based)?(?:\s+deployment)?[^%.]{0,60}?(\d+(?:\.\d+)?)\s*%`)

	studyRe = regexp.MustCompile(`(?i)study\s+period\s*(?:is|of|:)?\s*((?:19|20|21)\d{2})\s*(?:-|–|to|through)\s*((?:19|20|21)\d{2})`)

	periodRe = regexp.MustCompile(`((?:19|20|21)\d{2})\s*(?:-|–|/|to|through)\s*((?:19|20|21)\d{2})`)

	concentrationRe = regexp.MustCompile(`(?i)market\s+concentration\s*(?:is|:)?\s*(?:considered\s+)?(high|medium|moderate|low)\b|\b(highly\s+(?:concentrated|consolidated)|fragmented|consolidated|moderately\s+(?:concentrated|consolidated|fragmented))\b`)

	playersQuestionRe = regexp.MustCompile(`(?i)\b(?:major|key|leading|top)\s+(?:players|companies|vendors)\b|\bwho\s+are\s+the\b`)
)

// knownRegions is scanned when no phrasing names the largest region.
var knownRegions = []string{
	"Asia Pacific", "Asia-Pacific", "North America", "South America", "Latin America",
	"Europe", "Middle East and Africa", "Middle East", "Africa",
}

// SizeMatch reads the nth money amount in the FAQ text, in billions USD, or
// the year it is stated for when year is set.
func SizeMatch(n int, year bool) Strategy {
	name := "faq:size"
	if year {
		name += ".year"
	}
	return Strategy{
		Name: name,
		Fn: func(doc *Document) (model.Value, bool) {
			all := sizeRe.FindAllStringSubmatch(doc.FAQText(), n+1)
			if len(all) <= n {
				all = sizeRe.FindAllStringSubmatch(doc.Text, n+1)
			}
			if len(all) <= n {
				return model.Value{}, false
			}
			m := all[n]
			if year {
				return AsYear(m[3])
			}
			return AsAmount(Billion)(m[1] + " " + m[2])
		},
	}
}

// StudyPeriod reads the start (or end) year of the study period from the
// Dataset temporalCoverage, then from FAQ phrasing.
func StudyPeriod(end bool) []Strategy {
	group := 1
	if end {
		group = 2
	}
	return []Strategy{
		TextPattern("jsonld:Dataset.temporalCoverage", func(d *Document) string {
			return stringOf(d.Block("Dataset")["temporalCoverage"])
		}, periodRe, group, AsYear),
		FAQPattern(studyRe, group, AsYear),
		BodyPattern(studyRe, group, AsYear),
	}
}

// CAGR reads a compound annual growth rate from FAQ then body text.
func CAGR() []Strategy {
	return []Strategy{
		FAQPattern(cagrRe, 1, AsNumber),
		FAQPattern(cagrSuffixRe, 1, AsNumber),
		BodyPattern(cagrRe, 1, AsNumber),
		BodyPattern(cagrSuffixRe, 1, AsNumber),
	}
}

// Region reads the largest region by phrasing, falling back to the first
// known region named in the FAQ.
func Region() []Strategy {
	return []Strategy{
		FAQPattern(largestRe, 1, AsString),
		FAQPattern(leadsRe, 1, AsString),
		{
			Name: "faq:known-region",
			Fn: func(doc *Document) (model.Value, bool) {
				text := doc.FAQText()
				best, at := "", -1
				for _, r := range knownRegions {
					if i := strings.Index(text, r); i >= 0 && (at < 0 || i < at) {
						best, at = r, i
					}
				}
				if best == "" {
					return model.Value{}, false
				}
				return model.String(strings.ReplaceAll(best, "Asia-Pacific", "Asia Pacific")), true
			},
		},
	}
}

// MarketConcentration reads the concentration label, lowercased.
func MarketConcentration() Strategy {
	return Strategy{
		Name: "faq:concentration",
		Fn: func(doc *Document) (model.Value, bool) {
			for _, text := range []string{doc.FAQText(), doc.Text} {
				m := concentrationRe.FindStringSubmatch(text)
				if m == nil {
					continue
				}
				s := m[1]
				if s == "" {
					s = m[2]
				}
				return AsString(strings.ToLower(s))
			}
			return model.Value{}, false
		},
	}
}

// PlayersFromDataset reads Organization names from Dataset mentions/about.
func PlayersFromDataset() Strategy {
	return Strategy{
		Name: "jsonld:Dataset.mentions",
		Fn: func(doc *Document) (model.Value, bool) {
			var names []string
			for _, ds := range doc.Blocks["Dataset"] {
				for _, prop := range []string{"mentions", "about"} {
					names = append(names, organizations(ds[prop])...)
				}
			}
			v := model.List(DedupeCompanies(names))
			return v, !v.IsNull()
		},
	}
}

// PlayersFromFAQ splits the answer to a "who are the major players" question.
func PlayersFromFAQ() Strategy {
	return Strategy{
		Name: "faq:players",
		Fn: func(doc *Document) (model.Value, bool) {
			for _, qa := range doc.FAQ {
				if !playersQuestionRe.MatchString(qa.Question) {
					continue
				}
				v := model.List(DedupeCompanies(SplitNameList(qa.Answer)))
				if !v.IsNull() {
					return v, true
				}
			}
			return model.Value{}, false
		},
	}
}

// PlayersFromText finds suffix-bearing company names in the FAQ and body.
func PlayersFromText() Strategy {
	return Strategy{
		Name: "text:companies",
		Fn: func(doc *Document) (model.Value, bool) {
			v := model.List(DedupeCompanies(FindCompanies(doc.FAQText() + "\n" + doc.Text)))
			return v, !v.IsNull()
		},
	}
}

// Images collects ImageObject URLs plus og:image and twitter:image.
func Images() Strategy {
	return Strategy{
		Name: "images",
		Fn: func(doc *Document) (model.Value, bool) {
			var urls []string
			for _, img := range doc.Blocks["ImageObject"] {
				for _, prop := range []string{"contentUrl", "url"} {
					if s, ok := img[prop].(string); ok && strings.TrimSpace(s) != "" {
						urls = append(urls, strings.TrimSpace(s))
						break
					}
				}
			}
			for _, name := range []string{"og:image", "twitter:image"} {
				urls = append(urls, doc.Meta[name]...)
			}
			v := model.List(dedupe(urls))
			return v, !v.IsNull()
		},
	}
}

// FAQCount is the number of question/answer pairs.
func FAQCount() Strategy {
	return Strategy{
		Name: "faq:count",
		Fn: func(doc *Document) (model.Value, bool) {
			if len(doc.FAQ) == 0 {
				return model.Value{}, false
			}
			return model.Number(float64(len(doc.FAQ))), true
		},
	}
}

func organizations(v any) []string {
	var items []any
	switch t := v.(type) {
	case []any:
		items = t
	case map[string]any:
		items = []any{t}
	}
	var out []string
	for _, it := range items {
		m, ok := it.(map[string]any)
		if !ok {
			continue
		}
		isOrg := false
		for _, typ := range types(m["@type"]) {
			if typ == "Organization" || typ == "Corporation" {
				isOrg = true
			}
		}
		if name := stringOf(m["name"]); isOrg && name != "" {
			out = append(out, name)
		}
	}
	return out
}
