package extract

import (
	"regexp"
	"strings"
	"time"

	"github.com/sells-group/report-tracker/internal/model"
)

// Strategy extracts one field value from a Document. A false result means
// the strategy found nothing and the next one in the chain is tried.
type Strategy struct {
	Name string
	Fn   func(doc *Document) (model.Value, bool)
}

// Rule is the precedence chain for one field.
type Rule struct {
	Field      string
	Strategies []Strategy
}

// Parser turns matched text into a Value.
type Parser func(s string) (model.Value, bool)

// AsString trims s into a string Value.
func AsString(s string) (model.Value, bool) {
	v := model.String(collapse(s))
	return v, !v.IsNull()
}

// AsNumber parses the first number in s.
func AsNumber(s string) (model.Value, bool) {
	n, ok := ParseNumber(s)
	if !ok {
		return model.Value{}, false
	}
	return model.Number(n), true
}

// AsYear parses the first four-digit year in s.
func AsYear(s string) (model.Value, bool) {
	y, ok := ParseYear(s)
	if !ok {
		return model.Value{}, false
	}
	return model.Number(float64(y)), true
}

// AsAmount parses a quantity and converts it to the given magnitude.
func AsAmount(target Magnitude) Parser {
	return func(s string) (model.Value, bool) {
		q, ok := ParseQuantity(s)
		if !ok {
			return model.Value{}, false
		}
		return model.Number(q.In(target)), true
	}
}

// AsTimestamp parses RFC 3339 or date-only text into RFC 3339 UTC.
func AsTimestamp(s string) (model.Value, bool) {
	s = strings.TrimSpace(s)
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return model.String(t.UTC().Format(time.RFC3339)), true
		}
	}
	return model.Value{}, false
}

// AsTitle trims s and capitalizes its first letter.
func AsTitle(s string) (model.Value, bool) {
	s = collapse(s)
	if s == "" {
		return model.Value{}, false
	}
	return model.String(strings.ToUpper(s[:1]) + s[1:]), true
}

// MetaContent reads the first named meta tag with content.
func MetaContent(name string, parse Parser) Strategy {
	return Strategy{
		Name: "meta:" + name,
		Fn: func(doc *Document) (model.Value, bool) {
			c := doc.MetaContent(name)
			if c == "" {
				return model.Value{}, false
			}
			return parse(c)
		},
	}
}

// PageTitle reads the <title> element.
func PageTitle() Strategy {
	return Strategy{
		Name: "html:title",
		Fn: func(doc *Document) (model.Value, bool) {
			return AsString(doc.Title)
		},
	}
}

// Heading reads the first <h1> element.
func Heading() Strategy {
	return Strategy{
		Name: "html:h1",
		Fn: func(doc *Document) (model.Value, bool) {
			return AsString(doc.H1)
		},
	}
}

// CanonicalLink reads <link rel="canonical">.
func CanonicalLink() Strategy {
	return Strategy{
		Name: "html:canonical",
		Fn: func(doc *Document) (model.Value, bool) {
			return AsString(doc.Canonical)
		},
	}
}

// BlockField reads a property of the first JSON-LD block of type typ.
func BlockField(typ, prop string, parse Parser) Strategy {
	return Strategy{
		Name: "jsonld:" + typ + "." + prop,
		Fn: func(doc *Document) (model.Value, bool) {
			b := doc.Block(typ)
			if b == nil {
				return model.Value{}, false
			}
			s := stringOf(b[prop])
			if s == "" {
				return model.Value{}, false
			}
			return parse(s)
		},
	}
}

// BlockList reads a list-valued property of the first JSON-LD block of type
// typ. Comma-separated strings and arrays of names are both accepted.
func BlockList(typ, prop string) Strategy {
	return Strategy{
		Name: "jsonld:" + typ + "." + prop,
		Fn: func(doc *Document) (model.Value, bool) {
			b := doc.Block(typ)
			if b == nil {
				return model.Value{}, false
			}
			v := model.List(dedupe(listOf(b[prop])))
			return v, !v.IsNull()
		},
	}
}

// DatasetProperty reads a Dataset variableMeasured PropertyValue whose name
// matches one of names. The value and its unitText are parsed together so
// that "6.34" with unitText "USD trillion" reads as a trillion.
func DatasetProperty(parse Parser, names ...string) Strategy {
	return Strategy{
		Name: "jsonld:Dataset.variableMeasured[" + strings.Join(names, "|") + "]",
		Fn: func(doc *Document) (model.Value, bool) {
			p := datasetProperty(doc, names...)
			if p == nil {
				return model.Value{}, false
			}
			s := strings.TrimSpace(stringOf(p["value"]) + " " + magnitudeOf(stringOf(p["unitText"])))
			if s == "" {
				return model.Value{}, false
			}
			return parse(s)
		},
	}
}

// DatasetPropertyYear reads the year a matching PropertyValue refers to,
// from its temporalCoverage or its name.
func DatasetPropertyYear(names ...string) Strategy {
	return Strategy{
		Name: "jsonld:Dataset.variableMeasured[" + strings.Join(names, "|") + "].year",
		Fn: func(doc *Document) (model.Value, bool) {
			p := datasetProperty(doc, names...)
			if p == nil {
				return model.Value{}, false
			}
			if v, ok := AsYear(stringOf(p["temporalCoverage"])); ok {
				return v, true
			}
			return AsYear(stringOf(p["name"]))
		},
	}
}

// TextPattern matches re against a text source and parses capture group.
func TextPattern(name string, source func(*Document) string, re *regexp.Regexp, group int, parse Parser) Strategy {
	return Strategy{
		Name: name,
		Fn: func(doc *Document) (model.Value, bool) {
			m := re.FindStringSubmatch(source(doc))
			if m == nil || group >= len(m) || m[group] == "" {
				return model.Value{}, false
			}
			return parse(m[group])
		},
	}
}

// FAQPattern matches re against the joined FAQ text.
func FAQPattern(re *regexp.Regexp, group int, parse Parser) Strategy {
	return TextPattern("faq:"+re.String(), (*Document).FAQText, re, group, parse)
}

// BodyPattern matches re against the visible page text.
func BodyPattern(re *regexp.Regexp, group int, parse Parser) Strategy {
	return TextPattern("body:"+re.String(), func(d *Document) string { return d.Text }, re, group, parse)
}

// NthMatch parses group of the nth (zero-based) match of re in the FAQ text.
func NthMatch(re *regexp.Regexp, n, group int, parse Parser) Strategy {
	return Strategy{
		Name: "faq:" + re.String(),
		Fn: func(doc *Document) (model.Value, bool) {
			all := re.FindAllStringSubmatch(doc.FAQText(), n+1)
			if len(all) <= n || all[n][group] == "" {
				return model.Value{}, false
			}
			return parse(all[n][group])
		},
	}
}

func datasetProperty(doc *Document, names ...string) map[string]any {
	for _, ds := range doc.Blocks["Dataset"] {
		var props []any
		switch vm := ds["variableMeasured"].(type) {
		case []any:
			props = vm
		case map[string]any:
			props = []any{vm}
		}
		for _, it := range props {
			p, ok := it.(map[string]any)
			if !ok {
				continue
			}
			pn := normalizeName(stringOf(p["name"]))
			for _, want := range names {
				if pn == want || strings.TrimSpace(yearRe.ReplaceAllString(pn, "")) == want {
					return p
				}
			}
		}
	}
	return nil
}

var nonAlnumRe = regexp.MustCompile(`[^a-z0-9]+`)

func normalizeName(s string) string {
	return strings.TrimSpace(nonAlnumRe.ReplaceAllString(strings.ToLower(s), " "))
}

// magnitudeOf keeps only magnitude words from a unit text such as "USD
// billion"; currency codes and "percent" carry no scale.
func magnitudeOf(unit string) string {
	for _, w := range strings.Fields(strings.ToLower(unit)) {
		if ParseMagnitude(w) != Unit {
			return w
		}
	}
	return ""
}

func listOf(v any) []string {
	switch t := v.(type) {
	case string:
		var out []string
		for _, part := range strings.Split(t, ",") {
			if p := collapse(part); p != "" {
				out = append(out, p)
			}
		}
		return out
	case []any:
		var out []string
		for _, it := range t {
			if s := collapse(stringOf(it)); s != "" {
				out = append(out, s)
			}
		}
		return out
	case map[string]any:
		if s := collapse(stringOf(t)); s != "" {
			return []string{s}
		}
	}
	return nil
}

func dedupe(items []string) []string {
	seen := make(map[string]bool, len(items))
	out := make([]string, 0, len(items))
	for _, it := range items {
		if seen[it] {
			continue
		}
		seen[it] = true
		out = append(out, it)
	}
	return out
}
