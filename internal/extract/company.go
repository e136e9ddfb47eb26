package extract

import (
	"regexp"
	"strings"
)

// legalSuffixes maps normalized suffix tokens (lowercase, dots and commas
// removed) to their canonical spelling.
var legalSuffixes = map[string]string{
	"inc":          "Inc.",
	"incorporated": "Inc.",
	"ltd":          "Ltd.",
	"limited":      "Ltd.",
	"corp":         "Corp.",
	"corporation":  "Corp.",
	"llc":          "LLC",
	"plc":          "PLC",
	"co":           "Co.",
	"gmbh":         "GmbH",
	"ag":           "AG",
	"sa":           "SA",
	"nv":           "NV",
}

// CanonicalCompany normalizes spacing, trailing punctuation and legal
// suffix variants: "Visa, Inc", "Visa Inc." and "Visa Incorporated" all
// become "Visa Inc.". Casing of the base name is preserved.
func CanonicalCompany(name string) string {
	words := strings.Fields(name)
	var suffixes []string
	for len(words) > 1 {
		last := words[len(words)-1]
		norm := strings.ToLower(strings.NewReplacer(".", "", ",", "").Replace(last))
		canon, ok := legalSuffixes[norm]
		if !ok {
			break
		}
		suffixes = append([]string{canon}, suffixes...)
		words = words[:len(words)-1]
	}
	base := strings.Trim(strings.Join(words, " "), " ,;:")
	if len(suffixes) == 0 {
		base = strings.TrimRight(base, ".")
	}
	if base == "" {
		return ""
	}
	if len(suffixes) == 0 {
		return base
	}
	return base + " " + strings.Join(suffixes, " ")
}

// DedupeCompanies canonicalizes names and removes case-insensitive
// duplicates, keeping the first-seen spelling and order.
func DedupeCompanies(names []string) []string {
	seen := make(map[string]bool, len(names))
	out := make([]string, 0, len(names))
	for _, n := range names {
		c := CanonicalCompany(n)
		if c == "" {
			continue
		}
		key := strings.ToLower(c)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, c)
	}
	return out
}

var (
	listLeadRe  = regexp.MustCompile(`(?i)^.*?\b(?:players|companies|vendors|participants)\b[^.]*?(?:\b(?:are|include|includes|including)\b|:)\s*`)
	listTailRe  = regexp.MustCompile(`(?i)\s+(?:are|is|were)\s+(?:some\s+of\s+)?(?:the\s+)?(?:major|key|leading|top|prominent|main)\b.*$`)
	listSplitRe = regexp.MustCompile(`\s*(?:,|;|\band\b)\s*`)
)

// SplitNameList splits an answer such as "The major players are A Inc., B
// Ltd. and C Corp." or "A Inc. and B Ltd. are the key companies" into
// candidate names. Legal suffixes split off by a comma ("A, Inc.") are
// rejoined.
func SplitNameList(answer string) []string {
	s := strings.TrimSpace(answer)
	s = listLeadRe.ReplaceAllString(s, "")
	s = listTailRe.ReplaceAllString(s, "")
	s = strings.TrimRight(s, ". ")

	var out []string
	for _, part := range listSplitRe.Split(s, -1) {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		norm := strings.ToLower(strings.NewReplacer(".", "", ",", "").Replace(part))
		if _, isSuffix := legalSuffixes[norm]; isSuffix && len(out) > 0 {
			out[len(out)-1] += " " + part
			continue
		}
		out = append(out, part)
	}
	return out
}

var companyRe = regexp.MustCompile(`\b([A-Z][A-Za-z0-9&\-]*(?:\s+[A-Z][A-Za-z0-9&\-]*)*,?\s+(?:Inc\.?|Ltd\.?|LLC|Corp\.?|Corporation|Limited|Incorporated|PLC|plc))(?:\W|$)`)

// FindCompanies returns suffix-bearing company names mentioned in free text.
func FindCompanies(text string) []string {
	var out []string
	for _, m := range companyRe.FindAllStringSubmatch(text, -1) {
		out = append(out, m[1])
	}
	return out
}
