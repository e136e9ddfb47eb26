package extract

import (
	"regexp"
	"strconv"
	"strings"
)

// Magnitude is a power-of-ten multiplier named by a word or suffix.
type Magnitude float64

// Recognized magnitudes.
const (
	Unit     Magnitude = 1
	Thousand Magnitude = 1e3
	Million  Magnitude = 1e6
	Billion  Magnitude = 1e9
	Trillion Magnitude = 1e12
)

func (m Magnitude) String() string {
	switch m {
	case Thousand:
		return "thousand"
	case Million:
		return "million"
	case Billion:
		return "billion"
	case Trillion:
		return "trillion"
	default:
		return "unit"
	}
}

var magnitudeWords = map[string]Magnitude{
	"k":        Thousand,
	"thousand": Thousand,
	"m":        Million,
	"mn":       Million,
	"mm":       Million,
	"million":  Million,
	"b":        Billion,
	"bn":       Billion,
	"billion":  Billion,
	"t":        Trillion,
	"tn":       Trillion,
	"trillion": Trillion,
}

// ParseMagnitude maps a magnitude word or suffix to its multiplier. Unknown
// or empty words are Unit.
func ParseMagnitude(word string) Magnitude {
	if m, ok := magnitudeWords[strings.ToLower(strings.Trim(word, ". "))]; ok {
		return m
	}
	return Unit
}

// Quantity is a parsed amount with the magnitude it was stated in.
type Quantity struct {
	Value     float64
	Magnitude Magnitude
}

// In converts q to the target magnitude, e.g. 6.34 trillion In(Billion) = 6340.
func (q Quantity) In(target Magnitude) float64 {
	return q.Value * float64(q.Magnitude) / float64(target)
}

var quantityRe = regexp.MustCompile(`(?i)(-?\d[\d,]*(?:\.\d+)?|-?\.\d+)\s*(thousand|million|billion|trillion|bn|mn|mm|tn|k|m|b|t)?\b`)

// ParseQuantity reads the first number in s along with an optional magnitude
// word. Currency symbols, codes and thousands separators are tolerated.
func ParseQuantity(s string) (Quantity, bool) {
	m := quantityRe.FindStringSubmatch(s)
	if m == nil {
		return Quantity{}, false
	}
	n, ok := parseDigits(m[1])
	if !ok {
		return Quantity{}, false
	}
	return Quantity{Value: n, Magnitude: ParseMagnitude(m[2])}, true
}

// ParseNumber reads the first plain number in s, ignoring magnitude words.
func ParseNumber(s string) (float64, bool) {
	q, ok := ParseQuantity(s)
	if !ok {
		return 0, false
	}
	return q.Value, true
}

var yearRe = regexp.MustCompile(`\b(1[89]\d{2}|2[01]\d{2})\b`)

// ParseYear reads the first four-digit year in s.
func ParseYear(s string) (int, bool) {
	m := yearRe.FindStringSubmatch(s)
	if m == nil {
		return 0, false
	}
	y, err := strconv.Atoi(m[1])
	return y, err == nil
}

func parseDigits(s string) (float64, bool) {
	s = strings.ReplaceAll(s, ",", "")
	n, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}
