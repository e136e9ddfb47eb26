// Package fingerprint canonicalizes Records into deterministic digests.
package fingerprint

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"hash"
	"math"
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/rotisserie/eris"
	"golang.org/x/text/unicode/norm"

	"github.com/sells-group/report-tracker/internal/model"
)

// Precision is the number of decimal places numbers are rounded to.
const Precision = 6

// ErrCanonical is returned when a value cannot be canonicalized.
var ErrCanonical = eris.New("fingerprint: value cannot be canonicalized")

// Digest is a hex-encoded SHA-256 of a canonical Record.
type Digest string

func (d Digest) String() string { return string(d) }

// Canonical returns the canonical text form of v. Lists are canonicalized per
// item, deduplicated and sorted, so their order never matters.
func Canonical(v model.Value) (string, error) {
	switch v.Kind() {
	case model.KindString:
		s, _ := v.Str()
		return canonicalString(s)
	case model.KindNumber:
		n, _ := v.Num()
		return canonicalNumber(n)
	case model.KindList:
		items := v.Items()
		seen := make(map[string]struct{}, len(items))
		out := make([]string, 0, len(items))
		for _, it := range items {
			c, err := canonicalString(it)
			if err != nil {
				return "", err
			}
			if _, dup := seen[c]; dup || c == "" {
				continue
			}
			seen[c] = struct{}{}
			out = append(out, c)
		}
		sort.Strings(out)
		var b strings.Builder
		for _, it := range out {
			b.WriteString(strconv.Itoa(len(it)))
			b.WriteByte(':')
			b.WriteString(it)
		}
		return b.String(), nil
	default:
		return "", nil
	}
}

func canonicalString(s string) (string, error) {
	if !utf8.ValidString(s) {
		return "", eris.Wrapf(ErrCanonical, "invalid utf-8 %q", s)
	}
	return strings.Join(strings.Fields(norm.NFC.String(s)), " "), nil
}

func canonicalNumber(n float64) (string, error) {
	if math.IsNaN(n) || math.IsInf(n, 0) {
		return "", eris.Wrapf(ErrCanonical, "non-finite number %v", n)
	}
	s := strconv.FormatFloat(n, 'f', Precision, 64)
	if strings.Trim(s, "-0.") == "" {
		return strconv.FormatFloat(0, 'f', Precision, 64), nil
	}
	return s, nil
}

// kind returns the effective kind of v once canonicalized. Lists and strings
// that canonicalize to nothing count as null.
func kind(v model.Value, canon string) model.Kind {
	if canon == "" && (v.Kind() == model.KindString || v.Kind() == model.KindList) {
		return model.KindNull
	}
	return v.Kind()
}

// Equal reports whether a and b have the same canonical form.
func Equal(a, b model.Value) (bool, error) {
	ca, err := Canonical(a)
	if err != nil {
		return false, err
	}
	cb, err := Canonical(b)
	if err != nil {
		return false, err
	}
	return kind(a, ca) == kind(b, cb) && ca == cb, nil
}

// Of computes the digest of rec's non-volatile fields under schema. Fields
// the schema does not declare are ignored. Field names are visited in
// lexicographic order; every name, kind tag and value
// is length-prefixed so adjacent fields cannot run together.
func Of(rec *model.Record, schema *model.Schema) (Digest, error) {
	if rec == nil {
		return "", eris.Wrap(ErrCanonical, "nil record")
	}

	h := sha256.New()
	writeField(h, []byte(rec.Key))
	for _, k := range schema.Compared() {
		v := rec.Get(k)
		canon, err := Canonical(v)
		if err != nil {
			return "", eris.Wrapf(err, "fingerprint: field %s", k)
		}
		writeField(h, []byte(k))
		writeField(h, []byte{byte(kind(v, canon))})
		writeField(h, []byte(canon))
	}
	return Digest(hex.EncodeToString(h.Sum(nil))), nil
}

func writeField(h hash.Hash, data []byte) {
	var prefix [8]byte
	binary.BigEndian.PutUint64(prefix[:], uint64(len(data)))
	h.Write(prefix[:])
	h.Write(data)
}
