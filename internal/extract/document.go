// Package extract turns raw market report pages into normalized Records.
package extract

import (
	"bytes"
	"encoding/json"
	"io"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/rotisserie/eris"
	"golang.org/x/net/html"
	"golang.org/x/net/html/charset"
)

// QA is one question/answer pair from an FAQPage block.
type QA struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

// Document is the parsed form of a report page: its meta tags, JSON-LD
// blocks indexed by @type, FAQ pairs, and visible text.
type Document struct {
	Title     string
	H1        string
	Canonical string
	Meta      map[string][]string
	Blocks    map[string][]map[string]any
	FAQ       []QA
	Text      string
}

// ParseDocument tokenizes an HTML page. Malformed JSON-LD blocks are skipped.
// Text that is not valid UTF-8 is decoded first, see ToUTF8.
func ParseDocument(raw []byte) (*Document, error) {
	doc := &Document{
		Meta:   make(map[string][]string),
		Blocks: make(map[string][]map[string]any),
	}

	var (
		text    strings.Builder
		title   strings.Builder
		h1      strings.Builder
		inTitle bool
		inH1    bool
		inLD    bool
		skip    int
		h1Done  bool
	)

	z := html.NewTokenizer(bytes.NewReader(ToUTF8(raw)))
	for {
		tt := z.Next()
		switch tt {
		case html.ErrorToken:
			if z.Err() == io.EOF {
				doc.Title = collapse(title.String())
				doc.H1 = collapse(h1.String())
				doc.Text = collapse(text.String())
				doc.FAQ = faqPairs(doc.Blocks["FAQPage"])
				return doc, nil
			}
			return nil, eris.Wrap(z.Err(), "extract: tokenize html")

		case html.StartTagToken, html.SelfClosingTagToken:
			tok := z.Token()
			switch tok.Data {
			case "meta":
				key := strings.ToLower(firstAttr(tok, "property", "name", "itemprop"))
				if content := attr(tok, "content"); key != "" && strings.TrimSpace(content) != "" {
					doc.Meta[key] = append(doc.Meta[key], strings.TrimSpace(content))
				}
			case "link":
				if strings.EqualFold(attr(tok, "rel"), "canonical") && doc.Canonical == "" {
					doc.Canonical = strings.TrimSpace(attr(tok, "href"))
				}
			case "title":
				inTitle = tt == html.StartTagToken
			case "h1":
				inH1 = tt == html.StartTagToken && !h1Done
			case "script":
				if tt == html.SelfClosingTagToken {
					continue
				}
				if strings.EqualFold(strings.TrimSpace(attr(tok, "type")), "application/ld+json") {
					inLD = true
				} else {
					skip++
				}
			case "style", "noscript", "template":
				if tt == html.StartTagToken {
					skip++
				}
			}

		case html.EndTagToken:
			tok := z.Token()
			switch tok.Data {
			case "title":
				inTitle = false
			case "h1":
				if inH1 {
					h1Done = true
				}
				inH1 = false
			case "script":
				if inLD {
					inLD = false
				} else if skip > 0 {
					skip--
				}
			case "style", "noscript", "template":
				if skip > 0 {
					skip--
				}
			case "p", "div", "li", "br", "h2", "h3", "tr":
				text.WriteByte('\n')
			}

		case html.TextToken:
			data := string(z.Text())
			switch {
			case inLD:
				doc.addJSONLD(data)
			case skip > 0:
			case inTitle:
				title.WriteString(data)
			default:
				if inH1 {
					h1.WriteString(data)
				}
				text.WriteString(data)
				text.WriteByte(' ')
			}
		}
	}
}

func (d *Document) addJSONLD(data string) {
	var v any
	if err := json.Unmarshal([]byte(strings.TrimSpace(data)), &v); err != nil {
		return
	}
	d.indexBlock(v)
}

func (d *Document) indexBlock(v any) {
	switch b := v.(type) {
	case []any:
		for _, item := range b {
			d.indexBlock(item)
		}
	case map[string]any:
		if graph, ok := b["@graph"]; ok {
			d.indexBlock(graph)
		}
		for _, t := range types(b["@type"]) {
			d.Blocks[t] = append(d.Blocks[t], b)
		}
	}
}

func types(v any) []string {
	switch t := v.(type) {
	case string:
		return []string{t}
	case []any:
		var out []string
		for _, item := range t {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// Block returns the first JSON-LD block of the given @type, or nil.
func (d *Document) Block(typ string) map[string]any {
	if blocks := d.Blocks[typ]; len(blocks) > 0 {
		return blocks[0]
	}
	return nil
}

// MetaContent returns the first content of the named meta tag.
func (d *Document) MetaContent(name string) string {
	if vals := d.Meta[strings.ToLower(name)]; len(vals) > 0 {
		return vals[0]
	}
	return ""
}

// FAQText joins all questions and answers, one per line.
func (d *Document) FAQText() string {
	var b strings.Builder
	for _, qa := range d.FAQ {
		b.WriteString(qa.Question)
		b.WriteByte('\n')
		b.WriteString(qa.Answer)
		b.WriteByte('\n')
	}
	return b.String()
}

func faqPairs(blocks []map[string]any) []QA {
	var out []QA
	for _, page := range blocks {
		var items []any
		switch me := page["mainEntity"].(type) {
		case []any:
			items = me
		case map[string]any:
			items = []any{me}
		}
		for _, it := range items {
			q, ok := it.(map[string]any)
			if !ok {
				continue
			}
			question := collapse(stripTags(stringOf(q["name"])))
			var answer string
			if a, ok := q["acceptedAnswer"].(map[string]any); ok {
				answer = collapse(stripTags(stringOf(a["text"])))
			}
			if question != "" && answer != "" {
				out = append(out, QA{Question: question, Answer: answer})
			}
		}
	}
	return out
}

// stringOf renders a JSON-LD scalar, or the name/@value of a nested object.
func stringOf(v any) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case map[string]any:
		if s := stringOf(t["name"]); s != "" {
			return s
		}
		return stringOf(t["@value"])
	}
	return ""
}

// stripTags removes markup from FAQ answers, which often embed HTML.
func stripTags(s string) string {
	if !strings.ContainsRune(s, '<') {
		return html.UnescapeString(s)
	}
	var b strings.Builder
	z := html.NewTokenizer(strings.NewReader(s))
	for {
		switch z.Next() {
		case html.ErrorToken:
			return b.String()
		case html.TextToken:
			b.Write(z.Text())
			b.WriteByte(' ')
		}
	}
}

// ToUTF8 returns raw as valid UTF-8. Valid input is returned unchanged.
// Otherwise raw is decoded by its BOM or <meta charset>, falling back to
// windows-1252, and any bytes that still do not decode become U+FFFD.
func ToUTF8(raw []byte) []byte {
	if utf8.Valid(raw) {
		return raw
	}
	if enc, name, _ := charset.DetermineEncoding(raw, ""); name != "utf-8" {
		if out, err := enc.NewDecoder().Bytes(raw); err == nil {
			raw = out
		}
	}
	return bytes.ToValidUTF8(raw, []byte("\uFFFD"))
}

func collapse(s string) string {
	return strings.Join(strings.Fields(strings.ToValidUTF8(s, "\uFFFD")), " ")
}

func attr(tok html.Token, key string) string {
	for _, a := range tok.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func firstAttr(tok html.Token, keys ...string) string {
	for _, k := range keys {
		if v := attr(tok, k); v != "" {
			return v
		}
	}
	return ""
}
