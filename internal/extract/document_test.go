package extract

import (
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDocument_Fixture(t *testing.T) {
	doc, err := ParseDocument(loadFixture(t, "payments.html"))
	require.NoError(t, err)

	assert.Equal(t, "Payments Market Size & Share Analysis - Industry Research Report", doc.Title)
	assert.Equal(t, "Payments Market Size & Share Analysis", doc.H1)
	assert.Equal(t, "https://www.example.com/industry-reports/payments-market", doc.Canonical)
	assert.Equal(t, "https://www.example.com/industry-reports/payments-market", doc.MetaContent("OG:URL"))

	assert.Len(t, doc.Blocks["FAQPage"], 1)
	assert.Len(t, doc.Blocks["Dataset"], 1)
	assert.Len(t, doc.Blocks["WebPage"], 1)
	assert.Len(t, doc.Blocks["ImageObject"], 1)

	require.Len(t, doc.FAQ, 6)
	assert.Equal(t, "Who are the key players in Payments Market?", doc.FAQ[1].Question)
	assert.NotContains(t, doc.FAQ[1].Answer, "<p>")

	assert.NotContains(t, doc.Text, "USD 99 billion")
	assert.NotContains(t, doc.Text, "CAGR of 99%")
	assert.Contains(t, doc.Text, "Payments Market (2025 - 2030)")
}

func TestParseDocument_Graph(t *testing.T) {
	page := `<script type="application/ld+json">{"@context":"https://schema.org","@graph":[
{"@type":["WebPage","ItemPage"],"name":"A"},{"@type":"Dataset","name":"B"}]}</script>`
	doc, err := ParseDocument([]byte(page))
	require.NoError(t, err)
	assert.Equal(t, "A", doc.Block("WebPage")["name"])
	assert.Equal(t, "A", doc.Block("ItemPage")["name"])
	assert.Equal(t, "B", doc.Block("Dataset")["name"])
	assert.Nil(t, doc.Block("FAQPage"))
}

func TestParseDocument_FirstHeadingOnly(t *testing.T) {
	doc, err := ParseDocument([]byte(`<h1>First</h1><h1>Second</h1>`))
	require.NoError(t, err)
	assert.Equal(t, "First", doc.H1)
	assert.Contains(t, doc.Text, "Second")
}

func TestDatasetProperty(t *testing.T) {
	page := `<script type="application/ld+json">{"@type":"Dataset","variableMeasured":[
{"@type":"PropertyValue","name":"Market Size (2025)","value":"6.34","unitText":"USD trillion","temporalCoverage":"2025"},
{"@type":"PropertyValue","name":"CAGR","value":5.51,"unitText":"percent"}]}</script>`
	doc, err := ParseDocument([]byte(page))
	require.NoError(t, err)

	v, ok := DatasetProperty(AsAmount(Billion), "market size").Fn(doc)
	require.True(t, ok)
	n, _ := v.Num()
	assert.InDelta(t, 6340, n, 1e-6)

	v, ok = DatasetPropertyYear("market size").Fn(doc)
	require.True(t, ok)
	n, _ = v.Num()
	assert.Equal(t, 2025.0, n)

	v, ok = DatasetProperty(AsNumber, "cagr").Fn(doc)
	require.True(t, ok)
	n, _ = v.Num()
	assert.Equal(t, 5.51, n)

	_, ok = DatasetProperty(AsNumber, "cloud share").Fn(doc)
	assert.False(t, ok)
}

func TestPlayersFromFAQ(t *testing.T) {
	doc := &Document{FAQ: []QA{
		{Question: "How big is the market?", Answer: "Visa Inc. is big."},
		{Question: "Who are the major players?", Answer: "Visa Inc., Mastercard Incorporated, PayPal Holdings, Inc. and Fiserv, Inc. are the major companies operating in the market."},
	}}
	v, ok := PlayersFromFAQ().Fn(doc)
	require.True(t, ok)
	assert.Equal(t, []string{"Visa Inc.", "Mastercard Inc.", "PayPal Holdings Inc.", "Fiserv Inc."}, v.Items())
}

func TestPlayersFromText(t *testing.T) {
	doc := &Document{Text: "Leaders include Adyen N.V. partner Worldline Limited and Visa Inc."}
	v, ok := PlayersFromText().Fn(doc)
	require.True(t, ok)
	assert.Equal(t, []string{"Worldline Ltd.", "Visa Inc."}, v.Items())
}

func TestRegion_KnownRegionFallback(t *testing.T) {
	doc := &Document{FAQ: []QA{{Question: "Where?", Answer: "Growth is led by Asia-Pacific and Europe."}}}
	for _, s := range Region() {
		if v, ok := s.Fn(doc); ok {
			got, _ := v.Str()
			assert.Equal(t, "Asia Pacific", got)
			return
		}
	}
	t.Fatal("no region strategy matched")
}

func TestMarketConcentration_Fragmented(t *testing.T) {
	doc := &Document{Text: "The market is highly fragmented with many regional providers."}
	v, ok := MarketConcentration().Fn(doc)
	require.True(t, ok)
	got, _ := v.Str()
	assert.Equal(t, "fragmented", got)
}

func TestParseDocument_InvalidUTF8(t *testing.T) {
	tests := []struct {
		name string
		page string
		want string
	}{
		{"undeclared falls back to windows-1252", "<title>Payments Market \xff Report</title>", "Payments Market ÿ Report"},
		{"declared latin-1", `<meta charset="iso-8859-1"><title>Caf` + "\xe9" + ` Market</title>`, "Café Market"},
		{"declared utf-8 with stray byte", `<meta charset="utf-8"><title>Cards ` + "\xff" + ` Market</title>`, "Cards � Market"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc, err := ParseDocument([]byte(tt.page))
			require.NoError(t, err)
			assert.Equal(t, tt.want, doc.Title)
			assert.True(t, utf8.ValidString(doc.Text))
		})
	}
}

func TestToUTF8_ValidInputUnchanged(t *testing.T) {
	raw := []byte(`<meta charset="windows-1252"><title>Café</title>`)
	assert.Equal(t, raw, ToUTF8(raw))
}
