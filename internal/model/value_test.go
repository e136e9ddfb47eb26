package model

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValue_Constructors(t *testing.T) {
	assert.True(t, String("   ").IsNull())
	assert.True(t, List(nil).IsNull())
	assert.True(t, List([]string{"", " "}).IsNull())

	s, ok := String("Visa").Str()
	assert.True(t, ok)
	assert.Equal(t, "Visa", s)

	n, ok := Number(5.51).Num()
	assert.True(t, ok)
	assert.InDelta(t, 5.51, n, 1e-9)

	assert.Equal(t, []string{"X", "Y"}, List([]string{"X", "", "Y"}).Items())
	assert.Nil(t, Number(1).Items())
}

func TestValue_ListIsCopied(t *testing.T) {
	src := []string{"X", "Y"}
	v := List(src)
	src[0] = "mutated"
	assert.Equal(t, []string{"X", "Y"}, v.Items())

	items := v.Items()
	items[1] = "mutated"
	assert.Equal(t, []string{"X", "Y"}, v.Items())
}

func TestValue_JSONRoundTrip(t *testing.T) {
	fields := map[string]Value{
		"title":   String("Payments Market"),
		"cagr":    Number(5.51),
		"players": List([]string{"X", "Y"}),
		"cloud":   Null(),
	}
	data, err := json.Marshal(fields)
	require.NoError(t, err)

	var got map[string]Value
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, fields, got)
}

func TestValue_UnmarshalRejectsUnsupported(t *testing.T) {
	for _, in := range []string{`true`, `{"a":1}`, `[[1]]`, `[1,2]`} {
		var v Value
		assert.Error(t, json.Unmarshal([]byte(in), &v), in)
	}
}

func TestValue_Display(t *testing.T) {
	assert.Equal(t, "null", Null().Display())
	assert.Equal(t, "6.34", Number(6.34).Display())
	assert.Equal(t, "X, Y", List([]string{"X", "Y"}).Display())
}

func TestReportSchema(t *testing.T) {
	s := ReportSchema()

	assert.Equal(t, []string{FieldTitle, FieldURL}, s.Required())
	assert.True(t, s.IsVolatile(FieldFAQCount))
	assert.True(t, s.IsVolatile("undeclared"))
	assert.False(t, s.IsVolatile(FieldCAGR))
	assert.NotContains(t, s.Compared(), FieldFAQCount)
	assert.IsNonDecreasing(t, s.Compared())

	cagr := s.ByKey(FieldCAGR)
	require.NotNil(t, cagr)
	assert.True(t, cagr.InRange(-100))
	assert.True(t, cagr.InRange(1000))
	assert.False(t, cagr.InRange(1000.5))
	assert.False(t, cagr.InRange(-101))
}
