package change

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/report-tracker/internal/fingerprint"
	"github.com/sells-group/report-tracker/internal/model"
)

func rec(cagr float64, players ...string) *model.Record {
	return &model.Record{
		Key: "m1",
		Fields: map[string]model.Value{
			model.FieldTitle:        model.String("Payments Market"),
			model.FieldURL:          model.String("https://example.com/m1"),
			model.FieldCAGR:         model.Number(cagr),
			model.FieldMajorPlayers: model.List(players),
		},
	}
}

func current(t *testing.T, r *model.Record, n int) *model.Current {
	t.Helper()
	fp, err := fingerprint.Of(r, model.ReportSchema())
	require.NoError(t, err)
	return &model.Current{Key: r.Key, Number: n, Fingerprint: fp.String(), Record: *r}
}

func TestDecide_New(t *testing.T) {
	schema := model.ReportSchema()
	r := rec(5.51, "X", "Y")
	fp, err := fingerprint.Of(r, schema)
	require.NoError(t, err)

	d, err := Decide(nil, r, fp, schema)
	require.NoError(t, err)
	assert.Equal(t, Create, d.Action)
	assert.Equal(t, model.ReasonNew, d.Reason)
	assert.Equal(t, 1, d.Number)
	assert.Empty(t, d.ChangedFields)
}

func TestDecide_Unchanged(t *testing.T) {
	schema := model.ReportSchema()
	r := rec(5.51, "X", "Y")
	fp, err := fingerprint.Of(r, schema)
	require.NoError(t, err)

	d, err := Decide(current(t, rec(5.51, "Y", "X"), 4), r, fp, schema)
	require.NoError(t, err)
	assert.Equal(t, Skip, d.Action)
	assert.Equal(t, 4, d.Number)
}

func TestDecide_Changed(t *testing.T) {
	schema := model.ReportSchema()
	next := rec(5.63, "X", "Y", "Z")
	fp, err := fingerprint.Of(next, schema)
	require.NoError(t, err)

	d, err := Decide(current(t, rec(5.51, "X", "Y"), 1), next, fp, schema)
	require.NoError(t, err)
	assert.Equal(t, Create, d.Action)
	assert.Equal(t, model.ReasonChanged, d.Reason)
	assert.Equal(t, 2, d.Number)
	assert.Equal(t, []string{model.FieldCAGR, model.FieldMajorPlayers}, d.ChangedFields)
}

func TestDiff_NullTransitions(t *testing.T) {
	schema := model.ReportSchema()
	a := rec(5.51, "X")
	b := rec(5.51, "X")
	a.Fields[model.FieldCloudShare] = model.Number(68.34)
	b.Fields[model.FieldRegion] = model.String("Europe")

	diff, err := Diff(a, b, schema)
	require.NoError(t, err)
	require.Len(t, diff, 2)
	assert.True(t, diff[model.FieldCloudShare].New.IsNull())
	assert.True(t, diff[model.FieldRegion].Old.IsNull())
	assert.Equal(t, []string{model.FieldCloudShare, model.FieldRegion}, Fields(diff))
}

func TestDiff_IgnoresVolatileAndOrder(t *testing.T) {
	schema := model.ReportSchema()
	a := rec(5.51, "X", "Y")
	b := rec(5.51, "Y", "X")
	a.Fields[model.FieldFAQCount] = model.Number(1)
	b.Fields[model.FieldFAQCount] = model.Number(7)

	diff, err := Diff(a, b, schema)
	require.NoError(t, err)
	assert.Empty(t, diff)
}

func TestDiff_NilRecord(t *testing.T) {
	_, err := Diff(nil, rec(1), model.ReportSchema())
	assert.Error(t, err)
}
