// Package change decides whether a freshly extracted Record warrants a new
// version and computes field-level differences between snapshots.
package change

import (
	"sort"

	"github.com/rotisserie/eris"

	"github.com/sells-group/report-tracker/internal/fingerprint"
	"github.com/sells-group/report-tracker/internal/model"
)

// Action is the outcome of a change decision.
type Action int

// Decision actions.
const (
	Skip Action = iota
	Create
)

// Decision describes what to do with a Record given the stored Current.
type Decision struct {
	Action        Action
	Reason        model.Reason
	Number        int
	ChangedFields []string
}

// Change holds the old and new value of one differing field.
type Change struct {
	Old model.Value `json:"old"`
	New model.Value `json:"new"`
}

// Decide compares rec (whose digest is fp) against current. A nil current
// means the identity has never been seen.
func Decide(current *model.Current, rec *model.Record, fp fingerprint.Digest, schema *model.Schema) (Decision, error) {
	if current == nil {
		return Decision{Action: Create, Reason: model.ReasonNew, Number: 1, ChangedFields: []string{}}, nil
	}
	if current.Fingerprint == fp.String() {
		return Decision{Action: Skip, Number: current.Number}, nil
	}

	diff, err := Diff(&current.Record, rec, schema)
	if err != nil {
		return Decision{}, err
	}
	return Decision{
		Action:        Create,
		Reason:        model.ReasonChanged,
		Number:        current.Number + 1,
		ChangedFields: Fields(diff),
	}, nil
}

// Diff returns the non-volatile fields whose canonical values differ between
// a and b. Lists compare as sets and a transition to or from null counts as
// an ordinary change.
func Diff(a, b *model.Record, schema *model.Schema) (map[string]Change, error) {
	if a == nil || b == nil {
		return nil, eris.New("change: diff of nil record")
	}
	out := make(map[string]Change)
	for _, k := range schema.Compared() {
		oldV, newV := a.Get(k), b.Get(k)
		eq, err := fingerprint.Equal(oldV, newV)
		if err != nil {
			return nil, eris.Wrapf(err, "change: compare %s", k)
		}
		if !eq {
			out[k] = Change{Old: oldV, New: newV}
		}
	}
	return out, nil
}

// Fields returns the sorted field names of a diff.
func Fields(diff map[string]Change) []string {
	keys := make([]string, 0, len(diff))
	for k := range diff {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
