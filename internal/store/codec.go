package store

import (
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/report-tracker/internal/model"
)

func encodeRecord(rec model.Record) ([]byte, error) {
	b, err := json.Marshal(rec)
	if err != nil {
		return nil, eris.Wrap(err, "store: marshal record")
	}
	return b, nil
}

func decodeRecord(b []byte) (model.Record, error) {
	var rec model.Record
	if err := json.Unmarshal(b, &rec); err != nil {
		return rec, eris.Wrap(err, "store: unmarshal record")
	}
	if rec.Fields == nil {
		rec.Fields = map[string]model.Value{}
	}
	return rec, nil
}

func encodeFields(fields []string) ([]byte, error) {
	if fields == nil {
		fields = []string{}
	}
	b, err := json.Marshal(fields)
	if err != nil {
		return nil, eris.Wrap(err, "store: marshal changed fields")
	}
	return b, nil
}

func decodeFields(b []byte) ([]string, error) {
	out := []string{}
	if len(b) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, eris.Wrap(err, "store: unmarshal changed fields")
	}
	return out, nil
}

// SQLite timestamps are stored as fixed-width RFC 3339 text so that string
// order matches time order.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, eris.Wrapf(err, "store: parse time %q", s)
	}
	return t.UTC(), nil
}
