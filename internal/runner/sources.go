package runner

import (
	"bufio"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// Source is one report page to fetch and ingest.
type Source struct {
	// Key pins the identity; empty lets the extractor derive it.
	Key string `yaml:"key,omitempty" json:"key,omitempty"`
	URL string `yaml:"url" json:"url"`
}

// LoadSources reads a source list. Files ending in .yaml or .yml hold a YAML
// list of {key, url}; anything else is one source per line.
func LoadSources(path string) ([]Source, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "runner: open sources %s", path)
	}
	defer f.Close() //nolint:errcheck

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return ParseSourcesYAML(f)
	default:
		return ParseSources(f)
	}
}

// ParseSources reads one source per line as "url" or "key url". Blank lines
// and lines starting with # are ignored; repeated URLs are dropped.
func ParseSources(r io.Reader) ([]Source, error) {
	var out []Source
	sc := bufio.NewScanner(r)
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		parts := strings.Fields(text)
		var src Source
		switch len(parts) {
		case 1:
			src.URL = parts[0]
		case 2:
			src.Key, src.URL = parts[0], parts[1]
		default:
			return nil, eris.Errorf("runner: sources line %d: want \"url\" or \"key url\"", line)
		}
		out = append(out, src)
	}
	if err := sc.Err(); err != nil {
		return nil, eris.Wrap(err, "runner: read sources")
	}
	return validate(out)
}

// ParseSourcesYAML reads a YAML list of sources.
func ParseSourcesYAML(r io.Reader) ([]Source, error) {
	var out []Source
	if err := yaml.NewDecoder(r).Decode(&out); err != nil && err != io.EOF {
		return nil, eris.Wrap(err, "runner: decode sources yaml")
	}
	return validate(out)
}

func validate(in []Source) ([]Source, error) {
	seen := make(map[string]bool, len(in))
	out := make([]Source, 0, len(in))
	for i, s := range in {
		s.URL = strings.TrimSpace(s.URL)
		s.Key = strings.TrimSpace(s.Key)
		if !strings.HasPrefix(s.URL, "http://") && !strings.HasPrefix(s.URL, "https://") {
			return nil, eris.Errorf("runner: source %d: %q is not an http(s) URL", i+1, s.URL)
		}
		if seen[s.URL] {
			continue
		}
		seen[s.URL] = true
		out = append(out, s)
	}
	return out, nil
}

// WriteSources writes srcs in the line format ParseSources reads.
func WriteSources(w io.Writer, srcs []Source) error {
	bw := bufio.NewWriter(w)
	for _, s := range srcs {
		var err error
		if s.Key != "" {
			_, err = bw.WriteString(s.Key + " " + s.URL + "\n")
		} else {
			_, err = bw.WriteString(s.URL + "\n")
		}
		if err != nil {
			return eris.Wrap(err, "runner: write sources")
		}
	}
	return eris.Wrap(bw.Flush(), "runner: write sources")
}
