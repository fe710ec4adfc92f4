// Package stations resolves station names to upstream telecodes.
package stations

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"

	"railbook/backend/services/booking-service/internal/upstream"
)

// Station is one name/code pair.
type Station struct {
	Name string `json:"name"`
	Code string `json:"code"`
}

// Table is a read-only name<->code index. Safe for concurrent use once built.
type Table struct {
	byName map[string]string
	byCode map[string]string
	names  []string
}

// NewTable indexes a name->code map.
func NewTable(nameToCode map[string]string) *Table {
	t := &Table{
		byName: make(map[string]string, len(nameToCode)),
		byCode: make(map[string]string, len(nameToCode)),
		names:  make([]string, 0, len(nameToCode)),
	}
	for name, code := range nameToCode {
		name, code = strings.TrimSpace(name), strings.TrimSpace(code)
		if name == "" || code == "" {
			continue
		}
		t.byName[name] = code
		if _, dup := t.byCode[code]; !dup {
			t.byCode[code] = name
		}
		t.names = append(t.names, name)
	}
	sort.Strings(t.names)
	return t
}

// Len returns the number of stations.
func (t *Table) Len() int {
	return len(t.names)
}

// CodeFor returns the code for name. An exact match wins; otherwise the best fuzzy match is used
// so that a city name ("北京") resolves to one of its stations.
func (t *Table) CodeFor(name string) (string, bool) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", false
	}
	if code, ok := t.byName[name]; ok {
		return code, true
	}
	matches := t.match(name, 1)
	if len(matches) == 0 {
		return "", false
	}
	return matches[0].Code, true
}

// NameFor returns the station name for code.
func (t *Table) NameFor(code string) (string, bool) {
	name, ok := t.byCode[strings.TrimSpace(code)]
	return name, ok
}

// Suggest returns up to limit stations whose name contains query, prefix matches first.
func (t *Table) Suggest(query string, limit int) []Station {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil
	}
	return t.match(query, limit)
}

// All returns every station ordered by name.
func (t *Table) All() []Station {
	out := make([]Station, 0, len(t.names))
	for _, name := range t.names {
		out = append(out, Station{Name: name, Code: t.byName[name]})
	}
	return out
}

// Names returns every station name in order.
func (t *Table) Names() []string {
	out := make([]string, len(t.names))
	copy(out, t.names)
	return out
}

func (t *Table) match(query string, limit int) []Station {
	var prefix, contains []Station
	for _, name := range t.names {
		switch {
		case strings.HasPrefix(name, query):
			prefix = append(prefix, Station{Name: name, Code: t.byName[name]})
		case strings.Contains(name, query):
			contains = append(contains, Station{Name: name, Code: t.byName[name]})
		}
	}
	byLength := func(s []Station) {
		sort.SliceStable(s, func(i, j int) bool {
			return len([]rune(s[i].Name)) < len([]rune(s[j].Name))
		})
	}
	byLength(prefix)
	byLength(contains)
	out := append(prefix, contains...)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// ParseStationNames decodes the station_name.js script:
//
//	var station_names ='@bjb|北京北|VAP|beijingbei|bjb|0|...@...';
func ParseStationNames(script []byte) (map[string]string, error) {
	start := bytes.IndexByte(script, '\'')
	end := bytes.LastIndexByte(script, '\'')
	if start < 0 || end <= start {
		return nil, errors.New("stations: station list literal not found")
	}
	out := make(map[string]string)
	for _, entry := range strings.Split(string(script[start+1:end]), "@") {
		if entry == "" {
			continue
		}
		fields := strings.Split(entry, "|")
		if len(fields) > 2 && fields[1] != "" && fields[2] != "" {
			out[fields[1]] = fields[2]
		}
	}
	if len(out) == 0 {
		return nil, errors.New("stations: station list is empty")
	}
	return out, nil
}

// Load reads the JSON cache at cachePath. When the file is missing or unreadable the station list
// is downloaded through doer and the cache is rewritten.
func Load(ctx context.Context, cachePath string, doer upstream.Doer, logger *zap.Logger) (*Table, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cachePath != "" {
		if data, err := os.ReadFile(cachePath); err == nil {
			var m map[string]string
			if err := json.Unmarshal(data, &m); err == nil && len(m) > 0 {
				logger.Info("station table loaded from cache", zap.String("path", cachePath), zap.Int("stations", len(m)))
				return NewTable(m), nil
			}
			logger.Warn("station cache unreadable, downloading", zap.String("path", cachePath))
		}
	}

	if doer == nil {
		return nil, errors.New("stations: no cache and no downloader")
	}
	resp, err := doer.Do(ctx, upstream.Get(upstream.PathStationNames, nil))
	if err != nil {
		return nil, fmt.Errorf("stations: download: %w", err)
	}
	m, err := ParseStationNames(resp.Body)
	if err != nil {
		return nil, err
	}
	logger.Info("station table downloaded", zap.Int("stations", len(m)))

	if cachePath != "" {
		if err := writeCache(cachePath, m); err != nil {
			logger.Warn("failed to write station cache", zap.String("path", cachePath), zap.Error(err))
		}
	}
	return NewTable(m), nil
}

func writeCache(path string, m map[string]string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
