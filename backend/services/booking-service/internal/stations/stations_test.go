package stations

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"railbook/backend/services/booking-service/internal/upstream"
	"railbook/backend/services/booking-service/internal/upstream/upstreamtest"
)

const stationScript = `var station_names ='@bjb|北京北|VAP|beijingbei|bjb|0|0357|北京|||@bjp|北京|BJP|beijing|bj|2|0357|北京|||@shh|上海|SHH|shanghai|sh|5|0712|上海|||@shq|上海虹桥|AOH|shanghaihongqiao|shhq|6|0712|上海|||@hzh|杭州|HZH|hangzhou|hz|7|0836|杭州|||';`

func TestParseStationNames(t *testing.T) {
	m, err := ParseStationNames([]byte(stationScript))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(m) != 5 {
		t.Fatalf("expected 5 stations, got %d", len(m))
	}
	if m["上海虹桥"] != "AOH" {
		t.Fatalf("unexpected code %q", m["上海虹桥"])
	}
}

func TestParseStationNamesRejectsGarbage(t *testing.T) {
	if _, err := ParseStationNames([]byte("<html></html>")); err == nil {
		t.Fatalf("expected error")
	}
}

func TestTableLookups(t *testing.T) {
	m, _ := ParseStationNames([]byte(stationScript))
	table := NewTable(m)

	if code, ok := table.CodeFor("北京"); !ok || code != "BJP" {
		t.Fatalf("exact lookup: got %q %v", code, ok)
	}
	if code, ok := table.CodeFor("虹桥"); !ok || code != "AOH" {
		t.Fatalf("fuzzy lookup: got %q %v", code, ok)
	}
	if _, ok := table.CodeFor("广州"); ok {
		t.Fatalf("expected miss")
	}
	if name, ok := table.NameFor("SHH"); !ok || name != "上海" {
		t.Fatalf("reverse lookup: got %q %v", name, ok)
	}

	suggestions := table.Suggest("上海", 10)
	if len(suggestions) != 2 || suggestions[0].Name != "上海" {
		t.Fatalf("unexpected suggestions %v", suggestions)
	}
	if got := table.Suggest("北", 1); len(got) != 1 {
		t.Fatalf("expected limit to apply, got %v", got)
	}
	if len(table.All()) != table.Len() {
		t.Fatalf("All and Len disagree")
	}
}

func TestLoadDownloadsAndCaches(t *testing.T) {
	fake := upstreamtest.New()
	fake.JSON(upstream.PathStationNames, stationScript)

	path := filepath.Join(t.TempDir(), "data", "stations.json")
	table, err := Load(context.Background(), path, fake, nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if table.Len() != 5 {
		t.Fatalf("expected 5 stations, got %d", table.Len())
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected cache file: %v", err)
	}

	again, err := Load(context.Background(), path, nil, nil)
	if err != nil {
		t.Fatalf("load from cache: %v", err)
	}
	if again.Len() != 5 {
		t.Fatalf("expected 5 cached stations, got %d", again.Len())
	}
	if fake.Calls(upstream.PathStationNames) != 1 {
		t.Fatalf("expected one download, got %d", fake.Calls(upstream.PathStationNames))
	}
}

func TestLoadFailsWithoutSource(t *testing.T) {
	fake := upstreamtest.New()
	fake.Fail(upstream.PathStationNames)
	if _, err := Load(context.Background(), "", fake, nil); err == nil {
		t.Fatalf("expected download error")
	}
}
