package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/deltafeed/engine/internal/model"
)

func writeFile(t *testing.T, dir, name, body string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
}

const baseJSON = `{
  "sources": {
    "zeta_feed": {
      "enabled": true,
      "adapter": "rss",
      "config": {"url": "https://e/feed.xml", "ttl_sec": 600},
      "paths": {"latest": "diff/source/zeta_feed/latest.json"}
    },
    "alpha_api": {
      "enabled": true,
      "adapter": "json",
      "config": {"url": "https://e/api", "max_items": 10},
      "paths": {"latest": "diff/source/alpha_api/latest.json"}
    },
    "off_source": {
      "enabled": false,
      "adapter": "html",
      "config": {}
    }
  }
}`

func TestLoadJSONPreservesDeclarationOrder(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "sources.config.json", baseJSON)
	f, err := Load(dir, "")
	if err != nil {
		t.Fatal(err)
	}
	if len(f.Sources) != 3 {
		t.Fatalf("sources = %v", f.Sources)
	}
	want := []string{"zeta_feed", "alpha_api", "off_source"}
	if len(f.Order) != len(want) {
		t.Fatalf("order = %v", f.Order)
	}
	for i := range want {
		if f.Order[i] != want[i] {
			t.Fatalf("order = %v, want %v", f.Order, want)
		}
	}
	if !f.Sources["zeta_feed"].Enabled || f.Sources["zeta_feed"].Adapter != "rss" {
		t.Fatalf("zeta_feed = %+v", f.Sources["zeta_feed"])
	}
	if f.Sources["zeta_feed"].TTLSecOr(0) != 600 {
		t.Fatal("ttl_sec lost")
	}
}

func TestLoadYAML(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "sources.config.yaml", `
sources:
  feed_one:
    enabled: true
    adapter: json
    config:
      url: https://e/one
    paths:
      latest: diff/source/feed_one/latest.json
  feed_two:
    enabled: false
    adapter: rss
`)
	f, err := Load(dir, "")
	if err != nil {
		t.Fatal(err)
	}
	if len(f.Order) != 2 || f.Order[0] != "feed_one" || f.Order[1] != "feed_two" {
		t.Fatalf("order = %v", f.Order)
	}
	sc := f.Sources["feed_one"]
	if !sc.Enabled || sc.Config["url"] != "https://e/one" {
		t.Fatalf("feed_one = %+v", sc)
	}
}

func TestLoadMissing(t *testing.T) {
	if _, err := Load(t.TempDir(), ""); err == nil {
		t.Fatal("missing config must error")
	}
}

func TestEnvOverlayMerges(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "sources.config.json", baseJSON)
	writeFile(t, dir, "sources.prod.config.json", `{
  "sources": {
    "alpha_api": {"enabled": false}
  }
}`)
	f, err := Load(dir, "prod")
	if err != nil {
		t.Fatal(err)
	}
	if f.Sources["alpha_api"].Enabled {
		t.Fatal("overlay should have disabled alpha_api")
	}
	// merged, not replaced: other fields survive
	if f.Sources["alpha_api"].Adapter != "json" {
		t.Fatalf("adapter lost in merge: %+v", f.Sources["alpha_api"])
	}
	if !f.Sources["zeta_feed"].Enabled {
		t.Fatal("untouched source altered")
	}
}

func TestEnvVarOverride(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "sources.config.json", baseJSON)
	t.Setenv("DELTAFEED__SOURCES__ALPHA_API__ENABLED", "false")
	f, err := Load(dir, "")
	if err != nil {
		t.Fatal(err)
	}
	if f.Sources["alpha_api"].Enabled {
		t.Fatal("env override ignored")
	}
}

func TestEnvVarOverrideStringValue(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "sources.config.json", baseJSON)
	t.Setenv("DELTAFEED__SOURCES__ZETA_FEED__CONFIG__URL", "https://other/feed.xml")
	f, err := Load(dir, "")
	if err != nil {
		t.Fatal(err)
	}
	if f.Sources["zeta_feed"].Config["url"] != "https://other/feed.xml" {
		t.Fatalf("url = %v", f.Sources["zeta_feed"].Config["url"])
	}
}

func TestInvalidSourceIDRejected(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "sources.config.json", `{"sources":{"Bad-ID":{"enabled":false}}}`)
	if _, err := Load(dir, ""); err == nil {
		t.Fatal("invalid source id must be rejected")
	}
}

func TestSourceError(t *testing.T) {
	ok := model.SourceConfig{Enabled: true, Adapter: "json", Paths: model.SourceConfigPaths{Latest: "x.json"}}
	if err := SourceError("s", ok); err != nil {
		t.Fatalf("valid source rejected: %v", err)
	}
	if err := SourceError("s", model.SourceConfig{Enabled: true, Paths: model.SourceConfigPaths{Latest: "x"}}); err == nil {
		t.Fatal("missing adapter must error")
	}
	if err := SourceError("s", model.SourceConfig{Enabled: true, Adapter: "json"}); err == nil {
		t.Fatal("missing paths.latest must error")
	}
	if err := SourceError("s", model.SourceConfig{Enabled: false}); err != nil {
		t.Fatal("disabled sources are never config errors")
	}
}
