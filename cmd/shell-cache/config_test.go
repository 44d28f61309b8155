package main

import (
	"os"
	"path/filepath"
	"testing"
)

func TestGetConfig(t *testing.T) {
	contents := `port: 8080
origin: https://app.example.com
cacheName: celesys-ai-v2
manifest:
  - /
  - /styles/app.css
  - /icons/icon-192.png
`
	filename := filepath.Join(t.TempDir(), "config.yml")
	if err := os.WriteFile(filename, []byte(contents), 0644); err != nil {
		t.Fatal(err)
	}

	config, err := getConfig(filename)
	if err != nil {
		t.Fatal(err)
	}
	if config.Port != 8080 {
		t.Fatalf("Port is %d", config.Port)
	}
	if config.Origin != "https://app.example.com" {
		t.Fatalf("Origin is %s", config.Origin)
	}
	if config.CacheName != "celesys-ai-v2" {
		t.Fatalf("Cache name is %s", config.CacheName)
	}
	if len(config.Manifest) != 3 || config.Manifest[1] != "/styles/app.css" {
		t.Fatalf("Manifest is %v", config.Manifest)
	}
}

func TestGetConfigMissingFile(t *testing.T) {
	if _, err := getConfig(filepath.Join(t.TempDir(), "nope.yml")); err == nil {
		t.Fatal("Expected error for missing file")
	}
}
