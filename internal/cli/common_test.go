package cli

import (
	"path/filepath"
	"reflect"
	"testing"
)

func TestLoadConfigMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "does-not-exist.json"))
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}

	want := DefaultConfig()
	if !reflect.DeepEqual(cfg, want) {
		t.Errorf("LoadConfig on a missing file = %+v, want defaults %+v", cfg, want)
	}
}

func TestSaveConfigThenLoadConfigRoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kernelctl.json")

	cfg := DefaultConfig()
	cfg.QEMUBinary = "/usr/local/bin/qemu-system-x86_64"
	cfg.GuestPages = 1 << 18

	if err := cfg.SaveConfig(path); err != nil {
		t.Fatalf("SaveConfig: %v", err)
	}

	got, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if !reflect.DeepEqual(got, cfg) {
		t.Errorf("round-tripped config = %+v, want %+v", got, cfg)
	}
}
