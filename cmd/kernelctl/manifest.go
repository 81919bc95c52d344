package main

import (
	"encoding/json"
	"os"
	"time"
)

// Manifest is the build harness's stand-in for a real PE/UEFI kernel image:
// this module never produces bootable machine code, so "build" instead
// records a few facts a real build would have produced — enough for "run"
// to size the guest's memory and scratch RAM and for "disassemble" to have
// placeholder code bytes to decode.
type Manifest struct {
	Release    bool      `json:"release"`
	BuiltAt    time.Time `json:"built_at"`
	GuestPages uint64    `json:"guest_pages"`
	EntryStub  []byte    `json:"entry_stub"`
}

func writeManifest(path string, m *Manifest) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func readManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return &m, nil
}
