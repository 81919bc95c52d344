package main

import (
	"fmt"
	"os/exec"
	"regexp"
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/dbartussek-go/kernelcore/internal/cli"
)

var qemuVersionPattern = regexp.MustCompile(`version\s+(\d+\.\d+\.\d+)`)

func runBuild(logger *cli.Logger, cfg *cli.Config, release bool) error {
	if err := checkQEMUVersion(cfg); err != nil {
		return err
	}

	m := &Manifest{
		Release:    release,
		BuiltAt:    time.Now().UTC(),
		GuestPages: cfg.GuestPages,
		EntryStub:  []byte{0x55, 0x48, 0x89, 0xE5, 0x5D, 0xC3}, // push rbp; mov rbp,rsp; pop rbp; ret
	}

	if err := writeManifest(cfg.ManifestPath, m); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}

	logger.Info("wrote %s (release=%v)", cfg.ManifestPath, release)
	return nil
}

// checkQEMUVersion shells out to `cfg.QEMUBinary --version` and rejects
// anything older than cfg.MinQEMUVersion.
func checkQEMUVersion(cfg *cli.Config) error {
	out, err := exec.Command(cfg.QEMUBinary, "--version").Output()
	if err != nil {
		return fmt.Errorf("locate %s: %w", cfg.QEMUBinary, err)
	}

	match := qemuVersionPattern.FindStringSubmatch(strings.TrimSpace(string(out)))
	if match == nil {
		return fmt.Errorf("could not parse %s --version output", cfg.QEMUBinary)
	}

	got, err := semver.NewVersion(match[1])
	if err != nil {
		return fmt.Errorf("parse qemu version %q: %w", match[1], err)
	}

	min, err := semver.NewVersion(cfg.MinQEMUVersion)
	if err != nil {
		return err
	}

	if got.LessThan(min) {
		return fmt.Errorf("%s %s is older than the required minimum %s", cfg.QEMUBinary, got, min)
	}

	return nil
}
