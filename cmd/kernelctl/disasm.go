package main

import (
	"fmt"

	"github.com/dbartussek-go/kernelcore/internal/cli"
	"golang.org/x/arch/x86/x86asm"
)

func runDisassemble(logger *cli.Logger, cfg *cli.Config) error {
	m, err := readManifest(cfg.ManifestPath)
	if err != nil {
		return fmt.Errorf("read manifest (run `kernelctl build` first): %w", err)
	}

	code := m.EntryStub
	for offset := 0; offset < len(code); {
		inst, err := x86asm.Decode(code[offset:], 64)
		if err != nil {
			return fmt.Errorf("decode at offset %d: %w", offset, err)
		}

		logger.Info("%4d: %-20s %s", offset, hexBytes(code[offset:offset+inst.Len]), x86asm.GNUSyntax(inst, 0, nil))
		offset += inst.Len
	}

	return nil
}

func hexBytes(b []byte) string {
	out := make([]byte, 0, len(b)*3)
	for i, v := range b {
		if i > 0 {
			out = append(out, ' ')
		}
		out = append(out, fmt.Sprintf("%02x", v)...)
	}
	return string(out)
}
