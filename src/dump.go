package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
)

// writeDump scans the device once and writes the full raw dictionary to
// cfg.DumpPath. Nothing is published.
func writeDump(ctx context.Context, cfg Config) error {
	dev, err := scanDevice(ctx, cfg.Device)
	if err != nil {
		return err
	}

	if err := writeJSONFile(cfg.DumpPath, dev.Dict()); err != nil {
		return err
	}
	log.Printf("Wrote %d models to %s\n", len(dev.Models), cfg.DumpPath)
	return nil
}

// writeJSONFile writes v as 4-space indented JSON, creating parent directories
func writeJSONFile(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "    ")
	if err != nil {
		return fmt.Errorf("encoding dump: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return fmt.Errorf("creating dump directory: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0600); err != nil {
		return fmt.Errorf("writing dump: %w", err)
	}
	return nil
}
