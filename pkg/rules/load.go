package rules

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/titanous/json5"
	"gopkg.in/yaml.v3"
)

// File is the on-disk layout of a rules file.
type File struct {
	Rules []SiteRule `yaml:"rules" json:"rules"`
}

// LoadFile reads rules from a YAML or JSON5 file. The format is chosen
// by extension: .json and .json5 are read as JSON5, anything else as YAML.
func LoadFile(path string) ([]SiteRule, error) {
	data, err := os.ReadFile(path) //nolint:gosec // rules path from trusted config
	if err != nil {
		return nil, fmt.Errorf("reading rules file: %w", err)
	}
	return Parse(data, filepath.Ext(path))
}

// Parse decodes rules from data in the format implied by ext.
func Parse(data []byte, ext string) ([]SiteRule, error) {
	var f File
	switch strings.ToLower(ext) {
	case ".json", ".json5":
		if err := json5.Unmarshal(data, &f); err != nil {
			return nil, fmt.Errorf("parsing rules JSON5: %w", err)
		}
	default:
		if err := yaml.Unmarshal(data, &f); err != nil {
			return nil, fmt.Errorf("parsing rules YAML: %w", err)
		}
	}

	for i := range f.Rules {
		if err := f.Rules[i].Validate(); err != nil {
			return nil, err
		}
	}
	return f.Rules, nil
}

// Watch reloads the registry whenever the rules file at path changes. It
// blocks until ctx is cancelled. A file that fails to parse leaves the
// current rules in place.
func Watch(ctx context.Context, path string, reg *Registry, log *slog.Logger) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating rules watcher: %w", err)
	}
	defer w.Close()

	// Watch the directory so editors that replace the file are still seen.
	if err := w.Add(filepath.Dir(path)); err != nil {
		return fmt.Errorf("watching rules directory: %w", err)
	}
	target := filepath.Clean(path)

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			reload(path, reg, log)
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			log.Warn("rules watcher error", "error", err)
		}
	}
}

func reload(path string, reg *Registry, log *slog.Logger) {
	loaded, err := LoadFile(path)
	if err != nil {
		log.Warn("keeping current rules, reload failed", "path", path, "error", err)
		return
	}
	if err := reg.Replace(loaded); err != nil {
		log.Warn("keeping current rules, reload rejected", "path", path, "error", err)
		return
	}
	log.Info("reloaded site rules", "path", path, "rules", len(loaded))
}
