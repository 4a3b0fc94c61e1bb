// Package configloader reads knowledge-seed YAML files.
package configloader

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/MasterofNull/hybrid-coordinator/ai/knowledge"
	"github.com/MasterofNull/hybrid-coordinator/internal/version"
)

// SeedFile is one YAML seed file: documents for a single collection.
//
//	min_version: 0.3.0
//	collection: best-practices
//	documents:
//	  - id: systemd-enable
//	    text: Declare services.<name>.enable = true and rebuild.
//	    source: https://nixos.org/manual
type SeedFile struct {
	// MinVersion is the oldest coordinator version the file is written for.
	MinVersion string               `yaml:"min_version"`
	Collection string               `yaml:"collection"`
	Documents  []knowledge.Document `yaml:"documents"`

	// Path is the file the seed was read from, relative to the loader base.
	Path string `yaml:"-"`
}

// Loader reads YAML files under a base directory.
type Loader struct {
	baseDir string
	version string
}

// NewLoader creates a loader. currentVersion is compared to each file's
// min_version; empty means version.Version.
func NewLoader(baseDir, currentVersion string) *Loader {
	if currentVersion == "" {
		currentVersion = version.Version
	}
	return &Loader{
		baseDir: baseDir,
		version: currentVersion,
	}
}

// Load loads a single YAML file and unmarshals it into target.
func (l *Loader) Load(subPath string, target any) error {
	data, err := l.ReadFileWithFallback(subPath)
	if err != nil {
		return fmt.Errorf("read file %s: %w", subPath, err)
	}

	if err := yaml.Unmarshal(data, target); err != nil {
		return fmt.Errorf("unmarshal YAML %s: %w", subPath, err)
	}

	return nil
}

// LoadSeed loads and validates one seed file.
func (l *Loader) LoadSeed(subPath string) (*SeedFile, error) {
	seed := &SeedFile{}
	if err := l.Load(subPath, seed); err != nil {
		return nil, err
	}
	seed.Path = subPath

	if seed.MinVersion != "" {
		if !version.IsValid(seed.MinVersion) {
			return nil, fmt.Errorf("%s: invalid min_version %q", subPath, seed.MinVersion)
		}
		if !version.IsVersionGreaterOrEqualThan(l.version, seed.MinVersion) {
			return nil, fmt.Errorf("%s: requires version %s, running %s", subPath, seed.MinVersion, l.version)
		}
	}
	if err := knowledge.Validate(seed.Collection, seed.Documents); err != nil {
		return nil, fmt.Errorf("%s: %w", subPath, err)
	}
	return seed, nil
}

// LoadSeeds loads every .yaml/.yml file of a directory in name order.
// A single bad file fails the whole load.
func (l *Loader) LoadSeeds(subDir string) ([]*SeedFile, error) {
	dirPath := filepath.Join(l.baseDir, subDir)

	entries, err := os.ReadDir(dirPath)
	if err != nil {
		return nil, fmt.Errorf("read directory %s: %w", dirPath, err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	var seeds []*SeedFile
	for _, entry := range entries {
		ext := filepath.Ext(entry.Name())
		if entry.IsDir() || (ext != ".yaml" && ext != ".yml") {
			continue
		}

		seed, err := l.LoadSeed(filepath.Join(subDir, entry.Name()))
		if err != nil {
			return nil, err
		}
		seeds = append(seeds, seed)
	}

	return seeds, nil
}

// ReadFileWithFallback tries to read file from path relative to baseDir,
// then falls back to executable directory for production builds.
func (l *Loader) ReadFileWithFallback(path string) ([]byte, error) {
	// Try relative to baseDir first
	absPath := filepath.Join(l.baseDir, path)
	data, err := os.ReadFile(absPath)
	if err == nil {
		return data, nil
	}

	// Fallback: try relative to executable directory
	execPath, err := os.Executable()
	if err != nil {
		return nil, err
	}

	execDir := filepath.Dir(execPath)
	execAbsPath := filepath.Join(execDir, l.baseDir, path)

	return os.ReadFile(execAbsPath)
}
