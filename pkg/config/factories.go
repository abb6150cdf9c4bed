package config

import (
	"fmt"
	"path"
	"path/filepath"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/afero"

	"packserve/pkg/delivery"
)

// memoryStorageRoot is the single sandbox root of the memory backend.
const memoryStorageRoot = "/data"

// CreateStorage creates the storage backend selected by cfg.
//
// The Type field determines the backend; the matching options map is decoded
// into a backend-specific struct and used to build the filesystem and the
// ordered list of sandbox roots the resolver will search.
//
// Supported types:
//   - "filesystem": the host filesystem; roots are the configured primary
//     root, its fallback subdirectory, then any extra roots, in that order
//   - "memory": an in-memory filesystem seeded from the configured files,
//     used for development and tests
//
// Returns the filesystem, the ordered roots, or an error.
func CreateStorage(cfg *StorageConfig) (afero.Fs, []string, error) {
	switch cfg.Type {
	case "filesystem":
		return createFilesystemStorage(cfg.Filesystem)
	case "memory":
		return createMemoryStorage(cfg.Memory)
	default:
		return nil, nil, fmt.Errorf("unknown storage type: %q", cfg.Type)
	}
}

func createFilesystemStorage(options map[string]any) (afero.Fs, []string, error) {
	type filesystemStorageConfig struct {
		Root           string   `mapstructure:"root"`
		FallbackSubdir string   `mapstructure:"fallback_subdir"`
		ExtraRoots     []string `mapstructure:"extra_roots"`
	}

	var storeCfg filesystemStorageConfig
	if err := mapstructure.Decode(options, &storeCfg); err != nil {
		return nil, nil, fmt.Errorf("failed to decode filesystem storage config: %w", err)
	}

	if storeCfg.Root == "" {
		return nil, nil, fmt.Errorf("filesystem storage: root is required")
	}
	root, err := filepath.Abs(storeCfg.Root)
	if err != nil {
		return nil, nil, fmt.Errorf("filesystem storage: resolve root: %w", err)
	}

	roots := []string{root}
	if storeCfg.FallbackSubdir != "" {
		roots = append(roots, filepath.Join(root, storeCfg.FallbackSubdir))
	}
	for _, extra := range storeCfg.ExtraRoots {
		abs, err := filepath.Abs(extra)
		if err != nil {
			return nil, nil, fmt.Errorf("filesystem storage: resolve extra root %q: %w", extra, err)
		}
		roots = append(roots, abs)
	}

	return afero.NewOsFs(), roots, nil
}

func createMemoryStorage(options map[string]any) (afero.Fs, []string, error) {
	type memoryStorageConfig struct {
		Files map[string]string `mapstructure:"files"`
	}

	var storeCfg memoryStorageConfig
	if err := mapstructure.Decode(options, &storeCfg); err != nil {
		return nil, nil, fmt.Errorf("failed to decode memory storage config: %w", err)
	}

	fsys := afero.NewMemMapFs()
	for rel, content := range storeCfg.Files {
		full := path.Join(memoryStorageRoot, rel)
		if err := afero.WriteFile(fsys, full, []byte(content), 0o644); err != nil {
			return nil, nil, fmt.Errorf("memory storage: seed %s: %w", rel, err)
		}
	}

	return fsys, []string{memoryStorageRoot}, nil
}

// PlannerConfig converts the delivery section into the planner's concrete
// thresholds. Size strings are assumed validated.
func (c *DeliveryConfig) PlannerConfig() (delivery.PlannerConfig, error) {
	chunk, err := parseSize(c.ChunkSize)
	if err != nil {
		return delivery.PlannerConfig{}, err
	}
	large, err := parseSize(c.LargeFileSize)
	if err != nil {
		return delivery.PlannerConfig{}, err
	}
	minSize, err := parseSize(c.CompressMinSize)
	if err != nil {
		return delivery.PlannerConfig{}, err
	}
	maxSize, err := parseSize(c.CompressMaxSize)
	if err != nil {
		return delivery.PlannerConfig{}, err
	}

	return delivery.PlannerConfig{
		ChunkSize:       int(chunk),
		LargeFileSize:   large,
		CompressMinSize: minSize,
		CompressMaxSize: maxSize,
		CacheMaxAge:     c.CacheMaxAge,
	}, nil
}
