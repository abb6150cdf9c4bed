package config

import (
	"fmt"

	"github.com/c2h5oh/datasize"
	"github.com/go-playground/validator/v10"
)

// validate is the singleton validator instance
var validate *validator.Validate

func init() {
	validate = validator.New()
}

// Validate validates the configuration using struct tags plus custom rules
// that cannot be expressed in tags.
//
// Log level normalization happens in ApplyDefaults, not here; validation
// accepts both cases.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return formatValidationError(err)
	}

	return validateCustomRules(cfg)
}

// validateCustomRules performs validation beyond struct tags.
func validateCustomRules(cfg *Config) error {
	for field, value := range map[string]string{
		"delivery.chunk_size":        cfg.Delivery.ChunkSize,
		"delivery.large_file_size":   cfg.Delivery.LargeFileSize,
		"delivery.compress_min_size": cfg.Delivery.CompressMinSize,
		"delivery.compress_max_size": cfg.Delivery.CompressMaxSize,
	} {
		if _, err := parseSize(value); err != nil {
			return fmt.Errorf("%s: %w", field, err)
		}
	}

	chunk, _ := parseSize(cfg.Delivery.ChunkSize)
	if chunk < 1024 {
		return fmt.Errorf("delivery.chunk_size: must be at least 1KB, got %s", cfg.Delivery.ChunkSize)
	}

	minSize, _ := parseSize(cfg.Delivery.CompressMinSize)
	maxSize, _ := parseSize(cfg.Delivery.CompressMaxSize)
	if maxSize > 0 && minSize >= maxSize {
		return fmt.Errorf("delivery: compress_min_size (%s) must be below compress_max_size (%s)",
			cfg.Delivery.CompressMinSize, cfg.Delivery.CompressMaxSize)
	}

	if cfg.Storage.Type == "filesystem" {
		root, _ := cfg.Storage.Filesystem["root"].(string)
		if root == "" {
			return fmt.Errorf("storage.filesystem: root is required")
		}
	}

	if cfg.Server.RateLimit.RequestsPerSecond > 0 && cfg.Server.RateLimit.Burst == 0 {
		return fmt.Errorf("server.rate_limit: burst must be set when requests_per_second is set")
	}

	return nil
}

// parseSize parses a human-readable byte size such as "64KB" or "10MB".
func parseSize(value string) (int64, error) {
	var size datasize.ByteSize
	if err := size.UnmarshalText([]byte(value)); err != nil {
		return 0, fmt.Errorf("invalid size %q: %w", value, err)
	}
	return int64(size.Bytes()), nil
}

// formatValidationError converts validator errors into friendlier messages.
func formatValidationError(err error) error {
	if validationErrs, ok := err.(validator.ValidationErrors); ok {
		if len(validationErrs) > 0 {
			e := validationErrs[0]
			return fmt.Errorf("%s: validation failed on '%s' tag (value: %v)",
				e.Namespace(), e.Tag(), e.Value())
		}
	}
	return err
}
