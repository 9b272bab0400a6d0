package repository

import (
	"arbor/internal/config"
	"arbor/internal/safe"

	"go.uber.org/zap"
)

// OptionsFromConfig maps the repository, compression and lock settings of
// c onto Options.
func OptionsFromConfig(c *config.Config, logger *zap.Logger) (Options, error) {
	format, err := ParseFormat(c.Repository.Format)
	if err != nil {
		return Options{}, err
	}
	compression := safe.DefaultCompressionOptions()
	if c.Repository.Compression.MinSize > 0 {
		compression.MinSize = c.Repository.Compression.MinSize
	}
	if c.Repository.Compression.Level > 0 {
		compression.Level = c.Repository.Compression.Level
	}
	return Options{
		Format:      format,
		CacheSize:   c.Repository.CacheSize,
		Compression: compression,
		LockTimeout: c.LockTimeout(),
		LockPoll:    c.LockPoll(),
		Logger:      logger,
	}, nil
}
