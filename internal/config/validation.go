package config

import "fmt"

// Validate checks the configuration for startup-fatal problems.
// It wraps sentinel errors so callers can use errors.Is.
func (c *Config) Validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("%w: set DATABASE_URL", ErrMissingDatabaseURL)
	}
	if c.GeminiAPIKey == "" {
		return fmt.Errorf("%w: set GEMINI_API_KEY or GOOGLE_API_KEY", ErrMissingAPIKey)
	}
	if c.MaxFileSize <= 0 {
		return fmt.Errorf("%w: must be positive, got %d", ErrInvalidMaxFileSize, c.MaxFileSize)
	}
	if c.ChunkSize <= 0 {
		return fmt.Errorf("%w: chunk size must be positive, got %d", ErrInvalidChunking, c.ChunkSize)
	}
	if c.ChunkOverlap < 0 {
		return fmt.Errorf("%w: overlap must not be negative, got %d", ErrInvalidChunking, c.ChunkOverlap)
	}
	if c.ChunkOverlap >= c.ChunkSize {
		return fmt.Errorf("%w: overlap %d must be smaller than chunk size %d",
			ErrInvalidChunking, c.ChunkOverlap, c.ChunkSize)
	}
	if c.DBMinConns < 0 || c.DBMaxConns <= 0 || c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("%w: min=%d max=%d", ErrInvalidPoolBounds, c.DBMinConns, c.DBMaxConns)
	}
	if c.TopK <= 0 || c.TopK > 100 {
		return fmt.Errorf("%w: must be in [1,100], got %d", ErrInvalidTopK, c.TopK)
	}
	return nil
}
