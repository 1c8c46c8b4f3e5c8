package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
)

// Config holds storage engine configuration
type Config struct {
	// Buffer Pool Configuration
	PoolSize uint32 `json:"pool_size"` // Number of frames in the buffer pool
	ReplacerK uint32 `json:"replacer_k"` // K parameter for the LRU-K replacer

	// Disk Configuration
	DataDirectory string `json:"data_directory"` // Directory for the page data file
	PageSize uint32 `json:"page_size"` // Page size in bytes (default: 4096)
	UseMmapBackend bool `json:"use_mmap_backend"` // Use the mmap-backed disk backend instead of file I/O

	// Page Compression Configuration
	CompressionEnabled bool `json:"compression_enabled"` // Compress pages before they hit disk
	CompressionAlg string `json:"compression_alg"` // Compression algorithm (none, snappy, lz4)

	// Extendible Hash Index Configuration
	HeaderMaxDepth uint32 `json:"header_max_depth"` // Number of bits the header page indexes on
	DirectoryMaxDepth uint32 `json:"directory_max_depth"` // Maximum global depth a directory page may reach
	BucketMaxSize uint32 `json:"bucket_max_size"` // Maximum number of entries in a bucket page
	BloomFilterEnabled bool `json:"bloom_filter_enabled"` // Attach a Bloom filter to every bucket page

	// Performance Configuration
	EnableMetrics bool `json:"enable_metrics"` // Whether to collect performance metrics
	LogLevel string `json:"log_level"` // Log level (debug, info, warn, error)
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		PoolSize: 100,
		ReplacerK: 2,
		DataDirectory: "./data",
		PageSize: PageSize,
		UseMmapBackend: false,
		CompressionEnabled: false,
		CompressionAlg: "none",
		HeaderMaxDepth: 9,
		DirectoryMaxDepth: 9,
		BucketMaxSize: 4,
		BloomFilterEnabled: false,
		EnableMetrics: true,
		LogLevel: "info",
	}
}

// LoadConfigFromFile loads configuration from a JSON file
func LoadConfigFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	err = json.Unmarshal(data, config)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// LoadConfigFromEnv loads configuration from environment variables
// Falls back to default values if environment variables are not set
func LoadConfigFromEnv() *Config {
	config := DefaultConfig()

	// Buffer Pool
	if val := os.Getenv("HASHPOOL_POOL_SIZE"); val != "" {
		if size, err := strconv.ParseUint(val, 10, 32); err == nil {
			config.PoolSize = uint32(size)
		}
	}

	if val := os.Getenv("HASHPOOL_REPLACER_K"); val != "" {
		if k, err := strconv.ParseUint(val, 10, 32); err == nil {
			config.ReplacerK = uint32(k)
		}
	}

	// Disk
	if val := os.Getenv("HASHPOOL_DATA_DIRECTORY"); val != "" {
		config.DataDirectory = val
	}

	if val := os.Getenv("HASHPOOL_PAGE_SIZE"); val != "" {
		if size, err := strconv.ParseUint(val, 10, 32); err == nil {
			config.PageSize = uint32(size)
		}
	}

	if val := os.Getenv("HASHPOOL_USE_MMAP_BACKEND"); val != "" {
		config.UseMmapBackend = val == "true" || val == "1"
	}

	// Compression
	if val := os.Getenv("HASHPOOL_COMPRESSION_ENABLED"); val != "" {
		config.CompressionEnabled = val == "true" || val == "1"
	}

	if val := os.Getenv("HASHPOOL_COMPRESSION_ALG"); val != "" {
		config.CompressionAlg = val
	}

	// Hash index
	if val := os.Getenv("HASHPOOL_HEADER_MAX_DEPTH"); val != "" {
		if d, err := strconv.ParseUint(val, 10, 32); err == nil {
			config.HeaderMaxDepth = uint32(d)
		}
	}

	if val := os.Getenv("HASHPOOL_DIRECTORY_MAX_DEPTH"); val != "" {
		if d, err := strconv.ParseUint(val, 10, 32); err == nil {
			config.DirectoryMaxDepth = uint32(d)
		}
	}

	if val := os.Getenv("HASHPOOL_BUCKET_MAX_SIZE"); val != "" {
		if s, err := strconv.ParseUint(val, 10, 32); err == nil {
			config.BucketMaxSize = uint32(s)
		}
	}

	if val := os.Getenv("HASHPOOL_BLOOM_FILTER_ENABLED"); val != "" {
		config.BloomFilterEnabled = val == "true" || val == "1"
	}

	// Performance
	if val := os.Getenv("HASHPOOL_ENABLE_METRICS"); val != "" {
		config.EnableMetrics = val == "true" || val == "1"
	}

	if val := os.Getenv("HASHPOOL_LOG_LEVEL"); val != "" {
		config.LogLevel = val
	}

	return config
}

// SaveToFile saves the configuration to a JSON file
func (c *Config) SaveToFile(path string) error {
	data, err := json.MarshalIndent(c, "", " ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	err = os.WriteFile(path, data, 0644)
	if err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.PoolSize == 0 {
		return fmt.Errorf("pool size must be greater than 0")
	}

	if c.ReplacerK == 0 {
		return fmt.Errorf("replacer k must be greater than 0")
	}

	if c.PageSize == 0 {
		return fmt.Errorf("page size must be greater than 0")
	}

	if c.PageSize%512 != 0 {
		return fmt.Errorf("page size must be a multiple of 512")
	}

	if c.DataDirectory == "" {
		return fmt.Errorf("data directory cannot be empty")
	}

	if c.HeaderMaxDepth > 32 {
		return fmt.Errorf("header max depth must be at most 32")
	}

	if c.DirectoryMaxDepth == 0 {
		return fmt.Errorf("directory max depth must be greater than 0")
	}

	if c.BucketMaxSize == 0 {
		return fmt.Errorf("bucket max size must be greater than 0")
	}

	validCompressionAlgs := map[string]bool{
		"none": true,
		"snappy": true,
		"lz4": true,
	}

	if !validCompressionAlgs[c.CompressionAlg] {
		return fmt.Errorf("invalid compression algorithm: %s (must be none, snappy, or lz4)", c.CompressionAlg)
	}

	// Validate log level
	validLogLevels := map[string]bool{
		"debug": true,
		"info": true,
		"warn": true,
		"error": true,
	}

	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.LogLevel)
	}

	return nil
}

// Clone creates a deep copy of the configuration
func (c *Config) Clone() *Config {
	return &Config{
		PoolSize: c.PoolSize,
		ReplacerK: c.ReplacerK,
		DataDirectory: c.DataDirectory,
		PageSize: c.PageSize,
		UseMmapBackend: c.UseMmapBackend,
		CompressionEnabled: c.CompressionEnabled,
		CompressionAlg: c.CompressionAlg,
		HeaderMaxDepth: c.HeaderMaxDepth,
		DirectoryMaxDepth: c.DirectoryMaxDepth,
		BucketMaxSize: c.BucketMaxSize,
		BloomFilterEnabled: c.BloomFilterEnabled,
		EnableMetrics: c.EnableMetrics,
		LogLevel: c.LogLevel,
	}
}
