package config

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"bucketfiller/internal/checksum"
	"bucketfiller/internal/storage"

	"github.com/docker/go-units"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

// ErrConfiguration wraps every configuration failure
var ErrConfiguration = errors.New("configuration error")

// Config represents the application configuration
type Config struct {
	Target   S3Config   `yaml:"target"`
	Load     LoadConfig `yaml:"load"`
	Run      Run        `yaml:"run"`
	LogLevel string     `yaml:"log_level"`
	Debug    bool       `yaml:"debug"`

	// Warnings collects non-fatal problems found while loading
	Warnings []string `yaml:"-"`
}

// S3Config represents S3-compatible storage configuration
type S3Config struct {
	Backend   string `yaml:"backend"`
	Endpoint  string `yaml:"endpoint"`
	Region    string `yaml:"region"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	PathStyle bool   `yaml:"path_style"`
	Bucket    string `yaml:"bucket"`
}

// LoadConfig describes the objects to create
type LoadConfig struct {
	ObjectSize   string `yaml:"object_size"`
	Versions     int    `yaml:"versions"`
	ObjectsCount int    `yaml:"objects_count"`
	Prefix       string `yaml:"prefix"`
	Checksum     string `yaml:"checksum"`
	SimpleData   bool   `yaml:"simple_data"`

	// resolved by validate
	ObjectSizeBytes   int64              `yaml:"-"`
	ChecksumAlgorithm checksum.Algorithm `yaml:"-"`
}

// Run contains pipeline and reporting settings
type Run struct {
	Threads          int           `yaml:"threads"`
	QueueCapacity    int           `yaml:"queue_capacity"`
	LogBatchSize     int           `yaml:"log_batch_size"`
	ReportEvery      int           `yaml:"report_every"`
	GeneratorTimeout time.Duration `yaml:"generator_timeout"`
	DrainTimeout     time.Duration `yaml:"drain_timeout"`
	LogFile          string        `yaml:"log_file"`
	ProcessLog       string        `yaml:"process_log"`
	MetricsAddr      string        `yaml:"metrics_addr"`
	ResultsDB        string        `yaml:"results_db"`
	PrintTable       bool          `yaml:"print_table"`
	ShowProgress     bool          `yaml:"show_progress"`
	Interactive      bool          `yaml:"interactive"`
}

// DefaultThreads is a small multiple of the available parallelism, since
// uploads are I/O bound
func DefaultThreads() int {
	return 4 * runtime.GOMAXPROCS(0)
}

// Default returns the configuration used before the file and flags apply
func Default() *Config {
	return &Config{
		LogLevel: "info",
		Target: S3Config{
			Backend: storage.BackendMinIO,
			Region:  "us-east-1",
		},
		Load: LoadConfig{
			ObjectSize:   "1KiB",
			ObjectsCount: 1000,
			Checksum:     checksum.Default.String(),
		},
		Run: Run{
			Threads:          DefaultThreads(),
			LogBatchSize:     100,
			ReportEvery:      100,
			GeneratorTimeout: 10 * time.Second,
			DrainTimeout:     30 * time.Second,
			LogFile:          "bucketfiller.log",
			ResultsDB:        ":memory:",
			PrintTable:       true,
			ShowProgress:     true,
		},
	}
}

// Load loads configuration from file and command line flags.
// When interactive prompting is enabled, missing values are read from in.
func Load(configFile string, flags *pflag.FlagSet, in io.Reader, out io.Writer) (*Config, error) {
	cfg := Default()

	// Load from YAML (or JSON) file if provided
	if configFile != "" {
		if err := loadFromFile(cfg, configFile); err != nil {
			return nil, fmt.Errorf("%w: failed to load config file: %w", ErrConfiguration, err)
		}
	}

	// Override with command line flags
	if flags != nil {
		if err := loadFromFlags(cfg, flags); err != nil {
			return nil, fmt.Errorf("%w: failed to load flags: %w", ErrConfiguration, err)
		}
	}

	if cfg.Run.Interactive {
		if err := prompt(cfg, in, out); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrConfiguration, err)
		}
	}

	// Validate configuration
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("%w: invalid configuration: %w", ErrConfiguration, err)
	}

	return cfg, nil
}

func loadFromFile(cfg *Config, filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return err
	}

	return yaml.Unmarshal(data, cfg)
}

func loadFromFlags(cfg *Config, flags *pflag.FlagSet) error {
	stringFlags := map[string]*string{
		"backend":      &cfg.Target.Backend,
		"endpoint":     &cfg.Target.Endpoint,
		"region":       &cfg.Target.Region,
		"access-key":   &cfg.Target.AccessKey,
		"secret-key":   &cfg.Target.SecretKey,
		"bucket":       &cfg.Target.Bucket,
		"object-size":  &cfg.Load.ObjectSize,
		"prefix":       &cfg.Load.Prefix,
		"checksum":     &cfg.Load.Checksum,
		"log-level":    &cfg.LogLevel,
		"log-file":     &cfg.Run.LogFile,
		"process-log":  &cfg.Run.ProcessLog,
		"metrics-addr": &cfg.Run.MetricsAddr,
		"results-db":   &cfg.Run.ResultsDB,
	}
	intFlags := map[string]*int{
		"versions":       &cfg.Load.Versions,
		"objects":        &cfg.Load.ObjectsCount,
		"threads":        &cfg.Run.Threads,
		"queue-capacity": &cfg.Run.QueueCapacity,
		"log-batch-size": &cfg.Run.LogBatchSize,
		"report-every":   &cfg.Run.ReportEvery,
	}
	boolFlags := map[string]*bool{
		"path-style":    &cfg.Target.PathStyle,
		"simple-data":   &cfg.Load.SimpleData,
		"debug":         &cfg.Debug,
		"print-table":   &cfg.Run.PrintTable,
		"show-progress": &cfg.Run.ShowProgress,
		"interactive":   &cfg.Run.Interactive,
	}
	durationFlags := map[string]*time.Duration{
		"generator-timeout": &cfg.Run.GeneratorTimeout,
		"drain-timeout":     &cfg.Run.DrainTimeout,
	}

	var err error
	for name, dst := range stringFlags {
		if flags.Changed(name) {
			if *dst, err = flags.GetString(name); err != nil {
				return err
			}
		}
	}
	for name, dst := range intFlags {
		if flags.Changed(name) {
			if *dst, err = flags.GetInt(name); err != nil {
				return err
			}
		}
	}
	for name, dst := range boolFlags {
		if flags.Changed(name) {
			if *dst, err = flags.GetBool(name); err != nil {
				return err
			}
		}
	}
	for name, dst := range durationFlags {
		if flags.Changed(name) {
			if *dst, err = flags.GetDuration(name); err != nil {
				return err
			}
		}
	}

	return nil
}

// prompt asks for every required value that is still empty
func prompt(cfg *Config, in io.Reader, out io.Writer) error {
	reader := bufio.NewReader(in)

	ask := func(label string) (string, error) {
		fmt.Fprintf(out, "Enter %s: ", label)
		line, err := reader.ReadString('\n')
		if err != nil && !(errors.Is(err, io.EOF) && line != "") {
			return "", fmt.Errorf("failed to read %s: %w", label, err)
		}
		return strings.TrimSpace(line), nil
	}

	fields := []struct {
		label string
		dst   *string
	}{
		{"the bucket name", &cfg.Target.Bucket},
		{"the S3 endpoint URL including http:// or https://", &cfg.Target.Endpoint},
		{"the access key ID", &cfg.Target.AccessKey},
		{"the secret access key", &cfg.Target.SecretKey},
	}
	for _, f := range fields {
		if *f.dst != "" {
			continue
		}
		v, err := ask(f.label)
		if err != nil {
			return err
		}
		*f.dst = v
	}

	if cfg.Load.ObjectsCount <= 0 {
		v, err := ask("the number of objects to be placed")
		if err != nil {
			return err
		}
		if cfg.Load.ObjectsCount, err = strconv.Atoi(v); err != nil {
			return fmt.Errorf("invalid number of objects %q", v)
		}
	}

	return nil
}

func (c *Config) validate() error {
	if c.Target.Bucket == "" {
		return fmt.Errorf("bucket is required")
	}

	switch c.Target.Backend {
	case storage.BackendMinIO:
		if c.Target.Endpoint == "" {
			return fmt.Errorf("endpoint is required for the %s backend", storage.BackendMinIO)
		}
		if c.Target.AccessKey == "" || c.Target.SecretKey == "" {
			return fmt.Errorf("access key and secret key are required for the %s backend", storage.BackendMinIO)
		}
	case storage.BackendS3:
	default:
		return fmt.Errorf("unknown backend %q (expected %s or %s)", c.Target.Backend, storage.BackendMinIO, storage.BackendS3)
	}

	size, err := units.RAMInBytes(c.Load.ObjectSize)
	if err != nil {
		return fmt.Errorf("invalid object size %q: %w", c.Load.ObjectSize, err)
	}
	if size < 0 {
		return fmt.Errorf("object size must not be negative")
	}
	c.Load.ObjectSizeBytes = size

	if c.Load.ObjectsCount < 0 {
		return fmt.Errorf("objects count must not be negative")
	}
	if c.Load.Versions < 0 {
		return fmt.Errorf("versions must not be negative")
	}

	alg, err := checksum.Parse(c.Load.Checksum)
	if err != nil {
		c.Warnings = append(c.Warnings, err.Error())
	}
	c.Load.ChecksumAlgorithm = alg

	if c.Run.Threads <= 0 {
		return fmt.Errorf("threads must be positive")
	}
	if c.Run.QueueCapacity <= 0 {
		c.Run.QueueCapacity = max(1000, 4*c.Run.Threads)
	}
	if c.Run.LogBatchSize <= 0 {
		return fmt.Errorf("log batch size must be positive")
	}
	if c.Run.GeneratorTimeout <= 0 || c.Run.DrainTimeout <= 0 {
		return fmt.Errorf("timeouts must be positive")
	}

	if c.Debug {
		c.LogLevel = "debug"
	}

	return nil
}
