package scheduler

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// Config sizes the shared default schedulers.
type Config struct {
	// ParallelWorkers is the goroutine count of [Parallel]. Defaults to
	// GOMAXPROCS.
	ParallelWorkers int `yaml:"parallel_workers"`

	// ElasticMaxWorkers caps the goroutines of [BoundedElastic]. Defaults
	// to ten per CPU.
	ElasticMaxWorkers int `yaml:"elastic_max_workers"`

	// ElasticMaxQueued caps the tasks waiting on [BoundedElastic].
	ElasticMaxQueued int `yaml:"elastic_max_queued"`

	// ElasticIdleTTL retires idle elastic goroutines.
	ElasticIdleTTL time.Duration `yaml:"elastic_idle_ttl"`
}

// DefaultConfig returns the configuration used when none is set.
func DefaultConfig() Config {
	return Config{
		ParallelWorkers:   runtime.GOMAXPROCS(0),
		ElasticMaxWorkers: 10 * runtime.NumCPU(),
		ElasticMaxQueued:  100_000,
		ElasticIdleTTL:    DefaultIdleTTL,
	}
}

// Validate reports the first invalid field.
func (c Config) Validate() error {
	switch {
	case c.ParallelWorkers <= 0:
		return errors.New("scheduler: parallel_workers must be > 0")
	case c.ElasticMaxWorkers <= 0:
		return errors.New("scheduler: elastic_max_workers must be > 0")
	case c.ElasticMaxQueued < 0:
		return errors.New("scheduler: elastic_max_queued must be >= 0")
	case c.ElasticIdleTTL <= 0:
		return errors.New("scheduler: elastic_idle_ttl must be > 0")
	}
	return nil
}

// ParseConfig decodes YAML on top of [DefaultConfig]. Fields absent from the
// document keep their defaults.
func ParseConfig(data []byte) (Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("scheduler: parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadConfig reads and parses a YAML configuration file.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("scheduler: read config: %w", err)
	}
	return ParseConfig(data)
}

var shared = struct {
	mu       sync.Mutex
	cfg      Config
	opts     []Option
	parallel *Parallel
	elastic  *BoundedElastic
	single   *Parallel
}{cfg: DefaultConfig()}

// SetDefaults configures the shared schedulers. Shared schedulers that are
// already running are closed first; the next call to [Default],
// [DefaultElastic] or [DefaultSingle] creates them with the new settings.
func SetDefaults(cfg Config, opts ...Option) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	err := Shutdown()
	shared.mu.Lock()
	shared.cfg = cfg
	shared.opts = opts
	shared.mu.Unlock()
	return err
}

// Default returns the shared compute scheduler, creating it on first use.
func Default() Scheduler {
	shared.mu.Lock()
	defer shared.mu.Unlock()
	if shared.parallel == nil {
		shared.parallel = NewParallel("parallel", shared.cfg.ParallelWorkers, shared.opts...)
	}
	return shared.parallel
}

// DefaultElastic returns the shared bounded elastic scheduler, creating it
// on first use.
func DefaultElastic() Scheduler {
	shared.mu.Lock()
	defer shared.mu.Unlock()
	if shared.elastic == nil {
		opts := append([]Option{WithIdleTTL(shared.cfg.ElasticIdleTTL)}, shared.opts...)
		shared.elastic = NewBoundedElastic(
			"boundedElastic",
			shared.cfg.ElasticMaxWorkers,
			shared.cfg.ElasticMaxQueued,
			opts...,
		)
	}
	return shared.elastic
}

// DefaultSingle returns the shared single-goroutine scheduler, creating it
// on first use.
func DefaultSingle() Scheduler {
	shared.mu.Lock()
	defer shared.mu.Unlock()
	if shared.single == nil {
		shared.single = NewSingle("single", shared.opts...)
	}
	return shared.single
}

// Shutdown closes the shared schedulers and returns the joined panics they
// recovered. Later calls to the accessors create fresh schedulers.
func Shutdown() error {
	shared.mu.Lock()
	closers := []Scheduler{}
	if shared.parallel != nil {
		closers = append(closers, shared.parallel)
	}
	if shared.elastic != nil {
		closers = append(closers, shared.elastic)
	}
	if shared.single != nil {
		closers = append(closers, shared.single)
	}
	shared.parallel, shared.elastic, shared.single = nil, nil, nil
	shared.mu.Unlock()

	var errs []error
	for _, s := range closers {
		errs = append(errs, s.Close())
	}
	return errors.Join(errs...)
}
