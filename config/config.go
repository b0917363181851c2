// Package config holds the configuration of a classification job: defaults,
// an optional YAML file, and command-line overrides.
package config

import (
	"os"
	"runtime"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"

	"knnmr/dataset"
	"knnmr/knn"
)

// Input describes the CSV layout.
type Input struct {
	IDColumn       string   `yaml:"idColumn"`
	LabelColumn    string   `yaml:"labelColumn"`
	FeatureColumns []string `yaml:"featureColumns"`
}

// Config is a job configuration.
type Config struct {
	K            int    `yaml:"k"`
	Strategy     string `yaml:"strategy"`
	Partitions   int    `yaml:"partitions"`
	ReduceShards int    `yaml:"reduceShards"`
	Parallelism  int    `yaml:"parallelism"`
	JobName      string `yaml:"jobName"`
	Input        Input  `yaml:"input"`
	Output       string `yaml:"output"` // Empty means stdout.
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	return Config{
		K:            knn.DefaultK,
		Strategy:     string(knn.PreSortedMerge),
		Partitions:   4,
		ReduceShards: 3,
		Parallelism:  runtime.NumCPU(),
		Input: Input{
			IDColumn:    dataset.DefaultColumns.ID,
			LabelColumn: dataset.DefaultColumns.Label,
		},
	}
}

// Load reads a YAML file on top of the defaults. Keys absent from the file
// keep their default.
func Load(path string) (Config, error) {
	cfg := Default()
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, errors.Wrap(err, "read config")
	}
	if err := yaml.UnmarshalStrict(b, &cfg); err != nil {
		return cfg, errors.Wrapf(err, "parse config %s", path)
	}
	return cfg, nil
}

// Validate checks that the configuration can run.
func (c Config) Validate() error {
	if c.K <= 0 {
		return errors.Wrapf(knn.ErrInvalidK, "got %d", c.K)
	}
	if _, err := knn.ParseStrategy(c.Strategy); err != nil {
		return err
	}
	if c.Partitions <= 0 {
		return errors.Errorf("partitions must be positive, got %d", c.Partitions)
	}
	if c.ReduceShards <= 0 {
		return errors.Errorf("reduceShards must be positive, got %d", c.ReduceShards)
	}
	if c.Input.IDColumn == "" || c.Input.LabelColumn == "" {
		return errors.New("input.idColumn and input.labelColumn are required")
	}
	return nil
}

// Columns returns the CSV column selection.
func (c Config) Columns() dataset.Columns {
	return dataset.Columns{
		ID:       c.Input.IDColumn,
		Label:    c.Input.LabelColumn,
		Features: c.Input.FeatureColumns,
	}
}

// KNN converts the configuration for knn.Classify. The strategy name is
// passed as is; knn.Run resolves it and rejects unknown names.
func (c Config) KNN(metrics *knn.Metrics) knn.Config {
	return knn.Config{
		K:            c.K,
		Strategy:     knn.Strategy(c.Strategy),
		Partitions:   c.Partitions,
		ReduceShards: c.ReduceShards,
		Parallelism:  c.Parallelism,
		JobName:      c.JobName,
		Metrics:      metrics,
	}
}
