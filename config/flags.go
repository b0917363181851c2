package config

import (
	"flag"
	"strings"
)

// Flags are the command-line overrides of a Config. Only flags set on the
// command line override; everything else keeps the file or default value.
type Flags struct {
	fs *flag.FlagSet

	k            int
	strategy     string
	partitions   int
	reduceShards int
	parallelism  int
	jobName      string
	features     string
	output       string
}

// RegisterFlags defines the override flags on fs.
func RegisterFlags(fs *flag.FlagSet) *Flags {
	f := &Flags{fs: fs}
	fs.IntVar(&f.k, "k", 0, "How many closest neighbours to consider.")
	fs.StringVar(&f.strategy, "strategy", "", "Selection strategy: pre-sorted-merge or collect-then-sort.")
	fs.IntVar(&f.partitions, "partitions", 0, "Number of reference partitions (map tasks).")
	fs.IntVar(&f.reduceShards, "rShards", 0, "Number of reduce shards.")
	fs.IntVar(&f.parallelism, "parallelism", 0, "Max concurrent tasks for a local run.")
	fs.StringVar(&f.jobName, "jobName", "", "Job name; defaults to a unique name.")
	fs.StringVar(&f.features, "features", "", "Comma-separated feature columns; defaults to all other columns.")
	fs.StringVar(&f.output, "output", "", "Predictions file; defaults to stdout.")
	return f
}

// Apply writes the explicitly-set flags into cfg.
func (f *Flags) Apply(cfg *Config) {
	f.fs.Visit(func(fl *flag.Flag) {
		switch fl.Name {
		case "k":
			cfg.K = f.k
		case "strategy":
			cfg.Strategy = f.strategy
		case "partitions":
			cfg.Partitions = f.partitions
		case "rShards":
			cfg.ReduceShards = f.reduceShards
		case "parallelism":
			cfg.Parallelism = f.parallelism
		case "jobName":
			cfg.JobName = f.jobName
		case "features":
			cfg.Input.FeatureColumns = nil
			for _, c := range strings.Split(f.features, ",") {
				if c = strings.TrimSpace(c); c != "" {
					cfg.Input.FeatureColumns = append(cfg.Input.FeatureColumns, c)
				}
			}
		case "output":
			cfg.Output = f.output
		}
	})
}
