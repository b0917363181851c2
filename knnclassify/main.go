package main

import (
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/golang/glog"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"knnmr/config"
	"knnmr/dataset"
	"knnmr/knn"
	"knnmr/mapreduce"
)

var (
	worker      = flag.Bool("worker", false, "Whether to run as a worker.")
	managerAddr = flag.String("managerAddr", "knn-manager.sock", "Address of manager.")
	workerAddr  = flag.String("workerAddr", "knn-worker.sock", "Address of worker.")
	distributed = flag.Bool("distributed", false, "Whether to run distributed.")
	configPath  = flag.String("config", "", "Optional YAML job configuration.")
	metricsAddr = flag.String("metricsAddr", "", "Serve Prometheus metrics on this address; with -distributed, job counters come from the workers.")
	overrides   = config.RegisterFlags(flag.CommandLine)
)

// knnclassify can be run in 3 ways:
// 1) Sequential: go run ./knnclassify data1.csv .. dataN.csv
// 2) Manager: go run ./knnclassify -distributed data1.csv .. dataN.csv
// 3) Worker: go run ./knnclassify -worker
//
// All input files are read into one sample set: rows with an empty label
// column are classified against the rows that have one.
//
// Metrics are counted where the work runs. In a distributed run the map and
// reduce tasks execute inside the workers, so the scan and merge counters are
// exported by each worker's -metricsAddr. The manager only counts queries
// skipped for lack of references, which it reports without running a job.
func main() {
	flag.Parse()
	defer glog.Flush()

	if len(flag.Args()) < 1 && !*worker {
		fmt.Fprintln(os.Stderr, "must supply input CSV files to read if not a worker.")
		os.Exit(1)
	}
	if *distributed && !*worker && *managerAddr == "" {
		fmt.Fprintln(os.Stderr, "Must supply a managerAddr if running as manager.")
		os.Exit(1)
	}
	if *worker && (*managerAddr == "" || *workerAddr == "") {
		fmt.Fprintln(os.Stderr, "Must supply a managerAddr and a workerAddr for a worker.")
		os.Exit(1)
	}

	cfg := config.Default()
	if *configPath != "" {
		var err error
		if cfg, err = config.Load(*configPath); err != nil {
			glog.Exitf("Loading config: %v", err)
		}
	}
	overrides.Apply(&cfg)
	if err := cfg.Validate(); err != nil {
		glog.Exitf("Invalid config: %v", err)
	}

	registry := prometheus.NewRegistry()
	metrics := knn.NewMetrics(registry)
	if *metricsAddr != "" {
		go serveMetrics(*metricsAddr, registry)
		if *distributed && !*worker {
			glog.Infof("Job metrics are exported by the workers; %s only counts skipped queries", *metricsAddr)
		}
	}

	job := knn.NewJob(metrics, cfg.Parallelism)
	if *worker {
		mapreduce.RunWorker(*managerAddr, *workerAddr, job.WorkerConfig(), -1, nil)
		return
	}

	samples, err := loadAll(flag.Args(), cfg.Columns())
	if err != nil {
		glog.Exitf("Loading input: %v", err)
	}

	run := mapreduce.LocalMapReduce
	if *distributed {
		addr := *managerAddr
		run = func(spec mapreduce.MapReduceSpec) *mapreduce.Manager {
			return mapreduce.MapReduce(addr, spec)
		}
	}

	report, err := knn.Run(samples, cfg.KNN(metrics), run)
	if err != nil {
		glog.Exitf("Classification failed: %v", err)
	}
	for _, f := range report.Skipped {
		glog.Warningf("No prediction for query %d: %v", f.QueryID, f.Err)
	}

	if err := writeReport(cfg.Output, report); err != nil {
		glog.Exitf("Writing predictions: %v", err)
	}
	glog.Infof("Classified %d queries, skipped %d", len(report.Predictions), len(report.Skipped))
}

func loadAll(files []string, cols dataset.Columns) ([]knn.Sample, error) {
	var samples []knn.Sample
	for _, fn := range files {
		f, err := os.Open(fn)
		if err != nil {
			return nil, err
		}
		s, err := dataset.Load(f, cols)
		f.Close()
		if err != nil {
			return nil, errors.Wrap(err, fn)
		}
		samples = append(samples, s...)
	}
	return samples, nil
}

func writeReport(output string, report *knn.Report) error {
	var w io.Writer = os.Stdout
	if output != "" {
		f, err := os.Create(output)
		if err != nil {
			return err
		}
		defer f.Close()
		w = f
	}
	return dataset.WritePredictions(w, report.Predictions)
}

func serveMetrics(addr string, registry *prometheus.Registry) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	glog.Infof("Serving metrics on %s", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		glog.Errorf("Metrics server: %v", err)
	}
}
