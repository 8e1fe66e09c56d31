// Command benchd hosts the Job Runtime behind an HTTP/SSE API: it wires a
// Job Manager, a mock probe backend, and a build artifact registry into a
// single long-running process, in the teacher agent's start-command style.
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/neurobench/runtime/internal/build"
	"github.com/neurobench/runtime/internal/jobapi"
	"github.com/neurobench/runtime/internal/jobs"
	"github.com/neurobench/runtime/internal/probe"
	"github.com/neurobench/runtime/logger"
	"github.com/neurobench/runtime/metrics"
	"github.com/neurobench/runtime/status"
)

type config struct {
	addr             string
	statusAddr       string
	token            string
	ringMaxLines     int
	ringMaxBytes     int
	maxCompleted     int
	metricsEnabled   bool
	metricsNamespace string
}

func parseFlags(args []string) config {
	fs := flag.NewFlagSet("benchd", flag.ExitOnError)
	c := config{}
	fs.StringVar(&c.addr, "addr", ":8642", "address for the job API to listen on")
	fs.StringVar(&c.statusAddr, "status-addr", ":8643", "address for the status/metrics page to listen on")
	fs.StringVar(&c.token, "token", "", "bearer token required on every job API request (empty disables auth)")
	fs.IntVar(&c.ringMaxLines, "ring-max-lines", 2000, "max retained log lines per job")
	fs.IntVar(&c.ringMaxBytes, "ring-max-bytes", 1<<20, "max retained log bytes per job")
	fs.IntVar(&c.maxCompleted, "max-completed-per-kind", jobs.DefaultMaxCompletedPerKind, "completed jobs retained per kind before GC")
	fs.BoolVar(&c.metricsEnabled, "metrics", true, "enable Prometheus metrics collection")
	fs.StringVar(&c.metricsNamespace, "metrics-namespace", "benchd", "Prometheus metric namespace")
	_ = fs.Parse(args)
	return c
}

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	c := parseFlags(args)

	log := logger.NewConsoleLogger(logger.NewTextPrinter(os.Stderr), os.Exit)
	log.SetLevel(logger.INFO)

	collector := metrics.NewCollector(log, metrics.CollectorConfig{
		Enabled:   c.metricsEnabled,
		Namespace: c.metricsNamespace,
	})
	if err := collector.Start(); err != nil {
		log.Error("starting metrics collector: %v", err)
		return 1
	}
	defer collector.Stop()

	registry := build.NewRegistry()

	mgr := jobs.NewManager(jobs.Config{
		RingMaxLines:        c.ringMaxLines,
		RingMaxBytes:        c.ringMaxBytes,
		MaxCompletedPerKind: c.maxCompleted,
		Artifacts:           registry.Lookup,
	})

	backend := &probe.Mock{}

	jobapiLog := log.WithFields(logger.StringField("component", "jobapi"))
	server := jobapi.NewServer(jobapiLog, c.addr, mgr, backend, registry)
	server.Token = c.token
	server.FlashScope = collector.Scope(metrics.Tags{"kind": "flash"})
	server.RTTScope = collector.Scope(metrics.Tags{"kind": "rtt"})
	server.BuildScope = collector.Scope(metrics.Tags{"kind": "build"})

	if err := server.Start(); err != nil {
		log.Error("starting job API server: %v", err)
		return 1
	}

	statusScope := collector.Scope(metrics.Tags{"component": "status"})
	statusCtx, doneStatus := status.AddItem(context.Background(), "benchd", `
		<p>Job API listening on {{.Addr}}</p>
	`, func(context.Context) (any, error) {
		return struct{ Addr string }{Addr: c.addr}, nil
	})
	defer doneStatus()
	_ = statusCtx
	statusScope.Count("startup", 1)

	statusMux := http.NewServeMux()
	statusMux.HandleFunc("/status", status.Handle)
	statusMux.Handle("/metrics", collector.Handler())
	statusSvr := &http.Server{Addr: c.statusAddr, Handler: statusMux}
	go func() {
		if err := statusSvr.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("status server: %v", err)
		}
	}()

	log.Info("benchd listening: api=%s status=%s", c.addr, c.statusAddr)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = statusSvr.Shutdown(shutdownCtx)

	if err := server.Stop(); err != nil {
		log.Error("stopping job API server: %v", err)
		return 1
	}

	return 0
}
