// Command lockrun runs a shell command while holding a named distributed
// lock, so that at most one instance across a fleet executes it at a time.
// With -cron it keeps running the command on a schedule, skipping runs
// whose lock acquisition times out.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	oteltrace "go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/kiwiproject/etcdkit"
	"github.com/kiwiproject/etcdkit/client"
	"github.com/kiwiproject/etcdkit/lock"
	"github.com/kiwiproject/etcdkit/tracing"
)

const lockPrefix = "/etcdkit/locks/"

func main() {
	var (
		lockName    = flag.String("lock", "", "name of the distributed lock to hold (required)")
		lockTimeout = flag.Duration("timeout", 30*time.Second, "how long to wait for the lock")
		cronSpec    = flag.String("cron", "", "optional cron expression (with seconds) for recurring runs")
		metricsAddr = flag.String("metrics-addr", "", "optional address to serve Prometheus metrics on")
	)
	flag.Parse()

	command := flag.Args()
	if *lockName == "" || len(command) == 0 {
		fmt.Fprintf(os.Stderr, "usage: %s -lock NAME [-timeout D] [-cron SPEC] [-metrics-addr ADDR] -- command [args...]\n", os.Args[0])
		os.Exit(2)
	}

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("create logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	tracerShutdown, err := tracing.Init("etcdkit-lockrun")
	if err != nil {
		logger.Fatal("initialize tracer", zap.Error(err))
	}
	defer func() {
		if err := tracerShutdown(context.Background()); err != nil {
			logger.Warn("tracer shutdown failed", zap.Error(err))
		}
	}()

	cfg, err := client.Load()
	if err != nil {
		logger.Fatal("load configuration", zap.Error(err))
	}

	kit, err := etcdkit.New(cfg, logger)
	if err != nil {
		logger.Fatal("create kit", zap.Error(err))
	}
	if err := kit.Start(); err != nil {
		logger.Fatal("start etcd client", zap.Error(err))
	}
	defer func() {
		if err := kit.Stop(); err != nil {
			logger.Warn("stop etcd client", zap.Error(err))
		}
	}()

	nodeID := uuid.New().String()
	logger = logger.With(zap.String("node_id", nodeID), zap.String("lock", *lockName))

	rootCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	setupGracefulShutdown(cancel, logger)

	if *metricsAddr != "" {
		go serveMetrics(*metricsAddr, logger)
	}

	runner := &lockedRunner{
		helper:  kit.Locks(),
		mutex:   lock.NewMutex(kit.Client(), lockPrefix+*lockName, lock.WithSessionTTL(int(cfg.SessionTTL.Seconds()))),
		timeout: *lockTimeout,
		command: command,
		logger:  logger,
		tracer:  otel.Tracer("etcdkit-lockrun"),
	}

	if *cronSpec == "" {
		runner.Run(rootCtx)
		return
	}

	c := cron.New(cron.WithSeconds())
	if _, err := c.AddFunc(*cronSpec, func() { runner.Run(rootCtx) }); err != nil {
		logger.Fatal("invalid cron expression", zap.String("cron", *cronSpec), zap.Error(err))
	}

	logger.Info("starting recurring locked runs", zap.String("cron", *cronSpec))
	c.Start()

	<-rootCtx.Done()
	logger.Info("shutting down")
	<-c.Stop().Done()
}

// lockedRunner executes one shell command under the lock per Run call.
type lockedRunner struct {
	helper  *lock.Helper
	mutex   *lock.Mutex
	timeout time.Duration
	command []string
	logger  *zap.Logger
	tracer  oteltrace.Tracer
}

func (r *lockedRunner) Run(ctx context.Context) {
	ctx, span := r.tracer.Start(ctx, "lockrun.Run",
		oteltrace.WithAttributes(attribute.StringSlice("command", r.command)))
	defer span.End()

	r.helper.UseLockHandlingErrors(ctx, r.mutex, r.timeout,
		func() error { return r.execute(ctx) },
		func(errorType lock.ErrorType, err error) {
			span.SetStatus(codes.Error, errorType.String())
			span.RecordError(err)

			switch errorType {
			case lock.ErrorTypeLockAcquisition:
				r.logger.Warn("skipping run; could not acquire lock", zap.Error(err))
			default:
				r.logger.Error("command failed while holding lock", zap.Error(err))
			}
		})
}

func (r *lockedRunner) execute(ctx context.Context) error {
	r.logger.Info("running command under lock", zap.Strings("command", r.command))

	cmd := exec.CommandContext(ctx, r.command[0], r.command[1:]...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("command failed: %w", err)
	}

	r.logger.Info("command completed")
	return nil
}

func serveMetrics(addr string, logger *zap.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	logger.Info("serving metrics", zap.String("addr", addr))
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Warn("metrics server stopped", zap.Error(err))
	}
}

func setupGracefulShutdown(cancel context.CancelFunc, logger *zap.Logger) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		logger.Info("received signal; shutting down", zap.Stringer("signal", sig))
		cancel()
	}()
}
