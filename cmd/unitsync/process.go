package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	gosync "sync"
	"syscall"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/appconfig"
	"github.com/aws/aws-sdk-go/service/dynamodb"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/unitsync/unitsync/pkg/metrics"
	"github.com/unitsync/unitsync/pkg/rules"
	"github.com/unitsync/unitsync/pkg/store"
	"github.com/unitsync/unitsync/pkg/sync"
	"github.com/unitsync/unitsync/pkg/transform"
)

var (
	batchFile         string
	dryRun            bool
	prometheusEnabled bool
	prometheusAddr    string
)

var processCmd = &cobra.Command{
	Use:   "process",
	Short: "Process one batch of raw change-stream records",
	Long: `Reads a raw change-stream batch from a file (or stdin), runs it through
the sync engine, and prints the partial-batch-failure report as JSON.`,
	RunE: runProcess,
}

func init() {
	processCmd.Flags().StringVarP(&batchFile, "file", "f", "", "batch payload file (defaults to stdin)")
	processCmd.Flags().BoolVar(&dryRun, "dry-run", false, "write to an in-memory store instead of the destination table")
	processCmd.Flags().BoolVar(&prometheusEnabled, "prometheus", false, "serve Prometheus metrics while processing")
	processCmd.Flags().StringVar(&prometheusAddr, "prometheus-addr", ":9100", "Prometheus metrics listen address")
}

func runProcess(cmd *cobra.Command, args []string) error {
	logger, err := newLogger(logLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var wg gosync.WaitGroup
	if prometheusEnabled {
		metrics.StartPrometheusServer(ctx, &wg, &metrics.PromServerOpts{Addr: prometheusAddr})
	}

	raw, err := readBatch(batchFile)
	if err != nil {
		return fmt.Errorf("read batch payload: %w", err)
	}

	sess, err := session.NewSession(&aws.Config{
		Region:   aws.String(cfg.AWS.Region),
		Endpoint: endpointOrNil(cfg.AWS.Endpoint),
	})
	if err != nil {
		return fmt.Errorf("initialize aws session: %w", err)
	}

	fetcher := rules.NewAppConfigFetcher(appconfig.New(sess),
		cfg.Policy.Application, cfg.Policy.Environment, cfg.Policy.Profile)
	provider := rules.NewProvider(fetcher, cfg.Policy.FetchTimeout, logger)

	var dest store.Store
	if dryRun {
		dest = store.NewMemory()
	} else {
		dest = store.NewDynamoDB(dynamodb.New(sess), store.DynamoDBOptions{
			Table:          cfg.Destination.Table,
			SoftDelete:     cfg.Destination.SoftDelete,
			MaxAttempts:    cfg.Destination.MaxAttempts,
			AttemptTimeout: cfg.Destination.AttemptTimeout,
		}, logger)
	}

	orchestrator := sync.NewOrchestrator(provider, transform.New(nil, logger), dest, sync.Options{
		Workers: cfg.Sync.Workers,
		Logger:  logger,
	})

	result, err := orchestrator.ProcessBatch(ctx, raw)
	if result == nil {
		return err
	}

	out, merr := json.Marshal(result.FailureReport())
	if merr != nil {
		return merr
	}
	fmt.Println(string(out))

	cancel()
	wg.Wait()
	return err
}

func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	zcfg := zap.NewProductionConfig()
	zcfg.Level = zap.NewAtomicLevelAt(lvl)
	return zcfg.Build()
}

func readBatch(path string) ([]byte, error) {
	if path == "" {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(path)
}

func endpointOrNil(endpoint string) *string {
	if endpoint == "" {
		return nil
	}
	return aws.String(endpoint)
}
