// Command indextaskd runs a single task runner, driven by the
// flags and environment variables a task orchestrator would set when
// launching one task process.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/confluentinc/confluent-kafka-go/kafka"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/ingestcore/streamtask/internal/appenderator"
	"github.com/ingestcore/streamtask/internal/discovery"
	"github.com/ingestcore/streamtask/internal/dsmetadata"
	"github.com/ingestcore/streamtask/internal/kafkasupplier"
	"github.com/ingestcore/streamtask/internal/kinesissupplier"
	"github.com/ingestcore/streamtask/internal/metadatastore"
	"github.com/ingestcore/streamtask/internal/recordsupplier"
	"github.com/ingestcore/streamtask/internal/runner"
	"github.com/ingestcore/streamtask/internal/runnerhttp"
	"github.com/ingestcore/streamtask/internal/streamid"
	"github.com/ingestcore/streamtask/pkg/env_config"
	"github.com/ingestcore/streamtask/pkg/snapshot_store"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/kinesis"
)

var (
	FLAGS_task_id       string
	FLAGS_data_source   string
	FLAGS_stream_id     string
	FLAGS_group_id      int
	FLAGS_base_seq_name string
	FLAGS_flavor        string
	FLAGS_bootstrap     string
	FLAGS_kafka_group   string
	FLAGS_aws_region    string
	FLAGS_start_offsets string
	FLAGS_end_offsets   string
	FLAGS_persist_dir   string
	FLAGS_listen_addr   string
)

func init() {
	flag.StringVar(&FLAGS_task_id, "task-id", "", "task id")
	flag.StringVar(&FLAGS_data_source, "data-source", "", "datasource name")
	flag.StringVar(&FLAGS_stream_id, "stream-id", "", "stream id (topic or stream name)")
	flag.IntVar(&FLAGS_group_id, "group-id", 0, "task group id")
	flag.StringVar(&FLAGS_base_seq_name, "base-sequence-name", "", "base sequence name")
	flag.StringVar(&FLAGS_flavor, "flavor", "kafka", "stream flavor: kafka or kinesis")
	flag.StringVar(&FLAGS_bootstrap, "bootstrap-servers", "", "kafka bootstrap servers")
	flag.StringVar(&FLAGS_kafka_group, "kafka-consumer-group", "", "kafka consumer group id")
	flag.StringVar(&FLAGS_aws_region, "aws-region", "us-east-1", "aws region for kinesis")
	flag.StringVar(&FLAGS_start_offsets, "start-offsets", "{}", "json map of partition -> start offset")
	flag.StringVar(&FLAGS_end_offsets, "end-offsets", "{}", "json map of partition -> end offset")
	flag.StringVar(&FLAGS_persist_dir, "persist-dir", ".", "local directory for sequences.json")
	flag.StringVar(&FLAGS_listen_addr, "listen-addr", ":8090", "HTTP listen address")

	logLevel := os.Getenv("LOG_LEVEL")
	if level, err := zerolog.ParseLevel(logLevel); err == nil {
		zerolog.SetGlobalLevel(level)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
}

func parseOffsets(raw string) map[streamid.PartitionID]string {
	out := make(map[streamid.PartitionID]string)
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		log.Fatal().Err(err).Str("raw", raw).Msg("failed to parse offsets flag")
	}
	return out
}

func buildSupplier(kind dsmetadata.Kind) recordsupplier.Supplier {
	switch FLAGS_flavor {
	case "kinesis":
		sess := session.Must(session.NewSession(&aws.Config{Region: aws.String(FLAGS_aws_region)}))
		client := kinesis.New(sess)
		cfg := kinesissupplier.DefaultConfig()
		return kinesissupplier.New(FLAGS_stream_id, client, cfg)
	default:
		s, err := kafkasupplier.New(FLAGS_stream_id, &kafka.ConfigMap{
			"bootstrap.servers": FLAGS_bootstrap,
			"group.id":          FLAGS_kafka_group,
			"auto.offset.reset": "earliest",
		})
		if err != nil {
			log.Fatal().Err(err).Msg("failed to build kafka supplier")
		}
		return s
	}
}

func buildSequenceStore() runner.SequenceStore {
	if !env_config.USE_REMOTE_SEQUENCE_STORE {
		return nil
	}
	switch env_config.REMOTE_SEQUENCE_STORE_BACKEND {
	case "minio":
		store, err := snapshot_store.NewMinioSequenceStore()
		if err != nil {
			log.Fatal().Err(err).Msg("failed to build minio sequence store")
		}
		return store
	default:
		return snapshot_store.NewRedisSequenceStore()
	}
}

func main() {
	flag.Parse()
	if FLAGS_task_id == "" || FLAGS_data_source == "" || FLAGS_stream_id == "" {
		log.Fatal().Msg("task-id, data-source, and stream-id are required")
	}

	kind := dsmetadata.KindOpaqueSequence
	if FLAGS_flavor == "kafka" {
		kind = dsmetadata.KindInt64Offset
	}

	cfg := runner.NewConfig(FLAGS_task_id, FLAGS_data_source, FLAGS_stream_id, FLAGS_group_id, FLAGS_base_seq_name).
		WithSkipSegmentLineageCheck(kind == dsmetadata.KindInt64Offset).
		WithPersistDir(FLAGS_persist_dir)

	deps := runner.Deps{
		Supplier:      buildSupplier(kind),
		Appenderator:  appenderator.NewInMemory(FLAGS_data_source),
		Actions:       metadatastore.NewInMemory(),
		Discovery:     discovery.NewRegistry(),
		SequenceStore: buildSequenceStore(),
	}

	bounds := runner.Bounds{
		Start: parseOffsets(FLAGS_start_offsets),
		End:   parseOffsets(FLAGS_end_offsets),
	}

	r := runner.New(cfg, deps, kind, bounds, streamid.NewSet())

	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		<-sigCh
		r.Stop()
	}()

	srv := runnerhttp.New(r)
	httpServer := &http.Server{Addr: FLAGS_listen_addr, Handler: srv}
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("runnerhttp server stopped")
		}
	}()

	report := r.Run(ctx)
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	_ = httpServer.Shutdown(shutdownCtx)
	shutdownCancel()

	log.Info().Str("status", report.Status).Str("task_id", report.TaskID).Msg("task finished")
	if report.Status == "FAILURE" {
		os.Exit(1)
	}
}
