// Command supervisord runs one Supervisor loop for a datasource,
// discovering partitions through a Record Supplier and driving tasks
// through an HTTP TaskClient and a pluggable TaskOrchestrator.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/confluentinc/confluent-kafka-go/kafka"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/ingestcore/streamtask/internal/dsmetadata"
	"github.com/ingestcore/streamtask/internal/kafkasupplier"
	"github.com/ingestcore/streamtask/internal/kinesissupplier"
	"github.com/ingestcore/streamtask/internal/metadatastore"
	"github.com/ingestcore/streamtask/internal/recordsupplier"
	"github.com/ingestcore/streamtask/internal/supervisor"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/kinesis"
)

var (
	FLAGS_data_source  string
	FLAGS_stream_id    string
	FLAGS_flavor       string
	FLAGS_bootstrap    string
	FLAGS_aws_region   string
	FLAGS_replicas     int
	FLAGS_task_count   int
	FLAGS_task_locator string
)

func init() {
	flag.StringVar(&FLAGS_data_source, "data-source", "", "datasource name")
	flag.StringVar(&FLAGS_stream_id, "stream-id", "", "stream id (topic or stream name)")
	flag.StringVar(&FLAGS_flavor, "flavor", "kafka", "stream flavor: kafka or kinesis")
	flag.StringVar(&FLAGS_bootstrap, "bootstrap-servers", "", "kafka bootstrap servers")
	flag.StringVar(&FLAGS_aws_region, "aws-region", "us-east-1", "aws region for kinesis")
	flag.IntVar(&FLAGS_replicas, "replicas", 1, "replica task count per group")
	flag.IntVar(&FLAGS_task_count, "task-count", 1, "number of task groups")
	flag.StringVar(&FLAGS_task_locator, "task-addr-template", "http://%s.tasks.local:8090", "fmt template mapping a task id to its HTTP base URL")

	logLevel := os.Getenv("LOG_LEVEL")
	if level, err := zerolog.ParseLevel(logLevel); err == nil {
		zerolog.SetGlobalLevel(level)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
}

func buildSupplier(streamID string) recordsupplier.Supplier {
	switch FLAGS_flavor {
	case "kinesis":
		sess := session.Must(session.NewSession(&aws.Config{Region: aws.String(FLAGS_aws_region)}))
		client := kinesis.New(sess)
		return kinesissupplier.New(streamID, client, kinesissupplier.DefaultConfig())
	default:
		s, err := kafkasupplier.New(streamID, &kafka.ConfigMap{
			"bootstrap.servers": FLAGS_bootstrap,
			"group.id":          FLAGS_data_source + "_supervisor",
			"auto.offset.reset": "earliest",
		})
		if err != nil {
			log.Fatal().Err(err).Msg("failed to build kafka supplier")
		}
		return s
	}
}

func main() {
	flag.Parse()
	if FLAGS_data_source == "" || FLAGS_stream_id == "" {
		log.Fatal().Msg("data-source and stream-id are required")
	}

	kind := dsmetadata.KindOpaqueSequence
	if FLAGS_flavor == "kafka" {
		kind = dsmetadata.KindInt64Offset
	}

	cfg := supervisor.DefaultConfig().
		WithReplicas(FLAGS_replicas).
		WithTaskCount(FLAGS_task_count)

	client := supervisor.NewHTTPTaskClient(func(taskID string) (string, error) {
		return fmt.Sprintf(FLAGS_task_locator, taskID), nil
	}, cfg.HTTPTimeout)

	orch := supervisor.NewInMemoryOrchestrator()

	sup := supervisor.New(cfg, FLAGS_data_source, FLAGS_stream_id, kind,
		buildSupplier(FLAGS_stream_id), metadatastore.NewInMemory(), client, orch)

	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		<-sigCh
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout+5*time.Second)
		sup.Shutdown(shutdownCtx)
		shutdownCancel()
		cancel()
	}()

	log.Info().Str("data_source", FLAGS_data_source).Msg("supervisor starting")
	sup.Run(ctx)
	log.Info().Str("data_source", FLAGS_data_source).Msg("supervisor stopped")
}
