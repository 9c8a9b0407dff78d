// Package kafkasupplier implements the integer-offset record supplier
// flavor on top of a real Kafka consumer group: a single cooperative
// session driven synchronously, with no internal buffering beyond the
// driver's own batch.
package kafkasupplier

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/confluentinc/confluent-kafka-go/kafka"
	"github.com/rs/zerolog/log"

	"github.com/ingestcore/streamtask/internal/ingesterrors"
	"github.com/ingestcore/streamtask/internal/recordsupplier"
	"github.com/ingestcore/streamtask/internal/seqnum"
	"github.com/ingestcore/streamtask/internal/streamid"
)

// Supplier wraps a *kafka.Consumer to satisfy recordsupplier.Supplier.
// Poll is a direct, synchronous pass-through to the underlying
// driver's Poll: it returns as soon as the driver yields one message,
// or when the caller's timeout elapses — the driver already does the
// internal batching the opaque-sequence flavor has to do by hand.
type Supplier struct {
	consumer   *kafka.Consumer
	streamID   string
	assignment streamid.Set
}

func New(streamID string, conf *kafka.ConfigMap) (*Supplier, error) {
	c, err := kafka.NewConsumer(conf)
	if err != nil {
		return nil, ingesterrors.Wrap("create kafka consumer", err)
	}
	return &Supplier{consumer: c, streamID: streamID, assignment: streamid.NewSet()}, nil
}

func partitionIDToInt32(p streamid.PartitionID) (int32, error) {
	n, err := strconv.ParseInt(string(p), 10, 32)
	if err != nil {
		return 0, fmt.Errorf("kafka partition id %q is not an integer: %w", p, err)
	}
	return int32(n), nil
}

func (s *Supplier) topicPartitionFor(p streamid.StreamPartition) (kafka.TopicPartition, error) {
	parID, err := partitionIDToInt32(p.PartitionID)
	if err != nil {
		return kafka.TopicPartition{}, err
	}
	topic := p.StreamID
	return kafka.TopicPartition{Topic: &topic, Partition: parID}, nil
}

func (s *Supplier) Assign(ctx context.Context, partitions streamid.Set) error {
	tps := make([]kafka.TopicPartition, 0, len(partitions))
	for p := range partitions {
		tp, err := s.topicPartitionFor(p)
		if err != nil {
			return err
		}
		tps = append(tps, tp)
	}
	if err := s.consumer.Assign(tps); err != nil {
		return ingesterrors.Wrap("kafka assign", err)
	}
	s.assignment = partitions.Clone()
	return nil
}

func (s *Supplier) Seek(ctx context.Context, partition streamid.StreamPartition, seq seqnum.SequenceNumber) error {
	tp, err := s.topicPartitionFor(partition)
	if err != nil {
		return err
	}
	off, err := offsetFor(seq)
	if err != nil {
		return err
	}
	tp.Offset = off
	if err := s.consumer.Seek(tp, 5000); err != nil {
		return ingesterrors.Wrap("kafka seek", err)
	}
	return nil
}

func offsetFor(seq seqnum.SequenceNumber) (kafka.Offset, error) {
	if seq.String() == seqnum.EndOfShard {
		return kafka.OffsetEnd, nil
	}
	if seq.String() == seqnum.NoEnd {
		return kafka.OffsetEnd, nil
	}
	is, ok := seq.(seqnum.Int64Sequence)
	if !ok {
		return 0, fmt.Errorf("kafkasupplier: expected Int64Sequence, got %T", seq)
	}
	return kafka.Offset(is.Value()), nil
}

func (s *Supplier) SeekToEarliest(ctx context.Context, partitions streamid.Set) error {
	for p := range partitions {
		if err := s.Seek(ctx, p, seqnum.NewInt64Sequence(int64(kafka.OffsetBeginning))); err != nil {
			return err
		}
	}
	return nil
}

func (s *Supplier) SeekToLatest(ctx context.Context, partitions streamid.Set) error {
	for p := range partitions {
		tp, err := s.topicPartitionFor(p)
		if err != nil {
			return err
		}
		_, high, err := s.consumer.QueryWatermarkOffsets(*tp.Topic, tp.Partition, 5000)
		if err != nil {
			return ingesterrors.Wrap("kafka query watermark", err)
		}
		if err := s.Seek(ctx, p, seqnum.NewInt64Sequence(high)); err != nil {
			return err
		}
	}
	return nil
}

func (s *Supplier) GetEarliest(ctx context.Context, partition streamid.StreamPartition) (seqnum.SequenceNumber, error) {
	tp, err := s.topicPartitionFor(partition)
	if err != nil {
		return nil, err
	}
	low, high, err := s.consumer.QueryWatermarkOffsets(*tp.Topic, tp.Partition, 5000)
	if err != nil {
		return nil, ingesterrors.Wrap("kafka query watermark", err)
	}
	if low == high {
		return seqnum.Int64EndOfShard(), nil
	}
	return seqnum.NewInt64Sequence(low), nil
}

func (s *Supplier) GetLatest(ctx context.Context, partition streamid.StreamPartition) (seqnum.SequenceNumber, error) {
	tp, err := s.topicPartitionFor(partition)
	if err != nil {
		return nil, err
	}
	low, high, err := s.consumer.QueryWatermarkOffsets(*tp.Topic, tp.Partition, 5000)
	if err != nil {
		return nil, ingesterrors.Wrap("kafka query watermark", err)
	}
	if low == high {
		return seqnum.Int64EndOfShard(), nil
	}
	return seqnum.NewInt64Sequence(high), nil
}

// Poll returns at most one record per call: it calls the driver's Poll,
// skipping non-message events, until the first message arrives, the
// deadline passes, the driver returns no event, or the driver reports
// an error. Integer-offset streams never buffer beyond what the driver
// itself holds, so there is no side buffer.
func (s *Supplier) Poll(ctx context.Context, timeout time.Duration) ([]recordsupplier.Record, error) {
	deadline := time.Now().Add(timeout)
	var out []recordsupplier.Record
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			break
		}
		ev := s.consumer.Poll(int(remaining.Milliseconds()))
		if ev == nil {
			break
		}
		switch e := ev.(type) {
		case *kafka.Message:
			p := streamid.New(*e.TopicPartition.Topic, streamid.PartitionID(strconv.FormatInt(int64(e.TopicPartition.Partition), 10)))
			out = append(out, recordsupplier.Record{
				StreamPartition: p,
				SequenceNumber:  seqnum.NewInt64Sequence(int64(e.TopicPartition.Offset)),
				Data:            [][]byte{e.Value},
			})
		case kafka.Error:
			log.Warn().Err(e).Msg("kafka supplier poll error; absorbed, influences next schedule only")
			return out, nil
		default:
			// rebalance / stats / other events are ignored here; the
			// consumer group protocol owns partition assignment
			// transitions and the runner drives Assign explicitly.
		}
		if len(out) > 0 {
			// return what we have rather than block for the full
			// remaining timeout once the driver has yielded something
			break
		}
	}
	return out, nil
}

func (s *Supplier) GetPartitionIDs(ctx context.Context, streamID string) ([]streamid.PartitionID, error) {
	md, err := s.consumer.GetMetadata(&streamID, false, 5000)
	if err != nil {
		return nil, ingesterrors.Wrap("kafka get metadata", err)
	}
	topicMeta, ok := md.Topics[streamID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ingesterrors.ErrUnknownStream, streamID)
	}
	ids := make([]streamid.PartitionID, 0, len(topicMeta.Partitions))
	for _, pm := range topicMeta.Partitions {
		ids = append(ids, streamid.PartitionID(strconv.FormatInt(int64(pm.ID), 10)))
	}
	return ids, nil
}

func (s *Supplier) GetAssignment() streamid.Set {
	return s.assignment.Clone()
}

func (s *Supplier) Close() error {
	if s.consumer == nil {
		return nil
	}
	err := s.consumer.Close()
	s.consumer = nil
	if err != nil {
		return ingesterrors.Wrap("kafka consumer close", err)
	}
	return nil
}
