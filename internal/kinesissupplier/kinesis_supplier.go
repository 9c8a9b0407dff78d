// Package kinesissupplier implements the opaque-sequence record
// supplier flavor: a bounded MPMC record buffer fed by per-partition
// fetchers on a fixed-size worker pool, each cycling through fetch →
// offer → advance-iterator → reschedule.
package kinesissupplier

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/kinesis"
	"github.com/aws/aws-sdk-go/service/kinesis/kinesisiface"
	"github.com/rs/zerolog/log"
	"github.com/zhangyunhao116/skipset"

	"github.com/ingestcore/streamtask/internal/ingesterrors"
	"github.com/ingestcore/streamtask/internal/recordsupplier"
	"github.com/ingestcore/streamtask/internal/seqnum"
	"github.com/ingestcore/streamtask/internal/streamid"
)

// partitionResource holds the per-partition fetcher state. A partition
// can be scheduled again while its tick is still running (Seek,
// SeekToEarliest and Assign schedule it immediately), so mu is what
// keeps two fetcher ticks from touching the same resource at once.
type partitionResource struct {
	mu       sync.Mutex
	iterator *string // nil means the shard is closed
	started  bool
}

type Supplier struct {
	client   kinesisiface.KinesisAPI
	streamID string
	cfg      Config

	buf       *buffer
	sched     *scheduler
	resources map[streamid.StreamPartition]*partitionResource
	resMu     sync.Mutex

	assigned *skipset.StringSet

	wg     sync.WaitGroup
	cancel context.CancelFunc
	closed bool
	mu     sync.Mutex
}

func New(streamID string, client kinesisiface.KinesisAPI, cfg Config) *Supplier {
	return &Supplier{
		client:    client,
		streamID:  streamID,
		cfg:       cfg,
		buf:       newBuffer(cfg.RecordBufferSize),
		resources: make(map[streamid.StreamPartition]*partitionResource),
		assigned:  skipset.NewString(),
	}
}

func (s *Supplier) resourceFor(p streamid.StreamPartition) *partitionResource {
	s.resMu.Lock()
	defer s.resMu.Unlock()
	r, ok := s.resources[p]
	if !ok {
		r = &partitionResource{}
		s.resources[p] = r
	}
	return r
}

func (s *Supplier) startPool() {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.sched = newScheduler()
	threads := s.cfg.FetchThreads
	if threads < 1 {
		threads = 1
	}
	for i := 0; i < threads; i++ {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.sched.Run(func(p streamid.StreamPartition) {
				s.tick(ctx, p)
			})
		}()
	}
}

func (s *Supplier) stopPool() {
	if s.cancel != nil {
		s.cancel()
	}
	if s.sched != nil {
		s.sched.Stop()
	}
	s.wg.Wait()
}

func (s *Supplier) Assign(ctx context.Context, partitions streamid.Set) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sched != nil {
		s.stopPool()
	}
	s.assigned = skipset.NewString()
	s.resMu.Lock()
	s.resources = make(map[streamid.StreamPartition]*partitionResource)
	s.resMu.Unlock()
	for p := range partitions {
		s.assigned.Add(string(p.PartitionID))
	}
	s.startPool()
	for p := range partitions {
		s.sched.ScheduleNow(p)
	}
	return nil
}

func (s *Supplier) Seek(ctx context.Context, partition streamid.StreamPartition, seq seqnum.SequenceNumber) error {
	r := s.resourceFor(partition)
	r.mu.Lock()
	defer r.mu.Unlock()
	it, err := s.iteratorAt(ctx, partition, seq)
	if err != nil {
		return err
	}
	r.iterator = it
	r.started = true
	s.buf.DropMatching(func(rec recordsupplier.Record) bool { return rec.StreamPartition == partition })
	s.sched.ScheduleNow(partition)
	return nil
}

func (s *Supplier) iteratorAt(ctx context.Context, p streamid.StreamPartition, seq seqnum.SequenceNumber) (*string, error) {
	if seq.String() == seqnum.EndOfShard {
		return nil, nil
	}
	in := &kinesis.GetShardIteratorInput{
		StreamName: aws.String(p.StreamID),
		ShardId:    aws.String(string(p.PartitionID)),
	}
	if seq.String() == seqnum.NoEnd {
		in.ShardIteratorType = aws.String(kinesis.ShardIteratorTypeLatest)
	} else {
		in.ShardIteratorType = aws.String(kinesis.ShardIteratorTypeAtSequenceNumber)
		in.StartingSequenceNumber = aws.String(seq.String())
	}
	out, err := s.client.GetShardIteratorWithContext(ctx, in)
	if err != nil {
		return nil, ingesterrors.Wrap("kinesis get shard iterator", err)
	}
	return out.ShardIterator, nil
}

func (s *Supplier) SeekToEarliest(ctx context.Context, partitions streamid.Set) error {
	for p := range partitions {
		in := &kinesis.GetShardIteratorInput{
			StreamName:        aws.String(p.StreamID),
			ShardId:           aws.String(string(p.PartitionID)),
			ShardIteratorType: aws.String(kinesis.ShardIteratorTypeTrimHorizon),
		}
		out, err := s.client.GetShardIteratorWithContext(ctx, in)
		if err != nil {
			return ingesterrors.Wrap("kinesis get shard iterator", err)
		}
		r := s.resourceFor(p)
		r.mu.Lock()
		r.iterator = out.ShardIterator
		r.started = true
		r.mu.Unlock()
		s.buf.DropMatching(func(rec recordsupplier.Record) bool { return rec.StreamPartition == p })
		s.sched.ScheduleNow(p)
	}
	return nil
}

func (s *Supplier) SeekToLatest(ctx context.Context, partitions streamid.Set) error {
	for p := range partitions {
		if err := s.Seek(ctx, p, seqnum.StringNoEnd()); err != nil {
			return err
		}
	}
	return nil
}

func (s *Supplier) GetEarliest(ctx context.Context, partition streamid.StreamPartition) (seqnum.SequenceNumber, error) {
	out, err := s.client.GetShardIteratorWithContext(ctx, &kinesis.GetShardIteratorInput{
		StreamName:        aws.String(partition.StreamID),
		ShardId:           aws.String(string(partition.PartitionID)),
		ShardIteratorType: aws.String(kinesis.ShardIteratorTypeTrimHorizon),
	})
	if err != nil {
		return nil, ingesterrors.Wrap("kinesis get shard iterator", err)
	}
	recs, err := s.client.GetRecordsWithContext(ctx, &kinesis.GetRecordsInput{ShardIterator: out.ShardIterator, Limit: aws.Int64(1)})
	if err != nil {
		return nil, ingesterrors.Wrap("kinesis get records", err)
	}
	if len(recs.Records) == 0 {
		if recs.NextShardIterator == nil {
			return seqnum.StringEndOfShard(), nil
		}
		return nil, fmt.Errorf("%w: no record within fetch window", ingesterrors.ErrStreamEmpty)
	}
	return seqnum.NewStringSequence(*recs.Records[0].SequenceNumber), nil
}

func (s *Supplier) GetLatest(ctx context.Context, partition streamid.StreamPartition) (seqnum.SequenceNumber, error) {
	desc, err := s.client.DescribeStreamSummaryWithContext(ctx, &kinesis.DescribeStreamSummaryInput{
		StreamName: aws.String(partition.StreamID),
	})
	if err != nil {
		return nil, ingesterrors.Wrap("kinesis describe stream summary", err)
	}
	_ = desc
	out, err := s.client.GetShardIteratorWithContext(ctx, &kinesis.GetShardIteratorInput{
		StreamName:        aws.String(partition.StreamID),
		ShardId:           aws.String(string(partition.PartitionID)),
		ShardIteratorType: aws.String(kinesis.ShardIteratorTypeLatest),
	})
	if err != nil {
		return nil, ingesterrors.Wrap("kinesis get shard iterator", err)
	}
	recs, err := s.client.GetRecordsWithContext(ctx, &kinesis.GetRecordsInput{ShardIterator: out.ShardIterator, Limit: aws.Int64(1)})
	if err != nil {
		return nil, ingesterrors.Wrap("kinesis get records", err)
	}
	if len(recs.Records) == 0 {
		if recs.NextShardIterator == nil {
			return seqnum.StringEndOfShard(), nil
		}
		return nil, fmt.Errorf("%w: no record within fetch window", ingesterrors.ErrStreamEmpty)
	}
	return seqnum.NewStringSequence(*recs.Records[len(recs.Records)-1].SequenceNumber), nil
}

// tick runs one fetcher cycle for partition p: fetch, offer, advance
// the iterator, then reschedule.
func (s *Supplier) tick(ctx context.Context, p streamid.StreamPartition) {
	r := s.resourceFor(p)
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.iterator == nil {
		s.buf.Offer(recordsupplier.Record{StreamPartition: p, SequenceNumber: seqnum.StringEndOfShard()}, s.cfg.RecordBufferOfferTimeout)
		return
	}

	out, err := s.client.GetRecordsWithContext(ctx, &kinesis.GetRecordsInput{
		ShardIterator: r.iterator,
		Limit:         aws.Int64(s.cfg.RecordsPerFetch),
	})
	if err != nil {
		if isThroughputExceeded(err) {
			backoff := s.cfg.ThroughputBackoff
			if s.cfg.FetchDelay > backoff {
				backoff = s.cfg.FetchDelay
			}
			log.Warn().Err(err).Str("partition", string(p.PartitionID)).Msg("kinesis throughput exceeded, backing off")
			s.sched.Schedule(p, backoff)
			return
		}
		log.Warn().Err(err).Str("partition", string(p.PartitionID)).Msg("kinesis fetch error, absorbed into backoff")
		s.sched.Schedule(p, s.cfg.ExceptionRetryDelay)
		return
	}

	for i, rec := range out.Records {
		parsed := recordsupplier.Record{
			StreamPartition: p,
			SequenceNumber:  seqnum.NewStringSequence(*rec.SequenceNumber),
			Data:            [][]byte{rec.Data},
		}
		if !s.buf.Offer(parsed, s.cfg.RecordBufferOfferTimeout) {
			// Buffer full: rewind to the unoffered record's sequence so
			// the next tick re-fetches starting here, and back off.
			rewound, ierr := s.iteratorAt(ctx, p, seqnum.NewStringSequence(*rec.SequenceNumber))
			if ierr == nil {
				r.iterator = rewound
			}
			_ = i
			s.sched.Schedule(p, s.cfg.RecordBufferFullWait)
			return
		}
	}

	r.iterator = out.NextShardIterator
	s.sched.Schedule(p, s.cfg.FetchDelay)
}

func isThroughputExceeded(err error) bool {
	if ae, ok := err.(awsAPIError); ok {
		return ae.Code() == kinesis.ErrCodeProvisionedThroughputExceededException
	}
	return false
}

// awsAPIError is satisfied by awserr.Error; declared locally to avoid
// importing the awserr package just for this one narrow check.
type awsAPIError interface {
	Code() string
}

// Poll drains up to min(max(buffer_size,1), max_records_per_poll)
// within the caller's timeout, filtering out records for partitions no
// longer assigned.
func (s *Supplier) Poll(ctx context.Context, timeout time.Duration) ([]recordsupplier.Record, error) {
	n := s.cfg.RecordBufferSize
	if n < 1 {
		n = 1
	}
	if s.cfg.MaxRecordsPerPoll > 0 && s.cfg.MaxRecordsPerPoll < n {
		n = s.cfg.MaxRecordsPerPoll
	}
	drained := s.buf.Drain(n, timeout)
	out := make([]recordsupplier.Record, 0, len(drained))
	for _, rec := range drained {
		if !s.assigned.Contains(string(rec.StreamPartition.PartitionID)) {
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

func (s *Supplier) GetPartitionIDs(ctx context.Context, streamID string) ([]streamid.PartitionID, error) {
	out, err := s.client.ListShardsWithContext(ctx, &kinesis.ListShardsInput{StreamName: aws.String(streamID)})
	if err != nil {
		return nil, ingesterrors.Wrap("kinesis list shards", err)
	}
	if len(out.Shards) == 0 {
		return nil, fmt.Errorf("%w: %s", ingesterrors.ErrUnknownStream, streamID)
	}
	ids := make([]streamid.PartitionID, 0, len(out.Shards))
	for _, sh := range out.Shards {
		ids = append(ids, streamid.PartitionID(*sh.ShardId))
	}
	return ids, nil
}

func (s *Supplier) GetAssignment() streamid.Set {
	out := streamid.NewSet()
	s.assigned.Range(func(v string) bool {
		out.Add(streamid.New(s.streamID, streamid.PartitionID(v)))
		return true
	})
	return out
}

// Close is idempotent and joins worker shutdown within a bounded
// deadline; if not achieved in time the pool is abandoned rather than
// blocking the caller forever (the fetchers hold no external resources
// that outlive the process).
func (s *Supplier) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.buf.Close()
	done := make(chan struct{})
	go func() {
		s.stopPool()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		log.Warn().Msg("kinesis supplier worker pool did not shut down within deadline")
	}
	return nil
}
