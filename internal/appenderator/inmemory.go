package appenderator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ingestcore/streamtask/internal/dsmetadata"
)

// InMemory is a fake Appenderator for tests and for the cmd entrypoints
// when no real segment-storage driver is wired in: it counts rows per
// sequence instead of buffering and rolling real segments, grounded on
// metadatastore.InMemory's same in-process-fake convention.
type InMemory struct {
	mu         sync.Mutex
	dataSource string

	rowsPerSequence map[string]int64
	total           int64
	meters          RowStats
	segCounter      int

	// PushEvery makes IsPushRequired true once a sequence's row count
	// is a multiple of PushEvery; zero disables automatic pushes.
	PushEvery int64
}

func NewInMemory(dataSource string) *InMemory {
	return &InMemory{
		dataSource:      dataSource,
		rowsPerSequence: make(map[string]int64),
		PushEvery:       1000,
	}
}

func (a *InMemory) StartJob(ctx context.Context) error { return nil }

func (a *InMemory) RestoredCommitMetadata(ctx context.Context) (*dsmetadata.Metadata, bool, error) {
	return nil, false, nil
}

func (a *InMemory) Add(ctx context.Context, sequenceName string, row []byte, skipSegmentLineageCheck bool) (AddResult, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if len(row) == 0 {
		a.meters.Unparseable++
		return AddResult{}, fmt.Errorf("appenderator: empty row")
	}

	a.rowsPerSequence[sequenceName]++
	a.total++
	a.meters.Processed++

	pushRequired := a.PushEvery > 0 && a.rowsPerSequence[sequenceName]%a.PushEvery == 0
	return AddResult{
		NumRowsInSegment: a.rowsPerSequence[sequenceName],
		TotalNumRows:     a.total,
		IsPushRequired:   pushRequired,
	}, nil
}

func (a *InMemory) Push(ctx context.Context, sequenceNames []string, useTransaction bool) (*PushResult, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	segments := make([]SegmentIdentifier, 0, len(sequenceNames))
	for _, name := range sequenceNames {
		a.segCounter++
		segments = append(segments, SegmentIdentifier{
			DataSource: a.dataSource,
			Interval:   "ALL",
			Version:    fmt.Sprintf("v%d", a.segCounter),
			ShardSpec:  name,
		})
	}
	return &PushResult{Segments: segments}, nil
}

// RegisterHandoffWatcher signals success immediately: this fake has no
// historical-node handoff to wait for.
func (a *InMemory) RegisterHandoffWatcher(ctx context.Context, segments []SegmentIdentifier, timeout time.Duration) <-chan error {
	ch := make(chan error, 1)
	ch <- nil
	return ch
}

func (a *InMemory) RowIngestionMeters() RowStats {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.meters
}

func (a *InMemory) Close(ctx context.Context) error { return nil }
func (a *InMemory) CloseNow() error                 { return nil }
