// Package metadatastore describes the metadata-store actions the
// runner and supervisor depend on: a transactional segment insert that
// compare-and-swaps the stored DataSource Metadata, a checkpoint
// action, and a reset action. The store itself — and any particular
// backing database — is treated as an external collaborator; this
// package only pins down the contract and supplies an in-memory fake
// for tests.
package metadatastore

import (
	"context"
	"sync"

	"github.com/ingestcore/streamtask/internal/appenderator"
	"github.com/ingestcore/streamtask/internal/dsmetadata"
)

// Actions is the set of metadata-store operations the runner and
// supervisor invoke. All are transactional: each either fully applies
// or leaves the store untouched.
type Actions interface {
	// SegmentTransactionalInsert implements the publish compare-and-swap:
	// it accepts iff the currently stored metadata for segments'
	// datasource equals expectedStart, and on acceptance atomically
	// commits segments plus targetEnd.
	SegmentTransactionalInsert(ctx context.Context, dataSource string, segments []appenderator.SegmentIdentifier, expectedStart, targetEnd *dsmetadata.Metadata) (bool, error)

	// CheckPointDataSourceMetadata records an intermediate checkpoint.
	// baseSequenceName disambiguates concurrent supervisors writing
	// checkpoints for the same task group.
	CheckPointDataSourceMetadata(ctx context.Context, dataSource string, taskGroupID int, baseSequenceName string, startMetadata, currentMetadata *dsmetadata.Metadata) (bool, error)

	// ResetDataSourceMetadata subtracts the given partition entries (via
	// Minus) from the stored metadata when non-nil; a nil metadata
	// deletes all stored metadata for the datasource.
	ResetDataSourceMetadata(ctx context.Context, dataSource string, metadata *dsmetadata.Metadata) (bool, error)

	// GetDataSourceMetadata returns the currently stored metadata for
	// dataSource, or nil if none has ever been published.
	GetDataSourceMetadata(ctx context.Context, dataSource string) (*dsmetadata.Metadata, error)
}

// InMemory is a single-process fake store for tests: a map from
// datasource name to its currently stored metadata, guarded by a
// mutex so concurrent publishes from replica tasks targeting the same
// start-metadata serialize rather than race.
type InMemory struct {
	mu       sync.Mutex
	metadata map[string]*dsmetadata.Metadata
	segments map[string][]appenderator.SegmentIdentifier
}

func NewInMemory() *InMemory {
	return &InMemory{
		metadata: make(map[string]*dsmetadata.Metadata),
		segments: make(map[string][]appenderator.SegmentIdentifier),
	}
}

func (s *InMemory) SegmentTransactionalInsert(ctx context.Context, dataSource string, segments []appenderator.SegmentIdentifier, expectedStart, targetEnd *dsmetadata.Metadata) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	current := s.metadata[dataSource]
	if current == nil {
		current = dsmetadata.New(expectedStart.Kind, expectedStart.StreamID)
	}
	if !current.Equal(expectedStart) {
		return false, nil
	}
	s.metadata[dataSource] = targetEnd
	s.segments[dataSource] = append(s.segments[dataSource], segments...)
	return true, nil
}

func (s *InMemory) CheckPointDataSourceMetadata(ctx context.Context, dataSource string, taskGroupID int, baseSequenceName string, startMetadata, currentMetadata *dsmetadata.Metadata) (bool, error) {
	// The in-memory fake accepts every well-formed checkpoint; real
	// stores additionally persist it for supervisor restart recovery.
	return true, nil
}

func (s *InMemory) ResetDataSourceMetadata(ctx context.Context, dataSource string, metadata *dsmetadata.Metadata) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if metadata == nil {
		delete(s.metadata, dataSource)
		return true, nil
	}
	current := s.metadata[dataSource]
	if current == nil {
		return true, nil
	}
	s.metadata[dataSource] = current.Minus(metadata)
	return true, nil
}

func (s *InMemory) GetDataSourceMetadata(ctx context.Context, dataSource string) (*dsmetadata.Metadata, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.metadata[dataSource], nil
}

// Segments returns the segments committed so far for dataSource, for
// test assertions.
func (s *InMemory) Segments(dataSource string) []appenderator.SegmentIdentifier {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]appenderator.SegmentIdentifier(nil), s.segments[dataSource]...)
}
