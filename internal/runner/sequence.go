package runner

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/ingestcore/streamtask/internal/dsmetadata"
	"github.com/ingestcore/streamtask/internal/seqnum"
	"github.com/ingestcore/streamtask/internal/streamid"
)

// SequenceStore optionally persists a task's sequence list somewhere
// other than the local sequences.json file — a remote key-value store
// or object store, via pkg/snapshot_store — so a restarted task can
// recover its sequence chain on a different host. A nil store in Deps
// falls back to the local file.
type SequenceStore interface {
	StoreSequences(ctx context.Context, taskID string, data []byte) error
	LoadSequences(ctx context.Context, taskID string) ([]byte, error)
}

// Metadata is the runner-internal sequence metadata: a named,
// checkpointable window of a task's assigned partitions. Start
// is immutable once created; End mutates under the runner's pause
// lock as checkpoints and finishes arrive; Assignments lists the
// partitions the sequence was created with and is cleared when
// publishing begins.
type Metadata struct {
	SequenceID   int                             `json:"sequenceId"`
	SequenceName string                          `json:"sequenceName"`
	Start        map[streamid.PartitionID]string `json:"start"`
	End          map[streamid.PartitionID]string `json:"end"`
	Assignments  []streamid.PartitionID          `json:"assignments"`
	Checkpointed bool                            `json:"checkpointed"`

	kind dsmetadata.Kind
	// pendingCheckpoint marks this sequence as the "sequence to
	// checkpoint": a segment boundary was crossed or the checkpoint
	// wall-clock elapsed while this sequence was the latest open one.
	// Transient; never persisted.
	pendingCheckpoint bool
}

func newSequenceMetadata(id int, name string, kind dsmetadata.Kind, start, end map[streamid.PartitionID]seqnum.SequenceNumber) *Metadata {
	m := &Metadata{
		SequenceID:   id,
		SequenceName: name,
		Start:        make(map[streamid.PartitionID]string, len(start)),
		End:          make(map[streamid.PartitionID]string, len(end)),
		Assignments:  make([]streamid.PartitionID, 0, len(start)),
		kind:         kind,
	}
	for p, s := range start {
		m.Start[p] = s.String()
		m.Assignments = append(m.Assignments, p)
	}
	for p, s := range end {
		m.End[p] = s.String()
	}
	return m
}

// newSequenceMetadataStrings builds a Metadata directly from wire-form
// offset strings, for the runner's internal rotation path where
// offsets are already carried as strings between poll iterations and
// re-parsing them back into seqnum.SequenceNumber just to re-stringify
// would be wasted work.
func newSequenceMetadataStrings(id int, name string, kind dsmetadata.Kind, start, end map[streamid.PartitionID]string) *Metadata {
	m := &Metadata{
		SequenceID:   id,
		SequenceName: name,
		Start:        make(map[streamid.PartitionID]string, len(start)),
		End:          make(map[streamid.PartitionID]string, len(end)),
		Assignments:  make([]streamid.PartitionID, 0, len(start)),
		kind:         kind,
	}
	for p, v := range start {
		m.Start[p] = v
		m.Assignments = append(m.Assignments, p)
	}
	for p, v := range end {
		m.End[p] = v
	}
	return m
}

func (m *Metadata) startMetadata(streamID string) *dsmetadata.Metadata {
	md := dsmetadata.New(m.kind, streamID)
	for p, v := range m.Start {
		md.Partitions[p] = v
	}
	return md
}

func (m *Metadata) endMetadata(streamID string) *dsmetadata.Metadata {
	md := dsmetadata.New(m.kind, streamID)
	for p, v := range m.End {
		md.Partitions[p] = v
	}
	return md
}

func (m *Metadata) hasAssignment(p streamid.PartitionID) bool {
	for _, a := range m.Assignments {
		if a == p {
			return true
		}
	}
	return false
}

func (m *Metadata) removeAssignment(p streamid.PartitionID) {
	out := m.Assignments[:0]
	for _, a := range m.Assignments {
		if a != p {
			out = append(out, a)
		}
	}
	m.Assignments = out
}

// isOpen reports whether the sequence can still accept new records,
// which is exactly when it has not been checkpointed.
func (m *Metadata) isOpen() bool {
	return !m.Checkpointed
}

// canHandle reports whether this sequence is the one that should
// receive the given record: it must be open, and the record's
// sequence number must fall within [start[p], end[p]) for partition p
// (an unset/NO_END end admits anything >= start).
func (m *Metadata) canHandle(p streamid.PartitionID, seq seqnum.SequenceNumber) bool {
	if !m.isOpen() {
		return false
	}
	startStr, ok := m.Start[p]
	if !ok {
		return false
	}
	start := dsmetadata.ParseSequence(m.kind, startStr)
	if seq.Compare(start) == seqnum.Less {
		return false
	}
	endStr, ok := m.End[p]
	if !ok {
		return true
	}
	end := dsmetadata.ParseSequence(m.kind, endStr)
	if end.String() == seqnum.NoEnd {
		return true
	}
	return seq.Compare(end) == seqnum.Less
}

// sequenceFile is the persisted form of a runner's ordered sequence
// list, written synchronously to sequences.json in the task's persist
// directory on every mutation.
type sequenceFile struct {
	Kind      dsmetadata.Kind `json:"kind"`
	Sequences []*Metadata     `json:"sequences"`
}

func sequencesPath(persistDir string) string {
	return filepath.Join(persistDir, "sequences.json")
}

// loadSequences reads the persisted sequence chain for taskID, from
// store if one is configured, otherwise from persistDir's local file.
func loadSequences(ctx context.Context, store SequenceStore, persistDir, taskID string, kind dsmetadata.Kind) ([]*Metadata, error) {
	var raw []byte
	if store != nil {
		var err error
		raw, err = store.LoadSequences(ctx, taskID)
		if err != nil {
			return nil, err
		}
	} else {
		var err error
		raw, err = os.ReadFile(sequencesPath(persistDir))
		if err != nil {
			if os.IsNotExist(err) {
				return nil, nil
			}
			return nil, err
		}
	}
	if len(raw) == 0 {
		return nil, nil
	}
	var f sequenceFile
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, err
	}
	for _, m := range f.Sequences {
		m.kind = kind
	}
	return f.Sequences, nil
}

// persistSequences writes the sequence chain to store if one is
// configured, otherwise synchronously to persistDir's local file via
// a temp-file-plus-rename so a crash mid-write never leaves a
// truncated sequences.json behind.
func persistSequences(ctx context.Context, store SequenceStore, persistDir, taskID string, kind dsmetadata.Kind, sequences []*Metadata) error {
	f := sequenceFile{Kind: kind, Sequences: sequences}
	raw, err := json.MarshalIndent(&f, "", "  ")
	if err != nil {
		return err
	}
	if store != nil {
		return store.StoreSequences(ctx, taskID, raw)
	}
	if err := os.MkdirAll(persistDir, 0o755); err != nil {
		return err
	}
	tmp := sequencesPath(persistDir) + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, sequencesPath(persistDir))
}
