package core

import (
	"errors"
	"fmt"
	"sort"
)

var (
	ErrSequenceGap = errors.New("sequence gap")
	ErrOutOfOrder  = errors.New("out-of-order event")
)

// SequenceValidator enforces contiguous source sequences per partition
// ("account:<uuid>" or "global").
// Not thread-safe: only the single-threaded core uses it.
type SequenceValidator struct {
	expectedNextSeq map[string]int64
	gaps            int64
	outOfOrder      int64
}

func NewSequenceValidator() *SequenceValidator {
	return &SequenceValidator{expectedNextSeq: make(map[string]int64)}
}

// ValidateSequence accepts exactly the next expected sequence of partition
// and advances it. A lower sequence is accepted only for a known duplicate,
// which is then skipped by the caller.
func (sv *SequenceValidator) ValidateSequence(partition string, sourceSequence int64, isDuplicate bool) error {
	expected := sv.expectedNextSeq[partition]

	switch {
	case sourceSequence == expected:
		sv.expectedNextSeq[partition] = expected + 1
		return nil
	case sourceSequence < expected:
		if isDuplicate {
			return nil
		}
		sv.outOfOrder++
		return fmt.Errorf("%w: partition=%s, expected=%d, got=%d", ErrOutOfOrder, partition, expected, sourceSequence)
	default:
		sv.gaps++
		return fmt.Errorf("%w: partition=%s, expected=%d, got=%d", ErrSequenceGap, partition, expected, sourceSequence)
	}
}

func (sv *SequenceValidator) GetExpectedSequence(partition string) int64 {
	return sv.expectedNextSeq[partition]
}

// RestorePartition sets the next expected sequence (recovery).
func (sv *SequenceValidator) RestorePartition(partition string, next int64) {
	sv.expectedNextSeq[partition] = next
}

// GetAllPartitions returns a copy of every partition's next expected sequence.
func (sv *SequenceValidator) GetAllPartitions() map[string]int64 {
	out := make(map[string]int64, len(sv.expectedNextSeq))
	for p, seq := range sv.expectedNextSeq {
		out[p] = seq
	}
	return out
}

// Partitions lists the known partitions in order.
func (sv *SequenceValidator) Partitions() []string {
	out := make([]string, 0, len(sv.expectedNextSeq))
	for p := range sv.expectedNextSeq {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

func (sv *SequenceValidator) Gaps() int64       { return sv.gaps }
func (sv *SequenceValidator) OutOfOrder() int64 { return sv.outOfOrder }
