package core

import (
	"fmt"
	"sort"

	"PLPLedger/internal/observability"
)

// IngestPartition is the single source-sequence stream every command is
// stamped on.
const IngestPartition = "ingest"

// SequenceValidator validates source sequences per partition.
// Not thread-safe; only accessed from the single-threaded engine.
type SequenceValidator struct {
	expectedNextSeq map[string]int64 // partition -> next expected sequence
	gaps            map[string]int64
	outOfOrder      map[string]int64
	metrics         *observability.Metrics
}

func NewSequenceValidator(metrics *observability.Metrics) *SequenceValidator {
	return &SequenceValidator{
		expectedNextSeq: make(map[string]int64),
		gaps:            make(map[string]int64),
		outOfOrder:      make(map[string]int64),
		metrics:         metrics,
	}
}

// ValidateSequence checks source sequence ordering. A duplicate that arrives
// stamped with the next sequence still consumes it.
func (sv *SequenceValidator) ValidateSequence(
	partition string,
	sourceSequence int64,
	isDuplicate bool,
) error {
	expected := sv.expectedNextSeq[partition]

	if sourceSequence < expected {
		if isDuplicate {
			return nil
		}
		sv.outOfOrder[partition]++
		if sv.metrics != nil {
			sv.metrics.EventOutOfOrder.WithLabelValues(partition).Inc()
		}
		return fmt.Errorf("out-of-order command: partition=%s, expected=%d, got=%d",
			partition, expected, sourceSequence)
	}

	if sourceSequence == expected {
		sv.expectedNextSeq[partition] = expected + 1
		return nil
	}

	sv.gaps[partition]++
	if sv.metrics != nil {
		sv.metrics.EventSequenceGap.WithLabelValues(partition).Inc()
	}
	return fmt.Errorf("sequence gap: partition=%s, expected=%d, got=%d",
		partition, expected, sourceSequence)
}

// GetExpectedSequence returns next expected sequence for a partition
func (sv *SequenceValidator) GetExpectedSequence(partition string) int64 {
	return sv.expectedNextSeq[partition]
}

// RestorePartition sets the next expected sequence (snapshot restore, replay).
func (sv *SequenceValidator) RestorePartition(partition string, next int64) {
	sv.expectedNextSeq[partition] = next
}

// GetAllPartitions returns a copy of every partition's next sequence.
func (sv *SequenceValidator) GetAllPartitions() map[string]int64 {
	out := make(map[string]int64, len(sv.expectedNextSeq))
	for p, seq := range sv.expectedNextSeq {
		out[p] = seq
	}
	return out
}

// Partitions lists partition names in order (for logging).
func (sv *SequenceValidator) Partitions() []string {
	names := make([]string, 0, len(sv.expectedNextSeq))
	for p := range sv.expectedNextSeq {
		names = append(names, p)
	}
	sort.Strings(names)
	return names
}

func (sv *SequenceValidator) GetGaps(partition string) int64 {
	return sv.gaps[partition]
}

func (sv *SequenceValidator) GetOutOfOrder(partition string) int64 {
	return sv.outOfOrder[partition]
}
