package source

import (
	"errors"
	"fmt"
)

// DefaultNumChunks is the number of chunks a store is cut into when no chunk
// size is given.
const DefaultNumChunks = 2048

// PartitionSpec selects the shard of a record store one reader consumes.
type PartitionSpec struct {
	// NumParts is the total number of partitions across every reader, on
	// every node when sharding across nodes.
	NumParts int

	// PartIdx is this reader's partition, 0 <= PartIdx < NumParts.
	PartIdx int

	// GroupSize is the number of nodes in the distributed group, 1 when not
	// distributed.
	GroupSize int

	// LocalRank is this node's index within the group.
	LocalRank int
}

// Validate reports whether the spec is usable.
func (p PartitionSpec) Validate() error {
	if p.NumParts <= 0 {
		return fmt.Errorf("NumParts must be positive, got %d", p.NumParts)
	}
	if p.PartIdx < 0 || p.PartIdx >= p.NumParts {
		return fmt.Errorf("PartIdx (%d) must be in [0, %d)", p.PartIdx, p.NumParts)
	}
	if p.GroupSize <= 0 {
		return errors.New("GroupSize must be positive")
	}
	if p.LocalRank < 0 || p.LocalRank >= p.GroupSize {
		return fmt.Errorf("LocalRank (%d) must be in [0, %d)", p.LocalRank, p.GroupSize)
	}
	return nil
}

// Range returns the index range [start, end) owned by the partition in a
// store of n records. The ranges of all partitions tile [0, n) exactly, and
// their lengths differ by at most one.
func (p PartitionSpec) Range(n int) (start, end int) {
	start = int(int64(p.PartIdx) * int64(n) / int64(p.NumParts))
	end = int(int64(p.PartIdx+1) * int64(n) / int64(p.NumParts))
	return start, end
}

// ChunkRecords returns how many consecutive records form one chunk.
//
// A positive chunkSizeMB is converted to a record count using the store's
// average record size. Otherwise the store is cut into numChunks chunks
// (DefaultNumChunks when numChunks is not positive). The result is at least 1.
func ChunkRecords(n int, totalBytes int64, numChunks, chunkSizeMB int) int {
	if n <= 0 {
		return 1
	}

	if chunkSizeMB > 0 && totalBytes > 0 {
		avg := totalBytes / int64(n)
		if avg <= 0 {
			avg = 1
		}
		return max(1, int((int64(chunkSizeMB)<<20)/avg))
	}

	if numChunks <= 0 {
		numChunks = DefaultNumChunks
	}
	return max(1, (n+numChunks-1)/numChunks)
}

// Chunk is a contiguous run of records read sequentially.
type Chunk struct {
	Start, End int
}

// Len returns the number of records in the chunk.
func (c Chunk) Len() int {
	return c.End - c.Start
}

// Chunks cuts [start, end) into chunks of at most size records.
func Chunks(start, end, size int) []Chunk {
	if size <= 0 {
		size = 1
	}
	chunks := make([]Chunk, 0, (end-start+size-1)/size)
	for s := start; s < end; s += size {
		chunks = append(chunks, Chunk{Start: s, End: min(s+size, end)})
	}
	return chunks
}
