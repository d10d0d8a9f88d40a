package cachesink

import "fmt"

// Event is one keyed change from the stream.
// Topic, Partition and Offset are for correlation only; they never influence
// which write wins.
type Event struct {
	Key       []byte
	Value     []byte // nil => tombstone
	Topic     string
	Partition int32
	Offset    int64
}

func (e Event) IsTombstone() bool { return e.Value == nil }

// TopicPartition identifies one assigned partition.
type TopicPartition struct {
	Topic     string
	Partition int32
}

func (tp TopicPartition) String() string { return fmt.Sprintf("%s/%d", tp.Topic, tp.Partition) }
