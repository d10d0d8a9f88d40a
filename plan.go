package cachesink

// Entry is a single planned write. Value is nil for deletes.
type Entry struct {
	Key       []byte
	Value     []byte
	Topic     string
	Partition int32
	Offset    int64
}

// WritePlan is the deduplicated outcome of one batch. Every key of the batch
// is in exactly one of the two slices.
type WritePlan struct {
	Upserts []Entry
	Deletes []Entry
}

func (p WritePlan) Empty() bool { return len(p.Upserts) == 0 && len(p.Deletes) == 0 }

func (p WritePlan) Len() int { return len(p.Upserts) + len(p.Deletes) }

// Plan folds batch into a WritePlan. The last event for a key decides both
// its value and whether it is written or deleted. Entries keep the order of
// each key's final occurrence, so equal input yields an equal plan.
func Plan(batch []Event) WritePlan {
	if len(batch) == 0 {
		return WritePlan{}
	}
	last := make(map[string]int, len(batch))
	for i, ev := range batch {
		last[string(ev.Key)] = i
	}

	var p WritePlan
	for i, ev := range batch {
		if last[string(ev.Key)] != i {
			continue // superseded later in the batch
		}
		e := Entry{
			Key:       ev.Key,
			Value:     ev.Value,
			Topic:     ev.Topic,
			Partition: ev.Partition,
			Offset:    ev.Offset,
		}
		if ev.IsTombstone() {
			p.Deletes = append(p.Deletes, e)
		} else {
			p.Upserts = append(p.Upserts, e)
		}
	}
	return p
}
