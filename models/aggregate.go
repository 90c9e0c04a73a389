package models

import "sort"

// AggregateEntry is a single key and the number of times it has been seen.
type AggregateEntry struct {
	Key   string `json:"key"`
	Count int64  `json:"count"`
}

// OutputRecord is the sorted content of a counting map at an emission point.
type OutputRecord struct {
	// Seq is the zero based emission number within a run.
	Seq     int64            `json:"seq"`
	Entries []AggregateEntry `json:"entries"`
}

// NewOutputRecord builds an OutputRecord from counts with entries sorted by key.
func NewOutputRecord(seq int64, counts map[string]int64) OutputRecord {
	entries := make([]AggregateEntry, 0, len(counts))
	for k, c := range counts {
		entries = append(entries, AggregateEntry{Key: k, Count: c})
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Key < entries[j].Key
	})
	return OutputRecord{
		Seq:     seq,
		Entries: entries,
	}
}

// Count returns the count for key, or zero if the key is absent.
func (o OutputRecord) Count(key string) int64 {
	i := sort.Search(len(o.Entries), func(i int) bool {
		return o.Entries[i].Key >= key
	})
	if i < len(o.Entries) && o.Entries[i].Key == key {
		return o.Entries[i].Count
	}
	return 0
}
