package cache

// Stats is a snapshot of cache counters.
type Stats struct {
	TotalEntries         int            `json:"total_entries"`
	SoftEntries          int            `json:"soft_entries"`
	TotalSize            int64          `json:"total_size"`
	HitCount             int64          `json:"hit_count"`
	MissCount            int64          `json:"miss_count"`
	HitRate              float64        `json:"hit_rate"`
	EvictionCount        int64          `json:"eviction_count"`
	CategoryDistribution map[string]int `json:"category_distribution"`
	AverageEntrySize     float64        `json:"average_entry_size"`
}

// Stats returns current counters. HitRate is 0 when no request was made.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	st := Stats{
		TotalEntries:         len(c.items),
		SoftEntries:          len(c.softKeys),
		TotalSize:            c.totalSize,
		HitCount:             c.hits,
		MissCount:            c.misses,
		EvictionCount:        c.evictions,
		CategoryDistribution: make(map[string]int),
	}
	if total := c.hits + c.misses; total > 0 {
		st.HitRate = float64(c.hits) / float64(total)
	}
	if st.TotalEntries > 0 {
		st.AverageEntrySize = float64(c.totalSize) / float64(st.TotalEntries)
	}
	for el := c.lru.Front(); el != nil; el = el.Next() {
		st.CategoryDistribution[el.Value.(*entry).category]++
	}
	return st
}
