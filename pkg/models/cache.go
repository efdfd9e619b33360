package models

// CacheEntry is the persisted form of a cached translation.
// UpdatedAt is milliseconds since the Unix epoch.
type CacheEntry struct {
	Key       string `json:"key"`
	Value     string `json:"value"`
	UpdatedAt int64  `json:"updatedAt"`
}

// CachePayload is the single record the translation cache is stored as.
type CachePayload struct {
	Entries []CacheEntry `json:"entries"`
}

// CacheStats reports cache performance metrics.
type CacheStats struct {
	Entries  int   `json:"entries"`
	Capacity int   `json:"capacity"`
	Hits     int64 `json:"hits"`
	Misses   int64 `json:"misses"`
}

// HitRate returns hits / (hits + misses), or 0 when there were no lookups.
func (s CacheStats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}
