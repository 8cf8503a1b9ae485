package api

type CacheStats struct {
	Records    int    `json:"records"`
	TotalBytes int64  `json:"total_bytes"`
	Oldest     string `json:"oldest,omitempty"`
	Newest     string `json:"newest,omitempty"`
}

type EvictResult struct {
	ExpiredRecords int64  `json:"expired_records"`
	MissingFiles   int    `json:"missing_files"`
	OrphanFiles    int    `json:"orphan_files"`
	Errors         int    `json:"errors"`
	Duration       string `json:"duration"`
}

type PrefetchProto struct {
	URLs []string `json:"urls" binding:"required,max=100"`
}

type PrefetchResult struct {
	Requested int `json:"requested"`
	Cached    int `json:"cached"`
}
