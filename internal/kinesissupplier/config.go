package kinesissupplier

import "time"

// Config mirrors the opaque-sequence record supplier's tuning knobs.
type Config struct {
	FetchThreads             int
	RecordsPerFetch          int64
	RecordBufferSize         int
	RecordBufferOfferTimeout time.Duration
	RecordBufferFullWait     time.Duration
	FetchDelay               time.Duration
	ThroughputBackoff        time.Duration
	ExceptionRetryDelay      time.Duration
	MaxRecordsPerPoll        int
}

func DefaultConfig() Config {
	return Config{
		FetchThreads:             4,
		RecordsPerFetch:          1000,
		RecordBufferSize:         10000,
		RecordBufferOfferTimeout: 2 * time.Second,
		RecordBufferFullWait:     5 * time.Second,
		FetchDelay:               0,
		ThroughputBackoff:        10 * time.Second,
		ExceptionRetryDelay:      10 * time.Second,
		MaxRecordsPerPoll:        1000,
	}
}
