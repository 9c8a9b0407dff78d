// Package supervisor implements the per-datasource Supervisor: a
// single-threaded planning/monitoring/recovery loop fed by a command
// channel.
package supervisor

import "time"

// Config collects the supervisor-side tuning knobs, built with the
// same staged-builder convention as runner.Config.
type Config struct {
	Replicas                    int
	TaskCount                   int
	TaskDuration                time.Duration
	CompletionTimeout           time.Duration
	StartDelay                  time.Duration
	Period                      time.Duration
	UseEarliestSequenceNumber   bool
	LateMessageRejectionPeriod  time.Duration
	EarlyMessageRejectionPeriod time.Duration
	ChatThreads                 int
	ChatRetries                 int
	HTTPTimeout                 time.Duration
	ShutdownTimeout             time.Duration
	RecordsPerFetch             int64
	FetchDelayMillis            time.Duration
}

func DefaultConfig() *Config {
	return &Config{
		Replicas:          1,
		TaskCount:         1,
		TaskDuration:      time.Hour,
		CompletionTimeout: 30 * time.Minute,
		StartDelay:        5 * time.Second,
		Period:            30 * time.Second,
		ChatThreads:       8,
		ChatRetries:       8,
		HTTPTimeout:       10 * time.Second,
		ShutdownTimeout:   45 * time.Second,
		RecordsPerFetch:   1000,
		FetchDelayMillis:  0,
	}
}

func (c *Config) WithReplicas(n int) *Config                    { c.Replicas = n; return c }
func (c *Config) WithTaskCount(n int) *Config                   { c.TaskCount = n; return c }
func (c *Config) WithTaskDuration(d time.Duration) *Config      { c.TaskDuration = d; return c }
func (c *Config) WithCompletionTimeout(d time.Duration) *Config { c.CompletionTimeout = d; return c }
func (c *Config) WithUseEarliestSequenceNumber(v bool) *Config {
	c.UseEarliestSequenceNumber = v
	return c
}
func (c *Config) WithLateMessageRejectionPeriod(d time.Duration) *Config {
	c.LateMessageRejectionPeriod = d
	return c
}
func (c *Config) WithEarlyMessageRejectionPeriod(d time.Duration) *Config {
	c.EarlyMessageRejectionPeriod = d
	return c
}
func (c *Config) WithChatThreads(n int) *Config               { c.ChatThreads = n; return c }
func (c *Config) WithChatRetries(n int) *Config               { c.ChatRetries = n; return c }
func (c *Config) WithHTTPTimeout(d time.Duration) *Config     { c.HTTPTimeout = d; return c }
func (c *Config) WithShutdownTimeout(d time.Duration) *Config { c.ShutdownTimeout = d; return c }
