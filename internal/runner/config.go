package runner

import "time"

// Config collects the runner-side tuning knobs. Built with a
// staged-builder pattern (a WithX chain) rather than a struct literal,
// so call sites read as a sequence of named decisions.
type Config struct {
	TaskID           string
	DataSource       string
	StreamID         string
	GroupID          int
	BaseSequenceName string
	PersistDir       string

	// SkipSegmentLineageCheck is true for the integer-offset flavor,
	// false for the opaque-sequence flavor.
	SkipSegmentLineageCheck bool

	UseTransaction                      bool
	SkipOffsetGaps                      bool
	HandoffConditionTimeout             time.Duration
	IntermediateHandoffPeriod           time.Duration
	MaxParseExceptions                  int
	LogParseExceptions                  bool
	ResetOffsetAutomatically            bool
	SkipSequenceNumberAvailabilityCheck bool

	PollTimeout time.Duration
}

func NewConfig(taskID, dataSource, streamID string, groupID int, baseSequenceName string) *Config {
	return &Config{
		TaskID:                  taskID,
		DataSource:              dataSource,
		StreamID:                streamID,
		GroupID:                 groupID,
		BaseSequenceName:        baseSequenceName,
		PersistDir:              ".",
		UseTransaction:          true,
		HandoffConditionTimeout: 0,
		MaxParseExceptions:      0,
		PollTimeout:             100 * time.Millisecond,
	}
}

func (c *Config) WithSkipSegmentLineageCheck(v bool) *Config {
	c.SkipSegmentLineageCheck = v
	return c
}

func (c *Config) WithUseTransaction(v bool) *Config {
	c.UseTransaction = v
	return c
}

func (c *Config) WithSkipOffsetGaps(v bool) *Config {
	c.SkipOffsetGaps = v
	return c
}

func (c *Config) WithHandoffConditionTimeout(d time.Duration) *Config {
	c.HandoffConditionTimeout = d
	return c
}

func (c *Config) WithIntermediateHandoffPeriod(d time.Duration) *Config {
	c.IntermediateHandoffPeriod = d
	return c
}

func (c *Config) WithMaxParseExceptions(n int) *Config {
	c.MaxParseExceptions = n
	return c
}

func (c *Config) WithLogParseExceptions(v bool) *Config {
	c.LogParseExceptions = v
	return c
}

func (c *Config) WithResetOffsetAutomatically(v bool) *Config {
	c.ResetOffsetAutomatically = v
	return c
}

func (c *Config) WithSkipSequenceNumberAvailabilityCheck(v bool) *Config {
	c.SkipSequenceNumberAvailabilityCheck = v
	return c
}

func (c *Config) WithPersistDir(dir string) *Config {
	c.PersistDir = dir
	return c
}

func (c *Config) WithPollTimeout(d time.Duration) *Config {
	c.PollTimeout = d
	return c
}
