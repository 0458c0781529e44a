package batch

import "time"

// Config bounds a batch run.
type Config struct {
	BatchSize            int
	MaxBodyChars         int
	MaxThreadChars       int
	MaxQuestionChars     int
	MaxAnswerChars       int
	MaxErrorChars        int
	ItemTimeout          time.Duration
	MaxConsecutiveErrors int
	MaxTotalErrors       int
	MemoryCheckEvery     int
	HighWaterRatio       float64
	CriticalRatio        float64
	PressurePause        time.Duration
	RequestsPerMinute    int
}

// DefaultConfig returns the limits used when nothing is configured.
func DefaultConfig() Config {
	return Config{
		BatchSize:            50,
		MaxBodyChars:         8000,
		MaxThreadChars:       2000,
		MaxQuestionChars:     1000,
		MaxAnswerChars:       4000,
		MaxErrorChars:        500,
		ItemTimeout:          25 * time.Second,
		MaxConsecutiveErrors: 10,
		MaxTotalErrors:       25,
		MemoryCheckEvery:     5,
		HighWaterRatio:       0.75,
		CriticalRatio:        0.90,
		PressurePause:        2 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.BatchSize <= 0 {
		c.BatchSize = d.BatchSize
	}
	if c.MaxBodyChars <= 0 {
		c.MaxBodyChars = d.MaxBodyChars
	}
	if c.MaxThreadChars <= 0 {
		c.MaxThreadChars = d.MaxThreadChars
	}
	if c.MaxQuestionChars <= 0 {
		c.MaxQuestionChars = d.MaxQuestionChars
	}
	if c.MaxAnswerChars <= 0 {
		c.MaxAnswerChars = d.MaxAnswerChars
	}
	if c.MaxErrorChars <= 0 {
		c.MaxErrorChars = d.MaxErrorChars
	}
	if c.ItemTimeout <= 0 {
		c.ItemTimeout = d.ItemTimeout
	}
	if c.MaxConsecutiveErrors <= 0 {
		c.MaxConsecutiveErrors = d.MaxConsecutiveErrors
	}
	if c.MaxTotalErrors <= 0 {
		c.MaxTotalErrors = d.MaxTotalErrors
	}
	if c.MemoryCheckEvery <= 0 {
		c.MemoryCheckEvery = d.MemoryCheckEvery
	}
	if c.HighWaterRatio <= 0 || c.HighWaterRatio >= 1 {
		c.HighWaterRatio = d.HighWaterRatio
	}
	if c.CriticalRatio <= c.HighWaterRatio || c.CriticalRatio > 1 {
		c.CriticalRatio = d.CriticalRatio
	}
	if c.PressurePause < 0 {
		c.PressurePause = 0
	}
	return c
}
