package faq

import "time"

// Config holds runtime knobs for FAQ generation.
type Config struct {
	MinConfidence        float64
	MinQuestionCount     int
	AutoPublishThreshold int
	MaxTitleLength       int
	DefaultCategory      string
	BackfillLimit        int
	DefaultConfidence    float64
	EmbeddingDimension   int
	ConsolidationTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.MinQuestionCount <= 0 {
		c.MinQuestionCount = 2
	}
	if c.MaxTitleLength <= 0 {
		c.MaxTitleLength = 120
	}
	if c.BackfillLimit <= 0 {
		c.BackfillLimit = 200
	}
	if c.DefaultConfidence <= 0 || c.DefaultConfidence > 1 {
		c.DefaultConfidence = 0.7
	}
	if c.ConsolidationTimeout <= 0 {
		c.ConsolidationTimeout = 30 * time.Second
	}
	return c
}
