package faq

import "time"

// Question is an extracted customer question as stored.
type Question struct {
	ID                 int64
	EmailID            int64
	Text               string
	Answer             *string
	Confidence         float64
	IsCustomerQuestion bool
	Embedding          []float32
	CreatedAt          time.Time
}

// Group is a consolidated FAQ entry.
type Group struct {
	ID                      int64     `json:"id"`
	Title                   string    `json:"title"`
	RepresentativeQuestion  string    `json:"representativeQuestion"`
	ConsolidatedAnswer      string    `json:"consolidatedAnswer"`
	QuestionCount           int       `json:"questionCount"`
	FrequencyScore          float64   `json:"frequencyScore"`
	AvgConfidence           float64   `json:"avgConfidence"`
	RepresentativeEmbedding []float32 `json:"-"`
	IsPublished             bool      `json:"isPublished"`
	Category                string    `json:"category,omitempty"`
	Tags                    []string  `json:"tags,omitempty"`
	CreatedAt               time.Time `json:"createdAt"`
	UpdatedAt               time.Time `json:"updatedAt"`
}

// Membership is one question-to-group association row.
type Membership struct {
	QuestionID       int64
	GroupID          int64
	SimilarityScore  float64
	IsRepresentative bool
}

// GroupFilter narrows ListGroups.
type GroupFilter struct {
	PublishedOnly bool
	Limit         int
}

// GenerationReport summarises one generation run.
type GenerationReport struct {
	QuestionsConsidered int     `json:"questionsConsidered"`
	Clusters            int     `json:"clusters"`
	Created             int     `json:"created"`
	Updated             int     `json:"updated"`
	Merged              int     `json:"merged"`
	Unchanged           int     `json:"unchanged"`
	BelowMinimum        int     `json:"belowMinimum"`
	Failed              int     `json:"failed"`
	Published           int     `json:"published"`
	TouchedGroups       []int64 `json:"touchedGroups,omitempty"`
}

// BackfillReport summarises one auto-fix pass.
type BackfillReport struct {
	Scanned  int `json:"scanned"`
	Embedded int `json:"embedded"`
	Failed   int `json:"failed"`
}

// ConsolidationRequest is the input of the answer consolidation call.
type ConsolidationRequest struct {
	Questions []string
	Answers   []string
}

// Validate rejects requests with nothing to consolidate.
func (r ConsolidationRequest) Validate() error {
	if len(r.Questions) == 0 {
		return errEmptyConsolidation
	}
	return nil
}
