package model

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"

	"gorm.io/gorm"
)

// AnalysisStatus 提交的评测状态，只能向前流转：
// pending → in_progress → completed / failed，终态不再变化
type AnalysisStatus string

const (
	StatusPending    AnalysisStatus = "pending"
	StatusInProgress AnalysisStatus = "in_progress"
	StatusCompleted  AnalysisStatus = "completed"
	StatusFailed     AnalysisStatus = "failed"
)

// Terminal 是否已到终态
func (s AnalysisStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

type SubmissionType string

const (
	TypeWriting   SubmissionType = "writing"
	TypeListening SubmissionType = "listening"
)

// swagger:model Submission
type Submission struct {
	SubmissionID   string         `gorm:"primaryKey;type:varchar(36)" json:"submissionId"`
	UserID         uint           `gorm:"index:idx_submissions_user_created;type:bigint unsigned" json:"userId"`
	SubmissionType SubmissionType `gorm:"size:20;not null" json:"submissionType"`
	CreatedAt      time.Time      `gorm:"index:idx_submissions_user_created" json:"createdAt"`
	OverallScore   *float64       `json:"overallScore,omitempty"`
	Status         AnalysisStatus `gorm:"size:20;default:'pending'" json:"status"`

	WritingDetail   *WritingDetail    `gorm:"foreignKey:SubmissionID;constraint:OnDelete:CASCADE" json:"writingDetail,omitempty"`
	ListeningDetail *ListeningDetail  `gorm:"foreignKey:SubmissionID;constraint:OnDelete:CASCADE" json:"listeningDetail,omitempty"`
	Result          *AssessmentResult `gorm:"foreignKey:SubmissionID;constraint:OnDelete:CASCADE" json:"result,omitempty"`
}

func (Submission) TableName() string {
	return "submissions"
}

func (s *Submission) BeforeCreate(tx *gorm.DB) (err error) {
	if s.SubmissionID == "" {
		s.SubmissionID = GenerateUUID()
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now()
	}
	return
}

// swagger:model WritingDetail
type WritingDetail struct {
	SubmissionID string `gorm:"primaryKey;type:varchar(36)" json:"submissionId"`
	Topic        string `gorm:"size:500" json:"topic"`
	TextBody     string `gorm:"type:text" json:"textBody"`
	// WordCount 提交时按空白分词统计，之后不再重算
	WordCount int `json:"wordCount"`
}

func (WritingDetail) TableName() string {
	return "writing_details"
}

// swagger:model ListeningDetail
type ListeningDetail struct {
	SubmissionID    string  `gorm:"primaryKey;type:varchar(36)" json:"submissionId"`
	Topic           string  `gorm:"size:500" json:"topic"`
	AudioFileURL    string  `gorm:"size:500" json:"audioFileUrl"`
	DurationSeconds int     `json:"durationSeconds"`
	Transcription   *string `gorm:"type:text" json:"transcription,omitempty"`
}

func (ListeningDetail) TableName() string {
	return "listening_details"
}

// StringList 以JSON字符串形式落库的建议列表
type StringList []string

func (l StringList) Value() (driver.Value, error) {
	if l == nil {
		l = StringList{}
	}
	b, err := json.Marshal(l)
	return string(b), err
}

func (l *StringList) Scan(value interface{}) error {
	if value == nil {
		*l = StringList{}
		return nil
	}
	var data []byte
	switch v := value.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return errors.New("unsupported type for StringList")
	}
	if len(data) == 0 {
		*l = StringList{}
		return nil
	}
	return json.Unmarshal(data, l)
}

// swagger:model AssessmentResult
type AssessmentResult struct {
	ResultID     string `gorm:"primaryKey;type:varchar(36)" json:"resultId"`
	SubmissionID string `gorm:"uniqueIndex;type:varchar(36)" json:"submissionId"`

	GrammarScore       *float64 `json:"grammarScore,omitempty"`
	VocabularyScore    *float64 `json:"vocabularyScore,omitempty"`
	CoherenceScore     *float64 `json:"coherenceScore,omitempty"`
	FluencyScore       *float64 `json:"fluencyScore,omitempty"`
	PronunciationScore *float64 `json:"pronunciationScore,omitempty"` // 仅口语题

	// 评测失败时只写FeedbackSummary，内容为失败原因
	FeedbackSummary string     `gorm:"type:text" json:"feedbackSummary"`
	Suggestions     StringList `gorm:"type:text" json:"suggestions"`

	CreatedAt time.Time `json:"createdAt"`
}

func (AssessmentResult) TableName() string {
	return "assessment_results"
}

func (r *AssessmentResult) BeforeCreate(tx *gorm.DB) (err error) {
	if r.ResultID == "" {
		r.ResultID = GenerateUUID()
	}
	return
}
