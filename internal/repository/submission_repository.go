package repository

import (
	"errors"
	"toefl_assess_backend/internal/model"
	"toefl_assess_backend/internal/util"

	"gorm.io/gorm"
)

type SubmissionRepository struct {
	DB *gorm.DB
}

func NewSubmissionRepository(db *gorm.DB) *SubmissionRepository {
	return &SubmissionRepository{DB: db}
}

// CreateWithWriting 同一事务写入提交与作文明细，保证不出现孤儿记录
func (r *SubmissionRepository) CreateWithWriting(sub *model.Submission, detail *model.WritingDetail) error {
	return r.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(sub).Error; err != nil {
			return err
		}
		detail.SubmissionID = sub.SubmissionID
		return tx.Create(detail).Error
	})
}

// CreateWithListening 同一事务写入提交与口语明细，可携带已生成的评测结果（占位策略）
func (r *SubmissionRepository) CreateWithListening(sub *model.Submission, detail *model.ListeningDetail, result *model.AssessmentResult) error {
	return r.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(sub).Error; err != nil {
			return err
		}
		detail.SubmissionID = sub.SubmissionID
		if err := tx.Create(detail).Error; err != nil {
			return err
		}
		if result != nil {
			result.SubmissionID = sub.SubmissionID
			return tx.Create(result).Error
		}
		return nil
	})
}

// FindByIDForUser 按所有者查询，带出明细与评测结果
func (r *SubmissionRepository) FindByIDForUser(submissionID string, userID uint) (*model.Submission, error) {
	var sub model.Submission
	err := r.DB.Preload("WritingDetail").
		Preload("ListeningDetail").
		Preload("Result").
		Where("submission_id = ? AND user_id = ?", submissionID, userID).
		First(&sub).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, util.ErrSubmissionNotFound
	}
	return &sub, err
}

// ListByUser 按创建时间倒序列出用户的全部提交
func (r *SubmissionRepository) ListByUser(userID uint) ([]model.Submission, error) {
	var subs []model.Submission
	err := r.DB.Preload("WritingDetail").
		Preload("ListeningDetail").
		Preload("Result").
		Where("user_id = ?", userID).
		Order("created_at desc").
		Find(&subs).Error
	return subs, err
}

func (r *SubmissionRepository) CountByUser(userID uint) (int64, error) {
	var count int64
	err := r.DB.Model(&model.Submission{}).
		Where("user_id = ?", userID).
		Count(&count).Error
	return count, err
}

// MarkCompleted 写入总分并置为completed。
// 条件更新只命中in_progress行，终态记录不会被改写
func (r *SubmissionRepository) MarkCompleted(submissionID string, overallScore float64) error {
	return r.DB.Model(&model.Submission{}).
		Where("submission_id = ? AND status = ?", submissionID, model.StatusInProgress).
		Updates(map[string]interface{}{
			"status":        model.StatusCompleted,
			"overall_score": overallScore,
		}).Error
}

// MarkFailed 置为failed，同样只允许从in_progress流转
func (r *SubmissionRepository) MarkFailed(submissionID string) error {
	return r.DB.Model(&model.Submission{}).
		Where("submission_id = ? AND status = ?", submissionID, model.StatusInProgress).
		Update("status", model.StatusFailed).Error
}

func (r *SubmissionRepository) CreateResult(result *model.AssessmentResult) error {
	return r.DB.Create(result).Error
}

// SetTranscription 口语评测完成后回填转写文本
func (r *SubmissionRepository) SetTranscription(submissionID string, transcription string) error {
	return r.DB.Model(&model.ListeningDetail{}).
		Where("submission_id = ?", submissionID).
		Update("transcription", transcription).Error
}
