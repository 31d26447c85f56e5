package service

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"
	"toefl_assess_backend/internal/config"
	"toefl_assess_backend/internal/model"
	"toefl_assess_backend/internal/repository"
	"toefl_assess_backend/internal/util"
	"toefl_assess_backend/pkg/logger"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// 题库暂时写死，后续迁到数据库管理
var WritingTopics = []string{
	"Describe your favorite holiday destination and explain why you enjoy it.",
	"What are the advantages and disadvantages of working from home?",
	"Discuss the impact of social media on modern communication.",
}

var ListeningTopics = []string{
	"Describe a memorable experience from your childhood.",
	"Talk about your career goals and how you plan to achieve them.",
	"Explain the importance of learning a foreign language.",
}

// 口语占位评分：在线转写评分未启用时的固定结果
const (
	placeholderSpeakingScore    = 90.0
	placeholderSpeakingFeedback = "Excellent speaking performance! Your pronunciation is clear."
)

var placeholderSpeakingSuggestions = model.StringList{
	"Work on your intonation patterns",
	"Try to speak more naturally",
	"Reduce filler words like 'um' and 'uh'",
}

const genericFailureMessage = "Assessment failed. Please try again."

// QuotaCounter 每日限额需要的最小Redis能力，*redis.Client直接满足，
// 测试用假实现替换
type QuotaCounter interface {
	Incr(ctx context.Context, key string) *redis.IntCmd
	Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd
}

type ExamService struct {
	subRepo *repository.SubmissionRepository
	ai      Assessor
	worker  *AssessWorker
	rdb     QuotaCounter
	cfg     *config.Config
}

func NewExamService(subRepo *repository.SubmissionRepository, ai Assessor, worker *AssessWorker, rdb QuotaCounter, cfg *config.Config) *ExamService {
	return &ExamService{
		subRepo: subRepo,
		ai:      ai,
		worker:  worker,
		rdb:     rdb,
		cfg:     cfg,
	}
}

// SubmitResult 提交接口的应答数据
type SubmitResult struct {
	SubmissionID string   `json:"submission_id"`
	Status       string   `json:"status"`
	Score        *float64 `json:"score,omitempty"`
}

// StatusResult 状态轮询的应答数据，字段按状态裁剪
type StatusResult struct {
	SubmissionID string                  `json:"submission_id"`
	Status       string                  `json:"status"`
	Score        *float64                `json:"score,omitempty"`
	Message      string                  `json:"message,omitempty"`
	Result       *model.AssessmentResult `json:"result,omitempty"`
}

// SubmitWriting 校验入参，事务落库后把评测丢给工作池，立即返回。
// 客户端通过状态轮询获知评测完成
func (s *ExamService) SubmitWriting(userID uint, topic, textBody string) (*SubmitResult, error) {
	if strings.TrimSpace(textBody) == "" {
		return nil, util.ErrEmptyTextBody
	}
	if s.cfg.Assessment.EnforceEnglish && !util.IsMostlyEnglish(textBody) {
		return nil, util.ErrNotEnglishText
	}
	if err := s.checkDailyQuota(userID); err != nil {
		return nil, err
	}

	wordCount := util.CountWords(textBody)

	sub := &model.Submission{
		UserID:         userID,
		SubmissionType: model.TypeWriting,
		Status:         model.StatusInProgress,
	}
	detail := &model.WritingDetail{
		Topic:     topic,
		TextBody:  textBody,
		WordCount: wordCount,
	}

	if err := s.subRepo.CreateWithWriting(sub, detail); err != nil {
		return nil, err
	}

	logger.Log.Info("Processing writing submission",
		zap.String("submissionId", sub.SubmissionID), zap.Uint("userId", userID))

	err := s.worker.Enqueue(sub.SubmissionID, "writing", func(ctx context.Context) error {
		return s.processWriting(ctx, sub.SubmissionID, topic, textBody, wordCount)
	})
	if err != nil {
		// 队列满：提交已落库，直接判定失败并留下可查询的原因
		s.recordFailure(sub.SubmissionID, "Assessment queue is full. Please try again later.")
		return nil, err
	}

	return &SubmitResult{SubmissionID: sub.SubmissionID, Status: "processing"}, nil
}

// processWriting 后台评测任务本体。先写结果行再翻状态，
// 轮询端看到completed时结果一定已就位
func (s *ExamService) processWriting(ctx context.Context, submissionID, topic, textBody string, wordCount int) error {
	outcome := s.ai.AssessWriting(ctx, topic, textBody, wordCount)

	if !outcome.Success {
		s.recordFailure(submissionID, outcome.Err)
		return errors.New(outcome.Err)
	}

	result := &model.AssessmentResult{
		SubmissionID:    submissionID,
		GrammarScore:    &outcome.GrammarScore,
		VocabularyScore: &outcome.VocabularyScore,
		CoherenceScore:  &outcome.CoherenceScore,
		FluencyScore:    &outcome.FluencyScore,
		FeedbackSummary: outcome.FeedbackSummary,
		Suggestions:     model.StringList(outcome.Suggestions),
	}
	if err := s.subRepo.CreateResult(result); err != nil {
		s.recordFailure(submissionID, genericFailureMessage)
		return err
	}
	if err := s.subRepo.MarkCompleted(submissionID, outcome.OverallScore); err != nil {
		return err
	}

	logger.Log.Info("Writing assessment completed",
		zap.String("submissionId", submissionID), zap.Float64("score", outcome.OverallScore))
	return nil
}

// SubmitListening 口语/听力提交。默认策略是占位评分：
// 记录直接completed并带固定分数。live_speaking开启后走真实转写+评分
func (s *ExamService) SubmitListening(userID uint, topic, audioURL string, durationSeconds int) (*SubmitResult, error) {
	if strings.TrimSpace(audioURL) == "" {
		return nil, util.ErrMissingAudioURL
	}
	if err := s.checkDailyQuota(userID); err != nil {
		return nil, err
	}

	if s.cfg.Assessment.LiveSpeaking {
		return s.submitListeningLive(userID, topic, audioURL, durationSeconds)
	}

	score := placeholderSpeakingScore
	sub := &model.Submission{
		UserID:         userID,
		SubmissionType: model.TypeListening,
		Status:         model.StatusCompleted,
		OverallScore:   &score,
	}
	detail := &model.ListeningDetail{
		Topic:           topic,
		AudioFileURL:    audioURL,
		DurationSeconds: durationSeconds,
	}
	result := &model.AssessmentResult{
		PronunciationScore: floatPtr(placeholderSpeakingScore),
		FluencyScore:       floatPtr(placeholderSpeakingScore),
		VocabularyScore:    floatPtr(placeholderSpeakingScore),
		GrammarScore:       floatPtr(placeholderSpeakingScore),
		CoherenceScore:     floatPtr(placeholderSpeakingScore),
		FeedbackSummary:    placeholderSpeakingFeedback,
		Suggestions:        placeholderSpeakingSuggestions,
	}

	if err := s.subRepo.CreateWithListening(sub, detail, result); err != nil {
		return nil, err
	}

	return &SubmitResult{SubmissionID: sub.SubmissionID, Status: string(model.StatusCompleted), Score: &score}, nil
}

func (s *ExamService) submitListeningLive(userID uint, topic, audioURL string, durationSeconds int) (*SubmitResult, error) {
	sub := &model.Submission{
		UserID:         userID,
		SubmissionType: model.TypeListening,
		Status:         model.StatusInProgress,
	}
	detail := &model.ListeningDetail{
		Topic:           topic,
		AudioFileURL:    audioURL,
		DurationSeconds: durationSeconds,
	}
	if err := s.subRepo.CreateWithListening(sub, detail, nil); err != nil {
		return nil, err
	}

	audioPath := s.resolveAudioPath(audioURL)
	err := s.worker.Enqueue(sub.SubmissionID, "listening", func(ctx context.Context) error {
		return s.processSpeaking(ctx, sub.SubmissionID, topic, audioPath, durationSeconds)
	})
	if err != nil {
		s.recordFailure(sub.SubmissionID, "Assessment queue is full. Please try again later.")
		return nil, err
	}

	return &SubmitResult{SubmissionID: sub.SubmissionID, Status: "processing"}, nil
}

func (s *ExamService) processSpeaking(ctx context.Context, submissionID, topic, audioPath string, durationSeconds int) error {
	outcome := s.ai.AssessSpeaking(ctx, topic, audioPath, durationSeconds)

	if !outcome.Success {
		s.recordFailure(submissionID, outcome.Err)
		return errors.New(outcome.Err)
	}

	result := &model.AssessmentResult{
		SubmissionID:       submissionID,
		GrammarScore:       &outcome.GrammarScore,
		VocabularyScore:    &outcome.VocabularyScore,
		CoherenceScore:     &outcome.CoherenceScore,
		FluencyScore:       &outcome.FluencyScore,
		PronunciationScore: &outcome.PronunciationScore,
		FeedbackSummary:    outcome.FeedbackSummary,
		Suggestions:        model.StringList(outcome.Suggestions),
	}
	if err := s.subRepo.CreateResult(result); err != nil {
		s.recordFailure(submissionID, genericFailureMessage)
		return err
	}
	if outcome.Transcription != "" {
		if err := s.subRepo.SetTranscription(submissionID, outcome.Transcription); err != nil {
			logger.Log.Error("Failed to store transcription",
				zap.String("submissionId", submissionID), zap.Error(err))
		}
	}
	if err := s.subRepo.MarkCompleted(submissionID, outcome.OverallScore); err != nil {
		return err
	}

	logger.Log.Info("Speaking assessment completed",
		zap.String("submissionId", submissionID), zap.Float64("score", outcome.OverallScore))
	return nil
}

// recordFailure 失败也要留痕：状态落为failed，原因写进结果行的FeedbackSummary
func (s *ExamService) recordFailure(submissionID, message string) {
	if message == "" {
		message = genericFailureMessage
	}
	if err := s.subRepo.MarkFailed(submissionID); err != nil {
		logger.Log.Error("Failed to mark submission failed",
			zap.String("submissionId", submissionID), zap.Error(err))
	}
	result := &model.AssessmentResult{
		SubmissionID:    submissionID,
		FeedbackSummary: message,
	}
	if err := s.subRepo.CreateResult(result); err != nil {
		logger.Log.Error("Failed to persist failure result",
			zap.String("submissionId", submissionID), zap.Error(err))
	}
}

// Status 状态轮询。completed带分数和完整结果，failed带失败原因，
// in_progress只回状态
func (s *ExamService) Status(userID uint, submissionID string) (*StatusResult, error) {
	sub, err := s.subRepo.FindByIDForUser(submissionID, userID)
	if err != nil {
		return nil, err
	}

	resp := &StatusResult{
		SubmissionID: sub.SubmissionID,
		Status:       string(sub.Status),
	}

	switch sub.Status {
	case model.StatusCompleted:
		resp.Score = sub.OverallScore
		resp.Result = sub.Result
	case model.StatusFailed:
		if sub.Result != nil && sub.Result.FeedbackSummary != "" {
			resp.Message = sub.Result.FeedbackSummary
		} else {
			resp.Message = genericFailureMessage
		}
	}

	return resp, nil
}

// Detail 详情视图：提交+类型明细+结果（如有），按所有者隔离
func (s *ExamService) Detail(userID uint, submissionID string) (*model.Submission, error) {
	return s.subRepo.FindByIDForUser(submissionID, userID)
}

// Dashboard 用户的提交历史，新提交在前
func (s *ExamService) Dashboard(userID uint) ([]model.Submission, error) {
	return s.subRepo.ListByUser(userID)
}

// checkDailyQuota 每用户每日提交上限，Redis计数，按天过期。
// Redis不可用时不拦截
func (s *ExamService) checkDailyQuota(userID uint) error {
	limit := s.cfg.Assessment.DailyLimit
	if s.rdb == nil || limit <= 0 {
		return nil
	}

	ctx := context.Background()
	now := time.Now()
	key := fmt.Sprintf("submissions:quota:%s:%d", now.Format(util.DateFormat), userID)

	count, err := s.rdb.Incr(ctx, key).Result()
	if err != nil {
		logger.Log.Error("Quota check failed", zap.Error(err))
		return nil
	}
	if count == 1 {
		midnight := time.Date(now.Year(), now.Month(), now.Day()+1, 0, 0, 0, 0, now.Location())
		s.rdb.Expire(ctx, key, time.Until(midnight))
	}
	if count > int64(limit) {
		return util.ErrDailySubmitLimit
	}
	return nil
}

// resolveAudioPath 把本地存储URL映射回磁盘路径，其余按路径原样处理
func (s *ExamService) resolveAudioPath(audioURL string) string {
	if strings.HasPrefix(audioURL, "/uploads/") {
		return filepath.Join(s.cfg.Storage.LocalPath, strings.TrimPrefix(audioURL, "/uploads/"))
	}
	return audioURL
}

func floatPtr(v float64) *float64 {
	return &v
}
