package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
	"toefl_assess_backend/internal/config"
	"toefl_assess_backend/internal/model"
	"toefl_assess_backend/internal/repository"
	"toefl_assess_backend/internal/util"
	"toefl_assess_backend/pkg/database"

	"github.com/go-redis/redis/v8"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := database.Migrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

// fakeAssessor 返回预设结果，避免测试触网
type fakeAssessor struct {
	writing  Outcome
	speaking Outcome
}

func (f *fakeAssessor) AssessWriting(ctx context.Context, topic, textBody string, wordCount int) Outcome {
	return f.writing
}

func (f *fakeAssessor) AssessSpeaking(ctx context.Context, topic, audioPath string, durationSeconds int) Outcome {
	return f.speaking
}

func successfulWritingOutcome() Outcome {
	return Outcome{
		Success:         true,
		OverallScore:    88.5,
		GrammarScore:    85,
		VocabularyScore: 90,
		CoherenceScore:  89,
		FluencyScore:    87,
		FeedbackSummary: "Strong essay overall.",
		Suggestions:     []string{"Expand the conclusion"},
	}
}

func newTestExamService(t *testing.T, ai Assessor) (*ExamService, *repository.SubmissionRepository, *AssessWorker) {
	t.Helper()
	db := openTestDB(t)
	subRepo := repository.NewSubmissionRepository(db)
	worker := NewAssessWorker(1, 8)
	worker.Start()
	cfg := &config.Config{
		Assessment: config.AssessmentConfig{EnforceEnglish: true},
	}
	return NewExamService(subRepo, ai, worker, nil, cfg), subRepo, worker
}

func TestSubmitWritingHappyPath(t *testing.T) {
	svc, subRepo, worker := newTestExamService(t, &fakeAssessor{writing: successfulWritingOutcome()})

	result, err := svc.SubmitWriting(1, "Remote work", "I believe remote work has changed how teams collaborate across the world.")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Status != "processing" {
		t.Errorf("Status = %q, want processing", result.Status)
	}
	if result.SubmissionID == "" {
		t.Fatal("missing submission id")
	}

	worker.Stop() // 等后台评测跑完

	sub, err := subRepo.FindByIDForUser(result.SubmissionID, 1)
	if err != nil {
		t.Fatalf("find submission: %v", err)
	}
	if sub.Status != model.StatusCompleted {
		t.Fatalf("Status = %q, want completed", sub.Status)
	}
	if sub.OverallScore == nil || *sub.OverallScore != 88.5 {
		t.Errorf("OverallScore = %v, want 88.5", sub.OverallScore)
	}
	if sub.WritingDetail == nil {
		t.Fatal("missing writing detail")
	}
	if sub.WritingDetail.WordCount != 12 {
		t.Errorf("WordCount = %d, want 12", sub.WritingDetail.WordCount)
	}
	if sub.Result == nil {
		t.Fatal("missing assessment result")
	}
	if sub.Result.GrammarScore == nil || *sub.Result.GrammarScore != 85 {
		t.Errorf("GrammarScore = %v, want 85", sub.Result.GrammarScore)
	}
	if sub.Result.FeedbackSummary != "Strong essay overall." {
		t.Errorf("FeedbackSummary = %q", sub.Result.FeedbackSummary)
	}
	if len(sub.Result.Suggestions) != 1 || sub.Result.Suggestions[0] != "Expand the conclusion" {
		t.Errorf("Suggestions = %v", sub.Result.Suggestions)
	}
}

func TestSubmitWritingEmptyBody(t *testing.T) {
	svc, subRepo, worker := newTestExamService(t, &fakeAssessor{})
	defer worker.Stop()

	_, err := svc.SubmitWriting(1, "Topic", "   \n\t  ")
	if !errors.Is(err, util.ErrEmptyTextBody) {
		t.Fatalf("err = %v, want ErrEmptyTextBody", err)
	}

	// 校验失败前不应有任何落库
	count, err := subRepo.CountByUser(1)
	if err != nil {
		t.Fatal(err)
	}
	if count != 0 {
		t.Errorf("submission count = %d, want 0", count)
	}
}

func TestSubmitWritingRejectsNonEnglish(t *testing.T) {
	svc, subRepo, worker := newTestExamService(t, &fakeAssessor{})
	defer worker.Stop()

	_, err := svc.SubmitWriting(1, "Topic", "这篇文章完全是用中文写的，不应该被接受评分。")
	if !errors.Is(err, util.ErrNotEnglishText) {
		t.Fatalf("err = %v, want ErrNotEnglishText", err)
	}

	count, _ := subRepo.CountByUser(1)
	if count != 0 {
		t.Errorf("submission count = %d, want 0", count)
	}
}

func TestSubmitWritingAssessmentFailure(t *testing.T) {
	failing := &fakeAssessor{writing: Outcome{
		Err:  "Failed to connect to AI service. Please try again later.",
		Kind: FailConnectivity,
	}}
	svc, subRepo, worker := newTestExamService(t, failing)

	result, err := svc.SubmitWriting(1, "Topic", "A perfectly fine English essay about something.")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	worker.Stop()

	sub, err := subRepo.FindByIDForUser(result.SubmissionID, 1)
	if err != nil {
		t.Fatal(err)
	}
	if sub.Status != model.StatusFailed {
		t.Fatalf("Status = %q, want failed", sub.Status)
	}
	if sub.OverallScore != nil {
		t.Errorf("OverallScore = %v, want nil", sub.OverallScore)
	}
	if sub.Result == nil || sub.Result.FeedbackSummary != "Failed to connect to AI service. Please try again later." {
		t.Errorf("failure reason not preserved: %+v", sub.Result)
	}
}

func TestCompletedSubmissionIsTerminal(t *testing.T) {
	svc, subRepo, worker := newTestExamService(t, &fakeAssessor{writing: successfulWritingOutcome()})

	result, err := svc.SubmitWriting(1, "Topic", "An essay that will complete successfully on the first pass.")
	if err != nil {
		t.Fatal(err)
	}
	worker.Stop()

	// 已完成的提交即使再被标记失败也不能改变终态
	if err := subRepo.MarkFailed(result.SubmissionID); err != nil {
		t.Fatal(err)
	}

	sub, err := subRepo.FindByIDForUser(result.SubmissionID, 1)
	if err != nil {
		t.Fatal(err)
	}
	if sub.Status != model.StatusCompleted {
		t.Errorf("Status = %q, terminal state must not change", sub.Status)
	}
}

func TestSubmitWritingQueueFull(t *testing.T) {
	db := openTestDB(t)
	subRepo := repository.NewSubmissionRepository(db)
	worker := NewAssessWorker(1, 0) // 未启动且零容量，入队必失败
	cfg := &config.Config{Assessment: config.AssessmentConfig{}}
	svc := NewExamService(subRepo, &fakeAssessor{}, worker, nil, cfg)

	result, err := svc.SubmitWriting(1, "Topic", "Essay text that never gets assessed.")
	if !errors.Is(err, util.ErrQueueFull) {
		t.Fatalf("err = %v, want ErrQueueFull", err)
	}
	if result != nil {
		t.Errorf("result = %+v, want nil", result)
	}

	// 提交已落库，必须被标记为failed而不是悬在in_progress
	subs, err := subRepo.ListByUser(1)
	if err != nil {
		t.Fatal(err)
	}
	if len(subs) != 1 {
		t.Fatalf("submission count = %d, want 1", len(subs))
	}
	if subs[0].Status != model.StatusFailed {
		t.Errorf("Status = %q, want failed", subs[0].Status)
	}
}

func TestSubmitListeningStub(t *testing.T) {
	svc, subRepo, worker := newTestExamService(t, &fakeAssessor{})
	defer worker.Stop()

	result, err := svc.SubmitListening(1, "Childhood memory", "/uploads/audio/abc.mp3", 42)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Status != string(model.StatusCompleted) {
		t.Errorf("Status = %q, want completed", result.Status)
	}
	if result.Score == nil || *result.Score != 90.0 {
		t.Errorf("Score = %v, want 90", result.Score)
	}

	sub, err := subRepo.FindByIDForUser(result.SubmissionID, 1)
	if err != nil {
		t.Fatal(err)
	}
	if sub.Status != model.StatusCompleted {
		t.Errorf("Status = %q", sub.Status)
	}
	if sub.ListeningDetail == nil || sub.ListeningDetail.AudioFileURL != "/uploads/audio/abc.mp3" {
		t.Errorf("ListeningDetail = %+v", sub.ListeningDetail)
	}
	if sub.ListeningDetail.DurationSeconds != 42 {
		t.Errorf("DurationSeconds = %d, want 42", sub.ListeningDetail.DurationSeconds)
	}
	if sub.Result == nil || sub.Result.FeedbackSummary != placeholderSpeakingFeedback {
		t.Errorf("Result = %+v", sub.Result)
	}
	if len(sub.Result.Suggestions) != 3 {
		t.Errorf("Suggestions = %v", sub.Result.Suggestions)
	}
}

func TestSubmitListeningMissingAudioURL(t *testing.T) {
	svc, _, worker := newTestExamService(t, &fakeAssessor{})
	defer worker.Stop()

	_, err := svc.SubmitListening(1, "Topic", "  ", 10)
	if !errors.Is(err, util.ErrMissingAudioURL) {
		t.Fatalf("err = %v, want ErrMissingAudioURL", err)
	}
}

func TestSubmitListeningLivePath(t *testing.T) {
	db := openTestDB(t)
	subRepo := repository.NewSubmissionRepository(db)
	worker := NewAssessWorker(1, 8)
	worker.Start()
	speaking := successfulWritingOutcome()
	speaking.PronunciationScore = 83
	speaking.Transcription = "my transcribed answer"
	cfg := &config.Config{Assessment: config.AssessmentConfig{LiveSpeaking: true}}
	svc := NewExamService(subRepo, &fakeAssessor{speaking: speaking}, worker, nil, cfg)

	result, err := svc.SubmitListening(1, "Topic", "/uploads/audio/live.mp3", 30)
	if err != nil {
		t.Fatal(err)
	}
	if result.Status != "processing" {
		t.Errorf("Status = %q, want processing", result.Status)
	}

	worker.Stop()

	sub, err := subRepo.FindByIDForUser(result.SubmissionID, 1)
	if err != nil {
		t.Fatal(err)
	}
	if sub.Status != model.StatusCompleted {
		t.Fatalf("Status = %q, want completed", sub.Status)
	}
	if sub.Result == nil || sub.Result.PronunciationScore == nil || *sub.Result.PronunciationScore != 83 {
		t.Errorf("PronunciationScore missing: %+v", sub.Result)
	}
	if sub.ListeningDetail.Transcription == nil || *sub.ListeningDetail.Transcription != "my transcribed answer" {
		t.Errorf("Transcription = %v", sub.ListeningDetail.Transcription)
	}
}

// fakeQuotaCounter 内存版的限额计数器，记录TTL设置便于断言
type fakeQuotaCounter struct {
	counts map[string]int64
	ttls   map[string]time.Duration
}

func newFakeQuotaCounter() *fakeQuotaCounter {
	return &fakeQuotaCounter{counts: map[string]int64{}, ttls: map[string]time.Duration{}}
}

func (f *fakeQuotaCounter) Incr(ctx context.Context, key string) *redis.IntCmd {
	f.counts[key]++
	return redis.NewIntResult(f.counts[key], nil)
}

func (f *fakeQuotaCounter) Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd {
	f.ttls[key] = expiration
	return redis.NewBoolResult(true, nil)
}

func TestDailySubmitQuota(t *testing.T) {
	db := openTestDB(t)
	subRepo := repository.NewSubmissionRepository(db)
	worker := NewAssessWorker(1, 8)
	worker.Start()
	defer worker.Stop()

	quota := newFakeQuotaCounter()
	cfg := &config.Config{Assessment: config.AssessmentConfig{DailyLimit: 2}}
	svc := NewExamService(subRepo, &fakeAssessor{writing: successfulWritingOutcome()}, worker, quota, cfg)

	for i := 0; i < 2; i++ {
		if _, err := svc.SubmitWriting(7, "Topic", "An essay well under the daily quota."); err != nil {
			t.Fatalf("submission %d: %v", i+1, err)
		}
	}

	// 第三次超限
	_, err := svc.SubmitWriting(7, "Topic", "One essay too many for today.")
	if !errors.Is(err, util.ErrDailySubmitLimit) {
		t.Fatalf("err = %v, want ErrDailySubmitLimit", err)
	}

	// 超限的提交不落库
	count, err := subRepo.CountByUser(7)
	if err != nil {
		t.Fatal(err)
	}
	if count != 2 {
		t.Errorf("submission count = %d, want 2", count)
	}

	if len(quota.counts) != 1 {
		t.Fatalf("quota keys = %v, want exactly one per user per day", quota.counts)
	}
	for key, n := range quota.counts {
		if !strings.HasPrefix(key, "submissions:quota:") {
			t.Errorf("quota key = %q", key)
		}
		if n != 3 {
			t.Errorf("quota count = %d, want 3", n)
		}
		// TTL只在首次计数时设置，且不过当天午夜
		ttl, ok := quota.ttls[key]
		if !ok {
			t.Fatal("expiry never set on first increment")
		}
		if ttl <= 0 || ttl > 24*time.Hour {
			t.Errorf("ttl = %v, want within (0, 24h]", ttl)
		}
	}

	// 限流关闭或计数器缺席时不拦截
	offSvc := NewExamService(subRepo, &fakeAssessor{writing: successfulWritingOutcome()}, worker, nil, cfg)
	if _, err := offSvc.SubmitWriting(8, "Topic", "Quota checks degrade gracefully without redis."); err != nil {
		t.Errorf("nil counter should not block submissions: %v", err)
	}
}

func TestStatusPayloadByState(t *testing.T) {
	svc, subRepo, worker := newTestExamService(t, &fakeAssessor{writing: successfulWritingOutcome()})
	defer worker.Stop()

	// in_progress：手工造一条，避免与后台任务赛跑
	inProgress := &model.Submission{UserID: 2, SubmissionType: model.TypeWriting, Status: model.StatusInProgress}
	if err := subRepo.CreateWithWriting(inProgress, &model.WritingDetail{Topic: "t", TextBody: "b", WordCount: 1}); err != nil {
		t.Fatal(err)
	}

	status, err := svc.Status(2, inProgress.SubmissionID)
	if err != nil {
		t.Fatal(err)
	}
	if status.Status != "in_progress" || status.Score != nil || status.Result != nil {
		t.Errorf("in_progress payload = %+v", status)
	}

	// failed：带失败原因
	failed := &model.Submission{UserID: 2, SubmissionType: model.TypeWriting, Status: model.StatusInProgress}
	if err := subRepo.CreateWithWriting(failed, &model.WritingDetail{Topic: "t", TextBody: "b", WordCount: 1}); err != nil {
		t.Fatal(err)
	}
	if err := subRepo.MarkFailed(failed.SubmissionID); err != nil {
		t.Fatal(err)
	}
	if err := subRepo.CreateResult(&model.AssessmentResult{
		SubmissionID:    failed.SubmissionID,
		FeedbackSummary: "Too many requests. Please wait a moment and try again.",
	}); err != nil {
		t.Fatal(err)
	}

	status, err = svc.Status(2, failed.SubmissionID)
	if err != nil {
		t.Fatal(err)
	}
	if status.Status != "failed" {
		t.Errorf("Status = %q", status.Status)
	}
	if status.Message != "Too many requests. Please wait a moment and try again." {
		t.Errorf("Message = %q", status.Message)
	}

	// 不存在的提交
	if _, err := svc.Status(2, "no-such-id"); !errors.Is(err, util.ErrSubmissionNotFound) {
		t.Errorf("err = %v, want ErrSubmissionNotFound", err)
	}

	// 不属于当前用户的提交同样按不存在处理
	if _, err := svc.Status(99, inProgress.SubmissionID); !errors.Is(err, util.ErrSubmissionNotFound) {
		t.Errorf("cross-user err = %v, want ErrSubmissionNotFound", err)
	}
}

func TestDashboardNewestFirst(t *testing.T) {
	svc, subRepo, worker := newTestExamService(t, &fakeAssessor{})
	defer worker.Stop()

	old := &model.Submission{UserID: 3, SubmissionType: model.TypeWriting, Status: model.StatusCompleted,
		CreatedAt: time.Now().Add(-2 * time.Hour)}
	if err := subRepo.CreateWithWriting(old, &model.WritingDetail{Topic: "old", TextBody: "x", WordCount: 1}); err != nil {
		t.Fatal(err)
	}
	recent := &model.Submission{UserID: 3, SubmissionType: model.TypeListening, Status: model.StatusCompleted}
	if err := subRepo.CreateWithListening(recent, &model.ListeningDetail{Topic: "new", AudioFileURL: "/uploads/a.mp3"}, nil); err != nil {
		t.Fatal(err)
	}

	subs, err := svc.Dashboard(3)
	if err != nil {
		t.Fatal(err)
	}
	if len(subs) != 2 {
		t.Fatalf("len = %d, want 2", len(subs))
	}
	if subs[0].SubmissionID != recent.SubmissionID {
		t.Errorf("first submission = %s, want newest", subs[0].SubmissionID)
	}

	// 其他用户的提交不可见
	other, err := svc.Dashboard(4)
	if err != nil {
		t.Fatal(err)
	}
	if len(other) != 0 {
		t.Errorf("other user sees %d submissions", len(other))
	}
}
