package controller

import (
	"errors"
	"net/http"
	"path/filepath"
	"strings"
	"toefl_assess_backend/internal/config"
	"toefl_assess_backend/internal/model"
	"toefl_assess_backend/internal/service"
	"toefl_assess_backend/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// ExamController 处理提交、评测状态和考试相关的API请求
type ExamController struct {
	ExamService    *service.ExamService
	StorageService *service.StorageService
	Cfg            *config.Config
}

func NewExamController(examService *service.ExamService, storageService *service.StorageService, cfg *config.Config) *ExamController {
	return &ExamController{
		ExamService:    examService,
		StorageService: storageService,
		Cfg:            cfg,
	}
}

// SubmitWritingRequest 作文提交请求模型
// swagger:model SubmitWritingRequest
type SubmitWritingRequest struct {
	Topic    string `json:"topic"`
	TextBody string `json:"text_body"`
}

// SubmitListeningRequest 口语提交请求模型
// swagger:model SubmitListeningRequest
type SubmitListeningRequest struct {
	Topic           string `json:"topic"`
	AudioURL        string `json:"audio_url"`
	DurationSeconds int    `json:"duration_seconds"`
}

// Ping godoc
// @Summary 认证探针
// @Description 校验登录态并返回服务标识
// @Tags 考试
// @Produce json
// @Security BearerAuth
// @Success 200 {object} map[string]interface{} "成功"
// @Failure 401 {object} map[string]string "未认证"
// @Router /ping/ [get]
func (c *ExamController) Ping(ctx *gin.Context) {
	if util.GetUserFromContext(ctx) == nil {
		util.AuthRequired(ctx)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{
		"team": c.Cfg.Server.Name,
		"ok":   true,
	})
}

// SubmitWriting godoc
// @Summary 提交作文
// @Description 校验并持久化作文，异步触发AI评分，返回202和提交ID
// @Tags 考试
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body SubmitWritingRequest true "作文提交请求"
// @Success 202 {object} map[string]interface{} "已受理"
// @Failure 400 {object} map[string]interface{} "参数错误"
// @Failure 503 {object} map[string]interface{} "评测队列已满"
// @Router /api/submit-writing/ [post]
func (c *ExamController) SubmitWriting(ctx *gin.Context) {
	claims := util.GetUserFromContext(ctx)
	if claims == nil {
		util.AuthRequired(ctx)
		return
	}

	var req SubmitWritingRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "Invalid JSON body"})
		return
	}

	result, err := c.ExamService.SubmitWriting(claims.UserID, req.Topic, req.TextBody)
	if err != nil {
		c.submitError(ctx, err)
		return
	}

	ctx.JSON(http.StatusAccepted, gin.H{
		"success":       true,
		"submission_id": result.SubmissionID,
		"status":        result.Status,
	})
}

// SubmitListening godoc
// @Summary 提交口语录音
// @Description 记录口语提交；默认策略立即返回固定评分
// @Tags 考试
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body SubmitListeningRequest true "口语提交请求"
// @Success 200 {object} map[string]interface{} "成功"
// @Failure 400 {object} map[string]interface{} "参数错误"
// @Router /api/submit-listening/ [post]
func (c *ExamController) SubmitListening(ctx *gin.Context) {
	claims := util.GetUserFromContext(ctx)
	if claims == nil {
		util.AuthRequired(ctx)
		return
	}

	var req SubmitListeningRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "Invalid JSON body"})
		return
	}

	result, err := c.ExamService.SubmitListening(claims.UserID, req.Topic, req.AudioURL, req.DurationSeconds)
	if err != nil {
		c.submitError(ctx, err)
		return
	}

	resp := gin.H{
		"success":       true,
		"submission_id": result.SubmissionID,
		"status":        result.Status,
	}
	if result.Score != nil {
		resp["score"] = *result.Score
	}

	status := http.StatusOK
	if result.Status == "processing" {
		status = http.StatusAccepted
	} else {
		resp["message"] = "Audio submitted successfully"
	}
	ctx.JSON(status, resp)
}

// submitError 提交类接口的错误映射：校验错误400，限额429，队列满503
func (c *ExamController) submitError(ctx *gin.Context, err error) {
	switch {
	case errors.Is(err, util.ErrEmptyTextBody),
		errors.Is(err, util.ErrNotEnglishText),
		errors.Is(err, util.ErrMissingAudioURL):
		ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, util.ErrDailySubmitLimit):
		ctx.JSON(http.StatusTooManyRequests, gin.H{"error": err.Error()})
	case errors.Is(err, util.ErrQueueFull):
		ctx.JSON(http.StatusServiceUnavailable, gin.H{"error": "Service is busy. Please try again later."})
	default:
		util.LogInternalError(ctx, err)
	}
}

// SubmissionStatus godoc
// @Summary 查询评测状态
// @Description 轮询接口；completed返回分数和结果，failed返回失败原因
// @Tags 考试
// @Produce json
// @Security BearerAuth
// @Param submissionID path string true "提交ID"
// @Success 200 {object} map[string]interface{} "成功"
// @Failure 404 {object} map[string]interface{} "提交不存在"
// @Router /api/submission-status/{submissionID}/ [get]
func (c *ExamController) SubmissionStatus(ctx *gin.Context) {
	claims := util.GetUserFromContext(ctx)
	if claims == nil {
		util.AuthRequired(ctx)
		return
	}

	status, err := c.ExamService.Status(claims.UserID, ctx.Param("submissionID"))
	if err != nil {
		if errors.Is(err, util.ErrSubmissionNotFound) {
			ctx.JSON(http.StatusNotFound, gin.H{"error": "Submission not found"})
			return
		}
		util.LogInternalError(ctx, err)
		return
	}

	ctx.JSON(http.StatusOK, status)
}

// SubmissionDetail godoc
// @Summary 查询提交详情
// @Description 返回提交记录、类型明细和评测结果
// @Tags 考试
// @Produce json
// @Security BearerAuth
// @Param submissionID path string true "提交ID"
// @Success 200 {object} map[string]interface{} "成功"
// @Failure 404 {object} map[string]interface{} "提交不存在"
// @Router /api/submissions/{submissionID}/ [get]
func (c *ExamController) SubmissionDetail(ctx *gin.Context) {
	claims := util.GetUserFromContext(ctx)
	if claims == nil {
		util.AuthRequired(ctx)
		return
	}

	sub, err := c.ExamService.Detail(claims.UserID, ctx.Param("submissionID"))
	if err != nil {
		if errors.Is(err, util.ErrSubmissionNotFound) {
			ctx.JSON(http.StatusNotFound, gin.H{"error": "Submission not found"})
			return
		}
		util.LogInternalError(ctx, err)
		return
	}

	ctx.JSON(http.StatusOK, submissionPayload(sub))
}

// Dashboard godoc
// @Summary 提交历史
// @Description 当前用户的全部提交，新提交在前
// @Tags 考试
// @Produce json
// @Security BearerAuth
// @Success 200 {object} map[string]interface{} "成功"
// @Router /api/dashboard/ [get]
func (c *ExamController) Dashboard(ctx *gin.Context) {
	claims := util.GetUserFromContext(ctx)
	if claims == nil {
		util.AuthRequired(ctx)
		return
	}

	subs, err := c.ExamService.Dashboard(claims.UserID)
	if err != nil {
		util.LogInternalError(ctx, err)
		return
	}

	payloads := make([]gin.H, 0, len(subs))
	for i := range subs {
		payloads = append(payloads, submissionPayload(&subs[i]))
	}

	ctx.JSON(http.StatusOK, gin.H{"submissions": payloads})
}

// Topics godoc
// @Summary 考试题目列表
// @Description 返回写作和口语的可选题目
// @Tags 考试
// @Produce json
// @Security BearerAuth
// @Success 200 {object} map[string]interface{} "成功"
// @Router /api/exam/topics/ [get]
func (c *ExamController) Topics(ctx *gin.Context) {
	claims := util.GetUserFromContext(ctx)
	if claims == nil {
		util.AuthRequired(ctx)
		return
	}

	ctx.JSON(http.StatusOK, gin.H{
		"writing_topics":   service.WritingTopics,
		"listening_topics": service.ListeningTopics,
	})
}

// UploadAudio godoc
// @Summary 上传口语录音
// @Description 保存音频文件并探测时长，返回audio_url供口语提交使用
// @Tags 考试
// @Accept multipart/form-data
// @Produce json
// @Security BearerAuth
// @Param file formData file true "音频文件"
// @Success 200 {object} util.Response "成功"
// @Failure 400 {object} util.Response "文件缺失或类型不支持"
// @Router /api/exam/audio/upload [post]
func (c *ExamController) UploadAudio(ctx *gin.Context) {
	claims := util.GetUserFromContext(ctx)
	if claims == nil {
		util.AuthRequired(ctx)
		return
	}

	file, err := ctx.FormFile("file")
	if err != nil {
		util.BadRequest(ctx, "Audio file is required")
		return
	}

	ext := strings.ToLower(filepath.Ext(file.Filename))
	allowed := false
	for _, e := range util.AllowedAudioExtensions {
		if ext == e {
			allowed = true
			break
		}
	}
	if !allowed {
		util.BadRequest(ctx, "Unsupported audio format: "+ext)
		return
	}

	src, err := file.Open()
	if err != nil {
		util.LogInternalError(ctx, err)
		return
	}
	defer src.Close()

	contentType := file.Header.Get("Content-Type")
	if contentType == "" {
		contentType = util.MimeOctetStream
	}

	filename := "audio/" + uuid.New().String() + ext
	audioURL, err := c.StorageService.Upload(ctx.Request.Context(), filename, src, file.Size, contentType)
	if err != nil {
		util.LogInternalError(ctx, err)
		return
	}

	// 本地存储时顺带探测时长，探测失败不阻塞上传
	durationSeconds := 0
	if c.Cfg.Storage.Type == util.StorageLocal {
		localPath := filepath.Join(c.Cfg.Storage.LocalPath, filename)
		if info, err := util.GetAudioInfo(localPath); err == nil {
			durationSeconds = int(info.Duration)
		}
	}

	util.Success(ctx, gin.H{
		"audio_url":        audioURL,
		"duration_seconds": durationSeconds,
	})
}

// submissionPayload 详情/历史的序列化，按提交类型裁剪字段
func submissionPayload(sub *model.Submission) gin.H {
	payload := gin.H{
		"submission_id":   sub.SubmissionID,
		"submission_type": string(sub.SubmissionType),
		"status":          string(sub.Status),
		"created_at":      sub.CreatedAt,
	}
	if sub.OverallScore != nil {
		payload["overall_score"] = *sub.OverallScore
	}

	switch sub.SubmissionType {
	case model.TypeWriting:
		if sub.WritingDetail != nil {
			payload["topic"] = sub.WritingDetail.Topic
			payload["text_body"] = sub.WritingDetail.TextBody
			payload["word_count"] = sub.WritingDetail.WordCount
		}
	case model.TypeListening:
		if sub.ListeningDetail != nil {
			payload["topic"] = sub.ListeningDetail.Topic
			payload["audio_file_url"] = sub.ListeningDetail.AudioFileURL
			payload["duration_seconds"] = sub.ListeningDetail.DurationSeconds
			if sub.ListeningDetail.Transcription != nil {
				payload["transcription"] = *sub.ListeningDetail.Transcription
			}
		}
	}

	if sub.Result != nil {
		payload["result"] = sub.Result
	}

	return payload
}
