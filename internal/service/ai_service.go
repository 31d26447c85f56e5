package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
	"toefl_assess_backend/internal/config"
	"toefl_assess_backend/pkg/logger"

	"go.uber.org/zap"
)

// FailureKind 区分评测失败的类别，决定面向用户的提示文案
type FailureKind string

const (
	FailConnectivity    FailureKind = "connectivity"     // 网络/超时
	FailRateLimited     FailureKind = "rate_limited"     // 429
	FailOracle          FailureKind = "oracle"           // AI服务返回错误
	FailInvalidResponse FailureKind = "invalid_response" // 本地解析/校验失败
)

// Outcome AI评测的归一化结果。调用方只看Success分支，
// 不需要处理底层的各种错误类型
type Outcome struct {
	Success bool

	OverallScore       float64
	GrammarScore       float64
	VocabularyScore    float64
	CoherenceScore     float64
	FluencyScore       float64
	PronunciationScore float64 // 仅口语
	FeedbackSummary    string
	Suggestions        []string
	Transcription      string // 仅口语

	Err  string
	Kind FailureKind
}

// TranscriptionOutcome 音频转写结果
type TranscriptionOutcome struct {
	Success bool
	Text    string
	Err     string
	Kind    FailureKind
}

// Assessor 供工作流调用的评测入口，便于测试注入
type Assessor interface {
	AssessWriting(ctx context.Context, topic, textBody string, wordCount int) Outcome
	AssessSpeaking(ctx context.Context, topic, audioPath string, durationSeconds int) Outcome
}

type AIService struct {
	config config.AIConfig
	client *http.Client
}

func NewAIService(cfg config.AIConfig) *AIService {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &AIService{
		config: cfg,
		client: &http.Client{Timeout: timeout},
	}
}

type AIChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ChatCompletionRequest struct {
	Model       string          `json:"model"`
	Messages    []AIChatMessage `json:"messages"`
	Temperature float64         `json:"temperature"`
	MaxTokens   int             `json:"max_tokens"`
}

type ChatCompletionResponse struct {
	Choices []struct {
		Message AIChatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

type transcriptionResponse struct {
	Text string `json:"text"`
}

// AssessWriting 调用AI对作文打分，返回归一化结果
func (s *AIService) AssessWriting(ctx context.Context, topic, textBody string, wordCount int) Outcome {
	logger.Log.Info("Assessing writing submission", zap.Int("wordCount", wordCount))

	userPrompt := fmt.Sprintf(writingUserPromptTemplate, topic, textBody, wordCount)
	content, fail := s.chatCompletion(ctx, writingSystemPrompt, userPrompt)
	if fail != nil {
		return *fail
	}

	outcome, err := buildOutcome(content, false)
	if err != nil {
		logger.Log.Error("Writing assessment response invalid", zap.Error(err))
		return invalidResponseOutcome(err)
	}

	logger.Log.Info("Writing assessment completed", zap.Float64("overallScore", outcome.OverallScore))
	return outcome
}

// TranscribeAudio 调用转写接口，文件缺失或空转写都算失败
func (s *AIService) TranscribeAudio(ctx context.Context, audioPath string) TranscriptionOutcome {
	logger.Log.Info("Transcribing audio file", zap.String("path", audioPath))

	file, err := os.Open(audioPath)
	if err != nil {
		logger.Log.Error("Audio file not found", zap.String("path", audioPath))
		return TranscriptionOutcome{
			Err:  "Audio file not found.",
			Kind: FailInvalidResponse,
		}
	}
	defer file.Close()

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("file", filepath.Base(audioPath))
	if err != nil {
		return TranscriptionOutcome{Err: "Transcription failed: " + err.Error(), Kind: FailInvalidResponse}
	}
	if _, err := io.Copy(part, file); err != nil {
		return TranscriptionOutcome{Err: "Transcription failed: " + err.Error(), Kind: FailInvalidResponse}
	}
	if err := writer.WriteField("model", s.config.TranscribeModel); err != nil {
		return TranscriptionOutcome{Err: "Transcription failed: " + err.Error(), Kind: FailInvalidResponse}
	}
	writer.Close()

	req, err := http.NewRequestWithContext(ctx, "POST", s.config.BaseURL+"/audio/transcriptions", &body)
	if err != nil {
		return TranscriptionOutcome{Err: "Transcription failed: " + err.Error(), Kind: FailInvalidResponse}
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+s.config.APIKey)

	resp, err := s.client.Do(req)
	if err != nil {
		logger.Log.Error("Transcription connection error", zap.Error(err))
		return TranscriptionOutcome{
			Err:  "Failed to connect to transcription service.",
			Kind: FailConnectivity,
		}
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		logger.Log.Error("Transcription service error",
			zap.Int("status", resp.StatusCode), zap.String("body", excerpt(string(respBody))))
		kind := FailOracle
		if resp.StatusCode == http.StatusTooManyRequests {
			kind = FailRateLimited
		}
		return TranscriptionOutcome{
			Err:  fmt.Sprintf("Transcription service error: status %d", resp.StatusCode),
			Kind: kind,
		}
	}

	var result transcriptionResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return TranscriptionOutcome{Err: "Transcription failed: " + err.Error(), Kind: FailInvalidResponse}
	}

	text := strings.TrimSpace(result.Text)
	if text == "" {
		return TranscriptionOutcome{
			Err:  "No speech detected in the audio file.",
			Kind: FailInvalidResponse,
		}
	}

	logger.Log.Info("Transcription completed", zap.Int("chars", len(text)))
	return TranscriptionOutcome{Success: true, Text: text}
}

// AssessSpeaking 先转写再按口语标准打分，转写失败直接短路返回
func (s *AIService) AssessSpeaking(ctx context.Context, topic, audioPath string, durationSeconds int) Outcome {
	transcription := s.TranscribeAudio(ctx, audioPath)
	if !transcription.Success {
		return Outcome{Err: transcription.Err, Kind: transcription.Kind}
	}

	logger.Log.Info("Assessing speaking submission", zap.Int("durationSeconds", durationSeconds))

	userPrompt := fmt.Sprintf(speakingUserPromptTemplate, topic, transcription.Text, durationSeconds)
	content, fail := s.chatCompletion(ctx, speakingSystemPrompt, userPrompt)
	if fail != nil {
		return *fail
	}

	outcome, err := buildOutcome(content, true)
	if err != nil {
		logger.Log.Error("Speaking assessment response invalid", zap.Error(err))
		return invalidResponseOutcome(err)
	}

	outcome.Transcription = transcription.Text
	logger.Log.Info("Speaking assessment completed", zap.Float64("overallScore", outcome.OverallScore))
	return outcome
}

// chatCompletion 调用chat接口并取回首条回复文本，
// 所有失败都折叠成带用户文案的Outcome
func (s *AIService) chatCompletion(ctx context.Context, systemPrompt, userPrompt string) (string, *Outcome) {
	reqBody := ChatCompletionRequest{
		Model: s.config.ChatModel,
		Messages: []AIChatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userPrompt},
		},
		Temperature: s.config.Temperature,
		MaxTokens:   s.config.MaxTokens,
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return "", &Outcome{Err: "Assessment failed: " + err.Error(), Kind: FailInvalidResponse}
	}

	req, err := http.NewRequestWithContext(ctx, "POST", s.config.BaseURL+"/chat/completions", bytes.NewBuffer(jsonData))
	if err != nil {
		return "", &Outcome{Err: "Assessment failed: " + err.Error(), Kind: FailInvalidResponse}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.config.APIKey)

	resp, err := s.client.Do(req)
	if err != nil {
		logger.Log.Error("AI connection error", zap.Error(err))
		return "", &Outcome{
			Err:  "Failed to connect to AI service. Please try again later.",
			Kind: FailConnectivity,
		}
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)

	if resp.StatusCode == http.StatusTooManyRequests {
		logger.Log.Error("AI rate limit hit")
		return "", &Outcome{
			Err:  "Too many requests. Please wait a moment and try again.",
			Kind: FailRateLimited,
		}
	}
	if resp.StatusCode != http.StatusOK {
		logger.Log.Error("AI API error",
			zap.Int("status", resp.StatusCode), zap.String("body", excerpt(string(body))))
		return "", &Outcome{
			Err:  fmt.Sprintf("AI service error: status %d", resp.StatusCode),
			Kind: FailOracle,
		}
	}

	var result ChatCompletionResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return "", &Outcome{Err: "Assessment failed: " + err.Error(), Kind: FailInvalidResponse}
	}
	if result.Error != nil {
		return "", &Outcome{
			Err:  "AI service error: " + result.Error.Message,
			Kind: FailOracle,
		}
	}
	if len(result.Choices) == 0 {
		return "", &Outcome{
			Err:  "AI service error: no choices returned",
			Kind: FailOracle,
		}
	}

	return strings.TrimSpace(result.Choices[0].Message.Content), nil
}

var writingScoreFields = []string{
	"overall_score", "grammar_score", "vocabulary_score", "coherence_score", "fluency_score",
}

// buildOutcome 解析并校验评分JSON。必填字段缺失、分数无法转成数字
// 都按校验失败处理；suggestions为单个值时包装成单元素列表
func buildOutcome(content string, speaking bool) (Outcome, error) {
	assessment, err := extractAssessmentJSON(content)
	if err != nil {
		return Outcome{}, err
	}

	scoreFields := writingScoreFields
	if speaking {
		scoreFields = append(append([]string{}, writingScoreFields...), "pronunciation_score")
	}

	required := append(append([]string{}, scoreFields...), "feedback_summary", "suggestions")
	for _, field := range required {
		if _, ok := assessment[field]; !ok {
			return Outcome{}, fmt.Errorf("missing required field: %s", field)
		}
	}

	scores := make(map[string]float64, len(scoreFields))
	for _, field := range scoreFields {
		v, err := coerceFloat(assessment[field])
		if err != nil {
			return Outcome{}, fmt.Errorf("field %s is not a number: %v", field, assessment[field])
		}
		scores[field] = v
	}

	outcome := Outcome{
		Success:         true,
		OverallScore:    scores["overall_score"],
		GrammarScore:    scores["grammar_score"],
		VocabularyScore: scores["vocabulary_score"],
		CoherenceScore:  scores["coherence_score"],
		FluencyScore:    scores["fluency_score"],
		FeedbackSummary: fmt.Sprintf("%v", assessment["feedback_summary"]),
		Suggestions:     normalizeSuggestions(assessment["suggestions"]),
	}
	if speaking {
		outcome.PronunciationScore = scores["pronunciation_score"]
	}
	return outcome, nil
}

func coerceFloat(v interface{}) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case string:
		return strconv.ParseFloat(strings.TrimSpace(n), 64)
	case json.Number:
		return n.Float64()
	default:
		return 0, fmt.Errorf("unsupported type %T", v)
	}
}

func normalizeSuggestions(v interface{}) []string {
	switch items := v.(type) {
	case []interface{}:
		out := make([]string, 0, len(items))
		for _, item := range items {
			out = append(out, fmt.Sprintf("%v", item))
		}
		return out
	default:
		return []string{fmt.Sprintf("%v", v)}
	}
}

func invalidResponseOutcome(err error) Outcome {
	return Outcome{
		Err:  "Assessment failed: " + err.Error(),
		Kind: FailInvalidResponse,
	}
}
