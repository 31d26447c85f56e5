package util

import "errors"

var (
	ErrUserNotFound       = errors.New("用户不存在")
	ErrEmailRegistered    = errors.New("该邮箱已被注册")
	ErrSubmissionNotFound = errors.New("submission not found")
	ErrEmptyTextBody      = errors.New("Text body is required")
	ErrNotEnglishText     = errors.New("Submission must be written in English")
	ErrMissingAudioURL    = errors.New("Audio URL is required")
	ErrQueueFull          = errors.New("assessment queue is full")
	ErrDailySubmitLimit   = errors.New("daily submission limit reached")
)
