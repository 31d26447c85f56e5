package service

import (
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"
)

const rawExcerptLimit = 100

// extractAssessmentJSON 从AI回复中恢复JSON对象。
// 模型承诺只回JSON，实际经常夹带说明文字或代码块，按固定顺序尝试三种策略：
// 1. 整体直接解析
// 2. 贪婪截取第一个'{'到最后一个'}'
// 3. ```json 围栏代码块
// 全部失败时报错并附上原文截断片段，便于排查
func extractAssessmentJSON(content string) (map[string]interface{}, error) {
	content = strings.TrimSpace(content)

	var parsed map[string]interface{}
	if err := json.Unmarshal([]byte(content), &parsed); err == nil {
		return parsed, nil
	}

	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start >= 0 && end > start {
		if err := json.Unmarshal([]byte(content[start:end+1]), &parsed); err == nil {
			return parsed, nil
		}
		if block, ok := fencedJSONBlock(content); ok {
			if err := json.Unmarshal([]byte(block), &parsed); err == nil {
				return parsed, nil
			}
		}
		return nil, fmt.Errorf("failed to parse JSON from AI response: %s", excerpt(content))
	}

	return nil, fmt.Errorf("no JSON object found in AI response: %s", excerpt(content))
}

func fencedJSONBlock(content string) (string, bool) {
	marker := "```json"
	start := strings.Index(content, marker)
	if start < 0 {
		return "", false
	}
	start += len(marker)
	end := strings.Index(content[start:], "```")
	if end < 0 {
		return "", false
	}
	return strings.TrimSpace(content[start : start+end]), true
}

func excerpt(content string) string {
	if len(content) <= rawExcerptLimit {
		return content
	}
	// 截断点落在多字节字符中间时回退到字符边界，避免产出非法UTF-8
	cut := rawExcerptLimit
	for cut > 0 && !utf8.RuneStart(content[cut]) {
		cut--
	}
	return content[:cut] + "..."
}
