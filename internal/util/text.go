package util

import (
	"strings"
	"unicode"
)

// CountWords 按空白分词统计词数，与前端展示保持一致
func CountWords(s string) int {
	return len(strings.Fields(s))
}

// IsMostlyEnglish 粗略判断文本是否以英文为主：
// 字母字符中拉丁字母占比不低于80%。只做语种门槛，不做语法检查
func IsMostlyEnglish(s string) bool {
	var letters, latin int
	for _, r := range s {
		if unicode.IsLetter(r) {
			letters++
			if r < 0x250 || unicode.Is(unicode.Latin, r) {
				latin++
			}
		}
	}
	if letters == 0 {
		return false
	}
	return float64(latin)/float64(letters) >= 0.8
}
