package sanitize

import (
	"html"
	"net/url"
	"regexp"
	"strings"
)

// URL协议允许列表
var allowedSchemes = map[string]bool{
	"http":  true,
	"https": true,
}

// 即使能通过解析也必须拒绝的危险协议
var deniedSchemePattern = regexp.MustCompile(`(?i)^\s*(javascript|data|vbscript|file|about)\s*:`)

// 内容本身会被整体丢弃的元素
var droppedElements = map[string]bool{
	"script": true,
	"style":  true,
}

// 注入模式检测，用于IsContentSafe
var unsafePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)<\s*script`),
	regexp.MustCompile(`(?i)\bon\w+\s*=`),
	regexp.MustCompile(`(?i)javascript\s*:`),
	regexp.MustCompile(`(?i)<\s*(iframe|object|embed)`),
	regexp.MustCompile(`(?i)data\s*:\s*text/html`),
	regexp.MustCompile(`(?i)expression\s*\(`),
}

// URL类字段的键名特征
var urlFieldPattern = regexp.MustCompile(`(?i)(url|link|website|homepage|screenshot)`)

// Text 清洗自由文本
//
// 剥离全部标记标签只保留文本内容，script/style元素连同
// 内容一起丢弃，HTML实体还原，首尾空白去除。
func Text(s string) string {
	if s == "" {
		return ""
	}

	var b strings.Builder
	b.Grow(len(s))

	for i := 0; i < len(s); {
		if s[i] != '<' {
			b.WriteByte(s[i])
			i++
			continue
		}

		end := strings.IndexByte(s[i:], '>')
		if end < 0 {
			// 未闭合的标签，丢弃余下内容
			break
		}

		tag := s[i+1 : i+end]
		name := tagName(tag)

		if droppedElements[name] && !strings.HasPrefix(tag, "/") {
			// 跳到对应的闭合标签之后，内容整体丢弃
			closing := "</" + name
			rest := strings.ToLower(s[i+end+1:])
			closeIdx := strings.Index(rest, closing)
			if closeIdx < 0 {
				break
			}
			skip := i + end + 1 + closeIdx
			closeEnd := strings.IndexByte(s[skip:], '>')
			if closeEnd < 0 {
				break
			}
			i = skip + closeEnd + 1
			continue
		}

		i += end + 1
	}

	return strings.TrimSpace(html.UnescapeString(b.String()))
}

// tagName 提取标签名，忽略属性和闭合斜杠
func tagName(tag string) string {
	tag = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(tag), "/"))
	for i := 0; i < len(tag); i++ {
		if tag[i] == ' ' || tag[i] == '\t' || tag[i] == '\n' || tag[i] == '/' {
			return strings.ToLower(tag[:i])
		}
	}
	return strings.ToLower(tag)
}

// URL 清洗URL字段
//
// 解析失败、协议不在允许列表内、或命中危险协议时返回
// 空串，否则返回规范化后的URL。
func URL(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}

	// 危险协议显式拒绝，即使后续解析能通过
	if deniedSchemePattern.MatchString(s) {
		return ""
	}

	u, err := url.Parse(s)
	if err != nil {
		return ""
	}

	if !allowedSchemes[strings.ToLower(u.Scheme)] {
		return ""
	}

	if u.Host == "" {
		return ""
	}

	return u.String()
}

// FormData 批量清洗扁平的表单字段映射
//
// 键名带URL/链接特征的字段走URL清洗，其余走文本清洗；
// 数组值逐元素处理，URL清洗被拒绝的元素从数组中剔除。
func FormData(fields map[string]interface{}) map[string]interface{} {
	cleaned := make(map[string]interface{}, len(fields))

	for key, value := range fields {
		isURLField := urlFieldPattern.MatchString(key)

		switch v := value.(type) {
		case string:
			if isURLField {
				cleaned[key] = URL(v)
			} else {
				cleaned[key] = Text(v)
			}
		case []string:
			out := make([]string, 0, len(v))
			for _, item := range v {
				if isURLField {
					if u := URL(item); u != "" {
						out = append(out, u)
					}
				} else {
					out = append(out, Text(item))
				}
			}
			cleaned[key] = out
		default:
			cleaned[key] = value
		}
	}

	return cleaned
}

// IsContentSafe 检查文本是否包含注入模式
//
// 只检测不修改，作为提交前的最后一道防护：script标签、
// 内联事件处理属性、javascript伪协议等均视为不安全。
func IsContentSafe(s string) bool {
	if s == "" {
		return true
	}

	for _, pattern := range unsafePatterns {
		if pattern.MatchString(s) {
			return false
		}
	}
	return true
}
