package sanitize

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestText_StripsTags(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "script content dropped entirely",
			input:    "<script>x</script>hello",
			expected: "hello",
		},
		{
			name:     "plain text untouched",
			input:    "My DeFi App",
			expected: "My DeFi App",
		},
		{
			name:     "tags stripped text preserved",
			input:    "<b>bold</b> and <i>italic</i>",
			expected: "bold and italic",
		},
		{
			name:     "nested markup",
			input:    "<div><p>paragraph</p></div>",
			expected: "paragraph",
		},
		{
			name:     "style content dropped",
			input:    "before<style>body{color:red}</style>after",
			expected: "beforeafter",
		},
		{
			name:     "attributes ignored",
			input:    `<a href="https://evil.example" onclick="steal()">link</a>`,
			expected: "link",
		},
		{
			name:     "whitespace trimmed",
			input:    "  padded  ",
			expected: "padded",
		},
		{
			name:     "entities unescaped",
			input:    "a &amp; b",
			expected: "a & b",
		},
		{
			name:     "unclosed tag drops remainder",
			input:    "keep<script src=",
			expected: "keep",
		},
		{
			name:     "empty input",
			input:    "",
			expected: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Text(tt.input))
		})
	}
}

func TestURL_SchemeAllowList(t *testing.T) {
	// 合法URL规范化后返回
	assert.Equal(t, "https://example.com/a?b=1", URL("https://example.com/a?b=1"))
	assert.Equal(t, "http://example.com", URL("http://example.com"))
	assert.Equal(t, "https://example.com/path", URL("  https://example.com/path  "))
}

func TestURL_Rejections(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"javascript scheme", "javascript:alert(1)"},
		{"javascript scheme mixed case", "JaVaScRiPt:alert(1)"},
		{"javascript scheme with leading space", "  javascript:alert(1)"},
		{"data scheme", "data:text/html,<script>alert(1)</script>"},
		{"vbscript scheme", "vbscript:MsgBox(1)"},
		{"file scheme", "file:///etc/passwd"},
		{"ftp not in allow list", "ftp://example.com/file"},
		{"no scheme", "not a url"},
		{"relative path", "/relative/path"},
		{"scheme without host", "https://"},
		{"empty", ""},
		{"unparsable", "http://[::1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Empty(t, URL(tt.input))
		})
	}
}

func TestFormData_FieldRouting(t *testing.T) {
	fields := map[string]interface{}{
		"name":        "<b>My App</b>",
		"description": "<script>x</script>useful tool",
		"app_url":     "https://example.com/app",
		"logo_url":    "javascript:alert(1)",
		"chain_id":    uint64(8453),
	}

	cleaned := FormData(fields)

	// 普通字段走文本清洗
	assert.Equal(t, "My App", cleaned["name"])
	assert.Equal(t, "useful tool", cleaned["description"])
	// URL特征字段走URL清洗
	assert.Equal(t, "https://example.com/app", cleaned["app_url"])
	assert.Equal(t, "", cleaned["logo_url"])
	// 非字符串值原样保留
	assert.Equal(t, uint64(8453), cleaned["chain_id"])
}

func TestFormData_ArrayFields(t *testing.T) {
	fields := map[string]interface{}{
		"screenshots": []string{
			"https://cdn.example.com/1.png",
			"javascript:alert(1)",
			"https://cdn.example.com/2.png",
		},
		"tags": []string{"<i>defi</i>", "tools"},
	}

	cleaned := FormData(fields)

	// URL数组逐元素清洗，被拒绝的元素剔除
	screenshots := cleaned["screenshots"].([]string)
	assert.Equal(t, []string{
		"https://cdn.example.com/1.png",
		"https://cdn.example.com/2.png",
	}, screenshots)

	tags := cleaned["tags"].([]string)
	assert.Equal(t, []string{"defi", "tools"}, tags)
}

func TestIsContentSafe(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected bool
	}{
		{"plain text", "a perfectly normal description", true},
		{"empty", "", true},
		{"script tag", "<script>alert(1)</script>", false},
		{"script tag with spaces", "< script >alert(1)", false},
		{"inline event handler", `<img src=x onerror=alert(1)>`, false},
		{"javascript url", "click javascript:alert(1)", false},
		{"iframe", "<iframe src='https://evil.example'>", false},
		{"embed", "<embed src='x'>", false},
		{"data html", "data:text/html,payload", false},
		{"css expression", "width:expression(alert(1))", false},
		{"benign html-ish text", "use <bracket> notation", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, IsContentSafe(tt.input))
		})
	}
}

func BenchmarkText(b *testing.B) {
	input := "<div><script>var x = 1;</script><p>some <b>description</b> text</p></div>"

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		Text(input)
	}
}
