package validation

import (
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"

	"portal/pkg/models"
)

func validForm() *models.AppForm {
	return &models.AppForm{
		Name:        "My DeFi App",
		Description: "A lending protocol front end",
		AppURL:      "https://app.example.com",
		LogoURL:     "https://cdn.example.com/logo.png",
		Category:    "defi",
		ChainID:     8453,
		Screenshots: []string{
			"https://cdn.example.com/1.png",
			"https://cdn.example.com/2.png",
		},
	}
}

func TestValidateAppForm_Valid(t *testing.T) {
	validator := NewValidator(logrus.New(), 8453)

	result := validator.ValidateAppForm(validForm())

	assert.True(t, result.Valid)
	assert.Empty(t, result.Errors)
}

func TestValidateAppForm_InvalidAppURL(t *testing.T) {
	validator := NewValidator(logrus.New())

	form := validForm()
	form.AppURL = "not a url"

	result := validator.ValidateAppForm(form)

	assert.False(t, result.Valid)
	assert.Contains(t, result.Errors, "appUrl")
	assert.NotEmpty(t, result.Errors["appUrl"])
}

func TestValidateAppForm_NameConstraints(t *testing.T) {
	validator := NewValidator(logrus.New())

	tests := []struct {
		name      string
		formName  string
		wantError bool
	}{
		{"empty name", "", true},
		{"too short", "ab", true},
		{"minimum length", "abc", false},
		{"too long", strings.Repeat("x", 65), true},
		{"script injection", "<script>x</script>App", true},
		{"normal name", "Portfolio Tracker", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			form := validForm()
			form.Name = tt.formName

			result := validator.ValidateAppForm(form)
			if tt.wantError {
				assert.Contains(t, result.Errors, "name")
			} else {
				assert.NotContains(t, result.Errors, "name")
			}
		})
	}
}

func TestValidateAppForm_Description(t *testing.T) {
	validator := NewValidator(logrus.New())

	form := validForm()
	form.Description = ""
	result := validator.ValidateAppForm(form)
	assert.Contains(t, result.Errors, "description")

	form.Description = strings.Repeat("字", 1025)
	result = validator.ValidateAppForm(form)
	assert.Contains(t, result.Errors, "description")
}

func TestValidateAppForm_OptionalLogoURL(t *testing.T) {
	validator := NewValidator(logrus.New())

	// Logo可以省略
	form := validForm()
	form.LogoURL = ""
	result := validator.ValidateAppForm(form)
	assert.NotContains(t, result.Errors, "logoUrl")

	// 但提供时必须是合法URL
	form.LogoURL = "javascript:alert(1)"
	result = validator.ValidateAppForm(form)
	assert.Contains(t, result.Errors, "logoUrl")
}

func TestValidateAppForm_Category(t *testing.T) {
	validator := NewValidator(logrus.New())

	form := validForm()
	form.Category = ""
	result := validator.ValidateAppForm(form)
	assert.Contains(t, result.Errors, "category")

	form.Category = "not-a-category"
	result = validator.ValidateAppForm(form)
	assert.Contains(t, result.Errors, "category")

	// 分类大小写不敏感
	form.Category = "DeFi"
	result = validator.ValidateAppForm(form)
	assert.NotContains(t, result.Errors, "category")
}

func TestValidateAppForm_ChainID(t *testing.T) {
	// 配置了链ID集合时只接受集合内的链
	validator := NewValidator(logrus.New(), 8453, 1)

	form := validForm()
	form.ChainID = 0
	result := validator.ValidateAppForm(form)
	assert.Contains(t, result.Errors, "chainId")

	form.ChainID = 999
	result = validator.ValidateAppForm(form)
	assert.Contains(t, result.Errors, "chainId")

	form.ChainID = 1
	result = validator.ValidateAppForm(form)
	assert.NotContains(t, result.Errors, "chainId")

	// 未配置集合时任意非零链ID都接受
	open := NewValidator(logrus.New())
	form.ChainID = 999
	result = open.ValidateAppForm(form)
	assert.NotContains(t, result.Errors, "chainId")
}

func TestValidateAppForm_Screenshots(t *testing.T) {
	validator := NewValidator(logrus.New())

	form := validForm()
	form.Screenshots = make([]string, 9)
	for i := range form.Screenshots {
		form.Screenshots[i] = "https://cdn.example.com/s.png"
	}
	result := validator.ValidateAppForm(form)
	assert.Contains(t, result.Errors, "screenshots")

	form.Screenshots = []string{"https://cdn.example.com/1.png", "data:image/png;base64,xxx"}
	result = validator.ValidateAppForm(form)
	assert.Contains(t, result.Errors, "screenshots")
}

func TestValidateAppForm_NilForm(t *testing.T) {
	validator := NewValidator(logrus.New())

	result := validator.ValidateAppForm(nil)

	assert.False(t, result.Valid)
	assert.Contains(t, result.Errors, "form")
}

func TestValidateAddress(t *testing.T) {
	tests := []struct {
		name     string
		address  string
		expected bool
	}{
		{"valid address", "0x1234567890abcdef1234567890abcdef12345678", true},
		{"valid mixed case", "0x1234567890AbCdEf1234567890aBcDeF12345678", true},
		{"no 0x prefix", "1234567890abcdef1234567890abcdef12345678", false},
		{"too short", "0x123456", false},
		{"empty", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, ValidateAddress(tt.address))
		})
	}
}
