package validation

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"

	"portal/internal/sanitize"
	"portal/pkg/models"
)

// 表单字段约束
const (
	NameMinLength        = 3
	NameMaxLength        = 64
	DescriptionMaxLength = 1024
	MaxScreenshots       = 8
)

// 应用分类的封闭集合
var allowedCategories = map[string]bool{
	"defi":           true,
	"gaming":         true,
	"social":         true,
	"tools":          true,
	"nft":            true,
	"infrastructure": true,
	"other":          true,
}

// Result 校验结果
//
// 从当前表单值同步计算，从不持久化。Errors按字段名
// 给出用户可见的错误消息，便于页面内联展示。
type Result struct {
	Valid  bool              `json:"valid"`
	Errors map[string]string `json:"errors,omitempty"`
}

// addError 记录字段错误并标记结果无效
func (r *Result) addError(field, message string) {
	if r.Errors == nil {
		r.Errors = make(map[string]string)
	}
	r.Errors[field] = message
	r.Valid = false
}

// Validator 表单校验器
type Validator struct {
	logger          *logrus.Logger
	allowedChainIDs map[uint64]bool
}

// NewValidator 创建表单校验器
//
// chainIDs为本门户接受的链ID集合，为空时不限制。
func NewValidator(logger *logrus.Logger, chainIDs ...uint64) *Validator {
	allowed := make(map[uint64]bool, len(chainIDs))
	for _, id := range chainIDs {
		allowed[id] = true
	}
	return &Validator{
		logger:          logger,
		allowedChainIDs: allowed,
	}
}

// ValidateAppForm 校验应用提交表单
//
// 同步执行，不触达任何外部服务；校验失败时网关不应
// 被调用。
func (v *Validator) ValidateAppForm(form *models.AppForm) *Result {
	result := &Result{Valid: true}

	if form == nil {
		result.addError("form", "表单为空")
		return result
	}

	v.validateName(form.Name, result)
	v.validateDescription(form.Description, result)
	v.validateURLField("appUrl", form.AppURL, true, result)
	v.validateURLField("logoUrl", form.LogoURL, false, result)
	v.validateCategory(form.Category, result)
	v.validateChainID(form.ChainID, result)
	v.validateScreenshots(form.Screenshots, result)

	if !result.Valid {
		v.logger.Debugf("表单校验未通过，字段错误: %d个", len(result.Errors))
	}

	return result
}

// validateName 校验应用名称
func (v *Validator) validateName(name string, result *Result) {
	name = strings.TrimSpace(name)
	if name == "" {
		result.addError("name", "应用名称不能为空")
		return
	}

	length := utf8.RuneCountInString(name)
	if length < NameMinLength {
		result.addError("name", fmt.Sprintf("应用名称至少需要%d个字符", NameMinLength))
		return
	}
	if length > NameMaxLength {
		result.addError("name", fmt.Sprintf("应用名称不能超过%d个字符", NameMaxLength))
		return
	}

	if !sanitize.IsContentSafe(name) {
		result.addError("name", "应用名称包含不允许的内容")
	}
}

// validateDescription 校验应用描述
func (v *Validator) validateDescription(description string, result *Result) {
	description = strings.TrimSpace(description)
	if description == "" {
		result.addError("description", "应用描述不能为空")
		return
	}

	if utf8.RuneCountInString(description) > DescriptionMaxLength {
		result.addError("description", fmt.Sprintf("应用描述不能超过%d个字符", DescriptionMaxLength))
		return
	}

	if !sanitize.IsContentSafe(description) {
		result.addError("description", "应用描述包含不允许的内容")
	}
}

// validateURLField 校验URL字段
func (v *Validator) validateURLField(field, value string, required bool, result *Result) {
	value = strings.TrimSpace(value)
	if value == "" {
		if required {
			result.addError(field, "该字段不能为空")
		}
		return
	}

	if sanitize.URL(value) == "" {
		result.addError(field, "URL格式无效，只接受http和https地址")
	}
}

// validateCategory 校验应用分类
func (v *Validator) validateCategory(category string, result *Result) {
	if category == "" {
		result.addError("category", "请选择应用分类")
		return
	}

	if !allowedCategories[strings.ToLower(category)] {
		result.addError("category", fmt.Sprintf("未知的应用分类: %s", category))
	}
}

// validateChainID 校验链ID
func (v *Validator) validateChainID(chainID uint64, result *Result) {
	if chainID == 0 {
		result.addError("chainId", "链ID无效")
		return
	}

	if len(v.allowedChainIDs) > 0 && !v.allowedChainIDs[chainID] {
		result.addError("chainId", fmt.Sprintf("不支持的链ID: %d", chainID))
	}
}

// validateScreenshots 校验截图列表
func (v *Validator) validateScreenshots(screenshots []string, result *Result) {
	if len(screenshots) > MaxScreenshots {
		result.addError("screenshots", fmt.Sprintf("截图数量不能超过%d张", MaxScreenshots))
		return
	}

	for i, screenshot := range screenshots {
		if sanitize.URL(screenshot) == "" {
			result.addError("screenshots", fmt.Sprintf("第%d张截图的URL无效", i+1))
			return
		}
	}
}

// ValidateAddress 校验以太坊地址格式
func ValidateAddress(addr string) bool {
	if !strings.HasPrefix(addr, "0x") {
		return false
	}
	return common.IsHexAddress(addr)
}
