package models

import (
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// ReviewState 应用审核状态
type ReviewState uint8

const (
	ReviewStatePending  ReviewState = iota // 等待审核
	ReviewStateApproved                    // 已通过
	ReviewStateRejected                    // 已拒绝
)

// String 返回审核状态的字符串表示
func (rs ReviewState) String() string {
	switch rs {
	case ReviewStatePending:
		return "pending"
	case ReviewStateApproved:
		return "approved"
	case ReviewStateRejected:
		return "rejected"
	default:
		return fmt.Sprintf("unknown(%d)", rs)
	}
}

// App 应用市场条目数据模型
//
// 链上注册表的只读快照，本服务从不直接修改，
// 所有变更都通过写交易由链上合约执行。
type App struct {
	ID              uint64      `json:"id"`
	Name            string      `json:"name"`
	Description     string      `json:"description"`
	AppURL          string      `json:"app_url"`
	LogoURL         string      `json:"logo_url"`
	Category        string      `json:"category"`
	ChainID         uint64      `json:"chain_id"`
	Developer       string      `json:"developer"`
	Active          bool        `json:"active"`
	ReviewState     ReviewState `json:"review_state"`
	ScreenshotCount uint64      `json:"screenshot_count"`
	CreatedAt       time.Time   `json:"created_at"`
}

// FromRegistryTuple 从合约返回的元组转换为内部模型
//
// 元组字段顺序必须与注册表合约getApp的返回值保持一致。
func (a *App) FromRegistryTuple(values []interface{}) error {
	if len(values) != 12 {
		return fmt.Errorf("注册表元组字段数量错误: 期望12个，实际%d个", len(values))
	}

	id, ok := values[0].(*big.Int)
	if !ok {
		return fmt.Errorf("应用ID类型错误: %T", values[0])
	}
	a.ID = id.Uint64()

	if a.Name, ok = values[1].(string); !ok {
		return fmt.Errorf("应用名称类型错误: %T", values[1])
	}
	if a.Description, ok = values[2].(string); !ok {
		return fmt.Errorf("应用描述类型错误: %T", values[2])
	}
	if a.AppURL, ok = values[3].(string); !ok {
		return fmt.Errorf("应用URL类型错误: %T", values[3])
	}
	if a.LogoURL, ok = values[4].(string); !ok {
		return fmt.Errorf("Logo URL类型错误: %T", values[4])
	}
	if a.Category, ok = values[5].(string); !ok {
		return fmt.Errorf("应用分类类型错误: %T", values[5])
	}

	chainID, ok := values[6].(*big.Int)
	if !ok {
		return fmt.Errorf("链ID类型错误: %T", values[6])
	}
	a.ChainID = chainID.Uint64()

	developer, ok := values[7].(common.Address)
	if !ok {
		return fmt.Errorf("开发者地址类型错误: %T", values[7])
	}
	a.Developer = developer.Hex()

	if a.Active, ok = values[8].(bool); !ok {
		return fmt.Errorf("激活标志类型错误: %T", values[8])
	}

	state, ok := values[9].(uint8)
	if !ok {
		return fmt.Errorf("审核状态类型错误: %T", values[9])
	}
	a.ReviewState = ReviewState(state)

	screenshots, ok := values[10].(*big.Int)
	if !ok {
		return fmt.Errorf("截图数量类型错误: %T", values[10])
	}
	a.ScreenshotCount = screenshots.Uint64()

	createdAt, ok := values[11].(*big.Int)
	if !ok {
		return fmt.Errorf("创建时间类型错误: %T", values[11])
	}
	a.CreatedAt = time.Unix(createdAt.Int64(), 0).UTC()

	return nil
}

// IsApproved 应用是否已通过审核
func (a *App) IsApproved() bool {
	return a.ReviewState == ReviewStateApproved
}

// AppForm 应用提交表单
//
// 门户页面提交的原始表单内容，进入网关前需要先经过
// 清洗和校验。
type AppForm struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	AppURL      string   `json:"app_url"`
	LogoURL     string   `json:"logo_url"`
	Category    string   `json:"category"`
	ChainID     uint64   `json:"chain_id"`
	Screenshots []string `json:"screenshots,omitempty"`
}

// ReviewDecision 审核决定
type ReviewDecision struct {
	AppID  uint64 `json:"app_id"`
	Reason string `json:"reason,omitempty"`
}
