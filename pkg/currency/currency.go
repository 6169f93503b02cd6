// Package currency 币种精度（最小单位）管理
package currency

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/shopspring/decimal"
)

// DefaultPlaces 未单独配置时法币的小数位数
const DefaultPlaces int32 = 2

// MaxPlaces 金额列为 decimal(20,8)，更高精度会被数据库舍入
const MaxPlaces int32 = 8

var (
	ErrUnknownCurrency = errors.New("不支持的币种")
	ErrTooPrecise      = errors.New("金额精度超过币种最小单位")
)

// Registry 币种 -> 小数位数
type Registry struct {
	mu     sync.RWMutex
	places map[string]int32
}

// NewRegistry 创建币种注册表，key 不区分大小写
func NewRegistry(places map[string]int32) *Registry {
	r := &Registry{places: make(map[string]int32, len(places))}
	for code, p := range places {
		r.Set(code, p)
	}
	return r
}

// Normalize 规范化币种代码
func Normalize(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Set 注册或覆盖一个币种，小数位数限制在 [0, MaxPlaces]
func (r *Registry) Set(code string, places int32) {
	if places < 0 {
		places = 0
	}
	if places > MaxPlaces {
		places = MaxPlaces
	}
	r.mu.Lock()
	r.places[Normalize(code)] = places
	r.mu.Unlock()
}

// Places 返回币种小数位数
func (r *Registry) Places(code string) (int32, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.places[Normalize(code)]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownCurrency, code)
	}
	return p, nil
}

// Supports 是否支持该币种
func (r *Registry) Supports(code string) bool {
	_, err := r.Places(code)
	return err == nil
}

// MinUnit 最小单位，例如 2 位小数时为 0.01；未知币种按默认精度
func (r *Registry) MinUnit(code string) decimal.Decimal {
	return decimal.New(1, -r.placesOrDefault(code))
}

// Floor 向下取整到最小单位
func (r *Registry) Floor(code string, d decimal.Decimal) decimal.Decimal {
	return d.RoundFloor(r.placesOrDefault(code))
}

// Round 四舍五入到最小单位
func (r *Registry) Round(code string, d decimal.Decimal) decimal.Decimal {
	return d.Round(r.placesOrDefault(code))
}

// Format 按币种精度格式化
func (r *Registry) Format(code string, d decimal.Decimal) string {
	return d.StringFixed(r.placesOrDefault(code))
}

// Validate 检查金额是否可以用该币种精确表示
func (r *Registry) Validate(code string, d decimal.Decimal) error {
	p, err := r.Places(code)
	if err != nil {
		return err
	}
	if !d.Equal(d.Truncate(p)) {
		return fmt.Errorf("%w: %s 最多 %d 位小数", ErrTooPrecise, Normalize(code), p)
	}
	return nil
}

func (r *Registry) placesOrDefault(code string) int32 {
	if p, err := r.Places(code); err == nil {
		return p
	}
	return DefaultPlaces
}
