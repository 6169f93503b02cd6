package service

import (
	"math/rand"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/smysle/sakura-redenvelope-go/internal/database/models"
	"github.com/smysle/sakura-redenvelope-go/pkg/currency"
)

// RandSource 随机数来源，测试时可注入固定序列
type RandSource interface {
	// Int63n 返回 [0, n) 内的随机数
	Int63n(n int64) int64
}

type lockedRand struct {
	mu sync.Mutex
	r  *rand.Rand
}

func (l *lockedRand) Int63n(n int64) int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.r.Int63n(n)
}

// NewRandSource 并发安全的随机数来源
func NewRandSource(seed int64) RandSource {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &lockedRand{r: rand.New(rand.NewSource(seed))}
}

// ShareInput 计算一份红包金额所需的输入
type ShareInput struct {
	Strategy            models.Strategy
	Currency            string
	Total               decimal.Decimal
	Recipients          int
	Remaining           decimal.Decimal
	RemainingRecipients int
}

// ShareInputFor 从红包快照构造输入
func ShareInputFor(e *models.RedEnvelope) ShareInput {
	return ShareInput{
		Strategy:            e.Strategy,
		Currency:            e.Currency,
		Total:               e.TotalAmount,
		Recipients:          e.RecipientCount,
		Remaining:           e.RemainingAmount,
		RemainingRecipients: e.RemainingRecipients(),
	}
}

// Splitter 红包金额拆分，纯计算，不访问存储
type Splitter struct {
	rnd        RandSource
	currencies *currency.Registry
}

// NewSplitter 创建拆分器
func NewSplitter(rnd RandSource, currencies *currency.Registry) *Splitter {
	if rnd == nil {
		rnd = NewRandSource(0)
	}
	return &Splitter{rnd: rnd, currencies: currencies}
}

// EqualShare 均分红包每份金额（向下取整到最小单位），余数由最后一人领取
func (s *Splitter) EqualShare(code string, total decimal.Decimal, recipients int) decimal.Decimal {
	if recipients <= 1 {
		return total
	}
	return s.currencies.Floor(code, total.Div(decimal.NewFromInt(int64(recipients))))
}

// NextShare 计算下一位领取者的金额
//
// 最后一人总是领取全部余额；其余情况保证后面每人至少还能领到一个最小单位。
func (s *Splitter) NextShare(in ShareInput) decimal.Decimal {
	if in.RemainingRecipients <= 1 {
		return in.Remaining
	}

	unit := s.currencies.MinUnit(in.Currency)
	var share decimal.Decimal
	switch in.Strategy {
	case models.StrategyEqual:
		share = s.EqualShare(in.Currency, in.Total, in.Recipients)
	default:
		share = s.luckyShare(unit, in.Remaining, in.RemainingRecipients)
	}

	ceiling := in.Remaining.Sub(unit.Mul(decimal.NewFromInt(int64(in.RemainingRecipients - 1))))
	if share.GreaterThan(ceiling) {
		share = ceiling
	}
	if share.LessThan(unit) {
		share = unit
	}
	return share
}

// luckyShare 二倍均值法：在 [最小单位, 2 × 剩余金额 / 剩余人数] 内均匀取值
func (s *Splitter) luckyShare(unit, remaining decimal.Decimal, remainingRecipients int) decimal.Decimal {
	units := remaining.Div(unit).IntPart()
	maxUnits := 2 * units / int64(remainingRecipients)
	if maxUnits < 1 {
		maxUnits = 1
	}
	drawn := 1 + s.rnd.Int63n(maxUnits)
	return unit.Mul(decimal.NewFromInt(drawn))
}

// Partition 一次性拆分出全部份额，总和严格等于 total
func (s *Splitter) Partition(strategy models.Strategy, code string, total decimal.Decimal, recipients int) []decimal.Decimal {
	shares := make([]decimal.Decimal, 0, recipients)
	remaining := total
	for i := 0; i < recipients; i++ {
		share := s.NextShare(ShareInput{
			Strategy:            strategy,
			Currency:            code,
			Total:               total,
			Recipients:          recipients,
			Remaining:           remaining,
			RemainingRecipients: recipients - i,
		})
		shares = append(shares, share)
		remaining = remaining.Sub(share)
	}
	return shares
}
