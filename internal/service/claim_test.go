package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/smysle/sakura-redenvelope-go/internal/config"
	"github.com/smysle/sakura-redenvelope-go/internal/database/models"
	"github.com/smysle/sakura-redenvelope-go/internal/database/repository"
)

func TestClaimProcessor_TwoRecipients(t *testing.T) {
	tests := []struct {
		name  string
		rnd   RandSource
		first string
	}{
		{"上界被截断", maxRand{}, "9.99"},
		{"下界", minRand{}, "0.01"},
		{"随机", NewRandSource(7), ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, tt.rnd)
			id := f.create(t, "10.00", 2, "random")

			r1, err := f.claim(id, "alice")
			if err != nil {
				t.Fatalf("第一次领取: %v", err)
			}
			a1 := r1.Claim.Amount
			if a1.LessThan(dec("0.01")) || a1.GreaterThan(dec("9.99")) {
				t.Errorf("第一份 = %s, 超出 [0.01, 9.99]", a1)
			}
			if tt.first != "" && !a1.Equal(dec(tt.first)) {
				t.Errorf("第一份 = %s, want %s", a1, tt.first)
			}
			if r1.IsFinished {
				t.Error("第一次领取后不应抢完")
			}

			r2, err := f.claim(id, "bob")
			if err != nil {
				t.Fatalf("第二次领取: %v", err)
			}
			if !r2.Claim.Amount.Equal(r1.Envelope.RemainingAmount) {
				t.Errorf("最后一份 = %s, want 剩余 %s", r2.Claim.Amount, r1.Envelope.RemainingAmount)
			}
			if !a1.Add(r2.Claim.Amount).Equal(dec("10.00")) {
				t.Errorf("总和 = %s", a1.Add(r2.Claim.Amount))
			}
			if !r2.IsFinished || r2.Envelope.Status != models.StatusFullyClaimed || !r2.Envelope.RemainingAmount.IsZero() {
				t.Errorf("抢完后红包 = %+v", r2.Envelope)
			}
			wantLucky := r2.Claim.Amount.GreaterThan(a1)
			if r2.IsLucky != wantLucky {
				t.Errorf("IsLucky = %v, want %v", r2.IsLucky, wantLucky)
			}
		})
	}
}

func TestClaimProcessor_EqualSplit(t *testing.T) {
	f := newFixture(t, NewRandSource(1))
	id := f.create(t, "100.00", 3, "equal")

	want := []string{"33.33", "33.33", "33.34"}
	for i, user := range []string{"a", "b", "c"} {
		r, err := f.claim(id, user)
		if err != nil {
			t.Fatalf("claim %s: %v", user, err)
		}
		if !r.Claim.Amount.Equal(dec(want[i])) {
			t.Errorf("第 %d 份 = %s, want %s", i+1, r.Claim.Amount, want[i])
		}
		if r.IsLucky {
			t.Error("普通红包没有手气最佳")
		}
	}
}

func TestClaimProcessor_SumInvariant(t *testing.T) {
	f := newFixture(t, NewRandSource(42))
	ctx := context.Background()

	for round, count := range []int{1, 2, 5, 13, 50} {
		total := decimal.NewFromInt(int64(round + 1)).Mul(dec("7.77"))
		id := f.create(t, total.StringFixed(2), count, "random")

		for i := 0; i < count; i++ {
			if _, err := f.claim(id, fmt.Sprintf("u%d", i)); err != nil {
				t.Fatalf("第 %d 轮第 %d 次领取: %v", round, i, err)
			}

			envelope, _ := f.store.GetByUUID(ctx, id)
			claims, _ := f.store.ListClaims(ctx, id)
			claimed := decimal.Zero
			for _, c := range claims {
				claimed = claimed.Add(c.Amount)
				if !c.Amount.IsPositive() {
					t.Errorf("领取金额 %s 不是正数", c.Amount)
				}
			}
			if !claimed.Equal(envelope.TotalAmount.Sub(envelope.RemainingAmount)) {
				t.Fatalf("已领 %s != 总额 %s - 剩余 %s", claimed, envelope.TotalAmount, envelope.RemainingAmount)
			}
			if envelope.RemainingAmount.IsNegative() || envelope.ClaimedCount != len(claims) {
				t.Fatalf("红包状态异常: %+v", envelope)
			}
		}

		envelope, _ := f.store.GetByUUID(ctx, id)
		if envelope.Status != models.StatusFullyClaimed || !envelope.RemainingAmount.IsZero() {
			t.Errorf("第 %d 轮结束后红包 = %s / %s", round, envelope.Status, envelope.RemainingAmount)
		}
	}
}

func TestClaimProcessor_ConcurrentSameUser(t *testing.T) {
	f := newFixture(t, NewRandSource(3))
	id := f.create(t, "10.00", 5, "random")

	const n = 20
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		success   int
		duplicate int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.claim(id, "alice")
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				success++
			case errors.Is(err, ErrDuplicateClaim):
				duplicate++
			default:
				t.Errorf("意外错误: %v", err)
			}
		}()
	}
	wg.Wait()

	if success != 1 || duplicate != n-1 {
		t.Errorf("成功 %d 次, 重复 %d 次; want 1 / %d", success, duplicate, n-1)
	}
	claims, _ := f.store.ListClaims(context.Background(), id)
	if len(claims) != 1 {
		t.Errorf("领取记录数 = %d, want 1", len(claims))
	}
}

func TestClaimProcessor_NoOverdraw(t *testing.T) {
	const recipients, extra = 5, 7
	f := newFixture(t, NewRandSource(11))
	id := f.create(t, "10.00", recipients, "random")

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		success  int
		finished int
		total    = decimal.Zero
	)
	for i := 0; i < recipients+extra; i++ {
		wg.Add(1)
		go func(user string) {
			defer wg.Done()
			r, err := f.claim(id, user)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				success++
				total = total.Add(r.Claim.Amount)
			case errors.Is(err, ErrAlreadyClaimedPool):
				finished++
			default:
				t.Errorf("意外错误: %v", err)
			}
		}(fmt.Sprintf("user-%d", i))
	}
	wg.Wait()

	if success != recipients || finished != extra {
		t.Errorf("成功 %d, 已抢完 %d; want %d / %d", success, finished, recipients, extra)
	}
	if !total.Equal(dec("10.00")) {
		t.Errorf("领取总和 = %s, want 10.00", total)
	}
	envelope, _ := f.store.GetByUUID(context.Background(), id)
	if envelope.Status != models.StatusFullyClaimed || envelope.ClaimedCount != recipients || !envelope.RemainingAmount.IsZero() {
		t.Errorf("红包 = %+v", envelope)
	}
}

func TestClaimProcessor_NoOverdrawDefaultAttempts(t *testing.T) {
	const recipients, extra, rounds = 100, 20, 3
	attempts := config.Default().RedEnvelope.ClaimMaxAttempts

	for round := 0; round < rounds; round++ {
		f := newFixture(t, NewRandSource(int64(round)), func(c *config.RedEnvelopeConfig) {
			c.ClaimMaxAttempts = attempts
		})
		id := f.create(t, "100.00", recipients, "random")

		var (
			wg         sync.WaitGroup
			mu         sync.Mutex
			success    int
			finished   int
			contention int
			total      = decimal.Zero
		)
		for i := 0; i < recipients+extra; i++ {
			wg.Add(1)
			go func(user string) {
				defer wg.Done()
				r, err := f.claim(id, user)
				mu.Lock()
				defer mu.Unlock()
				switch {
				case err == nil:
					success++
					total = total.Add(r.Claim.Amount)
				case errors.Is(err, ErrAlreadyClaimedPool):
					finished++
				case errors.Is(err, ErrClaimContention):
					contention++
				default:
					t.Errorf("意外错误: %v", err)
				}
			}(fmt.Sprintf("user-%d", i))
		}
		wg.Wait()

		envelope, _ := f.store.GetByUUID(context.Background(), id)
		if success > recipients || success+finished+contention != recipients+extra {
			t.Errorf("第 %d 轮: 成功 %d, 已抢完 %d, 竞争失败 %d", round, success, finished, contention)
		}
		if envelope.ClaimedCount != success || !total.Equal(envelope.TotalAmount.Sub(envelope.RemainingAmount)) {
			t.Errorf("第 %d 轮: 已领 %d 人 %s, 红包记录 %d 人 余额 %s", round, success, total, envelope.ClaimedCount, envelope.RemainingAmount)
		}
		if success == recipients && (envelope.Status != models.StatusFullyClaimed || !envelope.RemainingAmount.IsZero()) {
			t.Errorf("第 %d 轮: 抢完后红包 = %+v", round, envelope)
		}
	}
}

func TestClaimProcessor_ExpiryFreezesPool(t *testing.T) {
	f := newFixture(t, minRand{})
	id := f.create(t, "10.00", 3, "random")

	if _, err := f.claim(id, "alice"); err != nil {
		t.Fatalf("claim: %v", err)
	}
	before, _ := f.store.GetByUUID(context.Background(), id)

	f.clock.Advance(24 * time.Hour)
	for _, user := range []string{"bob", "carol"} {
		if _, err := f.claim(id, user); !errors.Is(err, ErrExpiredPool) {
			t.Errorf("claim %s error = %v, want %v", user, err, ErrExpiredPool)
		}
	}

	after, _ := f.store.GetByUUID(context.Background(), id)
	if after.Status != models.StatusExpired {
		t.Errorf("状态 = %s, want expired", after.Status)
	}
	if !after.RemainingAmount.Equal(before.RemainingAmount) || after.ClaimedCount != before.ClaimedCount {
		t.Error("过期不应改动余额和人数")
	}
	claims, _ := f.store.ListClaims(context.Background(), id)
	if len(claims) != 1 {
		t.Errorf("领取记录数 = %d, want 1", len(claims))
	}
}

func TestClaimProcessor_Errors(t *testing.T) {
	f := newFixture(t, minRand{})
	ctx := context.Background()
	id := f.create(t, "1.00", 1, "random")

	if _, err := f.claim("missing", "alice"); !errors.Is(err, ErrNotFound) {
		t.Errorf("不存在的红包 error = %v", err)
	}
	if _, err := f.claim(id, ""); !errors.Is(err, ErrValidation) {
		t.Errorf("缺少用户 error = %v", err)
	}
	if _, err := f.claim(id, "alice"); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if _, err := f.claim(id, "alice"); !errors.Is(err, ErrAlreadyClaimedPool) {
		t.Errorf("抢完后再领 error = %v", err)
	}

	private, err := f.envelopes.CreateEnvelope(ctx, &CreateEnvelopeRequest{
		ConversationID: "private",
		SenderID:       "alice",
		TotalAmount:    dec("2.00"),
		RecipientCount: 2,
	})
	if err != nil {
		t.Fatalf("CreateEnvelope() error = %v", err)
	}
	if _, err := f.claim(private.UUID, "carol"); !errors.Is(err, ErrForbidden) {
		t.Errorf("非成员领取 error = %v", err)
	}
	if _, err := f.claim(private.UUID, "bob"); err != nil {
		t.Errorf("成员领取: %v", err)
	}
	if _, err := f.claim(private.UUID, "bob"); !errors.Is(err, ErrDuplicateClaim) {
		t.Errorf("重复领取 error = %v", err)
	}
}

func TestClaimProcessor_MembershipOptional(t *testing.T) {
	f := newFixture(t, minRand{}, func(c *config.RedEnvelopeConfig) {
		off := false
		c.RequireMembershipToClaim = &off
	})
	private, err := f.envelopes.CreateEnvelope(context.Background(), &CreateEnvelopeRequest{
		ConversationID: "private",
		SenderID:       "alice",
		TotalAmount:    dec("2.00"),
		RecipientCount: 2,
	})
	if err != nil {
		t.Fatalf("CreateEnvelope() error = %v", err)
	}
	if _, err := f.claim(private.UUID, "carol"); err != nil {
		t.Errorf("关闭成员校验后领取: %v", err)
	}
}

// conflictStore 每次提交都返回版本冲突
type conflictStore struct {
	*repository.MemoryRedEnvelopeRepository
	mu      sync.Mutex
	commits int
}

func (s *conflictStore) CommitClaim(context.Context, repository.ClaimCommit) (*models.RedEnvelope, error) {
	s.mu.Lock()
	s.commits++
	s.mu.Unlock()
	return nil, repository.ErrConcurrencyConflict
}

func TestClaimProcessor_Contention(t *testing.T) {
	f := newFixture(t, minRand{})
	id := f.create(t, "10.00", 2, "random")

	store := &conflictStore{MemoryRedEnvelopeRepository: f.store}
	deps := f.claims.deps
	deps.Store = store
	deps.Config.ClaimMaxAttempts = 3
	p := NewClaimProcessor(deps)

	_, err := p.Claim(context.Background(), &ClaimRequest{EnvelopeID: id, UserID: "alice"})
	if !errors.Is(err, ErrClaimContention) {
		t.Errorf("Claim() error = %v, want %v", err, ErrClaimContention)
	}
	if store.commits != 3 {
		t.Errorf("提交次数 = %d, want 3", store.commits)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := p.Claim(ctx, &ClaimRequest{EnvelopeID: id, UserID: "alice"}); !errors.Is(err, context.Canceled) {
		t.Errorf("取消后 Claim() error = %v, want %v", err, context.Canceled)
	}
}
