package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/smysle/sakura-redenvelope-go/internal/database/models"
)

type claimKey struct {
	envelopeID uint
	userID     string
}

// MemoryRedEnvelopeRepository 进程内红包仓库，语义与 GORM 实现一致，用于单机部署和测试
type MemoryRedEnvelopeRepository struct {
	mu        sync.Mutex
	nextID    uint
	nextClaim uint
	envelopes map[string]*models.RedEnvelope
	claims    map[string][]*models.RedEnvelopeClaim
	claimed   map[claimKey]struct{}
}

// NewMemoryRedEnvelopeRepository 创建内存仓库
func NewMemoryRedEnvelopeRepository() *MemoryRedEnvelopeRepository {
	return &MemoryRedEnvelopeRepository{
		envelopes: make(map[string]*models.RedEnvelope),
		claims:    make(map[string][]*models.RedEnvelopeClaim),
		claimed:   make(map[claimKey]struct{}),
	}
}

// Create 创建红包
func (r *MemoryRedEnvelopeRepository) Create(ctx context.Context, envelope *models.RedEnvelope) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.envelopes[envelope.UUID]; exists {
		return ErrConcurrencyConflict
	}
	r.nextID++
	envelope.ID = r.nextID
	if envelope.CreatedAt.IsZero() {
		envelope.CreatedAt = time.Now()
	}
	envelope.UpdatedAt = envelope.CreatedAt

	stored := *envelope
	r.envelopes[envelope.UUID] = &stored
	return nil
}

// GetByUUID 根据 UUID 获取红包
func (r *MemoryRedEnvelopeRepository) GetByUUID(ctx context.Context, uuid string) (*models.RedEnvelope, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	envelope, ok := r.envelopes[uuid]
	if !ok {
		return nil, ErrNotFound
	}
	out := *envelope
	return &out, nil
}

// AttachAnnouncement 记录公告引用
func (r *MemoryRedEnvelopeRepository) AttachAnnouncement(ctx context.Context, uuid, ref string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if envelope, ok := r.envelopes[uuid]; ok && envelope.AnnouncementRef == "" {
		envelope.AnnouncementRef = ref
	}
	return nil
}

// CommitClaim 比较版本号后提交领取
func (r *MemoryRedEnvelopeRepository) CommitClaim(ctx context.Context, commit ClaimCommit) (*models.RedEnvelope, error) {
	remaining, claimed, status, err := commit.nextState()
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.envelopes[commit.Snapshot.UUID]
	if !ok {
		return nil, ErrNotFound
	}
	if current.Version != commit.Snapshot.Version ||
		current.Status != models.StatusActive ||
		current.IsDue(commit.Now) {
		return nil, ErrConcurrencyConflict
	}

	key := claimKey{envelopeID: current.ID, userID: commit.Claim.UserID}
	if _, dup := r.claimed[key]; dup {
		return nil, ErrDuplicateClaim
	}

	current.RemainingAmount = remaining
	current.ClaimedCount = claimed
	current.Status = status
	current.Version++
	current.UpdatedAt = commit.Now

	r.nextClaim++
	commit.Claim.ID = r.nextClaim
	stored := *commit.Claim
	r.claims[current.UUID] = append(r.claims[current.UUID], &stored)
	r.claimed[key] = struct{}{}

	out := *current
	return &out, nil
}

// ExpireEnvelope 设置红包为已过期（幂等）
func (r *MemoryRedEnvelopeRepository) ExpireEnvelope(ctx context.Context, uuid string, now time.Time) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	envelope, ok := r.envelopes[uuid]
	if !ok {
		return false, ErrNotFound
	}
	return expireLocked(envelope, now), nil
}

// ExpireDue 批量过期
func (r *MemoryRedEnvelopeRepository) ExpireDue(ctx context.Context, now time.Time) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	var n int64
	for _, envelope := range r.envelopes {
		if expireLocked(envelope, now) {
			n++
		}
	}
	return n, nil
}

func expireLocked(envelope *models.RedEnvelope, now time.Time) bool {
	if envelope.Status != models.StatusActive || !envelope.IsDue(now) {
		return false
	}
	envelope.Status = models.StatusExpired
	envelope.Version++
	envelope.UpdatedAt = now
	return true
}

// GetClaim 获取某用户在某红包下的领取记录
func (r *MemoryRedEnvelopeRepository) GetClaim(ctx context.Context, envelopeUUID, userID string) (*models.RedEnvelopeClaim, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, c := range r.claims[envelopeUUID] {
		if c.UserID == userID {
			out := *c
			return &out, nil
		}
	}
	return nil, ErrNotFound
}

// ListClaims 获取红包的所有领取记录，按领取时间升序
func (r *MemoryRedEnvelopeRepository) ListClaims(ctx context.Context, envelopeUUID string) ([]models.RedEnvelopeClaim, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]models.RedEnvelopeClaim, 0, len(r.claims[envelopeUUID]))
	for _, c := range r.claims[envelopeUUID] {
		out = append(out, *c)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].ClaimedAt.Equal(out[j].ClaimedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].ClaimedAt.Before(out[j].ClaimedAt)
	})
	return out, nil
}
