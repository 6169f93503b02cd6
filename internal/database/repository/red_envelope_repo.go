package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"

	"github.com/smysle/sakura-redenvelope-go/internal/database/models"
)

// RedEnvelopeRepository 基于 GORM 的红包仓库
type RedEnvelopeRepository struct {
	db *gorm.DB
}

// NewRedEnvelopeRepository 创建红包仓库
func NewRedEnvelopeRepository(db *gorm.DB) *RedEnvelopeRepository {
	return &RedEnvelopeRepository{db: db}
}

// Create 创建红包
func (r *RedEnvelopeRepository) Create(ctx context.Context, envelope *models.RedEnvelope) error {
	return r.db.WithContext(ctx).Create(envelope).Error
}

// GetByUUID 根据 UUID 获取红包
func (r *RedEnvelopeRepository) GetByUUID(ctx context.Context, uuid string) (*models.RedEnvelope, error) {
	var envelope models.RedEnvelope
	err := r.db.WithContext(ctx).Where("uuid = ?", uuid).First(&envelope).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if !envelope.Status.Valid() {
		return nil, fmt.Errorf("红包 %s 状态未知: %q", uuid, envelope.Status)
	}
	return &envelope, nil
}

// AttachAnnouncement 记录公告引用
func (r *RedEnvelopeRepository) AttachAnnouncement(ctx context.Context, uuid, ref string) error {
	return r.db.WithContext(ctx).Model(&models.RedEnvelope{}).
		Where("uuid = ? AND (announcement_ref = '' OR announcement_ref IS NULL)", uuid).
		Update("announcement_ref", ref).Error
}

// CommitClaim 在一个事务内完成余额扣减和领取记录写入
func (r *RedEnvelopeRepository) CommitClaim(ctx context.Context, commit ClaimCommit) (*models.RedEnvelope, error) {
	remaining, claimed, status, err := commit.nextState()
	if err != nil {
		return nil, err
	}
	snapshot := commit.Snapshot

	err = r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// 版本号、状态和过期时间一起作为比较条件，过期判断与提交在同一原子操作内
		res := tx.Model(&models.RedEnvelope{}).
			Where("id = ? AND version = ? AND status = ? AND expires_at > ?",
				snapshot.ID, snapshot.Version, models.StatusActive, commit.Now).
			Updates(map[string]interface{}{
				"remaining_amount": remaining,
				"claimed_count":    claimed,
				"status":           status,
				"version":          gorm.Expr("version + 1"),
				"updated_at":       commit.Now,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrConcurrencyConflict
		}

		if err := tx.Create(commit.Claim).Error; err != nil {
			if isDuplicateKey(err) {
				return ErrDuplicateClaim
			}
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	updated := *snapshot
	updated.RemainingAmount = remaining
	updated.ClaimedCount = claimed
	updated.Status = status
	updated.Version = snapshot.Version + 1
	updated.UpdatedAt = commit.Now
	return &updated, nil
}

// ExpireEnvelope 设置红包为已过期（幂等）
func (r *RedEnvelopeRepository) ExpireEnvelope(ctx context.Context, uuid string, now time.Time) (bool, error) {
	res := r.db.WithContext(ctx).Model(&models.RedEnvelope{}).
		Where("uuid = ? AND status = ? AND expires_at <= ?", uuid, models.StatusActive, now).
		Updates(expireColumns(now))
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// ExpireDue 批量过期
func (r *RedEnvelopeRepository) ExpireDue(ctx context.Context, now time.Time) (int64, error) {
	res := r.db.WithContext(ctx).Model(&models.RedEnvelope{}).
		Where("status = ? AND expires_at <= ?", models.StatusActive, now).
		Updates(expireColumns(now))
	return res.RowsAffected, res.Error
}

// GetClaim 获取某用户在某红包下的领取记录
func (r *RedEnvelopeRepository) GetClaim(ctx context.Context, envelopeUUID, userID string) (*models.RedEnvelopeClaim, error) {
	var claim models.RedEnvelopeClaim
	err := r.db.WithContext(ctx).
		Where("envelope_uuid = ? AND user_id = ?", envelopeUUID, userID).
		First(&claim).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &claim, nil
}

// ListClaims 获取红包的所有领取记录
func (r *RedEnvelopeRepository) ListClaims(ctx context.Context, envelopeUUID string) ([]models.RedEnvelopeClaim, error) {
	var claims []models.RedEnvelopeClaim
	err := r.db.WithContext(ctx).
		Where("envelope_uuid = ?", envelopeUUID).
		Order("claimed_at ASC, id ASC").
		Find(&claims).Error
	return claims, err
}

// 过期只冻结，不动余额和领取记录
func expireColumns(now time.Time) map[string]interface{} {
	return map[string]interface{}{
		"status":     models.StatusExpired,
		"version":    gorm.Expr("version + 1"),
		"updated_at": now,
	}
}

// isDuplicateKey 唯一索引冲突（MySQL 1062 / PostgreSQL 23505）
func isDuplicateKey(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) {
		return mysqlErr.Number == 1062
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}
