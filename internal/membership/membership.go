// Package membership 会话成员校验
package membership

import (
	"context"
	"fmt"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/smysle/sakura-redenvelope-go/pkg/utils"
)

// Checker 判断用户是否为会话成员
type Checker interface {
	IsMember(ctx context.Context, conversationID, userID string) (bool, error)
}

// StaticChecker 基于配置的成员表，成员列表包含 "*" 时所有人都是成员
type StaticChecker struct {
	members map[string]map[string]struct{}
}

// NewStaticChecker 创建静态成员校验
func NewStaticChecker(conversations map[string][]string) *StaticChecker {
	members := make(map[string]map[string]struct{}, len(conversations))
	for conv, users := range conversations {
		set := make(map[string]struct{}, len(users))
		for _, u := range users {
			set[u] = struct{}{}
		}
		members[conv] = set
	}
	return &StaticChecker{members: members}
}

// IsMember 实现 Checker
func (s *StaticChecker) IsMember(_ context.Context, conversationID, userID string) (bool, error) {
	set, ok := s.members[conversationID]
	if !ok {
		return false, nil
	}
	if _, all := set["*"]; all {
		return true, nil
	}
	_, ok = set[userID]
	return ok, nil
}

// CachedChecker 缓存成员校验结果，非成员只缓存较短时间
type CachedChecker struct {
	next        Checker
	cache       *cache.Cache
	ttl         time.Duration
	negativeTTL time.Duration
}

// NewCachedChecker 包装一个 Checker
func NewCachedChecker(next Checker, ttl time.Duration) *CachedChecker {
	negative := ttl / 10
	if negative < time.Second {
		negative = time.Second
	}
	return &CachedChecker{
		next:        next,
		cache:       utils.NewCache(ttl),
		ttl:         ttl,
		negativeTTL: negative,
	}
}

// IsMember 实现 Checker
func (c *CachedChecker) IsMember(ctx context.Context, conversationID, userID string) (bool, error) {
	key := fmt.Sprintf("member:%s:%s", conversationID, userID)
	v, err := utils.CacheGetOrSet(c.cache, key,
		func(v interface{}) time.Duration {
			if v.(bool) {
				return c.ttl
			}
			return c.negativeTTL
		},
		func() (interface{}, error) {
			return c.next.IsMember(ctx, conversationID, userID)
		},
	)
	if err != nil {
		return false, err
	}
	return v.(bool), nil
}
