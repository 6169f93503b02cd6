package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/smysle/sakura-redenvelope-go/internal/config"
	"github.com/smysle/sakura-redenvelope-go/internal/database/repository"
	"github.com/smysle/sakura-redenvelope-go/internal/feed"
	"github.com/smysle/sakura-redenvelope-go/internal/membership"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type recordingAnnouncer struct {
	mu   sync.Mutex
	sent []feed.Announcement
	err  error
}

func (r *recordingAnnouncer) Announce(_ context.Context, a feed.Announcement) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return "", r.err
	}
	r.sent = append(r.sent, a)
	return "ref-" + a.EnvelopeID, nil
}

type fixture struct {
	store     *repository.MemoryRedEnvelopeRepository
	clock     *fakeClock
	announcer *recordingAnnouncer
	envelopes *EnvelopeService
	claims    *ClaimProcessor
	reaper    *ExpiryReaper
}

func newFixture(t *testing.T, rnd RandSource, mutate ...func(*config.RedEnvelopeConfig)) *fixture {
	t.Helper()

	cfg := config.Default().RedEnvelope
	cfg.Enabled = true
	cfg.ClaimMaxAttempts = 1000
	for _, m := range mutate {
		m(&cfg)
	}

	f := &fixture{
		store:     repository.NewMemoryRedEnvelopeRepository(),
		clock:     &fakeClock{now: time.Date(2026, 1, 16, 10, 0, 0, 0, time.UTC)},
		announcer: &recordingAnnouncer{},
	}
	currencies := testCurrencies()
	deps := Deps{
		Store: f.store,
		Members: membership.NewStaticChecker(map[string][]string{
			"room-a":  {"*"},
			"private": {"alice", "bob"},
		}),
		Announcer:  f.announcer,
		Splitter:   NewSplitter(rnd, currencies),
		Currencies: currencies,
		Config:     cfg,
		Clock:      f.clock.Now,
	}
	f.envelopes = NewEnvelopeService(deps)
	f.claims = NewClaimProcessor(deps)
	f.reaper = NewExpiryReaper(f.store, f.clock.Now)
	return f
}

func (f *fixture) create(t *testing.T, total string, count int, strategy string) string {
	t.Helper()
	envelope, err := f.envelopes.CreateEnvelope(context.Background(), &CreateEnvelopeRequest{
		ConversationID: "room-a",
		SenderID:       "sender",
		SenderName:     "发红包的人",
		TotalAmount:    dec(total),
		Currency:       "CNY",
		RecipientCount: count,
		Strategy:       strategy,
	})
	if err != nil {
		t.Fatalf("CreateEnvelope() error = %v", err)
	}
	return envelope.UUID
}

func (f *fixture) claim(id, user string) (*ClaimResult, error) {
	return f.claims.Claim(context.Background(), &ClaimRequest{EnvelopeID: id, UserID: user, UserName: user})
}

var errBoom = errors.New("boom")
