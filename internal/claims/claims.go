// Package claims records which identity is working an issue. Claims are
// advisory: nothing in the lifecycle consults them.
package claims

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/alfredjeanlab/kgate/internal/events"
	"github.com/alfredjeanlab/kgate/internal/model"
)

var (
	// ErrAlreadyClaimed is returned when another identity holds a live claim.
	ErrAlreadyClaimed = errors.New("issue already claimed")
	// ErrNotHolder is returned when releasing a claim the caller does not hold.
	ErrNotHolder = errors.New("not the claim holder")
)

// ClaimStore is the slice of store.Store the manager needs.
type ClaimStore interface {
	LoadClaims(ctx context.Context) (map[string]*model.Claim, error)
	UpdateClaims(ctx context.Context, fn func(map[string]*model.Claim) error) error
}

// Recorder appends audit events.
type Recorder interface {
	Record(ctx context.Context, topic, issueID, actor string, payload any) (*model.Event, error)
}

// Manager grants and releases claims.
type Manager struct {
	store  ClaimStore
	rec    Recorder
	logger *slog.Logger
	now    func() time.Time
}

// New returns a Manager. rec may be nil.
func New(s ClaimStore, rec Recorder, logger *slog.Logger) *Manager {
	return &Manager{store: s, rec: rec, logger: logger, now: func() time.Time { return time.Now().UTC() }}
}

// Claim gives identity the claim on issueID. A ttl of zero means the claim
// never expires. Claiming again as the current holder renews the expiry.
func (m *Manager) Claim(ctx context.Context, issueID, identity string, ttl time.Duration) (*model.Claim, error) {
	if identity == "" {
		return nil, errors.New("claim: identity is required")
	}
	if ttl < 0 {
		return nil, fmt.Errorf("claim: negative ttl %s", ttl)
	}
	now := m.now()
	var (
		out     *model.Claim
		expired []*model.Claim
	)
	err := m.store.UpdateClaims(ctx, func(all map[string]*model.Claim) error {
		expired = expire(all, now)
		cur := all[issueID]
		if cur != nil && cur.Live(now) && cur.Holder != identity {
			return fmt.Errorf("%s held by %s: %w", issueID, cur.Holder, ErrAlreadyClaimed)
		}
		if cur == nil || !cur.Live(now) {
			cur = &model.Claim{IssueID: issueID, Holder: identity, AcquiredAt: now}
			all[issueID] = cur
		}
		cur.ExpiresAt = nil
		if ttl > 0 {
			exp := now.Add(ttl)
			cur.ExpiresAt = &exp
		}
		c := *cur
		out = &c
		return nil
	})
	if err != nil {
		return nil, err
	}
	m.recordExpired(ctx, expired)
	m.record(ctx, events.TopicClaimAcquired, out)
	return out, nil
}

// Release ends identity's claim on issueID.
func (m *Manager) Release(ctx context.Context, issueID, identity string) error {
	now := m.now()
	var (
		released *model.Claim
		expired  []*model.Claim
	)
	err := m.store.UpdateClaims(ctx, func(all map[string]*model.Claim) error {
		expired = expire(all, now)
		cur := all[issueID]
		if cur == nil || !cur.Live(now) {
			return fmt.Errorf("%s is not claimed: %w", issueID, ErrNotHolder)
		}
		if cur.Holder != identity {
			return fmt.Errorf("%s held by %s: %w", issueID, cur.Holder, ErrNotHolder)
		}
		cur.ReleasedAt = &now
		c := *cur
		released = &c
		return nil
	})
	if err != nil {
		return err
	}
	m.recordExpired(ctx, expired)
	m.record(ctx, events.TopicClaimReleased, released)
	return nil
}

// Current returns the live claim on issueID, or nil.
func (m *Manager) Current(ctx context.Context, issueID string) (*model.Claim, error) {
	all, err := m.store.LoadClaims(ctx)
	if err != nil {
		return nil, err
	}
	if c := all[issueID]; c != nil && c.Live(m.now()) {
		return c, nil
	}
	return nil, nil
}

// List returns every live claim ordered by issue id.
func (m *Manager) List(ctx context.Context) ([]*model.Claim, error) {
	all, err := m.store.LoadClaims(ctx)
	if err != nil {
		return nil, err
	}
	now := m.now()
	var out []*model.Claim
	for _, c := range all {
		if c.Live(now) {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].IssueID < out[j].IssueID })
	return out, nil
}

// expire marks every lapsed claim released at its expiry and returns copies
// of the ones it changed. The changes only persist if the surrounding update
// succeeds; a failed update leaves them to be found again next time.
func expire(all map[string]*model.Claim, now time.Time) []*model.Claim {
	var out []*model.Claim
	for _, c := range all {
		if c.Expired(now) {
			at := *c.ExpiresAt
			c.ReleasedAt = &at
			cp := *c
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].IssueID < out[j].IssueID })
	return out
}

func (m *Manager) recordExpired(ctx context.Context, expired []*model.Claim) {
	for _, c := range expired {
		m.logger.Info("claim expired", "issue", c.IssueID, "holder", c.Holder)
		m.record(ctx, events.TopicClaimExpired, c)
	}
}

// record appends a claim event. Claims are advisory, so a failed append is
// logged rather than undoing the claim.
func (m *Manager) record(ctx context.Context, topic string, c *model.Claim) {
	if m.rec == nil {
		return
	}
	payload := events.ClaimChanged{Holder: c.Holder, ExpiresAt: c.ExpiresAt}
	if _, err := m.rec.Record(ctx, topic, c.IssueID, c.Holder, payload); err != nil {
		m.logger.Error("recording claim event failed", "topic", topic, "issue", c.IssueID, "err", err)
	}
}
