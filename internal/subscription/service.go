// Package subscription edits the persisted subscription list by id.
package subscription

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/google/uuid"

	appLog "github.com/aizatto/ical-debugger/internal/log"
	"github.com/aizatto/ical-debugger/internal/model"
)

// ErrNotFound is returned when an id matches no subscription.
var ErrNotFound = errors.New("subscription not found")

// Repository is the persistence the service writes through.
type Repository interface {
	Load(ctx context.Context) ([]model.Subscription, error)
	Save(ctx context.Context, subs []model.Subscription) error
}

// Service owns the in-memory subscription list. Every successful edit is
// saved to the repository and then reported to the change hook, in commit
// order.
type Service struct {
	repo     Repository
	onChange func([]model.Subscription)

	mu   sync.Mutex
	subs []model.Subscription
}

// Open loads the current list from repo. onChange runs while the service
// lock is held, so it must return quickly and must not call back into the
// Service.
func Open(ctx context.Context, repo Repository, onChange func([]model.Subscription)) (*Service, error) {
	subs, err := repo.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load subscriptions: %w", err)
	}
	return &Service{repo: repo, onChange: onChange, subs: subs}, nil
}

// List returns a copy of the current list.
func (s *Service) List() []model.Subscription {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.subs)
}

// Add appends a disabled subscription with a fresh id.
func (s *Service) Add(ctx context.Context, url string) (model.Subscription, error) {
	sub := model.Subscription{
		ID:  uuid.NewString(),
		URL: strings.TrimSpace(url),
	}
	err := s.edit(ctx, func(subs []model.Subscription) ([]model.Subscription, error) {
		return append(subs, sub), nil
	})
	if err != nil {
		return model.Subscription{}, err
	}
	appLog.Info("subscription added", "id", sub.ID)
	return sub, nil
}

// SetURL replaces the URL of subscription id.
func (s *Service) SetURL(ctx context.Context, id, url string) error {
	return s.edit(ctx, func(subs []model.Subscription) ([]model.Subscription, error) {
		i := indexOf(subs, id)
		if i < 0 {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		subs[i].URL = strings.TrimSpace(url)
		return subs, nil
	})
}

// SetEnabled toggles subscription id.
func (s *Service) SetEnabled(ctx context.Context, id string, enabled bool) error {
	return s.edit(ctx, func(subs []model.Subscription) ([]model.Subscription, error) {
		i := indexOf(subs, id)
		if i < 0 {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		subs[i].Enabled = enabled
		return subs, nil
	})
}

// Remove deletes subscription id and closes the gap it leaves.
func (s *Service) Remove(ctx context.Context, id string) error {
	err := s.edit(ctx, func(subs []model.Subscription) ([]model.Subscription, error) {
		i := indexOf(subs, id)
		if i < 0 {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return slices.Delete(subs, i, i+1), nil
	})
	if err == nil {
		appLog.Info("subscription removed", "id", id)
	}
	return err
}

// edit applies fn to a copy of the list, persists the result and only then
// swaps it in. A failed save leaves the in-memory list untouched. The hook
// fires before the lock is released so notifications cannot overtake each
// other.
func (s *Service) edit(ctx context.Context, fn func([]model.Subscription) ([]model.Subscription, error)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next, err := fn(slices.Clone(s.subs))
	if err != nil {
		return err
	}
	if err := s.repo.Save(ctx, next); err != nil {
		appLog.Error("subscription save failed", err)
		return fmt.Errorf("save subscriptions: %w", err)
	}
	s.subs = next

	if s.onChange != nil {
		s.onChange(slices.Clone(next))
	}
	return nil
}

func indexOf(subs []model.Subscription, id string) int {
	return slices.IndexFunc(subs, func(s model.Subscription) bool { return s.ID == id })
}
