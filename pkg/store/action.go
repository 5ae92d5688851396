package store

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Action names one escrow operation dispatched for a session leg. The
// coordinator records an action before submitting so a concurrent retry of
// the same session never puts two operations in flight on the same escrow.
type Action string

const (
	ActionFundLeg1   Action = "fundLeg1"
	ActionFundLeg2   Action = "fundLeg2"
	ActionClaimLeg1  Action = "claimLeg1"
	ActionClaimLeg2  Action = "claimLeg2"
	ActionCancelLeg1 Action = "cancelLeg1"
	ActionCancelLeg2 Action = "cancelLeg2"
)

// ActionStore tracks which actions have been dispatched per session.
type ActionStore interface {
	// StoreAction keeps track of an action having been dispatched on the
	// session with the given order id.
	StoreAction(action Action, orderID string) error

	// CheckAction returns if the action has been dispatched previously.
	CheckAction(action Action, orderID string) (bool, error)
}

type redisStore struct {
	client *redis.Client
}

// NewRedisStore connects an ActionStore to the given redis url.
func NewRedisStore(redisURL string) (ActionStore, error) {
	parsedURL, err := url.Parse(redisURL)
	if err != nil {
		return nil, err
	}
	redisPassword, _ := parsedURL.User.Password()
	client := redis.NewClient(&redis.Options{
		Addr:     parsedURL.Host,
		Password: redisPassword,
		DB:       0, // Use default DB.
	})
	return redisStore{client: client}, nil
}

func (rs redisStore) StoreAction(action Action, orderID string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	return rs.client.Set(ctx, actionKey(action, orderID), true, 0).Err()
}

func (rs redisStore) CheckAction(action Action, orderID string) (bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	ok, err := rs.client.Get(ctx, actionKey(action, orderID)).Bool()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	return ok, err
}

func actionKey(action Action, orderID string) string {
	return fmt.Sprintf("%v-%v", action, orderID)
}

type inMemStore struct {
	mu      sync.Mutex
	actions map[string]struct{}
}

// NewInMemStore returns an ActionStore for tests and dry runs.
func NewInMemStore() ActionStore {
	return &inMemStore{actions: map[string]struct{}{}}
}

func (ims *inMemStore) StoreAction(action Action, orderID string) error {
	ims.mu.Lock()
	defer ims.mu.Unlock()
	ims.actions[actionKey(action, orderID)] = struct{}{}
	return nil
}

func (ims *inMemStore) CheckAction(action Action, orderID string) (bool, error) {
	ims.mu.Lock()
	defer ims.mu.Unlock()
	_, ok := ims.actions[actionKey(action, orderID)]
	return ok, nil
}
