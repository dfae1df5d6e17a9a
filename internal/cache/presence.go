// Package cache mirrors presence into Redis for other instances and tools, and rate
// limits the REST surface.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Keys:
//   <prefix>:conn:<user>     set of connection ids
//   <prefix>:presence:<user> json {online,last_seen}

type Presence struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

type Status struct {
	UserID   string `json:"user_id"`
	Online   bool   `json:"is_online"`
	LastSeen int64  `json:"last_seen,omitempty"`
}

var ErrNoPresence = errors.New("no presence recorded")

func NewPresence(client *redis.Client, prefix string, ttl time.Duration) *Presence {
	return &Presence{client: client, prefix: prefix, ttl: ttl}
}

func (p *Presence) connKey(userID string) string { return fmt.Sprintf("%s:conn:%s", p.prefix, userID) }
func (p *Presence) presenceKey(userID string) string {
	return fmt.Sprintf("%s:presence:%s", p.prefix, userID)
}

// AddConnection records connID for the user and marks them online. Both keys expire after
// the configured ttl so a crashed instance does not leave users online forever.
func (p *Presence) AddConnection(ctx context.Context, userID, connID string) error {
	b, _ := json.Marshal(Status{UserID: userID, Online: true, LastSeen: time.Now().Unix()})
	pipe := p.client.TxPipeline()
	pipe.SAdd(ctx, p.connKey(userID), connID)
	pipe.Expire(ctx, p.connKey(userID), p.ttl)
	pipe.Set(ctx, p.presenceKey(userID), b, p.ttl)
	_, err := pipe.Exec(ctx)
	return err
}

// Refresh re-asserts a live connection and pushes both expiries a full ttl forward. It is
// called on every ping so a long-lived connection never ages out of the mirror.
func (p *Presence) Refresh(ctx context.Context, userID, connID string) error {
	return p.AddConnection(ctx, userID, connID)
}

// RemoveConnection forgets connID; the user is marked offline once no connection remains.
func (p *Presence) RemoveConnection(ctx context.Context, userID, connID string, lastSeen time.Time) error {
	key := p.connKey(userID)
	if err := p.client.SRem(ctx, key, connID).Err(); err != nil {
		return err
	}
	n, err := p.client.SCard(ctx, key).Result()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	b, _ := json.Marshal(Status{UserID: userID, Online: false, LastSeen: lastSeen.Unix()})
	return p.client.Set(ctx, p.presenceKey(userID), b, 0).Err()
}

func (p *Presence) Get(ctx context.Context, userID string) (*Status, error) {
	b, err := p.client.Get(ctx, p.presenceKey(userID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNoPresence
	}
	if err != nil {
		return nil, err
	}
	var st Status
	if err := json.Unmarshal(b, &st); err != nil {
		return nil, err
	}
	return &st, nil
}
