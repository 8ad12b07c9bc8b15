package launch

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"sync"

	"github.com/mr-tron/base58"
)

// ErrInjected is returned by Simulated when failure injection is on.
var ErrInjected = errors.New("simulated launch failure")

// Simulated is an in-memory launch service for development and tests.
// It mints TokensPerUnit tokens for every lamport spent and fills
// FillBps of each buy.
type Simulated struct {
	mu            sync.Mutex
	TokensPerUnit int64
	FillBps       int64
	FailCreate    bool
	FailBuy       bool

	assets map[string]Metadata
	calls  int
}

func NewSimulated() *Simulated {
	return &Simulated{
		TokensPerUnit: 1_000,
		FillBps:       10_000,
		assets:        make(map[string]Metadata),
	}
}

func (s *Simulated) CreateAsset(_ context.Context, meta Metadata) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.FailCreate {
		return "", ErrInjected
	}
	sum := sha256.Sum256([]byte(meta.Symbol + "|" + meta.URI))
	id := base58.Encode(sum[:])
	s.assets[id] = meta
	return id, nil
}

func (s *Simulated) BuyAsset(_ context.Context, assetID string, amount int64) (Purchase, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.FailBuy {
		return Purchase{}, ErrInjected
	}
	if _, ok := s.assets[assetID]; !ok {
		return Purchase{}, fmt.Errorf("unknown asset %s", assetID)
	}
	spent := amount * s.FillBps / 10_000
	return Purchase{TokensReceived: spent * s.TokensPerUnit, Spent: spent}, nil
}

// Calls reports how many requests reached the service.
func (s *Simulated) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}
