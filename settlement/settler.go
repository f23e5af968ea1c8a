package settlement

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

type RetryPolicy struct {
	Attempts int
	Backoff  time.Duration
}

var DefaultRetryPolicy = RetryPolicy{Attempts: 3, Backoff: 2 * time.Second}

// Settler is how match code reaches the settlement service. Creation is the
// only blocking call. Start and finalize run in the background with retries
// and report their outcome through callbacks, never to the caller.
type Settler struct {
	client Client
	policy RetryPolicy

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewSettler(client Client, policy RetryPolicy) *Settler {
	if policy.Attempts < 1 {
		policy.Attempts = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Settler{client: client, policy: policy, ctx: ctx, cancel: cancel}
}

// Create registers the match and blocks until the service answers. Its
// failure fails the join that triggered it.
func (s *Settler) Create(ctx context.Context, playerA, playerB string) (*Match, error) {
	m, err := s.client.CreateMatch(ctx, playerA, playerB)
	if err != nil {
		return nil, fmt.Errorf("create match on chain: %w", err)
	}
	return m, nil
}

// StartAsync marks the match started. Failures are only logged.
func (s *Settler) StartAsync(matchID string) {
	s.background("start", matchID, func(ctx context.Context) error {
		return s.client.StartMatch(ctx, matchID)
	}, nil)
}

// FinalizeAsync submits the outcome. onExhausted runs once if every attempt
// fails.
func (s *Settler) FinalizeAsync(req FinalizeRequest, onExhausted func(error)) {
	s.background("finalize", req.MatchID, func(ctx context.Context) error {
		return s.client.FinalizeMatch(ctx, req)
	}, onExhausted)
}

// Close abandons pending retries and waits for in-flight calls to return.
func (s *Settler) Close() {
	s.cancel()
	s.wg.Wait()
}

// Wait blocks until every background call has finished.
func (s *Settler) Wait() {
	s.wg.Wait()
}

func (s *Settler) background(op, matchID string, call func(context.Context) error, onExhausted func(error)) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		err := s.retry(op, matchID, call)
		if err == nil {
			return
		}
		log.Error().Err(err).Str("op", op).Str("contractMatchID", matchID).Msg("Settlement call gave up")
		if onExhausted != nil {
			onExhausted(err)
		}
	}()
}

func (s *Settler) retry(op, matchID string, call func(context.Context) error) error {
	var err error
	for attempt := 1; attempt <= s.policy.Attempts; attempt++ {
		if err = call(s.ctx); err == nil {
			log.Info().Str("op", op).Str("contractMatchID", matchID).Int("attempt", attempt).Msg("Settlement call succeeded")
			return nil
		}
		log.Warn().Err(err).Str("op", op).Str("contractMatchID", matchID).Int("attempt", attempt).Msg("Settlement call failed")
		if attempt == s.policy.Attempts {
			break
		}
		t := time.NewTimer(s.policy.Backoff)
		select {
		case <-t.C:
		case <-s.ctx.Done():
			t.Stop()
			return fmt.Errorf("%s abandoned after %d attempts: %w", op, attempt, err)
		}
	}
	return fmt.Errorf("%s failed after %d attempts: %w", op, s.policy.Attempts, err)
}
