package sources

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

type circuitState int

const (
	stateClosed circuitState = iota
	stateOpen
	stateHalfOpen
)

func (s circuitState) String() string {
	switch s {
	case stateOpen:
		return "open"
	case stateHalfOpen:
		return "half-open"
	default:
		return "closed"
	}
}

// circuitBreaker stops calling a strategy after consecutive failures and
// allows a single trial call once the open period has elapsed. Other callers
// are rejected until that call reports back.
type circuitBreaker struct {
	mu               sync.Mutex
	failures         map[string]int
	trial            map[string]bool
	lastFailure      map[string]time.Time
	state            map[string]circuitState
	failureThreshold int
	openDuration     time.Duration
	now              func() time.Time
	log              *zap.Logger
}

func newCircuitBreaker(threshold int, openFor time.Duration, log *zap.Logger) *circuitBreaker {
	if threshold <= 0 {
		threshold = 3
	}
	if openFor <= 0 {
		openFor = 5 * time.Minute
	}
	return &circuitBreaker{
		failures:         make(map[string]int),
		trial:            make(map[string]bool),
		lastFailure:      make(map[string]time.Time),
		state:            make(map[string]circuitState),
		failureThreshold: threshold,
		openDuration:     openFor,
		now:              time.Now,
		log:              log,
	}
}

func (cb *circuitBreaker) canAttempt(name string) error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state[name] {
	case stateClosed:
		return nil
	case stateHalfOpen:
		if cb.trial[name] {
			return fmt.Errorf("circuit half-open for %s, trial call in flight", name)
		}
		cb.trial[name] = true
		return nil
	}

	lastFail := cb.lastFailure[name]
	if cb.now().Sub(lastFail) > cb.openDuration {
		cb.state[name] = stateHalfOpen
		cb.trial[name] = true
		cb.log.Info("circuit half-open", zap.String("strategy", name))
		return nil
	}
	return fmt.Errorf("circuit open for %s (failures: %d, next retry: %s)",
		name, cb.failures[name], lastFail.Add(cb.openDuration).Format(time.RFC3339))
}

// release gives up an admitted call without judging the strategy, for
// example when the caller's context was cancelled.
func (cb *circuitBreaker) release(name string) {
	cb.mu.Lock()
	delete(cb.trial, name)
	cb.mu.Unlock()
}

func (cb *circuitBreaker) recordSuccess(name string) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state[name] != stateClosed {
		cb.log.Info("circuit closed", zap.String("strategy", name))
	}
	delete(cb.failures, name)
	delete(cb.lastFailure, name)
	delete(cb.trial, name)
	cb.state[name] = stateClosed
}

func (cb *circuitBreaker) recordFailure(name string, err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	delete(cb.trial, name)
	cb.failures[name]++
	cb.lastFailure[name] = cb.now()

	count := cb.failures[name]
	if cb.state[name] == stateHalfOpen || count >= cb.failureThreshold {
		if cb.state[name] != stateOpen {
			cb.log.Warn("circuit opened",
				zap.String("strategy", name),
				zap.Int("failures", count),
				zap.Error(err),
			)
		}
		cb.state[name] = stateOpen
		return
	}
	cb.log.Debug("strategy failure",
		zap.String("strategy", name),
		zap.Int("failures", count),
		zap.Int("threshold", cb.failureThreshold),
		zap.Error(err),
	)
}

func (cb *circuitBreaker) stateOf(name string) circuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state[name]
}
