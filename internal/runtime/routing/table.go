// Package routing maps topic glob patterns to subscriber sets and dispatches
// inbound messages to the first matching set.
package routing

import (
	"context"
	"fmt"
	"sync"

	"github.com/bmatcuk/doublestar/v4"

	loggingpkg "github.com/drblury/eventstream/internal/runtime/logging"
)

// Subscriber receives decoded messages for the topic patterns it requests.
// Name is stable and doubles as the subscriber's queue name.
type Subscriber interface {
	Name() string
	Topics() []string
	OnMessage(ctx context.Context, data any, topic string) error
}

// Decoder turns a wire body into a value.
type Decoder interface {
	Deserialize(wire []byte) (any, error)
}

// Match reports whether key matches the shell-style glob pattern. Malformed
// patterns never match. Besides *, ? and [...], braces are alternation
// ("orders.{created,paid}") and a backslash escapes the next character.
func Match(pattern, key string) bool {
	ok, err := doublestar.Match(pattern, key)
	return err == nil && ok
}

// ValidatePattern rejects patterns the matcher cannot evaluate.
func ValidatePattern(pattern string) error {
	if pattern == "" || !doublestar.ValidatePattern(pattern) {
		return fmt.Errorf("invalid topic pattern %q", pattern)
	}
	return nil
}

type route struct {
	pattern     string
	subscribers []Subscriber
	names       map[string]struct{}
}

// Table keeps routes in registration order. Resolution is first match wins,
// not most specific match.
type Table struct {
	mu     sync.RWMutex
	routes []*route
	index  map[string]*route
	logger loggingpkg.ServiceLogger
}

func NewTable(logger loggingpkg.ServiceLogger) *Table {
	if logger == nil {
		logger = loggingpkg.NewNopLogger()
	}
	return &Table{index: make(map[string]*route), logger: logger}
}

// Add binds sub to pattern. It returns false, with a warning logged, when the
// pair is already present.
func (t *Table) Add(pattern string, sub Subscriber) (bool, error) {
	if err := ValidatePattern(pattern); err != nil {
		return false, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	r, ok := t.index[pattern]
	if !ok {
		r = &route{pattern: pattern, names: make(map[string]struct{})}
		t.index[pattern] = r
		t.routes = append(t.routes, r)
	}
	if _, dup := r.names[sub.Name()]; dup {
		t.logger.Warn("Subscriber already receiving routing key", loggingpkg.LogFields{
			"subscriber":  sub.Name(),
			"routing_key": pattern,
		})
		return false, nil
	}
	r.names[sub.Name()] = struct{}{}
	r.subscribers = append(r.subscribers, sub)
	return true, nil
}

// Contains reports whether the subscriber name is bound to pattern.
func (t *Table) Contains(pattern, name string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	r, ok := t.index[pattern]
	if !ok {
		return false
	}
	_, ok = r.names[name]
	return ok
}

// Reset drops every route.
func (t *Table) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.routes = nil
	t.index = make(map[string]*route)
}

// Resolve returns the subscribers bound to the first pattern matching key.
func (t *Table) Resolve(key string) []Subscriber {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, r := range t.routes {
		if Match(r.pattern, key) {
			out := make([]Subscriber, len(r.subscribers))
			copy(out, r.subscribers)
			return out
		}
	}
	return nil
}

// Patterns lists bound patterns in registration order.
func (t *Table) Patterns() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]string, len(t.routes))
	for i, r := range t.routes {
		out[i] = r.pattern
	}
	return out
}

// Dispatch decodes body once and hands it to every subscriber of the first
// matching route, one after another. handled is false when no route matches;
// such messages must not be acknowledged. The first subscriber error stops
// dispatch and is returned.
func (t *Table) Dispatch(ctx context.Context, key string, body []byte, decoder Decoder) (handled bool, err error) {
	subscribers := t.Resolve(key)
	if len(subscribers) == 0 {
		t.logger.Debug("No route for message", loggingpkg.LogFields{"routing_key": key})
		return false, nil
	}

	data, err := decoder.Deserialize(body)
	if err != nil {
		return false, &DecodeError{Key: key, Err: err}
	}

	for _, sub := range subscribers {
		if err := sub.OnMessage(ctx, data, key); err != nil {
			return false, &HandlerError{Subscriber: sub.Name(), Key: key, Err: err}
		}
	}
	return true, nil
}

// DecodeError means the body could not be decoded; redelivery will not help.
type DecodeError struct {
	Key string
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode message for %q: %v", e.Key, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// HandlerError wraps a subscriber failure.
type HandlerError struct {
	Subscriber string
	Key        string
	Err        error
}

func (e *HandlerError) Error() string {
	return fmt.Sprintf("subscriber %q failed on %q: %v", e.Subscriber, e.Key, e.Err)
}

func (e *HandlerError) Unwrap() error { return e.Err }
