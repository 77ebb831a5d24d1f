// Package filter decides which decoded frames are visible to consumers.
//
// Exclusion is absolute: any enabled Exclude rule that matches hides the frame.
// Otherwise, when enabled Include rules exist, at least one of them must match.
// With no enabled Include rules every frame not excluded is visible.
package filter

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/roffe/canmon/pkg/frame"
)

type Mode int

const (
	Include Mode = iota
	Exclude
)

func (m Mode) String() string {
	switch m {
	case Include:
		return "include"
	case Exclude:
		return "exclude"
	default:
		return "unknown"
	}
}

func (m Mode) valid() error {
	if m != Include && m != Exclude {
		return fmt.Errorf("unknown rule mode %d", m)
	}
	return nil
}

func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "include", "+", "whitelist":
		return Include, nil
	case "exclude", "-", "blacklist":
		return Exclude, nil
	}
	return 0, fmt.Errorf("unknown rule mode %q", s)
}

var (
	ErrDuplicateRule = errors.New("duplicate rule")
	ErrUnknownRule   = errors.New("unknown rule")
)

type Rule struct {
	ID      string
	Mode    Mode
	Target  Target
	Enabled bool
}

func (r Rule) String() string {
	state := ""
	if !r.Enabled {
		state = " (disabled)"
	}
	return r.Mode.String() + " " + r.Target.String() + state
}

// Matches reports whether the rule's target matches f, ignoring Enabled
func (r Rule) Matches(f *frame.CANFrame) bool {
	return r.Target.Match(f)
}

// ruleSet is immutable once published
type ruleSet struct {
	all     []Rule
	include []Target
	exclude []Target
}

func newRuleSet(rules []Rule) *ruleSet {
	rs := &ruleSet{all: rules}
	for _, r := range rules {
		if !r.Enabled {
			continue
		}
		switch r.Mode {
		case Include:
			rs.include = append(rs.include, r.Target)
		case Exclude:
			rs.exclude = append(rs.exclude, r.Target)
		}
	}
	return rs
}

func (rs *ruleSet) visible(f *frame.CANFrame) bool {
	for _, t := range rs.exclude {
		if t.Match(f) {
			return false
		}
	}
	if len(rs.include) == 0 {
		return true
	}
	for _, t := range rs.include {
		if t.Match(f) {
			return true
		}
	}
	return false
}

// Engine is safe for concurrent use. Writers serialize on a mutex and publish
// a fresh snapshot, Evaluate reads exactly one snapshot without locking.
type Engine struct {
	mu       sync.Mutex
	rules    atomic.Pointer[ruleSet]
	onChange func([]Rule)
}

type Opt func(e *Engine)

// OptOnChange is called with the new rule list after every mutation
func OptOnChange(fn func([]Rule)) Opt {
	return func(e *Engine) {
		e.onChange = fn
	}
}

func NewEngine(opts ...Opt) *Engine {
	e := &Engine{}
	e.rules.Store(newRuleSet(nil))
	for _, o := range opts {
		o(e)
	}
	return e
}

// Evaluate returns whether f is visible under the current rule set
func (e *Engine) Evaluate(f *frame.CANFrame) bool {
	return e.rules.Load().visible(f)
}

// Rules returns a copy of the rule list in insertion order
func (e *Engine) Rules() []Rule {
	all := e.rules.Load().all
	out := make([]Rule, len(all))
	copy(out, all)
	return out
}

func (e *Engine) Len() int {
	return len(e.rules.Load().all)
}

// publish must be called with mu held
func (e *Engine) publish(rules []Rule) {
	e.rules.Store(newRuleSet(rules))
	if e.onChange != nil {
		out := make([]Rule, len(rules))
		copy(out, rules)
		e.onChange(out)
	}
}

func (e *Engine) current() []Rule {
	all := e.rules.Load().all
	out := make([]Rule, len(all), len(all)+1)
	copy(out, all)
	return out
}

func indexOf(rules []Rule, mode Mode, target Target) int {
	for i, r := range rules {
		if r.Mode == mode && equalTargets(r.Target, target) {
			return i
		}
	}
	return -1
}

// Add appends an enabled rule
func (e *Engine) Add(mode Mode, target Target) (Rule, error) {
	if target == nil {
		return Rule{}, errors.New("nil target")
	}
	if err := mode.valid(); err != nil {
		return Rule{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	rules := e.current()
	if indexOf(rules, mode, target) >= 0 {
		return Rule{}, fmt.Errorf("%w: %s %s", ErrDuplicateRule, mode, target)
	}
	r := Rule{
		ID:      uuid.NewString(),
		Mode:    mode,
		Target:  target,
		Enabled: true,
	}
	e.publish(append(rules, r))
	return r, nil
}

func (e *Engine) Remove(id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	rules := e.current()
	for i, r := range rules {
		if r.ID == id {
			e.publish(append(rules[:i], rules[i+1:]...))
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrUnknownRule, id)
}

func (e *Engine) SetEnabled(id string, enabled bool) error {
	_, err := e.update(id, func(r *Rule) { r.Enabled = enabled })
	return err
}

// Toggle flips Enabled and returns the updated rule
func (e *Engine) Toggle(id string) (Rule, error) {
	return e.update(id, func(r *Rule) { r.Enabled = !r.Enabled })
}

func (e *Engine) update(id string, fn func(r *Rule)) (Rule, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	rules := e.current()
	for i := range rules {
		if rules[i].ID == id {
			fn(&rules[i])
			e.publish(rules)
			return rules[i], nil
		}
	}
	return Rule{}, fmt.Errorf("%w: %s", ErrUnknownRule, id)
}

func (e *Engine) Clear() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.publish(nil)
}

// Replace swaps the whole rule list in one step. Rules without an ID get one.
func (e *Engine) Replace(rules []Rule) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, err := e.replaceLocked(rules)
	return err
}

func (e *Engine) replaceLocked(rules []Rule) ([]Rule, error) {
	next := make([]Rule, 0, len(rules))
	for _, r := range rules {
		if r.Target == nil {
			return nil, errors.New("nil target")
		}
		if err := r.Mode.valid(); err != nil {
			return nil, err
		}
		if indexOf(next, r.Mode, r.Target) >= 0 {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateRule, r)
		}
		if r.ID == "" {
			r.ID = uuid.NewString()
		}
		next = append(next, r)
	}
	e.publish(next)
	return next, nil
}
