package filter

import (
	"errors"
	"fmt"
	"strings"
)

// ParseRule parses the rule expressions typed into the monitor:
//
//	+id 0x123            include identifier 0x123
//	-id 0x700/0x700      exclude identifiers 0x700-0x7FF
//	exclude data FF ??   exclude frames whose first byte is 0xFF
//	0x5C0                include identifier 0x5C0
//
// The mode defaults to include, the kind defaults to id.
func ParseRule(expr string) (Mode, Target, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return 0, nil, errors.New("empty rule")
	}
	mode := Include
	switch expr[0] {
	case '+':
		expr = expr[1:]
	case '-':
		mode = Exclude
		expr = expr[1:]
	}
	fields := strings.Fields(expr)
	if len(fields) == 0 {
		return 0, nil, errors.New("missing rule target")
	}
	if m, err := ParseMode(fields[0]); err == nil {
		mode = m
		fields = fields[1:]
	}
	kind := KindID
	if len(fields) > 0 {
		if k, err := ParseKind(fields[0]); err == nil {
			kind = k
			fields = fields[1:]
		}
	}
	if len(fields) == 0 {
		return 0, nil, fmt.Errorf("missing %s value", kind)
	}

	switch kind {
	case KindData:
		p, err := ParseDataPattern(strings.Join(fields, " "))
		if err != nil {
			return 0, nil, err
		}
		return mode, p, nil
	default:
		if len(fields) != 1 {
			return 0, nil, fmt.Errorf("unexpected tokens after identifier: %q", fields[1:])
		}
		value, mask, _ := strings.Cut(fields[0], "/")
		m, err := idFromRecord(Record{Value: value, Mask: mask})
		if err != nil {
			return 0, nil, err
		}
		return mode, m, nil
	}
}

// AddExpr parses expr and adds the resulting rule
func (e *Engine) AddExpr(expr string) (Rule, error) {
	mode, target, err := ParseRule(expr)
	if err != nil {
		return Rule{}, fmt.Errorf("%w: %v", ErrInvalidRule, err)
	}
	return e.Add(mode, target)
}
