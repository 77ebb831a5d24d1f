package filter

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var ErrInvalidRule = errors.New("invalid rule")

// Record is the serializable form of a Rule used by project files.
//
// For id targets Value and Mask are hex or decimal numbers, an empty Mask
// means all ones. For data targets Value and Mask are hex byte strings of the
// same length, an empty Mask compares every bit.
type Record struct {
	Mode    string `json:"mode" cbor:"mode" toml:"mode"`
	Kind    string `json:"kind" cbor:"kind" toml:"kind"`
	Value   string `json:"value" cbor:"value" toml:"value"`
	Mask    string `json:"mask,omitempty" cbor:"mask,omitempty" toml:"mask,omitempty"`
	Enabled bool   `json:"enabled" cbor:"enabled" toml:"enabled"`
}

type InvalidRuleError struct {
	Index  int
	Record Record
	Err    error
}

func (e *InvalidRuleError) Error() string {
	return fmt.Sprintf("rule %d (%s %s %q): %v", e.Index, e.Record.Mode, e.Record.Kind, e.Record.Value, e.Err)
}

func (e *InvalidRuleError) Unwrap() error {
	return e.Err
}

func (e *InvalidRuleError) Is(target error) bool {
	return target == ErrInvalidRule
}

// ToRecord converts a rule to its serializable form
func ToRecord(r Rule) Record {
	rec := Record{
		Mode:    r.Mode.String(),
		Kind:    r.Target.Kind().String(),
		Enabled: r.Enabled,
	}
	switch t := r.Target.(type) {
	case IDMatch:
		rec.Value = fmt.Sprintf("0x%X", t.Value)
		if t.Mask != AllOnes {
			rec.Mask = fmt.Sprintf("0x%X", t.Mask)
		}
	case DataPattern:
		rec.Value = strings.ToUpper(hex.EncodeToString(t.Bytes))
		if !allSet(t.Mask) {
			rec.Mask = strings.ToUpper(hex.EncodeToString(t.Mask))
		}
	}
	return rec
}

func allSet(b []byte) bool {
	for _, v := range b {
		if v != 0xFF {
			return false
		}
	}
	return true
}

// FromRecord validates rec and builds a rule without an ID
func FromRecord(rec Record) (Rule, error) {
	mode, err := ParseMode(rec.Mode)
	if err != nil {
		return Rule{}, err
	}
	kind, err := ParseKind(rec.Kind)
	if err != nil {
		return Rule{}, err
	}
	var target Target
	switch kind {
	case KindID:
		target, err = idFromRecord(rec)
	case KindData:
		target, err = dataFromRecord(rec)
	}
	if err != nil {
		return Rule{}, err
	}
	return Rule{Mode: mode, Target: target, Enabled: rec.Enabled}, nil
}

func parseUint32(s string) (uint32, error) {
	s = strings.TrimSpace(s)
	base := 10
	if p := strings.ToLower(s); strings.HasPrefix(p, "0x") {
		s, base = s[2:], 16
	}
	v, err := strconv.ParseUint(s, base, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid number %q", s)
	}
	return uint32(v), nil
}

func idFromRecord(rec Record) (IDMatch, error) {
	value, err := parseUint32(rec.Value)
	if err != nil {
		return IDMatch{}, err
	}
	mask := AllOnes
	if strings.TrimSpace(rec.Mask) != "" {
		if mask, err = parseUint32(rec.Mask); err != nil {
			return IDMatch{}, err
		}
	}
	return NewIDMatchMask(value, mask)
}

func decodeHexBytes(s string) ([]byte, error) {
	s = strings.NewReplacer(" ", "", ",", "", "0x", "", "0X", "").Replace(s)
	return hex.DecodeString(s)
}

func dataFromRecord(rec Record) (DataPattern, error) {
	if strings.ContainsAny(rec.Value, "?*&") {
		if rec.Mask != "" {
			return DataPattern{}, errors.New("wildcard pattern cannot carry a mask")
		}
		return ParseDataPattern(rec.Value)
	}
	pattern, err := decodeHexBytes(rec.Value)
	if err != nil {
		return DataPattern{}, fmt.Errorf("invalid data value %q", rec.Value)
	}
	var mask []byte
	if strings.TrimSpace(rec.Mask) != "" {
		if mask, err = decodeHexBytes(rec.Mask); err != nil {
			return DataPattern{}, fmt.Errorf("invalid data mask %q", rec.Mask)
		}
	}
	return NewDataPattern(pattern, mask)
}

// Export returns the current rules as records in insertion order
func (e *Engine) Export() []Record {
	rules := e.Rules()
	out := make([]Record, 0, len(rules))
	for _, r := range rules {
		out = append(out, ToRecord(r))
	}
	return out
}

// Import loads records, replacing the current rules when replace is set.
// Invalid or duplicate records are skipped and reported as *InvalidRuleError
// joined into the returned error; every valid record is still loaded.
func (e *Engine) Import(records []Record, replace bool) ([]Rule, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	var next []Rule
	if !replace {
		next = e.current()
	}
	base := len(next)
	var errs []error
	for i, rec := range records {
		r, err := FromRecord(rec)
		if err != nil {
			errs = append(errs, &InvalidRuleError{Index: i, Record: rec, Err: err})
			continue
		}
		if indexOf(next, r.Mode, r.Target) >= 0 {
			errs = append(errs, &InvalidRuleError{Index: i, Record: rec, Err: ErrDuplicateRule})
			continue
		}
		next = append(next, r)
	}
	rules, err := e.replaceLocked(next)
	if err != nil {
		return nil, err
	}
	added := make([]Rule, len(rules)-base)
	copy(added, rules[base:])
	return added, errors.Join(errs...)
}
