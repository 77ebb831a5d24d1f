// Package project persists filter rules to disk as JSON or CBOR.
package project

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/fxamacker/cbor/v2"
	"github.com/roffe/canmon/pkg/filter"
)

const Version = 1

var (
	ErrUnknownFormat      = errors.New("unknown project format")
	ErrUnsupportedVersion = errors.New("unsupported project version")
)

type Format int

const (
	FormatJSON Format = iota
	FormatCBOR
)

func (f Format) String() string {
	switch f {
	case FormatJSON:
		return "json"
	case FormatCBOR:
		return "cbor"
	default:
		return "unknown"
	}
}

// FormatFromPath picks the codec from the file extension
func FormatFromPath(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return FormatJSON, nil
	case ".cbor":
		return FormatCBOR, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownFormat, filepath.Ext(path))
}

type Project struct {
	Version int             `json:"version" cbor:"version"`
	Name    string          `json:"name,omitempty" cbor:"name,omitempty"`
	Filters []filter.Record `json:"filters" cbor:"filters"`
}

func FromEngine(name string, e *filter.Engine) Project {
	return Project{
		Version: Version,
		Name:    name,
		Filters: e.Export(),
	}
}

// Apply loads the project filters into e, see filter.Engine.Import
func (p Project) Apply(e *filter.Engine, replace bool) ([]filter.Rule, error) {
	return e.Import(p.Filters, replace)
}

func Encode(w io.Writer, f Format, p Project) error {
	if p.Version == 0 {
		p.Version = Version
	}
	if p.Filters == nil {
		p.Filters = []filter.Record{}
	}
	switch f {
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(p)
	case FormatCBOR:
		return cbor.NewEncoder(w).Encode(p)
	}
	return ErrUnknownFormat
}

func Decode(r io.Reader, f Format) (Project, error) {
	var p Project
	var err error
	switch f {
	case FormatJSON:
		err = decodeJSON(r, &p)
	case FormatCBOR:
		err = cbor.NewDecoder(r).Decode(&p)
	default:
		return Project{}, ErrUnknownFormat
	}
	if err != nil {
		return Project{}, fmt.Errorf("failed to decode %s project: %w", f, err)
	}
	if p.Version > Version {
		return Project{}, fmt.Errorf("%w: %d", ErrUnsupportedVersion, p.Version)
	}
	return p, nil
}

// legacyFilter is a filter entry of the unversioned project files written by
// the first monitor, {"filters":[{"type":"ID","value":"123","logic":"Include"}]}
type legacyFilter struct {
	Type  string `json:"type"`
	Value string `json:"value"`
	Logic string `json:"logic"`
}

func (l legacyFilter) record() filter.Record {
	value := strings.TrimSpace(l.Value)
	// ids were always entered as hex
	if strings.EqualFold(l.Type, "id") && !strings.HasPrefix(strings.ToLower(value), "0x") {
		value = "0x" + value
	}
	return filter.Record{
		Mode:    l.Logic,
		Kind:    l.Type,
		Value:   value,
		Enabled: true,
	}
}

func decodeJSON(r io.Reader, p *Project) error {
	b, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(b, p); err != nil {
		return err
	}
	if p.Version != 0 {
		return nil
	}
	var legacy struct {
		Filters []legacyFilter `json:"filters"`
	}
	if err := json.Unmarshal(b, &legacy); err != nil {
		return err
	}
	for i, l := range legacy.Filters {
		if i < len(p.Filters) && p.Filters[i].Mode == "" && l.Logic != "" {
			p.Filters[i] = l.record()
		}
	}
	return nil
}

// Save writes p next to path and renames it into place
func Save(path string, p Project) error {
	f, err := FormatFromPath(path)
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("failed to save project: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := Encode(tmp, f, p); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to save project: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to save project: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to save project: %w", err)
	}
	return nil
}

func Load(path string) (Project, error) {
	f, err := FormatFromPath(path)
	if err != nil {
		return Project{}, err
	}
	fh, err := os.Open(path)
	if err != nil {
		return Project{}, fmt.Errorf("failed to load project: %w", err)
	}
	defer fh.Close()
	return Decode(fh, f)
}
