package project

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/roffe/canmon/pkg/filter"
	"github.com/roffe/canmon/pkg/frame"
)

func testEngine(t *testing.T) *filter.Engine {
	t.Helper()
	e := filter.NewEngine()
	for _, expr := range []string{
		"+ id 0x123",
		"- id 0x700/0x700",
		"exclude data FF ?? 00",
	} {
		if _, err := e.AddExpr(expr); err != nil {
			t.Fatalf("AddExpr(%q) error: %v", expr, err)
		}
	}
	rules := e.Rules()
	if _, err := e.Toggle(rules[1].ID); err != nil {
		t.Fatal(err)
	}
	return e
}

func TestSaveLoad(t *testing.T) {
	for _, ext := range []string{".json", ".cbor", ".JSON"} {
		t.Run(ext, func(t *testing.T) {
			src := testEngine(t)
			path := filepath.Join(t.TempDir(), "filters"+ext)
			if err := Save(path, FromEngine("bench", src)); err != nil {
				t.Fatalf("Save() error: %v", err)
			}

			p, err := Load(path)
			if err != nil {
				t.Fatalf("Load() error: %v", err)
			}
			if p.Version != Version || p.Name != "bench" {
				t.Errorf("Load() = %+v", p)
			}
			if !reflect.DeepEqual(p.Filters, src.Export()) {
				t.Errorf("filters = %+v, want %+v", p.Filters, src.Export())
			}

			dst := filter.NewEngine()
			if _, err := p.Apply(dst, true); err != nil {
				t.Fatalf("Apply() error: %v", err)
			}
			frames := []*frame.CANFrame{
				frame.NewFrame(0x123, []byte{0xFF, 0x01, 0x00}),
				frame.NewFrame(0x123, []byte{0x01}),
				frame.NewFrame(0x456, nil),
				frame.NewFrame(0x7FF, nil),
			}
			for _, f := range frames {
				if got, want := dst.Evaluate(f), src.Evaluate(f); got != want {
					t.Errorf("Evaluate(%v) = %v, want %v", f, got, want)
				}
			}

			entries, err := os.ReadDir(filepath.Dir(path))
			if err != nil {
				t.Fatal(err)
			}
			if len(entries) != 1 {
				t.Errorf("temporary files left behind: %d entries", len(entries))
			}
		})
	}
}

func TestEmptyProject(t *testing.T) {
	var buf bytes.Buffer
	if err := Encode(&buf, FormatJSON, Project{}); err != nil {
		t.Fatal(err)
	}
	if !bytes.Contains(buf.Bytes(), []byte(`"filters": []`)) {
		t.Errorf("empty project encoded as %s", buf.String())
	}
	p, err := Decode(&buf, FormatJSON)
	if err != nil {
		t.Fatal(err)
	}
	if p.Version != Version || len(p.Filters) != 0 {
		t.Errorf("Decode() = %+v", p)
	}
}

func TestFormatFromPath(t *testing.T) {
	tests := []struct {
		path    string
		want    Format
		wantErr bool
	}{
		{"a.json", FormatJSON, false},
		{"dir/b.cbor", FormatCBOR, false},
		{"c.CBOR", FormatCBOR, false},
		{"d.toml", 0, true},
		{"noext", 0, true},
	}
	for _, tt := range tests {
		got, err := FormatFromPath(tt.path)
		if (err != nil) != tt.wantErr {
			t.Errorf("FormatFromPath(%q) error = %v, wantErr %v", tt.path, err, tt.wantErr)
			continue
		}
		if err != nil && !errors.Is(err, ErrUnknownFormat) {
			t.Errorf("FormatFromPath(%q) error = %v, want ErrUnknownFormat", tt.path, err)
		}
		if got != tt.want {
			t.Errorf("FormatFromPath(%q) = %v, want %v", tt.path, got, tt.want)
		}
	}
}

func TestDecodeErrors(t *testing.T) {
	if _, err := Decode(bytes.NewBufferString(`{"version": 99, "filters": []}`), FormatJSON); !errors.Is(err, ErrUnsupportedVersion) {
		t.Errorf("future version error = %v, want ErrUnsupportedVersion", err)
	}
	if _, err := Decode(bytes.NewBufferString(`{not json`), FormatJSON); err == nil {
		t.Error("malformed json accepted")
	}
	if _, err := Decode(bytes.NewReader([]byte{0xFF, 0x00}), FormatCBOR); err == nil {
		t.Error("malformed cbor accepted")
	}
}

func TestApplyReportsInvalidRecords(t *testing.T) {
	p := Project{Filters: []filter.Record{
		{Mode: "include", Kind: "id", Value: "0x100", Enabled: true},
		{Mode: "include", Kind: "id", Value: "not a number", Enabled: true},
	}}
	e := filter.NewEngine()
	added, err := p.Apply(e, true)
	if !errors.Is(err, filter.ErrInvalidRule) {
		t.Errorf("Apply() error = %v, want ErrInvalidRule", err)
	}
	if len(added) != 1 || e.Len() != 1 {
		t.Errorf("added %d rules, engine has %d, want 1", len(added), e.Len())
	}
}

func TestLoadMissing(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.json")); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("Load() error = %v, want ErrNotExist", err)
	}
}

func TestDecodeLegacyProject(t *testing.T) {
	const legacy = `{
  "filters": [
    {"type": "ID", "value": "7e8", "logic": "Include"},
    {"type": "ID", "value": "0x100", "logic": "Exclude"},
    {"type": "Data", "value": "ff 00", "logic": "Exclude"}
  ]
}`
	path := filepath.Join(t.TempDir(), "filters.json")
	if err := os.WriteFile(path, []byte(legacy), 0o644); err != nil {
		t.Fatal(err)
	}
	p, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	e := filter.NewEngine()
	if _, err := p.Apply(e, true); err != nil {
		t.Fatalf("Apply() error: %v", err)
	}
	want := []filter.Record{
		{Mode: "include", Kind: "id", Value: "0x7E8", Enabled: true},
		{Mode: "exclude", Kind: "id", Value: "0x100", Enabled: true},
		{Mode: "exclude", Kind: "data", Value: "FF00", Enabled: true},
	}
	if got := e.Export(); !reflect.DeepEqual(got, want) {
		t.Errorf("Export() = %+v, want %+v", got, want)
	}
	if e.Evaluate(frame.NewFrame(0x7E8, []byte{0xFF, 0x00})) {
		t.Error("frame matching the legacy exclude is visible")
	}
	if !e.Evaluate(frame.NewFrame(0x7E8, []byte{0x01})) {
		t.Error("frame matching the legacy include is hidden")
	}
}
