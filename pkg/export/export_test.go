package export

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/roffe/canmon/pkg/frame"
)

func testFrames() []*frame.CANFrame {
	ts := time.Date(2024, 5, 6, 13, 14, 15, 678_000_000, time.UTC)
	a := frame.NewFrame(0x123, []byte{0x41, 0x00, 0xFF})
	a.Timestamp = ts
	b := frame.NewExtendedFrame(0x18DAF110, []byte{200})
	b.Timestamp = ts.Add(time.Second)
	c := frame.NewRemoteFrame(0x7DF, false)
	c.Timestamp = ts.Add(2 * time.Second)
	return []*frame.CANFrame{a, b, c}
}

func TestRow(t *testing.T) {
	got := Row(testFrames()[0])
	want := []string{"13:14:15.678", "0x123", "3", "41 00 FF", " 65   0 255"}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Row()[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestWriter(t *testing.T) {
	tests := []struct {
		name string
		sep  rune
		want string
	}{
		{
			name: "csv",
			sep:  ',',
			want: "Timestamp,ID (Hex),DLC,Data (Hex),Data (Dec)\n" +
				"13:14:15.678,0x123,3,41 00 FF,\" 65   0 255\"\n" +
				"13:14:16.678,0x18DAF110,1,C8,200\n" +
				"13:14:17.678,0x7DF,0,,\n",
		},
		{
			name: "tsv",
			sep:  '\t',
			want: "Timestamp\tID (Hex)\tDLC\tData (Hex)\tData (Dec)\n" +
				"13:14:15.678\t0x123\t3\t41 00 FF\t\" 65   0 255\"\n" +
				"13:14:16.678\t0x18DAF110\t1\tC8\t200\n" +
				"13:14:17.678\t0x7DF\t0\t\t\n",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			w := NewWriter(&buf, tt.sep)
			if err := w.WriteHeader(); err != nil {
				t.Fatal(err)
			}
			for _, f := range testFrames() {
				if err := w.Write(f); err != nil {
					t.Fatal(err)
				}
			}
			if err := w.Flush(); err != nil {
				t.Fatal(err)
			}
			if buf.String() != tt.want {
				t.Errorf("output =\n%s\nwant\n%s", buf.String(), tt.want)
			}
			if w.Rows() != 3 {
				t.Errorf("Rows() = %d, want 3", w.Rows())
			}
		})
	}
}

func TestSeparatorFor(t *testing.T) {
	tests := map[string]rune{
		"out.csv": ',',
		"OUT.CSV": ',',
		"out.txt": '\t',
		"out.tsv": '\t',
		"out":     '\t',
	}
	for path, want := range tests {
		if got := SeparatorFor(path); got != want {
			t.Errorf("SeparatorFor(%q) = %q, want %q", path, got, want)
		}
	}
}

func TestFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "can_data_export.csv")
	n, err := File(path, testFrames())
	if err != nil {
		t.Fatalf("File() error: %v", err)
	}
	if n != 3 {
		t.Errorf("File() = %d rows, want 3", n)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.HasPrefix(b, []byte("Timestamp,ID (Hex)")) {
		t.Errorf("file starts with %q", b[:20])
	}

	if _, err := File(filepath.Join(t.TempDir(), "missing", "x.csv"), nil); err == nil {
		t.Error("File() into missing directory succeeded")
	}
}
