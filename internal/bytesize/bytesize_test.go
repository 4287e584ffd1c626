package bytesize

import (
	"math"
	"testing"
)

func TestParseByteSize(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    ByteSize
		wantErr bool
	}{
		{"plain zero", "0", 0, false},
		{"plain bytes", "1024", 1024, false},
		{"bytes suffix", "512B", 512, false},
		{"kibibytes", "64Ki", 64 * 1024, false},
		{"kibibytes long", "64KiB", 64 * 1024, false},
		{"mebibytes", "4Mi", 4 * 1024 * 1024, false},
		{"gibibytes", "1Gi", 1024 * 1024 * 1024, false},
		{"kilobytes", "1K", 1000, false},
		{"megabytes", "100MB", 100 * 1000 * 1000, false},
		{"case insensitive", "4mi", 4 * 1024 * 1024, false},
		{"surrounding space", "  4 Mi ", 4 * 1024 * 1024, false},
		{"fraction", "1.5Mi", ByteSize(1.5 * 1024 * 1024), false},

		{"empty", "", 0, true},
		{"unknown unit", "4Xi", 0, true},
		{"negative", "-1Mi", 0, true},
		{"letters only", "Mi", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseByteSize(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseByteSize(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("ParseByteSize(%q) = %d, want %d", tt.input, got, tt.want)
			}
		})
	}
}

func TestMarshalText(t *testing.T) {
	tests := []struct {
		in   ByteSize
		want string
	}{
		{0, "0"},
		{1000, "1000"},
		{4 * MiB, "4Mi"},
		{64 * KiB, "64Ki"},
		{2 * GiB, "2Gi"},
		{MiB + 1, "1048577"},
	}
	for _, tt := range tests {
		got, err := tt.in.MarshalText()
		if err != nil {
			t.Fatalf("MarshalText(%d): %v", tt.in, err)
		}
		if string(got) != tt.want {
			t.Errorf("MarshalText(%d) = %q, want %q", tt.in, got, tt.want)
		}

		var back ByteSize
		if err := back.UnmarshalText(got); err != nil {
			t.Fatalf("UnmarshalText(%q): %v", got, err)
		}
		if back != tt.in {
			t.Errorf("UnmarshalText(%q) = %d, want %d", got, back, tt.in)
		}
	}
}

func TestString(t *testing.T) {
	if got := (4 * MiB).String(); got != "4.00MiB" {
		t.Errorf("String() = %q", got)
	}
	if got := ByteSize(12).String(); got != "12B" {
		t.Errorf("String() = %q", got)
	}
}

func TestUint32Clamps(t *testing.T) {
	if got := (4 * MiB).Uint32(); got != 4*1024*1024 {
		t.Errorf("Uint32() = %d", got)
	}
	if got := ByteSize(math.MaxUint32 + 10).Uint32(); got != math.MaxUint32 {
		t.Errorf("Uint32() = %d, want clamp", got)
	}
}
