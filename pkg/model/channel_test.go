package model

import "testing"

func TestChannelMask_Overlaps(t *testing.T) {
	tests := []struct {
		a, b ChannelMask
		want bool
	}{
		{0x1, 0x1, true},
		{0x1, 0x2, false},
		{0x3, 0x2, true},
		{ChannelAll, ChannelCompile, true},
		{ChannelCompile, ChannelParse, false},
		{0, ChannelAll, false},
	}
	for _, tt := range tests {
		if got := tt.a.Overlaps(tt.b); got != tt.want {
			t.Errorf("%s.Overlaps(%s) = %v, want %v", tt.a, tt.b, got, tt.want)
		}
	}
}

func TestChannelMask_String(t *testing.T) {
	if got := ChannelCompile.String(); got != "0x10000000" {
		t.Errorf("String() = %q", got)
	}
	if got := ChannelMask(1).String(); got != "0x00000001" {
		t.Errorf("String() = %q", got)
	}
}

func TestParseChannelMask(t *testing.T) {
	tests := []struct {
		in   string
		want ChannelMask
	}{
		{"1", 1},
		{"0x2", 2},
		{"4294967295", ChannelAll},
		{"compile", ChannelCompile},
		{"Compile | parse", ChannelCompile | ChannelParse},
		{"all", ChannelAll},
		{" general ", ChannelGeneral},
	}
	for _, tt := range tests {
		got, err := ParseChannelMask(tt.in)
		if err != nil {
			t.Errorf("ParseChannelMask(%q): %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseChannelMask(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}

	for _, bad := range []string{"", "  ", "compile|bogus", "0x1ffffffff", "-1"} {
		if _, err := ParseChannelMask(bad); err == nil {
			t.Errorf("ParseChannelMask(%q) succeeded, want error", bad)
		}
	}
}
