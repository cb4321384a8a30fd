package model

import (
	"fmt"
	"strconv"
	"strings"
)

// ChannelMask is an opaque capability set. A worker may claim a job when
// the two masks share at least one bit.
type ChannelMask uint32

// Well-known channels used by the bundled job kinds and the default pool.
const (
	ChannelGeneral ChannelMask = 0x08000000
	ChannelCompile ChannelMask = 0x10000000
	ChannelParse   ChannelMask = 0x20000000
	ChannelEnrich  ChannelMask = 0x40000000

	ChannelAll ChannelMask = 0xFFFFFFFF
)

var channelNames = map[string]ChannelMask{
	"general": ChannelGeneral,
	"compile": ChannelCompile,
	"parse":   ChannelParse,
	"enrich":  ChannelEnrich,
	"all":     ChannelAll,
}

// Overlaps reports whether m and other share any capability bit.
func (m ChannelMask) Overlaps(other ChannelMask) bool {
	return m&other != 0
}

// String renders the mask as fixed-width hex.
func (m ChannelMask) String() string {
	return fmt.Sprintf("0x%08x", uint32(m))
}

// ParseChannelMask accepts a decimal number, a 0x-prefixed hex number, or a
// "|"-separated list of well-known channel names such as "compile|parse".
func ParseChannelMask(s string) (ChannelMask, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty channel mask")
	}

	if n, err := strconv.ParseUint(s, 0, 32); err == nil {
		return ChannelMask(n), nil
	}

	var mask ChannelMask
	for _, part := range strings.Split(s, "|") {
		name := strings.ToLower(strings.TrimSpace(part))
		bits, ok := channelNames[name]
		if !ok {
			return 0, fmt.Errorf("unknown channel %q in mask %q", part, s)
		}
		mask |= bits
	}
	return mask, nil
}
