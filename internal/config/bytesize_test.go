package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseByteSize(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected ByteSize
		wantErr  bool
	}{
		{"bytes", "1024", 1024, false},
		{"kilobytes", "5KB", 5 * KiB, false},
		{"megabytes", "64MB", 64 * MiB, false},
		{"gigabytes", "2GiB", 2 * GiB, false},
		{"with space", "5 MB", 5 * MiB, false},
		{"lowercase", "5mb", 5 * MiB, false},
		{"float", "1.5MB", ByteSize(1.5 * float64(MiB)), false},
		{"zero", "0", 0, false},
		{"unknown unit", "5TB", 0, true},
		{"invalid", "invalid", 0, true},
		{"empty", "", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			size, err := ParseByteSize(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, size)
		})
	}
}

func TestByteSize_UnmarshalText(t *testing.T) {
	var b ByteSize
	require.NoError(t, b.UnmarshalText([]byte("5MB")))
	assert.Equal(t, 5*MiB, b)
	assert.Equal(t, int64(5242880), b.Bytes())
}

func TestByteSize_String(t *testing.T) {
	tests := []struct {
		name     string
		size     ByteSize
		expected string
	}{
		{"bytes", 500, "500B"},
		{"kilobytes", 5 * KiB, "5KB"},
		{"megabytes", 64 * MiB, "64MB"},
		{"gigabytes", 2 * GiB, "2GB"},
		{"uneven", MiB + 1, "1048577B"},
		{"zero", 0, "0B"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.size.String())
			text, err := tt.size.MarshalText()
			require.NoError(t, err)
			assert.Equal(t, tt.expected, string(text))
		})
	}
}
