package requestkey

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name       string
		raw        string
		allowEmpty bool
		want       string
		wantOK     bool
	}{
		{
			name:   "uppercase uuid is lowercased",
			raw:    "550E8400-E29B-41D4-A716-446655440001",
			want:   "550e8400-e29b-41d4-a716-446655440001",
			wantOK: true,
		},
		{
			name:   "lowercase uuid unchanged",
			raw:    "550e8400-e29b-41d4-a716-446655440001",
			want:   "550e8400-e29b-41d4-a716-446655440001",
			wantOK: true,
		},
		{
			name:   "uuid with surrounding whitespace",
			raw:    "  550E8400-E29B-41D4-A716-446655440001\t",
			want:   "550e8400-e29b-41d4-a716-446655440001",
			wantOK: true,
		},
		{
			name:   "non-uuid identifier keeps its case",
			raw:    "Req-ABC-123",
			want:   "Req-ABC-123",
			wantOK: true,
		},
		{
			// 形状像 UUID 但版本位是 0，不按 UUID 处理
			name:   "uuid shape with invalid version nibble",
			raw:    "550E8400-E29B-01D4-A716-446655440001",
			want:   "550E8400-E29B-01D4-A716-446655440001",
			wantOK: true,
		},
		{
			name:   "blank input yields no key",
			raw:    "   ",
			want:   "",
			wantOK: false,
		},
		{
			name:   "empty input yields no key",
			raw:    "",
			want:   "",
			wantOK: false,
		},
		{
			name:       "blank input with allowEmpty yields empty key",
			raw:        "   ",
			allowEmpty: true,
			want:       "",
			wantOK:     true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Normalize(tt.raw, tt.allowEmpty)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestIsCanonicalUUID(t *testing.T) {
	assert.True(t, IsCanonicalUUID("550e8400-e29b-41d4-a716-446655440001"))
	assert.True(t, IsCanonicalUUID("550E8400-E29B-11D4-A716-446655440001"))
	assert.False(t, IsCanonicalUUID("550e8400-e29b-91d4-a716-446655440001"))
	assert.False(t, IsCanonicalUUID("550e8400e29b41d4a716446655440001"))
	assert.False(t, IsCanonicalUUID("not-a-uuid"))
}
