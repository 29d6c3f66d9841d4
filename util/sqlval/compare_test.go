package sqlval

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCompare(t *testing.T) {
	now := time.Now()
	tests := []struct {
		name string
		a, b any
		want int
	}{
		{name: "ints", a: int64(1), b: 2, want: -1},
		{name: "int and float", a: 3, b: 2.5, want: 1},
		{name: "numeric bytes", a: []byte("10"), b: []byte("9"), want: 1},
		{name: "numeric string and int", a: "7", b: int64(7), want: 0},
		{name: "strings", a: "abc", b: "abd", want: -1},
		{name: "nil first", a: nil, b: 0, want: -1},
		{name: "both nil", a: nil, b: nil, want: 0},
		{name: "times", a: now.Add(time.Second), b: now, want: 1},
		{name: "large ints stay exact", a: int64(1<<62 + 1), b: int64(1 << 62), want: 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Compare(tt.a, tt.b))
		})
	}
}

func TestAsInt64(t *testing.T) {
	n, ok := AsInt64([]byte("42"))
	assert.True(t, ok)
	assert.Equal(t, int64(42), n)

	_, ok = AsInt64(1.5)
	assert.False(t, ok)

	f, ok := AsFloat64("1.5")
	assert.True(t, ok)
	assert.Equal(t, 1.5, f)
}
