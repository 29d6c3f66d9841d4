package str

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHashcode(t *testing.T) {
	// values computed by java.lang.String#hashCode
	assert.Equal(t, int32(0), Hashcode(""))
	assert.Equal(t, int32(97), Hashcode("a"))
	assert.Equal(t, int32(96354), Hashcode("abc"))
	assert.Equal(t, int32(99162322), Hashcode("hello"))
}

func TestHashMode(t *testing.T) {
	assert.Equal(t, 0, HashMode("abc", 2))
	assert.Equal(t, 1, HashMode("a", 2))
}

func TestNumericSuffix(t *testing.T) {
	tests := []struct {
		name string
		want int64
		ok   bool
	}{
		{name: "t_order_3", want: 3, ok: true},
		{name: "ds_10", want: 10, ok: true},
		{name: "t_order", ok: false},
		{name: "order", ok: false},
		{name: "t_", ok: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := NumericSuffix(tt.name)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}
