package str

import (
	"math"
	"strconv"
	"strings"
)

// Hashcode 计算字符串的hashcode, compatible with java.lang.String#hashCode
func Hashcode(s string) int32 {
	var hash int32 = 0
	for _, c := range s {
		hash = c + ((hash << 5) - hash)
	}
	return hash
}

// HashMode 计算字符串的hashcode后取余
func HashMode(s string, num int32) int {
	hash := Hashcode(s)
	return int(math.Abs(float64(hash % num)))
}

// NumericSuffix returns the integer after the last '_' of name, e.g. 3 for "t_order_3".
func NumericSuffix(name string) (int64, bool) {
	idx := strings.LastIndexByte(name, '_')
	if idx < 0 || idx == len(name)-1 {
		return 0, false
	}
	n, err := strconv.ParseInt(name[idx+1:], 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}
