package utils

import (
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMap(t *testing.T) {
	assert.Equal(t, []string{"1", "2", "3"}, Map([]int{1, 2, 3}, strconv.Itoa))
	assert.Empty(t, Map(nil, strconv.Itoa))
}

func TestSortedKeys(t *testing.T) {
	m := map[int64][]string{3: nil, -1: nil, 7: nil}
	assert.Equal(t, []int64{-1, 3, 7}, SortedKeys(m))
	assert.Empty(t, SortedKeys(map[string]int{}))
}
