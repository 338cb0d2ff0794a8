package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPaginate(t *testing.T) {
	items := []int{1, 2, 3, 4, 5, 6, 7}

	first := Paginate(items, 1, 3)
	assert.Equal(t, []int{1, 2, 3}, first.Items)
	assert.Equal(t, 3, first.TotalPages)
	assert.True(t, first.HasNextPage)
	assert.False(t, first.HasPreviousPage)

	last := Paginate(items, 3, 3)
	assert.Equal(t, []int{7}, last.Items)
	assert.False(t, last.HasNextPage)
	assert.True(t, last.HasPreviousPage)

	beyond := Paginate(items, 9, 3)
	assert.NotNil(t, beyond.Items)
	assert.Empty(t, beyond.Items)

	empty := Paginate([]int{}, 0, 0)
	assert.Equal(t, 1, empty.Page)
	assert.Equal(t, 0, empty.TotalPages)
	assert.Empty(t, empty.Items)
}
