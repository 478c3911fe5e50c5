package util_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/kode4food/tollgate/pkg/util"
)

func TestPathTreeRemovePrunes(t *testing.T) {
	tree := util.NewPathTree[int]()
	tree.Insert([]string{"a", "b", "c"}, 1)
	tree.Insert([]string{"a", "d"}, 2)

	tree.Remove([]string{"a", "b", "c"})

	assert.Nil(t, tree.Detach([]string{"a", "b"}))
	assert.Equal(t, []int{2}, tree.Detach([]string{"a"}))
}

func TestPathTreeDetachPrefix(t *testing.T) {
	tree := util.NewPathTree[int]()
	tree.Insert([]string{"callback", "e1", "t1"}, 1)
	tree.Insert([]string{"callback", "e1", "t2"}, 2)
	tree.Insert([]string{"callback", "e2", "t1"}, 3)

	assert.ElementsMatch(t, []int{1, 2},
		tree.Detach([]string{"callback", "e1"}),
	)
	assert.Nil(t, tree.Detach([]string{"callback", "e1"}))
	assert.Equal(t, []int{3}, tree.Detach([]string{"callback"}))
	assert.Nil(t, tree.Detach([]string{"callback"}))
}

func TestPathTreeGet(t *testing.T) {
	tree := util.NewPathTree[string]()
	tree.Insert([]string{"x"}, "one")
	tree.Insert([]string{"x"}, "two")

	v, ok := tree.Get([]string{"x"})
	assert.True(t, ok)
	assert.Equal(t, "two", v)

	_, ok = tree.Get([]string{"x", "y"})
	assert.False(t, ok)
}

func TestPathTreeDetachWithMutation(t *testing.T) {
	tree := util.NewPathTree[int]()
	tree.Insert([]string{"a", "1"}, 1)
	tree.Insert([]string{"a", "2"}, 2)
	tree.Insert([]string{"b"}, 3)

	var seen []int
	tree.DetachWith([]string{"a"}, func(v int) {
		seen = append(seen, v)
		tree.Remove([]string{"b"})
	})

	assert.ElementsMatch(t, []int{1, 2}, seen)
	_, ok := tree.Get([]string{"b"})
	assert.False(t, ok)
}

func TestPathTreeDetachRoot(t *testing.T) {
	tree := util.NewPathTree[int]()
	tree.Insert([]string{"a"}, 1)
	tree.Insert([]string{"b", "c"}, 2)

	assert.ElementsMatch(t, []int{1, 2}, tree.Detach(nil))
	assert.Nil(t, tree.Detach(nil))
}
