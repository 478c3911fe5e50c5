package util

type (
	// PathTree indexes values by hierarchical string paths, so that every
	// value below a prefix can be found or removed in one operation
	PathTree[T any] struct {
		root *pathNode[T]
	}

	pathNode[T any] struct {
		value    T
		set      bool
		children map[string]*pathNode[T]
	}
)

// NewPathTree creates an empty path index
func NewPathTree[T any]() *PathTree[T] {
	return &PathTree[T]{root: newPathNode[T]()}
}

// Insert stores a value at the exact path, replacing any previous value
func (t *PathTree[T]) Insert(path []string, v T) {
	cur := t.root
	for _, p := range path {
		next, ok := cur.children[p]
		if !ok {
			next = newPathNode[T]()
			cur.children[p] = next
		}
		cur = next
	}
	cur.value = v
	cur.set = true
}

// Get returns the value stored at the exact path
func (t *PathTree[T]) Get(path []string) (T, bool) {
	cur := t.root
	for _, p := range path {
		next, ok := cur.children[p]
		if !ok {
			var zero T
			return zero, false
		}
		cur = next
	}
	return cur.value, cur.set
}

// Remove clears the value at the exact path and prunes empty branches
func (t *PathTree[T]) Remove(path []string) {
	t.root.remove(path)
}

// Detach removes the subtree under prefix and returns its values
func (t *PathTree[T]) Detach(prefix []string) []T {
	var res []T
	t.DetachWith(prefix, func(v T) {
		res = append(res, v)
	})
	return res
}

// DetachWith removes the subtree under prefix, calling fn for each value it
// held. The subtree is unlinked before fn is called, so fn may mutate the tree
func (t *PathTree[T]) DetachWith(prefix []string, fn func(T)) {
	var n *pathNode[T]
	if len(prefix) == 0 {
		n = t.root
		t.root = newPathNode[T]()
	} else {
		n = t.root.detach(prefix)
	}
	if n != nil {
		n.each(fn)
	}
}

func newPathNode[T any]() *pathNode[T] {
	return &pathNode[T]{children: map[string]*pathNode[T]{}}
}

func (n *pathNode[T]) remove(path []string) bool {
	if len(path) == 0 {
		var zero T
		n.value = zero
		n.set = false
		return len(n.children) == 0
	}
	next, ok := n.children[path[0]]
	if !ok {
		return false
	}
	if next.remove(path[1:]) {
		delete(n.children, path[0])
	}
	return !n.set && len(n.children) == 0
}

func (n *pathNode[T]) detach(prefix []string) *pathNode[T] {
	parent := n
	for _, p := range prefix[:len(prefix)-1] {
		next, ok := parent.children[p]
		if !ok {
			return nil
		}
		parent = next
	}
	last := prefix[len(prefix)-1]
	res, ok := parent.children[last]
	if !ok {
		return nil
	}
	delete(parent.children, last)
	return res
}

func (n *pathNode[T]) each(fn func(T)) {
	if n.set {
		fn(n.value)
	}
	for _, child := range n.children {
		child.each(fn)
	}
}
