package repository

import (
	"math/rand/v2"

	"github.com/okian/wodboard/internal/domain/rankkey"
)

// Treap ordered index of one workout.
//
// Ordering: rank key ASC, then record id ASC (deterministic). In-order
// traversal yields the leaderboard from best to worst.

type node struct {
	id    string
	key   rankkey.Key
	prio  uint64
	left  *node
	right *node
	size  int
}

func nsize(n *node) int {
	if n == nil {
		return 0
	}
	return n.size
}

func fix(n *node) {
	if n != nil {
		n.size = 1 + nsize(n.left) + nsize(n.right)
	}
}

// less returns true if (aKey, aID) should appear before (bKey, bID).
func less(aKey rankkey.Key, aID string, bKey rankkey.Key, bID string) bool {
	if aKey != bKey {
		return aKey.Less(bKey)
	}
	return aID < bID
}

func rotateRight(y *node) *node {
	x := y.left
	t2 := x.right
	x.right = y
	y.left = t2
	fix(y)
	fix(x)
	return x
}

func rotateLeft(x *node) *node {
	y := x.right
	t2 := y.left
	y.left = x
	x.right = t2
	fix(x)
	fix(y)
	return y
}

type treap struct {
	root *node
	rng  *rand.Rand
}

func newTreap(rng *rand.Rand) *treap {
	return &treap{rng: rng}
}

func (t *treap) Len() int { return nsize(t.root) }

func (t *treap) Insert(id string, key rankkey.Key) {
	t.root = t.insert(t.root, id, key)
}

func (t *treap) Delete(id string, key rankkey.Key) {
	t.root = deleteNode(t.root, id, key)
}

func (t *treap) insert(n *node, id string, key rankkey.Key) *node {
	if n == nil {
		return &node{id: id, key: key, prio: t.rng.Uint64(), size: 1}
	}
	if less(key, id, n.key, n.id) {
		n.left = t.insert(n.left, id, key)
		if n.left.prio > n.prio {
			n = rotateRight(n)
		}
	} else {
		n.right = t.insert(n.right, id, key)
		if n.right.prio > n.prio {
			n = rotateLeft(n)
		}
	}
	fix(n)
	return n
}

func deleteNode(n *node, id string, key rankkey.Key) *node {
	if n == nil {
		return nil
	}
	if key == n.key && id == n.id {
		// Rotate the higher-priority child up until n is a leaf.
		if n.left == nil {
			return n.right
		}
		if n.right == nil {
			return n.left
		}
		if n.left.prio > n.right.prio {
			n = rotateRight(n)
			n.right = deleteNode(n.right, id, key)
		} else {
			n = rotateLeft(n)
			n.left = deleteNode(n.left, id, key)
		}
	} else if less(key, id, n.key, n.id) {
		n.left = deleteNode(n.left, id, key)
	} else {
		n.right = deleteNode(n.right, id, key)
	}
	fix(n)
	return n
}

// IDs appends ids in rank order.
func (t *treap) IDs(out []string) []string {
	return collectAll(t.root, out)
}

func collectAll(n *node, out []string) []string {
	if n == nil {
		return out
	}
	out = collectAll(n.left, out)
	out = append(out, n.id)
	return collectAll(n.right, out)
}

// Position returns the 1-based rank of (id, key), or 0 if absent.
func (t *treap) Position(id string, key rankkey.Key) int {
	pos := 0
	for n := t.root; n != nil; {
		switch {
		case key == n.key && id == n.id:
			return pos + nsize(n.left) + 1
		case less(key, id, n.key, n.id):
			n = n.left
		default:
			pos += nsize(n.left) + 1
			n = n.right
		}
	}
	return 0
}
