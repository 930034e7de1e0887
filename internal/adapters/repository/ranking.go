package repository

import (
	"math/rand/v2"
	"sync"
)

// Entry is one ranked row. Equal scores share a rank and the next rank
// skips accordingly (1, 2, 2, 4).
type Entry struct {
	Rank  int    `json:"rank"`
	Name  string `json:"name"`
	Score int64  `json:"score"`
}

// Ordering: score DESC, then name ASC. "less" means ranks earlier, so an
// in-order walk yields the leaderboard from best to worst.

type node struct {
	name  string
	score int64
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

func less(aScore int64, aName string, bScore int64, bName string) bool {
	if aScore != bScore {
		return aScore > bScore
	}
	return aName < bName
}

func rotateRight(y *node) *node {
	x := y.left
	y.left = x.right
	x.right = y
	fix(y)
	fix(x)
	return x
}

func rotateLeft(x *node) *node {
	y := x.right
	x.right = y.left
	y.left = x
	fix(x)
	fix(y)
	return y
}

func insert(n *node, name string, score int64, prio uint64) *node {
	if n == nil {
		return &node{name: name, score: score, prio: prio, size: 1}
	}
	if less(score, name, n.score, n.name) {
		n.left = insert(n.left, name, score, prio)
		if n.left.prio > n.prio {
			n = rotateRight(n)
		}
	} else {
		n.right = insert(n.right, name, score, prio)
		if n.right.prio > n.prio {
			n = rotateLeft(n)
		}
	}
	fix(n)
	return n
}

func deleteNode(n *node, name string, score int64) *node {
	if n == nil {
		return nil
	}
	switch {
	case score == n.score && name == n.name:
		if n.left == nil {
			return n.right
		}
		if n.right == nil {
			return n.left
		}
		if n.left.prio > n.right.prio {
			n = rotateRight(n)
			n.right = deleteNode(n.right, name, score)
		} else {
			n = rotateLeft(n)
			n.left = deleteNode(n.left, name, score)
		}
	case less(score, name, n.score, n.name):
		n.left = deleteNode(n.left, name, score)
	default:
		n.right = deleteNode(n.right, name, score)
	}
	fix(n)
	return n
}

// countAbove returns how many entries have a score strictly above score.
func countAbove(n *node, score int64) int {
	count := 0
	for n != nil {
		if n.score > score {
			count += 1 + nsize(n.left)
			n = n.right
		} else {
			n = n.left
		}
	}
	return count
}

// collectTopN appends up to limit nodes in rank order.
func collectTopN(n *node, limit int, out *[]Entry) {
	if n == nil || len(*out) >= limit {
		return
	}
	collectTopN(n.left, limit, out)
	if len(*out) < limit {
		*out = append(*out, Entry{Name: n.name, Score: n.score})
	}
	if len(*out) < limit {
		collectTopN(n.right, limit, out)
	}
}

// Ranking is an in-memory leaderboard over integer scores. Names are used
// as given; callers fold them first when case must not matter.
type Ranking struct {
	mu     sync.RWMutex
	root   *node
	byName map[string]int64
}

// NewRanking creates an empty ranking.
func NewRanking() *Ranking {
	return &Ranking{byName: make(map[string]int64)}
}

// Set records score for name, replacing any previous score.
func (r *Ranking) Set(name string, score int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if old, ok := r.byName[name]; ok {
		if old == score {
			return
		}
		r.root = deleteNode(r.root, name, old)
	}
	r.byName[name] = score
	r.root = insert(r.root, name, score, rand.Uint64())
}

// Remove drops name from the ranking.
func (r *Ranking) Remove(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	old, ok := r.byName[name]
	if !ok {
		return false
	}
	delete(r.byName, name)
	r.root = deleteNode(r.root, name, old)
	return true
}

// Rank returns name's entry or ErrNotFound.
func (r *Ranking) Rank(name string) (Entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	score, ok := r.byName[name]
	if !ok {
		return Entry{}, ErrNotFound
	}
	return Entry{Rank: countAbove(r.root, score) + 1, Name: name, Score: score}, nil
}

// TopN returns the best n entries.
func (r *Ranking) TopN(n int) ([]Entry, error) {
	if n < 1 {
		return nil, ErrInvalidLimit
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Entry, 0, min(n, len(r.byName)))
	collectTopN(r.root, n, &out)
	for i := range out {
		if i > 0 && out[i].Score == out[i-1].Score {
			out[i].Rank = out[i-1].Rank
		} else {
			out[i].Rank = i + 1
		}
	}
	return out, nil
}

// Len returns the number of ranked names.
func (r *Ranking) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byName)
}
