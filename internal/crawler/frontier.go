package crawler

import "container/heap"

// visitedSet tracks normalized URLs already enqueued this session. It grows
// monotonically and enforces at-most-once enqueue per URL. Not safe for
// concurrent use on its own; the engine holds one lock around frontier and
// visited mutations.
type visitedSet struct {
	seen map[string]struct{}
}

func newVisitedSet() *visitedSet {
	return &visitedSet{seen: make(map[string]struct{})}
}

// markIfNew records url and reports whether it was unseen.
func (v *visitedSet) markIfNew(url string) bool {
	if url == "" {
		return false
	}
	if _, ok := v.seen[url]; ok {
		return false
	}
	v.seen[url] = struct{}{}
	return true
}

func (v *visitedSet) len() int { return len(v.seen) }

// bfsFrontier dispatches targets in discovery order. Depth d drains before
// depth d+1 because children are only pushed after their parent pops.
type bfsFrontier struct {
	queue    []Target
	visited  *visitedSet
	maxDepth int
}

func newBFSFrontier(maxDepth int, visited *visitedSet) *bfsFrontier {
	return &bfsFrontier{visited: visited, maxDepth: maxDepth}
}

// Push enqueues t in arrival order. Over-depth targets and already-seen URLs
// are dropped silently; the priority argument is ignored.
func (f *bfsFrontier) Push(t Target, _ float64) {
	if t.Depth > f.maxDepth {
		return
	}
	if !f.visited.markIfNew(t.URL) {
		return
	}
	f.queue = append(f.queue, t)
}

func (f *bfsFrontier) Pop() (Target, bool) {
	if len(f.queue) == 0 {
		return Target{}, false
	}
	t := f.queue[0]
	f.queue = f.queue[1:]
	return t, true
}

func (f *bfsFrontier) Len() int { return len(f.queue) }

// bestFirstFrontier dispatches the highest-scored pending target next. Ties
// break by insertion order so equal scores replay deterministically.
type bestFirstFrontier struct {
	heap     scoredHeap
	visited  *visitedSet
	maxDepth int
	seq      uint64
}

func newBestFirstFrontier(maxDepth int, visited *visitedSet) *bestFirstFrontier {
	return &bestFirstFrontier{visited: visited, maxDepth: maxDepth}
}

func (f *bestFirstFrontier) Push(t Target, priority float64) {
	if t.Depth > f.maxDepth {
		return
	}
	if !f.visited.markIfNew(t.URL) {
		return
	}
	heap.Push(&f.heap, scoredTarget{target: t, score: priority, seq: f.seq})
	f.seq++
}

func (f *bestFirstFrontier) Pop() (Target, bool) {
	if f.heap.Len() == 0 {
		return Target{}, false
	}
	item := heap.Pop(&f.heap).(scoredTarget)
	return item.target, true
}

func (f *bestFirstFrontier) Len() int { return f.heap.Len() }

type scoredTarget struct {
	target Target
	score  float64
	seq    uint64
}

// scoredHeap is a max-heap by score with earlier-discovered entries winning
// ties.
type scoredHeap []scoredTarget

func (h scoredHeap) Len() int { return len(h) }

func (h scoredHeap) Less(i, j int) bool {
	if h[i].score != h[j].score {
		return h[i].score > h[j].score
	}
	return h[i].seq < h[j].seq
}

func (h scoredHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *scoredHeap) Push(x any) {
	*h = append(*h, x.(scoredTarget))
}

func (h *scoredHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
