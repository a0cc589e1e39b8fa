package timeline

import "sort"

// Layout spacing in display units.
const (
	XSpacing = 300
	YSpacing = 190
)

// Point is a node position.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Layout positions every bookmark for display. X is depth times XSpacing.
// Leaves stack downward by YSpacing in chronological order and each parent
// is centered between its first and last child. A bookmark whose parent is
// missing is laid out as a root.
func (t *Tree) Layout() map[string]Point {
	t.mu.RLock()
	defer t.mu.RUnlock()

	known := make(map[string]*Bookmark, len(t.bookmarks))
	for _, b := range t.bookmarks {
		known[b.ID] = b
	}

	children := make(map[string][]*Bookmark)
	roots := make([]*Bookmark, 0)
	for _, b := range t.bookmarks {
		if _, ok := known[b.ParentID]; ok && b.ParentID != "" && b.ParentID != b.ID {
			children[b.ParentID] = append(children[b.ParentID], b)
		} else {
			roots = append(roots, b)
		}
	}
	byTime := func(list []*Bookmark) {
		sort.SliceStable(list, func(i, j int) bool {
			return list[i].Timestamp < list[j].Timestamp
		})
	}
	byTime(roots)
	for id := range children {
		byTime(children[id])
	}

	out := make(map[string]Point, len(t.bookmarks))
	nextY := 0.0
	var place func(b *Bookmark, depth int) float64
	place = func(b *Bookmark, depth int) float64 {
		x := float64(depth * XSpacing)
		kids := children[b.ID]
		if len(kids) == 0 {
			y := nextY
			nextY += YSpacing
			out[b.ID] = Point{X: x, Y: y}
			return y
		}
		first, last := 0.0, 0.0
		for i, c := range kids {
			y := place(c, depth+1)
			if i == 0 {
				first = y
			}
			last = y
		}
		y := (first + last) / 2
		out[b.ID] = Point{X: x, Y: y}
		return y
	}
	for _, r := range roots {
		place(r, 0)
	}
	return out
}
