package entities

import "image"

// Point is an absolute screen coordinate
type Point struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// Rect is an axis-aligned box. Element boxes are relative to their capture,
// capture regions are absolute screen rectangles.
type Rect struct {
	X int `json:"x"`
	Y int `json:"y"`
	W int `json:"w"`
	H int `json:"h"`
}

// Edges reports which sides of a bounding area a box touches
type Edges struct {
	Left   bool `json:"left,omitempty"`
	Top    bool `json:"top,omitempty"`
	Right  bool `json:"right,omitempty"`
	Bottom bool `json:"bottom,omitempty"`
}

// Any - reports whether at least one side is touched
func (e Edges) Any() bool {
	return e.Left || e.Top || e.Right || e.Bottom
}

// RectFromImage - converts image bounds to a Rect
func RectFromImage(r image.Rectangle) Rect {
	return Rect{X: r.Min.X, Y: r.Min.Y, W: r.Dx(), H: r.Dy()}
}

// Image - converts to image.Rectangle
func (r Rect) Image() image.Rectangle {
	return image.Rect(r.X, r.Y, r.X+r.W, r.Y+r.H)
}

// Empty - true when the rect has no area
func (r Rect) Empty() bool {
	return r.W <= 0 || r.H <= 0
}

// Area - returns W*H, zero for degenerate rects
func (r Rect) Area() int {
	if r.Empty() {
		return 0
	}
	return r.W * r.H
}

// Center - returns the integer center of the rect
func (r Rect) Center() Point {
	return Point{X: r.X + r.W/2, Y: r.Y + r.H/2}
}

// Contains - reports whether p lies inside the rect (right/bottom edges inclusive)
func (r Rect) Contains(p Point) bool {
	return p.X >= r.X && p.X <= r.X+r.W && p.Y >= r.Y && p.Y <= r.Y+r.H
}

// ContainsRect - reports whether o lies fully inside r
func (r Rect) ContainsRect(o Rect) bool {
	return o.X >= r.X && o.Y >= r.Y && o.X+o.W <= r.X+r.W && o.Y+o.H <= r.Y+r.H
}

// Intersect - returns the overlapping rect, empty when disjoint
func (r Rect) Intersect(o Rect) Rect {
	x1, y1 := max(r.X, o.X), max(r.Y, o.Y)
	x2, y2 := min(r.X+r.W, o.X+o.W), min(r.Y+r.H, o.Y+o.H)
	if x2 <= x1 || y2 <= y1 {
		return Rect{}
	}
	return Rect{X: x1, Y: y1, W: x2 - x1, H: y2 - y1}
}

// Union - returns the smallest rect covering both
func (r Rect) Union(o Rect) Rect {
	if r.Empty() {
		return o
	}
	if o.Empty() {
		return r
	}
	x1, y1 := min(r.X, o.X), min(r.Y, o.Y)
	x2, y2 := max(r.X+r.W, o.X+o.W), max(r.Y+r.H, o.Y+o.H)
	return Rect{X: x1, Y: y1, W: x2 - x1, H: y2 - y1}
}

// Inflate - grows the rect by n pixels on every side
func (r Rect) Inflate(n int) Rect {
	return Rect{X: r.X - n, Y: r.Y - n, W: r.W + 2*n, H: r.H + 2*n}
}

// Offset - translates the rect by (dx, dy)
func (r Rect) Offset(dx, dy int) Rect {
	return Rect{X: r.X + dx, Y: r.Y + dy, W: r.W, H: r.H}
}

// TouchedEdges - reports the sides of bounds that r touches or crosses
func (r Rect) TouchedEdges(bounds Rect) Edges {
	return Edges{
		Left:   r.X <= bounds.X,
		Top:    r.Y <= bounds.Y,
		Right:  r.X+r.W >= bounds.X+bounds.W,
		Bottom: r.Y+r.H >= bounds.Y+bounds.H,
	}
}

// ExpandEdges - grows the rect by margin on the given sides, never below the screen origin
func (r Rect) ExpandEdges(e Edges, margin int) Rect {
	out := r
	if e.Left {
		grow := min(margin, out.X)
		out.X -= grow
		out.W += grow
	}
	if e.Top {
		grow := min(margin, out.Y)
		out.Y -= grow
		out.H += grow
	}
	if e.Right {
		out.W += margin
	}
	if e.Bottom {
		out.H += margin
	}
	return out
}
