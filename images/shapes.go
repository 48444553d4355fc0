// Package images - Image processing utilities
package images

// Rect is a lightweight bounding box in pixel coordinates.
type Rect struct {
	// X2,Y2 are exclusive (like image.Rectangle).
	X1, Y1, X2, Y2 float32
}

// Width returns the horizontal extent of the rectangle, or 0 if it is inverted.
func (r Rect) Width() float32 {
	return max(0, r.X2-r.X1)
}

// Height returns the vertical extent of the rectangle, or 0 if it is inverted.
func (r Rect) Height() float32 {
	return max(0, r.Y2-r.Y1)
}

// Area returns the area of the rectangle.
func (r Rect) Area() float32 {
	return r.Width() * r.Height()
}

// CalculateIoU (Intersection over Union) measures the overlap of two boxes.
//
//	IoU = Area of Intersection / Area of Union
//
//   - A value of 1.0 means the rectangles are identical.
//   - A value of 0.0 means the rectangles don't overlap at all.
//
// Arguments:
//   - r: The first rectangle.
//   - o: The other rectangle to compare against.
//
// Returns:
//   - float32: A value between 0.0 and 1.0 representing the IoU score.
//
// Example Usage:
// ```go
//
//	rect1 := Rect{X1: 0, Y1: 0, X2: 10, Y2: 10}
//	rect2 := Rect{X1: 5, Y1: 5, X2: 15, Y2: 15}
//
//	iouScore := CalculateIoU(rect1, rect2) // 25 / 175 = 0.142857
//
// ```
func CalculateIoU(r, o Rect) float32 {
	// The intersection starts where both rectangles have begun and ends as soon
	// as the first one ends.
	ix1 := max(r.X1, o.X1)
	iy1 := max(r.Y1, o.Y1)
	ix2 := min(r.X2, o.X2)
	iy2 := min(r.Y2, o.Y2)

	interW := ix2 - ix1
	interH := iy2 - iy1
	if interW <= 0 || interH <= 0 {
		return 0.0
	}
	interArea := interW * interH

	// Union(A, B) = Area(A) + Area(B) - Intersection(A, B)
	unionArea := r.Area() + o.Area() - interArea
	if unionArea <= 0 {
		return 0.0
	}

	return interArea / unionArea
}
