package detector

import "fmt"

// Box is one detection in original-image pixel coordinates.
// X1 <= X2 and Y1 <= Y2 are assumed by consumers but not enforced.
type Box struct {
	X1    int     `json:"x1"`
	Y1    int     `json:"y1"`
	X2    int     `json:"x2"`
	Y2    int     `json:"y2"`
	Score float32 `json:"score"`
	Class int     `json:"class"`
}

// Size is a width/height pair in pixels.
type Size struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

func (s Size) String() string {
	return fmt.Sprintf("%dx%d", s.Width, s.Height)
}

// Valid reports whether both dimensions are positive.
func (s Size) Valid() bool {
	return s.Width > 0 && s.Height > 0
}

// ParseSize parses "WxH" into a Size.
func ParseSize(s string) (Size, error) {
	var out Size
	if _, err := fmt.Sscanf(s, "%dx%d", &out.Width, &out.Height); err != nil {
		return Size{}, fmt.Errorf("invalid size %q, want WxH: %w", s, err)
	}
	if !out.Valid() {
		return Size{}, fmt.Errorf("invalid size %q: dimensions must be > 0", s)
	}
	return out, nil
}

func (b Box) Width() int  { return b.X2 - b.X1 }
func (b Box) Height() int { return b.Y2 - b.Y1 }

// Area may be negative for malformed boxes.
func (b Box) Area() int { return b.Width() * b.Height() }

// IntersectionArea returns the overlapping area of b and o, or 0 when they
// do not overlap on either axis.
func (b Box) IntersectionArea(o Box) int {
	w := min(b.X2, o.X2) - max(b.X1, o.X1)
	h := min(b.Y2, o.Y2) - max(b.Y1, o.Y1)
	if w <= 0 || h <= 0 {
		return 0
	}
	return w * h
}

func (b Box) String() string {
	return fmt.Sprintf("class=%d score=%.4f [%d,%d,%d,%d]", b.Class, b.Score, b.X1, b.Y1, b.X2, b.Y2)
}
