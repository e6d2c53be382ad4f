package detector

import "sort"

// IoU returns the intersection-over-union of a and b. A zero union yields 0.
func IoU(a, b Box) float32 {
	inter := a.IntersectionArea(b)
	union := a.Area() + b.Area() - inter
	if union == 0 {
		return 0
	}
	return float32(inter) / float32(union)
}

// Suppress performs greedy per-class Non-Maximum Suppression. Boxes are
// ranked by descending score (stable for equal scores); a box is discarded
// when it overlaps an already kept box of the same class with IoU strictly
// greater than iouThreshold. The input slice is not modified.
func Suppress(boxes []Box, iouThreshold float32) []Box {
	if len(boxes) == 0 {
		return []Box{}
	}

	sorted := make([]Box, len(boxes))
	copy(sorted, boxes)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Score > sorted[j].Score
	})

	kept := make([]Box, 0, len(sorted))
	for _, b := range sorted {
		if overlapsKept(b, kept, iouThreshold) {
			continue
		}
		kept = append(kept, b)
	}
	return kept
}

func overlapsKept(b Box, kept []Box, iouThreshold float32) bool {
	for _, k := range kept {
		if k.Class == b.Class && IoU(b, k) > iouThreshold {
			return true
		}
	}
	return false
}
