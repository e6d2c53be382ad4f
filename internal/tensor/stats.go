package tensor

// Summary holds simple statistics over a float32 buffer, used for debug logs.
type Summary struct {
	Count    int     `json:"count"`
	Min      float32 `json:"min"`
	Max      float32 `json:"max"`
	Mean     float64 `json:"mean"`
	Variance float64 `json:"variance"`
}

// Stats computes min, max, mean and population variance of data.
func Stats(data []float32) Summary {
	if len(data) == 0 {
		return Summary{}
	}
	s := Summary{Count: len(data), Min: data[0], Max: data[0]}
	var sum float64
	for _, v := range data {
		if v < s.Min {
			s.Min = v
		}
		if v > s.Max {
			s.Max = v
		}
		sum += float64(v)
	}
	s.Mean = sum / float64(len(data))

	var acc float64
	for _, v := range data {
		d := float64(v) - s.Mean
		acc += d * d
	}
	s.Variance = acc / float64(len(data))
	return s
}

// FirstRow returns the leading slice of a rank-3 tensor: the first channel of
// a channel-major map, or the first grid row of a packed map.
func (t Tensor) FirstRow() []float32 {
	_, d1, d2, err := t.Dims3()
	if err != nil {
		return nil
	}
	return t.Data[:d1*d2]
}
