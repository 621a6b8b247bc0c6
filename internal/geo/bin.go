package geo

import "sort"

// Point is one input to the binning kernel. Value nil means "count as 1".
type Point struct {
	Lat   float64
	Lon   float64
	Value *float64
}

// CellAggregate is one output bucket: a cell token and the summed value of
// every point that fell into it.
type CellAggregate struct {
	Cell  string
	Value float64
}

// BinPoints maps each point to a cell at the given resolution and sums values
// per cell. Absent values default to 1, so binning raw points yields counts.
// Empty input yields empty output. The result is sorted by cell token so the
// output is deterministic regardless of input order.
//
// Conservation holds by construction: the sum of aggregated values equals the
// sum of input values (with absent values counted as 1).
func BinPoints(points []Point, res int) []CellAggregate {
	if len(points) == 0 {
		return nil
	}

	sums := make(map[string]float64, len(points))
	for _, p := range points {
		v := 1.0
		if p.Value != nil {
			v = *p.Value
		}
		sums[CellToken(p.Lat, p.Lon, res)] += v
	}

	out := make([]CellAggregate, 0, len(sums))
	for cell, v := range sums {
		out = append(out, CellAggregate{Cell: cell, Value: v})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Cell < out[j].Cell })
	return out
}

// CountByCell is a convenience wrapper over BinPoints for plain point counts,
// returned as a lookup map. Used for POI density per cell.
func CountByCell(points []Point, res int) map[string]int {
	aggs := BinPoints(points, res)
	if len(aggs) == 0 {
		return nil
	}
	counts := make(map[string]int, len(aggs))
	for _, a := range aggs {
		counts[a.Cell] = int(a.Value)
	}
	return counts
}
