package microscope

import (
	"cmp"
	"fmt"
	"slices"

	"github.com/tailored-agentic-units/labkernel/instrument"
)

// Raster returns an nx by ny grid of positions centred on center, spanning
// width in x and height in y at the centre's z. Rows alternate direction so
// that consecutive points stay adjacent.
func Raster(center instrument.Position, width, height float64, nx, ny int) ([]instrument.Position, error) {
	if nx < 1 || ny < 1 {
		return nil, fmt.Errorf("raster: need at least one point per axis, got %dx%d", nx, ny)
	}
	if width < 0 || height < 0 {
		return nil, fmt.Errorf("raster: negative extent %gx%g", width, height)
	}

	axis := func(n int, extent float64) []float64 {
		if n == 1 {
			return []float64{0}
		}
		values := make([]float64, n)
		for i := range values {
			values[i] = -extent/2 + extent*float64(i)/float64(n-1)
		}
		return values
	}
	xs := axis(nx, width)
	ys := axis(ny, height)

	points := make([]instrument.Position, 0, nx*ny)
	for row, y := range ys {
		for col := range xs {
			x := xs[col]
			if row%2 == 1 {
				x = xs[nx-1-col]
			}
			points = append(points, instrument.Position{X: center.X + x, Y: center.Y + y, Z: center.Z})
		}
	}
	return points, nil
}

// Region is one rectangular cell of a sample, raster-scanned with NX by NY
// points.
type Region struct {
	Center instrument.Position `json:"center" yaml:"center"`
	Width  float64             `json:"width" yaml:"width"`
	Height float64             `json:"height" yaml:"height"`
	NX     int                 `json:"nx" yaml:"nx"`
	NY     int                 `json:"ny" yaml:"ny"`
}

func (r Region) Positions() ([]instrument.Position, error) {
	return Raster(r.Center, r.Width, r.Height, r.NX, r.NY)
}

// FindEmitters picks emitter candidates from scan results: points whose rate
// reaches threshold, brightest first, skipping any point within separation
// of a brighter pick.
func FindEmitters(results []ScanResult, threshold, separation float64) []instrument.Position {
	candidates := make([]ScanResult, 0, len(results))
	for _, r := range results {
		if r.Rate >= threshold {
			candidates = append(candidates, r)
		}
	}
	slices.SortStableFunc(candidates, func(a, b ScanResult) int {
		return cmp.Compare(b.Rate, a.Rate)
	})

	var found []instrument.Position
	for _, c := range candidates {
		near := slices.ContainsFunc(found, func(p instrument.Position) bool {
			return p.Distance(c.Measured) < separation
		})
		if !near {
			found = append(found, c.Measured)
		}
	}
	return found
}
