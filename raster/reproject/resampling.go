package reproject

import (
	"fmt"
	"math"
	"strings"
)

// Resampling selects how source pixels are combined when a raster is
// warped onto a new grid. The first group are point interpolators, the
// rest aggregate every source pixel under the destination footprint and
// suit downsampling.
type Resampling int

const (
	Nearest Resampling = iota
	Bilinear
	Cubic
	CubicSpline
	Lanczos
	Average
	Mode
	Gaussian
	Max
	Min
	Median
	Q1
	Q3
	Sum
	RMS
)

var resamplingNames = map[Resampling]string{
	Nearest:     "nearest",
	Bilinear:    "bilinear",
	Cubic:       "cubic",
	CubicSpline: "cubic_spline",
	Lanczos:     "lanczos",
	Average:     "average",
	Mode:        "mode",
	Gaussian:    "gauss",
	Max:         "max",
	Min:         "min",
	Median:      "med",
	Q1:          "q1",
	Q3:          "q3",
	Sum:         "sum",
	RMS:         "rms",
}

func (m Resampling) String() string {
	if name, ok := resamplingNames[m]; ok {
		return name
	}
	return fmt.Sprintf("resampling(%d)", int(m))
}

// ParseResampling maps a method name to its Resampling value. Names follow
// the usual warp conventions, with "gaussian" and "median" accepted as
// aliases.
func ParseResampling(name string) (Resampling, error) {
	normalized := strings.ToLower(strings.TrimSpace(name))
	switch normalized {
	case "gaussian":
		normalized = "gauss"
	case "median":
		normalized = "med"
	}
	for m, n := range resamplingNames {
		if n == normalized {
			return m, nil
		}
	}
	return 0, fmt.Errorf("unknown resampling method %q", name)
}

// isFootprint reports whether the method aggregates a source footprint
// rather than interpolating at a point.
func (m Resampling) isFootprint() bool {
	return m >= Average
}

// kernelRadius is the half-width of the point interpolation support, in
// source pixels.
func (m Resampling) kernelRadius() int {
	switch m {
	case Bilinear:
		return 1
	case Cubic, CubicSpline:
		return 2
	case Lanczos:
		return 3
	default:
		return 0
	}
}

// kernelWeight evaluates the 1-D interpolation kernel at distance t from
// the sample point.
func (m Resampling) kernelWeight(t float64) float64 {
	t = math.Abs(t)
	switch m {
	case Bilinear:
		if t >= 1 {
			return 0
		}
		return 1 - t
	case Cubic:
		return catmullRom(t)
	case CubicSpline:
		return bSpline(t)
	case Lanczos:
		return lanczos3(t)
	default:
		return 0
	}
}

// catmullRom is the bicubic kernel with a = -0.5, the usual choice for
// image warping.
func catmullRom(t float64) float64 {
	switch {
	case t < 1:
		return 1.5*t*t*t - 2.5*t*t + 1
	case t < 2:
		return -0.5*t*t*t + 2.5*t*t - 4*t + 2
	default:
		return 0
	}
}

// bSpline is the cubic B-spline kernel. It never overshoots, at the cost
// of smoothing.
func bSpline(t float64) float64 {
	switch {
	case t < 1:
		return (4 - 6*t*t + 3*t*t*t) / 6
	case t < 2:
		d := 2 - t
		return d * d * d / 6
	default:
		return 0
	}
}

// lanczos3 is the 3-lobe Lanczos windowed sinc.
func lanczos3(t float64) float64 {
	if t == 0 {
		return 1
	}
	if t >= 3 {
		return 0
	}
	pt := math.Pi * t
	return 3 * math.Sin(pt) * math.Sin(pt/3) / (pt * pt)
}
