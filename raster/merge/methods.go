package merge

import (
	"fmt"
	"strings"

	"github.com/edisonguo/govaluate"
	"github.com/sirupsen/logrus"
)

// Method combines one window row of an incoming raster into the merge
// canvas. dst and dstValid hold the pixels accumulated so far; src and
// srcValid the candidate pixels. Implementations update dst/dstValid in
// place and must leave dst untouched wherever src is invalid.
type Method interface {
	Combine(dst, src []float64, dstValid, srcValid []bool)
}

// MethodFunc adapts a plain function to the Method interface.
type MethodFunc func(dst, src []float64, dstValid, srcValid []bool)

func (f MethodFunc) Combine(dst, src []float64, dstValid, srcValid []bool) {
	f(dst, src, dstValid, srcValid)
}

var (
	// First keeps the earliest valid value seen at each pixel, matching the
	// reverse-painter's order of a mosaic.
	First Method = MethodFunc(combineFirst)

	// Last overwrites with every valid value, so the final raster wins.
	Last Method = MethodFunc(combineLast)

	// Min keeps the smallest valid value at each pixel.
	Min Method = MethodFunc(combineMin)

	// Max keeps the largest valid value at each pixel.
	Max Method = MethodFunc(combineMax)

	// Sum adds all valid values at each pixel.
	Sum Method = MethodFunc(combineSum)

	// Count stores how many rasters have a valid value at each pixel.
	Count Method = MethodFunc(combineCount)

	// Mean averages all valid values at each pixel. The merge engine
	// recognizes it and accumulates per-pixel sums and counts instead of
	// calling Combine, since a running pairwise combination cannot produce
	// an exact mean.
	Mean Method = meanMethod{}
)

func combineFirst(dst, src []float64, dstValid, srcValid []bool) {
	for i := range src {
		if srcValid[i] && !dstValid[i] {
			dst[i] = src[i]
			dstValid[i] = true
		}
	}
}

func combineLast(dst, src []float64, dstValid, srcValid []bool) {
	for i := range src {
		if srcValid[i] {
			dst[i] = src[i]
			dstValid[i] = true
		}
	}
}

func combineMin(dst, src []float64, dstValid, srcValid []bool) {
	for i := range src {
		if !srcValid[i] {
			continue
		}
		if !dstValid[i] || src[i] < dst[i] {
			dst[i] = src[i]
			dstValid[i] = true
		}
	}
}

func combineMax(dst, src []float64, dstValid, srcValid []bool) {
	for i := range src {
		if !srcValid[i] {
			continue
		}
		if !dstValid[i] || src[i] > dst[i] {
			dst[i] = src[i]
			dstValid[i] = true
		}
	}
}

func combineSum(dst, src []float64, dstValid, srcValid []bool) {
	for i := range src {
		if !srcValid[i] {
			continue
		}
		if dstValid[i] {
			dst[i] += src[i]
		} else {
			dst[i] = src[i]
			dstValid[i] = true
		}
	}
}

func combineCount(dst, src []float64, dstValid, srcValid []bool) {
	for i := range src {
		if !srcValid[i] {
			continue
		}
		if dstValid[i] {
			dst[i]++
		} else {
			dst[i] = 1
			dstValid[i] = true
		}
	}
}

type meanMethod struct{}

// Combine is never called; the engine intercepts Mean. See Merge.
func (meanMethod) Combine(dst, src []float64, dstValid, srcValid []bool) {}

// OverlapCheck returns a first-wins method that logs a warning the first
// time two rasters disagree on a valid pixel. Use it to confirm that tiles
// expected to be disjoint really are.
func OverlapCheck() Method {
	return &overlapCheck{}
}

type overlapCheck struct {
	warned bool
}

func (m *overlapCheck) Combine(dst, src []float64, dstValid, srcValid []bool) {
	for i := range src {
		if !srcValid[i] {
			continue
		}
		if !dstValid[i] {
			dst[i] = src[i]
			dstValid[i] = true
			continue
		}
		if !m.warned && dst[i] != src[i] {
			logrus.Warn("rasters have overlapping pixels with conflicting values; keeping the first value")
			m.warned = true
		}
	}
}

// Expression builds a merge method from an arithmetic expression over the
// variables "dst" and "src", e.g. "(dst + src) / 2" or
// "src > dst ? src : dst". The expression only runs where both pixels are
// valid; otherwise the valid one is kept.
func Expression(expr string) (Method, error) {
	compiled, err := govaluate.NewEvaluableExpression(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid merge expression %q: %w", expr, err)
	}
	// Probe once so a type error surfaces here instead of deep inside a
	// window loop.
	if _, err := evalExpr(compiled, 1, 2); err != nil {
		return nil, fmt.Errorf("merge expression %q does not evaluate to a number: %w", expr, err)
	}
	return &exprMethod{expr: compiled}, nil
}

type exprMethod struct {
	expr *govaluate.EvaluableExpression
}

func (m *exprMethod) Combine(dst, src []float64, dstValid, srcValid []bool) {
	for i := range src {
		if !srcValid[i] {
			continue
		}
		if !dstValid[i] {
			dst[i] = src[i]
			dstValid[i] = true
			continue
		}
		if v, err := evalExpr(m.expr, dst[i], src[i]); err == nil {
			dst[i] = v
		}
	}
}

func evalExpr(expr *govaluate.EvaluableExpression, dst, src float64) (float64, error) {
	result, err := expr.Evaluate(map[string]interface{}{"dst": dst, "src": src})
	if err != nil {
		return 0, err
	}
	v, ok := result.(float64)
	if !ok {
		return 0, fmt.Errorf("expression returned %T, want float64", result)
	}
	return v, nil
}

// ParseMethod maps a method name to its Method value.
func ParseMethod(name string) (Method, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "first", "":
		return First, nil
	case "last":
		return Last, nil
	case "min":
		return Min, nil
	case "max":
		return Max, nil
	case "sum":
		return Sum, nil
	case "count":
		return Count, nil
	case "mean":
		return Mean, nil
	case "check_for_overlapping_pixels":
		return OverlapCheck(), nil
	}
	return nil, fmt.Errorf("unknown merge method %q", name)
}
