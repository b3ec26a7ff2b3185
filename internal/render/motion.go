package render

import (
	"fmt"
	"strings"
)

// panZoomFactor is the extra headroom scaled beyond cover-fit so the crop
// window has room to travel.
const panZoomFactor = 1.08

// PanPlan describes the scale-and-crop camera move for one clip.
type PanPlan struct {
	// ScaleW and ScaleH are the oversized intermediate frame dimensions.
	ScaleW int
	ScaleH int
	// XExpr and YExpr are ffmpeg crop position expressions over t.
	XExpr string
	YExpr string
}

// BuildPanPlan computes the cover-fit scale and a linear pan across the
// slack for one clip. With motion "none" the crop stays centered. Otherwise
// the axis and direction alternate by segment index so consecutive clips do
// not all drift the same way.
func BuildPanPlan(srcW, srcH, dstW, dstH int, duration float64, motion string, index int) PanPlan {
	if srcW < 1 {
		srcW = dstW
	}
	if srcH < 1 {
		srcH = dstH
	}

	scale := float64(dstW) / float64(srcW)
	if s := float64(dstH) / float64(srcH); s > scale {
		scale = s
	}
	scale *= panZoomFactor

	plan := PanPlan{
		ScaleW: evenCeil(float64(srcW) * scale),
		ScaleH: evenCeil(float64(srcH) * scale),
	}
	if plan.ScaleW < dstW {
		plan.ScaleW = dstW
	}
	if plan.ScaleH < dstH {
		plan.ScaleH = dstH
	}

	maxX := plan.ScaleW - dstW
	maxY := plan.ScaleH - dstH
	centerX := fmt.Sprintf("%d", maxX/2)
	centerY := fmt.Sprintf("%d", maxY/2)

	if strings.EqualFold(motion, "none") || duration <= 0 {
		plan.XExpr, plan.YExpr = centerX, centerY
		return plan
	}

	progress := fmt.Sprintf("min(t/%.3f\\,1)", duration)
	horizontal := index%2 == 0
	reverse := (index/2)%2 == 1

	travel := func(span int) string {
		if span <= 0 {
			return "0"
		}
		if reverse {
			return fmt.Sprintf("%d*(1-%s)", span, progress)
		}
		return fmt.Sprintf("%d*%s", span, progress)
	}

	if horizontal {
		plan.XExpr = travel(maxX)
		plan.YExpr = centerY
	} else {
		plan.XExpr = centerX
		plan.YExpr = travel(maxY)
	}
	return plan
}

// evenCeil rounds up to the next even integer; encoders want even frame
// dimensions.
func evenCeil(v float64) int {
	n := int(v)
	if float64(n) < v {
		n++
	}
	if n%2 != 0 {
		n++
	}
	return n
}
