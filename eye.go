package main

import (
	"math"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

const (
	eyeCols = 44
	eyeRows = 15
)

// palette holds half-block styles for one colour scheme. Index 0 is empty.
type palette struct {
	fg [16]lipgloss.Style
	bg [16][16]lipgloss.Style
}

func newPalette(colors []string) *palette {
	p := &palette{}
	for i, fg := range colors {
		if fg == "" {
			continue
		}
		p.fg[i] = lipgloss.NewStyle().Foreground(lipgloss.Color(fg))
		for j, bg := range colors {
			if bg != "" {
				p.bg[i][j] = lipgloss.NewStyle().Foreground(lipgloss.Color(fg)).Background(lipgloss.Color(bg))
			}
		}
	}
	return p
}

var (
	livePalette = newPalette([]string{"", "226", "220", "214", "208", "196", "160", "124", "88", "52", "236", "236", "236", "236", "255", "249"})
	restPalette = newPalette([]string{"", "231", "224", "217", "210", "160", "124", "88", "52", "236", "236", "236", "236", "236", "255", "249"})
)

type eyeRing struct {
	radius   float64
	reactive float64
}

var eyeRings = []eyeRing{
	{0.6, 0.10}, {1.3, 0.12}, {2.0, 0.15},
	{2.8, 0.35}, {3.5, 0.40}, {4.2, 0.38}, {5.0, 0.30},
	{5.8, 0.15}, {6.5, 0.03}, {7.2, 0}, {8.0, 0}, {10.0, 0}, {12.0, 0},
}

// renderEye draws the level indicator as concentric rings that swell with
// the microphone level while recording and breathe slowly otherwise.
func renderEye(frame int, level float64, recording bool) string {
	const w, h = eyeCols, eyeRows * 2
	cx, cy := float64(w)/2, float64(h)/2

	swell := math.Sin(float64(frame)*0.08)*0.02 - 0.05
	p := restPalette
	if recording {
		swell = math.Sin(float64(frame)*0.10)*0.03 + level*10 - 0.05
		p = livePalette
	}

	radii := make([]float64, len(eyeRings))
	for i, r := range eyeRings {
		radii[i] = min(r.radius+swell*r.reactive*20, 10)
	}

	px := func(x, y int) int {
		dx, dy := float64(x)-cx, float64(y)-cy
		d := math.Hypot(dx, dy)
		if glint(dx, dy) {
			return 14
		}
		for i, r := range radii {
			if d < r {
				return i + 1
			}
		}
		return 0
	}

	var b strings.Builder
	for row := 0; row < eyeRows; row++ {
		for x := 0; x < w; x++ {
			top, bot := px(x, row*2), px(x, row*2+1)
			switch {
			case top == 0 && bot == 0:
				b.WriteByte(' ')
			case top == bot:
				b.WriteString(p.fg[top].Render("█"))
			case bot == 0:
				b.WriteString(p.fg[top].Render("▀"))
			case top == 0:
				b.WriteString(p.fg[bot].Render("▄"))
			default:
				b.WriteString(p.bg[top][bot].Render("▀"))
			}
		}
		b.WriteByte('\n')
	}
	return b.String()
}

// glint reports whether a point falls in the small highlight above centre.
func glint(dx, dy float64) bool {
	gx, gy := dx+4.5, dy+6.0
	return gx*gx/4+gy*gy < 0.6
}
