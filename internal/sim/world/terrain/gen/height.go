package gen

import (
	"math"

	perlin "github.com/aquilax/go-perlin"
)

// HeightFunc is the deterministic terrain noise: the same (q, r) always yields
// the same height for a given instance.
type HeightFunc interface {
	Height(q, r int) int16
}

const (
	baseScale    = 1.0 / 150.0
	featureScale = 1.0 / 50.0
	detailScale  = 1.0 / 25.0

	baseWeight    = 15.0
	featureWeight = 20.0
	featureCut    = 0.4
	detailWeight  = 4.0
)

// LayeredPerlin combines rolling hills, occasional sharp rises and small
// surface detail from a single seeded Perlin source.
type LayeredPerlin struct {
	p *perlin.Perlin
}

func NewLayeredPerlin(seed int64) *LayeredPerlin {
	return &LayeredPerlin{p: perlin.NewPerlin(2, 2, 3, seed)}
}

func (h *LayeredPerlin) Height(q, r int) int16 {
	x, y := float64(q), float64(r)

	base := h.p.Noise2D(x*baseScale, y*baseScale) * baseWeight

	feature := h.p.Noise2D(x*featureScale, y*featureScale)
	sharp := 0.0
	if math.Abs(feature) > featureCut {
		sharp = (feature - math.Copysign(featureCut, feature)) * featureWeight
	}

	detail := h.p.Noise2D(x*detailScale, y*detailScale) * detailWeight

	return int16(base + sharp + detail)
}

// HeightFuncOf adapts a plain function.
type HeightFuncOf func(q, r int) int16

func (f HeightFuncOf) Height(q, r int) int16 { return f(q, r) }
