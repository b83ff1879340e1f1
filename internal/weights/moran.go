package weights

import (
	"math"
	"math/rand/v2"

	"github.com/rotisserie/eris"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"
)

// MoranResult is Moran's I for one variable.
type MoranResult struct {
	I  float64 `json:"I"`
	EI float64 `json:"EI"`
	// Inference under the normality assumption.
	VI    float64 `json:"VI_norm"`
	Z     float64 `json:"z_norm"`
	PNorm float64 `json:"p_norm"`
	// Inference by random permutation; zero when no permutations ran.
	Permutations int     `json:"permutations"`
	PSim         float64 `json:"p_sim"`
	EISim        float64 `json:"EI_sim"`
	SeISim       float64 `json:"seI_sim"`
	ZSim         float64 `json:"z_sim"`
}

// Moran computes Moran's I of y under w, row-standardised. perms random
// permutations of y, drawn from a generator seeded with seed, give a pseudo
// p-value.
func Moran(w *W, y []float64, perms int, seed uint64) (*MoranResult, error) {
	n := w.N()
	if len(y) != n {
		return nil, eris.Errorf("weights: moran of %d values with %d units", len(y), n)
	}
	if n < 3 {
		return nil, eris.Errorf("weights: moran needs at least 3 units, got %d", n)
	}
	rw, err := Transform(w, RowStd)
	if err != nil {
		return nil, err
	}
	s0 := rw.S0()
	if s0 == 0 {
		return nil, eris.New("weights: moran of a matrix with no links")
	}

	mean := stat.Mean(y, nil)
	z := make([]float64, n)
	var z2 float64
	for i, v := range y {
		z[i] = v - mean
		z2 += z[i] * z[i]
	}
	if z2 == 0 {
		return nil, eris.New("weights: moran of a constant variable")
	}

	fn := float64(n)
	res := &MoranResult{
		I:  moranI(rw, z, z2, s0),
		EI: -1 / (fn - 1),
	}

	var s1, s2 float64
	rowSum := make([]float64, n)
	colSum := make([]float64, n)
	for i := 0; i < n; i++ {
		for k, j := range rw.Neighbors[i] {
			wij := rw.Weights[i][k]
			wji := rw.Weight(j, i)
			rowSum[i] += wij
			colSum[j] += wij
			if wji == 0 {
				// (j, i) is never visited, so count both orderings here.
				s1 += wij * wij
			} else {
				s1 += (wij + wji) * (wij + wji) / 2
			}
		}
	}
	for i := 0; i < n; i++ {
		s2 += (rowSum[i] + colSum[i]) * (rowSum[i] + colSum[i])
	}
	res.VI = (fn*fn*s1-fn*s2+3*s0*s0)/((fn*fn-1)*s0*s0) - res.EI*res.EI
	if res.VI > 0 {
		res.Z = (res.I - res.EI) / math.Sqrt(res.VI)
		res.PNorm = 2 * (1 - distuv.UnitNormal.CDF(math.Abs(res.Z)))
	}

	if perms > 0 {
		rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
		sims := make([]float64, perms)
		shuffled := make([]float64, n)
		var larger int
		for p := range sims {
			copy(shuffled, z)
			rng.Shuffle(n, func(a, b int) { shuffled[a], shuffled[b] = shuffled[b], shuffled[a] })
			sims[p] = moranI(rw, shuffled, z2, s0)
			if sims[p] >= res.I {
				larger++
			}
		}
		if perms-larger < larger {
			larger = perms - larger
		}
		res.Permutations = perms
		res.PSim = float64(larger+1) / float64(perms+1)
		res.EISim, res.SeISim = stat.PopMeanStdDev(sims, nil)
		if res.SeISim > 0 {
			res.ZSim = (res.I - res.EISim) / res.SeISim
		}
	}
	return res, nil
}

func moranI(w *W, z []float64, z2, s0 float64) float64 {
	var cross float64
	for i := 0; i < w.N(); i++ {
		for k, j := range w.Neighbors[i] {
			cross += w.Weights[i][k] * z[i] * z[j]
		}
	}
	return float64(w.N()) / s0 * cross / z2
}
