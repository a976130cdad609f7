package extract

import (
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/protocolpilot/protocolpilot/constants"
	"github.com/protocolpilot/protocolpilot/internal/entity"
)

// Adjudicator reconciles all candidates for each parameter into at most one
// winner. Entirely deterministic: clustering by value equivalence, largest
// cluster wins, ties broken by mean confidence then earliest page range.
type Adjudicator struct {
	// NumericTolerance is the relative tolerance under which two numeric
	// values are considered equivalent (e.g. 0.01 for 1%).
	NumericTolerance float64
	// ConflictConfidenceCap bounds the confidence of a winner emitted for a
	// conflicted parameter.
	ConflictConfidenceCap float64
}

func NewAdjudicator(numericTolerance, conflictCap float64) *Adjudicator {
	if numericTolerance <= 0 {
		numericTolerance = 0.01
	}
	if conflictCap <= 0 {
		conflictCap = 0.3
	}
	return &Adjudicator{NumericTolerance: numericTolerance, ConflictConfidenceCap: conflictCap}
}

// Adjudicate groups candidates by parameter and reduces each group to one
// winner. Conflicted parameters (no agreement, several distinct values)
// still get a winner, confidence-capped and marked, plus a conflict record
// for the gap analyzer.
func (a *Adjudicator) Adjudicate(candidates []entity.Candidate) ([]entity.Winner, []entity.ConflictItem) {
	groups := make(map[string][]entity.Candidate)
	var order []string
	for _, c := range candidates {
		if _, seen := groups[c.ParameterName]; !seen {
			order = append(order, c.ParameterName)
		}
		groups[c.ParameterName] = append(groups[c.ParameterName], c)
	}

	var winners []entity.Winner
	var conflicts []entity.ConflictItem
	for _, name := range order {
		group := groups[name]
		clusters := a.cluster(name, group)
		best := pickCluster(clusters)

		conflicted := len(best) == 1 && len(clusters) >= 2
		w := buildWinner(name, best, conflicted, a.ConflictConfidenceCap)
		winners = append(winners, w)
		if conflicted {
			conflicts = append(conflicts, entity.ConflictItem{
				ParameterName: name,
				Candidates:    group,
			})
		}
	}
	return winners, conflicts
}

// cluster partitions a parameter group by value equivalence. Greedy: each
// candidate joins the first cluster whose representative it matches.
func (a *Adjudicator) cluster(name string, group []entity.Candidate) [][]entity.Candidate {
	param, _ := constants.ParameterByName(name)
	var clusters [][]entity.Candidate
	for _, c := range group {
		placed := false
		for i, cl := range clusters {
			if a.equivalent(param, cl[0].Value, c.Value) {
				clusters[i] = append(clusters[i], c)
				placed = true
				break
			}
		}
		if !placed {
			clusters = append(clusters, []entity.Candidate{c})
		}
	}
	return clusters
}

// pickCluster returns the winning cluster: largest, then highest mean
// confidence, then earliest page range.
func pickCluster(clusters [][]entity.Candidate) []entity.Candidate {
	sort.SliceStable(clusters, func(i, j int) bool {
		if len(clusters[i]) != len(clusters[j]) {
			return len(clusters[i]) > len(clusters[j])
		}
		ci, cj := meanConfidence(clusters[i]), meanConfidence(clusters[j])
		if ci != cj {
			return ci > cj
		}
		return earliestStart(clusters[i]) < earliestStart(clusters[j])
	})
	return clusters[0]
}

func buildWinner(name string, cluster []entity.Candidate, conflicted bool, confidenceCap float64) entity.Winner {
	// Representative value comes from the most confident member.
	rep := cluster[0]
	for _, c := range cluster[1:] {
		if c.Confidence > rep.Confidence {
			rep = c
		}
	}

	confidence := meanConfidence(cluster)
	if conflicted && confidence > confidenceCap {
		confidence = confidenceCap
	}

	provenance := make([]entity.PageRange, 0, len(cluster))
	seen := make(map[entity.PageRange]struct{})
	for _, c := range cluster {
		if _, dup := seen[c.SourcePageRange]; dup {
			continue
		}
		seen[c.SourcePageRange] = struct{}{}
		provenance = append(provenance, c.SourcePageRange)
	}
	sort.Slice(provenance, func(i, j int) bool {
		if provenance[i].Start != provenance[j].Start {
			return provenance[i].Start < provenance[j].Start
		}
		return provenance[i].End < provenance[j].End
	})

	return entity.Winner{
		ParameterName:  name,
		Value:          rep.Value,
		Unit:           rep.Unit,
		Confidence:     confidence,
		Provenance:     provenance,
		AgreementCount: uint(len(cluster)),
		Conflicted:     conflicted,
	}
}

func meanConfidence(cluster []entity.Candidate) float64 {
	if len(cluster) == 0 {
		return 0
	}
	sum := 0.0
	for _, c := range cluster {
		sum += c.Confidence
	}
	return sum / float64(len(cluster))
}

func earliestStart(cluster []entity.Candidate) uint {
	min := cluster[0].SourcePageRange.Start
	for _, c := range cluster[1:] {
		if c.SourcePageRange.Start < min {
			min = c.SourcePageRange.Start
		}
	}
	return min
}

// equivalent reports whether two candidate values denote the same
// measurement for a parameter: exact (case-insensitive) match for
// categorical values, relative tolerance for numerics, element-wise
// relative tolerance for vectors.
func (a *Adjudicator) equivalent(param constants.Parameter, x, y any) bool {
	switch param.Kind {
	case constants.ParamCategorical:
		xs, xok := asString(x)
		ys, yok := asString(y)
		return xok && yok && strings.EqualFold(strings.TrimSpace(xs), strings.TrimSpace(ys))
	case constants.ParamVector:
		xv, xok := asVector(x)
		yv, yok := asVector(y)
		if !xok || !yok || len(xv) != len(yv) {
			return false
		}
		for i := range xv {
			if !a.withinTolerance(xv[i], yv[i]) {
				return false
			}
		}
		return true
	default: // numeric, and anything uncataloged compared numerically first
		xf, xok := asFloat(x)
		yf, yok := asFloat(y)
		if xok && yok {
			return a.withinTolerance(xf, yf)
		}
		xs, xok2 := asString(x)
		ys, yok2 := asString(y)
		return xok2 && yok2 && strings.EqualFold(strings.TrimSpace(xs), strings.TrimSpace(ys))
	}
}

func (a *Adjudicator) withinTolerance(x, y float64) bool {
	if x == y {
		return true
	}
	scale := math.Max(math.Abs(x), math.Abs(y))
	if scale == 0 {
		return true
	}
	return math.Abs(x-y) <= a.NumericTolerance*scale
}

func asFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

func asString(v any) (string, bool) {
	s, ok := v.(string)
	return s, ok
}

func asVector(v any) ([]float64, bool) {
	raw, ok := v.([]any)
	if !ok {
		return nil, false
	}
	out := make([]float64, 0, len(raw))
	for _, e := range raw {
		f, ok := asFloat(e)
		if !ok {
			return nil, false
		}
		out = append(out, f)
	}
	return out, true
}
