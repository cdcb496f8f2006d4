// Package ranking computes IFSC-style rankings from per-route score tables.
//
// Higher raw scores are better within a route. Each competitor receives rank
// points per route (tied competitors share the mean of the positions they
// occupy) and the aggregate is the geometric mean of those points, so lower
// totals are better.
package ranking

import (
	"math"
	"sort"
)

// Table maps a competitor name to its per-route scores. A nil entry (or a
// short slice) means the route has not been scored for that competitor.
type Table map[string][]*float64

// At returns the score of name on route r, or nil.
func (t Table) At(name string, r int) *float64 {
	arr := t[name]
	if r < 0 || r >= len(arr) {
		return nil
	}
	return arr[r]
}

// Clone returns a deep copy of t.
func (t Table) Clone() Table {
	if t == nil {
		return nil
	}
	out := make(Table, len(t))
	for name, arr := range t {
		cp := make([]*float64, len(arr))
		for i, v := range arr {
			if v != nil {
				x := *v
				cp[i] = &x
			}
		}
		out[name] = cp
	}
	return out
}

// Set stores v for name on route r, growing the slice as needed.
func (t Table) Set(name string, r int, v float64) {
	arr := t[name]
	for len(arr) <= r {
		arr = append(arr, nil)
	}
	arr[r] = &v
	t[name] = arr
}

// Input is everything the engine needs for one category.
type Input struct {
	Scores     Table
	RouteCount int
	Clubs      map[string]string
	Times      Table
}

// Row is one line of the overall ranking.
type Row struct {
	Rank       int        `json:"rank"`
	Name       string     `json:"name"`
	Club       string     `json:"club,omitempty"`
	Scores     []*float64 `json:"scores"`
	RankPoints []float64  `json:"rankPoints"`
	Times      []*float64 `json:"times,omitempty"`
	Total      float64    `json:"total"`
}

// Result is the computed overall ranking.
type Result struct {
	Rows         []Row `json:"rows"`
	NCompetitors int   `json:"nCompetitors"`
}

// RouteRow is one line of a single route's standings.
type RouteRow struct {
	Rank   int      `json:"rank"`
	Name   string   `json:"name"`
	Club   string   `json:"club,omitempty"`
	Score  *float64 `json:"score"`
	Points *float64 `json:"points"`
}

type entry struct {
	name  string
	score float64
}

// sortedRoute returns the defined scores of route r, best first. Equal
// scores are ordered by name so output is deterministic.
func sortedRoute(scores Table, r int) []entry {
	var list []entry
	for name := range scores {
		if s := scores.At(name, r); s != nil {
			list = append(list, entry{name: name, score: *s})
		}
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].score != list[j].score {
			return list[i].score > list[j].score
		}
		return list[i].name < list[j].name
	})
	return list
}

// RoutePoints assigns rank points for route r. Competitors without a score on
// the route are absent from the returned map.
func RoutePoints(scores Table, r int) map[string]float64 {
	list := sortedRoute(scores, r)
	points := make(map[string]float64, len(list))

	pos := 1
	for i := 0; i < len(list); {
		j := i + 1
		for j < len(list) && list[j].score == list[i].score {
			j++
		}
		first, last := pos, pos+(j-i)-1
		avg := float64(first+last) / 2
		for k := i; k < j; k++ {
			points[list[k].name] = avg
		}
		pos += j - i
		i = j
	}
	return points
}

// Compute ranks every competitor in in.Scores. It returns no rows when
// RouteCount is zero.
func Compute(in Input) Result {
	if in.RouteCount <= 0 {
		return Result{}
	}

	perRoute := make([]map[string]float64, in.RouteCount)
	nCompetitors := 0
	for r := 0; r < in.RouteCount; r++ {
		perRoute[r] = RoutePoints(in.Scores, r)
		if len(perRoute[r]) > nCompetitors {
			nCompetitors = len(perRoute[r])
		}
	}
	penalty := float64(nCompetitors + 1)

	rows := make([]Row, 0, len(in.Scores))
	for name := range in.Scores {
		row := Row{
			Name:       name,
			Club:       in.Clubs[name],
			Scores:     make([]*float64, in.RouteCount),
			RankPoints: make([]float64, in.RouteCount),
		}
		if in.Times != nil {
			row.Times = make([]*float64, in.RouteCount)
		}

		product := 1.0
		for r := 0; r < in.RouteCount; r++ {
			row.Scores[r] = in.Scores.At(name, r)
			if row.Times != nil {
				row.Times[r] = in.Times.At(name, r)
			}
			p, ok := perRoute[r][name]
			if !ok {
				p = penalty
			}
			row.RankPoints[r] = p
			product *= p
		}
		row.Total = round3(math.Pow(product, 1/float64(in.RouteCount)))
		rows = append(rows, row)
	}

	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].Total != rows[j].Total {
			return rows[i].Total < rows[j].Total
		}
		return rows[i].Name < rows[j].Name
	})

	// Equal totals share the rank of the first occurrence; the next distinct
	// total takes its row position (1, 1, 3).
	for i := range rows {
		if i > 0 && rows[i].Total == rows[i-1].Total {
			rows[i].Rank = rows[i-1].Rank
		} else {
			rows[i].Rank = i + 1
		}
	}

	return Result{Rows: rows, NCompetitors: nCompetitors}
}

// Podium returns the first n rows of a computed ranking.
func Podium(rows []Row, n int) []Row {
	if n < 0 {
		n = 0
	}
	if len(rows) < n {
		n = len(rows)
	}
	out := make([]Row, n)
	copy(out, rows[:n])
	return out
}

// RouteStandings lists route r (0-based) best first, with competitors that
// have no score on it at the end. Rank shares positions on equal scores.
func RouteStandings(in Input, r int) []RouteRow {
	if r < 0 || r >= in.RouteCount {
		return nil
	}
	points := RoutePoints(in.Scores, r)
	list := sortedRoute(in.Scores, r)

	var unscored []string
	for name := range in.Scores {
		if in.Scores.At(name, r) == nil {
			unscored = append(unscored, name)
		}
	}
	sort.Strings(unscored)

	out := make([]RouteRow, 0, len(in.Scores))
	for i, e := range list {
		rank := i + 1
		if i > 0 && e.score == list[i-1].score {
			rank = out[i-1].Rank
		}
		score := e.score
		p := points[e.name]
		out = append(out, RouteRow{Rank: rank, Name: e.name, Club: in.Clubs[e.name], Score: &score, Points: &p})
	}
	for _, name := range unscored {
		out = append(out, RouteRow{Rank: len(list) + 1, Name: name, Club: in.Clubs[name]})
	}
	return out
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}
