// Package navmesh provides a grid-based walkable-surface mesh with A*
// path queries and nearest-valid-point snapping. It stands in for a full
// polygon navmesh: cells carry a surface height and a walkable flag, and
// queries operate on world-space 3D points.
package navmesh

import (
	"math"

	"github.com/motorsim/navmotor/common"
)

type gridNeighbor struct {
	col      int
	row      int
	cost     float64
	diagonal bool
}

var gridNeighborOffsets = [...]gridNeighbor{
	{col: 0, row: -1, cost: 1, diagonal: false},
	{col: 1, row: 0, cost: 1, diagonal: false},
	{col: 0, row: 1, cost: 1, diagonal: false},
	{col: -1, row: 0, cost: 1, diagonal: false},
	{col: 1, row: -1, cost: math.Sqrt2, diagonal: true},
	{col: 1, row: 1, cost: math.Sqrt2, diagonal: true},
	{col: -1, row: 1, cost: math.Sqrt2, diagonal: true},
	{col: -1, row: -1, cost: math.Sqrt2, diagonal: true},
}

// Grid is a heightfield navmesh. The grid spans
// [originX, originX+cols*cellSize) x [originZ, originZ+rows*cellSize) in the
// XZ plane; heights are sampled at cell centers.
type Grid struct {
	cols, rows       int
	cellSize         float64
	originX, originZ float64
	heights          []float64
	walkable         []bool
	maxClimb         float64
}

// NewGrid builds a flat, fully walkable grid centered so that world origin
// (0,0) sits at the grid's center.
func NewGrid(cols, rows int, cellSize float64) *Grid {
	if cols <= 0 {
		cols = 1
	}
	if rows <= 0 {
		rows = 1
	}
	if cellSize <= 0 {
		cellSize = 1
	}
	g := &Grid{
		cols:     cols,
		rows:     rows,
		cellSize: cellSize,
		originX:  -float64(cols) * cellSize / 2,
		originZ:  -float64(rows) * cellSize / 2,
		heights:  make([]float64, cols*rows),
		walkable: make([]bool, cols*rows),
		maxClimb: 0.5,
	}
	for i := range g.walkable {
		g.walkable[i] = true
	}
	return g
}

// SetMaxClimb sets the maximum height difference traversable between
// adjacent cells.
func (g *Grid) SetMaxClimb(climb float64) {
	if g == nil || climb < 0 {
		return
	}
	g.maxClimb = climb
}

// SetHeight sets one cell's surface height.
func (g *Grid) SetHeight(col, row int, h float64) {
	if !g.inBounds(col, row) {
		return
	}
	g.heights[g.index(col, row)] = h
}

// SetWalkable marks one cell walkable or not.
func (g *Grid) SetWalkable(col, row int, walkable bool) {
	if !g.inBounds(col, row) {
		return
	}
	g.walkable[g.index(col, row)] = walkable
}

// BlockCircle marks every cell whose center lies within radius+padding of
// center as unwalkable. Used to stamp static obstacles into the mesh.
func (g *Grid) BlockCircle(center common.Vec3, radius, padding float64) {
	if g == nil || radius <= 0 {
		return
	}
	reach := radius + padding
	minCol, minRow, _ := g.locate(center.X-reach, center.Z-reach)
	maxCol, maxRow, _ := g.locate(center.X+reach, center.Z+reach)
	for row := minRow; row <= maxRow; row++ {
		for col := minCol; col <= maxCol; col++ {
			if !g.inBounds(col, row) {
				continue
			}
			p := g.worldPos(col, row)
			if p.FlatDistance(center) <= reach {
				g.walkable[g.index(col, row)] = false
			}
		}
	}
}

func (g *Grid) inBounds(col, row int) bool {
	return g != nil && col >= 0 && row >= 0 && col < g.cols && row < g.rows
}

func (g *Grid) index(col, row int) int {
	return row*g.cols + col
}

func (g *Grid) isWalkable(col, row int) bool {
	if !g.inBounds(col, row) {
		return false
	}
	return g.walkable[g.index(col, row)]
}

func (g *Grid) worldPos(col, row int) common.Vec3 {
	return common.Vec3{
		X: g.originX + (float64(col)+0.5)*g.cellSize,
		Y: g.heights[g.index(col, row)],
		Z: g.originZ + (float64(row)+0.5)*g.cellSize,
	}
}

func (g *Grid) locate(x, z float64) (int, int, bool) {
	if g == nil || g.cols == 0 || g.rows == 0 {
		return 0, 0, false
	}
	col := int(math.Floor((x - g.originX) / g.cellSize))
	row := int(math.Floor((z - g.originZ) / g.cellSize))
	inside := g.inBounds(col, row)
	if col < 0 {
		col = 0
	}
	if row < 0 {
		row = 0
	}
	if col >= g.cols {
		col = g.cols - 1
	}
	if row >= g.rows {
		row = g.rows - 1
	}
	return col, row, inside
}

// HeightAt returns the interpolated surface height at (x, z). Points outside
// the grid clamp to the border cells.
func (g *Grid) HeightAt(x, z float64) float64 {
	if g == nil || len(g.heights) == 0 {
		return 0
	}
	// bilinear between cell centers
	u := (x-g.originX)/g.cellSize - 0.5
	v := (z-g.originZ)/g.cellSize - 0.5
	c0 := int(math.Floor(u))
	r0 := int(math.Floor(v))
	tu := u - float64(c0)
	tv := v - float64(r0)

	clampCol := func(c int) int {
		if c < 0 {
			return 0
		}
		if c >= g.cols {
			return g.cols - 1
		}
		return c
	}
	clampRow := func(r int) int {
		if r < 0 {
			return 0
		}
		if r >= g.rows {
			return g.rows - 1
		}
		return r
	}

	h00 := g.heights[g.index(clampCol(c0), clampRow(r0))]
	h10 := g.heights[g.index(clampCol(c0+1), clampRow(r0))]
	h01 := g.heights[g.index(clampCol(c0), clampRow(r0+1))]
	h11 := g.heights[g.index(clampCol(c0+1), clampRow(r0+1))]

	top := common.Lerp(h00, h10, common.Clamp(tu, 0, 1))
	bottom := common.Lerp(h01, h11, common.Clamp(tu, 0, 1))
	return common.Lerp(top, bottom, common.Clamp(tv, 0, 1))
}

// NormalAt returns the upward surface normal at (x, z) from central height
// differences.
func (g *Grid) NormalAt(x, z float64) common.Vec3 {
	if g == nil {
		return common.Vec3{Y: 1}
	}
	eps := g.cellSize / 2
	dhdx := (g.HeightAt(x+eps, z) - g.HeightAt(x-eps, z)) / (2 * eps)
	dhdz := (g.HeightAt(x, z+eps) - g.HeightAt(x, z-eps)) / (2 * eps)
	return common.Vec3{X: -dhdx, Y: 1, Z: -dhdz}.Normalized()
}

// FindNearest returns the closest walkable surface point to p within
// extents (XZ search half-width from extents.X/Z, vertical tolerance from
// extents.Y measured from p.Y itself, so callers query at the height they
// expect the surface near; a non-positive vertical extent means unlimited).
func (g *Grid) FindNearest(p common.Vec3, extents common.Vec3) (common.Vec3, bool) {
	if g == nil {
		return common.Vec3{}, false
	}
	searchX := extents.X
	searchZ := extents.Z
	if searchX <= 0 {
		searchX = g.cellSize
	}
	if searchZ <= 0 {
		searchZ = g.cellSize
	}
	col, row, _ := g.locate(p.X, p.Z)
	reachCols := int(math.Ceil(searchX/g.cellSize)) + 1
	reachRows := int(math.Ceil(searchZ/g.cellSize)) + 1

	best := common.Vec3{}
	bestDist := math.MaxFloat64
	found := false
	for dr := -reachRows; dr <= reachRows; dr++ {
		for dc := -reachCols; dc <= reachCols; dc++ {
			c := col + dc
			r := row + dr
			if !g.isWalkable(c, r) {
				continue
			}
			candidate := g.worldPos(c, r)
			if math.Abs(candidate.X-p.X) > searchX || math.Abs(candidate.Z-p.Z) > searchZ {
				continue
			}
			if extents.Y > 0 && math.Abs(candidate.Y-p.Y) > extents.Y {
				continue
			}
			d := candidate.FlatDistance(p)
			if d < bestDist {
				bestDist = d
				best = candidate
				found = true
			}
		}
	}
	return best, found
}

// FindPath returns an ordered waypoint sequence from start to goal, both
// snapped to the mesh within extents. The final waypoint is the snapped
// goal position.
func (g *Grid) FindPath(start, goal, extents common.Vec3) ([]common.Vec3, bool) {
	if g == nil {
		return nil, false
	}
	snappedStart, ok := g.FindNearest(start, extents)
	if !ok {
		return nil, false
	}
	snappedGoal, ok := g.FindNearest(goal, extents)
	if !ok {
		return nil, false
	}
	startCol, startRow, _ := g.locate(snappedStart.X, snappedStart.Z)
	goalCol, goalRow, _ := g.locate(snappedGoal.X, snappedGoal.Z)

	nodes, ok := g.astar(gridPoint{col: startCol, row: startRow}, gridPoint{col: goalCol, row: goalRow})
	if !ok || len(nodes) == 0 {
		return nil, false
	}

	raw := make([]common.Vec3, 0, len(nodes))
	for _, n := range nodes {
		raw = append(raw, g.worldPos(n.col, n.row))
	}
	path := g.smooth(raw)
	if len(path) == 0 {
		return nil, false
	}
	// land exactly on the requested goal when its cell is walkable,
	// otherwise settle for the snapped cell center
	finalWp := snappedGoal
	if col, row, inside := g.locate(goal.X, goal.Z); inside && g.isWalkable(col, row) {
		finalWp = common.Vec3{X: goal.X, Y: g.HeightAt(goal.X, goal.Z), Z: goal.Z}
	}
	last := path[len(path)-1]
	if last.FlatDistance(finalWp) > g.cellSize/2 {
		path = append(path, finalWp)
	} else {
		path[len(path)-1] = finalWp
	}
	return path, true
}

// smooth removes intermediate waypoints reachable in a straight walkable
// line (string pulling on the grid).
func (g *Grid) smooth(path []common.Vec3) []common.Vec3 {
	if len(path) <= 2 {
		return path
	}
	out := make([]common.Vec3, 0, len(path))
	out = append(out, path[0])
	anchor := 0
	for i := 1; i < len(path); i++ {
		if i == len(path)-1 || !g.lineWalkable(path[anchor], path[i+1]) {
			out = append(out, path[i])
			anchor = i
		}
	}
	return out
}

// lineWalkable samples the segment from a to b and reports whether every
// sample lies on a walkable cell without exceeding the climb limit.
func (g *Grid) lineWalkable(a, b common.Vec3) bool {
	dist := a.FlatDistance(b)
	if dist == 0 {
		return true
	}
	steps := int(math.Ceil(dist/(g.cellSize/4))) + 1
	prevH := g.HeightAt(a.X, a.Z)
	for i := 0; i <= steps; i++ {
		t := float64(i) / float64(steps)
		x := common.Lerp(a.X, b.X, t)
		z := common.Lerp(a.Z, b.Z, t)
		col, row, inside := g.locate(x, z)
		if !inside || !g.isWalkable(col, row) {
			return false
		}
		h := g.HeightAt(x, z)
		if math.Abs(h-prevH) > g.maxClimb {
			return false
		}
		prevH = h
	}
	return true
}

// canTraverseDiagonal forbids cutting corners past unwalkable cells.
func (g *Grid) canTraverseDiagonal(current gridPoint, delta gridNeighbor) bool {
	if !delta.diagonal {
		return true
	}
	if !g.isWalkable(current.col+delta.col, current.row) {
		return false
	}
	return g.isWalkable(current.col, current.row+delta.row)
}

func (g *Grid) climbable(fromIdx, toIdx int) bool {
	return math.Abs(g.heights[toIdx]-g.heights[fromIdx]) <= g.maxClimb
}
