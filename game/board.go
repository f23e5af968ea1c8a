package game

import (
	"errors"
	"fmt"
	"sort"
)

// BoardSize is the width and height of every board.
const BoardSize = 10

const emptyCell = -1

// FleetLengths is the fleet every player places: one carrier, one battleship,
// two cruisers and one destroyer.
var FleetLengths = []int{5, 4, 3, 3, 2}

type Coord struct {
	X int `json:"x" msgpack:"x"`
	Y int `json:"y" msgpack:"y"`
}

func (c Coord) InBounds() bool {
	return c.X >= 0 && c.X < BoardSize && c.Y >= 0 && c.Y < BoardSize
}

// Ship is a placement as submitted by a player.
type Ship struct {
	Length int     `json:"length"`
	Cells  []Coord `json:"cells"`
}

// ShipState is a placed ship together with the hits it has taken.
type ShipState struct {
	Length int     `json:"length" msgpack:"length"`
	Cells  []Coord `json:"cells" msgpack:"cells"`
	Hits   []Coord `json:"hits" msgpack:"hits"`
	Sunk   bool    `json:"sunk" msgpack:"sunk"`
}

// Board is one player's private layout. Grid holds the index of the ship
// occupying each cell, or -1, addressed as Grid[x][y].
type Board struct {
	Grid  [BoardSize][BoardSize]int `json:"grid" msgpack:"grid"`
	Ships []ShipState               `json:"ships" msgpack:"ships"`
}

// SunkShip describes a ship that was sunk by a shot.
type SunkShip struct {
	Index  int     `json:"index"`
	Length int     `json:"length"`
	Cells  []Coord `json:"cells"`
}

type ShotResult struct {
	Hit  bool      `json:"hit"`
	Sunk *SunkShip `json:"sunk,omitempty"`
}

var (
	ErrFleetSize    = errors.New("fleet must contain exactly 5 ships")
	ErrFleetLengths = errors.New("fleet lengths must be 5, 4, 3, 3 and 2")
)

// CheckPlacement reports why a fleet cannot be placed, or nil when it can.
func CheckPlacement(ships []Ship) error {
	if len(ships) != len(FleetLengths) {
		return ErrFleetSize
	}

	declared := make([]int, 0, len(ships))
	for _, s := range ships {
		declared = append(declared, s.Length)
	}
	sort.Sort(sort.Reverse(sort.IntSlice(declared)))
	for i, l := range declared {
		if l != FleetLengths[i] {
			return ErrFleetLengths
		}
	}

	var grid [BoardSize][BoardSize]int
	clearGrid(&grid)

	for i, s := range ships {
		if len(s.Cells) != s.Length {
			return fmt.Errorf("ship %d declares length %d but has %d cells", i, s.Length, len(s.Cells))
		}
		for _, c := range s.Cells {
			if !c.InBounds() {
				return fmt.Errorf("ship %d has cell (%d,%d) outside the board", i, c.X, c.Y)
			}
		}
		if !isStraightLine(s.Cells) {
			return fmt.Errorf("ship %d is not a single straight line", i)
		}
		for _, c := range s.Cells {
			if grid[c.X][c.Y] != emptyCell {
				return fmt.Errorf("ship %d overlaps ship %d at (%d,%d)", i, grid[c.X][c.Y], c.X, c.Y)
			}
			grid[c.X][c.Y] = i
		}
	}

	for i, s := range ships {
		for _, c := range s.Cells {
			for dx := -1; dx <= 1; dx++ {
				for dy := -1; dy <= 1; dy++ {
					n := Coord{X: c.X + dx, Y: c.Y + dy}
					if !n.InBounds() {
						continue
					}
					if other := grid[n.X][n.Y]; other != emptyCell && other != i {
						return fmt.Errorf("ship %d touches ship %d at (%d,%d)", i, other, n.X, n.Y)
					}
				}
			}
		}
	}
	return nil
}

// ValidatePlacement reports whether ships form a legal fleet.
func ValidatePlacement(ships []Ship) bool {
	return CheckPlacement(ships) == nil
}

// isStraightLine holds when the cells share a row or a column and, once
// sorted along the other axis, have no gaps or repeats.
func isStraightLine(cells []Coord) bool {
	if len(cells) == 0 {
		return false
	}
	sameX, sameY := true, true
	for _, c := range cells[1:] {
		if c.X != cells[0].X {
			sameX = false
		}
		if c.Y != cells[0].Y {
			sameY = false
		}
	}

	var axis []int
	switch {
	case sameY:
		for _, c := range cells {
			axis = append(axis, c.X)
		}
	case sameX:
		for _, c := range cells {
			axis = append(axis, c.Y)
		}
	default:
		return false
	}

	sort.Ints(axis)
	for i := 1; i < len(axis); i++ {
		if axis[i] != axis[i-1]+1 {
			return false
		}
	}
	return true
}

// BuildBoard stamps ships into a fresh board. The fleet is expected to have
// passed CheckPlacement.
func BuildBoard(ships []Ship) *Board {
	b := &Board{Ships: make([]ShipState, 0, len(ships))}
	clearGrid(&b.Grid)
	for i, s := range ships {
		cells := make([]Coord, len(s.Cells))
		copy(cells, s.Cells)
		b.Ships = append(b.Ships, ShipState{
			Length: s.Length,
			Cells:  cells,
			Hits:   []Coord{},
		})
		for _, c := range cells {
			b.Grid[c.X][c.Y] = i
		}
	}
	return b
}

// ResolveShot applies a shot at (x, y). Out-of-range shots are misses and
// leave the board untouched. A repeated hit on the same cell is reported as a
// hit but not counted twice, and a ship is reported sunk only by the shot
// that sinks it.
func ResolveShot(b *Board, x, y int) ShotResult {
	target := Coord{X: x, Y: y}
	if !target.InBounds() {
		return ShotResult{}
	}
	idx := b.Grid[x][y]
	if idx == emptyCell || idx >= len(b.Ships) {
		return ShotResult{}
	}

	ship := &b.Ships[idx]
	for _, h := range ship.Hits {
		if h == target {
			return ShotResult{Hit: true}
		}
	}
	ship.Hits = append(ship.Hits, target)

	res := ShotResult{Hit: true}
	if !ship.Sunk && len(ship.Hits) == ship.Length {
		ship.Sunk = true
		cells := make([]Coord, len(ship.Cells))
		copy(cells, ship.Cells)
		res.Sunk = &SunkShip{Index: idx, Length: ship.Length, Cells: cells}
	}
	return res
}

// AllSunk reports whether every ship on the board has been sunk.
func AllSunk(b *Board) bool {
	for _, s := range b.Ships {
		if !s.Sunk {
			return false
		}
	}
	return true
}

// SunkCount returns how many of the board's ships have been sunk.
func (b *Board) SunkCount() int {
	if b == nil {
		return 0
	}
	n := 0
	for _, s := range b.Ships {
		if s.Sunk {
			n++
		}
	}
	return n
}

func clearGrid(grid *[BoardSize][BoardSize]int) {
	for x := range grid {
		for y := range grid[x] {
			grid[x][y] = emptyCell
		}
	}
}
