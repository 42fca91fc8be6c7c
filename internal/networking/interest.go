package networking

import (
	"math"
	"sort"
	"sync"

	"github.com/kawacukennedy/3d-racing-game-sub001/internal/physics"
)

// DefaultCellSize is the edge length of an interest cell in world units.
const DefaultCellSize = 50.0

// Cell addresses one square of the ground plane.
type Cell struct {
	X int `json:"x"`
	Z int `json:"z"`
}

// InterestGrid buckets entities into fixed-size ground cells so an observer only
// processes entities in the 3x3 block of cells around its own.
type InterestGrid struct {
	mu sync.RWMutex

	cellSize    float64
	entityCells map[string]Cell
	cells       map[Cell]map[string]struct{}
}

// NewInterestGrid constructs a grid with the supplied cell size.
func NewInterestGrid(cellSize float64) *InterestGrid {
	//1.- Clamp invalid sizes to the default so callers always receive a usable grid.
	if cellSize <= 0 || math.IsNaN(cellSize) || math.IsInf(cellSize, 0) {
		cellSize = DefaultCellSize
	}
	return &InterestGrid{
		cellSize:    cellSize,
		entityCells: make(map[string]Cell),
		cells:       make(map[Cell]map[string]struct{}),
	}
}

// CellOf projects a world position onto the ground grid using floor division on x and z.
func (g *InterestGrid) CellOf(position physics.Vec3) Cell {
	size := DefaultCellSize
	if g != nil {
		size = g.cellSize
	}
	return Cell{
		X: int(math.Floor(position.X / size)),
		Z: int(math.Floor(position.Z / size)),
	}
}

// Neighborhood returns the 3x3 block of cells centred on cell.
func Neighborhood(cell Cell) []Cell {
	out := make([]Cell, 0, 9)
	for dx := -1; dx <= 1; dx++ {
		for dz := -1; dz <= 1; dz++ {
			out = append(out, Cell{X: cell.X + dx, Z: cell.Z + dz})
		}
	}
	return out
}

// Adjacent reports whether two cells are within one step of each other on both axes.
func Adjacent(a, b Cell) bool {
	return abs(a.X-b.X) <= 1 && abs(a.Z-b.Z) <= 1
}

// Interested reports whether an observer at observer should process an entity at entity.
func (g *InterestGrid) Interested(observer, entity physics.Vec3) bool {
	return Adjacent(g.CellOf(observer), g.CellOf(entity))
}

// Update registers or moves an entity and returns its cell.
func (g *InterestGrid) Update(entityID string, position physics.Vec3) Cell {
	cell := g.CellOf(position)
	if g == nil || entityID == "" {
		return cell
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if previous, ok := g.entityCells[entityID]; ok {
		if previous == cell {
			return cell
		}
		g.unlinkLocked(entityID, previous)
	}
	bucket, ok := g.cells[cell]
	if !ok {
		bucket = make(map[string]struct{})
		g.cells[cell] = bucket
	}
	bucket[entityID] = struct{}{}
	g.entityCells[entityID] = cell
	return cell
}

// Remove evicts the entity from the grid.
func (g *InterestGrid) Remove(entityID string) {
	if g == nil || entityID == "" {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if cell, ok := g.entityCells[entityID]; ok {
		g.unlinkLocked(entityID, cell)
		delete(g.entityCells, entityID)
	}
}

// EntitiesNear returns the sorted ids of entities inside the neighbourhood of position.
func (g *InterestGrid) EntitiesNear(position physics.Vec3) []string {
	if g == nil {
		return nil
	}
	center := g.CellOf(position)
	g.mu.RLock()
	defer g.mu.RUnlock()
	candidates := make(map[string]struct{})
	for _, cell := range Neighborhood(center) {
		for id := range g.cells[cell] {
			candidates[id] = struct{}{}
		}
	}
	return sortIdentifiers(candidates)
}

// Len reports how many entities are tracked.
func (g *InterestGrid) Len() int {
	if g == nil {
		return 0
	}
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.entityCells)
}

func (g *InterestGrid) unlinkLocked(entityID string, cell Cell) {
	if bucket, ok := g.cells[cell]; ok {
		delete(bucket, entityID)
		if len(bucket) == 0 {
			delete(g.cells, cell)
		}
	}
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

func sortIdentifiers(values map[string]struct{}) []string {
	if len(values) == 0 {
		return nil
	}
	//1.- Materialise the identifiers to enforce deterministic ordering.
	result := make([]string, 0, len(values))
	for id := range values {
		result = append(result, id)
	}
	sort.Strings(result)
	return result
}
