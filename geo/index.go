package geo

import (
	"sync"

	"github.com/dhconnelly/rtreego"
)

// pointTolerance is the half-width of the box stored for each point.
const pointTolerance = 0.0001

// spatialPoint wraps a point to satisfy the rtreego.Spatial interface
type spatialPoint struct {
	id    string
	coord Coordinate
	rect  rtreego.Rect
}

func (p *spatialPoint) Bounds() rtreego.Rect {
	return p.rect
}

func newSpatialPoint(id string, c Coordinate) *spatialPoint {
	return &spatialPoint{
		id:    id,
		coord: c,
		rect:  rtreego.Point{c.Lat, c.Lng}.ToRect(pointTolerance),
	}
}

// Index is an R-tree of identified points. It is safe for concurrent use.
type Index struct {
	lock   sync.Mutex
	tree   *rtreego.Rtree
	points map[string]*spatialPoint
}

// NewIndex initializes the R-tree for spatial indexing
func NewIndex() *Index {
	return &Index{
		tree:   rtreego.NewTree(2, 25, 50),
		points: make(map[string]*spatialPoint),
	}
}

// Upsert places id at c, replacing any previous position.
func (idx *Index) Upsert(id string, c Coordinate) {
	idx.lock.Lock()
	defer idx.lock.Unlock()
	if old, ok := idx.points[id]; ok {
		idx.tree.Delete(old)
	}
	p := newSpatialPoint(id, c)
	idx.tree.Insert(p)
	idx.points[id] = p
}

// Remove drops id from the index and reports whether it was present.
func (idx *Index) Remove(id string) bool {
	idx.lock.Lock()
	defer idx.lock.Unlock()
	p, ok := idx.points[id]
	if !ok {
		return false
	}
	idx.tree.Delete(p)
	delete(idx.points, id)
	return true
}

// Within returns the ids whose point lies within radius degrees of center.
func (idx *Index) Within(center Coordinate, radius float64) []string {
	idx.lock.Lock()
	defer idx.lock.Unlock()
	if radius <= 0 {
		return nil
	}
	box := rtreego.Point{center.Lat, center.Lng}.ToRect(radius)
	var ids []string
	for _, item := range idx.tree.SearchIntersect(box) {
		p := item.(*spatialPoint)
		if Distance(p.coord, center) <= radius {
			ids = append(ids, p.id)
		}
	}
	return ids
}

// Len returns the number of indexed points.
func (idx *Index) Len() int {
	idx.lock.Lock()
	defer idx.lock.Unlock()
	return len(idx.points)
}
