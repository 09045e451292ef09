package calibration

import (
	"sort"

	"github.com/banshee-data/expression.report/internal/expression/features"
)

// labelMap is an insertion-ordered map from label to sample buffer that
// refuses to grow past limit entries.
type labelMap struct {
	limit   int
	order   []string
	buffers map[string][]features.Vector
}

func newLabelMap(limit int) *labelMap {
	return &labelMap{
		limit:   limit,
		buffers: make(map[string][]features.Vector),
	}
}

func (m *labelMap) len() int { return len(m.order) }

func (m *labelMap) has(label string) bool {
	_, ok := m.buffers[label]
	return ok
}

// canInsert reports whether label exists or there is room for it.
func (m *labelMap) canInsert(label string) bool {
	return m.has(label) || len(m.order) < m.limit
}

func (m *labelMap) get(label string) []features.Vector {
	return m.buffers[label]
}

// put stores buf under label, inserting the label at the end of the order
// when new. It returns ErrLabelLimit when the map is full.
func (m *labelMap) put(label string, buf []features.Vector) error {
	if !m.has(label) {
		if len(m.order) >= m.limit {
			return ErrLabelLimit
		}
		m.order = append(m.order, label)
	}
	m.buffers[label] = buf
	return nil
}

func (m *labelMap) remove(label string) bool {
	if !m.has(label) {
		return false
	}
	delete(m.buffers, label)
	for i, l := range m.order {
		if l == label {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	return true
}

// inserted returns labels in insertion order.
func (m *labelMap) inserted() []string {
	return append([]string(nil), m.order...)
}

func (m *labelMap) sorted() []string {
	out := m.inserted()
	sort.Strings(out)
	return out
}
