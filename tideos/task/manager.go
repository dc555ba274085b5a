package task

// BigStride is divided by a task's priority to get its pass.
const BigStride = 65536

// DefaultPriority is the priority every new task starts with.
const DefaultPriority = 16

// Manager is a ready set. Fetch returns nil when the set is empty.
type Manager interface {
	Add(t *TCB)
	Fetch() *TCB
	Len() int
}

// FIFO runs tasks in the order they became ready.
type FIFO struct {
	queue []*TCB
}

func NewFIFO() *FIFO { return &FIFO{} }

func (m *FIFO) Add(t *TCB) { m.queue = append(m.queue, t) }

func (m *FIFO) Fetch() *TCB {
	if len(m.queue) == 0 {
		return nil
	}
	t := m.queue[0]
	m.queue[0] = nil
	m.queue = m.queue[1:]
	return t
}

func (m *FIFO) Len() int { return len(m.queue) }

// Stride runs the ready task with the smallest stride, first in queue order
// on ties, and charges it one pass as it is picked. Strides are compared as
// plain integers.
type Stride struct {
	queue []*TCB
}

func NewStride() *Stride { return &Stride{} }

func (m *Stride) Add(t *TCB) { m.queue = append(m.queue, t) }

func (m *Stride) Fetch() *TCB {
	if len(m.queue) == 0 {
		return nil
	}
	best := 0
	bestStride := m.queue[0].Stride()
	for i := 1; i < len(m.queue); i++ {
		if s := m.queue[i].Stride(); s < bestStride {
			best, bestStride = i, s
		}
	}
	t := m.queue[best]
	t.inner.With(func(in *Inner) { in.Stride += in.Pass })
	m.queue = append(m.queue[:best], m.queue[best+1:]...)
	return t
}

func (m *Stride) Len() int { return len(m.queue) }
