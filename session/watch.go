package session

import (
	"strconv"
	"sync"
	"sync/atomic"
)

// Watch is the tuple spec'd in spec.md 3: watch id, source text, last
// value, last error, last evaluated frame id. Independent of stop
// context; re-evaluated on demand or automatically on every stop.
type Watch struct {
	ID            string
	Expression    string
	LastValue     string
	LastError     string
	LastFrameID   int
	HasValue      bool
}

type watchList struct {
	mu      sync.Mutex
	byID    map[string]*Watch
	order   []string
	nextID  atomic.Int64
}

func newWatchList() *watchList {
	return &watchList{byID: make(map[string]*Watch)}
}

func (w *watchList) Add(expr string) *Watch {
	w.mu.Lock()
	defer w.mu.Unlock()

	id := "w" + strconv.FormatInt(w.nextID.Add(1), 10)
	watch := &Watch{ID: id, Expression: expr}
	w.byID[id] = watch
	w.order = append(w.order, id)
	return watch
}

func (w *watchList) Remove(id string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, ok := w.byID[id]; !ok {
		return false
	}
	delete(w.byID, id)
	for i, wid := range w.order {
		if wid == id {
			w.order = append(w.order[:i], w.order[i+1:]...)
			break
		}
	}
	return true
}

func (w *watchList) List() []*Watch {
	w.mu.Lock()
	defer w.mu.Unlock()

	out := make([]*Watch, 0, len(w.order))
	for _, id := range w.order {
		cp := *w.byID[id]
		out = append(out, &cp)
	}
	return out
}

func (w *watchList) update(id, value, errMsg string, frameID int) {
	w.mu.Lock()
	defer w.mu.Unlock()

	wv, ok := w.byID[id]
	if !ok {
		return
	}
	wv.LastValue = value
	wv.LastError = errMsg
	wv.LastFrameID = frameID
	wv.HasValue = errMsg == ""
}
