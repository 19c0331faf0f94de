package watcher

// Table maps watched file paths to watch handles. fsnotify does not expose
// kernel descriptors, so the table assigns its own handle per path.
//
// The table is append-only: entries for deleted or renamed files are never
// removed, so their handles stay dangling until the daemon restarts. This is
// a known limitation, accepted to keep refresh passes cheap.
//
// Not safe for concurrent use; the watcher loop is the only writer and
// reader.
type Table struct {
	byPath   map[string]int
	byHandle map[int]string
	next     int
}

func NewTable() *Table {
	return &Table{
		byPath:   make(map[string]int),
		byHandle: make(map[int]string),
		next:     1,
	}
}

// Contains reports whether the path is already registered.
func (t *Table) Contains(path string) bool {
	_, ok := t.byPath[path]
	return ok
}

// Add registers a path and returns its handle. Adding a registered path
// returns the existing handle.
func (t *Table) Add(path string) int {
	if wd, ok := t.byPath[path]; ok {
		return wd
	}
	wd := t.next
	t.next++
	t.byPath[path] = wd
	t.byHandle[wd] = path
	return wd
}

// Path resolves a handle back to its file path.
func (t *Table) Path(handle int) (string, bool) {
	p, ok := t.byHandle[handle]
	return p, ok
}

// Handle resolves a path to its handle.
func (t *Table) Handle(path string) (int, bool) {
	wd, ok := t.byPath[path]
	return wd, ok
}

// Len returns the number of registered paths.
func (t *Table) Len() int {
	return len(t.byPath)
}
