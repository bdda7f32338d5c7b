package ledger

import (
	"sort"
	"strings"
	"time"

	"github.com/forgecrew/foreman/internal/storage/dirstore"
)

const (
	taskDocName       = "task.md"
	transitionLogName = "transitions.jsonl"
)

// FileStore persists tasks as directories: task.md (TOML front matter + body)
// plus transitions.jsonl (append-only audit log) and bundle files.
type FileStore struct {
	ds *dirstore.DirStore
}

// NewFileStore creates a FileStore rooted at baseDir.
func NewFileStore(baseDir string) *FileStore {
	return &FileStore{ds: dirstore.NewDirStore(baseDir, "task")}
}

// taskMeta is the front-matter view of a Task.
type taskMeta struct {
	ID         string   `toml:"id"`
	ParentID   string   `toml:"parent_id,omitempty"`
	Owner      string   `toml:"owner"`
	Status     Status   `toml:"status"`
	DependsOn  []string `toml:"depends_on,omitempty"`
	ContextRef string   `toml:"context_ref,omitempty"`
	ResultRef  string   `toml:"result_ref,omitempty"`
	Retries    int      `toml:"retries"`
	MaxRetries int      `toml:"max_retries"`
	CreatedAt  string   `toml:"created_at"`
	UpdatedAt  string   `toml:"updated_at"`
}

const timeLayout = "2006-01-02T15:04:05.999999999Z07:00"

func parseTime(s string) (time.Time, error) {
	return time.Parse(timeLayout, s)
}

func metaFromTask(t *Task) taskMeta {
	return taskMeta{
		ID:         t.ID,
		ParentID:   t.ParentID,
		Owner:      t.Owner,
		Status:     t.Status,
		DependsOn:  t.DependsOn,
		ContextRef: t.ContextRef,
		ResultRef:  t.ResultRef,
		Retries:    t.Retries,
		MaxRetries: t.MaxRetries,
		CreatedAt:  t.CreatedAt.UTC().Format(timeLayout),
		UpdatedAt:  t.UpdatedAt.UTC().Format(timeLayout),
	}
}

const logHeading = "## Log"

// renderBody serializes objective + running log into the document body.
func renderBody(t *Task) string {
	var b strings.Builder
	b.WriteString(strings.TrimSpace(t.Objective))
	b.WriteString("\n")
	if len(t.Log) > 0 {
		b.WriteString("\n" + logHeading + "\n\n")
		for _, entry := range t.Log {
			b.WriteString("- " + entry + "\n")
		}
	}
	return b.String()
}

// parseBody splits a document body back into objective and running log.
func parseBody(body string) (objective string, log []string) {
	objective, rest, found := strings.Cut(body, "\n"+logHeading+"\n")
	objective = strings.TrimSpace(objective)
	if !found {
		return objective, nil
	}
	for _, line := range strings.Split(rest, "\n") {
		line = strings.TrimSpace(line)
		if entry, ok := strings.CutPrefix(line, "- "); ok {
			log = append(log, entry)
		}
	}
	return objective, log
}

// write persists the full task record. Caller must hold the store lock.
func (fs *FileStore) write(t *Task) error {
	if err := fs.ds.EnsureDir(t.ID); err != nil {
		return err
	}
	return fs.ds.WriteDoc(t.ID, taskDocName, metaFromTask(t), renderBody(t))
}

// read loads a task record by id. Caller must hold a read lock.
func (fs *FileStore) read(id string) (*Task, error) {
	var meta taskMeta
	body, err := fs.ds.ReadDoc(id, taskDocName, &meta)
	if err != nil {
		return nil, err
	}

	t := &Task{
		ID:         meta.ID,
		ParentID:   meta.ParentID,
		Owner:      meta.Owner,
		Status:     meta.Status,
		DependsOn:  meta.DependsOn,
		ContextRef: meta.ContextRef,
		ResultRef:  meta.ResultRef,
		Retries:    meta.Retries,
		MaxRetries: meta.MaxRetries,
	}
	t.CreatedAt, _ = parseTime(meta.CreatedAt)
	t.UpdatedAt, _ = parseTime(meta.UpdatedAt)
	t.Objective, t.Log = parseBody(body)
	return t, nil
}

// list returns tasks matching the filter in creation (lexical id) order.
// Caller must hold a read lock.
func (fs *FileStore) list(filter ListFilter) ([]*Task, error) {
	dirs, err := fs.ds.ListDirs()
	if err != nil {
		return nil, err
	}
	sort.Strings(dirs)

	var result []*Task
	for _, id := range dirs {
		t, err := fs.read(id)
		if err != nil {
			continue // skip corrupted records
		}
		if filter.Status != "" && t.Status != filter.Status {
			continue
		}
		if filter.ParentID != "" && t.ParentID != filter.ParentID {
			continue
		}
		if filter.RootsOnly && t.ParentID != "" {
			continue
		}
		if filter.Owner != "" && t.Owner != filter.Owner {
			continue
		}
		result = append(result, t)
	}
	return result, nil
}

// appendTransition records a state change in the audit log.
// Caller must hold the store lock.
func (fs *FileStore) appendTransition(id string, tr Transition) error {
	return fs.ds.AppendJSONL(id, transitionLogName, tr)
}

// transitionsFor loads the full transition history of a task.
func (fs *FileStore) transitionsFor(id string) ([]Transition, error) {
	return dirstore.LoadJSONL[Transition](fs.ds, id, transitionLogName)
}

// WriteBundle persists a named JSON bundle (context.json, result.json) in the
// task directory. Bundles are written once and never mutated.
func (fs *FileStore) WriteBundle(taskID, name string, v any) error {
	fs.ds.Lock()
	defer fs.ds.Unlock()
	if err := fs.ds.EnsureDir(taskID); err != nil {
		return err
	}
	return fs.ds.WriteJSON(taskID, name, v)
}

// ReadBundle loads a named JSON bundle from the task directory.
func (fs *FileStore) ReadBundle(taskID, name string, out any) error {
	fs.ds.RLock()
	defer fs.ds.RUnlock()
	return fs.ds.ReadJSON(taskID, name, out)
}
