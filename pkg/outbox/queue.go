package outbox

import (
	"errors"
	"fmt"
	"sort"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// ErrTaskNotFound is returned when a tag has no stored task.
var ErrTaskNotFound = errors.New("task not found")

const taskKeyPrefix = "t:"

// Queue is the durable task store, backed by LevelDB so captured mutations
// survive restarts.
type Queue struct {
	db *leveldb.DB
}

// Open opens (or creates) the queue database at path.
func Open(path string) (*Queue, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("open outbox db: %w", err)
	}

	q := &Queue{db: db}
	n, err := q.Len()
	if err != nil {
		db.Close()
		return nil, err
	}
	outboxPending.Set(float64(n))
	return q, nil
}

// Close closes the underlying database.
func (q *Queue) Close() error {
	return q.db.Close()
}

// Put stores task under its tag, replacing any previous task with the same
// tag.
func (q *Queue) Put(task *Task) error {
	if task.Tag == "" {
		return fmt.Errorf("task has no tag")
	}
	data, err := encodeTask(task)
	if err != nil {
		return fmt.Errorf("encode task: %w", err)
	}
	if err := q.db.Put([]byte(taskKeyPrefix+task.Tag), data, nil); err != nil {
		return fmt.Errorf("store task: %w", err)
	}
	q.updatePending()
	return nil
}

// Get returns the task stored under tag, or ErrTaskNotFound.
func (q *Queue) Get(tag string) (*Task, error) {
	b, err := q.db.Get([]byte(taskKeyPrefix+tag), nil)
	if err == leveldb.ErrNotFound {
		return nil, ErrTaskNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load task: %w", err)
	}
	task, err := decodeTask(b)
	if err != nil {
		return nil, fmt.Errorf("decode task: %w", err)
	}
	return task, nil
}

// Delete removes the task stored under tag. Deleting a missing tag is not
// an error.
func (q *Queue) Delete(tag string) error {
	if err := q.db.Delete([]byte(taskKeyPrefix+tag), nil); err != nil {
		return fmt.Errorf("delete task: %w", err)
	}
	q.updatePending()
	return nil
}

// List returns the tasks whose tag starts with prefix, oldest first. An
// empty prefix returns everything. Undecodable records are skipped.
func (q *Queue) List(prefix string) ([]Task, error) {
	it := q.db.NewIterator(util.BytesPrefix([]byte(taskKeyPrefix+prefix)), nil)
	defer it.Release()

	var tasks []Task
	for it.Next() {
		task, err := decodeTask(it.Value())
		if err != nil {
			continue
		}
		tasks = append(tasks, *task)
	}
	if err := it.Error(); err != nil {
		return nil, fmt.Errorf("iterate tasks: %w", err)
	}

	sort.Slice(tasks, func(i, j int) bool {
		return tasks[i].CreatedAt.Before(tasks[j].CreatedAt)
	})
	return tasks, nil
}

// Len returns the number of stored tasks.
func (q *Queue) Len() (int, error) {
	it := q.db.NewIterator(util.BytesPrefix([]byte(taskKeyPrefix)), nil)
	defer it.Release()

	n := 0
	for it.Next() {
		n++
	}
	if err := it.Error(); err != nil {
		return 0, fmt.Errorf("count tasks: %w", err)
	}
	return n, nil
}

func (q *Queue) updatePending() {
	if n, err := q.Len(); err == nil {
		outboxPending.Set(float64(n))
	}
}
