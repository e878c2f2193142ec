package outbox

import (
	"net/http"
	"strings"
	"testing"
	"time"
)

func openTestQueue(t *testing.T) *Queue {
	t.Helper()
	q, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { q.Close() })
	return q
}

func TestReplayTag(t *testing.T) {
	tag := ReplayTag("POST", "/api/orders", []byte(`{"pizza":"margherita"}`))
	if !strings.HasPrefix(tag, "replay:POST:/api/orders:") {
		t.Errorf("tag = %q, want replay:POST:/api/orders: prefix", tag)
	}

	// Same action, same tag.
	if again := ReplayTag("POST", "/api/orders", []byte(`{"pizza":"margherita"}`)); again != tag {
		t.Errorf("tag not deterministic: %q vs %q", tag, again)
	}

	// A different body is a different action.
	if other := ReplayTag("POST", "/api/orders", []byte(`{"pizza":"funghi"}`)); other == tag {
		t.Error("different bodies produced the same tag")
	}
}

func TestQueue_PutGetDelete(t *testing.T) {
	q := openTestQueue(t)

	task := &Task{
		Tag:       "replay:POST:/api/orders:00000001",
		Method:    http.MethodPost,
		Path:      "/api/orders",
		Query:     "source=app",
		Header:    http.Header{"Content-Type": []string{"application/json"}},
		Body:      []byte(`{"pizza":"margherita"}`),
		CreatedAt: time.Now().Truncate(time.Millisecond),
	}
	if err := q.Put(task); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	got, err := q.Get(task.Tag)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Method != task.Method || got.Path != task.Path || got.Query != task.Query {
		t.Errorf("request line mismatch: %+v", got)
	}
	if string(got.Body) != string(task.Body) {
		t.Errorf("Body = %q, want %q", got.Body, task.Body)
	}
	if got.Header.Get("Content-Type") != "application/json" {
		t.Errorf("Content-Type = %q", got.Header.Get("Content-Type"))
	}
	if !got.CreatedAt.Equal(task.CreatedAt) {
		t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, task.CreatedAt)
	}

	if err := q.Delete(task.Tag); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := q.Get(task.Tag); err != ErrTaskNotFound {
		t.Errorf("expected ErrTaskNotFound after Delete, got %v", err)
	}

	// Deleting a missing tag is not an error.
	if err := q.Delete(task.Tag); err != nil {
		t.Errorf("second Delete failed: %v", err)
	}
}

func TestQueue_PutRequiresTag(t *testing.T) {
	q := openTestQueue(t)
	if err := q.Put(&Task{Method: "POST"}); err == nil {
		t.Error("Put should reject tasks without a tag")
	}
}

func TestQueue_SurvivesReopen(t *testing.T) {
	dir := t.TempDir()

	q, err := Open(dir)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	task := &Task{
		Tag:       "replay:POST:/api/orders:deadbeef",
		Method:    http.MethodPost,
		Path:      "/api/orders",
		Body:      []byte("{}"),
		CreatedAt: time.Now(),
	}
	if err := q.Put(task); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if err := q.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	// Captured work must survive a restart.
	q, err = Open(dir)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer q.Close()

	got, err := q.Get(task.Tag)
	if err != nil {
		t.Fatalf("Get after reopen failed: %v", err)
	}
	if string(got.Body) != "{}" {
		t.Errorf("Body after reopen = %q", got.Body)
	}

	n, err := q.Len()
	if err != nil {
		t.Fatalf("Len failed: %v", err)
	}
	if n != 1 {
		t.Errorf("Len after reopen = %d, want 1", n)
	}
}

func TestQueue_ReplaceSameTag(t *testing.T) {
	q := openTestQueue(t)

	first := &Task{Tag: "replay:POST:/api/orders:cafe", Body: []byte("first"), Attempts: 3, CreatedAt: time.Now()}
	if err := q.Put(first); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	second := &Task{Tag: "replay:POST:/api/orders:cafe", Body: []byte("second"), CreatedAt: time.Now()}
	if err := q.Put(second); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	n, err := q.Len()
	if err != nil {
		t.Fatalf("Len failed: %v", err)
	}
	if n != 1 {
		t.Errorf("Len = %d, want 1: same tag must replace", n)
	}

	got, err := q.Get("replay:POST:/api/orders:cafe")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if string(got.Body) != "second" {
		t.Errorf("Body = %q, want the replacement", got.Body)
	}
	if got.Attempts != 0 {
		t.Errorf("Attempts = %d, want reset to 0", got.Attempts)
	}
}

func TestQueue_List_OldestFirst(t *testing.T) {
	q := openTestQueue(t)

	base := time.Now()
	// Tags deliberately out of lexicographic order relative to age.
	tasks := []*Task{
		{Tag: "replay:POST:/api/z:1", CreatedAt: base.Add(1 * time.Second)},
		{Tag: "replay:POST:/api/a:1", CreatedAt: base.Add(3 * time.Second)},
		{Tag: "replay:POST:/api/m:1", CreatedAt: base.Add(2 * time.Second)},
	}
	for _, task := range tasks {
		if err := q.Put(task); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
	}

	got, err := q.List("")
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	want := []string{"replay:POST:/api/z:1", "replay:POST:/api/m:1", "replay:POST:/api/a:1"}
	if len(got) != len(want) {
		t.Fatalf("List returned %d tasks, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i].Tag != want[i] {
			t.Errorf("List[%d].Tag = %q, want %q", i, got[i].Tag, want[i])
		}
	}
}

func TestQueue_List_Prefix(t *testing.T) {
	q := openTestQueue(t)

	for _, tag := range []string{
		"replay:POST:/api/orders:1",
		"replay:POST:/api/orders:2",
		"replay:DELETE:/api/cart:1",
	} {
		if err := q.Put(&Task{Tag: tag, CreatedAt: time.Now()}); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
	}

	got, err := q.List("replay:POST:/api/orders:")
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(got) != 2 {
		t.Errorf("List returned %d tasks, want 2", len(got))
	}
	for _, task := range got {
		if !strings.HasPrefix(task.Tag, "replay:POST:/api/orders:") {
			t.Errorf("unexpected tag %q", task.Tag)
		}
	}
}
