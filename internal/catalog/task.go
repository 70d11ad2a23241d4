package catalog

// TaskStatus is the lifecycle state of a crawl task.
type TaskStatus string

// Task status values. Success is terminal: it has no outgoing transitions,
// so a later contradicting signal can never regress visible progress.
const (
	TaskPending TaskStatus = "pending"
	TaskRunning TaskStatus = "running"
	TaskSuccess TaskStatus = "success"
	TaskFailed  TaskStatus = "failed"
)

// TaskKind distinguishes the two payload types scheduled during a crawl.
type TaskKind string

// Task kinds.
const (
	TaskPage          TaskKind = "page"
	TaskProductDetail TaskKind = "product-detail"
)

var taskTransitions = map[TaskStatus][]TaskStatus{
	TaskPending: {TaskRunning},
	TaskRunning: {TaskSuccess, TaskFailed},
	TaskFailed:  {TaskRunning},
	TaskSuccess: nil,
}

// Task is one unit of scheduler work: a page index during list collection,
// or a product URL during detail collection.
type Task struct {
	ID     int
	Kind   TaskKind
	URL    string
	Status TaskStatus
}

// NewTask returns a pending task.
func NewTask(id int, kind TaskKind, url string) *Task {
	return &Task{ID: id, Kind: kind, URL: url, Status: TaskPending}
}

// Transition moves the task to the requested status if the state machine
// allows it, reporting whether the move happened.
func (t *Task) Transition(to TaskStatus) bool {
	for _, allowed := range taskTransitions[t.Status] {
		if allowed == to {
			t.Status = to
			return true
		}
	}
	return false
}
