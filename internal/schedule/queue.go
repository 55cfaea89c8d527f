package schedule

import "time"

// Queue is a snapshot of pending jobs, sorted ascending by due time.
//
// Operations never modify the receiver's backing array; they return a new
// snapshot that the caller persists.
type Queue []Job

// Insert places job before the first entry that is due strictly later, so
// jobs with equal due times keep insertion order.
func (q Queue) Insert(job Job) Queue {
	pos := len(q)
	for i, cur := range q {
		if cur.Due.After(job.Due) {
			pos = i
			break
		}
	}
	out := make(Queue, 0, len(q)+1)
	out = append(out, q[:pos]...)
	out = append(out, job)
	out = append(out, q[pos:]...)
	return out
}

// PeekDue returns the head if it is due at now. Later entries are never
// inspected: if the head isn't due, nothing is.
func (q Queue) PeekDue(now time.Time) (Job, bool) {
	if len(q) == 0 || !q[0].IsDue(now) {
		return Job{}, false
	}
	return q[0], true
}

// RemoveHead returns the head and the remaining queue.
func (q Queue) RemoveHead() (Job, Queue, error) {
	if len(q) == 0 {
		return Job{}, q, ErrEmptyQueue
	}
	rest := make(Queue, len(q)-1)
	copy(rest, q[1:])
	return q[0], rest, nil
}

// Remove drops the first entry equal to job. It reports false when no entry
// matches.
func (q Queue) Remove(job Job) (Queue, bool) {
	for i, cur := range q {
		if !cur.Equal(job) {
			continue
		}
		if i == 0 {
			_, rest, _ := q.RemoveHead()
			return rest, true
		}
		out := make(Queue, 0, len(q)-1)
		out = append(out, q[:i]...)
		out = append(out, q[i+1:]...)
		return out, true
	}
	return q, false
}

// Filter returns the entries matching fn, in queue order.
func (q Queue) Filter(fn func(Job) bool) []Job {
	var out []Job
	for _, j := range q {
		if fn(j) {
			out = append(out, j)
		}
	}
	return out
}

// Sorted reports whether the ordering invariant holds.
func (q Queue) Sorted() bool {
	for i := 1; i < len(q); i++ {
		if q[i-1].Due.After(q[i].Due) {
			return false
		}
	}
	return true
}
