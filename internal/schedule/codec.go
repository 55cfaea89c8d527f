package schedule

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// record is the persisted shape of a Job.
type record struct {
	Date      string `json:"date"`
	Author    int64  `json:"author"`
	ChannelID int64  `json:"channel_id"`
	ThreadID  int    `json:"thread_id,omitempty"`
	Msg       string `json:"msg"`
}

type deadRecord struct {
	Job      record    `json:"job"`
	Attempts int       `json:"attempts"`
	Reason   string    `json:"reason,omitempty"`
	FailedAt time.Time `json:"failed_at"`
}

func toRecord(j Job, loc *time.Location) record {
	return record{
		Date:      j.Due.In(loc).Format(TimeLayout),
		Author:    j.AuthorID,
		ChannelID: j.ChannelID,
		ThreadID:  j.ThreadID,
		Msg:       j.Message,
	}
}

func fromRecord(r record, loc *time.Location) (Job, error) {
	due, err := time.ParseInLocation(TimeLayout, r.Date, loc)
	if err != nil {
		return Job{}, err
	}
	return Job{Due: due, AuthorID: r.Author, ChannelID: r.ChannelID, ThreadID: r.ThreadID, Message: r.Msg}, nil
}

func locOrLocal(loc *time.Location) *time.Location {
	if loc == nil {
		return time.Local
	}
	return loc
}

// EncodeQueue serializes q as a JSON array of job records. The empty queue
// encodes as "[]".
func EncodeQueue(q Queue, loc *time.Location) ([]byte, error) {
	loc = locOrLocal(loc)
	recs := make([]record, 0, len(q))
	for _, j := range q {
		recs = append(recs, toRecord(j, loc))
	}
	return json.Marshal(recs)
}

// DecodeQueue parses a persisted document. Empty (or whitespace-only) input is
// an empty queue; anything unparseable wraps ErrCorrupt.
func DecodeQueue(b []byte, loc *time.Location) (Queue, error) {
	loc = locOrLocal(loc)
	b = bytes.TrimSpace(b)
	if len(b) == 0 {
		return Queue{}, nil
	}
	var recs []record
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&recs); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if dec.More() {
		return nil, fmt.Errorf("%w: trailing data", ErrCorrupt)
	}
	q := make(Queue, 0, len(recs))
	for i, r := range recs {
		j, err := fromRecord(r, loc)
		if err != nil {
			return nil, fmt.Errorf("%w: record %d: %v", ErrCorrupt, i, err)
		}
		// A wall time inside a fall-back hour parses to its first occurrence.
		// The document is sorted, so a step backwards means the later one.
		if i > 0 && j.Due.Before(q[i-1].Due) {
			j.Due = laterOccurrence(j.Due, r.Date, loc)
		}
		q = append(q, j)
	}
	return q, nil
}

// laterOccurrence returns the second instant that formats as wall in loc, or
// t when the wall time is not repeated.
func laterOccurrence(t time.Time, wall string, loc *time.Location) time.Time {
	for _, d := range []time.Duration{30 * time.Minute, time.Hour, 2 * time.Hour} {
		if c := t.Add(d); c.In(loc).Format(TimeLayout) == wall {
			return c
		}
	}
	return t
}

// EncodeDeadLetter serializes one dead letter as a single JSON object.
func EncodeDeadLetter(d DeadLetter, loc *time.Location) ([]byte, error) {
	loc = locOrLocal(loc)
	return json.Marshal(deadRecord{
		Job:      toRecord(d.Job, loc),
		Attempts: d.Attempts,
		Reason:   d.Reason,
		FailedAt: d.FailedAt,
	})
}

// DecodeDeadLetter is the inverse of EncodeDeadLetter.
func DecodeDeadLetter(b []byte, loc *time.Location) (DeadLetter, error) {
	loc = locOrLocal(loc)
	var r deadRecord
	if err := json.Unmarshal(b, &r); err != nil {
		return DeadLetter{}, fmt.Errorf("%w: dead letter: %v", ErrCorrupt, err)
	}
	j, err := fromRecord(r.Job, loc)
	if err != nil {
		return DeadLetter{}, fmt.Errorf("%w: dead letter: %v", ErrCorrupt, err)
	}
	return DeadLetter{Job: j, Attempts: r.Attempts, Reason: r.Reason, FailedAt: r.FailedAt}, nil
}
