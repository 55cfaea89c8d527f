package schedule

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// TimeLayout is the persisted due-time format ("YYYY/MM/DD, HH:MM:SS").
const TimeLayout = "2006/01/02, 15:04:05"

var (
	ErrEmptyQueue    = errors.New("schedule: empty queue")
	ErrCorrupt       = errors.New("schedule: corrupt schedule document")
	ErrInvalidOffset = errors.New("schedule: invalid offset (want HH:MM:SS)")
	ErrNoSuchJob     = errors.New("schedule: no such job")
)

// Job is a single pending delivery. Jobs are values: they carry no identity
// beyond their fields and are never mutated after creation.
type Job struct {
	Due       time.Time
	AuthorID  int64
	ChannelID int64
	ThreadID  int // forum topic; 0 if none
	Message   string
}

// NewJob builds a job due offset after now, at second precision.
func NewJob(now time.Time, offset time.Duration, authorID, channelID int64, threadID int, msg string) Job {
	return Job{
		Due:       now.Truncate(time.Second).Add(offset),
		AuthorID:  authorID,
		ChannelID: channelID,
		ThreadID:  threadID,
		Message:   msg,
	}
}

// IsDue reports whether the job should fire at now.
func (j Job) IsDue(now time.Time) bool { return !j.Due.After(now) }

// Equal compares all fields; due times compare by instant.
func (j Job) Equal(o Job) bool {
	return j.Due.Equal(o.Due) &&
		j.AuthorID == o.AuthorID &&
		j.ChannelID == o.ChannelID &&
		j.ThreadID == o.ThreadID &&
		j.Message == o.Message
}

// ParseOffset parses a relative "HH:MM:SS" duration. Hours are 0-23,
// minutes and seconds 0-59.
func ParseOffset(raw string) (time.Duration, error) {
	parts := strings.Split(strings.TrimSpace(raw), ":")
	if len(parts) != 3 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidOffset, raw)
	}
	limits := [3]int{23, 59, 59}
	var v [3]int
	for i, p := range parts {
		if p == "" || len(p) > 2 {
			return 0, fmt.Errorf("%w: %q", ErrInvalidOffset, raw)
		}
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 || n > limits[i] {
			return 0, fmt.Errorf("%w: %q", ErrInvalidOffset, raw)
		}
		v[i] = n
	}
	return time.Duration(v[0])*time.Hour + time.Duration(v[1])*time.Minute + time.Duration(v[2])*time.Second, nil
}

// DeadLetter is a job that was given up on after repeated dispatch failures.
type DeadLetter struct {
	Job      Job
	Attempts int
	Reason   string
	FailedAt time.Time
}
