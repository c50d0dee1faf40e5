package workflow

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// EventKind identifies the kind of incoming source-control event.
type EventKind string

const (
	// EventPush is a branch push event.
	EventPush EventKind = "push"

	// EventPullRequest is a pull request event.
	EventPullRequest EventKind = "pull_request"

	// EventSchedule is a scheduled tick.
	EventSchedule EventKind = "schedule"
)

// Validate checks if the event kind is valid.
func (k EventKind) Validate() error {
	switch k {
	case EventPush, EventPullRequest, EventSchedule:
		return nil
	default:
		return fmt.Errorf("invalid event kind: %s", k)
	}
}

// Event is an incoming event delivered by the trigger feed.
type Event struct {
	// Kind is the event kind.
	Kind EventKind `json:"kind"`

	// Branch is the branch the event refers to, for push events.
	Branch string `json:"branch,omitempty"`

	// Time is the event timestamp, used for schedule matching.
	Time time.Time `json:"time"`
}

// Matches reports whether the event satisfies any trigger in the set.
// It is a pure predicate: a non-match is not an error, simply no run.
//
// Push events match only if the branch is in the configured filter.
// Pull request events always match. Schedule events match if the timestamp
// lands exactly on an activation instant of any cron expression.
func (t TriggerSet) Matches(ev Event) bool {
	switch ev.Kind {
	case EventPush:
		if t.Push == nil {
			return false
		}
		for _, branch := range t.Push.Branches {
			if branch == ev.Branch {
				return true
			}
		}
		return false

	case EventPullRequest:
		return t.PullRequest != nil

	case EventSchedule:
		for _, sched := range t.Schedule {
			if cronMatches(sched.Cron, ev.Time) {
				return true
			}
		}
		return false

	default:
		return false
	}
}

// cronMatches reports whether ts is an activation instant of expr.
// Standard cron has minute granularity, so seconds past the minute
// disqualify the timestamp.
func cronMatches(expr string, ts time.Time) bool {
	sched, err := cron.ParseStandard(expr)
	if err != nil {
		// Invalid expressions are rejected at parse time; an expression
		// that slips through never matches.
		return false
	}
	ts = ts.Truncate(time.Second)
	if ts.Second() != 0 {
		return false
	}
	return sched.Next(ts.Add(-time.Second)).Equal(ts)
}
