package workflow

import (
	"testing"
	"time"
)

func ts(value string) time.Time {
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		panic(err)
	}
	return t
}

func TestTriggerMatches(t *testing.T) {
	triggers := TriggerSet{
		Push:        &PushTrigger{Branches: []string{"master", "release"}},
		PullRequest: &PullRequestTrigger{},
		Schedule:    []ScheduleTrigger{{Cron: "0 0 1 * *"}},
	}

	tests := []struct {
		name  string
		event Event
		want  bool
	}{
		{
			name:  "push to listed branch",
			event: Event{Kind: EventPush, Branch: "master"},
			want:  true,
		},
		{
			name:  "push to second listed branch",
			event: Event{Kind: EventPush, Branch: "release"},
			want:  true,
		},
		{
			name:  "push to unlisted branch",
			event: Event{Kind: EventPush, Branch: "feature/foo"},
			want:  false,
		},
		{
			name:  "pull request always matches",
			event: Event{Kind: EventPullRequest, Branch: "feature/foo"},
			want:  true,
		},
		{
			name:  "schedule on activation instant",
			event: Event{Kind: EventSchedule, Time: ts("2026-09-01T00:00:00Z")},
			want:  true,
		},
		{
			name:  "schedule seconds past the minute",
			event: Event{Kind: EventSchedule, Time: ts("2026-09-01T00:00:30Z")},
			want:  false,
		},
		{
			name:  "schedule wrong day",
			event: Event{Kind: EventSchedule, Time: ts("2026-09-15T00:00:00Z")},
			want:  false,
		},
		{
			name:  "schedule wrong hour",
			event: Event{Kind: EventSchedule, Time: ts("2026-09-01T01:00:00Z")},
			want:  false,
		},
		{
			name:  "unknown event kind",
			event: Event{Kind: EventKind("tag")},
			want:  false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := triggers.Matches(tt.event); got != tt.want {
				t.Errorf("Matches(%+v) = %v, want %v", tt.event, got, tt.want)
			}
		})
	}
}

func TestTriggerMatchesWithoutDeclarations(t *testing.T) {
	var triggers TriggerSet

	events := []Event{
		{Kind: EventPush, Branch: "master"},
		{Kind: EventPullRequest},
		{Kind: EventSchedule, Time: ts("2026-09-01T00:00:00Z")},
	}
	for _, ev := range events {
		if triggers.Matches(ev) {
			t.Errorf("empty trigger set matched %+v", ev)
		}
	}
}

func TestCronMatchesEveryMinuteExpression(t *testing.T) {
	triggers := TriggerSet{Schedule: []ScheduleTrigger{{Cron: "* * * * *"}}}

	if !triggers.Matches(Event{Kind: EventSchedule, Time: ts("2026-09-01T13:37:00Z")}) {
		t.Error("every-minute schedule should match any whole minute")
	}
	if triggers.Matches(Event{Kind: EventSchedule, Time: ts("2026-09-01T13:37:01Z")}) {
		t.Error("standard cron has minute granularity, seconds must not match")
	}
}

func TestEventKindValidate(t *testing.T) {
	for _, k := range []EventKind{EventPush, EventPullRequest, EventSchedule} {
		if err := k.Validate(); err != nil {
			t.Errorf("%s: unexpected error %v", k, err)
		}
	}
	if err := EventKind("tag").Validate(); err == nil {
		t.Error("expected error for unknown event kind")
	}
}
