package scheduler

import (
	"testing"
	"time"
)

func TestParseSchedule(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		in      string
		kind    SpecKind
		cron    string
		every   time.Duration
		source  string
		wantErr bool
	}{
		{name: "five field cron", in: "*/5 * * * *", kind: SpecCron, cron: "*/5 * * * *", source: "cron"},
		{name: "descriptor cron", in: "@hourly", kind: SpecCron, cron: "@hourly", source: "cron"},
		{name: "cron prefix", in: "cron:0 0 * * *", kind: SpecCron, cron: "0 0 * * *", source: "cron"},
		{name: "duration", in: "10m", kind: SpecInterval, every: 10 * time.Minute, source: "duration"},
		{name: "compound duration", in: "2h30m", kind: SpecInterval, every: 2*time.Hour + 30*time.Minute, source: "duration"},
		{name: "interval prefix", in: "interval:45s", kind: SpecInterval, every: 45 * time.Second, source: "duration"},
		{name: "every prefix hhmm", in: "every:01:30", kind: SpecInterval, every: 90 * time.Minute, source: "hhmm"},
		{name: "bare hhmm", in: "00:50", kind: SpecInterval, every: 50 * time.Minute, source: "hhmm"},
		{name: "empty", in: "   ", wantErr: true},
		{name: "empty cron prefix", in: "cron: ", wantErr: true},
		{name: "bad minutes", in: "01:75", wantErr: true},
		{name: "zero interval", in: "0s", wantErr: true},
		{name: "negative interval", in: "interval:-5m", wantErr: true},
		{name: "garbage", in: "soonish", wantErr: true},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, err := ParseSchedule(tc.in)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("ParseSchedule(%q): want error, got %+v", tc.in, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseSchedule(%q): %v", tc.in, err)
			}
			if got.Kind != tc.kind {
				t.Errorf("kind = %v, want %v", got.Kind, tc.kind)
			}
			if got.Cron != tc.cron {
				t.Errorf("cron = %q, want %q", got.Cron, tc.cron)
			}
			if got.Every != tc.every {
				t.Errorf("every = %v, want %v", got.Every, tc.every)
			}
			if got.Source != tc.source {
				t.Errorf("source = %q, want %q", got.Source, tc.source)
			}
		})
	}
}
