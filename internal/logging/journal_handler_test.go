package logging

import (
	"log/slog"
	"testing"
	"time"
)

func TestJournalFieldName(t *testing.T) {
	tests := []struct {
		groups []string
		key    string
		want   string
	}{
		{nil, "camera_id", "CAMERA_ID"},
		{[]string{"frame"}, "seq", "FRAME_SEQ"},
		{nil, "broker.url", "BROKER_URL"},
		{nil, "_private", "PRIVATE"},
		{nil, "2nd", "F_2ND"},
		{nil, "", "F_"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := journalFieldName(tt.groups, tt.key); got != tt.want {
				t.Errorf("journalFieldName(%v, %q) = %q, want %q", tt.groups, tt.key, got, tt.want)
			}
		})
	}
}

func TestAddJournalField(t *testing.T) {
	fields := map[string]string{}
	addJournalField(fields, nil, slog.String("serial", "SIM00001"))
	addJournalField(fields, nil, slog.Uint64("seq", 42))
	addJournalField(fields, nil, slog.Duration("backoff", 250*time.Millisecond))
	addJournalField(fields, nil, slog.Group("stats", slog.Float64("loss_rate", 0.5)))

	want := map[string]string{
		"SERIAL":          "SIM00001",
		"SEQ":             "42",
		"BACKOFF":         "250ms",
		"STATS_LOSS_RATE": "0.5",
	}
	for k, v := range want {
		if fields[k] != v {
			t.Errorf("%s = %q, want %q", k, fields[k], v)
		}
	}
}
