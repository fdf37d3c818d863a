package conditions

import (
	"strings"
	"testing"
	"time"
)

func TestCurrent(t *testing.T) {
	chicago, err := time.LoadLocation("America/Chicago")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}

	tests := []struct {
		name string
		now  time.Time
		want []string
	}{
		{
			name: "named zone",
			now:  time.Date(2025, 3, 14, 9, 30, 0, 0, chicago),
			want: []string{
				"Today: Friday, 2025-03-14",
				"Local time: 09:30 CDT (America/Chicago)",
				"Tomorrow: Saturday, 2025-03-15",
			},
		},
		{
			name: "utc omits duplicate name",
			now:  time.Date(2025, 12, 31, 23, 0, 0, 0, time.UTC),
			want: []string{
				"Local time: 23:00 UTC\n",
				"Tomorrow: Thursday, 2026-01-01",
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Current(tt.now)
			for _, w := range tt.want {
				if !strings.Contains(got, w) {
					t.Errorf("Current() missing %q\nGot:\n%s", w, got)
				}
			}
		})
	}
}

func TestCurrent_ZeroTime(t *testing.T) {
	if got := Current(time.Time{}); got != "" {
		t.Errorf("Current(zero) = %q, want empty", got)
	}
}
