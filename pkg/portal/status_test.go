package portal

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestClassifyStatus(t *testing.T) {
	now := time.Date(2026, 8, 23, 15, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		row  string
		want string
	}{
		{
			name: "positive status in row",
			row:  "APP123 | ILP Scheduled | 15/08/2026",
			want: "ILP Scheduled",
		},
		{
			name: "today's date counts as positive",
			row:  "APP123 | Under Review | 23/08/2026",
			want: "ILP Scheduled",
		},
		{
			name: "old date without positive match",
			row:  "APP123 | Under Review | 01/01/2026",
			want: "No JL",
		},
		{
			name: "empty row",
			row:  "",
			want: "No JL",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ClassifyStatus(tt.row, "ILP Scheduled", "No JL", now)
			assert.Equal(t, tt.want, got)
		})
	}
}
