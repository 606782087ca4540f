package tickets

import (
	"testing"
	"time"

	"github.com/raphaelgruber/vserve/internal/models"
	"github.com/stretchr/testify/assert"
)

func TestComputeRemaining(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name     string
		deadline time.Time
		want     Remaining
	}{
		{"one second ago", now.Add(-time.Second), Remaining{Text: "Overdue", Overdue: true}},
		{"exactly now", now, Remaining{Text: "Overdue", Overdue: true}},
		{"ninety minutes", now.Add(90 * time.Minute), Remaining{Text: "1h 30m remaining"}},
		{"floors seconds", now.Add(59*time.Second + 2*time.Hour), Remaining{Text: "2h 0m remaining"}},
		{"under a minute", now.Add(30 * time.Second), Remaining{Text: "0h 0m remaining"}},
		{"three days", now.Add(72 * time.Hour), Remaining{Text: "72h 0m remaining"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ComputeRemaining(tt.deadline, now))
		})
	}
}

func TestRemainingForWithoutDeadline(t *testing.T) {
	got := RemainingFor(models.Ticket{}, time.Now())
	assert.Equal(t, Remaining{Text: NoDeadline}, got)
}

func TestClassify(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	past := now.Add(-time.Hour)

	got := Classify([]models.Ticket{
		{Status: models.StatusOpen},
		{Status: models.StatusInProgress, Deadline: &past},
		{Status: models.StatusClosed, Deadline: &past},
	}, now)

	assert.Equal(t, Counts{Open: 1, InProgress: 1, Closed: 1, Overdue: 1}, got)
	assert.Equal(t, 3, got.Total())
}

func TestClassifyEmpty(t *testing.T) {
	assert.Equal(t, Counts{}, Classify(nil, time.Now()))
}
