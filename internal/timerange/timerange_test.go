package timerange

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bookline/internal/domain"
)

func TestDateInRange(t *testing.T) {
	assert.True(t, DateInRange("2024-03-10", "2024-03-10", "2024-03-10"))
	assert.True(t, DateInRange("2024-03-12", "2024-03-10", "2024-03-15"))
	assert.True(t, DateInRange("2024-03-15T23:59:00", "2024-03-10", "2024-03-15"))
	assert.False(t, DateInRange("2024-03-16", "2024-03-10", "2024-03-15"))
	assert.False(t, DateInRange("2024-03-09", "2024-03-10", "2024-03-15"))
}

func TestTimeInAnyRange(t *testing.T) {
	ranges := []domain.TimeRange{{Start: "09:00", End: "12:00"}, {Start: "14:00", End: "15:30"}}
	assert.True(t, TimeInAnyRange("09:00", ranges))
	assert.True(t, TimeInAnyRange("11:59", ranges))
	assert.False(t, TimeInAnyRange("12:00", ranges), "end is exclusive")
	assert.True(t, TimeInAnyRange("15:00", ranges))
	assert.False(t, TimeInAnyRange("15:30", ranges))
	assert.False(t, TimeInAnyRange("10:00", nil))
}

func TestValidateRanges(t *testing.T) {
	require.NoError(t, ValidateRanges([]domain.TimeRange{{Start: "08:00", End: "09:00"}}))
	assert.Error(t, ValidateRanges([]domain.TimeRange{{Start: "09:00", End: "09:00"}}))
	assert.Error(t, ValidateRanges([]domain.TimeRange{{Start: "10:00", End: "09:00"}}))
	assert.Error(t, ValidateRanges([]domain.TimeRange{{Start: "9:00", End: "10:00"}}))
	assert.Error(t, ValidateRanges([]domain.TimeRange{{Start: "25:00", End: "26:00"}}))
}

func TestExpandDays(t *testing.T) {
	days, err := ExpandDays("2024-02-27", "2024-03-02")
	require.NoError(t, err)
	assert.Equal(t, []string{"2024-02-27", "2024-02-28", "2024-02-29", "2024-03-01", "2024-03-02"}, days)

	days, err = ExpandDays("2024-03-02", "2024-03-01")
	require.NoError(t, err)
	assert.Empty(t, days)
}

func TestOverlap(t *testing.T) {
	start, end, ok := Overlap("2024-03-01", "2024-03-10", "2024-03-05", "2024-03-20")
	require.True(t, ok)
	assert.Equal(t, "2024-03-05", start)
	assert.Equal(t, "2024-03-10", end)

	_, _, ok = Overlap("2024-03-01", "2024-03-02", "2024-03-05", "2024-03-20")
	assert.False(t, ok)
}

func TestSlots(t *testing.T) {
	slots, err := Slots("08:00", "10:00", 30)
	require.NoError(t, err)
	assert.Equal(t, []string{"08:00", "08:30", "09:00", "09:30"}, slots)

	_, err = Slots("08:00", "10:00", 0)
	assert.Error(t, err)
}

func TestCombine(t *testing.T) {
	at, err := Combine("2024-03-10", "14:30", time.UTC)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 3, 10, 14, 30, 0, 0, time.UTC), at)

	_, err = Combine("2024-03-10", "2pm", time.UTC)
	assert.Error(t, err)
}
