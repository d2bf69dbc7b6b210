package timeutil

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestZone_TodayCrossesMidnight(t *testing.T) {
	// 2025-09-01 21:30 UTC is already Sept 2 at UTC+5
	instant := time.Date(2025, 9, 1, 21, 30, 0, 0, time.UTC)

	plus5, err := LoadZone("+05:00")
	require.NoError(t, err)
	z := plus5.WithClock(func() time.Time { return instant })

	assert.Equal(t, time.Date(2025, 9, 2, 0, 0, 0, 0, time.UTC), z.Today())
	assert.Equal(t, time.Date(2025, 9, 3, 0, 0, 0, 0, time.UTC), z.Tomorrow())
	assert.Equal(t, 2, z.Now().Hour())

	utc := NewZone(nil).WithClock(func() time.Time { return instant })
	assert.Equal(t, time.Date(2025, 9, 1, 0, 0, 0, 0, time.UTC), utc.Today())
}

func TestLoadZone(t *testing.T) {
	tests := []struct {
		name    string
		offset  int
		wantErr bool
	}{
		{name: "UTC", offset: 0},
		{name: "+03:00", offset: 3 * 3600},
		{name: "-03:30", offset: -(3*3600 + 30*60)},
		{name: "UTC+5", offset: 5 * 3600},
		{name: "+15:00", wantErr: true},
		{name: "Nowhere/Atlantis", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			z, err := LoadZone(tt.name)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			_, offset := time.Date(2025, 1, 1, 0, 0, 0, 0, z.Location()).Zone()
			assert.Equal(t, tt.offset, offset)
		})
	}
}

func TestStartOfWeek(t *testing.T) {
	monday := time.Date(2025, 9, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 7; i++ {
		assert.Equal(t, monday, StartOfWeek(monday.AddDate(0, 0, i)), "day %d", i)
	}

	from, to := WeekRange(monday)
	assert.Equal(t, monday, from)
	assert.Equal(t, time.Date(2025, 9, 7, 0, 0, 0, 0, time.UTC), to)
}

func TestParseAndFormat(t *testing.T) {
	d, err := ParseDate("2025-09-03")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 9, 3, 0, 0, 0, 0, time.UTC), d)
	assert.Equal(t, "2025-09-03", FormatDateStr(d))
	assert.Equal(t, "03.09.2025", FormatRussian(d))
	assert.Equal(t, "Среда", WeekdayNameRu(d))

	_, err = ParseDate("03.09.2025")
	assert.Error(t, err)
}
