package transfer

import (
	"testing"
	"time"

	"github.com/andresuchdata/batchsync/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCalculateWindow(t *testing.T) {
	tests := []struct {
		name      string
		wm        Watermark
		wantStart time.Time
		wantEnd   time.Time
		wantEmpty bool
	}{
		{
			name:      "watermark a few days back",
			wm:        Watermark{Date: day(2024, 1, 1), Found: true},
			wantStart: day(2024, 1, 2),
			wantEnd:   day(2024, 1, 4),
		},
		{
			name:      "no watermark falls back to lookback",
			wm:        Watermark{},
			wantStart: day(2023, 12, 29),
			wantEnd:   day(2024, 1, 4),
		},
		{
			name:      "watermark two days back leaves one day",
			wm:        Watermark{Date: day(2024, 1, 3), Found: true},
			wantStart: day(2024, 1, 4),
			wantEnd:   day(2024, 1, 4),
		},
		{
			name:      "watermark is yesterday",
			wm:        Watermark{Date: day(2024, 1, 4), Found: true},
			wantStart: day(2024, 1, 5),
			wantEnd:   day(2024, 1, 4),
			wantEmpty: true,
		},
		{
			name:      "watermark is today",
			wm:        Watermark{Date: day(2024, 1, 5), Found: true},
			wantStart: day(2024, 1, 6),
			wantEnd:   day(2024, 1, 4),
			wantEmpty: true,
		},
		{
			name:      "watermark in the future",
			wm:        Watermark{Date: day(2024, 2, 1), Found: true},
			wantStart: day(2024, 2, 2),
			wantEnd:   day(2024, 1, 4),
			wantEmpty: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := CalculateWindow(tt.wm, scenarioNow, 7)
			assert.True(t, tt.wantStart.Equal(w.Start), "start %s", w.Start)
			assert.True(t, tt.wantEnd.Equal(w.End), "end %s", w.End)
			assert.Equal(t, tt.wantEmpty, w.Empty())
		})
	}
}

func TestWindow_DaysAndRange(t *testing.T) {
	w := Window{Start: day(2023, 12, 30), End: day(2024, 1, 2)}
	days := w.Days()
	require.Len(t, days, 4)
	assert.True(t, day(2023, 12, 31).Equal(days[1]))
	assert.True(t, day(2024, 1, 2).Equal(days[3]))

	b, err := w.Range().MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "2023-12-30 - 2024-01-02", string(b))

	assert.Empty(t, Window{Start: day(2024, 1, 2), End: day(2024, 1, 1)}.Days())
}

func TestCalculateWindow_UsesNowLocation(t *testing.T) {
	// 23:30 UTC on Jan 4 is already Jan 5 two hours east.
	east := time.FixedZone("UTC+2", 2*60*60)
	now := time.Date(2024, 1, 4, 23, 30, 0, 0, time.UTC).In(east)

	w := CalculateWindow(Watermark{Date: time.Date(2024, 1, 1, 0, 0, 0, 0, east), Found: true}, now, 7)
	assert.Equal(t, "2024-01-02 - 2024-01-04", w.Range().String())
}

func TestDaysBetween(t *testing.T) {
	assert.Equal(t, 3, daysBetween(day(2024, 1, 1), day(2024, 1, 4)))
	assert.Equal(t, 0, daysBetween(day(2024, 1, 4), time.Date(2024, 1, 4, 23, 0, 0, 0, time.UTC)))
	assert.Equal(t, -1, daysBetween(day(2024, 1, 5), day(2024, 1, 4)))
	assert.Equal(t, 366, daysBetween(day(2024, 1, 1), day(2025, 1, 1)))
}

func TestValidateTransition(t *testing.T) {
	happy := []domain.RunState{
		domain.StateIdle,
		domain.StateResolvingWatermark,
		domain.StateComputingWindow,
		domain.StateListing,
		domain.StateSelecting,
		domain.StateFetchDecompress,
		domain.StateUploading,
		domain.StateDone,
	}
	for i := 1; i < len(happy); i++ {
		assert.NoError(t, ValidateTransition(happy[i-1], happy[i]))
	}

	assert.NoError(t, ValidateTransition(domain.StateComputingWindow, domain.StateWindowEmpty))
	assert.NoError(t, ValidateTransition(domain.StateWindowEmpty, domain.StateDone))
	assert.NoError(t, ValidateTransition(domain.StateSelecting, domain.StateDone))
	assert.NoError(t, ValidateTransition(domain.StateListing, domain.StateFailed))
	assert.NoError(t, ValidateTransition(domain.StateIdle, domain.StateFailed))

	assert.Error(t, ValidateTransition(domain.StateIdle, domain.StateUploading))
	assert.Error(t, ValidateTransition(domain.StateDone, domain.StateFailed))
	assert.Error(t, ValidateTransition(domain.StateFailed, domain.StateIdle))
	assert.Error(t, ValidateTransition(domain.StateWindowEmpty, domain.StateListing))
}
