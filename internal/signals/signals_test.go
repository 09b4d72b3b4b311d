package signals

import (
	"math"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quantbt/internal/domain"
)

var day0 = time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)

// hourlyDay returns hours flat candles for the given day at price close.
func hourlyDay(day time.Time, close float64, hours int) []domain.Bar {
	bars := make([]domain.Bar, hours)
	for h := range bars {
		bars[h] = domain.Bar{
			Symbol:    "BTCUSDT",
			Timestamp: day.Add(time.Duration(h) * time.Hour),
			Open:      close,
			High:      close + 1,
			Low:       close - 1,
			Close:     close,
			Volume:    1,
		}
	}
	return bars
}

func TestAggregateDaily(t *testing.T) {
	var hourly []domain.Bar
	for h := 0; h < HoursPerDay; h++ {
		hourly = append(hourly, domain.Bar{
			Symbol:    "BTCUSDT",
			Timestamp: day0.Add(time.Duration(h) * time.Hour),
			Open:      100 + float64(h),
			High:      101 + float64(h),
			Low:       99 - float64(h),
			Close:     100.5 + float64(h),
			Volume:    2,
		})
	}
	hourly = append(hourly, hourlyDay(day0.AddDate(0, 0, 1), 200, HoursPerDay)...)
	// Partial day is dropped.
	hourly = append(hourly, hourlyDay(day0.AddDate(0, 0, 2), 300, 10)...)

	// Input order must not matter.
	hourly[0], hourly[30] = hourly[30], hourly[0]

	daily := AggregateDaily(hourly)
	require.Len(t, daily, 2)

	first := daily[0]
	assert.Equal(t, day0, first.Timestamp)
	assert.Equal(t, "BTCUSDT", first.Symbol)
	assert.Equal(t, 100.0, first.Open)
	assert.Equal(t, 124.0, first.High)
	assert.Equal(t, 76.0, first.Low)
	assert.Equal(t, 123.5, first.Close)
	assert.Equal(t, 48.0, first.Volume)

	assert.Equal(t, day0.AddDate(0, 0, 1), daily[1].Timestamp)
	assert.Equal(t, 200.0, daily[1].Close)
}

func TestAggregateDailyDuplicateHourIsIncomplete(t *testing.T) {
	bars := hourlyDay(day0, 10, HoursPerDay)
	bars = append(bars, bars[5])
	assert.Empty(t, AggregateDaily(bars), "25 bars is not a complete day")
	assert.Nil(t, AggregateDaily(nil))
}

func TestSMA(t *testing.T) {
	got := SMA([]float64{1, 2, 3, 4}, 2)
	want := []float64{math.NaN(), 1.5, 2.5, 3.5}
	if diff := cmp.Diff(want, got, cmpopts.EquateNaNs()); diff != "" {
		t.Errorf("SMA mismatch (-want +got):\n%s", diff)
	}
}

func TestEMA(t *testing.T) {
	got := EMA([]float64{1, 2, 3}, 3)
	want := []float64{1, 1.5, 2.25}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("EMA mismatch (-want +got):\n%s", diff)
	}
	assert.Empty(t, EMA(nil, 3))
}

func TestRSI(t *testing.T) {
	tests := []struct {
		name   string
		values []float64
		want   []float64
	}{
		{"no losses is undefined", []float64{1, 2, 3, 2}, []float64{math.NaN(), math.NaN(), math.NaN(), 50}},
		{"balanced", []float64{1, 2, 1, 2}, []float64{math.NaN(), math.NaN(), 50, 50}},
		{"only losses", []float64{3, 2, 1}, []float64{math.NaN(), 0, 0}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := RSI(tt.values, 2)
			if diff := cmp.Diff(tt.want, got, cmpopts.EquateNaNs()); diff != "" {
				t.Errorf("RSI mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestApplySignalLogic(t *testing.T) {
	rows := []domain.DailySignal{
		{Bar: domain.Bar{Close: 10}, MAValue: math.NaN(), RSI: math.NaN()},
		{Bar: domain.Bar{Close: 10}, MAValue: 9, RSI: 75},
		{Bar: domain.Bar{Close: 10}, MAValue: 11, RSI: 40},
		{Bar: domain.Bar{Close: 10}, MAValue: 9, RSI: 40},
		{Bar: domain.Bar{Close: 10}, MAValue: 10, RSI: 70},
	}
	ApplySignalLogic(rows, 70)

	wantSignal := []bool{false, false, false, true, false}
	wantFlags := []string{
		domain.ReasonBelowMA + domain.ReasonOverboughtRSI,
		domain.ReasonOverboughtRSI,
		domain.ReasonBelowMA,
		"",
		domain.ReasonBelowMA + domain.ReasonOverboughtRSI,
	}
	for i := range rows {
		assert.Equal(t, wantSignal[i], rows[i].Signal, "row %d signal", i)
		assert.Equal(t, wantFlags[i], rows[i].ReasonFlags, "row %d flags", i)
	}
	assert.Equal(t, 1, CountSignals(rows))
}

func TestGenerate(t *testing.T) {
	var hourly []domain.Bar
	for i, c := range []float64{10, 12, 11, 13} {
		hourly = append(hourly, hourlyDay(day0.AddDate(0, 0, i), c, HoursPerDay)...)
	}

	e := NewEngine(Params{MAPeriod: 2, MAType: domain.MATypeSMA, RSIPeriod: 2, RSIThreshold: 70})
	rows := e.Generate(hourly)
	require.Len(t, rows, 4)

	maValues := make([]float64, len(rows))
	peaks := make([]float64, len(rows))
	for i, r := range rows {
		maValues[i] = r.MAValue
		peaks[i] = r.Peak
	}
	if diff := cmp.Diff([]float64{math.NaN(), 11, 11.5, 12}, maValues, cmpopts.EquateNaNs()); diff != "" {
		t.Errorf("MA mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, []float64{10, 12, 12, 13}, peaks)
	assert.InDelta(t, -1.0/12, rows[2].DrawdownPct, 1e-12)
	assert.InDelta(t, 200.0/3, rows[3].RSI, 1e-9)

	assert.Equal(t, domain.ReasonOverboughtRSI, rows[1].ReasonFlags)
	assert.Equal(t, domain.ReasonBelowMA, rows[2].ReasonFlags)
	assert.True(t, rows[3].Signal)
	assert.Equal(t, 1, CountSignals(rows))
}

func TestGenerateEMA(t *testing.T) {
	var hourly []domain.Bar
	for i, c := range []float64{1, 2, 3} {
		hourly = append(hourly, hourlyDay(day0.AddDate(0, 0, i), c, HoursPerDay)...)
	}
	rows := NewEngine(Params{MAPeriod: 3, MAType: domain.MATypeEMA, RSIPeriod: 2, RSIThreshold: 70}).Generate(hourly)
	require.Len(t, rows, 3)
	assert.Equal(t, 2.25, rows[2].MAValue)
}
