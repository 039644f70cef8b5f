// Package exam holds the timing rules and station content of a live CASC
// exam. Nothing in here performs I/O.
package exam

import (
	"time"

	"github.com/krshsl/cascprep/models"
)

const (
	ReadingTime          = 60 * time.Second
	MorningStationTime   = 11*time.Minute + 10*time.Second
	AfternoonStationTime = 8*time.Minute + 40*time.Second
	BreakTime            = 30 * time.Minute
	MinRoleplayTime      = 60 * time.Second

	MorningStations   = 8
	AfternoonStations = 8
	StationCount      = MorningStations + AfternoonStations
)

// DefaultSchedule is the standard two-circuit exam day.
func DefaultSchedule() models.Schedule {
	s := models.Schedule{
		ReadingSec: int(ReadingTime / time.Second),
		Morning: models.CircuitSchedule{
			Stations:      MorningStations,
			PerStationSec: int(MorningStationTime / time.Second),
		},
		BreakSec: int(BreakTime / time.Second),
		Afternoon: models.CircuitSchedule{
			Stations:      AfternoonStations,
			PerStationSec: int(AfternoonStationTime / time.Second),
		},
	}
	s.Totals = Totals(s)
	return s
}

// Totals sums station time, and station time plus the break.
func Totals(s models.Schedule) models.ScheduleTotals {
	perf := s.Morning.Stations*s.Morning.PerStationSec + s.Afternoon.Stations*s.Afternoon.PerStationSec
	total := perf
	if s.Afternoon.Stations > 0 {
		total += s.BreakSec
	}
	return models.ScheduleTotals{PerformanceSec: perf, ExamSec: total}
}

// RoleplayTime is the station time left once reading time is taken out,
// never less than MinRoleplayTime.
func RoleplayTime(stationTime, reading time.Duration) time.Duration {
	rp := stationTime - reading
	if rp < MinRoleplayTime {
		return MinRoleplayTime
	}
	return rp
}
