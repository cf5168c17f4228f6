package params

import "time"

// Period 命名周期
type Period string

const (
	PeriodToday       Period = "today"
	PeriodYesterday   Period = "yesterday"
	PeriodThisWeek    Period = "this_week"
	PeriodLastWeek    Period = "last_week"
	PeriodThisMonth   Period = "this_month"
	PeriodLastMonth   Period = "last_month"
	PeriodThisQuarter Period = "this_quarter"
	PeriodLastQuarter Period = "last_quarter"
	PeriodThisYear    Period = "this_year"
	PeriodLastYear    Period = "last_year"
	PeriodLast7Days   Period = "last_7_days"
	PeriodLast30Days  Period = "last_30_days"
	PeriodLast90Days  Period = "last_90_days"
	PeriodCustom      Period = "custom"
)

// Periods 支持的周期，按展示顺序
var Periods = []Period{
	PeriodToday, PeriodYesterday,
	PeriodThisWeek, PeriodLastWeek,
	PeriodThisMonth, PeriodLastMonth,
	PeriodThisQuarter, PeriodLastQuarter,
	PeriodThisYear, PeriodLastYear,
	PeriodLast7Days, PeriodLast30Days, PeriodLast90Days,
	PeriodCustom,
}

// DateRange 闭区间
type DateRange struct {
	Start time.Time `json:"startDate"`
	End   time.Time `json:"endDate"`
}

func midnight(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// span 从 start 开始、到 next 之前一纳秒结束
func span(start, next time.Time) DateRange {
	return DateRange{Start: start, End: next.Add(-time.Nanosecond)}
}

func rolling(now time.Time, days int) DateRange {
	return DateRange{Start: midnight(now.AddDate(0, 0, -days)), End: now}
}

// ExpandPeriod 在 loc 时区的日历上展开周期。
// custom 使用传入的区间，缺少任一端时按 last_30_days 处理；无法识别的周期同样按 last_30_days 处理。
func ExpandPeriod(period Period, now time.Time, loc *time.Location, custom *DateRange) DateRange {
	if loc == nil {
		loc = time.UTC
	}
	now = now.In(loc)
	today := midnight(now)

	switch period {
	case PeriodToday:
		return span(today, today.AddDate(0, 0, 1))
	case PeriodYesterday:
		return span(today.AddDate(0, 0, -1), today)

	case PeriodThisWeek, PeriodLastWeek:
		// 周日为一周的第一天
		sunday := today.AddDate(0, 0, -int(today.Weekday()))
		if period == PeriodLastWeek {
			sunday = sunday.AddDate(0, 0, -7)
		}
		return span(sunday, sunday.AddDate(0, 0, 7))

	case PeriodThisMonth, PeriodLastMonth:
		first := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, loc)
		if period == PeriodLastMonth {
			first = first.AddDate(0, -1, 0)
		}
		return span(first, first.AddDate(0, 1, 0))

	case PeriodThisQuarter, PeriodLastQuarter:
		qMonth := time.Month((int(now.Month())-1)/3*3 + 1)
		first := time.Date(now.Year(), qMonth, 1, 0, 0, 0, 0, loc)
		if period == PeriodLastQuarter {
			first = first.AddDate(0, -3, 0)
		}
		return span(first, first.AddDate(0, 3, 0))

	case PeriodThisYear, PeriodLastYear:
		year := now.Year()
		if period == PeriodLastYear {
			year--
		}
		first := time.Date(year, time.January, 1, 0, 0, 0, 0, loc)
		return span(first, first.AddDate(1, 0, 0))

	case PeriodLast7Days:
		return rolling(now, 7)
	case PeriodLast90Days:
		return rolling(now, 90)

	case PeriodCustom:
		if custom != nil && !custom.Start.IsZero() && !custom.End.IsZero() {
			return DateRange{Start: custom.Start.In(loc), End: custom.End.In(loc)}
		}
	}

	return rolling(now, 30)
}

// Known 是否为支持的周期
func (p Period) Known() bool {
	for _, known := range Periods {
		if p == known {
			return true
		}
	}
	return false
}
