package ledger

import "time"

// Calendar 把时间点换算为账本日期
type Calendar struct {
	loc *time.Location
	now func() time.Time
}

// NewCalendar 创建日历，loc 为 nil 时使用 UTC
func NewCalendar(loc *time.Location, now func() time.Time) Calendar {
	if loc == nil {
		loc = time.UTC
	}
	if now == nil {
		now = time.Now
	}
	return Calendar{loc: loc, now: now}
}

// Location 日历时区
func (c Calendar) Location() *time.Location {
	if c.loc == nil {
		return time.UTC
	}
	return c.loc
}

// Now 当前时间（日历时区）
func (c Calendar) Now() time.Time {
	if c.now == nil {
		return time.Now().In(c.Location())
	}
	return c.now().In(c.Location())
}

// Date 时间点对应的账本日期
func (c Calendar) Date(t time.Time) string {
	return t.In(c.Location()).Format(DateLayout)
}

// Today 今天的账本日期
func (c Calendar) Today() string {
	return c.Date(c.Now())
}

// MonthToDate 本月第一天到今天
func (c Calendar) MonthToDate() (from, to string) {
	now := c.Now()
	first := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, c.Location())
	return first.Format(DateLayout), now.Format(DateLayout)
}
