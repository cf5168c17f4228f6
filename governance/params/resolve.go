package params

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	StartDateKey = "startDate"
	EndDateKey   = "endDate"
)

// Values 参数对象
type Values map[string]any

// DashboardFilter 看板当前的筛选条件
type DashboardFilter struct {
	Period Period `json:"period,omitempty"`
	// custom 周期的区间
	StartDate string `json:"startDate,omitempty"`
	EndDate   string `json:"endDate,omitempty"`
	// 其它筛选字段（如 status）原样参与合并
	Fields Values `json:"fields,omitempty"`
}

// Options 合并选项
type Options struct {
	DashboardFilter *DashboardFilter
	ForcedParams    Values
	// Now 周期展开的参考时间，零值为当前时间
	Now time.Time
	// Location 主体的本地时区，nil 为 UTC
	Location *time.Location
}

// FieldError 单个字段的校验错误
type FieldError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

const (
	CodeRequired = "required"
	CodeInvalid  = "invalid"
)

// ValidationError 合并后的参数未通过校验
type ValidationError struct {
	Schema string       `json:"schema"`
	Errors []FieldError `json:"errors"`
}

func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Errors))
	for i, fe := range e.Errors {
		parts[i] = fe.Field + ": " + fe.Message
	}
	return fmt.Sprintf("invalid parameters for %s: %s", e.Schema, strings.Join(parts, "; "))
}

// Result SafeResolveParams 的结果
type Result struct {
	Success bool         `json:"success"`
	Params  Values       `json:"params,omitempty"`
	Errors  []FieldError `json:"errors,omitempty"`
}

// Merge 按优先级浅合并：schema 默认值 < 看板推导值 < 助手参数 < 强制参数
func Merge(schema Schema, aiParams Values, opts Options) Values {
	merged := schema.Defaults()
	for k, v := range dashboardValues(opts) {
		merged[k] = v
	}
	for k, v := range aiParams {
		merged[k] = v
	}
	for k, v := range opts.ForcedParams {
		merged[k] = v
	}
	return merged
}

// dashboardValues 展开周期并带上其它筛选字段
func dashboardValues(opts Options) Values {
	f := opts.DashboardFilter
	if f == nil {
		return nil
	}
	out := make(Values, len(f.Fields)+2)
	for k, v := range f.Fields {
		out[k] = v
	}
	if f.Period == "" {
		return out
	}

	loc := opts.Location
	if loc == nil {
		loc = time.UTC
	}
	now := opts.Now
	if now.IsZero() {
		now = time.Now()
	}

	var custom *DateRange
	if f.Period == PeriodCustom {
		custom = parseCustom(f.StartDate, f.EndDate, loc)
	}
	r := ExpandPeriod(f.Period, now, loc, custom)
	out[StartDateKey] = r.Start
	out[EndDateKey] = r.End
	return out
}

func parseCustom(start, end string, loc *time.Location) *DateRange {
	date := Field{Type: TypeDate}
	s, err1 := date.coerce(start, loc)
	e, err2 := date.coerce(end, loc)
	if err1 != nil || err2 != nil {
		return nil
	}
	r := DateRange{Start: s.(time.Time), End: e.(time.Time)}
	// 只有日期的结束值包含当天
	if len(strings.TrimSpace(end)) == len("2006-01-02") {
		r.End = r.End.AddDate(0, 0, 1).Add(-time.Nanosecond)
	}
	return &r
}

// ResolveParams 合并并按 Schema 校验参数，失败时返回 *ValidationError。
// Schema 未声明任何字段时不做校验，合并结果原样返回。
func ResolveParams(schema Schema, aiParams Values, opts Options) (Values, error) {
	merged := Merge(schema, aiParams, opts)
	if len(schema.Fields) == 0 {
		return merged, nil
	}
	loc := opts.Location
	if loc == nil {
		loc = time.UTC
	}

	out := make(Values, len(schema.Fields))
	var errs []FieldError
	for _, f := range schema.Fields {
		v, ok := merged[f.Name]
		if !ok || v == nil || v == "" {
			if f.Default == nil {
				if f.Required {
					errs = append(errs, FieldError{Field: f.Name, Code: CodeRequired, Message: "is required"})
				}
				continue
			}
			v = f.Default
		}

		coerced, err := f.coerce(v, loc)
		if err != nil {
			errs = append(errs, FieldError{Field: f.Name, Code: CodeInvalid, Message: err.Error()})
			continue
		}
		out[f.Name] = coerced
	}

	if len(errs) > 0 {
		return nil, &ValidationError{Schema: schema.Name, Errors: errs}
	}
	return out, nil
}

// SafeResolveParams 与 ResolveParams 相同，但以 Result 报告失败
func SafeResolveParams(schema Schema, aiParams Values, opts Options) Result {
	out, err := ResolveParams(schema, aiParams, opts)
	if err != nil {
		var ve *ValidationError
		if errors.As(err, &ve) {
			return Result{Success: false, Errors: ve.Errors}
		}
		return Result{Success: false, Errors: []FieldError{{Code: CodeInvalid, Message: err.Error()}}}
	}
	return Result{Success: true, Params: out}
}
