package budget

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/BaSui01/agentgov/governance/ledger"
	"github.com/BaSui01/agentgov/types"
)

// Line 单个作用域的用量与上限
type Line struct {
	UsedCents      int64   `json:"used_cents"`
	LimitCents     int64   `json:"limit_cents"`
	RemainingCents int64   `json:"remaining_cents"`
	Utilization    float64 `json:"utilization"`
}

func newLine(used, limit int64) Line {
	remaining := limit - used
	if remaining < 0 {
		remaining = 0
	}
	var util float64
	if limit > 0 {
		util = float64(used) / float64(limit)
	}
	return Line{UsedCents: used, LimitCents: limit, RemainingCents: remaining, Utilization: util}
}

// Status 预算状态视图
type Status struct {
	Date       string `json:"date"`
	OrgDaily   Line   `json:"org_daily"`
	UserDaily  *Line  `json:"user_daily,omitempty"`
	OrgMonthly Line   `json:"org_monthly"`
	MonthFrom  string `json:"month_from"`
}

// Status 返回当天与本月的用量。与 CheckBudget 不同，汇总失败时返回错误。
func (e *Enforcer) Status(ctx context.Context, subject types.Subject) (Status, error) {
	today := e.calendar.Today()
	monthFrom, monthTo := e.calendar.MonthToDate()

	var orgDaily, userDaily, orgMonthly int64
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		orgDaily, err = e.ledger.SumCostCents(gctx, ledger.OrgRange(subject.OrganizationID, today, today))
		return err
	})
	g.Go(func() (err error) {
		orgMonthly, err = e.ledger.SumCostCents(gctx, ledger.OrgRange(subject.OrganizationID, monthFrom, monthTo))
		return err
	})
	if subject.HasUser() {
		g.Go(func() (err error) {
			userDaily, err = e.ledger.SumCostCents(gctx, ledger.UserRange(subject.OrganizationID, subject.SubjectID, today, today))
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return Status{}, fmt.Errorf("budget status: %w", err)
	}

	st := Status{
		Date:       today,
		OrgDaily:   newLine(orgDaily, e.limits.OrgDailyCents),
		OrgMonthly: newLine(orgMonthly, e.limits.OrgMonthlyCents()),
		MonthFrom:  monthFrom,
	}
	if subject.HasUser() {
		line := newLine(userDaily, e.limits.UserDailyCents)
		st.UserDaily = &line
	}
	return st, nil
}
