package budget

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/agentgov/types"
)

// AlertType 告警类型
type AlertType string

const (
	AlertOrgDaily  AlertType = "org_daily_threshold"
	AlertUserDaily AlertType = "user_daily_threshold"
)

// Alert 预算告警
type Alert struct {
	Type           AlertType `json:"type"`
	OrganizationID string    `json:"organization_id"`
	UserID         string    `json:"user_id,omitempty"`
	Message        string    `json:"message"`
	Threshold      float64   `json:"threshold"`
	Current        float64   `json:"current"`
	Timestamp      time.Time `json:"timestamp"`
}

// AlertHandler 处理预算告警，在独立的 goroutine 中调用
type AlertHandler func(alert Alert)

// OnAlert 注册告警处理器
func (e *Enforcer) OnAlert(handler AlertHandler) {
	e.alertMu.Lock()
	defer e.alertMu.Unlock()
	e.alertHandlers = append(e.alertHandlers, handler)
}

// checkAlerts 用量达到阈值时每个作用域每天告警一次
func (e *Enforcer) checkAlerts(subject types.Subject, today string, usage Usage) {
	e.alertMu.Lock()
	defer e.alertMu.Unlock()

	if e.alertDate != today {
		e.alertDate = today
		e.alerted = make(map[string]bool)
	}

	orgUtil := float64(usage.OrgDailyCents) / float64(e.limits.OrgDailyCents)
	if orgUtil >= e.alertThreshold {
		key := "org:" + subject.OrganizationID
		if !e.alerted[key] {
			e.alerted[key] = true
			e.fireAlert(Alert{
				Type:           AlertOrgDaily,
				OrganizationID: subject.OrganizationID,
				Message:        fmt.Sprintf("organization daily AI spend at %.0f%% of limit", orgUtil*100),
				Threshold:      e.alertThreshold,
				Current:        orgUtil,
				Timestamp:      e.calendar.Now(),
			})
		}
	}

	if !subject.HasUser() {
		return
	}
	userUtil := float64(usage.UserDailyCents) / float64(e.limits.UserDailyCents)
	if userUtil >= e.alertThreshold {
		key := "user:" + subject.OrganizationID + ":" + subject.SubjectID
		if !e.alerted[key] {
			e.alerted[key] = true
			e.fireAlert(Alert{
				Type:           AlertUserDaily,
				OrganizationID: subject.OrganizationID,
				UserID:         subject.SubjectID,
				Message:        fmt.Sprintf("personal daily AI spend at %.0f%% of limit", userUtil*100),
				Threshold:      e.alertThreshold,
				Current:        userUtil,
				Timestamp:      e.calendar.Now(),
			})
		}
	}
}

// fireAlert 调用方持有 alertMu
func (e *Enforcer) fireAlert(alert Alert) {
	e.logger.Warn("budget alert",
		zap.String("type", string(alert.Type)),
		zap.String("organization_id", alert.OrganizationID),
		zap.String("message", alert.Message),
		zap.Float64("threshold", alert.Threshold),
		zap.Float64("current", alert.Current),
	)
	for _, handler := range e.alertHandlers {
		go handler(alert)
	}
}
