package logger

import (
	"context"
	"log/slog"
	"time"
)

// Two-factor audit event types
const (
	EventTwoFactorSetup    = "two_factor_setup"
	EventTwoFactorEnable   = "two_factor_enable"
	EventTwoFactorDisable  = "two_factor_disable"
	EventTwoFactorVerify   = "two_factor_verify"
	EventLoginPassword     = "login_password"
	EventLoginSecondFactor = "login_second_factor"
)

// AuditEvent represents a security audit event
type AuditEvent struct {
	EventType     string
	UserID        string
	IPAddress     string
	Success       bool
	FailureReason string
	Metadata      map[string]string
}

// AuditLogger writes security events as structured log records
type AuditLogger struct {
	logger *slog.Logger
}

// NewAuditLogger creates a new audit logger
func NewAuditLogger(logger *slog.Logger) *AuditLogger {
	return &AuditLogger{
		logger: logger,
	}
}

// LogTwoFactorEvent logs setup, enable, disable and verify outcomes
func (al *AuditLogger) LogTwoFactorEvent(event AuditEvent) {
	al.log("two_factor", event)
}

// LogLoginEvent logs password and second-factor login outcomes
func (al *AuditLogger) LogLoginEvent(event AuditEvent) {
	al.log("auth", event)
}

func (al *AuditLogger) log(auditType string, event AuditEvent) {
	attrs := []slog.Attr{
		slog.String("audit_type", auditType),
		slog.String("event_type", event.EventType),
		slog.Bool("success", event.Success),
		slog.String("timestamp", time.Now().UTC().Format(time.RFC3339)),
	}

	if event.UserID != "" {
		attrs = append(attrs, slog.String("user_id", event.UserID))
	}
	if event.IPAddress != "" {
		attrs = append(attrs, slog.String("ip_address", event.IPAddress))
	}
	if event.FailureReason != "" {
		attrs = append(attrs, slog.String("failure_reason", event.FailureReason))
	}
	for key, val := range event.Metadata {
		attrs = append(attrs, slog.String(key, val))
	}

	level := slog.LevelInfo
	if !event.Success {
		level = slog.LevelWarn
	}
	al.logger.LogAttrs(context.Background(), level, "audit", attrs...)
}
