package logging

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// AuditEventType represents the type of audit event
type AuditEventType string

const (
	// Key lifecycle
	AuditEventKeyGenerate AuditEventType = "api_key_generate"

	// Profile administration
	AuditEventProfileRegister  AuditEventType = "profile_register"
	AuditEventRateLimitUpdate  AuditEventType = "rate_limit_update"
	AuditEventProfileDelete    AuditEventType = "profile_delete"
	AuditEventDomainAdd        AuditEventType = "domain_add"
	AuditEventDomainRemove     AuditEventType = "domain_remove"
	AuditEventAddressChange    AuditEventType = "address_change"
	AuditEventAuthFailure      AuditEventType = "auth_failure"
	AuditEventLookup           AuditEventType = "postcode_lookup"
	AuditEventUsageWriteFailed AuditEventType = "usage_write_failed"
)

// AuditOutcome represents the outcome of an audit event
type AuditOutcome string

const (
	AuditOutcomeSuccess AuditOutcome = "success"
	AuditOutcomeFailure AuditOutcome = "failure"
	AuditOutcomeError   AuditOutcome = "error"
)

// AuditEvent represents a security or accounting relevant event.
type AuditEvent struct {
	EventType     AuditEventType `json:"event_type"`
	Actor         string         `json:"actor,omitempty"`  // user id, "admin" or "management_api"
	Target        string         `json:"target,omitempty"` // resource being acted upon
	Outcome       AuditOutcome   `json:"outcome"`
	Reason        string         `json:"reason,omitempty"`
	RequestID     string         `json:"request_id,omitempty"`
	CorrelationID string         `json:"correlation_id,omitempty"`
	UserID        string         `json:"user_id,omitempty"`
	APIKey        string         `json:"api_key,omitempty"` // always obfuscated
	ClientIP      string         `json:"client_ip,omitempty"`
	UserAgent     string         `json:"user_agent,omitempty"`
	Timestamp     time.Time      `json:"timestamp"`
	Details       map[string]any `json:"details,omitempty"`
}

// AuditLogger writes audit events through a dedicated zap logger.
type AuditLogger struct {
	logger *zap.Logger
}

// NewAuditLogger creates a new audit logger using the provided base logger
func NewAuditLogger(baseLogger *zap.Logger) *AuditLogger {
	if baseLogger == nil {
		baseLogger = zap.NewNop()
	}
	return &AuditLogger{
		logger: baseLogger.With(zap.String("log_type", "audit")),
	}
}

// LogEvent logs an audit event with structured fields
func (a *AuditLogger) LogEvent(ctx context.Context, event AuditEvent) {
	if a == nil {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	if event.RequestID == "" {
		event.RequestID = GetRequestID(ctx)
	}
	if event.CorrelationID == "" {
		event.CorrelationID = GetCorrelationID(ctx)
	}
	if event.UserID == "" {
		event.UserID = GetUserID(ctx)
	}

	fields := []zap.Field{
		zap.String(FieldEventType, string(event.EventType)),
		zap.String(FieldOutcome, string(event.Outcome)),
		zap.Time("timestamp", event.Timestamp),
	}
	optional := []struct{ key, val string }{
		{FieldActor, event.Actor},
		{FieldTarget, event.Target},
		{FieldReason, event.Reason},
		{FieldRequestID, event.RequestID},
		{FieldCorrelationID, event.CorrelationID},
		{FieldUserID, event.UserID},
		{FieldAPIKey, event.APIKey},
		{FieldClientIP, event.ClientIP},
		{FieldUserAgent, event.UserAgent},
	}
	for _, f := range optional {
		if f.val != "" {
			fields = append(fields, zap.String(f.key, f.val))
		}
	}
	if len(event.Details) > 0 {
		fields = append(fields, zap.Any("details", event.Details))
	}

	switch event.Outcome {
	case AuditOutcomeFailure, AuditOutcomeError:
		a.logger.Warn("Audit event", fields...)
	default:
		a.logger.Info("Audit event", fields...)
	}
}

// LogKeyGenerated records issuance of a new API key for a profile.
func (a *AuditLogger) LogKeyGenerated(ctx context.Context, userID, obfuscatedKey string, outcome AuditOutcome, reason string) {
	a.LogEvent(ctx, AuditEvent{
		EventType: AuditEventKeyGenerate,
		Actor:     userID,
		Target:    userID,
		UserID:    userID,
		APIKey:    obfuscatedKey,
		Outcome:   outcome,
		Reason:    reason,
	})
}

// LogProfileRegistered records a profile created for a new identity.
func (a *AuditLogger) LogProfileRegistered(ctx context.Context, userID, email, actor string, outcome AuditOutcome, reason string) {
	a.LogEvent(ctx, AuditEvent{
		EventType: AuditEventProfileRegister,
		Actor:     actor,
		Target:    userID,
		Outcome:   outcome,
		Reason:    reason,
		Details:   map[string]any{"email": email},
	})
}

// LogRateLimitUpdate records an administrator changing a profile's rate limit.
func (a *AuditLogger) LogRateLimitUpdate(ctx context.Context, userID, actor string, oldLimit, newLimit int, outcome AuditOutcome, reason string) {
	a.LogEvent(ctx, AuditEvent{
		EventType: AuditEventRateLimitUpdate,
		Actor:     actor,
		Target:    userID,
		Outcome:   outcome,
		Reason:    reason,
		Details: map[string]any{
			"old_rate_limit": oldLimit,
			"new_rate_limit": newLimit,
		},
	})
}

// LogProfileDelete records removal of a profile.
func (a *AuditLogger) LogProfileDelete(ctx context.Context, userID, actor string, outcome AuditOutcome, reason string) {
	a.LogEvent(ctx, AuditEvent{
		EventType: AuditEventProfileDelete,
		Actor:     actor,
		Target:    userID,
		Outcome:   outcome,
		Reason:    reason,
	})
}

// LogDomainChange records an allowed-domain edit. added selects add vs remove.
func (a *AuditLogger) LogDomainChange(ctx context.Context, userID, domain string, added bool, outcome AuditOutcome, reason string) {
	eventType := AuditEventDomainRemove
	if added {
		eventType = AuditEventDomainAdd
	}
	a.LogEvent(ctx, AuditEvent{
		EventType: eventType,
		Actor:     userID,
		Target:    domain,
		UserID:    userID,
		Outcome:   outcome,
		Reason:    reason,
	})
}

// LogAddressChange records create/update/delete of a residential address.
func (a *AuditLogger) LogAddressChange(ctx context.Context, addressID, actor, operation string, outcome AuditOutcome, reason string) {
	a.LogEvent(ctx, AuditEvent{
		EventType: AuditEventAddressChange,
		Actor:     actor,
		Target:    addressID,
		Outcome:   outcome,
		Reason:    reason,
		Details:   map[string]any{"operation": operation},
	})
}

// LogAuthFailure logs an authentication failure event
func (a *AuditLogger) LogAuthFailure(ctx context.Context, obfuscatedKey, reason, clientIP, userAgent string) {
	a.LogEvent(ctx, AuditEvent{
		EventType: AuditEventAuthFailure,
		Actor:     "anonymous",
		APIKey:    obfuscatedKey,
		Outcome:   AuditOutcomeFailure,
		Reason:    reason,
		ClientIP:  clientIP,
		UserAgent: userAgent,
	})
}

// LogLookup records the outcome of one proxied postcode lookup.
func (a *AuditLogger) LogLookup(ctx context.Context, userID, endpoint, postcode string, statusCode int, outcome AuditOutcome, reason string, duration time.Duration) {
	a.LogEvent(ctx, AuditEvent{
		EventType: AuditEventLookup,
		Actor:     userID,
		Target:    endpoint,
		UserID:    userID,
		Outcome:   outcome,
		Reason:    reason,
		Details: map[string]any{
			"postcode":    postcode,
			"status_code": statusCode,
			"duration_ms": duration.Milliseconds(),
		},
	})
}

// LogUsageWriteFailure reports a usage record that could not be persisted.
// The lookup response is unaffected; this event is the only trace of the loss.
func (a *AuditLogger) LogUsageWriteFailure(ctx context.Context, userID, endpoint, status string, err error) {
	reason := ""
	if err != nil {
		reason = err.Error()
	}
	a.LogEvent(ctx, AuditEvent{
		EventType: AuditEventUsageWriteFailed,
		Actor:     "system",
		Target:    endpoint,
		UserID:    userID,
		Outcome:   AuditOutcomeError,
		Reason:    reason,
		Details:   map[string]any{"usage_status": status},
	})
}
