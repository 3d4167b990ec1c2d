package domain

import "errors"

var ErrInvalidAuditLog = errors.New("invalid_audit_log")
