package core

import (
	"context"
)

// AuthEventLogger records authentication events to an external sink (e.g., ClickHouse).
// Implementations should be non-blocking and best-effort; returned errors are
// logged and otherwise ignored.
type AuthEventLogger interface {
	// LogValidation is called once per issuer a token was checked against.
	// err is nil when the token verified.
	LogValidation(ctx context.Context, issuer string, subject string, err error) error
	// LogTokenAcquired is called after every token endpoint exchange.
	LogTokenAcquired(ctx context.Context, client string, grant GrantType, expiresIn int64, err error) error
}
