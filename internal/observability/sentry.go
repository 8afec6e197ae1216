// Package observability reports failures operators must look at.
package observability

import (
	"context"
	"fmt"
	"time"

	"github.com/getsentry/sentry-go"

	"github.com/okian/wodboard/pkg/logger"
)

const flushTimeout = 2 * time.Second

// InitSentry configures the global Sentry client. An empty dsn disables
// reporting; the returned flush func is always safe to call.
func InitSentry(dsn, env, release string) (func(), error) {
	if dsn == "" {
		return func() {}, nil
	}
	if err := sentry.Init(sentry.ClientOptions{
		Dsn:         dsn,
		Environment: env,
		Release:     release,
	}); err != nil {
		return func() {}, fmt.Errorf("sentry init: %w", err)
	}
	return func() { sentry.Flush(flushTimeout) }, nil
}

// CaptureErr sends err to Sentry when a client is configured.
func CaptureErr(err error) {
	if err != nil {
		sentry.CaptureException(err)
	}
}

// Alerter logs at error level and forwards to Sentry with tags.
type Alerter struct {
	hub *sentry.Hub
	log logger.Logger
}

// NewAlerter uses hub, or the current hub when hub is nil.
func NewAlerter(hub *sentry.Hub) *Alerter {
	if hub == nil {
		hub = sentry.CurrentHub()
	}
	return &Alerter{hub: hub, log: logger.Get().Named("alert")}
}

// Alert reports err. Tags end up on the Sentry event and in the log line.
func (a *Alerter) Alert(ctx context.Context, err error, tags map[string]string) {
	if err == nil {
		return
	}
	fields := make([]logger.Field, 0, len(tags)+1)
	for k, v := range tags {
		fields = append(fields, logger.String(k, v))
	}
	fields = append(fields, logger.Error(err))
	a.log.Error(ctx, "operator alert", fields...)

	a.hub.WithScope(func(scope *sentry.Scope) {
		scope.SetTags(tags)
		a.hub.CaptureException(err)
	})
}

// Recover turns a panic in the calling goroutine into an alert. Defer it
// at goroutine roots.
func (a *Alerter) Recover(ctx context.Context, where string) {
	if r := recover(); r != nil {
		a.Alert(ctx, fmt.Errorf("panic in %s: %v", where, r), map[string]string{"component": where})
	}
}
