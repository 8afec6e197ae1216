package heatsim

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/okian/wodboard/internal/adapters/http/api"
	service "github.com/okian/wodboard/internal/app"
	"github.com/okian/wodboard/pkg/logger"
)

const readHeaderTimeout = 5 * time.Second

// Local is an in-process scoring service on a loopback port.
type Local struct {
	URL string
	svc *service.Service
	srv *http.Server
}

// StartLocal boots a service with opts and serves the API on 127.0.0.1.
func StartLocal(ctx context.Context, opts ...service.Option) (*Local, error) {
	svc := service.New(opts...)
	if err := svc.Start(ctx); err != nil {
		return nil, fmt.Errorf("start service: %w", err)
	}
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		_ = svc.Stop(ctx)
		return nil, fmt.Errorf("listen: %w", err)
	}
	mux := http.NewServeMux()
	api.NewServer(svc, nil).Register(ctx, mux)
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: readHeaderTimeout}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Get().Error(ctx, "local server stopped", logger.Error(err))
		}
	}()
	return &Local{URL: "http://" + ln.Addr().String(), svc: svc, srv: srv}, nil
}

// Close shuts the server down, then the service.
func (l *Local) Close(ctx context.Context) error {
	return errors.Join(l.srv.Shutdown(ctx), l.svc.Stop(ctx))
}
