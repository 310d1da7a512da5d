package driver

import (
	"fmt"
	"net/http"
	"time"

	"github.com/conduktor/kafka-connect-opentelemetry/pkg/grpcserver"
	"github.com/conduktor/kafka-connect-opentelemetry/pkg/httpserver"
)

// startHTTP builds the OTLP HTTP receiver's router and starts it on its
// own listener in the background, mirroring startGRPC's fire-and-report
// startup check.
func (d *Driver) startHTTP(sink grpcserver.Sink) error {
	receiver := httpserver.New(sink, d.codec, d.log, d.cfg.HTTPMaxBodyBytes)

	handler := httpserver.AccessLogMiddleware(d.log)(receiver.Router())

	addr := fmt.Sprintf("%s:%d", d.cfg.BindAddress, d.cfg.HTTPPort)
	srv := &http.Server{
		Addr:    addr,
		Handler: handler,
	}
	d.httpSrv = srv

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-time.After(50 * time.Millisecond):
		d.log.Info().Str("addr", addr).Msg("otlp HTTP receiver listening")
		return nil
	}
}
