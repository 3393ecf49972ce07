package tcpproxy

import (
	"context"
	"net"

	"github.com/rs/zerolog/log"
)

// Serve accepts connections on ln until ctx is canceled, handing each
// one to f.HandleConnection in its own goroutine.
func Serve(ctx context.Context, ln net.Listener, f *Filter) error {
	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Error().Err(err).Msg("tcpproxy: accept failed")
			return err
		}
		go f.HandleConnection(ctx, conn)
	}
}
