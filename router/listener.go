package router

import (
	"context"
	"errors"
	"net"
	"sync"

	reuseport "github.com/kavu/go_reuseport"
	"go.uber.org/zap"
)

// Listener accepts client connections and hands each one to a Router,
// grounded on transport/tcp.go's TCPListener.Listen: a reuseport
// listener serviced by a ctx.Done()-vs-Accept() select loop, with a
// per-accept sync.WaitGroup and the same "use of closed network
// connection" clean-shutdown special case.
type Listener struct {
	addr   string
	router *Router
	log    *zap.Logger
}

// NewListener returns a Listener bound to addr that will hand every
// accepted connection to router.
func NewListener(addr string, router *Router, log *zap.Logger) *Listener {
	return &Listener{addr: addr, router: router, log: log}
}

// Listen accepts connections until ctx is cancelled, blocking until the
// listener and every accepted connection's loops have stopped.
func (l *Listener) Listen(ctx context.Context) error {
	listener, err := reuseport.Listen("tcp", l.addr)
	if err != nil {
		return err
	}
	defer listener.Close()

	var loopWaiter sync.WaitGroup

	go func() {
		<-ctx.Done()
		l.log.Info("closing listener", zap.String("addr", l.addr))
		if err := listener.Close(); err != nil {
			l.log.Warn("listener did not close cleanly", zap.Error(err))
		}
	}()

	for {
		conn, err := listener.Accept()
		if err != nil {
			var netOpError *net.OpError
			if errors.As(err, &netOpError) && netOpError.Unwrap() != nil && netOpError.Unwrap().Error() == "use of closed network connection" {
				loopWaiter.Wait()
				return nil
			}
			if ctx.Err() != nil {
				loopWaiter.Wait()
				return nil
			}
			return err
		}

		loopWaiter.Add(1)
		go func() {
			defer loopWaiter.Done()
			c := l.router.AcceptClient(conn)
			c.Start()
		}()
	}
}
