package worker

import (
	"net"
	"sync"
)

// limitListener caps the number of simultaneously accepted connections.
//
// Accept blocks while the limit is reached, which applies backpressure at
// the TCP layer instead of failing requests.
func limitListener(ln net.Listener, max int) net.Listener {
	return &limitedListener{
		Listener:  ln,
		semaphore: make(chan struct{}, max),
	}
}

type limitedListener struct {
	net.Listener
	semaphore chan struct{}
}

func (l *limitedListener) Accept() (net.Conn, error) {
	l.semaphore <- struct{}{}

	conn, err := l.Listener.Accept()
	if err != nil {
		<-l.semaphore
		return nil, err
	}

	return &limitedConn{Conn: conn, release: l.semaphore}, nil
}

type limitedConn struct {
	net.Conn
	release   chan struct{}
	closeOnce sync.Once
}

// Close releases the semaphore slot exactly once even if called repeatedly.
func (c *limitedConn) Close() error {
	err := c.Conn.Close()
	c.closeOnce.Do(func() {
		<-c.release
	})
	return err
}
