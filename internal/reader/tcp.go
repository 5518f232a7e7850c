package reader

import (
	"bufio"
	"context"
	"net"
	"strings"
	"sync/atomic"
	"time"

	"vitalwatch/internal/logger"
	"vitalwatch/internal/metrics"
	"vitalwatch/internal/models"
)

// TCPReader streams `patientId,timestamp,label,value` lines from a
// simulator endpoint into the ingest channel, reconnecting until its
// context ends.
type TCPReader struct {
	addr       string
	out        chan<- models.Measurement
	minBackoff time.Duration
	maxBackoff time.Duration
	dialer     net.Dialer

	accepted atomic.Uint64
	rejected atomic.Uint64
}

// TCPOption configures a TCPReader
type TCPOption func(*TCPReader)

// WithBackoff sets the reconnect backoff bounds.
func WithBackoff(min, max time.Duration) TCPOption {
	return func(r *TCPReader) {
		r.minBackoff = min
		r.maxBackoff = max
	}
}

// NewTCPReader creates a reader for addr (host:port).
func NewTCPReader(addr string, out chan<- models.Measurement, opts ...TCPOption) *TCPReader {
	r := &TCPReader{
		addr:       addr,
		out:        out,
		minBackoff: 500 * time.Millisecond,
		maxBackoff: 30 * time.Second,
		dialer:     net.Dialer{Timeout: 5 * time.Second},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run connects and reads until ctx is cancelled.
func (r *TCPReader) Run(ctx context.Context) error {
	log := logger.WithComponent("tcp_reader").With().Str("addr", r.addr).Logger()
	backoff := r.minBackoff

	for {
		conn, err := r.dialer.DialContext(ctx, "tcp", r.addr)
		if err == nil {
			log.Info().Msg("connected")
			backoff = r.minBackoff
			if err := r.consume(ctx, conn); err != nil {
				log.Warn().Err(err).Msg("connection lost")
			}
		} else if ctx.Err() == nil {
			log.Warn().Err(err).Dur("backoff", backoff).Msg("connect failed")
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoff):
		}

		backoff *= 2
		if backoff > r.maxBackoff {
			backoff = r.maxBackoff
		}
	}
}

// consume reads lines from conn until EOF, a read error or ctx ends.
func (r *TCPReader) consume(ctx context.Context, conn net.Conn) error {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()
	defer conn.Close()

	log := logger.WithComponent("tcp_reader")
	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		m, err := models.ParseStreamLine(line)
		if err != nil {
			log.Debug().Err(err).Str("line", line).Msg("dropping malformed line")
			r.rejected.Add(1)
			metrics.IngestMeasurementsTotal.WithLabelValues("tcp", "rejected").Inc()
			continue
		}

		select {
		case r.out <- m:
			r.accepted.Add(1)
			metrics.IngestMeasurementsTotal.WithLabelValues("tcp", "accepted").Inc()
		case <-ctx.Done():
			return nil
		}
	}
	if ctx.Err() != nil {
		return nil
	}
	return scanner.Err()
}

// Stats returns reader counters
func (r *TCPReader) Stats() TCPStats {
	return TCPStats{
		Accepted: r.accepted.Load(),
		Rejected: r.rejected.Load(),
	}
}

// TCPStats holds reader counters
type TCPStats struct {
	Accepted uint64 `json:"accepted"`
	Rejected uint64 `json:"rejected"`
}
