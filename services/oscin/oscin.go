// Package oscin receives the producer's normalised coordinates over OSC/UDP
// and writes them into the variable store.
package oscin

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hypebeast/go-osc/osc"

	"stagetrack/bus"
	"stagetrack/types"
	"stagetrack/x/decode"
	"stagetrack/x/mathx"
	"stagetrack/x/strx"
	"stagetrack/x/timex"
)

const (
	DefaultListen   = "0.0.0.0:8000"
	DefaultAddressX = "/stage/person1/x"
	DefaultAddressY = "/stage/person1/y"

	maxDatagram = 65535
)

var (
	TopicConfig = bus.T("config", "osc_in")
	TopicState  = bus.T("oscin", "state")
)

// Sink is where decoded samples go; varstore.Store satisfies it.
type Sink interface {
	SetNormalized(name string, v float64)
	NameX() string
	NameY() string
}

// -----------------------------------------------------------------------------
// Public entry point
// -----------------------------------------------------------------------------

// Start runs the receiver until ctx is cancelled. It waits for configuration
// on config/osc_in and (re)binds the socket whenever a new one arrives.
func Start(ctx context.Context, conn *bus.Connection, sink Sink, log *slog.Logger) {
	NewService(conn, sink, log).Run(ctx)
}

// -----------------------------------------------------------------------------
// Service
// -----------------------------------------------------------------------------

type Service struct {
	conn *bus.Connection
	sink Sink
	log  *slog.Logger

	mu     sync.Mutex
	curRun context.CancelFunc
	curCfg types.OSCInConfig
	local  net.Addr

	received atomic.Uint64
	dropped  atomic.Uint64
}

func NewService(conn *bus.Connection, sink Sink, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{conn: conn, sink: sink, log: log.With("svc", "oscin")}
}

// Stats reports accepted and rejected samples since start.
func (s *Service) Stats() (received, dropped uint64) {
	return s.received.Load(), s.dropped.Load()
}

// LocalAddr is the bound socket address, or nil when not listening.
func (s *Service) LocalAddr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.local
}

func (s *Service) Run(ctx context.Context) {
	cfgSub := s.conn.Subscribe(TopicConfig)
	defer s.conn.Unsubscribe(cfgSub)

	s.publishState("idle", "awaiting_config", nil)

	for {
		select {
		case <-ctx.Done():
			s.stopCurrent()
			return
		case msg, ok := <-cfgSub.Channel():
			if !ok {
				s.publishState("error", "config_subscription_closed", nil)
				return
			}
			var cfg types.OSCInConfig
			if err := decode.Into(msg.Payload, &cfg); err != nil {
				s.publishState("error", "config_decode_failed", err)
				continue
			}
			s.reconfigure(ctx, withDefaults(cfg))
		}
	}
}

func withDefaults(c types.OSCInConfig) types.OSCInConfig {
	c.Listen = strx.Coalesce(c.Listen, DefaultListen)
	c.AddressX = strx.Coalesce(c.AddressX, DefaultAddressX)
	c.AddressY = strx.Coalesce(c.AddressY, DefaultAddressY)
	return c
}

func (s *Service) stopCurrent() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.curRun != nil {
		s.curRun()
		s.curRun = nil
	}
}

func (s *Service) reconfigure(parent context.Context, cfg types.OSCInConfig) {
	s.mu.Lock()
	if s.curRun != nil && cfg == s.curCfg {
		// Reloads republish every section; keep the socket.
		s.mu.Unlock()
		return
	}
	if s.curRun != nil {
		s.curRun()
		s.curRun = nil
	}
	ctx, cancel := context.WithCancel(parent)
	s.curRun = cancel
	s.curCfg = cfg
	s.mu.Unlock()

	go s.runListener(ctx, cfg)
}

// -----------------------------------------------------------------------------
// Listener supervision and I/O
// -----------------------------------------------------------------------------

func (s *Service) runListener(ctx context.Context, cfg types.OSCInConfig) {
	d := osc.NewStandardDispatcher()
	if err := d.AddMsgHandler(cfg.AddressX, s.handler(s.sink.NameX())); err != nil {
		s.publishState("error", "handler_init_failed", err)
		return
	}
	if err := d.AddMsgHandler(cfg.AddressY, s.handler(s.sink.NameY())); err != nil {
		s.publishState("error", "handler_init_failed", err)
		return
	}

	backoff := backoffSeq(250*time.Millisecond, 5*time.Second)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		pc, err := net.ListenPacket("udp", cfg.Listen)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			delay := backoff()
			s.publishState("degraded", "listen_failed_retrying", fmt.Errorf("%v (retry in %s)", err, delay))
			if !sleep(ctx, delay) {
				return
			}
			continue
		}

		addr := pc.LocalAddr()
		s.setLocal(addr)
		s.log.Info("osc listener up", "addr", addr.String(), "x", cfg.AddressX, "y", cfg.AddressY)
		s.publishState("up", "listening", nil)

		err = s.serve(ctx, pc, d)
		_ = pc.Close()
		s.clearLocal(addr)
		if err == nil {
			return
		}
		delay := backoff()
		s.publishState("degraded", "socket_lost_retrying", fmt.Errorf("%v (retry in %s)", err, delay))
		if !sleep(ctx, delay) {
			return
		}
	}
}

// serve reads datagrams until ctx ends (nil) or the socket fails (error).
// Packets are dispatched in arrival order on this goroutine.
func (s *Service) serve(ctx context.Context, pc net.PacketConn, d osc.Dispatcher) error {
	stop := context.AfterFunc(ctx, func() { _ = pc.Close() })
	defer stop()

	buf := make([]byte, maxDatagram)
	for {
		n, _, err := pc.ReadFrom(buf)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, net.ErrClosed) {
				return err
			}
			// Transient ICMP-driven errors on unconnected UDP sockets.
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			return err
		}
		pkt, err := osc.ParsePacket(string(buf[:n]))
		if err != nil {
			s.dropped.Add(1)
			s.log.Debug("osc packet rejected", "err", err, "size", n)
			continue
		}
		d.Dispatch(pkt)
	}
}

func (s *Service) handler(register string) osc.HandlerFunc {
	return func(msg *osc.Message) {
		v, ok := argFloat(msg)
		if !ok {
			s.dropped.Add(1)
			s.log.Debug("osc sample rejected", "address", msg.Address, "args", len(msg.Arguments))
			return
		}
		s.received.Add(1)
		s.sink.SetNormalized(register, v)
	}
}

// argFloat accepts exactly one numeric argument; float32 is the wire contract.
func argFloat(msg *osc.Message) (float64, bool) {
	if len(msg.Arguments) != 1 {
		return 0, false
	}
	var v float64
	switch a := msg.Arguments[0].(type) {
	case float32:
		v = float64(a)
	case float64:
		v = a
	case int32:
		v = float64(a)
	case int64:
		v = float64(a)
	default:
		return 0, false
	}
	if !mathx.Finite(v) {
		return 0, false
	}
	return v, true
}

func (s *Service) setLocal(a net.Addr) {
	s.mu.Lock()
	s.local = a
	s.mu.Unlock()
}

// clearLocal forgets a only if no newer listener has replaced it.
func (s *Service) clearLocal(a net.Addr) {
	s.mu.Lock()
	if s.local == a {
		s.local = nil
	}
	s.mu.Unlock()
}

// -----------------------------------------------------------------------------
// Utilities
// -----------------------------------------------------------------------------

func (s *Service) publishState(level, status string, err error) {
	st := types.ServiceState{Level: level, Status: status, TS: timex.NowMs()}
	if err != nil {
		st.Error = err.Error()
		s.log.Warn("oscin state", "level", level, "status", status, "err", err)
	}
	s.conn.Publish(s.conn.NewMessage(TopicState, st, true))
}

func backoffSeq(min, max time.Duration) func() time.Duration {
	if min <= 0 {
		min = 100 * time.Millisecond
	}
	if max < min {
		max = min
	}
	var cur = min
	return func() time.Duration {
		d := cur
		cur *= 2
		if cur > max {
			cur = max
		}
		return d
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
