package tracker

import (
	"context"
	"log/slog"

	"stagetrack/bus"
	"stagetrack/errcode"
	"stagetrack/types"
	"stagetrack/x/decode"
)

var (
	TopicConfig = bus.T("config", "tracker")
	TopicCtrl   = bus.T("tracker", "ctrl")
	TopicState  = bus.T("tracker", "state")
)

// Service supervises loop activations from bus configuration and control
// requests. Each start builds a fresh Loop.
type Service struct {
	conn *bus.Connection
	regs Registers
	act  Actuator
	log  *slog.Logger

	section *types.TrackerConfig
	loop    *Loop
}

func NewService(conn *bus.Connection, regs Registers, act Actuator, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{conn: conn, regs: regs, act: act, log: log.With("svc", "tracker")}
}

// Run blocks until ctx is cancelled. The last loop is deactivated on exit.
func (s *Service) Run(ctx context.Context) {
	cfgSub := s.conn.Subscribe(TopicConfig)
	defer s.conn.Unsubscribe(cfgSub)
	ctrlSub := s.conn.Subscribe(TopicCtrl)
	defer s.conn.Unsubscribe(ctrlSub)

	s.publishState(types.LoopStats{Level: types.LoopIdle})

	for {
		select {
		case <-ctx.Done():
			s.stop(context.Background())
			return
		case msg, ok := <-cfgSub.Channel():
			if !ok {
				return
			}
			var sec types.TrackerConfig
			if err := decode.Into(msg.Payload, &sec); err != nil {
				s.log.Error("tracker config decode failed", "err", err)
				continue
			}
			s.section = &sec
			wasRunning := s.running()
			if wasRunning && FromSection(sec) == s.loop.Config() {
				// Reloads republish every section; an unchanged one keeps the loop.
				s.log.Debug("tracker config unchanged", "actuator", sec.ActuatorID)
				continue
			}
			s.log.Info("tracker config received", "actuator", sec.ActuatorID, "auto_start", sec.AutoStart)
			if sec.AutoStart || wasRunning {
				s.stop(ctx)
				var opts []Option
				if wasRunning {
					opts = append(opts, WithSeed(s.loop.Commanded()))
				}
				if err := s.start(ctx, opts...); err != nil {
					s.log.Error("tracker start failed", "err", err)
				}
			}
		case msg, ok := <-ctrlSub.Channel():
			if !ok {
				return
			}
			s.handleControl(ctx, msg)
		}
	}
}

func (s *Service) handleControl(ctx context.Context, msg *bus.Message) {
	var c types.LoopControl
	if err := decode.Into(msg.Payload, &c); err != nil {
		s.reply(msg, errcode.InvalidPayload)
		return
	}
	var err error
	switch c.Action {
	case "start":
		err = s.start(ctx)
	case "stop":
		s.stop(ctx)
	case "status":
	default:
		err = errcode.New(errcode.Unsupported, "tracker.ctrl", "unknown action "+c.Action)
	}
	s.reply(msg, err)
}

func (s *Service) reply(msg *bus.Message, err error) {
	rep := types.LoopReply{OK: err == nil, Stats: s.stats()}
	if err != nil {
		rep.Error = err.Error()
	}
	s.conn.Reply(msg, rep, false)
}

func (s *Service) start(ctx context.Context, opts ...Option) error {
	if s.running() {
		return errcode.New(errcode.AlreadyRunning, "tracker.start", "loop already running")
	}
	if s.section == nil {
		return errcode.New(errcode.InvalidConfig, "tracker.start", "no tracker configuration received")
	}
	l := NewLoop(s.regs, s.act, append([]Option{WithLogger(s.log), WithStateHook(s.publishState)}, opts...)...)
	if err := l.Activate(ctx, FromSection(*s.section)); err != nil {
		s.publishState(types.LoopStats{ActuatorID: s.section.ActuatorID, Level: types.LoopIdle, LastError: err.Error()})
		return err
	}
	s.loop = l
	return nil
}

// stop deactivates the current loop and waits for its in-flight cycle.
func (s *Service) stop(ctx context.Context) {
	if s.loop == nil {
		return
	}
	s.loop.Deactivate()
	select {
	case <-s.loop.Done():
	case <-ctx.Done():
	}
}

func (s *Service) running() bool { return s.loop != nil && s.loop.Running() }

func (s *Service) stats() types.LoopStats {
	if s.loop == nil {
		st := types.LoopStats{Level: types.LoopIdle}
		if s.section != nil {
			st.ActuatorID = s.section.ActuatorID
		}
		return st
	}
	return s.loop.Stats()
}

func (s *Service) publishState(st types.LoopStats) {
	s.conn.Publish(s.conn.NewMessage(TopicState, st, true))
}
