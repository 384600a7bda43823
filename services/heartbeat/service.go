package heartbeat

import (
	"context"
	"log/slog"
	"time"

	"stagetrack/bus"
	"stagetrack/services/oscin"
	"stagetrack/services/tracker"
	"stagetrack/types"
	"stagetrack/x/decode"
	"stagetrack/x/timex"
)

var topicConfigHeartbeat = bus.T("config", "heartbeat")

const (
	defaultInterval = 10 * time.Second
	statusTimeout   = 500 * time.Millisecond
)

// Service logs one line of loop statistics per interval. An interval of 0
// silences it until a new config arrives.
type Service struct {
	log *slog.Logger
}

func New(log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{log: log.With("svc", "heartbeat")}
}

func (s *Service) serviceLoop(ctx context.Context, conn *bus.Connection) {
	cfgSub := conn.Subscribe(topicConfigHeartbeat)
	defer conn.Unsubscribe(cfgSub)

	tick := time.NewTicker(defaultInterval)
	defer tick.Stop()
	enabled := true

	// loop until context is cancelled, respond to tick and config changes
	for {
		select {
		case <-ctx.Done():
			s.log.Debug("heartbeat service stopping")
			return
		case <-tick.C:
			if enabled {
				s.beat(ctx, conn)
			}
		case msg := <-cfgSub.Channel():
			var c types.HeartbeatConfig
			if err := decode.Into(msg.Payload, &c); err != nil {
				s.log.Warn("bad heartbeat config", "err", err)
				continue
			}
			iv := timex.Seconds(c.Interval)
			enabled = iv > 0
			if enabled {
				tick.Reset(iv)
			}
			s.log.Debug("heartbeat interval set", "interval", iv)
		}
	}
}

func (s *Service) beat(ctx context.Context, conn *bus.Connection) {
	attrs := []any{}

	rctx, cancel := context.WithTimeout(ctx, statusTimeout)
	defer cancel()
	rep, err := conn.RequestWait(rctx, conn.NewMessage(tracker.TopicCtrl, types.LoopControl{Action: "status"}, false))
	if err != nil {
		attrs = append(attrs, "tracker", "unreachable", "err", err)
	} else if r, ok := rep.Payload.(types.LoopReply); ok {
		st := r.Stats
		attrs = append(attrs,
			"tracker", string(st.Level),
			"actuator", st.ActuatorID,
			"cycles", st.Cycles,
			"failures", st.Failures,
			"pan", st.Commanded.Pan,
			"tilt", st.Commanded.Tilt,
		)
		if st.LastFailStep != "" {
			attrs = append(attrs, "last_fail", st.LastFailStep)
		}
	}

	if m, ok := conn.Bus().Retained(oscin.TopicState); ok {
		if st, ok := m.Payload.(types.ServiceState); ok {
			attrs = append(attrs, "oscin", st.Level)
		}
	}
	s.log.Info("heartbeat", attrs...)
}

// Start the heartbeat service.
func (s *Service) Start(ctx context.Context, conn *bus.Connection) error {
	go s.serviceLoop(ctx, conn)
	return nil
}
