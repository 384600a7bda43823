// Command oscsim stands in for the camera producer: it sends normalised
// person coordinates over OSC, either a fixed point or a Lissajous sweep.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"math"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hypebeast/go-osc/osc"

	"stagetrack/services/oscin"
	"stagetrack/x/mathx"
	"stagetrack/x/timex"
)

// sweep traces x = 0.5+0.5*a*sin(2π fx t + φ), y = 0.5+0.5*a*sin(2π fy t).
type sweep struct {
	fx, fy float64 // Hz
	amp    float64 // 0..1
	phase  float64 // radians
}

func (s sweep) at(t float64) (x, y float64) {
	x = 0.5 + 0.5*s.amp*math.Sin(2*math.Pi*s.fx*t+s.phase)
	y = 0.5 + 0.5*s.amp*math.Sin(2*math.Pi*s.fy*t)
	return mathx.Clamp(x, 0, 1), mathx.Clamp(y, 0, 1)
}

type sender interface {
	Send(osc.Packet) error
}

func sendPoint(c sender, addrX, addrY string, x, y float64) error {
	if err := c.Send(osc.NewMessage(addrX, float32(x))); err != nil {
		return err
	}
	return c.Send(osc.NewMessage(addrY, float32(y)))
}

func main() {
	host := flag.String("host", "127.0.0.1", "stagetrack host")
	port := flag.Int("port", 8000, "stagetrack OSC port")
	rate := flag.Uint("rate", 30, "samples per second")
	fx := flag.Float64("fx", 0.10, "x sweep frequency (Hz)")
	fy := flag.Float64("fy", 0.15, "y sweep frequency (Hz)")
	amp := flag.Float64("amp", 0.9, "sweep amplitude 0..1")
	fixed := flag.String("point", "", "send a fixed point \"x,y\" instead of sweeping")
	dur := flag.Duration("duration", 0, "stop after this long (0 = until interrupted)")
	addrX := flag.String("addr-x", oscin.DefaultAddressX, "OSC address for x")
	addrY := flag.String("addr-y", oscin.DefaultAddressY, "OSC address for y")
	flag.Parse()

	log := slog.New(slog.NewTextHandler(os.Stderr, nil))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if *dur > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, *dur)
		defer cancel()
	}

	pointX, pointY := -1.0, -1.0
	if *fixed != "" {
		if _, err := fmt.Sscanf(*fixed, "%g,%g", &pointX, &pointY); err != nil {
			log.Error("bad -point", "value", *fixed, "err", err)
			os.Exit(2)
		}
	}

	client := osc.NewClient(*host, *port)
	s := sweep{fx: *fx, fy: *fy, amp: mathx.Clamp(*amp, 0, 1), phase: math.Pi / 2}
	period := time.Duration(timex.PeriodFromHz(uint32(*rate)))
	log.Info("oscsim sending", "to", fmt.Sprintf("%s:%d", *host, *port), "period", period, "fixed", *fixed != "")

	tick := time.NewTicker(period)
	defer tick.Stop()
	start := time.Now()
	var sent, failed uint64
	for {
		select {
		case <-ctx.Done():
			log.Info("oscsim stopped", "sent", sent, "failed", failed)
			return
		case now := <-tick.C:
			x, y := pointX, pointY
			if *fixed == "" {
				x, y = s.at(now.Sub(start).Seconds())
			}
			if err := sendPoint(client, *addrX, *addrY, x, y); err != nil {
				failed++
				if failed == 1 || failed%100 == 0 {
					log.Warn("send failed", "err", err, "failed", failed)
				}
				continue
			}
			sent++
		}
	}
}
