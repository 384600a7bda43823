// Package console is a small operator shell: poke the registers by hand and
// start or stop the tracker without a producer running.
package console

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/shlex"

	"stagetrack/bus"
	"stagetrack/errcode"
	"stagetrack/services/tracker"
	"stagetrack/types"
)

const requestTimeout = 2 * time.Second

// Registers is the writable view of the variable store.
type Registers interface {
	Set(name string, v float64)
	Get(name string) (float64, error)
	NameX() string
	NameY() string
}

type Console struct {
	conn   *bus.Connection
	regs   Registers
	out    io.Writer
	prompt string
	log    *slog.Logger
}

func New(conn *bus.Connection, regs Registers, out io.Writer, cfg types.ConsoleConfig, log *slog.Logger) *Console {
	if log == nil {
		log = slog.Default()
	}
	return &Console{conn: conn, regs: regs, out: out, prompt: cfg.Prompt, log: log.With("svc", "console")}
}

const usage = `commands:
  set x|y <0..100>   write a register
  get [x|y]          read registers
  start              activate the tracker
  stop               deactivate the tracker
  status             show loop statistics
  help               this text
  quit               leave the console`

// Run reads commands from in until EOF, "quit" or ctx cancellation.
func (c *Console) Run(ctx context.Context, in io.Reader) error {
	lines := make(chan string)
	scanErr := make(chan error, 1)
	go func() {
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
		scanErr <- sc.Err()
		close(lines)
	}()

	c.writePrompt()
	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return <-scanErr
			}
			res, err := c.Exec(ctx, line)
			if err == errQuit {
				return nil
			}
			if err != nil {
				fmt.Fprintf(c.out, "error: %v\n", err)
			} else if res != "" {
				fmt.Fprintln(c.out, res)
			}
			c.writePrompt()
		}
	}
}

func (c *Console) writePrompt() {
	if c.prompt != "" {
		fmt.Fprint(c.out, c.prompt)
	}
}

var errQuit = errors.New("quit")

// Exec runs one command line and returns its output.
func (c *Console) Exec(ctx context.Context, line string) (string, error) {
	args, err := shlex.Split(line)
	if err != nil {
		return "", errcode.Wrap(errcode.InvalidParams, "console.parse", err)
	}
	if len(args) == 0 {
		return "", nil
	}
	c.log.Debug("console command", "args", args)

	switch strings.ToLower(args[0]) {
	case "help", "?":
		return usage, nil
	case "quit", "exit":
		return "", errQuit
	case "set":
		return c.set(args[1:])
	case "get":
		return c.get(args[1:])
	case "start", "stop", "status":
		return c.control(ctx, strings.ToLower(args[0]))
	default:
		return "", errcode.New(errcode.Unsupported, "console", fmt.Sprintf("unknown command %q (try help)", args[0]))
	}
}

func (c *Console) register(axis string) (string, error) {
	switch strings.ToLower(axis) {
	case "x":
		return c.regs.NameX(), nil
	case "y":
		return c.regs.NameY(), nil
	}
	return "", errcode.New(errcode.InvalidParams, "console", fmt.Sprintf("axis %q is not x or y", axis))
}

func (c *Console) set(args []string) (string, error) {
	if len(args) != 2 {
		return "", errcode.New(errcode.InvalidParams, "console.set", "usage: set x|y <0..100>")
	}
	name, err := c.register(args[0])
	if err != nil {
		return "", err
	}
	v, err := strconv.ParseFloat(args[1], 64)
	if err != nil || v < 0 || v > 100 {
		return "", errcode.New(errcode.InvalidParams, "console.set", fmt.Sprintf("value %q must be a number in 0..100", args[1]))
	}
	c.regs.Set(name, v)
	return fmt.Sprintf("%s = %g", name, v), nil
}

func (c *Console) get(args []string) (string, error) {
	names := []string{c.regs.NameX(), c.regs.NameY()}
	if len(args) == 1 {
		n, err := c.register(args[0])
		if err != nil {
			return "", err
		}
		names = []string{n}
	} else if len(args) > 1 {
		return "", errcode.New(errcode.InvalidParams, "console.get", "usage: get [x|y]")
	}
	var sb strings.Builder
	for i, n := range names {
		v, err := c.regs.Get(n)
		if err != nil {
			return "", err
		}
		if i > 0 {
			sb.WriteByte('\n')
		}
		fmt.Fprintf(&sb, "%s = %g", n, v)
	}
	return sb.String(), nil
}

func (c *Console) control(ctx context.Context, action string) (string, error) {
	rctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()
	rep, err := c.conn.RequestWait(rctx, c.conn.NewMessage(tracker.TopicCtrl, types.LoopControl{Action: action}, false))
	if err != nil {
		return "", errcode.Wrap(errcode.Timeout, "console."+action, err)
	}
	r, ok := rep.Payload.(types.LoopReply)
	if !ok {
		return "", errcode.New(errcode.InvalidPayload, "console."+action, fmt.Sprintf("reply %T", rep.Payload))
	}
	if !r.OK {
		return "", errors.New(r.Error)
	}
	return FormatStats(r.Stats), nil
}

// FormatStats renders loop statistics on one line.
func FormatStats(s types.LoopStats) string {
	out := fmt.Sprintf("%s actuator=%s cycles=%d failures=%d pan=%.2f tilt=%.2f",
		s.Level, s.ActuatorID, s.Cycles, s.Failures, s.Commanded.Pan, s.Commanded.Tilt)
	if s.LastFailStep != "" {
		out += fmt.Sprintf(" last_fail=%s (%s)", s.LastFailStep, s.LastError)
	}
	return out
}
