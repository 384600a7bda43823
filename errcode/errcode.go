package errcode

// Code is a stable, bus-facing error identifier.
// It is a string newtype, comparable, allocation-free, and implements error.
type Code string

func (c Code) Error() string { return string(c) }

// Canonical codes (short, stable).
const (
	OK             Code = "ok"
	Unsupported    Code = "unsupported"
	InvalidParams  Code = "invalid_params"
	InvalidPayload Code = "invalid_payload"
	Timeout        Code = "timeout"

	// Configuration (raised once, at activation or load).
	InvalidConfig Code = "invalid_config"

	// Lifecycle misuse. AlreadyRunning also matches Lifecycle via errors.Is.
	Lifecycle      Code = "lifecycle"
	AlreadyRunning Code = "already_running"

	// Per-cycle failures (absorbed by the control loop).
	CycleFailed   Code = "cycle_failed"
	ReadFailed    Code = "read_failed"
	CommandFailed Code = "command_failed"

	UnknownBackend Code = "unknown_backend"
	LinkDown       Code = "link_down"

	Error Code = "error" // generic fallback
)

// Is lets the lifecycle family match its umbrella code.
func (c Code) Is(target error) bool {
	t, ok := target.(Code)
	if !ok {
		return false
	}
	if t == c {
		return true
	}
	return t == Lifecycle && c == AlreadyRunning
}

// Optional wrapper when we want to keep context and a cause.
type E struct {
	C   Code
	Op  string
	Msg string
	Err error
}

// New builds an *E for op with a formatted-free message.
func New(c Code, op, msg string) *E { return &E{C: c, Op: op, Msg: msg} }

// Wrap builds an *E carrying cause err.
func Wrap(c Code, op string, err error) *E { return &E{C: c, Op: op, Err: err} }

func (e *E) Error() string {
	s := string(e.C)
	if e.Op != "" {
		s = e.Op + ": " + s
	}
	if e.Msg != "" {
		s += ": " + e.Msg
	}
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}
func (e *E) Unwrap() error { return e.Err }
func (e *E) Code() Code    { return e.C }

// Is makes errors.Is(err, SomeCode) succeed on the wrapper's own code.
func (e *E) Is(target error) bool { return e.C.Is(target) }

// Of extracts a Code from an error, defaulting to Error.
func Of(err error) Code {
	if err == nil {
		return OK
	}
	if c, ok := err.(Code); ok {
		return c
	}
	type coder interface{ Code() Code }
	if x, ok := err.(coder); ok {
		return x.Code()
	}
	return Error
}
