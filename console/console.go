// Package console implements the host-facing command/telemetry transport
// of spec.md section 6: a line-oriented protocol over a serial port for
// submitting moves and reporting queue status, grounded on
// driver/mjolnir.Open's tarm/serial dial logic (probing a short list of
// candidate device paths when none is given) and generalized from its
// single-purpose opener into a small request/response Console.
package console

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"runtime"
	"strconv"
	"strings"

	"github.com/tarm/serial"

	"stepcore.dev/motion"
	"stepcore.dev/move"
)

const baudRate = 115200

// Open dials dev, or (if dev is empty) the platform's usual USB-serial
// candidate paths in turn, exactly as driver/mjolnir.Open does.
func Open(dev string) (io.ReadWriteCloser, error) {
	var candidates []string
	if dev != "" {
		candidates = append(candidates, dev)
	} else {
		switch runtime.GOOS {
		case "windows":
			candidates = append(candidates, "COM3")
		case "linux":
			candidates = append(candidates, "/dev/ttyACM0", "/dev/ttyUSB0")
		}
	}
	if len(candidates) == 0 {
		return nil, errors.New("console: no device specified and no platform default")
	}
	var firstErr error
	for _, dev := range candidates {
		cfg := &serial.Config{Name: dev, Baud: baudRate}
		port, err := serial.OpenPort(cfg)
		if err == nil {
			return port, nil
		}
		if firstErr == nil {
			firstErr = err
		}
	}
	return nil, firstErr
}

// Console reads newline-terminated commands from an io.Reader and writes
// newline-terminated responses to an io.Writer, driving a
// motion.Controller. The wire protocol is deliberately plain text:
// unlike the teacher's binary mjolnir protocol (which talks to a fixed
// microcontroller program expecting exact byte opcodes), this surface
// is meant to be typed at by hand during bring-up as well as driven by a
// host-side G-code sender.
type Console struct {
	ctrl *motion.Controller
	r    *bufio.Scanner
	w    io.Writer
}

// New wraps rw as a Console driving ctrl.
func New(rw io.ReadWriter, ctrl *motion.Controller) *Console {
	return &Console{ctrl: ctrl, r: bufio.NewScanner(rw), w: rw}
}

// Run reads commands until rw returns an error or EOF, replying to each
// on the same connection. It blocks; callers typically run it in its own
// goroutine per connection.
func (c *Console) Run() error {
	for c.r.Scan() {
		line := strings.TrimSpace(c.r.Text())
		if line == "" {
			continue
		}
		reply := c.handle(line)
		if _, err := fmt.Fprintln(c.w, reply); err != nil {
			return err
		}
	}
	return c.r.Err()
}

func (c *Console) handle(line string) string {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return "error: empty command"
	}
	switch strings.ToUpper(fields[0]) {
	case "MOVE":
		return c.handleMove(fields[1:])
	case "STATUS":
		return c.handleStatus()
	case "WAIT":
		c.ctrl.WaitIdle()
		return "ok"
	case "STOP":
		c.ctrl.EmergencyStop()
		return "ok: stopped"
	default:
		return fmt.Sprintf("error: unknown command %q", fields[0])
	}
}

// handleMove parses "MOVE F<feedrate> A<target-um> B<target-um> ..." into
// an absolute-position move and enqueues it. Axis letters index the
// configured axis order (A is axis 0, B is axis 1, etc.), not a fixed
// X/Y/Z scheme, since spec.md's axis table is configurable.
func (c *Console) handleMove(args []string) string {
	var target move.Position
	var feedrate float64
	haveFeedrate := false
	pos := c.ctrl.Position()
	target = pos
	for _, arg := range args {
		if len(arg) < 2 {
			return fmt.Sprintf("error: malformed argument %q", arg)
		}
		letter := arg[0]
		val, err := strconv.ParseFloat(arg[1:], 64)
		if err != nil {
			return fmt.Sprintf("error: bad number in %q: %v", arg, err)
		}
		if letter == 'F' || letter == 'f' {
			feedrate = val
			haveFeedrate = true
			continue
		}
		idx := int(letter - 'A')
		if idx < 0 || idx >= move.MaxAxes {
			return fmt.Sprintf("error: unknown axis %q", arg)
		}
		target[idx] = int64(val)
	}
	if !haveFeedrate {
		return "error: MOVE requires F<feedrate>"
	}
	if err := c.ctrl.Enqueue(target, feedrate); err != nil {
		return fmt.Sprintf("error: %v", err)
	}
	return "ok"
}

func (c *Console) handleStatus() string {
	idle := "no"
	if c.ctrl.IsIdle() {
		idle = "yes"
	}
	return fmt.Sprintf("ok: queue=%d idle=%s", c.ctrl.QueueLength(), idle)
}
