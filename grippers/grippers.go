// Package grippers talks to the gripper microcontroller over a line-oriented
// serial link.
package grippers

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/edaniels/golog"
	"github.com/jacobsa/go-serial/serial"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	goutils "go.viam.com/utils"

	"github.com/gwp-robotics/wallspider/spider"
)

const (
	defaultBaudRate  = 115200
	handshakeTimeout = 5 * time.Second
	statusLineLen    = 2 * spider.NumLegs

	cmdOpen  = "o"
	cmdClose = "c"
	cmdInit  = "init"
	ackInit  = "OK"
)

// ErrHandshake is returned when the microcontroller does not acknowledge the
// init command.
var ErrHandshake = errors.New("grippers: no handshake from microcontroller")

// NotAttachedError reports legs whose attachment switch is not pressed after
// a commanded close. It is surfaced, never retried internally.
type NotAttachedError struct {
	Legs []int
}

func (e *NotAttachedError) Error() string {
	return fmt.Sprintf("grippers: legs %v are not attached to a pin", e.Legs)
}

// Config describes the gripper serial link.
type Config struct {
	SerialPath string `json:"serial_path"`
	BaudRate   uint   `json:"baud_rate"`

	// TestDevice substitutes an in-memory device for the serial port.
	TestDevice io.ReadWriteCloser `json:"-"`
}

// Validate checks the config before the port is opened.
func (cfg Config) Validate() error {
	if cfg.SerialPath == "" && cfg.TestDevice == nil {
		return errors.New("serial_path is required")
	}
	return nil
}

// Controller owns the serial link and a background reader that keeps the
// latest gripper and attachment switch states.
type Controller struct {
	logger golog.Logger

	mu         sync.RWMutex
	open       [spider.NumLegs]bool
	switches   [spider.NumLegs]bool
	haveStatus bool

	errMu     sync.Mutex
	lastError error

	dev                     io.ReadWriteCloser
	handshakeOnce           sync.Once
	handshakeCh             chan struct{}
	cancelCtx               context.Context
	cancelFunc              func()
	activeBackgroundWorkers sync.WaitGroup
}

// New opens the link, starts the reader and performs the init handshake.
func New(ctx context.Context, cfg Config, logger golog.Logger) (*Controller, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	baudRate := cfg.BaudRate
	if baudRate == 0 {
		baudRate = defaultBaudRate
		logger.Info("grippers: baud_rate using default 115200")
	}

	dev := cfg.TestDevice
	if dev == nil {
		options := serial.OpenOptions{
			PortName:        cfg.SerialPath,
			BaudRate:        baudRate,
			DataBits:        8,
			StopBits:        1,
			MinimumReadSize: 1,
		}
		var err error
		dev, err = serial.Open(options)
		if err != nil {
			return nil, errors.Wrapf(err, "cannot open gripper link at %s", cfg.SerialPath)
		}
	}

	cancelCtx, cancelFunc := context.WithCancel(context.Background())
	c := &Controller{
		logger:      logger,
		dev:         dev,
		handshakeCh: make(chan struct{}),
		cancelCtx:   cancelCtx,
		cancelFunc:  cancelFunc,
	}
	c.start()

	if err := c.handshake(ctx); err != nil {
		return nil, multierr.Combine(err, c.Close(ctx))
	}
	return c, nil
}

func (c *Controller) start() {
	c.activeBackgroundWorkers.Add(1)
	goutils.PanicCapturingGo(func() {
		defer c.activeBackgroundWorkers.Done()
		r := bufio.NewReader(c.dev)
		for {
			select {
			case <-c.cancelCtx.Done():
				return
			default:
			}

			line, err := r.ReadString('\n')
			if err != nil {
				if c.cancelCtx.Err() != nil {
					return
				}
				c.setLastError(err)
				c.logger.Debugw("gripper link read failed", "error", err)
				if !goutils.SelectContextOrWait(c.cancelCtx, 100*time.Millisecond) {
					return
				}
				continue
			}
			c.handleLine(strings.TrimSpace(line))
		}
	})
}

func (c *Controller) handleLine(line string) {
	switch {
	case line == ackInit:
		c.handshakeOnce.Do(func() { close(c.handshakeCh) })
	case len(line) == statusLineLen:
		c.mu.Lock()
		for leg := 0; leg < spider.NumLegs; leg++ {
			c.open[leg] = line[leg] == '1'
			c.switches[leg] = line[spider.NumLegs+leg] == '1'
		}
		c.haveStatus = true
		c.mu.Unlock()
	case line == "":
	default:
		c.logger.Debugw("unrecognized gripper line", "line", line)
	}
}

func (c *Controller) handshake(ctx context.Context) error {
	if err := c.send(cmdInit); err != nil {
		return err
	}
	select {
	case <-c.handshakeCh:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(handshakeTimeout):
		return ErrHandshake
	}
}

func (c *Controller) send(cmd string) error {
	if _, err := c.dev.Write([]byte(cmd + "\n")); err != nil {
		return errors.Wrap(err, "gripper link write failed")
	}
	return nil
}

// OpenGripper commands one gripper to open. The state change is observed
// asynchronously through the status stream.
func (c *Controller) OpenGripper(ctx context.Context, legID int) error {
	if legID < 0 || legID >= spider.NumLegs {
		return errors.Errorf("unknown leg %d", legID)
	}
	return c.send(fmt.Sprintf("%s%d", cmdOpen, legID))
}

// CloseGripper commands one gripper to close.
func (c *Controller) CloseGripper(ctx context.Context, legID int) error {
	if legID < 0 || legID >= spider.NumLegs {
		return errors.Errorf("unknown leg %d", legID)
	}
	return c.send(fmt.Sprintf("%s%d", cmdClose, legID))
}

// OpenGrippersAndWait opens the given grippers and polls the status stream
// until all of them report open. The context deadline bounds the wait.
func (c *Controller) OpenGrippersAndWait(ctx context.Context, legIDs []int) error {
	for _, legID := range legIDs {
		if err := c.OpenGripper(ctx, legID); err != nil {
			return err
		}
	}
	for {
		if c.allOpen(legIDs) {
			return nil
		}
		if !goutils.SelectContextOrWait(ctx, 50*time.Millisecond) {
			return errors.Wrap(ctx.Err(), "waiting for grippers to open")
		}
	}
}

func (c *Controller) allOpen(legIDs []int) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.haveStatus {
		return false
	}
	for _, legID := range legIDs {
		if !c.open[legID] {
			return false
		}
	}
	return true
}

// GripperStates returns the latest open/closed state per leg.
func (c *Controller) GripperStates() [spider.NumLegs]bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.open
}

// SwitchStates returns the latest attachment switch state per leg.
func (c *Controller) SwitchStates() [spider.NumLegs]bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.switches
}

// AttachedLegs returns the legs whose attachment switch is pressed.
func (c *Controller) AttachedLegs() []int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var legs []int
	for leg := 0; leg < spider.NumLegs; leg++ {
		if c.switches[leg] {
			legs = append(legs, leg)
		}
	}
	return legs
}

// CheckAttached verifies the given legs are attached to a pin, returning a
// NotAttachedError naming the ones that are not.
func (c *Controller) CheckAttached(legIDs []int) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var missing []int
	for _, legID := range legIDs {
		if legID < 0 || legID >= spider.NumLegs {
			return errors.Errorf("unknown leg %d", legID)
		}
		if !c.switches[legID] {
			missing = append(missing, legID)
		}
	}
	if len(missing) > 0 {
		return &NotAttachedError{Legs: missing}
	}
	return nil
}

// LastError returns the most recent reader error.
func (c *Controller) LastError() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.lastError
}

func (c *Controller) setLastError(err error) {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	c.lastError = err
}

// Close stops the reader and closes the serial device.
func (c *Controller) Close(ctx context.Context) error {
	c.cancelFunc()
	err := c.dev.Close()
	c.activeBackgroundWorkers.Wait()
	return err
}
