package grippers

import (
	"bytes"
	"context"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	"go.viam.com/test"
)

// fakePort scripts the microcontroller side of the link.
type fakePort struct {
	mu     sync.Mutex
	rbuf   bytes.Buffer
	dataCh chan []byte
	closed chan struct{}
	once   sync.Once

	writes []string
	autoOK bool
}

func newFakePort(autoOK bool) *fakePort {
	return &fakePort{
		dataCh: make(chan []byte, 16),
		closed: make(chan struct{}),
		autoOK: autoOK,
	}
}

func (p *fakePort) Read(b []byte) (int, error) {
	for {
		p.mu.Lock()
		if p.rbuf.Len() > 0 {
			n, _ := p.rbuf.Read(b)
			p.mu.Unlock()
			return n, nil
		}
		p.mu.Unlock()

		select {
		case d := <-p.dataCh:
			p.mu.Lock()
			p.rbuf.Write(d)
			p.mu.Unlock()
		case <-p.closed:
			return 0, io.EOF
		}
	}
}

func (p *fakePort) Write(b []byte) (int, error) {
	line := strings.TrimSpace(string(b))
	p.mu.Lock()
	p.writes = append(p.writes, line)
	p.mu.Unlock()
	if p.autoOK && line == cmdInit {
		p.feed(ackInit + "\n")
	}
	return len(b), nil
}

func (p *fakePort) Close() error {
	p.once.Do(func() { close(p.closed) })
	return nil
}

func (p *fakePort) feed(s string) {
	p.dataCh <- []byte(s)
}

func (p *fakePort) sentCommands() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.writes))
	copy(out, p.writes)
	return out
}

func newTestController(t *testing.T, port *fakePort) *Controller {
	t.Helper()
	c, err := New(context.Background(), Config{TestDevice: port}, golog.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)
	t.Cleanup(func() {
		test.That(t, c.Close(context.Background()), test.ShouldBeNil)
	})
	return c
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition never became true")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestHandshake(t *testing.T) {
	port := newFakePort(true)
	c := newTestController(t, port)
	test.That(t, port.sentCommands()[0], test.ShouldEqual, cmdInit)
	test.That(t, c.LastError(), test.ShouldBeNil)
}

func TestHandshakeTimeout(t *testing.T) {
	port := newFakePort(false)
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, err := New(ctx, Config{TestDevice: port}, golog.NewTestLogger(t))
	test.That(t, err, test.ShouldNotBeNil)
}

func TestConfigValidate(t *testing.T) {
	test.That(t, Config{}.Validate(), test.ShouldNotBeNil)
	test.That(t, Config{SerialPath: "/dev/ttyACM0"}.Validate(), test.ShouldBeNil)
}

func TestStatusParsing(t *testing.T) {
	port := newFakePort(true)
	c := newTestController(t, port)

	// Grippers 0 and 1 open; switches 0 and 1 pressed.
	port.feed("1100011000\n")
	waitFor(t, func() bool { return c.GripperStates()[0] })

	open := c.GripperStates()
	test.That(t, open, test.ShouldResemble, [5]bool{true, true, false, false, false})
	switches := c.SwitchStates()
	test.That(t, switches, test.ShouldResemble, [5]bool{true, true, false, false, false})
	test.That(t, c.AttachedLegs(), test.ShouldResemble, []int{0, 1})

	test.That(t, c.CheckAttached([]int{0, 1}), test.ShouldBeNil)
	err := c.CheckAttached([]int{0, 2, 4})
	var notAttached *NotAttachedError
	test.That(t, errors.As(err, &notAttached), test.ShouldBeTrue)
	test.That(t, notAttached.Legs, test.ShouldResemble, []int{2, 4})

	// Garbage lines are ignored, later status lines still land.
	port.feed("??\n")
	port.feed("0000000000\n")
	waitFor(t, func() bool { return !c.GripperStates()[0] })
	test.That(t, c.AttachedLegs(), test.ShouldHaveLength, 0)
}

func TestOpenAndCloseCommands(t *testing.T) {
	port := newFakePort(true)
	c := newTestController(t, port)

	test.That(t, c.OpenGripper(context.Background(), 2), test.ShouldBeNil)
	test.That(t, c.CloseGripper(context.Background(), 4), test.ShouldBeNil)
	test.That(t, c.OpenGripper(context.Background(), -1), test.ShouldNotBeNil)
	test.That(t, c.CloseGripper(context.Background(), 5), test.ShouldNotBeNil)

	cmds := port.sentCommands()
	test.That(t, cmds, test.ShouldResemble, []string{cmdInit, "o2", "c4"})
}

func TestOpenGrippersAndWait(t *testing.T) {
	port := newFakePort(true)
	c := newTestController(t, port)

	// Legs 1 and 3 already report open.
	port.feed("0101000000\n")
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	test.That(t, c.OpenGrippersAndWait(ctx, []int{1, 3}), test.ShouldBeNil)

	cmds := port.sentCommands()
	test.That(t, cmds, test.ShouldContain, "o1")
	test.That(t, cmds, test.ShouldContain, "o3")

	// Leg 2 never opens: the context deadline bounds the wait.
	shortCtx, shortCancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer shortCancel()
	err := c.OpenGrippersAndWait(shortCtx, []int{2})
	test.That(t, errors.Is(err, context.DeadlineExceeded), test.ShouldBeTrue)
}
