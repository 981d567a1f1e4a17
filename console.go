package vsm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"
)

const (
	// consoleOpenTimeout bounds how long attaching waits for firmware to open
	// the vterm.
	consoleOpenTimeout = 10 * time.Second
	defaultConsolePoll = 20 * time.Millisecond
)

// escapeScanner finds the "~." detach sequence at the start of a line, the
// same escape ssh and cu use. "~~" sends a single tilde.
type escapeScanner struct {
	lineStart bool
	tilde     bool
}

func newEscapeScanner() *escapeScanner {
	return &escapeScanner{lineStart: true}
}

// scan returns the bytes of p meant for the vterm and whether the detach
// sequence was seen. Anything after the sequence is dropped.
func (e *escapeScanner) scan(p []byte) ([]byte, bool) {
	out := make([]byte, 0, len(p))
	for _, b := range p {
		if e.tilde {
			e.tilde = false
			switch b {
			case '.':
				return out, true
			case '~':
				out = append(out, '~')
				e.lineStart = false
				continue
			default:
				out = append(out, '~')
			}
		} else if e.lineStart && b == '~' {
			e.tilde = true
			continue
		}

		out = append(out, b)
		e.lineStart = b == '\r' || b == '\n'
	}
	return out, false
}

// openConsole drives the session's vterm to ready, asking firmware to open it
// when it is only bound.
func openConsole(ctx context.Context, s *Session, poll time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, consoleOpenTimeout)
	defer cancel()

	t := time.NewTicker(poll)
	defer t.Stop()

	for {
		st, err := s.Ioctl(IoctlState)
		if err != nil {
			return err
		}

		switch VTermState(st) {
		case VTermReady:
			return nil
		case VTermBound:
			if _, err := s.Ioctl(IoctlOpen); err != nil && !errors.Is(err, ErrResourceBusy) {
				return err
			}
		case VTermOpening:
		default:
			return fmt.Errorf("%w: vterm is %s", ErrSessionNotReady, VTermState(st))
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: timed out opening the vterm", ErrSessionNotReady)
		case <-t.C:
		}
	}
}

// bridgeConsole copies bytes between rw and the session until the user types
// the escape sequence, rw hits EOF or the vterm goes away. It returns nil on a
// detach by the user.
//
// rw is given back to its owner on return, so when the vterm side ends first
// bridgeConsole waits for one more read from rw before returning.
func bridgeConsole(ctx context.Context, s *Session, rw io.ReadWriter, poll time.Duration) error {
	input := make(chan []byte)
	readerDone := make(chan error, 1)
	stop := make(chan struct{})

	go func() {
		var rerr error
		defer func() { readerDone <- rerr }()

		esc := newEscapeScanner()
		buf := make([]byte, 256)
		for {
			n, err := rw.Read(buf)
			select {
			case <-stop:
				return
			default:
			}

			data, detach := esc.scan(buf[:n])
			if len(data) > 0 {
				select {
				case input <- data:
				case <-stop:
					return
				}
			}
			if detach {
				return
			}
			if err != nil {
				if !errors.Is(err, io.EOF) {
					rerr = err
				}
				return
			}
		}
	}()

	err := pumpConsole(ctx, s, rw, poll, input, readerDone)
	if err == nil || errors.Is(err, errReaderDone) {
		return <-readerDone
	}

	close(stop)
	_, _ = io.WriteString(rw, "\r\n[vterm closed, press any key]\r\n")
	<-readerDone
	return err
}

var errReaderDone = errors.New("console input ended")

func pumpConsole(ctx context.Context, s *Session, rw io.ReadWriter, poll time.Duration, input <-chan []byte, readerDone chan error) error {
	t := time.NewTicker(poll)
	defer t.Stop()

	buf := make([]byte, 256)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case err := <-readerDone:
			// Put it back for bridgeConsole
			readerDone <- err
			return errReaderDone

		case data := <-input:
			if err := writeConsole(ctx, s, data, poll); err != nil {
				return err
			}

		case <-t.C:
			for {
				n, err := s.Read(buf)
				if errors.Is(err, ErrWouldBlock) {
					break
				}
				if err != nil {
					return err
				}
				if _, err := rw.Write(buf[:n]); err != nil {
					return err
				}
			}
		}
	}
}

// writeConsole writes all of p to the session, waiting out a busy hypervisor.
func writeConsole(ctx context.Context, s *Session, p []byte, poll time.Duration) error {
	for len(p) > 0 {
		n, err := s.Write(p)
		p = p[n:]
		if err == nil {
			continue
		}
		if !errors.Is(err, ErrResourceBusy) {
			return err
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(poll):
		}
	}
	return nil
}
