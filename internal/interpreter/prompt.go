package interpreter

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
)

// ErrAborted is returned when the operator declines to continue at a
// pause point. It stops the whole maintenance, not just one host.
var ErrAborted = errors.New("maintenance stopped by operator")

// PauseQuestion is asked at every pause point.
const PauseQuestion = "continue [y/N]? "

// Prompter asks the operator a yes/no question.
type Prompter interface {
	Confirm(ctx context.Context, question string) (bool, error)
}

// LinePrompter reads answers line by line. Anything not starting with
// y or Y, including end of input, is a no.
//
// A single goroutine owns In for the prompter's lifetime, so a Confirm
// abandoned by its context leaves no second reader behind; a line typed
// after the abandonment answers the next Confirm.
type LinePrompter struct {
	In  io.Reader
	Out io.Writer

	mu    sync.Mutex
	once  sync.Once
	lines chan answer
}

type answer struct {
	line string
	err  error
}

// NewLinePrompter returns a prompter over in and out.
func NewLinePrompter(in io.Reader, out io.Writer) *LinePrompter {
	return &LinePrompter{In: in, Out: out}
}

func (p *LinePrompter) Confirm(ctx context.Context, question string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.once.Do(p.startReader)
	fmt.Fprint(p.Out, question)

	select {
	case <-ctx.Done():
		return false, ctx.Err()
	case a, ok := <-p.lines:
		if !ok {
			return false, nil
		}
		if a.err != nil && !errors.Is(a.err, io.EOF) {
			return false, a.err
		}
		reply := strings.TrimSpace(a.line)
		return reply != "" && (reply[0] == 'y' || reply[0] == 'Y'), nil
	}
}

// startReader feeds lines from In until the first read error, which is
// delivered once before the channel closes.
func (p *LinePrompter) startReader() {
	p.lines = make(chan answer)
	go func() {
		defer close(p.lines)
		r := bufio.NewReader(p.In)
		for {
			line, err := r.ReadString('\n')
			p.lines <- answer{line, err}
			if err != nil {
				return
			}
		}
	}()
}

// Auto answers every question the same way.
type Auto bool

func (a Auto) Confirm(context.Context, string) (bool, error) {
	return bool(a), nil
}
