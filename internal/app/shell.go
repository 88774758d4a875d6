package app

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"

	"github.com/dokzlo13/huey/internal/color"
	"github.com/dokzlo13/huey/internal/dispatch"
	"github.com/dokzlo13/huey/internal/hue"
	"github.com/dokzlo13/huey/internal/lightstate"
)

var errQuit = errors.New("quit")

const shellHelp = `commands:
  list                                  show lights (* marks unconfirmed changes)
  refresh                               reload lights from the bridge
  on|off|toggle <light>                 switch a light
  color <light> <#rrggbb|x,y> [bright]  set color, optionally brightness
  dim <light> <brightness>              set brightness
  wait                                  block until queued changes settle
  help                                  show this text
  quit                                  leave the shell
`

// Shell is a line-oriented interactive session against one bridge. Changes
// are dispatched in the background and shown optimistically until the
// bridge answers.
type Shell struct {
	hue     *HueService
	ep      hue.Endpoint
	tracker *lightstate.Tracker

	in io.Reader

	outMu sync.Mutex
	out   io.Writer
}

// NewShell creates a shell reading commands from in and writing to out.
func NewShell(s *HueService, ep hue.Endpoint, in io.Reader, out io.Writer) *Shell {
	return &Shell{
		hue:     s,
		ep:      ep,
		tracker: lightstate.NewTracker(),
		in:      in,
		out:     out,
	}
}

// Run processes commands until quit, end of input or ctx cancellation.
// Queued changes are given the chance to settle before Run returns on quit
// or end of input.
func (sh *Shell) Run(ctx context.Context) error {
	if err := sh.refresh(ctx); err != nil {
		return err
	}

	d := dispatch.New(sh.hue.Client, sh.ep,
		dispatch.WithTracker(sh.tracker),
		dispatch.WithResultHandler(sh.onResult),
	)

	runCtx, stop := context.WithCancel(ctx)
	defer stop()

	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error {
		return d.Run(gctx)
	})
	g.Go(func() error {
		defer stop()
		err := sh.loop(gctx, d)
		d.Wait()
		return err
	})

	err := g.Wait()
	if errors.Is(err, errQuit) {
		return nil
	}
	return err
}

func (sh *Shell) loop(ctx context.Context, d *dispatch.Dispatcher) error {
	// Reading stdin cannot be interrupted, so lines are fed through a channel.
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(sh.in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	sh.printf("%d lights, type \"help\" for commands\n", len(sh.tracker.Views()))

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if err := sh.exec(ctx, d, strings.Fields(line)); err != nil {
				if errors.Is(err, errQuit) {
					return err
				}
				sh.printf("error: %v\n", err)
			}
		}
	}
}

func (sh *Shell) exec(ctx context.Context, d *dispatch.Dispatcher, args []string) error {
	if len(args) == 0 {
		return nil
	}

	switch cmd, rest := args[0], args[1:]; cmd {
	case "help", "?":
		sh.printf("%s", shellHelp)
		return nil
	case "quit", "exit":
		return errQuit
	case "list", "ls":
		sh.list()
		return nil
	case "refresh":
		return sh.refresh(ctx)
	case "wait":
		d.Wait()
		return nil
	case "on", "off", "toggle":
		if len(rest) != 1 {
			return fmt.Errorf("usage: %s <light>", cmd)
		}
		l, err := sh.find(rest[0])
		if err != nil {
			return err
		}
		tx := l.TogglePower()
		if cmd != "toggle" {
			tx = hue.Power(l.ID, cmd == "on")
		}
		return sh.submit(d, tx)
	case "color":
		if len(rest) < 2 || len(rest) > 3 {
			return errors.New("usage: color <light> <#rrggbb|x,y> [brightness]")
		}
		l, err := sh.find(rest[0])
		if err != nil {
			return err
		}
		c, err := color.Parse(rest[1])
		if err != nil {
			return err
		}
		var brightness *float64
		if len(rest) == 3 {
			b, err := strconv.ParseFloat(rest[2], 64)
			if err != nil {
				return fmt.Errorf("invalid brightness %q", rest[2])
			}
			brightness = &b
		}
		return sh.submit(d, l.ChangeColor(c, brightness))
	case "dim":
		if len(rest) != 2 {
			return errors.New("usage: dim <light> <brightness>")
		}
		l, err := sh.find(rest[0])
		if err != nil {
			return err
		}
		b, err := strconv.ParseFloat(rest[1], 64)
		if err != nil {
			return fmt.Errorf("invalid brightness %q", rest[1])
		}
		return sh.submit(d, l.ChangeColor(nil, &b))
	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
}

// find resolves ref against the displayed state, so a toggle issued right
// after another one flips the pending value rather than the stale snapshot.
func (sh *Shell) find(ref string) (hue.Light, error) {
	lights := lo.Map(sh.tracker.Views(), func(v lightstate.View, _ int) hue.Light {
		return v.Light
	})
	return FindLight(lights, ref)
}

func (sh *Shell) submit(d *dispatch.Dispatcher, tx hue.Transaction) error {
	if skipped := tx.Skipped(); len(skipped) > 0 {
		sh.printf("out of range, not sent: %s\n", strings.Join(skipped, ", "))
	}
	if tx.Empty() {
		return nil
	}
	return d.Submit(tx)
}

func (sh *Shell) refresh(ctx context.Context) error {
	lights, err := sh.hue.Lights(ctx, sh.ep)
	if err != nil {
		return err
	}
	sh.tracker.Reset(lights)
	return nil
}

func (sh *Shell) list() {
	for _, v := range sh.tracker.Views() {
		mark := " "
		if v.Pending {
			mark = "*"
		}
		sh.printf("%s %s\n", mark, FormatLight(v.Light))
	}
}

func (sh *Shell) onResult(r dispatch.Result) {
	sh.hue.RecordResult(r.Tx, SourceShell, r.Err)
	if r.Err != nil {
		sh.printf("failed %s: %v\n", r.Tx.LightID, r.Err)
		return
	}
	log.Debug().Str("light", r.Tx.LightID).Int("merged", r.Merged).Msg("Change confirmed")
}

func (sh *Shell) printf(format string, args ...any) {
	sh.outMu.Lock()
	defer sh.outMu.Unlock()
	fmt.Fprintf(sh.out, format, args...)
}

// FormatLight renders one light as a single table row.
func FormatLight(l hue.Light) string {
	power := "off"
	if l.IsOn {
		power = "on"
	}
	// Chromaticity only, shown at full brightness.
	swatch := color.XY{X: l.Color.X, Y: l.Color.Y, Brightness: 254}.RGB().Hex()
	return fmt.Sprintf("%-36s  %-20s  %-3s  %5.1f%%  xy=(%.4f, %.4f) %s",
		l.ID, l.Name, power, l.Brightness, l.Color.X, l.Color.Y, swatch)
}
