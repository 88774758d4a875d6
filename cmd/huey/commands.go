package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/pflag"

	"github.com/dokzlo13/huey/internal/app"
	"github.com/dokzlo13/huey/internal/color"
	"github.com/dokzlo13/huey/internal/config"
	"github.com/dokzlo13/huey/internal/hue"
)

type command struct {
	app *app.App
	cfg *config.Config
	ctx context.Context
	out io.Writer
}

func (c *command) dispatch(args []string) error {
	name, rest := args[0], args[1:]

	switch name {
	case "discover":
		return c.discover(rest)
	case "pair":
		return c.pair(rest)
	case "lights":
		if len(rest) == 0 {
			return errors.New("usage: huey lights list|power|toggle|color")
		}
		switch rest[0] {
		case "list", "ls":
			return c.lightsList(rest[1:])
		case "power":
			return c.lightsPower(rest[1:])
		case "toggle":
			return c.lightsToggle(rest[1:])
		case "color":
			return c.lightsColor(rest[1:])
		}
		return fmt.Errorf("unknown lights command %q", rest[0])
	case "history":
		return c.history(rest)
	case "forget":
		return c.forget(rest)
	case "shell":
		return c.shell(rest)
	}
	return fmt.Errorf("unknown command %q", name)
}

func newFlagSet(name string) *pflag.FlagSet {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	return fs
}

func (c *command) discover(args []string) error {
	if err := newFlagSet("discover").Parse(args); err != nil {
		return err
	}

	address, err := c.app.Hue().Discover(c.ctx)
	if err != nil {
		return err
	}
	fmt.Fprintln(c.out, address)
	return nil
}

func (c *command) pair(args []string) error {
	fs := newFlagSet("pair")
	address := fs.StringP("address", "a", "", "Bridge address (default: configured, else discovered)")
	wait := fs.BoolP("wait", "w", false, "Keep retrying until the link button is pressed")
	if err := fs.Parse(args); err != nil {
		return err
	}

	ep, err := c.app.Hue().Pair(c.ctx, *address, *wait)
	if hue.IsRetryable(err) {
		return fmt.Errorf("%w: press the button on the bridge and run again, or use --wait", err)
	}
	if err != nil {
		return err
	}

	fmt.Fprintf(c.out, "paired with %s, credential stored in %s\n", ep, c.cfg.Database.Path)
	return nil
}

func (c *command) lightsList(args []string) error {
	fs := newFlagSet("lights list")
	cached := fs.Bool("cached", false, "Show the last listing without contacting the bridge")
	asJSON := fs.Bool("json", false, "Print lights as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}

	var lights []hue.Light
	if *cached {
		snap, at, err := c.app.Hue().CachedLights()
		if err != nil {
			return err
		}
		if !*asJSON && !at.IsZero() {
			fmt.Fprintf(c.out, "# snapshot from %s\n", at.Local().Format("2006-01-02 15:04:05"))
		}
		lights = snap
	} else {
		ep, err := c.app.Hue().Endpoint()
		if err != nil {
			return err
		}
		if lights, err = c.app.Hue().Lights(c.ctx, ep); err != nil {
			return err
		}
	}

	if *asJSON {
		enc := json.NewEncoder(c.out)
		enc.SetIndent("", "  ")
		return enc.Encode(lights)
	}
	for _, l := range lights {
		fmt.Fprintln(c.out, app.FormatLight(l))
	}
	return nil
}

func (c *command) lightsPower(args []string) error {
	fs := newFlagSet("lights power")
	all := fs.Bool("all", false, "Switch every light")
	on := fs.Bool("on", false, "Switch on")
	off := fs.Bool("off", false, "Switch off")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *on == *off {
		return errors.New("exactly one of --on or --off is required")
	}
	if *all == (fs.NArg() == 1) || fs.NArg() > 1 {
		return errors.New("usage: huey lights power <light>|--all --on|--off")
	}

	if *all {
		ep, lights, err := c.listLights()
		if err != nil {
			return err
		}
		n, err := c.app.Hue().PowerAll(c.ctx, ep, lights, *on)
		fmt.Fprintf(c.out, "switched %d of %d lights\n", n, len(lights))
		return err
	}

	ep, err := c.app.Hue().Endpoint()
	if err != nil {
		return err
	}
	id, err := c.app.Hue().ResolveLightID(c.ctx, ep, fs.Arg(0))
	if err != nil {
		return err
	}
	return c.apply(ep, hue.Power(id, *on))
}

func (c *command) lightsToggle(args []string) error {
	fs := newFlagSet("lights toggle")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return errors.New("usage: huey lights toggle <light>")
	}

	ep, lights, err := c.listLights()
	if err != nil {
		return err
	}
	l, err := app.FindLight(lights, fs.Arg(0))
	if err != nil {
		return err
	}
	return c.apply(ep, l.TogglePower())
}

func (c *command) lightsColor(args []string) error {
	fs := newFlagSet("lights color")
	x := fs.Float64P("x", "x", 0, "CIE x chromaticity")
	y := fs.Float64P("y", "y", 0, "CIE y chromaticity")
	rgb := fs.String("rgb", "", "RGB color as #rrggbb")
	brightness := fs.Float64P("brightness", "B", 0, "Brightness percentage")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return errors.New("usage: huey lights color <light> [-x X -y Y | --rgb #rrggbb] [--brightness B]")
	}

	var col color.Color
	switch {
	case *rgb != "" && (fs.Changed("x") || fs.Changed("y")):
		return errors.New("--rgb cannot be combined with -x/-y")
	case *rgb != "":
		parsed, err := color.ParseHex(*rgb)
		if err != nil {
			return err
		}
		col = parsed
	case fs.Changed("x") != fs.Changed("y"):
		return errors.New("-x and -y must be given together")
	case fs.Changed("x"):
		col = color.XY{X: *x, Y: *y}
	}

	var bri *float64
	if fs.Changed("brightness") {
		bri = brightness
	}
	if col == nil && bri == nil {
		return errors.New("nothing to change: give a color and/or --brightness")
	}

	ep, lights, err := c.listLights()
	if err != nil {
		return err
	}
	l, err := app.FindLight(lights, fs.Arg(0))
	if err != nil {
		return err
	}

	tx := l.ChangeColor(col, bri)
	if skipped := tx.Skipped(); len(skipped) > 0 {
		fmt.Fprintf(c.out, "out of range, not sent: %s\n", strings.Join(skipped, ", "))
	}
	return c.apply(ep, tx)
}

func (c *command) history(args []string) error {
	fs := newFlagSet("history")
	limit := fs.IntP("number", "n", 20, "Number of entries to show")
	lightID := fs.String("light", "", "Only show entries for this light id")
	if err := fs.Parse(args); err != nil {
		return err
	}

	entries, err := c.app.History(*lightID, *limit)
	if err != nil {
		return err
	}

	// Oldest first, like a log.
	for i := len(entries) - 1; i >= 0; i-- {
		e := entries[i]
		payload := ""
		if e.Payload != nil {
			b, _ := json.Marshal(e.Payload)
			payload = string(b)
		}
		line := fmt.Sprintf("%s  %-10s  %-5s  %-36s  %s",
			e.Timestamp.Local().Format("2006-01-02 15:04:05"), e.EventType, e.Source, e.LightID, payload)
		if e.Error != "" {
			line += "  error: " + e.Error
		}
		fmt.Fprintln(c.out, line)
	}
	return nil
}

func (c *command) forget(args []string) error {
	if err := newFlagSet("forget").Parse(args); err != nil {
		return err
	}
	if err := c.app.Hue().Forget(); err != nil {
		return err
	}
	fmt.Fprintln(c.out, "stored credential discarded")
	return nil
}

func (c *command) shell(args []string) error {
	if err := newFlagSet("shell").Parse(args); err != nil {
		return err
	}

	ep, err := c.app.Hue().Endpoint()
	if err != nil {
		return err
	}
	return app.NewShell(c.app.Hue(), ep, os.Stdin, c.out).Run(c.ctx)
}

// listLights resolves the endpoint and fetches fresh lights, so references
// resolve against current state.
func (c *command) listLights() (hue.Endpoint, []hue.Light, error) {
	ep, err := c.app.Hue().Endpoint()
	if err != nil {
		return hue.Endpoint{}, nil, err
	}
	lights, err := c.app.Hue().Lights(c.ctx, ep)
	if err != nil {
		return hue.Endpoint{}, nil, err
	}
	return ep, lights, nil
}

func (c *command) apply(ep hue.Endpoint, tx hue.Transaction) error {
	if err := c.app.Hue().Apply(c.ctx, ep, tx, app.SourceCLI); err != nil {
		return err
	}
	fmt.Fprintf(c.out, "%s: updated %s\n", tx.LightID, strings.Join(tx.Fields(), ", "))
	return nil
}
