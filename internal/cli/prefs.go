package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/ahrav/inspectra/internal/domain/scan"
)

// TargetCmd shows or sets the default target.
type TargetCmd struct {
	URL   string `arg:"" optional:"" help:"New target URL."`
	Clear bool   `help:"Remove the stored target."`
}

// Run implements the command.
func (c *TargetCmd) Run(ctx context.Context, env *Env) error {
	return env.urlPref(ctx, "target", c.URL, c.Clear, env.Store.TargetURL, env.Store.SetTargetURL)
}

// BaselineCmd shows or sets the baseline URL.
type BaselineCmd struct {
	URL   string `arg:"" optional:"" help:"New baseline URL."`
	Clear bool   `help:"Remove the stored baseline."`
}

// Run implements the command.
func (c *BaselineCmd) Run(ctx context.Context, env *Env) error {
	return env.urlPref(ctx, "baseline", c.URL, c.Clear, env.Store.BaselineURL, env.Store.SetBaselineURL)
}

func (e *Env) urlPref(
	ctx context.Context,
	name, arg string,
	reset bool,
	get func() string,
	set func(context.Context, string) error,
) error {
	switch {
	case reset:
		if err := set(ctx, ""); err != nil {
			return err
		}
	case arg != "":
		u, err := scan.NormalizeTarget(arg)
		if err != nil {
			return err
		}
		if err := set(ctx, u); err != nil {
			return err
		}
	}

	cur := get()
	return e.render(map[string]string{name: cur}, func(w io.Writer) error {
		if cur == "" {
			_, err := fmt.Fprintf(w, "no %s set\n", name)
			return err
		}
		_, err := fmt.Fprintln(w, cur)
		return err
	})
}
