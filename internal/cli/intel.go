package cli

import (
	"context"
	"fmt"
	"io"
	"sort"

	"github.com/ahrav/inspectra/internal/domain/scan"
)

// HygieneCmd shows the hygiene score of a target.
type HygieneCmd struct {
	URL string `arg:"" optional:"" help:"Target URL. Defaults to the stored target."`
}

// Run implements the command.
func (c *HygieneCmd) Run(ctx context.Context, env *Env) error {
	target, err := env.resolveTarget(c.URL)
	if err != nil {
		return err
	}
	hs, err := env.Client.HygieneScore(ctx, target)
	if err != nil {
		return err
	}

	return env.render(verbatim(hs.Raw, hs), func(w io.Writer) error {
		score := "n/a"
		if hs.Score != nil {
			score = fmt.Sprintf("%.0f", *hs.Score)
		}
		if hs.Grade != "" {
			score += " (" + hs.Grade + ")"
		}
		fmt.Fprintf(w, "Hygiene score: %s\n", score)

		names := make([]string, 0, len(hs.Pillars))
		for name := range hs.Pillars {
			names = append(names, name)
		}
		if len(names) == 0 {
			return nil
		}
		sort.Strings(names)

		tw := newTable(w)
		fmt.Fprintln(tw, "PILLAR\tSCORE\tSTATUS\tISSUES")
		for _, name := range names {
			p := hs.Pillars[name]
			ps := "-"
			if p.Score != nil {
				ps = fmt.Sprintf("%.0f", *p.Score)
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%d\n", name, ps, p.Status, p.Issues)
		}
		return tw.Flush()
	})
}

// SeverityCmd shows the severity matrix of a target.
type SeverityCmd struct {
	URL string `arg:"" optional:"" help:"Target URL. Defaults to the stored target."`
}

// Run implements the command.
func (c *SeverityCmd) Run(ctx context.Context, env *Env) error {
	target, err := env.resolveTarget(c.URL)
	if err != nil {
		return err
	}
	sm, err := env.Client.SeverityMatrix(ctx, target)
	if err != nil {
		return err
	}

	return env.render(verbatim(sm.Raw, sm), func(w io.Writer) error {
		tw := newTable(w)
		fmt.Fprintln(tw, "SEVERITY\tTOTAL\tBY CATEGORY")
		for _, sev := range scan.Severities {
			cats := sm.Matrix[sev]
			names := make([]string, 0, len(cats))
			for name := range cats {
				names = append(names, name)
			}
			sort.Strings(names)

			detail := ""
			for i, name := range names {
				if i > 0 {
					detail += ", "
				}
				detail += fmt.Sprintf("%s %d", name, cats[name])
			}
			fmt.Fprintf(tw, "%s\t%d\t%s\n", sev, sm.Count(sev), detail)
		}
		return tw.Flush()
	})
}

// OverrideCmd sets the page type of a classified page.
type OverrideCmd struct {
	URL      string `arg:"" help:"Page URL."`
	PageType string `arg:"" name:"type" help:"Page type, e.g. login, checkout, form."`
}

// Run implements the command.
func (c *OverrideCmd) Run(ctx context.Context, env *Env) error {
	pt := scan.PageType(c.PageType)
	if !pt.Known() {
		fmt.Fprintf(env.Err, "warning: %q is not a known page type\n", c.PageType)
	}
	if err := env.Client.OverridePageType(ctx, c.URL, pt); err != nil {
		return err
	}

	return env.render(scan.OverrideRequest{URL: c.URL, PageType: pt}, func(w io.Writer) error {
		_, err := fmt.Fprintf(w, "%s is now %s\n", c.URL, pt)
		return err
	})
}

// ForgetCmd deletes the stored classification of a page.
type ForgetCmd struct {
	URL string `arg:"" help:"Page URL."`
}

// Run implements the command.
func (c *ForgetCmd) Run(ctx context.Context, env *Env) error {
	if err := env.Client.DeleteClassification(ctx, c.URL); err != nil {
		return err
	}
	return env.render(map[string]string{"deleted": c.URL}, func(w io.Writer) error {
		_, err := fmt.Fprintf(w, "classification of %s deleted\n", c.URL)
		return err
	})
}
