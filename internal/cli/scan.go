package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/ahrav/inspectra/internal/domain/scan"
)

// ErrNoTarget is returned when a command needs a target and none was given
// or stored.
var ErrNoTarget = errors.New("no target url: pass one or run `inspectra target <url>`")

// resolveTarget returns the normalized arg, falling back to the stored
// target.
func (e *Env) resolveTarget(arg string) (string, error) {
	if strings.TrimSpace(arg) == "" {
		arg = e.Store.TargetURL()
	}
	if arg == "" {
		return "", ErrNoTarget
	}
	return scan.NormalizeTarget(arg)
}

// ScanCmd runs a full scan.
type ScanCmd struct {
	URL      string `arg:"" optional:"" help:"Target URL. Defaults to the stored target."`
	Username string `help:"Username for the target application."`
	Password string `help:"Password for the target application."`
	Remember bool   `help:"Store the credentials for later scans."`
}

// Run implements the command.
func (c *ScanCmd) Run(ctx context.Context, env *Env) error {
	target, err := env.resolveTarget(c.URL)
	if err != nil {
		return err
	}

	creds := scan.Credentials{Username: c.Username, Password: c.Password}
	if creds.IsZero() {
		creds = env.Store.Credentials()
	} else if c.Remember {
		if err := env.Store.SetCredentials(ctx, creds); err != nil {
			return err
		}
	}
	if err := env.Store.SetTargetURL(ctx, target); err != nil {
		return err
	}

	view := env.startProgress("scanning " + target)
	res, err := env.Client.Scan(ctx, scan.NewScanRequest(target, creds))
	view.Stop()
	if err != nil {
		return err
	}

	if _, err := env.Store.RecordScan(ctx, target, *res); err != nil {
		return err
	}

	return env.render(res, func(w io.Writer) error { return writeScanResult(w, target, res) })
}

func writeScanResult(w io.Writer, target string, r *scan.ScanResult) error {
	if r.TargetURL != "" {
		target = r.TargetURL
	}
	status := "ok"
	if !r.Success {
		status = "failed"
		if r.Error != "" {
			status += ": " + r.Error
		}
	}

	tw := newTable(w)
	fmt.Fprintf(tw, "Target:\t%s\n", target)
	fmt.Fprintf(tw, "Status:\t%s\n", status)
	if r.ID != "" {
		fmt.Fprintf(tw, "Scan ID:\t%s\n", r.ID)
	}
	fmt.Fprintf(tw, "Pages:\t%d\n", max(r.TotalPagesScanned, len(r.Pages)))
	if r.Duration > 0 {
		fmt.Fprintf(tw, "Duration:\t%s\n", r.Duration.Duration().Round(time.Millisecond))
	}
	if s, ok := r.Summary(); ok {
		fmt.Fprintf(tw, "Issues:\t%d (critical %d, high %d, medium %d, low %d, info %d)\n",
			s.Total, s.Critical, s.High, s.Medium, s.Low, s.Info)
	} else {
		fmt.Fprintf(tw, "Issues:\t%d\n", r.IssueCount())
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	if len(r.Pages) == 0 {
		return nil
	}
	fmt.Fprintln(w)
	tw = newTable(w)
	fmt.Fprintln(tw, "PAGE\tTYPE\tSTATUS\tISSUES")
	for _, p := range r.Pages {
		pt := string(p.PageType)
		if pt == "" {
			pt = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\n", p.URL, pt, p.StatusCode, len(p.Issues))
	}
	return tw.Flush()
}

// HistoryCmd lists or clears the scan history.
type HistoryCmd struct {
	Limit int  `short:"n" default:"0" help:"Show at most this many entries (0 shows all)."`
	Clear bool `help:"Delete the history."`
}

// Run implements the command.
func (c *HistoryCmd) Run(ctx context.Context, env *Env) error {
	if c.Clear {
		return env.Store.ClearHistory(ctx)
	}

	entries := env.Store.History()
	if c.Limit > 0 && len(entries) > c.Limit {
		entries = entries[:c.Limit]
	}

	return env.render(entries, func(w io.Writer) error {
		if len(entries) == 0 {
			_, err := fmt.Fprintln(w, "no scans recorded")
			return err
		}
		tw := newTable(w)
		fmt.Fprintln(tw, "ID\tSCANNED\tTARGET\tPAGES\tISSUES\tSTATUS")
		for _, e := range entries {
			status := "ok"
			if !e.Result.Success {
				status = "failed"
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%s\n",
				shortID(e.ID.String()),
				e.ScannedAt.Local().Format(time.DateTime),
				e.TargetURL,
				max(e.Result.TotalPagesScanned, len(e.Result.Pages)),
				e.Result.IssueCount(),
				status,
			)
		}
		return tw.Flush()
	})
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// ShowCmd prints the last scan result or a history entry.
type ShowCmd struct {
	ID string `arg:"" optional:"" help:"History entry id or unique prefix. Defaults to the last result."`
}

// ErrNoResult is returned when there is nothing to show.
var ErrNoResult = errors.New("no stored scan result")

// Run implements the command.
func (c *ShowCmd) Run(_ context.Context, env *Env) error {
	if c.ID == "" {
		res, ok := env.Store.ScanResult()
		if !ok {
			return ErrNoResult
		}
		return env.render(res, func(w io.Writer) error { return writeScanResult(w, env.Store.TargetURL(), &res) })
	}

	var match []scan.HistoryEntry
	for _, e := range env.Store.History() {
		if strings.HasPrefix(e.ID.String(), strings.ToLower(c.ID)) {
			match = append(match, e)
		}
	}
	switch len(match) {
	case 0:
		return fmt.Errorf("no history entry matches %q", c.ID)
	case 1:
	default:
		return fmt.Errorf("%d history entries match %q", len(match), c.ID)
	}

	e := match[0]
	return env.render(e, func(w io.Writer) error {
		fmt.Fprintf(w, "Scanned: %s\n", e.ScannedAt.Local().Format(time.DateTime))
		return writeScanResult(w, e.TargetURL, &e.Result)
	})
}
