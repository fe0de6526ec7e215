package cli

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/ahrav/inspectra/internal/client"
	"github.com/ahrav/inspectra/internal/discovery"
	"github.com/ahrav/inspectra/internal/domain/scan"
)

func progressHandler(view *progressView) client.EventHandler {
	return client.EventHandler{
		OnProgress: view.Update,
	}
}

// MonitorCmd streams network monitoring of a target.
type MonitorCmd struct {
	URL string `arg:"" optional:"" help:"Target URL. Defaults to the stored target."`
}

// Run implements the command.
func (c *MonitorCmd) Run(ctx context.Context, env *Env) error {
	target, err := env.resolveTarget(c.URL)
	if err != nil {
		return err
	}

	view := env.startProgress("monitoring " + target)
	report, err := env.Client.MonitorNetwork(ctx, target, progressHandler(view))
	view.Stop()
	if err != nil {
		return err
	}

	return env.render(verbatim(report.Raw, report), func(w io.Writer) error { return writeNetworkReport(w, report) })
}

func writeNetworkReport(w io.Writer, r *scan.NetworkReport) error {
	if s := r.Summary; s != nil {
		fmt.Fprintf(w, "Requests: %d (failed %d, slow %d, third-party %d)\n",
			s.TotalRequests, s.Failed, s.Slow, s.ThirdParty)
	} else {
		fmt.Fprintf(w, "Requests: %d\n", len(r.Requests))
	}

	if failed := r.FailedRequests(); len(failed) > 0 {
		fmt.Fprintln(w, "\nFailed requests:")
		tw := newTable(w)
		for _, req := range failed {
			method := req.Method
			if method == "" {
				method = "GET"
			}
			fmt.Fprintf(tw, "  %s\t%d\t%s\n", method, req.Status, req.URL)
		}
		if err := tw.Flush(); err != nil {
			return err
		}
	}

	if len(r.Clusters) > 0 {
		fmt.Fprintln(w, "\nEndpoints:")
		tw := newTable(w)
		for _, cl := range r.Clusters {
			fmt.Fprintf(tw, "  %s\t%d\t%s\n", cl.Pattern, cl.Count, strings.Join(cl.Methods, ","))
		}
		return tw.Flush()
	}
	return nil
}

// ClassifyCmd classifies pages in one batch.
type ClassifyCmd struct {
	URLs       []string `arg:"" optional:"" name:"url" help:"Pages to classify. Defaults to the stored target."`
	Discover   bool     `help:"Also classify the pages linked from the given ones."`
	SameOrigin bool     `default:"true" negatable:"" help:"Only follow links on the same origin when discovering."`
	Limit      int      `default:"50" help:"Maximum number of pages to send when discovering."`
}

// Run implements the command.
func (c *ClassifyCmd) Run(ctx context.Context, env *Env) error {
	urls := make([]string, 0, len(c.URLs))
	for _, u := range c.URLs {
		n, err := scan.NormalizeTarget(u)
		if err != nil {
			return err
		}
		urls = append(urls, n)
	}
	if len(urls) == 0 {
		target, err := env.resolveTarget("")
		if err != nil {
			return err
		}
		urls = []string{target}
	}

	if c.Discover {
		found, err := discovery.Collect(ctx, env.HTTP, urls, c.SameOrigin, c.Limit)
		if err != nil {
			return fmt.Errorf("discovering pages: %w", err)
		}
		urls = found
	}

	view := env.startProgress(fmt.Sprintf("classifying %d pages", len(urls)))
	classes, err := client.NewClassifier(env.Client).Classify(ctx, urls, progressHandler(view))
	view.Stop()
	if err != nil {
		return err
	}

	return env.render(classes, func(w io.Writer) error {
		if len(classes) == 0 {
			_, err := fmt.Fprintln(w, "no pages classified")
			return err
		}
		tw := newTable(w)
		fmt.Fprintln(tw, "PAGE\tTYPE\tCONFIDENCE")
		for _, cl := range classes {
			pt := string(cl.PageType)
			if cl.Overridden {
				pt += " (override)"
			}
			fmt.Fprintf(tw, "%s\t%s\t%.2f\n", cl.URL, pt, cl.Confidence)
		}
		return tw.Flush()
	})
}
