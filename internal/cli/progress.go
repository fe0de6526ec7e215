package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/briandowns/spinner"
	"github.com/charmbracelet/bubbles/progress"

	"github.com/ahrav/inspectra/internal/domain/scan"
)

// progressView renders stream progress on one line: a spinner followed by a
// bar and the current phase or item.
type progressView struct {
	spin *spinner.Spinner
	bar  progress.Model
}

func (e *Env) startProgress(label string) *progressView {
	if e.Quiet {
		return nil
	}
	return newProgressView(e.Err, label)
}

func newProgressView(w io.Writer, label string) *progressView {
	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond, spinner.WithWriter(w))
	s.Suffix = " " + label
	s.Start()
	return &progressView{
		spin: s,
		bar:  progress.New(progress.WithDefaultGradient(), progress.WithWidth(30), progress.WithoutPercentage()),
	}
}

// Update shows p. A nil view ignores updates.
func (v *progressView) Update(p scan.ProgressEvent) {
	if v == nil {
		return
	}
	v.spin.Lock()
	v.spin.Suffix = " " + v.bar.ViewAs(p.Fraction()) + " " + describe(p)
	v.spin.Unlock()
}

// Stop clears the line.
func (v *progressView) Stop() {
	if v == nil {
		return
	}
	v.spin.Stop()
}

func describe(p scan.ProgressEvent) string {
	pct := fmt.Sprintf("%3.0f%%", p.Fraction()*100)
	if p.Kind() == scan.PhaseProgress {
		if p.Phase == "" {
			return pct
		}
		return pct + " " + p.Phase
	}

	var pos string
	switch {
	case p.Index != nil && p.Total != nil:
		pos = fmt.Sprintf("%d/%d", *p.Index, *p.Total)
	case p.Index != nil:
		pos = fmt.Sprintf("%d", *p.Index)
	}
	out := pct
	if pos != "" {
		out += " " + pos
	}
	if p.URL != "" {
		out += " " + p.URL
	}
	return out
}
