package minfs

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
	"golang.org/x/term"
)

// PagerLine is one line of pager text. Text is shown verbatim; Warn lines
// are highlighted in the interactive view.
type PagerLine struct {
	Text string
	Warn bool
}

// plainLines wraps lines that need no highlighting.
func plainLines(lines []string) []PagerLine {
	out := make([]PagerLine, len(lines))
	for i, l := range lines {
		out[i] = PagerLine{Text: l}
	}
	return out
}

// closureLines renders a closure for review: entries relative to the search
// root, then the warnings.
func closureLines(root string, c *Closure) []PagerLine {
	lines := make([]PagerLine, 0, len(c.Entries)+len(c.Warnings)+2)
	for _, e := range c.Entries {
		lines = append(lines, PagerLine{Text: relToRoot(root, e)})
	}
	if len(c.Warnings) > 0 {
		lines = append(lines, PagerLine{}, PagerLine{Text: fmt.Sprintf("%d warnings:", len(c.Warnings)), Warn: true})
		for _, w := range c.Warnings {
			lines = append(lines, PagerLine{Text: "  " + w.Error(), Warn: true})
		}
	}
	return lines
}

// tagged renders l for a tview text view with dynamic colors.
func (l PagerLine) tagged() string {
	if l.Warn {
		return "[yellow]" + tview.Escape(l.Text) + "[-]"
	}
	return tview.Escape(l.Text)
}

// RunPager shows lines in a scrollable view when stdout is a terminal too
// small to hold them, and prints them otherwise.
func RunPager(title string, lines []PagerLine) error {
	return runPager(os.Stdout, title, lines)
}

func runPager(out io.Writer, title string, lines []PagerLine) error {
	f, isFile := out.(*os.File)
	if !isFile || !term.IsTerminal(int(f.Fd())) {
		for _, line := range lines {
			fmt.Fprintln(out, line.Text)
		}
		return nil
	}
	if _, height, err := term.GetSize(int(f.Fd())); err == nil && len(lines) <= height-2 {
		for _, line := range lines {
			fmt.Fprintln(out, line.Text)
		}
		return nil
	}

	text := make([]string, len(lines))
	for i, l := range lines {
		text[i] = l.tagged()
	}

	app := tview.NewApplication()
	body := tview.NewTextView().
		SetDynamicColors(true).
		SetScrollable(true).
		SetWrap(false).
		SetText(strings.Join(text, "\n"))
	body.SetBorder(true).SetTitle(" " + title + " ")

	footer := tview.NewTextView().
		SetDynamicColors(true).
		SetTextAlign(tview.AlignCenter).
		SetText("[gray]↑/↓ PgUp/PgDn Home/End scroll, q or Esc quits[-]")

	layout := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(body, 0, 1, true).
		AddItem(footer, 1, 0, false)

	app.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		if event.Key() == tcell.KeyEsc || event.Key() == tcell.KeyCtrlQ ||
			(event.Key() == tcell.KeyRune && event.Rune() == 'q') {
			app.Stop()
			return nil
		}
		return event
	})

	if err := app.SetRoot(layout, true).SetFocus(body).Run(); err != nil {
		return fmt.Errorf("pager execution failed: %w", err)
	}
	return nil
}
