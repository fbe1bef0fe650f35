package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"maps"
	"os"
	"slices"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/briandowns/spinner"
	"github.com/fatih/color"

	"github.com/xueqianLu/ledgerctl/internal/errs"
	"github.com/xueqianLu/ledgerctl/internal/execute"
)

var (
	successMark = color.New(color.FgGreen).Sprint("✓")
	errorMark   = color.New(color.FgRed).Sprint("✗")
	hintMark    = color.New(color.FgCyan).Sprint("→")
	highlight   = color.New(color.FgYellow).SprintFunc()
	muted       = color.New(color.Faint).SprintFunc()
)

// printer writes command results either as colored text or as JSON.
type printer struct {
	out     io.Writer
	json    bool
	spinner bool
}

func (p *printer) JSON(v interface{}) error {
	enc := json.NewEncoder(p.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func (p *printer) Successf(format string, args ...interface{}) {
	fmt.Fprintf(p.out, "%s %s\n", successMark, fmt.Sprintf(format, args...))
}

func (p *printer) Field(name, value string) {
	if value == "" {
		return
	}
	fmt.Fprintf(p.out, "  %s %s\n", muted(name+":"), value)
}

func (p *printer) Table(header []string, rows [][]string) {
	if len(rows) == 0 {
		fmt.Fprintln(p.out, muted("(none)"))
		return
	}
	tw := tabwriter.NewWriter(p.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, strings.Join(header, "\t"))
	for _, row := range rows {
		fmt.Fprintln(tw, strings.Join(row, "\t"))
	}
	tw.Flush()
}

// Spin shows a spinner on stderr until the returned func is called. It is
// a no-op for JSON output and when stderr is not a terminal.
func (p *printer) Spin(message string) func() {
	if p.json || !p.spinner {
		return func() {}
	}
	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond, spinner.WithWriter(os.Stderr))
	s.Suffix = " " + message
	_ = s.Color("cyan")
	s.Start()
	return s.Stop
}

// Result prints a transaction result. extra is merged into the JSON output
// and printed as fields in text mode.
func (p *printer) Result(what string, res execute.TransactionResult, extra map[string]string) error {
	if p.json {
		out := map[string]interface{}{"result": res}
		for k, v := range extra {
			if v != "" {
				out[k] = v
			}
		}
		if err := p.JSON(out); err != nil {
			return err
		}
	} else if res.Success {
		p.Successf("%s %s", what, highlight(res.Status))
		p.Field("transaction", res.TransactionID)
		p.Field("account", res.AccountID)
		p.Field("token", res.TokenID)
		p.Field("topic", res.TopicID)
		p.Field("contract", res.ContractID)
		for _, k := range slices.Sorted(maps.Keys(extra)) {
			p.Field(k, extra[k])
		}
	}
	if !res.Success {
		return txFailed(what, res)
	}
	return nil
}

func txFailed(what string, res execute.TransactionResult) error {
	err := errs.Fatal("%s failed: %s", what, res.ErrorMessage)
	if res.TransactionID != "" {
		err = errs.WithHint(err, "transaction id "+res.TransactionID)
	}
	return err
}

// PrintError writes err and its hints, never a stack trace.
func PrintError(w io.Writer, err error) {
	fmt.Fprintf(w, "%s %s\n", errorMark, err.Error())
	for _, h := range errs.Hints(err) {
		fmt.Fprintf(w, "  %s %s\n", hintMark, h)
	}
}
