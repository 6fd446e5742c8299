package main

import (
	"bufio"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"novelhub/internal/fetch"
	"novelhub/pkg/models"
)

func newFetchCommand(ctx *commandContext) *cobra.Command {
	var (
		mode     string
		interval float64
		retry    int
		threads  int
		infoOnly bool
		yes      bool
	)

	cmd := &cobra.Command{
		Use:   "fetch <source/nid | #N>",
		Short: "Fetch a work from its remote into the local store",
		Long: `Fetch a work from its remote into the local store.

Modes:
  update  fetch only missing chapters, stored chapters are left alone
  flush   fetch every chapter and overwrite the stored body
  diff    fetch every chapter and merge bodies that changed (sequential only)`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := ctx.open()
			if err != nil {
				return err
			}
			opts, err := a.FetchOptions()
			if err != nil {
				return err
			}
			flags := cmd.Flags()
			if flags.Changed("mode") {
				if opts.Policy, err = fetch.ParsePolicy(mode); err != nil {
					return err
				}
			}
			if flags.Changed("interval") {
				opts.Interval = time.Duration(interval * float64(time.Second))
			}
			if flags.Changed("retry") {
				opts.Retry = retry
			}
			if flags.Changed("thread") {
				opts.Workers = threads
			}
			opts.InfoOnly = infoOnly
			if err := opts.Validate(); err != nil {
				return err
			}

			addr, err := resolveAddress(cmd.Context(), a.Store, args[0])
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			orch := a.Orchestrator(a.MergeTool())
			orch.Observer = newProgress(out)
			if !yes {
				in := bufio.NewReader(cmd.InOrStdin())
				orch.Confirm = func(info models.Info) bool { return confirmWork(in, out, info) }
			}

			sum, err := orch.Run(cmd.Context(), addr, opts)
			if err != nil {
				return err
			}
			printSummary(out, sum)
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVarP(&mode, "mode", "m", "update", "update | flush | diff")
	f.Float64VarP(&interval, "interval", "i", 0.2, "seconds between attempts for one chapter")
	f.IntVarP(&retry, "retry", "r", 3, "attempts per chapter, 0 retries until it succeeds")
	f.IntVarP(&threads, "thread", "t", 1, "concurrent workers, not allowed with --mode diff")
	f.BoolVar(&infoOnly, "info", false, "only refresh the work's metadata")
	f.BoolVarP(&yes, "yes", "y", false, "keep a new work without asking")
	return cmd
}

func confirmWork(in *bufio.Reader, out io.Writer, info models.Info) bool {
	fmt.Fprintln(out, describeInfo(info))
	fmt.Fprint(out, "Is this the one? [Y/n] ")
	line, err := in.ReadString('\n')
	if err != nil && line == "" {
		return false
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "", "y", "yes":
		return true
	}
	return false
}

func describeInfo(info models.Info) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s/%s  %s", info.Source, info.NID, info.Title)
	if info.Author != "" {
		fmt.Fprintf(&b, "  by %s", info.Author)
	}
	if len(info.Tags) > 0 {
		fmt.Fprintf(&b, "\n  tags: %s", strings.Join(info.Tags, ", "))
	}
	if info.Finished {
		b.WriteString("\n  finished")
	}
	if intro := strings.TrimSpace(info.Intro); intro != "" {
		fmt.Fprintf(&b, "\n  %s", strings.ReplaceAll(intro, "\n", "\n  "))
	}
	return b.String()
}

// progress prints one line per chapter event.
type progress struct {
	mu  sync.Mutex
	out io.Writer
}

func newProgress(out io.Writer) *progress { return &progress{out: out} }

func (p *progress) Observe(ev models.FetchEvent) {
	var line string
	switch ev.Type {
	case models.EventChapterSaved:
		line = fmt.Sprintf("saved    %s (%s)", ev.Title, ev.ChapterID)
	case models.EventChapterSkipped:
		line = fmt.Sprintf("skipped  %s (%s): %s", ev.Title, ev.ChapterID, ev.Reason)
	case models.EventCatalogMerged:
		line = "catalog merged"
	case models.EventRunAborted:
		line = fmt.Sprintf("aborted at %s: %s", ev.Stage, ev.Reason)
	default:
		return
	}
	p.mu.Lock()
	fmt.Fprintln(p.out, line)
	p.mu.Unlock()
}

func printSummary(out io.Writer, sum *fetch.Summary) {
	fmt.Fprintln(out, sum.String())
	if len(sum.Skips) == 0 {
		return
	}
	fmt.Fprintf(out, "%d chapters skipped, run `novelhub fetch %s` again to retry:\n", len(sum.Skips), sum.Work)
	for _, s := range sum.Skips {
		fmt.Fprintf(out, "  %s\n", s)
	}
}
