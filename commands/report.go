package commands

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/urfave/cli/v2"
	"go.uber.org/multierr"
	"golang.org/x/xerrors"

	"github.com/brscrawler/brs-crawler/model"
	"github.com/brscrawler/brs-crawler/storage"
)

type reportOpts struct {
	since time.Duration
	top   int
}

var reportFlags reportOpts

var ReportCmd = &cli.Command{
	Name:  "report",
	Usage: "Print a summary of known peers and recent scans.",
	Flags: append([]cli.Flag{
		&cli.DurationFlag{
			Name:        "since",
			Usage:       "Summarize scans made within this `DURATION`.",
			Value:       24 * time.Hour,
			Destination: &reportFlags.since,
		},
		&cli.IntFlag{
			Name:        "top",
			Usage:       "Number of software versions to list.",
			Value:       10,
			Destination: &reportFlags.top,
		},
	}, storageCmdFlags...),
	Action: func(cctx *cli.Context) error {
		if err := setupLogging(CrawlerLogFlags); err != nil {
			return xerrors.Errorf("setup logging: %w", err)
		}

		ctx := cctx.Context
		conf, err := loadConfig(cctx)
		if err != nil {
			return err
		}

		store, err := openStore(ctx, conf)
		if err != nil {
			return err
		}

		s, err := store.Summary(ctx, time.Now().Add(-reportFlags.since), reportFlags.top)
		if err == nil {
			renderSummary(os.Stdout, s)
		}

		closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return multierr.Append(err, store.Close(closeCtx))
	},
}

// renderSummary writes the peer, scan and version tables of s to w.
func renderSummary(w io.Writer, s *storage.Summary) {
	peers := table.NewWriter()
	peers.SetOutputMirror(w)
	peers.SetTitle("peers")
	peers.AppendHeader(table.Row{"state", "count"})
	states := make([]model.BlockReason, 0, len(s.PeersByState))
	for st := range s.PeersByState {
		states = append(states, st)
	}
	sort.Slice(states, func(i, j int) bool { return states[i] < states[j] })
	for _, st := range states {
		peers.AppendRow(table.Row{st.String(), s.PeersByState[st]})
	}
	peers.AppendFooter(table.Row{"total", s.TotalPeers()})
	peers.Render()

	scans := table.NewWriter()
	scans.SetOutputMirror(w)
	scans.SetTitle(fmt.Sprintf("scans since %s", s.Since.UTC().Format(time.RFC3339)))
	scans.AppendHeader(table.Row{"result", "count"})
	for _, r := range model.ScanResults() {
		if n, ok := s.ScansByResult[r]; ok {
			scans.AppendRow(table.Row{r.String(), n})
		}
	}
	scans.Render()

	versions := table.NewWriter()
	versions.SetOutputMirror(w)
	versions.SetTitle("versions")
	versions.AppendHeader(table.Row{"version", "peers"})
	for _, v := range s.Versions {
		versions.AppendRow(table.Row{v.Version, v.Peers})
	}
	versions.Render()
}
