package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"curator/internal/core"
	"curator/internal/handlers"
	"curator/internal/library"
	"curator/internal/utils"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
}

func newServeCommand(app *appContext) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the configured automation",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext(cmd)
			defer stop()

			manager, err := app.open(ctx)
			if err != nil {
				return err
			}
			defer app.close()
			server := handlers.NewServer(app.config, manager, app.logger)

			if err := manager.StartAutomation(ctx); err != nil {
				return err
			}

			errCh := make(chan error, 1)
			go func() {
				errCh <- server.Start()
			}()
			app.logger.Info("Curator started on port", app.config.App.Port)

			select {
			case err := <-errCh:
				if err != nil && !errors.Is(err, http.ErrServerClosed) {
					return fmt.Errorf("server: %w", err)
				}
				return nil
			case <-ctx.Done():
			}

			app.logger.Info("Shutting down...")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return server.Stop(shutdownCtx)
		},
	}
}

func newScanCommand(app *appContext, session *string) *cobra.Command {
	var exclude []string
	cmd := &cobra.Command{
		Use:   "scan [path]",
		Short: "List the video files and folders below a path",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext(cmd)
			defer stop()
			manager, err := app.open(ctx)
			if err != nil {
				return err
			}
			defer app.close()
			root := ""
			if len(args) == 1 {
				root = args[0]
			}
			var exclusions []string
			if cmd.Flags().Changed("exclude") {
				exclusions = exclude
			}

			result, err := manager.Scan(ctx, *session, root, exclusions)
			if err != nil {
				return err
			}

			rows := make([][]string, 0, result.TotalCount())
			for _, d := range result.Directories {
				rows = append(rows, []string{rel(result.Root, d.Path), "dir", ""})
			}
			for _, f := range result.Files {
				rows = append(rows, []string{rel(result.Root, f.Path), f.Extension, humanize.Bytes(uint64(f.Size))})
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, renderTable([]string{"Path", "Type", "Size"}, rows, []columnAlignment{alignLeft, alignLeft, alignRight}))
			fmt.Fprintf(out, "%d files, %d directories\n", result.TotalFiles, result.TotalDirs)
			for _, msg := range result.ErrorMessages() {
				fmt.Fprintln(cmd.ErrOrStderr(), "warning:", msg)
			}
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&exclude, "exclude", nil, "Directory name fragments to skip (defaults to exclude_dirs)")
	return cmd
}

func rel(root, path string) string {
	if r, err := filepath.Rel(root, path); err == nil {
		return r
	}
	return path
}

func newProcessCommand(app *appContext, session *string) *cobra.Command {
	var base string
	cmd := &cobra.Command{
		Use:   "process [path...]",
		Short: "Classify library items into category folders",
		Long:  "Classify the given files or folders. Without arguments every top-level item of movie_path is classified.",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext(cmd)
			defer stop()
			manager, err := app.open(ctx)
			if err != nil {
				return err
			}
			defer app.close()

			done := trackProgress(manager.Events(), *session, os.Stderr)
			var report *core.ClassifyReport
			if len(args) == 0 {
				report, err = manager.ProcessAll(ctx, *session)
			} else {
				report, err = manager.Process(ctx, *session, base, entriesFor(args))
			}
			done()
			if report != nil {
				printClassifyReport(cmd, report)
			}
			return err
		},
	}
	cmd.Flags().StringVar(&base, "base", "", "Library root the category folders live in (defaults to movie_path)")
	return cmd
}

func entriesFor(paths []string) []library.FileEntry {
	entries := make([]library.FileEntry, 0, len(paths))
	for _, p := range paths {
		e := library.FileEntry{Path: p, Name: filepath.Base(p), Kind: library.KindFile}
		if info, err := os.Stat(p); err == nil {
			if info.IsDir() {
				e.Kind = library.KindDirectory
			} else {
				e.Size = info.Size()
			}
		}
		if !e.IsDir() {
			e.Extension = utils.NormalizeExtension(e.Name)
		}
		entries = append(entries, e)
	}
	return entries
}

func printClassifyReport(cmd *cobra.Command, report *core.ClassifyReport) {
	rows := make([][]string, 0, len(report.Results))
	for _, r := range report.Results {
		detail := r.TargetPath
		if r.Status == core.StatusError {
			detail = r.Error
		}
		rows = append(rows, []string{r.Source.Name, string(r.Status), r.Category, r.MetadataSource, detail})
	}
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, renderTable([]string{"Item", "Status", "Category", "Source", "Target / Error"}, rows, nil))
	fmt.Fprintf(out, "%d succeeded, %d failed, %d skipped\n", report.Succeeded, report.Failed, report.Skipped)
}

func newMatchCommand(app *appContext, session *string) *cobra.Command {
	return &cobra.Command{
		Use:   "match [torrent-path]",
		Short: "Match torrents against the classified library",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext(cmd)
			defer stop()
			manager, err := app.open(ctx)
			if err != nil {
				return err
			}
			defer app.close()
			path := ""
			if len(args) == 1 {
				path = args[0]
			}
			done := trackProgress(manager.Events(), *session, os.Stderr)
			report, err := manager.MatchTorrents(ctx, *session, path)
			done()
			if err != nil {
				return err
			}
			printMatchReport(cmd, report)
			return nil
		},
	}
}

func printMatchReport(cmd *cobra.Command, report *core.MatchReport) {
	out := cmd.OutOrStdout()
	rows := make([][]string, 0, len(report.Matched))
	for _, c := range report.Matched {
		state := "selected"
		switch {
		case !c.Selected:
			state = "removed"
		case c.NeedsConfirmation:
			state = "confirm"
		case c.AutoAccepted:
			state = "auto"
		}
		rows = append(rows, []string{
			c.Torrent.Name,
			c.Folder.Name,
			strconv.FormatFloat(c.Similarity, 'f', 2, 64),
			string(c.MatchType),
			state,
			c.Folder.DownloadPath,
		})
	}
	fmt.Fprintln(out, renderTable(
		[]string{"Torrent", "Folder", "Score", "Type", "State", "Download path"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignRight},
	))

	if len(report.Unmatched) > 0 {
		rows = rows[:0]
		for _, u := range report.Unmatched {
			rows = append(rows, []string{u.Torrent.Name, u.BestFolder, strconv.FormatFloat(u.BestScore, 'f', 2, 64)})
		}
		fmt.Fprintln(out, renderTable([]string{"Unmatched torrent", "Closest folder", "Score"}, rows, []columnAlignment{alignLeft, alignLeft, alignRight}))
	}
	for _, inv := range report.Invalid {
		fmt.Fprintln(cmd.ErrOrStderr(), "invalid torrent:", inv.Name+":", inv.Error)
	}
	fmt.Fprintf(out, "%d matched, %d unmatched, %d invalid\n", len(report.Matched), len(report.Unmatched), len(report.Invalid))
}

func newDispatchCommand(app *appContext, session *string) *cobra.Command {
	var autoOnly bool
	cmd := &cobra.Command{
		Use:   "dispatch [torrent-path]",
		Short: "Match torrents and send the accepted ones to the download client",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext(cmd)
			defer stop()
			manager, err := app.open(ctx)
			if err != nil {
				return err
			}
			defer app.close()
			path := ""
			if len(args) == 1 {
				path = args[0]
			}
			report, err := manager.MatchTorrents(ctx, *session, path)
			if err != nil {
				return err
			}

			var ids []string
			for _, c := range report.Matched {
				if c.Selected && (!autoOnly || c.AutoAccepted) {
					ids = append(ids, c.ID)
				}
			}
			if len(ids) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "Nothing to dispatch")
				return nil
			}

			done := trackProgress(manager.Events(), *session, os.Stderr)
			result, err := manager.AddTorrents(ctx, *session, ids)
			done()
			if result != nil {
				rows := make([][]string, 0, len(result.Results))
				for _, r := range result.Results {
					rows = append(rows, []string{r.TorrentName, string(r.Status), r.DownloadPath, strconv.Itoa(r.Attempts), r.Error})
				}
				out := cmd.OutOrStdout()
				fmt.Fprintln(out, renderTable([]string{"Torrent", "Status", "Download path", "Attempts", "Error"}, rows,
					[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight}))
				fmt.Fprintf(out, "%d added, %d failed\n", result.Succeeded, result.Failed)
			}
			return err
		},
	}
	cmd.Flags().BoolVar(&autoOnly, "auto-only", false, "Only dispatch candidates that were accepted automatically")
	return cmd
}

func newResetCommand(app *appContext) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Forget every processed item and removal",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return errors.New("reset deletes the processed record and removal log; pass --yes to confirm")
			}
			ctx, stop := signalContext(cmd)
			defer stop()
			manager, err := app.open(ctx)
			if err != nil {
				return err
			}
			defer app.close()
			summary, err := manager.ResetData(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Processed record and removal log cleared: %d processed, %d removals, %d candidates\n",
				summary.ProcessedFiles, summary.RemovalLog, summary.Candidates)
			return nil
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "Confirm the reset")
	return cmd
}
