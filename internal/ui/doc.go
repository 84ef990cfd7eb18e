// Package ui renders the terminal output of the forestnet CLI.
//
// Components follow a "run once and exit" pattern: a command prints a
// header, shows a live progress bar while a transfer runs, and finishes with
// a success or failure box. Only the progress bar needs Bubble Tea; the
// boxes are plain Lipgloss strings.
//
//	p := ui.NewPrinter(os.Stdout)
//	p.PrintHeader("Download", "forestnet download", []ui.Param{{Key: "Remote", Value: "/files/blob.bin"}})
//	err := ui.RunTransfer(ctx, os.Stdout, "Downloading", func(report ui.ReportFunc) error {
//	    _, err := client.Download(ctx, remote, local, report)
//	    return err
//	})
//
// Logging is controlled by FORESTNET_LOG_LEVEL. When it is unset, zap stays
// silent so the styled output is the only thing on the terminal.
package ui
