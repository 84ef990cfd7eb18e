package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/forestnet/forestnet/internal/task"
	"github.com/forestnet/forestnet/internal/ui"
)

var (
	downloadFlags  *endpointFlags
	downloadQuiet  bool
	downloadExpect string
)

var downloadCmd = &cobra.Command{
	Use:   "download REMOTE_PATH [LOCAL_PATH]",
	Short: "Download a file and report its SHA-256",
	Long: `Download a file from an endpoint.

The body is written to a temporary file beside LOCAL_PATH and moved into
place only once it is complete, so an interrupted download never leaves
a partial file behind. LOCAL_PATH defaults to the last element of
REMOTE_PATH in the current directory.

The SHA-256 digest of the received bytes is printed. With --sha256 the
download fails, and the file is removed, unless the digest matches.`,
	Example: `  # Fetch a file with a progress bar
  forestnet download /files/image.iso

  # Fetch over TLS and verify the digest
  forestnet download /files/image.iso ./image.iso --scheme https \
    --ca ca.crt --sha256 3a7bd3e2360a3d29eea436fcfb7e44c735d117c42d1c1835420b6b9942dd4f1b`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runDownload,
}

func init() {
	downloadFlags = addEndpointFlags(downloadCmd.Flags(), false)
	downloadCmd.Flags().BoolVarP(&downloadQuiet, "quiet", "q", false, "Print only the digest")
	downloadCmd.Flags().StringVar(&downloadExpect, "sha256", "", "Expected hex SHA-256 of the file")
	rootCmd.AddCommand(downloadCmd)
}

func runDownload(cmd *cobra.Command, args []string) error {
	remote := args[0]
	if !strings.HasPrefix(remote, "/") {
		remote = "/" + remote
	}
	local := path.Base(remote)
	if len(args) > 1 {
		local = args[1]
	}
	if local == "/" || local == "." {
		return fmt.Errorf("cannot derive a local file name from %q", remote)
	}

	cfg, err := loadClientConfig(downloadFlags)
	if err != nil {
		return err
	}
	client, err := task.NewClient(cfg, nil)
	if err != nil {
		return err
	}
	defer client.Close()

	out := cmd.OutOrStdout()
	printer := ui.NewPrinter(out)
	if !downloadQuiet {
		printer.PrintHeader("Download", "forestnet download", []ui.Param{
			{Key: "Source", Value: cfg.Scheme + "://" + cfg.Address() + remote},
			{Key: "Target", Value: local},
		})
	}

	result, err := fetch(cmd.Context(), cmd, client, remote, local)
	if err == nil && downloadExpect != "" && !strings.EqualFold(result.SHA256, downloadExpect) {
		os.Remove(result.Path)
		err = fmt.Errorf("digest mismatch: got %s, want %s", result.SHA256, strings.ToLower(downloadExpect))
	}
	if err != nil {
		if !downloadQuiet {
			printer.PrintError("Download failed", err, downloadTips(err)...)
		}
		return err
	}

	if downloadQuiet {
		fmt.Fprintf(out, "%s  %s\n", result.SHA256, result.Path)
		return nil
	}
	printer.PrintSuccess("Download complete",
		ui.Param{Key: "File", Value: result.Path},
		ui.Param{Key: "Size", Value: ui.FormatBytes(result.Size)},
		ui.Param{Key: "SHA-256", Value: result.SHA256},
	)
	return nil
}

// fetch shows a progress bar when stderr is a terminal.
func fetch(ctx context.Context, cmd *cobra.Command, client *task.Client, remote, local string) (*task.DownloadResult, error) {
	if downloadQuiet || !term.IsTerminal(int(os.Stderr.Fd())) {
		return client.Download(ctx, remote, local, nil)
	}

	var result *task.DownloadResult
	err := ui.RunTransfer(ctx, cmd.ErrOrStderr(), path.Base(remote), func(report ui.ReportFunc) error {
		var err error
		result, err = client.Download(ctx, remote, local, report)
		return err
	})
	return result, err
}

func downloadTips(err error) []string {
	var de *task.DownloadError
	if errors.As(err, &de) {
		switch de.Status {
		case http.StatusNotFound:
			return []string{"Check the remote path; it is resolved under the server's root directory"}
		case http.StatusForbidden:
			return []string{"The path leaves the server's root directory or your address is not allowed"}
		}
		return nil
	}
	if strings.HasPrefix(err.Error(), "digest mismatch") {
		return []string{"The file changed on the server or was corrupted in transit"}
	}
	return []string{
		"Verify the server is running and reachable on the given host and port",
		"For https endpoints pass the issuing CA with --ca",
		"Increase --retries or --connect-timeout on slow networks",
	}
}
