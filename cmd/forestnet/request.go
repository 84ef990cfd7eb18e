package main

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/forestnet/forestnet/internal/message"
	"github.com/forestnet/forestnet/internal/task"
)

var (
	requestFlags   *endpointFlags
	requestFields  []string
	requestFiles   []string
	requestHeaders bool
)

var requestCmd = &cobra.Command{
	Use:   "request METHOD PATH [name[op]=value ...]",
	Short: "Send one request and print the response",
	Long: `Send a single request to an endpoint and print the response body.

Query parameters follow the path as name=value or name[op]=value, where
op is one of eq, ne, gt, gte, lt, lte, starts, ends. Form fields are given
with --field and uploads with --file; any upload turns the body into
multipart/form-data.

The status line goes to stderr and the body to stdout. Responses with a
status of 400 or above exit with an error after the body is printed.`,
	Example: `  # List persons older than 30 from a REST endpoint
  forestnet request GET /persons 'age[gt]=30' --port 8080

  # Create a person
  forestnet request POST /persons --field name=Ada --field age=36

  # Upload a file to a dynamic page
  forestnet request POST /upload.html --file doc=./notes.txt`,
	Args: cobra.MinimumNArgs(2),
	RunE: runRequest,
}

func init() {
	requestFlags = addEndpointFlags(requestCmd.Flags(), false)
	requestCmd.Flags().StringArrayVarP(&requestFields, "field", "f", nil, "Form field as name=value (repeatable)")
	requestCmd.Flags().StringArrayVar(&requestFiles, "file", nil, "Upload as field=path (repeatable)")
	requestCmd.Flags().BoolVarP(&requestHeaders, "include", "i", false, "Print response headers")
	rootCmd.AddCommand(requestCmd)
}

func runRequest(cmd *cobra.Command, args []string) error {
	req, err := buildRequest(args[0], args[1], args[2:], requestFields, requestFiles)
	if err != nil {
		return err
	}

	cfg, err := loadClientConfig(requestFlags)
	if err != nil {
		return err
	}
	client, err := task.NewClient(cfg, nil)
	if err != nil {
		return err
	}
	defer client.Close()

	res, err := client.Do(cmd.Context(), req)
	if err != nil {
		return err
	}

	stderr := cmd.ErrOrStderr()
	fmt.Fprintf(stderr, "%d %s\n", res.StatusCode, res.Status)
	if requestHeaders {
		keys := make([]string, 0, len(res.Header))
		for k := range res.Header {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			for _, v := range res.Header[k] {
				fmt.Fprintf(stderr, "%s: %s\n", k, v)
			}
		}
		fmt.Fprintln(stderr)
	}

	out := cmd.OutOrStdout()
	if _, err := out.Write(res.Body); err != nil {
		return err
	}
	if len(res.Body) > 0 && res.Body[len(res.Body)-1] != '\n' {
		fmt.Fprintln(out)
	}

	if res.StatusCode >= 400 {
		return fmt.Errorf("server answered %d %s", res.StatusCode, res.Status)
	}
	return nil
}

// buildRequest assembles a request from command-line pieces.
func buildRequest(method, path string, params, fields, files []string) (*message.ClientRequest, error) {
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	req := &message.ClientRequest{Method: strings.ToUpper(method), Path: path}

	for _, arg := range params {
		key, value, ok := strings.Cut(arg, "=")
		if !ok {
			return nil, fmt.Errorf("parameter %q is not name=value", arg)
		}
		name, op, valid := message.ParseParamKey(key)
		if !valid {
			return nil, fmt.Errorf("parameter %q has an unknown operator", key)
		}
		req.AddParam(name, op, value)
	}

	for _, arg := range fields {
		name, value, ok := strings.Cut(arg, "=")
		if !ok || name == "" {
			return nil, fmt.Errorf("field %q is not name=value", arg)
		}
		req.AddField(name, value)
	}

	for _, arg := range files {
		field, path, ok := strings.Cut(arg, "=")
		if !ok || field == "" || path == "" {
			return nil, fmt.Errorf("file %q is not field=path", arg)
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read upload: %w", err)
		}
		name := filepath.Base(path)
		req.AddFile(field, name, message.ContentType(name), data)
	}
	return req, nil
}
