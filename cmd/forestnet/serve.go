package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/forestnet/forestnet/internal/config"
	"github.com/forestnet/forestnet/internal/discovery"
	"github.com/forestnet/forestnet/internal/logging"
	"github.com/forestnet/forestnet/internal/rest/persons"
	"github.com/forestnet/forestnet/internal/seed"
	"github.com/forestnet/forestnet/internal/soap"
	"github.com/forestnet/forestnet/internal/soap/calculator"
	"github.com/forestnet/forestnet/internal/task"
	"github.com/forestnet/forestnet/internal/ui"
	"github.com/forestnet/forestnet/internal/version"
)

const shutdownTimeout = 10 * time.Second

var (
	serveFlags    *endpointFlags
	advertiseName string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start an endpoint",
	Long: `Start a forestNET endpoint and serve until interrupted.

normal   serves files from --root verbatim.
dynamic  serves files from --root and renders HTML pages as templates.
         A built-in hook counts visits per session and exposes request
         details as .Temp.
rest     serves the persons/messages resource tree.
soap     serves the calculator, or the calculator operations declared by
         the document given with --wsdl.

On SIGINT or SIGTERM the listener closes and in-flight requests are given
a few seconds to finish.`,
	Example: `  # Static files on port 8080
  forestnet serve --root ./www

  # Dynamic pages over TLS with persistent, encrypted sessions
  forestnet serve --mode dynamic --root ./www --scheme https \
    --cert server.crt --key server.key --session-dir ./sessions \
    --session-passphrase secret

  # REST resource tree, local clients only
  forestnet serve --mode rest --allow 127.0.0.1/32,::1

  # SOAP calculator announced on the local network
  forestnet serve --mode soap --soap-path /calculator --advertise`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveFlags = addEndpointFlags(serveCmd.Flags(), true)
	serveCmd.Flags().StringVar(&advertiseName, "name", "", "mDNS instance name (defaults to the host name)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(serveFlags)
	if err != nil {
		return err
	}
	logger := logging.GetLogger()

	b, err := bindings(cfg, logger)
	if err != nil {
		return err
	}
	srv, err := task.NewServer(cfg, b, logger)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}
	if err := srv.Listen(); err != nil {
		return fmt.Errorf("failed to listen on %s: %w", cfg.Address(), err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	addr := srv.Addr().String()
	params := []ui.Param{
		{Key: "Address", Value: cfg.Scheme + "://" + addr},
		{Key: "Mode", Value: cfg.Mode.String()},
	}
	switch cfg.Mode {
	case config.ModeNormal, config.ModeDynamic:
		params = append(params, ui.Param{Key: "Root", Value: cfg.RootDirectory})
	case config.ModeSOAP:
		params = append(params, ui.Param{Key: "Operations", Value: strings.Join(b.SOAP.WSDL().Operations(), ", ")})
	}
	if cfg.SessionDirectory != "" {
		params = append(params, ui.Param{Key: "Sessions", Value: cfg.SessionDirectory})
	}

	if cfg.Advertise {
		adv, err := advertise(cfg, srv.Addr())
		if err != nil {
			logger.Warn("mDNS advertisement failed", zap.Error(err))
		} else {
			defer adv.Shutdown()
			params = append(params, ui.Param{Key: "mDNS", Value: discovery.ServiceType})
		}
	}

	ui.NewPrinter(cmd.OutOrStdout()).PrintHeader("forestNET endpoint", "forestnet serve", params)

	serveErr := srv.Serve(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil && serveErr == nil {
		serveErr = fmt.Errorf("shutdown: %w", err)
	}
	return serveErr
}

// bindings returns the handler the configured mode dispatches to.
func bindings(cfg *config.Config, logger *zap.Logger) (task.Bindings, error) {
	switch cfg.Mode {
	case config.ModeDynamic:
		return task.Bindings{Seed: seed.Func(visitCounter)}, nil
	case config.ModeREST:
		return task.Bindings{REST: persons.New()}, nil
	case config.ModeSOAP:
		d, err := soapDispatcher(cfg.WSDL, logger)
		if err != nil {
			return task.Bindings{}, err
		}
		return task.Bindings{SOAP: d}, nil
	default:
		return task.Bindings{}, nil
	}
}

func soapDispatcher(wsdlPath string, logger *zap.Logger) (*soap.Dispatcher, error) {
	if wsdlPath == "" {
		return calculator.NewDispatcher(logger)
	}

	data, err := os.ReadFile(wsdlPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read WSDL: %w", err)
	}
	w, err := soap.ParseWSDL(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse WSDL %s: %w", wsdlPath, err)
	}
	d := soap.NewDispatcher(w, logger)
	bound, err := calculator.RegisterDeclared(d)
	if err != nil {
		return nil, err
	}
	if len(bound) == 0 {
		return nil, fmt.Errorf("WSDL %s declares none of the calculator operations", wsdlPath)
	}
	logger.Info("Bound SOAP operations", zap.Strings("operations", bound))
	return d, nil
}

// visitCounter is the dynamic-mode hook: it counts requests per session and
// exposes request details to the page template.
func visitCounter(s *seed.Seed) error {
	visits := 1
	if n, ok := s.SessionData["visits"].(int); ok {
		visits = n + 1
	}
	s.SessionData["visits"] = visits

	h := s.RequestHeader
	s.Temp["visits"] = visits
	s.Temp["method"] = h.Method
	s.Temp["path"] = h.FullPath()
	s.Temp["query"] = h.RawQuery
	s.Temp["time"] = time.Now().Format(time.RFC1123)
	return nil
}

func advertise(cfg *config.Config, addr net.Addr) (*discovery.Advertisement, error) {
	port := cfg.Port
	if tcp, ok := addr.(*net.TCPAddr); ok {
		port = tcp.Port
	}
	name := advertiseName
	if name == "" {
		host, err := os.Hostname()
		if err != nil {
			return nil, err
		}
		name = host + "-" + strconv.Itoa(port)
	}

	info := discovery.Info{
		Scheme:  cfg.Scheme,
		Mode:    cfg.Mode.String(),
		Version: version.Version,
	}
	if cfg.Mode == config.ModeSOAP {
		info.Path = cfg.SOAPPath
	}
	return discovery.Advertise(name, port, info)
}
