package cli

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/tkd-scorelink/referee/internal/conn"
	"github.com/tkd-scorelink/referee/internal/endpoint"
	"github.com/tkd-scorelink/referee/internal/logging"
	"github.com/tkd-scorelink/referee/internal/mock"
	"github.com/tkd-scorelink/referee/internal/scoreserver"
	"github.com/tkd-scorelink/referee/internal/transport"
)

// NewServeCmd builds the development scoring server command.
func NewServeCmd() *cobra.Command {
	var (
		listen     string
		silent     bool
		maxClients int
		origins    []string
		simulate   int
		logFile    string
		debug      bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run a development scoring server",
		Long: `Run a scoring server on the local network. It acknowledges scores,
relays them to the other referees and answers heartbeats.

--silent-heartbeats stops the heartbeat answers so terminals show lag.
--simulate-referees connects fake referees that score on their own.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if simulate < 0 || simulate > conn.MaxIdentity-conn.MinIdentity {
				return fmt.Errorf("--simulate-referees must be between 0 and %d", conn.MaxIdentity-conn.MinIdentity)
			}

			logger, flush, err := logging.New(logging.Options{File: logFile, Debug: debug})
			if err != nil {
				return err
			}
			defer flush()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			ln, err := net.Listen("tcp", listen)
			if err != nil {
				return err
			}

			srv := scoreserver.New(scoreserver.Options{
				Silent:         silent,
				MaxClients:     maxClients,
				AllowedOrigins: origins,
				Logger:         logger,
			})

			if simulate > 0 {
				gen, err := startSimulation(ctx, ln, simulate, logger)
				if err != nil {
					ln.Close()
					return err
				}
				defer gen.Wait()
			}
			return srv.Serve(ctx, ln)
		},
	}

	f := cmd.Flags()
	f.StringVar(&listen, "listen", ":8080", "Address to listen on")
	f.BoolVar(&silent, "silent-heartbeats", false, "Do not answer heartbeats")
	f.IntVar(&maxClients, "max-clients", 3, "Maximum connected terminals, 0 for no limit")
	f.StringSliceVar(&origins, "allowed-origin", nil, "Extra allowed WebSocket origins")
	f.IntVar(&simulate, "simulate-referees", 0, "Number of simulated referees to connect")
	f.StringVar(&logFile, "log-file", "", "JSON log file (default is the console)")
	f.BoolVar(&debug, "debug", false, "Enable debug logging")
	return cmd
}

// simulationTarget is the address simulated referees dial to reach ln: its
// own IP, or loopback when it listens on every interface.
func simulationTarget(addr net.Addr) (endpoint.Endpoint, error) {
	tcp, ok := addr.(*net.TCPAddr)
	if !ok {
		return endpoint.Endpoint{}, fmt.Errorf("unexpected listener address %v", addr)
	}
	host := "127.0.0.1"
	if tcp.IP != nil && !tcp.IP.IsUnspecified() {
		host = tcp.IP.String()
	}
	return endpoint.New(host, tcp.Port), nil
}

// startSimulation connects n simulated referees to the server on ln. They
// take the highest referee numbers so a terminal can keep referee 1.
func startSimulation(ctx context.Context, ln net.Listener, n int, logger *zap.Logger) (*mock.Generator, error) {
	target, err := simulationTarget(ln.Addr())
	if err != nil {
		return nil, err
	}
	ids := make([]int, 0, n)
	for id := conn.MaxIdentity; len(ids) < n; id-- {
		ids = append(ids, id)
	}

	gen := mock.NewGenerator(mock.Options{
		Referees: ids,
		Dialer:   transport.NewWSDialer(transport.DefaultConfig(), logger),
		Logger:   logger,
	})
	if err := gen.Start(ctx, target); err != nil {
		return nil, fmt.Errorf("starting simulated referees: %w", err)
	}
	return gen, nil
}
