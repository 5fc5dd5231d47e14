package main

// dcnode runs one member of a DC-net group over TCP. Every line read on
// stdin is submitted as a message; every message the group publishes is
// printed on stdout.

import (
	"bufio"
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"

	"student_25_dcnet/config"
	"student_25_dcnet/dcnet"
	"student_25_dcnet/logging"
	"student_25_dcnet/networking"
	"student_25_dcnet/transport/tcp"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"go.dedis.ch/kyber/v4/group/edwards25519"
	"go.dedis.ch/kyber/v4/util/encoding"
	"go.dedis.ch/kyber/v4/util/key"
	"golang.org/x/xerrors"
	"gopkg.in/urfave/cli.v1"
)

var suite = edwards25519.NewBlakeSHA256Ed25519()

var cmds = cli.Commands{
	{
		Name:    "keygen",
		Usage:   "print a new key pair",
		Aliases: []string{"k"},
		Action:  keygen,
	},
	{
		Name:    "run",
		Usage:   "run a member of the group",
		Aliases: []string{"r"},
		Flags: []cli.Flag{
			cli.StringFlag{
				Name:   "config, c",
				Value:  "node.toml",
				EnvVar: "DCNODE_CONFIG",
				Usage:  "path to the node configuration",
			},
		},
		Action: run,
	},
}

func main() {
	cliApp := cli.NewApp()
	cliApp.Name = "dcnode"
	cliApp.Usage = "Anonymous group broadcast over a DC-net."
	cliApp.Version = "0.1"
	cliApp.Commands = cmds
	err := cliApp.Run(os.Args)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func keygen(c *cli.Context) error {
	kp := key.NewKeyPair(suite)
	priv, err := encoding.ScalarToStringHex(suite, kp.Private)
	if err != nil {
		return err
	}
	pub, err := encoding.PointToStringHex(suite, kp.Public)
	if err != nil {
		return err
	}
	fmt.Printf("private_key = %q\npublic_key = %q\n", priv, pub)
	return nil
}

func run(c *cli.Context) error {
	conf, err := config.Load(c.String("config"), suite)
	if err != nil {
		return err
	}
	member, err := conf.Member(suite)
	if err != nil {
		return err
	}
	logger := logging.GetLogger(int64(conf.NodeID))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	socket, err := tcp.NewTCP().CreateSocket(conf.Listen)
	if err != nil {
		return xerrors.Errorf("failed to listen on %s: %w", conf.Listen, err)
	}
	iface := networking.NewSocketNetwork(socket, int64(conf.NodeID), networking.NewStaticPeers(conf.Addresses()))
	defer iface.Close()

	node := networking.NewNode(iface)
	go node.Start(ctx)

	dc, err := dcnet.NewDCNetwork(member, node)
	if err != nil {
		return err
	}

	if conf.Metrics != "" {
		go serveMetrics(conf.Metrics, logger)
	}
	go submit(dc, logger)
	go printDeliveries(ctx, dc)

	logger.Info().Msgf("listening on %s", socket.GetAddress())
	err = dc.Run(ctx)
	if err != nil && ctx.Err() == nil {
		return err
	}
	logger.Info().Msgf("stopped, %+v", dc.Stats())
	return nil
}

func serveMetrics(addr string, logger zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	err := http.ListenAndServe(addr, mux)
	logger.Error().Err(err).Msg("metrics server stopped")
}

// submit reads one message per line on stdin
func submit(dc *dcnet.DCNetwork, logger zerolog.Logger) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		err := dc.SubmitMessage(line)
		if err != nil {
			logger.Warn().Err(err).Msg("message refused")
		}
	}
}

func printDeliveries(ctx context.Context, dc *dcnet.DCNetwork) {
	for {
		select {
		case d := <-dc.Deliveries():
			fmt.Printf("round %d slot %d: %s\n", d.Round, d.Slot, d.Payload)
		case <-ctx.Done():
			return
		}
	}
}
