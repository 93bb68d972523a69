// gsigner is the command-line front-end of the threshold signer: it
// runs the signer event loop, optionally alongside a periodic RTT
// pinger, and manages the chunk-bus contract.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/stacks-network/gsigner/client"
	"github.com/stacks-network/gsigner/config"
	"github.com/stacks-network/gsigner/contract"
	"github.com/stacks-network/gsigner/frost"
	"github.com/stacks-network/gsigner/log"
	"github.com/stacks-network/gsigner/params"
	"github.com/stacks-network/gsigner/signer"
	"github.com/stacks-network/gsigner/signer/ping"
)

var (
	configFlag = &cli.StringFlag{
		Name:    "config",
		Aliases: []string{"c"},
		Usage:   "Path to the signer TOML configuration",
		Value:   "signer.toml",
	}
	verbosityFlag = &cli.IntFlag{
		Name:  "verbosity",
		Usage: "Logging verbosity: 0=crit, 1=error, 2=warn, 3=info, 4=debug, 5=trace",
		Value: 3,
	}
	pingIntervalFlag = &cli.DurationFlag{
		Name:  "interval",
		Usage: "Interval between RTT probes",
		Value: 5 * time.Second,
	}
	pingSizeFlag = &cli.IntFlag{
		Name:  "size",
		Usage: "Ping payload size in bytes",
		Value: 0,
	}
)

func main() {
	app := &cli.App{
		Name:    "gsigner",
		Usage:   "threshold-signing participant for Nakamoto block finalization",
		Version: params.VersionWithMeta,
		Flags:   []cli.Flag{configFlag, verbosityFlag},
		Before: func(ctx *cli.Context) error {
			lvl := log.Lvl(ctx.Int(verbosityFlag.Name))
			log.Root().SetHandler(log.LvlFilterHandler(lvl, log.NewTerminalHandler()))
			return nil
		},
		Commands: []*cli.Command{
			{
				Name:   "run",
				Usage:  "Run the signer event loop",
				Action: runSigner,
			},
			{
				Name:   "ping",
				Usage:  "Run the signer loop while probing peers for RTT",
				Flags:  []cli.Flag{pingIntervalFlag, pingSizeFlag},
				Action: runPinger,
			},
			{
				Name:  "contract",
				Usage: "Chunk-bus contract utilities",
				Subcommands: []*cli.Command{
					{
						Name:      "generate",
						Usage:     "Render the chunk-bus contract for a signer set",
						ArgsUsage: "<output-file>",
						Flags: []cli.Flag{
							&cli.StringSliceFlag{Name: "signer", Usage: "Signer address (repeatable)"},
							&cli.StringFlag{Name: "seed", Usage: "Derive signer addresses from this seed (testing only)"},
							&cli.UintFlag{Name: "num-signers", Usage: "Number of signers derived from the seed"},
							&cli.BoolFlag{Name: "mainnet", Usage: "Mainnet address flavor"},
							&cli.UintFlag{Name: "chunk-size", Value: 4096, Usage: "Maximum chunk size"},
						},
						Action: generateContract,
					},
					{
						Name:      "publish",
						Usage:     "Publish a contract-deploy transaction and wait for it",
						ArgsUsage: "<raw-tx-file>",
						Flags: []cli.Flag{
							&cli.StringFlag{Name: "host", Required: true, Usage: "Chain node, e.g. http://localhost:20443"},
							&cli.StringFlag{Name: "principal", Required: true, Usage: "Deployer principal"},
							&cli.StringFlag{Name: "name", Required: true, Usage: "Contract name"},
						},
						Action: publishContract,
					},
				},
			},
		},
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// buildRunLoop assembles the production run-loop from a config file.
func buildRunLoop(ctx *cli.Context) (*signer.RunLoop, *config.Config, error) {
	cfg, err := config.Load(ctx.String(configFlag.Name))
	if err != nil {
		return nil, nil, err
	}
	priv, err := cfg.PrivateKey()
	if err != nil {
		return nil, nil, err
	}
	publicKeys, err := cfg.PublicKeys()
	if err != nil {
		return nil, nil, err
	}
	expectedTxs, err := cfg.ExpectedTxs()
	if err != nil {
		return nil, nil, err
	}
	totalSigners := uint32(len(publicKeys.Signers))
	totalKeys := publicKeys.TotalKeys()
	threshold := params.Threshold(totalKeys)
	dkgThreshold := params.DkgThreshold(totalKeys)

	signingRound := frost.NewSigner(threshold, dkgThreshold, totalSigners, totalKeys,
		cfg.SignerID, cfg.KeyIDs(), priv, publicKeys)
	coordinator := frost.NewFrostCoordinator(frost.Config{
		Threshold:      threshold,
		DkgThreshold:   dkgThreshold,
		NumSigners:     totalSigners,
		NumKeys:        totalKeys,
		MessagePrivKey: priv,
		PublicKeys:     publicKeys,
	})
	stacks := client.NewStacksClient(cfg.NodeHost, cfg.SendTimeout())
	bus := client.NewStackerDB(cfg.NodeHost, cfg.Network.IsMainnet(), priv, cfg.SendTimeout())

	loop := signer.New(coordinator, signingRound, stacks, bus, cfg.EventTimeout(), expectedTxs)
	return loop, cfg, nil
}

func runSigner(ctx *cli.Context) error {
	loop, cfg, err := buildRunLoop(ctx)
	if err != nil {
		return err
	}
	return serve(loop, cfg, nil)
}

func runPinger(ctx *cli.Context) error {
	loop, cfg, err := buildRunLoop(ctx)
	if err != nil {
		return err
	}
	interval := ctx.Duration(pingIntervalFlag.Name)
	if !ctx.IsSet(pingIntervalFlag.Name) && cfg.Ping.IntervalMs > 0 {
		interval = time.Duration(cfg.Ping.IntervalMs) * time.Millisecond
	}
	size := ctx.Int(pingSizeFlag.Name)
	if !ctx.IsSet(pingSizeFlag.Name) && cfg.Ping.PayloadSize > 0 {
		size = cfg.Ping.PayloadSize
	}
	prober := ping.NewPinger(loop, interval, size)
	prober.Start()
	defer prober.Stop()
	return serve(loop, cfg, nil)
}

// serve wires the event listener to the run-loop and blocks until
// interrupted.
func serve(loop *signer.RunLoop, cfg *config.Config, cmds <-chan signer.Command) error {
	endpoint := cfg.EventEndpoint
	if endpoint == "" {
		endpoint = "127.0.0.1:30000"
	}
	listener := client.NewEventListener(endpoint)
	if err := listener.Start(); err != nil {
		return err
	}
	defer listener.Stop()

	results := make(chan []*frost.OperationResult, 16)
	go func() {
		for batch := range results {
			for _, res := range batch {
				switch res.Type {
				case frost.OpDkg:
					log.Info("DKG complete", "aggregate_key", fmt.Sprintf("%x", res.Point.SerializeCompressed()))
				case frost.OpSign, frost.OpSignTaproot:
					log.Info("Signing round complete", "message_len", len(res.Message))
				}
			}
		}
	}()

	quit := make(chan struct{})
	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-interrupt
		log.Info("Shutting down")
		close(quit)
	}()

	loop.Run(listener.Events(), cmds, results, quit)
	return nil
}

func generateContract(ctx *cli.Context) error {
	out := ctx.Args().First()
	if out == "" {
		return fmt.Errorf("missing output file argument")
	}
	addresses := ctx.StringSlice("signer")
	if len(addresses) == 0 {
		seed := ctx.String("seed")
		n := uint32(ctx.Uint("num-signers"))
		if seed == "" || n == 0 {
			return fmt.Errorf("provide --signer addresses or --seed with --num-signers")
		}
		addresses = contract.SeedAddresses(seed, n, ctx.Bool("mainnet"))
	}
	src, err := contract.Build(addresses, contract.DefaultSlots(), uint32(ctx.Uint("chunk-size")))
	if err != nil {
		return err
	}
	if err := os.WriteFile(out, []byte(src), 0o644); err != nil {
		return err
	}
	fmt.Printf("New chunk-bus contract written to %s\n", out)
	return nil
}

func publishContract(ctx *cli.Context) error {
	rawTx, err := os.ReadFile(ctx.Args().First())
	if err != nil {
		return err
	}
	stacks := client.NewStacksClient(ctx.String("host"), 30*time.Second)
	publisher := contract.NewPublisher(stacks)

	quit := make(chan struct{})
	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-interrupt
		close(quit)
	}()
	return publisher.Publish(rawTx, ctx.String("principal"), ctx.String("name"), quit)
}
