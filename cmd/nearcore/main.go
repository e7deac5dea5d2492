package main

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethdb"
	"github.com/ethereum/go-ethereum/ethdb/leveldb"
	"github.com/ethereum/go-ethereum/log"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
	"github.com/urfave/cli/v2"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/Bakeneke/nearcore/core/rawdb"
	"github.com/Bakeneke/nearcore/near"
)

var (
	homeFlag = &cli.StringFlag{
		Name:  "home",
		Usage: "Directory for config and data",
		Value: defaultHome(),
	}
	configFileFlag = &cli.StringFlag{
		Name:  "config",
		Usage: "TOML configuration file",
	}
	verbosityFlag = &cli.IntFlag{
		Name:  "verbosity",
		Usage: "Logging verbosity: 0=silent, 1=error, 2=warn, 3=info, 4=debug, 5=detail",
		Value: 3,
	}
	logFileFlag = &cli.StringFlag{
		Name:  "log-file",
		Usage: "Write logs to a rotating file in addition to the terminal",
	}
)

var app = &cli.App{
	Name:  "nearcore",
	Usage: "proof-of-stake chain node",
	Flags: []cli.Flag{homeFlag, configFileFlag, verbosityFlag, logFileFlag},
	Before: func(ctx *cli.Context) error {
		setupLogging(ctx)
		return nil
	},
	Commands: []*cli.Command{
		initCommand,
		runCommand,
		headCommand,
		chainCommand,
	},
}

var initCommand = &cli.Command{
	Name:   "init",
	Usage:  "Initializes the node configuration",
	Action: initConfig,
}

var runCommand = &cli.Command{
	Name:   "run",
	Usage:  "Runs the node until interrupted",
	Action: runNode,
}

var headCommand = &cli.Command{
	Name:   "head",
	Usage:  "Prints the chain heads recorded in the store",
	Action: printHeads,
}

var chainCommand = &cli.Command{
	Name:  "chain",
	Usage: "Prints the canonical chain between two heights",
	Flags: []cli.Flag{
		&cli.Uint64Flag{Name: "start", Usage: "Start height"},
		&cli.Uint64Flag{Name: "end", Usage: "End height (default: head)"},
	},
	Action: printChain,
}

func main() {
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func defaultHome() string {
	if dir := os.Getenv("NEAR_HOME"); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".near")
}

func setupLogging(ctx *cli.Context) {
	output := os.Stderr
	usecolor := isatty.IsTerminal(output.Fd()) || isatty.IsCygwinTerminal(output.Fd())
	var handler log.Handler
	terminal := log.StreamHandler(colorable.NewColorable(output), log.TerminalFormat(usecolor))
	if file := ctx.String(logFileFlag.Name); file != "" {
		rotating := log.StreamHandler(&lumberjack.Logger{
			Filename:   file,
			MaxSize:    100, // megabytes
			MaxBackups: 10,
		}, log.LogfmtFormat())
		handler = log.MultiHandler(terminal, rotating)
	} else {
		handler = terminal
	}
	log.Root().SetHandler(log.LvlFilterHandler(log.Lvl(ctx.Int(verbosityFlag.Name)), handler))
}

func openChainDb(ctx *cli.Context, readonly bool) (ethdb.Database, *near.Config, error) {
	cfg, err := loadNodeConfig(ctx)
	if err != nil {
		return nil, nil, err
	}
	path := filepath.Join(cfg.DataDir, "chaindata")
	db, err := leveldb.New(path, cfg.DatabaseCache, cfg.DatabaseHandles, "chain/db", readonly)
	if err != nil {
		return nil, nil, err
	}
	return db, cfg, nil
}

// runNode opens the chain database and runs the backend until a signal
// arrives. Without an attached transport the node serves the local chain and
// idles in the awaiting-peers state.
func runNode(ctx *cli.Context) error {
	db, cfg, err := openChainDb(ctx, false)
	if err != nil {
		return err
	}
	defer db.Close()

	node, err := near.New(cfg, db, near.NewLocalRuntime(), near.NewLoopbackAdapter(), near.NewStaticPeerProvider(nil), nil, nil)
	if err != nil {
		return err
	}
	if err := node.Start(); err != nil {
		return err
	}

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigc)
	<-sigc
	log.Info("Got interrupt, shutting down...")
	return node.Stop()
}

func printHeads(ctx *cli.Context) error {
	db, _, err := openChainDb(ctx, true)
	if err != nil {
		return err
	}
	defer db.Close()

	if head := rawdb.ReadHead(db); head != nil {
		fmt.Printf("HEAD         #%d %s (weight %d)\n", head.Height, head.LastBlockHash, head.TotalWeight.Num())
	}
	if head := rawdb.ReadHeaderHead(db); head != nil {
		fmt.Printf("HEADER_HEAD  #%d %s (weight %d)\n", head.Height, head.LastBlockHash, head.TotalWeight.Num())
	}
	if head := rawdb.ReadSyncHead(db); head != nil {
		fmt.Printf("SYNC_HEAD    #%d %s (weight %d)\n", head.Height, head.LastBlockHash, head.TotalWeight.Num())
	}
	return nil
}

func printChain(ctx *cli.Context) error {
	db, _, err := openChainDb(ctx, true)
	if err != nil {
		return err
	}
	defer db.Close()

	start := ctx.Uint64("start")
	end := ctx.Uint64("end")
	if !ctx.IsSet("end") {
		head := rawdb.ReadHead(db)
		if head == nil {
			return fmt.Errorf("no chain head in store")
		}
		end = head.Height
	}
	for height := start; height <= end; height++ {
		hash := rawdb.ReadCanonicalHash(db, height)
		if hash == (common.Hash{}) {
			continue
		}
		header := rawdb.ReadHeader(db, hash)
		if header == nil {
			fmt.Printf("%d: %s (header missing)\n", height, hash)
			continue
		}
		fmt.Printf("%d: %s (prev %s, weight %d, approvals %d)\n",
			height, hash, header.PrevHash, header.TotalWeight.Num(), len(header.Approvals))
	}
	return nil
}
