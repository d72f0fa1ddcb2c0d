// raffled: single-process raffle engine node.
//
// This is the main entry point for raffled. It hosts the accounts database,
// the instruction engine with the system, vrf, and raffle programs, the
// append-only ledger journal, and the JSON-RPC server. With an oracle key
// configured it also answers randomness requests locally.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/mr-tron/base58"

	"github.com/solcino/raffle-engine/internal/types"
	"github.com/solcino/raffle-engine/pkg/node"
	"github.com/solcino/raffle-engine/pkg/oracle"
	"github.com/solcino/raffle-engine/pkg/rpc"
)

// Version information
var (
	Version   = "0.3.0"
	GitCommit = "dev"
)

// Configuration flags
var (
	dataDir          = flag.String("data-dir", "/var/lib/raffled", "Data directory for accounts, ledger, and snapshots")
	rpcAddr          = flag.String("rpc-addr", ":8899", "RPC server listen address")
	inMemory         = flag.Bool("in-memory", false, "Keep account state in memory (no persistence)")
	syncWrites       = flag.Bool("sync-writes", true, "Fsync on every state change")
	snapshotInterval = flag.Uint64("snapshot-interval", 1024, "Instructions between snapshots (0 = disabled)")
	logRequests      = flag.Bool("log-requests", false, "Log every RPC request")
	oracleKeyPath    = flag.String("oracle-key", "", "Path to the oracle seed file (empty = oracle disabled)")
	oracleInterval   = flag.Duration("oracle-interval", oracle.DefaultPollInterval, "Oracle poll interval")
	showVersion      = flag.Bool("version", false, "Print version and exit")
)

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Printf("raffled %s (%s)\n", Version, GitCommit)
		os.Exit(0)
	}

	// Setup logging
	log.SetFlags(log.Ldate | log.Ltime | log.Lmicroseconds)
	log.Printf("Starting raffled %s", Version)

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		log.Printf("Received signal %v, shutting down...", sig)
		cancel()
	}()

	// Open the node
	nodeCfg := node.Config{
		DataDir:          *dataDir,
		InMemory:         *inMemory,
		SyncWrites:       *syncWrites,
		SnapshotInterval: *snapshotInterval,
	}
	if !*inMemory {
		if err := os.MkdirAll(*dataDir, 0o755); err != nil {
			log.Fatalf("Failed to create data dir: %v", err)
		}
	}
	n, err := node.New(nodeCfg)
	if err != nil {
		log.Fatalf("Failed to open node: %v", err)
	}
	defer n.Close()
	log.Printf("Node open: slot=%d, data-dir=%s, in-memory=%v", n.Slot(), *dataDir, *inMemory)

	// Start the local oracle if configured
	if *oracleKeyPath != "" {
		keypair, err := loadOrCreateOracleKey(*oracleKeyPath)
		if err != nil {
			log.Fatalf("Failed to load oracle key: %v", err)
		}
		log.Printf("Oracle enabled: %s", keypair.Pubkey)

		oracleCfg := oracle.DefaultFulfillerConfig()
		oracleCfg.PollInterval = *oracleInterval
		oracleCfg.OnFulfill = func(r oracle.FulfillResult) {
			log.Printf("Oracle fulfilled %s at seq %d", r.State, r.Seq)
		}
		fulfiller := oracle.NewFulfiller(oracleCfg, n, keypair)
		go func() {
			if err := fulfiller.Run(ctx); err != nil && ctx.Err() == nil {
				log.Printf("Oracle stopped: %v", err)
			}
		}()
	}

	// Start the RPC server
	rpcCfg := rpc.DefaultConfig()
	rpcCfg.Addr = *rpcAddr
	rpcCfg.LogRequests = *logRequests
	server := rpc.New(rpcCfg, n)

	rpcErr := make(chan error, 1)
	go func() {
		log.Printf("RPC server listening on %s", *rpcAddr)
		rpcErr <- server.Start(ctx)
	}()

	// Print status periodically
	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				count, _ := n.DB().AccountsCount()
				log.Printf("Status: slot=%d, accounts=%d", n.Slot(), count)
			}
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-rpcErr:
		if err != nil {
			log.Fatalf("RPC server failed: %v", err)
		}
	}

	log.Printf("raffled stopped at slot %d", n.Slot())
}

// loadOrCreateOracleKey reads a base58-encoded 32-byte seed from path, or
// generates a new one if the file does not exist.
func loadOrCreateOracleKey(path string) (*types.Keypair, error) {
	raw, err := os.ReadFile(path)
	if err == nil {
		seed, err := base58.Decode(strings.TrimSpace(string(raw)))
		if err != nil {
			return nil, fmt.Errorf("decode seed: %w", err)
		}
		return types.KeypairFromSeed(seed)
	}
	if !os.IsNotExist(err) {
		return nil, err
	}

	keypair, err := types.NewKeypair()
	if err != nil {
		return nil, err
	}
	seed := keypair.Seed()
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, err
	}
	if err := os.WriteFile(path, []byte(base58.Encode(seed)+"\n"), 0o600); err != nil {
		return nil, err
	}
	log.Printf("Generated new oracle key at %s", path)
	return keypair, nil
}
