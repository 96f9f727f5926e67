package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/example/netsettle/internal/config"
	"github.com/example/netsettle/internal/crypto"
	"github.com/example/netsettle/internal/vault"
)

// Ghost pool administration: inspect the current epoch, list its addresses
// and rotate in a fresh set. Rotation retires every previously minted
// address, so it is the operator's response to a suspected linkage of the
// decoy set.
func main() {
	if len(os.Args) < 2 {
		usage()
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	kms, err := crypto.NewFileBasedKMS(crypto.FileBasedKMSConfig{KeyStorePath: cfg.KeyStorePath})
	if err != nil {
		log.Fatalf("Failed to open key store: %v", err)
	}

	ctx := context.Background()
	pool, err := vault.Open(ctx, cfg.PoolPath, crypto.NewAEADEncryptor(kms))
	if err != nil {
		log.Fatalf("Failed to open ghost pool: %v", err)
	}
	defer pool.Close()

	switch os.Args[1] {
	case "epoch":
		epoch, err := pool.CurrentEpoch(ctx)
		if err != nil {
			log.Fatalf("Failed to read epoch: %v", err)
		}
		fmt.Printf("epoch %d\n", epoch)

	case "list":
		addrs, err := pool.Addresses(ctx)
		if err != nil {
			log.Fatalf("Failed to list addresses: %v", err)
		}
		for _, a := range addrs {
			fmt.Println(a)
		}

	case "rotate":
		fs := flag.NewFlagSet("rotate", flag.ExitOnError)
		count := fs.Int("count", 256, "addresses to mint in the new epoch")
		fs.Parse(os.Args[2:])

		epoch, err := pool.RotateEpoch(ctx, *count)
		if err != nil {
			log.Fatalf("Failed to rotate epoch: %v", err)
		}
		fmt.Printf("epoch %d: minted %d addresses\n", epoch, *count)

	default:
		usage()
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: vault <epoch|list|rotate> [-count n]")
	os.Exit(2)
}
