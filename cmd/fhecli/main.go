// Copyright (C) 2019-2025, Lux Partners Limited. All rights reserved.
// See the file LICENSE for licensing terms.

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/luxfi/geth/common"
	"github.com/luxfi/geth/common/hexutil"
	"github.com/luxfi/log"
	"github.com/spf13/cobra"

	"github.com/luxfi/fhesession"
	"github.com/luxfi/fhesession/crypto/fhe"
	"github.com/luxfi/fhesession/storage/badgerdb"
	"github.com/luxfi/fhesession/utils"
)

var (
	version   = "dev"
	buildDate = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "fhecli",
	Short: "FHE session tooling",
	Long: `fhecli inspects and exercises the client-side FHE session layer:
keypair generation, authorization cache keys, and a full encrypt/decrypt
round trip against an in-process engine.`,
	Version: fmt.Sprintf("%s (built %s)", version, buildDate),
}

func init() {
	rootCmd.AddCommand(keygenCmd)
	rootCmd.AddCommand(authkeyCmd)
	rootCmd.AddCommand(demoCmd)
}

var keygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Generate a decryption keypair",
	Long:  `Generate a fresh NaCl box keypair suitable for user decryption, printed as JSON.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		keypair, err := fhe.GenerateBoxKeypair()
		if err != nil {
			return fmt.Errorf("keypair generation failed: %w", err)
		}
		out, err := json.MarshalIndent(keypair, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil
	},
}

var authkeyCmd = &cobra.Command{
	Use:   "authkey",
	Short: "Derive an authorization cache key",
	Long: `Derive the storage key under which an authorization for the given
user, contract set, and public key is cached. Contract order does not
matter; duplicates are ignored.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		userHex, _ := cmd.Flags().GetString("user")
		contractsHex, _ := cmd.Flags().GetStringSlice("contracts")
		publicKeyHex, _ := cmd.Flags().GetString("public-key")

		if !common.IsHexAddress(userHex) {
			return fmt.Errorf("invalid user address %q", userHex)
		}
		contracts := make([]common.Address, 0, len(contractsHex))
		for _, c := range contractsHex {
			if !common.IsHexAddress(c) {
				return fmt.Errorf("invalid contract address %q", c)
			}
			contracts = append(contracts, common.HexToAddress(c))
		}
		publicKey, err := hexutil.Decode(publicKeyHex)
		if err != nil {
			return fmt.Errorf("invalid public key: %w", err)
		}

		key := fhesession.AuthorizationCacheKey(common.HexToAddress(userHex), contracts, publicKey)
		fmt.Println(key)
		return nil
	},
}

var demoCmd = &cobra.Command{
	Use:   "demo",
	Short: "Run an encrypt/decrypt round trip",
	Long: `Initialize a session against an in-process engine, encrypt a small
typed batch, and decrypt the resulting handles. With --storage-path the
authorization survives across runs.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := buildDemoConfig(cmd.Flags())
		if err != nil {
			return err
		}
		return runDemo(cmd.Context(), cfg)
	},
}

func init() {
	authkeyCmd.Flags().StringP("user", "u", "", "User address (hex)")
	authkeyCmd.Flags().StringSliceP("contracts", "c", nil, "Contract addresses (hex)")
	authkeyCmd.Flags().StringP("public-key", "p", "", "Decryption public key (0x-prefixed hex)")
	authkeyCmd.MarkFlagRequired("user")
	authkeyCmd.MarkFlagRequired("contracts")
	authkeyCmd.MarkFlagRequired("public-key")

	demoCmd.Flags().Uint64(chainIDKey, defaultChainID, "Chain id to resolve the engine for")
	demoCmd.Flags().String(storagePathKey, "", "BadgerDB path for the authorization store (empty: in-memory)")
	demoCmd.Flags().String(configFileKey, "", "Optional JSON config file")
}

func runDemo(ctx context.Context, cfg demoConfig) error {
	session := fhesession.NewSession(&fhesession.FakeResolver{
		Steps: []string{"loading public params", "connecting relayer"},
	}, nil)
	session.Subscribe(func(snap fhesession.Snapshot) {
		if snap.Progress != "" {
			fmt.Printf("  init: %s\n", snap.Progress)
		}
	})

	session.Initialize(fhesession.Config{ChainID: cfg.ChainID})
	engine, err := session.WaitReady(ctx)
	if err != nil {
		return fmt.Errorf("session failed to initialize: %w", err)
	}
	fmt.Printf("Session ready on chain %d\n", engine.ChainID())

	contract := common.HexToAddress("0x00000000000000000000000000000000000000c1")
	user := common.HexToAddress("0x00000000000000000000000000000000000000a1")

	builder, err := fhesession.NewInputBuilder(engine, contract, user)
	if err != nil {
		return err
	}
	hexed, err := builder.
		AddBool(true).
		AddUint64(1234567890).
		AddAddress(user.Hex()).
		EncryptToHex(ctx)
	if err != nil {
		return fmt.Errorf("encryption failed: %w", err)
	}
	fmt.Println("Encrypted batch:")
	for i, handle := range hexed.Handles {
		fmt.Printf("  handle[%d]: %s\n", i, handle)
	}
	fmt.Printf("  proof: %s\n", hexed.InputProof)

	opts := fhesession.DecrypterOptions{}
	if cfg.StoragePath != "" {
		// Another process may still hold the badger lock; retry briefly.
		var store *badgerdb.Store
		err := utils.WithRetriesTimeout(log.NewNoOpLogger(), func() error {
			var openErr error
			store, openErr = badgerdb.New(cfg.StoragePath)
			return openErr
		}, 5*time.Second)
		if err != nil {
			return fmt.Errorf("failed to open authorization store: %w", err)
		}
		defer store.Close()
		opts.Storage = store
	}

	decrypter, err := fhesession.NewDecrypter(engine, &fhesession.FakeSigner{Addr: user}, opts)
	if err != nil {
		return err
	}

	requests := make([]fhe.DecryptionRequest, len(hexed.Handles))
	for i, handle := range hexed.Handles {
		requests[i] = fhe.DecryptionRequest{Handle: handle, ContractAddress: contract}
	}
	values, err := decrypter.DecryptManyOrdered(ctx, requests)
	if err != nil {
		return fmt.Errorf("decryption failed: %w", err)
	}
	fmt.Println("Decrypted values:")
	for i, value := range values {
		fmt.Printf("  value[%d]: %v\n", i, value)
	}
	return nil
}
