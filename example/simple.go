// Copyright (C) 2019-2025, Lux Partners Limited. All rights reserved.
// See the file LICENSE for licensing terms.

package main

import (
	"context"
	"fmt"
	"log"

	"github.com/luxfi/geth/common"

	"github.com/luxfi/fhesession"
	"github.com/luxfi/fhesession/crypto/fhe"
)

func main() {
	ctx := context.Background()

	// Resolve an engine for the target chain.
	session := fhesession.NewSession(&fhesession.FakeResolver{}, nil)
	session.Initialize(fhesession.Config{ChainID: 31337})
	engine, err := session.WaitReady(ctx)
	if err != nil {
		log.Fatalf("session initialization failed: %v", err)
	}

	contract := common.HexToAddress("0x00000000000000000000000000000000000000c1")
	user := common.HexToAddress("0x00000000000000000000000000000000000000a1")

	// Encrypt a typed batch for a contract call.
	builder, err := fhesession.NewInputBuilder(engine, contract, user)
	if err != nil {
		log.Fatalf("failed to open input builder: %v", err)
	}
	hexed, err := builder.
		AddBool(true).
		AddUint8(42).
		EncryptToHex(ctx)
	if err != nil {
		log.Fatalf("encryption failed: %v", err)
	}
	fmt.Printf("Handles: %v\n", hexed.Handles)

	// Decrypt the handles back.
	decrypter, err := fhesession.NewDecrypter(engine, &fhesession.FakeSigner{Addr: user}, fhesession.DecrypterOptions{})
	if err != nil {
		log.Fatalf("failed to create decrypter: %v", err)
	}
	requests := make([]fhe.DecryptionRequest, len(hexed.Handles))
	for i, handle := range hexed.Handles {
		requests[i] = fhe.DecryptionRequest{Handle: handle, ContractAddress: contract}
	}
	values, err := decrypter.DecryptManyOrdered(ctx, requests)
	if err != nil {
		log.Fatalf("decryption failed: %v", err)
	}
	fmt.Printf("Values: %v\n", values)
}
