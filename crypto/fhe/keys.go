// Copyright (C) 2019-2025, Lux Partners Limited. All rights reserved.
// See the file LICENSE for licensing terms.

package fhe

import (
	"crypto/rand"
	"fmt"

	"golang.org/x/crypto/nacl/box"
)

// GenerateBoxKeypair generates a curve25519 box keypair suitable for user
// decryption requests. Engines that do not mandate their own key format can
// delegate GenerateKeypair to this helper.
func GenerateBoxKeypair() (Keypair, error) {
	pub, priv, err := box.GenerateKey(rand.Reader)
	if err != nil {
		return Keypair{}, fmt.Errorf("failed to generate keypair: %w", err)
	}
	return Keypair{
		PublicKey:  pub[:],
		PrivateKey: priv[:],
	}, nil
}
