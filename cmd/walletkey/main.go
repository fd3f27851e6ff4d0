// Command walletkey generates identities, signs call tokens and hashes
// deploy keys for the rent wallet API.
package main

import (
	"fmt"
	"os"

	"github.com/congo-pay/rent_wallet/internal/tools/walletkey"
)

func main() {
	if err := walletkey.Run(os.Args[1:], os.Stdout, nil); err != nil {
		fmt.Fprintf(os.Stderr, "walletkey: %v\n", err)
		os.Exit(1)
	}
}
