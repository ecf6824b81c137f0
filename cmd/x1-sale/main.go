// x1-sale runs a single node settling a whitelisted token sale.
//
// The node keeps the account ledger, executes Initialize and BuyTokens
// transactions against the sale program, journals every executed
// transaction and serves the result over JSON-RPC and a gRPC event stream.
package main

import (
	"os"

	"github.com/sirupsen/logrus"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		logrus.WithError(err).Error("x1-sale failed")
		os.Exit(1)
	}
}
