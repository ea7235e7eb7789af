// Command terminal-token mints the service token the trading terminal
// presents to the session API.
//
//	TERMINAL_JWT_SECRET=... terminal-token -sub terminal-prod -ttl 720h
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/acetrade/session-bridge/internal/utils"
)

func main() {
	sub := flag.String("sub", "trade-terminal", "token subject")
	ttl := flag.Duration("ttl", 30*24*time.Hour, "token lifetime (0 = no expiry)")
	flag.Parse()

	secret := os.Getenv("TERMINAL_JWT_SECRET")
	if secret == "" {
		fmt.Fprintln(os.Stderr, "TERMINAL_JWT_SECRET is required")
		os.Exit(2)
	}
	tok, err := utils.NewServiceToken(secret, *sub, utils.RoleTerminal, *ttl)
	if err != nil {
		fmt.Fprintln(os.Stderr, "sign token:", err)
		os.Exit(1)
	}
	fmt.Println(tok.Token)
	if !tok.Exp.IsZero() {
		fmt.Fprintln(os.Stderr, "expires", tok.Exp.Format(time.RFC3339))
	}
}
