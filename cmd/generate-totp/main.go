package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/pquerna/otp/totp"
)

// Generates a TOTP secret for the operator login second factor, or a
// current code for an existing secret.
func main() {
	secret := flag.String("secret", "", "existing secret: print the current code instead of generating")
	issuer := flag.String("issuer", "solver-backend", "issuer for the provisioning URL")
	account := flag.String("account", "admin", "account name for the provisioning URL")
	flag.Parse()

	if *secret != "" {
		code, err := totp.GenerateCode(*secret, time.Now())
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		fmt.Println(code)
		return
	}

	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      *issuer,
		AccountName: *account,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("secret: %s\n", key.Secret())
	fmt.Printf("url:    %s\n", key.URL())
}
