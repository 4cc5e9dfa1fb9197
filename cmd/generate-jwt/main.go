package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Generates a signed operator token for testing against a running
// server without going through the login endpoint.
func main() {
	secret := flag.String("secret", os.Getenv("JWT_SECRET"), "JWT signing secret")
	subject := flag.String("sub", "admin", "token subject")
	ttl := flag.Duration("ttl", time.Hour, "token lifetime")
	flag.Parse()

	if *secret == "" {
		fmt.Fprintln(os.Stderr, "error: -secret or JWT_SECRET is required")
		os.Exit(1)
	}

	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": *subject,
		"iat": now.Unix(),
		"exp": now.Add(*ttl).Unix(),
	})

	signed, err := token.SignedString([]byte(*secret))
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: failed to sign token: %v\n", err)
		os.Exit(1)
	}

	fmt.Println(signed)
}
