package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"paperbroker/internal/auth"
)

// gentoken signs an access token for local testing and for the
// internal services that call the platform on behalf of a user.
func main() {
	issuer := flag.String("issuer", "paperbroker", "token issuer")
	secret := flag.String("secret", os.Getenv("JWT_SECRET"), "signing secret")
	subject := flag.String("sub", "", "user id to put in the subject")
	admin := flag.Bool("admin", false, "sign an admin token")
	ttl := flag.Duration("ttl", 24*time.Hour, "token lifetime")
	flag.Parse()

	if *secret == "" || *subject == "" {
		fmt.Fprintln(os.Stderr, "usage: gentoken -sub <id> [-admin] [-issuer i] [-secret s] [-ttl d]")
		os.Exit(1)
	}

	svc := auth.NewService(*issuer, []byte(*secret), *ttl)
	var token string
	var err error
	if *admin {
		token, err = svc.SignAdminToken(*subject)
	} else {
		token, err = svc.SignToken(*subject)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	fmt.Println(token)
}
