package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"TokenAction-Chain/sdk/go/tokenaction"
)

func main() {
	baseURL := os.Getenv("TOKENACTION_API_URL")
	if baseURL == "" {
		baseURL = "http://127.0.0.1:8080"
	}
	client, err := tokenaction.NewClient(baseURL, nil)
	if err != nil {
		panic(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	if user := os.Getenv("TOKENACTION_USER"); user != "" {
		token, err := client.Authenticate(ctx, tokenaction.Credentials{Username: user, Password: os.Getenv("TOKENACTION_PASSWORD")})
		if err != nil {
			panic(err)
		}
		fmt.Printf("authenticated, token expires in %ds\n", token.ExpiresIn)
	}

	chains, err := client.Chains(ctx)
	if err != nil {
		panic(err)
	}
	for _, chain := range chains {
		fmt.Printf("chain %s (id=%s default=%t can_sign=%t)\n", chain.Name, chain.ChainID, chain.Default, chain.CanSign)
	}

	reference := "0x000000000000000000000000000000000000dEaD"
	if len(os.Args) > 1 {
		reference = os.Args[1]
	}
	inv, err := client.Balance(ctx, reference, "")
	if err != nil {
		panic(err)
	}
	if inv.Status == tokenaction.StatusFailed {
		fmt.Printf("balance query failed: %s %s\n", inv.ErrorCode, inv.LastError)
		return
	}
	fmt.Println(inv.Outcome.Text)
}
