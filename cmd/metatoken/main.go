package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"

	"adforge/internal/infra/credentials"
)

func main() {
	_ = godotenv.Load()

	var tokenFlag string
	flag.StringVar(&tokenFlag, "token", "", "Meta Graph API access token (falls back to META_ACCESS_TOKEN)")
	flag.Parse()

	token := strings.TrimSpace(tokenFlag)
	if token == "" {
		token = strings.TrimSpace(os.Getenv("META_ACCESS_TOKEN"))
	}
	if token == "" {
		fmt.Fprintln(os.Stderr, "meta access token is required via -token or META_ACCESS_TOKEN")
		os.Exit(1)
	}

	dbURL := strings.TrimSpace(os.Getenv("DATABASE_URL"))
	if dbURL == "" {
		fmt.Fprintln(os.Stderr, "DATABASE_URL is required")
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create pool: %v\n", err)
		os.Exit(1)
	}
	defer pool.Close()

	store := credentials.NewStore(pool)
	if err := store.EnsureSchema(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "failed to ensure schema: %v\n", err)
		os.Exit(1)
	}
	if err := store.SetMetaAccessToken(ctx, token); err != nil {
		fmt.Fprintf(os.Stderr, "failed to persist meta access token: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("meta access token stored successfully")
}
