package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"idcheck.org/internal/checker/remote"
)

const (
	validNumber   = "11010519491231002X"
	invalidNumber = "11010519491231000X"
)

func main() {
	addr := os.Getenv("IDCARD_API_URL")
	if addr == "" {
		addr = "http://localhost:8080"
	}

	client, err := remote.New(addr, remote.WithToken(os.Getenv("IDCARD_API_TOKEN")))
	if err != nil {
		log.Fatalf("client for %s: %v", addr, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	before, err := client.Stats(ctx)
	if err != nil {
		log.Fatalf("stats before: %v", err)
	}

	ok, err := client.Check(ctx, remote.CheckInput{Number: validNumber, ValidationType: "smoke", Source: "smoke"})
	if err != nil {
		log.Fatalf("check valid: %v", err)
	}
	if !ok.Valid || ok.Birthday != "1949-12-31" {
		log.Fatalf("expected %s to be valid, got %+v", validNumber, ok.Verdict)
	}
	bad, err := client.Check(ctx, remote.CheckInput{Number: invalidNumber, ValidationType: "smoke", Source: "smoke"})
	if err != nil {
		log.Fatalf("check invalid: %v", err)
	}
	if bad.Valid || bad.Reason != "checksum_mismatch" {
		log.Fatalf("expected %s to fail the checksum, got %+v", invalidNumber, bad.Verdict)
	}

	history, err := client.History(ctx, validNumber)
	if err != nil {
		log.Fatalf("history: %v", err)
	}
	if len(history) == 0 || history[0].ID != ok.Record.ID {
		log.Fatalf("newest history entry is not %s", ok.Record.ID)
	}

	after, err := client.Stats(ctx)
	if err != nil {
		log.Fatalf("stats after: %v", err)
	}
	if after.Total < before.Total+2 || after.Valid < before.Valid+1 || after.Invalid < before.Invalid+1 {
		log.Fatalf("stats did not advance: before=%+v after=%+v", before, after)
	}
	if after.Valid+after.Invalid != after.Total {
		log.Fatalf("stats do not add up: %+v", after)
	}

	fmt.Printf("idcheck smoke test passed: records=%s,%s\n", ok.Record.ID, bad.Record.ID)
}
