package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"time"

	"idcheck.org/internal/checker"
	"idcheck.org/internal/checker/remote"
	"idcheck.org/internal/idcard"
)

func main() {
	log.SetFlags(0)
	var (
		server  = flag.String("server", os.Getenv("IDCARD_API_URL"), "API base URL; empty validates offline")
		token   = flag.String("token", os.Getenv("IDCARD_API_TOKEN"), "Bearer token for -server")
		record  = flag.Bool("record", false, "Store each attempt on the server (requires -server)")
		source  = flag.String("source", "cli", "Source label used with -record")
		asJSON  = flag.Bool("json", false, "Print one JSON verdict per line")
		timeout = flag.Duration("timeout", 10*time.Second, "Per-request timeout for -server")
	)
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: idcheck [flags] [number ...]\n\nReads numbers from stdin when none are given.\n\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	if *record && *server == "" {
		log.Fatal("-record needs -server")
	}

	var validate func(string) (checker.Verdict, error)
	if *server == "" {
		validate = func(n string) (checker.Verdict, error) {
			return checker.NewVerdict(n, idcard.Validate(n, time.Now())), nil
		}
	} else {
		client, err := remote.New(*server, remote.WithToken(*token))
		if err != nil {
			log.Fatal(err)
		}
		validate = func(n string) (checker.Verdict, error) {
			ctx, cancel := remote.WithTimeout(context.Background(), *timeout)
			defer cancel()
			if *record {
				reply, err := client.Check(ctx, remote.CheckInput{Number: n, Source: *source})
				return reply.Verdict, err
			}
			return client.Validate(ctx, n)
		}
	}

	numbers := flag.Args()
	if len(numbers) == 0 {
		var err error
		if numbers, err = readLines(os.Stdin); err != nil {
			log.Fatal(err)
		}
	}

	enc := json.NewEncoder(os.Stdout)
	invalid := 0
	for _, n := range numbers {
		v, err := validate(n)
		if err != nil {
			log.Fatalf("%s: %v", n, err)
		}
		if !v.Valid {
			invalid++
		}
		if *asJSON {
			_ = enc.Encode(v)
			continue
		}
		fmt.Println(format(v))
	}
	if invalid > 0 {
		os.Exit(1)
	}
}

func format(v checker.Verdict) string {
	if !v.Valid {
		return fmt.Sprintf("%s\tinvalid\t%s\t%s", v.Number, v.Reason, v.Message)
	}
	gender := "unknown"
	if v.Gender != nil {
		gender = v.Gender.String()
	}
	return fmt.Sprintf("%s\tvalid\t%s\t%s", v.Number, v.Birthday, gender)
}

func readLines(r io.Reader) ([]string, error) {
	var out []string
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		if line := strings.TrimSpace(sc.Text()); line != "" {
			out = append(out, line)
		}
	}
	return out, sc.Err()
}
