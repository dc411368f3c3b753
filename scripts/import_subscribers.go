//go:build ignore
// +build ignore

// Bulk subscriber import.
//
// Reads a CSV of email,first_name,last_name and subscribes every row to the
// given list. Rows for addresses that previously opted out stay opted out:
// the import runs as an operator action, not a subscriber action.
//
// Usage:
//   DATABASE_URL=postgres://... go run scripts/import_subscribers.go <list-id> <file.csv>
package main

import (
	"context"
	"database/sql"
	"encoding/csv"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	_ "github.com/lib/pq"

	"github.com/dfiore1230/eventschedule-sub000/internal/domain"
	"github.com/dfiore1230/eventschedule-sub000/internal/repository/postgres"
	"github.com/dfiore1230/eventschedule-sub000/internal/service/audience"
)

func main() {
	if len(os.Args) != 3 {
		log.Fatalf("usage: %s <list-id> <file.csv>", os.Args[0])
	}
	listID, path := os.Args[1], os.Args[2]

	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		log.Fatal("DATABASE_URL is required")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	defer db.Close()

	svc := audience.NewService(
		postgres.NewListRepo(db),
		postgres.NewSubscriberRepo(db),
		postgres.NewSubscriptionRepo(db),
	)

	f, err := os.Open(path)
	if err != nil {
		log.Fatalf("open csv: %v", err)
	}
	defer f.Close()

	ctx := context.Background()
	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1

	start := time.Now()
	var imported, skipped int
	for line := 1; ; line++ {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			log.Fatalf("read csv line %d: %v", line, err)
		}
		if len(record) == 0 || record[0] == "" || record[0] == "email" {
			continue
		}

		in := audience.SubscribeInput{
			Email:  record[0],
			ListID: listID,
			Actor:  domain.ActorOperator,
		}
		if len(record) > 1 {
			in.FirstName = record[1]
		}
		if len(record) > 2 {
			in.LastName = record[2]
		}

		if _, err := svc.Subscribe(ctx, in); err != nil {
			log.Printf("line %d (%s): %v", line, record[0], err)
			skipped++
			continue
		}
		imported++
		if imported%10000 == 0 {
			log.Printf("imported %d rows...", imported)
		}
	}

	fmt.Printf("done: %d imported, %d skipped in %s\n", imported, skipped, time.Since(start).Round(time.Millisecond))
}
