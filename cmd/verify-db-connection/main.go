package main

import (
	"database/sql"
	"fmt"
	"log"

	"aa-backend/internal/config"

	_ "github.com/lib/pq"
)

// Connects with the configured DSN and reports whether the queue and ledger
// tables exist. Useful before first deploy.
func main() {
	fmt.Println("🔍 Verifying database connection...")

	if err := config.LoadConfig(""); err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	sqlDB, err := sql.Open("postgres", config.AppConfig.Database.DSN)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer sqlDB.Close()

	var dbName string
	if err := sqlDB.QueryRow("SELECT current_database()").Scan(&dbName); err != nil {
		log.Fatalf("Failed to connect: %v", err)
	}
	fmt.Printf("📋 Connected to database: %s\n", dbName)

	tables := []string{
		"otp_records",
		"beneficiary_redeems",
		"beneficiary_groups",
		"group_members",
		"vendors",
		"triggers",
		"disbursements",
		"chain_jobs",
	}

	for _, table := range tables {
		var exists bool
		err := sqlDB.QueryRow(`
			SELECT EXISTS (
				SELECT 1 FROM information_schema.tables
				WHERE table_schema = 'public' AND table_name = $1
			)
		`, table).Scan(&exists)
		if err != nil {
			log.Fatalf("Failed to query table %s: %v", table, err)
		}

		if exists {
			fmt.Printf("✅ table %s exists\n", table)
		} else {
			fmt.Printf("❌ table %s missing\n", table)
		}
	}

	fmt.Println("✅ Verification complete")
}
