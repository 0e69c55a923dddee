package main

import (
	"flag"
	"fmt"
	"log"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"

	"github.com/wwwzy/loopie/internal/storage"
)

func main() {
	path := flag.String("db", "loopie.db", "sqlite 数据库路径")
	flag.Parse()

	// Connect to the database
	db, err := gorm.Open(sqlite.Open(*path), &gorm.Config{})
	if err != nil {
		log.Fatalf("failed to connect database: %v", err)
	}

	fmt.Println("--- Verifying Loopie Database ---")

	// Verify AutomationRuns
	if !db.Migrator().HasTable(&storage.AutomationRun{}) {
		fmt.Println("Table 'automation_runs' does not exist yet.")
	} else {
		var runsCount int64
		db.Model(&storage.AutomationRun{}).Count(&runsCount)
		fmt.Printf("Total Automation Runs: %d\n", runsCount)

		if runsCount > 0 {
			var runs []storage.AutomationRun
			db.Order("started_at desc").Limit(5).Find(&runs)
			fmt.Println("Latest 5 Runs (Local Time):")
			for _, r := range runs {
				var steps int64
				db.Model(&storage.AutomationStep{}).Where("run_id = ?", r.RunID).Count(&steps)
				fmt.Printf("  [%s] %s %s/%s steps=%d recorded=%d goal=%q\n",
					r.StartedAt.Local().Format("2006-01-02 15:04:05"), r.RunID, r.Status, r.Reason, r.Steps, steps, r.Goal)
			}
		}
	}

	fmt.Println("\n------------------------------------")

	// Verify TranscriptMessages
	if !db.Migrator().HasTable(&storage.TranscriptMessage{}) {
		fmt.Println("Table 'transcript_messages' does not exist yet.")
	} else {
		var msgCount int64
		db.Model(&storage.TranscriptMessage{}).Count(&msgCount)
		fmt.Printf("Total Transcript Messages: %d\n", msgCount)

		if msgCount > 0 {
			var msgs []storage.TranscriptMessage
			db.Order("created_at desc").Limit(5).Find(&msgs)
			fmt.Println("Latest 5 Messages (Local Time):")
			for _, m := range msgs {
				content := m.Content
				if len(content) > 50 {
					content = content[:47] + "..."
				}
				fmt.Printf("  [%s] %s [%s] %s\n",
					m.CreatedAt.Local().Format("2006-01-02 15:04:05"), m.SessionID, m.Role, content)
			}
		}
	}
}
