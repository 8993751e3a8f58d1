package main

import (
	"flag"
	"fmt"
	"log"
	"time"

	"jordanella.com/macropilot/internal/journal"
)

func main() {
	// Parse command line flags
	dbPath := flag.String("db", "journal.db", "Path to the journal database")
	limit := flag.Int("runs", 10, "Number of recent runs to show")
	runID := flag.Int64("run", 0, "Show the detections of one run instead of the overview")
	stats := flag.Bool("templates", false, "Show per-template detection statistics")
	vacuum := flag.Bool("vacuum", false, "Compact the database before reporting")
	flag.Parse()

	db, err := journal.Open(*dbPath)
	if err != nil {
		log.Fatalf("Failed to open journal: %v", err)
	}
	defer db.Close()

	if err := db.RunMigrations(); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}

	if *vacuum {
		if err := db.Vacuum(); err != nil {
			log.Fatalf("Vacuum failed: %v", err)
		}
		log.Println("✓ Database compacted")
	}

	switch {
	case *runID > 0:
		reportRun(db, *runID)
	case *stats:
		reportTemplateStats(db)
	default:
		reportRecentRuns(db, *limit)
	}
}

func reportRecentRuns(db *journal.DB, limit int) {
	runs, err := db.RecentRuns(limit)
	if err != nil {
		log.Fatalf("Failed to query runs: %v", err)
	}
	if len(runs) == 0 {
		fmt.Println("No runs journaled yet")
		return
	}

	fmt.Printf("%-6s %-24s %-19s %-18s %7s %5s\n",
		"ID", "MACRO", "STARTED", "STATUS", "ACTIONS", "SIM")
	for _, r := range runs {
		status := r.Status
		if d := r.Duration(); d > 0 {
			status = fmt.Sprintf("%s (%s)", r.Status, d.Round(time.Millisecond))
		}
		fmt.Printf("%-6d %-24s %-19s %-18s %7d %5v\n",
			r.ID, r.MacroName, r.StartedAt.Format("2006-01-02 15:04:05"),
			status, r.ActionsExecuted, r.Simulation)
		if r.ErrorMessage != nil {
			fmt.Printf("       error: %s\n", *r.ErrorMessage)
		}
	}
}

func reportRun(db *journal.DB, runID int64) {
	run, err := db.GetRun(runID)
	if err != nil {
		log.Fatalf("Failed to load run %d: %v", runID, err)
	}

	fmt.Printf("Run %d: %s (%s, %d actions)\n", run.ID, run.MacroName, run.Status, run.ActionsExecuted)
	if run.ErrorMessage != nil {
		fmt.Printf("Error: %s\n", *run.ErrorMessage)
	}

	detections, err := db.RunDetections(runID)
	if err != nil {
		log.Fatalf("Failed to query detections: %v", err)
	}
	if len(detections) == 0 {
		fmt.Println("No detections journaled for this run")
		return
	}

	fmt.Printf("\n%-5s %-20s %-10s %-6s %6s %-16s\n",
		"IDX", "TEMPLATE", "METHOD", "FOUND", "SCORE", "BOX")
	for _, d := range detections {
		box := "-"
		if d.BoxX != nil && d.BoxY != nil && d.BoxW != nil && d.BoxH != nil {
			box = fmt.Sprintf("%d,%d %dx%d", *d.BoxX, *d.BoxY, *d.BoxW, *d.BoxH)
		}
		fmt.Printf("%-5d %-20s %-10s %-6v %6.3f %-16s\n",
			d.ActionIndex, d.Template, d.Method, d.Found, d.Score, box)
	}
}

func reportTemplateStats(db *journal.DB) {
	all, err := db.TemplateStatsAll()
	if err != nil {
		log.Fatalf("Failed to query template stats: %v", err)
	}
	if len(all) == 0 {
		fmt.Println("No detections journaled yet")
		return
	}

	fmt.Printf("%-24s %7s %7s %8s %9s\n", "TEMPLATE", "TOTAL", "FOUND", "HITRATE", "AVGSCORE")
	for _, s := range all {
		fmt.Printf("%-24s %7d %7d %7.1f%% %9.3f\n",
			s.Template, s.Total, s.Found, s.HitRate()*100, s.AvgScore)
	}
}
