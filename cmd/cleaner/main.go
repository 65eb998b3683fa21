package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"camrec/config"
	"camrec/cron"
)

func main() {
	configPath := flag.String("config", "config.json", "Path to the recorder configuration file")
	dryRun := flag.Bool("dry-run", false, "Only list the files that would be deleted")
	days := flag.Int("days", 0, "Override retention_days from the configuration")
	flag.Parse()

	cfg, err := config.LoadConfigFromFile(*configPath)
	if err != nil {
		log.Fatalf("❌ %v", err)
	}
	if *days > 0 {
		cfg.RetentionDays = *days
	}

	// A standalone run has no live registry; the recorder daemon protects
	// open segments through its own scheduled pass.
	reaper := &cron.Reaper{
		Dir:       cfg.OutputDir,
		Retention: cfg.Retention(),
		DryRun:    *dryRun,
	}

	fmt.Printf("🔍 Scanning %s\n", cfg.OutputDir)
	fmt.Printf("⏰ Retention: %d days\n", cfg.RetentionDays)
	if *dryRun {
		fmt.Println("🧪 Dry run: nothing will be deleted")
	}

	report, err := reaper.Run(time.Now())
	if err != nil {
		log.Fatalf("❌ %v", err)
	}
	printReport(report)
	if report.Errors > 0 {
		os.Exit(1)
	}
}

func printReport(r cron.Report) {
	line := strings.Repeat("=", 60)
	fmt.Println(line)
	fmt.Println("📊 CLEANUP SUMMARY")
	fmt.Println(line)
	fmt.Printf("📅 Cutoff: %s\n", r.Cutoff.Format("2006-01-02 15:04:05"))
	fmt.Printf("📁 Files scanned: %d (%.2f MB)\n", r.TotalFiles, float64(r.TotalBytes)/1024/1024)

	if r.DryRun {
		fmt.Printf("🗑️  Would delete: %d files, %.2f MB\n", len(r.Candidates), r.FreedMB())
		for _, f := range r.Candidates {
			fmt.Printf("   • %s (%.2f MB, %d days)\n", f.Name, f.SizeMB, f.AgeDays)
		}
		return
	}
	fmt.Printf("🗑️  Deleted: %d files\n", r.Deleted)
	fmt.Printf("💾 Freed: %.2f MB\n", r.FreedMB())
	if r.Errors > 0 {
		fmt.Printf("❌ Errors: %d\n", r.Errors)
	}
}
