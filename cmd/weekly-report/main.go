package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"bitbucket.org/kalbooks/preorder_backend/approval"
	"bitbucket.org/kalbooks/preorder_backend/config"
	"bitbucket.org/kalbooks/preorder_backend/email"
	"bitbucket.org/kalbooks/preorder_backend/models"
	"bitbucket.org/kalbooks/preorder_backend/shopify"
	"bitbucket.org/kalbooks/preorder_backend/utils"
	"bitbucket.org/kalbooks/preorder_backend/workflow"
)

func main() {
	endFlag := flag.String("period-end", "", "Reporting window end (YYYY-MM-DD, exclusive). Defaults to today UTC.")
	graceDays := flag.Int("grace-days", workflow.DefaultGraceDays, "How many days past the publication date a title stays releasable.")
	approvalWait := flag.Duration("approval-wait", 6*time.Hour, "How long to wait for a human decision before the batch expires.")
	pollInterval := flag.Duration("poll-interval", 5*time.Minute, "Approval ticket polling interval.")
	outputDir := flag.String("output-dir", "reports", "Directory for the report artifacts.")
	dryRun := flag.Bool("dry-run", config.DryRun(), "Compute and write artifacts but skip uploads, email and catalog cleanup.")
	flag.Parse()

	ctx := context.Background()

	periodEnd := time.Now().UTC()
	if *endFlag != "" {
		parsed, err := time.Parse(models.PubDateLayout, *endFlag)
		if err != nil {
			fmt.Fprintf(os.Stderr, "bad -period-end %q: %v\n", *endFlag, err)
			os.Exit(1)
		}
		periodEnd = parsed
	}
	periodStart, periodEnd := utils.WeekWindow(periodEnd)

	config.ConnectDatabaseWithRetry()
	db := config.GetDB()
	if db == nil {
		fmt.Fprintln(os.Stderr, "database not initialized (config.GetDB returned nil)")
		os.Exit(1)
	}
	if err := models.Migrate(db); err != nil {
		fmt.Fprintf(os.Stderr, "migrate: %v\n", err)
		os.Exit(1)
	}
	config.ConnectRedisWithRetry()

	logger := config.GetLogger()

	var source shopify.Source
	if config.DataSourceMode() == config.SourceModeFixture {
		source = shopify.NewFixtureSource()
	} else {
		s, err := shopify.NewGraphQLSource()
		if err != nil {
			fmt.Fprintf(os.Stderr, "commerce source: %v\n", err)
			os.Exit(1)
		}
		source = s
	}

	var surface approval.Surface
	if config.ApprovalSurfaceMode() == config.SourceModeFixture {
		surface = approval.NewFixtureSurface()
	} else {
		s, err := approval.NewGithubSurface()
		if err != nil {
			fmt.Fprintf(os.Stderr, "approval surface: %v\n", err)
			os.Exit(1)
		}
		surface = s
	}

	wf := &workflow.WeeklyReportWorkflow{
		DB:      db,
		Source:  source,
		Surface: surface,
		Logger:  logger,
	}
	result, err := wf.Run(ctx, workflow.RunConfig{
		PeriodStart:  periodStart,
		PeriodEnd:    periodEnd,
		GraceDays:    *graceDays,
		ApprovalWait: *approvalWait,
		PollInterval: *pollInterval,
		OutputDir:    *outputDir,
		DryRun:       *dryRun,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "reconciliation run failed: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("run %s: batch %s, %d lines (%d units), %d exclusions, %d new releases\n",
		result.RunID, result.BatchState, len(result.Report.Lines), result.Report.Total(),
		len(result.Report.Exclusions), len(result.Released))
	fmt.Printf("sales feed: %s\n", result.SalesCsv)

	if !*dryRun {
		if sender, err := email.NewSender(); err == nil {
			stamp := periodEnd.Format(models.PubDateLayout)
			exclusionsPath := fmt.Sprintf("%s/weekly_sales_%s_exclusions.csv", *outputDir, stamp)
			if err := sender.SendWeeklyReport(ctx, stamp, result.SalesCsv, exclusionsPath); err != nil {
				fmt.Fprintf(os.Stderr, "report email failed: %v\n", err)
			}
		}
	}
}
