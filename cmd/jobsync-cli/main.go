package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"job-tracker-go/internal/app"
	"job-tracker-go/internal/config"
	"job-tracker-go/internal/details"
	"job-tracker-go/internal/logging"
	"job-tracker-go/internal/models"
	"job-tracker-go/internal/session"
	"job-tracker-go/internal/upstream"
)

type options struct {
	command      string
	keyword      string
	location     string
	platform     string
	page         int
	sortBy       string
	sortOrder    string
	jobID        int
	appID        int
	status       string
	referral     string
	referralMail string
	file         string
	output       string
}

func main() {
	var opts options
	configFile := flag.String("config", "config.json", "Configuration file path")
	flag.StringVar(&opts.command, "cmd", "show", "Command to run (see -help)")
	flag.StringVar(&opts.keyword, "keyword", "", "Search keyword")
	flag.StringVar(&opts.location, "location", "", "Location filter")
	flag.StringVar(&opts.platform, "platform", "", "Platform filter (LinkedIn, Indeed, ...)")
	flag.IntVar(&opts.page, "page", 1, "Page number")
	flag.StringVar(&opts.sortBy, "sort-by", "", "Sort field: date_posted, title, company, location, match_score")
	flag.StringVar(&opts.sortOrder, "sort-order", "", "Sort order: asc, desc")
	flag.IntVar(&opts.jobID, "job", 0, "Job id")
	flag.IntVar(&opts.appID, "app", 0, "Application id")
	flag.StringVar(&opts.status, "status", "", "Application status: Open, Applied, Rejected, Interview, Congrats")
	flag.StringVar(&opts.referral, "referral", "", "Referral: Yes, No")
	flag.StringVar(&opts.referralMail, "referral-mail", "", "Referral contact email")
	flag.StringVar(&opts.file, "file", "", "File to upload")
	flag.StringVar(&opts.output, "output", "console", "Output format: console, json")
	help := flag.Bool("help", false, "Show help message")
	flag.Parse()

	// Show help if requested
	if *help {
		printUsage()
		os.Exit(0)
	}

	// Load environment variables
	if err := godotenv.Load(); err != nil {
		log.Printf("Warning: Could not load .env file: %v", err)
	}

	cfg, err := config.LoadConfig(*configFile)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	cfg.ApplyEnv()

	if opts.command == "config" {
		runConfigCommand(cfg, opts.output)
		return
	}

	if err := cfg.Validate(); err != nil {
		log.Fatalf("Configuration validation failed: %v", err)
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		log.Fatalf("Failed to setup logging: %v", err)
	}
	defer logger.Sync()

	for _, w := range cfg.Warnings() {
		logger.Warn("Configuration warning", zap.String("warning", w))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	if err := run(ctx, cfg, logger, opts); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger, opts options) error {
	a, err := app.Build(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize: %w", err)
	}
	defer a.Close()

	// Pick up status changes made by other sessions before doing anything else.
	if err := a.Session.Focus(ctx); err != nil {
		logger.Warn("Pending drain failed", zap.Error(err))
	}

	switch opts.command {
	case "search":
		sortBy, sortOrder, err := parseSort(opts.sortBy, opts.sortOrder)
		if err != nil {
			return err
		}
		q := models.SearchQuery{
			Keyword:   opts.keyword,
			Location:  opts.location,
			Platform:  opts.platform,
			Page:      opts.page,
			SortBy:    sortBy,
			SortOrder: sortOrder,
		}
		if err := a.Session.Search(ctx, q); err != nil {
			return err
		}
		return showSession(a, opts.output)

	case "page":
		if err := a.Session.SetPage(ctx, opts.page); err != nil {
			return err
		}
		return showSession(a, opts.output)

	case "sort":
		sortBy, sortOrder, err := parseSort(opts.sortBy, opts.sortOrder)
		if err != nil {
			return err
		}
		if err := a.Session.SetSort(ctx, sortBy, sortOrder); err != nil {
			return err
		}
		return showSession(a, opts.output)

	case "show", "focus":
		return showSession(a, opts.output)

	case "details":
		if opts.jobID == 0 {
			return errors.New("-job is required")
		}
		return showDetails(a.Details.Toggle(ctx, opts.jobID), opts.output)

	case "save", "unsave", "apply":
		if opts.jobID == 0 {
			return errors.New("-job is required")
		}
		var out session.Outcome
		switch opts.command {
		case "save":
			out, err = a.Session.SaveJob(ctx, opts.jobID)
		case "unsave":
			out, err = a.Session.UnsaveJob(ctx, opts.jobID)
		default:
			// empty status applies as Applied
			status := models.ApplicationStatus("")
			if opts.status != "" {
				if status, err = models.ParseApplicationStatus(opts.status); err != nil {
					return err
				}
			}
			out, err = a.Session.ApplyJob(ctx, opts.jobID, status)
		}
		if err != nil {
			return err
		}
		return showOutcome(out, opts.output)

	case "status":
		if opts.appID == 0 {
			return errors.New("-app is required")
		}
		if opts.status == "" {
			return errors.New("-status is required")
		}
		status, err := models.ParseApplicationStatus(opts.status)
		if err != nil {
			return err
		}
		referral, err := models.ParseReferral(opts.referral)
		if err != nil {
			return err
		}
		out, err := a.Session.UpdateApplicationStatus(ctx, opts.appID, upstream.StatusUpdate{
			Status:       status,
			Referral:     referral,
			ReferralMail: opts.referralMail,
		})
		if err != nil {
			return err
		}
		return showOutcome(out, opts.output)

	case "tracker":
		if err := a.Session.Reconcile(ctx); err != nil {
			return err
		}
		return showApplications(a.Session.Applications(), opts.output)

	case "saved":
		env := a.Client.SavedJobs(ctx, opts.page)
		if !env.OK() {
			return env.Err()
		}
		return showSaved(env.Page, opts.output)

	case "resume":
		return showResume(a.Client.Resume(ctx), opts.output)

	case "upload-resume":
		if opts.file == "" {
			return errors.New("-file is required")
		}
		f, err := os.Open(opts.file)
		if err != nil {
			return fmt.Errorf("failed to open resume: %w", err)
		}
		defer f.Close()
		return showResume(a.Client.UploadResume(ctx, filepath.Base(opts.file), f), opts.output)

	case "delete-resume":
		return showAction(a.Client.DeleteResume(ctx), opts.output)

	case "upload-apps":
		if opts.file == "" {
			return errors.New("-file is required")
		}
		f, err := os.Open(opts.file)
		if err != nil {
			return fmt.Errorf("failed to open applications file: %w", err)
		}
		defer f.Close()
		env := a.Client.UploadApplications(ctx, filepath.Base(opts.file), f)
		if !env.OK() {
			return env.Err()
		}
		if err := a.Session.Reconcile(ctx); err != nil {
			logger.Warn("Tracker refresh after upload failed", zap.Error(err))
		}
		return showAction(env, opts.output)

	case "ping":
		return showAction(a.Client.Ping(ctx), opts.output)
	}

	printUsage()
	return fmt.Errorf("unknown command: %s", opts.command)
}

func parseSort(field, order string) (models.SortField, models.SortOrder, error) {
	q := models.SearchQuery{
		Page:      1,
		SortBy:    models.SortField(field),
		SortOrder: models.SortOrder(order),
	}.Normalize()
	if err := q.Validate(); err != nil {
		return "", "", err
	}
	return q.SortBy, q.SortOrder, nil
}

func showSession(a *app.App, output string) error {
	snap := a.Session.Snapshot()
	if output == "json" {
		outputJSON(struct {
			State   string         `json:"state"`
			Error   string         `json:"error,omitempty"`
			Session models.Session `json:"session"`
		}{a.Session.State().String(), a.Session.LastError(), snap})
		return nil
	}

	q := snap.Query
	fmt.Printf("=== Session %s (%s) ===\n", snap.ID, a.Session.State())
	if msg := a.Session.LastError(); msg != "" {
		fmt.Printf("Last error: %s\n", msg)
	}
	fmt.Printf("Query: keyword=%q location=%q platform=%q sort=%s %s\n",
		q.Keyword, q.Location, q.Platform, q.SortBy, q.SortOrder)
	fmt.Printf("Page %d of %d (%d jobs total)\n", snap.Result.CurrentPage, snap.Result.Pages, snap.Result.Total)
	for _, job := range snap.Result.Jobs {
		fmt.Printf("  [%d] %s - %s (%s, %s) [%s]\n",
			job.ID, job.Title, job.Company, job.Location, job.Platform, snap.EffectiveStatus(job))
	}
	return nil
}

func showDetails(v details.View, output string) error {
	if output == "json" {
		outputJSON(v)
		return nil
	}
	switch v.Phase {
	case details.PhaseClosed:
		fmt.Println("Details closed")
	case details.PhaseUnavailable:
		fmt.Printf("Job %d: %s\n", v.JobID, v.Reason)
	case details.PhaseLoaded:
		d := v.Detail
		fmt.Printf("=== %s at %s ===\n", d.Title, d.Company)
		fmt.Printf("Location: %s | Platform: %s | Posted: %s\n", d.Location, d.Platform, d.DatePosted)
		if d.MatchPercentage != nil {
			fmt.Printf("Match: %.0f%%\n", *d.MatchPercentage)
		}
		fmt.Println()
		fmt.Println(d.Description)
		if len(d.Requirements) > 0 {
			fmt.Println("\nRequirements:")
			for _, r := range d.Requirements {
				fmt.Printf("  - %s\n", r)
			}
		}
		for category, group := range d.MissingSkills {
			fmt.Printf("Missing %s (%s): %s\n", category, group.Level, strings.Join(group.Skills, ", "))
		}
		for _, s := range d.Suggestions {
			fmt.Printf("Suggestion [%s]: %s\n", s.Category, s.Suggestion)
		}
	default:
		fmt.Printf("Job %d: %s\n", v.JobID, v.Phase)
	}
	return nil
}

func showOutcome(out session.Outcome, output string) error {
	if output == "json" {
		outputJSON(out)
		return nil
	}
	if out.Informational() {
		fmt.Printf("Job %d: %s\n", out.JobID, out.Message)
		return nil
	}
	fmt.Printf("Job %d: %s (%s)\n", out.JobID, out.Status, out.Action)
	return nil
}

func showApplications(apps []models.ApplicationRecord, output string) error {
	if output == "json" {
		outputJSON(apps)
		return nil
	}
	fmt.Printf("=== Applications (%d) ===\n", len(apps))
	for _, rec := range apps {
		applied := "-"
		if rec.AppliedAt != nil {
			applied = rec.AppliedAt.Format("2006-01-02 15:04")
		}
		fmt.Printf("  #%d job=%d %s - %s [%s] referral=%s applied=%s\n",
			rec.ID, rec.JobID, rec.Title, rec.Company, rec.Status, rec.Referral, applied)
	}
	return nil
}

func showSaved(page models.SavedJobsPage, output string) error {
	if output == "json" {
		outputJSON(page)
		return nil
	}
	fmt.Printf("=== Saved jobs: page %d of %d (%d total) ===\n", page.CurrentPage, page.Pages, page.Total)
	for _, job := range page.Jobs {
		fmt.Printf("  [%d] %s - %s (saved %s)\n", job.ID, job.Title, job.Company, job.SavedAt)
	}
	return nil
}

func showResume(env upstream.ResumeEnvelope, output string) error {
	if !env.OK() {
		return env.Err()
	}
	if output == "json" {
		outputJSON(env.Resume)
		return nil
	}
	if env.Resume == nil {
		fmt.Println("No resume uploaded")
		return nil
	}
	fmt.Printf("Resume: %s (uploaded %s)\n", env.Resume.Filename, env.Resume.UploadedAt)
	return nil
}

func showAction(env upstream.ActionEnvelope, output string) error {
	if !env.OK() {
		return env.Err()
	}
	if output == "json" {
		outputJSON(env)
		return nil
	}
	if env.Message != "" {
		fmt.Printf("%s: %s\n", env.Status, env.Message)
		return nil
	}
	fmt.Println(env.Status)
	return nil
}

func runConfigCommand(cfg *config.Config, output string) {
	if output == "json" {
		outputJSON(cfg)
	} else {
		fmt.Println("Current Configuration:")
		fmt.Printf("Backend URL: %s\n", cfg.Upstream.BaseURL)
		fmt.Printf("Request Timeout: %v\n", cfg.Upstream.Timeout)
		fmt.Printf("Session Storage: %s\n", cfg.Storage.Backend)
		if cfg.Storage.Backend == "supabase" {
			fmt.Printf("Supabase URL: %s\n", maskString(cfg.Storage.SupabaseURL))
			fmt.Printf("Supabase Key: %s\n", maskString(cfg.Storage.SupabaseKey))
		}
		fmt.Printf("Pending Store: %s\n", cfg.Pending.Backend)
		if cfg.Pending.Backend == "redis" {
			fmt.Printf("Redis URL: %s\n", maskString(cfg.Pending.RedisURL))
		}
		fmt.Printf("Session ID: %s\n", cfg.Session.ID)
		fmt.Printf("Reconcile Interval: %v (enabled: %t)\n", cfg.Scheduler.ReconcileInterval, cfg.Scheduler.Enabled)
	}
}

func outputJSON(data interface{}) {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(data); err != nil {
		log.Printf("Failed to encode JSON: %v", err)
	}
}

func maskString(s string) string {
	if len(s) <= 8 {
		return "***"
	}
	return s[:4] + "***" + s[len(s)-4:]
}

func printUsage() {
	fmt.Println("Job Tracker CLI Tool")
	fmt.Println("Usage:")
	fmt.Println("  jobsync-cli [options]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  -cmd search        - Run a new search (-keyword -location -platform -page -sort-by -sort-order)")
	fmt.Println("  -cmd page          - Fetch another page of the current search (-page)")
	fmt.Println("  -cmd sort          - Re-sort the current search (-sort-by -sort-order)")
	fmt.Println("  -cmd show          - Show the persisted session")
	fmt.Println("  -cmd details       - Toggle job details (-job)")
	fmt.Println("  -cmd save          - Save a job (-job)")
	fmt.Println("  -cmd unsave        - Remove a saved job (-job)")
	fmt.Println("  -cmd apply         - Mark a job applied (-job [-status])")
	fmt.Println("  -cmd status        - Change an application (-app -status [-referral -referral-mail])")
	fmt.Println("  -cmd tracker       - List applications")
	fmt.Println("  -cmd saved         - List saved jobs (-page)")
	fmt.Println("  -cmd resume        - Show the uploaded resume")
	fmt.Println("  -cmd upload-resume - Upload a resume (-file: pdf, doc, docx, txt)")
	fmt.Println("  -cmd delete-resume - Delete the uploaded resume")
	fmt.Println("  -cmd upload-apps   - Import applications (-file: xlsx, xls, csv)")
	fmt.Println("  -cmd focus         - Apply updates from other sessions and show the session")
	fmt.Println("  -cmd ping          - Check the backend")
	fmt.Println("  -cmd config        - Show configuration")
	fmt.Println()
	fmt.Println("Options:")
	fmt.Println("  -config string   - Configuration file (default: config.json)")
	fmt.Println("  -output string   - Output format: console, json (default: console)")
	fmt.Println("  -help            - Show this help message")
	fmt.Println()
	fmt.Println("Examples:")
	fmt.Println("  jobsync-cli -cmd search -keyword engineer -location Berlin   # New search")
	fmt.Println("  jobsync-cli -cmd page -page 2                                # Next page")
	fmt.Println("  jobsync-cli -cmd apply -job 42                               # Mark job 42 applied")
	fmt.Println("  jobsync-cli -cmd status -app 7 -status Interview             # Update application 7")
}
