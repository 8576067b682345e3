package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"

	appsync "github.com/ordersync/backend/internal/application/ordersync"
	"github.com/ordersync/backend/internal/domain/ordersync"
	"github.com/ordersync/backend/internal/infrastructure/queue"
)

var (
	okColor   = color.New(color.FgHiGreen)
	warnColor = color.New(color.FgYellow)
	failColor = color.New(color.FgRed)
	dimColor  = color.New(color.FgHiBlack)
	headColor = color.New(color.Bold)
)

// render prints v as indented JSON with --json, otherwise through text
func render(w io.Writer, opts *options, v any, text func(p *printer)) error {
	if opts.jsonOut {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	p := &printer{tw: tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)}
	text(p)
	return p.tw.Flush()
}

type printer struct {
	tw *tabwriter.Writer
}

func (p *printer) row(label string, value any) {
	fmt.Fprintf(p.tw, "  %s:\t%v\n", label, value)
}

func (p *printer) heading(format string, args ...any) {
	fmt.Fprintln(p.tw, headColor.Sprintf(format, args...))
}

func outcomeLabel(outcome string) string {
	switch outcome {
	case ordersync.OutcomeOk.String():
		return okColor.Sprint("✓ ok")
	case ordersync.OutcomeRecoverable.String():
		return warnColor.Sprint("⚠ recoverable")
	default:
		return failColor.Sprint("✗ " + outcome)
	}
}

func boolLabel(v bool) string {
	if v {
		return okColor.Sprint("yes")
	}
	return dimColor.Sprint("no")
}

func orDash(s string) string {
	if s == "" {
		return dimColor.Sprint("-")
	}
	return s
}

func timeLabel(t *time.Time) string {
	if t == nil {
		return dimColor.Sprint("-")
	}
	return t.UTC().Format(time.RFC3339)
}

func (p *printer) syncResult(r appsync.SyncResultResponse) {
	p.heading("Sync %s", r.OrderID)
	p.row("Outcome", outcomeLabel(r.Outcome))
	p.row("Status", orDash(r.Status))
	p.row("Action", orDash(r.Action))
	p.row("Contact", orDash(r.ContactID))
	if r.SkipReason != "" {
		p.row("Skipped", warnColor.Sprint(r.SkipReason))
	}
	if r.Warning != "" {
		p.row("Warning", warnColor.Sprint(r.Warning))
	}
	p.row("Notification queued", boolLabel(r.Queued))
	if r.Error != "" {
		p.row("Error", failColor.Sprintf("%s (%s)", r.Error, r.ErrorCategory))
	}
	p.row("Duration", fmt.Sprintf("%dms", r.DurationMs))
}

func (p *printer) status(s *appsync.SyncStatusResponse) {
	p.heading("Order %s (%s)", s.OrderID, s.BranchCode)
	p.row("Processing", orDash(string(s.ProcessingStatus)))
	p.row("Notification sent", boolLabel(s.NotificationSent))

	if r := s.SyncRecord; r != nil {
		p.heading("Sync record")
		contact := ""
		if r.ContactID != nil {
			contact = *r.ContactID
		}
		p.row("Synced", boolLabel(r.Synced))
		p.row("Contact", orDash(contact))
		p.row("Attempts", r.AttemptCount)
		p.row("Errors", r.ErrorCount)
		if r.LastError != "" {
			p.row("Last error", failColor.Sprint(r.LastError))
		}
		p.row("Last attempt", timeLabel(r.LastAttemptAt))
	} else {
		p.row("Sync record", dimColor.Sprint("none"))
	}

	if n := s.Notification; n != nil {
		p.heading("Notification %s", n.Template)
		label := warnColor.Sprint(string(n.Status))
		if n.Status == ordersync.NotificationStatusSent {
			label = okColor.Sprint(string(n.Status))
		}
		p.row("Status", label)
		p.row("Message", orDash(n.MessageID))
		p.row("Sent at", timeLabel(n.SentAt))
	}
}

func (p *printer) backfill(r appsync.BackfillReport) {
	p.heading("Backfill (%s)", r.Mode)
	p.row("Scanned", r.Scanned)
	p.row("Enqueued", okColor.Sprint(r.Enqueued))
	p.row("Skipped", r.Skipped)
	failed := fmt.Sprint(r.Failed)
	if r.Failed > 0 {
		failed = failColor.Sprint(r.Failed)
	}
	p.row("Failed", failed)
	p.row("Pages", r.Pages)
	p.row("Duration", r.Finished.Sub(r.Started).Round(time.Millisecond))
}

func (p *printer) deadJobs(queueName string, jobs []*queue.Job) {
	if len(jobs) == 0 {
		fmt.Fprintf(p.tw, "No dead jobs in %s\n", queueName)
		return
	}
	p.heading("Dead jobs in %s", queueName)
	fmt.Fprintln(p.tw, "ID\tTYPE\tATTEMPTS\tFAILED AT\tLAST ERROR")
	for _, job := range jobs {
		fmt.Fprintf(p.tw, "%s\t%s\t%d/%d\t%s\t%s\n",
			job.ID, job.Type, job.Attempt, job.MaxAttempts, timeLabel(job.FailedAt), failColor.Sprint(job.LastError))
	}
}

func (p *printer) replayed(queueName string, jobs []*queue.Job) {
	fmt.Fprintf(p.tw, "Replayed %s job(s) on %s\n", okColor.Sprint(len(jobs)), queueName)
	for _, job := range jobs {
		fmt.Fprintf(p.tw, "  %s\t%s\n", job.ID, job.Type)
	}
}
