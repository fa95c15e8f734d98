package notifier

import (
	"context"
	"fmt"
	"net/smtp"
	"sort"
	"strings"
	"time"

	"github.com/treehealth/ndvi-monitor/internal/config"
	"github.com/treehealth/ndvi-monitor/internal/logger"
	"github.com/treehealth/ndvi-monitor/internal/models"
	"github.com/treehealth/ndvi-monitor/internal/processor"
)

// SendFunc matches smtp.SendMail
type SendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// EmailDispatcher mails a digest of high-severity declines and failed runs
type EmailDispatcher struct {
	config config.EmailConfig
	send   SendFunc
	retry  time.Duration
}

func NewEmailDispatcher(cfg config.EmailConfig) *EmailDispatcher {
	return &EmailDispatcher{
		config: cfg,
		send:   smtp.SendMail,
		retry:  time.Second,
	}
}

// WithSender replaces the SMTP transport
func (ed *EmailDispatcher) WithSender(send SendFunc) *EmailDispatcher {
	ed.send = send
	ed.retry = 0
	return ed
}

// OnRun implements processor.RunObserver
func (ed *EmailDispatcher) OnRun(ctx context.Context, event *processor.RunEvent) error {
	if !ed.config.Enabled {
		return nil
	}
	if ed.config.SMTPHost == "" || len(ed.config.To) == 0 {
		logger.Warn().Msg("Email configuration incomplete, skipping email dispatch")
		return nil
	}

	var subject, body string
	if event.Run.IsSuccess() {
		high := event.HighSeverity()
		if len(high) == 0 {
			return nil
		}
		subject = fmt.Sprintf("NDVI alert: %d trees with severe decline", len(high))
		body = formatDeclines(event.Run, high)
	} else {
		subject = fmt.Sprintf("NDVI processing run failed (%s)", event.Run.TargetDateString)
		body = formatFailure(event.Run)
	}

	message := []byte(fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\nContent-Type: text/plain; charset=UTF-8\r\n\r\n%s",
		ed.config.From, strings.Join(ed.config.To, ", "), subject, body))

	var auth smtp.Auth
	if ed.config.Username != "" {
		auth = smtp.PlainAuth("", ed.config.Username, ed.config.Password, ed.config.SMTPHost)
	}
	addr := fmt.Sprintf("%s:%d", ed.config.SMTPHost, ed.config.SMTPPort)

	var err error
	for attempt := 0; attempt < 2; attempt++ {
		if err = ed.send(addr, auth, ed.config.From, ed.config.To, message); err == nil {
			logger.Info().
				Strs("to", ed.config.To).
				Str("run_id", event.Run.ID.String()).
				Msg("Notification email sent")
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(ed.retry):
		}
	}

	return fmt.Errorf("email dispatch failed after retries: %w", err)
}

func formatDeclines(run *models.RunResult, alerts []models.Alert) string {
	sorted := append([]models.Alert(nil), alerts...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].NDVIDiff < sorted[j].NDVIDiff })

	var b strings.Builder
	fmt.Fprintf(&b, "Run %s (%s, target %s) found %d high severity declines.\n\n",
		run.ID, run.Method, run.TargetDateString, len(sorted))
	for _, a := range sorted {
		id := a.TreeID
		if id == "" {
			id = fmt.Sprintf("#%d", a.PointID)
		}
		fmt.Fprintf(&b, "%-16s %-12s %s  diff %+.3f  (%.5f, %.5f)\n",
			id, a.Species, a.PeriodMonth.Format("2006-01"), a.NDVIDiff, a.Lon, a.Lat)
	}
	b.WriteString("\n--\nNDVI Monitor\n")
	return b.String()
}

func formatFailure(run *models.RunResult) string {
	return fmt.Sprintf("Run %s (%s, target %s) failed after %s.\n\nError: %s\n\n--\nNDVI Monitor\n",
		run.ID, run.Method, run.TargetDateString, run.FinishedAt.Sub(run.StartedAt).Round(time.Millisecond), run.Error)
}
