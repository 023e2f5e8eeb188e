package services

import (
	"bytes"
	"fmt"

	"market-research-tracker/internal/config"
	"market-research-tracker/internal/logging"

	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
)

// EmailService handles email sending via SendGrid
type EmailService struct {
	fromEmail string
	fromName  string
	baseURL   string
	client    *sendgrid.Client
}

// NewEmailService creates a new email service. Returns nil when no API key is
// configured; callers treat a nil service as notifications-disabled.
func NewEmailService(cfg config.EmailConfig, baseURL string) *EmailService {
	if cfg.APIKey == "" {
		return nil
	}
	return &EmailService{
		fromEmail: cfg.FromEmail,
		fromName:  cfg.FromName,
		baseURL:   baseURL,
		client:    sendgrid.NewSendClient(cfg.APIKey),
	}
}

// SendReportReady notifies the requester that their report is available
func (s *EmailService) SendReportReady(toEmail, title, slug string) error {
	from := mail.NewEmail(s.fromName, s.fromEmail)
	to := mail.NewEmail("", toEmail)
	subject := fmt.Sprintf("Your report is ready: %s", title)
	reportURL := fmt.Sprintf("%s/report/%s", s.baseURL, slug)

	htmlContent := s.buildReportReadyHTML(title, reportURL)
	plainTextContent := fmt.Sprintf(
		"Your market research report \"%s\" is ready.\n\nView it here: %s\n", title, reportURL)

	message := mail.NewSingleEmail(from, subject, to, plainTextContent, htmlContent)

	response, err := s.client.Send(message)
	if err != nil {
		return fmt.Errorf("failed to send email via SendGrid: %w", err)
	}
	if response.StatusCode >= 400 {
		return fmt.Errorf("SendGrid API error: status %d, body: %s", response.StatusCode, response.Body)
	}

	log := logging.WithComponent("email")
	log.Info().Str("to", toEmail).Str("slug", slug).Msg("report ready email sent")
	return nil
}

func (s *EmailService) buildReportReadyHTML(title, reportURL string) string {
	var html bytes.Buffer

	html.WriteString(`<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <style>
        body { font-family: Arial, sans-serif; color: #333; line-height: 1.6; }
        .container { max-width: 600px; margin: 0 auto; padding: 20px; }
        .button { display: inline-block; padding: 12px 24px; background-color: #2563eb;
                  color: #fff; text-decoration: none; border-radius: 6px; }
        .footer { margin-top: 30px; font-size: 12px; color: #888; }
    </style>
</head>
<body>
    <div class="container">`)
	html.WriteString(fmt.Sprintf(`
        <h2>Your report is ready</h2>
        <p>The market research report <strong>%s</strong> has finished generating.</p>
        <p><a class="button" href="%s">View Report</a></p>
        <div class="footer">
            <p>You received this email because a report was requested with this address.</p>
        </div>`, title, reportURL))
	html.WriteString(`
    </div>
</body>
</html>`)

	return html.String()
}
