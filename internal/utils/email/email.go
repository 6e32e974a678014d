package email

import (
	"fmt"
	"net/smtp"
	"strings"

	"github.com/Dan9191/auth-service/internal/config"
	"github.com/jordan-wright/email"
	"github.com/sirupsen/logrus"
)

// Sender handles sending emails via SMTP
type Sender struct {
	cfg    *config.Config
	logger *logrus.Logger
	send   func(e *email.Email) error
}

// NewSender creates a new email sender
func NewSender(cfg *config.Config, logger *logrus.Logger) *Sender {
	s := &Sender{
		cfg:    cfg,
		logger: logger,
	}
	s.send = s.sendSMTP
	return s
}

// SendVerification sends the account verification link
func (s *Sender) SendVerification(to, name, verification string) error {
	return s.deliver(s.verificationEmail(to, name, verification))
}

// SendResetPassword sends the password reset link
func (s *Sender) SendResetPassword(to, name, verification string) error {
	return s.deliver(s.resetPasswordEmail(to, name, verification))
}

func (s *Sender) verificationEmail(to, name, verification string) *email.Email {
	e := email.NewEmail()
	e.From = s.cfg.SenderEmail
	e.To = []string{to}
	e.Subject = "Verify your email"

	body := fmt.Sprintf("Hello %s,\n\n", greetingName(name, to))
	body += fmt.Sprintf(
		"Welcome! To verify your email address open the link below:\n%s\n",
		s.link("verify", verification),
	)
	body += "\nIf you did not create an account you can ignore this message."
	e.Text = []byte(body)
	return e
}

func (s *Sender) resetPasswordEmail(to, name, verification string) *email.Email {
	e := email.NewEmail()
	e.From = s.cfg.SenderEmail
	e.To = []string{to}
	e.Subject = "Password reset"

	body := fmt.Sprintf("Hello %s,\n\n", greetingName(name, to))
	body += fmt.Sprintf(
		"A password reset was requested for your account. To choose a new password open the link below:\n%s\n",
		s.link("reset", verification),
	)
	body += "\nIf you did not request a reset you can ignore this message."
	e.Text = []byte(body)
	return e
}

func (s *Sender) link(action, verification string) string {
	return fmt.Sprintf("%s/%s/%s", strings.TrimRight(s.cfg.FrontendURL, "/"), action, verification)
}

func (s *Sender) deliver(e *email.Email) error {
	to := strings.Join(e.To, ",")
	if s.cfg.SMTPHost == "" {
		s.logger.WithFields(logrus.Fields{
			"to":      to,
			"subject": e.Subject,
		}).Info("SMTP not configured, email not sent")
		return nil
	}

	if err := s.send(e); err != nil {
		s.logger.Errorf("Failed to send email to %s: %v", to, err)
		return fmt.Errorf("failed to send email: %w", err)
	}

	s.logger.Infof("Email sent to %s: %s", to, e.Subject)
	return nil
}

func (s *Sender) sendSMTP(e *email.Email) error {
	addr := fmt.Sprintf("%s:%s", s.cfg.SMTPHost, s.cfg.SMTPPort)
	var auth smtp.Auth
	if s.cfg.SMTPUsername != "" {
		auth = smtp.PlainAuth("", s.cfg.SMTPUsername, s.cfg.SMTPPassword, s.cfg.SMTPHost)
	}
	return e.Send(addr, auth)
}

func greetingName(name, fallback string) string {
	if name == "" {
		return fallback
	}
	return name
}
