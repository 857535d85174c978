package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"rentline-backend/internal/domain"

	"github.com/rs/zerolog/log"
)

const brevoAPI = "https://api.brevo.com/v3/smtp/email"

// BrevoSendRequest matches Brevo API v3 send transactional email body.
type BrevoSendRequest struct {
	Sender      BrevoSender `json:"sender"`
	To          []BrevoTo   `json:"to"`
	Subject     string      `json:"subject"`
	HTMLContent string      `json:"htmlContent"`
}

type BrevoSender struct {
	Email string `json:"email"`
	Name  string `json:"name"`
}

type BrevoTo struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

// Dispatcher sends customer notifications after key transitions. Fire and
// forget: a failed send is logged and never fails or rolls back the
// transaction that triggered it. Sends run on spawned goroutines, so the
// struct is read-only after construction.
type Dispatcher struct {
	APIKey   string
	MailFrom string
	Client   *http.Client
}

var defaultClient = &http.Client{Timeout: 15 * time.Second}

// NewDispatcher builds a dispatcher with its HTTP client fixed up front.
func NewDispatcher(apiKey, mailFrom string) *Dispatcher {
	return &Dispatcher{APIKey: apiKey, MailFrom: mailFrom, Client: defaultClient}
}

func (d *Dispatcher) from() string {
	if d.MailFrom != "" {
		return d.MailFrom
	}
	return "noreply@rentline.ca"
}

// BookingEvent dispatches asynchronously; the request context may die first.
func (d *Dispatcher) BookingEvent(ctx context.Context, event string, b *domain.Booking) {
	if d == nil || b == nil || b.CustomerEmail == "" {
		return
	}
	subject, html := render(event, b)
	if subject == "" {
		return
	}
	go func() {
		sendCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := d.send(sendCtx, b.CustomerEmail, subject, html); err != nil {
			log.Warn().Err(err).Str("event", event).Str("booking", b.Code).Msg("notification dispatch failed")
		}
	}()
}

func render(event string, b *domain.Booking) (subject, html string) {
	switch event {
	case "booking.confirmed":
		return fmt.Sprintf("Booking %s confirmed", b.Code),
			fmt.Sprintf("<h1>You're all set!</h1><p>Your rental <strong>%s</strong> is confirmed for pickup on %s.</p>", b.Code, b.StartAt.Format("Jan 2, 2006"))
	case "deposit.authorized":
		return fmt.Sprintf("Deposit received for %s", b.Code),
			fmt.Sprintf("<h1>Payment confirmed</h1><p>Your deposit hold for booking <strong>%s</strong> is in place. Nothing is charged unless needed.</p>", b.Code)
	case "handover.inspection_done":
		return fmt.Sprintf("Vehicle ready for %s", b.Code),
			fmt.Sprintf("<h1>Inspection complete</h1><p>Your vehicle for booking <strong>%s</strong> passed its pre-handover inspection.</p>", b.Code)
	case "booking.activated":
		return fmt.Sprintf("Enjoy your rental %s", b.Code),
			fmt.Sprintf("<h1>Keys are yours</h1><p>Booking <strong>%s</strong> is now active. Drive safe!</p>", b.Code)
	case "return.closed":
		return fmt.Sprintf("Return received for %s", b.Code),
			fmt.Sprintf("<h1>Thanks for riding with us</h1><p>Your return for booking <strong>%s</strong> has been processed.</p>", b.Code)
	}
	return "", ""
}

func (d *Dispatcher) send(ctx context.Context, toEmail, subject, html string) error {
	if d.APIKey == "" {
		return nil
	}
	body := BrevoSendRequest{
		Sender:      BrevoSender{Email: d.from(), Name: "Rentline"},
		To:          []BrevoTo{{Email: toEmail}},
		Subject:     subject,
		HTMLContent: html,
	}
	bodyBytes, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, brevoAPI, bytes.NewReader(bodyBytes))
	if err != nil {
		return err
	}
	req.Header.Set("api-key", d.APIKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	client := d.Client
	if client == nil {
		client = defaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("brevo send failed: status %d", resp.StatusCode)
	}
	return nil
}
