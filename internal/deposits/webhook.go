package deposits

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"rentline-backend/internal/domain"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog/log"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// WebhookHandler reconciles processor events into the deposit cache. Mounted
// before the body parser; reads raw body + Stripe-Signature header.
type WebhookHandler struct {
	Service       *Service
	WebhookSecret string
}

type stripeEvent struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		Object json.RawMessage `json:"object"`
	} `json:"data"`
}

type paymentIntentObject struct {
	ID               string `json:"id"`
	Status           string `json:"status"`
	Amount           int64  `json:"amount"`
	AmountCapturable int64  `json:"amount_capturable"`
	AmountReceived   int64  `json:"amount_received"`
}

// HandleWebhook POST /api/v1/deposits/webhook. Domain errors still return 200
// to stop processor retries; only bad signatures/bodies get 400.
func (wh *WebhookHandler) HandleWebhook(c *fiber.Ctx) error {
	rawBody := c.BodyRaw()
	sig := c.Get("Stripe-Signature")

	if len(rawBody) == 0 {
		log.Warn().Msg("deposit webhook received empty body (ensure no global body parser consumes it)")
		return c.Status(400).SendString("Webhook Error: empty body")
	}
	if err := verifySignature(rawBody, sig, wh.WebhookSecret); err != nil {
		log.Warn().Err(err).Bool("has_sig", sig != "").Msg("deposit webhook signature verification failed")
		return c.Status(400).SendString(fmt.Sprintf("Webhook Error: %s", err.Error()))
	}

	var event stripeEvent
	if err := json.Unmarshal(rawBody, &event); err != nil {
		return c.Status(400).SendString(fmt.Sprintf("Webhook Error: %s", err.Error()))
	}

	switch event.Type {
	case "payment_intent.amount_capturable_updated",
		"payment_intent.succeeded",
		"payment_intent.canceled",
		"payment_intent.payment_failed":
		var pi paymentIntentObject
		if err := json.Unmarshal(event.Data.Object, &pi); err != nil {
			return c.Status(200).SendString("ok")
		}
		if err := wh.apply(c, event, pi, rawBody); err != nil {
			log.Error().Err(err).Str("event", event.ID).Str("intent", pi.ID).Msg("deposit webhook apply failed")
		}
	}
	return c.Status(200).SendString("ok")
}

func (wh *WebhookHandler) apply(c *fiber.Ctx, event stripeEvent, pi paymentIntentObject, rawBody []byte) error {
	db := wh.Service.DB.WithContext(c.Context())

	var hold domain.DepositHold
	if err := db.Where("processor_intent_id = ?", pi.ID).First(&hold).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil // not one of ours
		}
		return err
	}

	intent := &IntentResult{
		ID:               pi.ID,
		Status:           statusForEvent(event.Type, pi.Status),
		AmountCents:      pi.Amount,
		AmountCapturable: pi.AmountCapturable,
		AmountReceived:   pi.AmountReceived,
	}
	if _, err := wh.Service.reconcile(c.Context(), &hold, intent, event.ID); err != nil {
		return err
	}
	return db.Model(&domain.DepositHold{}).Where("deposit_hold_id = ?", hold.DepositHoldID).
		Update("raw_processor_state", datatypes.JSON(rawBody)).Error
}

// statusForEvent: payment_failed events carry a still-pending intent status,
// so the event type decides.
func statusForEvent(eventType, intentStatus string) string {
	if eventType == "payment_intent.payment_failed" {
		return "payment_failed"
	}
	return intentStatus
}

// verifySignature checks the Stripe-Signature header against the webhook
// secret (t=timestamp, v1=HMAC-SHA256 of "t.payload", 5 minute tolerance).
func verifySignature(payload []byte, sigHeader, secret string) error {
	if sigHeader == "" || secret == "" {
		return errors.New("missing signature or secret")
	}

	var timestamp string
	var signatures []string
	for _, part := range strings.Split(sigHeader, ",") {
		kv := strings.SplitN(strings.TrimSpace(part), "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch kv[0] {
		case "t":
			timestamp = kv[1]
		case "v1":
			signatures = append(signatures, kv[1])
		}
	}
	if timestamp == "" || len(signatures) == 0 {
		return errors.New("invalid signature format")
	}

	signedPayload := timestamp + "." + string(payload)
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(signedPayload))
	expectedSig := hex.EncodeToString(mac.Sum(nil))

	for _, sig := range signatures {
		if hmac.Equal([]byte(sig), []byte(expectedSig)) {
			ts, err := strconv.ParseInt(timestamp, 10, 64)
			if err != nil {
				return errors.New("invalid timestamp")
			}
			diff := time.Now().Unix() - ts
			if diff < 0 {
				diff = -diff
			}
			if diff > 300 {
				return errors.New("timestamp too old")
			}
			return nil
		}
	}
	return errors.New("signature mismatch")
}
