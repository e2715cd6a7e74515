package handler

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"log"

	"github.com/gofiber/fiber/v2"
	"github.com/nurunet/nurubill/internal/infrastructure/daraja"
	"github.com/nurunet/nurubill/internal/service"
	"github.com/nurunet/nurubill/internal/telemetry"
)

// WebhookHandler terminates the M-Pesa gateway callbacks. Every delivery is
// answered with HTTP 200 and the gateway ack envelope; the ResultCode inside
// decides whether the gateway considers it delivered.
type WebhookHandler struct {
	reconciler *service.Reconciler
	secret     string
}

// NewWebhookHandler creates a new WebhookHandler. An empty secret disables
// signature verification; config validation only allows that with the mock
// gateway.
func NewWebhookHandler(reconciler *service.Reconciler, secret string) *WebhookHandler {
	if secret == "" {
		log.Println("[Webhook] signature verification DISABLED (no MPESA_WEBHOOK_SECRET)")
	}
	return &WebhookHandler{
		reconciler: reconciler,
		secret:     secret,
	}
}

// STKCallback handles POST /webhooks/mpesa/stk-callback
func (h *WebhookHandler) STKCallback(c *fiber.Ctx) error {
	raw := c.Body()
	if !h.verifySignature(raw, c.Get("X-Mpesa-Signature")) {
		log.Printf("[Webhook] stk-callback signature verification failed from %s", c.IP())
		return c.JSON(daraja.Ack{ResultCode: 1, ResultDesc: "Rejected"})
	}

	// A parse failure still reaches the reconciler: the zero callback takes
	// the validation-error path and the raw payload lands in the webhook log.
	var envelope daraja.STKCallbackEnvelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		log.Printf("[Webhook] stk-callback parse error: %v", err)
	}

	res := h.reconciler.HandleSTKCallback(c.UserContext(), &envelope.Body.StkCallback, raw)
	return ack(c, res)
}

// Confirmation handles POST /webhooks/mpesa/confirmation
func (h *WebhookHandler) Confirmation(c *fiber.Ctx) error {
	raw := c.Body()
	if !h.verifySignature(raw, c.Get("X-Mpesa-Signature")) {
		log.Printf("[Webhook] confirmation signature verification failed from %s", c.IP())
		return c.JSON(daraja.Ack{ResultCode: 1, ResultDesc: "Rejected"})
	}

	var conf daraja.C2BConfirmation
	if err := json.Unmarshal(raw, &conf); err != nil {
		log.Printf("[Webhook] confirmation parse error: %v", err)
	}

	res := h.reconciler.HandleC2BConfirmation(c.UserContext(), &conf, raw)
	return ack(c, res)
}

// Validation handles POST /webhooks/mpesa/validation
func (h *WebhookHandler) Validation(c *fiber.Ctx) error {
	raw := c.Body()
	if !h.verifySignature(raw, c.Get("X-Mpesa-Signature")) {
		log.Printf("[Webhook] validation signature verification failed from %s", c.IP())
		return c.JSON(daraja.Ack{ResultCode: 1, ResultDesc: "Rejected"})
	}

	var conf daraja.C2BConfirmation
	if err := json.Unmarshal(raw, &conf); err != nil {
		log.Printf("[Webhook] validation parse error: %v", err)
	}

	res := h.reconciler.HandleC2BValidation(c.UserContext(), &conf, raw)
	return ack(c, res)
}

// verifySignature checks the HMAC-SHA256 of the raw body against the
// X-Mpesa-Signature header before anything is parsed.
// Formula: hex(hmac_sha256(rawBody, secret))
func (h *WebhookHandler) verifySignature(raw []byte, providedSig string) bool {
	if h.secret == "" {
		return true
	}
	if providedSig == "" {
		return false
	}

	mac := hmac.New(sha256.New, []byte(h.secret))
	mac.Write(raw)
	expectedSig := hex.EncodeToString(mac.Sum(nil))

	return hmac.Equal([]byte(expectedSig), []byte(providedSig))
}

// ack answers the gateway and tags the trace with the reconciliation
// outcome so deliveries can be filtered by fate.
func ack(c *fiber.Ctx, res service.WebhookResult) error {
	telemetry.SetSpanAttribute(c, "mpesa.outcome", res.Outcome)
	code := 0
	if !res.Accept {
		code = 1
	}
	return c.JSON(daraja.Ack{ResultCode: code, ResultDesc: res.Desc})
}
