package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"strings"
	"time"

	"github.com/nurunet/nurubill/internal/domain"
	"github.com/nurunet/nurubill/internal/infrastructure/daraja"
)

// amountEpsilon is the tolerance when comparing a gateway amount to a price.
const amountEpsilon = 0.01

// WebhookResult is the reconciler's decision about one gateway delivery.
// Accept=false tells the gateway the payment could not be honoured; the
// gateway parks it for manual investigation and may retry.
type WebhookResult struct {
	Outcome string
	Accept  bool
	Desc    string
}

// Reconciler consumes the gateway's webhook deliveries. The C2B confirmation
// path is the single point of voucher assignment; the STK result callback
// only moves status bookkeeping. Every delivery, whatever its fate, leaves a
// webhook log row behind.
type Reconciler struct {
	voucherRepo    domain.VoucherRepository
	sessionRepo    domain.STKSessionRepository
	paymentRepo    domain.PaymentRepository
	txRepo         domain.TransactionRepository
	customerRepo   domain.WifiCustomerRepository
	accountRepo    domain.AccountRepository
	auditRepo      domain.AuditLogRepository
	webhookLogRepo domain.WebhookLogRepository
	commission     CommissionResolver
}

// NewReconciler creates a new reconciler
func NewReconciler(
	voucherRepo domain.VoucherRepository,
	sessionRepo domain.STKSessionRepository,
	paymentRepo domain.PaymentRepository,
	txRepo domain.TransactionRepository,
	customerRepo domain.WifiCustomerRepository,
	accountRepo domain.AccountRepository,
	auditRepo domain.AuditLogRepository,
	webhookLogRepo domain.WebhookLogRepository,
	commission CommissionResolver,
) *Reconciler {
	return &Reconciler{
		voucherRepo:    voucherRepo,
		sessionRepo:    sessionRepo,
		paymentRepo:    paymentRepo,
		txRepo:         txRepo,
		customerRepo:   customerRepo,
		accountRepo:    accountRepo,
		auditRepo:      auditRepo,
		webhookLogRepo: webhookLogRepo,
		commission:     commission,
	}
}

// HandleSTKCallback applies the gateway's push result to the initiation
// ledger. It never assigns a voucher and never marks a payment completed;
// settlement belongs to the C2B confirmation alone. The gateway is always
// acknowledged, whatever happens internally.
func (r *Reconciler) HandleSTKCallback(ctx context.Context, cb *daraja.STKCallback, raw []byte) (res WebhookResult) {
	start := time.Now()
	entry := &domain.WebhookLog{
		Source:            "mpesa",
		CallbackType:      domain.CallbackTypeSTK,
		RawPayload:        string(raw),
		CheckoutRequestID: cb.CheckoutRequestID,
		TransactionID:     cb.ReceiptNumber(),
	}
	defer func() {
		if rec := recover(); rec != nil {
			entry.Error = fmt.Sprintf("panic: %v", rec)
			log.Printf("[Reconciler] panic handling STK result %s: %v", cb.CheckoutRequestID, rec)
			res = accepted(domain.WebhookOutcomeError)
		}
		r.appendLog(ctx, entry, res, start)
	}()
	res = r.applySTKResult(ctx, cb, entry)
	return res
}

func (r *Reconciler) applySTKResult(ctx context.Context, cb *daraja.STKCallback, entry *domain.WebhookLog) WebhookResult {
	checkout := strings.TrimSpace(cb.CheckoutRequestID)
	if checkout == "" {
		return accepted(domain.WebhookOutcomeValidationError)
	}

	session, err := r.sessionRepo.GetByCheckoutID(ctx, checkout)
	if errors.Is(err, domain.ErrNotFound) {
		log.Printf("[Reconciler] STK result for unknown checkout %s (code %d)", checkout, cb.ResultCode)
		return accepted(domain.WebhookOutcomePaymentNotFound)
	}
	if err != nil {
		return r.internalError(entry, "session lookup", err)
	}
	entry.VoucherID = session.VoucherID

	receipt := cb.ReceiptNumber()
	if cb.ResultCode == 0 {
		err = r.sessionRepo.MarkPendingConfirmation(ctx, checkout, cb.ResultCode, cb.ResultDesc, receipt)
	} else {
		err = r.sessionRepo.MarkFailed(ctx, checkout, cb.ResultCode, cb.ResultDesc)
	}

	outcome := domain.WebhookOutcomeSuccess
	switch {
	case errors.Is(err, domain.ErrStateConflict):
		// a replayed or late result for a session that already moved on
		outcome = domain.WebhookOutcomeDuplicate
	case err != nil:
		return r.internalError(entry, "session transition", err)
	}

	// Best-effort read model for the polling path. On result code 0 the
	// status stays pending: the PIN was accepted but settlement still has to
	// arrive on the C2B channel.
	status := domain.PaymentStatusPending
	switch {
	case cb.ResultCode == daraja.ResultCodeCancelledByUser:
		status = domain.PaymentStatusCancelled
	case cb.ResultCode != 0:
		status = domain.PaymentStatusFailed
	}
	code := cb.ResultCode
	pay := &domain.Payment{
		CheckoutRequestID: checkout,
		MpesaReceipt:      receipt,
		VoucherID:         session.VoucherID,
		RouterID:          session.RouterID,
		AccountID:         session.AccountID,
		Amount:            session.Amount,
		Status:            status,
		ResultCode:        &code,
		ResultDesc:        cb.ResultDesc,
	}
	if session.Phone != "" {
		pay.PhoneHash = daraja.HashPhone(session.Phone)
	}
	if err := r.paymentRepo.UpsertByCheckoutID(ctx, pay); err != nil {
		log.Printf("[Reconciler] payment record update failed for %s: %v", checkout, err)
	}

	log.Printf("[Reconciler] STK result applied: checkout=%s code=%d outcome=%s", checkout, cb.ResultCode, outcome)
	return accepted(outcome)
}

// HandleC2BConfirmation settles funds the gateway confirms as received. This
// is the only code path that assigns a voucher.
func (r *Reconciler) HandleC2BConfirmation(ctx context.Context, conf *daraja.C2BConfirmation, raw []byte) (res WebhookResult) {
	start := time.Now()
	entry := &domain.WebhookLog{
		Source:        "mpesa",
		CallbackType:  domain.CallbackTypeC2BConfirmation,
		RawPayload:    string(raw),
		TransactionID: conf.TransID,
	}
	defer func() {
		if rec := recover(); rec != nil {
			entry.Error = fmt.Sprintf("panic: %v", rec)
			log.Printf("[Reconciler] panic handling confirmation %s: %v", conf.TransID, rec)
			res = accepted(domain.WebhookOutcomeError)
		}
		r.appendLog(ctx, entry, res, start)
	}()
	res = r.settleC2B(ctx, conf, entry)
	return res
}

func (r *Reconciler) settleC2B(ctx context.Context, conf *daraja.C2BConfirmation, entry *domain.WebhookLog) WebhookResult {
	receipt := strings.TrimSpace(conf.TransID)
	reference := strings.ToUpper(strings.TrimSpace(conf.BillRefNumber))
	if receipt == "" || reference == "" {
		return reject(domain.WebhookOutcomeValidationError, "Missing transaction id or reference")
	}
	amount, err := conf.Amount()
	if err != nil || amount <= 0 {
		return reject(domain.WebhookOutcomeValidationError, "Invalid amount")
	}

	// The initiation ledger is the preferred resolution path: it carries the
	// exact voucher that was pushed for and the raw payer phone.
	session, err := r.sessionRepo.GetByReference(ctx, reference)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			return r.internalError(entry, "session lookup", err)
		}
		session = nil
	}
	if session != nil {
		entry.CheckoutRequestID = session.CheckoutRequestID
	}

	if session != nil && session.PurchaseType == domain.PurchaseTypeSMSCredit {
		return r.settleCreditTopup(ctx, session, receipt, amount, conf.MSISDN, entry)
	}

	var voucher *domain.Voucher
	if session != nil && session.VoucherID != "" {
		voucher, err = r.voucherRepo.GetByID(ctx, session.VoucherID)
		if err != nil && !errors.Is(err, domain.ErrNotFound) {
			return r.internalError(entry, "voucher lookup", err)
		}
	}
	if voucher == nil {
		// direct reference lookup covers counter payments that never went
		// through an STK push
		voucher, err = r.voucherRepo.GetByReference(ctx, reference)
		if errors.Is(err, domain.ErrNotFound) {
			log.Printf("[Reconciler] no voucher resolves reference %s (receipt %s)", reference, receipt)
			return reject(domain.WebhookOutcomeVoucherNotFound, "Reference not recognized")
		}
		if err != nil {
			return r.internalError(entry, "voucher lookup", err)
		}
	}
	entry.VoucherID = voucher.ID

	// Idempotency check. A populated payment sub-record means this voucher is
	// already settled: the same receipt is a redelivery to acknowledge, a
	// different receipt is money we must not quietly swallow.
	if voucher.Payment != nil && voucher.Payment.TransactionID != "" {
		if voucher.Payment.TransactionID == receipt {
			log.Printf("[Reconciler] duplicate confirmation %s for voucher %s", receipt, voucher.ID)
			return accepted(domain.WebhookOutcomeDuplicate)
		}
		log.Printf("[Reconciler] voucher %s already settled by %s, rejecting receipt %s", voucher.ID, voucher.Payment.TransactionID, receipt)
		return reject(domain.WebhookOutcomeFailed, "Reference already settled")
	}
	if voucher.Status != domain.VoucherStatusActive {
		log.Printf("[Reconciler] voucher %s not payable (status %s), rejecting receipt %s", voucher.ID, voucher.Status, receipt)
		return reject(domain.WebhookOutcomeFailed, "Reference not payable")
	}

	if math.Abs(amount-voucher.Price) > amountEpsilon {
		log.Printf("[Reconciler] amount mismatch for voucher %s: expected %.2f paid %.2f (receipt %s)", voucher.ID, voucher.Price, amount, receipt)
		return reject(domain.WebhookOutcomeAmountMismatch, "Amount mismatch")
	}

	rate := r.commission.Rate(ctx, voucher.AccountID)
	commission := domain.Round2(amount * rate)

	phoneHash, plainPhone := payerIdentity(session, conf.MSISDN)
	now := time.Now()
	if phoneHash != "" {
		if err := r.customerRepo.UpsertPurchase(ctx, voucher.AccountID, phoneHash, plainPhone, amount, now); err != nil {
			return r.internalError(entry, "customer upsert", err)
		}
	}

	var purchaseExpiresAt *time.Time
	if voucher.MaxDurationMinutes > 0 {
		t := now.Add(time.Duration(voucher.MaxDurationMinutes) * time.Minute)
		purchaseExpiresAt = &t
	}

	payment := &domain.VoucherPayment{
		Method:        "mpesa",
		TransactionID: receipt,
		PhoneHash:     phoneHash,
		Amount:        domain.Round2(amount),
		Commission:    commission,
		PaidAt:        now,
	}
	if err := r.voucherRepo.AssignPayment(ctx, voucher.ID, payment, purchaseExpiresAt); err != nil {
		if errors.Is(err, domain.ErrAlreadyPaid) {
			return r.classifyLostRace(ctx, voucher.ID, receipt, entry)
		}
		return r.internalError(entry, "voucher assignment", err)
	}

	// The voucher is assigned; everything below is bookkeeping that must not
	// bounce the settlement back to the gateway.
	outcome := domain.WebhookOutcomeSuccess
	tx := &domain.Transaction{
		AccountID:       voucher.AccountID,
		RouterID:        voucher.RouterID,
		VoucherID:       voucher.ID,
		TransactionType: domain.TransactionTypeVoucherSale,
		MpesaReceipt:    receipt,
		Amount:          domain.Round2(amount),
		Commission:      commission,
		NetAmount:       domain.Round2(amount - commission),
		PhoneHash:       phoneHash,
		Description:     "voucher sale " + voucher.Reference,
	}
	if err := r.txRepo.Create(ctx, tx); err != nil {
		if errors.Is(err, domain.ErrDuplicateReceipt) {
			// the receipt already bought something else; the unique index
			// refused a second revenue row but this voucher kept its
			// assignment, so ops needs to reclaim it
			log.Printf("[Reconciler] receipt %s already booked elsewhere, voucher %s needs manual review", receipt, voucher.ID)
			entry.Error = "receipt already booked against another voucher"
			return accepted(domain.WebhookOutcomeDuplicate)
		}
		log.Printf("[Reconciler] transaction write failed for receipt %s: %v", receipt, err)
		entry.Error = err.Error()
		outcome = domain.WebhookOutcomeError
	}

	if err := r.auditRepo.Insert(ctx, &domain.AuditLog{
		AccountID:  voucher.AccountID,
		Actor:      "system:mpesa",
		Action:     domain.AuditActionPaymentConfirmed,
		EntityType: "voucher",
		EntityID:   voucher.ID,
		Details: map[string]any{
			"receipt":    receipt,
			"reference":  voucher.Reference,
			"amount":     domain.Round2(amount),
			"commission": commission,
		},
	}); err != nil {
		log.Printf("[Reconciler] audit write failed for voucher %s: %v", voucher.ID, err)
	}

	pay := &domain.Payment{
		MpesaReceipt: receipt,
		VoucherID:    voucher.ID,
		RouterID:     voucher.RouterID,
		AccountID:    voucher.AccountID,
		Amount:       domain.Round2(amount),
		PhoneHash:    phoneHash,
		Status:       domain.PaymentStatusCompleted,
	}
	if session != nil {
		pay.CheckoutRequestID = session.CheckoutRequestID
	}
	if err := r.paymentRepo.UpsertByCheckoutID(ctx, pay); err != nil {
		log.Printf("[Reconciler] payment record update failed for receipt %s: %v", receipt, err)
	}
	if session != nil {
		if err := r.sessionRepo.MarkCompleted(ctx, session.CheckoutRequestID, receipt); err != nil && !errors.Is(err, domain.ErrStateConflict) {
			log.Printf("[Reconciler] session completion failed for %s: %v", session.CheckoutRequestID, err)
		}
	}

	log.Printf("[Reconciler] settled voucher %s: receipt=%s amount=%.2f commission=%.2f", voucher.ID, receipt, amount, commission)
	return accepted(outcome)
}

// settleCreditTopup books an SMS credit purchase. The revenue row doubles as
// the idempotency barrier: its unique receipt index makes a redelivery fail
// before any credits are granted twice.
func (r *Reconciler) settleCreditTopup(ctx context.Context, session *domain.STKSession, receipt string, amount float64, msisdn string, entry *domain.WebhookLog) WebhookResult {
	if math.Abs(amount-session.Amount) > amountEpsilon {
		log.Printf("[Reconciler] top-up amount mismatch for %s: expected %.2f paid %.2f", session.CheckoutRequestID, session.Amount, amount)
		return reject(domain.WebhookOutcomeAmountMismatch, "Amount mismatch")
	}

	phoneHash, _ := payerIdentity(session, msisdn)
	tx := &domain.Transaction{
		AccountID:       session.AccountID,
		TransactionType: domain.TransactionTypeSMSCredit,
		MpesaReceipt:    receipt,
		Amount:          domain.Round2(amount),
		Commission:      domain.Round2(amount), // a top-up is platform revenue in full
		NetAmount:       0,
		PhoneHash:       phoneHash,
		Description:     fmt.Sprintf("sms credit top-up (%d credits)", session.Credits),
	}
	if err := r.txRepo.Create(ctx, tx); err != nil {
		if errors.Is(err, domain.ErrDuplicateReceipt) {
			log.Printf("[Reconciler] duplicate top-up confirmation %s for %s", receipt, session.CheckoutRequestID)
			return accepted(domain.WebhookOutcomeDuplicate)
		}
		return r.internalError(entry, "top-up transaction", err)
	}

	if err := r.accountRepo.IncrementSMSCredits(ctx, session.AccountID, session.Credits); err != nil {
		// the money is booked but the credits were not granted
		log.Printf("[Reconciler] credit grant failed for account %s after receipt %s: %v", session.AccountID, receipt, err)
		entry.Error = err.Error()
		return accepted(domain.WebhookOutcomeError)
	}

	if err := r.auditRepo.Insert(ctx, &domain.AuditLog{
		AccountID:  session.AccountID,
		Actor:      "system:mpesa",
		Action:     domain.AuditActionCreditTopup,
		EntityType: "account",
		EntityID:   session.AccountID,
		Details: map[string]any{
			"receipt": receipt,
			"credits": session.Credits,
			"amount":  domain.Round2(amount),
		},
	}); err != nil {
		log.Printf("[Reconciler] audit write failed for account %s: %v", session.AccountID, err)
	}

	pay := &domain.Payment{
		CheckoutRequestID: session.CheckoutRequestID,
		MpesaReceipt:      receipt,
		AccountID:         session.AccountID,
		Amount:            domain.Round2(amount),
		PhoneHash:         phoneHash,
		Status:            domain.PaymentStatusCompleted,
	}
	if err := r.paymentRepo.UpsertByCheckoutID(ctx, pay); err != nil {
		log.Printf("[Reconciler] payment record update failed for %s: %v", session.CheckoutRequestID, err)
	}
	if err := r.sessionRepo.MarkCompleted(ctx, session.CheckoutRequestID, receipt); err != nil && !errors.Is(err, domain.ErrStateConflict) {
		log.Printf("[Reconciler] session completion failed for %s: %v", session.CheckoutRequestID, err)
	}

	log.Printf("[Reconciler] credited account %s: receipt=%s credits=%d amount=%.2f", session.AccountID, receipt, session.Credits, amount)
	return accepted(domain.WebhookOutcomeSuccess)
}

// HandleC2BValidation answers the gateway's pre-payment probe. It resolves
// the reference and checks the amount exactly like settlement would, but
// writes nothing beyond the webhook log.
func (r *Reconciler) HandleC2BValidation(ctx context.Context, conf *daraja.C2BConfirmation, raw []byte) (res WebhookResult) {
	start := time.Now()
	entry := &domain.WebhookLog{
		Source:        "mpesa",
		CallbackType:  domain.CallbackTypeC2BValidation,
		RawPayload:    string(raw),
		TransactionID: conf.TransID,
	}
	defer func() {
		if rec := recover(); rec != nil {
			entry.Error = fmt.Sprintf("panic: %v", rec)
			log.Printf("[Reconciler] panic handling validation %s: %v", conf.TransID, rec)
			res = accepted(domain.WebhookOutcomeError)
		}
		r.appendLog(ctx, entry, res, start)
	}()
	res = r.validateC2B(ctx, conf, entry)
	return res
}

func (r *Reconciler) validateC2B(ctx context.Context, conf *daraja.C2BConfirmation, entry *domain.WebhookLog) WebhookResult {
	reference := strings.ToUpper(strings.TrimSpace(conf.BillRefNumber))
	if reference == "" {
		return reject(domain.WebhookOutcomeValidationError, "Missing reference")
	}
	amount, err := conf.Amount()
	if err != nil || amount <= 0 {
		return reject(domain.WebhookOutcomeValidationError, "Invalid amount")
	}

	// Lookups err open: a transient store fault must not refuse real money
	// that settlement can still reconcile.
	session, err := r.sessionRepo.GetByReference(ctx, reference)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return r.internalError(entry, "session lookup", err)
	}
	if session != nil && session.PurchaseType == domain.PurchaseTypeSMSCredit {
		entry.CheckoutRequestID = session.CheckoutRequestID
		if math.Abs(amount-session.Amount) > amountEpsilon {
			return reject(domain.WebhookOutcomeAmountMismatch, "Amount mismatch")
		}
		return accepted(domain.WebhookOutcomeSuccess)
	}

	var voucher *domain.Voucher
	if session != nil && session.VoucherID != "" {
		entry.CheckoutRequestID = session.CheckoutRequestID
		voucher, err = r.voucherRepo.GetByID(ctx, session.VoucherID)
		if err != nil && !errors.Is(err, domain.ErrNotFound) {
			return r.internalError(entry, "voucher lookup", err)
		}
	}
	if voucher == nil {
		voucher, err = r.voucherRepo.GetByReference(ctx, reference)
		if errors.Is(err, domain.ErrNotFound) {
			return reject(domain.WebhookOutcomeVoucherNotFound, "Reference not recognized")
		}
		if err != nil {
			return r.internalError(entry, "voucher lookup", err)
		}
	}
	entry.VoucherID = voucher.ID

	if voucher.Status != domain.VoucherStatusActive || (voucher.Payment != nil && voucher.Payment.TransactionID != "") {
		return reject(domain.WebhookOutcomeFailed, "Reference not payable")
	}
	if math.Abs(amount-voucher.Price) > amountEpsilon {
		return reject(domain.WebhookOutcomeAmountMismatch, "Amount mismatch")
	}
	return accepted(domain.WebhookOutcomeSuccess)
}

// classifyLostRace re-reads a voucher whose conditional assignment did not
// match, to tell a redelivered receipt apart from a concurrent foreign one.
func (r *Reconciler) classifyLostRace(ctx context.Context, voucherID, receipt string, entry *domain.WebhookLog) WebhookResult {
	fresh, err := r.voucherRepo.GetByID(ctx, voucherID)
	if err != nil {
		return r.internalError(entry, "post-race voucher read", err)
	}
	if fresh.Payment != nil && fresh.Payment.TransactionID == receipt {
		log.Printf("[Reconciler] duplicate confirmation %s lost the write race for voucher %s", receipt, voucherID)
		return accepted(domain.WebhookOutcomeDuplicate)
	}
	log.Printf("[Reconciler] voucher %s settled concurrently by another receipt, rejecting %s", voucherID, receipt)
	return reject(domain.WebhookOutcomeFailed, "Reference already settled")
}

// payerIdentity picks the canonical payer key. The initiation ledger's raw
// phone wins; otherwise the confirmation's MSISDN is normalized and hashed
// here, or used as-delivered when the gateway already hashed it. Plaintext
// is only ever returned from the ledger.
func payerIdentity(session *domain.STKSession, msisdn string) (phoneHash, plainPhone string) {
	if session != nil && session.Phone != "" {
		return daraja.HashPhone(session.Phone), session.Phone
	}
	msisdn = strings.TrimSpace(msisdn)
	if msisdn == "" {
		return "", ""
	}
	if normalized, err := daraja.NormalizeMSISDN(msisdn); err == nil {
		return daraja.HashPhone(normalized), ""
	}
	if daraja.IsHashedMSISDN(msisdn) {
		return msisdn, ""
	}
	return daraja.HashPhone(msisdn), ""
}

func (r *Reconciler) appendLog(ctx context.Context, entry *domain.WebhookLog, res WebhookResult, start time.Time) {
	entry.Outcome = res.Outcome
	entry.ProcessingMs = time.Since(start).Milliseconds()
	if err := r.webhookLogRepo.Insert(ctx, entry); err != nil {
		log.Printf("[Reconciler] webhook log write failed: %v", err)
	}
}

func (r *Reconciler) internalError(entry *domain.WebhookLog, op string, err error) WebhookResult {
	entry.Error = err.Error()
	log.Printf("[Reconciler] %s failed: %v", op, err)
	return accepted(domain.WebhookOutcomeError)
}

func accepted(outcome string) WebhookResult {
	return WebhookResult{Outcome: outcome, Accept: true, Desc: "Accepted"}
}

func reject(outcome, desc string) WebhookResult {
	return WebhookResult{Outcome: outcome, Accept: false, Desc: desc}
}
