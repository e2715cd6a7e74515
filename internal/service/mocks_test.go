package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nurunet/nurubill/internal/domain"
)

// In-memory repository fakes. They reproduce the conditional-write semantics
// of the mongo implementations so the race and idempotency behavior under
// test is the real thing.

type memVoucherRepo struct {
	mu    sync.RWMutex
	store map[string]*domain.Voucher
	order []string // insertion order, for FIFO picks
	seq   int

	createErr error
	collideN  int        // next N CreateMany calls report a code collision
	attempts  [][]string // codes offered to each CreateMany call
	getErr    error
}

func newMemVoucherRepo() *memVoucherRepo {
	return &memVoucherRepo{store: make(map[string]*domain.Voucher)}
}

func cloneVoucher(v *domain.Voucher) *domain.Voucher {
	cp := *v
	if v.Payment != nil {
		p := *v.Payment
		cp.Payment = &p
	}
	if v.PurchaseExpiresAt != nil {
		t := *v.PurchaseExpiresAt
		cp.PurchaseExpiresAt = &t
	}
	if v.ActivatedAt != nil {
		t := *v.ActivatedAt
		cp.ActivatedAt = &t
	}
	if v.ExpectedEndAt != nil {
		t := *v.ExpectedEndAt
		cp.ExpectedEndAt = &t
	}
	return &cp
}

func (m *memVoucherRepo) CreateMany(ctx context.Context, vouchers []*domain.Voucher) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	codes := make([]string, len(vouchers))
	for i, v := range vouchers {
		codes[i] = v.Code
	}
	m.attempts = append(m.attempts, codes)

	if m.createErr != nil {
		return m.createErr
	}
	if m.collideN > 0 {
		m.collideN--
		return fmt.Errorf("voucher code or reference collision: %w", domain.ErrCodeCollision)
	}

	seen := make(map[string]bool)
	for _, v := range m.store {
		seen[v.Code] = true
		seen[v.Reference] = true
	}
	// validate the whole batch first; a collision inserts nothing
	for _, v := range vouchers {
		if seen[v.Code] || seen[v.Reference] {
			return fmt.Errorf("voucher code or reference collision: %w", domain.ErrCodeCollision)
		}
		seen[v.Code] = true
		seen[v.Reference] = true
	}

	now := time.Now().UTC()
	for _, v := range vouchers {
		m.seq++
		v.ID = fmt.Sprintf("v%d", m.seq)
		v.CreatedAt = now
		v.UpdatedAt = now
		m.store[v.ID] = cloneVoucher(v)
		m.order = append(m.order, v.ID)
	}
	return nil
}

func (m *memVoucherRepo) GetByID(ctx context.Context, id string) (*domain.Voucher, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.store[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return cloneVoucher(v), nil
}

func (m *memVoucherRepo) GetByReference(ctx context.Context, reference string) (*domain.Voucher, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, v := range m.store {
		if v.Reference == reference {
			return cloneVoucher(v), nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *memVoucherRepo) GetByCode(ctx context.Context, code string) (*domain.Voucher, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, v := range m.store {
		if v.Code == code {
			return cloneVoucher(v), nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *memVoucherRepo) FindAvailable(ctx context.Context, routerID, packageID string) (*domain.Voucher, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, id := range m.order {
		v := m.store[id]
		if v.RouterID == routerID && v.PackageID == packageID &&
			v.Status == domain.VoucherStatusActive && v.Payment == nil {
			return cloneVoucher(v), nil
		}
	}
	return nil, domain.ErrNoStock
}

func (m *memVoucherRepo) AssignPayment(ctx context.Context, id string, payment *domain.VoucherPayment, purchaseExpiresAt *time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.store[id]
	if !ok {
		return domain.ErrAlreadyPaid
	}
	// same guard as the mongo filter: still active, no payment recorded
	if v.Status != domain.VoucherStatusActive || (v.Payment != nil && v.Payment.TransactionID != "") {
		return domain.ErrAlreadyPaid
	}
	p := *payment
	v.Payment = &p
	v.Status = domain.VoucherStatusPaid
	if purchaseExpiresAt != nil {
		t := *purchaseExpiresAt
		v.PurchaseExpiresAt = &t
	}
	v.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *memVoucherRepo) MarkUsed(ctx context.Context, id string, activatedAt, expectedEndAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.store[id]
	if !ok || v.Status != domain.VoucherStatusPaid {
		return domain.ErrStateConflict
	}
	v.Status = domain.VoucherStatusUsed
	v.ActivatedAt = &activatedAt
	v.ExpectedEndAt = &expectedEndAt
	v.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *memVoucherRepo) ExpireOverduePaid(ctx context.Context, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, v := range m.store {
		if v.Status == domain.VoucherStatusPaid && v.PurchaseExpiresAt != nil && !v.PurchaseExpiresAt.After(now) {
			v.Status = domain.VoucherStatusExpired
			n++
		}
	}
	return n, nil
}

func (m *memVoucherRepo) ExpireOverdueUsed(ctx context.Context, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, v := range m.store {
		if v.Status == domain.VoucherStatusUsed && v.ExpectedEndAt != nil && !v.ExpectedEndAt.After(now) {
			v.Status = domain.VoucherStatusExpired
			n++
		}
	}
	return n, nil
}

func (m *memVoucherRepo) ListByAccount(ctx context.Context, accountID string, routerID, status string, limit int64) ([]*domain.Voucher, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*domain.Voucher
	for _, id := range m.order {
		v := m.store[id]
		if v.AccountID != accountID {
			continue
		}
		if routerID != "" && v.RouterID != routerID {
			continue
		}
		if status != "" && v.Status != status {
			continue
		}
		out = append(out, cloneVoucher(v))
	}
	return out, nil
}

func (m *memVoucherRepo) CountByStatus(ctx context.Context, routerID, packageID string) (map[string]int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	counts := make(map[string]int64)
	for _, v := range m.store {
		if v.RouterID != routerID {
			continue
		}
		if packageID != "" && v.PackageID != packageID {
			continue
		}
		counts[v.Status]++
	}
	return counts, nil
}

type memSessionRepo struct {
	mu        sync.RWMutex
	store     map[string]*domain.STKSession // by checkout request id
	seq       int
	createErr error
	getErr    error
}

func newMemSessionRepo() *memSessionRepo {
	return &memSessionRepo{store: make(map[string]*domain.STKSession)}
}

func (m *memSessionRepo) Create(ctx context.Context, session *domain.STKSession) error {
	if m.createErr != nil {
		return m.createErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	session.ID = fmt.Sprintf("s%d", m.seq)
	// tests may backdate CreatedAt to exercise timeout classification
	if session.CreatedAt.IsZero() {
		session.CreatedAt = time.Now().UTC()
	}
	session.UpdatedAt = session.CreatedAt
	cp := *session
	m.store[session.CheckoutRequestID] = &cp
	return nil
}

func (m *memSessionRepo) GetByCheckoutID(ctx context.Context, checkoutRequestID string) (*domain.STKSession, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.store[checkoutRequestID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (m *memSessionRepo) GetByReference(ctx context.Context, accountReference string) (*domain.STKSession, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var newest *domain.STKSession
	for _, s := range m.store {
		if s.AccountReference != accountReference {
			continue
		}
		if newest == nil || s.CreatedAt.After(newest.CreatedAt) {
			newest = s
		}
	}
	if newest == nil {
		return nil, domain.ErrNotFound
	}
	cp := *newest
	return &cp, nil
}

func (m *memSessionRepo) MarkPendingConfirmation(ctx context.Context, checkoutRequestID string, resultCode int, resultDesc, receipt string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.store[checkoutRequestID]
	if !ok || s.Status != domain.STKStatusPending {
		return domain.ErrStateConflict
	}
	s.Status = domain.STKStatusPendingConfirmation
	code := resultCode
	s.ResultCode = &code
	s.ResultDesc = resultDesc
	s.ReceiptNumber = receipt
	s.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *memSessionRepo) MarkFailed(ctx context.Context, checkoutRequestID string, resultCode int, resultDesc string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.store[checkoutRequestID]
	if !ok || s.Status != domain.STKStatusPending {
		return domain.ErrStateConflict
	}
	s.Status = domain.STKStatusFailed
	code := resultCode
	s.ResultCode = &code
	s.ResultDesc = resultDesc
	s.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *memSessionRepo) MarkCompleted(ctx context.Context, checkoutRequestID string, receipt string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.store[checkoutRequestID]
	if !ok || s.Status == domain.STKStatusCompleted {
		return domain.ErrStateConflict
	}
	now := time.Now().UTC()
	s.Status = domain.STKStatusCompleted
	s.ReceiptNumber = receipt
	s.CompletedAt = &now
	s.UpdatedAt = now
	return nil
}

func (m *memSessionRepo) FailStalePending(ctx context.Context, olderThan time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, s := range m.store {
		if s.Status == domain.STKStatusPending && s.CreatedAt.Before(olderThan) {
			s.Status = domain.STKStatusFailed
			s.ResultDesc = "no gateway result received"
			n++
		}
	}
	return n, nil
}

type memPaymentRepo struct {
	mu        sync.RWMutex
	store     []*domain.Payment
	seq       int
	upsertErr error
}

func newMemPaymentRepo() *memPaymentRepo {
	return &memPaymentRepo{}
}

func (m *memPaymentRepo) UpsertByCheckoutID(ctx context.Context, payment *domain.Payment) error {
	if m.upsertErr != nil {
		return m.upsertErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now().UTC()

	if payment.CheckoutRequestID == "" {
		// receipt-keyed counter payment, first writer wins
		for _, e := range m.store {
			if payment.MpesaReceipt != "" && e.MpesaReceipt == payment.MpesaReceipt {
				return nil
			}
		}
		cp := *payment
		m.seq++
		cp.ID = fmt.Sprintf("p%d", m.seq)
		cp.CreatedAt = now
		cp.UpdatedAt = now
		m.store = append(m.store, &cp)
		return nil
	}

	for _, e := range m.store {
		if e.CheckoutRequestID != payment.CheckoutRequestID {
			continue
		}
		// completed is terminal unless this write is itself the completion
		if e.Status == domain.PaymentStatusCompleted && payment.Status != domain.PaymentStatusCompleted {
			return nil
		}
		e.Status = payment.Status
		if payment.MpesaReceipt != "" {
			e.MpesaReceipt = payment.MpesaReceipt
		}
		if payment.VoucherID != "" {
			e.VoucherID = payment.VoucherID
		}
		if payment.RouterID != "" {
			e.RouterID = payment.RouterID
		}
		if payment.AccountID != "" {
			e.AccountID = payment.AccountID
		}
		if payment.PhoneHash != "" {
			e.PhoneHash = payment.PhoneHash
		}
		if payment.ResultCode != nil {
			code := *payment.ResultCode
			e.ResultCode = &code
		}
		if payment.ResultDesc != "" {
			e.ResultDesc = payment.ResultDesc
		}
		e.UpdatedAt = now
		return nil
	}

	cp := *payment
	m.seq++
	cp.ID = fmt.Sprintf("p%d", m.seq)
	cp.CreatedAt = now
	cp.UpdatedAt = now
	m.store = append(m.store, &cp)
	return nil
}

func (m *memPaymentRepo) GetByCheckoutID(ctx context.Context, checkoutRequestID string) (*domain.Payment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, e := range m.store {
		if e.CheckoutRequestID == checkoutRequestID {
			cp := *e
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *memPaymentRepo) GetByReceiptForAccount(ctx context.Context, receipt, accountID string) (*domain.Payment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, e := range m.store {
		if e.MpesaReceipt == receipt && e.AccountID == accountID {
			cp := *e
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *memPaymentRepo) CancelStalePending(ctx context.Context, olderThan time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, e := range m.store {
		if e.Status == domain.PaymentStatusPending && e.CreatedAt.Before(olderThan) {
			e.Status = domain.PaymentStatusCancelled
			e.ResultDesc = "no settlement received"
			n++
		}
	}
	return n, nil
}

type memTxRepo struct {
	mu        sync.RWMutex
	store     []*domain.Transaction
	seq       int
	createErr error
}

func newMemTxRepo() *memTxRepo {
	return &memTxRepo{}
}

func (m *memTxRepo) Create(ctx context.Context, tx *domain.Transaction) error {
	if m.createErr != nil {
		return m.createErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.store {
		if e.MpesaReceipt == tx.MpesaReceipt {
			return domain.ErrDuplicateReceipt
		}
	}
	m.seq++
	tx.ID = fmt.Sprintf("t%d", m.seq)
	tx.CreatedAt = time.Now().UTC()
	cp := *tx
	m.store = append(m.store, &cp)
	return nil
}

func (m *memTxRepo) ListByAccount(ctx context.Context, accountID string, from, to time.Time, limit int64) ([]*domain.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*domain.Transaction
	for _, e := range m.store {
		if e.AccountID != accountID {
			continue
		}
		if !from.IsZero() && e.CreatedAt.Before(from) {
			continue
		}
		if !to.IsZero() && e.CreatedAt.After(to) {
			continue
		}
		cp := *e
		out = append(out, &cp)
	}
	return out, nil
}

type memCustomerRepo struct {
	mu        sync.RWMutex
	store     map[string]*domain.WifiCustomer // by accountID + "/" + phoneHash
	upsertErr error
}

func newMemCustomerRepo() *memCustomerRepo {
	return &memCustomerRepo{store: make(map[string]*domain.WifiCustomer)}
}

func (m *memCustomerRepo) UpsertPurchase(ctx context.Context, accountID, phoneHash, phone string, amount float64, at time.Time) error {
	if m.upsertErr != nil {
		return m.upsertErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	key := accountID + "/" + phoneHash
	c, ok := m.store[key]
	if !ok {
		c = &domain.WifiCustomer{
			ID:        key,
			AccountID: accountID,
			PhoneHash: phoneHash,
			CreatedAt: at,
		}
		m.store[key] = c
	}
	c.TotalPurchases++
	c.TotalSpend += amount
	c.LastPurchaseAt = &at
	if phone != "" {
		c.Phone = phone
	}
	c.UpdatedAt = at
	return nil
}

func (m *memCustomerRepo) GetByPhoneHash(ctx context.Context, accountID, phoneHash string) (*domain.WifiCustomer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.store[accountID+"/"+phoneHash]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

type memAccountRepo struct {
	mu     sync.RWMutex
	store  map[string]*domain.Account
	incErr error
}

func newMemAccountRepo() *memAccountRepo {
	return &memAccountRepo{store: make(map[string]*domain.Account)}
}

func (m *memAccountRepo) Create(ctx context.Context, account *domain.Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if account.ID == "" {
		account.ID = fmt.Sprintf("a%d", len(m.store)+1)
	}
	cp := *account
	m.store[account.ID] = &cp
	return nil
}

func (m *memAccountRepo) GetByID(ctx context.Context, id string) (*domain.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.store[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *a
	if a.CommissionRate != nil {
		r := *a.CommissionRate
		cp.CommissionRate = &r
	}
	return &cp, nil
}

func (m *memAccountRepo) IncrementSMSCredits(ctx context.Context, id string, delta int64) error {
	if m.incErr != nil {
		return m.incErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.store[id]
	if !ok {
		return domain.ErrNotFound
	}
	a.SMSCredits += delta
	return nil
}

type memAuditRepo struct {
	mu    sync.RWMutex
	store []*domain.AuditLog
}

func newMemAuditRepo() *memAuditRepo {
	return &memAuditRepo{}
}

func (m *memAuditRepo) Insert(ctx context.Context, entry *domain.AuditLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *entry
	cp.ID = fmt.Sprintf("al%d", len(m.store)+1)
	cp.CreatedAt = time.Now().UTC()
	m.store = append(m.store, &cp)
	return nil
}

func (m *memAuditRepo) ListByAccount(ctx context.Context, accountID string, limit int64) ([]*domain.AuditLog, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*domain.AuditLog
	for _, e := range m.store {
		if e.AccountID == accountID {
			cp := *e
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *memAuditRepo) byAction(action string) []*domain.AuditLog {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*domain.AuditLog
	for _, e := range m.store {
		if e.Action == action {
			out = append(out, e)
		}
	}
	return out
}

type memWebhookLogRepo struct {
	mu    sync.RWMutex
	store []*domain.WebhookLog
}

func newMemWebhookLogRepo() *memWebhookLogRepo {
	return &memWebhookLogRepo{}
}

func (m *memWebhookLogRepo) Insert(ctx context.Context, entry *domain.WebhookLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *entry
	cp.ID = fmt.Sprintf("wl%d", len(m.store)+1)
	cp.CreatedAt = time.Now().UTC()
	m.store = append(m.store, &cp)
	return nil
}

func (m *memWebhookLogRepo) ListRecent(ctx context.Context, limit int64) ([]*domain.WebhookLog, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*domain.WebhookLog
	for i := len(m.store) - 1; i >= 0 && int64(len(out)) < limit; i-- {
		cp := *m.store[i]
		out = append(out, &cp)
	}
	return out, nil
}

func (m *memWebhookLogRepo) last() *domain.WebhookLog {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.store) == 0 {
		return nil
	}
	cp := *m.store[len(m.store)-1]
	return &cp
}

type memRouterRepo struct {
	mu    sync.RWMutex
	store map[string]*domain.Router
}

func newMemRouterRepo() *memRouterRepo {
	return &memRouterRepo{store: make(map[string]*domain.Router)}
}

func (m *memRouterRepo) Create(ctx context.Context, router *domain.Router) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if router.ID == "" {
		router.ID = fmt.Sprintf("r%d", len(m.store)+1)
	}
	cp := *router
	m.store[router.ID] = &cp
	return nil
}

func (m *memRouterRepo) GetByID(ctx context.Context, id string) (*domain.Router, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.store[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (m *memRouterRepo) ListByAccount(ctx context.Context, accountID string) ([]*domain.Router, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*domain.Router
	for _, r := range m.store {
		if r.AccountID == accountID {
			cp := *r
			out = append(out, &cp)
		}
	}
	return out, nil
}

type memPackageRepo struct {
	mu    sync.RWMutex
	store map[string]*domain.Package
}

func newMemPackageRepo() *memPackageRepo {
	return &memPackageRepo{store: make(map[string]*domain.Package)}
}

func (m *memPackageRepo) Create(ctx context.Context, pkg *domain.Package) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if pkg.ID == "" {
		pkg.ID = fmt.Sprintf("pkg%d", len(m.store)+1)
	}
	cp := *pkg
	m.store[pkg.ID] = &cp
	return nil
}

func (m *memPackageRepo) GetByID(ctx context.Context, id string) (*domain.Package, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.store[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *memPackageRepo) GetActiveByRouter(ctx context.Context, accountID, routerID string) ([]*domain.Package, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*domain.Package
	for _, p := range m.store {
		if p.AccountID != accountID || !p.IsActive {
			continue
		}
		if p.RouterID != "" && p.RouterID != routerID {
			continue
		}
		cp := *p
		out = append(out, &cp)
	}
	return out, nil
}

func (m *memPackageRepo) ListByAccount(ctx context.Context, accountID string) ([]*domain.Package, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*domain.Package
	for _, p := range m.store {
		if p.AccountID == accountID {
			cp := *p
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *memPackageRepo) Update(ctx context.Context, pkg *domain.Package) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.store[pkg.ID]; !ok {
		return domain.ErrNotFound
	}
	cp := *pkg
	m.store[pkg.ID] = &cp
	return nil
}

type memSettingsRepo struct {
	mu       sync.RWMutex
	settings *domain.PlatformSettings
}

func newMemSettingsRepo() *memSettingsRepo {
	return &memSettingsRepo{}
}

func (m *memSettingsRepo) Get(ctx context.Context) (*domain.PlatformSettings, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.settings == nil {
		return nil, domain.ErrNotFound
	}
	cp := *m.settings
	return &cp, nil
}

func (m *memSettingsRepo) Upsert(ctx context.Context, settings *domain.PlatformSettings) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *settings
	m.settings = &cp
	return nil
}

// fakeGateway records pushes and hands back scripted checkout ids.
type fakeGateway struct {
	mu      sync.Mutex
	pushes  []pushCall
	pushErr error
	seq     int
}

type pushCall struct {
	Phone     string
	Amount    float64
	Reference string
	Desc      string
}

func (g *fakeGateway) Push(ctx context.Context, phone string, amount float64, accountReference, description string) (*STKPushResult, error) {
	if g.pushErr != nil {
		return nil, g.pushErr
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.seq++
	g.pushes = append(g.pushes, pushCall{Phone: phone, Amount: amount, Reference: accountReference, Desc: description})
	return &STKPushResult{
		MerchantRequestID: fmt.Sprintf("mr-%d", g.seq),
		CheckoutRequestID: fmt.Sprintf("ws_CO_%d", g.seq),
		CustomerMessage:   "Success. Request accepted for processing",
	}, nil
}

// fakeExportStore captures uploads in memory.
type fakeExportStore struct {
	mu        sync.Mutex
	uploads   map[string][]byte
	uploadErr error
}

func newFakeExportStore() *fakeExportStore {
	return &fakeExportStore{uploads: make(map[string][]byte)}
}

func (s *fakeExportStore) Upload(ctx context.Context, data []byte, key string, contentType string) (string, error) {
	if s.uploadErr != nil {
		return "", s.uploadErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.uploads[key] = data
	return "https://exports.test/" + key, nil
}

// fixedCommission resolves every account to one rate.
type fixedCommission float64

func (f fixedCommission) Rate(ctx context.Context, accountID string) float64 {
	return float64(f)
}

// testWorld wires a full reconciler over fresh fakes.
type testWorld struct {
	vouchers  *memVoucherRepo
	sessions  *memSessionRepo
	payments  *memPaymentRepo
	txs       *memTxRepo
	customers *memCustomerRepo
	accounts  *memAccountRepo
	audits    *memAuditRepo
	logs      *memWebhookLogRepo
	routers   *memRouterRepo
	packages  *memPackageRepo
	settings  *memSettingsRepo
}

func newTestWorld() *testWorld {
	return &testWorld{
		vouchers:  newMemVoucherRepo(),
		sessions:  newMemSessionRepo(),
		payments:  newMemPaymentRepo(),
		txs:       newMemTxRepo(),
		customers: newMemCustomerRepo(),
		accounts:  newMemAccountRepo(),
		audits:    newMemAuditRepo(),
		logs:      newMemWebhookLogRepo(),
		routers:   newMemRouterRepo(),
		packages:  newMemPackageRepo(),
		settings:  newMemSettingsRepo(),
	}
}

func (w *testWorld) reconciler(rate float64) *Reconciler {
	return NewReconciler(
		w.vouchers, w.sessions, w.payments, w.txs,
		w.customers, w.accounts, w.audits, w.logs,
		fixedCommission(rate),
	)
}
