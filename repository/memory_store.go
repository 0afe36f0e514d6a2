package repository

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/yashrajoria/payment-engine/models"
)

// MemoryStore is an in-process Store used for local runs and tests.
// Transactions are serialized and roll back by restoring a snapshot taken
// when the transaction began. Calls made outside a transaction wait for the
// running one to finish, so they never see or lose uncommitted rows. A
// nested RunInTx joins the enclosing transaction.
type MemoryStore struct {
	*memState
	inTx bool
}

type memState struct {
	txMu sync.RWMutex
	mu   sync.Mutex
	data *memData
}

type memData struct {
	orders          map[uuid.UUID]models.Order
	items           map[uuid.UUID][]models.OrderItem
	links           map[uuid.UUID]models.OrderPaymentLink
	intents         map[uuid.UUID]models.PaymentIntent
	intentSeq       map[uuid.UUID]int64
	seq             int64
	transactions    []models.TransactionRecord
	refunds         map[uuid.UUID]models.RefundRequest
	records         []models.CommissionRecord
	summaries       []models.CommissionSummary
	tiers           map[uuid.UUID]string
	closures        []models.ReferralClosure
	jobs            map[uuid.UUID]models.CommissionJob
	invoices        map[uuid.UUID]models.Invoice
	invoicePayments []models.InvoicePayment
	cart            []models.CartItem
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{memState: &memState{data: &memData{
		orders:    make(map[uuid.UUID]models.Order),
		items:     make(map[uuid.UUID][]models.OrderItem),
		links:     make(map[uuid.UUID]models.OrderPaymentLink),
		intents:   make(map[uuid.UUID]models.PaymentIntent),
		intentSeq: make(map[uuid.UUID]int64),
		refunds:   make(map[uuid.UUID]models.RefundRequest),
		tiers:     make(map[uuid.UUID]string),
		jobs:      make(map[uuid.UUID]models.CommissionJob),
		invoices:  make(map[uuid.UUID]models.Invoice),
	}}}
}

func (d *memData) clone() *memData {
	c := &memData{
		orders:          make(map[uuid.UUID]models.Order, len(d.orders)),
		items:           make(map[uuid.UUID][]models.OrderItem, len(d.items)),
		links:           make(map[uuid.UUID]models.OrderPaymentLink, len(d.links)),
		intents:         make(map[uuid.UUID]models.PaymentIntent, len(d.intents)),
		intentSeq:       make(map[uuid.UUID]int64, len(d.intentSeq)),
		seq:             d.seq,
		transactions:    append([]models.TransactionRecord(nil), d.transactions...),
		refunds:         make(map[uuid.UUID]models.RefundRequest, len(d.refunds)),
		records:         append([]models.CommissionRecord(nil), d.records...),
		summaries:       append([]models.CommissionSummary(nil), d.summaries...),
		tiers:           make(map[uuid.UUID]string, len(d.tiers)),
		closures:        append([]models.ReferralClosure(nil), d.closures...),
		jobs:            make(map[uuid.UUID]models.CommissionJob, len(d.jobs)),
		invoices:        make(map[uuid.UUID]models.Invoice, len(d.invoices)),
		invoicePayments: append([]models.InvoicePayment(nil), d.invoicePayments...),
		cart:            append([]models.CartItem(nil), d.cart...),
	}
	for k, v := range d.orders {
		c.orders[k] = v
	}
	for k, v := range d.items {
		c.items[k] = append([]models.OrderItem(nil), v...)
	}
	for k, v := range d.links {
		c.links[k] = v
	}
	for k, v := range d.intents {
		c.intents[k] = v
	}
	for k, v := range d.intentSeq {
		c.intentSeq[k] = v
	}
	for k, v := range d.refunds {
		c.refunds[k] = v
	}
	for k, v := range d.tiers {
		c.tiers[k] = v
	}
	for k, v := range d.jobs {
		c.jobs[k] = v
	}
	for k, v := range d.invoices {
		c.invoices[k] = v
	}
	return c
}

func (s *MemoryStore) RunInTx(ctx context.Context, fn func(uow UnitOfWork) error) (err error) {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.inTx {
		return fn(s)
	}
	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.Lock()
	snapshot := s.data.clone()
	s.mu.Unlock()

	rollback := func() {
		s.mu.Lock()
		s.data = snapshot
		s.mu.Unlock()
	}
	defer func() {
		if r := recover(); r != nil {
			rollback()
			panic(r)
		}
	}()

	if err = fn(&MemoryStore{memState: s.memState, inTx: true}); err != nil {
		rollback()
	}
	return err
}

func (s *MemoryStore) Orders() OrderRepository { return (*memOrders)(s) }
func (s *MemoryStore) PaymentLinks() PaymentLinkRepository { return (*memLinks)(s) }
func (s *MemoryStore) Intents() PaymentIntentRepository { return (*memIntents)(s) }
func (s *MemoryStore) Transactions() TransactionRepository { return (*memTransactions)(s) }
func (s *MemoryStore) Refunds() RefundRepository { return (*memRefunds)(s) }
func (s *MemoryStore) Commissions() CommissionRepository { return (*memCommissions)(s) }
func (s *MemoryStore) Referrals() ReferralRepository { return (*memReferrals)(s) }
func (s *MemoryStore) Jobs() JobRepository { return (*memJobs)(s) }
func (s *MemoryStore) Invoices() InvoiceRepository { return (*memInvoices)(s) }
func (s *MemoryStore) Carts() CartRepository { return (*memCarts)(s) }

// SeedOrder stores an order with its items and payment link.
func (s *MemoryStore) SeedOrder(order models.Order, items []models.OrderItem, link *models.OrderPaymentLink) {
	defer s.lock()()
	order.Items = nil
	s.data.orders[order.ID] = order
	s.data.items[order.ID] = append([]models.OrderItem(nil), items...)
	if link != nil {
		s.data.links[link.OrderID] = *link
	}
}

// SeedReferral records that ancestorID sits depth levels above descendantID.
func (s *MemoryStore) SeedReferral(ancestorID, descendantID uuid.UUID, depth int) {
	defer s.lock()()
	s.data.closures = append(s.data.closures, models.ReferralClosure{
		AncestorID:   ancestorID,
		DescendantID: descendantID,
		Depth:        depth,
	})
}

func (s *MemoryStore) SeedCategoryTier(categoryID uuid.UUID, tier string) {
	defer s.lock()()
	s.data.tiers[categoryID] = tier
}

func (s *MemoryStore) SeedCartItem(item models.CartItem) {
	defer s.lock()()
	if item.ID == uuid.Nil {
		item.ID = uuid.New()
	}
	s.data.cart = append(s.data.cart, item)
}

// CartItems returns the cart lines of a customer.
func (s *MemoryStore) CartItems(customerID uuid.UUID) []models.CartItem {
	defer s.lock()()
	var out []models.CartItem
	for _, it := range s.data.cart {
		if it.CustomerID == customerID {
			out = append(out, it)
		}
	}
	return out
}

// InvoicePayments returns the invoice payment mirrors written for an intent.
func (s *MemoryStore) InvoicePayments(intentID uuid.UUID) []models.InvoicePayment {
	defer s.lock()()
	var out []models.InvoicePayment
	for _, p := range s.data.invoicePayments {
		if p.PaymentIntentID == intentID {
			out = append(out, p)
		}
	}
	return out
}

// lock guards one repository call. Outside a transaction it also holds
// txMu for reading until the call returns.
func (s *MemoryStore) lock() func() {
	if s.inTx {
		s.mu.Lock()
		return s.mu.Unlock
	}
	s.txMu.RLock()
	s.mu.Lock()
	return func() {
		s.mu.Unlock()
		s.txMu.RUnlock()
	}
}

type memOrders MemoryStore

func (r *memOrders) FindByID(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	defer (*MemoryStore)(r).lock()()
	o, ok := r.data.orders[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &o, nil
}

func (r *memOrders) FindByCode(ctx context.Context, code string) (*models.Order, error) {
	defer (*MemoryStore)(r).lock()()
	for _, o := range r.data.orders {
		if strings.EqualFold(o.Code, code) {
			o := o
			return &o, nil
		}
	}
	return nil, ErrNotFound
}

func (r *memOrders) FindItems(ctx context.Context, orderID uuid.UUID) ([]models.OrderItem, error) {
	defer (*MemoryStore)(r).lock()()
	return append([]models.OrderItem(nil), r.data.items[orderID]...), nil
}

func (r *memOrders) Save(ctx context.Context, order *models.Order) error {
	defer (*MemoryStore)(r).lock()()
	o := *order
	o.Items = nil
	o.UpdatedAt = time.Now()
	r.data.orders[o.ID] = o
	return nil
}

type memLinks MemoryStore

func (r *memLinks) FindByOrderID(ctx context.Context, orderID uuid.UUID) (*models.OrderPaymentLink, error) {
	defer (*MemoryStore)(r).lock()()
	l, ok := r.data.links[orderID]
	if !ok {
		return nil, ErrNotFound
	}
	return &l, nil
}

func (r *memLinks) Save(ctx context.Context, link *models.OrderPaymentLink) error {
	defer (*MemoryStore)(r).lock()()
	if link.ID == uuid.Nil {
		link.ID = uuid.New()
	}
	link.UpdatedAt = time.Now()
	r.data.links[link.OrderID] = *link
	return nil
}

type memIntents MemoryStore

func (r *memIntents) Create(ctx context.Context, intent *models.PaymentIntent) error {
	defer (*MemoryStore)(r).lock()()
	if intent.ID == uuid.Nil {
		intent.ID = uuid.New()
	}
	for _, existing := range r.data.intents {
		if existing.OrderID != intent.OrderID {
			continue
		}
		if existing.Provider == intent.Provider && existing.Status.Live() && intent.Status.Live() {
			return ErrDuplicatedKey
		}
		if intent.IdempotencyKey != nil && existing.IdempotencyKey != nil && *existing.IdempotencyKey == *intent.IdempotencyKey {
			return ErrDuplicatedKey
		}
	}
	now := time.Now()
	if intent.CreatedAt.IsZero() {
		intent.CreatedAt = now
	}
	intent.UpdatedAt = now
	r.data.seq++
	r.data.intentSeq[intent.ID] = r.data.seq
	r.data.intents[intent.ID] = *intent
	return nil
}

func (r *memIntents) FindByID(ctx context.Context, id uuid.UUID) (*models.PaymentIntent, error) {
	defer (*MemoryStore)(r).lock()()
	p, ok := r.data.intents[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &p, nil
}

func (r *memIntents) FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*models.PaymentIntent, error) {
	return r.FindByID(ctx, id)
}

func (r *memIntents) FindByIdempotencyKey(ctx context.Context, orderID uuid.UUID, key string) (*models.PaymentIntent, error) {
	defer (*MemoryStore)(r).lock()()
	for _, p := range r.data.intents {
		if p.OrderID == orderID && p.IdempotencyKey != nil && *p.IdempotencyKey == key {
			p := p
			return &p, nil
		}
	}
	return nil, ErrNotFound
}

func (r *memIntents) FindLatest(ctx context.Context, orderID uuid.UUID, provider models.Provider, statuses ...models.PaymentStatus) (*models.PaymentIntent, error) {
	defer (*MemoryStore)(r).lock()()
	var best *models.PaymentIntent
	var bestSeq int64
	for _, p := range r.data.intents {
		if p.OrderID != orderID || p.Provider != provider || !containsPaymentStatus(statuses, p.Status) {
			continue
		}
		if seq := r.data.intentSeq[p.ID]; best == nil || seq > bestSeq {
			p := p
			best, bestSeq = &p, seq
		}
	}
	if best == nil {
		return nil, ErrNotFound
	}
	return best, nil
}

func (r *memIntents) ListExpired(ctx context.Context, now time.Time, limit int) ([]models.PaymentIntent, error) {
	defer (*MemoryStore)(r).lock()()
	var out []models.PaymentIntent
	for _, p := range r.data.intents {
		if p.Status == models.PaymentStatusPending && p.ExpiresAt != nil && !p.ExpiresAt.After(now) {
			out = append(out, p)
		}
	}
	return limitIntents(sortByExpiry(out), limit), nil
}

func (r *memIntents) ListExpiringBetween(ctx context.Context, from, to time.Time, limit int) ([]models.PaymentIntent, error) {
	defer (*MemoryStore)(r).lock()()
	var out []models.PaymentIntent
	for _, p := range r.data.intents {
		if p.Status == models.PaymentStatusPending && p.ExpiresAt != nil && p.ExpiresAt.After(from) && !p.ExpiresAt.After(to) {
			out = append(out, p)
		}
	}
	return limitIntents(sortByExpiry(out), limit), nil
}

func (r *memIntents) Transition(ctx context.Context, intent *models.PaymentIntent, from ...models.PaymentStatus) (bool, error) {
	defer (*MemoryStore)(r).lock()()
	stored, ok := r.data.intents[intent.ID]
	if !ok || !containsPaymentStatus(from, stored.Status) {
		return false, nil
	}
	intent.CreatedAt = stored.CreatedAt
	intent.UpdatedAt = time.Now()
	r.data.intents[intent.ID] = *intent
	return true, nil
}

func containsPaymentStatus(list []models.PaymentStatus, s models.PaymentStatus) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func sortByExpiry(list []models.PaymentIntent) []models.PaymentIntent {
	sort.Slice(list, func(i, j int) bool { return list[i].ExpiresAt.Before(*list[j].ExpiresAt) })
	return list
}

func limitIntents(list []models.PaymentIntent, limit int) []models.PaymentIntent {
	if limit > 0 && len(list) > limit {
		return list[:limit]
	}
	return list
}

type memTransactions MemoryStore

func (r *memTransactions) Append(ctx context.Context, record *models.TransactionRecord) error {
	defer (*MemoryStore)(r).lock()()
	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now()
	}
	r.data.transactions = append(r.data.transactions, *record)
	return nil
}

func (r *memTransactions) ListByIntent(ctx context.Context, intentID uuid.UUID) ([]models.TransactionRecord, error) {
	defer (*MemoryStore)(r).lock()()
	var out []models.TransactionRecord
	for _, t := range r.data.transactions {
		if t.PaymentIntentID == intentID {
			out = append(out, t)
		}
	}
	return out, nil
}

type memRefunds MemoryStore

func (r *memRefunds) Create(ctx context.Context, refund *models.RefundRequest) error {
	defer (*MemoryStore)(r).lock()()
	if refund.ID == uuid.Nil {
		refund.ID = uuid.New()
	}
	now := time.Now()
	if refund.CreatedAt.IsZero() {
		refund.CreatedAt = now
	}
	refund.UpdatedAt = now
	r.data.refunds[refund.ID] = *refund
	return nil
}

func (r *memRefunds) FindByID(ctx context.Context, id uuid.UUID) (*models.RefundRequest, error) {
	defer (*MemoryStore)(r).lock()()
	rf, ok := r.data.refunds[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &rf, nil
}

func (r *memRefunds) FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*models.RefundRequest, error) {
	return r.FindByID(ctx, id)
}

func (r *memRefunds) ListByIntent(ctx context.Context, intentID uuid.UUID) ([]models.RefundRequest, error) {
	defer (*MemoryStore)(r).lock()()
	var out []models.RefundRequest
	for _, rf := range r.data.refunds {
		if rf.PaymentIntentID == intentID {
			out = append(out, rf)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r *memRefunds) SumByStatus(ctx context.Context, intentID uuid.UUID, statuses ...models.RefundStatus) (int64, error) {
	defer (*MemoryStore)(r).lock()()
	var total int64
	for _, rf := range r.data.refunds {
		if rf.PaymentIntentID != intentID {
			continue
		}
		for _, s := range statuses {
			if rf.Status == s {
				total += rf.Amount
				break
			}
		}
	}
	return total, nil
}

func (r *memRefunds) Transition(ctx context.Context, refund *models.RefundRequest, from ...models.RefundStatus) (bool, error) {
	defer (*MemoryStore)(r).lock()()
	stored, ok := r.data.refunds[refund.ID]
	if !ok {
		return false, nil
	}
	allowed := false
	for _, s := range from {
		if stored.Status == s {
			allowed = true
			break
		}
	}
	if !allowed {
		return false, nil
	}
	refund.CreatedAt = stored.CreatedAt
	refund.UpdatedAt = time.Now()
	r.data.refunds[refund.ID] = *refund
	return true, nil
}

type memCommissions MemoryStore

func (r *memCommissions) CreateRecords(ctx context.Context, records []models.CommissionRecord) error {
	defer (*MemoryStore)(r).lock()()
	for i := range records {
		for _, existing := range r.data.records {
			if existing.OrderItemID == records[i].OrderItemID && existing.Tier == records[i].Tier {
				return ErrDuplicatedKey
			}
		}
		if records[i].ID == uuid.Nil {
			records[i].ID = uuid.New()
		}
		r.data.records = append(r.data.records, records[i])
	}
	return nil
}

func (r *memCommissions) CreateSummaries(ctx context.Context, summaries []models.CommissionSummary) error {
	defer (*MemoryStore)(r).lock()()
	for i := range summaries {
		if summaries[i].ID == uuid.Nil {
			summaries[i].ID = uuid.New()
		}
		r.data.summaries = append(r.data.summaries, summaries[i])
	}
	return nil
}

func (r *memCommissions) ListRecords(ctx context.Context, orderID uuid.UUID) ([]models.CommissionRecord, error) {
	defer (*MemoryStore)(r).lock()()
	var out []models.CommissionRecord
	for _, rec := range r.data.records {
		if rec.OrderID == orderID {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (r *memCommissions) ListSummaries(ctx context.Context, orderID uuid.UUID) ([]models.CommissionSummary, error) {
	defer (*MemoryStore)(r).lock()()
	var out []models.CommissionSummary
	for _, sum := range r.data.summaries {
		if sum.OrderID == orderID {
			out = append(out, sum)
		}
	}
	return out, nil
}

func (r *memCommissions) CategoryTiers(ctx context.Context, categoryIDs []uuid.UUID) (map[uuid.UUID]string, error) {
	defer (*MemoryStore)(r).lock()()
	out := make(map[uuid.UUID]string, len(categoryIDs))
	for _, id := range categoryIDs {
		if tier, ok := r.data.tiers[id]; ok {
			out[id] = tier
		}
	}
	return out, nil
}

type memReferrals MemoryStore

func (r *memReferrals) Ancestors(ctx context.Context, descendantID uuid.UUID, maxDepth int) ([]models.ReferralClosure, error) {
	defer (*MemoryStore)(r).lock()()
	var out []models.ReferralClosure
	for _, c := range r.data.closures {
		if c.DescendantID == descendantID && c.Depth >= 1 && c.Depth <= maxDepth {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Depth < out[j].Depth })
	return out, nil
}

type memJobs MemoryStore

func (r *memJobs) Enqueue(ctx context.Context, job *models.CommissionJob) error {
	defer (*MemoryStore)(r).lock()()
	for _, existing := range r.data.jobs {
		if existing.Kind == job.Kind && existing.OrderID == job.OrderID {
			return nil
		}
	}
	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}
	now := time.Now()
	job.CreatedAt, job.UpdatedAt = now, now
	r.data.jobs[job.ID] = *job
	return nil
}

func (r *memJobs) FindByID(ctx context.Context, id uuid.UUID) (*models.CommissionJob, error) {
	defer (*MemoryStore)(r).lock()()
	j, ok := r.data.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &j, nil
}

func (r *memJobs) ListDue(ctx context.Context, now time.Time, limit int) ([]models.CommissionJob, error) {
	defer (*MemoryStore)(r).lock()()
	var out []models.CommissionJob
	for _, j := range r.data.jobs {
		if j.Status == models.JobStatusPending && !j.NextAttemptAt.After(now) {
			out = append(out, j)
		}
	}
	sort.Slice(out, func(i, k int) bool { return out[i].NextAttemptAt.Before(out[k].NextAttemptAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *memJobs) ListByStatus(ctx context.Context, status models.JobStatus, limit int) ([]models.CommissionJob, error) {
	defer (*MemoryStore)(r).lock()()
	var out []models.CommissionJob
	for _, j := range r.data.jobs {
		if j.Status == status {
			out = append(out, j)
		}
	}
	sort.Slice(out, func(i, k int) bool { return out[i].UpdatedAt.After(out[k].UpdatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *memJobs) Claim(ctx context.Context, id uuid.UUID, now time.Time) (bool, error) {
	defer (*MemoryStore)(r).lock()()
	j, ok := r.data.jobs[id]
	if !ok || j.Status != models.JobStatusPending || j.NextAttemptAt.After(now) {
		return false, nil
	}
	j.Status = models.JobStatusInFlight
	j.LockedAt = &now
	j.UpdatedAt = now
	r.data.jobs[id] = j
	return true, nil
}

func (r *memJobs) Save(ctx context.Context, job *models.CommissionJob) error {
	defer (*MemoryStore)(r).lock()()
	job.UpdatedAt = time.Now()
	r.data.jobs[job.ID] = *job
	return nil
}

func (r *memJobs) RequeueStale(ctx context.Context, cutoff time.Time) (int64, error) {
	defer (*MemoryStore)(r).lock()()
	var n int64
	for id, j := range r.data.jobs {
		if j.Status == models.JobStatusInFlight && j.LockedAt != nil && j.LockedAt.Before(cutoff) {
			j.Status = models.JobStatusPending
			j.LockedAt = nil
			j.UpdatedAt = time.Now()
			r.data.jobs[id] = j
			n++
		}
	}
	return n, nil
}

type memInvoices MemoryStore

func (r *memInvoices) ExistsForOrder(ctx context.Context, orderID uuid.UUID) (bool, error) {
	defer (*MemoryStore)(r).lock()()
	_, ok := r.data.invoices[orderID]
	return ok, nil
}

func (r *memInvoices) Create(ctx context.Context, invoice *models.Invoice, payment *models.InvoicePayment) error {
	defer (*MemoryStore)(r).lock()()
	if _, ok := r.data.invoices[invoice.OrderID]; ok {
		return ErrDuplicatedKey
	}
	if invoice.ID == uuid.Nil {
		invoice.ID = uuid.New()
	}
	if payment.ID == uuid.Nil {
		payment.ID = uuid.New()
	}
	payment.InvoiceID = invoice.ID
	r.data.invoices[invoice.OrderID] = *invoice
	r.data.invoicePayments = append(r.data.invoicePayments, *payment)
	return nil
}

type memCarts MemoryStore

func (r *memCarts) RemoveItems(ctx context.Context, customerID uuid.UUID, productIDs []uuid.UUID) (int64, error) {
	defer (*MemoryStore)(r).lock()()
	remove := make(map[uuid.UUID]bool, len(productIDs))
	for _, id := range productIDs {
		remove[id] = true
	}
	kept := r.data.cart[:0:0]
	var n int64
	for _, it := range r.data.cart {
		if it.CustomerID == customerID && remove[it.ProductID] {
			n++
			continue
		}
		kept = append(kept, it)
	}
	r.data.cart = kept
	return n, nil
}
