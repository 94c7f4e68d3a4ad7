package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vesture-shop/api/internal/domain"
	"github.com/vesture-shop/api/internal/pricing"
	"github.com/vesture-shop/api/internal/repositories"
)

// CheckoutStep identifies a stage of the checkout flow.
type CheckoutStep string

const (
	CheckoutStepReview            CheckoutStep = "review"
	CheckoutStepAddress           CheckoutStep = "address"
	CheckoutStepPaymentMethod     CheckoutStep = "paymentMethod"
	CheckoutStepReviewOrder       CheckoutStep = "reviewOrder"
	CheckoutStepProcessingPayment CheckoutStep = "processingPayment"
	CheckoutStepSuccess           CheckoutStep = "success"
	CheckoutStepFailed            CheckoutStep = "failed"
	CheckoutStepCancelled         CheckoutStep = "cancelled"
)

// IsTerminal reports whether the step ends the checkout flow.
func (s CheckoutStep) IsTerminal() bool {
	switch s {
	case CheckoutStepSuccess, CheckoutStepFailed, CheckoutStepCancelled:
		return true
	}
	return false
}

var (
	// ErrCheckoutNotFound indicates an unknown checkout session.
	ErrCheckoutNotFound = errors.New("checkout: session not found")
	// ErrCheckoutInvalidStep indicates the operation is not valid for the
	// session's current step.
	ErrCheckoutInvalidStep = errors.New("checkout: invalid step")
	// ErrCheckoutInvalidInput signals missing or malformed checkout data.
	ErrCheckoutInvalidInput = errors.New("checkout: invalid input")
)

const (
	failureReasonPaymentDeclined = "payment declined by gateway"
	failureReasonWindowExpired   = "payment window expired"

	defaultPaymentWindow     = 10 * time.Minute
	defaultReconcileInterval = 2 * time.Second
)

// BeginCheckoutCommand opens a new checkout session over a set of items.
type BeginCheckoutCommand struct {
	UserID   string
	Items    []OrderItemInput
	Customer domain.CustomerInfo
}

// CheckoutSession is an immutable snapshot of a session's state.
type CheckoutSession struct {
	ID              string
	UserID          string
	Step            CheckoutStep
	Items           []OrderItemInput
	Customer        domain.CustomerInfo
	Address         domain.Address
	PaymentMethod   domain.PaymentMethod
	CouponCode      string
	CouponNotice    string
	Totals          domain.OrderTotals
	OrderID         string
	FailureReason   string
	PaymentAttempts int
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

type checkoutSession struct {
	CheckoutSession
	timer *time.Timer
}

type paymentOutcome struct {
	orderID   string
	success   bool
	reason    string
	queuedAt  time.Time
	paymentID string
}

// CheckoutServiceDeps bundles collaborators for the checkout service.
type CheckoutServiceDeps struct {
	Orders            OrderService
	Catalog           repositories.CatalogProvider
	Pricing           *pricing.Engine
	PaymentWindow     time.Duration
	ReconcileInterval time.Duration
	Clock             func() time.Time
	IDGenerator       func() string
	Logger            func(ctx context.Context, event string, fields map[string]any)
}

// CheckoutService walks customers through the step machine and places the
// order when checkout enters payment processing.
type CheckoutService struct {
	orders        OrderService
	catalog       repositories.CatalogProvider
	pricing       *pricing.Engine
	paymentWindow time.Duration
	clock         func() time.Time
	newID         func() string
	logger        func(context.Context, string, map[string]any)

	mu       sync.Mutex
	sessions map[string]*checkoutSession
	byOrder  map[string]string
	pending  []paymentOutcome

	reconcileStop chan struct{}
	closeOnce     sync.Once
}

// NewCheckoutService wires dependencies and starts the reconciliation loop.
func NewCheckoutService(deps CheckoutServiceDeps) (*CheckoutService, error) {
	if deps.Orders == nil {
		return nil, errors.New("checkout service: order service is required")
	}
	if deps.Catalog == nil {
		return nil, errors.New("checkout service: catalog provider is required")
	}
	if deps.Pricing == nil {
		return nil, errors.New("checkout service: pricing engine is required")
	}

	window := deps.PaymentWindow
	if window <= 0 {
		window = defaultPaymentWindow
	}
	interval := deps.ReconcileInterval
	if interval <= 0 {
		interval = defaultReconcileInterval
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string {
			return "chk_" + uuid.NewString()
		}
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	s := &CheckoutService{
		orders:        deps.Orders,
		catalog:       deps.Catalog,
		pricing:       deps.Pricing,
		paymentWindow: window,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:         idGen,
		logger:        logger,
		sessions:      make(map[string]*checkoutSession),
		byOrder:       make(map[string]string),
		reconcileStop: make(chan struct{}),
	}
	go s.reconcileLoop(interval)
	return s, nil
}

// Close stops the reconciliation loop and all pending payment timers.
func (s *CheckoutService) Close() {
	s.closeOnce.Do(func() {
		close(s.reconcileStop)
		s.mu.Lock()
		defer s.mu.Unlock()
		for _, session := range s.sessions {
			stopTimerLocked(session)
		}
	})
}

// Begin opens a session at the review step with a quote over the items.
func (s *CheckoutService) Begin(ctx context.Context, cmd BeginCheckoutCommand) (CheckoutSession, error) {
	if strings.TrimSpace(cmd.UserID) == "" {
		return CheckoutSession{}, fmt.Errorf("%w: user id is required", ErrCheckoutInvalidInput)
	}
	if len(cmd.Items) == 0 {
		return CheckoutSession{}, fmt.Errorf("%w: at least one item is required", ErrCheckoutInvalidInput)
	}
	for _, item := range cmd.Items {
		if strings.TrimSpace(item.ProductID) == "" || item.Quantity <= 0 {
			return CheckoutSession{}, fmt.Errorf("%w: each item needs a product id and a positive quantity", ErrCheckoutInvalidInput)
		}
	}

	totals, _, err := s.quote(ctx, cmd.Items, "")
	if err != nil {
		return CheckoutSession{}, err
	}

	now := s.clock()
	session := &checkoutSession{
		CheckoutSession: CheckoutSession{
			ID:        s.newID(),
			UserID:    strings.TrimSpace(cmd.UserID),
			Step:      CheckoutStepReview,
			Items:     append([]OrderItemInput(nil), cmd.Items...),
			Customer:  cmd.Customer,
			Totals:    totals,
			CreatedAt: now,
			UpdatedAt: now,
		},
	}

	s.mu.Lock()
	s.sessions[session.ID] = session
	s.mu.Unlock()

	s.logger(ctx, "checkout.session.started", map[string]any{
		"sessionId": session.ID,
		"userId":    session.UserID,
	})
	return session.snapshot(), nil
}

// Get returns a snapshot of the session.
func (s *CheckoutService) Get(_ context.Context, sessionID string) (CheckoutSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[sessionID]
	if !ok {
		return CheckoutSession{}, ErrCheckoutNotFound
	}
	return session.snapshot(), nil
}

// SetAddress records the shipping address. Allowed on any pre-payment step.
func (s *CheckoutService) SetAddress(ctx context.Context, sessionID string, address domain.Address) (CheckoutSession, error) {
	if strings.TrimSpace(address.Line1) == "" || strings.TrimSpace(address.City) == "" || strings.TrimSpace(address.PostalCode) == "" {
		return CheckoutSession{}, fmt.Errorf("%w: address line, city and postal code are required", ErrCheckoutInvalidInput)
	}
	return s.mutate(ctx, sessionID, func(session *checkoutSession) error {
		if session.Step.IsTerminal() || session.Step == CheckoutStepProcessingPayment {
			return fmt.Errorf("%w: address cannot change at %s", ErrCheckoutInvalidStep, session.Step)
		}
		session.Address = address
		session.Customer.Address = address
		return nil
	})
}

// SetPaymentMethod records the payment method. Allowed on any pre-payment step.
func (s *CheckoutService) SetPaymentMethod(ctx context.Context, sessionID string, method domain.PaymentMethod) (CheckoutSession, error) {
	switch method {
	case domain.PaymentMethodRazorpay, domain.PaymentMethodStripe, domain.PaymentMethodCOD:
	default:
		return CheckoutSession{}, fmt.Errorf("%w: unsupported payment method %q", ErrCheckoutInvalidInput, method)
	}
	return s.mutate(ctx, sessionID, func(session *checkoutSession) error {
		if session.Step.IsTerminal() || session.Step == CheckoutStepProcessingPayment {
			return fmt.Errorf("%w: payment method cannot change at %s", ErrCheckoutInvalidStep, session.Step)
		}
		session.PaymentMethod = method
		return nil
	})
}

// ApplyCoupon requotes the session with the given code. Unknown codes keep
// the quote unchanged and surface a notice instead of failing.
func (s *CheckoutService) ApplyCoupon(ctx context.Context, sessionID, code string) (CheckoutSession, error) {
	totals, notice, err := func() (domain.OrderTotals, string, error) {
		s.mu.Lock()
		session, ok := s.sessions[sessionID]
		if !ok {
			s.mu.Unlock()
			return domain.OrderTotals{}, "", ErrCheckoutNotFound
		}
		items := append([]OrderItemInput(nil), session.Items...)
		s.mu.Unlock()
		return s.quoteWithCode(ctx, items, code)
	}()
	if err != nil {
		return CheckoutSession{}, err
	}

	return s.mutate(ctx, sessionID, func(session *checkoutSession) error {
		if session.Step.IsTerminal() || session.Step == CheckoutStepProcessingPayment {
			return fmt.Errorf("%w: coupons cannot change at %s", ErrCheckoutInvalidStep, session.Step)
		}
		session.Totals = totals
		session.CouponNotice = notice
		if notice == "" {
			session.CouponCode = strings.ToUpper(strings.TrimSpace(code))
		} else {
			session.CouponCode = ""
		}
		return nil
	})
}

// Next advances the session one step, enforcing per-step preconditions.
// Entering processingPayment places the order and starts the payment window.
func (s *CheckoutService) Next(ctx context.Context, sessionID string) (CheckoutSession, error) {
	s.mu.Lock()
	session, ok := s.sessions[sessionID]
	if !ok {
		s.mu.Unlock()
		return CheckoutSession{}, ErrCheckoutNotFound
	}

	switch session.Step {
	case CheckoutStepReview:
		session.Step = CheckoutStepAddress
	case CheckoutStepAddress:
		if strings.TrimSpace(session.Address.Line1) == "" {
			s.mu.Unlock()
			return CheckoutSession{}, fmt.Errorf("%w: shipping address is required", ErrCheckoutInvalidInput)
		}
		session.Step = CheckoutStepPaymentMethod
	case CheckoutStepPaymentMethod:
		if session.PaymentMethod == "" {
			s.mu.Unlock()
			return CheckoutSession{}, fmt.Errorf("%w: payment method is required", ErrCheckoutInvalidInput)
		}
		session.Step = CheckoutStepReviewOrder
	case CheckoutStepReviewOrder:
		snapshot := session.snapshot()
		s.mu.Unlock()
		return s.enterProcessingPayment(ctx, snapshot)
	default:
		step := session.Step
		s.mu.Unlock()
		return CheckoutSession{}, fmt.Errorf("%w: cannot advance from %s", ErrCheckoutInvalidStep, step)
	}

	session.UpdatedAt = s.clock()
	out := session.snapshot()
	s.mu.Unlock()
	return out, nil
}

// Previous steps the session back one pre-payment step.
func (s *CheckoutService) Previous(ctx context.Context, sessionID string) (CheckoutSession, error) {
	return s.mutate(ctx, sessionID, func(session *checkoutSession) error {
		switch session.Step {
		case CheckoutStepAddress:
			session.Step = CheckoutStepReview
		case CheckoutStepPaymentMethod:
			session.Step = CheckoutStepAddress
		case CheckoutStepReviewOrder:
			session.Step = CheckoutStepPaymentMethod
		default:
			return fmt.Errorf("%w: cannot go back from %s", ErrCheckoutInvalidStep, session.Step)
		}
		return nil
	})
}

// Cancel ends the session. An order already placed for it is cancelled too
// when it is still cancellable.
func (s *CheckoutService) Cancel(ctx context.Context, sessionID, reason string) (CheckoutSession, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = "cancelled by customer"
	}

	snapshot, err := s.mutate(ctx, sessionID, func(session *checkoutSession) error {
		if session.Step.IsTerminal() {
			return fmt.Errorf("%w: session already ended at %s", ErrCheckoutInvalidStep, session.Step)
		}
		stopTimerLocked(session)
		session.Step = CheckoutStepCancelled
		session.FailureReason = reason
		return nil
	})
	if err != nil {
		return CheckoutSession{}, err
	}

	if snapshot.OrderID != "" {
		if _, err := s.orders.Cancel(ctx, CancelOrderCommand{OrderID: snapshot.OrderID, Reason: reason}); err != nil && !errors.Is(err, ErrOrderInvalidTransition) {
			s.logger(ctx, "checkout.order.cancel_failed", map[string]any{
				"sessionId": snapshot.ID,
				"orderId":   snapshot.OrderID,
				"error":     err.Error(),
			})
		}
	}
	return snapshot, nil
}

// Retry re-enters payment processing after a failed payment, re-opening the
// payment window on the same order.
func (s *CheckoutService) Retry(ctx context.Context, sessionID string) (CheckoutSession, error) {
	return s.mutate(ctx, sessionID, func(session *checkoutSession) error {
		if session.Step != CheckoutStepFailed {
			return fmt.Errorf("%w: retry is only valid from failed, not %s", ErrCheckoutInvalidStep, session.Step)
		}
		if session.OrderID == "" {
			// Payment never started; send the customer back to review.
			session.Step = CheckoutStepReviewOrder
			session.FailureReason = ""
			return nil
		}
		session.Step = CheckoutStepProcessingPayment
		session.FailureReason = ""
		session.PaymentAttempts++
		s.armTimerLocked(session)
		return nil
	})
}

// HandlePaymentOutcome consumes order events from the event bus and resolves
// the owning session. Outcomes with no matching session yet are queued for
// the reconciler.
func (s *CheckoutService) HandlePaymentOutcome(ctx context.Context, event OrderEvent) {
	var success bool
	switch event.Type {
	case OrderEventPaymentConfirmed:
		success = true
	case OrderEventPaymentFailed:
		success = false
	default:
		return
	}

	paymentID := ""
	if event.Metadata != nil {
		if v, ok := event.Metadata["paymentId"].(string); ok {
			paymentID = v
		}
	}

	outcome := paymentOutcome{
		orderID:   event.OrderID,
		success:   success,
		reason:    failureReasonPaymentDeclined,
		queuedAt:  s.clock(),
		paymentID: paymentID,
	}
	if !s.applyOutcome(ctx, outcome) {
		s.mu.Lock()
		s.pending = append(s.pending, outcome)
		s.mu.Unlock()
		s.logger(ctx, "checkout.outcome.queued", map[string]any{
			"orderId": event.OrderID,
			"success": success,
		})
	}
}

func (s *CheckoutService) enterProcessingPayment(ctx context.Context, snapshot CheckoutSession) (CheckoutSession, error) {
	order, err := s.orders.Create(ctx, CreateOrderCommand{
		UserID:        snapshot.UserID,
		Items:         snapshot.Items,
		Customer:      snapshot.Customer,
		PaymentMethod: snapshot.PaymentMethod,
		PromoCode:     snapshot.CouponCode,
	})
	if err != nil {
		return CheckoutSession{}, err
	}

	return s.mutate(ctx, snapshot.ID, func(session *checkoutSession) error {
		if session.Step != CheckoutStepReviewOrder {
			return fmt.Errorf("%w: cannot enter payment from %s", ErrCheckoutInvalidStep, session.Step)
		}
		session.Step = CheckoutStepProcessingPayment
		session.OrderID = order.ID
		session.Totals = order.Totals
		session.PaymentAttempts = 1
		s.byOrder[order.ID] = session.ID
		s.armTimerLocked(session)
		return nil
	})
}

// applyOutcome resolves the session owning the order. Returns false when no
// live processingPayment session is known for the order.
func (s *CheckoutService) applyOutcome(ctx context.Context, outcome paymentOutcome) bool {
	s.mu.Lock()
	sessionID, ok := s.byOrder[outcome.orderID]
	if !ok {
		s.mu.Unlock()
		return false
	}
	session, ok := s.sessions[sessionID]
	if !ok {
		s.mu.Unlock()
		return false
	}
	if session.Step != CheckoutStepProcessingPayment {
		// Terminal sessions swallow late outcomes; the order record is the
		// source of truth at that point.
		handled := session.Step.IsTerminal()
		s.mu.Unlock()
		return handled
	}

	stopTimerLocked(session)
	if outcome.success {
		session.Step = CheckoutStepSuccess
		session.FailureReason = ""
	} else {
		session.Step = CheckoutStepFailed
		session.FailureReason = outcome.reason
	}
	session.UpdatedAt = s.clock()
	step := session.Step
	s.mu.Unlock()

	s.logger(ctx, "checkout.payment.resolved", map[string]any{
		"sessionId": sessionID,
		"orderId":   outcome.orderID,
		"step":      string(step),
		"paymentId": outcome.paymentID,
	})
	return true
}

func (s *CheckoutService) reconcileLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.reconcileStop:
			return
		case <-ticker.C:
			s.reconcileOnce(context.Background())
		}
	}
}

func (s *CheckoutService) reconcileOnce(ctx context.Context) {
	s.mu.Lock()
	pending := s.pending
	s.pending = nil
	s.mu.Unlock()

	cutoff := s.clock().Add(-s.paymentWindow)
	var remaining []paymentOutcome
	for _, outcome := range pending {
		if s.applyOutcome(ctx, outcome) {
			continue
		}
		if outcome.queuedAt.Before(cutoff) {
			s.logger(ctx, "checkout.outcome.dropped", map[string]any{
				"orderId": outcome.orderID,
			})
			continue
		}
		remaining = append(remaining, outcome)
	}

	if len(remaining) > 0 {
		s.mu.Lock()
		s.pending = append(s.pending, remaining...)
		s.mu.Unlock()
	}
}

// armTimerLocked (re)starts the payment window timer. Callers hold s.mu.
func (s *CheckoutService) armTimerLocked(session *checkoutSession) {
	stopTimerLocked(session)
	sessionID := session.ID
	session.timer = time.AfterFunc(s.paymentWindow, func() {
		s.expirePayment(sessionID)
	})
}

func (s *CheckoutService) expirePayment(sessionID string) {
	ctx := context.Background()

	s.mu.Lock()
	session, ok := s.sessions[sessionID]
	if !ok || session.Step != CheckoutStepProcessingPayment {
		s.mu.Unlock()
		return
	}
	session.timer = nil
	session.Step = CheckoutStepFailed
	session.FailureReason = failureReasonWindowExpired
	session.UpdatedAt = s.clock()
	orderID := session.OrderID
	s.mu.Unlock()

	s.logger(ctx, "checkout.payment.expired", map[string]any{
		"sessionId": sessionID,
		"orderId":   orderID,
	})

	// The order stays at orderPlaced with a failed payment so Retry can
	// re-open the window and a later verification can still confirm it.
	if orderID != "" {
		if _, err := s.orders.MarkPaymentFailed(ctx, orderID, ""); err != nil && !errors.Is(err, ErrOrderInvalidTransition) {
			s.logger(ctx, "checkout.payment.mark_failed_error", map[string]any{
				"sessionId": sessionID,
				"orderId":   orderID,
				"error":     err.Error(),
			})
		}
	}
}

func (s *CheckoutService) mutate(_ context.Context, sessionID string, fn func(*checkoutSession) error) (CheckoutSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[sessionID]
	if !ok {
		return CheckoutSession{}, ErrCheckoutNotFound
	}
	if err := fn(session); err != nil {
		return CheckoutSession{}, err
	}
	session.UpdatedAt = s.clock()
	return session.snapshot(), nil
}

func (s *CheckoutService) quote(ctx context.Context, items []OrderItemInput, code string) (domain.OrderTotals, string, error) {
	return s.quoteWithCode(ctx, items, code)
}

func (s *CheckoutService) quoteWithCode(ctx context.Context, inputs []OrderItemInput, code string) (domain.OrderTotals, string, error) {
	items := make([]domain.OrderItem, 0, len(inputs))
	for _, input := range inputs {
		product, err := s.catalog.Product(ctx, input.ProductID)
		if err != nil {
			if repositories.IsNotFound(err) {
				return domain.OrderTotals{}, "", fmt.Errorf("%w: unknown product %q", ErrCheckoutInvalidInput, input.ProductID)
			}
			return domain.OrderTotals{}, "", err
		}
		items = append(items, domain.OrderItem{
			ProductID:  product.ID,
			Name:       product.Name,
			UnitPrice:  product.Price,
			Quantity:   input.Quantity,
			TotalPrice: product.Price * domain.Amount(input.Quantity),
		})
	}
	totals, notice := s.pricing.Quote(items, code)
	return totals, notice, nil
}

func (s *checkoutSession) snapshot() CheckoutSession {
	out := s.CheckoutSession
	out.Items = append([]OrderItemInput(nil), s.Items...)
	return out
}

// stopTimerLocked stops and clears the payment timer. Callers hold s.mu, so
// a timer is only ever stopped once.
func stopTimerLocked(session *checkoutSession) {
	if session.timer != nil {
		session.timer.Stop()
		session.timer = nil
	}
}
