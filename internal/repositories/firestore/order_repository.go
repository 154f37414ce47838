package firestore

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"

	domain "github.com/hazelcart/api/internal/domain"
	pfirestore "github.com/hazelcart/api/internal/platform/firestore"
	"github.com/hazelcart/api/internal/repositories"
)

const ordersCollection = "orders"

type orderDocument struct {
	OrderNumber     string                 `firestore:"orderNumber"`
	InvoiceNumber   string                 `firestore:"invoiceNumber"`
	UserID          string                 `firestore:"userId"`
	Status          string                 `firestore:"status"`
	Currency        string                 `firestore:"currency"`
	Items           []orderItemDocument    `firestore:"items"`
	ShippingAddress addressDocument        `firestore:"shippingAddress"`
	Totals          orderTotalsDocument    `firestore:"totals"`
	PaymentResult   *paymentResultDocument `firestore:"paymentResult,omitempty"`
	CreatedAt       time.Time              `firestore:"createdAt"`
	UpdatedAt       time.Time              `firestore:"updatedAt"`
	PaidAt          *time.Time             `firestore:"paidAt,omitempty"`
	ShippedAt       *time.Time             `firestore:"shippedAt,omitempty"`
	DeliveredAt     *time.Time             `firestore:"deliveredAt,omitempty"`
	CanceledAt      *time.Time             `firestore:"canceledAt,omitempty"`
	RefundedAt      *time.Time             `firestore:"refundedAt,omitempty"`
	CancelReason    string                 `firestore:"cancelReason,omitempty"`
}

type orderItemDocument struct {
	ProductID string `firestore:"productId"`
	Name      string `firestore:"name"`
	Image     string `firestore:"image,omitempty"`
	Variant   string `firestore:"variant,omitempty"`
	UnitPrice int64  `firestore:"unitPrice"`
	Quantity  int    `firestore:"qty"`
}

type addressDocument struct {
	Recipient  string `firestore:"recipient"`
	Line1      string `firestore:"line1"`
	Line2      string `firestore:"line2,omitempty"`
	City       string `firestore:"city"`
	PostalCode string `firestore:"postalCode"`
	Country    string `firestore:"country"`
	Phone      string `firestore:"phone,omitempty"`
}

type orderTotalsDocument struct {
	Items    int64 `firestore:"items"`
	Discount int64 `firestore:"discount"`
	Shipping int64 `firestore:"shipping"`
	Tax      int64 `firestore:"tax"`
	Total    int64 `firestore:"total"`
}

type paymentResultDocument struct {
	Provider      string    `firestore:"provider"`
	CorrelationID string    `firestore:"correlationId"`
	TransactionID string    `firestore:"transactionId"`
	Status        string    `firestore:"status"`
	Amount        int64     `firestore:"amount"`
	PayerEmail    string    `firestore:"payerEmail,omitempty"`
	ReceivedAt    time.Time `firestore:"receivedAt"`
}

// OrderRepository persists order documents within Firestore.
type OrderRepository struct {
	base     *pfirestore.BaseRepository[orderDocument]
	provider *pfirestore.Provider
}

// NewOrderRepository constructs a Firestore-backed order repository.
func NewOrderRepository(provider *pfirestore.Provider) (*OrderRepository, error) {
	if provider == nil {
		return nil, errors.New("order repository requires firestore provider")
	}
	base := pfirestore.NewBaseRepository[orderDocument](provider, ordersCollection, nil, nil)
	return &OrderRepository{
		base:     base,
		provider: provider,
	}, nil
}

// Insert creates the order document, failing when the ID is already taken.
func (r *OrderRepository) Insert(ctx context.Context, order domain.Order) (domain.Order, error) {
	if r == nil || r.base == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	id := strings.TrimSpace(order.ID)
	if id == "" {
		return domain.Order{}, errors.New("order repository: order id is required")
	}

	doc := newOrderDocument(order)

	ref, err := r.base.DocumentRef(ctx, id)
	if err != nil {
		return domain.Order{}, err
	}
	if _, err := ref.Create(ctx, doc); err != nil {
		return domain.Order{}, pfirestore.WrapError("orders.insert", err)
	}
	return doc.toDomain(id), nil
}

// Update rewrites the mutable lifecycle fields. Items, totals, and the
// shipping address are frozen at creation and intentionally never touched.
// When expectedUpdate is set the write carries an optimistic precondition.
func (r *OrderRepository) Update(ctx context.Context, order domain.Order, expectedUpdate *time.Time) (domain.Order, error) {
	if r == nil || r.base == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	id := strings.TrimSpace(order.ID)
	if id == "" {
		return domain.Order{}, errors.New("order repository: order id is required")
	}

	now := time.Now().UTC()
	if !order.UpdatedAt.IsZero() {
		now = order.UpdatedAt.UTC()
	}

	updates := []firestore.Update{
		{Path: "status", Value: string(order.Status)},
		{Path: "updatedAt", Value: now},
		{Path: "paidAt", Value: timeOrDelete(order.PaidAt)},
		{Path: "shippedAt", Value: timeOrDelete(order.ShippedAt)},
		{Path: "deliveredAt", Value: timeOrDelete(order.DeliveredAt)},
		{Path: "canceledAt", Value: timeOrDelete(order.CanceledAt)},
		{Path: "refundedAt", Value: timeOrDelete(order.RefundedAt)},
	}
	if strings.TrimSpace(order.CancelReason) == "" {
		updates = append(updates, firestore.Update{Path: "cancelReason", Value: firestore.Delete})
	} else {
		updates = append(updates, firestore.Update{Path: "cancelReason", Value: strings.TrimSpace(order.CancelReason)})
	}
	if order.PaymentResult == nil {
		updates = append(updates, firestore.Update{Path: "paymentResult", Value: firestore.Delete})
	} else {
		updates = append(updates, firestore.Update{Path: "paymentResult", Value: newPaymentResultDocument(*order.PaymentResult)})
	}

	var preconditions []firestore.Precondition
	if expectedUpdate != nil && !expectedUpdate.IsZero() {
		preconditions = append(preconditions, firestore.LastUpdateTime(expectedUpdate.UTC()))
	}

	result, err := r.base.Update(ctx, id, updates, preconditions...)
	if err != nil {
		return domain.Order{}, err
	}

	saved := order
	saved.UpdatedAt = result.UpdateTime
	return saved, nil
}

// FindByID loads a single order document.
func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	if r == nil || r.base == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	id := strings.TrimSpace(orderID)
	if id == "" {
		return domain.Order{}, errors.New("order repository: order id is required")
	}

	doc, err := r.base.Get(ctx, id)
	if err != nil {
		return domain.Order{}, err
	}
	order := doc.Data.toDomain(doc.ID)
	if !doc.UpdateTime.IsZero() {
		order.UpdatedAt = doc.UpdateTime
	}
	return order, nil
}

// FindByOrderNumber resolves an order by its human-readable number.
func (r *OrderRepository) FindByOrderNumber(ctx context.Context, orderNumber string) (domain.Order, error) {
	if r == nil || r.provider == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	number := strings.TrimSpace(orderNumber)
	if number == "" {
		return domain.Order{}, errors.New("order repository: order number is required")
	}

	client, err := r.provider.Client(ctx)
	if err != nil {
		return domain.Order{}, pfirestore.WrapError("orders.findByNumber", err)
	}

	iter := client.Collection(ordersCollection).Where("orderNumber", "==", number).Limit(1).Documents(ctx)
	defer iter.Stop()

	snap, err := iter.Next()
	if errors.Is(err, iterator.Done) {
		return domain.Order{}, pfirestore.NewNotFoundError("orders.findByNumber", fmt.Sprintf("order %s not found", number))
	}
	if err != nil {
		return domain.Order{}, pfirestore.WrapError("orders.findByNumber", err)
	}

	var doc orderDocument
	if err := snap.DataTo(&doc); err != nil {
		return domain.Order{}, fmt.Errorf("decode order %s: %w", snap.Ref.ID, err)
	}
	return doc.toDomain(snap.Ref.ID), nil
}

// FindByCorrelationID resolves an order by the correlation ID stored in its
// payment result.
func (r *OrderRepository) FindByCorrelationID(ctx context.Context, correlationID string) (domain.Order, error) {
	if r == nil || r.provider == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	id := strings.TrimSpace(correlationID)
	if id == "" {
		return domain.Order{}, errors.New("order repository: correlation id is required")
	}

	client, err := r.provider.Client(ctx)
	if err != nil {
		return domain.Order{}, pfirestore.WrapError("orders.findByCorrelation", err)
	}

	iter := client.Collection(ordersCollection).Where("paymentResult.correlationId", "==", id).Limit(1).Documents(ctx)
	defer iter.Stop()

	snap, err := iter.Next()
	if errors.Is(err, iterator.Done) {
		return domain.Order{}, pfirestore.NewNotFoundError("orders.findByCorrelation", fmt.Sprintf("no order for correlation %s", id))
	}
	if err != nil {
		return domain.Order{}, pfirestore.WrapError("orders.findByCorrelation", err)
	}

	var doc orderDocument
	if err := snap.DataTo(&doc); err != nil {
		return domain.Order{}, fmt.Errorf("decode order %s: %w", snap.Ref.ID, err)
	}
	return doc.toDomain(snap.Ref.ID), nil
}

// ListByUser returns the user's orders newest first with cursor paging.
func (r *OrderRepository) ListByUser(ctx context.Context, userID string, pager domain.Pagination) (domain.CursorPage[domain.Order], error) {
	if r == nil || r.provider == nil {
		return domain.CursorPage[domain.Order]{}, errors.New("order repository not initialised")
	}
	uid := strings.TrimSpace(userID)
	if uid == "" {
		return domain.CursorPage[domain.Order]{}, errors.New("order repository: user id is required")
	}

	pageSize := pager.PageSize
	if pageSize <= 0 {
		pageSize = 20
	}
	if pageSize > 100 {
		pageSize = 100
	}

	client, err := r.provider.Client(ctx)
	if err != nil {
		return domain.CursorPage[domain.Order]{}, pfirestore.WrapError("orders.listByUser", err)
	}

	query := client.Collection(ordersCollection).
		Where("userId", "==", uid).
		OrderBy("createdAt", firestore.Desc).
		OrderBy(firestore.DocumentID, firestore.Desc).
		Limit(pageSize + 1)

	if token := strings.TrimSpace(pager.PageToken); token != "" {
		cursor, err := decodeOrderPageToken(token)
		if err != nil {
			return domain.CursorPage[domain.Order]{}, pfirestore.WrapError("orders.listByUser", err)
		}
		query = query.StartAfter(cursor.CreatedAt, cursor.ID)
	}

	iter := query.Documents(ctx)
	defer iter.Stop()

	var orders []domain.Order
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return domain.CursorPage[domain.Order]{}, pfirestore.WrapError("orders.listByUser", err)
		}
		var doc orderDocument
		if err := snap.DataTo(&doc); err != nil {
			return domain.CursorPage[domain.Order]{}, fmt.Errorf("decode order %s: %w", snap.Ref.ID, err)
		}
		orders = append(orders, doc.toDomain(snap.Ref.ID))
	}

	hasMore := len(orders) > pageSize
	if hasMore {
		orders = orders[:pageSize]
	}
	var nextToken string
	if hasMore && len(orders) > 0 {
		last := orders[len(orders)-1]
		encoded, err := encodeOrderPageToken(orderPageToken{ID: last.ID, CreatedAt: last.CreatedAt})
		if err != nil {
			return domain.CursorPage[domain.Order]{}, pfirestore.WrapError("orders.listByUser", err)
		}
		nextToken = encoded
	}

	return domain.CursorPage[domain.Order]{
		Items:         orders,
		NextPageToken: nextToken,
	}, nil
}

type orderPageToken struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"createdAt"`
}

func encodeOrderPageToken(token orderPageToken) (string, error) {
	data, err := json.Marshal(token)
	if err != nil {
		return "", fmt.Errorf("encode order page token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(data), nil
}

func decodeOrderPageToken(encoded string) (orderPageToken, error) {
	data, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return orderPageToken{}, fmt.Errorf("decode order page token: %w", err)
	}
	var token orderPageToken
	if err := json.Unmarshal(data, &token); err != nil {
		return orderPageToken{}, fmt.Errorf("decode order page token json: %w", err)
	}
	return token, nil
}

func timeOrDelete(value *time.Time) any {
	if value == nil || value.IsZero() {
		return firestore.Delete
	}
	return value.UTC()
}

func newOrderDocument(order domain.Order) orderDocument {
	items := make([]orderItemDocument, len(order.Items))
	for i, item := range order.Items {
		items[i] = orderItemDocument{
			ProductID: strings.TrimSpace(item.ProductID),
			Name:      strings.TrimSpace(item.Name),
			Image:     strings.TrimSpace(item.Image),
			Variant:   strings.TrimSpace(item.Variant),
			UnitPrice: item.UnitPrice,
			Quantity:  item.Quantity,
		}
	}

	doc := orderDocument{
		OrderNumber:   strings.TrimSpace(order.OrderNumber),
		InvoiceNumber: strings.TrimSpace(order.InvoiceNumber),
		UserID:        strings.TrimSpace(order.UserID),
		Status:        string(order.Status),
		Currency:      strings.ToUpper(strings.TrimSpace(order.Currency)),
		Items:         items,
		ShippingAddress: addressDocument{
			Recipient:  strings.TrimSpace(order.ShippingAddress.Recipient),
			Line1:      strings.TrimSpace(order.ShippingAddress.Line1),
			Line2:      strings.TrimSpace(order.ShippingAddress.Line2),
			City:       strings.TrimSpace(order.ShippingAddress.City),
			PostalCode: strings.TrimSpace(order.ShippingAddress.PostalCode),
			Country:    strings.TrimSpace(order.ShippingAddress.Country),
			Phone:      strings.TrimSpace(order.ShippingAddress.Phone),
		},
		Totals: orderTotalsDocument{
			Items:    order.Totals.Items,
			Discount: order.Totals.Discount,
			Shipping: order.Totals.Shipping,
			Tax:      order.Totals.Tax,
			Total:    order.Totals.Total,
		},
		CreatedAt:    order.CreatedAt.UTC(),
		UpdatedAt:    order.UpdatedAt.UTC(),
		PaidAt:       order.PaidAt,
		ShippedAt:    order.ShippedAt,
		DeliveredAt:  order.DeliveredAt,
		CanceledAt:   order.CanceledAt,
		RefundedAt:   order.RefundedAt,
		CancelReason: strings.TrimSpace(order.CancelReason),
	}
	if order.PaymentResult != nil {
		result := newPaymentResultDocument(*order.PaymentResult)
		doc.PaymentResult = &result
	}
	return doc
}

func newPaymentResultDocument(result domain.PaymentResult) paymentResultDocument {
	return paymentResultDocument{
		Provider:      strings.TrimSpace(result.Provider),
		CorrelationID: strings.TrimSpace(result.CorrelationID),
		TransactionID: strings.TrimSpace(result.TransactionID),
		Status:        strings.TrimSpace(result.Status),
		Amount:        result.Amount,
		PayerEmail:    strings.TrimSpace(result.PayerEmail),
		ReceivedAt:    result.ReceivedAt.UTC(),
	}
}

func (d orderDocument) toDomain(id string) domain.Order {
	items := make([]domain.OrderItem, len(d.Items))
	for i, item := range d.Items {
		items[i] = domain.OrderItem{
			ProductID: item.ProductID,
			Name:      item.Name,
			Image:     item.Image,
			Variant:   item.Variant,
			UnitPrice: item.UnitPrice,
			Quantity:  item.Quantity,
		}
	}

	order := domain.Order{
		ID:            id,
		OrderNumber:   d.OrderNumber,
		InvoiceNumber: d.InvoiceNumber,
		UserID:        d.UserID,
		Status:        domain.OrderStatus(d.Status),
		Currency:      d.Currency,
		Items:         items,
		ShippingAddress: domain.Address{
			Recipient:  d.ShippingAddress.Recipient,
			Line1:      d.ShippingAddress.Line1,
			Line2:      d.ShippingAddress.Line2,
			City:       d.ShippingAddress.City,
			PostalCode: d.ShippingAddress.PostalCode,
			Country:    d.ShippingAddress.Country,
			Phone:      d.ShippingAddress.Phone,
		},
		Totals: domain.OrderTotals{
			Items:    d.Totals.Items,
			Discount: d.Totals.Discount,
			Shipping: d.Totals.Shipping,
			Tax:      d.Totals.Tax,
			Total:    d.Totals.Total,
		},
		CreatedAt:    d.CreatedAt,
		UpdatedAt:    d.UpdatedAt,
		PaidAt:       d.PaidAt,
		ShippedAt:    d.ShippedAt,
		DeliveredAt:  d.DeliveredAt,
		CanceledAt:   d.CanceledAt,
		RefundedAt:   d.RefundedAt,
		CancelReason: d.CancelReason,
	}
	if d.PaymentResult != nil {
		order.PaymentResult = &domain.PaymentResult{
			Provider:      d.PaymentResult.Provider,
			CorrelationID: d.PaymentResult.CorrelationID,
			TransactionID: d.PaymentResult.TransactionID,
			Status:        d.PaymentResult.Status,
			Amount:        d.PaymentResult.Amount,
			PayerEmail:    d.PaymentResult.PayerEmail,
			ReceivedAt:    d.PaymentResult.ReceivedAt,
		}
	}
	return order
}

var _ repositories.OrderRepository = (*OrderRepository)(nil)
