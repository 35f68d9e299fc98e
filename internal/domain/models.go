package domain

import "time"

const (
	ShiftStatusOpen   = "open"
	ShiftStatusClosed = "closed"

	SaleStatusCompleted = "completed"
	SaleStatusRefunded  = "refunded"
	SaleStatusCancelled = "cancelled"

	ReturnStatusCompleted = "completed"
	ReturnStatusPartial   = "partial"
	ReturnStatusRejected  = "rejected"

	PurchaseStatusReceived  = "received"
	PurchaseStatusCancelled = "cancelled"

	PaymentCash    = "cash"
	PaymentCard    = "card"
	PaymentMobile  = "mobile"
	PaymentPartial = "partial"
	PaymentDebt    = "debt"

	MoveIn         = "in"
	MoveOut        = "out"
	MoveAdjustment = "adjustment"

	RefSale       = "sale"
	RefReturn     = "return"
	RefPurchase   = "purchase"
	RefManual     = "manual"
	RefCorrection = "correction"

	RoleAdmin   = "admin"
	RoleCashier = "cashier"
)

type Product struct {
	ID        string    `json:"id"`
	SKU       string    `json:"sku"`
	Name      string    `json:"name"`
	Unit      string    `json:"unit"`
	SalePrice int64     `json:"sale_price"`
	CostPrice *int64    `json:"cost_price,omitempty"`
	TaxRate   float64   `json:"tax_rate"`
	Stock     int       `json:"stock"`
	MinStock  int       `json:"min_stock"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type ProductCreateRequest struct {
	SKU          string   `json:"sku"`
	Name         string   `json:"name"`
	Unit         string   `json:"unit"`
	SalePrice    int64    `json:"sale_price"`
	CostPrice    *int64   `json:"cost_price,omitempty"`
	TaxRate      *float64 `json:"tax_rate,omitempty"`
	MinStock     int      `json:"min_stock"`
	InitialStock int      `json:"initial_stock"`
}

type Customer struct {
	ID        string    `json:"id"`
	Code      string    `json:"code"`
	Name      string    `json:"name"`
	Phone     string    `json:"phone,omitempty"`
	Balance   int64     `json:"balance"`
	Points    int       `json:"points"`
	CreatedAt time.Time `json:"created_at"`
}

type CustomerCreateRequest struct {
	Code  string `json:"code"`
	Name  string `json:"name"`
	Phone string `json:"phone"`
}

type Supplier struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Phone     string    `json:"phone,omitempty"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

type SupplierCreateRequest struct {
	Name  string `json:"name"`
	Phone string `json:"phone"`
}

type CashShift struct {
	ID           string     `json:"id"`
	CashierID    string     `json:"cashier_id"`
	Status       string     `json:"status"`
	OpenedAt     time.Time  `json:"opened_at"`
	OpeningCash  int64      `json:"opening_cash"`
	ClosedAt     *time.Time `json:"closed_at,omitempty"`
	ClosingCash  *int64     `json:"closing_cash,omitempty"`
	ExpectedCash *int64     `json:"expected_cash,omitempty"`
	Difference   *int64     `json:"difference,omitempty"`
	Notes        string     `json:"notes,omitempty"`
}

type ShiftOpenRequest struct {
	CashierID   string `json:"cashier_id"`
	OpeningCash int64  `json:"opening_cash"`
}

type ShiftCloseRequest struct {
	ClosingCash int64  `json:"closing_cash"`
	Notes       string `json:"notes"`
}

type CashCollection struct {
	ID          string    `json:"id"`
	ShiftID     string    `json:"shift_id"`
	Amount      int64     `json:"amount"`
	CollectedBy string    `json:"collected_by"`
	Notes       string    `json:"notes,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

type CashCollectionRequest struct {
	Amount int64  `json:"amount"`
	Notes  string `json:"notes"`
}

type Sale struct {
	ID             string     `json:"id"`
	ReceiptNo      string     `json:"receipt_no"`
	CustomerID     string     `json:"customer_id,omitempty"`
	CashierID      string     `json:"cashier_id"`
	ShiftID        string     `json:"shift_id"`
	Subtotal       int64      `json:"subtotal"`
	Discount       int64      `json:"discount"`
	Tax            int64      `json:"tax"`
	Total          int64      `json:"total"`
	PaymentType    string     `json:"payment_type"`
	ReceivedAmount int64      `json:"received_amount"`
	DebtAmount     int64      `json:"debt_amount"`
	ChangeAmount   int64      `json:"change_amount"`
	Status         string     `json:"status"`
	Notes          string     `json:"notes,omitempty"`
	IdempotencyKey string     `json:"idempotency_key,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	Items          []SaleItem `json:"items"`
}

type SaleItem struct {
	ID          string `json:"id"`
	SaleID      string `json:"sale_id"`
	ProductID   string `json:"product_id"`
	ProductName string `json:"product_name"`
	Qty         int    `json:"qty"`
	Price       int64  `json:"price"`
	Discount    int64  `json:"discount"`
	Tax         int64  `json:"tax"`
	Total       int64  `json:"total"`
}

type SaleLine struct {
	ProductID string `json:"product_id"`
	Qty       int    `json:"qty"`
	Discount  int64  `json:"discount"`
}

type Payment struct {
	Type           string `json:"type"`
	ReceivedAmount int64  `json:"received_amount"`
}

type SaleRequest struct {
	IdempotencyKey string     `json:"idempotency_key"`
	CashierID      string     `json:"cashier_id"`
	CustomerID     string     `json:"customer_id"`
	Lines          []SaleLine `json:"lines"`
	Payment        Payment    `json:"payment"`
	Notes          string     `json:"notes"`
}

type SaleResponse struct {
	Sale          Sale   `json:"sale"`
	Duplicate     bool   `json:"duplicate"`
	ReceiptFooter string `json:"receipt_footer,omitempty"`
}

type Return struct {
	ID             string       `json:"id"`
	ReturnNo       string       `json:"return_no"`
	SaleID         string       `json:"sale_id,omitempty"`
	CashierID      string       `json:"cashier_id"`
	ShiftID        string       `json:"shift_id,omitempty"`
	TotalAmount    int64        `json:"total_amount"`
	DebtReversed   int64        `json:"debt_reversed"`
	Reason         string       `json:"reason"`
	Status         string       `json:"status"`
	IdempotencyKey string       `json:"idempotency_key,omitempty"`
	CreatedAt      time.Time    `json:"created_at"`
	Items          []ReturnItem `json:"items"`
}

type ReturnItem struct {
	ID         string `json:"id"`
	ReturnID   string `json:"return_id"`
	SaleItemID string `json:"sale_item_id"`
	ProductID  string `json:"product_id"`
	Qty        int    `json:"qty"`
	Price      int64  `json:"price"`
	Total      int64  `json:"total"`
}

type ReturnLine struct {
	SaleItemID string `json:"sale_item_id"`
	Qty        int    `json:"qty"`
}

type ReturnRequest struct {
	IdempotencyKey string       `json:"idempotency_key"`
	ReceiptNo      string       `json:"receipt_no"`
	CashierID      string       `json:"cashier_id"`
	Lines          []ReturnLine `json:"lines"`
	Reason         string       `json:"reason"`
}

type ReturnResponse struct {
	Return     Return `json:"return"`
	SaleStatus string `json:"sale_status"`
	Duplicate  bool   `json:"duplicate"`
}

type Purchase struct {
	ID             string         `json:"id"`
	PurchaseNo     string         `json:"purchase_no"`
	SupplierID     string         `json:"supplier_id"`
	Total          int64          `json:"total"`
	Status         string         `json:"status"`
	ReceivedBy     string         `json:"received_by"`
	Notes          string         `json:"notes,omitempty"`
	IdempotencyKey string         `json:"idempotency_key,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	Items          []PurchaseItem `json:"items"`
}

type PurchaseItem struct {
	ID          string `json:"id"`
	PurchaseID  string `json:"purchase_id"`
	ProductID   string `json:"product_id"`
	ProductName string `json:"product_name"`
	Qty         int    `json:"qty"`
	CostPrice   int64  `json:"cost_price"`
	Total       int64  `json:"total"`
}

type PurchaseLine struct {
	ProductID string `json:"product_id"`
	Qty       int    `json:"qty"`
	CostPrice int64  `json:"cost_price"`
}

type PurchaseRequest struct {
	IdempotencyKey string         `json:"idempotency_key"`
	SupplierID     string         `json:"supplier_id"`
	Lines          []PurchaseLine `json:"lines"`
	Notes          string         `json:"notes"`
}

type PurchaseResponse struct {
	Purchase  Purchase `json:"purchase"`
	Duplicate bool     `json:"duplicate"`
}

type StockMove struct {
	ID        string    `json:"id"`
	ProductID string    `json:"product_id"`
	Type      string    `json:"type"`
	Qty       int       `json:"qty"`
	Delta     int       `json:"delta"`
	RefType   string    `json:"ref_type,omitempty"`
	RefID     string    `json:"ref_id,omitempty"`
	Notes     string    `json:"notes,omitempty"`
	CreatedBy string    `json:"created_by"`
	CreatedAt time.Time `json:"created_at"`
}

type StockAdjustRequest struct {
	ProductID string `json:"product_id"`
	Direction string `json:"direction"`
	Qty       int    `json:"qty"`
	Reason    string `json:"reason"`
}

type StockAdjustResponse struct {
	ProductID string    `json:"product_id"`
	NewStock  int       `json:"new_stock"`
	Move      StockMove `json:"move"`
}

type StockReconciliation struct {
	ProductID    string `json:"product_id"`
	CachedStock  int    `json:"cached_stock"`
	MovementSum  int    `json:"movement_sum"`
	Drift        int    `json:"drift"`
	Consistent   bool   `json:"consistent"`
	MovesCounted int    `json:"moves_counted"`
}

type RestockSuggestion struct {
	ProductID     string  `json:"product_id"`
	Name          string  `json:"name"`
	Stock         int     `json:"stock"`
	MinStock      int     `json:"min_stock"`
	SuggestedQty  int     `json:"suggested_qty"`
	OutboundDaily float64 `json:"outbound_daily"`
	Urgency       float64 `json:"urgency"`
	ReasonCode    string  `json:"reason_code"`
}

type RestockResponse struct {
	Suggestions []RestockSuggestion `json:"suggestions"`
	GeneratedAt time.Time           `json:"generated_at"`
	LatencyMS   int64               `json:"latency_ms"`
}

type IntegrityAlert struct {
	ID        string    `json:"id"`
	Workflow  string    `json:"workflow"`
	RefID     string    `json:"ref_id"`
	Step      string    `json:"step"`
	Detail    string    `json:"detail"`
	Resolved  bool      `json:"resolved"`
	CreatedAt time.Time `json:"created_at"`
}

type AuditLog struct {
	ID            string    `json:"id"`
	ActorUsername string    `json:"actor_username"`
	ActorRole     string    `json:"actor_role"`
	Action        string    `json:"action"`
	EntityType    string    `json:"entity_type"`
	EntityID      string    `json:"entity_id"`
	Detail        string    `json:"detail"`
	CreatedAt     time.Time `json:"created_at"`
}

type Actor struct {
	Username string `json:"username"`
	Role     string `json:"role"`
}

type UserAccount struct {
	Username  string    `json:"username"`
	Password  string    `json:"-"`
	Role      string    `json:"role"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	ExpiresAt   string `json:"expires_at"`
}

type CashierUser struct {
	Username  string    `json:"username"`
	Role      string    `json:"role"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

type CashierCreateRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}
