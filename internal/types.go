package internal

import (
	"time"

	"github.com/shopspring/decimal"
)

type RecordSource string

const (
	SourceScreenshot RecordSource = "screenshot"
	SourceEmailText  RecordSource = "email_text"
	SourceEmailHTML  RecordSource = "email_html_table"
	SourceXLSX       RecordSource = "xlsx"
	SourcePDF        RecordSource = "pdf"
)

type OrderItem struct {
	Name       string
	Quantity   int
	UnitValue  decimal.Decimal
	TotalValue decimal.Decimal
	Weight     *decimal.Decimal
	HSCode     *string
}

// OrderRecord is one extracted order. Numeric fields are already normalized:
// anything the extractor could not read is zero, never absent.
type OrderRecord struct {
	ID             string
	DocID          string
	ScreenshotID   *string
	Position       int
	Source         RecordSource
	CustomerName   string
	Items          []OrderItem
	OrderTotal     decimal.Decimal
	TotalPieces    int
	TrackingNumber *string
	Warnings       []string
	CreatedAt      string
}

type DocStatus string

const (
	DocOpen     DocStatus = "open"
	DocReviewed DocStatus = "reviewed"
	DocExported DocStatus = "exported"
)

type Doc struct {
	ID            string
	Name          string
	Status        DocStatus
	HumanReviewed bool
	PackageNumber *int
	CreatedAt     string
	UpdatedAt     string
}

type ScreenshotStatus string

const (
	ScreenshotPending   ScreenshotStatus = "pending"
	ScreenshotExtracted ScreenshotStatus = "extracted"
	ScreenshotFailed    ScreenshotStatus = "failed"
)

type Screenshot struct {
	ID        string
	DocID     string
	Hash      string
	Path      string
	MimeType  string
	Source    string
	Status    ScreenshotStatus
	Error     *string
	CreatedAt string
}

// SplitOverride is a human edit of one computed declaration, keyed by
// customer and split index.
type SplitOverride struct {
	DocID    string
	Customer string
	Index    int
	Name     *string
	Value    *decimal.Decimal
}

type FetchedMailMessage struct {
	Provider   string
	MessageID  string
	Subject    string
	From       string
	ReceivedAt string
	Raw        []byte
}

type MailRow struct {
	ID         int
	Provider   string
	MessageID  string
	Subject    string
	Sender     string
	ReceivedAt string
	Hash       string
	Status     string
	RawRef     string
	DocID      *string
}

type RecentCustomer struct {
	Name      string
	TouchedAt time.Time
}
