package models

import (
	"context"
	"time"
)

const AnnDateLayout = "2006-01-02 15:04:05"

// Announcement is a single regulatory disclosure as returned by the exchange.
// It is never mutated after fetch.
type Announcement struct {
	NewsID      string    `json:"news_id"`
	Headline    string    `json:"headline"`
	CompanyName string    `json:"company_name"`
	ScripCode   string    `json:"scrip_code"`
	Category    string    `json:"category"`
	AnnDT       time.Time `json:"ann_dt"`
	PDFName     string    `json:"pdf_name"`
}

func (a Announcement) AnnDateString() string {
	if a.AnnDT.IsZero() {
		return ""
	}
	return a.AnnDT.Format(AnnDateLayout)
}

// DeliveryRecord is the persisted ledger entry for one announcement delivered
// to one user. Created exactly once per delivery, read-only afterwards.
type DeliveryRecord struct {
	ID        uint   `gorm:"primaryKey"`
	UserID    string `gorm:"index:idx_user_news;index:idx_user_scrip;size:64"`
	NewsID    string `gorm:"index:idx_user_news;index;size:64"`
	ScripCode string `gorm:"index:idx_user_scrip;size:16"`
	Headline  string `gorm:"type:text"`
	PDFName   string `gorm:"size:256"`
	AnnDate   string `gorm:"size:32"`
	Caption   string `gorm:"type:text"`
	Category  string `gorm:"size:64"`
	CreatedAt time.Time `gorm:"index"`
}

// ThresholdAlert records one price-spike notification. At most one row ever
// exists per (user, scrip, date, type); creation is terminal.
type ThresholdAlert struct {
	ID        uint   `gorm:"primaryKey"`
	UserID    string `gorm:"uniqueIndex:uniq_daily_alert;size:64"`
	ScripCode string `gorm:"uniqueIndex:uniq_daily_alert;size:16"`
	AlertDate string `gorm:"uniqueIndex:uniq_daily_alert;size:16"`
	AlertType string `gorm:"uniqueIndex:uniq_daily_alert;size:32"`
	CreatedAt time.Time
}

// MonitoredScrip maps a user to an instrument they watch.
type MonitoredScrip struct {
	ID          uint   `gorm:"primaryKey"`
	UserID      string `gorm:"index;size:64"`
	BSECode     string `gorm:"index;size:16"`
	CompanyName string `gorm:"size:256"`
}

// Recipient is a telegram chat that receives a user's notifications.
type Recipient struct {
	ID       uint   `gorm:"primaryKey"`
	UserID   string `gorm:"index;size:64"`
	ChatID   int64
	UserName string `gorm:"size:128"`
}

type Quote struct {
	ScripCode string  `json:"scrip_code"`
	LastPrice float64 `json:"last_price"`
	ChangePct float64 `json:"change_pct"`
}

type AnnouncementSource interface {
	FetchAnnouncements(ctx context.Context, scripCode string, since time.Time) ([]Announcement, error)
}
