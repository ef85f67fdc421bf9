// Package store persists the delivery ledger and the daily threshold-alert
// ledger in a single sqlite database.
package store

import (
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"

	"github.com/bsewatch/bsewatch/internal/models"
)

func OpenDB(path string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(
		&models.DeliveryRecord{},
		&models.ThresholdAlert{},
		&models.MonitoredScrip{},
		&models.Recipient{},
	); err != nil {
		return nil, err
	}
	return db, nil
}

type Store struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// DeliveryExists reports whether a record for this exact (user, news id) pair
// already exists.
func (s *Store) DeliveryExists(userID, newsID string) (bool, error) {
	var count int64
	err := s.db.Model(&models.DeliveryRecord{}).
		Where("user_id = ? AND news_id = ?", userID, newsID).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// RecentByUserScrip returns deliveries to a user for one instrument since the
// cutoff. When headlinePattern is non-empty it is applied as a LIKE filter.
func (s *Store) RecentByUserScrip(userID, scripCode string, since time.Time, headlinePattern string) ([]models.DeliveryRecord, error) {
	q := s.db.Where("user_id = ? AND scrip_code = ? AND created_at >= ?", userID, scripCode, since)
	if headlinePattern != "" {
		q = q.Where("headline LIKE ?", headlinePattern)
	}
	var records []models.DeliveryRecord
	if err := q.Order("created_at desc").Find(&records).Error; err != nil {
		return nil, err
	}
	return records, nil
}

// RecentByNewsID returns deliveries of one announcement to any user since the
// cutoff.
func (s *Store) RecentByNewsID(newsID string, since time.Time) ([]models.DeliveryRecord, error) {
	var records []models.DeliveryRecord
	err := s.db.Where("news_id = ? AND created_at >= ?", newsID, since).
		Find(&records).Error
	if err != nil {
		return nil, err
	}
	return records, nil
}

func (s *Store) CountRecentByUserScrip(userID, scripCode string, since time.Time) (int64, error) {
	var count int64
	err := s.db.Model(&models.DeliveryRecord{}).
		Where("user_id = ? AND scrip_code = ? AND created_at >= ?", userID, scripCode, since).
		Count(&count).Error
	return count, err
}

func (s *Store) InsertDelivery(rec *models.DeliveryRecord) error {
	return s.db.Create(rec).Error
}

// DeleteDeliveriesOlderThan removes ledger entries past the retention cutoff
// and returns the number deleted.
func (s *Store) DeleteDeliveriesOlderThan(cutoff time.Time) (int64, error) {
	res := s.db.Where("created_at < ?", cutoff).Delete(&models.DeliveryRecord{})
	return res.RowsAffected, res.Error
}

type DeliveryStats struct {
	Total            int64 `json:"total_announcements_sent"`
	Last24Hours      int64 `json:"last_24_hours"`
	UniqueUsersToday int64 `json:"unique_users_today"`
}

func (s *Store) Stats() (DeliveryStats, error) {
	var stats DeliveryStats
	if err := s.db.Model(&models.DeliveryRecord{}).Count(&stats.Total).Error; err != nil {
		return stats, err
	}
	dayAgo := time.Now().Add(-24 * time.Hour)
	if err := s.db.Model(&models.DeliveryRecord{}).
		Where("created_at >= ?", dayAgo).
		Count(&stats.Last24Hours).Error; err != nil {
		return stats, err
	}
	now := time.Now()
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	if err := s.db.Model(&models.DeliveryRecord{}).
		Where("created_at >= ?", midnight).
		Distinct("user_id").
		Count(&stats.UniqueUsersToday).Error; err != nil {
		return stats, err
	}
	return stats, nil
}

// AlertExists reports whether a threshold alert was already recorded for the
// four-part key, meaning some process sent it today.
func (s *Store) AlertExists(userID, scripCode, alertDate, alertType string) (bool, error) {
	var count int64
	err := s.db.Model(&models.ThresholdAlert{}).
		Where("user_id = ? AND scrip_code = ? AND alert_date = ? AND alert_type = ?",
			userID, scripCode, alertDate, alertType).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (s *Store) InsertAlert(alert *models.ThresholdAlert) error {
	return s.db.Create(alert).Error
}

func (s *Store) InsertScrip(scrip *models.MonitoredScrip) error {
	return s.db.Create(scrip).Error
}

func (s *Store) InsertRecipient(recipient *models.Recipient) error {
	return s.db.Create(recipient).Error
}

func (s *Store) UserIDs() ([]string, error) {
	var ids []string
	err := s.db.Model(&models.MonitoredScrip{}).Distinct("user_id").Pluck("user_id", &ids).Error
	return ids, err
}

func (s *Store) ScripsForUser(userID string) ([]models.MonitoredScrip, error) {
	var scrips []models.MonitoredScrip
	err := s.db.Where("user_id = ?", userID).Find(&scrips).Error
	return scrips, err
}

func (s *Store) RecipientsForUser(userID string) ([]models.Recipient, error) {
	var recipients []models.Recipient
	err := s.db.Where("user_id = ?", userID).Find(&recipients).Error
	return recipients, err
}
