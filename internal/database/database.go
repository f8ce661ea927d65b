package database

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gluk-w/termhub/internal/config"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var DB *gorm.DB

func Init() error {
	dbPath := config.Cfg.DatabasePath
	if dbPath == "" {
		dbPath = filepath.Join(config.Cfg.DataPath, "termhub.db")
	}
	dbDir := filepath.Dir(dbPath)
	if dbDir != "" {
		if err := os.MkdirAll(dbDir, 0755); err != nil {
			return fmt.Errorf("create db directory: %w", err)
		}
	}

	var err error
	DB, err = gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}

	sqlDB, err := DB.DB()
	if err != nil {
		return fmt.Errorf("get sql.DB: %w", err)
	}
	if _, err := sqlDB.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return fmt.Errorf("set WAL mode: %w", err)
	}

	if err := DB.AutoMigrate(&Project{}, &SessionRecord{}, &BufferRecord{}, &Note{}, &Setting{}); err != nil {
		return fmt.Errorf("auto-migrate: %w", err)
	}

	return nil
}

// InitMemory opens an in-memory database for tests.
func InitMemory() error {
	var err error
	DB, err = gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return fmt.Errorf("open memory database: %w", err)
	}
	return DB.AutoMigrate(&Project{}, &SessionRecord{}, &BufferRecord{}, &Note{}, &Setting{})
}

func Close() error {
	if DB != nil {
		sqlDB, err := DB.DB()
		if err != nil {
			return err
		}
		return sqlDB.Close()
	}
	return nil
}

func GetSetting(key string) (string, error) {
	var s Setting
	if err := DB.Where("key = ?", key).First(&s).Error; err != nil {
		return "", err
	}
	return s.Value, nil
}

func SetSetting(key, value string) error {
	return DB.Where("key = ?", key).Assign(Setting{Value: value}).FirstOrCreate(&Setting{Key: key}).Error
}

// Session record helpers

func SaveSession(rec *SessionRecord) error {
	return DB.Save(rec).Error
}

func GetSession(id string) (*SessionRecord, error) {
	var rec SessionRecord
	if err := DB.First(&rec, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &rec, nil
}

func ListSessions() ([]SessionRecord, error) {
	var recs []SessionRecord
	if err := DB.Find(&recs).Error; err != nil {
		return nil, err
	}
	return recs, nil
}

func ListProjectSessions(projectID string) ([]SessionRecord, error) {
	var recs []SessionRecord
	if err := DB.Where("project_id = ?", projectID).Find(&recs).Error; err != nil {
		return nil, err
	}
	return recs, nil
}

func DeleteSession(id string) error {
	return DB.Delete(&SessionRecord{}, "id = ?", id).Error
}

// Buffer record helpers

// SaveBuffer upserts a buffer snapshot in a single transaction.
func SaveBuffer(rec *BufferRecord) error {
	return DB.Transaction(func(tx *gorm.DB) error {
		return tx.Save(rec).Error
	})
}

func GetBuffer(sessionID string) (*BufferRecord, error) {
	var rec BufferRecord
	if err := DB.First(&rec, "session_id = ?", sessionID).Error; err != nil {
		return nil, err
	}
	return &rec, nil
}

func DeleteBuffer(sessionID string) error {
	return DB.Delete(&BufferRecord{}, "session_id = ?", sessionID).Error
}
