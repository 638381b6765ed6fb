package identity

import "gorm.io/gorm"

// ForOwner returns a GORM scope that filters by user_id.
func ForOwner(owner string) func(db *gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		return db.Where("user_id = ?", owner)
	}
}
