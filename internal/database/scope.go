package database

import "gorm.io/gorm"

// tenantScope narrows a query to one tenant. A nil tenant sees every row.
func tenantScope(tenantID *string) func(*gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		if tenantID == nil {
			return db
		}
		return db.Where("tenant_id = ?", *tenantID)
	}
}

// exactTenant matches the owner exactly, treating nil as the instance scope.
func exactTenant(tenantID *string) func(*gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		if tenantID == nil {
			return db.Where("tenant_id IS NULL")
		}
		return db.Where("tenant_id = ?", *tenantID)
	}
}
