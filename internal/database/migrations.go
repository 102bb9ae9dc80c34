package database

import "fmt"

func (d *Database) RunMigrations() error {
	// Persisted cache tier, one row per (subject, radius)
	_, err := d.db.Exec(`
		CREATE TABLE IF NOT EXISTS comp_cache (
			subject_id TEXT NOT NULL,
			radius_miles REAL NOT NULL,
			data_source TEXT,
			payload TEXT NOT NULL,
			stale BOOLEAN DEFAULT 0,
			created_at TIMESTAMP NOT NULL,
			expires_at TIMESTAMP,
			PRIMARY KEY (subject_id, radius_miles)
		);
	`)
	if err != nil {
		return fmt.Errorf("failed to create comp_cache table: %v", err)
	}

	_, err = d.db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_comp_cache_expires
		ON comp_cache(expires_at);
	`)
	if err != nil {
		return err
	}

	// Imported public-record sales
	_, err = d.db.Exec(`
		CREATE TABLE IF NOT EXISTS sales (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			street TEXT NOT NULL,
			city TEXT,
			state TEXT,
			zip_code TEXT,
			property_type TEXT,
			sale_price REAL,
			living_area REAL,
			bedrooms INTEGER,
			bathrooms REAL,
			sale_date TEXT,
			latitude REAL,
			longitude REAL,
			geocoding_attempted BOOLEAN DEFAULT 0,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			UNIQUE (street, zip_code, sale_date)
		);
	`)
	if err != nil {
		return fmt.Errorf("failed to create sales table: %v", err)
	}

	// Mark sales that already have coordinates as attempted
	_, err = d.db.Exec(`
		UPDATE sales
		SET geocoding_attempted = 1
		WHERE latitude IS NOT NULL
		AND longitude IS NOT NULL;
	`)
	if err != nil {
		return fmt.Errorf("failed to mark existing coordinates as attempted: %v", err)
	}

	// Create spatial index on coordinates
	_, err = d.db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_sales_coordinates
		ON sales(latitude, longitude);
	`)
	if err != nil {
		return err
	}

	if err := MigrateSchema(d.gorm); err != nil {
		return fmt.Errorf("failed to migrate gorm schema: %w", err)
	}

	return nil
}
