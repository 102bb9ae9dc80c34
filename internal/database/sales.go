package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/paulmach/orb"
	"github.com/sirupsen/logrus"

	"compvalue/server/internal/comps"
)

const salesColumns = `id, street, city, state, zip_code, property_type, sale_price,
	living_area, bedrooms, bathrooms, COALESCE(sale_date, ''), latitude, longitude`

// InsertSales imports a batch of public-record sales. A sale already present
// (same street, zip code and sale date) is replaced. Sale dates are stored as
// YYYY-MM-DD so they sort chronologically; an unparseable date is stored
// empty and sorts last.
func (d *Database) InsertSales(ctx context.Context, sales []comps.PublicRecord) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO sales
		(street, city, state, zip_code, property_type, sale_price, living_area,
		 bedrooms, bathrooms, sale_date, latitude, longitude, geocoding_attempted)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, s := range sales {
		hasCoords := s.Latitude != nil && s.Longitude != nil
		_, err = stmt.ExecContext(ctx,
			s.Street,
			s.City,
			s.State,
			s.ZipCode,
			s.PropertyType,
			s.SalePrice,
			s.LivingArea,
			s.Bedrooms,
			s.Bathrooms,
			isoDate(s.SaleDate),
			s.Latitude,
			s.Longitude,
			hasCoords,
		)
		if err != nil {
			return fmt.Errorf("failed to insert sale: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// SalesInBound returns sales whose coordinates fall inside bound.
func (d *Database) SalesInBound(ctx context.Context, bound orb.Bound, limit int) ([]comps.PublicRecord, error) {
	query := `SELECT ` + salesColumns + `
		FROM sales
		WHERE latitude BETWEEN ? AND ?
		AND longitude BETWEEN ? AND ?
		ORDER BY sale_date DESC`
	args := []interface{}{bound.Min.Lat(), bound.Max.Lat(), bound.Min.Lon(), bound.Max.Lon()}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	return d.querySales(ctx, query, args...)
}

// SalesByZip returns sales in a zip code, used when the subject has no
// coordinates.
func (d *Database) SalesByZip(ctx context.Context, zip string, limit int) ([]comps.PublicRecord, error) {
	query := `SELECT ` + salesColumns + `
		FROM sales
		WHERE zip_code = ?
		ORDER BY sale_date DESC`
	args := []interface{}{zip}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	return d.querySales(ctx, query, args...)
}

func (d *Database) querySales(ctx context.Context, query string, args ...interface{}) ([]comps.PublicRecord, error) {
	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query sales: %w", err)
	}
	defer rows.Close()

	var sales []comps.PublicRecord
	for rows.Next() {
		var s comps.PublicRecord
		var city, state, zip, propertyType sql.NullString
		var price, area, baths, lat, lon sql.NullFloat64
		var beds sql.NullInt64

		err := rows.Scan(
			&s.ID,
			&s.Street,
			&city,
			&state,
			&zip,
			&propertyType,
			&price,
			&area,
			&beds,
			&baths,
			&s.SaleDate,
			&lat,
			&lon,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan sale: %w", err)
		}

		s.City = city.String
		s.State = state.String
		s.ZipCode = zip.String
		s.PropertyType = propertyType.String
		s.SalePrice = nullFloat(price)
		s.LivingArea = nullFloat(area)
		s.Bathrooms = nullFloat(baths)
		s.Latitude = nullFloat(lat)
		s.Longitude = nullFloat(lon)
		if beds.Valid {
			b := int(beds.Int64)
			s.Bedrooms = &b
		}
		sales = append(sales, s)
	}

	return sales, rows.Err()
}

func isoDate(s string) string {
	t, err := comps.ParseDate(s)
	if err != nil {
		return ""
	}
	return t.Format("2006-01-02")
}

func nullFloat(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}

// Geocoder resolves a street address to coordinates.
type Geocoder interface {
	Geocode(ctx context.Context, street, city, state, zip string) (float64, float64, error)
}

// UpdateMissingCoordinates geocodes imported sales that have no coordinates
// yet. Every row is attempted once; failures are marked so they are not
// retried on the next run.
func (d *Database) UpdateMissingCoordinates(ctx context.Context, geocoder Geocoder, logger *logrus.Logger) error {
	var totalCount int
	err := d.db.QueryRowContext(ctx, `
		SELECT COUNT(*)
		FROM sales
		WHERE (latitude IS NULL OR longitude IS NULL)
		AND geocoding_attempted = 0
	`).Scan(&totalCount)
	if err != nil {
		return fmt.Errorf("failed to count sales: %w", err)
	}

	if totalCount == 0 {
		logger.Info("No sales need geocoding")
		return nil
	}

	logger.Infof("Found %d sales that need geocoding", totalCount)

	var processed, failed int
	batchSize := 10

	for processed+failed < totalCount {
		type pending struct {
			id                      int64
			street, city, state, zip string
		}

		// Read the batch before geocoding so no transaction is held open
		// across network calls.
		rows, err := d.db.QueryContext(ctx, `
			SELECT id, street, COALESCE(city, ''), COALESCE(state, ''), COALESCE(zip_code, '')
			FROM sales
			WHERE (latitude IS NULL OR longitude IS NULL)
			AND geocoding_attempted = 0
			LIMIT ?
		`, batchSize)
		if err != nil {
			return fmt.Errorf("failed to query sales: %w", err)
		}
		var batch []pending
		for rows.Next() {
			var p pending
			if err := rows.Scan(&p.id, &p.street, &p.city, &p.state, &p.zip); err != nil {
				rows.Close()
				return fmt.Errorf("failed to scan row: %w", err)
			}
			batch = append(batch, p)
		}
		rows.Close()

		if len(batch) == 0 {
			return fmt.Errorf("no sales processed in batch, possible data inconsistency. Total processed: %d/%d",
				processed+failed, totalCount)
		}

		for _, p := range batch {
			lat, lon, err := geocoder.Geocode(ctx, p.street, p.city, p.state, p.zip)
			if err != nil {
				logger.WithError(err).WithField("street", p.street).Warn("Failed to geocode sale")
				if _, err := d.db.ExecContext(ctx, "UPDATE sales SET geocoding_attempted = 1 WHERE id = ?", p.id); err != nil {
					return fmt.Errorf("failed to mark geocoding attempt: %w", err)
				}
				failed++
				continue
			}

			_, err = d.db.ExecContext(ctx, `
				UPDATE sales
				SET latitude = ?, longitude = ?, geocoding_attempted = 1
				WHERE id = ?
			`, lat, lon, p.id)
			if err != nil {
				return fmt.Errorf("failed to update coordinates: %w", err)
			}
			processed++
		}

		logger.WithFields(logrus.Fields{
			"processed": processed,
			"failed":    failed,
			"total":     totalCount,
		}).Info("Geocoding progress")
	}

	return nil
}

// CoordinateBackfill runs UpdateMissingCoordinates with a fixed geocoder.
type CoordinateBackfill struct {
	db       *Database
	geocoder Geocoder
	logger   *logrus.Logger
}

func NewCoordinateBackfill(d *Database, geocoder Geocoder, logger *logrus.Logger) *CoordinateBackfill {
	if logger == nil {
		logger = logrus.New()
		logger.SetFormatter(&logrus.JSONFormatter{})
	}
	return &CoordinateBackfill{db: d, geocoder: geocoder, logger: logger}
}

func (b *CoordinateBackfill) BackfillCoordinates(ctx context.Context) error {
	return b.db.UpdateMissingCoordinates(ctx, b.geocoder, b.logger)
}
