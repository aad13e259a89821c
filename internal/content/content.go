// Package content provides the store of generated artifacts awaiting
// ticket submission.
package content

import (
	"errors"
	"fmt"
	"strings"

	"github.com/zulandar/netmaker/internal/models"
	"gorm.io/gorm"
)

// AddOpts holds parameters for recording a new content item.
type AddOpts struct {
	Description string
	DisplayName string
	CreatorName string
	FilePath    string
	Keywords    []string
	SeriesName  string
}

// ListFilters holds optional filters for listing content.
type ListFilters struct {
	UnclaimedFor models.Kind // only items this kind has not consumed
	Limit        int
}

// Add inserts a content item. Items are never updated afterwards except to
// record a ticket claim, and never deleted.
func Add(db *gorm.DB, opts AddOpts) (*models.ContentItem, error) {
	if strings.TrimSpace(opts.Description) == "" {
		return nil, fmt.Errorf("content: description is required")
	}
	if opts.FilePath == "" {
		return nil, fmt.Errorf("content: file path is required")
	}
	creator := opts.CreatorName
	if creator == "" {
		creator = models.DefaultCreatorName
	}

	item := models.ContentItem{
		Description: opts.Description,
		DisplayName: opts.DisplayName,
		CreatorName: creator,
		FilePath:    opts.FilePath,
		Keywords:    strings.Join(opts.Keywords, ", "),
		SeriesName:  opts.SeriesName,
	}
	if err := db.Create(&item).Error; err != nil {
		return nil, fmt.Errorf("content: add: %w", err)
	}
	return &item, nil
}

// Get retrieves a content item by ID.
func Get(db *gorm.DB, id uint) (*models.ContentItem, error) {
	var item models.ContentItem
	if err := db.Where("id = ?", id).First(&item).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("content: not found: %d", id)
		}
		return nil, fmt.Errorf("content: get %d: %w", id, err)
	}
	return &item, nil
}

// List returns content items matching filters, oldest first.
func List(db *gorm.DB, filters ListFilters) ([]models.ContentItem, error) {
	q := db.Model(&models.ContentItem{})
	if filters.UnclaimedFor != "" {
		col, ok := filters.UnclaimedFor.ClaimColumn()
		if !ok {
			return nil, fmt.Errorf("content: kind %s does not consume content", filters.UnclaimedFor)
		}
		q = q.Where(col + " IS NULL")
	}
	if filters.Limit > 0 {
		q = q.Limit(filters.Limit)
	}

	var items []models.ContentItem
	if err := q.Order("id ASC").Find(&items).Error; err != nil {
		return nil, fmt.Errorf("content: list: %w", err)
	}
	return items, nil
}

// Count returns the total number of content items.
func Count(db *gorm.DB) (int64, error) {
	var n int64
	if err := db.Model(&models.ContentItem{}).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("content: count: %w", err)
	}
	return n, nil
}
