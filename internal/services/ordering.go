package services

import (
	"errors"
	"fmt"
	"math"

	"gorm.io/gorm"
)

var (
	ErrInvalidOrder = errors.New("invalid reorder payload")
	ErrUnknownID    = errors.New("reorder references an unknown id")
)

type OrderUpdate struct {
	ID    uint
	Order int
}

// ParseOrderUpdates validates client entries of the form {"id": n, orderKey: m}.
// Both values must be JSON integers and ids must not repeat.
func ParseOrderUpdates(entries []map[string]any, orderKey string) ([]OrderUpdate, error) {
	if len(entries) == 0 {
		return nil, fmt.Errorf("%w: no entries", ErrInvalidOrder)
	}

	seen := make(map[uint]struct{}, len(entries))
	updates := make([]OrderUpdate, 0, len(entries))
	for i, entry := range entries {
		id, ok := jsonInt(entry["id"])
		if !ok || id <= 0 {
			return nil, fmt.Errorf("%w: entry %d has a non-integer id", ErrInvalidOrder, i)
		}
		order, ok := jsonInt(entry[orderKey])
		if !ok {
			return nil, fmt.Errorf("%w: entry %d has a non-integer %s", ErrInvalidOrder, i, orderKey)
		}
		if _, dup := seen[uint(id)]; dup {
			return nil, fmt.Errorf("%w: id %d listed twice", ErrInvalidOrder, id)
		}
		seen[uint(id)] = struct{}{}
		updates = append(updates, OrderUpdate{ID: uint(id), Order: int(order)})
	}
	return updates, nil
}

func jsonInt(v any) (int64, bool) {
	f, ok := v.(float64)
	if !ok || math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) {
		return 0, false
	}
	if f > math.MaxInt32 || f < math.MinInt32 {
		return 0, false
	}
	return int64(f), true
}

type OrderingService struct{}

func NewOrderingService() *OrderingService {
	return &OrderingService{}
}

// Apply writes every update in one transaction. An id outside scope aborts
// the batch with ErrUnknownID and nothing is written.
func (s *OrderingService) Apply(db *gorm.DB, model interface{}, column string, scope func(*gorm.DB) *gorm.DB, updates []OrderUpdate) error {
	return db.Transaction(func(tx *gorm.DB) error {
		for _, u := range updates {
			q := tx.Model(model)
			if scope != nil {
				q = q.Scopes(scope)
			}
			result := q.Where("id = ?", u.ID).UpdateColumn(column, u.Order)
			if result.Error != nil {
				return result.Error
			}
			if result.RowsAffected == 0 {
				return fmt.Errorf("%w: %d", ErrUnknownID, u.ID)
			}
		}
		return nil
	})
}
