// Package repository is the persistence surface the services depend on: a
// small generic repository over gorm, filtered by where clauses.
package repository

import (
	"context"
	"errors"
	"fmt"
	"math"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var ErrNotFound = errors.New("record not found")

const (
	DefaultPageSize = 50
	MaxPageSize     = 500
)

type condition struct {
	query any
	args  []any
}

// Filter is a conjunction of gorm where clauses. The zero value matches everything.
type Filter struct {
	conds []condition
	lock  bool
}

func All() Filter { return Filter{} }

func Where(query any, args ...any) Filter {
	return Filter{conds: []condition{{query: query, args: args}}}
}

func ByID(id string) Filter { return Where("id = ?", id) }

func (f Filter) And(other Filter) Filter {
	conds := make([]condition, 0, len(f.conds)+len(other.conds))
	conds = append(conds, f.conds...)
	conds = append(conds, other.conds...)
	return Filter{conds: conds, lock: f.lock || other.lock}
}

// ForUpdate locks the matched rows until the surrounding transaction ends.
// sqlite has no row locks; its single writer already serializes transactions.
func (f Filter) ForUpdate() Filter {
	f.lock = true
	return f
}

func (f Filter) apply(tx *gorm.DB) *gorm.DB {
	if f.lock && tx.Dialector.Name() != "sqlite" {
		tx = tx.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	for _, c := range f.conds {
		tx = tx.Where(c.query, c.args...)
	}
	return tx
}

type PageRequest struct {
	Number  int
	Size    int
	OrderBy string
	Desc    bool
}

func (p PageRequest) normalize() PageRequest {
	if p.Number < 1 {
		p.Number = 1
	}
	if p.Size < 1 {
		p.Size = DefaultPageSize
	}
	if p.Size > MaxPageSize {
		p.Size = MaxPageSize
	}
	if p.OrderBy == "" {
		p.OrderBy = "created_at"
		p.Desc = true
	}
	return p
}

type Page[T any] struct {
	PageNumber int   `json:"pageNumber"`
	PageSize   int   `json:"pageSize"`
	TotalPages int   `json:"totalPages"`
	TotalItems int64 `json:"totalItems"`
	Items      []T   `json:"items"`
}

type Repository[T any] interface {
	Get(ctx context.Context, f Filter) (*T, error)
	Create(ctx context.Context, entity *T) error
	UpdateWhere(ctx context.Context, f Filter, entity *T) (bool, error)
	Count(ctx context.Context, f Filter) (int64, error)
	List(ctx context.Context, f Filter, page PageRequest) (Page[T], error)
	DeleteWhere(ctx context.Context, f Filter) (bool, error)
}

type GormRepository[T any] struct {
	db *gorm.DB
}

var _ Repository[struct{}] = (*GormRepository[struct{}])(nil)

func NewGormRepository[T any](db *gorm.DB) *GormRepository[T] {
	return &GormRepository[T]{db: db}
}

func (r *GormRepository[T]) query(ctx context.Context, f Filter) *gorm.DB {
	return f.apply(r.db.WithContext(ctx).Model(new(T)))
}

// Get returns the first record matching f, or ErrNotFound.
func (r *GormRepository[T]) Get(ctx context.Context, f Filter) (*T, error) {
	var out T
	if err := r.query(ctx, f).First(&out).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get %T: %w", out, err)
	}
	return &out, nil
}

func (r *GormRepository[T]) Create(ctx context.Context, entity *T) error {
	if err := r.db.WithContext(ctx).Create(entity).Error; err != nil {
		return fmt.Errorf("create %T: %w", entity, err)
	}
	return nil
}

// UpdateWhere replaces every column except id and created_at on the records
// matching f. It reports whether any row was touched.
func (r *GormRepository[T]) UpdateWhere(ctx context.Context, f Filter, entity *T) (bool, error) {
	res := r.query(ctx, f).Select("*").Omit("id", "created_at").Updates(entity)
	if res.Error != nil {
		return false, fmt.Errorf("update %T: %w", entity, res.Error)
	}
	return res.RowsAffected > 0, nil
}

func (r *GormRepository[T]) Count(ctx context.Context, f Filter) (int64, error) {
	var n int64
	if err := r.query(ctx, f).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("count %T: %w", new(T), err)
	}
	return n, nil
}

func (r *GormRepository[T]) List(ctx context.Context, f Filter, page PageRequest) (Page[T], error) {
	page = page.normalize()

	total, err := r.Count(ctx, f)
	if err != nil {
		return Page[T]{}, err
	}

	items := make([]T, 0, page.Size)
	err = r.query(ctx, f).
		Order(clause.OrderByColumn{Column: clause.Column{Name: page.OrderBy}, Desc: page.Desc}).
		Offset((page.Number - 1) * page.Size).
		Limit(page.Size).
		Find(&items).Error
	if err != nil {
		return Page[T]{}, fmt.Errorf("list %T: %w", new(T), err)
	}

	return Page[T]{
		PageNumber: page.Number,
		PageSize:   page.Size,
		TotalPages: int(math.Ceil(float64(total) / float64(page.Size))),
		TotalItems: total,
		Items:      items,
	}, nil
}

func (r *GormRepository[T]) DeleteWhere(ctx context.Context, f Filter) (bool, error) {
	res := r.query(ctx, f).Delete(new(T))
	if res.Error != nil {
		return false, fmt.Errorf("delete %T: %w", new(T), res.Error)
	}
	return res.RowsAffected > 0, nil
}
