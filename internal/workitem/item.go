// Package workitem defines the unit of work that flows through the pipeline
// and the factory that mints it.
package workitem

import (
	"fmt"
	"sync/atomic"

	"github.com/Iron-Ham/phaseline/internal/errors"
)

// Stage is the processing tag carried by an item.
type Stage int32

const (
	// Created is the tag of an item fresh from the factory.
	Created Stage = iota
	// Processed is the tag applied by the processor.
	Processed
	// Packed is the tag applied by the packer.
	Packed
)

// String returns the upper-case tag name.
func (s Stage) String() string {
	switch s {
	case Created:
		return "CREATED"
	case Processed:
		return "PROCESSED"
	case Packed:
		return "PACKED"
	default:
		return "UNKNOWN"
	}
}

// Valid reports whether s is one of the defined tags.
func (s Stage) Valid() bool {
	return s >= Created && s <= Packed
}

// Category is an immutable item classification.
type Category string

const (
	Standard   Category = "standard"
	Express    Category = "express"
	Bulk       Category = "bulk"
	Fragile    Category = "fragile"
	Perishable Category = "perishable"
	Oversize   Category = "oversize"
)

var categories = []Category{Standard, Express, Bulk, Fragile, Perishable, Oversize}

// Categories returns every defined category.
func Categories() []Category {
	out := make([]Category, len(categories))
	copy(out, categories)
	return out
}

// Valid reports whether c is a defined category.
func (c Category) Valid() bool {
	for _, known := range categories {
		if c == known {
			return true
		}
	}
	return false
}

// Item is a single unit of work. ID and Category never change; the stage
// tag is written only by the worker that currently owns the item but may be
// read from any goroutine.
type Item struct {
	id       uint64
	category Category
	stage    atomic.Int32
}

// New creates an item tagged Created.
func New(id uint64, category Category) (*Item, error) {
	if !category.Valid() {
		return nil, errors.NewValidationError("unknown item category").
			WithField("category").
			WithValue(string(category)).
			WithCause(errors.ErrInvalidCategory)
	}
	return &Item{id: id, category: category}, nil
}

// ID returns the item's unique identifier.
func (it *Item) ID() uint64 { return it.id }

// Category returns the item's category.
func (it *Item) Category() Category { return it.category }

// Stage returns the item's current tag.
func (it *Item) Stage() Stage { return Stage(it.stage.Load()) }

// Advance moves the tag forward by exactly one step to the given stage.
func (it *Item) Advance(to Stage) error {
	if to != Processed && to != Packed {
		return errors.Wrapf(errors.ErrInvalidTransition, "item #%d cannot move to %s", it.id, to)
	}
	from := to - 1
	if !it.stage.CompareAndSwap(int32(from), int32(to)) {
		return errors.Wrapf(errors.ErrInvalidTransition, "item #%d: %s -> %s", it.id, it.Stage(), to)
	}
	return nil
}

// String renders the item as "item #7 [bulk] (PROCESSED)".
func (it *Item) String() string {
	return fmt.Sprintf("item #%d [%s] (%s)", it.id, it.category, it.Stage())
}

// View is a value snapshot of an item for observers.
type View struct {
	ID       uint64
	Category Category
	Stage    Stage
}

// View returns a snapshot of the item.
func (it *Item) View() View {
	return View{ID: it.id, Category: it.category, Stage: it.Stage()}
}
