// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package params

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// ErrSetNotFound indicates the referenced parameter set does not exist.
var ErrSetNotFound = errors.New("parameter set not found")

// ErrItemNotFound indicates the referenced item does not exist in the set.
var ErrItemNotFound = errors.New("parameter item not found")

// AuditAction classifies an audit entry.
type AuditAction string

const (
	AuditCreate     AuditAction = "create"
	AuditUpdate     AuditAction = "update"
	AuditDeactivate AuditAction = "deactivate"
)

// AuditEntry is one append-only change record.
type AuditEntry struct {
	ID        string      `json:"id"`
	SetID     string      `json:"setId"`
	ItemID    string      `json:"itemId"`
	ParamCode string      `json:"paramCode"`
	Action    AuditAction `json:"action"`
	Before    *Item       `json:"before,omitempty"`
	After     *Item       `json:"after,omitempty"`
	Actor     string      `json:"actor,omitempty"`
	At        time.Time   `json:"at"`
}

// AuditLog is the append-only change log collaborator.
type AuditLog interface {
	Append(ctx context.Context, entry AuditEntry) error
}

// SetStore is the parameter-set persistence collaborator.
type SetStore interface {
	GetSet(ctx context.Context, setID string) (*Set, error)
	PutSet(ctx context.Context, set *Set) error
}

// Service orchestrates parameter writes and reads.
//
// Concurrency:
//
//	Writes are not transactionally isolated against concurrent writers.
//	Each write independently re-validates against the freshly loaded set
//	and appends to the audit log, so concurrent conflicting writes settle
//	last-write-wins with the full history preserved in the log.
type Service struct {
	store  SetStore
	audit  AuditLog
	logger *slog.Logger
	now    func() time.Time
}

// NewService creates a parameter service.
func NewService(store SetStore, audit AuditLog, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, audit: audit, logger: logger, now: time.Now}
}

// Resolve loads the set and resolves it against the request context.
func (s *Service) Resolve(ctx context.Context, setID string, rc Context) ([]Resolved, error) {
	set, err := s.store.GetSet(ctx, setID)
	if err != nil {
		return nil, err
	}
	if set == nil {
		return nil, fmt.Errorf("%w: %s", ErrSetNotFound, setID)
	}
	return Resolve(set, rc), nil
}

// CreateItem validates and appends a new item to the set.
func (s *Service) CreateItem(ctx context.Context, setID string, it Item, actor string) (*Item, error) {
	set, err := s.loadSet(ctx, setID)
	if err != nil {
		return nil, err
	}

	it.ID = uuid.NewString()
	it.IsActive = true
	it.UpdatedAt = s.now()
	if err := s.validateWrite(set, &it); err != nil {
		return nil, err
	}

	set.Items = append(set.Items, it)
	if err := s.store.PutSet(ctx, set); err != nil {
		return nil, err
	}
	s.appendAudit(ctx, AuditEntry{
		SetID: setID, ItemID: it.ID, ParamCode: it.ParamCode,
		Action: AuditCreate, After: &it, Actor: actor,
	})
	return &it, nil
}

// UpdateItem validates and replaces an existing item in place.
func (s *Service) UpdateItem(ctx context.Context, setID string, it Item, actor string) (*Item, error) {
	set, err := s.loadSet(ctx, setID)
	if err != nil {
		return nil, err
	}
	idx := indexOfItem(set, it.ID)
	if idx < 0 {
		return nil, fmt.Errorf("%w: %s", ErrItemNotFound, it.ID)
	}

	before := set.Items[idx]
	it.IsActive = true
	it.UpdatedAt = s.now()
	if err := s.validateWrite(set, &it); err != nil {
		return nil, err
	}

	set.Items[idx] = it
	if err := s.store.PutSet(ctx, set); err != nil {
		return nil, err
	}
	s.appendAudit(ctx, AuditEntry{
		SetID: setID, ItemID: it.ID, ParamCode: it.ParamCode,
		Action: AuditUpdate, Before: &before, After: &it, Actor: actor,
	})
	return &it, nil
}

// DeactivateItem soft-deletes an item. Items are never physically removed.
func (s *Service) DeactivateItem(ctx context.Context, setID, itemID, actor string) error {
	set, err := s.loadSet(ctx, setID)
	if err != nil {
		return err
	}
	idx := indexOfItem(set, itemID)
	if idx < 0 {
		return fmt.Errorf("%w: %s", ErrItemNotFound, itemID)
	}

	before := set.Items[idx]
	set.Items[idx].IsActive = false
	set.Items[idx].UpdatedAt = s.now()
	if err := s.store.PutSet(ctx, set); err != nil {
		return err
	}
	after := set.Items[idx]
	s.appendAudit(ctx, AuditEntry{
		SetID: setID, ItemID: itemID, ParamCode: before.ParamCode,
		Action: AuditDeactivate, Before: &before, After: &after, Actor: actor,
	})
	return nil
}

func (s *Service) validateWrite(set *Set, it *Item) error {
	if err := ValidateItem(it); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidItem, err)
	}
	if err := CheckScopeUniqueness(set, it); err != nil {
		return err
	}
	return CheckExpressionRefs(set, it)
}

func (s *Service) loadSet(ctx context.Context, setID string) (*Set, error) {
	set, err := s.store.GetSet(ctx, setID)
	if err != nil {
		return nil, err
	}
	if set == nil {
		return nil, fmt.Errorf("%w: %s", ErrSetNotFound, setID)
	}
	return set, nil
}

// appendAudit records the change. The write has already landed; a log
// failure is reported but does not unwind it.
func (s *Service) appendAudit(ctx context.Context, entry AuditEntry) {
	if s.audit == nil {
		return
	}
	entry.ID = uuid.NewString()
	entry.At = s.now()
	if err := s.audit.Append(ctx, entry); err != nil {
		s.logger.Error("parameter audit append failed", "set_id", entry.SetID, "item_id", entry.ItemID, "error", err)
	}
}

func indexOfItem(set *Set, itemID string) int {
	for i := range set.Items {
		if set.Items[i].ID == itemID {
			return i
		}
	}
	return -1
}
