package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"shoplist-sync-server/internal/domain"
	"shoplist-sync-server/internal/repository"
)

const ownLabel = "My list"

// ListService serves the single-operation endpoints. Each write runs as a
// one-operation batch so validation, access checks and transactions are the
// same as for POST /lists/batch.
type ListService struct {
	lists  repository.ListRepository
	access repository.AccessRepository
	batch  *BatchService
	now    func() time.Time
}

func NewListService(lists repository.ListRepository, access repository.AccessRepository, batch *BatchService) *ListService {
	return &ListService{
		lists:  lists,
		access: access,
		batch:  batch,
		now:    time.Now,
	}
}

func (s *ListService) GetLists(ctx context.Context, callerID string) (*domain.ListsResponse, error) {
	owners, err := s.access.AccessibleOwners(ctx, callerID)
	if err != nil {
		return nil, err
	}
	labels, err := s.lists.OwnerLabels(ctx, owners)
	if err != nil {
		return nil, err
	}

	resp := &domain.ListsResponse{Lists: make([]*domain.OwnerList, 0, len(owners))}
	for _, owner := range owners {
		state, err := s.lists.LoadState(ctx, owner)
		if err != nil {
			return nil, err
		}
		name, err := s.access.DisplayName(ctx, owner)
		if err != nil {
			return nil, err
		}
		if name == "" {
			name = owner
		}

		label := labels[owner]
		if label == "" {
			if owner == callerID {
				label = ownLabel
			} else {
				label = fmt.Sprintf("%s's list", name)
			}
		}

		resp.Lists = append(resp.Lists, &domain.OwnerList{
			OwnerID:          owner,
			OwnerLabel:       label,
			OwnerDisplayName: name,
			IsSelf:           owner == callerID,
			State:            state,
		})
	}
	return resp, nil
}

func (s *ListService) ApplyBatch(ctx context.Context, callerID string, ops []domain.Operation) (*domain.BatchResult, error) {
	return s.batch.Apply(ctx, callerID, ops)
}

func (s *ListService) AddItems(ctx context.Context, callerID string, req *domain.AddItemsRequest) (int, error) {
	op := domain.AddItemsOp(req.OwnerID, req.Ingredients, req.Position)
	result, err := s.batch.Apply(ctx, callerID, []domain.Operation{op})
	if err != nil {
		return 0, err
	}
	return result.Inserted, nil
}

// Patch reorders when the request carries an order, otherwise it toggles the
// cross-off state of one label.
func (s *ListService) Patch(ctx context.Context, callerID string, req *domain.PatchListRequest) error {
	var op domain.Operation
	switch {
	case len(req.Order) > 0:
		op = domain.ReorderItemsOp(req.OwnerID, req.Order)
	case req.Label != "":
		at := req.CrossedOffAt
		if req.Crossed != nil {
			if *req.Crossed && at == nil {
				now := s.now().UTC()
				at = &now
			} else if !*req.Crossed {
				at = nil
			}
		}
		op = domain.SetCrossedOffOp(req.OwnerID, req.Label, at)
	default:
		return &ValidationError{Index: -1, Rule: "request must carry either order or label"}
	}
	_, err := s.batch.Apply(ctx, callerID, []domain.Operation{op})
	return err
}

func (s *ListService) UpdateQuantity(ctx context.Context, callerID string, req *domain.UpdateQuantityRequest) error {
	op := domain.UpdateQuantityOp(req.OwnerID, req.Label, req.Quantity)
	_, err := s.batch.Apply(ctx, callerID, []domain.Operation{op})
	return err
}

// Delete removes one label, or clears the whole list when label is empty.
func (s *ListService) Delete(ctx context.Context, callerID, ownerID, label string) error {
	op := domain.ClearListOp(ownerID)
	if strings.TrimSpace(label) != "" {
		op = domain.RemoveItemOp(ownerID, label)
	}
	_, err := s.batch.Apply(ctx, callerID, []domain.Operation{op})
	return err
}

// RenameList sets the caller's own list label.
func (s *ListService) RenameList(ctx context.Context, callerID, label string) (string, error) {
	label = strings.TrimSpace(label)
	if label == "" || len([]rune(label)) > 100 {
		return "", &ValidationError{Index: -1, Rule: "label must be between 1 and 100 characters"}
	}
	if err := s.lists.RenameList(ctx, callerID, label); err != nil {
		return "", err
	}
	if s.batch.notifier != nil {
		s.batch.notifier.ListsChanged(ctx, callerID)
	}
	return label, nil
}
