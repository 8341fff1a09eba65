package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"

	"shoplist-sync-server/internal/domain"
	"shoplist-sync-server/internal/ingredient"
	"shoplist-sync-server/internal/repository"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

const DefaultMaxBatchOperations = 200

// ChangeNotifier is told which owners' lists changed once a batch commits.
type ChangeNotifier interface {
	ListsChanged(ctx context.Context, ownerIDs ...string)
}

type BatchService struct {
	lists    repository.ListRepository
	access   repository.AccessRepository
	notifier ChangeNotifier
	parse    ingredient.Func
	validate *validator.Validate
	maxOps   int
	newID    func() string
}

func NewBatchService(
	lists repository.ListRepository,
	access repository.AccessRepository,
	notifier ChangeNotifier,
	maxOps int,
) *BatchService {
	if maxOps <= 0 {
		maxOps = DefaultMaxBatchOperations
	}
	return &BatchService{
		lists:    lists,
		access:   access,
		notifier: notifier,
		parse:    ingredient.Parse,
		validate: validator.New(),
		maxOps:   maxOps,
		newID:    uuid.NewString,
	}
}

type parsedIngredient struct {
	input  domain.IngredientInput
	parsed ingredient.Parsed
}

// preparedOp is an operation after validation: owner defaulted, labels
// normalized, ingredients parsed.
type preparedOp struct {
	op          domain.Operation
	ownerID     string
	key         string
	keys        []string
	ingredients []parsedIngredient
}

// Apply validates ops, checks access to every owner they touch and then
// applies them in order inside one transaction. Nothing is written unless
// every operation succeeds.
func (s *BatchService) Apply(ctx context.Context, callerID string, ops []domain.Operation) (*domain.BatchResult, error) {
	prepared, err := s.prepare(callerID, ops)
	if err != nil {
		return nil, err
	}

	owners := distinctOwners(prepared)
	for _, owner := range owners {
		ok, err := s.access.CanAccess(ctx, callerID, owner)
		if err != nil {
			return nil, fmt.Errorf("failed to check access: %w", err)
		}
		if !ok {
			return nil, &ForbiddenError{OwnerID: owner}
		}
	}

	result := &domain.BatchResult{}
	err = s.lists.WithTx(ctx, func(tx repository.ListTx) error {
		for _, owner := range owners {
			if err := tx.LockOwner(ctx, owner); err != nil {
				return err
			}
		}
		for i, p := range prepared {
			inserted, err := s.execute(ctx, tx, p)
			if err != nil {
				return &TransactionAbortError{Index: i, Type: p.op.Type, Err: err}
			}
			result.Inserted += inserted
			result.Applied++
		}
		return nil
	})
	if err != nil {
		log.Printf("[Batch] user=%s rejected batch of %d: %v", callerID, len(ops), err)
		return nil, err
	}

	log.Printf("[Batch] user=%s applied=%d inserted=%d owners=%v", callerID, result.Applied, result.Inserted, owners)
	if s.notifier != nil {
		s.notifier.ListsChanged(ctx, owners...)
	}
	return result, nil
}

func (s *BatchService) prepare(callerID string, ops []domain.Operation) ([]preparedOp, error) {
	if len(ops) == 0 {
		return nil, &ValidationError{Index: -1, Rule: "batch must contain at least one operation"}
	}
	if len(ops) > s.maxOps {
		return nil, &ValidationError{Index: -1, Rule: fmt.Sprintf("batch exceeds %d operations", s.maxOps)}
	}

	prepared := make([]preparedOp, len(ops))
	for i, op := range ops {
		if err := s.validate.Struct(op); err != nil {
			return nil, &ValidationError{Index: i, Rule: describeValidation(err)}
		}

		p := preparedOp{op: op, ownerID: strings.TrimSpace(op.OwnerID)}
		if p.ownerID == "" {
			p.ownerID = callerID
		}

		switch op.Type {
		case domain.OpAddItems:
			if len(op.Ingredients) == 0 {
				return nil, &ValidationError{Index: i, Rule: "ingredients are required"}
			}
			for _, in := range op.Ingredients {
				if parsed, ok := s.parse(in.Text); ok {
					p.ingredients = append(p.ingredients, parsedIngredient{input: in, parsed: parsed})
				}
			}
			if len(p.ingredients) == 0 {
				return nil, &ValidationError{Index: i, Rule: "no ingredient could be normalized"}
			}

		case domain.OpRemoveItem, domain.OpSetCrossedOff, domain.OpUpdateQuantity:
			p.key = ingredient.NormalizeLabel(op.Label)
			if p.key == "" {
				return nil, &ValidationError{Index: i, Rule: "label is required"}
			}
			if op.Type == domain.OpUpdateQuantity && strings.TrimSpace(op.Quantity) == "" {
				return nil, &ValidationError{Index: i, Rule: "quantity is required"}
			}

		case domain.OpReorderItems:
			for _, label := range op.Order {
				if key := ingredient.NormalizeLabel(label); key != "" {
					p.keys = append(p.keys, key)
				}
			}
			if len(p.keys) == 0 {
				return nil, &ValidationError{Index: i, Rule: "order must name at least one label"}
			}
		}

		prepared[i] = p
	}
	return prepared, nil
}

func (s *BatchService) execute(ctx context.Context, tx repository.ListTx, p preparedOp) (int, error) {
	switch p.op.Type {
	case domain.OpAddItems:
		return s.addItems(ctx, tx, p)

	case domain.OpRemoveItem:
		_, err := tx.DeleteRecord(ctx, p.ownerID, p.key)
		return 0, err

	case domain.OpClearList:
		_, err := tx.ClearOwner(ctx, p.ownerID)
		return 0, err

	case domain.OpReorderItems:
		current, err := tx.Orders(ctx, p.ownerID)
		if err != nil {
			return 0, err
		}
		for key, order := range domain.ReorderPlan(current, p.keys) {
			if current[key] == order {
				continue
			}
			if err := tx.SetOrder(ctx, p.ownerID, key, order); err != nil {
				return 0, err
			}
		}
		return 0, nil

	case domain.OpUpdateQuantity:
		rec, err := tx.FindRecord(ctx, p.ownerID, p.key)
		if errors.Is(err, repository.ErrRecordNotFound) {
			return 0, &NotFoundError{OwnerID: p.ownerID, Label: p.op.Label}
		}
		if err != nil {
			return 0, err
		}
		quantity := strings.TrimSpace(p.op.Quantity)
		amount, measure := ingredient.SplitQuantity(quantity)
		entry := domain.QuantityEntry{
			ID:                s.newID(),
			QuantityText:      quantity,
			AmountValue:       amount,
			MeasureText:       measure,
			SourceRecipeTitle: domain.MergedSourceTitle(rec.Entries),
		}
		return 0, tx.ReplaceEntries(ctx, p.ownerID, p.key, []domain.QuantityEntry{entry})

	case domain.OpSetCrossedOff:
		found, err := tx.SetCrossedOff(ctx, p.ownerID, p.key, p.op.CrossedOffAt)
		if err != nil {
			return 0, err
		}
		if !found {
			return 0, &NotFoundError{OwnerID: p.ownerID, Label: p.op.Label}
		}
		return 0, nil
	}
	return 0, fmt.Errorf("unsupported operation %q", p.op.Type)
}

func (s *BatchService) addItems(ctx context.Context, tx repository.ListTx, p preparedOp) (int, error) {
	existing := make(map[string]bool)
	var fresh []string
	for _, it := range p.ingredients {
		key := it.parsed.NormalizedLabel
		if _, seen := existing[key]; seen {
			continue
		}
		_, err := tx.FindRecord(ctx, p.ownerID, key)
		switch {
		case err == nil:
			existing[key] = true
		case errors.Is(err, repository.ErrRecordNotFound):
			existing[key] = false
			fresh = append(fresh, key)
		default:
			return 0, err
		}
	}

	min, max, nonEmpty, err := tx.OrderBounds(ctx, p.ownerID)
	if err != nil {
		return 0, err
	}
	position := p.op.Position
	if position == "" {
		position = domain.PositionEnd
	}
	orders := domain.NewOrders(min, max, nonEmpty, len(fresh), position)
	orderOf := make(map[string]int64, len(fresh))
	for i, key := range fresh {
		orderOf[key] = orders[i]
	}

	inserted := 0
	for _, it := range p.ingredients {
		key := it.parsed.NormalizedLabel
		entry := domain.QuantityEntry{
			ID:                s.newID(),
			QuantityText:      it.parsed.QuantityText,
			AmountValue:       it.parsed.AmountValue,
			MeasureText:       it.parsed.MeasureText,
			SourceRecipeID:    it.input.SourceRecipeID,
			SourceRecipeTitle: it.input.SourceRecipeTitle,
		}
		if existing[key] {
			if err := tx.AppendEntry(ctx, p.ownerID, key, entry); err != nil {
				return inserted, err
			}
			if _, err := tx.SetCrossedOff(ctx, p.ownerID, key, nil); err != nil {
				return inserted, err
			}
		} else {
			rec := &domain.ListRecord{
				Label:   it.parsed.Label,
				Order:   orderOf[key],
				Entries: []domain.QuantityEntry{entry},
			}
			if err := tx.InsertRecord(ctx, p.ownerID, key, rec); err != nil {
				return inserted, err
			}
			existing[key] = true
		}
		inserted++
	}
	return inserted, nil
}

func distinctOwners(prepared []preparedOp) []string {
	seen := make(map[string]bool)
	var owners []string
	for _, p := range prepared {
		if !seen[p.ownerID] {
			seen[p.ownerID] = true
			owners = append(owners, p.ownerID)
		}
	}
	sort.Strings(owners)
	return owners
}

func describeValidation(err error) string {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		return fmt.Sprintf("field %s failed %q", fe.Namespace(), fe.Tag())
	}
	return err.Error()
}
