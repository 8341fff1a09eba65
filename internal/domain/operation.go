package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

type OperationType string

const (
	OpAddItems       OperationType = "ADD_ITEMS"
	OpRemoveItem     OperationType = "REMOVE_ITEM"
	OpClearList      OperationType = "CLEAR_LIST"
	OpReorderItems   OperationType = "REORDER_ITEMS"
	OpUpdateQuantity OperationType = "UPDATE_QUANTITY"
	OpSetCrossedOff  OperationType = "SET_CROSSED_OFF"
)

type Position string

const (
	PositionStart Position = "start"
	PositionEnd   Position = "end"
)

// IngredientInput is one free-text ingredient line. On the wire it is either a
// bare string or an object carrying recipe attribution.
type IngredientInput struct {
	Text              string `json:"text" validate:"max=500"`
	SourceRecipeID    string `json:"sourceRecipeId,omitempty" validate:"max=100"`
	SourceRecipeTitle string `json:"sourceRecipeTitle,omitempty" validate:"max=200"`
}

func (in *IngredientInput) UnmarshalJSON(data []byte) error {
	var text string
	if err := json.Unmarshal(data, &text); err == nil {
		*in = IngredientInput{Text: text}
		return nil
	}

	type plain IngredientInput
	var obj plain
	if err := json.Unmarshal(data, &obj); err != nil {
		return fmt.Errorf("ingredient must be a string or object: %w", err)
	}
	*in = IngredientInput(obj)
	return nil
}

// Operation is one entry of a batch and one entry of the offline log. Which
// fields are meaningful depends on Type.
type Operation struct {
	ID           string            `json:"id,omitempty" validate:"max=100"`
	Type         OperationType     `json:"type" validate:"required,oneof=ADD_ITEMS REMOVE_ITEM CLEAR_LIST REORDER_ITEMS UPDATE_QUANTITY SET_CROSSED_OFF"`
	OwnerID      string            `json:"ownerId,omitempty" validate:"max=100"`
	Ingredients  []IngredientInput `json:"ingredients,omitempty" validate:"max=200,dive"`
	Position     Position          `json:"position,omitempty" validate:"omitempty,oneof=start end"`
	Label        string            `json:"label,omitempty" validate:"max=200"`
	Order        []string          `json:"order,omitempty" validate:"max=1000,dive,max=200"`
	Quantity     string            `json:"quantity,omitempty" validate:"max=200"`
	CrossedOffAt *time.Time        `json:"crossedOffAt,omitempty"`
}

func AddItemsOp(ownerID string, ingredients []IngredientInput, position Position) Operation {
	return Operation{Type: OpAddItems, OwnerID: ownerID, Ingredients: ingredients, Position: position}
}

func RemoveItemOp(ownerID, label string) Operation {
	return Operation{Type: OpRemoveItem, OwnerID: ownerID, Label: label}
}

func ClearListOp(ownerID string) Operation {
	return Operation{Type: OpClearList, OwnerID: ownerID}
}

func ReorderItemsOp(ownerID string, order []string) Operation {
	return Operation{Type: OpReorderItems, OwnerID: ownerID, Order: order}
}

func UpdateQuantityOp(ownerID, label, quantity string) Operation {
	return Operation{Type: OpUpdateQuantity, OwnerID: ownerID, Label: label, Quantity: quantity}
}

func SetCrossedOffOp(ownerID, label string, at *time.Time) Operation {
	return Operation{Type: OpSetCrossedOff, OwnerID: ownerID, Label: label, CrossedOffAt: at}
}

type BatchRequest struct {
	Operations []Operation `json:"operations"`
}

type BatchResult struct {
	Applied  int `json:"applied"`
	Inserted int `json:"inserted"`
}

type AddItemsRequest struct {
	OwnerID     string            `json:"ownerId,omitempty"`
	Ingredients []IngredientInput `json:"ingredients"`
	Position    Position          `json:"position,omitempty"`
}

type AddItemsResponse struct {
	Inserted int `json:"inserted"`
}

// PatchListRequest carries either a reorder (Order set) or a cross-off
// toggle (Label set).
type PatchListRequest struct {
	OwnerID      string     `json:"ownerId,omitempty"`
	Order        []string   `json:"order,omitempty"`
	Label        string     `json:"label,omitempty"`
	Crossed      *bool      `json:"crossed,omitempty"`
	CrossedOffAt *time.Time `json:"crossedOffAt,omitempty"`
}

type UpdateQuantityRequest struct {
	OwnerID  string `json:"ownerId,omitempty"`
	Label    string `json:"label"`
	Quantity string `json:"quantity"`
}

type BatchResponse struct {
	Success bool `json:"success"`
	Applied int  `json:"applied"`
}
