package types

import "errors"

// Sentinel errors for autogift operations.
var (
	// ErrMalformedRule indicates a rule entry could not be decoded.
	ErrMalformedRule = errors.New("malformed rule")

	// ErrMissingRuleID indicates a rule without an id.
	ErrMissingRuleID = errors.New("rule id is empty")

	// ErrMissingVariant indicates an action without addVariantId.
	ErrMissingVariant = errors.New("action addVariantId is empty")

	// ErrInvalidQuantity indicates a non-positive action or line quantity.
	ErrInvalidQuantity = errors.New("quantity must be positive")

	// ErrNegativeBound indicates a negative threshold, min or amount.
	ErrNegativeBound = errors.New("condition bound is negative")

	// ErrInvertedRange indicates max < min.
	ErrInvertedRange = errors.New("condition max is below min")

	// ErrEmptyIDSet indicates an includes_* condition with no ids.
	ErrEmptyIDSet = errors.New("condition id set is empty")

	// ErrMissingProduct indicates product_quantity_in_range without productId.
	ErrMissingProduct = errors.New("condition productId is empty")

	// ErrUnknownCondition indicates an unsupported condition type.
	// Never fatal: the condition evaluates to false.
	ErrUnknownCondition = errors.New("unknown condition type")

	// ErrMalformedDocument indicates a rule document that is not a JSON array
	// or {"rules": [...]} object.
	ErrMalformedDocument = errors.New("malformed rule document")
)
