package domain

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

// MaxQuantity is the largest quantity a cart line may hold.
const MaxQuantity = 999

var validate = validator.New()

// ValidateItem checks the fields every collection needs. Cart specific rules
// (quantity at least one) are applied by the caller that knows the kind.
func ValidateItem(item Item) error {
	if err := validate.Struct(item); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidItem, err)
	}
	return nil
}

// MergeQuantity adds more to a cart line holding current units. A sum above
// MaxQuantity is rejected rather than capped.
func MergeQuantity(current, more int) (int, error) {
	sum := current + more
	if sum > MaxQuantity {
		return current, fmt.Errorf("%w: quantity %d exceeds %d", ErrInvalidItem, sum, MaxQuantity)
	}
	return sum, nil
}

// ValidateStruct runs the struct tags of any request type.
func ValidateStruct(s interface{}) error {
	return validate.Struct(s)
}
