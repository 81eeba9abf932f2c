package policy

import "fmt"

// ErrPolicyNotFound and ErrPolicyInvalid are configuration errors. They are
// fatal at startup: the process must not serve requests with a missing or
// malformed policy document.
var (
	ErrPolicyNotFound = fmt.Errorf("policy document not found")
	ErrPolicyInvalid  = fmt.Errorf("policy document invalid")
)

// DepartmentNotFoundError indicates a routing request named a department
// absent from the policy.
type DepartmentNotFoundError struct {
	Department string
}

func (e *DepartmentNotFoundError) Error() string {
	return fmt.Sprintf("department %q not found in policy", e.Department)
}

// ModelNotFoundError indicates a pricing lookup for a model with no entry in
// the pricing table.
type ModelNotFoundError struct {
	Model string
}

func (e *ModelNotFoundError) Error() string {
	return fmt.Sprintf("model %q not found in pricing table", e.Model)
}
