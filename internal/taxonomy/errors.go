package taxonomy

import "fmt"

// TransportError reports that the taxonomy source could not be reached or
// answered with a non-success status.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("taxonomy: transport: %v", e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// MalformedResponseError reports a source response that could not be read as
// a category listing.
type MalformedResponseError struct {
	Err error
}

func (e *MalformedResponseError) Error() string {
	return fmt.Sprintf("taxonomy: malformed response: %v", e.Err)
}

func (e *MalformedResponseError) Unwrap() error { return e.Err }

// EmptyTaxonomyError reports a well-formed response that carried no categories.
type EmptyTaxonomyError struct{}

func (e *EmptyTaxonomyError) Error() string {
	return "taxonomy: source returned no categories"
}

// ErrEmptyTaxonomy is the value returned for an empty listing.
var ErrEmptyTaxonomy error = &EmptyTaxonomyError{}
