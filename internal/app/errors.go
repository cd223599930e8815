package service

import "errors"

// ErrMissingDependency is returned by New when a required collaborator is unset.
var ErrMissingDependency = errors.New("service: missing dependency")
