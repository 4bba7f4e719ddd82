package pgstore

import "errors"

var (
	ErrDBNil            = errors.New("pgstore: db is nil")
	ErrInvalidTableName = errors.New("pgstore: invalid table name")
	ErrNoEntityWriter   = errors.New("pgstore: no entity writer registered for type")
)
