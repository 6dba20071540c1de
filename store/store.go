// Package store defines the interfaces for small key/value state kept by
// plugins (such as per-cycle mining participation sets) along with a leveldb
// implementation
package store

import (
	"io"
)

// StringStorer is implemented by any value that has the string-based Get/Put/Scan
// methods along with io.Closer
type StringStorer interface {
	GetString(key string) (value string, err error)
	PutString(key string, value string) (err error)
	DeleteString(key string) (err error)
	Scan() (entries map[string]string, err error)

	io.Closer
}
