// Package storage provides the generic, content-agnostic key/value substrate
// that the object store and ref store are built on (spec §4.1, §3).
package storage

import (
	"crypto/rand"
	"errors"
	"fmt"
)

var (
	ErrNotFound       = errors.New("not found")
	ErrNotImplemented = errors.New("not implemented")
)

// Key identifies a stored value. For the object store, it is the hex
// encoding of an object id; for the ref store, a ref name.
type Key string

// RandomKey generates a random sequence of length bytes and converts it to a
// key in hex (byte length of the key will then be double the requested length).
func RandomKey(length uint8) (Key, error) {
	if length == 0 {
		return "", nil
	}
	b := make([]byte, length)
	n, err := rand.Read(b)
	if err != nil {
		return "", err
	}
	if n != int(length) {
		return "", fmt.Errorf("key of length %d required, got only %d bytes", length, n)
	}
	return Key(fmt.Sprintf("%x", b)), nil
}

type Value []byte

// Store is the minimal interface every backend (disk, in-memory, S3, ...)
// implements.
type Store interface {
	Get(Key) (Value, error)
	Put(Key, Value) error
	Delete(Key) error
}

// Lister is implemented by stores that can enumerate their keys without
// loading values, e.g., to drive garbage collection against a remote.
type Lister interface {
	List() (keys chan string, err error)
}

// Enumerable is a Store that can also answer membership queries and iterate
// locally-held keys; objects.Store uses these on its backing store for Has
// and for ForEach (the garbage collector's sweep).
type Enumerable interface {
	Store
	Contains(Key) (bool, error)
	ForEach(func(Key) error) error
}

// Kind names the storage backend selected by configuration.
type Kind string

const (
	KindDisk Kind = "disk"
	KindS3   Kind = "s3"
	KindNull Kind = "null"
)

// Config is the subset of hoard configuration needed to construct a Store.
// It is a plain struct, rather than *config.C, so that storage does not
// import config (config already needs to refer to storage.Store for the
// object store's permanent tier, and Go forbids the cycle).
type Config struct {
	Storage      Kind
	DiskStoreDir string
	S3Profile    string
	S3Region     string
	S3Bucket     string
}

func New(c Config) (Store, error) {
	switch c.Storage {
	case KindDisk:
		return NewDiskStore(c.DiskStoreDir), nil
	case KindNull, "":
		return NullStore{}, nil
	case KindS3:
		return newS3Store(c), nil
	default:
		return nil, fmt.Errorf("%q: %w", c.Storage, ErrNotImplemented)
	}
}

// NullStore discards everything; useful for tests and for a cave that keeps
// no permanent tier (e.g., a pure INCOMING cave).
type NullStore struct{}

func (NullStore) Get(Key) (Value, error) { return nil, ErrNotFound }
func (NullStore) Put(Key, Value) error   { return nil }
func (NullStore) Delete(Key) error       { return nil }
