// Package msi opens Windows Installer packages for reading.
//
// A Package owns the open compound file and the schema parsed from it.
// Queries, cursors and stream reads borrow the Package and must not be used
// after Close.
//
//	pkg, err := msi.Open("setup.msi")
//	if err != nil {
//	    return err
//	}
//	defer pkg.Close()
//
//	cur, err := pkg.Query("SELECT Data FROM Icon")
package msi

import (
	"errors"
	"fmt"

	"github.com/bisegni/msiq/internal/logging"
	"github.com/bisegni/msiq/pkg/cfb"
	"github.com/bisegni/msiq/pkg/database"
	"github.com/bisegni/msiq/pkg/engine"
	"github.com/bisegni/msiq/pkg/msierr"
	"github.com/bisegni/msiq/pkg/stream"
)

// Package is an open MSI package.
type Package struct {
	path      string
	container *cfb.Container
	db        *database.Database
	closed    bool
}

// Open opens the package at path and loads its schema. The file is closed
// again when the schema cannot be loaded.
func Open(path string) (*Package, error) {
	c, err := cfb.Open(path)
	if err != nil {
		return nil, err
	}
	db, err := database.Load(c)
	if err != nil {
		if cerr := c.Close(); cerr != nil {
			logging.WithFile(path).Warn("close after failed load", "error", cerr)
		}
		return nil, err
	}
	return &Package{path: path, container: c, db: db}, nil
}

// Close releases the file. It is idempotent.
func (p *Package) Close() error {
	if p.closed {
		return nil
	}
	p.closed = true
	return p.container.Close()
}

// Path returns the file the package was opened from.
func (p *Package) Path() string { return p.path }

// Database returns the parsed schema.
func (p *Package) Database() *database.Database { return p.db }

// Container returns the underlying compound file.
func (p *Package) Container() *cfb.Container { return p.container }

func (p *Package) check() error {
	if p.closed {
		return fmt.Errorf("%w: %s", msierr.ErrClosed, p.path)
	}
	return nil
}

// Compile compiles a query against the package schema.
func (p *Package) Compile(query string) (*engine.Query, error) {
	if err := p.check(); err != nil {
		return nil, err
	}
	return engine.Compile(p.db, query)
}

// Query compiles and executes a query.
func (p *Package) Query(query string) (*engine.Cursor, error) {
	q, err := p.Compile(query)
	if err != nil {
		return nil, err
	}
	return q.Execute()
}

// ReadStream reads the payload of ref.
func (p *Package) ReadStream(ref database.StreamRef, chunkSize int) ([]byte, error) {
	if err := p.check(); err != nil {
		return nil, err
	}
	return stream.ReadAll(p.container, ref, chunkSize)
}

// FirstStreamRef runs query and returns the first stream field of its first
// row. It fails with ErrNoData when the query yields no row or the field is
// NULL, and ErrTypeMismatch when no field is a stream.
func (p *Package) FirstStreamRef(query string) (database.StreamRef, error) {
	cur, err := p.Query(query)
	if err != nil {
		return database.StreamRef{}, err
	}
	defer cur.Close()

	ok, err := cur.Fetch()
	if err != nil {
		return database.StreamRef{}, err
	}
	if !ok {
		return database.StreamRef{}, fmt.Errorf("%w: %q returned no rows", msierr.ErrNoData, query)
	}

	for i, col := range cur.Columns() {
		if col.Kind != database.KindBinary {
			continue
		}
		ref, err := cur.GetStreamRef(i + 1)
		if err != nil {
			return database.StreamRef{}, err
		}
		if !ref.Valid() {
			return database.StreamRef{}, fmt.Errorf("%w: %q: field %s is NULL", msierr.ErrNoData, query, col.Name)
		}
		return ref, nil
	}
	return database.StreamRef{}, fmt.Errorf("%w: %q selects no stream column", msierr.ErrTypeMismatch, query)
}

// FirstStream reads the payload of FirstStreamRef(query).
func (p *Package) FirstStream(query string, chunkSize int) ([]byte, error) {
	ref, err := p.FirstStreamRef(query)
	if err != nil {
		return nil, err
	}
	return stream.ReadAll(p.container, ref, chunkSize)
}

// ExtractFirst opens path, reads the first stream selected by query and
// closes the package again: the one-call form of icon extraction.
func ExtractFirst(path, query string, chunkSize int) (data []byte, err error) {
	p, err := Open(path)
	if err != nil {
		return nil, err
	}
	defer func() {
		if cerr := p.Close(); cerr != nil {
			err = errors.Join(err, cerr)
		}
	}()
	return p.FirstStream(query, chunkSize)
}
