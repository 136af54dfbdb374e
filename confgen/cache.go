// Copyright 2020 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package confgen

import (
	"context"
	"fmt"
	"io"
	"runtime"

	"github.com/grailbio/base/data"
	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/traverse"
	"github.com/grailbio/daqctl"
	"github.com/spaolacci/murmur3"
)

// DocumentName returns the conventional file name of process p's
// document. Reader documents are named for the first board of the
// reader's group.
func DocumentName(p *daqctl.Process) string {
	if p.Kind == daqctl.KindReader {
		b := p.Group.Boards[0]
		return fmt.Sprintf("%s_%s_%s_%d.fcl", p.Kind, b.Kind, p.Host, p.Port)
	}
	return fmt.Sprintf("%s_%s_%d.fcl", p.Kind, p.Host, p.Port)
}

// A Cache holds the configuration documents of a pipeline's
// processes. Documents are stored in a directory, which may be any
// path supported by package github.com/grailbio/base/file, under the
// names returned by DocumentName. A document is generated only if it
// is missing from the directory or regeneration is forced; otherwise
// the stored document is used unchanged.
//
// Documents are also cached in memory, in Process.Doc, for the
// lifetime of the invocation. Caches are not safe for concurrent
// use.
type Cache struct {
	dir    string
	gen    *Generator
	exists map[string]bool
	docs   []*daqctl.Document
}

// NewCache returns a cache that stores documents in directory dir,
// generating them with gen.
func NewCache(dir string, gen *Generator) *Cache {
	return &Cache{dir: dir, gen: gen, exists: make(map[string]bool)}
}

// Documents returns the documents that have been generated or loaded
// by the cache, in order.
func (c *Cache) Documents() []*daqctl.Document {
	return c.docs
}

// Path returns the path of the named document.
func (c *Cache) Path(name string) string {
	if c.dir == "" {
		return name
	}
	return file.Join(c.dir, name)
}

// Prefetch looks up the documents of the provided processes
// concurrently, so that later calls to GetOrGenerate do not need to
// consult the directory. Lookup errors are treated as misses.
func (c *Cache) Prefetch(ctx context.Context, procs []*daqctl.Process) {
	names := make([]string, len(procs))
	found := make([]bool, len(procs))
	for i, p := range procs {
		names[i] = DocumentName(p)
	}
	_ = traverse.Limit(4*runtime.NumCPU()).Each(len(procs), func(i int) error {
		_, err := file.Stat(ctx, c.Path(names[i]))
		found[i] = err == nil
		return nil
	})
	for i, name := range names {
		c.exists[name] = found[i]
	}
}

// Load generates or loads the documents of every process in reg.
// Reader documents are produced by iterating over boards; the
// document of a multi-board group is generated, or read, once.
func (c *Cache) Load(ctx context.Context, reg *daqctl.Registry, force bool) error {
	c.Prefetch(ctx, reg.Processes())
	for _, b := range reg.Boards {
		if b.Group.Process.Doc != nil {
			continue
		}
		if err := c.board(ctx, b, force); err != nil {
			return err
		}
	}
	for _, p := range reg.Processes() {
		if _, err := c.GetOrGenerate(ctx, p, force); err != nil {
			return err
		}
	}
	return nil
}

// GetOrGenerate returns the document of process p. The document is
// generated if force is true or no document exists; it is otherwise
// read from the cache directory. Documents are produced at most once
// per process.
func (c *Cache) GetOrGenerate(ctx context.Context, p *daqctl.Process, force bool) (*daqctl.Document, error) {
	if p.Doc != nil {
		return p.Doc, nil
	}
	if p.Kind == daqctl.KindReader {
		for _, b := range p.Group.Boards {
			if err := c.board(ctx, b, force); err != nil {
				return nil, err
			}
		}
		if p.Doc == nil {
			return nil, errors.E(fmt.Sprintf("internal error: no document produced for %s", p))
		}
		return p.Doc, nil
	}
	name := DocumentName(p)
	regen, err := c.regenerate(ctx, name, force)
	if err != nil {
		return nil, err
	}
	if !regen {
		return c.read(ctx, p, name)
	}
	log.Printf("generating %s", name)
	text, err := c.gen.Document(ctx, p)
	if err != nil {
		return nil, err
	}
	return c.store(ctx, p, name, text)
}

// board produces board b's contribution to its reader's document.
// Single-board readers are generated or read directly. A multi-board
// group records each board's fragment as it is generated, and the
// composite is merged and stored when the last fragment is
// produced. The group's generated and read flags ensure that this
// happens once per group.
func (c *Cache) board(ctx context.Context, b *daqctl.Board, force bool) error {
	var (
		g    = b.Group
		p    = g.Process
		name = DocumentName(p)
	)
	regen, err := c.regenerate(ctx, name, force)
	if err != nil {
		return err
	}
	if !regen {
		if g.Composite() && !g.MarkRead() {
			return nil
		}
		_, err = c.read(ctx, p, name)
		return err
	}
	if g.Composite() && g.Complete() {
		// The composite was already merged from a complete set of
		// fragments.
		return nil
	}
	log.Printf("generating fragment for board %s", b)
	frag, err := c.gen.Fragment(ctx, b)
	if err != nil {
		return err
	}
	if !g.Composite() {
		_, err = c.store(ctx, p, name, frag)
		return err
	}
	g.Fragments[g.Position(b)] = frag
	if !g.Complete() || !g.MarkGenerated() {
		return nil
	}
	_, err = c.store(ctx, p, name, c.gen.Composite(g.Fragments))
	return err
}

func (c *Cache) regenerate(ctx context.Context, name string, force bool) (bool, error) {
	if force {
		return true, nil
	}
	exists, ok := c.exists[name]
	if ok {
		return !exists, nil
	}
	_, err := file.Stat(ctx, c.Path(name))
	switch {
	case err == nil:
		exists = true
	case errors.Is(errors.NotExist, err):
	default:
		return false, errors.E(err, "stat "+c.Path(name))
	}
	c.exists[name] = exists
	return !exists, nil
}

func (c *Cache) read(ctx context.Context, p *daqctl.Process, name string) (*daqctl.Document, error) {
	path := c.Path(name)
	text, err := readFile(ctx, path)
	if err != nil {
		return nil, err
	}
	log.Printf("read %s (%s)", path, data.Size(len(text)))
	return c.set(p, name, text), nil
}

// store writes the document text to the cache directory. The write
// is skipped if the stored document has the same fingerprint.
func (c *Cache) store(ctx context.Context, p *daqctl.Process, name, text string) (*daqctl.Document, error) {
	doc := c.set(p, name, text)
	path := c.Path(name)
	if c.exists[name] {
		if old, err := readFile(ctx, path); err == nil && fingerprint(old) == doc.Sum {
			log.Printf("%s is unchanged", path)
			return doc, nil
		}
	}
	log.Printf("writing %s (%s)", path, data.Size(len(text)))
	if err := writeFile(ctx, path, text); err != nil {
		return nil, err
	}
	c.exists[name] = true
	return doc, nil
}

func (c *Cache) set(p *daqctl.Process, name, text string) *daqctl.Document {
	p.Doc = &daqctl.Document{Name: name, Text: text, Sum: fingerprint(text)}
	c.docs = append(c.docs, p.Doc)
	return p.Doc
}

func fingerprint(text string) uint64 {
	return murmur3.Sum64([]byte(text))
}

func writeFile(ctx context.Context, path, text string) error {
	f, err := file.Create(ctx, path)
	if err != nil {
		return errors.E(err, "create "+path)
	}
	if _, err := io.WriteString(f.Writer(ctx), text); err != nil {
		f.Discard(ctx)
		return errors.E(err, "write "+path)
	}
	if err := f.Close(ctx); err != nil {
		return errors.E(err, "close "+path)
	}
	return nil
}
