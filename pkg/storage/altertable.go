/*
Copyright 2026 The Perkeep Authors

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

     http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package storage

import (
	"fmt"
	"strings"

	"strusearch.org/pkg/storage/block"
	"strusearch.org/pkg/storage/dbkey"
)

// AlterMetaDataTransaction stages a metadata table schema change. Its
// commit rewrites every metadata block from the old description to
// the new one; columns on the reset list are zeroed. Only one
// alter-table transaction runs per storage at a time, serialized
// against all other transactions.
type AlterMetaDataTransaction struct {
	s        *Storage
	finished bool

	oldDesc *block.MetaDescription
	newDesc *block.MetaDescription
	renames map[string]string // new name -> old name
	resets  []string
}

// CreateAlterMetaDataTransaction starts staging a schema change.
func (s *Storage) CreateAlterMetaDataTransaction() *AlterMetaDataTransaction {
	old := s.MetaDataDescription()
	return &AlterMetaDataTransaction{
		s:       s,
		oldDesc: old,
		newDesc: old.Clone(),
		renames: make(map[string]string),
	}
}

func (a *AlterMetaDataTransaction) check() error {
	if a.finished {
		return ErrTransactionAborted
	}
	return nil
}

// AddColumn appends a new column, initialized to zero.
func (a *AlterMetaDataTransaction) AddColumn(name, typeName string) error {
	if err := a.check(); err != nil {
		return err
	}
	typ, err := block.ParseMetaType(typeName)
	if err != nil {
		return err
	}
	return a.newDesc.Add(typ, name)
}

// RenameColumn renames a column, keeping its values.
func (a *AlterMetaDataTransaction) RenameColumn(oldname, newname string) error {
	if err := a.check(); err != nil {
		return err
	}
	if err := a.newDesc.Rename(oldname, newname); err != nil {
		return err
	}
	// Track the rename chain back to the committed schema name.
	src := oldname
	if orig, ok := a.renames[oldname]; ok {
		src = orig
		delete(a.renames, oldname)
	}
	a.renames[newname] = src
	for i, reset := range a.resets {
		if reset == oldname {
			a.resets[i] = newname
		}
	}
	return nil
}

// DeleteColumn removes a column and its values.
func (a *AlterMetaDataTransaction) DeleteColumn(name string) error {
	if err := a.check(); err != nil {
		return err
	}
	if err := a.newDesc.Remove(name); err != nil {
		return err
	}
	delete(a.renames, name)
	return nil
}

// AlterColumnType changes a column's type; values are cast through
// the numeric variant on rewrite.
func (a *AlterMetaDataTransaction) AlterColumnType(name, typeName string) error {
	if err := a.check(); err != nil {
		return err
	}
	typ, err := block.ParseMetaType(typeName)
	if err != nil {
		return err
	}
	h := a.newDesc.Handle(name)
	if h < 0 {
		return fmt.Errorf("%w: %q", block.ErrMetaUnknownColumn, name)
	}
	cols := a.newDesc.Columns()
	rebuilt := &block.MetaDescription{}
	for _, col := range cols {
		ch := a.newDesc.Handle(col)
		ctyp := a.newDesc.Get(ch).Type
		if col == name {
			ctyp = typ
		}
		if err := rebuilt.Add(ctyp, col); err != nil {
			return err
		}
	}
	*a.newDesc = *rebuilt
	return nil
}

// ClearColumn zeroes all values of a column on commit.
func (a *AlterMetaDataTransaction) ClearColumn(name string) error {
	if err := a.check(); err != nil {
		return err
	}
	if a.newDesc.Handle(name) < 0 {
		return fmt.Errorf("%w: %q", block.ErrMetaUnknownColumn, name)
	}
	for _, reset := range a.resets {
		if reset == name {
			return nil
		}
	}
	a.resets = append(a.resets, name)
	return nil
}

// Rollback discards the staged schema change.
func (a *AlterMetaDataTransaction) Rollback() {
	a.finished = true
}

// Commit rewrites all metadata blocks under the new description and
// swaps the schema and the cache generation atomically with respect
// to readers.
func (a *AlterMetaDataTransaction) Commit() error {
	if err := a.check(); err != nil {
		return err
	}
	a.finished = true
	s := a.s
	s.alterMu.Lock()
	defer s.alterMu.Unlock()
	s.txMu.Lock()
	defer s.txMu.Unlock()

	// The schema may have changed since staging began.
	if !s.MetaDataDescription().Equal(a.oldDesc) {
		return fmt.Errorf("%w: metadata table changed concurrently", ErrTransactionAborted)
	}
	if a.newDesc.Equal(a.oldDesc) && len(a.resets) == 0 {
		return nil
	}

	tm := a.newDesc.TranslationMap(a.oldDesc, a.renames, a.resets)
	b := s.kv.BeginBatch()

	prefix := dbkey.IndexKey(dbkey.DocMetaData)
	it := s.kv.Find(prefix, dbkey.PrefixEnd(prefix))
	for it.Next() {
		key := it.Key()
		srcData := []byte(it.Value())
		dstData := block.NewMetaBlockData(a.newDesc)
		if err := block.TranslateMetaBlock(tm, a.newDesc, dstData, a.oldDesc, srcData); err != nil {
			it.Close()
			return err
		}
		b.Set(key, string(dstData))
	}
	if err := it.Close(); err != nil {
		return err
	}
	b.Set(dbkey.IndexKey(dbkey.MetaDataDescr), a.newDesc.String())

	if err := s.kv.CommitBatch(b); err != nil {
		return fmt.Errorf("storage: database error: %v", err)
	}
	s.resetMetaDataCache(a.newDesc)
	return nil
}

// Describe returns the staged schema in its serialized form, for
// tool output.
func (a *AlterMetaDataTransaction) Describe() string {
	var sb strings.Builder
	sb.WriteString(a.newDesc.String())
	if len(a.resets) > 0 {
		sb.WriteString(" (reset: ")
		sb.WriteString(strings.Join(a.resets, ", "))
		sb.WriteString(")")
	}
	return sb.String()
}
