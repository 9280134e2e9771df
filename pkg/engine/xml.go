package engine

import (
	"strconv"

	"github.com/beevik/etree"

	"github.com/xflatdb/xflat/pkg/row"
)

const (
	xflatNamespace = "http://xflat"
	deleteTag      = "delete"
	deleteNS       = "xflat"
	attrTx         = "tx"
	attrCommit     = "commit"
	attrID         = "id"
	attrName       = "name"
)

// serialize builds the on-disk document for name: a <table name=".."> root
// under the xflat namespace, one <row id=".."> per Row that has at least one
// committed non-tombstone version, holding one versioned child per committed
// version (uncommitted versions are never emitted).
func serialize(name string, rows []*row.Row, versionsOf func(r *row.Row) []row.Data) *etree.Document {
	doc := etree.NewDocument()
	table := doc.CreateElement("table")
	table.CreateAttr("xmlns", xflatNamespace)
	table.CreateAttr(attrName, name)

	for _, r := range rows {
		versions := versionsOf(r)
		hasCommitted := false
		for _, d := range versions {
			if !d.IsUncommitted() {
				hasCommitted = true
				break
			}
		}
		if !hasCommitted {
			continue
		}

		rowElem := table.CreateElement("row")
		rowElem.CreateAttr(attrID, r.ID())

		onlyTombstones := true
		for _, d := range versions {
			if d.IsUncommitted() {
				continue
			}
			var child *etree.Element
			if d.IsTombstone() {
				child = rowElem.CreateElement(deleteNS + ":" + deleteTag)
			} else {
				child = d.RowElement.Copy()
				rowElem.AddChild(child)
				onlyTombstones = false
			}
			child.CreateAttr(attrTx, strconv.FormatInt(d.TransactionID, 10))
			child.CreateAttr(attrCommit, strconv.FormatInt(d.CommitID, 10))
		}
		if onlyTombstones {
			// Rows with only tombstone versions are omitted entirely.
			table.RemoveChild(rowElem)
		}
	}
	return doc
}

// deserialize parses a table document back into committed Row versions.
// Parse errors on tx/commit attributes default both to 0 rather than
// aborting the whole row, matching the source's lenient recovery behaviour.
func deserialize(doc *etree.Document) map[string][]row.Data {
	out := make(map[string][]row.Data)
	table := doc.SelectElement("table")
	if table == nil {
		return out
	}
	for _, rowElem := range table.SelectElements("row") {
		idAttr := rowElem.SelectAttr(attrID)
		if idAttr == nil {
			continue
		}
		id := idAttr.Value

		var versions []row.Data
		for _, child := range rowElem.ChildElements() {
			tx := parseAttrInt64(child, attrTx)
			commit := parseAttrInt64(child, attrCommit)

			d := row.Data{
				TransactionID: tx,
				CommitID:      commit,
				RowID:         id,
			}
			if isDeleteSentinel(child) {
				d.RowElement = nil
			} else {
				d.RowElement = child.Copy()
			}
			versions = append(versions, d)
		}
		out[id] = versions
	}
	return out
}

func isDeleteSentinel(e *etree.Element) bool {
	return e.Tag == deleteTag && (e.Space == deleteNS || e.FullTag() == deleteNS+":"+deleteTag)
}

func parseAttrInt64(e *etree.Element, name string) int64 {
	attr := e.SelectAttr(name)
	if attr == nil {
		return 0
	}
	v, err := strconv.ParseInt(attr.Value, 10, 64)
	if err != nil {
		return 0
	}
	return v
}
