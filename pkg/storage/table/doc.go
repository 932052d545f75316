// Package table assembles pages into a single table's row store: row
// encoding/decoding against a schema, unique/non-unique secondary indexes
// (BTree and Direct kinds), and the scan operations (full scan, point
// lookup, range scan) the datastore and subscription engine build on.
package table
