// Package page implements the fixed-size page: a bounded-capacity slab that
// holds a table's rows as fixed-width slots plus a granule-chained heap for
// the variable-length (string/array) portions of those rows. Pages are the
// unit of allocation, free-listing, and hashing for the storage engine; the
// table package assembles many pages into one table's row store.
package page
