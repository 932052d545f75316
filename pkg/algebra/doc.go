// Package algebra defines the closed algebraic type system used to describe
// table schemas and row values: the primitive types, product (struct-like)
// types, sum (tagged union) types, and array types that every stored row and
// every reducer argument conforms to.
package algebra
